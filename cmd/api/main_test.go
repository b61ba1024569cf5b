package main

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vip4dfw/vip4dfw-backend/internal/database"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.RunMigrations(db))
	return db
}

func TestEnsureAdminCreatesAccount(t *testing.T) {
	db := testDB(t)

	_, _, err := ensureAdmin(db, "  ", "Dispatch", "secret123")
	assert.Error(t, err)
	_, _, err = ensureAdmin(db, "dispatch@vip4dfw.com", "Dispatch", "123")
	assert.Error(t, err)

	user, created, err := ensureAdmin(db, " Dispatch@VIP4DFW.com ", " Dispatch ", "secret123")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "dispatch@vip4dfw.com", user.Email)
	assert.Equal(t, "Dispatch", user.Name)

	var stored models.User
	require.NoError(t, db.First(&stored, user.ID).Error)
	assert.Equal(t, models.UserRoleAdmin, stored.Role)
	assert.NoError(t, stored.CheckPassword("secret123"))

	again, created, err := ensureAdmin(db, "dispatch@vip4dfw.com", "Other", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, user.ID, again.ID)
}

func TestEnsureAdminPromotesCustomer(t *testing.T) {
	db := testDB(t)
	customer := models.User{Name: "Jordan", Email: "jordan@example.com", Password: "secret123", Role: models.UserRoleCustomer}
	require.NoError(t, customer.HashPassword())
	require.NoError(t, db.Create(&customer).Error)

	user, created, err := ensureAdmin(db, "jordan@example.com", "", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.UserRoleAdmin, user.Role)

	var stored models.User
	require.NoError(t, db.First(&stored, customer.ID).Error)
	assert.Equal(t, models.UserRoleAdmin, stored.Role)
}

func TestRootCommandWiring(t *testing.T) {
	root := rootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
	assert.True(t, names["create-admin"])

	admin, _, err := root.Find([]string{"create-admin"})
	require.NoError(t, err)
	assert.NotNil(t, admin.Flags().Lookup("email"))
	assert.Equal(t, "Admin", admin.Flags().Lookup("name").DefValue)
}

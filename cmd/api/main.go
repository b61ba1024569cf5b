package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vip4dfw/vip4dfw-backend/internal/config"
	"github.com/vip4dfw/vip4dfw-backend/internal/database"
	"github.com/vip4dfw/vip4dfw-backend/internal/logging"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
	"gorm.io/gorm"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "vip4dfw",
		Short:        "VIP4DFW booking API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(serveCmd(), migrateCmd(), createAdminCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and seed the fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			logger.Info("migrations applied")
			return closeDatabase(db)
		},
	}
}

func createAdminCmd() *cobra.Command {
	var email, name, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account or promote an existing one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(db)

			user, created, err := ensureAdmin(db, email, name, password)
			if err != nil {
				return err
			}
			logger.Info("admin ready", "user_id", user.ID, "email", user.Email, "created", created)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email address")
	cmd.Flags().StringVar(&name, "name", "Admin", "display name for a new account")
	cmd.Flags().StringVar(&password, "password", "", "password for a new account")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// bootstrap loads configuration and installs the JSON logger as the default.
func bootstrap() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openDatabase(cfg config.Config) (*gorm.DB, error) {
	db, err := database.InitDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.RunMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if err := database.SeedFleet(db); err != nil {
		return nil, fmt.Errorf("seed fleet: %w", err)
	}
	return db, nil
}

func closeDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ensureAdmin promotes the account with email, or creates it when missing.
func ensureAdmin(db *gorm.DB, email, name, password string) (*models.User, bool, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, false, errors.New("email is required")
	}

	var user models.User
	err := db.Where("email = ?", email).First(&user).Error
	if err == nil {
		if user.Role != models.UserRoleAdmin {
			if err := db.Model(&user).Update("role", models.UserRoleAdmin).Error; err != nil {
				return nil, false, fmt.Errorf("promote user: %w", err)
			}
			user.Role = models.UserRoleAdmin
		}
		return &user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("find user: %w", err)
	}

	if len(password) < 6 {
		return nil, false, errors.New("--password of at least 6 characters is required for a new admin")
	}
	user = models.User{
		Name:     strings.TrimSpace(name),
		Email:    email,
		Password: password,
		Role:     models.UserRoleAdmin,
	}
	if err := user.HashPassword(); err != nil {
		return nil, false, fmt.Errorf("hash password: %w", err)
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	return &user, true, nil
}

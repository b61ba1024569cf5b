package models

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type UserRole string

const (
	UserRoleCustomer UserRole = "customer"
	UserRoleAdmin    UserRole = "admin"
)

type User struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Name         string    `json:"name" gorm:"column:name;not null"`
	Email        string    `json:"email" gorm:"column:email;uniqueIndex;not null"`
	Password     string    `json:"-" gorm:"-"` // plain text, only set while hashing
	PasswordHash string    `json:"-" gorm:"column:password_hash;not null"`
	PhoneNumber  string    `json:"phoneNumber" gorm:"column:phone_number"`
	Role         UserRole  `json:"role" gorm:"column:role;not null;default:customer"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (User) TableName() string {
	return "users"
}

func (u *User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

func (u *User) HashPassword() error {
	if u.Password == "" {
		return nil
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	u.Password = ""
	return nil
}

func (u *User) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
}

// NormalizeEmail lowercases and trims an address so lookups are case insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

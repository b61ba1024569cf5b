package models

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"gorm.io/gorm"
)

// OTPType defines the purpose of the OTP
type OTPType string

const (
	OTPTypePasswordReset OTPType = "password_reset"
)

// MaxOTPAttempts is how many wrong guesses a code survives.
const MaxOTPAttempts = 5

// OTP stores a hashed one-time code. The plain code only ever lives in the email.
type OTP struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"userId" gorm:"not null;index"`
	CodeHash  string    `json:"-" gorm:"not null"`
	Type      OTPType   `json:"type" gorm:"not null"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"not null"`
	Used      bool      `json:"used" gorm:"not null;default:false"`
	Attempts  int       `json:"attempts" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName specifies the table name
func (OTP) TableName() string {
	return "otps"
}

func HashOTP(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// IsValid checks if the OTP is valid (not expired and not used)
func (o *OTP) IsValid(now time.Time) bool {
	return !o.Used && now.Before(o.ExpiresAt)
}

func (o *OTP) Matches(code string) bool {
	return subtle.ConstantTimeCompare([]byte(o.CodeHash), []byte(HashOTP(code))) == 1
}

// MarkAsUsed marks the OTP as used
func (o *OTP) MarkAsUsed(db *gorm.DB) error {
	o.Used = true
	return db.Model(o).Update("used", true).Error
}

// RecordFailedAttempt counts a wrong guess and burns the code at MaxOTPAttempts.
func (o *OTP) RecordFailedAttempt(db *gorm.DB) error {
	err := db.Model(o).Updates(map[string]any{
		"attempts": gorm.Expr("attempts + 1"),
		"used":     gorm.Expr("used OR attempts + 1 >= ?", MaxOTPAttempts),
	}).Error
	if err != nil {
		return err
	}
	o.Attempts++
	if o.Attempts >= MaxOTPAttempts {
		o.Used = true
	}
	return nil
}

// InvalidateOTPs burns every outstanding code of the given type for a user.
func InvalidateOTPs(db *gorm.DB, userID uint, otpType OTPType) error {
	return db.Model(&OTP{}).
		Where("user_id = ? AND type = ? AND used = ?", userID, otpType, false).
		Update("used", true).Error
}

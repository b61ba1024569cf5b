package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	OTPExpiration = 15 * time.Minute
	otpDigits     = 6
)

// GenerateOTP returns a random 6-digit code.
func GenerateOTP() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

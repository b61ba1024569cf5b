package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vip4dfw/vip4dfw-backend/internal/middleware"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
	"github.com/vip4dfw/vip4dfw-backend/pkg/utils"
	"gorm.io/gorm"
)

const minPasswordLength = 6

type SignupInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

type SigninInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordInput struct {
	Email string `json:"email"`
}

type ResetPasswordInput struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

func userResponse(user *models.User) gin.H {
	return gin.H{
		"id":          user.ID,
		"name":        user.Name,
		"email":       user.Email,
		"phoneNumber": user.PhoneNumber,
		"role":        user.Role,
	}
}

func Signup(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input SignupInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": "Invalid request body"})
			return
		}

		input.Name = strings.TrimSpace(input.Name)
		input.Email = models.NormalizeEmail(input.Email)
		if input.Name == "" || input.Email == "" || input.Password == "" {
			c.JSON(400, gin.H{"error": "All fields are required."})
			return
		}
		if len(input.Password) < minPasswordLength {
			c.JSON(400, gin.H{"error": "Password must be at least 6 characters."})
			return
		}

		var existing int64
		if err := env.DB.Model(&models.User{}).Where("email = ?", input.Email).Count(&existing).Error; err != nil {
			env.Logger.Error("signup lookup", "error", err)
			c.JSON(500, gin.H{"error": "Failed to create account"})
			return
		}
		if existing > 0 {
			c.JSON(409, gin.H{"error": "User with this email already exists."})
			return
		}

		user := models.User{
			Name:        input.Name,
			Email:       input.Email,
			Password:    input.Password,
			PhoneNumber: strings.TrimSpace(input.Phone),
			Role:        models.UserRoleCustomer,
		}
		if err := user.HashPassword(); err != nil {
			c.JSON(500, gin.H{"error": "Failed to hash password"})
			return
		}
		if err := env.DB.Create(&user).Error; err != nil {
			env.Logger.Error("signup create", "error", err)
			c.JSON(500, gin.H{"error": "Failed to create account"})
			return
		}

		c.JSON(201, gin.H{
			"message": "Account created successfully!",
			"user":    userResponse(&user),
		})
	}
}

func (env *Env) setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, token, maxAge, "/", "", env.SecureCookies, true)
}

func Signin(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input SigninInput
		if err := c.ShouldBindJSON(&input); err != nil || input.Email == "" || input.Password == "" {
			c.JSON(400, gin.H{"error": "Email and password are required."})
			return
		}

		var user models.User
		if err := env.DB.Where("email = ?", models.NormalizeEmail(input.Email)).First(&user).Error; err != nil {
			c.JSON(401, gin.H{"error": "Invalid credentials"})
			return
		}
		if err := user.CheckPassword(input.Password); err != nil {
			c.JSON(401, gin.H{"error": "Invalid credentials"})
			return
		}

		token, err := utils.GenerateToken(&user, env.JWTSecret, env.JWTTTL)
		if err != nil {
			env.Logger.Error("generate token", "error", err)
			c.JSON(500, gin.H{"error": "Failed to generate token"})
			return
		}
		env.setSessionCookie(c, token, int(env.JWTTTL.Seconds()))

		c.JSON(200, gin.H{
			"message": "Signed in successfully!",
			"token":   token,
			"user":    userResponse(&user),
		})
	}
}

func Signout(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		env.setSessionCookie(c, "", -1)
		c.JSON(200, gin.H{"message": "Signed out"})
	}
}

// Session returns the signed in user, refreshed from the database.
func Session(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.CurrentUserID(c)
		if !ok {
			c.JSON(401, gin.H{"error": "Not signed in"})
			return
		}

		var user models.User
		if err := env.DB.First(&user, userID).Error; err != nil {
			c.JSON(401, gin.H{"error": "Not signed in"})
			return
		}
		c.JSON(200, gin.H{"user": userResponse(&user)})
	}
}

// ForgotPassword always answers 200 so the endpoint cannot be used to
// probe for registered addresses.
func ForgotPassword(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input ForgotPasswordInput
		if err := c.ShouldBindJSON(&input); err != nil || strings.TrimSpace(input.Email) == "" {
			c.JSON(400, gin.H{"error": "Email is required"})
			return
		}

		response := gin.H{"message": "If an account exists for this email, a reset code has been sent."}

		var user models.User
		err := env.DB.Where("email = ?", models.NormalizeEmail(input.Email)).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(200, response)
			return
		}
		if err != nil {
			env.Logger.Error("forgot password lookup", "error", err)
			c.JSON(200, response)
			return
		}

		code, err := utils.GenerateOTP()
		if err != nil {
			env.Logger.Error("generate otp", "error", err)
			c.JSON(500, gin.H{"error": "Failed to generate reset code"})
			return
		}

		err = env.DB.Transaction(func(tx *gorm.DB) error {
			if err := models.InvalidateOTPs(tx, user.ID, models.OTPTypePasswordReset); err != nil {
				return err
			}
			return tx.Create(&models.OTP{
				UserID:    user.ID,
				CodeHash:  models.HashOTP(code),
				Type:      models.OTPTypePasswordReset,
				ExpiresAt: env.now().Add(utils.OTPExpiration),
			}).Error
		})
		if err != nil {
			env.Logger.Error("store reset code", "error", err)
			c.JSON(500, gin.H{"error": "Failed to generate reset code"})
			return
		}

		env.Notifier.PasswordResetRequested(user, code)
		c.JSON(200, response)
	}
}

func ResetPassword(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input ResetPasswordInput
		if err := c.ShouldBindJSON(&input); err != nil || input.Email == "" || input.Code == "" {
			c.JSON(400, gin.H{"error": "Email, code and new password are required"})
			return
		}
		if len(input.Password) < minPasswordLength {
			c.JSON(400, gin.H{"error": "Password must be at least 6 characters."})
			return
		}

		invalid := gin.H{"error": "Invalid or expired reset code"}

		var user models.User
		if err := env.DB.Where("email = ?", models.NormalizeEmail(input.Email)).First(&user).Error; err != nil {
			c.JSON(400, invalid)
			return
		}

		var otp models.OTP
		err := env.DB.Where("user_id = ? AND type = ? AND used = ?", user.ID, models.OTPTypePasswordReset, false).
			Order("created_at DESC").
			First(&otp).Error
		if err != nil || !otp.IsValid(env.now()) {
			c.JSON(400, invalid)
			return
		}
		if !otp.Matches(strings.TrimSpace(input.Code)) {
			if err := otp.RecordFailedAttempt(env.DB); err != nil {
				env.Logger.Error("record reset code attempt", "user_id", user.ID, "error", err)
			}
			c.JSON(400, invalid)
			return
		}

		user.Password = input.Password
		if err := user.HashPassword(); err != nil {
			c.JSON(500, gin.H{"error": "Failed to hash password"})
			return
		}

		err = env.DB.Transaction(func(tx *gorm.DB) error {
			if err := otp.MarkAsUsed(tx); err != nil {
				return err
			}
			return tx.Model(&user).Update("password_hash", user.PasswordHash).Error
		})
		if err != nil {
			env.Logger.Error("reset password", "error", err)
			c.JSON(500, gin.H{"error": "Failed to reset password"})
			return
		}

		c.JSON(200, gin.H{"message": "Password updated successfully. You can now sign in."})
	}
}

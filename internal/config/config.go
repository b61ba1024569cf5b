package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every tunable of the API process. Values come from the
// environment (optionally seeded from a .env file) with local defaults.
type Config struct {
	Port            string
	GinMode         string
	BaseURL         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	DBHost         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBPort         string
	DBSSLMode      string
	DBMaxIdleConns int
	DBMaxOpenConns int
	DBConnMaxLife  time.Duration

	RedisURL string

	JWTSecret string
	JWTTTL    time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeCurrency      string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	SMTPSecure   bool
	AdminEmail   string

	DefaultTimezone string

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSBucketName      string
	UploadDir          string

	FirebaseServiceAccountPath string

	KafkaBrokers []string
	KafkaTopic   string

	LogLevel string

	RateLimitRPS   float64
	RateLimitBurst int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("BASE_URL", "http://localhost:3000")
	v.SetDefault("HTTP_READ_TIMEOUT", "10s")
	v.SetDefault("HTTP_WRITE_TIMEOUT", "15s")
	v.SetDefault("HTTP_SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("CORS_ORIGINS", "*")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_NAME", "vip4dfw")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)
	v.SetDefault("DB_MAX_OPEN_CONNS", 100)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "1h")

	v.SetDefault("JWT_TTL", "720h")
	v.SetDefault("STRIPE_CURRENCY", "usd")

	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_SECURE", false)

	v.SetDefault("DEFAULT_TIMEZONE", "America/Chicago")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("KAFKA_TOPIC", "booking-events")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 20)
}

// Load reads .env when present and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	var errs []error

	cfg := Config{
		Port:    strings.TrimSpace(v.GetString("PORT")),
		GinMode: strings.ToLower(v.GetString("GIN_MODE")),
		BaseURL: strings.TrimRight(v.GetString("BASE_URL"), "/"),

		DBHost:         v.GetString("DB_HOST"),
		DBUser:         v.GetString("DB_USER"),
		DBPassword:     v.GetString("DB_PASSWORD"),
		DBName:         v.GetString("DB_NAME"),
		DBPort:         v.GetString("DB_PORT"),
		DBSSLMode:      v.GetString("DB_SSLMODE"),
		DBMaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		DBMaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),

		RedisURL: strings.TrimSpace(v.GetString("REDIS_URL")),

		JWTSecret: v.GetString("JWT_SECRET"),

		StripeSecretKey:     v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		StripeCurrency:      strings.ToLower(v.GetString("STRIPE_CURRENCY")),

		SMTPHost:     v.GetString("SMTP_HOST"),
		SMTPPort:     v.GetInt("SMTP_PORT"),
		SMTPUser:     v.GetString("SMTP_USER"),
		SMTPPassword: v.GetString("SMTP_PASSWORD"),
		SMTPFrom:     v.GetString("SMTP_FROM"),
		SMTPSecure:   v.GetBool("SMTP_SECURE"),
		AdminEmail:   strings.TrimSpace(v.GetString("ADMIN_EMAIL")),

		DefaultTimezone: v.GetString("DEFAULT_TIMEZONE"),

		AWSRegion:          v.GetString("AWS_REGION"),
		AWSAccessKeyID:     v.GetString("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
		AWSBucketName:      v.GetString("AWS_BUCKET_NAME"),
		UploadDir:          v.GetString("UPLOAD_DIR"),

		FirebaseServiceAccountPath: v.GetString("FIREBASE_SERVICE_ACCOUNT_PATH"),

		KafkaBrokers: splitAndTrim(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:   v.GetString("KAFKA_TOPIC"),

		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),

		CORSOrigins: splitAndTrim(v.GetString("CORS_ORIGINS")),
	}

	setDuration(v, &cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDuration(v, &cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDuration(v, &cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)
	setDuration(v, &cfg.DBConnMaxLife, "DB_CONN_MAX_LIFETIME", &errs)
	setDuration(v, &cfg.JWTTTL, "JWT_TTL", &errs)

	if cfg.SMTPFrom == "" {
		cfg.SMTPFrom = cfg.SMTPUser
	}

	if cfg.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if cfg.JWTSecret == "" && cfg.GinMode != "test" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if cfg.JWTTTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be > 0"))
	}
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// DSN is the postgres connection string built from the DB_* settings.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode,
	)
}

// ReleaseMode reports whether gin runs in release mode.
func (c Config) ReleaseMode() bool {
	return c.GinMode == "release"
}

// SMTPEnabled is false when no SMTP host is configured.
func (c Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

func setDuration(v *viper.Viper, target *time.Duration, key string, errs *[]error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return
	}
	*target = d
}

func splitAndTrim(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

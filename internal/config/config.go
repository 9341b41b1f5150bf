package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the clinic finder server
type Config struct {
	Port                      string
	Origin                    string
	TrustedProxies            []string
	Environment               string
	LogLevel                  string
	JWTSecret                 string
	JWTRefreshSecret          string
	JWTExpirationMinutes      int
	JWTRefreshExpirationHours int
	Database                  DatabaseConfig
	Mailer                    MailerConfig
	Booking                   BookingConfig
	RateLimit                 RateLimitConfig
}

// DatabaseConfig holds database connection details
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	DSN      string
}

// MailerConfig holds email service configuration
type MailerConfig struct {
	Transport      string
	DefaultFrom    string
	FromName       string
	SendGridAPIKey string
	AWSRegion      string
}

// BookingConfig controls slot generation and notification dispatch
type BookingConfig struct {
	SlotMinutes   int
	Timezone      string
	NotifyTimeout time.Duration
}

// RateLimitConfig controls the guest booking limiter
type RateLimitConfig struct {
	RedisAddr     string
	RedisPassword string
	Limit         int
	Window        time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	dbConfig := DatabaseConfig{
		Driver:   getEnv("DB_DRIVER", "mysql"),
		Host:     getEnv("DB_HOST", "localhost"),
		Username: getEnv("DB_USERNAME", "root"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "clinic_finder"),
	}

	switch dbConfig.Driver {
	case "mysql":
		dbConfig.Port = getEnv("DB_PORT", "3306")
		dbConfig.DSN = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			dbConfig.Username, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name)
	case "postgres":
		dbConfig.Port = getEnv("DB_PORT", "5432")
		dbConfig.DSN = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			dbConfig.Host, dbConfig.Port, dbConfig.Username, dbConfig.Password, dbConfig.Name,
			getEnv("DB_SSLMODE", "disable"))
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER: %q", dbConfig.Driver)
	}

	// A full URL wins over the individual parts
	if url := getEnv("DATABASE_URL", ""); url != "" {
		dbConfig.DSN = url
	}

	mailerConfig := MailerConfig{
		Transport:      getEnv("MAILER_TRANSPORT", "stub"),
		DefaultFrom:    getEnv("MAILER_DEFAULT_FROM", "no-reply@clinicfinder.local"),
		FromName:       getEnv("MAILER_FROM_NAME", "Clinic Finder"),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
	}

	jwtExpMinutes, err := strconv.Atoi(getEnv("JWT_EXPIRATION_MINUTES", "15"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRATION_MINUTES: %w", err)
	}

	jwtRefreshExpHours, err := strconv.Atoi(getEnv("JWT_REFRESH_EXPIRATION_HOURS", "168")) // 7 days
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_REFRESH_EXPIRATION_HOURS: %w", err)
	}

	slotMinutes, err := strconv.Atoi(getEnv("SLOT_MINUTES", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid SLOT_MINUTES: %w", err)
	}
	if slotMinutes <= 0 || slotMinutes > 24*60 {
		return nil, fmt.Errorf("invalid SLOT_MINUTES: %d out of range", slotMinutes)
	}

	notifyTimeout, err := time.ParseDuration(getEnv("NOTIFY_TIMEOUT", "15s"))
	if err != nil {
		return nil, fmt.Errorf("invalid NOTIFY_TIMEOUT: %w", err)
	}

	rateLimit, err := strconv.Atoi(getEnv("BOOKING_RATE_LIMIT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid BOOKING_RATE_LIMIT: %w", err)
	}

	rateWindow, err := time.ParseDuration(getEnv("BOOKING_RATE_WINDOW", "1m"))
	if err != nil {
		return nil, fmt.Errorf("invalid BOOKING_RATE_WINDOW: %w", err)
	}

	timezone := getEnv("APP_TIMEZONE", "UTC")
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE: %w", err)
	}

	return &Config{
		Port:                      getEnv("PORT", "3001"),
		Origin:                    getEnv("ORIGIN", "http://localhost:5173"),
		TrustedProxies:            splitList(getEnv("TRUSTED_PROXIES", "")),
		Environment:               getEnv("APP_ENV", "development"),
		LogLevel:                  getEnv("LOG_LEVEL", "info"),
		JWTSecret:                 getEnv("JWT_SECRET", "default_jwt_secret"),
		JWTRefreshSecret:          getEnv("JWT_REFRESH_SECRET", "default_refresh_secret"),
		JWTExpirationMinutes:      jwtExpMinutes,
		JWTRefreshExpirationHours: jwtRefreshExpHours,
		Database:                  dbConfig,
		Mailer:                    mailerConfig,
		Booking: BookingConfig{
			SlotMinutes:   slotMinutes,
			Timezone:      timezone,
			NotifyTimeout: notifyTimeout,
		},
		RateLimit: RateLimitConfig{
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			Limit:         rateLimit,
			Window:        rateWindow,
		},
	}, nil
}

// IsProduction reports whether APP_ENV is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Location resolves the timezone used to decide what "today" is
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SlotGranularity returns the configured slot length
func (c *Config) SlotGranularity() time.Duration {
	return time.Duration(c.Booking.SlotMinutes) * time.Minute
}

// Helper function to get environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// splitList parses a comma separated env value. An empty value yields nil.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

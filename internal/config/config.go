package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	Env              string
	HTTPAddr         string
	DatabaseURL      string
	RedisURL         string
	JWTSecret        string
	TelegramToken    string
	TelegramUser     string
	TelegramAPI      string
	WebhookSecret    string
	InitDataMaxAge   time.Duration
	BaseURL          string
	Timezone         *time.Location
	AdminTGIDs       map[int64]struct{}
	AdminLogin       string
	AdminPassHash    string
	AutoMigrate      bool
	ExpireInterval   time.Duration
	BookingRateLimit int
	Payments         PaymentsConfig
	Click            ClickConfig
	S3               S3Config
	Logging          LoggingConfig
}

type PaymentsConfig struct {
	ProviderToken string
	Currency      string
}

type ClickConfig struct {
	ServiceID  string
	MerchantID string
	SecretKey  string
	ReturnURL  string
}

// Enabled reports whether Click card payments can be offered.
func (c ClickConfig) Enabled() bool {
	return c.ServiceID != "" && c.MerchantID != "" && c.SecretKey != ""
}

type S3Config struct {
	Endpoint       string
	PublicEndpoint string
	Bucket         string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
}

type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	tz, err := time.LoadLocation(getenv("APP_TIMEZONE", "Asia/Tashkent"))
	if err != nil {
		return nil, fmt.Errorf("APP_TIMEZONE: %w", err)
	}

	cfg := &Config{
		Env:              getenv("APP_ENV", "dev"),
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		TelegramToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramUser:     os.Getenv("TELEGRAM_BOT_USERNAME"),
		TelegramAPI:      os.Getenv("TELEGRAM_API_ENDPOINT"),
		WebhookSecret:    os.Getenv("TELEGRAM_WEBHOOK_SECRET"),
		InitDataMaxAge:   getenvDuration("TELEGRAM_INIT_DATA_MAX_AGE", 24*time.Hour),
		BaseURL:          getenv("BASE_URL", ""),
		Timezone:         tz,
		AdminTGIDs:       parseIDSet(os.Getenv("ADMIN_TELEGRAM_IDS")),
		AdminLogin:       os.Getenv("ADMIN_LOGIN"),
		AdminPassHash:    os.Getenv("ADMIN_PASSWORD_HASH"),
		AutoMigrate:      getenvBool("AUTO_MIGRATE", false),
		ExpireInterval:   getenvDuration("EXPIRE_INTERVAL", time.Minute),
		BookingRateLimit: getenvInt("BOOKING_RATE_LIMIT", 10),
		Payments: PaymentsConfig{
			ProviderToken: os.Getenv("PAYMENT_PROVIDER_TOKEN"),
			Currency:      strings.ToUpper(getenv("PAYMENT_CURRENCY", "UZS")),
		},
		Click: ClickConfig{
			ServiceID:  os.Getenv("CLICK_SERVICE_ID"),
			MerchantID: os.Getenv("CLICK_MERCHANT_ID"),
			SecretKey:  os.Getenv("CLICK_SECRET_KEY"),
			ReturnURL:  os.Getenv("CLICK_RETURN_URL"),
		},
		S3: S3Config{
			Endpoint:       os.Getenv("S3_ENDPOINT"),
			PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
			Bucket:         os.Getenv("S3_BUCKET"),
			AccessKey:      os.Getenv("S3_ACCESS_KEY"),
			SecretKey:      os.Getenv("S3_SECRET_KEY"),
			Region:         getenv("S3_REGION", "us-east-1"),
			UseSSL:         getenvBool("S3_USE_SSL", true),
		},
		Logging: LoggingConfig{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "text"),
			File:   os.Getenv("LOG_FILE"),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.ExpireInterval <= 0 {
		return nil, fmt.Errorf("EXPIRE_INTERVAL must be positive")
	}

	return cfg, nil
}

// IsAdminTelegramID reports whether the Telegram account is configured as superadmin.
func (c *Config) IsAdminTelegramID(id int64) bool {
	if c == nil {
		return false
	}
	_, ok := c.AdminTGIDs[id]
	return ok
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return parsed
}

func parseIDSet(val string) map[int64]struct{} {
	set := make(map[int64]struct{})
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

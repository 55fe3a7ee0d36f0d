// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"paygate/pkg/db" // Import db package for its Config struct
)

// DriverMemory selects the in-process store instead of PostgreSQL.
const DriverMemory = "memory"

// devJWTSecret signs tokens for local memory-driver runs when JWT_SECRET is unset.
const devJWTSecret = "paygate-local-development"

// AppConfig holds all application-wide configurations.
type AppConfig struct {
	ServerPort     string
	DB             db.Config
	LogLevel       string
	LedgerCurrency string
	AdminIDs       []string
	JWTSecret      string

	RailTimeout               time.Duration
	ReviewSessionTTL          time.Duration
	WhitelistRequiresApproval bool

	Notify   NotifyConfig
	CoinEx   CoinExConfig
	Settings map[string]string // Defaults overlaid by SETTINGS_FILE
}

// NotifyConfig configures notification delivery.
type NotifyConfig struct {
	Workers       int
	QueueSize     int
	Timeout       time.Duration
	MaxRetry      int
	RedisAddr     string // Empty selects the in-process sink
	TelegramToken string // Empty selects the log deliverer
	TelegramURL   string
}

// CoinExConfig holds the exchange rail credentials. The rail is disabled without them.
type CoinExConfig struct {
	AccessID  string
	SecretKey string
	BaseURL   string
}

// Enabled reports whether both credentials are present.
func (c CoinExConfig) Enabled() bool {
	return c.AccessID != "" && c.SecretKey != ""
}

// settingsFile is the layout of SETTINGS_FILE.
type settingsFile struct {
	Settings map[string]string `toml:"settings"`
}

// LoadConfig loads configuration from a .env file, if any, and environment variables.
// It returns an AppConfig instance or an error if any required variable is missing or invalid.
func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	cfg := &AppConfig{
		ServerPort: getEnv("SERVER_PORT", "8080"),
		DB: db.Config{
			Driver:   strings.ToLower(getEnv("DB_DRIVER", db.DriverPostgres)),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "paygate"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LedgerCurrency: strings.ToUpper(getEnv("LEDGER_CURRENCY", "NSP")),
		AdminIDs:       ParseAdminIDs(os.Getenv("ADMIN_IDS")),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		Notify: NotifyConfig{
			RedisAddr:     os.Getenv("REDIS_ADDR"),
			TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
			TelegramURL:   getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		},
		CoinEx: CoinExConfig{
			AccessID:  os.Getenv("COINEX_ACCESS_ID"),
			SecretKey: os.Getenv("COINEX_SECRET_KEY"),
			BaseURL:   getEnv("COINEX_BASE_URL", "https://api.coinex.com"),
		},
	}

	switch cfg.DB.Driver {
	case db.DriverPostgres, db.DriverPGX, DriverMemory:
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER %q", cfg.DB.Driver)
	}
	if cfg.JWTSecret == "" {
		if cfg.DB.Driver != DriverMemory {
			return nil, fmt.Errorf("JWT_SECRET is required")
		}
		cfg.JWTSecret = devJWTSecret
	}

	if cfg.RailTimeout, err = durationEnv("RAIL_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReviewSessionTTL, err = durationEnv("REVIEW_SESSION_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Notify.Timeout, err = durationEnv("NOTIFY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.WhitelistRequiresApproval, err = boolEnv("WHITELIST_REQUIRES_APPROVAL", true); err != nil {
		return nil, err
	}
	if cfg.Notify.Workers, err = intEnv("NOTIFY_WORKERS", 5); err != nil {
		return nil, err
	}
	if cfg.Notify.QueueSize, err = intEnv("NOTIFY_QUEUE_SIZE", 256); err != nil {
		return nil, err
	}
	if cfg.Notify.MaxRetry, err = intEnv("NOTIFY_MAX_RETRY", 5); err != nil {
		return nil, err
	}

	if path := os.Getenv("SETTINGS_FILE"); path != "" {
		if cfg.Settings, err = LoadSettingsFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadSettingsFile reads the [settings] table of a TOML file.
func LoadSettingsFile(path string) (map[string]string, error) {
	var f settingsFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}
	if f.Settings == nil {
		f.Settings = map[string]string{}
	}
	return f.Settings, nil
}

// ParseAdminIDs splits a comma separated list, skipping empty and malformed entries.
func ParseAdminIDs(raw string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" || strings.ContainsAny(id, " \t/") || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", key, v)
	}
	return b, nil
}

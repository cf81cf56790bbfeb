package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port        string
	Environment string
	JWTSecret   string

	// Admin credential for protected endpoints (bcrypt hash)
	AdminUser         string
	AdminPasswordHash string

	// Primary provider (TOTP login flow)
	PrimaryBaseURL    string
	PrimaryAPIKey     string
	PrimaryClientCode string
	PrimaryPassword   string
	PrimaryTOTPSecret string

	// Secondary providers
	TwelvedataBaseURL string
	TwelvedataAPIKey  string
	YahooBaseURL      string

	// Engine tuning
	AdapterTimeout    time.Duration
	CompareDeadline   time.Duration
	CacheTTL          time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	RenewalMargin     time.Duration
	DeviationAlertPct float64

	// Cache persistence
	CacheDBPath string

	// Symbol universe used for movers ranking and scheduler warm-up
	Watchlist []string
}

var AppConfig *Config
var DB *gorm.DB

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		JWTSecret:   getEnv("JWT_SECRET", "your-secret-key"),

		AdminUser:         getEnv("ADMIN_USER", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),

		PrimaryBaseURL:    getEnv("ANGEL_BASE_URL", "https://apiconnect.angelone.in"),
		PrimaryAPIKey:     getEnv("ANGEL_API_KEY", ""),
		PrimaryClientCode: getEnv("ANGEL_CLIENT_CODE", ""),
		PrimaryPassword:   getEnv("ANGEL_PASSWORD", ""),
		PrimaryTOTPSecret: getEnv("ANGEL_TOTP_SECRET", ""),

		TwelvedataBaseURL: getEnv("TWELVEDATA_BASE_URL", "https://api.twelvedata.com"),
		TwelvedataAPIKey:  getEnv("TWELVEDATA_API_KEY", ""),
		YahooBaseURL:      getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),

		AdapterTimeout:    getEnvDuration("ADAPTER_TIMEOUT", 5*time.Second),
		CompareDeadline:   getEnvDuration("COMPARE_DEADLINE", 8*time.Second),
		CacheTTL:          getEnvDuration("QUOTE_CACHE_TTL", 120*time.Second),
		BackoffBase:       getEnvDuration("BACKOFF_BASE", 10*time.Second),
		BackoffCap:        getEnvDuration("BACKOFF_CAP", 5*time.Minute),
		RenewalMargin:     getEnvDuration("SESSION_RENEWAL_MARGIN", 10*time.Minute),
		DeviationAlertPct: getEnvFloat("DEVIATION_ALERT_PCT", 1.0),

		CacheDBPath: getEnv("CACHE_DB_PATH", "data/quote_cache.db"),

		Watchlist: getEnvList("WATCHLIST", defaultWatchlist),
	}

	AppConfig = config
	return config, nil
}

// defaultWatchlist covers the NSE large caps the dashboard tracks.
var defaultWatchlist = []string{
	"RELIANCE", "TCS", "HDFCBANK", "BHARTIARTL", "ICICIBANK",
	"INFY", "SBIN", "ITC", "HINDUNILVR", "LT",
	"KOTAKBANK", "AXISBANK", "ASIANPAINT", "MARUTI", "SUNPHARMA",
	"TITAN", "ULTRACEMCO", "WIPRO", "ONGC", "NTPC",
}

// SectorMap groups watchlist symbols by sector for sector performance.
var SectorMap = map[string][]string{
	"Banking":        {"HDFCBANK", "ICICIBANK", "SBIN", "KOTAKBANK", "AXISBANK"},
	"IT":             {"TCS", "INFY", "WIPRO"},
	"Oil & Gas":      {"RELIANCE", "ONGC"},
	"Telecom":        {"BHARTIARTL"},
	"FMCG":           {"HINDUNILVR", "ITC"},
	"Pharma":         {"SUNPHARMA"},
	"Auto":           {"MARUTI"},
	"Infrastructure": {"LT", "NTPC", "ULTRACEMCO"},
}

// InitDB opens the local sqlite database used for the quote cache
func InitDB() (*gorm.DB, error) {
	path := AppConfig.CacheDBPath
	if dir := dirOf(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	var logLevel logger.LogLevel
	if AppConfig.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Warn
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		log.Printf("Database connection error: %v", err)
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	log.Printf("Cache database opened at %s", path)
	DB = db
	return db, nil
}

// dirOf returns the directory part of a path, "" for bare filenames
func dirOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvDuration parses a duration env var like "30s" or "5m"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid duration for %s: %v, using default %v", key, err, defaultValue)
		return defaultValue
	}
	return d
}

// getEnvFloat parses a float env var
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Invalid number for %s: %v, using default %v", key, err, defaultValue)
		return defaultValue
	}
	return f
}

// getEnvList parses a comma-separated env var
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port         string
	DatabasePath string
	DBMaxConns   int
	LogLevel     string

	JWTSecret         string
	AccessTokenExpiry time.Duration

	RulesPath string // Optional YAML file overriding processing rules
	Rules     Rules

	SessionTTL             time.Duration
	SessionCleanupInterval time.Duration

	ReportCacheTTL             time.Duration
	ReportCacheCleanupInterval time.Duration

	TracingEnabled bool

	RateLimitInterval time.Duration
	RateLimitBurst    int

	MaxUploadSizeBytes int64
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	jwtSecret := getEnv("JWT_SECRET", "your-very-secure-and-long-jwt-secret-key-for-hs256-minimum-32-bytes")
	if jwtSecret == "your-very-secure-and-long-jwt-secret-key-for-hs256-minimum-32-bytes" {
		log.Println("WARNING: Using default insecure JWT_SECRET. Set JWT_SECRET environment variable for production.")
	}

	rulesPath := getEnv("PROCESSING_RULES_PATH", "")
	rules, err := LoadRules(rulesPath)
	if err != nil {
		log.Fatalf("FATAL: could not load processing rules from '%s': %v", rulesPath, err)
	}

	Cfg = &AppConfig{
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./opsledger.db"),
		DBMaxConns:   getEnvAsInt("DB_MAX_CONNS", 4),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		JWTSecret:         jwtSecret,
		AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),

		RulesPath: rulesPath,
		Rules:     rules,

		SessionTTL:             getEnvAsDuration("SESSION_TTL", 30*time.Minute),
		SessionCleanupInterval: getEnvAsDuration("SESSION_CLEANUP_INTERVAL", 10*time.Minute),

		ReportCacheTTL:             getEnvAsDuration("REPORT_CACHE_TTL", 15*time.Minute),
		ReportCacheCleanupInterval: getEnvAsDuration("REPORT_CACHE_CLEANUP_INTERVAL", 30*time.Minute),

		TracingEnabled: getEnvAsBool("TRACING_ENABLED", false),

		RateLimitInterval: getEnvAsDuration("RATE_LIMIT_INTERVAL", 100*time.Millisecond),
		RateLimitBurst:    getEnvAsInt("RATE_LIMIT_BURST", 30),

		MaxUploadSizeBytes: int64(getEnvAsInt("MAX_UPLOAD_SIZE_MB", 5)) * 1024 * 1024,
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, RulesPath=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.RulesPath)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid boolean value for %s ('%s'), using default: %t", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}

package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port               string
	LogLevel           string
	MaxUploadSizeBytes int64
	AllowedOrigins     []string

	// Auth
	JWTSecret         string
	AdminUsername     string
	AdminPasswordHash string
	AccessTokenExpiry time.Duration

	// Archive
	DatabasePath     string
	FallbackDir      string
	FallbackRetain   int
	RedisURL         string
	RecoverySchedule string

	// Column resolution
	DictionaryPath          string
	ResolverAcceptThreshold float64
	ResolverExactCutoff     float64
	ResolverFuzzyCutoff     float64
	ResolverCacheTTL        time.Duration

	// Transmission
	TransmitEndpoint          string
	TransmitTimeout           time.Duration
	TransmitOAuthClientID     string
	TransmitOAuthClientSecret string
	TransmitOAuthTokenURL     string
	TargetHedgeRatio          float64
	AutoApprove               bool

	// Alerts
	AlertProvider        string
	AlertRecipient       string
	MailgunDomain        string
	MailgunPrivateAPIKey string
	SenderEmail          string
	SenderName           string
}

const defaultJWTSecret = "change-me-hedge-dashboard-secret-at-least-32-bytes"

var Cfg *AppConfig

// LoadConfig reads .env (when present) and the process environment into Cfg.
func LoadConfig() *AppConfig {
	if err := godotenv.Load(); err != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", err)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	jwtSecret := getEnv("JWT_SECRET", defaultJWTSecret)
	if jwtSecret == defaultJWTSecret {
		log.Println("WARNING: Using default insecure JWT_SECRET. Set JWT_SECRET environment variable for production.")
	}

	Cfg = &AppConfig{
		Port:               getEnv("PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		MaxUploadSizeBytes: int64(getEnvAsInt("MAX_UPLOAD_SIZE_BYTES", 10*1024*1024)),
		AllowedOrigins:     splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		JWTSecret:         jwtSecret,
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 60*time.Minute),

		DatabasePath:     getEnv("DATABASE_PATH", "./provenance.db"),
		FallbackDir:      getEnv("FALLBACK_DIR", "./provenance-fallback"),
		FallbackRetain:   getEnvAsInt("FALLBACK_RETAIN", 10),
		RedisURL:         getEnv("REDIS_URL", ""),
		RecoverySchedule: getEnv("RECOVERY_SCHEDULE", "@every 5m"),

		DictionaryPath:          getEnv("DICTIONARY_PATH", ""),
		ResolverAcceptThreshold: getEnvAsFloat("RESOLVER_ACCEPT_THRESHOLD", 0.5),
		ResolverExactCutoff:     getEnvAsFloat("RESOLVER_EXACT_CUTOFF", 0.9),
		ResolverFuzzyCutoff:     getEnvAsFloat("RESOLVER_FUZZY_CUTOFF", 0.7),
		ResolverCacheTTL:        getEnvAsDuration("RESOLVER_CACHE_TTL", 30*time.Minute),

		TransmitEndpoint:          getEnv("TRANSMIT_ENDPOINT", ""),
		TransmitTimeout:           getEnvAsDuration("TRANSMIT_TIMEOUT", 10*time.Second),
		TransmitOAuthClientID:     getEnv("TRANSMIT_OAUTH_CLIENT_ID", ""),
		TransmitOAuthClientSecret: getEnv("TRANSMIT_OAUTH_CLIENT_SECRET", ""),
		TransmitOAuthTokenURL:     getEnv("TRANSMIT_OAUTH_TOKEN_URL", ""),
		TargetHedgeRatio:          getEnvAsFloat("TARGET_HEDGE_RATIO", 80),
		AutoApprove:               getEnvAsBool("AUTO_APPROVE", false),

		AlertProvider:        getEnv("ALERT_PROVIDER", "log"),
		AlertRecipient:       getEnv("ALERT_RECIPIENT", ""),
		MailgunDomain:        getEnv("MAILGUN_DOMAIN", ""),
		MailgunPrivateAPIKey: getEnv("MAILGUN_PRIVATE_API_KEY", ""),
		SenderEmail:          getEnv("SENDER_EMAIL", "noreply@example.com"),
		SenderName:           getEnv("SENDER_NAME", "Hedge Dashboard"),
	}

	if Cfg.AlertProvider == "mailgun" && (Cfg.MailgunDomain == "" || Cfg.MailgunPrivateAPIKey == "") {
		log.Println("WARNING: ALERT_PROVIDER is 'mailgun' but MAILGUN_DOMAIN or MAILGUN_PRIVATE_API_KEY is missing. Falling back to log alerts.")
		Cfg.AlertProvider = "log"
	}
	if Cfg.FallbackRetain <= 0 {
		log.Printf("WARNING: FALLBACK_RETAIN must be positive, got %d. Using 10.", Cfg.FallbackRetain)
		Cfg.FallbackRetain = 10
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, TransmitEndpoint=%q, AlertProvider=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.TransmitEndpoint, Cfg.AlertProvider)
	return Cfg
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
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

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	log.Printf("Invalid float value for %s ('%s'), using default: %g", key, valueStr, fallback)
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

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AuthMode controls which credentials the API accepts.
type AuthMode string

const (
	AuthModeAPIKey AuthMode = "api_key"
	AuthModeBearer AuthMode = "bearer"
	AuthModeHybrid AuthMode = "hybrid"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Scoring model
	ModelsDir    string // Directory holding model.json + feature_names.json
	ModelVersion string
	ScoringURL   string // Remote inference endpoint (optional, uses local artifacts if not set)

	// Risk policy
	LowThreshold  float64
	HighThreshold float64

	// Rate limiting
	RateLimitEnabled       bool
	RateLimitRequests      int
	RateLimitWindowSeconds int

	// MFA step-up
	MfaCodeTTLSeconds  int
	MfaMaxAttempts     int
	MfaCodeLength      int
	MfaSigningSecret   string
	MfaDemoCodeInReply bool // Return plaintext codes in API responses (demo only)

	// Auth
	AuthMode    AuthMode
	APIKeys     []string // Accepted API keys for the prediction surfaces
	AdminSecret string

	// Banking demo
	DefaultBankCode    string
	DefaultCurrency    string
	DemoInitialBalance float64
	EnableDemoSeeding  bool

	// CORS
	CORSAllowedOrigins []string
}

// Defaults
const (
	DefaultPort                   = "8080"
	DefaultEnv                    = "development"
	DefaultLogLevel               = "info"
	DefaultModelsDir              = "models"
	DefaultModelVersion           = "logit_transfer_v1"
	DefaultLowThreshold           = 0.10
	DefaultHighThreshold          = 0.50
	DefaultRateLimitRequests      = 60
	DefaultRateLimitWindowSeconds = 60
	DefaultMfaCodeTTLSeconds      = 300
	DefaultMfaMaxAttempts         = 3
	DefaultMfaCodeLength          = 6
	DefaultBankCode               = "RISKGATE01"
	DefaultCurrency               = "USD"
	DefaultDemoInitialBalance     = 10000.0
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", DefaultPort),
		Env:          getEnv("ENV", DefaultEnv),
		LogLevel:     getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:  os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ModelsDir:    getEnv("MODELS_DIR", DefaultModelsDir),
		ModelVersion: getEnv("MODEL_VERSION", DefaultModelVersion),
		ScoringURL:   os.Getenv("SCORING_URL"),

		LowThreshold:  getEnvFloat("LOW_THRESHOLD", DefaultLowThreshold),
		HighThreshold: getEnvFloat("HIGH_THRESHOLD", DefaultHighThreshold),

		RateLimitEnabled:       getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests:      getEnvInt("RATE_LIMIT_REQUESTS", DefaultRateLimitRequests),
		RateLimitWindowSeconds: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", DefaultRateLimitWindowSeconds),

		MfaCodeTTLSeconds:  getEnvInt("MFA_CODE_TTL_SECONDS", DefaultMfaCodeTTLSeconds),
		MfaMaxAttempts:     getEnvInt("MFA_MAX_ATTEMPTS", DefaultMfaMaxAttempts),
		MfaCodeLength:      getEnvInt("MFA_CODE_LENGTH", DefaultMfaCodeLength),
		MfaSigningSecret:   os.Getenv("MFA_SIGNING_SECRET"),
		MfaDemoCodeInReply: getEnvBool("ENABLE_DEMO_MFA_CODE_IN_RESPONSE", false),

		AuthMode:    AuthMode(getEnv("AUTH_MODE", string(AuthModeHybrid))),
		APIKeys:     splitList(os.Getenv("PREDICTION_API_KEYS")),
		AdminSecret: os.Getenv("ADMIN_SECRET"),

		DefaultBankCode:    getEnv("DEFAULT_BANK_CODE", DefaultBankCode),
		DefaultCurrency:    getEnv("DEFAULT_CURRENCY", DefaultCurrency),
		DemoInitialBalance: getEnvFloat("DEMO_INITIAL_BALANCE", DefaultDemoInitialBalance),
		EnableDemoSeeding:  getEnvBool("ENABLE_DEMO_SEEDING", false),

		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and coherent.
func (c *Config) Validate() error {
	if c.LowThreshold < 0 || c.LowThreshold > 1 {
		return fmt.Errorf("LOW_THRESHOLD must be between 0 and 1")
	}
	if c.HighThreshold < 0 || c.HighThreshold > 1 {
		return fmt.Errorf("HIGH_THRESHOLD must be between 0 and 1")
	}
	if c.LowThreshold >= c.HighThreshold {
		return fmt.Errorf("LOW_THRESHOLD must be less than HIGH_THRESHOLD")
	}

	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be greater than 0")
	}
	if c.RateLimitWindowSeconds <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS must be greater than 0")
	}

	if c.MfaCodeTTLSeconds <= 0 {
		return fmt.Errorf("MFA_CODE_TTL_SECONDS must be greater than 0")
	}
	if c.MfaMaxAttempts <= 0 {
		return fmt.Errorf("MFA_MAX_ATTEMPTS must be greater than 0")
	}
	if c.MfaCodeLength < 4 || c.MfaCodeLength > 10 {
		return fmt.Errorf("MFA_CODE_LENGTH must be between 4 and 10")
	}
	if c.MfaSigningSecret == "" {
		return fmt.Errorf("MFA_SIGNING_SECRET is required")
	}

	switch c.AuthMode {
	case AuthModeAPIKey, AuthModeBearer, AuthModeHybrid:
	default:
		return fmt.Errorf("AUTH_MODE must be one of: api_key, bearer, hybrid")
	}
	if c.AuthMode != AuthModeBearer && len(c.APIKeys) == 0 {
		return fmt.Errorf("PREDICTION_API_KEYS is required when AUTH_MODE includes api_key")
	}

	if c.DemoInitialBalance < 0 {
		return fmt.Errorf("DEMO_INITIAL_BALANCE must be greater than or equal to 0")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

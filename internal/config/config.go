package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const DefaultDeepSeekAPIURL = "https://api.deepseek.com/v1/chat/completions"

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// DeepSeek
	DeepSeekAPIKey      string
	DeepSeekAPIURL      string
	DeepSeekModel       string
	DeepSeekTemperature float64
	DeepSeekMaxTokens   int

	// Upstream transport
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxConnections int

	// Retry policy
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Per-request budget for the whole relay call, retries included
	ChatRequestTimeout time.Duration

	// Rate limiting
	RateLimitPerMinute int
	RedisURL           string

	// TrustProxy honours X-Forwarded-For / X-Real-IP. Enable only behind a
	// proxy that overwrites them.
	TrustProxy bool
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:     getEnvOrDefault("PORT", "8000"),
		Env:      getEnvOrDefault("ENV", "development"),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),

		// A missing key is reported per request, not at startup.
		DeepSeekAPIKey:      os.Getenv("DEEPSEEK_API_KEY"),
		DeepSeekAPIURL:      getEnvOrDefault("DEEPSEEK_API_URL", DefaultDeepSeekAPIURL),
		DeepSeekModel:       getEnvOrDefault("DEEPSEEK_MODEL", "deepseek-reasoner"),
		DeepSeekTemperature: getEnvAsFloatOrDefault("DEEPSEEK_TEMPERATURE", 0.7),
		DeepSeekMaxTokens:   getEnvAsIntOrDefault("DEEPSEEK_MAX_TOKENS", 2000),

		ConnectTimeout: getEnvAsDurationOrDefault("DEEPSEEK_CONNECT_TIMEOUT", 10*time.Second),
		ReadTimeout:    getEnvAsDurationOrDefault("DEEPSEEK_READ_TIMEOUT", 60*time.Second),
		MaxConnections: getEnvAsIntOrDefault("DEEPSEEK_MAX_CONNECTIONS", 10),

		RetryMaxAttempts: getEnvAsIntOrDefault("DEEPSEEK_RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelay:   getEnvAsDurationOrDefault("DEEPSEEK_RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:    getEnvAsDurationOrDefault("DEEPSEEK_RETRY_MAX_DELAY", 8*time.Second),

		ChatRequestTimeout: getEnvAsDurationOrDefault("CHAT_REQUEST_TIMEOUT", 180*time.Second),

		RateLimitPerMinute: getEnvAsIntOrDefault("RATE_LIMIT_PER_MINUTE", 30),
		RedisURL:           getEnvOrDefault("REDIS_URL", ""),

		TrustProxy: getEnvAsBoolOrDefault("TRUST_PROXY", false),
	}

	return cfg
}

// APIKeyConfigured reports whether a DeepSeek key is available.
func (c *Config) APIKeyConfigured() bool {
	return c.DeepSeekAPIKey != ""
}

// WriteTimeout is the HTTP server write deadline. It must outlive the relay
// budget so a 504 can still be written once the budget runs out.
func (c *Config) WriteTimeout() time.Duration {
	return c.ChatRequestTimeout + 10*time.Second
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	PublicBaseURL      string
	LogLevel           string
	DatabaseURL        string
	JWTSecret          string
	CORSAllowedOrigins []string

	// HTTPWriteTimeout overrides the server write timeout. When zero it is
	// derived from the provider retry policy for a batch of
	// DispatchWriteBudget recipients; larger batches can outlive it.
	HTTPWriteTimeout    time.Duration
	DispatchWriteBudget int

	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	IdempotencyTTL time.Duration

	// Phone handling
	DefaultCountryCode   string
	WhatsAppCheckMode    string
	WhatsAppProbePercent int

	// Twilio WhatsApp provider
	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioWhatsAppFrom      string
	TwilioBaseURL           string
	TwilioLookupBaseURL     string
	TwilioStatusCallbackURL string
	TwilioValidateSignature bool
	ProviderTimeout         time.Duration
	ProviderMaxAttempts     int
	ProviderBackoff         time.Duration
	DispatchConcurrency     int
	DispatchRateLimitPerSec float64
	DispatchRateLimitBurst  int

	// Result file storage
	S3Bucket      string
	S3URLTTL      time.Duration
	FilesMaxBytes int64

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Status change events
	AMQPURL      string
	AMQPExchange string

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		PublicBaseURL:      getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),

		HTTPWriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 0),
		DispatchWriteBudget: getEnvAsInt("DISPATCH_WRITE_BUDGET", 25),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		IdempotencyTTL: getEnvAsDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		DefaultCountryCode:   strings.TrimPrefix(getEnv("DEFAULT_COUNTRY_CODE", "33"), "+"),
		WhatsAppCheckMode:    strings.ToLower(strings.TrimSpace(getEnv("WHATSAPP_CHECK_MODE", "probe"))),
		WhatsAppProbePercent: getEnvAsInt("WHATSAPP_PROBE_PERCENT", 85),

		TwilioAccountSID:        getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:         getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWhatsAppFrom:      getEnv("TWILIO_WHATSAPP_FROM", ""),
		TwilioBaseURL:           getEnv("TWILIO_BASE_URL", "https://api.twilio.com"),
		TwilioLookupBaseURL:     getEnv("TWILIO_LOOKUP_BASE_URL", "https://lookups.twilio.com"),
		TwilioStatusCallbackURL: getEnv("TWILIO_STATUS_CALLBACK_URL", ""),
		TwilioValidateSignature: getEnvAsBool("TWILIO_VALIDATE_SIGNATURE", true),
		ProviderTimeout:         getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),
		ProviderMaxAttempts:     getEnvAsInt("PROVIDER_MAX_ATTEMPTS", 3),
		ProviderBackoff:         getEnvAsDuration("PROVIDER_BACKOFF", 500*time.Millisecond),
		DispatchConcurrency:     getEnvAsInt("DISPATCH_CONCURRENCY", 1),
		DispatchRateLimitPerSec: getEnvAsFloat("DISPATCH_RATE_LIMIT_PER_SEC", 2),
		DispatchRateLimitBurst:  getEnvAsInt("DISPATCH_RATE_LIMIT_BURST", 10),

		S3Bucket:      getEnv("S3_BUCKET", ""),
		S3URLTTL:      getEnvAsDuration("S3_URL_TTL", time.Hour),
		FilesMaxBytes: int64(getEnvAsInt("FILES_MAX_BYTES", 16<<20)),

		AWSRegion:           getEnv("AWS_REGION", "eu-west-3"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "eresults.sendlogs"),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "E-Results"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping empty entries.
func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreDynamo = "dynamo"
)

// Status read modes.
const (
	ReadRepeatable = "repeatable"
	ReadSingleUse  = "single-use"
)

// Duplicate callback policies.
const (
	DuplicateOverwrite = "overwrite"
	DuplicateIgnore    = "ignore"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort        string
	AppEnv         string
	AllowedOrigins []string // CORS allowed origins
	PublicBaseURL  string   // used for privacy/terms links in the deep link

	StoreBackend    string
	RecordTTL       time.Duration
	SweepInterval   time.Duration
	StatusReadMode  string
	DuplicatePolicy string

	FetchTimeout        time.Duration
	FetchWorkers        int
	FetchQueueSize      int
	RequirePhone        bool
	ProfileAllowedHosts []string // empty allows any host

	PartnerKey   string
	PartnerName  string
	PartnerLang  string
	PollInterval time.Duration
	PollTimeout  time.Duration

	RedisURL       string
	RedisKeyPrefix string

	AWSRegion                string
	AWSEndpointURL           string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID           string
	AWSSecretKey             string
	DynamoTableVerifications string
	S3AuditBucket            string // empty disables the archive
	S3AuditPrefix            string
	SNSRegion                string
	SNSOutcomeTopicARN       string // empty disables outcome events

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	RateLimitRPS           float64
	RateLimitBurst         int
	CallbackRateLimitRPS   float64
	CallbackRateLimitBurst int
	AuditLogSize           int
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),

		StoreBackend:    getEnv("STORE_BACKEND", StoreMemory),
		RecordTTL:       getEnvDuration("RECORD_TTL", 10*time.Minute),
		SweepInterval:   getEnvDuration("SWEEP_INTERVAL", time.Minute),
		StatusReadMode:  getEnv("STATUS_READ_MODE", ReadRepeatable),
		DuplicatePolicy: getEnv("DUPLICATE_CALLBACK_POLICY", DuplicateOverwrite),

		FetchTimeout:        getEnvDuration("FETCH_TIMEOUT", 10*time.Second),
		FetchWorkers:        getEnvInt("FETCH_WORKERS", 8),
		FetchQueueSize:      getEnvInt("FETCH_QUEUE_SIZE", 256),
		RequirePhone:        getEnvBool("REQUIRE_PHONE", true),
		ProfileAllowedHosts: splitList(getEnv("PROFILE_ALLOWED_HOSTS", "")),

		PartnerKey:   getEnv("PARTNER_KEY", ""),
		PartnerName:  getEnv("PARTNER_NAME", "test"),
		PartnerLang:  getEnv("PARTNER_LANG", "en"),
		PollInterval: getEnvDuration("POLL_INTERVAL", 2*time.Second),
		PollTimeout:  getEnvDuration("POLL_TIMEOUT", time.Minute),

		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "verification"),

		AWSRegion:                getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL:           getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID:           getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:             getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTableVerifications: getEnv("DYNAMO_TABLE_VERIFICATIONS", "verifications"),
		S3AuditBucket:            getEnv("S3_AUDIT_BUCKET", ""),
		S3AuditPrefix:            strings.Trim(getEnv("S3_AUDIT_PREFIX", "audit"), "/"),
		SNSRegion:                getEnv("SNS_REGION", "us-east-1"),
		SNSOutcomeTopicARN:       getEnv("SNS_OUTCOME_TOPIC_ARN", ""),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 7*24*time.Hour),

		RateLimitRPS:           getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:         getEnvInt("RATE_LIMIT_BURST", 10),
		CallbackRateLimitRPS:   getEnvFloat("CALLBACK_RATE_LIMIT_RPS", 50),
		CallbackRateLimitBurst: getEnvInt("CALLBACK_RATE_LIMIT_BURST", 100),
		AuditLogSize:           getEnvInt("AUDIT_LOG_SIZE", 200),
	}
}

// Validate rejects unknown enum values and non-positive sizes.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory, StoreRedis, StoreDynamo:
	default:
		return fmt.Errorf("STORE_BACKEND: unknown backend %q", c.StoreBackend)
	}
	switch c.StatusReadMode {
	case ReadRepeatable, ReadSingleUse:
	default:
		return fmt.Errorf("STATUS_READ_MODE: unknown mode %q", c.StatusReadMode)
	}
	switch c.DuplicatePolicy {
	case DuplicateOverwrite, DuplicateIgnore:
	default:
		return fmt.Errorf("DUPLICATE_CALLBACK_POLICY: unknown policy %q", c.DuplicatePolicy)
	}
	if c.RecordTTL <= 0 {
		return fmt.Errorf("RECORD_TTL must be positive")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	if c.FetchWorkers < 1 || c.FetchQueueSize < 1 {
		return fmt.Errorf("FETCH_WORKERS and FETCH_QUEUE_SIZE must be at least 1")
	}
	return nil
}

// IsProduction reports whether debug-only endpoints must stay unmounted.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
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

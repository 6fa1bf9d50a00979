package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/push-dispatcher/internal/pkg/validate"
)

const (
	StoreDynamo   = "dynamo"
	StorePostgres = "postgres"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppEnv    string
	AdminPort string `validate:"required,numeric"`
	LogLevel  string `validate:"oneof=debug info warn error"`

	StoreDriver    string `validate:"oneof=dynamo postgres"`
	DatabaseURL    string `validate:"required_if=StoreDriver postgres"`
	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	SNSRegion     string
	SNSPublishRPS float64 `validate:"gte=0"` // 0 disables the publish throttle

	DispatchInterval  time.Duration `validate:"gt=0"`
	DispatchBatchSize int           `validate:"gt=0"`
	RetentionInterval time.Duration `validate:"gt=0"`
	RetentionWindow   time.Duration `validate:"gt=0"`
	RetryBackoffBase  time.Duration `validate:"gte=0"` // 0 keeps retrying on every tick
	RetryBackoffMax   time.Duration `validate:"gte=0"`
	SchedulerEnabled  bool
	RunOnStart        bool

	JWTPublicKeyPath  string
	JWTPrivateKeyPath string // optional, only needed to mint operator tokens
	JWTExpiry         time.Duration
	AllowedOrigins    []string // CORS allowed origins
	TrustProxyHeaders bool     // only behind a proxy that overwrites X-Forwarded-For
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Notifications string `validate:"required"`
	Endpoints     string `validate:"required"`
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		AdminPort:      getEnv("ADMIN_PORT", "8080"),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", StoreDynamo)),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Notifications: getEnv("DYNAMO_TABLE_NOTIFICATIONS", "scheduled_notifications"),
			Endpoints:     getEnv("DYNAMO_TABLE_ENDPOINTS", "delivery_endpoints"),
		},
		SNSRegion:         getEnv("SNS_REGION", "us-east-1"),
		SNSPublishRPS:     getEnvFloat("SNS_PUBLISH_RPS", 0),
		DispatchInterval:  getEnvDuration("DISPATCH_INTERVAL", 5*time.Minute),
		DispatchBatchSize: getEnvInt("DISPATCH_BATCH_SIZE", 50),
		RetentionInterval: getEnvDuration("RETENTION_INTERVAL", 24*time.Hour),
		RetentionWindow:   getEnvDuration("RETENTION_WINDOW", 30*24*time.Hour),
		RetryBackoffBase:  getEnvDuration("RETRY_BACKOFF_BASE", 0),
		RetryBackoffMax:   getEnvDuration("RETRY_BACKOFF_MAX", 24*time.Hour),
		SchedulerEnabled:  getEnvBool("SCHEDULER_ENABLED", true),
		RunOnStart:        getEnvBool("SCHEDULER_RUN_ON_START", false),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", ""),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", time.Hour),
		AllowedOrigins:    strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		TrustProxyHeaders: getEnvBool("TRUST_PROXY_HEADERS", false),
	}
}

// Validate checks the loaded values against their struct tags.
func (c *Config) Validate() error {
	return validate.Struct(c)
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

// getEnvDuration accepts Go duration strings ("5m", "720h").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

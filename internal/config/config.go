package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full runtime configuration, sourced from the environment.
type Config struct {
	Environment string

	Server     ServerConfig
	Redis      RedisConfig
	Scylla     ScyllaConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	OTP        OTPConfig
	Proof      ProofConfig
	Hashing    HashingConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	CertFile     string
	KeyFile      string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	// Topic the outbound SMS gateway consumes verification jobs from.
	SMSTopic string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
}

// OTPConfig governs the challenge lifecycle. Defaults follow the documented
// environment contract: OTP_TTL_MINUTES, OTP_RESEND_COOLDOWN_SECONDS,
// OTP_MAX_ATTEMPTS, OTP_LOCK_MINUTES.
type OTPConfig struct {
	TTL            time.Duration
	ResendCooldown time.Duration
	MaxAttempts    int
	LockDuration   time.Duration
	// CountryCode is prepended by the normalizer to domestic-format input.
	CountryCode string
	// StoreBackend selects the challenge store: "redis" or "scylla".
	StoreBackend string
	// JanitorInterval is the period of the expired-challenge sweep.
	JanitorInterval time.Duration
}

// ProofConfig configures the verification-proof issuer. The secret is
// dedicated to proofs and must not be shared with any session-auth secret.
type ProofConfig struct {
	Secret string
	TTL    time.Duration
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig reads configuration from the environment. A .env file is loaded
// first if present, which is how local development supplies settings.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    splitList(getEnv("SCYLLA_NODES", "localhost:9042")),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "booking"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Enabled:  getEnvBool("KAFKA_ENABLED", false),
			Brokers:  splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			SMSTopic: getEnv("KAFKA_SMS_TOPIC", "sms-verification-jobs"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "booking"),
		},
		OTP: OTPConfig{
			TTL:             time.Duration(getEnvInt("OTP_TTL_MINUTES", 10)) * time.Minute,
			ResendCooldown:  time.Duration(getEnvInt("OTP_RESEND_COOLDOWN_SECONDS", 60)) * time.Second,
			MaxAttempts:     getEnvInt("OTP_MAX_ATTEMPTS", 3),
			LockDuration:    time.Duration(getEnvInt("OTP_LOCK_MINUTES", 15)) * time.Minute,
			CountryCode:     getEnv("OTP_COUNTRY_CODE", "+49"),
			StoreBackend:    getEnv("OTP_STORE_BACKEND", "redis"),
			JanitorInterval: getEnvDuration("OTP_JANITOR_INTERVAL", 10*time.Minute),
		},
		Proof: ProofConfig{
			Secret: getEnv("OTP_VERIFIED_SECRET", ""),
			TTL:    time.Duration(getEnvInt("OTP_PROOF_TTL_MINUTES", 15)) * time.Minute,
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 64*1024),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 1),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 4),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Proof.Secret == "" {
		return fmt.Errorf("OTP_VERIFIED_SECRET is required")
	}
	if c.OTP.StoreBackend != "redis" && c.OTP.StoreBackend != "scylla" {
		return fmt.Errorf("invalid OTP_STORE_BACKEND %q: must be redis or scylla", c.OTP.StoreBackend)
	}
	if c.OTP.MaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1")
	}
	if !strings.HasPrefix(c.OTP.CountryCode, "+") {
		return fmt.Errorf("OTP_COUNTRY_CODE must start with +")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	AppPort       string
	StoreDriver   string
	MigrationsDir string
	LogLevel      string

	DB       DatabaseConfig
	Issuance IssuanceConfig
	Gate     GateConfig
	Audit    AuditConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Breaker  BreakerConfig
	OTel     OTelConfig

	Eligibility EligibilityConfig
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int
}

// DSN returns URL when set, otherwise a DSN built from the parts.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	dsn := fmt.Sprintf(
		"postgresql://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
	if c.MaxConns > 0 {
		dsn += fmt.Sprintf("&pool_max_conns=%d", c.MaxConns)
	}
	return dsn
}

type IssuanceConfig struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	ClaimTimeout time.Duration
	LockTimeout  time.Duration
	NodeID       int64
}

type GateConfig struct {
	MaxConcurrent  int
	MaxQueue       int
	RPS            float64
	Burst          int
	AcquireTimeout time.Duration
	IdleTTL        time.Duration
}

type AuditConfig struct {
	BufferSize   int
	StoreEnabled bool
	KafkaEnabled bool
	KafkaTopic   string
	RedisEnabled bool
	RedisPrefix  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers           []string
	ClientID          string
	GroupID           string
	RetryGroupID      string
	InstanceID        string
	TopicPartitions   int
	RetryPartitions   int
	ReplicationFactor int16
	MinISR            int
	RequestTimeout    time.Duration
	MaxRetryAttempts  int
	RetryDelay        time.Duration
	EventDriven       bool
}

type BreakerConfig struct {
	Enabled          bool
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

type OTelConfig struct {
	Endpoint       string
	ServiceName    string
	Insecure       bool
	SampleRatio    float64
	MetricInterval time.Duration
}

// EligibilityConfig enables the requester registry. When enabled only
// registered requesters may claim. The registry lives in Redis, or in process
// with the memory store driver.
type EligibilityConfig struct {
	RegistryEnabled bool
	RegistryKey     string
}

// Load reads the environment, after loading .env when present.
func Load() *Config {
	_ = godotenv.Load()

	instanceID := os.Getenv("KAFKA_INSTANCE_ID")
	if instanceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			instanceID = "unknown"
		} else {
			instanceID = hostname
		}
	}

	return &Config{
		AppPort:       getEnv("APP_PORT", "8080"),
		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "db/migrations"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		DB: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "coupondb"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 0),
		},
		Issuance: IssuanceConfig{
			MaxAttempts:  getEnvInt("ISSUANCE_MAX_ATTEMPTS", 5),
			BackoffBase:  getEnvDuration("ISSUANCE_BACKOFF_BASE", 5*time.Millisecond),
			BackoffMax:   getEnvDuration("ISSUANCE_BACKOFF_MAX", 200*time.Millisecond),
			ClaimTimeout: getEnvDuration("ISSUANCE_CLAIM_TIMEOUT", 3*time.Second),
			LockTimeout:  getEnvDuration("ISSUANCE_LOCK_TIMEOUT", time.Second),
			NodeID:       int64(getEnvInt("ISSUANCE_NODE_ID", 1)),
		},
		Gate: GateConfig{
			MaxConcurrent:  getEnvInt("GATE_MAX_CONCURRENT", 32),
			MaxQueue:       getEnvInt("GATE_MAX_QUEUE", 256),
			RPS:            getEnvFloat("GATE_RPS", 0),
			Burst:          getEnvInt("GATE_BURST", 0),
			AcquireTimeout: getEnvDuration("GATE_ACQUIRE_TIMEOUT", time.Second),
			IdleTTL:        getEnvDuration("GATE_IDLE_TTL", 10*time.Minute),
		},
		Audit: AuditConfig{
			BufferSize:   getEnvInt("AUDIT_BUFFER_SIZE", 4096),
			StoreEnabled: getEnvBool("AUDIT_STORE_ENABLED", true),
			KafkaEnabled: getEnvBool("AUDIT_KAFKA_ENABLED", false),
			KafkaTopic:   getEnv("AUDIT_KAFKA_TOPIC", "coupon.audit"),
			RedisEnabled: getEnvBool("AUDIT_REDIS_ENABLED", false),
			RedisPrefix:  getEnv("AUDIT_REDIS_PREFIX", "coupon:audit"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:           splitTrim(getEnv("KAFKA_BROKERS", "kafka:9092"), ","),
			ClientID:          getEnv("KAFKA_CLIENT_ID", "coupon-service"),
			GroupID:           getEnv("KAFKA_GROUP_ID", "coupon-consumers"),
			RetryGroupID:      getEnv("KAFKA_RETRY_GROUP_ID", "coupon-retry"),
			InstanceID:        instanceID,
			TopicPartitions:   positive(getEnvInt("KAFKA_TOPIC_PARTITIONS", 3), 3),
			RetryPartitions:   positive(getEnvInt("KAFKA_RETRY_PARTITIONS", 1), 1),
			ReplicationFactor: int16(positive(getEnvInt("KAFKA_REPLICATION_FACTOR", 1), 1)),
			MinISR:            positive(getEnvInt("KAFKA_MIN_ISR", 1), 1),
			RequestTimeout:    getEnvDuration("KAFKA_REQUEST_TIMEOUT", 5*time.Second),
			MaxRetryAttempts:  getEnvInt("KAFKA_MAX_RETRY_ATTEMPTS", 3),
			RetryDelay:        getEnvDuration("KAFKA_RETRY_DELAY", 500*time.Millisecond),
			EventDriven:       getEnvBool("EVENT_DRIVEN_ENABLED", false),
		},
		Breaker: BreakerConfig{
			Enabled:          getEnvBool("BREAKER_ENABLED", true),
			FailureThreshold: uint32(positive(getEnvInt("BREAKER_FAILURE_THRESHOLD", 5), 5)),
			OpenTimeout:      getEnvDuration("BREAKER_OPEN_TIMEOUT", 10*time.Second),
			HalfOpenRequests: uint32(positive(getEnvInt("BREAKER_HALF_OPEN_REQUESTS", 1), 1)),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "coupon-issuance"),
			Insecure:       getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:    getEnvFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
			MetricInterval: getEnvDuration("OTEL_METRIC_EXPORT_INTERVAL", 15*time.Second),
		},
		Eligibility: EligibilityConfig{
			RegistryEnabled: getEnvBool("ELIGIBILITY_REGISTRY_ENABLED", false),
			RegistryKey:     getEnv("ELIGIBILITY_REGISTRY_KEY", "coupon:requesters"),
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver))
	}
	if c.Issuance.MaxAttempts < 1 {
		errs = append(errs, errors.New("ISSUANCE_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Issuance.NodeID < 0 || c.Issuance.NodeID > 1023 {
		errs = append(errs, fmt.Errorf("ISSUANCE_NODE_ID must be within [0, 1023], got %d", c.Issuance.NodeID))
	}
	if c.Gate.MaxConcurrent < 0 || c.Gate.MaxQueue < 0 {
		errs = append(errs, errors.New("GATE_MAX_CONCURRENT and GATE_MAX_QUEUE must not be negative"))
	}
	if c.Gate.RPS < 0 {
		errs = append(errs, errors.New("GATE_RPS must not be negative"))
	}
	if (c.Kafka.EventDriven || c.Audit.KafkaEnabled) && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when Kafka is enabled"))
	}
	if c.Audit.RedisEnabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when AUDIT_REDIS_ENABLED=true"))
	}
	if c.Eligibility.RegistryEnabled {
		if c.StoreDriver != StoreDriverMemory && c.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when ELIGIBILITY_REGISTRY_ENABLED=true"))
		}
		if c.Eligibility.RegistryKey == "" {
			errs = append(errs, errors.New("ELIGIBILITY_REGISTRY_KEY must not be empty"))
		}
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

func positive(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func splitTrim(s, sep string) []string {
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

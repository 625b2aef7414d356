package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"APP_PORT", "STORE_DRIVER", "ISSUANCE_MAX_ATTEMPTS", "ISSUANCE_CLAIM_TIMEOUT", "KAFKA_BROKERS", "EVENT_DRIVEN_ENABLED", "ELIGIBILITY_REGISTRY_ENABLED", "ELIGIBILITY_REGISTRY_KEY"} {
		t.Setenv(key, "")
	}
	t.Setenv("KAFKA_INSTANCE_ID", "node-a")

	cfg := Load()

	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 5, cfg.Issuance.MaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.Issuance.ClaimTimeout)
	assert.Equal(t, "node-a", cfg.Kafka.InstanceID)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Kafka.EventDriven)
	assert.False(t, cfg.Eligibility.RegistryEnabled)
	assert.Equal(t, "coupon:requesters", cfg.Eligibility.RegistryKey)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("GATE_MAX_CONCURRENT", "4")
	t.Setenv("GATE_RPS", "12.5")
	t.Setenv("GATE_ACQUIRE_TIMEOUT", "250ms")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,,")
	t.Setenv("KAFKA_TOPIC_PARTITIONS", "-2")
	t.Setenv("EVENT_DRIVEN_ENABLED", "true")
	t.Setenv("AUDIT_REDIS_ENABLED", "yes-please")

	cfg := Load()

	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, 4, cfg.Gate.MaxConcurrent)
	assert.Equal(t, 12.5, cfg.Gate.RPS)
	assert.Equal(t, 250*time.Millisecond, cfg.Gate.AcquireTimeout)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Kafka.TopicPartitions)
	assert.True(t, cfg.Kafka.EventDriven)
	assert.False(t, cfg.Audit.RedisEnabled, "unparseable bool falls back to default")
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.StoreDriver = "sqlite"
	cfg.Issuance.MaxAttempts = 0
	cfg.Issuance.NodeID = 4096
	cfg.Kafka.EventDriven = true
	cfg.Kafka.Brokers = nil

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER")
	assert.Contains(t, err.Error(), "ISSUANCE_MAX_ATTEMPTS")
	assert.Contains(t, err.Error(), "ISSUANCE_NODE_ID")
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}

func TestValidate_EligibilityRegistryNeedsRedis(t *testing.T) {
	cfg := Load()
	cfg.StoreDriver = StoreDriverPostgres
	cfg.Eligibility.RegistryEnabled = true
	cfg.Redis.Addr = ""
	cfg.Eligibility.RegistryKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ELIGIBILITY_REGISTRY_ENABLED")
	assert.Contains(t, err.Error(), "ELIGIBILITY_REGISTRY_KEY")
}

func TestDatabaseDSN(t *testing.T) {
	db := DatabaseConfig{Host: "h", Port: "5432", User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "postgresql://u:p@h:5432/n?sslmode=disable", db.DSN())

	db.MaxConns = 20
	assert.Equal(t, "postgresql://u:p@h:5432/n?sslmode=disable&pool_max_conns=20", db.DSN())

	db.URL = "postgres://override"
	assert.Equal(t, "postgres://override", db.DSN())
}

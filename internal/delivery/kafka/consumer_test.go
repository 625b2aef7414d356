package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/azizikri/coupon-issuance/internal/config"
	"github.com/azizikri/coupon-issuance/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

func newTestConsumer(maxAttempts int, delay time.Duration) *Consumer {
	cfg := config.KafkaConfig{MaxRetryAttempts: maxAttempts, RetryDelay: delay}
	return NewConsumer(cfg, nil, nil, zap.NewNop())
}

func TestShouldRetry(t *testing.T) {
	c := newTestConsumer(3, time.Second)

	tests := []struct {
		name    string
		attempt int
		err     error
		want    bool
	}{
		{"contention first attempt", 0, domain.ErrContentionExhausted, true},
		{"overload wrapped", 1, fmt.Errorf("%w: lane full", domain.ErrOverload), true},
		{"budget spent", 2, domain.ErrContentionExhausted, false},
		{"timeout not retried", 0, domain.ErrTimeout, false},
		{"invalid state not retried", 0, domain.ErrInvalidState, false},
		{"unknown error", 0, errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.shouldRetry(RequestPayload{Attempt: tt.attempt}, tt.err))
		})
	}
}

func TestBackoffFor(t *testing.T) {
	c := newTestConsumer(10, 100*time.Millisecond)

	assert.Equal(t, 100*time.Millisecond, c.backoffFor(0))
	assert.Equal(t, 200*time.Millisecond, c.backoffFor(1))
	assert.Equal(t, 800*time.Millisecond, c.backoffFor(3))

	capped := c.backoffFor(40)
	assert.GreaterOrEqual(t, capped, time.Minute)
	assert.Less(t, capped, 2*time.Minute+time.Second)
}

func TestRetryRecord(t *testing.T) {
	nextAt := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	src := &kgo.Record{Topic: TopicClaimRequest, Key: []byte("camp")}
	req := RequestPayload{CorrelationID: "c-1", ReplyTo: "r", CampaignID: "camp", RequesterID: "u1", Attempt: 1}

	rec, err := retryRecord(src, req, nextAt)
	require.NoError(t, err)

	assert.Equal(t, TopicClaimRetry, rec.Topic)
	assert.Equal(t, []byte("camp"), rec.Key)

	var decoded RequestPayload
	require.NoError(t, json.Unmarshal(rec.Value, &decoded))
	assert.Equal(t, 2, decoded.Attempt)
	assert.Equal(t, 1, req.Attempt, "caller's payload is not mutated")

	got, ok := retryNextAt(rec)
	require.True(t, ok)
	assert.True(t, got.Equal(nextAt))

	var attempt string
	for _, h := range rec.Headers {
		if h.Key == RetryHeaderAttempt {
			attempt = string(h.Value)
		}
	}
	assert.Equal(t, "2", attempt)
}

func TestRetryNextAt(t *testing.T) {
	_, ok := retryNextAt(&kgo.Record{})
	assert.False(t, ok)

	_, ok = retryNextAt(&kgo.Record{Headers: []kgo.RecordHeader{{Key: RetryHeaderNextAt, Value: []byte("yesterday")}}})
	assert.False(t, ok)
}

func TestTopics(t *testing.T) {
	topics := Topics(config.KafkaConfig{InstanceID: "node-a"}, "coupon.audit")

	assert.Equal(t, []string{
		"coupon.claim.req",
		"coupon.claim.retry",
		"coupon.claim.req.dlq",
		"coupon.reply.node-a",
		"coupon.audit",
	}, topics)
}

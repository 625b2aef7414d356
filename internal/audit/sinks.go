package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/azizikri/coupon-issuance/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

const DefaultTopic = "coupon.audit"

type EntryWriter interface {
	InsertAuditEntry(ctx context.Context, entry domain.AuditEntry) error
}

// StoreSink persists entries in the audit_log table.
type StoreSink struct {
	store EntryWriter
}

func NewStoreSink(store EntryWriter) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Write(ctx context.Context, entry domain.AuditEntry) error {
	return s.store.InsertAuditEntry(ctx, entry)
}

// KafkaSink publishes entries keyed by campaign so one campaign's history
// stays ordered within a partition.
type KafkaSink struct {
	client *kgo.Client
	topic  string
	logger *zap.Logger
}

func NewKafkaSink(client *kgo.Client, topic string, logger *zap.Logger) *KafkaSink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaSink{client: client, topic: topic, logger: logger}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, entry domain.AuditEntry) error {
	rec, err := auditRecord(s.topic, entry)
	if err != nil {
		return err
	}
	// the dispatcher cancels ctx as soon as Write returns
	s.client.Produce(context.WithoutCancel(ctx), rec, func(r *kgo.Record, err error) {
		if err != nil {
			s.logger.Error("failed to publish audit entry",
				zap.String("topic", r.Topic),
				zap.String("audit_id", entry.ID),
				zap.Error(err),
			)
		}
	})
	return nil
}

func auditRecord(topic string, entry domain.AuditEntry) (*kgo.Record, error) {
	body, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal audit entry: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(entry.CampaignID),
		Value: body,
		Headers: []kgo.RecordHeader{
			{Key: "outcome", Value: []byte(entry.Outcome)},
		},
	}, nil
}

// RedisSink keeps running outcome counters per campaign in Redis hashes.
type RedisSink struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisSink(rdb redis.Cmdable, prefix string) *RedisSink {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "coupon:audit"
	}
	return &RedisSink{rdb: rdb, prefix: prefix}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Write(ctx context.Context, entry domain.AuditEntry) error {
	campaignKey, totalKey, field := s.counterKeys(entry)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, campaignKey, field, 1)
	pipe.HIncrBy(ctx, totalKey, field, 1)
	_, err := pipe.Exec(ctx)
	return err
}

// counts returns the outcome counters for one campaign.
func (s *RedisSink) counts(ctx context.Context, campaignID string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, s.prefix+":campaign:"+campaignID).Result()
}

func (s *RedisSink) counterKeys(entry domain.AuditEntry) (campaignKey, totalKey, field string) {
	field = string(entry.Outcome)
	if entry.Error != "" {
		field += ":" + entry.Error
	}
	return s.prefix + ":campaign:" + entry.CampaignID, s.prefix + ":total", field
}

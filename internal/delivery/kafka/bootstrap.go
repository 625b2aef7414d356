package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/azizikri/coupon-issuance/internal/config"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Topics lists every topic this instance produces to or consumes from.
func Topics(cfg config.KafkaConfig, extra ...string) []string {
	topics := []string{
		TopicClaimRequest,
		TopicClaimRetry,
		TopicClaimRequest + TopicDLQSuffix,
		ReplyTopic(cfg.InstanceID),
	}
	return append(topics, extra...)
}

func EnsureTopics(ctx context.Context, client *kgo.Client, cfg config.KafkaConfig, logger *zap.Logger, extra ...string) error {
	adm := kadm.NewClient(client)

	configs := map[string]*string{}
	if cfg.MinISR > 0 {
		minISR := strconv.Itoa(cfg.MinISR)
		configs["min.insync.replicas"] = &minISR
	}

	for _, topic := range Topics(cfg, extra...) {
		p := cfg.TopicPartitions
		if strings.HasSuffix(topic, TopicRetrySuffix) || strings.HasSuffix(topic, TopicDLQSuffix) {
			p = cfg.RetryPartitions
		}

		resp, err := adm.CreateTopics(ctx, int32(p), cfg.ReplicationFactor, configs, topic)
		if err != nil {
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		}
		for _, detail := range resp {
			if detail.Err != nil && !errors.Is(detail.Err, kerr.TopicAlreadyExists) {
				return fmt.Errorf("failed to create topic %s: %w", detail.Topic, detail.Err)
			}
		}
	}

	logger.Info("kafka topics ensured", zap.Strings("topics", Topics(cfg, extra...)))
	return nil
}

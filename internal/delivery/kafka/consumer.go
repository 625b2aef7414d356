package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/azizikri/coupon-issuance/internal/config"
	"github.com/azizikri/coupon-issuance/internal/domain"
	"github.com/azizikri/coupon-issuance/internal/usecase"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// recordProducer is the producing half of *kgo.Client.
type recordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type Consumer struct {
	client      *kgo.Client
	producer    recordProducer
	issuer      usecase.ClaimIssuer
	logger      *zap.Logger
	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time
	ready       chan struct{}
}

func NewConsumer(cfg config.KafkaConfig, client *kgo.Client, issuer usecase.ClaimIssuer, logger *zap.Logger) *Consumer {
	return &Consumer{
		client:      client,
		producer:    client,
		issuer:      issuer,
		logger:      logger,
		maxAttempts: cfg.MaxRetryAttempts,
		retryDelay:  cfg.RetryDelay,
		now:         time.Now,
		ready:       make(chan struct{}),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	close(c.ready)
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			c.logger.Warn("consumer poll errors", zap.Any("errors", errs))
		}

		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()
			if record.Topic == TopicClaimRequest {
				c.handleClaim(ctx, record)
			}
		}

		if err := c.client.CommitRecords(ctx, fetches.Records()...); err != nil {
			c.logger.Error("failed to commit records", zap.Error(err))
		}
	}
}

// StartRetry moves records from the retry topic back to the request topic
// once their x-next-at time has passed.
func (c *Consumer) StartRetry(ctx context.Context) {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()

			if nextAt, ok := retryNextAt(record); ok {
				if wait := nextAt.Sub(c.now()); wait > 0 {
					timer := time.NewTimer(wait)
					select {
					case <-ctx.Done():
						timer.Stop()
						return
					case <-timer.C:
					}
				}
			}

			mainTopic := strings.TrimSuffix(record.Topic, TopicRetrySuffix) + TopicRequestSuffix
			newRecord := &kgo.Record{
				Topic:   mainTopic,
				Key:     record.Key,
				Value:   record.Value,
				Headers: record.Headers,
			}
			if err := c.producer.ProduceSync(ctx, newRecord).FirstErr(); err != nil {
				c.logger.Error("failed to requeue retry record", zap.String("topic", mainTopic), zap.Error(err))
			}
		}
		if err := c.client.CommitRecords(ctx, fetches.Records()...); err != nil {
			c.logger.Error("failed to commit retry records", zap.Error(err))
		}
	}
}

func (c *Consumer) Ready() <-chan struct{} {
	return c.ready
}

func (c *Consumer) handleClaim(ctx context.Context, record *kgo.Record) {
	req, err := decodeRequest(record.Value)
	if err != nil {
		c.sendError(ctx, record, req, ErrCodeInvalidRequest, err.Error())
		return
	}

	if deadline, ok := req.deadline(); ok {
		if !c.now().Before(deadline) {
			c.logger.Debug("dropping expired claim request", zap.String("correlation_id", req.CorrelationID))
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	res, err := c.issuer.TryIssue(ctx, req.CampaignID, req.RequesterID)
	if err != nil && c.shouldRetry(req, err) {
		retryErr := c.scheduleRetry(ctx, record, req)
		if retryErr == nil {
			return
		}
		c.logger.Error("failed to schedule retry", zap.String("correlation_id", req.CorrelationID), zap.Error(retryErr))
	}

	if err != nil {
		c.sendResponse(ctx, req.ReplyTo, errorResponse(req.CorrelationID, domain.ErrorCode(err), err.Error()))
		return
	}
	c.sendResponse(ctx, req.ReplyTo, successResponse(req.CorrelationID, res))
}

// shouldRetry only re-queues failures that a later attempt can resolve and
// that still have attempts left.
func (c *Consumer) shouldRetry(req RequestPayload, err error) bool {
	if !errors.Is(err, domain.ErrContentionExhausted) && !errors.Is(err, domain.ErrOverload) {
		return false
	}
	return req.Attempt+1 < c.maxAttempts
}

func (c *Consumer) scheduleRetry(ctx context.Context, record *kgo.Record, req RequestPayload) error {
	rec, err := retryRecord(record, req, c.now().Add(c.backoffFor(req.Attempt)))
	if err != nil {
		return err
	}
	return c.producer.ProduceSync(ctx, rec).FirstErr()
}

func (c *Consumer) backoffFor(attempt int) time.Duration {
	d := c.retryDelay
	for i := 0; i < attempt && d < time.Minute; i++ {
		d *= 2
	}
	return d
}

func retryRecord(record *kgo.Record, req RequestPayload, nextAt time.Time) (*kgo.Record, error) {
	req.Attempt++
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: strings.TrimSuffix(record.Topic, TopicRequestSuffix) + TopicRetrySuffix,
		Key:   record.Key,
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: RetryHeaderNextAt, Value: []byte(nextAt.UTC().Format(time.RFC3339Nano))},
			{Key: RetryHeaderAttempt, Value: []byte(strconv.Itoa(req.Attempt))},
		},
	}, nil
}

func decodeRequest(value []byte) (RequestPayload, error) {
	var req RequestPayload
	if err := json.Unmarshal(value, &req); err != nil {
		return RequestPayload{}, err
	}
	if err := req.validate(); err != nil {
		return req, err
	}
	return req, nil
}

func (c *Consumer) sendResponse(ctx context.Context, topic string, resp *ResponsePayload) {
	payload, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("failed to encode response", zap.Error(err))
		return
	}
	record := &kgo.Record{
		Topic: topic,
		Value: payload,
	}
	// the request deadline may already be spent; the reply still goes out
	if err := c.producer.ProduceSync(context.WithoutCancel(ctx), record).FirstErr(); err != nil {
		c.logger.Error("failed to send response", zap.String("topic", topic), zap.Error(err))
	}
}

func (c *Consumer) sendError(ctx context.Context, record *kgo.Record, req RequestPayload, code, message string) {
	if req.ReplyTo != "" && req.CorrelationID != "" {
		c.sendResponse(ctx, req.ReplyTo, errorResponse(req.CorrelationID, code, message))
	}

	dlqRecord := &kgo.Record{
		Topic: record.Topic + TopicDLQSuffix,
		Key:   record.Key,
		Value: record.Value,
		Headers: []kgo.RecordHeader{
			{Key: ErrorHeaderKey, Value: []byte(message)},
		},
	}
	if err := c.producer.ProduceSync(ctx, dlqRecord).FirstErr(); err != nil {
		c.logger.Error("failed to publish to dlq", zap.String("topic", dlqRecord.Topic), zap.Error(err))
	}
}

func retryNextAt(record *kgo.Record) (time.Time, bool) {
	for _, header := range record.Headers {
		if header.Key != RetryHeaderNextAt {
			continue
		}
		nextAt, err := time.Parse(time.RFC3339Nano, string(header.Value))
		if err != nil {
			return time.Time{}, false
		}
		return nextAt, true
	}

	return time.Time{}, false
}

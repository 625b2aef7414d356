package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/azizikri/coupon-issuance/internal/config"
	"github.com/azizikri/coupon-issuance/internal/domain"
	"github.com/azizikri/coupon-issuance/internal/usecase"
	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Gateway turns TryIssue into a request on coupon.claim.req and waits for
// the matching reply on this instance's reply topic.
type Gateway struct {
	client      *kgo.Client
	replyTopic  string
	timeout     time.Duration
	logger      *zap.Logger
	pendingResp sync.Map
}

func NewGateway(cfg config.KafkaConfig, client *kgo.Client, logger *zap.Logger) *Gateway {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gateway{
		client:     client,
		replyTopic: ReplyTopic(cfg.InstanceID),
		timeout:    timeout,
		logger:     logger,
	}
}

func ReplyTopic(instanceID string) string {
	return fmt.Sprintf("%s%s", TopicReplyPrefix, instanceID)
}

func (g *Gateway) TryIssue(ctx context.Context, campaignID, requesterID string) (domain.IssuanceResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	deadline, _ := ctx.Deadline()
	req := RequestPayload{
		SchemaVersion:  SchemaVersion,
		CorrelationID:  uuid.NewString(),
		ReplyTo:        g.replyTopic,
		CampaignID:     campaignID,
		RequesterID:    requesterID,
		DeadlineUnixMs: deadline.UnixMilli(),
	}

	// keyed by campaign so one campaign's claims share a partition
	resp, err := g.requestReply(ctx, TopicClaimRequest, []byte(campaignID), req)
	if err != nil {
		return domain.IssuanceResult{}, err
	}
	if resp.Status == StatusError {
		return domain.IssuanceResult{}, mapError(resp.ErrorCode, resp.ErrorMessage)
	}
	if resp.Result == nil {
		return domain.IssuanceResult{}, fmt.Errorf("reply %s carried no result", resp.CorrelationID)
	}
	return *resp.Result, nil
}

func (g *Gateway) requestReply(ctx context.Context, topic string, key []byte, req RequestPayload) (*ResponsePayload, error) {
	respChan := make(chan *ResponsePayload, 1)
	g.pendingResp.Store(req.CorrelationID, respChan)
	defer g.pendingResp.Delete(req.CorrelationID)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: payload,
	}

	if err := g.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: producing claim request: %v", domain.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: producing claim request: %v", domain.ErrUnavailable, err)
	}

	select {
	case resp := <-respChan:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: no reply for %s: %v", domain.ErrTimeout, req.CorrelationID, ctx.Err())
	}
}

// HandleResponse delivers a reply to the waiting TryIssue call, if any.
func (g *Gateway) HandleResponse(payload []byte) {
	var resp ResponsePayload
	if err := json.Unmarshal(payload, &resp); err != nil {
		g.logger.Warn("failed to decode response payload", zap.Error(err))
		return
	}

	if ch, ok := g.pendingResp.Load(resp.CorrelationID); ok {
		select {
		case ch.(chan *ResponsePayload) <- &resp:
		default:
			g.logger.Warn("duplicate reply dropped", zap.String("correlation_id", resp.CorrelationID))
		}
		return
	}

	g.logger.Debug("no pending response", zap.String("correlation_id", resp.CorrelationID))
}

// StartReplyPoller feeds records from the reply topic into HandleResponse
// until the client is closed.
func (g *Gateway) StartReplyPoller(ctx context.Context, client *kgo.Client) {
	go func() {
		for {
			fetches := client.PollFetches(ctx)
			if fetches.IsClientClosed() || ctx.Err() != nil {
				return
			}
			iter := fetches.RecordIter()
			for !iter.Done() {
				g.HandleResponse(iter.Next().Value)
			}
		}
	}()
}

// mapError rebuilds a domain error from a reply's error code so that callers
// can keep using errors.Is across the transport.
func mapError(code, message string) error {
	if err := domain.ErrorFromCode(code); err != nil {
		if message == "" || message == err.Error() {
			return err
		}
		return fmt.Errorf("%w: %s", err, message)
	}
	if code == ErrCodeInvalidRequest {
		return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, message)
	}
	return errors.New(message)
}

var _ usecase.ClaimIssuer = (*Gateway)(nil)

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/azizikri/coupon-issuance/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type recordingProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	err     error
}

func (p *recordingProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.mu.Lock()
	defer p.mu.Unlock()
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		p.records = append(p.records, r)
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

func (p *recordingProducer) on(topic string) []*kgo.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*kgo.Record
	for _, r := range p.records {
		if r.Topic == topic {
			out = append(out, r)
		}
	}
	return out
}

func (p *recordingProducer) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

type fakeIssuer struct {
	mu          sync.Mutex
	calls       int
	hadDeadline bool
	res         domain.IssuanceResult
	err         error
}

func (f *fakeIssuer) TryIssue(ctx context.Context, campaignID, requesterID string) (domain.IssuanceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	_, f.hadDeadline = ctx.Deadline()
	if f.err != nil {
		return domain.IssuanceResult{}, f.err
	}
	res := f.res
	res.CampaignID, res.RequesterID = campaignID, requesterID
	return res, nil
}

const testReplyTopic = "coupon.reply.node-a"

func newHandlingConsumer(issuer *fakeIssuer, maxAttempts int) (*Consumer, *recordingProducer) {
	c := newTestConsumer(maxAttempts, 100*time.Millisecond)
	p := &recordingProducer{}
	c.producer = p
	c.issuer = issuer
	return c, p
}

func claimRecord(t *testing.T, req RequestPayload) *kgo.Record {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return &kgo.Record{Topic: TopicClaimRequest, Key: []byte(req.CampaignID), Value: body}
}

func validRequest() RequestPayload {
	return RequestPayload{
		SchemaVersion: SchemaVersion,
		CorrelationID: "corr-1",
		ReplyTo:       testReplyTopic,
		CampaignID:    "c1",
		RequesterID:   "u1",
	}
}

func decodeReply(t *testing.T, rec *kgo.Record) ResponsePayload {
	t.Helper()
	var resp ResponsePayload
	require.NoError(t, json.Unmarshal(rec.Value, &resp))
	return resp
}

func header(rec *kgo.Record, key string) string {
	for _, h := range rec.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestHandleClaim_RepliesWithResult(t *testing.T) {
	issuer := &fakeIssuer{res: domain.IssuanceResult{Outcome: domain.OutcomeIssued, Code: "C1-xyz", Remaining: 4}}
	c, p := newHandlingConsumer(issuer, 3)

	c.handleClaim(context.Background(), claimRecord(t, validRequest()))

	replies := p.on(testReplyTopic)
	require.Len(t, replies, 1)
	resp := decodeReply(t, replies[0])
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, "corr-1", resp.CorrelationID)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "C1-xyz", resp.Result.Code)
	assert.Equal(t, 1, p.total())
}

func TestHandleClaim_UndecodablePayloadGoesToDLQ(t *testing.T) {
	issuer := &fakeIssuer{}
	c, p := newHandlingConsumer(issuer, 3)

	c.handleClaim(context.Background(), &kgo.Record{Topic: TopicClaimRequest, Key: []byte("k"), Value: []byte("{not json")})

	dlq := p.on(TopicClaimRequest + TopicDLQSuffix)
	require.Len(t, dlq, 1)
	assert.Equal(t, []byte("{not json"), dlq[0].Value)
	assert.NotEmpty(t, header(dlq[0], ErrorHeaderKey))
	assert.Equal(t, 1, p.total(), "no reply address to answer")
	assert.Zero(t, issuer.calls)
}

func TestHandleClaim_InvalidPayloadRepliesAndGoesToDLQ(t *testing.T) {
	issuer := &fakeIssuer{}
	c, p := newHandlingConsumer(issuer, 3)
	req := validRequest()
	req.CampaignID = ""

	c.handleClaim(context.Background(), claimRecord(t, req))

	replies := p.on(testReplyTopic)
	require.Len(t, replies, 1)
	resp := decodeReply(t, replies[0])
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, ErrCodeInvalidRequest, resp.ErrorCode)
	assert.Len(t, p.on(TopicClaimRequest+TopicDLQSuffix), 1)
	assert.Zero(t, issuer.calls)
}

func TestHandleClaim_ExpiredDeadlineIsDropped(t *testing.T) {
	issuer := &fakeIssuer{}
	c, p := newHandlingConsumer(issuer, 3)
	req := validRequest()
	req.DeadlineUnixMs = time.Now().Add(-time.Second).UnixMilli()

	c.handleClaim(context.Background(), claimRecord(t, req))

	assert.Zero(t, issuer.calls)
	assert.Zero(t, p.total())
}

func TestHandleClaim_DeadlineBoundsIssuer(t *testing.T) {
	issuer := &fakeIssuer{res: domain.IssuanceResult{Outcome: domain.OutcomeRejectedExhausted}}
	c, p := newHandlingConsumer(issuer, 3)
	req := validRequest()
	req.DeadlineUnixMs = time.Now().Add(time.Minute).UnixMilli()

	c.handleClaim(context.Background(), claimRecord(t, req))

	assert.True(t, issuer.hadDeadline)
	require.Len(t, p.on(testReplyTopic), 1)
}

func TestHandleClaim_RetryableIsRequeuedWithoutReply(t *testing.T) {
	issuer := &fakeIssuer{err: domain.ErrContentionExhausted}
	c, p := newHandlingConsumer(issuer, 3)

	c.handleClaim(context.Background(), claimRecord(t, validRequest()))

	retries := p.on(TopicClaimRetry)
	require.Len(t, retries, 1)
	assert.Equal(t, "1", header(retries[0], RetryHeaderAttempt))
	_, ok := retryNextAt(retries[0])
	assert.True(t, ok)
	assert.Empty(t, p.on(testReplyTopic))
}

func TestHandleClaim_SpentAttemptsReplyWithError(t *testing.T) {
	issuer := &fakeIssuer{err: domain.ErrOverload}
	c, p := newHandlingConsumer(issuer, 3)
	req := validRequest()
	req.Attempt = 2

	c.handleClaim(context.Background(), claimRecord(t, req))

	assert.Empty(t, p.on(TopicClaimRetry))
	replies := p.on(testReplyTopic)
	require.Len(t, replies, 1)
	resp := decodeReply(t, replies[0])
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, domain.CodeOverload, resp.ErrorCode)
}

func TestHandleClaim_PermanentErrorRepliesOnce(t *testing.T) {
	issuer := &fakeIssuer{err: domain.ErrIneligible}
	c, p := newHandlingConsumer(issuer, 3)

	c.handleClaim(context.Background(), claimRecord(t, validRequest()))

	assert.Empty(t, p.on(TopicClaimRetry))
	replies := p.on(testReplyTopic)
	require.Len(t, replies, 1)
	assert.Equal(t, domain.CodeIneligible, decodeReply(t, replies[0]).ErrorCode)
	assert.Equal(t, 1, issuer.calls)
}

func TestHandleClaim_FailedRequeueFallsBackToReply(t *testing.T) {
	issuer := &fakeIssuer{err: domain.ErrContentionExhausted}
	c, p := newHandlingConsumer(issuer, 3)
	p.err = errors.New("broker unreachable")

	c.handleClaim(context.Background(), claimRecord(t, validRequest()))

	assert.Len(t, p.on(TopicClaimRetry), 1)
	replies := p.on(testReplyTopic)
	require.Len(t, replies, 1)
	assert.Equal(t, domain.CodeContentionExhausted, decodeReply(t, replies[0]).ErrorCode)
}

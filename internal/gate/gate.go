// Package gate bounds how much claim work a single campaign may put on the
// coordinator at once.
package gate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/azizikri/coupon-issuance/internal/domain"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

type Issuer interface {
	TryIssue(ctx context.Context, campaignID, requesterID string) (domain.IssuanceResult, error)
}

type Auditor interface {
	Append(entry domain.AuditEntry)
}

type Config struct {
	// MaxConcurrent is the number of in-flight claims per campaign. Zero
	// disables the gate.
	MaxConcurrent int
	// MaxQueue is how many callers may wait for a slot per campaign.
	MaxQueue int
	// RPS and Burst configure an optional token bucket per campaign.
	RPS            float64
	Burst          int
	AcquireTimeout time.Duration
	IdleTTL        time.Duration
}

type lane struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	// users counts callers between lane() and their return; it is raised
	// under Gate.mu so Cleanup never drops a lane someone is about to use.
	users    atomic.Int64
	waiting  atomic.Int64
	lastSeen time.Time
}

func (l *lane) idle() bool {
	return l.users.Load() == 0
}

type Gate struct {
	next   Issuer
	audit  Auditor
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	lanes map[string]*lane

	meterProvider metric.MeterProvider
	rejected      metric.Int64Counter
}

type Option func(*Gate)

// WithAuditor records gate rejections, which never reach the coordinator.
func WithAuditor(a Auditor) Option {
	return func(g *Gate) { g.audit = a }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(g *Gate) { g.meterProvider = mp }
}

func New(next Issuer, cfg Config, logger *zap.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	g := &Gate{
		next:   next,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		lanes:  make(map[string]*lane),

		meterProvider: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(g)
	}

	rejected, err := g.meterProvider.Meter("github.com/azizikri/coupon-issuance/internal/gate").
		Int64Counter("coupon.gate.rejected", metric.WithDescription("claims refused at admission"))
	if err != nil {
		logger.Warn("failed to create gate counter", zap.Error(err))
	}
	g.rejected = rejected
	return g
}

func (g *Gate) lane(campaignID string) *lane {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.lanes[campaignID]
	if !ok {
		l = &lane{sem: semaphore.NewWeighted(int64(g.cfg.MaxConcurrent))}
		if g.cfg.RPS > 0 {
			burst := g.cfg.Burst
			if burst <= 0 {
				burst = 1
			}
			l.limiter = rate.NewLimiter(rate.Limit(g.cfg.RPS), burst)
		}
		g.lanes[campaignID] = l
	}
	l.lastSeen = g.now()
	l.users.Add(1)
	return l
}

// TryIssue admits the call or refuses it with domain.ErrOverload, or with
// domain.ErrTimeout when the caller's own deadline expires while queued.
func (g *Gate) TryIssue(ctx context.Context, campaignID, requesterID string) (domain.IssuanceResult, error) {
	if g.cfg.MaxConcurrent <= 0 {
		return g.next.TryIssue(ctx, campaignID, requesterID)
	}

	l := g.lane(campaignID)
	defer l.users.Add(-1)

	if err := g.admit(ctx, l); err != nil {
		g.reject(ctx, campaignID, requesterID, err)
		return domain.IssuanceResult{}, err
	}
	defer l.sem.Release(1)
	return g.next.TryIssue(ctx, campaignID, requesterID)
}

func (g *Gate) admit(ctx context.Context, l *lane) error {
	if l.limiter != nil && !l.limiter.Allow() {
		return fmt.Errorf("%w: rate ceiling %.1f/s reached", domain.ErrOverload, g.cfg.RPS)
	}
	if l.sem.TryAcquire(1) {
		return nil
	}

	if l.waiting.Add(1) > int64(g.cfg.MaxQueue) {
		l.waiting.Add(-1)
		return fmt.Errorf("%w: %d in flight, queue of %d full", domain.ErrOverload, g.cfg.MaxConcurrent, g.cfg.MaxQueue)
	}
	defer l.waiting.Add(-1)

	waitCtx := ctx
	if g.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.cfg.AcquireTimeout)
		defer cancel()
	}
	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: deadline reached while queued: %v", domain.ErrTimeout, ctx.Err())
		}
		return fmt.Errorf("%w: no slot within %s", domain.ErrOverload, g.cfg.AcquireTimeout)
	}
	return nil
}

func (g *Gate) reject(ctx context.Context, campaignID, requesterID string, err error) {
	code := domain.ErrorCode(err)
	g.logger.Debug("claim refused at gate",
		zap.String("campaign_id", campaignID),
		zap.String("requester_id", requesterID),
		zap.String("error_code", code),
	)
	if g.rejected != nil {
		g.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("error_code", code)))
	}
	if g.audit != nil {
		g.audit.Append(domain.AuditEntry{
			ID:          uuid.NewString(),
			CampaignID:  campaignID,
			RequesterID: requesterID,
			Outcome:     domain.OutcomeError,
			Error:       code,
			RecordedAt:  g.now(),
		})
	}
}

// Cleanup drops lanes with nothing waiting or in flight that have not been
// used for IdleTTL.
func (g *Gate) Cleanup() {
	cutoff := g.now().Add(-g.cfg.IdleTTL)

	g.mu.Lock()
	defer g.mu.Unlock()

	for id, l := range g.lanes {
		if l.idle() && l.lastSeen.Before(cutoff) {
			delete(g.lanes, id)
		}
	}
}

// laneCount reports how many campaigns currently hold admission state.
func (g *Gate) laneCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.lanes)
}

// StartJanitor runs Cleanup every IdleTTL/2 until ctx is done.
func (g *Gate) StartJanitor(ctx context.Context) {
	if g.cfg.MaxConcurrent <= 0 {
		return
	}
	t := time.NewTicker(g.cfg.IdleTTL / 2)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				g.Cleanup()
			}
		}
	}()
}

// Package issuance decides, atomically per campaign, whether a requester is
// issued a coupon.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azizikri/coupon-issuance/internal/domain"
	"github.com/azizikri/coupon-issuance/internal/repository"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/azizikri/coupon-issuance/internal/issuance"

type CodeGenerator interface {
	NextCode(campaignID string) (string, error)
}

// Auditor receives one entry per TryIssue call. Append must not block.
type Auditor interface {
	Append(entry domain.AuditEntry)
}

type Config struct {
	// MaxAttempts bounds transaction attempts per call, including the first.
	MaxAttempts uint
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// ClaimTimeout is applied when the caller's context has no deadline.
	ClaimTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 200 * time.Millisecond
	}
	return c
}

// Eligibility decides whether a requester may claim from a campaign. Check
// returns nil to allow, an error wrapping domain.ErrIneligible to refuse, and
// any other error when the decision could not be made.
type Eligibility interface {
	Check(ctx context.Context, campaign domain.Campaign, requesterID string) error
}

type Option func(*Coordinator)

// WithEligibility runs e before the atomic unit of every TryIssue.
func WithEligibility(e Eligibility) Option {
	return func(c *Coordinator) {
		c.eligibility = e
	}
}

// WithMeterProvider replaces the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Coordinator) {
		c.meterProvider = mp
	}
}

// errDuplicateRace aborts a transaction whose claim insert lost to a
// concurrent writer for the same requester.
var errDuplicateRace = errors.New("claim inserted concurrently")

const commitCheckTimeout = time.Second

type Coordinator struct {
	store  repository.Store
	codes  CodeGenerator
	audit  Auditor
	cfg    Config
	locks  *keyedLocks
	logger *zap.Logger
	now    func() time.Time

	eligibility   Eligibility
	meterProvider metric.MeterProvider

	tracer   trace.Tracer
	outcomes metric.Int64Counter
	latency  metric.Float64Histogram
}

func New(store repository.Store, codes CodeGenerator, audit Auditor, cfg Config, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		store:         store,
		codes:         codes,
		audit:         audit,
		cfg:           cfg.withDefaults(),
		locks:         newKeyedLocks(),
		logger:        logger,
		now:           time.Now,
		tracer:        otel.Tracer(instrumentationName),
		meterProvider: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(c)
	}

	meter := c.meterProvider.Meter(instrumentationName)
	var err error
	c.outcomes, err = meter.Int64Counter("coupon.issuance.outcomes",
		metric.WithDescription("TryIssue calls by outcome"))
	if err != nil {
		logger.Warn("failed to create outcome counter", zap.Error(err))
	}
	c.latency, err = meter.Float64Histogram("coupon.issuance.duration",
		metric.WithDescription("TryIssue latency"),
		metric.WithUnit("ms"))
	if err != nil {
		logger.Warn("failed to create latency histogram", zap.Error(err))
	}
	return c
}

// TryIssue attempts to issue one coupon of campaignID to requesterID.
// Rejections (exhausted, duplicate) are results, not errors. Every call,
// whatever its outcome, produces exactly one audit entry.
func (c *Coordinator) TryIssue(ctx context.Context, campaignID, requesterID string) (res domain.IssuanceResult, err error) {
	start := c.now()
	ctx, span := c.tracer.Start(ctx, "issuance.TryIssue", trace.WithAttributes(
		attribute.String("campaign.id", campaignID),
		attribute.String("requester.id", requesterID),
	))
	defer span.End()
	defer func() { c.record(ctx, span, start, campaignID, requesterID, res, err) }()

	if campaignID == "" || requesterID == "" {
		return domain.IssuanceResult{}, fmt.Errorf("%w: campaign id and requester id are required", domain.ErrInvalidArgument)
	}

	if _, ok := ctx.Deadline(); !ok && c.cfg.ClaimTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ClaimTimeout)
		defer cancel()
	}

	campaign, err := c.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return domain.IssuanceResult{}, c.mapErr(ctx, err)
	}
	if err := c.checkClaimable(campaign); err != nil {
		return domain.IssuanceResult{}, err
	}
	if err := c.checkEligible(ctx, campaign, requesterID); err != nil {
		return domain.IssuanceResult{}, err
	}

	release, err := c.locks.acquire(ctx, campaignID)
	if err != nil {
		return domain.IssuanceResult{}, c.mapErr(ctx, err)
	}
	defer release()

	attempts := 0
	var uncommitted domain.IssuanceResult
	res, err = backoff.Retry(ctx, func() (domain.IssuanceResult, error) {
		attempts++
		r, err := c.attempt(ctx, campaignID, requesterID)
		if err == nil {
			return r, nil
		}
		if errors.Is(err, repository.ErrConflict) {
			c.logger.Debug("issuance attempt conflicted",
				zap.String("campaign_id", campaignID),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			return r, err
		}
		uncommitted = r
		return r, backoff.Permanent(err)
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(c.cfg.MaxAttempts))
	span.SetAttributes(attribute.Int("issuance.attempts", attempts))
	if err != nil {
		if uncommitted.Code != "" {
			if confirmed, ok := c.confirmCommit(ctx, uncommitted, err); ok {
				return confirmed, nil
			}
		}
		return domain.IssuanceResult{}, c.mapErr(ctx, err)
	}
	return res, nil
}

// confirmCommit settles a transaction that failed after its body succeeded,
// where the commit may still have been applied. The claim it would have
// written is looked up with a fresh deadline; a match with the generated code
// means the coupon was issued.
func (c *Coordinator) confirmCommit(ctx context.Context, pending domain.IssuanceResult, cause error) (domain.IssuanceResult, bool) {
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitCheckTimeout)
	defer cancel()

	claim, err := c.store.GetClaim(lookupCtx, pending.CampaignID, pending.RequesterID)
	if err != nil || claim.Code != pending.Code {
		return domain.IssuanceResult{}, false
	}
	c.logger.Warn("commit reported an error but the claim was written",
		zap.String("campaign_id", pending.CampaignID),
		zap.String("requester_id", pending.RequesterID),
		zap.Error(cause),
	)
	pending.IssuedAt = claim.IssuedAt
	return pending, true
}

func (c *Coordinator) checkEligible(ctx context.Context, campaign domain.Campaign, requesterID string) error {
	if c.eligibility == nil {
		return nil
	}
	err := c.eligibility.Check(ctx, campaign, requesterID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrIneligible):
		return err
	case ctx.Err() != nil:
		return c.mapErr(ctx, err)
	case domain.ErrorCode(err) == domain.CodeInternal:
		return fmt.Errorf("%w: eligibility check: %v", domain.ErrUnavailable, err)
	}
	return err
}

func (c *Coordinator) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BackoffBase
	b.MaxInterval = c.cfg.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	return b
}

func (c *Coordinator) checkClaimable(campaign domain.Campaign) error {
	if !campaign.Claimable() {
		return fmt.Errorf("%w: campaign %s is %s", domain.ErrInvalidState, campaign.ID, campaign.Status)
	}
	if !campaign.InWindow(c.now()) {
		return fmt.Errorf("%w: campaign %s is outside its validity window", domain.ErrInvalidState, campaign.ID)
	}
	return nil
}

// attempt runs the atomic unit once inside a single store transaction.
func (c *Coordinator) attempt(ctx context.Context, campaignID, requesterID string) (domain.IssuanceResult, error) {
	res := domain.IssuanceResult{CampaignID: campaignID, RequesterID: requesterID}
	lockedRemaining := 0

	err := c.store.ExecTx(ctx, func(q repository.Querier) error {
		campaign, err := q.LockCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		if err := c.checkClaimable(campaign); err != nil {
			return err
		}
		lockedRemaining = campaign.Remaining

		_, err = q.GetClaim(ctx, campaignID, requesterID)
		switch {
		case err == nil:
			res.Outcome = domain.OutcomeRejectedDuplicate
			res.Remaining = campaign.Remaining
			res.IssuedAt = c.now()
			return nil
		case !errors.Is(err, domain.ErrClaimNotFound):
			return err
		}

		if campaign.Remaining == 0 {
			if campaign.Status != domain.StatusExhausted {
				if _, err := q.UpdateCampaignStatus(ctx, campaignID, domain.StatusExhausted); err != nil {
					return err
				}
			}
			res.Outcome = domain.OutcomeRejectedExhausted
			res.IssuedAt = c.now()
			return nil
		}

		remaining, ok, err := q.DecrementIfPositive(ctx, campaignID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: remaining changed under row lock", repository.ErrConflict)
		}

		code, err := c.codes.NextCode(campaignID)
		if err != nil {
			return fmt.Errorf("generate code: %w", err)
		}
		now := c.now()
		inserted, err := q.InsertClaimIfAbsent(ctx, repository.InsertClaimParams{
			CampaignID:  campaignID,
			RequesterID: requesterID,
			Outcome:     domain.OutcomeIssued,
			Code:        code,
			IssuedAt:    now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			return errDuplicateRace
		}

		if remaining == 0 {
			if _, err := q.UpdateCampaignStatus(ctx, campaignID, domain.StatusExhausted); err != nil {
				return err
			}
		}

		res.Outcome = domain.OutcomeIssued
		res.Code = code
		res.Remaining = remaining
		res.IssuedAt = now
		return nil
	})

	if errors.Is(err, errDuplicateRace) {
		return domain.IssuanceResult{
			CampaignID:  campaignID,
			RequesterID: requesterID,
			Outcome:     domain.OutcomeRejectedDuplicate,
			Remaining:   lockedRemaining,
			IssuedAt:    c.now(),
		}, nil
	}
	if err != nil {
		// res carries a code only when the body finished and the commit failed
		return res, err
	}
	return res, nil
}

// mapErr collapses store and context failures into the public error set.
func (c *Coordinator) mapErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), ctx.Err() != nil:
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w after %d attempts: %v", domain.ErrContentionExhausted, c.cfg.MaxAttempts, err)
	}
	return err
}

func (c *Coordinator) record(ctx context.Context, span trace.Span, start time.Time, campaignID, requesterID string, res domain.IssuanceResult, err error) {
	entry := domain.AuditEntry{
		ID:          uuid.NewString(),
		CampaignID:  campaignID,
		RequesterID: requesterID,
		Outcome:     res.Outcome,
		Code:        res.Code,
		Remaining:   res.Remaining,
		RecordedAt:  c.now(),
	}

	fields := []zap.Field{
		zap.String("campaign_id", campaignID),
		zap.String("requester_id", requesterID),
	}
	if err != nil {
		entry.Outcome = domain.OutcomeError
		entry.Error = domain.ErrorCode(err)
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, entry.Error)

		fields = append(fields, zap.String("error_code", entry.Error), zap.Error(err))
		switch entry.Error {
		case domain.CodeUnavailable, domain.CodeInternal:
			c.logger.Error("issuance failed", fields...)
		case domain.CodeContentionExhausted, domain.CodeTimeout:
			c.logger.Warn("issuance failed", fields...)
		default:
			c.logger.Debug("issuance refused", fields...)
		}
	} else {
		c.logger.Debug("issuance decided", append(fields,
			zap.String("outcome", string(res.Outcome)),
			zap.Int("remaining", res.Remaining),
		)...)
	}
	span.SetAttributes(attribute.String("issuance.outcome", string(entry.Outcome)))

	if c.audit != nil {
		c.audit.Append(entry)
	}

	attrs := metric.WithAttributes(
		attribute.String("outcome", string(entry.Outcome)),
		attribute.String("error_code", entry.Error),
	)
	if c.outcomes != nil {
		c.outcomes.Add(ctx, 1, attrs)
	}
	if c.latency != nil {
		c.latency.Record(ctx, float64(c.now().Sub(start))/float64(time.Millisecond), attrs)
	}
}

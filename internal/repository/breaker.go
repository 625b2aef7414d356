package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azizikri/coupon-issuance/internal/domain"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BreakerSettings struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	OpenTimeout      time.Duration
	FailureThreshold uint32
}

// BreakerStore fails fast with domain.ErrUnavailable once the wrapped store
// has produced FailureThreshold consecutive infrastructure failures. Domain
// outcomes such as not-found or a transaction conflict do not trip it.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerStore(next Store, cfg BreakerSettings, logger *zap.Logger) *BreakerStore {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("store circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &BreakerStore{next: next, cb: cb}
}

func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

func guard[T any](b *BreakerStore, fn func() (T, error)) (T, error) {
	var zero T
	out, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
		}
		return zero, err
	}
	v, ok := out.(T)
	if !ok {
		return zero, nil
	}
	return v, nil
}

func (b *BreakerStore) ExecTx(ctx context.Context, fn func(Querier) error) error {
	_, err := guard(b, func() (struct{}, error) {
		return struct{}{}, b.next.ExecTx(ctx, fn)
	})
	return err
}

func (b *BreakerStore) CreateCampaign(ctx context.Context, arg CreateCampaignParams) (domain.Campaign, error) {
	return guard(b, func() (domain.Campaign, error) { return b.next.CreateCampaign(ctx, arg) })
}

func (b *BreakerStore) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	return guard(b, func() (domain.Campaign, error) { return b.next.GetCampaign(ctx, id) })
}

func (b *BreakerStore) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	return guard(b, func() ([]domain.Campaign, error) { return b.next.ListCampaigns(ctx) })
}

func (b *BreakerStore) GetClaim(ctx context.Context, campaignID, requesterID string) (domain.Claim, error) {
	return guard(b, func() (domain.Claim, error) { return b.next.GetClaim(ctx, campaignID, requesterID) })
}

func (b *BreakerStore) ListClaimsByCampaign(ctx context.Context, campaignID string) ([]domain.Claim, error) {
	return guard(b, func() ([]domain.Claim, error) { return b.next.ListClaimsByCampaign(ctx, campaignID) })
}

func (b *BreakerStore) ListClaimsByRequester(ctx context.Context, requesterID string) ([]domain.Claim, error) {
	return guard(b, func() ([]domain.Claim, error) { return b.next.ListClaimsByRequester(ctx, requesterID) })
}

func (b *BreakerStore) CountIssuedClaims(ctx context.Context, campaignID string) (int, error) {
	return guard(b, func() (int, error) { return b.next.CountIssuedClaims(ctx, campaignID) })
}

func (b *BreakerStore) InsertAuditEntry(ctx context.Context, entry domain.AuditEntry) error {
	_, err := guard(b, func() (struct{}, error) {
		return struct{}{}, b.next.InsertAuditEntry(ctx, entry)
	})
	return err
}

func (b *BreakerStore) ListAuditByCampaign(ctx context.Context, campaignID string) ([]domain.AuditEntry, error) {
	return guard(b, func() ([]domain.AuditEntry, error) { return b.next.ListAuditByCampaign(ctx, campaignID) })
}

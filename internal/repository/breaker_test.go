package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/azizikri/coupon-issuance/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type flakyStore struct {
	*MemoryStore
	err   error
	calls int
}

func (f *flakyStore) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	f.calls++
	if f.err != nil {
		return domain.Campaign{}, f.err
	}
	return f.MemoryStore.GetCampaign(ctx, id)
}

func newTestBreaker(next Store) *BreakerStore {
	return NewBreakerStore(next, BreakerSettings{
		Name:             "test",
		OpenTimeout:      time.Minute,
		FailureThreshold: 2,
	}, zap.NewNop())
}

func TestBreakerStore_OpensOnInfrastructureFailures(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore(), err: fmt.Errorf("%w: dial tcp", domain.ErrUnavailable)}
	b := newTestBreaker(inner)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.GetCampaign(ctx, "c1")
		assert.ErrorIs(t, err, domain.ErrUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.GetCampaign(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, 2, inner.calls, "open breaker must not reach the store")
}

func TestBreakerStore_DomainErrorsDoNotTrip(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	b := newTestBreaker(inner)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.GetCampaign(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerStore_PassesThroughResults(t *testing.T) {
	mem := NewMemoryStore()
	b := newTestBreaker(mem)
	ctx := context.Background()

	_, err := b.CreateCampaign(ctx, CreateCampaignParams{ID: "c1", Total: 2, Status: domain.StatusActive})
	require.NoError(t, err)

	require.NoError(t, b.ExecTx(ctx, func(q Querier) error {
		_, _, err := q.DecrementIfPositive(ctx, "c1")
		return err
	}))

	c, err := b.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Remaining)

	claims, err := b.ListClaimsByCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestBreakerStore_OutOfRangeInputDoesNotTrip(t *testing.T) {
	overflow := classify(&pgconn.PgError{Code: "22003", Message: "integer out of range"})
	inner := &flakyStore{MemoryStore: NewMemoryStore(), err: overflow}
	b := newTestBreaker(inner)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.GetCampaign(ctx, "c1")
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, 5, inner.calls)
}

package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/azizikri/coupon-issuance/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newPostgresStore connects to COUPON_TEST_DSN and applies migrations. Tests
// using it are skipped when the variable is unset.
func newPostgresStore(t *testing.T) Store {
	t.Helper()
	dsn := os.Getenv("COUPON_TEST_DSN")
	if dsn == "" {
		t.Skip("COUPON_TEST_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool, "../../db/migrations", zap.NewNop()))
	return New(pool, WithLockTimeout(2*time.Second))
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	start := time.Now().Add(-time.Hour).UTC().Truncate(time.Microsecond)
	created, err := s.CreateCampaign(ctx, CreateCampaignParams{
		ID:             id,
		Name:           "integration",
		DiscountAmount: decimal.RequireFromString("12.50"),
		Total:          3,
		Status:         domain.StatusActive,
		StartsAt:       &start,
	})
	require.NoError(t, err)
	assert.True(t, created.DiscountAmount.Equal(decimal.RequireFromString("12.5")))
	require.NotNil(t, created.StartsAt)
	assert.True(t, created.StartsAt.Equal(start))
	assert.Nil(t, created.EndsAt)

	_, err = s.GetCampaign(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = s.ExecTx(ctx, func(q Querier) error {
		if _, err := q.LockCampaign(ctx, id); err != nil {
			return err
		}
		if _, _, err := q.DecrementIfPositive(ctx, id); err != nil {
			return err
		}
		ok, err := q.InsertClaimIfAbsent(ctx, InsertClaimParams{
			CampaignID: id, RequesterID: "u1", Outcome: domain.OutcomeIssued, Code: "CPN-" + id, IssuedAt: time.Now(),
		})
		assert.True(t, ok)
		return err
	})
	require.NoError(t, err)

	got, err := s.GetCampaign(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Remaining)

	n, err := s.CountIssuedClaims(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.InsertAuditEntry(ctx, domain.AuditEntry{
		ID: uuid.NewString(), CampaignID: id, RequesterID: "u1", Outcome: domain.OutcomeIssued, Remaining: 2, RecordedAt: time.Now(),
	}))
	entries, err := s.ListAuditByCampaign(ctx, id)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPostgresStore_ConcurrentDecrementNeverOversells(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	_, err := s.CreateCampaign(ctx, CreateCampaignParams{ID: id, Name: "race", Total: 5, Status: domain.StatusActive, DiscountAmount: decimal.NewFromInt(1)})
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		decrOK int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.ExecTx(ctx, func(q Querier) error {
				if _, err := q.LockCampaign(ctx, id); err != nil {
					return err
				}
				_, ok, err := q.DecrementIfPositive(ctx, id)
				if ok {
					mu.Lock()
					decrOK++
					mu.Unlock()
				}
				return err
			})
		}()
	}
	wg.Wait()

	got, err := s.GetCampaign(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Remaining)
	assert.Equal(t, 5, decrOK)
}

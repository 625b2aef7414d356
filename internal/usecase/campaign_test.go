package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/azizikri/coupon-issuance/internal/domain"
	"github.com/azizikri/coupon-issuance/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockStore overrides selected Store methods and falls back to an in-memory
// store for everything else.
type mockStore struct {
	*repository.MemoryStore

	createCampaignFn    func(ctx context.Context, arg repository.CreateCampaignParams) (domain.Campaign, error)
	countIssuedClaimsFn func(ctx context.Context, campaignID string) (int, error)
	execTxFn            func(ctx context.Context, fn func(repository.Querier) error) error
}

func newMockStore() *mockStore {
	return &mockStore{MemoryStore: repository.NewMemoryStore()}
}

func (m *mockStore) CreateCampaign(ctx context.Context, arg repository.CreateCampaignParams) (domain.Campaign, error) {
	if m.createCampaignFn != nil {
		return m.createCampaignFn(ctx, arg)
	}
	return m.MemoryStore.CreateCampaign(ctx, arg)
}

func (m *mockStore) CountIssuedClaims(ctx context.Context, campaignID string) (int, error) {
	if m.countIssuedClaimsFn != nil {
		return m.countIssuedClaimsFn(ctx, campaignID)
	}
	return m.MemoryStore.CountIssuedClaims(ctx, campaignID)
}

func (m *mockStore) ExecTx(ctx context.Context, fn func(repository.Querier) error) error {
	if m.execTxFn != nil {
		return m.execTxFn(ctx, fn)
	}
	return m.MemoryStore.ExecTx(ctx, fn)
}

func newService(store repository.Store) *CampaignService {
	return NewCampaignService(store, zap.NewNop())
}

func mustCreate(t *testing.T, svc *CampaignService, total int, activate bool) domain.Campaign {
	t.Helper()
	c, err := svc.CreateCampaign(context.Background(), CreateCampaignInput{
		Name:           "spring sale",
		Total:          total,
		DiscountAmount: decimal.RequireFromString("15.00"),
		Activate:       activate,
	})
	require.NoError(t, err)
	return c
}

func TestCreateCampaign_Success(t *testing.T) {
	svc := newService(newMockStore())

	c := mustCreate(t, svc, 100, false)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, domain.StatusDraft, c.Status)
	assert.Equal(t, 100, c.Remaining)
	assert.True(t, c.DiscountAmount.Equal(decimal.NewFromInt(15)))

	active := mustCreate(t, svc, 1, true)
	assert.Equal(t, domain.StatusActive, active.Status)
}

func TestCreateCampaign_Validation(t *testing.T) {
	svc := newService(newMockStore())
	start := time.Now()
	before := start.Add(-time.Hour)

	tests := []struct {
		name string
		in   CreateCampaignInput
	}{
		{"missing name", CreateCampaignInput{Name: " ", Total: 1}},
		{"zero total", CreateCampaignInput{Name: "x", Total: 0}},
		{"total beyond int32", CreateCampaignInput{Name: "x", Total: math.MaxInt32 + 2}},
		{"negative discount", CreateCampaignInput{Name: "x", Total: 1, DiscountAmount: decimal.NewFromInt(-1)}},
		{"window inverted", CreateCampaignInput{Name: "x", Total: 1, StartsAt: &start, EndsAt: &before}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateCampaign(context.Background(), tt.in)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
}

func TestCreateCampaign_StoreError(t *testing.T) {
	store := newMockStore()
	store.createCampaignFn = func(ctx context.Context, arg repository.CreateCampaignParams) (domain.Campaign, error) {
		return domain.Campaign{}, fmt.Errorf("%w: dial tcp", domain.ErrUnavailable)
	}

	_, err := newService(store).CreateCampaign(context.Background(), CreateCampaignInput{Name: "x", Total: 1})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestActivate(t *testing.T) {
	svc := newService(newMockStore())
	c := mustCreate(t, svc, 5, false)

	activated, err := svc.Activate(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, activated.Status)

	_, err = svc.Activate(context.Background(), c.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = svc.Activate(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClose_Idempotent(t *testing.T) {
	svc := newService(newMockStore())
	c := mustCreate(t, svc, 5, true)

	for i := 0; i < 2; i++ {
		closed, err := svc.Close(context.Background(), c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusClosed, closed.Status)
	}
}

func TestRestock(t *testing.T) {
	store := newMockStore()
	svc := newService(store)
	ctx := context.Background()
	c := mustCreate(t, svc, 1, true)

	require.NoError(t, store.ExecTx(ctx, func(q repository.Querier) error {
		if _, _, err := q.DecrementIfPositive(ctx, c.ID); err != nil {
			return err
		}
		_, err := q.UpdateCampaignStatus(ctx, c.ID, domain.StatusExhausted)
		return err
	}))

	restocked, err := svc.Restock(ctx, c.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, restocked.Total)
	assert.Equal(t, 3, restocked.Remaining)
	assert.Equal(t, domain.StatusActive, restocked.Status)

	_, err = svc.Restock(ctx, c.ID, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.Close(ctx, c.ID)
	require.NoError(t, err)
	_, err = svc.Restock(ctx, c.ID, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestTransition_RetriesConflicts(t *testing.T) {
	store := newMockStore()
	svc := newService(store)
	c := mustCreate(t, svc, 5, false)

	calls := 0
	store.execTxFn = func(ctx context.Context, fn func(repository.Querier) error) error {
		calls++
		if calls < 3 {
			return repository.ErrConflict
		}
		return store.MemoryStore.ExecTx(ctx, fn)
	}

	activated, err := svc.Activate(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, activated.Status)
	assert.Equal(t, 3, calls)
}

func TestTransition_ContentionExhausted(t *testing.T) {
	store := newMockStore()
	svc := newService(store)
	c := mustCreate(t, svc, 5, false)

	calls := 0
	store.execTxFn = func(ctx context.Context, fn func(repository.Querier) error) error {
		calls++
		return repository.ErrConflict
	}

	_, err := svc.Activate(context.Background(), c.ID)
	assert.ErrorIs(t, err, domain.ErrContentionExhausted)
	assert.Equal(t, adminTxAttempts, calls)
}

func TestClaimQueries(t *testing.T) {
	store := newMockStore()
	svc := newService(store)
	ctx := context.Background()
	c := mustCreate(t, svc, 5, true)

	require.NoError(t, store.ExecTx(ctx, func(q repository.Querier) error {
		_, err := q.InsertClaimIfAbsent(ctx, repository.InsertClaimParams{
			CampaignID: c.ID, RequesterID: "u1", Outcome: domain.OutcomeIssued, Code: "X-1", IssuedAt: time.Now(),
		})
		return err
	}))

	claims, err := svc.ListClaimsByCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, claims, 1)

	_, err = svc.ListClaimsByCampaign(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	byRequester, err := svc.ListClaimsByRequester(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, byRequester, 1)

	_, err = svc.ListClaimsByRequester(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	claim, err := svc.GetClaim(ctx, c.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "X-1", claim.Code)

	_, err = svc.GetClaim(ctx, c.ID, "u2")
	assert.ErrorIs(t, err, domain.ErrClaimNotFound)
}

func TestListAudit(t *testing.T) {
	store := newMockStore()
	svc := newService(store)
	ctx := context.Background()
	c := mustCreate(t, svc, 5, true)

	require.NoError(t, store.InsertAuditEntry(ctx, domain.AuditEntry{ID: "a1", CampaignID: c.ID, Outcome: domain.OutcomeIssued}))

	entries, err := svc.ListAudit(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = svc.ListAudit(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReconcile(t *testing.T) {
	store := newMockStore()
	svc := newService(store)
	ctx := context.Background()
	c := mustCreate(t, svc, 5, true)

	rec, err := svc.Reconcile(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Equal(t, 0, rec.IssuedClaims)

	store.countIssuedClaimsFn = func(ctx context.Context, campaignID string) (int, error) {
		return 2, nil
	}
	rec, err = svc.Reconcile(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, rec.Consistent)

	store.countIssuedClaimsFn = func(ctx context.Context, campaignID string) (int, error) {
		return 0, errors.New("boom")
	}
	_, err = svc.Reconcile(ctx, c.ID)
	assert.Error(t, err)
}

func TestRestock_RejectsOutOfRangeAmounts(t *testing.T) {
	store := newMockStore()
	svc := newService(store)
	ctx := context.Background()
	c := mustCreate(t, svc, 10, true)

	_, err := svc.Restock(ctx, c.ID, math.MaxInt32+1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.Restock(ctx, c.ID, math.MaxInt32-5)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument, "total would overflow")

	got, err := svc.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Total)
	assert.Equal(t, 10, got.Remaining)

	restocked, err := svc.Restock(ctx, c.ID, math.MaxInt32-10)
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt32, restocked.Total)
}

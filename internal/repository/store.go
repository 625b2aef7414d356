package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	db "github.com/azizikri/coupon-issuance/db/gen"
	"github.com/azizikri/coupon-issuance/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store is the durable backing for campaigns (the coupon pool), claims and
// the audit trail. Mutations of remaining and of the claim ledger only
// happen through a Querier inside ExecTx.
type Store interface {
	ExecTx(ctx context.Context, fn func(Querier) error) error
	CreateCampaign(ctx context.Context, arg CreateCampaignParams) (domain.Campaign, error)
	GetCampaign(ctx context.Context, id string) (domain.Campaign, error)
	ListCampaigns(ctx context.Context) ([]domain.Campaign, error)
	GetClaim(ctx context.Context, campaignID, requesterID string) (domain.Claim, error)
	ListClaimsByCampaign(ctx context.Context, campaignID string) ([]domain.Claim, error)
	ListClaimsByRequester(ctx context.Context, requesterID string) ([]domain.Claim, error)
	CountIssuedClaims(ctx context.Context, campaignID string) (int, error)
	InsertAuditEntry(ctx context.Context, entry domain.AuditEntry) error
	ListAuditByCampaign(ctx context.Context, campaignID string) ([]domain.AuditEntry, error)
}

// Querier is the transaction-scoped view. LockCampaign must be called before
// any mutation of that campaign in the same transaction.
type Querier interface {
	LockCampaign(ctx context.Context, id string) (domain.Campaign, error)
	GetClaim(ctx context.Context, campaignID, requesterID string) (domain.Claim, error)
	DecrementIfPositive(ctx context.Context, id string) (remaining int, ok bool, err error)
	InsertClaimIfAbsent(ctx context.Context, arg InsertClaimParams) (bool, error)
	UpdateCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) (domain.Campaign, error)
	Restock(ctx context.Context, id string, delta int) (domain.Campaign, error)
}

type CreateCampaignParams struct {
	ID             string
	Name           string
	DiscountAmount decimal.Decimal
	Total          int
	Status         domain.CampaignStatus
	StartsAt       *time.Time
	EndsAt         *time.Time
}

type InsertClaimParams struct {
	CampaignID  string
	RequesterID string
	Outcome     domain.Outcome
	Code        string
	IssuedAt    time.Time
}

type store struct {
	pool        *pgxpool.Pool
	queries     *db.Queries
	lockTimeout time.Duration
}

type Option func(*store)

// WithLockTimeout bounds how long a transaction waits on a campaign row lock
// before the attempt is reported as a conflict.
func WithLockTimeout(d time.Duration) Option {
	return func(s *store) { s.lockTimeout = d }
}

func New(pool *pgxpool.Pool, opts ...Option) Store {
	s := &store{
		pool:    pool,
		queries: db.New(pool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExecTx runs fn in one transaction. A commit error is ambiguous: the server
// may have applied the transaction before the connection failed, so callers
// that must know the outcome re-read what fn wrote.
func (s *store) ExecTx(ctx context.Context, fn func(Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return classify(fmt.Errorf("set lock timeout: %w", err))
		}
	}

	q := &pgQuerier{queries: s.queries.WithTx(tx)}
	if err := fn(q); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) && ctx.Err() == nil {
			return fmt.Errorf("tx err: %w, rollback err: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func (s *store) CreateCampaign(ctx context.Context, arg CreateCampaignParams) (domain.Campaign, error) {
	row, err := s.queries.CreateCampaign(ctx, db.CreateCampaignParams{
		ID:             arg.ID,
		Name:           arg.Name,
		DiscountAmount: numericFromDecimal(arg.DiscountAmount),
		Total:          int32(arg.Total),
		Status:         string(arg.Status),
		StartsAt:       timestamptz(arg.StartsAt),
		EndsAt:         timestamptz(arg.EndsAt),
	})
	if err != nil {
		return domain.Campaign{}, classify(err)
	}
	return campaignFromRow(row), nil
}

func (s *store) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	row, err := s.queries.GetCampaign(ctx, id)
	if err != nil {
		return domain.Campaign{}, classifyNotFound(err, domain.ErrNotFound)
	}
	return campaignFromRow(row), nil
}

func (s *store) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := s.queries.ListCampaigns(ctx)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]domain.Campaign, 0, len(rows))
	for _, r := range rows {
		out = append(out, campaignFromRow(r))
	}
	return out, nil
}

func (s *store) GetClaim(ctx context.Context, campaignID, requesterID string) (domain.Claim, error) {
	row, err := s.queries.GetClaim(ctx, db.GetClaimParams{CampaignID: campaignID, RequesterID: requesterID})
	if err != nil {
		return domain.Claim{}, classifyNotFound(err, domain.ErrClaimNotFound)
	}
	return claimFromRow(row), nil
}

func (s *store) ListClaimsByCampaign(ctx context.Context, campaignID string) ([]domain.Claim, error) {
	rows, err := s.queries.ListClaimsByCampaign(ctx, campaignID)
	if err != nil {
		return nil, classify(err)
	}
	return claimsFromRows(rows), nil
}

func (s *store) ListClaimsByRequester(ctx context.Context, requesterID string) ([]domain.Claim, error) {
	rows, err := s.queries.ListClaimsByRequester(ctx, requesterID)
	if err != nil {
		return nil, classify(err)
	}
	return claimsFromRows(rows), nil
}

func (s *store) CountIssuedClaims(ctx context.Context, campaignID string) (int, error) {
	n, err := s.queries.CountIssuedClaims(ctx, campaignID)
	if err != nil {
		return 0, classify(err)
	}
	return int(n), nil
}

func (s *store) InsertAuditEntry(ctx context.Context, entry domain.AuditEntry) error {
	arg, err := auditParams(entry)
	if err != nil {
		return err
	}
	return classify(s.queries.InsertAuditEntry(ctx, arg))
}

func (s *store) ListAuditByCampaign(ctx context.Context, campaignID string) ([]domain.AuditEntry, error) {
	rows, err := s.queries.ListAuditByCampaign(ctx, campaignID)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]domain.AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, auditFromRow(r))
	}
	return out, nil
}

type pgQuerier struct {
	queries *db.Queries
}

func (q *pgQuerier) LockCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	row, err := q.queries.LockCampaign(ctx, id)
	if err != nil {
		return domain.Campaign{}, classifyNotFound(err, domain.ErrNotFound)
	}
	return campaignFromRow(row), nil
}

func (q *pgQuerier) GetClaim(ctx context.Context, campaignID, requesterID string) (domain.Claim, error) {
	row, err := q.queries.GetClaim(ctx, db.GetClaimParams{CampaignID: campaignID, RequesterID: requesterID})
	if err != nil {
		return domain.Claim{}, classifyNotFound(err, domain.ErrClaimNotFound)
	}
	return claimFromRow(row), nil
}

func (q *pgQuerier) DecrementIfPositive(ctx context.Context, id string) (int, bool, error) {
	remaining, err := q.queries.DecrementRemaining(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, classify(err)
	}
	return int(remaining), true, nil
}

func (q *pgQuerier) InsertClaimIfAbsent(ctx context.Context, arg InsertClaimParams) (bool, error) {
	rows, err := q.queries.InsertClaim(ctx, db.InsertClaimParams{
		CampaignID:  arg.CampaignID,
		RequesterID: arg.RequesterID,
		Outcome:     string(arg.Outcome),
		Code:        arg.Code,
		IssuedAt:    timestamptz(&arg.IssuedAt),
	})
	if err != nil {
		return false, classify(err)
	}
	return rows == 1, nil
}

func (q *pgQuerier) UpdateCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) (domain.Campaign, error) {
	row, err := q.queries.UpdateCampaignStatus(ctx, db.UpdateCampaignStatusParams{ID: id, Status: string(status)})
	if err != nil {
		return domain.Campaign{}, classifyNotFound(err, domain.ErrNotFound)
	}
	return campaignFromRow(row), nil
}

func (q *pgQuerier) Restock(ctx context.Context, id string, delta int) (domain.Campaign, error) {
	row, err := q.queries.RestockCampaign(ctx, db.RestockCampaignParams{ID: id, Total: int32(delta)})
	if err != nil {
		return domain.Campaign{}, classifyNotFound(err, domain.ErrNotFound)
	}
	return campaignFromRow(row), nil
}

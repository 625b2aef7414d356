package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/azizikri/coupon-issuance/internal/domain"
	"github.com/azizikri/coupon-issuance/internal/repository"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const adminTxAttempts = 5

// maxQuantity is the largest total a campaign may hold; the store keeps
// counts in 32-bit columns.
const maxQuantity = math.MaxInt32

type CampaignService struct {
	store  repository.Store
	logger *zap.Logger
}

func NewCampaignService(store repository.Store, logger *zap.Logger) *CampaignService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CampaignService{store: store, logger: logger}
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (domain.Campaign, error) {
	if err := validateCreate(in); err != nil {
		return domain.Campaign{}, err
	}

	status := domain.StatusDraft
	if in.Activate {
		status = domain.StatusActive
	}
	campaign, err := s.store.CreateCampaign(ctx, repository.CreateCampaignParams{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(in.Name),
		DiscountAmount: in.DiscountAmount,
		Total:          in.Total,
		Status:         status,
		StartsAt:       in.StartsAt,
		EndsAt:         in.EndsAt,
	})
	if err != nil {
		return domain.Campaign{}, err
	}

	s.logger.Info("campaign created",
		zap.String("campaign_id", campaign.ID),
		zap.Int("total", campaign.Total),
		zap.String("status", string(campaign.Status)),
	)
	return campaign, nil
}

func validateCreate(in CreateCampaignInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", domain.ErrInvalidArgument)
	}
	if in.Total <= 0 {
		return fmt.Errorf("%w: total must be positive", domain.ErrInvalidArgument)
	}
	if in.Total > maxQuantity {
		return fmt.Errorf("%w: total must not exceed %d", domain.ErrInvalidArgument, maxQuantity)
	}
	if in.DiscountAmount.IsNegative() {
		return fmt.Errorf("%w: discount amount must not be negative", domain.ErrInvalidArgument)
	}
	if in.StartsAt != nil && in.EndsAt != nil && !in.EndsAt.After(*in.StartsAt) {
		return fmt.Errorf("%w: ends_at must be after starts_at", domain.ErrInvalidArgument)
	}
	return nil
}

func (s *CampaignService) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	return s.store.GetCampaign(ctx, id)
}

func (s *CampaignService) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	return s.store.ListCampaigns(ctx)
}

// Activate moves a DRAFT campaign to ACTIVE.
func (s *CampaignService) Activate(ctx context.Context, id string) (domain.Campaign, error) {
	return s.transition(ctx, id, "activate", func(q repository.Querier, c domain.Campaign) (domain.Campaign, error) {
		if c.Status != domain.StatusDraft {
			return c, fmt.Errorf("%w: cannot activate a %s campaign", domain.ErrInvalidState, c.Status)
		}
		return q.UpdateCampaignStatus(ctx, id, domain.StatusActive)
	})
}

// Close is terminal and idempotent.
func (s *CampaignService) Close(ctx context.Context, id string) (domain.Campaign, error) {
	return s.transition(ctx, id, "close", func(q repository.Querier, c domain.Campaign) (domain.Campaign, error) {
		if c.Status == domain.StatusClosed {
			return c, nil
		}
		return q.UpdateCampaignStatus(ctx, id, domain.StatusClosed)
	})
}

// Restock adds delta coupons to total and remaining. An EXHAUSTED campaign
// becomes ACTIVE again; a CLOSED one cannot be restocked.
func (s *CampaignService) Restock(ctx context.Context, id string, delta int) (domain.Campaign, error) {
	if delta <= 0 || delta > maxQuantity {
		return domain.Campaign{}, fmt.Errorf("%w: restock amount must be within [1, %d]", domain.ErrInvalidArgument, maxQuantity)
	}
	return s.transition(ctx, id, "restock", func(q repository.Querier, c domain.Campaign) (domain.Campaign, error) {
		if c.Status == domain.StatusClosed {
			return c, fmt.Errorf("%w: cannot restock a closed campaign", domain.ErrInvalidState)
		}
		if c.Total > maxQuantity-delta {
			return c, fmt.Errorf("%w: restock of %d would push total past %d", domain.ErrInvalidArgument, delta, maxQuantity)
		}
		updated, err := q.Restock(ctx, id, delta)
		if err != nil {
			return updated, err
		}
		if updated.Status == domain.StatusExhausted {
			return q.UpdateCampaignStatus(ctx, id, domain.StatusActive)
		}
		return updated, nil
	})
}

// transition runs fn against the locked campaign, retrying the transaction
// when it conflicts with concurrent issuance.
func (s *CampaignService) transition(ctx context.Context, id, op string, fn func(repository.Querier, domain.Campaign) (domain.Campaign, error)) (domain.Campaign, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond

	campaign, err := backoff.Retry(ctx, func() (domain.Campaign, error) {
		var out domain.Campaign
		err := s.store.ExecTx(ctx, func(q repository.Querier) error {
			c, err := q.LockCampaign(ctx, id)
			if err != nil {
				return err
			}
			out, err = fn(q, c)
			return err
		})
		if err != nil && !errors.Is(err, repository.ErrConflict) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(adminTxAttempts))
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return domain.Campaign{}, fmt.Errorf("%w: %s: %v", domain.ErrContentionExhausted, op, err)
		}
		return domain.Campaign{}, err
	}

	s.logger.Info("campaign updated",
		zap.String("op", op),
		zap.String("campaign_id", campaign.ID),
		zap.String("status", string(campaign.Status)),
		zap.Int("total", campaign.Total),
		zap.Int("remaining", campaign.Remaining),
	)
	return campaign, nil
}

func (s *CampaignService) ListClaimsByCampaign(ctx context.Context, campaignID string) ([]domain.Claim, error) {
	if _, err := s.store.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.store.ListClaimsByCampaign(ctx, campaignID)
}

func (s *CampaignService) ListClaimsByRequester(ctx context.Context, requesterID string) ([]domain.Claim, error) {
	if strings.TrimSpace(requesterID) == "" {
		return nil, fmt.Errorf("%w: requester id is required", domain.ErrInvalidArgument)
	}
	return s.store.ListClaimsByRequester(ctx, requesterID)
}

func (s *CampaignService) GetClaim(ctx context.Context, campaignID, requesterID string) (domain.Claim, error) {
	return s.store.GetClaim(ctx, campaignID, requesterID)
}

func (s *CampaignService) ListAudit(ctx context.Context, campaignID string) ([]domain.AuditEntry, error) {
	if _, err := s.store.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.store.ListAuditByCampaign(ctx, campaignID)
}

// Reconcile checks that every coupon taken from the pool is backed by exactly
// one issued claim.
func (s *CampaignService) Reconcile(ctx context.Context, campaignID string) (domain.Reconciliation, error) {
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return domain.Reconciliation{}, err
	}
	issued, err := s.store.CountIssuedClaims(ctx, campaignID)
	if err != nil {
		return domain.Reconciliation{}, err
	}

	rec := domain.Reconciliation{
		CampaignID:   campaignID,
		Total:        campaign.Total,
		Remaining:    campaign.Remaining,
		IssuedClaims: issued,
		Consistent:   campaign.Total-campaign.Remaining == issued,
	}
	if !rec.Consistent {
		s.logger.Error("campaign ledger mismatch",
			zap.String("campaign_id", campaignID),
			zap.Int("total", rec.Total),
			zap.Int("remaining", rec.Remaining),
			zap.Int("issued_claims", rec.IssuedClaims),
		)
	}
	return rec, nil
}

var _ CampaignManager = (*CampaignService)(nil)

package usecase

import (
	"context"
	"time"

	"github.com/azizikri/coupon-issuance/internal/domain"
	"github.com/shopspring/decimal"
)

// ClaimIssuer is satisfied by the coordinator, the request gate in front of
// it, and the Kafka gateway that forwards to a remote consumer.
type ClaimIssuer interface {
	TryIssue(ctx context.Context, campaignID, requesterID string) (domain.IssuanceResult, error)
}

type CampaignManager interface {
	CreateCampaign(ctx context.Context, in CreateCampaignInput) (domain.Campaign, error)
	GetCampaign(ctx context.Context, id string) (domain.Campaign, error)
	ListCampaigns(ctx context.Context) ([]domain.Campaign, error)
	Activate(ctx context.Context, id string) (domain.Campaign, error)
	Close(ctx context.Context, id string) (domain.Campaign, error)
	Restock(ctx context.Context, id string, delta int) (domain.Campaign, error)
	ListClaimsByCampaign(ctx context.Context, campaignID string) ([]domain.Claim, error)
	ListClaimsByRequester(ctx context.Context, requesterID string) ([]domain.Claim, error)
	GetClaim(ctx context.Context, campaignID, requesterID string) (domain.Claim, error)
	ListAudit(ctx context.Context, campaignID string) ([]domain.AuditEntry, error)
	Reconcile(ctx context.Context, campaignID string) (domain.Reconciliation, error)
}

type CreateCampaignInput struct {
	Name           string
	Total          int
	DiscountAmount decimal.Decimal
	StartsAt       *time.Time
	EndsAt         *time.Time
	Activate       bool
}

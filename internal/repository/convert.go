package repository

import (
	"fmt"
	"time"

	db "github.com/azizikri/coupon-issuance/db/gen"
	"github.com/azizikri/coupon-issuance/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

func campaignFromRow(r db.Campaign) domain.Campaign {
	return domain.Campaign{
		ID:             r.ID,
		Name:           r.Name,
		DiscountAmount: decimalFromNumeric(r.DiscountAmount),
		Total:          int(r.Total),
		Remaining:      int(r.Remaining),
		Status:         domain.CampaignStatus(r.Status),
		StartsAt:       timePtr(r.StartsAt),
		EndsAt:         timePtr(r.EndsAt),
		CreatedAt:      r.CreatedAt.Time,
		UpdatedAt:      r.UpdatedAt.Time,
	}
}

func claimFromRow(r db.Claim) domain.Claim {
	return domain.Claim{
		CampaignID:  r.CampaignID,
		RequesterID: r.RequesterID,
		Outcome:     domain.Outcome(r.Outcome),
		Code:        r.Code,
		IssuedAt:    r.IssuedAt.Time,
	}
}

func claimsFromRows(rows []db.Claim) []domain.Claim {
	out := make([]domain.Claim, 0, len(rows))
	for _, r := range rows {
		out = append(out, claimFromRow(r))
	}
	return out
}

func auditFromRow(r db.AuditLog) domain.AuditEntry {
	return domain.AuditEntry{
		ID:          uuid.UUID(r.ID.Bytes).String(),
		CampaignID:  r.CampaignID,
		RequesterID: r.RequesterID,
		Outcome:     domain.Outcome(r.Outcome),
		Code:        r.Code,
		Error:       r.Error,
		Remaining:   int(r.Remaining),
		RecordedAt:  r.RecordedAt.Time,
	}
}

func auditParams(e domain.AuditEntry) (db.InsertAuditEntryParams, error) {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return db.InsertAuditEntryParams{}, fmt.Errorf("%w: audit id %q", domain.ErrInvalidArgument, e.ID)
	}
	return db.InsertAuditEntryParams{
		ID:          pgtype.UUID{Bytes: [16]byte(id), Valid: true},
		CampaignID:  e.CampaignID,
		RequesterID: e.RequesterID,
		Outcome:     string(e.Outcome),
		Code:        e.Code,
		Error:       e.Error,
		Remaining:   int32(e.Remaining),
		RecordedAt:  timestamptz(&e.RecordedAt),
	}, nil
}

func decimalFromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func numericFromDecimal(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil || t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

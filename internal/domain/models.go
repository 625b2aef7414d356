package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "DRAFT"
	StatusActive    CampaignStatus = "ACTIVE"
	StatusExhausted CampaignStatus = "EXHAUSTED"
	StatusClosed    CampaignStatus = "CLOSED"
)

func (s CampaignStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusExhausted, StatusClosed:
		return true
	}
	return false
}

type Outcome string

const (
	OutcomeIssued            Outcome = "ISSUED"
	OutcomeRejectedExhausted Outcome = "REJECTED_EXHAUSTED"
	OutcomeRejectedDuplicate Outcome = "REJECTED_DUPLICATE"

	// OutcomeError is only ever written to the audit log.
	OutcomeError Outcome = "ERROR"
)

type Campaign struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          int             `json:"total"`
	Remaining      int             `json:"remaining"`
	Status         CampaignStatus  `json:"status"`
	StartsAt       *time.Time      `json:"starts_at,omitempty"`
	EndsAt         *time.Time      `json:"ends_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// InWindow reports whether t falls inside the campaign validity window.
// An unset bound is open.
func (c Campaign) InWindow(t time.Time) bool {
	if c.StartsAt != nil && t.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && t.After(*c.EndsAt) {
		return false
	}
	return true
}

// Claimable reports whether the coordinator may run its atomic unit against
// the campaign. EXHAUSTED is claimable: the result is a recorded rejection.
func (c Campaign) Claimable() bool {
	return c.Status == StatusActive || c.Status == StatusExhausted
}

type Claim struct {
	CampaignID  string    `json:"campaign_id"`
	RequesterID string    `json:"requester_id"`
	Outcome     Outcome   `json:"outcome"`
	Code        string    `json:"code"`
	IssuedAt    time.Time `json:"issued_at"`
}

type IssuanceResult struct {
	CampaignID  string    `json:"campaign_id"`
	RequesterID string    `json:"requester_id"`
	Outcome     Outcome   `json:"outcome"`
	Code        string    `json:"code,omitempty"`
	Remaining   int       `json:"remaining"`
	IssuedAt    time.Time `json:"issued_at"`
}

func (r IssuanceResult) Issued() bool {
	return r.Outcome == OutcomeIssued
}

type AuditEntry struct {
	ID          string    `json:"id"`
	CampaignID  string    `json:"campaign_id"`
	RequesterID string    `json:"requester_id"`
	Outcome     Outcome   `json:"outcome"`
	Code        string    `json:"code,omitempty"`
	Error       string    `json:"error,omitempty"`
	Remaining   int       `json:"remaining"`
	RecordedAt  time.Time `json:"recorded_at"`
}

type Reconciliation struct {
	CampaignID   string `json:"campaign_id"`
	Total        int    `json:"total"`
	Remaining    int    `json:"remaining"`
	IssuedClaims int    `json:"issued_claims"`
	Consistent   bool   `json:"consistent"`
}

package kafka

import (
	"errors"
	"time"

	"github.com/azizikri/coupon-issuance/internal/domain"
)

const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

// ErrCodeInvalidRequest is reserved for payloads that cannot be decoded.
const ErrCodeInvalidRequest = "INVALID_REQUEST"

type RequestPayload struct {
	SchemaVersion int    `json:"schema_version"`
	CorrelationID string `json:"correlation_id"`
	ReplyTo       string `json:"reply_to"`
	CampaignID    string `json:"campaign_id"`
	RequesterID   string `json:"requester_id"`
	Attempt       int    `json:"attempt,omitempty"`
	// DeadlineUnixMs carries the caller's deadline so the consumer does not
	// work past the point where nobody is waiting for the reply.
	DeadlineUnixMs int64 `json:"deadline_unix_ms,omitempty"`
}

func (r RequestPayload) validate() error {
	if r.CorrelationID == "" || r.ReplyTo == "" {
		return errors.New("correlation_id and reply_to are required")
	}
	if r.CampaignID == "" || r.RequesterID == "" {
		return errors.New("campaign_id and requester_id are required")
	}
	return nil
}

func (r RequestPayload) deadline() (time.Time, bool) {
	if r.DeadlineUnixMs <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(r.DeadlineUnixMs), true
}

type ResponsePayload struct {
	SchemaVersion int                    `json:"schema_version"`
	CorrelationID string                 `json:"correlation_id"`
	Status        string                 `json:"status"`
	ErrorCode     string                 `json:"error_code,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	Result        *domain.IssuanceResult `json:"result,omitempty"`
}

func successResponse(correlationID string, result domain.IssuanceResult) *ResponsePayload {
	return &ResponsePayload{
		SchemaVersion: SchemaVersion,
		CorrelationID: correlationID,
		Status:        StatusSuccess,
		Result:        &result,
	}
}

func errorResponse(correlationID, code, message string) *ResponsePayload {
	return &ResponsePayload{
		SchemaVersion: SchemaVersion,
		CorrelationID: correlationID,
		Status:        StatusError,
		ErrorCode:     code,
		ErrorMessage:  message,
	}
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/azizikri/coupon-issuance/internal/domain"
	"github.com/azizikri/coupon-issuance/internal/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// retryAfterSeconds is sent with every response for a retryable error.
const retryAfterSeconds = "1"

const maxBodyBytes = 1 << 20

type CreateCampaignRequest struct {
	Name           string          `json:"name"`
	Total          int             `json:"total"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	StartsAt       *time.Time      `json:"starts_at"`
	EndsAt         *time.Time      `json:"ends_at"`
	Activate       bool            `json:"activate"`
}

type RestockRequest struct {
	Amount int `json:"amount"`
}

type ClaimRequest struct {
	RequesterID string `json:"requester_id"`
}

type RegisterRequesterRequest struct {
	RequesterID string `json:"requester_id"`
}

type RequesterResponse struct {
	RequesterID string `json:"requester_id"`
	Registered  bool   `json:"registered"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RequesterRegistry manages the requesters allowed to claim.
type RequesterRegistry interface {
	Register(ctx context.Context, requesterID string) error
	Remove(ctx context.Context, requesterID string) error
	IsRegistered(ctx context.Context, requesterID string) (bool, error)
}

type Handler struct {
	issuer     usecase.ClaimIssuer
	campaigns  usecase.CampaignManager
	requesters RequesterRegistry
	logger     *zap.Logger
}

type Option func(*Handler)

// WithRequesterRegistry mounts the /api/requesters management routes.
func WithRequesterRegistry(r RequesterRegistry) Option {
	return func(h *Handler) { h.requesters = r }
}

func NewHandler(issuer usecase.ClaimIssuer, campaigns usecase.CampaignManager, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{issuer: issuer, campaigns: campaigns, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", h.CreateCampaign)
			r.Get("/", h.ListCampaigns)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCampaign)
				r.Post("/activate", h.ActivateCampaign)
				r.Post("/close", h.CloseCampaign)
				r.Post("/restock", h.RestockCampaign)
				r.Post("/claims", h.Claim)
				r.Get("/claims", h.ListCampaignClaims)
				r.Get("/claims/{requesterID}", h.GetClaim)
				r.Get("/audit", h.ListAudit)
				r.Get("/reconcile", h.Reconcile)
			})
		})
		r.Get("/requesters/{requesterID}/claims", h.ListRequesterClaims)
		if h.requesters != nil {
			r.Post("/requesters", h.RegisterRequester)
			r.Get("/requesters/{requesterID}", h.GetRequester)
			r.Delete("/requesters/{requesterID}", h.RemoveRequester)
		}
	})
}

func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if !h.decode(w, r, &req) {
		return
	}

	campaign, err := h.campaigns.CreateCampaign(r.Context(), usecase.CreateCampaignInput{
		Name:           req.Name,
		Total:          req.Total,
		DiscountAmount: req.DiscountAmount,
		StartsAt:       req.StartsAt,
		EndsAt:         req.EndsAt,
		Activate:       req.Activate,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.campaigns.ListCampaigns(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if campaigns == nil {
		campaigns = []domain.Campaign{}
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.campaigns.GetCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (h *Handler) ActivateCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.campaigns.Activate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (h *Handler) CloseCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.campaigns.Close(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (h *Handler) RestockCampaign(w http.ResponseWriter, r *http.Request) {
	var req RestockRequest
	if !h.decode(w, r, &req) {
		return
	}

	campaign, err := h.campaigns.Restock(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

// Claim runs one issuance attempt. Rejections are results and come back as
// 409 with the outcome in the body.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RequesterID) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: domain.CodeInvalidArgument, Message: "requester_id is required"})
		return
	}

	res, err := h.issuer.TryIssue(r.Context(), chi.URLParam(r, "id"), req.RequesterID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if res.Issued() {
		writeJSON(w, http.StatusCreated, res)
		return
	}
	writeJSON(w, http.StatusConflict, res)
}

func (h *Handler) ListCampaignClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := h.campaigns.ListClaimsByCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(claims))
}

func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	claim, err := h.campaigns.GetClaim(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "requesterID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

func (h *Handler) ListRequesterClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := h.campaigns.ListClaimsByRequester(r.Context(), chi.URLParam(r, "requesterID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(claims))
}

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.campaigns.ListAudit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.campaigns.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) RegisterRequester(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequesterRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.requesters.Register(r.Context(), req.RequesterID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, RequesterResponse{RequesterID: req.RequesterID, Registered: true})
}

func (h *Handler) GetRequester(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requesterID")
	ok, err := h.requesters.IsRegistered(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RequesterResponse{RequesterID: id, Registered: ok})
}

func (h *Handler) RemoveRequester(w http.ResponseWriter, r *http.Request) {
	if err := h.requesters.Remove(r.Context(), chi.URLParam(r, "requesterID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: domain.CodeInvalidArgument, Message: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: domain.CodeInvalidArgument, Message: "invalid request body"})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if domain.Retryable(err) {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}

	resp := ErrorResponse{Error: domain.ErrorCode(err), Message: err.Error()}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		resp.Message = "internal server error"
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrIneligible):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrClaimNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrOverload), errors.Is(err, domain.ErrContentionExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func nonNil(claims []domain.Claim) []domain.Claim {
	if claims == nil {
		return []domain.Claim{}
	}
	return claims
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

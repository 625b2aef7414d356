package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/azizikri/coupon-issuance/internal/domain"
)

type claimKey struct {
	campaignID  string
	requesterID string
}

type memCampaign struct {
	c       domain.Campaign
	version uint64
}

// MemoryStore is a process-local Store. Transactions run optimistically:
// reads record the campaign version, writes are buffered and validated at
// commit, and a stale read or a lost claim race aborts with ErrConflict.
type MemoryStore struct {
	mu         sync.RWMutex
	campaigns  map[string]*memCampaign
	claims     map[claimKey]domain.Claim
	claimOrder []claimKey
	codes      map[string]map[string]struct{}
	audit      map[string][]domain.AuditEntry
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns: make(map[string]*memCampaign),
		claims:    make(map[claimKey]domain.Claim),
		codes:     make(map[string]map[string]struct{}),
		audit:     make(map[string][]domain.AuditEntry),
		now:       time.Now,
	}
}

func (s *MemoryStore) ExecTx(ctx context.Context, fn func(Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		store:    s,
		read:     make(map[string]uint64),
		view:     make(map[string]domain.Campaign),
		dirty:    make(map[string]bool),
		inserted: make(map[claimKey]domain.Claim),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(ctx, tx)
}

func (s *MemoryStore) commit(ctx context.Context, tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	for id, v := range tx.read {
		rec, ok := s.campaigns[id]
		if !ok || rec.version != v {
			return fmt.Errorf("%w: campaign %s changed", ErrConflict, id)
		}
	}
	for _, k := range tx.order {
		c := tx.inserted[k]
		if _, ok := s.claims[k]; ok {
			return fmt.Errorf("%w: claim %s/%s exists", ErrConflict, k.campaignID, k.requesterID)
		}
		if _, ok := s.codes[c.CampaignID][c.Code]; ok {
			return fmt.Errorf("%w: code %s taken", ErrConflict, c.Code)
		}
	}
	for id := range tx.dirty {
		c := tx.view[id]
		if c.Total <= 0 || c.Remaining < 0 || c.Remaining > c.Total {
			return fmt.Errorf("%w: campaign %s remaining %d of %d", domain.ErrInvalidArgument, id, c.Remaining, c.Total)
		}
	}

	now := s.now()
	for id := range tx.dirty {
		rec := s.campaigns[id]
		c := tx.view[id]
		c.UpdatedAt = now
		rec.c = c
		rec.version++
	}
	for _, k := range tx.order {
		c := tx.inserted[k]
		s.claims[k] = c
		s.claimOrder = append(s.claimOrder, k)
		if s.codes[c.CampaignID] == nil {
			s.codes[c.CampaignID] = make(map[string]struct{})
		}
		s.codes[c.CampaignID][c.Code] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) CreateCampaign(ctx context.Context, arg CreateCampaignParams) (domain.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return domain.Campaign{}, err
	}
	if arg.Total <= 0 {
		return domain.Campaign{}, fmt.Errorf("%w: total must be positive", domain.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.campaigns[arg.ID]; ok {
		return domain.Campaign{}, fmt.Errorf("%w: campaign %s exists", ErrConflict, arg.ID)
	}
	now := s.now()
	c := domain.Campaign{
		ID:             arg.ID,
		Name:           arg.Name,
		DiscountAmount: arg.DiscountAmount,
		Total:          arg.Total,
		Remaining:      arg.Total,
		Status:         arg.Status,
		StartsAt:       arg.StartsAt,
		EndsAt:         arg.EndsAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.campaigns[arg.ID] = &memCampaign{c: c, version: 1}
	return c, nil
}

func (s *MemoryStore) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return domain.Campaign{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.campaigns[id]
	if !ok {
		return domain.Campaign{}, domain.ErrNotFound
	}
	return rec.c, nil
}

func (s *MemoryStore) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Campaign, 0, len(s.campaigns))
	for _, rec := range s.campaigns {
		out = append(out, rec.c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetClaim(ctx context.Context, campaignID, requesterID string) (domain.Claim, error) {
	if err := ctx.Err(); err != nil {
		return domain.Claim{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.claims[claimKey{campaignID, requesterID}]
	if !ok {
		return domain.Claim{}, domain.ErrClaimNotFound
	}
	return c, nil
}

func (s *MemoryStore) ListClaimsByCampaign(ctx context.Context, campaignID string) ([]domain.Claim, error) {
	return s.listClaims(ctx, func(k claimKey) bool { return k.campaignID == campaignID })
}

func (s *MemoryStore) ListClaimsByRequester(ctx context.Context, requesterID string) ([]domain.Claim, error) {
	return s.listClaims(ctx, func(k claimKey) bool { return k.requesterID == requesterID })
}

func (s *MemoryStore) listClaims(ctx context.Context, match func(claimKey) bool) ([]domain.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Claim, 0)
	for _, k := range s.claimOrder {
		if match(k) {
			out = append(out, s.claims[k])
		}
	}
	return out, nil
}

func (s *MemoryStore) CountIssuedClaims(ctx context.Context, campaignID string) (int, error) {
	claims, err := s.ListClaimsByCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range claims {
		if c.Outcome == domain.OutcomeIssued {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) InsertAuditEntry(ctx context.Context, entry domain.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit[entry.CampaignID] = append(s.audit[entry.CampaignID], entry)
	return nil
}

func (s *MemoryStore) ListAuditByCampaign(ctx context.Context, campaignID string) ([]domain.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditEntry, len(s.audit[campaignID]))
	copy(out, s.audit[campaignID])
	return out, nil
}

type memTx struct {
	store    *MemoryStore
	read     map[string]uint64
	view     map[string]domain.Campaign
	dirty    map[string]bool
	inserted map[claimKey]domain.Claim
	order    []claimKey
}

func (t *memTx) load(id string) (domain.Campaign, error) {
	if c, ok := t.view[id]; ok {
		return c, nil
	}
	t.store.mu.RLock()
	rec, ok := t.store.campaigns[id]
	var c domain.Campaign
	var v uint64
	if ok {
		c, v = rec.c, rec.version
	}
	t.store.mu.RUnlock()

	if !ok {
		return domain.Campaign{}, domain.ErrNotFound
	}
	t.read[id] = v
	t.view[id] = c
	return c, nil
}

func (t *memTx) LockCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return domain.Campaign{}, err
	}
	return t.load(id)
}

func (t *memTx) GetClaim(ctx context.Context, campaignID, requesterID string) (domain.Claim, error) {
	if err := ctx.Err(); err != nil {
		return domain.Claim{}, err
	}
	k := claimKey{campaignID, requesterID}
	if c, ok := t.inserted[k]; ok {
		return c, nil
	}
	return t.store.GetClaim(ctx, campaignID, requesterID)
}

func (t *memTx) DecrementIfPositive(ctx context.Context, id string) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	c, err := t.load(id)
	if err != nil {
		return 0, false, err
	}
	if c.Remaining <= 0 {
		return 0, false, nil
	}
	c.Remaining--
	t.view[id] = c
	t.dirty[id] = true
	return c.Remaining, true, nil
}

func (t *memTx) InsertClaimIfAbsent(ctx context.Context, arg InsertClaimParams) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	k := claimKey{arg.CampaignID, arg.RequesterID}
	if _, ok := t.inserted[k]; ok {
		return false, nil
	}
	if _, err := t.store.GetClaim(ctx, arg.CampaignID, arg.RequesterID); err == nil {
		return false, nil
	}
	t.inserted[k] = domain.Claim{
		CampaignID:  arg.CampaignID,
		RequesterID: arg.RequesterID,
		Outcome:     arg.Outcome,
		Code:        arg.Code,
		IssuedAt:    arg.IssuedAt,
	}
	t.order = append(t.order, k)
	return true, nil
}

func (t *memTx) UpdateCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) (domain.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return domain.Campaign{}, err
	}
	c, err := t.load(id)
	if err != nil {
		return domain.Campaign{}, err
	}
	c.Status = status
	t.view[id] = c
	t.dirty[id] = true
	return c, nil
}

func (t *memTx) Restock(ctx context.Context, id string, delta int) (domain.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return domain.Campaign{}, err
	}
	c, err := t.load(id)
	if err != nil {
		return domain.Campaign{}, err
	}
	c.Total += delta
	c.Remaining += delta
	t.view[id] = c
	t.dirty[id] = true
	return c, nil
}

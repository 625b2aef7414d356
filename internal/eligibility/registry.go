// Package eligibility keeps the set of requesters allowed to claim coupons.
package eligibility

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/azizikri/coupon-issuance/internal/domain"
	"github.com/redis/go-redis/v9"
)

const DefaultKey = "coupon:requesters"

// RedisRegistry stores registered requester ids in one Redis set, shared by
// every instance.
type RedisRegistry struct {
	rdb redis.Cmdable
	key string
}

func NewRedisRegistry(rdb redis.Cmdable, key string) *RedisRegistry {
	if key == "" {
		key = DefaultKey
	}
	return &RedisRegistry{rdb: rdb, key: key}
}

func (r *RedisRegistry) Register(ctx context.Context, requesterID string) error {
	if err := validID(requesterID); err != nil {
		return err
	}
	if err := r.rdb.SAdd(ctx, r.key, requesterID).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (r *RedisRegistry) Remove(ctx context.Context, requesterID string) error {
	if err := r.rdb.SRem(ctx, r.key, requesterID).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (r *RedisRegistry) IsRegistered(ctx context.Context, requesterID string) (bool, error) {
	ok, err := r.rdb.SIsMember(ctx, r.key, requesterID).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

// Check refuses requesters that were never registered.
func (r *RedisRegistry) Check(ctx context.Context, campaign domain.Campaign, requesterID string) error {
	ok, err := r.IsRegistered(ctx, requesterID)
	if err != nil {
		return err
	}
	if !ok {
		return ineligible(campaign.ID, requesterID)
	}
	return nil
}

// MemoryRegistry is the process-local registry used with the memory store.
type MemoryRegistry struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{ids: make(map[string]struct{})}
}

func (m *MemoryRegistry) Register(_ context.Context, requesterID string) error {
	if err := validID(requesterID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[requesterID] = struct{}{}
	return nil
}

func (m *MemoryRegistry) Remove(_ context.Context, requesterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ids, requesterID)
	return nil
}

func (m *MemoryRegistry) IsRegistered(_ context.Context, requesterID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ids[requesterID]
	return ok, nil
}

func (m *MemoryRegistry) Check(ctx context.Context, campaign domain.Campaign, requesterID string) error {
	ok, _ := m.IsRegistered(ctx, requesterID)
	if !ok {
		return ineligible(campaign.ID, requesterID)
	}
	return nil
}

func validID(requesterID string) error {
	if strings.TrimSpace(requesterID) == "" {
		return fmt.Errorf("%w: requester id is required", domain.ErrInvalidArgument)
	}
	return nil
}

func ineligible(campaignID, requesterID string) error {
	return fmt.Errorf("%w: requester %s is not registered (campaign %s)", domain.ErrIneligible, requesterID, campaignID)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: requester registry: %v", domain.ErrUnavailable, err)
}

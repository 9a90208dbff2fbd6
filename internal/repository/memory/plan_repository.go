package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/plan"
	"github.com/limiquantix/planner/internal/repository"
)

var (
	_ repository.PlanRepository = (*PlanRepository)(nil)
	_ repository.PlanCache      = (*PlanCache)(nil)
)

// PlanRepository is an in-memory implementation of the plan repository.
type PlanRepository struct {
	mu   sync.RWMutex
	data map[string]*domain.PlanRecord
}

// NewPlanRepository creates a new in-memory plan repository.
func NewPlanRepository() *PlanRepository {
	return &PlanRepository{
		data: make(map[string]*domain.PlanRecord),
	}
}

// Create stores a new plan record.
func (r *PlanRepository) Create(ctx context.Context, p *domain.PlanRecord) (*domain.PlanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if _, ok := r.data[p.ID]; ok {
		return nil, domain.ErrAlreadyExists
	}

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	stored := clonePlan(p)
	r.data[stored.ID] = stored
	return clonePlan(stored), nil
}

// Get retrieves a plan record by ID.
func (r *PlanRepository) Get(ctx context.Context, id string) (*domain.PlanRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clonePlan(p), nil
}

// List returns the records matching the filter, most recent first.
func (r *PlanRepository) List(ctx context.Context, filter domain.PlanFilter) ([]*domain.PlanRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.PlanRecord
	for _, p := range r.data {
		if filter.Matches(p) {
			result = append(result, clonePlan(p))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Update replaces an existing plan record.
func (r *PlanRepository) Update(ctx context.Context, p *domain.PlanRecord) (*domain.PlanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[p.ID]; !ok {
		return nil, domain.ErrNotFound
	}

	p.UpdatedAt = time.Now()
	stored := clonePlan(p)
	r.data[p.ID] = stored
	return clonePlan(stored), nil
}

// DeleteOld removes the final records created before olderThan.
func (r *PlanRepository) DeleteOld(ctx context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, p := range r.data {
		if p.IsFinal() && p.CreatedAt.Before(olderThan) {
			delete(r.data, id)
			n++
		}
	}
	return n, nil
}

func clonePlan(p *domain.PlanRecord) *domain.PlanRecord {
	clone := *p
	clone.Actions = append([]plan.Action(nil), p.Actions...)
	if p.Value != nil {
		v := *p.Value
		clone.Value = &v
	}
	if p.AppliedAt != nil {
		t := *p.AppliedAt
		clone.AppliedAt = &t
	}
	return &clone
}

// PlanCache is an in-memory plan cache with a fixed time to live.
type PlanCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	plan    *domain.PlanRecord
	expires time.Time
}

// NewPlanCache creates a cache whose entries expire after ttl.
func NewPlanCache(ttl time.Duration) *PlanCache {
	return &PlanCache{ttl: ttl, entries: make(map[string]cacheEntry), now: time.Now}
}

// GetPlan returns the cached plan of a fingerprint.
func (c *PlanCache) GetPlan(ctx context.Context, fingerprint string) (*domain.PlanRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if c.now().After(e.expires) {
		delete(c.entries, fingerprint)
		return nil, domain.ErrNotFound
	}
	return clonePlan(e.plan), nil
}

// SetPlan caches a plan.
func (c *PlanCache) SetPlan(ctx context.Context, fingerprint string, p *domain.PlanRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[fingerprint] = cacheEntry{plan: clonePlan(p), expires: c.now().Add(c.ttl)}
	return nil
}

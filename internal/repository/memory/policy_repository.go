package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/repository"
)

var _ repository.PolicyRepository = (*PolicyRepository)(nil)

// PolicyRepository is an in-memory implementation of the placement policy repository.
type PolicyRepository struct {
	mu   sync.RWMutex
	data map[string]*domain.PlacementPolicy
}

// NewPolicyRepository creates a new in-memory policy repository.
func NewPolicyRepository() *PolicyRepository {
	return &PolicyRepository{
		data: make(map[string]*domain.PlacementPolicy),
	}
}

// Create stores a new policy.
func (r *PolicyRepository) Create(ctx context.Context, p *domain.PlacementPolicy) (*domain.PlacementPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if _, ok := r.data[p.ID]; ok {
		return nil, domain.ErrAlreadyExists
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	stored := clonePolicy(p)
	r.data[stored.ID] = stored
	return clonePolicy(stored), nil
}

// Get retrieves a policy by ID.
func (r *PolicyRepository) Get(ctx context.Context, id string) (*domain.PlacementPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clonePolicy(p), nil
}

// List returns all policies in creation order.
func (r *PolicyRepository) List(ctx context.Context) ([]*domain.PlacementPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.PlacementPolicy, 0, len(r.data))
	for _, p := range r.data {
		result = append(result, clonePolicy(p))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Delete removes a policy by ID.
func (r *PolicyRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.data, id)
	return nil
}

func clonePolicy(p *domain.PlacementPolicy) *domain.PlacementPolicy {
	clone := *p
	clone.VMIDs = append([]string(nil), p.VMIDs...)
	clone.NodeIDs = append([]string(nil), p.NodeIDs...)
	clone.VMGroups = cloneGroups(p.VMGroups)
	clone.NodeGroups = cloneGroups(p.NodeGroups)
	return &clone
}

func cloneGroups(gs [][]string) [][]string {
	if gs == nil {
		return nil
	}
	res := make([][]string, len(gs))
	for i, g := range gs {
		res[i] = append([]string(nil), g...)
	}
	return res
}

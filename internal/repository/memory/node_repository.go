// Package memory provides in-memory repository implementations for development and testing.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/repository"
)

// Ensure NodeRepository implements repository.NodeRepository
var _ repository.NodeRepository = (*NodeRepository)(nil)

// NodeRepository is an in-memory implementation of the Node repository.
type NodeRepository struct {
	mu   sync.RWMutex
	data map[string]*domain.Node
}

// NewNodeRepository creates a new in-memory Node repository.
func NewNodeRepository() *NodeRepository {
	return &NodeRepository{
		data: make(map[string]*domain.Node),
	}
}

// Create stores a new node.
func (r *NodeRepository) Create(ctx context.Context, n *domain.Node) (*domain.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if _, ok := r.data[n.ID]; ok {
		return nil, domain.ErrAlreadyExists
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	stored := cloneNode(n)
	r.data[stored.ID] = stored

	return cloneNode(stored), nil
}

// Get retrieves a node by ID.
func (r *NodeRepository) Get(ctx context.Context, id string) (*domain.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return cloneNode(n), nil
}

// List returns all nodes ordered by ID.
func (r *NodeRepository) List(ctx context.Context) ([]*domain.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Node, 0, len(r.data))
	for _, n := range r.data {
		result = append(result, cloneNode(n))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

// Update updates an existing node.
func (r *NodeRepository) Update(ctx context.Context, n *domain.Node) (*domain.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[n.ID]; !ok {
		return nil, domain.ErrNotFound
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}

	n.UpdatedAt = time.Now()
	stored := cloneNode(n)
	r.data[n.ID] = stored

	return cloneNode(stored), nil
}

// Delete removes a node by ID.
func (r *NodeRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[id]; !ok {
		return domain.ErrNotFound
	}

	delete(r.data, id)
	return nil
}

// cloneNode creates a deep copy of a Node.
func cloneNode(n *domain.Node) *domain.Node {
	if n == nil {
		return nil
	}
	clone := *n
	clone.Labels = maps.Clone(n.Labels)
	if n.LastHeartbeat != nil {
		hb := *n.LastHeartbeat
		clone.LastHeartbeat = &hb
	}
	return &clone
}

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

// Ensure VMRepository implements repository.VMRepository
var _ repository.VMRepository = (*VMRepository)(nil)

// VMRepository is an in-memory implementation of the VM repository.
// It's useful for development and testing without requiring a database.
type VMRepository struct {
	mu   sync.RWMutex
	data map[string]*domain.VirtualMachine
}

// NewVMRepository creates a new in-memory VM repository.
func NewVMRepository() *VMRepository {
	return &VMRepository{
		data: make(map[string]*domain.VirtualMachine),
	}
}

// Create stores a new virtual machine.
func (r *VMRepository) Create(ctx context.Context, vm *domain.VirtualMachine) (*domain.VirtualMachine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if vm.ID == "" {
		vm.ID = uuid.New().String()
	}
	if _, ok := r.data[vm.ID]; ok {
		return nil, domain.ErrAlreadyExists
	}
	if err := vm.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	if vm.CreatedAt.IsZero() {
		vm.CreatedAt = now
	}
	vm.UpdatedAt = now

	stored := cloneVM(vm)
	r.data[stored.ID] = stored

	return cloneVM(stored), nil
}

// Get retrieves a virtual machine by ID.
func (r *VMRepository) Get(ctx context.Context, id string) (*domain.VirtualMachine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vm, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return cloneVM(vm), nil
}

// List returns all virtual machines ordered by ID.
func (r *VMRepository) List(ctx context.Context) ([]*domain.VirtualMachine, error) {
	return r.collect(func(*domain.VirtualMachine) bool { return true }), nil
}

// ListByNode returns the virtual machines hosted on a node.
func (r *VMRepository) ListByNode(ctx context.Context, nodeID string) ([]*domain.VirtualMachine, error) {
	return r.collect(func(vm *domain.VirtualMachine) bool {
		return vm.IsHosted() && vm.Status.NodeID == nodeID
	}), nil
}

func (r *VMRepository) collect(keep func(*domain.VirtualMachine) bool) []*domain.VirtualMachine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.VirtualMachine
	for _, vm := range r.data {
		if keep(vm) {
			result = append(result, cloneVM(vm))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Update updates an existing virtual machine.
func (r *VMRepository) Update(ctx context.Context, vm *domain.VirtualMachine) (*domain.VirtualMachine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[vm.ID]; !ok {
		return nil, domain.ErrNotFound
	}
	if err := vm.Validate(); err != nil {
		return nil, err
	}

	vm.UpdatedAt = time.Now()
	stored := cloneVM(vm)
	r.data[vm.ID] = stored

	return cloneVM(stored), nil
}

// Delete removes a virtual machine by ID.
func (r *VMRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[id]; !ok {
		return domain.ErrNotFound
	}

	delete(r.data, id)
	return nil
}

// cloneVM creates a deep copy of a VirtualMachine.
func cloneVM(vm *domain.VirtualMachine) *domain.VirtualMachine {
	if vm == nil {
		return nil
	}
	clone := *vm
	clone.Labels = maps.Clone(vm.Labels)
	return &clone
}

package repository

import (
	"context"
	"fmt"
	"sync"

	"cartsync/internal/domain"
	"cartsync/internal/errors"
)

// MemorySnapshotRepository keeps snapshots for the life of the process.
type MemorySnapshotRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart
}

func NewMemorySnapshotRepository() *MemorySnapshotRepository {
	return &MemorySnapshotRepository{carts: map[string]*domain.Cart{}}
}

func (r *MemorySnapshotRepository) Find(ctx context.Context, key string) (*domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cart, ok := r.carts[key]
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("cart snapshot for %s not found", key))
	}
	return cart.Clone(), nil
}

func (r *MemorySnapshotRepository) Save(ctx context.Context, key string, cart *domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[key] = cart.Clone()
	return nil
}

func (r *MemorySnapshotRepository) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, key)
	return nil
}

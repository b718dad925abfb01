package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"cartsync/internal/cart/facade"
	"cartsync/internal/cart/gateway"
	"cartsync/internal/cart/reducer"
	"cartsync/internal/domain"
	apperrors "cartsync/internal/errors"
)

const (
	saveQueueSize = 64
	saveTimeout   = 5 * time.Second
)

// SnapshotRepository stores the last server-confirmed cart per identity key.
// Find returns a *errors.NotFoundError when nothing was saved.
type SnapshotRepository interface {
	Find(ctx context.Context, key string) (*domain.Cart, error)
	Save(ctx context.Context, key string, cart *domain.Cart) error
	Delete(ctx context.Context, key string) error
}

// Factory builds the cart engine of one identity.
type Factory func(identity gateway.Identity) (*facade.Facade, error)

// Options bounds how many facades the registry keeps alive.
type Options struct {
	// IdleTimeout drops a facade not used for this long. Zero keeps facades
	// until Close.
	IdleTimeout time.Duration
	// MaxEntries caps the live facades; the least recently used one is
	// dropped to make room. Zero means no cap.
	MaxEntries int
}

type entry struct {
	key         string
	facade      *facade.Facade
	unsubscribe func()
	lastUsed    time.Time
}

type saveRequest struct {
	key  string
	cart *domain.Cart
}

// Registry owns one facade per shopper. Facades are created and loaded on
// first use, seeded from the snapshot repository, and every cart the server
// confirms is written back to it. Idle facades are dropped; their snapshots
// stay, so the next request seeds a new facade from them.
type Registry struct {
	factory   Factory
	snapshots SnapshotRepository
	opts      Options
	logger    *zap.Logger

	// mu guards the fields below.
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
	now     func() time.Time
	group   singleflight.Group

	saves chan saveRequest
	done  chan struct{}
	stop  chan struct{}
	sweep sync.WaitGroup
}

func NewRegistry(factory Factory, snapshots SnapshotRepository, opts Options, logger *zap.Logger) *Registry {
	r := &Registry{
		factory:   factory,
		snapshots: snapshots,
		opts:      opts,
		logger:    logger,
		entries:   map[string]*entry{},
		now:       time.Now,
		saves:     make(chan saveRequest, saveQueueSize),
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
	}
	go r.persistLoop()
	if opts.IdleTimeout > 0 {
		r.sweep.Add(1)
		go r.sweepLoop(opts.IdleTimeout / 2)
	}
	return r
}

// Get returns the facade of identity, building and loading it on first use.
// A failed first load still registers the facade; the failure is in its
// state.
func (r *Registry) Get(ctx context.Context, identity gateway.Identity) (*facade.Facade, error) {
	if identity.IsZero() {
		return nil, apperrors.NewValidationError("identity is required")
	}
	key := identity.Key()

	if f, ok, err := r.lookup(key); ok || err != nil {
		return f, err
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		if f, ok, err := r.lookup(key); ok || err != nil {
			return f, err
		}
		return r.create(ctx, identity)
	})
	if err != nil {
		return nil, err
	}
	return v.(*facade.Facade), nil
}

func (r *Registry) lookup(key string) (*facade.Facade, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, apperrors.NewInternalError("session registry is closed", nil)
	}
	e, ok := r.entries[key]
	if !ok {
		return nil, false, nil
	}
	e.lastUsed = r.now()
	return e.facade, true, nil
}

func (r *Registry) create(ctx context.Context, identity gateway.Identity) (*facade.Facade, error) {
	key := identity.Key()
	logger := r.logger.With(zap.String("identity", key))

	f, err := r.factory(identity)
	if err != nil {
		return nil, apperrors.NewInternalError("building cart engine", err)
	}

	snapshot, err := r.snapshots.Find(ctx, key)
	switch {
	case err == nil:
		f.Seed(snapshot)
		logger.Debug("seeded cart from snapshot", zap.Int("itemCount", snapshot.ItemCount))
	case isNotFound(err):
	default:
		logger.Warn("reading cart snapshot failed", zap.Error(err))
	}

	unsubscribe := f.Subscribe(r.persister(key, f.Cart()))

	if err := f.Load(ctx); err != nil {
		logger.Warn("initial cart load failed", zap.Error(err))
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		unsubscribe()
		f.Close()
		return nil, apperrors.NewInternalError("session registry is closed", nil)
	}
	r.entries[key] = &entry{key: key, facade: f, unsubscribe: unsubscribe, lastUsed: r.now()}
	evicted := r.evictOverflowLocked(key)
	r.mu.Unlock()

	r.release(evicted, "cart session evicted, registry full")
	logger.Info("cart session started")
	return f, nil
}

// persister queues every settled cart for saving. A state is settled when no
// optimistic operation is pending; only the server's carts reach it. seeded
// is already stored and is skipped. States older than one already seen are
// ignored so a late listener call cannot overwrite a newer cart.
func (r *Registry) persister(key string, seeded *domain.Cart) reducer.Listener {
	last := seeded
	var version uint64
	return func(state reducer.State) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if state.Version <= version {
			return
		}
		version = state.Version

		if r.closed || state.Cart == nil || len(state.OptimisticUpdates) > 0 || state.Cart == last {
			return
		}
		last = state.Cart
		select {
		case r.saves <- saveRequest{key: key, cart: state.Cart}:
		default:
			r.logger.Warn("snapshot queue full, dropping save", zap.String("identity", key))
		}
	}
}

func (r *Registry) persistLoop() {
	defer close(r.done)
	for req := range r.saves {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := r.snapshots.Save(ctx, req.key, req.cart); err != nil {
			r.logger.Error("saving cart snapshot failed", zap.String("identity", req.key), zap.Error(err))
		}
		cancel()
	}
}

// Reset clears the local cart of identity and forgets its snapshot. The
// server cart is untouched.
func (r *Registry) Reset(ctx context.Context, identity gateway.Identity) error {
	key := identity.Key()
	if f, ok, _ := r.lookup(key); ok {
		f.ClearCart()
	}
	if err := r.snapshots.Delete(ctx, key); err != nil {
		return err
	}
	return nil
}

// Drop stops and forgets the facade of identity. Its snapshot is kept.
func (r *Registry) Drop(identity gateway.Identity) {
	key := identity.Key()

	r.mu.Lock()
	e, ok := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()

	if !ok {
		return
	}
	r.release([]*entry{e}, "cart session dropped")
}

// EvictIdle drops every facade unused for longer than the idle timeout and
// returns how many went.
func (r *Registry) EvictIdle() int {
	if r.opts.IdleTimeout <= 0 {
		return 0
	}

	r.mu.Lock()
	cutoff := r.now().Add(-r.opts.IdleTimeout)
	var evicted []*entry
	for key, e := range r.entries {
		if e.lastUsed.Before(cutoff) {
			evicted = append(evicted, e)
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()

	r.release(evicted, "cart session evicted, idle")
	return len(evicted)
}

// evictOverflowLocked removes least recently used entries, never keep, until
// the cap holds. Callers hold r.mu.
func (r *Registry) evictOverflowLocked(keep string) []*entry {
	if r.opts.MaxEntries <= 0 {
		return nil
	}

	var evicted []*entry
	for len(r.entries) > r.opts.MaxEntries {
		var oldest *entry
		for key, e := range r.entries {
			if key == keep {
				continue
			}
			if oldest == nil || e.lastUsed.Before(oldest.lastUsed) {
				oldest = e
			}
		}
		if oldest == nil {
			break
		}
		delete(r.entries, oldest.key)
		evicted = append(evicted, oldest)
	}
	return evicted
}

// release stops facades already removed from the registry. It must not be
// called with r.mu held: the unsubscribe and Close calls reach into the
// facade.
func (r *Registry) release(entries []*entry, msg string) {
	for _, e := range entries {
		e.unsubscribe()
		e.facade.Close()
		r.logger.Info(msg, zap.String("identity", e.key))
	}
}

func (r *Registry) sweepLoop(interval time.Duration) {
	defer r.sweep.Done()
	if interval <= 0 {
		interval = r.opts.IdleTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if n := r.EvictIdle(); n > 0 {
				r.logger.Debug("idle cart sessions evicted", zap.Int("count", n))
			}
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops every facade and flushes queued snapshot saves.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := r.entries
	r.entries = map[string]*entry{}
	close(r.saves)
	close(r.stop)
	r.mu.Unlock()

	r.sweep.Wait()
	for _, e := range entries {
		e.unsubscribe()
		e.facade.Close()
	}
	<-r.done
}

func isNotFound(err error) bool {
	_, ok := apperrors.IsNotFoundError(err)
	return ok
}

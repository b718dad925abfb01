package session

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cartsync/internal/cart"
	"cartsync/internal/cart/facade"
	"cartsync/internal/cart/gateway"
	"cartsync/internal/cart/reducer"
	"cartsync/internal/domain"
	"cartsync/internal/dto"
	apperrors "cartsync/internal/errors"
	"cartsync/internal/session/repository"
	"cartsync/internal/testutil"
)

type mockSnapshotRepository struct {
	FindFunc   func(ctx context.Context, key string) (*domain.Cart, error)
	SaveFunc   func(ctx context.Context, key string, cart *domain.Cart) error
	DeleteFunc func(ctx context.Context, key string) error
}

func (m *mockSnapshotRepository) Find(ctx context.Context, key string) (*domain.Cart, error) {
	return m.FindFunc(ctx, key)
}

func (m *mockSnapshotRepository) Save(ctx context.Context, key string, cart *domain.Cart) error {
	return m.SaveFunc(ctx, key, cart)
}

func (m *mockSnapshotRepository) Delete(ctx context.Context, key string) error {
	return m.DeleteFunc(ctx, key)
}

func upstreamFactory(t *testing.T, upstream *testutil.Upstream, built *int32) Factory {
	return func(identity gateway.Identity) (*facade.Facade, error) {
		if built != nil {
			atomic.AddInt32(built, 1)
		}
		httpClient, err := gateway.NewHTTPClient(5 * time.Second)
		if err != nil {
			return nil, err
		}
		return cart.NewModule(cart.ModuleConfig{BaseURL: upstream.URL()}, httpClient, identity, zap.NewNop()), nil
	}
}

func snapshotOf(t *testing.T, repo SnapshotRepository, key string) *domain.Cart {
	t.Helper()
	c, err := repo.Find(context.Background(), key)
	if err != nil {
		return nil
	}
	return c
}

func TestRegistry_GetLoadsAndPersists(t *testing.T) {
	upstream := testutil.NewUpstream(t)
	repo := repository.NewMemorySnapshotRepository()
	var built int32
	registry := NewRegistry(upstreamFactory(t, upstream, &built), repo, Options{}, zap.NewNop())
	defer registry.Close()
	identity := gateway.Identity{SessionID: "sess-1"}
	ctx := context.Background()

	f, err := registry.Get(ctx, identity)
	require.NoError(t, err)
	require.NotNil(t, f.Cart())

	again, err := registry.Get(ctx, identity)
	require.NoError(t, err)
	assert.Same(t, f, again)
	assert.Equal(t, 1, registry.Len())
	assert.Equal(t, int32(1), atomic.LoadInt32(&built))

	require.NoError(t, f.AddToCart(ctx, dto.AddToCartRequest{VehicleID: "veh-2", ConfigurationID: "cfg", Quantity: 3}))

	require.Eventually(t, func() bool {
		snap := snapshotOf(t, repo, "session:sess-1")
		return snap != nil && snap.ItemCount == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegistry_ConcurrentGetBuildsOnce(t *testing.T) {
	upstream := testutil.NewUpstream(t)
	var built int32
	registry := NewRegistry(upstreamFactory(t, upstream, &built), repository.NewMemorySnapshotRepository(), Options{}, zap.NewNop())
	defer registry.Close()
	identity := gateway.Identity{UserID: "user-1"}

	var wg sync.WaitGroup
	facades := make([]*facade.Facade, 8)
	for i := range facades {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := registry.Get(context.Background(), identity)
			assert.NoError(t, err)
			facades[i] = f
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&built))
	for _, f := range facades {
		assert.Same(t, facades[0], f)
	}
}

func TestRegistry_SeedsFromSnapshotWhenLoadFails(t *testing.T) {
	upstream := testutil.NewUpstream(t)
	repo := repository.NewMemorySnapshotRepository()
	persisted := &domain.Cart{ID: "cart-old", ItemCount: 2, Items: []domain.CartItem{{ID: "item-1", Quantity: 2}}}
	require.NoError(t, repo.Save(context.Background(), "user:user-9", persisted))
	upstream.FailNext(http.MethodGet, "/api/v1/cart", http.StatusServiceUnavailable, nil)

	registry := NewRegistry(upstreamFactory(t, upstream, nil), repo, Options{}, zap.NewNop())
	defer registry.Close()

	f, err := registry.Get(context.Background(), gateway.Identity{UserID: "user-9"})

	require.NoError(t, err)
	assert.Equal(t, "cart-old", f.Cart().ID)
	assert.Equal(t, 2, f.ItemCount())
	require.NotNil(t, f.Error())
	assert.Equal(t, apperrors.CartValidationError, f.Error().Type)
}

func TestRegistry_SnapshotReadFailureStillLoads(t *testing.T) {
	upstream := testutil.NewUpstream(t)
	repo := &mockSnapshotRepository{
		FindFunc: func(ctx context.Context, key string) (*domain.Cart, error) {
			return nil, stderrors.New("redis down")
		},
		SaveFunc: func(ctx context.Context, key string, cart *domain.Cart) error {
			return stderrors.New("redis down")
		},
	}
	registry := NewRegistry(upstreamFactory(t, upstream, nil), repo, Options{}, zap.NewNop())
	defer registry.Close()

	f, err := registry.Get(context.Background(), gateway.Identity{SessionID: "sess-2"})

	require.NoError(t, err)
	assert.NotNil(t, f.Cart())
	assert.Nil(t, f.Error())
}

func TestRegistry_RejectsZeroIdentity(t *testing.T) {
	registry := NewRegistry(upstreamFactory(t, testutil.NewUpstream(t), nil), repository.NewMemorySnapshotRepository(), Options{}, zap.NewNop())
	defer registry.Close()

	_, err := registry.Get(context.Background(), gateway.Identity{})

	_, ok := apperrors.IsValidationError(err)
	assert.True(t, ok)
}

func TestRegistry_FactoryError(t *testing.T) {
	factory := func(identity gateway.Identity) (*facade.Facade, error) {
		return nil, stderrors.New("no upstream")
	}
	registry := NewRegistry(factory, repository.NewMemorySnapshotRepository(), Options{}, zap.NewNop())
	defer registry.Close()

	_, err := registry.Get(context.Background(), gateway.Identity{SessionID: "sess-3"})

	var internal *apperrors.InternalError
	assert.ErrorAs(t, err, &internal)
	assert.Zero(t, registry.Len())
}

func TestRegistry_DropAndReset(t *testing.T) {
	upstream := testutil.NewUpstream(t)
	repo := repository.NewMemorySnapshotRepository()
	var built int32
	registry := NewRegistry(upstreamFactory(t, upstream, &built), repo, Options{}, zap.NewNop())
	defer registry.Close()
	identity := gateway.Identity{SessionID: "sess-4"}
	ctx := context.Background()

	f, err := registry.Get(ctx, identity)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return snapshotOf(t, repo, identity.Key()) != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, registry.Reset(ctx, identity))
	assert.Nil(t, f.Cart())
	assert.Nil(t, snapshotOf(t, repo, identity.Key()))

	registry.Drop(identity)
	assert.Zero(t, registry.Len())

	next, err := registry.Get(ctx, identity)
	require.NoError(t, err)
	assert.NotSame(t, f, next)
	assert.Equal(t, int32(2), atomic.LoadInt32(&built))
}

func TestRegistry_CloseFlushesAndRefuses(t *testing.T) {
	upstream := testutil.NewUpstream(t)
	var mu sync.Mutex
	saved := map[string]*domain.Cart{}
	repo := &mockSnapshotRepository{
		FindFunc: func(ctx context.Context, key string) (*domain.Cart, error) {
			return nil, apperrors.NewNotFoundError("none")
		},
		SaveFunc: func(ctx context.Context, key string, cart *domain.Cart) error {
			mu.Lock()
			defer mu.Unlock()
			saved[key] = cart
			return nil
		},
	}
	registry := NewRegistry(upstreamFactory(t, upstream, nil), repo, Options{}, zap.NewNop())

	_, err := registry.Get(context.Background(), gateway.Identity{SessionID: "sess-5"})
	require.NoError(t, err)

	registry.Close()
	registry.Close()

	mu.Lock()
	assert.Contains(t, saved, "session:sess-5")
	mu.Unlock()

	_, err = registry.Get(context.Background(), gateway.Identity{SessionID: "sess-5"})
	assert.Error(t, err)
	assert.Zero(t, registry.Len())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func useClock(r *Registry, clock *fakeClock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = clock.Now
}

func TestRegistry_EvictsIdleSessions(t *testing.T) {
	upstream := testutil.NewUpstream(t)
	repo := repository.NewMemorySnapshotRepository()
	var built int32
	registry := NewRegistry(upstreamFactory(t, upstream, &built), repo, Options{IdleTimeout: 10 * time.Minute}, zap.NewNop())
	defer registry.Close()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	useClock(registry, clock)
	ctx := context.Background()
	active := gateway.Identity{SessionID: "active"}
	idle := gateway.Identity{SessionID: "idle"}

	_, err := registry.Get(ctx, active)
	require.NoError(t, err)
	idleFacade, err := registry.Get(ctx, idle)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return snapshotOf(t, repo, idle.Key()) != nil
	}, 2*time.Second, 10*time.Millisecond)

	clock.Advance(6 * time.Minute)
	_, err = registry.Get(ctx, active)
	require.NoError(t, err)
	assert.Zero(t, registry.EvictIdle())

	clock.Advance(6 * time.Minute)
	assert.Equal(t, 1, registry.EvictIdle())
	assert.Equal(t, 1, registry.Len())
	assert.NotNil(t, snapshotOf(t, repo, idle.Key()))

	again, err := registry.Get(ctx, idle)
	require.NoError(t, err)
	assert.NotSame(t, idleFacade, again)
	assert.Equal(t, int32(3), atomic.LoadInt32(&built))
}

func TestRegistry_MaxEntriesDropsLeastRecentlyUsed(t *testing.T) {
	upstream := testutil.NewUpstream(t)
	var built int32
	registry := NewRegistry(upstreamFactory(t, upstream, &built), repository.NewMemorySnapshotRepository(), Options{MaxEntries: 2}, zap.NewNop())
	defer registry.Close()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	useClock(registry, clock)
	ctx := context.Background()
	a := gateway.Identity{SessionID: "a"}
	b := gateway.Identity{SessionID: "b"}
	c := gateway.Identity{SessionID: "c"}

	for _, identity := range []gateway.Identity{a, b, a, c} {
		_, err := registry.Get(ctx, identity)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	assert.Equal(t, 2, registry.Len())
	assert.Equal(t, int32(3), atomic.LoadInt32(&built))

	_, err := registry.Get(ctx, a)
	require.NoError(t, err)
	_, err = registry.Get(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&built))

	_, err = registry.Get(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&built))
	assert.Equal(t, 2, registry.Len())
}

func TestRegistry_SweepDropsIdleSessions(t *testing.T) {
	upstream := testutil.NewUpstream(t)
	registry := NewRegistry(upstreamFactory(t, upstream, nil), repository.NewMemorySnapshotRepository(), Options{IdleTimeout: 50 * time.Millisecond}, zap.NewNop())
	defer registry.Close()

	for i := 0; i < 5; i++ {
		_, err := registry.Get(context.Background(), gateway.Identity{SessionID: "sweep-" + string(rune('a'+i))})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return registry.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegistry_PersisterIgnoresOverlappedStates(t *testing.T) {
	saved := make(chan *domain.Cart, 4)
	repo := &mockSnapshotRepository{
		SaveFunc: func(ctx context.Context, key string, cart *domain.Cart) error {
			saved <- cart
			return nil
		},
	}
	registry := NewRegistry(nil, repo, Options{}, zap.NewNop())
	persist := registry.persister("user:u-1", nil)

	newer := &domain.Cart{ID: "cart-1", ItemCount: 3}
	older := &domain.Cart{ID: "cart-1", ItemCount: 1}
	persist(reducer.State{Cart: newer, Version: 5})
	persist(reducer.State{Cart: older, Version: 4})
	persist(reducer.State{Cart: older, Version: 5})

	registry.Close()
	close(saved)

	var got []*domain.Cart
	for c := range saved {
		got = append(got, c)
	}
	require.Len(t, got, 1)
	assert.Same(t, newer, got[0])
}

package facade

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cartsync/internal/cart/reducer"
	"cartsync/internal/domain"
	"cartsync/internal/dto"
	apperrors "cartsync/internal/errors"
)

type mockMutators struct {
	calls []string
	err   error
}

func (m *mockMutators) AddToCart(ctx context.Context, req dto.AddToCartRequest) error {
	m.calls = append(m.calls, "add:"+req.VehicleID)
	return m.err
}

func (m *mockMutators) UpdateQuantity(ctx context.Context, itemID string, quantity int) error {
	m.calls = append(m.calls, "update:"+itemID)
	return m.err
}

func (m *mockMutators) RemoveItem(ctx context.Context, itemID string) error {
	m.calls = append(m.calls, "remove:"+itemID)
	return m.err
}

func (m *mockMutators) ApplyPromotionalCode(ctx context.Context, code string) error {
	m.calls = append(m.calls, "promo:"+code)
	return m.err
}

type mockQueries struct {
	FetchFunc func(ctx context.Context) (*domain.Cart, error)
	refetches int
	closed    bool
}

func (m *mockQueries) Fetch(ctx context.Context) (*domain.Cart, error) {
	return m.FetchFunc(ctx)
}

func (m *mockQueries) Refetch()                { m.refetches++ }
func (m *mockQueries) Run(ctx context.Context) { <-ctx.Done() }
func (m *mockQueries) Close()                  { m.closed = true }

func newTestFacade(t *testing.T, queries *mockQueries, mutators *mockMutators) (*Facade, *reducer.Store) {
	t.Helper()
	store := reducer.NewStore(zap.NewNop())
	f := New(Dependencies{Store: store, Mutators: mutators, Queries: queries, Logger: zap.NewNop()})
	t.Cleanup(f.Close)
	return f, store
}

func TestNew_PanicsWithoutDependencies(t *testing.T) {
	store := reducer.NewStore(zap.NewNop())

	assert.PanicsWithValue(t, "facade: Store is required", func() {
		New(Dependencies{Mutators: &mockMutators{}, Queries: &mockQueries{}, Logger: zap.NewNop()})
	})
	assert.PanicsWithValue(t, "facade: Mutators is required", func() {
		New(Dependencies{Store: store, Queries: &mockQueries{}, Logger: zap.NewNop()})
	})
	assert.PanicsWithValue(t, "facade: Queries is required", func() {
		New(Dependencies{Store: store, Mutators: &mockMutators{}, Logger: zap.NewNop()})
	})
	assert.PanicsWithValue(t, "facade: Logger is required", func() {
		New(Dependencies{Store: store, Mutators: &mockMutators{}, Queries: &mockQueries{}})
	})
}

func TestFacade_DefaultsWithoutCart(t *testing.T) {
	f, _ := newTestFacade(t, &mockQueries{}, &mockMutators{})

	assert.Nil(t, f.Cart())
	assert.Zero(t, f.ItemCount())
	assert.Zero(t, f.Subtotal())
	assert.Zero(t, f.Total())
	assert.False(t, f.HasItems())
	assert.False(t, f.HasPromotionalCode())
	assert.False(t, f.IsLoading())
	assert.Nil(t, f.Error())

	view := f.View()
	assert.Equal(t, dto.CartView{Pending: []string{}}, view)
}

func TestFacade_DerivedValues(t *testing.T) {
	f, store := newTestFacade(t, &mockQueries{}, &mockMutators{})
	store.Dispatch(reducer.SetCart{Cart: &domain.Cart{
		ID:              "cart-1",
		Items:           []domain.CartItem{{ID: "item-1", Quantity: 2, UnitPrice: 10, TotalPrice: 20}},
		ItemCount:       2,
		Subtotal:        20,
		Tax:             2,
		Discount:        4,
		Total:           18,
		PromotionalCode: "SAVE20",
	}})

	assert.Equal(t, 2, f.ItemCount())
	assert.Equal(t, 20.0, f.Subtotal())
	assert.Equal(t, 18.0, f.Total())
	assert.True(t, f.HasItems())
	assert.True(t, f.HasPromotionalCode())

	store.Dispatch(reducer.UpdateItemOptimistic{ItemID: "item-1", Quantity: 3})
	view := f.View()
	assert.Equal(t, 3, view.ItemCount)
	assert.Equal(t, []string{"item-1"}, view.Pending)
}

func TestFacade_LoadSuccessTogglesLoading(t *testing.T) {
	var f *Facade
	var loadingDuringFetch bool
	queries := &mockQueries{}
	f, store := newTestFacade(t, queries, &mockMutators{})
	queries.FetchFunc = func(ctx context.Context) (*domain.Cart, error) {
		loadingDuringFetch = f.IsLoading()
		cart := &domain.Cart{ID: "cart-1"}
		store.Dispatch(reducer.SetCart{Cart: cart})
		return cart, nil
	}

	require.NoError(t, f.Load(context.Background()))

	assert.True(t, loadingDuringFetch)
	assert.False(t, f.IsLoading())
	assert.Equal(t, "cart-1", f.Cart().ID)
}

func TestFacade_LoadFailureStoresError(t *testing.T) {
	queries := &mockQueries{FetchFunc: func(ctx context.Context) (*domain.Cart, error) {
		return nil, apperrors.NewHTTPError(503, "Cart service unavailable", "")
	}}
	f, _ := newTestFacade(t, queries, &mockMutators{})

	err := f.Load(context.Background())

	ce, ok := apperrors.IsCartError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CartValidationError, ce.Type)
	assert.Equal(t, "Cart service unavailable", ce.Message)
	assert.Same(t, ce, f.Error())
	assert.False(t, f.IsLoading())
}

func TestFacade_SeedOnlyWhenEmpty(t *testing.T) {
	f, _ := newTestFacade(t, &mockQueries{}, &mockMutators{})

	f.Seed(nil)
	assert.Nil(t, f.Cart())

	f.Seed(&domain.Cart{ID: "persisted"})
	assert.Equal(t, "persisted", f.Cart().ID)

	f.Seed(&domain.Cart{ID: "other"})
	assert.Equal(t, "persisted", f.Cart().ID)
}

func TestFacade_DelegatesMutations(t *testing.T) {
	mutators := &mockMutators{err: errors.New("x")}
	f, _ := newTestFacade(t, &mockQueries{}, mutators)
	ctx := context.Background()

	assert.Error(t, f.AddToCart(ctx, dto.AddToCartRequest{VehicleID: "veh-1"}))
	assert.Error(t, f.UpdateQuantity(ctx, "item-1", 2))
	assert.Error(t, f.RemoveItem(ctx, "item-2"))
	assert.Error(t, f.ApplyPromotionalCode(ctx, "SAVE20"))
	assert.Error(t, f.RemovePromotionalCode(ctx))

	assert.Equal(t, []string{"add:veh-1", "update:item-1", "remove:item-2", "promo:SAVE20", "promo:"}, mutators.calls)
}

func TestFacade_ClearAndRefresh(t *testing.T) {
	queries := &mockQueries{}
	f, store := newTestFacade(t, queries, &mockMutators{})
	store.Dispatch(reducer.SetCart{Cart: &domain.Cart{ID: "cart-1", ItemCount: 1}})

	var states []reducer.State
	unsubscribe := f.Subscribe(func(s reducer.State) { states = append(states, s) })
	defer unsubscribe()

	f.ClearCart()
	f.RefreshCart()

	assert.Nil(t, f.Cart())
	assert.Equal(t, 1, queries.refetches)
	require.Len(t, states, 1)
	assert.Nil(t, states[0].Cart)
}

func TestFacade_CloseStopsQueries(t *testing.T) {
	queries := &mockQueries{}
	store := reducer.NewStore(zap.NewNop())
	f := New(Dependencies{Store: store, Mutators: &mockMutators{}, Queries: queries, Logger: zap.NewNop()})

	f.Close()

	assert.True(t, queries.closed)
}

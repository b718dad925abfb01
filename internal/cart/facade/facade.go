package facade

import (
	"context"

	"go.uber.org/zap"

	"cartsync/internal/cart/reducer"
	"cartsync/internal/domain"
	"cartsync/internal/dto"
	apperrors "cartsync/internal/errors"
)

type Mutators interface {
	AddToCart(ctx context.Context, req dto.AddToCartRequest) error
	UpdateQuantity(ctx context.Context, itemID string, quantity int) error
	RemoveItem(ctx context.Context, itemID string) error
	ApplyPromotionalCode(ctx context.Context, code string) error
}

type Queries interface {
	Fetch(ctx context.Context) (*domain.Cart, error)
	Refetch()
	Run(ctx context.Context)
	Close()
}

type Dependencies struct {
	Store    *reducer.Store
	Mutators Mutators
	Queries  Queries
	Logger   *zap.Logger
}

// Facade is the read and write surface of one shopper's cart.
type Facade struct {
	store    *reducer.Store
	mutators Mutators
	queries  Queries
	logger   *zap.Logger
	stop     context.CancelFunc
	done     chan struct{}
}

// New panics when a dependency is missing: a facade without its store or
// gateway is a wiring bug, not a runtime condition.
func New(deps Dependencies) *Facade {
	switch {
	case deps.Store == nil:
		panic("facade: Store is required")
	case deps.Mutators == nil:
		panic("facade: Mutators is required")
	case deps.Queries == nil:
		panic("facade: Queries is required")
	case deps.Logger == nil:
		panic("facade: Logger is required")
	}

	ctx, stop := context.WithCancel(context.Background())
	f := &Facade{
		store:    deps.Store,
		mutators: deps.Mutators,
		queries:  deps.Queries,
		logger:   deps.Logger,
		stop:     stop,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(f.done)
		f.queries.Run(ctx)
	}()
	return f
}

// Load fetches the cart from the server. Failures are stored as a
// VALIDATION_ERROR and returned.
func (f *Facade) Load(ctx context.Context) error {
	f.store.Dispatch(reducer.SetLoading{Loading: true})
	defer f.store.Dispatch(reducer.SetLoading{Loading: false})

	if _, err := f.queries.Fetch(ctx); err != nil {
		cartErr := apperrors.NewCartError(apperrors.CartValidationError, messageOf(err, "Failed to fetch cart"), err)
		f.store.Dispatch(reducer.SetError{Err: cartErr})
		f.logger.Warn("loading cart failed", zap.Error(err))
		return cartErr
	}
	return nil
}

// Seed shows a previously confirmed cart until the first load completes.
func (f *Facade) Seed(cart *domain.Cart) {
	if cart == nil || f.store.State().Cart != nil {
		return
	}
	f.store.Dispatch(reducer.SetCart{Cart: cart})
}

func (f *Facade) State() reducer.State {
	return f.store.State()
}

func (f *Facade) Cart() *domain.Cart {
	return f.store.State().Cart
}

func (f *Facade) ItemCount() int {
	if cart := f.Cart(); cart != nil {
		return cart.ItemCount
	}
	return 0
}

func (f *Facade) Subtotal() float64 {
	if cart := f.Cart(); cart != nil {
		return cart.Subtotal
	}
	return 0
}

func (f *Facade) Total() float64 {
	if cart := f.Cart(); cart != nil {
		return cart.Total
	}
	return 0
}

func (f *Facade) HasItems() bool {
	return f.ItemCount() > 0
}

func (f *Facade) HasPromotionalCode() bool {
	return f.Cart().HasPromotionalCode()
}

func (f *Facade) IsLoading() bool {
	return f.store.State().IsLoading
}

func (f *Facade) Error() *apperrors.CartError {
	return f.store.State().Error
}

// View derives every read value from a single state so they agree with each
// other.
func (f *Facade) View() dto.CartView {
	return ViewOf(f.store.State())
}

func ViewOf(state reducer.State) dto.CartView {
	view := dto.CartView{
		Cart:      state.Cart,
		IsLoading: state.IsLoading,
		Error:     state.Error,
		Pending:   state.PendingKeys(),
	}
	if state.Cart != nil {
		view.ItemCount = state.Cart.ItemCount
		view.Subtotal = state.Cart.Subtotal
		view.Total = state.Cart.Total
		view.HasItems = state.Cart.ItemCount > 0
		view.HasPromotionalCode = state.Cart.HasPromotionalCode()
	}
	return view
}

func (f *Facade) AddToCart(ctx context.Context, req dto.AddToCartRequest) error {
	return f.mutators.AddToCart(ctx, req)
}

func (f *Facade) UpdateQuantity(ctx context.Context, itemID string, quantity int) error {
	return f.mutators.UpdateQuantity(ctx, itemID, quantity)
}

func (f *Facade) RemoveItem(ctx context.Context, itemID string) error {
	return f.mutators.RemoveItem(ctx, itemID)
}

func (f *Facade) ApplyPromotionalCode(ctx context.Context, code string) error {
	return f.mutators.ApplyPromotionalCode(ctx, code)
}

func (f *Facade) RemovePromotionalCode(ctx context.Context) error {
	return f.mutators.ApplyPromotionalCode(ctx, "")
}

// ClearCart empties the local view only; the server cart is untouched.
func (f *Facade) ClearCart() {
	f.store.Dispatch(reducer.ClearCart{})
}

// RefreshCart revalidates the cart in the background.
func (f *Facade) RefreshCart() {
	f.queries.Refetch()
}

// Subscribe registers a listener for every state change. Listeners run
// synchronously and must not call back into the facade.
func (f *Facade) Subscribe(l reducer.Listener) (unsubscribe func()) {
	return f.store.Subscribe(l)
}

// Close stops background revalidation and waits for in-flight refetches.
func (f *Facade) Close() {
	f.stop()
	<-f.done
	f.queries.Close()
}

func messageOf(err error, fallback string) string {
	if he, ok := apperrors.IsHTTPError(err); ok && he.Message != "" {
		return he.Message
	}
	return fallback
}

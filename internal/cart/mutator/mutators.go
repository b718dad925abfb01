package mutator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"cartsync/internal/cart/reducer"
	"cartsync/internal/domain"
	"cartsync/internal/dto"
	apperrors "cartsync/internal/errors"
)

type Gateway interface {
	AddItem(ctx context.Context, req dto.AddToCartRequest) (*domain.Cart, error)
	UpdateItem(ctx context.Context, itemID string, req dto.UpdateCartItemRequest) (*domain.Cart, error)
	RemoveItem(ctx context.Context, itemID string) (*domain.Cart, error)
	ApplyPromotionalCode(ctx context.Context, code string) (*domain.Cart, error)
	RemovePromotionalCode(ctx context.Context) (*domain.Cart, error)
}

type Store interface {
	Dispatch(action reducer.Action) reducer.State
	State() reducer.State
	Snapshot(key string) (*domain.Cart, bool)
}

// Queries is the slice of the cart query the mutators drive.
type Queries interface {
	Cancel()
	Invalidate()
}

type Mutators struct {
	store   Store
	gateway Gateway
	queries Queries
	logger  *zap.Logger
	now     func() time.Time
}

func New(store Store, gateway Gateway, queries Queries, logger *zap.Logger) *Mutators {
	return &Mutators{
		store:   store,
		gateway: gateway,
		queries: queries,
		logger:  logger,
		now:     time.Now,
	}
}

type operation struct {
	name       string
	key        string
	optimistic reducer.Action
	call       func(ctx context.Context) (*domain.Cart, error)
	classify   func(err error) *apperrors.CartError
}

// AddToCart speculatively appends a temp item priced at zero; the price is
// only known once the server answers.
func (m *Mutators) AddToCart(ctx context.Context, req dto.AddToCartRequest) error {
	now := m.now()
	tempID := domain.NewTempItemID(now)

	var cartID string
	if cart := m.store.State().Cart; cart != nil {
		cartID = cart.ID
	}

	item := domain.CartItem{
		ID:              tempID,
		CartID:          cartID,
		VehicleID:       req.VehicleID,
		ConfigurationID: req.ConfigurationID,
		Quantity:        req.Quantity,
		UnitPrice:       0,
		TotalPrice:      0,
		Status:          domain.ItemStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	return m.run(ctx, operation{
		name:       "add to cart",
		key:        tempID,
		optimistic: reducer.AddItemOptimistic{Item: item, TempID: tempID},
		call: func(ctx context.Context) (*domain.Cart, error) {
			return m.gateway.AddItem(ctx, req)
		},
		classify: validationError("Failed to add item to cart"),
	})
}

// UpdateQuantity does not validate quantity; bounds and no-op detection
// belong to the caller.
func (m *Mutators) UpdateQuantity(ctx context.Context, itemID string, quantity int) error {
	return m.run(ctx, operation{
		name:       "update cart item",
		key:        itemID,
		optimistic: reducer.UpdateItemOptimistic{ItemID: itemID, Quantity: quantity},
		call: func(ctx context.Context) (*domain.Cart, error) {
			return m.gateway.UpdateItem(ctx, itemID, dto.UpdateCartItemRequest{Quantity: quantity})
		},
		classify: validationError("Failed to update cart item"),
	})
}

func (m *Mutators) RemoveItem(ctx context.Context, itemID string) error {
	return m.run(ctx, operation{
		name:       "remove cart item",
		key:        itemID,
		optimistic: reducer.RemoveItemOptimistic{ItemID: itemID},
		call: func(ctx context.Context) (*domain.Cart, error) {
			return m.gateway.RemoveItem(ctx, itemID)
		},
		classify: validationError("Failed to remove cart item"),
	})
}

// ApplyPromotionalCode applies code, or removes the current one when code is
// empty. Only the code is speculated; discount and total wait for the server.
func (m *Mutators) ApplyPromotionalCode(ctx context.Context, code string) error {
	name := "apply promotional code"
	call := func(ctx context.Context) (*domain.Cart, error) {
		return m.gateway.ApplyPromotionalCode(ctx, code)
	}
	if code == "" {
		name = "remove promotional code"
		call = m.gateway.RemovePromotionalCode
	}

	return m.run(ctx, operation{
		name:       name,
		key:        reducer.PromoKey,
		optimistic: reducer.ApplyPromoOptimistic{Code: code},
		call:       call,
		classify:   promotionalError,
	})
}

func (m *Mutators) run(ctx context.Context, op operation) error {
	logger := m.logger.With(zap.String("operation", op.name), zap.String("key", op.key))

	m.queries.Cancel()
	m.store.Dispatch(op.optimistic)

	cart, err := op.call(ctx)
	if err != nil {
		cartErr := op.classify(err)
		if snapshot, ok := m.store.Snapshot(op.key); ok {
			m.store.Dispatch(reducer.RollbackOptimistic{PreviousCart: snapshot})
			logger.Warn("cart mutation failed, rolled back", zap.String("errorType", string(cartErr.Type)), zap.Error(err))
		} else {
			logger.Warn("cart mutation failed, no snapshot to restore", zap.String("errorType", string(cartErr.Type)), zap.Error(err))
		}
		m.store.Dispatch(reducer.SetError{Err: cartErr})
		return cartErr
	}

	m.store.Dispatch(reducer.SetCart{Cart: cart})
	m.queries.Invalidate()
	logger.Debug("cart mutation confirmed", zap.Int("itemCount", cart.ItemCount))
	return nil
}

func validationError(fallback string) func(error) *apperrors.CartError {
	return func(err error) *apperrors.CartError {
		return apperrors.NewCartError(apperrors.CartValidationError, messageOf(err, fallback), err)
	}
}

func promotionalError(err error) *apperrors.CartError {
	code := ""
	if he, ok := apperrors.IsHTTPError(err); ok {
		code = he.Code
	}
	errType := apperrors.ParsePromotionalErrorType(code)
	return apperrors.NewCartError(errType, messageOf(err, "Failed to apply promotional code"), err)
}

// messageOf prefers the upstream's message; transport failures get the
// operation's generic message.
func messageOf(err error, fallback string) string {
	if he, ok := apperrors.IsHTTPError(err); ok && he.Message != "" {
		return he.Message
	}
	return fallback
}

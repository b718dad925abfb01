package reducer

import (
	"cartsync/internal/domain"
	apperrors "cartsync/internal/errors"
)

// Action is a cart state transition. The set is closed: only the types in
// this file implement it.
type Action interface {
	Name() string
	isAction()
}

type SetCart struct {
	Cart *domain.Cart
}

type AddItemOptimistic struct {
	Item   domain.CartItem
	TempID string
}

type UpdateItemOptimistic struct {
	ItemID   string
	Quantity int
}

type RemoveItemOptimistic struct {
	ItemID string
}

type ApplyPromoOptimistic struct {
	Code string
}

type RollbackOptimistic struct {
	PreviousCart *domain.Cart
}

type SetError struct {
	Err *apperrors.CartError
}

type SetLoading struct {
	Loading bool
}

type ClearCart struct{}

func (SetCart) Name() string              { return "SET_CART" }
func (AddItemOptimistic) Name() string    { return "ADD_ITEM_OPTIMISTIC" }
func (UpdateItemOptimistic) Name() string { return "UPDATE_ITEM_OPTIMISTIC" }
func (RemoveItemOptimistic) Name() string { return "REMOVE_ITEM_OPTIMISTIC" }
func (ApplyPromoOptimistic) Name() string { return "APPLY_PROMO_OPTIMISTIC" }
func (RollbackOptimistic) Name() string   { return "ROLLBACK_OPTIMISTIC" }
func (SetError) Name() string             { return "SET_ERROR" }
func (SetLoading) Name() string           { return "SET_LOADING" }
func (ClearCart) Name() string            { return "CLEAR_CART" }

func (SetCart) isAction()              {}
func (AddItemOptimistic) isAction()    {}
func (UpdateItemOptimistic) isAction() {}
func (RemoveItemOptimistic) isAction() {}
func (ApplyPromoOptimistic) isAction() {}
func (RollbackOptimistic) isAction()   {}
func (SetError) isAction()             {}
func (SetLoading) isAction()           {}
func (ClearCart) isAction()            {}

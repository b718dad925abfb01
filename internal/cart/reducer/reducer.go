package reducer

import (
	"sort"

	"cartsync/internal/domain"
	apperrors "cartsync/internal/errors"
)

// PromoKey is the optimistic-update key of the promotional code mutation.
const PromoKey = "promo"

type State struct {
	Cart      *domain.Cart
	IsLoading bool
	Error     *apperrors.CartError
	// OptimisticUpdates maps an in-flight operation key (temp item id, item
	// id or PromoKey) to the cart to restore if that operation fails.
	OptimisticUpdates map[string]*domain.Cart
	// Version is set by the Store and grows with every dispatch. Reduce
	// leaves it alone.
	Version uint64
}

func InitialState() State {
	return State{OptimisticUpdates: map[string]*domain.Cart{}}
}

// PendingKeys returns the keys of in-flight optimistic operations, sorted.
func (s State) PendingKeys() []string {
	keys := make([]string, 0, len(s.OptimisticUpdates))
	for k := range s.OptimisticUpdates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reduce returns the state that follows action. The input state, its cart and
// its snapshot map are never modified.
func Reduce(state State, action Action) State {
	switch a := action.(type) {
	case SetCart:
		state.Cart = a.Cart
		state.Error = nil
		state.OptimisticUpdates = map[string]*domain.Cart{}
		return state

	case AddItemOptimistic:
		if state.Cart == nil {
			return state
		}
		next := state.Cart.Clone()
		next.Items = append(next.Items, a.Item)
		next.ItemCount += a.Item.Quantity
		next.Subtotal += a.Item.TotalPrice
		next.Total += a.Item.TotalPrice
		return withOptimistic(state, next, a.TempID)

	case UpdateItemOptimistic:
		idx := state.Cart.FindItem(a.ItemID)
		if idx < 0 {
			return state
		}
		next := state.Cart.Clone()
		item := &next.Items[idx]
		quantityDelta := a.Quantity - item.Quantity
		priceDelta := item.UnitPrice * float64(quantityDelta)
		item.Quantity = a.Quantity
		item.TotalPrice = item.UnitPrice * float64(a.Quantity)
		next.ItemCount += quantityDelta
		next.Subtotal += priceDelta
		next.Total += priceDelta
		return withOptimistic(state, next, a.ItemID)

	case RemoveItemOptimistic:
		idx := state.Cart.FindItem(a.ItemID)
		if idx < 0 {
			return state
		}
		next := state.Cart.Clone()
		removed := next.Items[idx]
		next.Items = append(next.Items[:idx], next.Items[idx+1:]...)
		next.ItemCount -= removed.Quantity
		next.Subtotal -= removed.TotalPrice
		next.Total -= removed.TotalPrice
		return withOptimistic(state, next, a.ItemID)

	case ApplyPromoOptimistic:
		if state.Cart == nil {
			return state
		}
		next := state.Cart.Clone()
		next.PromotionalCode = a.Code
		return withOptimistic(state, next, PromoKey)

	case RollbackOptimistic:
		// Every pending snapshot is dropped, not only the failed one.
		state.Cart = a.PreviousCart
		state.OptimisticUpdates = map[string]*domain.Cart{}
		return state

	case SetError:
		state.Error = a.Err
		return state

	case SetLoading:
		state.IsLoading = a.Loading
		return state

	case ClearCart:
		next := InitialState()
		next.Version = state.Version
		return next
	}

	return state
}

func withOptimistic(state State, next *domain.Cart, key string) State {
	updates := make(map[string]*domain.Cart, len(state.OptimisticUpdates)+1)
	for k, v := range state.OptimisticUpdates {
		updates[k] = v
	}
	// A key already in flight keeps the snapshot taken before its first
	// mutation.
	if _, pending := updates[key]; !pending {
		updates[key] = state.Cart
	}

	state.Cart = next
	state.OptimisticUpdates = updates
	return state
}

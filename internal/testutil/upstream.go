package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"cartsync/internal/domain"
	"cartsync/internal/dto"
)

// RecordedRequest is what the fake upstream saw for one call.
type RecordedRequest struct {
	Method        string
	Path          string
	SessionID     string
	Authorization string
	ContentType   string
	Body          string
}

type failure struct {
	status int
	body   any
}

// Upstream is an in-memory cart API speaking the same routes and payloads as
// the real backend. Prices come from VehiclePrices; promo code SAVE20 gives
// 20% off, EXPIRED answers PROMOTIONAL_CODE_EXPIRED, anything else is invalid.
type Upstream struct {
	Server *httptest.Server

	mu            sync.Mutex
	carts         map[string]*domain.Cart
	requests      []RecordedRequest
	failures      map[string]failure
	nextID        int
	now           func() time.Time
	VehiclePrices map[string]float64
	// BeforeHandle runs before every request is served. Tests block in it to
	// observe optimistic state while a call is in flight.
	BeforeHandle func(r *http.Request)
}

func NewUpstream(t *testing.T) *Upstream {
	t.Helper()

	u := &Upstream{
		carts:         map[string]*domain.Cart{},
		failures:      map[string]failure{},
		now:           func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) },
		VehiclePrices: map[string]float64{"veh-1": 35000, "veh-2": 20000, "veh-3": 52000},
	}

	r := chi.NewRouter()
	r.Use(u.record)
	r.Get("/api/v1/cart", u.handleGet)
	r.Post("/api/v1/cart/items", u.handleAdd)
	r.Patch("/api/v1/cart/items/{itemId}", u.handleUpdate)
	r.Delete("/api/v1/cart/items/{itemId}", u.handleRemove)
	r.Post("/api/v1/cart/promotional-code", u.handleApplyPromo)
	r.Delete("/api/v1/cart/promotional-code", u.handleRemovePromo)

	u.Server = httptest.NewServer(r)
	t.Cleanup(u.Server.Close)
	return u
}

func (u *Upstream) URL() string {
	return u.Server.URL
}

// Seed stores a cart for the given identity key ("user:<id>" or
// "session:<id>").
func (u *Upstream) Seed(key string, cart *domain.Cart) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.carts[key] = cart.Clone()
}

func (u *Upstream) Cart(key string) *domain.Cart {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.carts[key].Clone()
}

// FailNext makes the next request matching method and path answer with
// status and body. A nil body sends no payload at all.
func (u *Upstream) FailNext(method, path string, status int, body any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failures[method+" "+path] = failure{status: status, body: body}
}

func (u *Upstream) Requests() []RecordedRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]RecordedRequest, len(u.requests))
	copy(out, u.requests)
	return out
}

func (u *Upstream) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		u.mu.Lock()
		u.requests = append(u.requests, RecordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			SessionID:     r.URL.Query().Get("session_id"),
			Authorization: r.Header.Get("Authorization"),
			ContentType:   r.Header.Get("Content-Type"),
			Body:          string(body),
		})
		f, failing := u.failures[r.Method+" "+r.URL.Path]
		if failing {
			delete(u.failures, r.Method+" "+r.URL.Path)
		}
		hook := u.BeforeHandle
		u.mu.Unlock()

		if hook != nil {
			hook(r)
		}

		if failing {
			w.WriteHeader(f.status)
			if f.body != nil {
				_ = json.NewEncoder(w).Encode(f.body)
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (u *Upstream) identityKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return "user:" + strings.TrimPrefix(auth, "Bearer ")
	}
	return "session:" + r.URL.Query().Get("session_id")
}

// cartFor returns the caller's cart, creating an empty one on first use.
// Callers hold u.mu.
func (u *Upstream) cartFor(r *http.Request) *domain.Cart {
	key := u.identityKey(r)
	cart, ok := u.carts[key]
	if !ok {
		u.nextID++
		cart = &domain.Cart{ID: fmt.Sprintf("cart-%d", u.nextID), Items: []domain.CartItem{}, UpdatedAt: u.now()}
		u.carts[key] = cart
	}
	return cart
}

func (u *Upstream) handleGet(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	cart := u.cartFor(r).Clone()
	u.mu.Unlock()
	writeJSON(w, http.StatusOK, cart)
}

func (u *Upstream) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req dto.AddToCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.UpstreamErrorBody{Message: "Invalid request body"})
		return
	}
	if !domain.ValidQuantity(req.Quantity) {
		writeJSON(w, http.StatusBadRequest, dto.UpstreamErrorBody{Message: "Quantity must be between 1 and 10", Code: "VALIDATION_ERROR"})
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	price, ok := u.VehiclePrices[req.VehicleID]
	if !ok {
		writeJSON(w, http.StatusNotFound, dto.UpstreamErrorBody{Message: "Vehicle not found"})
		return
	}
	cart := u.cartFor(r)
	u.nextID++
	cart.Items = append(cart.Items, domain.CartItem{
		ID:              fmt.Sprintf("item-%d", u.nextID),
		CartID:          cart.ID,
		VehicleID:       req.VehicleID,
		ConfigurationID: req.ConfigurationID,
		Quantity:        req.Quantity,
		UnitPrice:       price,
		TotalPrice:      price * float64(req.Quantity),
		Status:          domain.ItemStatusActive,
		CreatedAt:       u.now(),
		UpdatedAt:       u.now(),
	})
	u.recompute(cart)
	writeJSON(w, http.StatusCreated, dto.CartEnvelope{Cart: cart.Clone()})
}

func (u *Upstream) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.UpstreamErrorBody{Message: "Invalid request body"})
		return
	}
	if !domain.ValidQuantity(req.Quantity) {
		writeJSON(w, http.StatusBadRequest, dto.UpstreamErrorBody{Message: "Quantity must be between 1 and 10", Code: "VALIDATION_ERROR"})
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	cart := u.cartFor(r)
	idx := cart.FindItem(chi.URLParam(r, "itemId"))
	if idx < 0 {
		writeJSON(w, http.StatusNotFound, dto.UpstreamErrorBody{Message: "Cart item not found"})
		return
	}
	cart.Items[idx].Quantity = req.Quantity
	cart.Items[idx].TotalPrice = cart.Items[idx].UnitPrice * float64(req.Quantity)
	cart.Items[idx].UpdatedAt = u.now()
	u.recompute(cart)
	writeJSON(w, http.StatusOK, dto.CartEnvelope{Cart: cart.Clone()})
}

func (u *Upstream) handleRemove(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	cart := u.cartFor(r)
	idx := cart.FindItem(chi.URLParam(r, "itemId"))
	if idx < 0 {
		writeJSON(w, http.StatusNotFound, dto.UpstreamErrorBody{Message: "Cart item not found"})
		return
	}
	cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	u.recompute(cart)
	writeJSON(w, http.StatusOK, dto.CartEnvelope{Cart: cart.Clone()})
}

func (u *Upstream) handleApplyPromo(w http.ResponseWriter, r *http.Request) {
	var req dto.PromotionalCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.UpstreamErrorBody{Message: "Invalid request body"})
		return
	}

	switch req.Code {
	case "SAVE20":
	case "EXPIRED":
		writeJSON(w, http.StatusBadRequest, dto.UpstreamErrorBody{Message: "Promotional code has expired", Code: "PROMOTIONAL_CODE_EXPIRED"})
		return
	default:
		writeJSON(w, http.StatusBadRequest, dto.UpstreamErrorBody{Message: "Invalid promotional code", Code: "INVALID_PROMOTIONAL_CODE"})
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	cart := u.cartFor(r)
	cart.PromotionalCode = req.Code
	u.recompute(cart)
	writeJSON(w, http.StatusOK, dto.CartEnvelope{Cart: cart.Clone()})
}

func (u *Upstream) handleRemovePromo(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	cart := u.cartFor(r)
	cart.PromotionalCode = ""
	u.recompute(cart)
	writeJSON(w, http.StatusOK, dto.CartEnvelope{Cart: cart.Clone()})
}

// recompute keeps total == subtotal + tax - discount. Tax is 10% of the
// subtotal.
func (u *Upstream) recompute(cart *domain.Cart) {
	cart.ItemCount = 0
	cart.Subtotal = 0
	for _, item := range cart.Items {
		cart.ItemCount += item.Quantity
		cart.Subtotal += item.TotalPrice
	}
	cart.Tax = cart.Subtotal / 10
	cart.Discount = 0
	if cart.PromotionalCode == "SAVE20" {
		cart.Discount = cart.Subtotal / 5
	}
	cart.Total = cart.Subtotal + cart.Tax - cart.Discount
	cart.UpdatedAt = u.now()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

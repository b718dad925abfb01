package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cartsync/internal/cart/facade"
	"cartsync/internal/cart/gateway"
	"cartsync/internal/cart/reducer"
	"cartsync/internal/domain"
	"cartsync/internal/dto"
	apperrors "cartsync/internal/errors"
)

const (
	SessionCookieName = "session_id"
	sessionCookieTTL  = 30 * 24 * time.Hour
)

type Sessions interface {
	Get(ctx context.Context, identity gateway.Identity) (*facade.Facade, error)
	Reset(ctx context.Context, identity gateway.Identity) error
}

type CartController struct {
	sessions Sessions
	auth     *Authenticator
	logger   *zap.Logger
	now      func() time.Time
}

// NewCartController serves carts through sessions. A nil auth only admits
// anonymous callers.
func NewCartController(sessions Sessions, auth *Authenticator, logger *zap.Logger) *CartController {
	if auth == nil {
		auth = NewAuthenticator(nil, false)
	}
	return &CartController{
		sessions: sessions,
		auth:     auth,
		logger:   logger,
		now:      time.Now,
	}
}

// caller is the resolved identity of a request. fresh is set when the
// session id was minted by this very request, so no cart exists for it yet.
type caller struct {
	identity gateway.Identity
	fresh    bool
}

func (c *CartController) GetCart(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.New().String()
	who, ok := c.caller(w, r, traceID)
	if !ok {
		return
	}
	if who.fresh {
		c.writeView(w, http.StatusOK, traceID, who.identity, emptyView())
		return
	}

	f, ok := c.session(w, r, traceID, who.identity)
	if !ok {
		return
	}
	c.writeView(w, http.StatusOK, traceID, who.identity, f.View())
}

func (c *CartController) AddItem(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.New().String()
	logger := c.logger.With(zap.String("traceId", traceID))
	who, ok := c.caller(w, r, traceID)
	if !ok {
		return
	}
	identity := who.identity

	var req dto.AddToCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid JSON body", zap.Error(err))
		c.writeValidationError(w, traceID, "invalid JSON body", apperrors.ValidationDetail{
			Field:   "body",
			Message: "request body must be valid JSON",
		})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = domain.MinItemQuantity
	}

	if validationErr := c.validateAddToCartRequest(req); validationErr != nil {
		ve, _ := apperrors.IsValidationError(validationErr)
		c.writeValidationError(w, traceID, ve.Message, ve.Details...)
		return
	}

	f, ok := c.session(w, r, traceID, identity)
	if !ok {
		return
	}

	if err := f.AddToCart(r.Context(), req); err != nil {
		c.handleMutationError(w, traceID, f, err, logger)
		return
	}
	c.writeView(w, http.StatusOK, traceID, identity, f.View())
}

func (c *CartController) UpdateItem(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.New().String()
	logger := c.logger.With(zap.String("traceId", traceID))
	who, ok := c.caller(w, r, traceID)
	if !ok {
		return
	}
	identity := who.identity
	itemID := chi.URLParam(r, "itemId")

	var req dto.UpdateCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid JSON body", zap.Error(err))
		c.writeValidationError(w, traceID, "invalid JSON body", apperrors.ValidationDetail{
			Field:   "body",
			Message: "request body must be valid JSON",
		})
		return
	}

	if !domain.ValidQuantity(req.Quantity) {
		msg := quantityMessage()
		c.writeValidationError(w, traceID, msg, apperrors.ValidationDetail{
			Field:   "quantity",
			Message: msg,
		})
		return
	}

	f, ok := c.session(w, r, traceID, identity)
	if !ok {
		return
	}

	// Same quantity: nothing to send.
	if cart := f.Cart(); cart != nil {
		if idx := cart.FindItem(itemID); idx >= 0 && cart.Items[idx].Quantity == req.Quantity {
			logger.Debug("quantity unchanged, skipping update", zap.String("itemId", itemID))
			c.writeView(w, http.StatusOK, traceID, identity, f.View())
			return
		}
	}

	if err := f.UpdateQuantity(r.Context(), itemID, req.Quantity); err != nil {
		c.handleMutationError(w, traceID, f, err, logger)
		return
	}
	c.writeView(w, http.StatusOK, traceID, identity, f.View())
}

func (c *CartController) RemoveItem(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.New().String()
	logger := c.logger.With(zap.String("traceId", traceID))
	who, ok := c.caller(w, r, traceID)
	if !ok {
		return
	}
	identity := who.identity

	f, ok := c.session(w, r, traceID, identity)
	if !ok {
		return
	}

	if err := f.RemoveItem(r.Context(), chi.URLParam(r, "itemId")); err != nil {
		c.handleMutationError(w, traceID, f, err, logger)
		return
	}
	c.writeView(w, http.StatusOK, traceID, identity, f.View())
}

func (c *CartController) ApplyPromotionalCode(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.New().String()
	logger := c.logger.With(zap.String("traceId", traceID))
	who, ok := c.caller(w, r, traceID)
	if !ok {
		return
	}
	identity := who.identity

	var req dto.PromotionalCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid JSON body", zap.Error(err))
		c.writeValidationError(w, traceID, "invalid JSON body", apperrors.ValidationDetail{
			Field:   "body",
			Message: "request body must be valid JSON",
		})
		return
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		c.writeValidationError(w, traceID, "code is required", apperrors.ValidationDetail{
			Field:   "code",
			Message: "code must not be empty",
		})
		return
	}

	f, ok := c.session(w, r, traceID, identity)
	if !ok {
		return
	}

	if err := f.ApplyPromotionalCode(r.Context(), code); err != nil {
		c.handleMutationError(w, traceID, f, err, logger)
		return
	}
	c.writeView(w, http.StatusOK, traceID, identity, f.View())
}

func (c *CartController) RemovePromotionalCode(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.New().String()
	logger := c.logger.With(zap.String("traceId", traceID))
	who, ok := c.caller(w, r, traceID)
	if !ok {
		return
	}
	identity := who.identity

	f, ok := c.session(w, r, traceID, identity)
	if !ok {
		return
	}

	if err := f.RemovePromotionalCode(r.Context()); err != nil {
		c.handleMutationError(w, traceID, f, err, logger)
		return
	}
	c.writeView(w, http.StatusOK, traceID, identity, f.View())
}

// RefreshCart answers with the current view while the refetch runs.
func (c *CartController) RefreshCart(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.New().String()
	who, ok := c.caller(w, r, traceID)
	if !ok {
		return
	}
	identity := who.identity
	if who.fresh {
		c.writeView(w, http.StatusAccepted, traceID, identity, emptyView())
		return
	}

	f, ok := c.session(w, r, traceID, identity)
	if !ok {
		return
	}
	f.RefreshCart()
	c.writeView(w, http.StatusAccepted, traceID, identity, f.View())
}

// ClearCart drops the local view and its snapshot. The server cart is kept.
func (c *CartController) ClearCart(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.New().String()
	logger := c.logger.With(zap.String("traceId", traceID))
	who, ok := c.caller(w, r, traceID)
	if !ok {
		return
	}
	identity := who.identity
	if who.fresh {
		c.writeView(w, http.StatusOK, traceID, identity, emptyView())
		return
	}

	f, ok := c.session(w, r, traceID, identity)
	if !ok {
		return
	}

	if err := c.sessions.Reset(r.Context(), identity); err != nil {
		logger.Error("clearing cart failed", zap.Error(err))
		c.writeInternalError(w, traceID)
		return
	}
	c.writeView(w, http.StatusOK, traceID, identity, f.View())
}

func (c *CartController) validateAddToCartRequest(req dto.AddToCartRequest) error {
	var details []apperrors.ValidationDetail

	if strings.TrimSpace(req.VehicleID) == "" {
		details = append(details, apperrors.ValidationDetail{
			Field:   "vehicleId",
			Message: "vehicleId is required",
		})
	}

	if strings.TrimSpace(req.ConfigurationID) == "" {
		details = append(details, apperrors.ValidationDetail{
			Field:   "configurationId",
			Message: "configurationId is required",
		})
	}

	if !domain.ValidQuantity(req.Quantity) {
		details = append(details, apperrors.ValidationDetail{
			Field:   "quantity",
			Message: quantityMessage(),
		})
	}

	if len(details) > 0 {
		return apperrors.NewValidationError("validation failed", details...)
	}
	return nil
}

func quantityMessage() string {
	return "quantity must be between " + strconv.Itoa(domain.MinItemQuantity) + " and " + strconv.Itoa(domain.MaxItemQuantity)
}

// caller resolves who is calling: the authenticated user, else the
// anonymous session from the query string or cookie. A caller with neither
// gets a new session cookie. Untrusted credentials answer 401.
func (c *CartController) caller(w http.ResponseWriter, r *http.Request, traceID string) (caller, bool) {
	userID, err := c.auth.UserID(r)
	if err != nil {
		c.logger.Warn("rejecting caller", zap.String("traceId", traceID), zap.Error(err))
		c.writeUnauthorized(w, traceID, err.Error())
		return caller{}, false
	}
	if userID != "" {
		return caller{identity: gateway.Identity{UserID: userID}}, true
	}

	if sessionID := r.URL.Query().Get(SessionCookieName); sessionID != "" {
		return caller{identity: gateway.Identity{SessionID: sessionID}}, true
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return caller{identity: gateway.Identity{SessionID: cookie.Value}}, true
	}

	sessionID := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Expires:  c.now().Add(sessionCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return caller{identity: gateway.Identity{SessionID: sessionID}, fresh: true}, true
}

func emptyView() dto.CartView {
	return facade.ViewOf(reducer.InitialState())
}

func (c *CartController) session(w http.ResponseWriter, r *http.Request, traceID string, identity gateway.Identity) (*facade.Facade, bool) {
	f, err := c.sessions.Get(r.Context(), identity)
	if err != nil {
		if ve, ok := apperrors.IsValidationError(err); ok {
			c.writeValidationError(w, traceID, ve.Message, ve.Details...)
			return nil, false
		}
		c.logger.Error("opening cart session failed", zap.String("traceId", traceID), zap.Error(err))
		c.writeInternalError(w, traceID)
		return nil, false
	}
	return f, true
}

func (c *CartController) handleMutationError(w http.ResponseWriter, traceID string, f *facade.Facade, err error, logger *zap.Logger) {
	ce, ok := apperrors.IsCartError(err)
	if !ok {
		logger.Error("cart mutation failed", zap.Error(err))
		c.writeInternalError(w, traceID)
		return
	}

	logger.Info("cart mutation rejected",
		zap.String("errorType", string(ce.Type)),
		zap.String("message", ce.Message),
	)
	c.writeJSON(w, http.StatusUnprocessableEntity, dto.CartErrorResponse{
		TraceID:   traceID,
		Status:    http.StatusUnprocessableEntity,
		Error:     ce,
		Cart:      f.Cart(),
		Timestamp: c.now().UTC(),
	})
}

func (c *CartController) writeView(w http.ResponseWriter, status int, traceID string, identity gateway.Identity, view dto.CartView) {
	c.writeJSON(w, status, dto.CartViewResponse{
		TraceID:   traceID,
		SessionID: identity.SessionID,
		View:      view,
		Timestamp: c.now().UTC(),
	})
}

type validationErrorResponse struct {
	TraceID string                       `json:"traceId"`
	Error   string                       `json:"error"`
	Message string                       `json:"message"`
	Details []apperrors.ValidationDetail `json:"details"`
}

func (c *CartController) writeValidationError(w http.ResponseWriter, traceID string, message string, details ...apperrors.ValidationDetail) {
	response := validationErrorResponse{
		TraceID: traceID,
		Error:   "VALIDATION_ERROR",
		Message: message,
		Details: details,
	}

	c.writeJSON(w, http.StatusBadRequest, response)
}

func (c *CartController) writeUnauthorized(w http.ResponseWriter, traceID string, message string) {
	c.writeJSON(w, http.StatusUnauthorized, map[string]string{
		"traceId": traceID,
		"error":   "UNAUTHORIZED",
		"message": message,
	})
}

func (c *CartController) writeInternalError(w http.ResponseWriter, traceID string) {
	c.writeJSON(w, http.StatusInternalServerError, map[string]string{
		"traceId": traceID,
		"error":   "INTERNAL_ERROR",
		"message": "an unexpected error occurred",
	})
}

func (c *CartController) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		c.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (c *CartController) RegisterRoutes(r chi.Router) {
	r.Route("/bff/v1/cart", func(r chi.Router) {
		r.Get("/", c.GetCart)
		r.Delete("/", c.ClearCart)
		r.Post("/refresh", c.RefreshCart)
		r.Post("/items", c.AddItem)
		r.Patch("/items/{itemId}", c.UpdateItem)
		r.Delete("/items/{itemId}", c.RemoveItem)
		r.Post("/promotional-code", c.ApplyPromotionalCode)
		r.Delete("/promotional-code", c.RemovePromotionalCode)
	})
}

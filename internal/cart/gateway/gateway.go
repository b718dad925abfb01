package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"cartsync/internal/domain"
	"cartsync/internal/dto"
	apperrors "cartsync/internal/errors"
)

const (
	cartPath            = "/api/v1/cart"
	cartItemsPath       = "/api/v1/cart/items"
	promotionalCodePath = "/api/v1/cart/promotional-code"
)

// Identity is who the cart belongs to. An authenticated user wins over the
// anonymous session id.
type Identity struct {
	UserID    string
	SessionID string
}

func (i Identity) Key() string {
	if i.UserID != "" {
		return "user:" + i.UserID
	}
	return "session:" + i.SessionID
}

func (i Identity) IsZero() bool {
	return i.UserID == "" && i.SessionID == ""
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	identity   Identity
	tokens     TokenSource
	logger     *zap.Logger
}

func New(baseURL string, httpClient *http.Client, identity Identity, tokens TokenSource, logger *zap.Logger) *Client {
	if tokens == nil {
		tokens = UserIDToken{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		identity:   identity,
		tokens:     tokens,
		logger:     logger,
	}
}

// NewHTTPClient returns a client that keeps the cookies the upstream sets,
// so every call is made with credentials.
func NewHTTPClient(timeout time.Duration) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	return &http.Client{Jar: jar, Timeout: timeout}, nil
}

func (c *Client) Identity() Identity {
	return c.identity
}

func (c *Client) FetchCart(ctx context.Context) (*domain.Cart, error) {
	var cart domain.Cart
	if err := c.do(ctx, http.MethodGet, cartPath, nil, &cart, "Failed to fetch cart"); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *Client) AddItem(ctx context.Context, req dto.AddToCartRequest) (*domain.Cart, error) {
	return c.mutate(ctx, http.MethodPost, cartItemsPath, req, "Failed to add item to cart")
}

func (c *Client) UpdateItem(ctx context.Context, itemID string, req dto.UpdateCartItemRequest) (*domain.Cart, error) {
	return c.mutate(ctx, http.MethodPatch, cartItemsPath+"/"+url.PathEscape(itemID), req, "Failed to update cart item")
}

func (c *Client) RemoveItem(ctx context.Context, itemID string) (*domain.Cart, error) {
	return c.mutate(ctx, http.MethodDelete, cartItemsPath+"/"+url.PathEscape(itemID), nil, "Failed to remove cart item")
}

func (c *Client) ApplyPromotionalCode(ctx context.Context, code string) (*domain.Cart, error) {
	return c.mutate(ctx, http.MethodPost, promotionalCodePath, dto.PromotionalCodeRequest{Code: code}, "Failed to apply promotional code")
}

func (c *Client) RemovePromotionalCode(ctx context.Context) (*domain.Cart, error) {
	return c.mutate(ctx, http.MethodDelete, promotionalCodePath, nil, "Failed to remove promotional code")
}

func (c *Client) mutate(ctx context.Context, method, path string, body any, fallback string) (*domain.Cart, error) {
	var envelope dto.CartEnvelope
	if err := c.do(ctx, method, path, body, &envelope, fallback); err != nil {
		return nil, err
	}
	if envelope.Cart == nil {
		return nil, apperrors.NewInternalError(fallback, fmt.Errorf("response has no cart"))
	}
	return envelope.Cart, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any, fallback string) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("cart request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%s: %w", strings.ToLower(fallback), err)
	}
	defer resp.Body.Close()

	c.logger.Debug("cart request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp, fallback)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding cart response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("building cart url: %w", err)
	}
	if c.identity.UserID == "" && c.identity.SessionID != "" {
		q := u.Query()
		q.Set("session_id", c.identity.SessionID)
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.identity.UserID != "" {
		token, err := c.tokens.Token(c.identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("issuing bearer token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req, nil
}

func decodeError(resp *http.Response, fallback string) error {
	var body dto.UpstreamErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Message == "" {
		return apperrors.NewHTTPError(resp.StatusCode, fallback, body.Code)
	}
	return apperrors.NewHTTPError(resp.StatusCode, body.Message, body.Code)
}

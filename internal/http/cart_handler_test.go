package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront-cart/internal/domain"
	"github.com/fjod/storefront-cart/internal/repository"
	"github.com/fjod/storefront-cart/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serviceMock keeps carts in memory and applies the domain mutations directly.
type serviceMock struct {
	mu        sync.Mutex
	carts     map[string]*domain.Cart
	err       error
	lastUser  string
	lastAdded domain.ProductSnapshot
}

func newServiceMock() *serviceMock {
	return &serviceMock{carts: map[string]*domain.Cart{}}
}

func (s *serviceMock) get(userID string, create bool) (*domain.Cart, error) {
	s.lastUser = userID
	if s.err != nil {
		return nil, s.err
	}
	c, ok := s.carts[userID]
	if !ok {
		if !create {
			return nil, repository.ErrCartNotFound
		}
		c = domain.NewCart(userID)
		s.carts[userID] = c
	}
	return c, nil
}

func (s *serviceMock) mutate(userID string, fn func(*domain.Cart)) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(userID, true)
	if err != nil {
		return nil, err
	}
	fn(c)
	return c, nil
}

func (s *serviceMock) CreateCart(_ context.Context, userID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.get(userID, false); err == nil {
		return nil, repository.ErrCartExists
	} else if !errors.Is(err, repository.ErrCartNotFound) {
		return nil, err
	}
	return s.get(userID, true)
}

func (s *serviceMock) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(userID, false)
}

func (s *serviceMock) GetItems(ctx context.Context, userID string) ([]domain.CartLine, error) {
	c, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c.GetItems(), nil
}

func (s *serviceMock) GetSummary(ctx context.Context, userID string) (domain.Summary, error) {
	c, err := s.GetCart(ctx, userID)
	if err != nil {
		return domain.Summary{}, err
	}
	return c.Summary(), nil
}

func (s *serviceMock) AddProduct(_ context.Context, userID string, p domain.ProductSnapshot) (*domain.Cart, error) {
	s.lastAdded = p
	return s.mutate(userID, func(c *domain.Cart) { c.AddProduct(p) })
}

func (s *serviceMock) RemoveProduct(_ context.Context, userID, productID string) (*domain.Cart, error) {
	return s.mutate(userID, func(c *domain.Cart) { c.RemoveProduct(productID) })
}

func (s *serviceMock) UpdateQuantity(_ context.Context, userID, productID string, quantity int) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(userID, false)
	if err != nil {
		return nil, err
	}
	if err := c.UpdateQuantity(productID, quantity); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *serviceMock) IncreaseQuantity(_ context.Context, userID, productID string) (*domain.Cart, error) {
	return s.mutate(userID, func(c *domain.Cart) { c.IncreaseQuantity(productID) })
}

func (s *serviceMock) DecreaseQuantity(_ context.Context, userID, productID string) (*domain.Cart, error) {
	return s.mutate(userID, func(c *domain.Cart) { c.DecreaseQuantity(productID) })
}

func (s *serviceMock) ClearCart(_ context.Context, userID string) (*domain.Cart, error) {
	return s.mutate(userID, func(c *domain.Cart) { c.Clear() })
}

type pingMock struct{ err error }

func (p pingMock) Ping(context.Context) error { return p.err }

func newTestRouter(svc CartService, checks map[string]Pinger) http.Handler {
	cart := NewCartHandler(svc, 5*time.Second, "USD", logger.Nop())
	health := NewHealthHandler(checks, time.Second)
	return NewRouter(cart, health, logger.Nop(), RouterConfig{
		ServiceName:    "cart-service-test",
		RequestTimeout: 5 * time.Second,
		MaxBodyBytes:   1024,
	})
}

func do(t *testing.T, h http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeCart(t *testing.T, rec *httptest.ResponseRecorder) CartResponse {
	t.Helper()
	var resp CartResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestCreateCart(t *testing.T) {
	h := newTestRouter(newServiceMock(), nil)

	rec := do(t, h, http.MethodPost, "/api/v1/cart", "u1", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeCart(t, rec)
	assert.Equal(t, "u1", resp.Cart.UserID)
	assert.True(t, resp.Summary.IsEmpty)
	assert.Equal(t, "USD 0.00", resp.FormattedTotal)

	rec = do(t, h, http.MethodPost, "/api/v1/cart", "u1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_exists", decodeError(t, rec).Code)
}

func TestGetCart_NotFound(t *testing.T) {
	h := newTestRouter(newServiceMock(), nil)

	rec := do(t, h, http.MethodGet, "/api/v1/cart", "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Code)
}

func TestGetCart_Unauthorized(t *testing.T) {
	h := newTestRouter(newServiceMock(), nil)

	rec := do(t, h, http.MethodGet, "/api/v1/cart", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Code)
}

func TestAddItem_Success(t *testing.T) {
	svc := newServiceMock()
	h := newTestRouter(svc, nil)

	body := `{"product_id":"p1","name":"Lamp","price":"500","image":"lamp.png","category":"home"}`
	rec := do(t, h, http.MethodPost, "/api/v1/cart/items", "u1", body)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/cart/items", "u1", `{"product_id":"p1","name":"Lamp","price":500}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/cart/items/p1/increase", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeCart(t, rec)
	require.Len(t, resp.Cart.Items, 1)
	assert.Equal(t, 3, resp.Cart.Items[0].Quantity)
	assert.Equal(t, "lamp.png", resp.Cart.Items[0].Image)
	assert.Equal(t, 3, resp.Summary.TotalItems)
	assert.Equal(t, 1, resp.Summary.ItemCount)
	assert.True(t, decimal.NewFromInt(1500).Equal(resp.Summary.TotalAmount))
	assert.Equal(t, "USD 1,500.00", resp.FormattedTotal)
	assert.Equal(t, "u1", svc.lastUser)
}

func TestAddItem_OptionalFieldsDefaultEmpty(t *testing.T) {
	svc := newServiceMock()
	h := newTestRouter(svc, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/cart/items", "u1", `{"product_id":"p1","name":"Lamp","price":1.25}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", svc.lastAdded.Image)
	assert.Equal(t, "", svc.lastAdded.Category)
	assert.True(t, decimal.RequireFromString("1.25").Equal(svc.lastAdded.Price))
}

func TestAddItem_Validation(t *testing.T) {
	h := newTestRouter(newServiceMock(), nil)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"product_id":`, "invalid_request"},
		{"missing product id", `{"name":"Lamp","price":1}`, "invalid_request"},
		{"missing name", `{"product_id":"p1","price":1}`, "invalid_request"},
		{"missing price", `{"product_id":"p1","name":"Lamp"}`, "invalid_price"},
		{"null price", `{"product_id":"p1","name":"Lamp","price":null}`, "invalid_price"},
		{"non numeric price", `{"product_id":"p1","name":"Lamp","price":"cheap"}`, "invalid_price"},
		{"negative price", `{"product_id":"p1","name":"Lamp","price":-3}`, "invalid_price"},
		{"vanishing price", `{"product_id":"p1","name":"Lamp","price":1e-7000}`, "invalid_price"},
		{"too many decimals", `{"product_id":"p1","name":"Lamp","price":"0.1234567890123456789012345678901234567"}`, "invalid_price"},
		{"price above max", `{"product_id":"p1","name":"Lamp","price":2000000000}`, "invalid_price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/cart/items", "u1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestAddItem_BodyTooLarge(t *testing.T) {
	h := newTestRouter(newServiceMock(), nil)

	body := `{"product_id":"p1","name":"` + strings.Repeat("x", 2048) + `","price":1}`
	rec := do(t, h, http.MethodPost, "/api/v1/cart/items", "u1", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUpdateQuantity(t *testing.T) {
	svc := newServiceMock()
	h := newTestRouter(svc, nil)

	rec := do(t, h, http.MethodPut, "/api/v1/cart/items/p1", "u1", `{"quantity":3}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no cart yet")

	do(t, h, http.MethodPost, "/api/v1/cart/items", "u1", `{"product_id":"p1","name":"Lamp","price":10}`)
	rec = do(t, h, http.MethodPut, "/api/v1/cart/items/p1", "u1", `{"quantity":4}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeCart(t, rec)
	assert.Equal(t, 4, resp.Cart.Items[0].Quantity)
	assert.Equal(t, "USD 40.00", resp.FormattedTotal)

	rec = do(t, h, http.MethodPut, "/api/v1/cart/items/p1", "u1", `{"quantity":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeCart(t, rec).Cart.Items)
}

func TestUpdateQuantity_Validation(t *testing.T) {
	h := newTestRouter(newServiceMock(), nil)

	for _, body := range []string{`{}`, `{"quantity":"three"}`, `{"quantity":1.5}`} {
		rec := do(t, h, http.MethodPut, "/api/v1/cart/items/p1", "u1", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "invalid_quantity", decodeError(t, rec).Code, body)
	}
}

func TestUpdateQuantity_AboveLimit(t *testing.T) {
	h := newTestRouter(newServiceMock(), nil)

	do(t, h, http.MethodPost, "/api/v1/cart/items", "u1", `{"product_id":"p1","name":"Lamp","price":10}`)
	for _, body := range []string{`{"quantity":9223372036854775807}`, `{"quantity":10000}`} {
		rec := do(t, h, http.MethodPut, "/api/v1/cart/items/p1", "u1", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "invalid_quantity", decodeError(t, rec).Code, body)
	}

	rec := do(t, h, http.MethodGet, "/api/v1/cart", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeCart(t, rec).Cart.Items[0].Quantity)

	rec = do(t, h, http.MethodPut, "/api/v1/cart/items/p1", "u1", `{"quantity":9999}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/cart/items/p1/increase", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeCart(t, rec)
	assert.Equal(t, domain.MaxLineQuantity, resp.Cart.Items[0].Quantity)
	assert.Equal(t, "USD 99,990.00", resp.FormattedTotal)
}

func TestDecreaseAndRemove(t *testing.T) {
	h := newTestRouter(newServiceMock(), nil)

	do(t, h, http.MethodPost, "/api/v1/cart/items", "u1", `{"product_id":"p1","name":"A","price":1}`)
	do(t, h, http.MethodPost, "/api/v1/cart/items", "u1", `{"product_id":"p2","name":"B","price":2}`)

	rec := do(t, h, http.MethodPost, "/api/v1/cart/items/p1/decrease", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeCart(t, rec)
	require.Len(t, resp.Cart.Items, 1)
	assert.Equal(t, "p2", resp.Cart.Items[0].ProductID)

	rec = do(t, h, http.MethodDelete, "/api/v1/cart/items/p2", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeCart(t, rec).Summary.IsEmpty)
}

func TestClearCart(t *testing.T) {
	h := newTestRouter(newServiceMock(), nil)

	do(t, h, http.MethodPost, "/api/v1/cart/items", "u1", `{"product_id":"p1","name":"A","price":1}`)
	rec := do(t, h, http.MethodDelete, "/api/v1/cart", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeCart(t, rec)
	assert.Empty(t, resp.Cart.Items)
	assert.Equal(t, 0, resp.Summary.TotalItems)

	rec = do(t, h, http.MethodGet, "/api/v1/cart", "u1", "")
	assert.Equal(t, http.StatusOK, rec.Code, "cleared cart still exists")
}

func TestItemsAndSummary(t *testing.T) {
	h := newTestRouter(newServiceMock(), nil)

	rec := do(t, h, http.MethodGet, "/api/v1/cart/summary", "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	do(t, h, http.MethodPost, "/api/v1/cart/items", "u1", `{"product_id":"p1","name":"A","price":"2.50"}`)
	do(t, h, http.MethodPost, "/api/v1/cart/items", "u1", `{"product_id":"p1","name":"A","price":"2.50"}`)

	rec = do(t, h, http.MethodGet, "/api/v1/cart/items", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items ItemsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&items))
	require.Len(t, items.Items, 1)
	assert.Equal(t, 2, items.Items[0].Quantity)

	rec = do(t, h, http.MethodGet, "/api/v1/cart/summary", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary domain.Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
	assert.Equal(t, 2, summary.TotalItems)
	assert.True(t, decimal.NewFromInt(5).Equal(summary.TotalAmount))
}

func TestServiceErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{errors.New("mongo exploded"), http.StatusInternalServerError, "internal_error"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{domain.ErrEmptyProductID, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		svc := newServiceMock()
		svc.err = tt.err
		h := newTestRouter(svc, nil)

		rec := do(t, h, http.MethodPost, "/api/v1/cart/items/p1/increase", "u1", "")
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())
		resp := decodeError(t, rec)
		assert.Equal(t, tt.code, resp.Code)
		assert.NotContains(t, resp.Error, "mongo")
	}
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestRouter(newServiceMock(), nil)

	rec := do(t, h, http.MethodGet, "/health", "", "")
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", bytes.NewReader(nil))
	req.Header.Set(RequestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestHealthAndReady(t *testing.T) {
	h := newTestRouter(newServiceMock(), map[string]Pinger{"mongo": pingMock{}})
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/ready", "", "").Code)

	down := newTestRouter(newServiceMock(), map[string]Pinger{"mongo": pingMock{err: errors.New("no primary")}})
	assert.Equal(t, http.StatusOK, do(t, down, http.MethodGet, "/health", "", "").Code)
	rec := do(t, down, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "not_ready", body["status"])
}

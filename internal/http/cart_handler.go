package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/storefront-cart/internal/domain"
	"github.com/fjod/storefront-cart/internal/repository"
	"github.com/fjod/storefront-cart/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const defaultTimeout = 30 * time.Second

// CartService is the subset of service.CartService the handlers need.
type CartService interface {
	CreateCart(ctx context.Context, userID string) (*domain.Cart, error)
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	GetItems(ctx context.Context, userID string) ([]domain.CartLine, error)
	GetSummary(ctx context.Context, userID string) (domain.Summary, error)
	AddProduct(ctx context.Context, userID string, p domain.ProductSnapshot) (*domain.Cart, error)
	RemoveProduct(ctx context.Context, userID, productID string) (*domain.Cart, error)
	UpdateQuantity(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error)
	IncreaseQuantity(ctx context.Context, userID, productID string) (*domain.Cart, error)
	DecreaseQuantity(ctx context.Context, userID, productID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, userID string) (*domain.Cart, error)
}

type CartHandler struct {
	service  CartService
	timeout  time.Duration
	currency string
	validate *validator.Validate
	log      *logger.Logger
}

func NewCartHandler(service CartService, timeout time.Duration, currency string, log *logger.Logger) *CartHandler {
	if log == nil {
		log = logger.Nop()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &CartHandler{
		service:  service,
		timeout:  timeout,
		currency: currency,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

type AddItemRequestDTO struct {
	ProductID string          `json:"product_id" validate:"required"`
	Name      string          `json:"name" validate:"required"`
	Price     json.RawMessage `json:"price"`
	Image     string          `json:"image"`
	Category  string          `json:"category"`
}

type UpdateQuantityRequestDTO struct {
	Quantity *int `json:"quantity" validate:"required"`
}

type CartResponse struct {
	Cart           *domain.Cart   `json:"cart"`
	Summary        domain.Summary `json:"summary"`
	FormattedTotal string         `json:"formatted_total"`
}

type ItemsResponse struct {
	Items []domain.CartLine `json:"items"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *CartHandler) CreateCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.service.CreateCart(ctx, getUserID(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, h.envelope(cart))
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.service.GetCart(ctx, getUserID(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, h.envelope(cart))
}

func (h *CartHandler) GetItems(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	items, err := h.service.GetItems(ctx, getUserID(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, ItemsResponse{Items: items})
}

func (h *CartHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	summary, err := h.service.GetSummary(ctx, getUserID(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "product_id and name are required")
		return
	}
	price, err := parsePrice(req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_price", err.Error())
		return
	}

	cart, err := h.service.AddProduct(ctx, getUserID(r.Context()), domain.ProductSnapshot{
		ProductID: req.ProductID,
		Name:      req.Name,
		Price:     price,
		Image:     req.Image,
		Category:  req.Category,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, h.envelope(cart))
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateQuantityRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity is required")
		return
	}
	if *req.Quantity > domain.MaxLineQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", domain.ErrQuantityTooLarge.Error())
		return
	}

	cart, err := h.service.UpdateQuantity(ctx, getUserID(r.Context()), chi.URLParam(r, "product_id"), *req.Quantity)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, h.envelope(cart))
}

func (h *CartHandler) IncreaseQuantity(w http.ResponseWriter, r *http.Request) {
	h.productMutation(w, r, h.service.IncreaseQuantity)
}

func (h *CartHandler) DecreaseQuantity(w http.ResponseWriter, r *http.Request) {
	h.productMutation(w, r, h.service.DecreaseQuantity)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.productMutation(w, r, h.service.RemoveProduct)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.service.ClearCart(ctx, getUserID(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, h.envelope(cart))
}

func (h *CartHandler) productMutation(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, userID, productID string) (*domain.Cart, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := fn(ctx, getUserID(r.Context()), chi.URLParam(r, "product_id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, h.envelope(cart))
}

func (h *CartHandler) envelope(cart *domain.Cart) CartResponse {
	return CartResponse{
		Cart:           cart,
		Summary:        cart.Summary(),
		FormattedTotal: cart.FormattedTotal(h.currency),
	}
}

func (h *CartHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrCartNotFound):
		respondError(w, http.StatusNotFound, "not_found", "cart not found")
	case errors.Is(err, repository.ErrCartExists):
		respondError(w, http.StatusConflict, "already_exists", "cart already exists")
	case errors.Is(err, domain.ErrEmptyUserID):
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
	case errors.Is(err, domain.ErrEmptyProductID):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrNegativePrice), errors.Is(err, domain.ErrPriceOutOfRange):
		respondError(w, http.StatusBadRequest, "invalid_price", err.Error())
	case errors.Is(err, domain.ErrQuantityTooLarge):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		h.log.WithContext(r.Context()).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "request_id", getRequestID(r.Context()), "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// decode writes the error response itself and reports whether decoding
// succeeded.
func (h *CartHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	var maxErr *http.MaxBytesError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &maxErr):
		respondError(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body too large")
	case errors.As(err, &typeErr) && typeErr.Field == "quantity":
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be an integer")
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
	}
	return false
}

var errPriceRequired = errors.New("price is required")

// parsePrice accepts a JSON number or a numeric string within the domain price
// bounds.
func parsePrice(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero, errPriceRequired
	}
	var price decimal.Decimal
	if err := price.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, errors.New("price must be a number")
	}
	if err := domain.ValidatePrice(price); err != nil {
		return decimal.Zero, err
	}
	return price, nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places a price may carry.
const PriceScale = 4

// MaxPrice bounds a single unit price. Together with MaxLineQuantity and
// PriceScale it keeps every total well inside Decimal128 precision.
var MaxPrice = decimal.NewFromInt(1_000_000_000)

var (
	ErrEmptyUserID      = errors.New("user id is required")
	ErrEmptyProductID   = errors.New("product id is required")
	ErrNegativePrice    = errors.New("price must not be negative")
	ErrPriceOutOfRange  = errors.New("price must be at most 1000000000 with at most 4 decimal places")
	ErrQuantityTooLarge = errors.New("quantity must be at most 9999")
)

// Validate checks the fields a cart line cannot do without.
func (p ProductSnapshot) Validate() error {
	if p.ProductID == "" {
		return ErrEmptyProductID
	}
	return ValidatePrice(p.Price)
}

func ValidatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return ErrNegativePrice
	}
	if price.GreaterThan(MaxPrice) || !price.Equal(price.Round(PriceScale)) {
		return ErrPriceOutOfRange
	}
	return nil
}

package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Cart is the per-user shopping cart. TotalAmount and TotalItems are derived
// from Items and are only ever written by Recalculate.
type Cart struct {
	ID          string          `json:"id,omitempty"`
	UserID      string          `json:"user_id"`
	Items       []CartLine      `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalItems  int             `json:"total_items"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CartLine holds a snapshot of the catalog entry taken when the line was
// first added. The snapshot is never refreshed afterwards.
type CartLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Image     string          `json:"image"`
	Category  string          `json:"category"`
	Quantity  int             `json:"quantity"`
	AddedAt   time.Time       `json:"added_at"`
}

// ProductSnapshot is what the catalog hands over when a product is added.
type ProductSnapshot struct {
	ProductID string
	Name      string
	Price     decimal.Decimal
	Image     string
	Category  string
}

// Summary is the read-only projection of a cart's totals.
type Summary struct {
	TotalItems  int             `json:"total_items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ItemCount   int             `json:"item_count"`
	IsEmpty     bool            `json:"is_empty"`
}

// MaxLineQuantity caps a single line. Adds and increases stop at the cap;
// setting a larger quantity is rejected.
const MaxLineQuantity = 9999

func NewCart(userID string) *Cart {
	return &Cart{
		UserID:      userID,
		Items:       []CartLine{},
		TotalAmount: decimal.Zero,
	}
}

// AddProduct increments the quantity of an existing line for the product, or
// appends a new line with quantity 1.
func (c *Cart) AddProduct(p ProductSnapshot) {
	if i := c.indexOf(p.ProductID); i >= 0 {
		c.Items[i].increment()
	} else {
		c.Items = append(c.Items, CartLine{
			ProductID: p.ProductID,
			Name:      p.Name,
			Price:     p.Price,
			Image:     p.Image,
			Category:  p.Category,
			Quantity:  1,
			AddedAt:   time.Now().UTC(),
		})
	}
	c.Recalculate()
}

func (c *Cart) RemoveProduct(productID string) {
	c.Items = slices.DeleteFunc(c.Items, func(l CartLine) bool {
		return l.ProductID == productID
	})
	c.Recalculate()
}

// UpdateQuantity sets the quantity of an existing line. A quantity of zero or
// less removes the line. Unknown products are ignored. Quantities above
// MaxLineQuantity return ErrQuantityTooLarge and leave the cart unchanged.
func (c *Cart) UpdateQuantity(productID string, quantity int) error {
	if quantity > MaxLineQuantity {
		return ErrQuantityTooLarge
	}
	if quantity <= 0 {
		c.RemoveProduct(productID)
		return nil
	}
	if i := c.indexOf(productID); i >= 0 {
		c.Items[i].Quantity = quantity
	}
	c.Recalculate()
	return nil
}

func (c *Cart) IncreaseQuantity(productID string) {
	if i := c.indexOf(productID); i >= 0 {
		c.Items[i].increment()
	}
	c.Recalculate()
}

// DecreaseQuantity removes the line once its quantity drops to zero.
func (c *Cart) DecreaseQuantity(productID string) {
	i := c.indexOf(productID)
	if i < 0 {
		c.Recalculate()
		return
	}
	if c.Items[i].Quantity <= 1 {
		c.RemoveProduct(productID)
		return
	}
	c.Items[i].Quantity--
	c.Recalculate()
}

func (c *Cart) Clear() {
	c.Items = []CartLine{}
	c.Recalculate()
}

// Recalculate derives TotalAmount and TotalItems from Items. It is idempotent.
func (c *Cart) Recalculate() {
	if c.Items == nil {
		c.Items = []CartLine{}
	}
	amount := decimal.Zero
	count := 0
	for _, l := range c.Items {
		amount = amount.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
		count += l.Quantity
	}
	c.TotalAmount = amount
	c.TotalItems = count
}

// GetItems returns a copy of the line items.
func (c *Cart) GetItems() []CartLine {
	return slices.Clone(c.Items)
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c *Cart) Summary() Summary {
	return Summary{
		TotalItems:  c.TotalItems,
		TotalAmount: c.TotalAmount,
		ItemCount:   len(c.Items),
		IsEmpty:     c.IsEmpty(),
	}
}

func (l *CartLine) increment() {
	if l.Quantity < MaxLineQuantity {
		l.Quantity++
	}
}

func (c *Cart) indexOf(productID string) int {
	return slices.IndexFunc(c.Items, func(l CartLine) bool {
		return l.ProductID == productID
	})
}

// Package cart holds the session-scoped shopping cart and wishlist.
package cart

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidInput = errors.New("invalid cart input")
	ErrInvalidState = errors.New("invalid cart state")
)

// ShippingFee is charged once per non-empty cart.
var ShippingFee = decimal.NewFromInt(3)

type LineItem struct {
	ProductID int64           `json:"product_id"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	Quantity  int             `json:"quantity"`
}

// LineTotal is the amount charged for the line before shipping.
func (l LineItem) LineTotal() decimal.Decimal {
	return l.UnitPrice.Sub(l.Discount).Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is not safe for concurrent use; a session owns exactly one.
type Cart struct {
	items []LineItem
	token string
}

func New() *Cart {
	return &Cart{token: uuid.NewString()}
}

func (c *Cart) AddItem(productID int64, quantity int, unitPrice, discount decimal.Decimal) error {
	if productID <= 0 {
		return fmt.Errorf("%w: product id must be positive, got %d", ErrInvalidInput, productID)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidInput, quantity)
	}
	if unitPrice.IsNegative() || discount.IsNegative() {
		return fmt.Errorf("%w: price and discount cannot be negative", ErrInvalidInput)
	}
	if discount.GreaterThan(unitPrice) {
		return fmt.Errorf("%w: discount %s exceeds price %s", ErrInvalidInput, discount.StringFixed(2), unitPrice.StringFixed(2))
	}

	defer c.rotate()
	if i := c.indexOf(productID); i >= 0 {
		c.items[i].Quantity += quantity
		return nil
	}
	c.items = append(c.items, LineItem{
		ProductID: productID,
		UnitPrice: unitPrice,
		Discount:  discount,
		Quantity:  quantity,
	})
	return nil
}

// RemoveItem reports whether the product was in the cart.
func (c *Cart) RemoveItem(productID int64) bool {
	i := c.indexOf(productID)
	if i < 0 {
		return false
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.rotate()
	return true
}

// UpdateQuantity sets the quantity of an existing line. Zero removes the line.
func (c *Cart) UpdateQuantity(productID int64, newQuantity int) (bool, error) {
	if newQuantity < 0 {
		return false, fmt.Errorf("%w: quantity cannot be negative, got %d", ErrInvalidInput, newQuantity)
	}
	if newQuantity == 0 {
		return c.RemoveItem(productID), nil
	}
	i := c.indexOf(productID)
	if i < 0 {
		return false, nil
	}
	c.items[i].Quantity = newQuantity
	c.rotate()
	return true, nil
}

func (c *Cart) Validate() error {
	for _, item := range c.items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: product %d has quantity %d", ErrInvalidState, item.ProductID, item.Quantity)
		}
		if item.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: product %d has negative price", ErrInvalidState, item.ProductID)
		}
		if item.Discount.IsNegative() {
			return fmt.Errorf("%w: product %d has negative discount", ErrInvalidState, item.ProductID)
		}
		if item.Discount.GreaterThan(item.UnitPrice) {
			return fmt.Errorf("%w: product %d discount exceeds its price", ErrInvalidState, item.ProductID)
		}
	}
	return nil
}

func (c *Cart) Clear() {
	c.items = nil
	c.rotate()
}

func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

func (c *Cart) DiscountTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.items {
		total = total.Add(item.Discount.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

func (c *Cart) ShippingFee() decimal.Decimal {
	if c.IsEmpty() {
		return decimal.Zero
	}
	return ShippingFee
}

// Total is subtotal minus discounts plus shipping.
func (c *Cart) Total() decimal.Decimal {
	return c.Subtotal().Sub(c.DiscountTotal()).Add(c.ShippingFee())
}

func (c *Cart) IsEmpty() bool {
	return len(c.items) == 0
}

func (c *Cart) Len() int {
	return len(c.items)
}

func (c *Cart) TotalQuantity() int {
	n := 0
	for _, item := range c.items {
		n += item.Quantity
	}
	return n
}

func (c *Cart) Quantity(productID int64) int {
	if i := c.indexOf(productID); i >= 0 {
		return c.items[i].Quantity
	}
	return 0
}

func (c *Cart) Contains(productID int64) bool {
	return c.indexOf(productID) >= 0
}

// Items returns a copy of the lines in insertion order.
func (c *Cart) Items() []LineItem {
	out := make([]LineItem, len(c.items))
	copy(out, c.items)
	return out
}

// SaleItems returns the lines that carry a discount.
func (c *Cart) SaleItems() []LineItem {
	var out []LineItem
	for _, item := range c.items {
		if item.Discount.IsPositive() {
			out = append(out, item)
		}
	}
	return out
}

// Merge adds every line of other into c, e.g. a guest cart into the account cart.
func (c *Cart) Merge(other *Cart) error {
	if other == nil {
		return nil
	}
	for _, item := range other.items {
		if err := c.AddItem(item.ProductID, item.Quantity, item.UnitPrice, item.Discount); err != nil {
			return err
		}
	}
	return nil
}

// Token identifies the current contents. It changes on every mutation.
func (c *Cart) Token() string {
	if c.token == "" {
		c.token = uuid.NewString()
	}
	return c.token
}

// Snapshot freezes the cart for order placement.
type Snapshot struct {
	Token string
	Lines []LineItem
	Total decimal.Decimal
}

func (c *Cart) Snapshot() Snapshot {
	return Snapshot{
		Token: c.Token(),
		Lines: c.Items(),
		Total: c.Total(),
	}
}

func (c *Cart) String() string {
	return fmt.Sprintf("Cart{items=%d, quantity=%d, total=%s}", c.Len(), c.TotalQuantity(), c.Total().StringFixed(2))
}

type cartJSON struct {
	Token string     `json:"token"`
	Items []LineItem `json:"items"`
}

func (c *Cart) MarshalJSON() ([]byte, error) {
	items := c.items
	if items == nil {
		items = []LineItem{}
	}
	return json.Marshal(cartJSON{Token: c.Token(), Items: items})
}

// UnmarshalJSON keeps whatever was stored, including corrupt lines; Validate catches those.
func (c *Cart) UnmarshalJSON(data []byte) error {
	var v cartJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	c.items = v.Items
	c.token = v.Token
	return nil
}

func (c *Cart) indexOf(productID int64) int {
	for i, item := range c.items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) rotate() {
	c.token = uuid.NewString()
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending             OrderStatus = "pending"
	OrderStatusCompleted           OrderStatus = "completed"
	OrderStatusNeedsReconciliation OrderStatus = "needs_reconciliation"
)

// OrderLine is the durable snapshot of one cart line at purchase time.
type OrderLine struct {
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
}

type Order struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"user_id"`
	Lines     []OrderLine     `json:"lines"`
	Total     decimal.Decimal `json:"total"`
	Status    OrderStatus     `json:"status"`
	PlacedAt  time.Time       `json:"placed_at"`
	CartToken string          `json:"cart_token,omitempty"`
}

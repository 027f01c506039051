package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderPlacedEvent struct {
	EventID  string          `json:"event_id"`
	OrderID  int64           `json:"order_id"`
	UserID   string          `json:"user_id"`
	Email    string          `json:"email,omitempty"`
	Total    decimal.Decimal `json:"total"`
	Lines    []OrderLine     `json:"lines"`
	PlacedAt time.Time       `json:"placed_at"`
}

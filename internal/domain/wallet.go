package domain

import "github.com/shopspring/decimal"

type Wallet struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// Account is the authenticated identity kept in the session.
type Account struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
}

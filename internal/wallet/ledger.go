// Package wallet is the stored-balance ledger used to pay for orders.
package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidInput      = errors.New("invalid wallet input")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWalletExists      = errors.New("wallet already exists")
)

// Ledger reads and mutates balances in Postgres. The database row is the only source of
// truth; callers must not decide on cached balances.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := l.db.QueryRowContext(ctx, `
		SELECT balance FROM wallets WHERE user_id = $1
	`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, ErrWalletNotFound
		}
		return decimal.Zero, err
	}
	return balance, nil
}

// Debit checks and decrements in one conditional update and returns the new balance.
func (l *Ledger) Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: debit amount must be positive, got %s", ErrInvalidInput, amount)
	}

	var balance decimal.Decimal
	err := l.db.QueryRowContext(ctx, `
		UPDATE wallets
		SET balance = balance - $1, updated_at = NOW()
		WHERE user_id = $2 AND balance >= $1
		RETURNING balance
	`, amount, userID).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, err
	}

	// No row matched: either the wallet is missing or the balance was too low.
	if _, err := l.GetBalance(ctx, userID); err != nil {
		return decimal.Zero, err
	}
	return decimal.Zero, ErrInsufficientFunds
}

// Credit adds amount to the balance. Checkout only uses it to compensate a debit.
func (l *Ledger) Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: credit amount must be positive, got %s", ErrInvalidInput, amount)
	}

	var balance decimal.Decimal
	err := l.db.QueryRowContext(ctx, `
		UPDATE wallets
		SET balance = balance + $1, updated_at = NOW()
		WHERE user_id = $2
		RETURNING balance
	`, amount, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, ErrWalletNotFound
		}
		return decimal.Zero, err
	}
	return balance, nil
}

// Open creates a wallet with an initial balance.
func (l *Ledger) Open(ctx context.Context, userID string, initial decimal.Decimal) error {
	if userID == "" || initial.IsNegative() {
		return fmt.Errorf("%w: user id required and initial balance cannot be negative", ErrInvalidInput)
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
	`, userID, initial)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrWalletExists
		}
		return err
	}
	return nil
}

const uniqueViolation = pq.ErrorCode("23505")

package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/perfumeshop/internal/cart"
	"github.com/joao-fontenele/perfumeshop/internal/domain"
	"github.com/joao-fontenele/perfumeshop/internal/inventory"
)

var (
	ErrOrderCreation       = errors.New("order creation failed")
	ErrDuplicateSubmission = errors.New("cart snapshot already ordered")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidTransition   = errors.New("invalid order status transition")
	errEmptySnapshot       = errors.New("snapshot has no lines")
)

const uniqueViolation = pq.ErrorCode("23505")

// CreationError reports which step of PlaceOrder failed. The transaction has been rolled
// back by the time the caller sees it.
type CreationError struct {
	Stage string
	Err   error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("order creation failed at %s: %v", e.Stage, e.Err)
}

func (e *CreationError) Unwrap() []error {
	return []error{ErrOrderCreation, e.Err}
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// PlaceOrder writes the order header, one line per cart line and the inventory
// decrements in a single transaction.
func (s *Store) PlaceOrder(ctx context.Context, userID string, snap cart.Snapshot) (int64, error) {
	if len(snap.Lines) == 0 {
		return 0, &CreationError{Stage: "validate", Err: errEmptySnapshot}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &CreationError{Stage: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	var orderID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (user_id, placed_at, total, status, cart_token, updated_at)
		VALUES ($1, $2, $3, $4, $5, $2)
		RETURNING id
	`, userID, s.now(), snap.Total, domain.OrderStatusPending, snap.Token).Scan(&orderID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			err = ErrDuplicateSubmission
		}
		return 0, &CreationError{Stage: "insert order", Err: err}
	}

	for _, line := range snap.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, product_id, quantity, unit_price, discount)
			VALUES ($1, $2, $3, $4, $5)
		`, orderID, line.ProductID, line.Quantity, line.UnitPrice, line.Discount)
		if err != nil {
			return 0, &CreationError{Stage: "insert line", Err: fmt.Errorf("product %d: %w", line.ProductID, err)}
		}
	}

	for _, line := range snap.Lines {
		if err := inventory.Decrement(ctx, tx, line.ProductID, line.Quantity); err != nil {
			return 0, &CreationError{Stage: "decrement inventory", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &CreationError{Stage: "commit", Err: err}
	}

	return orderID, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n)
	return n, err
}

// TotalRevenue sums orders that are not waiting on reconciliation.
func (s *Store) TotalRevenue(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total), 0) FROM orders WHERE status <> $1
	`, domain.OrderStatusNeedsReconciliation).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// GetByID returns nil, nil when the order does not exist.
func (s *Store) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	order := &domain.Order{}

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, placed_at, total, status, cart_token
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.UserID, &order.PlacedAt, &order.Total, &order.Status, &order.CartToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, unit_price, discount
		FROM order_lines
		WHERE order_id = $1
		ORDER BY product_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.OrderID, &line.ProductID, &line.Quantity, &line.UnitPrice, &line.Discount); err != nil {
			return nil, err
		}
		order.Lines = append(order.Lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, placed_at, total, status, cart_token
		FROM orders
		WHERE user_id = $1
		ORDER BY placed_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, rows)
}

func (s *Store) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, placed_at, total, status, cart_token
		FROM orders
		ORDER BY status ASC, placed_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, rows)
}

// collect loads the lines of every scanned order with one extra query.
func (s *Store) collect(ctx context.Context, rows *sql.Rows) ([]domain.Order, error) {
	defer func() { _ = rows.Close() }()

	orderMap := make(map[int64]*domain.Order)
	var orderIDs []int64

	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.UserID, &order.PlacedAt, &order.Total, &order.Status, &order.CartToken); err != nil {
			return nil, err
		}
		order.Lines = []domain.OrderLine{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, unit_price, discount
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, product_id
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = lineRows.Close() }()

	for lineRows.Next() {
		var line domain.OrderLine
		if err := lineRows.Scan(&line.OrderID, &line.ProductID, &line.Quantity, &line.UnitPrice, &line.Discount); err != nil {
			return nil, err
		}
		if order, ok := orderMap[line.OrderID]; ok {
			order.Lines = append(order.Lines, line)
		}
	}

	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

// Complete moves a pending order to completed.
func (s *Store) Complete(ctx context.Context, id int64) (*domain.Order, error) {
	return s.transition(ctx, id, domain.OrderStatusCompleted, "")
}

// MarkForReconciliation flags a pending order whose payment did not settle cleanly.
func (s *Store) MarkForReconciliation(ctx context.Context, id int64, reason string) error {
	_, err := s.transition(ctx, id, domain.OrderStatusNeedsReconciliation, reason)
	return err
}

func (s *Store) transition(ctx context.Context, id int64, to domain.OrderStatus, reason string) (*domain.Order, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, reconcile_reason = NULLIF($2, ''), updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, to, reason, id, domain.OrderStatusPending)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	order, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if rowsAffected == 0 {
		return order, fmt.Errorf("%w: order %d is %s", ErrInvalidTransition, id, order.Status)
	}

	return order, nil
}

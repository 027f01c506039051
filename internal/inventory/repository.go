package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joao-fontenele/perfumeshop/internal/domain"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductNotFound   = errors.New("product not found")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so decrements can join a caller's transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListAll(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, price, discount, quantity
		FROM products
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	products := []domain.Product{}
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Discount, &p.Quantity); err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

// GetProduct returns nil, nil when the product does not exist.
func (r *Repository) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p := &domain.Product{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, price, discount, quantity
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.Discount, &p.Quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return p, nil
}

// Decrement takes quantity units of a product off the shelf. The stock check and the
// update are one statement, so stock never goes negative under concurrent checkouts.
func Decrement(ctx context.Context, db DBTX, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("decrement product %d: quantity must be positive, got %d", productID, quantity)
	}

	result, err := db.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity - $1
		WHERE id = $2 AND quantity >= $1
	`, quantity, productID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("product %d: %w", productID, ErrInsufficientStock)
	}

	return nil
}

func (r *Repository) Decrement(ctx context.Context, productID int64, quantity int) error {
	return Decrement(ctx, r.db, productID, quantity)
}

func (r *Repository) Restock(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("restock product %d: quantity must be positive, got %d", productID, quantity)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity + $1
		WHERE id = $2
	`, quantity, productID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrProductNotFound
	}

	return nil
}

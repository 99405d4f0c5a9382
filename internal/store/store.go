package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"stockly/m/domain"
	"stockly/m/internal/sale"
)

// SQLStore implements sale.Gateway over a SQLite database. SQLite
// serializes writing transactions, which covers the gateway's isolation
// requirement for concurrent stock updates.
type SQLStore struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) InTx(ctx context.Context, fn func(tx sale.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type sqlTx struct {
	tx *sqlx.Tx
}

func (t *sqlTx) ProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := t.tx.GetContext(ctx, &p,
		`SELECT id, name, price, stock, created_at, updated_at FROM products WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (t *sqlTx) SaleWithItems(ctx context.Context, id string) (*domain.Sale, []domain.SaleLineItem, error) {
	var s domain.Sale
	err := t.tx.GetContext(ctx, &s, `SELECT id, date FROM sales WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("query sale: %w", err)
	}

	var items []domain.SaleLineItem
	err = t.tx.SelectContext(ctx, &items,
		`SELECT id, sale_id, product_id, quantity, unit_price FROM sale_items WHERE sale_id = ?`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("query sale items: %w", err)
	}
	return &s, items, nil
}

func (t *sqlTx) CreateSale(ctx context.Context, s domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO sales (id, date) VALUES (?, ?)`, s.ID, s.Date)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (t *sqlTx) CreateLineItem(ctx context.Context, li domain.SaleLineItem) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO sale_items (id, sale_id, product_id, quantity, unit_price) VALUES (?, ?, ?, ?, ?)`,
		li.ID, li.SaleID, li.ProductID, li.Quantity, li.UnitPrice)
	if err != nil {
		return fmt.Errorf("insert sale item: %w", err)
	}
	return nil
}

func (t *sqlTx) AdjustStock(ctx context.Context, productID string, delta int64) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE products SET stock = stock + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		delta, productID)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("adjust stock: no product with id %s", productID)
	}
	return nil
}

func (t *sqlTx) DeleteSale(ctx context.Context, id string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM sales WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete sale: %w", err)
	}
	return nil
}

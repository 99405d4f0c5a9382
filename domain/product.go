package domain

import "github.com/shopspring/decimal"

// ProductStatus is derived from the stock counter, never stored.
type ProductStatus string

const (
	StatusInStock    ProductStatus = "IN_STOCK"
	StatusOutOfStock ProductStatus = "OUT_OF_STOCK"
)

type Product struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Stock     int64           `db:"stock" json:"stock"`
	CreatedAt string          `db:"created_at" json:"created_at,omitempty"`
	UpdatedAt string          `db:"updated_at" json:"updated_at,omitempty"`
}

func (p Product) Status() ProductStatus {
	if p.Stock > 0 {
		return StatusInStock
	}
	return StatusOutOfStock
}

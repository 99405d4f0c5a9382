package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Sale struct {
	ID   string    `db:"id" json:"id"`
	Date time.Time `db:"date" json:"date"`
}

// SaleLineItem records one product sold within a sale. UnitPrice is a
// snapshot of the product price at sale time; later price changes must
// not alter past sales.
type SaleLineItem struct {
	ID        string          `db:"id" json:"id"`
	SaleID    string          `db:"sale_id" json:"sale_id"`
	ProductID string          `db:"product_id" json:"product_id"`
	Quantity  int64           `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
}

func (li SaleLineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(li.Quantity))
}

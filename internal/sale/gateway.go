package sale

import (
	"context"

	"stockly/m/domain"
)

// Tx is the set of storage operations available inside one transaction.
// Writes made through a Tx are visible to later reads on the same Tx.
type Tx interface {
	// ProductByID returns (nil, nil) when no product has the id.
	ProductByID(ctx context.Context, id string) (*domain.Product, error)

	// SaleWithItems returns (nil, nil, nil) when no sale has the id.
	SaleWithItems(ctx context.Context, id string) (*domain.Sale, []domain.SaleLineItem, error)

	CreateSale(ctx context.Context, s domain.Sale) error

	CreateLineItem(ctx context.Context, li domain.SaleLineItem) error

	// AdjustStock adds delta (which may be negative) to a product's
	// stock counter.
	AdjustStock(ctx context.Context, productID string, delta int64) error

	// DeleteSale removes a sale and, by cascade, its line items.
	DeleteSale(ctx context.Context, id string) error
}

// Gateway scopes a unit of work. The callback's operations commit together
// or not at all; any returned error rolls everything back. Implementations
// must provide at least read-committed isolation with row-level locking on
// stock updates, so that two concurrent reconciliations of the same product
// cannot both pass the stock check on the last unit.
type Gateway interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

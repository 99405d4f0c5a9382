package sale

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stockly/m/domain"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrSaleNotFound      = errors.New("sale not found")
)

// Engine performs the atomic create-or-replace of a sale, keeping product
// stock counters consistent with the sale's line items.
type Engine struct {
	gw  Gateway
	now func() time.Time
}

func NewEngine(gw Gateway) *Engine {
	return &Engine{gw: gw, now: time.Now}
}

// Receipt identifies the sale a successful reconciliation produced.
type Receipt struct {
	SaleID string    `json:"sale_id"`
	Date   time.Time `json:"date"`
}

// Reconcile brings the store to a state where exactly one sale exists
// matching the input lines, with every affected product's stock adjusted,
// or leaves it untouched.
//
// When the input names an existing sale, that sale's stock is restored and
// the sale deleted before the replacement is built, so the new lines are
// validated against the freed capacity. The replacement keeps the original
// sale's date; a true creation is stamped with the current time. A sale id
// that matches nothing is treated as a creation.
//
// Duplicate product ids in the lines are not merged: each line sees the
// stock as left by the lines before it, so a duplicated product can fail
// the stock check even when the combined quantity would fit a merged line.
// Callers are expected to merge beforehand.
func (e *Engine) Reconcile(ctx context.Context, in ReconcileInput) (*Receipt, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var receipt *Receipt
	err := e.gw.InTx(ctx, func(tx Tx) error {
		date := e.now().UTC()

		if in.SaleID != "" {
			existing, items, err := tx.SaleWithItems(ctx, in.SaleID)
			if err != nil {
				return fmt.Errorf("load sale %s: %w", in.SaleID, err)
			}
			if existing != nil {
				date = existing.Date
				for _, item := range items {
					if err := tx.AdjustStock(ctx, item.ProductID, item.Quantity); err != nil {
						return fmt.Errorf("restore stock for product %s: %w", item.ProductID, err)
					}
				}
				if err := tx.DeleteSale(ctx, existing.ID); err != nil {
					return fmt.Errorf("delete sale %s: %w", existing.ID, err)
				}
			}
		}

		newSale := domain.Sale{ID: uuid.NewString(), Date: date}
		if err := tx.CreateSale(ctx, newSale); err != nil {
			return fmt.Errorf("create sale: %w", err)
		}

		for _, line := range in.Lines {
			product, err := tx.ProductByID(ctx, line.ProductID)
			if err != nil {
				return fmt.Errorf("load product %s: %w", line.ProductID, err)
			}
			if product == nil {
				return ErrProductNotFound
			}
			if line.Quantity > product.Stock {
				return ErrInsufficientStock
			}
			item := domain.SaleLineItem{
				ID:        uuid.NewString(),
				SaleID:    newSale.ID,
				ProductID: product.ID,
				Quantity:  line.Quantity,
				UnitPrice: product.Price,
			}
			if err := tx.CreateLineItem(ctx, item); err != nil {
				return fmt.Errorf("create line item: %w", err)
			}
			if err := tx.AdjustStock(ctx, product.ID, -line.Quantity); err != nil {
				return fmt.Errorf("decrement stock for product %s: %w", product.ID, err)
			}
		}

		receipt = &Receipt{SaleID: newSale.ID, Date: date}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Delete removes a sale and restores its line items' quantities to the
// referenced products, so stock lost to a sale is always recoverable.
func (e *Engine) Delete(ctx context.Context, saleID string) error {
	if _, err := uuid.Parse(saleID); err != nil {
		return &ValidationError{Fields: []FieldError{{Field: "id", Message: "must be a valid UUID"}}}
	}

	return e.gw.InTx(ctx, func(tx Tx) error {
		existing, items, err := tx.SaleWithItems(ctx, saleID)
		if err != nil {
			return fmt.Errorf("load sale %s: %w", saleID, err)
		}
		if existing == nil {
			return ErrSaleNotFound
		}
		for _, item := range items {
			if err := tx.AdjustStock(ctx, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("restore stock for product %s: %w", item.ProductID, err)
			}
		}
		if err := tx.DeleteSale(ctx, existing.ID); err != nil {
			return fmt.Errorf("delete sale %s: %w", existing.ID, err)
		}
		return nil
	})
}

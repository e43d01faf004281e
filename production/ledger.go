/*
ledger.go - Stock Ledger

PURPOSE:
  Owns every mutation of an item's stock quantity. Callers never write the
  stock row themselves; they go through increase/decrease so the >= 0
  invariant and the row lock are applied in one place.

CRITICAL INVARIANTS:
  1. Quantity >= 0 after every successful operation
  2. A decrease larger than the quantity fails and changes nothing
     (it is rejected, never clamped)
  3. Every read-modify-write happens under the item's stock row lock

LOCKING:
  lockStock is only valid inside Store.WithTx. A second transaction touching
  the same item waits on the lock and then reads the committed quantity, so
  two racing submissions can never both spend the same units.
*/
package production

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/production-engine/metrics"
)

// StockLedger exposes atomic stock increments and decrements.
type StockLedger struct {
	*deps
}

// Increase adds amount units to the item's stock.
func (l *StockLedger) Increase(ctx context.Context, actor Actor, itemID ItemID, amount int) (*Stock, error) {
	if amount <= 0 {
		return nil, invalid("amount", "must be greater than zero")
	}

	now := l.now()
	var (
		item   *Item
		result Stock
		before int
	)
	err := l.store.WithTx(ctx, func(repo Repository) error {
		var err error
		if item, err = requireItem(ctx, repo, itemID); err != nil {
			return err
		}
		stock, err := lockStock(ctx, repo, itemID, now)
		if err != nil {
			return err
		}
		before = stock.Quantity
		stock.Quantity += amount
		stock.UpdatedAt = now
		if err := repo.UpdateStock(ctx, stock); err != nil {
			return err
		}
		result = *stock
		return nil
	})
	if err != nil {
		return nil, systemError("increase stock", err)
	}

	countMovement("in", amount)
	l.record(ctx, AuditEvent{
		Actor:   actor,
		Action:  AuditItemRestocked,
		Subject: itemSubject(itemID),
		Properties: map[string]any{
			"amount":       amount,
			"stock_before": before,
			"stock_after":  result.Quantity,
		},
		Message: fmt.Sprintf("%s added %d to stock of %s", actor.Name, amount, item.Name),
	})
	return &result, nil
}

// Decrease removes amount units. Fails with InsufficientStock (stock unchanged)
// when fewer than amount units are available.
func (l *StockLedger) Decrease(ctx context.Context, actor Actor, itemID ItemID, amount int) (*Stock, error) {
	if amount <= 0 {
		return nil, invalid("amount", "must be greater than zero")
	}

	now := l.now()
	var (
		item   *Item
		result Stock
		before int
	)
	err := l.store.WithTx(ctx, func(repo Repository) error {
		var err error
		if item, err = requireItem(ctx, repo, itemID); err != nil {
			return err
		}
		stock, err := lockStock(ctx, repo, itemID, now)
		if err != nil {
			return err
		}
		before = stock.Quantity
		if err := take(stock, amount, false); err != nil {
			return err
		}
		stock.UpdatedAt = now
		if err := repo.UpdateStock(ctx, stock); err != nil {
			return err
		}
		result = *stock
		return nil
	})
	if err != nil {
		countRejection(err)
		return nil, systemError("decrease stock", err)
	}

	countMovement("out", amount)
	l.record(ctx, AuditEvent{
		Actor:   actor,
		Action:  AuditStockWithdrawn,
		Subject: itemSubject(itemID),
		Properties: map[string]any{
			"amount":       amount,
			"stock_before": before,
			"stock_after":  result.Quantity,
		},
		Message: fmt.Sprintf("%s withdrew %d from stock of %s", actor.Name, amount, item.Name),
	})
	l.log.Debug("stock decreased", zap.String("item_id", string(itemID)), zap.Int("amount", amount))
	return &result, nil
}

// Current returns the committed stock level without locking.
func (l *StockLedger) Current(ctx context.Context, itemID ItemID) (*Stock, error) {
	var stock *Stock
	err := l.store.View(ctx, func(repo Repository) error {
		if _, err := requireItem(ctx, repo, itemID); err != nil {
			return err
		}
		var err error
		stock, err = repo.GetStock(ctx, itemID)
		return err
	})
	if err != nil {
		return nil, systemError("get stock", err)
	}
	if stock == nil {
		return &Stock{ItemID: itemID}, nil
	}
	return stock, nil
}

// =============================================================================
// TRANSACTION-SCOPED PRIMITIVES
// =============================================================================

// lockStock locks the item's stock row, creating an empty one if the item has none.
func lockStock(ctx context.Context, repo Repository, itemID ItemID, now time.Time) (*Stock, error) {
	stock, err := repo.LockStock(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if stock != nil {
		return stock, nil
	}

	if err := repo.InsertStock(ctx, &Stock{ID: newID(), ItemID: itemID, UpdatedAt: now}); err != nil {
		return nil, err
	}
	return repo.LockStock(ctx, itemID)
}

// take subtracts amount from a locked stock row. With reportDepleted set, an
// empty (or negative) stock is reported as depleted before the shortfall check.
func take(stock *Stock, amount int, reportDepleted bool) error {
	if reportDepleted && stock.Quantity <= 0 {
		return &InsufficientStockError{ItemID: stock.ItemID, Available: stock.Quantity, Requested: amount, Depleted: true}
	}
	if stock.Quantity < amount {
		return &InsufficientStockError{ItemID: stock.ItemID, Available: stock.Quantity, Requested: amount}
	}
	stock.Quantity -= amount
	return nil
}

func countMovement(direction string, amount int) {
	metrics.StockMovements.WithLabelValues(direction).Inc()
	metrics.StockUnits.WithLabelValues(direction).Add(float64(amount))
}

func countRejection(err error) {
	switch {
	case errors.Is(err, ErrStockDepleted):
		metrics.StockRejections.WithLabelValues("depleted").Inc()
	case errors.Is(err, ErrInsufficientStock):
		metrics.StockRejections.WithLabelValues("insufficient").Inc()
	}
}

func itemSubject(id ItemID) string       { return "item:" + string(id) }
func workLogSubject(id WorkLogID) string { return "work_log:" + string(id) }
func wageSubject(id WageID) string       { return "wage:" + string(id) }
func workerSubject(id WorkerID) string   { return "worker:" + string(id) }

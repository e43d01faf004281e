package production

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Catalog manages items, their pay rates and the worker registry.
type Catalog struct {
	*deps
	ledger *StockLedger
	wages  *WageAggregator
}

// NewItem is the input for CreateItem.
type NewItem struct {
	Name         string
	Description  string
	CategoryID   string
	PayRate      decimal.Decimal
	InitialStock int
}

// NewWorker is the input for RegisterWorker. A zero JoinedAt means now.
type NewWorker struct {
	UserID   string
	Name     string
	Kind     WorkerKind
	JoinedAt time.Time
}

// ItemDetails is the input for UpdateItem. Pay rate and stock have their own operations.
type ItemDetails struct {
	Name        string
	Description string
	CategoryID  string
}

// RateChange reports an updated item and the wage records it changed.
type RateChange struct {
	Item         Item            `json:"item"`
	PreviousRate decimal.Decimal `json:"previous_rate"`
	Recalculated []WageRecord    `json:"recalculated"`
}

const maxNameLength = 100

func checkName(field, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid(field, "is required")
	}
	if len([]rune(name)) > maxNameLength {
		return "", invalid(field, "must be at most %d characters", maxNameLength)
	}
	return name, nil
}

// CreateItem inserts an item together with its stock row.
func (c *Catalog) CreateItem(ctx context.Context, actor Actor, in NewItem) (*ItemWithStock, error) {
	name, err := checkName("name", in.Name)
	if err != nil {
		return nil, err
	}
	if in.PayRate.IsNegative() {
		return nil, invalid("pay_rate", "must not be negative")
	}
	if in.InitialStock < 0 {
		return nil, invalid("initial_stock", "must not be negative")
	}

	now := c.now()
	item := Item{
		ID:          ItemID(newID()),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		CategoryID:  in.CategoryID,
		PayRate:     in.PayRate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = c.store.WithTx(ctx, func(repo Repository) error {
		if err := repo.InsertItem(ctx, &item); err != nil {
			return err
		}
		return repo.InsertStock(ctx, &Stock{ID: newID(), ItemID: item.ID, Quantity: in.InitialStock, UpdatedAt: now})
	})
	if err != nil {
		return nil, systemError("create item", err)
	}

	c.record(ctx, AuditEvent{
		Actor:   actor,
		Action:  AuditItemCreated,
		Subject: itemSubject(item.ID),
		Properties: map[string]any{
			"name":          item.Name,
			"pay_rate":      item.PayRate.String(),
			"initial_stock": in.InitialStock,
		},
		Message: fmt.Sprintf("%s created item %s", actor.Name, item.Name),
	})
	return &ItemWithStock{Item: item, Stock: in.InitialStock}, nil
}

// GetItem returns an item with its current stock.
func (c *Catalog) GetItem(ctx context.Context, id ItemID) (*ItemWithStock, error) {
	var out *ItemWithStock
	err := c.store.View(ctx, func(repo Repository) error {
		item, err := requireItem(ctx, repo, id)
		if err != nil {
			return err
		}
		stock, err := repo.GetStock(ctx, id)
		if err != nil {
			return err
		}
		out = &ItemWithStock{Item: *item}
		if stock != nil {
			out.Stock = stock.Quantity
		}
		return nil
	})
	if err != nil {
		return nil, systemError("get item", err)
	}
	return out, nil
}

// ListItems returns all items with stock, ordered by name.
func (c *Catalog) ListItems(ctx context.Context) ([]ItemWithStock, error) {
	var out []ItemWithStock
	err := c.store.View(ctx, func(repo Repository) error {
		var err error
		out, err = repo.ListItems(ctx)
		return err
	})
	if err != nil {
		return nil, systemError("list items", err)
	}
	return out, nil
}

// UpdateItem replaces an item's name, description and category.
func (c *Catalog) UpdateItem(ctx context.Context, actor Actor, id ItemID, in ItemDetails) (*ItemWithStock, error) {
	name, err := checkName("name", in.Name)
	if err != nil {
		return nil, err
	}

	now := c.now()
	var (
		out      ItemWithStock
		previous string
	)
	err = c.store.WithTx(ctx, func(repo Repository) error {
		item, err := requireItem(ctx, repo, id)
		if err != nil {
			return err
		}
		previous = item.Name
		item.Name = name
		item.Description = strings.TrimSpace(in.Description)
		item.CategoryID = in.CategoryID
		item.UpdatedAt = now
		if err := repo.UpdateItem(ctx, item); err != nil {
			return err
		}
		stock, err := repo.GetStock(ctx, id)
		if err != nil {
			return err
		}
		out = ItemWithStock{Item: *item}
		if stock != nil {
			out.Stock = stock.Quantity
		}
		return nil
	})
	if err != nil {
		return nil, systemError("update item", err)
	}

	c.record(ctx, AuditEvent{
		Actor:   actor,
		Action:  AuditItemUpdated,
		Subject: itemSubject(id),
		Properties: map[string]any{
			"previous_name": previous,
			"name":          out.Name,
			"category_id":   out.CategoryID,
		},
		Message: fmt.Sprintf("%s updated item %s", actor.Name, out.Name),
	})
	return &out, nil
}

// DeleteItem removes an item and its stock. Items referenced by any work-log
// entry are kept, since wage records are computed from those entries.
func (c *Catalog) DeleteItem(ctx context.Context, actor Actor, id ItemID) error {
	var item *Item
	err := c.store.WithTx(ctx, func(repo Repository) error {
		var err error
		if item, err = requireItem(ctx, repo, id); err != nil {
			return err
		}
		n, err := repo.CountWorkLogsForItem(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return &ItemInUseError{ItemID: id, WorkLogs: n}
		}
		ok, err := repo.DeleteItem(ctx, id)
		if err == nil && !ok {
			err = notFound("item", id)
		}
		return err
	})
	if err != nil {
		return systemError("delete item", err)
	}

	c.record(ctx, AuditEvent{
		Actor:      actor,
		Action:     AuditItemDeleted,
		Subject:    itemSubject(id),
		Properties: map[string]any{"name": item.Name},
		Message:    fmt.Sprintf("%s deleted item %s", actor.Name, item.Name),
	})
	return nil
}

// Restock adds units to an item's stock.
func (c *Catalog) Restock(ctx context.Context, actor Actor, id ItemID, amount int) (*Stock, error) {
	return c.ledger.Increase(ctx, actor, id, amount)
}

// UpdatePayRate changes an item's rate and, in the same transaction,
// recalculates every wage record that contains approved work on the item.
func (c *Catalog) UpdatePayRate(ctx context.Context, actor Actor, id ItemID, rate decimal.Decimal) (*RateChange, error) {
	if rate.IsNegative() {
		return nil, invalid("pay_rate", "must not be negative")
	}

	now := c.now()
	var change RateChange
	err := c.store.WithTx(ctx, func(repo Repository) error {
		item, err := requireItem(ctx, repo, id)
		if err != nil {
			return err
		}
		change.PreviousRate = item.PayRate
		item.PayRate = rate
		item.UpdatedAt = now
		if err := repo.UpdateItem(ctx, item); err != nil {
			return err
		}
		change.Item = *item

		change.Recalculated, err = recalculateItemIn(ctx, repo, id, now)
		return err
	})
	if err != nil {
		return nil, systemError("update pay rate", err)
	}

	c.record(ctx, AuditEvent{
		Actor:   actor,
		Action:  AuditPayRateChanged,
		Subject: itemSubject(id),
		Properties: map[string]any{
			"previous_rate": change.PreviousRate.String(),
			"pay_rate":      rate.String(),
			"recalculated":  len(change.Recalculated),
		},
		Message: fmt.Sprintf("%s changed pay rate of %s from %s to %s",
			actor.Name, change.Item.Name, change.PreviousRate, rate),
	})
	for _, rec := range change.Recalculated {
		c.wages.recordRecalculated(ctx, actor, rec, "item:"+string(id))
	}
	if n := len(change.Recalculated); n > 0 {
		c.log.Info("pay rate change recalculated wage records",
			zap.String("item_id", string(id)),
			zap.Int("records", n))
	}
	return &change, nil
}

// RegisterWorker adds a worker. Kind defaults to production.
func (c *Catalog) RegisterWorker(ctx context.Context, actor Actor, in NewWorker) (*Worker, error) {
	name, err := checkName("name", in.Name)
	if err != nil {
		return nil, err
	}
	kind := in.Kind
	switch kind {
	case "":
		kind = WorkerProduction
	case WorkerProduction, WorkerGeneral:
	default:
		return nil, invalid("kind", "unknown worker kind %q", kind)
	}
	joined := in.JoinedAt
	if joined.IsZero() {
		joined = c.now()
	}

	worker := Worker{
		ID:       WorkerID(newID()),
		UserID:   in.UserID,
		Name:     name,
		Kind:     kind,
		JoinedAt: joined.UTC(),
	}
	err = c.store.WithTx(ctx, func(repo Repository) error {
		return repo.InsertWorker(ctx, &worker)
	})
	if err != nil {
		return nil, systemError("register worker", err)
	}

	c.record(ctx, AuditEvent{
		Actor:   actor,
		Action:  AuditWorkerRegistered,
		Subject: workerSubject(worker.ID),
		Properties: map[string]any{
			"name":      worker.Name,
			"kind":      string(worker.Kind),
			"joined_at": worker.JoinDate().String(),
		},
		Message: fmt.Sprintf("%s registered worker %s", actor.Name, worker.Name),
	})
	return &worker, nil
}

// GetWorker returns one worker.
func (c *Catalog) GetWorker(ctx context.Context, id WorkerID) (*Worker, error) {
	var out *Worker
	err := c.store.View(ctx, func(repo Repository) error {
		var err error
		out, err = requireWorker(ctx, repo, id)
		return err
	})
	if err != nil {
		return nil, systemError("get worker", err)
	}
	return out, nil
}

// ListWorkers returns all workers ordered by name.
func (c *Catalog) ListWorkers(ctx context.Context) ([]Worker, error) {
	var out []Worker
	err := c.store.View(ctx, func(repo Repository) error {
		var err error
		out, err = repo.ListWorkers(ctx)
		return err
	})
	if err != nil {
		return nil, systemError("list workers", err)
	}
	return out, nil
}

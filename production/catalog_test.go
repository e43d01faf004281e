package production_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/production-engine/production"
)

func TestCreateItem(t *testing.T) {
	f := newFixture(t)

	item, err := f.engine.Catalog.CreateItem(f.ctx, admin, production.NewItem{
		Name:         "  Bolt  ",
		PayRate:      decimal.RequireFromString("1250.50"),
		InitialStock: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bolt", item.Name)
	assert.Equal(t, 7, item.Stock)

	got, err := f.engine.Catalog.GetItem(f.ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Stock)
	assert.True(t, decimal.RequireFromString("1250.5").Equal(got.PayRate))
}

func TestCreateItem_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		in   production.NewItem
	}{
		{"blank name", production.NewItem{Name: " "}},
		{"negative rate", production.NewItem{Name: "Bolt", PayRate: decimal.NewFromInt(-1)}},
		{"negative stock", production.NewItem{Name: "Bolt", InitialStock: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Catalog.CreateItem(f.ctx, admin, tt.in)
			assert.ErrorIs(t, err, production.ErrValidation)
		})
	}
}

func TestListItems_SortedByName(t *testing.T) {
	f := newFixture(t)
	f.item("Nut", 500, 1)
	f.item("Bolt", 1000, 2)

	items, err := f.engine.Catalog.ListItems(f.ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Bolt", items[0].Name)
	assert.Equal(t, 2, items[0].Stock)
}

func TestUpdatePayRate_Validation(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 1)

	_, err := f.engine.Catalog.UpdatePayRate(f.ctx, admin, item, decimal.NewFromInt(-5))
	assert.ErrorIs(t, err, production.ErrValidation)
	_, err = f.engine.Catalog.UpdatePayRate(f.ctx, admin, "missing", decimal.NewFromInt(5))
	assert.ErrorIs(t, err, production.ErrNotFound)
}

func TestRegisterWorker(t *testing.T) {
	f := newFixture(t)

	w, err := f.engine.Catalog.RegisterWorker(f.ctx, admin, production.NewWorker{Name: "Budi"})
	require.NoError(t, err)
	assert.Equal(t, production.WorkerProduction, w.Kind)
	assert.Equal(t, "2024-06-21", w.JoinDate().String())

	_, err = f.engine.Catalog.RegisterWorker(f.ctx, admin, production.NewWorker{Name: "Sari", Kind: "contractor"})
	assert.ErrorIs(t, err, production.ErrValidation)

	got, err := f.engine.Catalog.GetWorker(f.ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "Budi", got.Name)

	_, err = f.engine.Catalog.GetWorker(f.ctx, "nobody")
	assert.ErrorIs(t, err, production.ErrNotFound)

	workers, err := f.engine.Catalog.ListWorkers(f.ctx)
	require.NoError(t, err)
	assert.Len(t, workers, 1)
}

func TestUpdateItem(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 7)

	got, err := f.engine.Catalog.UpdateItem(f.ctx, admin, item, production.ItemDetails{
		Name:        "  Hex bolt ",
		Description: "M8",
		CategoryID:  "fasteners",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hex bolt", got.Name)
	assert.Equal(t, "fasteners", got.CategoryID)
	assert.Equal(t, 7, got.Stock)
	assert.True(t, decimal.NewFromInt(1000).Equal(got.PayRate), "pay rate is untouched")
	assert.Contains(t, f.audit.actions(), production.AuditItemUpdated)

	_, err = f.engine.Catalog.UpdateItem(f.ctx, admin, item, production.ItemDetails{Name: " "})
	assert.ErrorIs(t, err, production.ErrValidation)
	_, err = f.engine.Catalog.UpdateItem(f.ctx, admin, "missing", production.ItemDetails{Name: "x"})
	assert.ErrorIs(t, err, production.ErrNotFound)
}

func TestDeleteItem(t *testing.T) {
	t.Run("unused item is removed with its stock", func(t *testing.T) {
		f := newFixture(t)
		item := f.item("Bolt", 1000, 7)

		require.NoError(t, f.engine.Catalog.DeleteItem(f.ctx, admin, item))

		_, err := f.engine.Catalog.GetItem(f.ctx, item)
		assert.ErrorIs(t, err, production.ErrNotFound)
		assert.ErrorIs(t, f.engine.Catalog.DeleteItem(f.ctx, admin, item), production.ErrNotFound)
		assert.Contains(t, f.audit.actions(), production.AuditItemDeleted)
	})

	t.Run("item with work logs is kept", func(t *testing.T) {
		f := newFixture(t)
		item := f.item("Bolt", 1000, 7)
		worker := f.worker("Budi", "2024-06-03")
		f.request(worker, item, "2024-06-20", 1)

		err := f.engine.Catalog.DeleteItem(f.ctx, admin, item)

		require.ErrorIs(t, err, production.ErrItemInUse)
		assert.True(t, production.IsConflict(err))
		var inUse *production.ItemInUseError
		require.True(t, errors.As(err, &inUse))
		assert.Equal(t, 1, inUse.WorkLogs)
		assert.Equal(t, 7, f.stock(item))
	})
}

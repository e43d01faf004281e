package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/production-engine/calendar"
	"github.com/warp/production-engine/production"
)

var now = time.Date(2024, time.June, 21, 9, 0, 0, 0, time.UTC)

func seedItem(t *testing.T, m *Memory, id production.ItemID, qty int) {
	t.Helper()
	err := m.WithTx(context.Background(), func(repo production.Repository) error {
		ctx := context.Background()
		if err := repo.InsertItem(ctx, &production.Item{ID: id, Name: string(id), PayRate: decimal.NewFromInt(1000), CreatedAt: now}); err != nil {
			return err
		}
		return repo.InsertStock(ctx, &production.Stock{ID: "s-" + string(id), ItemID: id, Quantity: qty, UpdatedAt: now})
	})
	require.NoError(t, err)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: an item with 5 in stock
	m := NewMemory()
	seedItem(t, m, "a", 5)
	boom := errors.New("boom")

	// WHEN: a transaction decrements and then fails
	err := m.WithTx(context.Background(), func(repo production.Repository) error {
		stock, err := repo.LockStock(context.Background(), "a")
		require.NoError(t, err)
		stock.Quantity = 1
		require.NoError(t, repo.UpdateStock(context.Background(), stock))
		return boom
	})

	// THEN: the decrement is discarded
	assert.ErrorIs(t, err, boom)
	err = m.View(context.Background(), func(repo production.Repository) error {
		stock, err := repo.GetStock(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, 5, stock.Quantity)
		return nil
	})
	require.NoError(t, err)
}

func TestView_WritesDoNotLeak(t *testing.T) {
	m := NewMemory()
	seedItem(t, m, "a", 5)

	err := m.View(context.Background(), func(repo production.Repository) error {
		stock, _ := repo.GetStock(context.Background(), "a")
		stock.Quantity = 0
		return repo.UpdateStock(context.Background(), stock)
	})
	require.NoError(t, err)

	err = m.View(context.Background(), func(repo production.Repository) error {
		stock, _ := repo.GetStock(context.Background(), "a")
		assert.Equal(t, 5, stock.Quantity)
		return nil
	})
	require.NoError(t, err)
}

func TestGetters_MissingRowsReturnNil(t *testing.T) {
	m := NewMemory()

	err := m.View(context.Background(), func(repo production.Repository) error {
		ctx := context.Background()
		item, err := repo.GetItem(ctx, "x")
		assert.NoError(t, err)
		assert.Nil(t, item)
		worker, err := repo.GetWorker(ctx, "x")
		assert.NoError(t, err)
		assert.Nil(t, worker)
		entry, err := repo.GetWorkLog(ctx, "x")
		assert.NoError(t, err)
		assert.Nil(t, entry)
		wage, err := repo.GetWage(ctx, "x")
		assert.NoError(t, err)
		assert.Nil(t, wage)
		return nil
	})
	require.NoError(t, err)
}

func TestResolveWorkLog_OnlyFromPending(t *testing.T) {
	m := NewMemory()
	seedItem(t, m, "a", 5)
	entry := &production.WorkLogEntry{
		ID: "wl-1", WorkerID: "w", ItemID: "a",
		WorkDate: calendar.MustParseDate("2024-06-20"), Quantity: 1,
		Status: production.StatusPending, SubmittedAt: now,
	}

	err := m.WithTx(context.Background(), func(repo production.Repository) error {
		ctx := context.Background()
		require.NoError(t, repo.InsertWorkLog(ctx, entry))

		resolved := *entry
		resolved.Status = production.StatusApproved
		ok, err := repo.ResolveWorkLog(ctx, &resolved)
		require.NoError(t, err)
		assert.True(t, ok)

		again := *entry
		again.Status = production.StatusRejected
		ok, err = repo.ResolveWorkLog(ctx, &again)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestWorkLogEditsAndItemDeletion(t *testing.T) {
	m := NewMemory()
	seedItem(t, m, "a", 5)
	seedItem(t, m, "b", 5)
	entry := &production.WorkLogEntry{
		ID: "wl-1", WorkerID: "w", ItemID: "a",
		WorkDate: calendar.MustParseDate("2024-06-20"), Quantity: 1,
		Status: production.StatusApproved, SubmittedAt: now,
	}

	err := m.WithTx(context.Background(), func(repo production.Repository) error {
		ctx := context.Background()
		require.NoError(t, repo.InsertWorkLog(ctx, entry))

		edited := *entry
		edited.Quantity = 3
		edited.WorkDate = calendar.MustParseDate("2024-06-19")
		edited.Status = production.StatusRejected
		require.NoError(t, repo.UpdateWorkLog(ctx, &edited))
		got, err := repo.GetWorkLog(ctx, "wl-1")
		require.NoError(t, err)
		assert.Equal(t, 3, got.Quantity)
		assert.Equal(t, "2024-06-19", got.WorkDate.String())
		assert.Equal(t, production.StatusApproved, got.Status, "status is not editable")

		n, err := repo.CountWorkLogsForItem(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		ok, err := repo.DeleteItem(ctx, "b")
		require.NoError(t, err)
		assert.True(t, ok)
		stock, err := repo.GetStock(ctx, "b")
		require.NoError(t, err)
		assert.Nil(t, stock)

		ok, err = repo.DeleteWorkLog(ctx, "wl-1")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = repo.DeleteWorkLog(ctx, "wl-1")
		require.NoError(t, err)
		assert.False(t, ok)
		n, err = repo.CountWorkLogsForItem(ctx, "a")
		require.NoError(t, err)
		assert.Zero(t, n)
		return nil
	})
	require.NoError(t, err)
}

func TestFindOverlappingWage(t *testing.T) {
	m := NewMemory()
	week := calendar.PeriodFor(calendar.MustParseDate("2024-06-10"))

	err := m.WithTx(context.Background(), func(repo production.Repository) error {
		ctx := context.Background()
		require.NoError(t, repo.InsertWage(ctx, &production.WageRecord{ID: "wg-1", WorkerID: "w", Period: week, CreatedAt: now}))

		hit, err := repo.FindOverlappingWage(ctx, "w", calendar.PeriodFor(calendar.MustParseDate("2024-06-13")))
		require.NoError(t, err)
		require.NotNil(t, hit)
		assert.Equal(t, production.WageID("wg-1"), hit.ID)

		miss, err := repo.FindOverlappingWage(ctx, "w", calendar.PeriodFor(calendar.MustParseDate("2024-06-17")))
		require.NoError(t, err)
		assert.Nil(t, miss)

		other, err := repo.FindOverlappingWage(ctx, "someone-else", week)
		require.NoError(t, err)
		assert.Nil(t, other)
		return nil
	})
	require.NoError(t, err)
}

func TestReset(t *testing.T) {
	m := NewMemory()
	seedItem(t, m, "a", 5)

	require.NoError(t, m.Reset(context.Background()))

	err := m.View(context.Background(), func(repo production.Repository) error {
		items, err := repo.ListItems(context.Background())
		require.NoError(t, err)
		assert.Empty(t, items)
		return nil
	})
	require.NoError(t, err)
}

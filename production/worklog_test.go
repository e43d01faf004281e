package production_test

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/production-engine/production"
)

// =============================================================================
// DIRECT MODE
// =============================================================================

func TestSubmitDirect_DecrementsStockAndApproves(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 10)
	worker := f.worker("Budi", "2024-06-03")

	res, err := f.engine.WorkLogs.SubmitDirect(f.ctx, admin, submission(worker, item, "2024-06-20", 4))
	require.NoError(t, err)

	assert.Equal(t, production.StatusApproved, res.Entry.Status)
	assert.NotNil(t, res.Entry.ResolvedAt)
	assert.Equal(t, 6, res.StockAfter)
	assert.Equal(t, 6, f.stock(item))
	assert.Contains(t, f.audit.actions(), production.AuditWorkLogged)
}

func TestSubmitDirect_EmptyStock_Depleted(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 0)
	worker := f.worker("Budi", "2024-06-03")

	_, err := f.engine.WorkLogs.SubmitDirect(f.ctx, admin, submission(worker, item, "2024-06-20", 1))

	require.ErrorIs(t, err, production.ErrStockDepleted)
	var stockErr *production.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.True(t, stockErr.Depleted)
	assert.True(t, production.IsClientError(err))
}

func TestSubmitDirect_NotEnoughStock_ReportsAvailable(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 2)
	worker := f.worker("Budi", "2024-06-03")

	_, err := f.engine.WorkLogs.SubmitDirect(f.ctx, admin, submission(worker, item, "2024-06-20", 3))

	require.ErrorIs(t, err, production.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "available 2")
	assert.Equal(t, 2, f.stock(item))

	logs, err := f.engine.WorkLogs.ListForWorker(f.ctx, worker)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestSubmitDirect_Validation(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 10)
	worker := f.worker("Budi", "2024-06-03")

	tests := []struct {
		name string
		sub  production.Submission
		want error
	}{
		{"future date", submission(worker, item, "2024-06-24", 1), production.ErrValidation},
		{"saturday", submission(worker, item, "2024-06-15", 1), production.ErrValidation},
		{"sunday", submission(worker, item, "2024-06-16", 1), production.ErrValidation},
		{"zero quantity", submission(worker, item, "2024-06-20", 0), production.ErrValidation},
		{"unknown worker", submission("nobody", item, "2024-06-20", 1), production.ErrNotFound},
		{"unknown item", submission(worker, "nothing", "2024-06-20", 1), production.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.WorkLogs.SubmitDirect(f.ctx, admin, tt.sub)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 10, f.stock(item))
}

func TestSubmitDirect_WeekendAllowedByPolicy(t *testing.T) {
	f := newFixture(t, withPolicy(production.Policy{}))
	item := f.item("Bolt", 1000, 10)
	worker := f.worker("Budi", "2024-06-03")

	_, err := f.engine.WorkLogs.SubmitDirect(f.ctx, admin, submission(worker, item, "2024-06-15", 1))
	assert.NoError(t, err)
}

func TestSubmitDirect_Concurrent_OneWins(t *testing.T) {
	// GIVEN: 5 units and two submissions of 3 racing
	f := newFixture(t)
	item := f.item("Bolt", 1000, 5)
	worker := f.worker("Budi", "2024-06-03")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.WorkLogs.SubmitDirect(f.ctx, admin, submission(worker, item, "2024-06-20", 3))
		}(i)
	}
	wg.Wait()

	// THEN: exactly one succeeds, the other sees the post-commit level
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, production.ErrInsufficientStock)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, f.stock(item))
}

func TestSubmitDirect_AuditFailureSuppressed(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, withLogger(zap.New(core)))
	item := f.item("Bolt", 1000, 10)
	worker := f.worker("Budi", "2024-06-03")
	f.audit.err = errCollaborator

	res, err := f.engine.WorkLogs.SubmitDirect(f.ctx, admin, submission(worker, item, "2024-06-20", 1))

	require.NoError(t, err)
	assert.Equal(t, 9, res.StockAfter)
	assert.Equal(t, 1, logs.FilterMessage("audit record failed").Len())
}

// =============================================================================
// REQUEST MODE
// =============================================================================

func TestSubmitRequest_PendingAndNotifiesApprovers(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 10)
	worker := f.worker("Budi", "2024-06-03")

	entry := f.request(worker, item, "2024-06-20", 4)

	assert.Equal(t, production.StatusPending, entry.Status)
	assert.Nil(t, entry.ResolvedAt)
	assert.Equal(t, 10, f.stock(item))

	require.Len(t, f.notifier.sent, 1)
	n := f.notifier.sent[0]
	assert.Equal(t, production.NotificationPendingRequest, n.Kind)
	assert.Equal(t, entry.ID, n.WorkLogID)
	assert.Equal(t, "Budi", n.WorkerName)
	assert.Equal(t, "Bolt", n.ItemName)
	assert.Equal(t, production.Approvers, f.notifier.recipients[0])
}

func TestSubmitRequest_NotifierFailureSuppressed(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 10)
	worker := f.worker("Budi", "2024-06-03")
	f.notifier.err = errCollaborator

	_, err := f.engine.WorkLogs.SubmitRequest(f.ctx, staff, submission(worker, item, "2024-06-20", 1))
	assert.NoError(t, err)

	pending, err := f.engine.WorkLogs.PendingList(f.ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestApprove_DecrementsOnce(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 10)
	worker := f.worker("Budi", "2024-06-03")
	entry := f.request(worker, item, "2024-06-20", 4)

	res, err := f.engine.WorkLogs.Approve(f.ctx, admin, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, production.StatusApproved, res.Entry.Status)
	assert.Equal(t, admin.ID, res.Entry.ResolvedBy)
	assert.Equal(t, 6, res.StockAfter)

	// WHEN: approving again
	_, err = f.engine.WorkLogs.Approve(f.ctx, admin, entry.ID)

	// THEN: invalid state, no second decrement
	require.ErrorIs(t, err, production.ErrInvalidState)
	assert.True(t, production.IsConflict(err))
	assert.Equal(t, 6, f.stock(item))
}

func TestApprove_InsufficientStock_LeavesPending(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 1)
	worker := f.worker("Budi", "2024-06-03")
	entry := f.request(worker, item, "2024-06-20", 2)

	_, err := f.engine.WorkLogs.Approve(f.ctx, admin, entry.ID)
	require.ErrorIs(t, err, production.ErrInsufficientStock)

	view, err := f.engine.WorkLogs.Get(f.ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, production.StatusPending, view.Status)
	assert.Equal(t, 1, f.stock(item))
}

func TestApprove_Missing_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.WorkLogs.Approve(f.ctx, admin, "missing")
	assert.ErrorIs(t, err, production.ErrNotFound)
}

func TestApprove_ConcurrentApprovers_OneWins(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 10)
	worker := f.worker("Budi", "2024-06-03")
	entry := f.request(worker, item, "2024-06-20", 4)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.WorkLogs.Approve(f.ctx, admin, entry.ID)
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.ErrorIs(t, err, production.ErrInvalidState)
		}
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, 6, f.stock(item))
}

func TestReject_KeepsStock(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 10)
	worker := f.worker("Budi", "2024-06-03")
	entry := f.request(worker, item, "2024-06-20", 4)

	rejected, err := f.engine.WorkLogs.Reject(f.ctx, admin, entry.ID, "  wrong item  ")
	require.NoError(t, err)

	assert.Equal(t, production.StatusRejected, rejected.Status)
	assert.Equal(t, "wrong item", rejected.RejectionReason)
	assert.NotNil(t, rejected.ResolvedAt)
	assert.Equal(t, 10, f.stock(item))

	_, err = f.engine.WorkLogs.Approve(f.ctx, admin, entry.ID)
	assert.ErrorIs(t, err, production.ErrInvalidState)
	_, err = f.engine.WorkLogs.Reject(f.ctx, admin, entry.ID, "again")
	assert.ErrorIs(t, err, production.ErrInvalidState)
}

func TestReject_ReasonValidation(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 10)
	worker := f.worker("Budi", "2024-06-03")
	entry := f.request(worker, item, "2024-06-20", 4)

	_, err := f.engine.WorkLogs.Reject(f.ctx, admin, entry.ID, "   ")
	assert.ErrorIs(t, err, production.ErrValidation)

	_, err = f.engine.WorkLogs.Reject(f.ctx, admin, entry.ID, strings.Repeat("é", production.MaxRejectionReason+1))
	assert.ErrorIs(t, err, production.ErrValidation)

	_, err = f.engine.WorkLogs.Reject(f.ctx, admin, entry.ID, strings.Repeat("é", production.MaxRejectionReason))
	assert.NoError(t, err)
}

func TestReject_Missing_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.WorkLogs.Reject(f.ctx, admin, "missing", "reason")
	assert.ErrorIs(t, err, production.ErrNotFound)
}

// =============================================================================
// LISTINGS
// =============================================================================

func TestPendingAndHistory_Ordering(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 10)
	worker := f.worker("Budi", "2024-06-03")

	first := f.request(worker, item, "2024-06-18", 1)
	second := f.request(worker, item, "2024-06-19", 1)
	third := f.request(worker, item, "2024-06-20", 1)

	pending, err := f.engine.WorkLogs.PendingList(f.ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, third.ID, pending[0].ID)
	assert.Equal(t, first.ID, pending[2].ID)
	assert.Equal(t, "Budi", pending[0].WorkerName)
	assert.Equal(t, "Bolt", pending[0].ItemName)

	_, err = f.engine.WorkLogs.Approve(f.ctx, admin, second.ID)
	require.NoError(t, err)
	_, err = f.engine.WorkLogs.Reject(f.ctx, admin, first.ID, "duplicate")
	require.NoError(t, err)

	history, err := f.engine.WorkLogs.History(f.ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
	assert.Equal(t, second.ID, history[1].ID)

	pending, err = f.engine.WorkLogs.PendingList(f.ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, third.ID, pending[0].ID)
}

func TestListForWorker_LatestWorkDateFirst(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 10)
	worker := f.worker("Budi", "2024-06-03")
	other := f.worker("Sari", "2024-06-03")

	f.direct(worker, item, "2024-06-17", 1)
	f.direct(worker, item, "2024-06-20", 1)
	f.direct(other, item, "2024-06-19", 1)

	logs, err := f.engine.WorkLogs.ListForWorker(f.ctx, worker)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "2024-06-20", logs[0].WorkDate.String())
	assert.Equal(t, "2024-06-17", logs[1].WorkDate.String())

	_, err = f.engine.WorkLogs.ListForWorker(f.ctx, "nobody")
	assert.ErrorIs(t, err, production.ErrNotFound)
}

// =============================================================================
// CORRECTIONS
// =============================================================================

func TestCorrect_ApprovedEntryMovesStockDifference(t *testing.T) {
	// GIVEN: an approved entry of 4 from a stock of 10
	f := newFixture(t)
	item := f.item("Bolt", 1000, 10)
	worker := f.worker("Budi", "2024-06-03")
	entry := f.direct(worker, item, "2024-06-20", 4)

	// WHEN: corrected up to 6, then down to 1
	up, err := f.engine.WorkLogs.Correct(f.ctx, admin, entry.ID, production.Correction{WorkDate: date("2024-06-20"), Quantity: 6})
	require.NoError(t, err)
	require.NotNil(t, up.StockAfter)
	assert.Equal(t, 4, *up.StockAfter)

	down, err := f.engine.WorkLogs.Correct(f.ctx, admin, entry.ID, production.Correction{WorkDate: date("2024-06-19"), Quantity: 1})
	require.NoError(t, err)

	// THEN: stock reflects only the final quantity
	assert.Equal(t, 9, f.stock(item))
	assert.Equal(t, 1, down.Entry.Quantity)
	assert.Equal(t, "2024-06-19", down.Entry.WorkDate.String())
	assert.Equal(t, production.StatusApproved, down.Entry.Status)
	assert.Contains(t, f.audit.actions(), production.AuditWorkLogCorrected)
}

func TestCorrect_IncreaseBeyondStockFails(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 5)
	worker := f.worker("Budi", "2024-06-03")
	entry := f.direct(worker, item, "2024-06-20", 4)

	_, err := f.engine.WorkLogs.Correct(f.ctx, admin, entry.ID, production.Correction{WorkDate: date("2024-06-20"), Quantity: 6})

	require.ErrorIs(t, err, production.ErrInsufficientStock)
	assert.Equal(t, 1, f.stock(item))
	got, err := f.engine.WorkLogs.Get(f.ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Quantity)
}

func TestCorrect_PendingLeavesStock(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 5)
	worker := f.worker("Budi", "2024-06-03")
	entry := f.request(worker, item, "2024-06-20", 2)

	res, err := f.engine.WorkLogs.Correct(f.ctx, admin, entry.ID, production.Correction{WorkDate: date("2024-06-20"), Quantity: 50})

	require.NoError(t, err)
	assert.Nil(t, res.StockAfter)
	assert.Equal(t, production.StatusPending, res.Entry.Status)
	assert.Equal(t, 5, f.stock(item))
}

func TestCorrect_Refused(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 5)
	worker := f.worker("Budi", "2024-06-03")
	entry := f.direct(worker, item, "2024-06-20", 1)
	rejected := f.request(worker, item, "2024-06-20", 1)
	_, err := f.engine.WorkLogs.Reject(f.ctx, admin, rejected.ID, "duplicate")
	require.NoError(t, err)

	_, err = f.engine.WorkLogs.Correct(f.ctx, admin, rejected.ID, production.Correction{WorkDate: date("2024-06-20"), Quantity: 2})
	require.ErrorIs(t, err, production.ErrInvalidState)
	assert.Contains(t, err.Error(), "cannot be corrected")

	_, err = f.engine.WorkLogs.Correct(f.ctx, admin, entry.ID, production.Correction{WorkDate: date("2024-06-22"), Quantity: 1})
	assert.ErrorIs(t, err, production.ErrValidation, "weekend")
	_, err = f.engine.WorkLogs.Correct(f.ctx, admin, entry.ID, production.Correction{WorkDate: date("2024-06-20"), Quantity: 0})
	assert.ErrorIs(t, err, production.ErrValidation)
	_, err = f.engine.WorkLogs.Correct(f.ctx, admin, "missing", production.Correction{WorkDate: date("2024-06-20"), Quantity: 1})
	assert.ErrorIs(t, err, production.ErrNotFound)
}

func TestCorrect_MovesWorkBetweenWageRecords(t *testing.T) {
	// GIVEN: records for two consecutive weeks
	f := newFixture(t)
	item := f.item("Bolt", 1000, 100)
	worker := f.worker("Budi", "2024-06-03")
	moved := f.direct(worker, item, "2024-06-14", 3)
	f.direct(worker, item, "2024-06-17", 1)
	week2, err := f.engine.Wages.CreateWageRecord(f.ctx, admin, worker, date("2024-06-10"))
	require.NoError(t, err)
	week3, err := f.engine.Wages.CreateWageRecord(f.ctx, admin, worker, date("2024-06-17"))
	require.NoError(t, err)

	// WHEN: the entry's work date moves into week 3
	_, err = f.engine.WorkLogs.Correct(f.ctx, admin, moved.ID, production.Correction{WorkDate: date("2024-06-18"), Quantity: 3})
	require.NoError(t, err)

	// THEN: both records follow
	got2, err := f.engine.Wages.GetWage(f.ctx, week2.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got2.Record.TotalQuantity)
	got3, err := f.engine.Wages.GetWage(f.ctx, week3.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got3.Record.TotalQuantity)
	assert.True(t, amount(4000).Equal(got3.Record.TotalPay))
}

func TestDelete_ApprovedEntryReturnsStock(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 10)
	worker := f.worker("Budi", "2024-06-03")
	kept := f.direct(worker, item, "2024-06-10", 2)
	removed := f.direct(worker, item, "2024-06-11", 3)
	rec, err := f.engine.Wages.CreateWageRecord(f.ctx, admin, worker, date("2024-06-10"))
	require.NoError(t, err)
	require.Equal(t, 5, rec.Record.TotalQuantity)

	require.NoError(t, f.engine.WorkLogs.Delete(f.ctx, admin, removed.ID))

	assert.Equal(t, 8, f.stock(item))
	_, err = f.engine.WorkLogs.Get(f.ctx, removed.ID)
	assert.ErrorIs(t, err, production.ErrNotFound)
	got, err := f.engine.Wages.GetWage(f.ctx, rec.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Record.TotalQuantity)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, kept.ID, got.Lines[0].WorkLogID)
	assert.Contains(t, f.audit.actions(), production.AuditWorkLogDeleted)
}

func TestDelete_PendingAndRejectedLeaveStock(t *testing.T) {
	f := newFixture(t)
	item := f.item("Bolt", 1000, 10)
	worker := f.worker("Budi", "2024-06-03")
	pending := f.request(worker, item, "2024-06-20", 2)
	rejected := f.request(worker, item, "2024-06-20", 3)
	_, err := f.engine.WorkLogs.Reject(f.ctx, admin, rejected.ID, "wrong item")
	require.NoError(t, err)

	require.NoError(t, f.engine.WorkLogs.Delete(f.ctx, admin, pending.ID))
	require.NoError(t, f.engine.WorkLogs.Delete(f.ctx, admin, rejected.ID))

	assert.Equal(t, 10, f.stock(item))
	list, err := f.engine.WorkLogs.ListForWorker(f.ctx, worker)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.ErrorIs(t, f.engine.WorkLogs.Delete(f.ctx, admin, pending.ID), production.ErrNotFound)
}

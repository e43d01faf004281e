/*
wage.go - Wage Aggregator

PURPOSE:
  Materializes a worker's approved output over one pay period into a
  WageRecord, and keeps existing records consistent when the underlying data
  (pay rates, late approvals) changes.

PERIODS:
  A period covers 5 consecutive working days. A weekend start is moved to the
  following Monday (see calendar.PeriodFor). Two records of one worker overlap
  when existing.Start <= new.End and existing.End >= new.Start, and creation
  is refused in that case.

TOTALS:
  TotalQuantity = sum(quantity)
  TotalPay      = sum(quantity x current pay rate of the item)
  over Approved entries whose work date lies inside the period. Totals are
  recomputed (overwritten) by Recalculate; they are never edited by hand.
  Any transaction that approves, adds, corrects or deletes an approved entry
  also recalculates the worker's record covering that work date (syncWagesIn),
  so totals match the breakdown as soon as the transaction commits.

CONCURRENCY:
  Creation takes the optional Locker for the worker (cross-process) and the
  worker row lock (database), then runs the overlap check and the insert in
  the same transaction. Two concurrent creations for one worker and an
  overlapping period therefore yield one record and one DuplicatePeriod.
*/
package production

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/production-engine/calendar"
	"github.com/warp/production-engine/metrics"
)

// WageAggregator creates and maintains wage records.
type WageAggregator struct {
	*deps
}

// WageResult is a record with the lines it was computed from.
type WageResult struct {
	Record WageRecord `json:"record"`
	Lines  []WageLine `json:"lines"`
}

// PeriodPreview describes the period a wage record would cover, without creating it.
type PeriodPreview struct {
	WorkerID      WorkerID        `json:"worker_id"`
	Period        calendar.Period `json:"period"`
	WeekNumber    int             `json:"week_number"`
	TotalQuantity int             `json:"total_quantity"`
	TotalPay      decimal.Decimal `json:"total_pay"`
	Lines         []WageLine      `json:"lines"`
	Existing      *WageID         `json:"existing,omitempty"`
}

func totals(lines []WageLine) (int, decimal.Decimal) {
	qty := 0
	pay := decimal.Zero
	for _, l := range lines {
		qty += l.Quantity
		pay = pay.Add(l.Subtotal())
	}
	return qty, pay
}

func weekNumber(worker *Worker, start calendar.Date) int {
	week := calendar.WeekNumber(worker.JoinDate(), start)
	if week < 1 {
		week = 1
	}
	return week
}

func (a *WageAggregator) checkStart(start calendar.Date) error {
	if start.IsZero() {
		return invalid("period_start", "is required")
	}
	if start.After(a.today()) {
		return invalid("period_start", "must not be in the future")
	}
	return nil
}

// CreateWageRecord aggregates the worker's approved entries for the period
// derived from start and persists the record.
func (a *WageAggregator) CreateWageRecord(ctx context.Context, actor Actor, workerID WorkerID, start calendar.Date) (*WageResult, error) {
	if workerID == "" {
		return nil, invalid("worker_id", "is required")
	}
	if err := a.checkStart(start); err != nil {
		return nil, err
	}
	period := calendar.PeriodFor(start)

	if a.locker != nil {
		unlock, err := a.locker.Lock(ctx, "wage:"+string(workerID))
		if err != nil {
			return nil, systemError("lock worker", err)
		}
		defer unlock()
	}

	now := a.now()
	var result WageResult
	err := a.store.WithTx(ctx, func(repo Repository) error {
		worker, err := repo.LockWorker(ctx, workerID)
		if err != nil {
			return err
		}
		if worker == nil {
			return notFound("worker", workerID)
		}

		if joined := worker.JoinDate(); period.Start.Before(joined) {
			if a.policy.EnforceJoinDate {
				return invalid("period_start", "period starts %s, before the worker joined on %s", period.Start, joined)
			}
			a.log.Warn("wage period starts before join date",
				zap.String("worker_id", string(workerID)),
				zap.Stringer("period_start", period.Start),
				zap.Stringer("joined", joined))
		}

		existing, err := repo.FindOverlappingWage(ctx, workerID, period)
		if err != nil {
			return err
		}
		if existing != nil {
			return &DuplicatePeriodError{WorkerID: workerID, Existing: existing.ID, Period: existing.Period}
		}

		lines, err := repo.ApprovedLines(ctx, workerID, period)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return &NoWorkLoggedError{WorkerID: workerID, Period: period}
		}

		qty, pay := totals(lines)
		result = WageResult{
			Record: WageRecord{
				ID:            WageID(newID()),
				WorkerID:      workerID,
				WeekNumber:    weekNumber(worker, period.Start),
				TotalQuantity: qty,
				TotalPay:      pay,
				Period:        period,
				CreatedAt:     now,
				UpdatedAt:     now,
			},
			Lines: lines,
		}
		return repo.InsertWage(ctx, &result.Record)
	})
	if err != nil {
		return nil, systemError("create wage record", err)
	}

	rec := result.Record
	metrics.WageRecords.WithLabelValues("created").Inc()
	a.record(ctx, AuditEvent{
		Actor:   actor,
		Action:  AuditWageCreated,
		Subject: wageSubject(rec.ID),
		Properties: map[string]any{
			"worker_id":      rec.WorkerID,
			"period":         rec.Period.String(),
			"week_number":    rec.WeekNumber,
			"total_quantity": rec.TotalQuantity,
			"total_pay":      rec.TotalPay.String(),
		},
		Message: fmt.Sprintf("%s created wage record for worker %s, week %d (%s)",
			actor.Name, rec.WorkerID, rec.WeekNumber, rec.Period),
	})
	return &result, nil
}

// PreviewPeriod computes what CreateWageRecord would produce, without writing.
func (a *WageAggregator) PreviewPeriod(ctx context.Context, workerID WorkerID, start calendar.Date) (*PeriodPreview, error) {
	if start.IsZero() {
		return nil, invalid("start", "is required")
	}
	period := calendar.PeriodFor(start)

	var preview PeriodPreview
	err := a.store.View(ctx, func(repo Repository) error {
		worker, err := requireWorker(ctx, repo, workerID)
		if err != nil {
			return err
		}
		lines, err := repo.ApprovedLines(ctx, workerID, period)
		if err != nil {
			return err
		}
		existing, err := repo.FindOverlappingWage(ctx, workerID, period)
		if err != nil {
			return err
		}

		qty, pay := totals(lines)
		preview = PeriodPreview{
			WorkerID:      workerID,
			Period:        period,
			WeekNumber:    weekNumber(worker, period.Start),
			TotalQuantity: qty,
			TotalPay:      pay,
			Lines:         lines,
		}
		if existing != nil {
			preview.Existing = &existing.ID
		}
		return nil
	})
	if err != nil {
		return nil, systemError("preview period", err)
	}
	return &preview, nil
}

// =============================================================================
// RECALCULATION
// =============================================================================

// recalculateIn overwrites the record's totals from current data. Must run in a transaction.
func recalculateIn(ctx context.Context, repo Repository, rec *WageRecord, now time.Time) ([]WageLine, bool, error) {
	lines, err := repo.ApprovedLines(ctx, rec.WorkerID, rec.Period)
	if err != nil {
		return nil, false, err
	}
	qty, pay := totals(lines)
	if qty == rec.TotalQuantity && pay.Equal(rec.TotalPay) {
		return lines, false, nil
	}
	rec.TotalQuantity = qty
	rec.TotalPay = pay
	rec.UpdatedAt = now
	return lines, true, repo.UpdateWageTotals(ctx, rec)
}

// syncWagesIn recalculates the worker's records covering any of dates and
// returns those whose totals changed. Must run in a transaction.
func syncWagesIn(ctx context.Context, repo Repository, workerID WorkerID, now time.Time, dates ...calendar.Date) ([]WageRecord, error) {
	seen := make(map[WageID]bool, len(dates))
	var updated []WageRecord
	for _, d := range dates {
		rec, err := repo.FindOverlappingWage(ctx, workerID, calendar.Period{Start: d, End: d})
		if err != nil {
			return nil, err
		}
		if rec == nil || seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		_, changed, err := recalculateIn(ctx, repo, rec, now)
		if err != nil {
			return nil, err
		}
		if changed {
			updated = append(updated, *rec)
		}
	}
	return updated, nil
}

// Recalculate recomputes one record from the current approved entries and pay rates.
func (a *WageAggregator) Recalculate(ctx context.Context, actor Actor, id WageID) (*WageResult, error) {
	now := a.now()
	var (
		result  WageResult
		changed bool
	)
	err := a.store.WithTx(ctx, func(repo Repository) error {
		rec, err := repo.GetWage(ctx, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return notFound("wage record", id)
		}
		lines, ch, err := recalculateIn(ctx, repo, rec, now)
		if err != nil {
			return err
		}
		result = WageResult{Record: *rec, Lines: lines}
		changed = ch
		return nil
	})
	if err != nil {
		return nil, systemError("recalculate wage record", err)
	}

	if changed {
		a.recordRecalculated(ctx, actor, result.Record, "manual")
	}
	return &result, nil
}

// RecalculateForItem recomputes every record that contains approved work on itemID.
func (a *WageAggregator) RecalculateForItem(ctx context.Context, actor Actor, itemID ItemID) ([]WageRecord, error) {
	now := a.now()
	var updated []WageRecord
	err := a.store.WithTx(ctx, func(repo Repository) error {
		if _, err := requireItem(ctx, repo, itemID); err != nil {
			return err
		}
		var err error
		updated, err = recalculateItemIn(ctx, repo, itemID, now)
		return err
	})
	if err != nil {
		return nil, systemError("recalculate wages for item", err)
	}

	for _, rec := range updated {
		a.recordRecalculated(ctx, actor, rec, "item:"+string(itemID))
	}
	return updated, nil
}

func recalculateItemIn(ctx context.Context, repo Repository, itemID ItemID, now time.Time) ([]WageRecord, error) {
	affected, err := repo.WagesAffectedByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	var updated []WageRecord
	for i := range affected {
		rec := affected[i]
		_, changed, err := recalculateIn(ctx, repo, &rec, now)
		if err != nil {
			return nil, err
		}
		if changed {
			updated = append(updated, rec)
		}
	}
	return updated, nil
}

// RecalculateAll sweeps every record, one transaction each. It returns the
// number of records whose totals changed. A failing record is logged and
// skipped so one bad row cannot stall the sweep.
func (a *WageAggregator) RecalculateAll(ctx context.Context) (int, error) {
	records, err := a.ListWages(ctx, WageFilter{})
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		now := a.now()
		var updated *WageRecord
		err := a.store.WithTx(ctx, func(repo Repository) error {
			current, err := repo.GetWage(ctx, rec.ID)
			if err != nil || current == nil {
				return err
			}
			_, ch, err := recalculateIn(ctx, repo, current, now)
			if ch {
				updated = current
			}
			return err
		})
		if err != nil {
			a.log.Error("wage reconciliation failed",
				zap.String("wage_id", string(rec.ID)),
				zap.Error(err))
			continue
		}
		if updated != nil {
			changed++
			a.recordRecalculated(ctx, SystemActor, *updated, "sweep")
		}
	}
	return changed, nil
}

func (d *deps) recordRecalculated(ctx context.Context, actor Actor, rec WageRecord, trigger string) {
	metrics.WageRecords.WithLabelValues("recalculated").Inc()
	d.record(ctx, AuditEvent{
		Actor:   actor,
		Action:  AuditWageRecalculated,
		Subject: wageSubject(rec.ID),
		Properties: map[string]any{
			"worker_id":      rec.WorkerID,
			"trigger":        trigger,
			"total_quantity": rec.TotalQuantity,
			"total_pay":      rec.TotalPay.String(),
		},
		Message: fmt.Sprintf("wage record %s recalculated: %d units, %s", rec.ID, rec.TotalQuantity, rec.TotalPay),
	})
}

// =============================================================================
// QUERIES & DELETION
// =============================================================================

// GetWage returns a record with its breakdown lines.
func (a *WageAggregator) GetWage(ctx context.Context, id WageID) (*WageResult, error) {
	var result WageResult
	err := a.store.View(ctx, func(repo Repository) error {
		rec, err := repo.GetWage(ctx, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return notFound("wage record", id)
		}
		lines, err := repo.ApprovedLines(ctx, rec.WorkerID, rec.Period)
		if err != nil {
			return err
		}
		result = WageResult{Record: *rec, Lines: lines}
		return nil
	})
	if err != nil {
		return nil, systemError("get wage record", err)
	}
	return &result, nil
}

// ListWages returns records matching filter, latest period first.
func (a *WageAggregator) ListWages(ctx context.Context, filter WageFilter) ([]WageRecord, error) {
	var out []WageRecord
	err := a.store.View(ctx, func(repo Repository) error {
		var err error
		out, err = repo.ListWages(ctx, filter)
		return err
	})
	if err != nil {
		return nil, systemError("list wage records", err)
	}
	return out, nil
}

// DeleteWage removes a record so its period can be aggregated again.
func (a *WageAggregator) DeleteWage(ctx context.Context, actor Actor, id WageID) error {
	var rec *WageRecord
	err := a.store.WithTx(ctx, func(repo Repository) error {
		var err error
		if rec, err = repo.GetWage(ctx, id); err != nil {
			return err
		}
		if rec == nil {
			return notFound("wage record", id)
		}
		ok, err := repo.DeleteWage(ctx, id)
		if err == nil && !ok {
			err = notFound("wage record", id)
		}
		return err
	})
	if err != nil {
		return systemError("delete wage record", err)
	}

	metrics.WageRecords.WithLabelValues("deleted").Inc()
	a.record(ctx, AuditEvent{
		Actor:   actor,
		Action:  AuditWageDeleted,
		Subject: wageSubject(id),
		Properties: map[string]any{
			"worker_id": rec.WorkerID,
			"period":    rec.Period.String(),
		},
		Message: fmt.Sprintf("%s deleted wage record %s (%s)", actor.Name, id, rec.Period),
	})
	return nil
}

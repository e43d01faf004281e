/*
worklog.go - Direct entry and the approval workflow

STATE MACHINE:

	(submit request) --> Pending --approve--> Approved
	                        |
	                        +----reject----> Rejected

	(submit direct)  -----------------------> Approved

  Approved and Rejected are terminal. Stock is decremented once per Approved
  entry: at creation in direct mode, at approval in request mode. Rejection
  never touches stock.

CORRECTIONS:
  Pending and Approved entries can have their work date and quantity
  corrected; Rejected entries cannot. Correcting an Approved entry moves the
  quantity difference through the stock row (more units must be available).
  Deleting an Approved entry returns its units to stock. Either way the
  worker's wage records covering the old and new work dates are recalculated
  in the same transaction.

CONCURRENCY:
  Direct submission and approval both lock the item's stock row before
  reading the quantity. Approval additionally resolves the entry with a
  conditional update (only while still pending), so two approvers racing on
  the same entry produce one success and one InvalidState, and the loser's
  stock decrement is rolled back with its transaction.

SIDE EFFECTS:
  Audit events and notifications are emitted after commit. Their failures are
  logged and never surface to the caller.
*/
package production

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/warp/production-engine/calendar"
	"github.com/warp/production-engine/metrics"
)

// WorkLogService implements both work-log submission modes.
type WorkLogService struct {
	*deps
}

// Submission is the input shared by both modes.
type Submission struct {
	WorkerID WorkerID
	ItemID   ItemID
	WorkDate calendar.Date
	Quantity int
}

// StockResult is a resolved entry plus the item's stock after the decrement.
type StockResult struct {
	Entry      WorkLogEntry `json:"entry"`
	StockAfter int          `json:"stock_after"`
}

// NotificationPendingRequest is the kind sent to approvers.
const NotificationPendingRequest = "work_log.pending"

func (s *WorkLogService) validate(sub Submission) error {
	if sub.WorkerID == "" {
		return invalid("worker_id", "is required")
	}
	if sub.ItemID == "" {
		return invalid("item_id", "is required")
	}
	if sub.WorkDate.IsZero() {
		return invalid("work_date", "is required")
	}
	if sub.WorkDate.After(s.today()) {
		return invalid("work_date", "must not be in the future")
	}
	if s.policy.RejectWeekendWork && sub.WorkDate.IsWeekend() {
		return invalid("work_date", "%s falls on a weekend", sub.WorkDate)
	}
	if sub.Quantity < 1 {
		return invalid("quantity", "must be at least 1")
	}
	return nil
}

// SubmitDirect records an Approved entry and decrements stock in one transaction.
func (s *WorkLogService) SubmitDirect(ctx context.Context, actor Actor, sub Submission) (*StockResult, error) {
	if err := s.validate(sub); err != nil {
		return nil, err
	}

	now := s.now()
	entry := WorkLogEntry{
		ID:          WorkLogID(newID()),
		WorkerID:    sub.WorkerID,
		ItemID:      sub.ItemID,
		WorkDate:    sub.WorkDate,
		Quantity:    sub.Quantity,
		Status:      StatusApproved,
		SubmittedAt: now,
		ResolvedAt:  &now,
		ResolvedBy:  actor.ID,
	}

	var (
		worker *Worker
		item   *Item
		before int
		after  int
		synced []WageRecord
	)
	err := s.store.WithTx(ctx, func(repo Repository) error {
		var err error
		if worker, err = requireWorker(ctx, repo, sub.WorkerID); err != nil {
			return err
		}
		if item, err = requireItem(ctx, repo, sub.ItemID); err != nil {
			return err
		}

		stock, err := lockStock(ctx, repo, sub.ItemID, now)
		if err != nil {
			return err
		}
		before = stock.Quantity
		if err := take(stock, sub.Quantity, true); err != nil {
			return err
		}
		stock.UpdatedAt = now
		if err := repo.UpdateStock(ctx, stock); err != nil {
			return err
		}
		after = stock.Quantity
		if err := repo.InsertWorkLog(ctx, &entry); err != nil {
			return err
		}
		synced, err = syncWagesIn(ctx, repo, sub.WorkerID, now, sub.WorkDate)
		return err
	})
	if err != nil {
		countRejection(err)
		return nil, systemError("submit work log", err)
	}

	countMovement("out", sub.Quantity)
	metrics.WorkLogTransitions.WithLabelValues("direct", string(StatusApproved)).Inc()
	s.record(ctx, AuditEvent{
		Actor:   actor,
		Action:  AuditWorkLogged,
		Subject: workLogSubject(entry.ID),
		Properties: map[string]any{
			"worker_id":    sub.WorkerID,
			"item_id":      sub.ItemID,
			"work_date":    sub.WorkDate.String(),
			"quantity":     sub.Quantity,
			"stock_before": before,
			"stock_after":  after,
		},
		Message: fmt.Sprintf("%s logged %d x %s for %s on %s",
			actor.Name, sub.Quantity, item.Name, worker.Name, sub.WorkDate),
	})
	s.recordSynced(ctx, actor, entry.ID, synced)
	return &StockResult{Entry: entry, StockAfter: after}, nil
}

// SubmitRequest records a Pending entry and notifies approvers. Stock is untouched.
func (s *WorkLogService) SubmitRequest(ctx context.Context, actor Actor, sub Submission) (*WorkLogEntry, error) {
	if err := s.validate(sub); err != nil {
		return nil, err
	}

	entry := WorkLogEntry{
		ID:          WorkLogID(newID()),
		WorkerID:    sub.WorkerID,
		ItemID:      sub.ItemID,
		WorkDate:    sub.WorkDate,
		Quantity:    sub.Quantity,
		Status:      StatusPending,
		SubmittedAt: s.now(),
	}

	var (
		worker *Worker
		item   *Item
	)
	err := s.store.WithTx(ctx, func(repo Repository) error {
		var err error
		if worker, err = requireWorker(ctx, repo, sub.WorkerID); err != nil {
			return err
		}
		if item, err = requireItem(ctx, repo, sub.ItemID); err != nil {
			return err
		}
		return repo.InsertWorkLog(ctx, &entry)
	})
	if err != nil {
		return nil, systemError("submit request", err)
	}

	metrics.WorkLogTransitions.WithLabelValues("request", string(StatusPending)).Inc()
	msg := fmt.Sprintf("%s requested approval for %d x %s", worker.Name, sub.Quantity, item.Name)
	s.record(ctx, AuditEvent{
		Actor:   actor,
		Action:  AuditRequestSubmitted,
		Subject: workLogSubject(entry.ID),
		Properties: map[string]any{
			"worker_id": sub.WorkerID,
			"item_id":   sub.ItemID,
			"work_date": sub.WorkDate.String(),
			"quantity":  sub.Quantity,
		},
		Message: msg,
	})
	s.notify(ctx, Approvers, Notification{
		Kind:        NotificationPendingRequest,
		WorkLogID:   entry.ID,
		WorkerName:  worker.Name,
		ItemName:    item.Name,
		Quantity:    sub.Quantity,
		SubmittedAt: entry.SubmittedAt,
		Message:     msg,
	})
	return &entry, nil
}

// Approve moves a Pending entry to Approved and decrements stock.
// Insufficient stock leaves both the entry and the stock unchanged.
func (s *WorkLogService) Approve(ctx context.Context, actor Actor, id WorkLogID) (*StockResult, error) {
	now := s.now()
	var (
		entry  *WorkLogEntry
		worker *Worker
		item   *Item
		after  int
		synced []WageRecord
	)
	err := s.store.WithTx(ctx, func(repo Repository) error {
		var err error
		if entry, err = pendingEntry(ctx, repo, id); err != nil {
			return err
		}
		if worker, err = requireWorker(ctx, repo, entry.WorkerID); err != nil {
			return err
		}
		if item, err = requireItem(ctx, repo, entry.ItemID); err != nil {
			return err
		}

		stock, err := lockStock(ctx, repo, entry.ItemID, now)
		if err != nil {
			return err
		}
		if err := take(stock, entry.Quantity, false); err != nil {
			return err
		}
		stock.UpdatedAt = now
		if err := repo.UpdateStock(ctx, stock); err != nil {
			return err
		}
		after = stock.Quantity

		entry.Status = StatusApproved
		entry.ResolvedAt = &now
		entry.ResolvedBy = actor.ID
		if err := resolve(ctx, repo, entry); err != nil {
			return err
		}
		synced, err = syncWagesIn(ctx, repo, entry.WorkerID, now, entry.WorkDate)
		return err
	})
	if err != nil {
		countRejection(err)
		return nil, systemError("approve work log", err)
	}

	countMovement("out", entry.Quantity)
	metrics.WorkLogTransitions.WithLabelValues("request", string(StatusApproved)).Inc()
	s.record(ctx, AuditEvent{
		Actor:   actor,
		Action:  AuditRequestApproved,
		Subject: workLogSubject(id),
		Properties: map[string]any{
			"worker_id":   entry.WorkerID,
			"item_id":     entry.ItemID,
			"quantity":    entry.Quantity,
			"stock_after": after,
		},
		Message: fmt.Sprintf("%s approved %d x %s for %s", actor.Name, entry.Quantity, item.Name, worker.Name),
	})
	s.recordSynced(ctx, actor, id, synced)
	return &StockResult{Entry: *entry, StockAfter: after}, nil
}

// Reject moves a Pending entry to Rejected with a reason. Stock is untouched.
func (s *WorkLogService) Reject(ctx context.Context, actor Actor, id WorkLogID, reason string) (*WorkLogEntry, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("reason", "is required")
	}
	if n := utf8.RuneCountInString(reason); n > MaxRejectionReason {
		return nil, invalid("reason", "must be at most %d characters, got %d", MaxRejectionReason, n)
	}

	now := s.now()
	var entry *WorkLogEntry
	err := s.store.WithTx(ctx, func(repo Repository) error {
		var err error
		if entry, err = pendingEntry(ctx, repo, id); err != nil {
			return err
		}
		entry.Status = StatusRejected
		entry.RejectionReason = reason
		entry.ResolvedAt = &now
		entry.ResolvedBy = actor.ID
		return resolve(ctx, repo, entry)
	})
	if err != nil {
		return nil, systemError("reject work log", err)
	}

	metrics.WorkLogTransitions.WithLabelValues("request", string(StatusRejected)).Inc()
	s.record(ctx, AuditEvent{
		Actor:   actor,
		Action:  AuditRequestRejected,
		Subject: workLogSubject(id),
		Properties: map[string]any{
			"worker_id": entry.WorkerID,
			"item_id":   entry.ItemID,
			"quantity":  entry.Quantity,
			"reason":    reason,
		},
		Message: fmt.Sprintf("%s rejected work log %s: %s", actor.Name, id, reason),
	})
	s.log.Debug("work log rejected", zap.String("work_log_id", string(id)))
	return entry, nil
}

func pendingEntry(ctx context.Context, repo Repository, id WorkLogID) (*WorkLogEntry, error) {
	entry, err := repo.GetWorkLog(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, notFound("work log", id)
	}
	if entry.Status.Terminal() {
		return nil, &InvalidStateError{ID: id, Status: entry.Status}
	}
	return entry, nil
}

// resolve persists a transition; losing a race to another resolver is InvalidState.
func resolve(ctx context.Context, repo Repository, entry *WorkLogEntry) error {
	ok, err := repo.ResolveWorkLog(ctx, entry)
	if err != nil {
		return err
	}
	if !ok {
		current, err := repo.GetWorkLog(ctx, entry.ID)
		if err != nil {
			return err
		}
		status := entry.Status
		if current != nil {
			status = current.Status
		}
		return &InvalidStateError{ID: entry.ID, Status: status}
	}
	return nil
}

func (s *WorkLogService) recordSynced(ctx context.Context, actor Actor, id WorkLogID, recs []WageRecord) {
	for _, rec := range recs {
		s.recordRecalculated(ctx, actor, rec, "work_log:"+string(id))
	}
}

// =============================================================================
// CORRECTIONS
// =============================================================================

// Correction replaces an entry's work date and quantity.
type Correction struct {
	WorkDate calendar.Date
	Quantity int
}

// CorrectionResult is the corrected entry plus the stock level when it moved.
type CorrectionResult struct {
	Entry      WorkLogEntry `json:"entry"`
	StockAfter *int         `json:"stock_after,omitempty"`
}

// Correct fixes the work date and quantity of a Pending or Approved entry.
// For an Approved entry the quantity difference is taken from, or returned
// to, the item's stock; a shortfall fails with InsufficientStock.
func (s *WorkLogService) Correct(ctx context.Context, actor Actor, id WorkLogID, c Correction) (*CorrectionResult, error) {
	now := s.now()
	var (
		result   CorrectionResult
		previous WorkLogEntry
		synced   []WageRecord
	)
	err := s.store.WithTx(ctx, func(repo Repository) error {
		entry, err := repo.GetWorkLog(ctx, id)
		if err != nil {
			return err
		}
		if entry == nil {
			return notFound("work log", id)
		}
		if entry.Status == StatusRejected {
			return &InvalidStateError{ID: id, Status: entry.Status, Action: "corrected"}
		}
		if err := s.validate(Submission{WorkerID: entry.WorkerID, ItemID: entry.ItemID, WorkDate: c.WorkDate, Quantity: c.Quantity}); err != nil {
			return err
		}
		previous = *entry

		if entry.Status == StatusApproved {
			stock, err := lockStock(ctx, repo, entry.ItemID, now)
			if err != nil {
				return err
			}
			if delta := c.Quantity - entry.Quantity; delta > 0 {
				if err := take(stock, delta, false); err != nil {
					return err
				}
			} else {
				stock.Quantity -= delta
			}
			stock.UpdatedAt = now
			if err := repo.UpdateStock(ctx, stock); err != nil {
				return err
			}
			after := stock.Quantity
			result.StockAfter = &after
		}

		entry.WorkDate = c.WorkDate
		entry.Quantity = c.Quantity
		if err := repo.UpdateWorkLog(ctx, entry); err != nil {
			return err
		}
		result.Entry = *entry

		if entry.Status == StatusApproved {
			synced, err = syncWagesIn(ctx, repo, entry.WorkerID, now, previous.WorkDate, entry.WorkDate)
		}
		return err
	})
	if err != nil {
		countRejection(err)
		return nil, systemError("correct work log", err)
	}

	if delta := c.Quantity - previous.Quantity; result.StockAfter != nil && delta != 0 {
		if delta > 0 {
			countMovement("out", delta)
		} else {
			countMovement("in", -delta)
		}
	}
	s.record(ctx, AuditEvent{
		Actor:   actor,
		Action:  AuditWorkLogCorrected,
		Subject: workLogSubject(id),
		Properties: map[string]any{
			"status":   string(previous.Status),
			"old_date": previous.WorkDate.String(),
			"new_date": c.WorkDate.String(),
			"old_qty":  previous.Quantity,
			"new_qty":  c.Quantity,
		},
		Message: fmt.Sprintf("%s corrected work log %s: %d on %s -> %d on %s",
			actor.Name, id, previous.Quantity, previous.WorkDate, c.Quantity, c.WorkDate),
	})
	s.recordSynced(ctx, actor, id, synced)
	return &result, nil
}

// Delete removes an entry. An Approved entry's units go back to stock and
// the wage record covering its work date is recalculated.
func (s *WorkLogService) Delete(ctx context.Context, actor Actor, id WorkLogID) error {
	now := s.now()
	var (
		entry  *WorkLogEntry
		synced []WageRecord
	)
	err := s.store.WithTx(ctx, func(repo Repository) error {
		var err error
		if entry, err = repo.GetWorkLog(ctx, id); err != nil {
			return err
		}
		if entry == nil {
			return notFound("work log", id)
		}

		if entry.Status == StatusApproved {
			stock, err := lockStock(ctx, repo, entry.ItemID, now)
			if err != nil {
				return err
			}
			stock.Quantity += entry.Quantity
			stock.UpdatedAt = now
			if err := repo.UpdateStock(ctx, stock); err != nil {
				return err
			}
		}

		ok, err := repo.DeleteWorkLog(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("work log", id)
		}
		if entry.Status == StatusApproved {
			synced, err = syncWagesIn(ctx, repo, entry.WorkerID, now, entry.WorkDate)
		}
		return err
	})
	if err != nil {
		return systemError("delete work log", err)
	}

	if entry.Status == StatusApproved {
		countMovement("in", entry.Quantity)
	}
	s.record(ctx, AuditEvent{
		Actor:   actor,
		Action:  AuditWorkLogDeleted,
		Subject: workLogSubject(id),
		Properties: map[string]any{
			"worker_id": entry.WorkerID,
			"item_id":   entry.ItemID,
			"work_date": entry.WorkDate.String(),
			"quantity":  entry.Quantity,
			"status":    string(entry.Status),
		},
		Message: fmt.Sprintf("%s deleted work log %s (%d units, %s)", actor.Name, id, entry.Quantity, entry.Status),
	})
	s.recordSynced(ctx, actor, id, synced)
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns one entry with display names.
func (s *WorkLogService) Get(ctx context.Context, id WorkLogID) (*WorkLogView, error) {
	var view *WorkLogView
	err := s.store.View(ctx, func(repo Repository) error {
		var err error
		view, err = repo.GetWorkLogView(ctx, id)
		if err == nil && view == nil {
			err = notFound("work log", id)
		}
		return err
	})
	if err != nil {
		return nil, systemError("get work log", err)
	}
	return view, nil
}

// PendingList returns all Pending entries, newest submission first.
func (s *WorkLogService) PendingList(ctx context.Context) ([]WorkLogView, error) {
	return s.list(ctx, "list pending", WorkLogQuery{
		Statuses: []Status{StatusPending},
		OrderBy:  OrderSubmittedDesc,
	})
}

// History returns resolved entries, most recently resolved first.
func (s *WorkLogService) History(ctx context.Context) ([]WorkLogView, error) {
	return s.list(ctx, "list history", WorkLogQuery{
		Statuses: []Status{StatusApproved, StatusRejected},
		OrderBy:  OrderResolvedDesc,
	})
}

// ListForWorker returns every entry of one worker, latest work date first.
func (s *WorkLogService) ListForWorker(ctx context.Context, workerID WorkerID) ([]WorkLogView, error) {
	var out []WorkLogView
	err := s.store.View(ctx, func(repo Repository) error {
		if _, err := requireWorker(ctx, repo, workerID); err != nil {
			return err
		}
		var err error
		out, err = repo.ListWorkLogs(ctx, WorkLogQuery{WorkerID: workerID, OrderBy: OrderWorkDateDesc})
		return err
	})
	if err != nil {
		return nil, systemError("list worker logs", err)
	}
	return out, nil
}

func (s *WorkLogService) list(ctx context.Context, op string, q WorkLogQuery) ([]WorkLogView, error) {
	var out []WorkLogView
	err := s.store.View(ctx, func(repo Repository) error {
		var err error
		out, err = repo.ListWorkLogs(ctx, q)
		return err
	})
	if err != nil {
		return nil, systemError(op, err)
	}
	return out, nil
}

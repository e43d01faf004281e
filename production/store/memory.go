// Package store provides an in-memory production.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/production-engine/calendar"
	"github.com/warp/production-engine/production"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory serializes every transaction behind one mutex, which gives the same
// observable behavior as row locks for the engine's purposes.
type Memory struct {
	mu    sync.RWMutex
	state state
}

type state struct {
	items    map[production.ItemID]production.Item
	stocks   map[production.ItemID]production.Stock
	workers  map[production.WorkerID]production.Worker
	workLogs map[production.WorkLogID]production.WorkLogEntry
	wages    map[production.WageID]production.WageRecord
}

func newState() state {
	return state{
		items:    make(map[production.ItemID]production.Item),
		stocks:   make(map[production.ItemID]production.Stock),
		workers:  make(map[production.WorkerID]production.Worker),
		workLogs: make(map[production.WorkLogID]production.WorkLogEntry),
		wages:    make(map[production.WageID]production.WageRecord),
	}
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

// WithTx executes fn within a transaction.
// Simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(production.Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&view{s: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// View executes fn under a read lock. Writes through the repository are not allowed.
func (m *Memory) View(ctx context.Context, fn func(production.Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	// fn receives a private copy so accidental writes cannot leak.
	s := m.state.clone()
	return fn(&view{s: &s})
}

// Reset drops all data.
func (m *Memory) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newState()
	return nil
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.stocks {
		c.stocks[k] = v
	}
	for k, v := range s.workers {
		c.workers[k] = v
	}
	for k, v := range s.workLogs {
		c.workLogs[k] = v
	}
	for k, v := range s.wages {
		c.wages[k] = v
	}
	return c
}

// =============================================================================
// REPOSITORY VIEW
// =============================================================================

type view struct {
	s *state
}

// Items

func (v *view) InsertItem(_ context.Context, item *production.Item) error {
	v.s.items[item.ID] = *item
	return nil
}

func (v *view) GetItem(_ context.Context, id production.ItemID) (*production.Item, error) {
	item, ok := v.s.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (v *view) UpdateItem(_ context.Context, item *production.Item) error {
	if _, ok := v.s.items[item.ID]; ok {
		v.s.items[item.ID] = *item
	}
	return nil
}

func (v *view) DeleteItem(_ context.Context, id production.ItemID) (bool, error) {
	if _, ok := v.s.items[id]; !ok {
		return false, nil
	}
	delete(v.s.items, id)
	delete(v.s.stocks, id)
	return true, nil
}

func (v *view) ListItems(_ context.Context) ([]production.ItemWithStock, error) {
	out := make([]production.ItemWithStock, 0, len(v.s.items))
	for id, item := range v.s.items {
		out = append(out, production.ItemWithStock{Item: item, Stock: v.s.stocks[id].Quantity})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Stock

func (v *view) InsertStock(_ context.Context, stock *production.Stock) error {
	v.s.stocks[stock.ItemID] = *stock
	return nil
}

func (v *view) LockStock(ctx context.Context, itemID production.ItemID) (*production.Stock, error) {
	return v.GetStock(ctx, itemID)
}

func (v *view) GetStock(_ context.Context, itemID production.ItemID) (*production.Stock, error) {
	stock, ok := v.s.stocks[itemID]
	if !ok {
		return nil, nil
	}
	return &stock, nil
}

func (v *view) UpdateStock(_ context.Context, stock *production.Stock) error {
	v.s.stocks[stock.ItemID] = *stock
	return nil
}

// Workers

func (v *view) InsertWorker(_ context.Context, worker *production.Worker) error {
	v.s.workers[worker.ID] = *worker
	return nil
}

func (v *view) GetWorker(_ context.Context, id production.WorkerID) (*production.Worker, error) {
	worker, ok := v.s.workers[id]
	if !ok {
		return nil, nil
	}
	return &worker, nil
}

func (v *view) LockWorker(ctx context.Context, id production.WorkerID) (*production.Worker, error) {
	return v.GetWorker(ctx, id)
}

func (v *view) ListWorkers(_ context.Context) ([]production.Worker, error) {
	out := make([]production.Worker, 0, len(v.s.workers))
	for _, w := range v.s.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Work logs

func (v *view) InsertWorkLog(_ context.Context, entry *production.WorkLogEntry) error {
	v.s.workLogs[entry.ID] = *entry
	return nil
}

func (v *view) GetWorkLog(_ context.Context, id production.WorkLogID) (*production.WorkLogEntry, error) {
	entry, ok := v.s.workLogs[id]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (v *view) GetWorkLogView(_ context.Context, id production.WorkLogID) (*production.WorkLogView, error) {
	entry, ok := v.s.workLogs[id]
	if !ok {
		return nil, nil
	}
	out := v.viewOf(entry)
	return &out, nil
}

func (v *view) viewOf(e production.WorkLogEntry) production.WorkLogView {
	return production.WorkLogView{
		WorkLogEntry: e,
		WorkerName:   v.s.workers[e.WorkerID].Name,
		ItemName:     v.s.items[e.ItemID].Name,
	}
}

func (v *view) ResolveWorkLog(_ context.Context, entry *production.WorkLogEntry) (bool, error) {
	current, ok := v.s.workLogs[entry.ID]
	if !ok || current.Status != production.StatusPending {
		return false, nil
	}
	current.Status = entry.Status
	current.ResolvedAt = entry.ResolvedAt
	current.ResolvedBy = entry.ResolvedBy
	current.RejectionReason = entry.RejectionReason
	v.s.workLogs[entry.ID] = current
	return true, nil
}

func (v *view) UpdateWorkLog(_ context.Context, entry *production.WorkLogEntry) error {
	current, ok := v.s.workLogs[entry.ID]
	if !ok {
		return nil
	}
	current.WorkDate = entry.WorkDate
	current.Quantity = entry.Quantity
	v.s.workLogs[entry.ID] = current
	return nil
}

func (v *view) DeleteWorkLog(_ context.Context, id production.WorkLogID) (bool, error) {
	if _, ok := v.s.workLogs[id]; !ok {
		return false, nil
	}
	delete(v.s.workLogs, id)
	return true, nil
}

func (v *view) CountWorkLogsForItem(_ context.Context, itemID production.ItemID) (int, error) {
	n := 0
	for _, e := range v.s.workLogs {
		if e.ItemID == itemID {
			n++
		}
	}
	return n, nil
}

func (v *view) ListWorkLogs(_ context.Context, q production.WorkLogQuery) ([]production.WorkLogView, error) {
	var out []production.WorkLogView
	for _, e := range v.s.workLogs {
		if q.WorkerID != "" && e.WorkerID != q.WorkerID {
			continue
		}
		if len(q.Statuses) > 0 && !hasStatus(q.Statuses, e.Status) {
			continue
		}
		out = append(out, v.viewOf(e))
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch q.OrderBy {
		case production.OrderSubmittedDesc:
			if !a.SubmittedAt.Equal(b.SubmittedAt) {
				return a.SubmittedAt.After(b.SubmittedAt)
			}
		case production.OrderResolvedDesc:
			ra, rb := resolvedAt(a.WorkLogEntry), resolvedAt(b.WorkLogEntry)
			if !ra.Equal(rb) {
				return ra.After(rb)
			}
		default:
			if !a.WorkDate.Equal(b.WorkDate) {
				return a.WorkDate.After(b.WorkDate)
			}
			if !a.SubmittedAt.Equal(b.SubmittedAt) {
				return a.SubmittedAt.After(b.SubmittedAt)
			}
		}
		return a.ID > b.ID
	})
	return out, nil
}

func hasStatus(statuses []production.Status, s production.Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func resolvedAt(e production.WorkLogEntry) (t timeValue) {
	if e.ResolvedAt != nil {
		return timeValue{e.ResolvedAt.UnixNano(), true}
	}
	return timeValue{}
}

// timeValue orders unresolved entries after resolved ones.
type timeValue struct {
	nanos int64
	set   bool
}

func (t timeValue) Equal(o timeValue) bool { return t == o }

func (t timeValue) After(o timeValue) bool {
	if t.set != o.set {
		return t.set
	}
	return t.nanos > o.nanos
}

func (v *view) ApprovedLines(_ context.Context, workerID production.WorkerID, period calendar.Period) ([]production.WageLine, error) {
	var entries []production.WorkLogEntry
	for _, e := range v.s.workLogs {
		if e.WorkerID == workerID && e.Status == production.StatusApproved && period.Contains(e.WorkDate) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].WorkDate.Equal(entries[j].WorkDate) {
			return entries[i].WorkDate.Before(entries[j].WorkDate)
		}
		if !entries[i].SubmittedAt.Equal(entries[j].SubmittedAt) {
			return entries[i].SubmittedAt.Before(entries[j].SubmittedAt)
		}
		return entries[i].ID < entries[j].ID
	})

	lines := make([]production.WageLine, 0, len(entries))
	for _, e := range entries {
		item := v.s.items[e.ItemID]
		lines = append(lines, production.WageLine{
			WorkLogID: e.ID,
			ItemID:    e.ItemID,
			ItemName:  item.Name,
			UnitRate:  item.PayRate,
			WorkDate:  e.WorkDate,
			Quantity:  e.Quantity,
		})
	}
	return lines, nil
}

// Wage records

func (v *view) InsertWage(_ context.Context, record *production.WageRecord) error {
	v.s.wages[record.ID] = *record
	return nil
}

func (v *view) GetWage(_ context.Context, id production.WageID) (*production.WageRecord, error) {
	rec, ok := v.s.wages[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (v *view) FindOverlappingWage(_ context.Context, workerID production.WorkerID, period calendar.Period) (*production.WageRecord, error) {
	var found *production.WageRecord
	for _, rec := range v.s.wages {
		if rec.WorkerID != workerID || !rec.Period.Overlaps(period) {
			continue
		}
		if found == nil || rec.Period.Start.Before(found.Period.Start) {
			r := rec
			found = &r
		}
	}
	return found, nil
}

func (v *view) UpdateWageTotals(_ context.Context, record *production.WageRecord) error {
	current, ok := v.s.wages[record.ID]
	if !ok {
		return nil
	}
	current.TotalQuantity = record.TotalQuantity
	current.TotalPay = record.TotalPay
	current.UpdatedAt = record.UpdatedAt
	v.s.wages[record.ID] = current
	return nil
}

func (v *view) DeleteWage(_ context.Context, id production.WageID) (bool, error) {
	if _, ok := v.s.wages[id]; !ok {
		return false, nil
	}
	delete(v.s.wages, id)
	return true, nil
}

func (v *view) ListWages(_ context.Context, f production.WageFilter) ([]production.WageRecord, error) {
	var out []production.WageRecord
	for _, rec := range v.s.wages {
		if f.WorkerID != "" && rec.WorkerID != f.WorkerID {
			continue
		}
		if f.WeekNumber > 0 && rec.WeekNumber != f.WeekNumber {
			continue
		}
		if !f.StartedFrom.IsZero() && rec.Period.Start.Before(f.StartedFrom) {
			continue
		}
		if !f.StartedTo.IsZero() && rec.Period.Start.After(f.StartedTo) {
			continue
		}
		out = append(out, rec)
	}
	sortWages(out)
	return out, nil
}

func (v *view) WagesAffectedByItem(_ context.Context, itemID production.ItemID) ([]production.WageRecord, error) {
	var out []production.WageRecord
	for _, rec := range v.s.wages {
		for _, e := range v.s.workLogs {
			if e.ItemID == itemID && e.WorkerID == rec.WorkerID &&
				e.Status == production.StatusApproved && rec.Period.Contains(e.WorkDate) {
				out = append(out, rec)
				break
			}
		}
	}
	sortWages(out)
	return out, nil
}

func sortWages(recs []production.WageRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].Period.Start.Equal(recs[j].Period.Start) {
			return recs[i].Period.Start.After(recs[j].Period.Start)
		}
		if recs[i].WorkerID != recs[j].WorkerID {
			return recs[i].WorkerID < recs[j].WorkerID
		}
		return recs[i].ID < recs[j].ID
	})
}

var (
	_ production.Store      = (*Memory)(nil)
	_ production.Repository = (*view)(nil)
)

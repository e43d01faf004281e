package production_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/production-engine/calendar"
	"github.com/warp/production-engine/production"
	"github.com/warp/production-engine/production/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	admin = production.Actor{ID: "u-admin", Name: "Admin", Role: production.RoleAdmin}
	staff = production.Actor{ID: "u-staff", Name: "Rina", Role: production.RoleProductionStaff}
)

// tickClock starts at a fixed instant and advances one second per call, so
// submission and resolution timestamps are strictly ordered.
type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickClock(t time.Time) *tickClock { return &tickClock{now: t} }

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// Friday 2024-06-21.
var testNow = time.Date(2024, time.June, 21, 9, 0, 0, 0, time.UTC)

type auditRecorder struct {
	mu     sync.Mutex
	events []production.AuditEvent
	err    error
}

func (r *auditRecorder) Record(_ context.Context, ev production.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *auditRecorder) actions() []production.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]production.AuditAction, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Action)
	}
	return out
}

type notifierRecorder struct {
	mu         sync.Mutex
	recipients [][]production.Role
	sent       []production.Notification
	err        error
}

func (n *notifierRecorder) Notify(_ context.Context, recipients []production.Role, msg production.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.recipients = append(n.recipients, recipients)
	n.sent = append(n.sent, msg)
	return nil
}

var errCollaborator = errors.New("collaborator down")

type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *store.Memory
	engine   *production.Engine
	audit    *auditRecorder
	notifier *notifierRecorder
}

type option func(*production.Config)

func withPolicy(p production.Policy) option {
	return func(c *production.Config) { c.Policy = p }
}

func withLogger(l *zap.Logger) option {
	return func(c *production.Config) { c.Logger = l }
}

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		store:    store.NewMemory(),
		audit:    &auditRecorder{},
		notifier: &notifierRecorder{},
	}
	cfg := production.Config{
		Store:    f.store,
		Audit:    f.audit,
		Notifier: f.notifier,
		Policy:   production.StrictPolicy,
		Clock:    newTickClock(testNow).Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.engine = production.New(cfg)
	return f
}

func (f *fixture) item(name string, rate int64, stock int) production.ItemID {
	f.t.Helper()
	item, err := f.engine.Catalog.CreateItem(f.ctx, admin, production.NewItem{
		Name:         name,
		PayRate:      decimal.NewFromInt(rate),
		InitialStock: stock,
	})
	require.NoError(f.t, err)
	return item.ID
}

func (f *fixture) worker(name, joined string) production.WorkerID {
	f.t.Helper()
	w, err := f.engine.Catalog.RegisterWorker(f.ctx, admin, production.NewWorker{
		Name:     name,
		JoinedAt: calendar.MustParseDate(joined).Time(),
	})
	require.NoError(f.t, err)
	return w.ID
}

func (f *fixture) stock(id production.ItemID) int {
	f.t.Helper()
	s, err := f.engine.Ledger.Current(f.ctx, id)
	require.NoError(f.t, err)
	return s.Quantity
}

func (f *fixture) direct(worker production.WorkerID, item production.ItemID, date string, qty int) production.WorkLogEntry {
	f.t.Helper()
	res, err := f.engine.WorkLogs.SubmitDirect(f.ctx, admin, production.Submission{
		WorkerID: worker, ItemID: item, WorkDate: calendar.MustParseDate(date), Quantity: qty,
	})
	require.NoError(f.t, err)
	return res.Entry
}

func (f *fixture) request(worker production.WorkerID, item production.ItemID, date string, qty int) production.WorkLogEntry {
	f.t.Helper()
	entry, err := f.engine.WorkLogs.SubmitRequest(f.ctx, staff, production.Submission{
		WorkerID: worker, ItemID: item, WorkDate: calendar.MustParseDate(date), Quantity: qty,
	})
	require.NoError(f.t, err)
	return *entry
}

func submission(worker production.WorkerID, item production.ItemID, date string, qty int) production.Submission {
	return production.Submission{WorkerID: worker, ItemID: item, WorkDate: calendar.MustParseDate(date), Quantity: qty}
}

func amount(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

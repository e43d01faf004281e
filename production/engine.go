package production

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/production-engine/calendar"
	"github.com/warp/production-engine/logger"
	"github.com/warp/production-engine/metrics"
)

// Locker serializes work across processes for one key. Used to scope wage
// creation per worker on top of the database row lock.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Config wires the engine's collaborators. Only Store is required.
type Config struct {
	Store    Store
	Audit    AuditSink
	Notifier Notifier
	Locker   Locker
	Policy   Policy
	Clock    Clock
	Logger   *zap.Logger
}

// Engine bundles the services sharing one Config.
type Engine struct {
	Ledger   *StockLedger
	WorkLogs *WorkLogService
	Wages    *WageAggregator
	Catalog  *Catalog

	deps *deps
}

// Today is the current calendar day on the engine's clock.
func (e *Engine) Today() calendar.Date { return e.deps.today() }

// New builds every service from cfg.
func New(cfg Config) *Engine {
	d := &deps{
		store:    cfg.Store,
		audit:    cfg.Audit,
		notifier: cfg.Notifier,
		locker:   cfg.Locker,
		policy:   cfg.Policy,
		clock:    cfg.Clock,
		log:      logger.OrNop(cfg.Logger),
	}
	if d.clock == nil {
		d.clock = time.Now
	}

	ledger := &StockLedger{deps: d}
	wages := &WageAggregator{deps: d}
	return &Engine{
		Ledger:   ledger,
		WorkLogs: &WorkLogService{deps: d},
		Wages:    wages,
		Catalog:  &Catalog{deps: d, ledger: ledger, wages: wages},
		deps:     d,
	}
}

// deps is shared by all services.
type deps struct {
	store    Store
	audit    AuditSink
	notifier Notifier
	locker   Locker
	policy   Policy
	clock    Clock
	log      *zap.Logger
}

func (d *deps) now() time.Time { return d.clock().UTC() }

func (d *deps) today() calendar.Date { return calendar.DateOf(d.clock()) }

func newID() string { return uuid.NewString() }

// record sends an audit event. Failures are logged and suppressed.
func (d *deps) record(ctx context.Context, ev AuditEvent) {
	if d.audit == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = d.now()
	}
	if err := d.audit.Record(ctx, ev); err != nil {
		metrics.CollaboratorFailures.WithLabelValues("audit").Inc()
		d.log.Warn("audit record failed",
			zap.String("action", string(ev.Action)),
			zap.String("subject", ev.Subject),
			zap.Error(err))
	}
}

// notify delivers a notification. Failures are logged and suppressed.
func (d *deps) notify(ctx context.Context, recipients []Role, n Notification) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(ctx, recipients, n); err != nil {
		metrics.CollaboratorFailures.WithLabelValues("notifier").Inc()
		d.log.Warn("notification failed",
			zap.String("kind", n.Kind),
			zap.String("work_log_id", string(n.WorkLogID)),
			zap.Error(err))
	}
}

// =============================================================================
// LOOKUP HELPERS (inside a transaction or view)
// =============================================================================

func requireItem(ctx context.Context, repo Repository, id ItemID) (*Item, error) {
	item, err := repo.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, notFound("item", id)
	}
	return item, nil
}

func requireWorker(ctx context.Context, repo Repository, id WorkerID) (*Worker, error) {
	worker, err := repo.GetWorker(ctx, id)
	if err != nil {
		return nil, err
	}
	if worker == nil {
		return nil, notFound("worker", id)
	}
	return worker, nil
}

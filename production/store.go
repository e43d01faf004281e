/*
store.go - Persistence interfaces

PURPOSE:
  Defines the boundary between the engine and the database. Every mutating
  operation runs inside Store.WithTx; reads that need no lock use Store.View.

TRANSACTIONS & LOCKS:
  Repository methods called inside WithTx share one database transaction.
  LockStock and LockWorker take a row-level exclusive lock that is held until
  the transaction ends, so two work-log submissions for the same item (or two
  wage creations for the same worker) serialize, and the second waiter reads
  the post-commit state.

MISSING ROWS:
  Get and Lock methods return (nil, nil) when the row does not exist. The services turn
  that into a NotFoundError with the right entity kind.

IMPLEMENTATIONS:
  - store/sqlite:      SQLite (tests, single node) and PostgreSQL via pgx
  - production/store:  In-memory, for unit tests and demos
*/
package production

import (
	"context"
	"time"

	"github.com/warp/production-engine/calendar"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// WithTx executes fn within a transaction.
	// If fn returns an error the transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Repository) error) error

	// View executes fn against committed state without taking locks.
	View(ctx context.Context, fn func(Repository) error) error
}

type Repository interface {
	// Items
	InsertItem(ctx context.Context, item *Item) error
	GetItem(ctx context.Context, id ItemID) (*Item, error)
	UpdateItem(ctx context.Context, item *Item) error
	// DeleteItem removes the item and its stock row.
	DeleteItem(ctx context.Context, id ItemID) (bool, error)
	ListItems(ctx context.Context) ([]ItemWithStock, error)

	// Stock. LockStock holds the row until the transaction ends.
	InsertStock(ctx context.Context, stock *Stock) error
	LockStock(ctx context.Context, itemID ItemID) (*Stock, error)
	GetStock(ctx context.Context, itemID ItemID) (*Stock, error)
	UpdateStock(ctx context.Context, stock *Stock) error

	// Workers. LockWorker holds the row until the transaction ends.
	InsertWorker(ctx context.Context, worker *Worker) error
	GetWorker(ctx context.Context, id WorkerID) (*Worker, error)
	LockWorker(ctx context.Context, id WorkerID) (*Worker, error)
	ListWorkers(ctx context.Context) ([]Worker, error)

	// Work logs
	InsertWorkLog(ctx context.Context, entry *WorkLogEntry) error
	GetWorkLog(ctx context.Context, id WorkLogID) (*WorkLogEntry, error)
	GetWorkLogView(ctx context.Context, id WorkLogID) (*WorkLogView, error)
	// ResolveWorkLog persists the status, resolution fields of entry only if
	// the stored row is still pending. Returns false when no row was updated.
	ResolveWorkLog(ctx context.Context, entry *WorkLogEntry) (bool, error)
	// UpdateWorkLog persists a corrected work date and quantity.
	UpdateWorkLog(ctx context.Context, entry *WorkLogEntry) error
	DeleteWorkLog(ctx context.Context, id WorkLogID) (bool, error)
	ListWorkLogs(ctx context.Context, q WorkLogQuery) ([]WorkLogView, error)
	// CountWorkLogsForItem counts entries of any status referencing itemID.
	CountWorkLogsForItem(ctx context.Context, itemID ItemID) (int, error)
	// ApprovedLines returns the worker's approved entries dated within period,
	// joined with the item's current name and pay rate, ordered by work date.
	ApprovedLines(ctx context.Context, workerID WorkerID, period calendar.Period) ([]WageLine, error)

	// Wage records
	InsertWage(ctx context.Context, record *WageRecord) error
	GetWage(ctx context.Context, id WageID) (*WageRecord, error)
	FindOverlappingWage(ctx context.Context, workerID WorkerID, period calendar.Period) (*WageRecord, error)
	UpdateWageTotals(ctx context.Context, record *WageRecord) error
	DeleteWage(ctx context.Context, id WageID) (bool, error)
	ListWages(ctx context.Context, filter WageFilter) ([]WageRecord, error)
	// WagesAffectedByItem returns records whose period contains an approved
	// entry of the worker for itemID.
	WagesAffectedByItem(ctx context.Context, itemID ItemID) ([]WageRecord, error)
}

// WorkLogOrder selects the sort of ListWorkLogs.
type WorkLogOrder int

const (
	OrderWorkDateDesc WorkLogOrder = iota
	OrderSubmittedDesc
	OrderResolvedDesc
)

// WorkLogQuery filters ListWorkLogs. Zero values mean "any".
type WorkLogQuery struct {
	WorkerID WorkerID
	Statuses []Status
	OrderBy  WorkLogOrder
}

// =============================================================================
// COLLABORATORS - side effects the engine calls into
// =============================================================================

// AuditEvent is one activity log entry.
type AuditEvent struct {
	At         time.Time      `json:"at"`
	Actor      Actor          `json:"actor"`
	Action     AuditAction    `json:"action"`
	Subject    string         `json:"subject"`
	Properties map[string]any `json:"properties,omitempty"`
	Message    string         `json:"message"`
}

// ActivityEntry is a stored audit event.
type ActivityEntry struct {
	ID string `json:"id"`
	AuditEvent
}

type AuditAction string

const (
	AuditItemCreated      AuditAction = "item_created"
	AuditItemUpdated      AuditAction = "item_updated"
	AuditItemDeleted      AuditAction = "item_deleted"
	AuditItemRestocked    AuditAction = "item_restocked"
	AuditStockWithdrawn   AuditAction = "stock_withdrawn"
	AuditPayRateChanged   AuditAction = "pay_rate_changed"
	AuditWorkerRegistered AuditAction = "worker_registered"
	AuditWorkLogged       AuditAction = "work_logged"
	AuditRequestSubmitted AuditAction = "request_submitted"
	AuditRequestApproved  AuditAction = "request_approved"
	AuditRequestRejected  AuditAction = "request_rejected"
	AuditWorkLogCorrected AuditAction = "work_log_corrected"
	AuditWorkLogDeleted   AuditAction = "work_log_deleted"
	AuditWageCreated      AuditAction = "wage_created"
	AuditWageRecalculated AuditAction = "wage_recalculated"
	AuditWageDeleted      AuditAction = "wage_deleted"
)

// AuditSink records activity. Failures never abort the business operation.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// Notification is delivered to every user holding one of the recipient roles.
type Notification struct {
	Kind        string    `json:"kind"`
	WorkLogID   WorkLogID `json:"work_log_id"`
	WorkerName  string    `json:"worker_name"`
	ItemName    string    `json:"item_name"`
	Quantity    int       `json:"quantity"`
	SubmittedAt time.Time `json:"submitted_at"`
	Message     string    `json:"message"`
}

// Notifier delivers notifications. Failures never abort the business operation.
type Notifier interface {
	Notify(ctx context.Context, recipients []Role, n Notification) error
}

// Clock returns the current time. Services default to time.Now.
type Clock func() time.Time

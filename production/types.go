/*
Package production is the stock-consuming approval and wage aggregation engine.

PURPOSE:
  Items have a stock balance. Production staff log daily work against items,
  which consumes stock either immediately (direct mode) or once a pending
  request is approved (request mode). Approved work is later aggregated into
  wage records covering a 5-working-day period.

KEY CONCEPTS IN THIS FILE (types.go):
  - Item / Stock:    A produced good, its per-unit pay rate and its 1:1 stock row
  - Worker:          Anyone work can be logged for (production or general staff)
  - WorkLogEntry:    One worker's output of one item on one day
  - WageRecord:      Materialized pay-period totals for one worker
  - Actor:           Who is performing an operation (passed explicitly)

INVARIANTS:
  1. Stock.Quantity >= 0 after every successful operation
  2. WorkLogEntry status only moves Pending -> Approved or Pending -> Rejected
  3. An Approved entry has decremented stock by its current quantity; a
     correction moves the difference, a deletion returns the units
  4. For one worker, no two WageRecord periods overlap
  5. WageRecord totals equal the sums over Approved entries in its period

SEE ALSO:
  - ledger.go:  Stock Ledger (atomic increase/decrease)
  - worklog.go: Direct entry and the approval workflow
  - wage.go:    Wage Aggregator
  - store.go:   Persistence interfaces
*/
package production

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/production-engine/calendar"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID string
type WorkerID string
type WorkLogID string
type WageID string

// =============================================================================
// ACTORS & ROLES
// =============================================================================

type Role string

const (
	RoleAdmin               Role = "admin"
	RoleAdministrationStaff Role = "administration_staff"
	RoleProductionStaff     Role = "production_staff"
	RoleSystem              Role = "system"
)

// Approvers are notified when a new request is pending.
var Approvers = []Role{RoleAdmin, RoleAdministrationStaff}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAdministrationStaff, RoleProductionStaff, RoleSystem:
		return true
	}
	return false
}

// Actor identifies who performs an operation. It is recorded in audit events.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// SystemActor is used by background jobs.
var SystemActor = Actor{ID: "system", Name: "system", Role: RoleSystem}

// =============================================================================
// ITEM & STOCK
// =============================================================================

type Item struct {
	ID          ItemID          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	CategoryID  string          `json:"category_id,omitempty"`
	PayRate     decimal.Decimal `json:"pay_rate"` // per unit, >= 0
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Stock is exclusively owned by its Item.
type Stock struct {
	ID        string    `json:"id"`
	ItemID    ItemID    `json:"item_id"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemWithStock is an item joined with its current stock level.
type ItemWithStock struct {
	Item
	Stock int `json:"stock"`
}

// =============================================================================
// WORKER
// =============================================================================

// WorkerKind distinguishes the two employee classes. The engine treats them identically.
type WorkerKind string

const (
	WorkerProduction WorkerKind = "production"
	WorkerGeneral    WorkerKind = "general"
)

type Worker struct {
	ID       WorkerID   `json:"id"`
	UserID   string     `json:"user_id"`
	Name     string     `json:"name"`
	Kind     WorkerKind `json:"kind"`
	JoinedAt time.Time  `json:"joined_at"` // anchors week numbering
}

// JoinDate is the calendar day the worker joined.
func (w Worker) JoinDate() calendar.Date {
	return calendar.DateOf(w.JoinedAt)
}

// =============================================================================
// WORK-LOG ENTRY
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

type WorkLogEntry struct {
	ID              WorkLogID     `json:"id"`
	WorkerID        WorkerID      `json:"worker_id"`
	ItemID          ItemID        `json:"item_id"`
	WorkDate        calendar.Date `json:"work_date"`
	Quantity        int           `json:"quantity"`
	Status          Status        `json:"status"`
	SubmittedAt     time.Time     `json:"submitted_at"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty"`
	ResolvedBy      string        `json:"resolved_by,omitempty"`
	RejectionReason string        `json:"rejection_reason,omitempty"`
}

// WorkLogView is an entry joined with display names.
type WorkLogView struct {
	WorkLogEntry
	WorkerName string `json:"worker_name"`
	ItemName   string `json:"item_name"`
}

// =============================================================================
// WAGE RECORD
// =============================================================================

type WageRecord struct {
	ID            WageID          `json:"id"`
	WorkerID      WorkerID        `json:"worker_id"`
	WeekNumber    int             `json:"week_number"`
	TotalQuantity int             `json:"total_quantity"`
	TotalPay      decimal.Decimal `json:"total_pay"`
	Period        calendar.Period `json:"period"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// WageLine is one approved work-log entry contributing to a wage record.
type WageLine struct {
	WorkLogID WorkLogID       `json:"work_log_id"`
	ItemID    ItemID          `json:"item_id"`
	ItemName  string          `json:"item_name"`
	UnitRate  decimal.Decimal `json:"unit_rate"`
	WorkDate  calendar.Date   `json:"work_date"`
	Quantity  int             `json:"quantity"`
}

// Subtotal is Quantity x UnitRate.
func (l WageLine) Subtotal() decimal.Decimal {
	return l.UnitRate.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// WageFilter narrows wage record listings. Zero values mean "any".
type WageFilter struct {
	WorkerID    WorkerID
	WeekNumber  int
	StartedFrom calendar.Date
	StartedTo   calendar.Date
}

// =============================================================================
// POLICY
// =============================================================================

// Policy holds the deployment-dependent validation switches.
type Policy struct {
	// RejectWeekendWork refuses work-log entries dated on Saturday or Sunday.
	RejectWeekendWork bool
	// EnforceJoinDate refuses wage periods starting before the worker joined.
	// When false the violation is only logged.
	EnforceJoinDate bool
}

// StrictPolicy is the production default.
var StrictPolicy = Policy{RejectWeekendWork: true, EnforceJoinDate: true}

// MaxRejectionReason caps the rejection reason length (in runes).
const MaxRejectionReason = 255

/*
errors.go - Error taxonomy for the production engine

ERROR CATEGORIES:
  1. Client errors   - ErrValidation (bad input shape or range)
  2. Lookup errors   - ErrNotFound
  3. Business rules  - ErrInvalidState, ErrInsufficientStock, ErrStockDepleted,
                       ErrDuplicatePeriod, ErrNoWorkLogged, ErrItemInUse
  4. System errors   - ErrSystem (storage or transaction failure)

Structured errors carry context and unwrap to their sentinel, so callers
match with errors.Is and extract details with errors.As:

    var stockErr *InsufficientStockError
    if errors.As(err, &stockErr) {
        log.Printf("only %d left", stockErr.Available)
    }
*/
package production

import (
	"errors"
	"fmt"

	"github.com/warp/production-engine/calendar"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state transition")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrStockDepleted     = errors.New("stock depleted")
	ErrDuplicatePeriod   = errors.New("wage period overlaps an existing record")
	ErrNoWorkLogged      = errors.New("no approved work logged in period")
	ErrItemInUse         = errors.New("item is referenced by work logs")
	ErrSystem            = errors.New("system error")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string // "item", "worker", "work log", "wage record"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// InvalidStateError is returned when a work-log entry's status does not allow
// the operation. Action defaults to "resolved".
type InvalidStateError struct {
	ID     WorkLogID
	Status Status
	Action string
}

func (e *InvalidStateError) Error() string {
	action := e.Action
	if action == "" {
		action = "resolved"
	}
	return fmt.Sprintf("work log %s is %s and cannot be %s", e.ID, e.Status, action)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// InsufficientStockError carries the stock level observed under lock.
type InsufficientStockError struct {
	ItemID    ItemID
	Available int
	Requested int
	// Depleted marks the "nothing left at all" variant reported by direct entry.
	Depleted bool
}

func (e *InsufficientStockError) Error() string {
	if e.Depleted {
		return fmt.Sprintf("stock for item %s is depleted", e.ItemID)
	}
	return fmt.Sprintf("insufficient stock for item %s: available %d, requested %d",
		e.ItemID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	if e.Depleted {
		return ErrStockDepleted
	}
	return ErrInsufficientStock
}

// DuplicatePeriodError names the existing record the new period collides with.
type DuplicatePeriodError struct {
	WorkerID WorkerID
	Existing WageID
	Period   calendar.Period
}

func (e *DuplicatePeriodError) Error() string {
	return fmt.Sprintf("worker %s already has wage record %s covering %s",
		e.WorkerID, e.Existing, e.Period)
}

func (e *DuplicatePeriodError) Unwrap() error { return ErrDuplicatePeriod }

// ItemInUseError is returned when deleting an item that work logs still reference.
type ItemInUseError struct {
	ItemID   ItemID
	WorkLogs int
}

func (e *ItemInUseError) Error() string {
	return fmt.Sprintf("item %s is referenced by %d work log entries", e.ItemID, e.WorkLogs)
}

func (e *ItemInUseError) Unwrap() error { return ErrItemInUse }

// NoWorkLoggedError is returned when a period has no approved entries.
type NoWorkLoggedError struct {
	WorkerID WorkerID
	Period   calendar.Period
}

func (e *NoWorkLoggedError) Error() string {
	return fmt.Sprintf("worker %s has no approved work in %s", e.WorkerID, e.Period)
}

func (e *NoWorkLoggedError) Unwrap() error { return ErrNoWorkLogged }

// SystemError wraps a storage failure. It matches both ErrSystem and its cause.
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SystemError) Unwrap() []error { return []error{ErrSystem, e.Err} }

// systemError wraps err unless it already belongs to the taxonomy.
func systemError(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return &SystemError{Op: op, Err: err}
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrSystem) || IsClientError(err) || IsNotFound(err) || IsConflict(err)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the caller can fix the request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrStockDepleted) ||
		errors.Is(err, ErrNoWorkLogged)
}

// IsNotFound returns true if a referenced entity is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the request collides with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrDuplicatePeriod) ||
		errors.Is(err, ErrItemInUse)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSystem)
}

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Request types carry
  go-playground/validator tags for shape checks (required fields, ranges);
  business rules (future dates, weekends, stock) stay in the production
  package and come back as typed errors.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO:     Response types that differ from the domain type
  - *Response: Wrappers

SEE ALSO:
  - handlers.go: Uses these types
  - production/types.go: Domain types (most responses serialize them directly)
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/production-engine/calendar"
	"github.com/warp/production-engine/production"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateItemRequest struct {
	Name         string           `json:"name" validate:"required,max=100"`
	Description  string           `json:"description" validate:"max=1000"`
	CategoryID   string           `json:"category_id" validate:"max=64"`
	PayRate      *decimal.Decimal `json:"pay_rate" validate:"required"`
	InitialStock int              `json:"initial_stock" validate:"gte=0"`
}

type UpdateItemRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
	CategoryID  string `json:"category_id" validate:"max=64"`
}

type UpdatePayRateRequest struct {
	PayRate *decimal.Decimal `json:"pay_rate" validate:"required"`
}

type RestockRequest struct {
	Amount int `json:"amount" validate:"required,gt=0"`
}

type RegisterWorkerRequest struct {
	UserID   string         `json:"user_id" validate:"max=64"`
	Name     string         `json:"name" validate:"required,max=100"`
	Kind     string         `json:"kind" validate:"omitempty,oneof=production general"`
	JoinedAt *calendar.Date `json:"joined_at"`
}

// WorkLogRequest is shared by direct entry and approval requests.
type WorkLogRequest struct {
	WorkerID string        `json:"worker_id" validate:"required"`
	ItemID   string        `json:"item_id" validate:"required"`
	WorkDate calendar.Date `json:"work_date"`
	Quantity int           `json:"quantity" validate:"required,gte=1"`
}

func (r WorkLogRequest) submission() production.Submission {
	return production.Submission{
		WorkerID: production.WorkerID(r.WorkerID),
		ItemID:   production.ItemID(r.ItemID),
		WorkDate: r.WorkDate,
		Quantity: r.Quantity,
	}
}

// CorrectWorkLogRequest replaces an entry's work date and quantity.
type CorrectWorkLogRequest struct {
	WorkDate calendar.Date `json:"work_date"`
	Quantity int           `json:"quantity" validate:"required,gte=1"`
}

type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

type CreateWageRequest struct {
	WorkerID    string        `json:"worker_id" validate:"required"`
	PeriodStart calendar.Date `json:"period_start"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// WageLineDTO adds the computed subtotal to a breakdown line.
type WageLineDTO struct {
	production.WageLine
	Subtotal decimal.Decimal `json:"subtotal"`
}

// WageDTO is a wage record with its optional breakdown.
type WageDTO struct {
	production.WageRecord
	Lines []WageLineDTO `json:"lines,omitempty"`
}

func toWageDTO(rec production.WageRecord, lines []production.WageLine) WageDTO {
	dto := WageDTO{WageRecord: rec}
	for _, l := range lines {
		dto.Lines = append(dto.Lines, WageLineDTO{WageLine: l, Subtotal: l.Subtotal()})
	}
	return dto
}

type RateChangeResponse struct {
	Item         production.Item `json:"item"`
	PreviousRate decimal.Decimal `json:"previous_rate"`
	Recalculated []WageDTO       `json:"recalculated"`
}

type ActivityResponse struct {
	Entries []production.ActivityEntry `json:"entries"`
}

// ScenarioDTO describes a demo dataset.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Details   string            `json:"details,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Available *int              `json:"available,omitempty"`
}

/*
handlers.go - HTTP API handlers for the production engine

PURPOSE:
  Exposes the production engine via REST API. Handles HTTP request/response,
  JSON serialization and request validation, and delegates to the engine.

ENDPOINTS:
  Items:
    GET    /api/items                  List items with stock
    POST   /api/items                  Create item (+ initial stock)
    GET    /api/items/{id}             Get item
    PUT    /api/items/{id}             Edit name, description, category
    DELETE /api/items/{id}             Delete (refused once work is logged)
    PUT    /api/items/{id}/rate        Change pay rate (recalculates wages)
    POST   /api/items/{id}/restock     Increase stock

  Workers:
    GET    /api/workers                List workers
    POST   /api/workers                Register worker
    GET    /api/workers/{id}           Get worker
    GET    /api/workers/{id}/worklogs  Worker's work-log entries
    GET    /api/workers/{id}/period    Preview a wage period (?start=)

  Work logs:
    POST   /api/worklogs               Direct entry (consumes stock now)
    POST   /api/worklogs/requests      Submit for approval
    GET    /api/worklogs/pending       Pending requests, newest first
    GET    /api/worklogs/history       Resolved requests, newest first
    GET    /api/worklogs/{id}          Get entry
    PUT    /api/worklogs/{id}          Correct work date and quantity
    DELETE /api/worklogs/{id}          Delete (returns approved units to stock)
    POST   /api/worklogs/{id}/approve  Approve (consumes stock)
    POST   /api/worklogs/{id}/reject   Reject with reason

  Wages:
    GET    /api/wages                  List (?worker_id=&week=&from=&to=)
    GET    /api/wages/week/{week}      List by week number
    POST   /api/wages                  Create wage record
    GET    /api/wages/{id}             Get with breakdown
    POST   /api/wages/{id}/recalculate Recompute totals
    DELETE /api/wages/{id}             Delete

  Activity:
    GET    /api/activity               Latest audit entries (?limit=)

ERROR HANDLING:
  Engine errors map to HTTP status:
  - 400: Malformed body, insufficient or depleted stock, no work logged
  - 401: Missing or unknown actor
  - 403: Actor role not allowed
  - 404: Resource not found
  - 409: Not pending, overlapping wage period, item still referenced
  - 422: Validation failed
  - 500: Storage failure

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router, middleware and role gates
  - scenarios.go: Demo scenario loaders
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/production-engine/calendar"
	"github.com/warp/production-engine/logger"
	"github.com/warp/production-engine/production"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// DataStore is the part of a store the HTTP layer touches directly.
type DataStore interface {
	Reset(ctx context.Context) error
}

// Pinger is implemented by stores with a remote connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ActivityLog reads back recorded audit events.
type ActivityLog interface {
	ListActivity(ctx context.Context, limit int) ([]production.ActivityEntry, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *production.Engine
	Data     DataStore
	Activity ActivityLog // nil when the store keeps no activity log
	Log      *zap.Logger

	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. activity may be nil.
func NewHandler(engine *production.Engine, data DataStore, activity ActivityLog, log *zap.Logger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		Engine:   engine,
		Data:     data,
		Activity: activity,
		Log:      logger.OrNop(log).Named("api"),
		validate: v,
	}
}

// =============================================================================
// ITEM ENDPOINTS
// =============================================================================

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Engine.Catalog.ListItems(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if items == nil {
		items = []production.ItemWithStock{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.Engine.Catalog.CreateItem(r.Context(), actorFrom(r.Context()), production.NewItem{
		Name:         req.Name,
		Description:  req.Description,
		CategoryID:   req.CategoryID,
		PayRate:      *req.PayRate,
		InitialStock: req.InitialStock,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Engine.Catalog.GetItem(r.Context(), production.ItemID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// UpdateItem edits an item's descriptive fields.
// PUT /api/items/{id}
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.Engine.Catalog.UpdateItem(r.Context(), actorFrom(r.Context()),
		production.ItemID(chi.URLParam(r, "id")), production.ItemDetails{
			Name:        req.Name,
			Description: req.Description,
			CategoryID:  req.CategoryID,
		})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Catalog.DeleteItem(r.Context(), actorFrom(r.Context()), production.ItemID(chi.URLParam(r, "id"))); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdatePayRate changes an item's rate. Affected wage records are
// recalculated and returned.
// PUT /api/items/{id}/rate
func (h *Handler) UpdatePayRate(w http.ResponseWriter, r *http.Request) {
	var req UpdatePayRateRequest
	if !h.decode(w, r, &req) {
		return
	}

	change, err := h.Engine.Catalog.UpdatePayRate(r.Context(), actorFrom(r.Context()),
		production.ItemID(chi.URLParam(r, "id")), *req.PayRate)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	resp := RateChangeResponse{
		Item:         change.Item,
		PreviousRate: change.PreviousRate,
		Recalculated: []WageDTO{},
	}
	for _, rec := range change.Recalculated {
		resp.Recalculated = append(resp.Recalculated, toWageDTO(rec, nil))
	}
	writeJSON(w, http.StatusOK, resp)
}

// RestockItem adds stock.
// POST /api/items/{id}/restock
func (h *Handler) RestockItem(w http.ResponseWriter, r *http.Request) {
	var req RestockRequest
	if !h.decode(w, r, &req) {
		return
	}

	stock, err := h.Engine.Catalog.Restock(r.Context(), actorFrom(r.Context()),
		production.ItemID(chi.URLParam(r, "id")), req.Amount)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

// =============================================================================
// WORKER ENDPOINTS
// =============================================================================

func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.Engine.Catalog.ListWorkers(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if workers == nil {
		workers = []production.Worker{}
	}
	writeJSON(w, http.StatusOK, workers)
}

func (h *Handler) RegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req RegisterWorkerRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := production.NewWorker{
		UserID: req.UserID,
		Name:   req.Name,
		Kind:   production.WorkerKind(req.Kind),
	}
	if req.JoinedAt != nil {
		in.JoinedAt = req.JoinedAt.Time()
	}

	worker, err := h.Engine.Catalog.RegisterWorker(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, worker)
}

func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := h.Engine.Catalog.GetWorker(r.Context(), production.WorkerID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

// ListWorkerLogs returns all of a worker's entries, newest work date first.
// GET /api/workers/{id}/worklogs
func (h *Handler) ListWorkerLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.WorkLogs.ListForWorker(r.Context(), production.WorkerID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewsOrEmpty(entries))
}

// PreviewPeriod shows what a wage record starting at ?start= would contain.
// GET /api/workers/{id}/period?start=2024-06-10
func (h *Handler) PreviewPeriod(w http.ResponseWriter, r *http.Request) {
	start, ok := dateParam(w, r, "start", true)
	if !ok {
		return
	}

	preview, err := h.Engine.Wages.PreviewPeriod(r.Context(), production.WorkerID(chi.URLParam(r, "id")), start)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// =============================================================================
// WORK-LOG ENDPOINTS
// =============================================================================

// SubmitDirect records approved work and consumes stock in one step.
// POST /api/worklogs
func (h *Handler) SubmitDirect(w http.ResponseWriter, r *http.Request) {
	var req WorkLogRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Engine.WorkLogs.SubmitDirect(r.Context(), actorFrom(r.Context()), req.submission())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// SubmitRequest records a pending entry. Stock is untouched until approval.
// POST /api/worklogs/requests
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req WorkLogRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := h.Engine.WorkLogs.SubmitRequest(r.Context(), actorFrom(r.Context()), req.submission())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.WorkLogs.PendingList(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewsOrEmpty(entries))
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.WorkLogs.History(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewsOrEmpty(entries))
}

func (h *Handler) GetWorkLog(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Engine.WorkLogs.Get(r.Context(), production.WorkLogID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// CorrectWorkLog fixes an entry's work date and quantity.
// PUT /api/worklogs/{id}
func (h *Handler) CorrectWorkLog(w http.ResponseWriter, r *http.Request) {
	var req CorrectWorkLogRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Engine.WorkLogs.Correct(r.Context(), actorFrom(r.Context()),
		production.WorkLogID(chi.URLParam(r, "id")), production.Correction{
			WorkDate: req.WorkDate,
			Quantity: req.Quantity,
		})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) DeleteWorkLog(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.WorkLogs.Delete(r.Context(), actorFrom(r.Context()), production.WorkLogID(chi.URLParam(r, "id"))); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApproveWorkLog approves a pending request.
// POST /api/worklogs/{id}/approve
func (h *Handler) ApproveWorkLog(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.WorkLogs.Approve(r.Context(), actorFrom(r.Context()), production.WorkLogID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RejectWorkLog rejects a pending request with a reason.
// POST /api/worklogs/{id}/reject
func (h *Handler) RejectWorkLog(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := h.Engine.WorkLogs.Reject(r.Context(), actorFrom(r.Context()),
		production.WorkLogID(chi.URLParam(r, "id")), req.Reason)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// =============================================================================
// WAGE ENDPOINTS
// =============================================================================

// ListWages lists records, most recent period first.
// GET /api/wages?worker_id=&week=&from=&to=
func (h *Handler) ListWages(w http.ResponseWriter, r *http.Request) {
	from, ok := dateParam(w, r, "from", false)
	if !ok {
		return
	}
	to, ok := dateParam(w, r, "to", false)
	if !ok {
		return
	}
	week, ok := weekParam(w, r.URL.Query().Get("week"))
	if !ok {
		return
	}

	h.listWages(w, r, production.WageFilter{
		WorkerID:    production.WorkerID(r.URL.Query().Get("worker_id")),
		WeekNumber:  week,
		StartedFrom: from,
		StartedTo:   to,
	})
}

// ListWagesByWeek lists every worker's record for one week number.
// GET /api/wages/week/{week}
func (h *Handler) ListWagesByWeek(w http.ResponseWriter, r *http.Request) {
	week, ok := weekParam(w, chi.URLParam(r, "week"))
	if !ok {
		return
	}
	if week == 0 {
		writeError(w, http.StatusBadRequest, "week is required", nil)
		return
	}
	h.listWages(w, r, production.WageFilter{WeekNumber: week})
}

func (h *Handler) listWages(w http.ResponseWriter, r *http.Request, filter production.WageFilter) {
	records, err := h.Engine.Wages.ListWages(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dtos := make([]WageDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toWageDTO(rec, nil))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateWage(w http.ResponseWriter, r *http.Request) {
	var req CreateWageRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Engine.Wages.CreateWageRecord(r.Context(), actorFrom(r.Context()),
		production.WorkerID(req.WorkerID), req.PeriodStart)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWageDTO(res.Record, res.Lines))
}

func (h *Handler) GetWage(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Wages.GetWage(r.Context(), production.WageID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWageDTO(res.Record, res.Lines))
}

func (h *Handler) RecalculateWage(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Wages.Recalculate(r.Context(), actorFrom(r.Context()), production.WageID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWageDTO(res.Record, res.Lines))
}

func (h *Handler) DeleteWage(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Wages.DeleteWage(r.Context(), actorFrom(r.Context()), production.WageID(chi.URLParam(r, "id"))); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ACTIVITY & HEALTH
// =============================================================================

// ListActivity returns the latest audit entries.
// GET /api/activity?limit=50
func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	resp := ActivityResponse{Entries: []production.ActivityEntry{}}
	if h.Activity != nil {
		entries, err := h.Activity.ListActivity(r.Context(), limit)
		if err != nil {
			h.Log.Error("list activity", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to list activity", nil)
			return
		}
		if entries != nil {
			resp.Entries = entries
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Data.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into dst and validates it. On failure the
// response is already written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
				Error:  "Validation failed",
				Fields: fieldErrors(verrs),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func fieldErrors(verrs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		fields[fe.Field()] = msg
	}
	return fields
}

// statusFor maps the engine's error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, production.ErrValidation):
		return http.StatusUnprocessableEntity
	case production.IsNotFound(err):
		return http.StatusNotFound
	case production.IsConflict(err):
		return http.StatusConflict
	case production.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, status, http.StatusText(status), nil)
		return
	}

	resp := ErrorResponse{Error: err.Error()}
	var verr *production.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = map[string]string{verr.Field: verr.Message}
	}
	var serr *production.InsufficientStockError
	if errors.As(err, &serr) {
		available := serr.Available
		resp.Available = &available
	}
	writeJSON(w, status, resp)
}

// dateParam parses a YYYY-MM-DD query parameter.
func dateParam(w http.ResponseWriter, r *http.Request, name string, required bool) (calendar.Date, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		if required {
			writeError(w, http.StatusBadRequest, name+" is required", nil)
			return calendar.Date{}, false
		}
		return calendar.Date{}, true
	}
	d, err := calendar.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name, err)
		return calendar.Date{}, false
	}
	return d, true
}

// weekParam parses an optional positive week number; empty means 0.
func weekParam(w http.ResponseWriter, raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "week must be a positive integer", err)
		return 0, false
	}
	return n, true
}

func viewsOrEmpty(v []production.WorkLogView) []production.WorkLogView {
	if v == nil {
		return []production.WorkLogView{}
	}
	return v
}

/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic data
	for demos. Each scenario creates items with stock, workers, and work-log
	entries that demonstrate specific features.

AVAILABLE SCENARIOS:

	workshop:          Three items with stock and three workers, no activity
	pending-approvals: Workshop plus requests waiting for an approver
	wage-week:         Last week's approved work and one wage record
	low-stock:         An item about to run out and a request that exceeds it

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Create items and workers through the catalog
 3. Log work (direct or as requests) dated in the previous work week
 4. Optionally create wage records

All dates are relative to the engine's clock so the data is always valid
under the weekend and future-date rules.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "wage-week"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/production-engine/calendar"
	"github.com/warp/production-engine/production"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "workshop",
		Name:        "Workshop",
		Description: "Three items with stock and three workers",
	},
	{
		ID:          "pending-approvals",
		Name:        "Pending Approvals",
		Description: "Production staff requests waiting for an approver",
	},
	{
		ID:          "wage-week",
		Name:        "Wage Week",
		Description: "Last week's approved work with one wage record created",
	},
	{
		ID:          "low-stock",
		Name:        "Low Stock",
		Description: "An item with 2 units left and a pending request for 5",
	},
}

var (
	scenarioAdmin = production.Actor{ID: "scenario-admin", Name: "Scenario Admin", Role: production.RoleAdmin}
	scenarioStaff = production.Actor{ID: "scenario-staff", Name: "Scenario Staff", Role: production.RoleProductionStaff}
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	loaders := map[string]func(context.Context) error{
		"workshop":          h.loadWorkshopScenario,
		"pending-approvals": h.loadPendingApprovalsScenario,
		"wage-week":         h.loadWageWeekScenario,
		"low-stock":         h.loadLowStockScenario,
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Data.Reset(ctx); err != nil {
		h.Log.Error("reset store", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to reset store", nil)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		h.Log.Error("load scenario", zap.String("scenario", req.ScenarioID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	h.Log.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// workshop holds the IDs created by the base scenario.
type workshop struct {
	chair, table, shelf production.ItemID
	budi, sari, joko    production.WorkerID
	lastWeek            calendar.Date // Monday of the previous work week
}

func (h *Handler) seedWorkshop(ctx context.Context) (*workshop, error) {
	today := h.Engine.Today()
	joined := today.AddDays(-60).Time()
	ws := &workshop{lastWeek: previousMonday(today)}

	items := []struct {
		dst   *production.ItemID
		name  string
		rate  int64
		stock int
	}{
		{&ws.chair, "Chair", 15000, 120},
		{&ws.table, "Table", 40000, 30},
		{&ws.shelf, "Shelf", 25000, 50},
	}
	for _, it := range items {
		item, err := h.Engine.Catalog.CreateItem(ctx, scenarioAdmin, production.NewItem{
			Name:         it.name,
			Description:  fmt.Sprintf("%s (demo)", it.name),
			PayRate:      decimal.NewFromInt(it.rate),
			InitialStock: it.stock,
		})
		if err != nil {
			return nil, fmt.Errorf("create item %s: %w", it.name, err)
		}
		*it.dst = item.ID
	}

	workers := []struct {
		dst  *production.WorkerID
		name string
		kind production.WorkerKind
	}{
		{&ws.budi, "Budi", production.WorkerProduction},
		{&ws.sari, "Sari", production.WorkerProduction},
		{&ws.joko, "Joko", production.WorkerGeneral},
	}
	for _, wk := range workers {
		worker, err := h.Engine.Catalog.RegisterWorker(ctx, scenarioAdmin, production.NewWorker{
			Name:     wk.name,
			Kind:     wk.kind,
			JoinedAt: joined,
		})
		if err != nil {
			return nil, fmt.Errorf("register worker %s: %w", wk.name, err)
		}
		*wk.dst = worker.ID
	}
	return ws, nil
}

func (h *Handler) loadWorkshopScenario(ctx context.Context) error {
	_, err := h.seedWorkshop(ctx)
	return err
}

func (h *Handler) loadPendingApprovalsScenario(ctx context.Context) error {
	ws, err := h.seedWorkshop(ctx)
	if err != nil {
		return err
	}

	requests := []production.Submission{
		{WorkerID: ws.budi, ItemID: ws.chair, WorkDate: ws.lastWeek, Quantity: 12},
		{WorkerID: ws.sari, ItemID: ws.table, WorkDate: ws.lastWeek.AddDays(1), Quantity: 3},
		{WorkerID: ws.budi, ItemID: ws.shelf, WorkDate: ws.lastWeek.AddDays(2), Quantity: 5},
	}
	for _, sub := range requests {
		if _, err := h.Engine.WorkLogs.SubmitRequest(ctx, scenarioStaff, sub); err != nil {
			return fmt.Errorf("submit request: %w", err)
		}
	}

	// One already resolved each way so the history is not empty.
	approved, err := h.Engine.WorkLogs.SubmitRequest(ctx, scenarioStaff, production.Submission{
		WorkerID: ws.joko, ItemID: ws.chair, WorkDate: ws.lastWeek.AddDays(3), Quantity: 4,
	})
	if err != nil {
		return err
	}
	if _, err := h.Engine.WorkLogs.Approve(ctx, scenarioAdmin, approved.ID); err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	rejected, err := h.Engine.WorkLogs.SubmitRequest(ctx, scenarioStaff, production.Submission{
		WorkerID: ws.sari, ItemID: ws.shelf, WorkDate: ws.lastWeek.AddDays(4), Quantity: 40,
	})
	if err != nil {
		return err
	}
	if _, err := h.Engine.WorkLogs.Reject(ctx, scenarioAdmin, rejected.ID, "Quantity does not match the shift report"); err != nil {
		return fmt.Errorf("reject: %w", err)
	}
	return nil
}

func (h *Handler) loadWageWeekScenario(ctx context.Context) error {
	ws, err := h.seedWorkshop(ctx)
	if err != nil {
		return err
	}

	// Budi makes chairs every day and one table on Wednesday; Sari makes shelves.
	for i := 0; i < 5; i++ {
		day := ws.lastWeek.AddDays(i)
		entries := []production.Submission{
			{WorkerID: ws.budi, ItemID: ws.chair, WorkDate: day, Quantity: 6},
			{WorkerID: ws.sari, ItemID: ws.shelf, WorkDate: day, Quantity: 2},
		}
		if i == 2 {
			entries = append(entries, production.Submission{WorkerID: ws.budi, ItemID: ws.table, WorkDate: day, Quantity: 1})
		}
		for _, sub := range entries {
			if _, err := h.Engine.WorkLogs.SubmitDirect(ctx, scenarioAdmin, sub); err != nil {
				return fmt.Errorf("log work on %s: %w", day, err)
			}
		}
	}

	if _, err := h.Engine.Wages.CreateWageRecord(ctx, scenarioAdmin, ws.budi, ws.lastWeek); err != nil {
		return fmt.Errorf("create wage record: %w", err)
	}
	return nil
}

func (h *Handler) loadLowStockScenario(ctx context.Context) error {
	ws, err := h.seedWorkshop(ctx)
	if err != nil {
		return err
	}

	// Drain tables down to 2.
	if _, err := h.Engine.Ledger.Decrease(ctx, scenarioAdmin, ws.table, 28); err != nil {
		return fmt.Errorf("drain stock: %w", err)
	}
	_, err = h.Engine.WorkLogs.SubmitRequest(ctx, scenarioStaff, production.Submission{
		WorkerID: ws.sari, ItemID: ws.table, WorkDate: ws.lastWeek.AddDays(4), Quantity: 5,
	})
	return err
}

// previousMonday returns the Monday of the work week before today's.
func previousMonday(today calendar.Date) calendar.Date {
	d := today.AddDays(-7)
	for d.Weekday() != time.Monday {
		d = d.AddDays(-1)
	}
	return d
}

/*
Package sqlite provides the SQL implementation of production.Store.

PURPOSE:
  Persists items, stock, workers, work-log entries, wage records and the
  activity log. SQLite is the default (tests, single-node installs); the same
  schema and queries run on PostgreSQL through the pgx stdlib driver.

INTERFACES IMPLEMENTED:
  production.Store:     WithTx / View over a sqlx transaction
  production.AuditSink: Record appends to activity_log

KEY TABLES:
  items:            Catalog with per-unit pay rate (decimal as TEXT)
  stocks:           1:1 with items, CHECK (quantity >= 0)
  workers:          Anyone work can be logged for
  work_log_entries: Direct and request-mode entries with status
  wage_records:     Materialized pay-period totals
  activity_log:     Append-only audit trail

INDEXES:
  - idx_work_logs_worker_date:   wage aggregation (hot path)
  - idx_work_logs_status:        pending / history listings
  - idx_work_logs_item_status:   recalculation after a pay-rate change
  - idx_wages_worker_period:     overlap check

LOCKING:
  PostgreSQL: LockStock / LockWorker append FOR UPDATE, so the row stays
  locked until the transaction ends.
  SQLite: the pool is capped at one connection, which serializes every
  transaction; FOR UPDATE is not supported and not needed.

STORAGE FORMATS:
  Dates are TEXT "2006-01-02", timestamps TEXT in a fixed-width UTC layout
  (so they sort lexicographically), money TEXT via shopspring/decimal.

USAGE:
  store, err := sqlite.New(sqlite.Config{Driver: "sqlite3", DSN: "./data/production.db"}, log)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := production.New(production.Config{Store: store, Audit: store})

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/production-engine/calendar"
	"github.com/warp/production-engine/logger"
	"github.com/warp/production-engine/production"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// timeLayout is fixed-width so TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Config selects the driver and data source.
type Config struct {
	Driver string // "sqlite3" (default) or "pgx"
	DSN    string // file path, ":memory:", or a postgres URL
}

// Store implements production.Store using database/sql through sqlx.
type Store struct {
	db        *sqlx.DB
	forUpdate string
	log       *zap.Logger
}

// New opens the database and migrates the schema.
// Use DSN ":memory:" for an in-memory SQLite database.
func New(cfg Config, log *zap.Logger) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	dsn := cfg.DSN
	if driver == DriverSQLite && !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, log: logger.OrNop(log)}
	switch driver {
	case DriverSQLite:
		// One connection: :memory: stays a single database and
		// transactions serialize.
		db.SetMaxOpenConns(1)
	case DriverPostgres:
		s.forUpdate = " FOR UPDATE"
	default:
		db.Close()
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	s.log.Info("database ready", zap.String("driver", driver))
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity (used by /healthz).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category_id TEXT NOT NULL DEFAULT '',
		pay_rate TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stocks (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL UNIQUE REFERENCES items(id) ON DELETE CASCADE,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		joined_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS work_log_entries (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL REFERENCES workers(id),
		item_id TEXT NOT NULL REFERENCES items(id),
		work_date TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
		submitted_at TEXT NOT NULL,
		resolved_at TEXT,
		resolved_by TEXT,
		rejection_reason TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_work_logs_worker_date
		ON work_log_entries(worker_id, work_date)`,
	`CREATE INDEX IF NOT EXISTS idx_work_logs_status
		ON work_log_entries(status, submitted_at)`,
	`CREATE INDEX IF NOT EXISTS idx_work_logs_item_status
		ON work_log_entries(item_id, status)`,
	`CREATE TABLE IF NOT EXISTS wage_records (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL REFERENCES workers(id),
		week_number INTEGER NOT NULL,
		total_quantity INTEGER NOT NULL,
		total_pay TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_wages_worker_period
		ON wage_records(worker_id, period_start, period_end)`,
	`CREATE TABLE IF NOT EXISTS activity_log (
		id TEXT PRIMARY KEY,
		occurred_at TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		actor_name TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		subject TEXT NOT NULL,
		properties TEXT,
		message TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_occurred ON activity_log(occurred_at)`,
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS (production.Store)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(production.Repository) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&repo{q: tx, forUpdate: s.forUpdate}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// View executes fn against committed state without a transaction.
func (s *Store) View(ctx context.Context, fn func(production.Repository) error) error {
	return fn(&repo{q: s.db})
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(r production.Repository) error {
		q := r.(*repo).q
		tables := []string{"activity_log", "wage_records", "work_log_entries", "stocks", "workers", "items"}
		for _, table := range tables {
			if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// REPOSITORY
// =============================================================================

// repo runs queries against either the pool or one transaction.
type repo struct {
	q         sqlx.ExtContext
	forUpdate string
}

func (r *repo) get(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	err := sqlx.GetContext(ctx, r.q, dest, r.q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *repo) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, r.q, dest, r.q.Rebind(query), args...)
}

func (r *repo) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Items

type itemRow struct {
	ID          string          `db:"id"`
	Name        string          `db:"name"`
	Description string          `db:"description"`
	CategoryID  string          `db:"category_id"`
	PayRate     decimal.Decimal `db:"pay_rate"`
	CreatedAt   string          `db:"created_at"`
	UpdatedAt   string          `db:"updated_at"`
}

func (row itemRow) item() production.Item {
	return production.Item{
		ID:          production.ItemID(row.ID),
		Name:        row.Name,
		Description: row.Description,
		CategoryID:  row.CategoryID,
		PayRate:     row.PayRate,
		CreatedAt:   parseTime(row.CreatedAt),
		UpdatedAt:   parseTime(row.UpdatedAt),
	}
}

func (r *repo) InsertItem(ctx context.Context, item *production.Item) error {
	_, err := r.exec(ctx, `
		INSERT INTO items (id, name, description, category_id, pay_rate, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.Description, item.CategoryID, item.PayRate.String(),
		formatTime(item.CreatedAt), formatTime(item.UpdatedAt))
	return err
}

func (r *repo) GetItem(ctx context.Context, id production.ItemID) (*production.Item, error) {
	var row itemRow
	ok, err := r.get(ctx, &row, `SELECT * FROM items WHERE id = ?`, id)
	if !ok {
		return nil, err
	}
	item := row.item()
	return &item, nil
}

func (r *repo) UpdateItem(ctx context.Context, item *production.Item) error {
	_, err := r.exec(ctx, `
		UPDATE items SET name = ?, description = ?, category_id = ?, pay_rate = ?, updated_at = ?
		WHERE id = ?`,
		item.Name, item.Description, item.CategoryID, item.PayRate.String(), formatTime(item.UpdatedAt), item.ID)
	return err
}

func (r *repo) DeleteItem(ctx context.Context, id production.ItemID) (bool, error) {
	if _, err := r.exec(ctx, `DELETE FROM stocks WHERE item_id = ?`, id); err != nil {
		return false, err
	}
	n, err := r.exec(ctx, `DELETE FROM items WHERE id = ?`, id)
	return n == 1, err
}

func (r *repo) ListItems(ctx context.Context) ([]production.ItemWithStock, error) {
	var rows []struct {
		itemRow
		Stock int `db:"stock"`
	}
	err := r.selectAll(ctx, &rows, `
		SELECT i.id, i.name, i.description, i.category_id, i.pay_rate, i.created_at, i.updated_at,
		       COALESCE(s.quantity, 0) AS stock
		FROM items i
		LEFT JOIN stocks s ON s.item_id = i.id
		ORDER BY i.name, i.id`)
	if err != nil {
		return nil, err
	}
	out := make([]production.ItemWithStock, len(rows))
	for i, row := range rows {
		out[i] = production.ItemWithStock{Item: row.item(), Stock: row.Stock}
	}
	return out, nil
}

// Stock

type stockRow struct {
	ID        string `db:"id"`
	ItemID    string `db:"item_id"`
	Quantity  int    `db:"quantity"`
	UpdatedAt string `db:"updated_at"`
}

func (r *repo) InsertStock(ctx context.Context, stock *production.Stock) error {
	_, err := r.exec(ctx, `
		INSERT INTO stocks (id, item_id, quantity, updated_at) VALUES (?, ?, ?, ?)`,
		stock.ID, stock.ItemID, stock.Quantity, formatTime(stock.UpdatedAt))
	return err
}

func (r *repo) LockStock(ctx context.Context, itemID production.ItemID) (*production.Stock, error) {
	return r.stock(ctx, `SELECT * FROM stocks WHERE item_id = ?`+r.forUpdate, itemID)
}

func (r *repo) GetStock(ctx context.Context, itemID production.ItemID) (*production.Stock, error) {
	return r.stock(ctx, `SELECT * FROM stocks WHERE item_id = ?`, itemID)
}

func (r *repo) stock(ctx context.Context, query string, itemID production.ItemID) (*production.Stock, error) {
	var row stockRow
	ok, err := r.get(ctx, &row, query, itemID)
	if !ok {
		return nil, err
	}
	return &production.Stock{
		ID:        row.ID,
		ItemID:    production.ItemID(row.ItemID),
		Quantity:  row.Quantity,
		UpdatedAt: parseTime(row.UpdatedAt),
	}, nil
}

func (r *repo) UpdateStock(ctx context.Context, stock *production.Stock) error {
	_, err := r.exec(ctx, `UPDATE stocks SET quantity = ?, updated_at = ? WHERE item_id = ?`,
		stock.Quantity, formatTime(stock.UpdatedAt), stock.ItemID)
	return err
}

// Workers

type workerRow struct {
	ID       string `db:"id"`
	UserID   string `db:"user_id"`
	Name     string `db:"name"`
	Kind     string `db:"kind"`
	JoinedAt string `db:"joined_at"`
}

func (row workerRow) worker() production.Worker {
	return production.Worker{
		ID:       production.WorkerID(row.ID),
		UserID:   row.UserID,
		Name:     row.Name,
		Kind:     production.WorkerKind(row.Kind),
		JoinedAt: parseTime(row.JoinedAt),
	}
}

func (r *repo) InsertWorker(ctx context.Context, w *production.Worker) error {
	_, err := r.exec(ctx, `
		INSERT INTO workers (id, user_id, name, kind, joined_at) VALUES (?, ?, ?, ?, ?)`,
		w.ID, w.UserID, w.Name, w.Kind, formatTime(w.JoinedAt))
	return err
}

func (r *repo) GetWorker(ctx context.Context, id production.WorkerID) (*production.Worker, error) {
	return r.worker(ctx, `SELECT * FROM workers WHERE id = ?`, id)
}

func (r *repo) LockWorker(ctx context.Context, id production.WorkerID) (*production.Worker, error) {
	return r.worker(ctx, `SELECT * FROM workers WHERE id = ?`+r.forUpdate, id)
}

func (r *repo) worker(ctx context.Context, query string, id production.WorkerID) (*production.Worker, error) {
	var row workerRow
	ok, err := r.get(ctx, &row, query, id)
	if !ok {
		return nil, err
	}
	w := row.worker()
	return &w, nil
}

func (r *repo) ListWorkers(ctx context.Context) ([]production.Worker, error) {
	var rows []workerRow
	if err := r.selectAll(ctx, &rows, `SELECT * FROM workers ORDER BY name, id`); err != nil {
		return nil, err
	}
	out := make([]production.Worker, len(rows))
	for i, row := range rows {
		out[i] = row.worker()
	}
	return out, nil
}

// Work logs

type workLogRow struct {
	ID              string         `db:"id"`
	WorkerID        string         `db:"worker_id"`
	ItemID          string         `db:"item_id"`
	WorkDate        calendar.Date  `db:"work_date"`
	Quantity        int            `db:"quantity"`
	Status          string         `db:"status"`
	SubmittedAt     string         `db:"submitted_at"`
	ResolvedAt      sql.NullString `db:"resolved_at"`
	ResolvedBy      sql.NullString `db:"resolved_by"`
	RejectionReason sql.NullString `db:"rejection_reason"`
}

type workLogViewRow struct {
	workLogRow
	WorkerName string `db:"worker_name"`
	ItemName   string `db:"item_name"`
}

func (row workLogRow) entry() production.WorkLogEntry {
	e := production.WorkLogEntry{
		ID:              production.WorkLogID(row.ID),
		WorkerID:        production.WorkerID(row.WorkerID),
		ItemID:          production.ItemID(row.ItemID),
		WorkDate:        row.WorkDate,
		Quantity:        row.Quantity,
		Status:          production.Status(row.Status),
		SubmittedAt:     parseTime(row.SubmittedAt),
		ResolvedBy:      row.ResolvedBy.String,
		RejectionReason: row.RejectionReason.String,
	}
	if row.ResolvedAt.Valid {
		t := parseTime(row.ResolvedAt.String)
		e.ResolvedAt = &t
	}
	return e
}

func (row workLogViewRow) view() production.WorkLogView {
	return production.WorkLogView{
		WorkLogEntry: row.entry(),
		WorkerName:   row.WorkerName,
		ItemName:     row.ItemName,
	}
}

const workLogViewSelect = `
	SELECT w.id, w.worker_id, w.item_id, w.work_date, w.quantity, w.status,
	       w.submitted_at, w.resolved_at, w.resolved_by, w.rejection_reason,
	       COALESCE(k.name, '') AS worker_name, COALESCE(i.name, '') AS item_name
	FROM work_log_entries w
	LEFT JOIN workers k ON k.id = w.worker_id
	LEFT JOIN items i ON i.id = w.item_id`

func (r *repo) InsertWorkLog(ctx context.Context, e *production.WorkLogEntry) error {
	_, err := r.exec(ctx, `
		INSERT INTO work_log_entries
			(id, worker_id, item_id, work_date, quantity, status, submitted_at,
			 resolved_at, resolved_by, rejection_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorkerID, e.ItemID, e.WorkDate.String(), e.Quantity, e.Status, formatTime(e.SubmittedAt),
		nullTime(e.ResolvedAt), nullString(e.ResolvedBy), nullString(e.RejectionReason))
	return err
}

func (r *repo) GetWorkLog(ctx context.Context, id production.WorkLogID) (*production.WorkLogEntry, error) {
	var row workLogRow
	ok, err := r.get(ctx, &row, `SELECT * FROM work_log_entries WHERE id = ?`, id)
	if !ok {
		return nil, err
	}
	e := row.entry()
	return &e, nil
}

func (r *repo) GetWorkLogView(ctx context.Context, id production.WorkLogID) (*production.WorkLogView, error) {
	var row workLogViewRow
	ok, err := r.get(ctx, &row, workLogViewSelect+` WHERE w.id = ?`, id)
	if !ok {
		return nil, err
	}
	v := row.view()
	return &v, nil
}

func (r *repo) ResolveWorkLog(ctx context.Context, e *production.WorkLogEntry) (bool, error) {
	n, err := r.exec(ctx, `
		UPDATE work_log_entries
		SET status = ?, resolved_at = ?, resolved_by = ?, rejection_reason = ?
		WHERE id = ? AND status = 'pending'`,
		e.Status, nullTime(e.ResolvedAt), nullString(e.ResolvedBy), nullString(e.RejectionReason), e.ID)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *repo) UpdateWorkLog(ctx context.Context, e *production.WorkLogEntry) error {
	_, err := r.exec(ctx, `UPDATE work_log_entries SET work_date = ?, quantity = ? WHERE id = ?`,
		e.WorkDate.String(), e.Quantity, e.ID)
	return err
}

func (r *repo) DeleteWorkLog(ctx context.Context, id production.WorkLogID) (bool, error) {
	n, err := r.exec(ctx, `DELETE FROM work_log_entries WHERE id = ?`, id)
	return n == 1, err
}

func (r *repo) CountWorkLogsForItem(ctx context.Context, itemID production.ItemID) (int, error) {
	var n int
	_, err := r.get(ctx, &n, `SELECT COUNT(*) FROM work_log_entries WHERE item_id = ?`, itemID)
	return n, err
}

func (r *repo) ListWorkLogs(ctx context.Context, q production.WorkLogQuery) ([]production.WorkLogView, error) {
	var (
		conditions []string
		args       []any
	)
	if q.WorkerID != "" {
		conditions = append(conditions, "w.worker_id = ?")
		args = append(args, q.WorkerID)
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			statuses[i] = string(st)
		}
		in, inArgs, err := sqlx.In("w.status IN (?)", statuses)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, in)
		args = append(args, inArgs...)
	}

	query := workLogViewSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	switch q.OrderBy {
	case production.OrderSubmittedDesc:
		query += " ORDER BY w.submitted_at DESC, w.id DESC"
	case production.OrderResolvedDesc:
		query += " ORDER BY CASE WHEN w.resolved_at IS NULL THEN 1 ELSE 0 END, w.resolved_at DESC, w.id DESC"
	default:
		query += " ORDER BY w.work_date DESC, w.submitted_at DESC, w.id DESC"
	}

	var rows []workLogViewRow
	if err := r.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]production.WorkLogView, len(rows))
	for i, row := range rows {
		out[i] = row.view()
	}
	return out, nil
}

func (r *repo) ApprovedLines(ctx context.Context, workerID production.WorkerID, period calendar.Period) ([]production.WageLine, error) {
	var rows []struct {
		WorkLogID string          `db:"work_log_id"`
		ItemID    string          `db:"item_id"`
		ItemName  string          `db:"item_name"`
		UnitRate  decimal.Decimal `db:"unit_rate"`
		WorkDate  calendar.Date   `db:"work_date"`
		Quantity  int             `db:"quantity"`
	}
	err := r.selectAll(ctx, &rows, `
		SELECT w.id AS work_log_id, w.item_id, i.name AS item_name, i.pay_rate AS unit_rate,
		       w.work_date, w.quantity
		FROM work_log_entries w
		JOIN items i ON i.id = w.item_id
		WHERE w.worker_id = ? AND w.status = 'approved'
		  AND w.work_date >= ? AND w.work_date <= ?
		ORDER BY w.work_date, w.submitted_at, w.id`,
		workerID, period.Start.String(), period.End.String())
	if err != nil {
		return nil, err
	}
	lines := make([]production.WageLine, len(rows))
	for i, row := range rows {
		lines[i] = production.WageLine{
			WorkLogID: production.WorkLogID(row.WorkLogID),
			ItemID:    production.ItemID(row.ItemID),
			ItemName:  row.ItemName,
			UnitRate:  row.UnitRate,
			WorkDate:  row.WorkDate,
			Quantity:  row.Quantity,
		}
	}
	return lines, nil
}

// Wage records

type wageRow struct {
	ID            string          `db:"id"`
	WorkerID      string          `db:"worker_id"`
	WeekNumber    int             `db:"week_number"`
	TotalQuantity int             `db:"total_quantity"`
	TotalPay      decimal.Decimal `db:"total_pay"`
	PeriodStart   calendar.Date   `db:"period_start"`
	PeriodEnd     calendar.Date   `db:"period_end"`
	CreatedAt     string          `db:"created_at"`
	UpdatedAt     string          `db:"updated_at"`
}

func (row wageRow) record() production.WageRecord {
	return production.WageRecord{
		ID:            production.WageID(row.ID),
		WorkerID:      production.WorkerID(row.WorkerID),
		WeekNumber:    row.WeekNumber,
		TotalQuantity: row.TotalQuantity,
		TotalPay:      row.TotalPay,
		Period:        calendar.Period{Start: row.PeriodStart, End: row.PeriodEnd},
		CreatedAt:     parseTime(row.CreatedAt),
		UpdatedAt:     parseTime(row.UpdatedAt),
	}
}

func (r *repo) InsertWage(ctx context.Context, rec *production.WageRecord) error {
	_, err := r.exec(ctx, `
		INSERT INTO wage_records
			(id, worker_id, week_number, total_quantity, total_pay, period_start, period_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WorkerID, rec.WeekNumber, rec.TotalQuantity, rec.TotalPay.String(),
		rec.Period.Start.String(), rec.Period.End.String(),
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	return err
}

func (r *repo) GetWage(ctx context.Context, id production.WageID) (*production.WageRecord, error) {
	return r.wage(ctx, `SELECT * FROM wage_records WHERE id = ?`, id)
}

func (r *repo) FindOverlappingWage(ctx context.Context, workerID production.WorkerID, period calendar.Period) (*production.WageRecord, error) {
	return r.wage(ctx, `
		SELECT * FROM wage_records
		WHERE worker_id = ? AND period_start <= ? AND period_end >= ?
		ORDER BY period_start
		LIMIT 1`,
		workerID, period.End.String(), period.Start.String())
}

func (r *repo) wage(ctx context.Context, query string, args ...any) (*production.WageRecord, error) {
	var row wageRow
	ok, err := r.get(ctx, &row, query, args...)
	if !ok {
		return nil, err
	}
	rec := row.record()
	return &rec, nil
}

func (r *repo) UpdateWageTotals(ctx context.Context, rec *production.WageRecord) error {
	_, err := r.exec(ctx, `
		UPDATE wage_records SET total_quantity = ?, total_pay = ?, updated_at = ? WHERE id = ?`,
		rec.TotalQuantity, rec.TotalPay.String(), formatTime(rec.UpdatedAt), rec.ID)
	return err
}

func (r *repo) DeleteWage(ctx context.Context, id production.WageID) (bool, error) {
	n, err := r.exec(ctx, `DELETE FROM wage_records WHERE id = ?`, id)
	return n == 1, err
}

func (r *repo) ListWages(ctx context.Context, f production.WageFilter) ([]production.WageRecord, error) {
	var (
		conditions []string
		args       []any
	)
	if f.WorkerID != "" {
		conditions = append(conditions, "worker_id = ?")
		args = append(args, f.WorkerID)
	}
	if f.WeekNumber > 0 {
		conditions = append(conditions, "week_number = ?")
		args = append(args, f.WeekNumber)
	}
	if !f.StartedFrom.IsZero() {
		conditions = append(conditions, "period_start >= ?")
		args = append(args, f.StartedFrom.String())
	}
	if !f.StartedTo.IsZero() {
		conditions = append(conditions, "period_start <= ?")
		args = append(args, f.StartedTo.String())
	}

	query := "SELECT * FROM wage_records"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY period_start DESC, worker_id, id"
	return r.wages(ctx, query, args...)
}

func (r *repo) WagesAffectedByItem(ctx context.Context, itemID production.ItemID) ([]production.WageRecord, error) {
	return r.wages(ctx, `
		SELECT r.* FROM wage_records r
		WHERE EXISTS (
			SELECT 1 FROM work_log_entries w
			WHERE w.item_id = ? AND w.worker_id = r.worker_id AND w.status = 'approved'
			  AND w.work_date >= r.period_start AND w.work_date <= r.period_end
		)
		ORDER BY r.period_start DESC, r.worker_id, r.id`, itemID)
}

func (r *repo) wages(ctx context.Context, query string, args ...any) ([]production.WageRecord, error) {
	var rows []wageRow
	if err := r.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]production.WageRecord, len(rows))
	for i, row := range rows {
		out[i] = row.record()
	}
	return out, nil
}

// =============================================================================
// ACTIVITY LOG (production.AuditSink)
// =============================================================================

type activityRow struct {
	ID         string         `db:"id"`
	At         string         `db:"occurred_at"`
	ActorID    string         `db:"actor_id"`
	ActorName  string         `db:"actor_name"`
	ActorRole  string         `db:"actor_role"`
	Action     string         `db:"action"`
	Subject    string         `db:"subject"`
	Properties sql.NullString `db:"properties"`
	Message    string         `db:"message"`
}

// Record appends an audit event to activity_log.
func (s *Store) Record(ctx context.Context, ev production.AuditEvent) error {
	var props sql.NullString
	if len(ev.Properties) > 0 {
		data, err := json.Marshal(ev.Properties)
		if err != nil {
			return fmt.Errorf("encode activity properties: %w", err)
		}
		props = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO activity_log (id, occurred_at, actor_id, actor_name, actor_role, action, subject, properties, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), formatTime(ev.At), ev.Actor.ID, ev.Actor.Name, ev.Actor.Role,
		ev.Action, ev.Subject, props, ev.Message)
	return err
}

// ListActivity returns the newest limit events.
func (s *Store) ListActivity(ctx context.Context, limit int) ([]production.ActivityEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []activityRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT * FROM activity_log ORDER BY occurred_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}

	out := make([]production.ActivityEntry, len(rows))
	for i, row := range rows {
		entry := production.ActivityEntry{
			ID: row.ID,
			AuditEvent: production.AuditEvent{
				At:      parseTime(row.At),
				Actor:   production.Actor{ID: row.ActorID, Name: row.ActorName, Role: production.Role(row.ActorRole)},
				Action:  production.AuditAction(row.Action),
				Subject: row.Subject,
				Message: row.Message,
			},
		}
		if row.Properties.Valid {
			if err := json.Unmarshal([]byte(row.Properties.String), &entry.Properties); err != nil {
				s.log.Warn("corrupt activity properties", zap.String("id", row.ID), zap.Error(err))
			}
		}
		out[i] = entry
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var (
	_ production.Store      = (*Store)(nil)
	_ production.AuditSink  = (*Store)(nil)
	_ production.Repository = (*repo)(nil)
)

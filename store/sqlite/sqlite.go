/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements allocation.TxStore using SQLite. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences and
  real row-level locks instead of writer serialization.

KEY TABLES:
  lots:          Physical receipted inventory
  reservations:  Claims against lots; never deleted, released rows kept
  demand_lines:  Required quantities with denormalized allocation status
  demand_groups: Line groupings with derived status
  traces:        Append-only allocation decision audit

INDEXES:
  - idx_lots_fefo: product/warehouse/expiry/received/id, the ranking hot path
  - idx_reservations_lot, idx_reservations_line, idx_reservations_status:
    reservation lookup paths the engine uses under lock
  - idx_traces_line: trace read-back

LOCKING (WithLots):
  SQLite has no SELECT FOR UPDATE; writer serialization comes from the
  store-level mutex plus the transaction, which takes the database write
  lock. The named lots are still read inside the transaction in
  ascending-id order so the existence check and the lock-ordering
  discipline match a PostgreSQL deployment.

WAL MODE:
  Opened with WAL so preview reads never block commits.

USAGE:
  store, err := sqlite.New("./data/lots.db")
  engine := allocation.New(store)

SEE ALSO:
  - allocation/store.go: Interface contracts
  - allocation/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/lot-engine/allocation"
)

// Store implements allocation.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	// _txlock=immediate takes the write lock at BEGIN, so two commits never
	// deadlock upgrading shared locks mid-transaction.
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS lots (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		received_at TEXT NOT NULL,
		expires_at TEXT,
		received_qty TEXT NOT NULL,
		current_qty TEXT NOT NULL,
		locked_qty TEXT NOT NULL,
		status TEXT NOT NULL,
		inspection TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lots_product_warehouse
		ON lots(product_id, warehouse_id);

	-- FEFO ranking hot path: expiry ascending (NULL-last handled in Go),
	-- then received date, then id.
	CREATE INDEX IF NOT EXISTS idx_lots_fefo
		ON lots(product_id, warehouse_id, expires_at, received_at, id);

	-- Reservations are never deleted; released rows are retained for audit.
	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		lot_id TEXT NOT NULL REFERENCES lots(id),
		source TEXT NOT NULL,
		line_id TEXT NOT NULL,
		qty TEXT NOT NULL,
		status TEXT NOT NULL,
		strength TEXT NOT NULL,
		priority INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		confirmed_at TEXT,
		released_at TEXT,
		external_ref TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_lot
		ON reservations(lot_id, status);
	CREATE INDEX IF NOT EXISTS idx_reservations_line
		ON reservations(line_id);
	CREATE INDEX IF NOT EXISTS idx_reservations_status
		ON reservations(status, created_at);

	CREATE TABLE IF NOT EXISTS demand_lines (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL DEFAULT '',
		required_qty TEXT NOT NULL,
		allocated_qty TEXT NOT NULL,
		source TEXT NOT NULL,
		priority INTEGER NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_demand_lines_group
		ON demand_lines(group_id, id);

	CREATE TABLE IF NOT EXISTS demand_groups (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Append-only decision audit. No UPDATE, no DELETE.
	CREATE TABLE IF NOT EXISTS traces (
		id TEXT PRIMARY KEY,
		line_id TEXT NOT NULL,
		lot_id TEXT,
		score REAL NOT NULL,
		decision TEXT NOT NULL,
		reason TEXT,
		qty TEXT NOT NULL,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_traces_line
		ON traces(line_id, at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements allocation.Store against any executor, so the same
// code serves both the lock-free read path and the transactional view.
type queries struct {
	db executor
}

// =============================================================================
// LOTS
// =============================================================================

const lotColumns = `id, product_id, warehouse_id, received_at, expires_at,
	received_qty, current_qty, locked_qty, status, inspection, created_at, updated_at`

func (q *queries) GetLot(ctx context.Context, id allocation.LotID) (allocation.Lot, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+lotColumns+` FROM lots WHERE id = ?`, id)
	lot, err := scanLot(row)
	if err == sql.ErrNoRows {
		return allocation.Lot{}, &allocation.NotFoundError{Kind: "lot", ID: string(id)}
	}
	return lot, err
}

func (q *queries) LotsByProduct(ctx context.Context, productID allocation.ProductID, warehouseID *allocation.WarehouseID) ([]allocation.Lot, error) {
	query := `SELECT ` + lotColumns + ` FROM lots WHERE product_id = ?`
	args := []any{productID}
	if warehouseID != nil {
		query += ` AND warehouse_id = ?`
		args = append(args, *warehouseID)
	}
	query += ` ORDER BY id ASC`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	var lots []allocation.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (q *queries) SaveLot(ctx context.Context, lot allocation.Lot) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO lots (id, product_id, warehouse_id, received_at, expires_at,
			received_qty, current_qty, locked_qty, status, inspection, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			product_id = excluded.product_id,
			warehouse_id = excluded.warehouse_id,
			received_at = excluded.received_at,
			expires_at = excluded.expires_at,
			received_qty = excluded.received_qty,
			current_qty = excluded.current_qty,
			locked_qty = excluded.locked_qty,
			status = excluded.status,
			inspection = excluded.inspection,
			updated_at = excluded.updated_at`,
		lot.ID, lot.ProductID, lot.WarehouseID,
		formatTime(lot.ReceivedAt), formatTimePtr(lot.ExpiresAt),
		lot.ReceivedQty.String(), lot.CurrentQty.String(), lot.LockedQty.String(),
		lot.Status, lot.Inspection,
		formatTime(lot.CreatedAt), formatTime(lot.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save lot %s: %w", lot.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLot(row rowScanner) (allocation.Lot, error) {
	var (
		lot                              allocation.Lot
		receivedAt, createdAt, updatedAt string
		expiresAt                        sql.NullString
		receivedQty, currentQty, locked  string
	)
	err := row.Scan(&lot.ID, &lot.ProductID, &lot.WarehouseID, &receivedAt, &expiresAt,
		&receivedQty, &currentQty, &locked, &lot.Status, &lot.Inspection, &createdAt, &updatedAt)
	if err != nil {
		return allocation.Lot{}, err
	}

	if lot.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return allocation.Lot{}, err
	}
	if lot.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
		return allocation.Lot{}, err
	}
	if lot.CreatedAt, err = parseTime(createdAt); err != nil {
		return allocation.Lot{}, err
	}
	if lot.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return allocation.Lot{}, err
	}
	if lot.ReceivedQty, err = decimal.NewFromString(receivedQty); err != nil {
		return allocation.Lot{}, err
	}
	if lot.CurrentQty, err = decimal.NewFromString(currentQty); err != nil {
		return allocation.Lot{}, err
	}
	if lot.LockedQty, err = decimal.NewFromString(locked); err != nil {
		return allocation.Lot{}, err
	}
	return lot, nil
}

// =============================================================================
// RESERVATIONS
// =============================================================================

const reservationColumns = `id, lot_id, source, line_id, qty, status, strength,
	priority, created_at, confirmed_at, released_at, external_ref`

func (q *queries) GetReservation(ctx context.Context, id allocation.ReservationID) (allocation.Reservation, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	r, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return allocation.Reservation{}, &allocation.NotFoundError{Kind: "reservation", ID: string(id)}
	}
	return r, err
}

func (q *queries) ReservationsByLot(ctx context.Context, lotID allocation.LotID) ([]allocation.Reservation, error) {
	return q.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE lot_id = ? ORDER BY created_at ASC, id ASC`, lotID)
}

func (q *queries) ReservationsByLine(ctx context.Context, lineID allocation.DemandLineID) ([]allocation.Reservation, error) {
	return q.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE line_id = ? ORDER BY created_at ASC, id ASC`, lineID)
}

func (q *queries) TemporaryCreatedBefore(ctx context.Context, cutoff time.Time) ([]allocation.Reservation, error) {
	return q.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE status = ? AND created_at < ? ORDER BY created_at ASC, id ASC`,
		allocation.ReservationTemporary, formatTime(cutoff))
}

func (q *queries) queryReservations(ctx context.Context, query string, args ...any) ([]allocation.Reservation, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var result []allocation.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (q *queries) SaveReservation(ctx context.Context, r allocation.Reservation) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO reservations (id, lot_id, source, line_id, qty, status, strength,
			priority, created_at, confirmed_at, released_at, external_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			qty = excluded.qty,
			status = excluded.status,
			strength = excluded.strength,
			confirmed_at = excluded.confirmed_at,
			released_at = excluded.released_at,
			external_ref = excluded.external_ref`,
		r.ID, r.LotID, r.Source, r.LineID, r.Qty.String(), r.Status, r.Strength,
		int(r.Priority), formatTime(r.CreatedAt),
		formatTimePtr(r.ConfirmedAt), formatTimePtr(r.ReleasedAt), r.ExternalRef,
	)
	if err != nil {
		return fmt.Errorf("failed to save reservation %s: %w", r.ID, err)
	}
	return nil
}

func scanReservation(row rowScanner) (allocation.Reservation, error) {
	var (
		r                       allocation.Reservation
		qty, createdAt          string
		confirmedAt, releasedAt sql.NullString
		priority                int
	)
	err := row.Scan(&r.ID, &r.LotID, &r.Source, &r.LineID, &qty, &r.Status, &r.Strength,
		&priority, &createdAt, &confirmedAt, &releasedAt, &r.ExternalRef)
	if err != nil {
		return allocation.Reservation{}, err
	}

	r.Priority = allocation.PriorityClass(priority)
	if r.Qty, err = decimal.NewFromString(qty); err != nil {
		return allocation.Reservation{}, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return allocation.Reservation{}, err
	}
	if r.ConfirmedAt, err = parseTimePtr(confirmedAt); err != nil {
		return allocation.Reservation{}, err
	}
	if r.ReleasedAt, err = parseTimePtr(releasedAt); err != nil {
		return allocation.Reservation{}, err
	}
	return r, nil
}

// =============================================================================
// DEMAND LINES / GROUPS
// =============================================================================

const lineColumns = `id, group_id, product_id, warehouse_id, required_qty,
	allocated_qty, source, priority, status, version, created_at, updated_at`

func (q *queries) GetLine(ctx context.Context, id allocation.DemandLineID) (allocation.DemandLine, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+lineColumns+` FROM demand_lines WHERE id = ?`, id)
	line, err := scanLine(row)
	if err == sql.ErrNoRows {
		return allocation.DemandLine{}, &allocation.NotFoundError{Kind: "demand line", ID: string(id)}
	}
	return line, err
}

func (q *queries) LinesByGroup(ctx context.Context, groupID allocation.DemandGroupID) ([]allocation.DemandLine, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+lineColumns+` FROM demand_lines WHERE group_id = ? ORDER BY id ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query demand lines: %w", err)
	}
	defer rows.Close()

	var lines []allocation.DemandLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (q *queries) SaveLine(ctx context.Context, line allocation.DemandLine) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO demand_lines (id, group_id, product_id, warehouse_id, required_qty,
			allocated_qty, source, priority, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			required_qty = excluded.required_qty,
			allocated_qty = excluded.allocated_qty,
			source = excluded.source,
			priority = excluded.priority,
			status = excluded.status,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		line.ID, line.GroupID, line.ProductID, line.WarehouseID,
		line.RequiredQty.String(), line.AllocatedQty.String(),
		line.Source, int(line.Priority), line.Status, line.Version,
		formatTime(line.CreatedAt), formatTime(line.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save demand line %s: %w", line.ID, err)
	}
	return nil
}

func scanLine(row rowScanner) (allocation.DemandLine, error) {
	var (
		line                 allocation.DemandLine
		required, allocated  string
		priority             int
		createdAt, updatedAt string
	)
	err := row.Scan(&line.ID, &line.GroupID, &line.ProductID, &line.WarehouseID,
		&required, &allocated, &line.Source, &priority, &line.Status, &line.Version,
		&createdAt, &updatedAt)
	if err != nil {
		return allocation.DemandLine{}, err
	}

	line.Priority = allocation.PriorityClass(priority)
	if line.RequiredQty, err = decimal.NewFromString(required); err != nil {
		return allocation.DemandLine{}, err
	}
	if line.AllocatedQty, err = decimal.NewFromString(allocated); err != nil {
		return allocation.DemandLine{}, err
	}
	if line.CreatedAt, err = parseTime(createdAt); err != nil {
		return allocation.DemandLine{}, err
	}
	if line.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return allocation.DemandLine{}, err
	}
	return line, nil
}

func (q *queries) GetGroup(ctx context.Context, id allocation.DemandGroupID) (allocation.DemandGroup, error) {
	var (
		group                allocation.DemandGroup
		createdAt, updatedAt string
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT id, status, version, created_at, updated_at FROM demand_groups WHERE id = ?`, id).
		Scan(&group.ID, &group.Status, &group.Version, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return allocation.DemandGroup{}, &allocation.NotFoundError{Kind: "demand group", ID: string(id)}
	}
	if err != nil {
		return allocation.DemandGroup{}, err
	}
	if group.CreatedAt, err = parseTime(createdAt); err != nil {
		return allocation.DemandGroup{}, err
	}
	if group.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return allocation.DemandGroup{}, err
	}
	return group, nil
}

func (q *queries) SaveGroup(ctx context.Context, group allocation.DemandGroup) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO demand_groups (id, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		group.ID, group.Status, group.Version,
		formatTime(group.CreatedAt), formatTime(group.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save demand group %s: %w", group.ID, err)
	}
	return nil
}

// =============================================================================
// TRACE LOG
// =============================================================================

func (q *queries) AppendTrace(ctx context.Context, rec allocation.TraceRecord) error {
	var lotID any
	if rec.LotID != nil {
		lotID = string(*rec.LotID)
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO traces (id, line_id, lot_id, score, decision, reason, qty, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.LineID, lotID, rec.Score, rec.Decision, rec.Reason,
		rec.Qty.String(), formatTime(rec.At),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("trace %s already recorded: %w", rec.ID, err)
		}
		return fmt.Errorf("failed to append trace %s: %w", rec.ID, err)
	}
	return nil
}

func (q *queries) TracesByLine(ctx context.Context, lineID allocation.DemandLineID) ([]allocation.TraceRecord, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, line_id, lot_id, score, decision, reason, qty, at
		 FROM traces WHERE line_id = ? ORDER BY at ASC, id ASC`, lineID)
	if err != nil {
		return nil, fmt.Errorf("failed to query traces: %w", err)
	}
	defer rows.Close()

	var result []allocation.TraceRecord
	for rows.Next() {
		var (
			rec     allocation.TraceRecord
			lotID   sql.NullString
			qty, at string
			reason  sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.LineID, &lotID, &rec.Score, &rec.Decision,
			&reason, &qty, &at); err != nil {
			return nil, err
		}
		if lotID.Valid {
			id := allocation.LotID(lotID.String)
			rec.LotID = &id
		}
		rec.Reason = reason.String
		if rec.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if rec.At, err = parseTime(at); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// =============================================================================
// STORE (lock-free read path)
// =============================================================================

func (s *Store) GetLot(ctx context.Context, id allocation.LotID) (allocation.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&queries{db: s.db}).GetLot(ctx, id)
}

func (s *Store) LotsByProduct(ctx context.Context, productID allocation.ProductID, warehouseID *allocation.WarehouseID) ([]allocation.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&queries{db: s.db}).LotsByProduct(ctx, productID, warehouseID)
}

func (s *Store) SaveLot(ctx context.Context, lot allocation.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{db: s.db}).SaveLot(ctx, lot)
}

func (s *Store) GetReservation(ctx context.Context, id allocation.ReservationID) (allocation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&queries{db: s.db}).GetReservation(ctx, id)
}

func (s *Store) ReservationsByLot(ctx context.Context, lotID allocation.LotID) ([]allocation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&queries{db: s.db}).ReservationsByLot(ctx, lotID)
}

func (s *Store) ReservationsByLine(ctx context.Context, lineID allocation.DemandLineID) ([]allocation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&queries{db: s.db}).ReservationsByLine(ctx, lineID)
}

func (s *Store) TemporaryCreatedBefore(ctx context.Context, cutoff time.Time) ([]allocation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&queries{db: s.db}).TemporaryCreatedBefore(ctx, cutoff)
}

func (s *Store) SaveReservation(ctx context.Context, r allocation.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{db: s.db}).SaveReservation(ctx, r)
}

func (s *Store) GetLine(ctx context.Context, id allocation.DemandLineID) (allocation.DemandLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&queries{db: s.db}).GetLine(ctx, id)
}

func (s *Store) LinesByGroup(ctx context.Context, groupID allocation.DemandGroupID) ([]allocation.DemandLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&queries{db: s.db}).LinesByGroup(ctx, groupID)
}

func (s *Store) SaveLine(ctx context.Context, line allocation.DemandLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{db: s.db}).SaveLine(ctx, line)
}

func (s *Store) GetGroup(ctx context.Context, id allocation.DemandGroupID) (allocation.DemandGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&queries{db: s.db}).GetGroup(ctx, id)
}

func (s *Store) SaveGroup(ctx context.Context, group allocation.DemandGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{db: s.db}).SaveGroup(ctx, group)
}

func (s *Store) AppendTrace(ctx context.Context, rec allocation.TraceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{db: s.db}).AppendTrace(ctx, rec)
}

func (s *Store) TracesByLine(ctx context.Context, lineID allocation.DemandLineID) ([]allocation.TraceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&queries{db: s.db}).TracesByLine(ctx, lineID)
}

// =============================================================================
// TRANSACTIONAL VIEW (WithLots)
// =============================================================================

// WithLots serializes writers, opens a transaction, verifies the named lots
// in ascending-id order, and runs fn against the transaction.
func (s *Store) WithLots(ctx context.Context, ids []allocation.LotID, fn func(allocation.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := append([]allocation.LotID{}, ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	q := &queries{db: tx}
	for _, id := range sorted {
		if _, err := q.GetLot(ctx, id); err != nil {
			return err
		}
	}

	if err := fn(q); err != nil {
		return err
	}
	return tx.Commit()
}

// isUniqueConstraintError reports whether err is a SQLite unique violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =============================================================================
// TIME HELPERS
// =============================================================================
// RFC3339Nano keeps reservation creation-time ordering stable, which the
// preemption ordering depends on.

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

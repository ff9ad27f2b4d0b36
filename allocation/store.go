/*
store.go - Persistence interfaces the engine consumes

PURPOSE:
  Defines the boundary between the allocation engine and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory
  storage; the engine only relies on the transactional guarantees
  documented here.

KEY INTERFACES:
  LotStore:         Lot read/write (by id, by product+warehouse)
  ReservationStore: Reservation read/write (by id, by lot, by line)
  DemandStore:      Demand line/group read/write with status fields
  TraceLog:         Append-only allocation decision audit
  Store:            All of the above, one consistent view
  TxStore:          Store plus WithLots, the exclusive-lock mutation path

LOCKING CONTRACT (WithLots):
  WithLots acquires exclusive row-level locks on the named lots in
  ascending-id order before fn runs, and releases them when fn returns.
  All writes performed inside fn are atomic: either every write commits
  or none do. Two concurrent WithLots calls touching overlapping lot
  sets serialize; the ascending-id order prevents lock-ordering
  deadlocks between them.

  Reads outside WithLots see a consistent snapshot and take no locks;
  previews run entirely on that path.

APPEND-ONLY CONTRACT:
  Reservations are never deleted - released rows are retained for audit.
  Trace records are never updated or deleted.

IMPLEMENTATIONS:
  - allocation/store/memory.go: In-memory, big-lock + snapshot rollback
  - store/sqlite/sqlite.go: SQLite with WAL and BEGIN IMMEDIATE

SEE ALSO:
  - commit.go: The only component using WithLots
  - ranker.go: Read-only consumer of LotStore/ReservationStore
*/
package allocation

import (
	"context"
	"time"
)

// =============================================================================
// ENTITY STORES
// =============================================================================

// LotStore persists lots.
type LotStore interface {
	// GetLot returns the lot or *NotFoundError.
	GetLot(ctx context.Context, id LotID) (Lot, error)

	// LotsByProduct returns all lots of a product, optionally narrowed to
	// one warehouse. Order is unspecified; the ranker sorts.
	LotsByProduct(ctx context.Context, productID ProductID, warehouseID *WarehouseID) ([]Lot, error)

	// SaveLot inserts or updates a lot.
	SaveLot(ctx context.Context, lot Lot) error
}

// ReservationStore persists reservations. No Delete: released reservations
// are retained for audit.
type ReservationStore interface {
	// GetReservation returns the reservation or *NotFoundError.
	GetReservation(ctx context.Context, id ReservationID) (Reservation, error)

	// ReservationsByLot returns every reservation against a lot, any status,
	// ordered by creation time ascending.
	ReservationsByLot(ctx context.Context, lotID LotID) ([]Reservation, error)

	// ReservationsByLine returns every reservation serving a demand line,
	// any status, ordered by creation time ascending.
	ReservationsByLine(ctx context.Context, lineID DemandLineID) ([]Reservation, error)

	// TemporaryCreatedBefore returns temporary reservations created before
	// the cutoff, for the optional expiry sweep.
	TemporaryCreatedBefore(ctx context.Context, cutoff time.Time) ([]Reservation, error)

	// SaveReservation inserts or updates a reservation.
	SaveReservation(ctx context.Context, r Reservation) error
}

// DemandStore persists demand lines and groups.
type DemandStore interface {
	GetLine(ctx context.Context, id DemandLineID) (DemandLine, error)
	LinesByGroup(ctx context.Context, groupID DemandGroupID) ([]DemandLine, error)
	SaveLine(ctx context.Context, line DemandLine) error

	GetGroup(ctx context.Context, id DemandGroupID) (DemandGroup, error)
	SaveGroup(ctx context.Context, group DemandGroup) error
}

// TraceLog stores allocation decision audit rows. Append-only.
type TraceLog interface {
	AppendTrace(ctx context.Context, rec TraceRecord) error

	// TracesByLine returns all trace records for a demand line, oldest first.
	TracesByLine(ctx context.Context, lineID DemandLineID) ([]TraceRecord, error)
}

// =============================================================================
// COMBINED / TRANSACTIONAL STORE
// =============================================================================

// Store is one consistent view over all entity stores.
type Store interface {
	LotStore
	ReservationStore
	DemandStore
	TraceLog
}

// TxStore is the mutation path. The engine performs every write inside
// WithLots; plain Store methods are used for lock-free reads only.
type TxStore interface {
	Store

	// WithLots locks the named lots exclusively (ascending-id order), then
	// runs fn against a transactional view of the store. If fn returns an
	// error the transaction rolls back and nothing is visible outside;
	// otherwise all writes commit atomically.
	//
	// Locking a lot that does not exist returns *NotFoundError.
	WithLots(ctx context.Context, ids []LotID, fn func(Store) error) error
}

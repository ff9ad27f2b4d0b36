/*
engine.go - Engine facade

PURPOSE:
  The single entry point calling layers use. Wires the previewer, the
  actioner, and the ranker over one transactional store and exposes the
  engine's operations:

    Preview, Commit, AllocateManual, Confirm, Promote, Cancel,
    CancelBulk, Candidates, TraceForLine

  plus the receipt/administrative paths that feed the engine
  (ReceiveLot, AdjustLockedQty, SetLotStatus, SetInspection) and the
  demand seeding helpers (CreateGroup, AddLine).

  The engine itself is stateless between calls; every call executes to
  completion within one request.

SEE ALSO:
  - preview.go, commit.go, confirm.go: The operations being fronted
  - api/handlers.go: HTTP layer delegating here
*/
package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Engine bundles the allocation components over one store.
type Engine struct {
	store     TxStore
	Previewer *Previewer
	Actioner  *Actioner
	Ranker    *Ranker
}

// New creates an engine over a transactional store.
func New(store TxStore) *Engine {
	return &Engine{
		store:     store,
		Previewer: NewPreviewer(store),
		Actioner:  NewActioner(store),
		Ranker:    &Ranker{Lots: store, Reservations: store},
	}
}

func (e *Engine) now() time.Time { return e.Actioner.now() }

// =============================================================================
// CORE OPERATIONS
// =============================================================================

// Preview computes the allocation plan for a demand group. Read-only.
func (e *Engine) Preview(ctx context.Context, groupID DemandGroupID) (*Preview, error) {
	return e.Previewer.Preview(ctx, groupID, CandidateFilter{})
}

// Commit persists a previously produced preview, all-or-nothing.
func (e *Engine) Commit(ctx context.Context, preview *Preview) (*CommitResult, error) {
	return e.Actioner.Commit(ctx, preview)
}

// AllocateManual creates one reservation for an explicit assignment.
func (e *Engine) AllocateManual(ctx context.Context, lineID DemandLineID, lotID LotID, qty decimal.Decimal) (*Reservation, error) {
	return e.Actioner.AllocateManual(ctx, lineID, lotID, qty)
}

// Confirm hardens an active reservation, optionally partially.
func (e *Engine) Confirm(ctx context.Context, id ReservationID, qty *decimal.Decimal) (*ConfirmResult, error) {
	return e.Actioner.Confirm(ctx, id, qty)
}

// Promote activates a temporary (provisional) reservation.
func (e *Engine) Promote(ctx context.Context, id ReservationID) (*Reservation, error) {
	return e.Actioner.Promote(ctx, id)
}

// Cancel releases a reservation.
func (e *Engine) Cancel(ctx context.Context, id ReservationID) (*Reservation, error) {
	return e.Actioner.Cancel(ctx, id)
}

// CancelBulk releases reservations best-effort per item.
func (e *Engine) CancelBulk(ctx context.Context, ids []ReservationID) (*BulkCancelResult, error) {
	return e.Actioner.CancelBulk(ctx, ids)
}

// Candidates returns the FEFO-ranked allocatable lots for a product.
func (e *Engine) Candidates(ctx context.Context, productID ProductID, warehouseID *WarehouseID, filter CandidateFilter) ([]Candidate, error) {
	return e.Ranker.Candidates(ctx, productID, warehouseID, filter)
}

// TraceForLine returns the allocation decision audit for a demand line.
func (e *Engine) TraceForLine(ctx context.Context, lineID DemandLineID) ([]TraceRecord, error) {
	return e.store.TracesByLine(ctx, lineID)
}

// GetLot returns a single lot.
func (e *Engine) GetLot(ctx context.Context, lotID LotID) (Lot, error) {
	return e.store.GetLot(ctx, lotID)
}

// GroupWithLines returns a demand group together with its lines.
func (e *Engine) GroupWithLines(ctx context.Context, groupID DemandGroupID) (DemandGroup, []DemandLine, error) {
	group, err := e.store.GetGroup(ctx, groupID)
	if err != nil {
		return DemandGroup{}, nil, err
	}
	lines, err := e.store.LinesByGroup(ctx, groupID)
	if err != nil {
		return DemandGroup{}, nil, err
	}
	return group, lines, nil
}

// MarkExternalConfirmed records an external system acknowledgement.
func (e *Engine) MarkExternalConfirmed(ctx context.Context, id ReservationID, ref string) (*Reservation, error) {
	return e.Actioner.MarkExternalConfirmed(ctx, id, ref)
}

// UnconfirmExternal reverses an external acknowledgement.
func (e *Engine) UnconfirmExternal(ctx context.Context, id ReservationID) (*Reservation, error) {
	return e.Actioner.UnconfirmExternal(ctx, id)
}

// SweepExpiredTemporary releases stale provisional reservations.
func (e *Engine) SweepExpiredTemporary(ctx context.Context, cutoff time.Time) (*BulkCancelResult, error) {
	return e.Actioner.SweepExpiredTemporary(ctx, cutoff)
}

// =============================================================================
// RECEIPT AND ADMINISTRATION
// =============================================================================

// ReceiveLot registers a newly receipted lot. Zero CurrentQty defaults to
// ReceivedQty; zero status defaults to active.
func (e *Engine) ReceiveLot(ctx context.Context, lot Lot) (Lot, error) {
	if lot.ProductID == "" {
		return Lot{}, &ValidationError{Field: "product_id", Message: "required"}
	}
	if lot.WarehouseID == "" {
		return Lot{}, &ValidationError{Field: "warehouse_id", Message: "required"}
	}
	if !lot.ReceivedQty.IsPositive() {
		return Lot{}, &ValidationError{Field: "received_qty", Message: "must be > 0"}
	}
	if lot.LockedQty.IsNegative() {
		return Lot{}, &ValidationError{Field: "locked_qty", Message: "must be >= 0"}
	}

	at := e.now()
	if lot.ID == "" {
		lot.ID = LotID(fmt.Sprintf("lot-%d", at.UnixNano()))
	}
	if lot.CurrentQty.IsZero() {
		lot.CurrentQty = lot.ReceivedQty
	}
	if lot.Status == "" {
		lot.Status = LotActive
	}
	if lot.Inspection == "" {
		lot.Inspection = InspectionNotRequired
	}
	if lot.LockedQty.GreaterThan(lot.CurrentQty) {
		return Lot{}, &ValidationError{Field: "locked_qty", Message: "exceeds current quantity"}
	}
	if lot.ReceivedAt.IsZero() {
		lot.ReceivedAt = at
	}
	lot.CreatedAt = at
	lot.UpdatedAt = at

	if err := e.store.SaveLot(ctx, lot); err != nil {
		return Lot{}, err
	}
	return lot, nil
}

// AdjustLockedQty changes the administratively withheld quantity. Refused
// when the new lock would break the conservation invariant for existing
// reservations.
func (e *Engine) AdjustLockedQty(ctx context.Context, lotID LotID, locked decimal.Decimal) (Lot, error) {
	if locked.IsNegative() {
		return Lot{}, &ValidationError{Field: "locked_qty", Message: "must be >= 0"}
	}

	at := e.now()
	var updated Lot
	err := e.store.WithLots(ctx, []LotID{lotID}, func(tx Store) error {
		lot, err := tx.GetLot(ctx, lotID)
		if err != nil {
			return err
		}
		if locked.GreaterThan(lot.CurrentQty) {
			return &ValidationError{Field: "locked_qty", Message: "exceeds current quantity"}
		}

		reserved, err := ReservedQty(ctx, tx, lotID)
		if err != nil {
			return err
		}
		if lot.CurrentQty.Sub(locked).LessThan(reserved) {
			return &ValidationError{
				Field:   "locked_qty",
				Message: fmt.Sprintf("would strand %s of reserved stock", reserved.Sub(lot.CurrentQty.Sub(locked)).String()),
			}
		}

		lot.LockedQty = locked
		lot.UpdatedAt = at
		if err := tx.SaveLot(ctx, lot); err != nil {
			return err
		}
		updated = lot
		return nil
	})
	if err != nil {
		return Lot{}, err
	}
	return updated, nil
}

// SetLotStatus changes the lot's administrative status (quarantine, locked,
// expired). Existing reservations are untouched; new allocation stops.
func (e *Engine) SetLotStatus(ctx context.Context, lotID LotID, status LotStatus) (Lot, error) {
	switch status {
	case LotActive, LotDepleted, LotExpired, LotQuarantine, LotLocked:
	default:
		return Lot{}, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown lot status %q", status)}
	}
	return e.updateLot(ctx, lotID, func(lot *Lot) { lot.Status = status })
}

// SetInspection records an inspection result for a lot.
func (e *Engine) SetInspection(ctx context.Context, lotID LotID, inspection InspectionStatus) (Lot, error) {
	switch inspection {
	case InspectionNotRequired, InspectionPending, InspectionPassed, InspectionFailed:
	default:
		return Lot{}, &ValidationError{Field: "inspection", Message: fmt.Sprintf("unknown inspection status %q", inspection)}
	}
	return e.updateLot(ctx, lotID, func(lot *Lot) { lot.Inspection = inspection })
}

func (e *Engine) updateLot(ctx context.Context, lotID LotID, mutate func(*Lot)) (Lot, error) {
	at := e.now()
	var updated Lot
	err := e.store.WithLots(ctx, []LotID{lotID}, func(tx Store) error {
		lot, err := tx.GetLot(ctx, lotID)
		if err != nil {
			return err
		}
		mutate(&lot)
		lot.UpdatedAt = at
		if err := tx.SaveLot(ctx, lot); err != nil {
			return err
		}
		updated = lot
		return nil
	})
	if err != nil {
		return Lot{}, err
	}
	return updated, nil
}

// =============================================================================
// DEMAND SEEDING
// =============================================================================

// CreateGroup registers a demand group in pending status.
func (e *Engine) CreateGroup(ctx context.Context, id DemandGroupID) (DemandGroup, error) {
	at := e.now()
	if id == "" {
		id = DemandGroupID(fmt.Sprintf("grp-%d", at.UnixNano()))
	}
	group := DemandGroup{
		ID:        id,
		Status:    GroupPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := e.store.SaveGroup(ctx, group); err != nil {
		return DemandGroup{}, err
	}
	return group, nil
}

// AddLine registers a demand line under a group.
func (e *Engine) AddLine(ctx context.Context, line DemandLine) (DemandLine, error) {
	if line.GroupID == "" {
		return DemandLine{}, &ValidationError{Field: "group_id", Message: "required"}
	}
	if line.ProductID == "" {
		return DemandLine{}, &ValidationError{Field: "product_id", Message: "required"}
	}
	if line.RequiredQty.IsNegative() {
		return DemandLine{}, &ValidationError{Field: "required_qty", Message: "must be >= 0"}
	}
	if _, err := e.store.GetGroup(ctx, line.GroupID); err != nil {
		return DemandLine{}, err
	}

	at := e.now()
	if line.ID == "" {
		line.ID = DemandLineID(fmt.Sprintf("line-%d", at.UnixNano()))
	}
	if line.Source == "" {
		line.Source = SourceOrder
	}
	// The zero priority is forecast-linked; only forecast lines belong there.
	if line.Priority == PriorityForecastLinked && line.Source != SourceForecast {
		line.Priority = PriorityOrder
	}
	if line.Status == "" {
		line.Status = LinePending
	}
	line.AllocatedQty = decimal.Zero
	line.CreatedAt = at
	line.UpdatedAt = at

	if err := e.store.SaveLine(ctx, line); err != nil {
		return DemandLine{}, err
	}
	return line, nil
}

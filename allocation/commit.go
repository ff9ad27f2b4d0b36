/*
commit.go - Commit/Action engine

PURPOSE:
  The only component allowed to mutate lot, reservation, and demand state.
  Takes a caller-supplied Preview, re-validates it against live state
  under row-level locks (never against the preview's stale snapshot),
  writes reservation rows and trace records, and re-derives demand
  line/group statuses.

COMMIT FLOW:
  1. Collect every lot id the preview touches; deduplicate.
  2. WithLots locks them exclusively in ascending-id order.
  3. Per (lot, qty) decision: re-check status == active, cleared
     inspection, not expired, and sufficient effective availability.
     Hard demand may preempt competing soft reservations (preempt.go).
  4. Create reservations: active for order/manual demand, temporary for
     forecast-origin (provisional) demand.
  5. Re-derive line and group statuses from non-released reservations.
  6. Persist the preview's allocator decisions as trace records.

  Any failure rolls the whole transaction back: partial commits are
  never visible outside the engine.

MANUAL ALLOCATION:
  AllocateManual bypasses ranking (the caller names the lot) but shares
  the same locking, validation, and status-rederivation path.

SEE ALSO:
  - preview.go: Produces the Preview being committed
  - preempt.go: Frees soft capacity for hard demand
  - confirm.go: Confirm/cancel lifecycle operations
*/
package allocation

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

var reservationSeq atomic.Int64

// Actioner executes all state-mutating operations.
type Actioner struct {
	Store TxStore

	// Now is the clock; overridable in tests. Nil means time.Now.
	Now func() time.Time
}

// NewActioner wires an actioner over a transactional store.
func NewActioner(store TxStore) *Actioner {
	return &Actioner{Store: store}
}

func (a *Actioner) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// CommitResult reports what a successful commit created and updated.
type CommitResult struct {
	Reservations []Reservation
	Lines        []DemandLine
	Group        DemandGroup
}

// Commit re-validates a preview under lock and persists it, all-or-nothing.
func (a *Actioner) Commit(ctx context.Context, preview *Preview) (*CommitResult, error) {
	if preview == nil {
		return nil, &ValidationError{Field: "preview", Message: "required"}
	}
	if preview.GroupID == "" {
		return nil, &ValidationError{Field: "preview.group_id", Message: "required"}
	}

	lotIDs := collectLotIDs(preview)
	at := a.now()

	var result *CommitResult
	err := a.Store.WithLots(ctx, lotIDs, func(tx Store) error {
		result = &CommitResult{}

		for _, plan := range preview.Lines {
			line, err := tx.GetLine(ctx, plan.LineID)
			if err != nil {
				return err
			}

			for _, assignment := range plan.Assignments {
				r, err := a.reserve(ctx, tx, line, assignment.LotID, assignment.Qty, at)
				if err != nil {
					return err
				}
				result.Reservations = append(result.Reservations, r)
			}

			updated, err := a.rederiveLine(ctx, tx, plan.LineID, at)
			if err != nil {
				return err
			}
			result.Lines = append(result.Lines, updated)

			// Traces commit or roll back with the reservations they explain.
			rec := &Recorder{Log: tx}
			if err := rec.Record(ctx, plan.LineID, plan.Decisions, at); err != nil {
				return err
			}
		}

		group, err := a.rederiveGroup(ctx, tx, preview.GroupID, at)
		if err != nil {
			return err
		}
		result.Group = group
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AllocateManual creates one reservation for an explicit (line, lot, qty)
// assignment. No ranking; same locks and re-validation as Commit.
func (a *Actioner) AllocateManual(ctx context.Context, lineID DemandLineID, lotID LotID, qty decimal.Decimal) (*Reservation, error) {
	if !qty.IsPositive() {
		return nil, &ValidationError{Field: "qty", Message: "must be > 0"}
	}
	if lineID == "" {
		return nil, &ValidationError{Field: "line_id", Message: "required"}
	}
	if lotID == "" {
		return nil, &ValidationError{Field: "lot_id", Message: "required"}
	}

	at := a.now()
	var created Reservation
	err := a.Store.WithLots(ctx, []LotID{lotID}, func(tx Store) error {
		line, err := tx.GetLine(ctx, lineID)
		if err != nil {
			return err
		}
		if line.ProductID != "" {
			lot, err := tx.GetLot(ctx, lotID)
			if err != nil {
				return err
			}
			if lot.ProductID != line.ProductID {
				return &ValidationError{
					Field:   "lot_id",
					Message: fmt.Sprintf("lot %s holds product %s, line needs %s", lotID, lot.ProductID, line.ProductID),
				}
			}
		}

		// Manual assignments are operator decisions: hard commitment.
		manual := line
		manual.Source = SourceManual
		created, err = a.reserve(ctx, tx, manual, lotID, qty, at)
		if err != nil {
			return err
		}

		if _, err := a.rederiveLine(ctx, tx, lineID, at); err != nil {
			return err
		}
		if _, err := a.rederiveGroup(ctx, tx, line.GroupID, at); err != nil {
			return err
		}

		id := lotID
		rec := &Recorder{Log: tx}
		return rec.Record(ctx, lineID, []Decision{{
			LotID:    &id,
			Qty:      qty,
			Decision: TraceAdopted,
			Reason:   "manual assignment",
		}}, at)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// reserve re-validates one (lot, qty) decision against live state and
// creates the reservation. Caller holds the lot lock.
func (a *Actioner) reserve(ctx context.Context, tx Store, line DemandLine, lotID LotID, qty decimal.Decimal, at time.Time) (Reservation, error) {
	if !qty.IsPositive() {
		return Reservation{}, &ValidationError{Field: "qty", Message: "must be > 0"}
	}

	lot, err := tx.GetLot(ctx, lotID)
	if err != nil {
		return Reservation{}, err
	}
	if lot.Status != LotActive || !lot.InspectionCleared() {
		return Reservation{}, &CommitError{
			Code:    CommitLotNotActive,
			LotID:   lotID,
			LineID:  line.ID,
			Message: fmt.Sprintf("status %s, inspection %s", lot.Status, lot.Inspection),
		}
	}
	if lot.ExpiredAsOf(at) {
		return Reservation{}, &CommitError{
			Code:    CommitLotNotActive,
			LotID:   lotID,
			LineID:  line.ID,
			Message: "lot expired",
		}
	}

	strength := StrengthHard
	status := ReservationActive
	if line.Source == SourceForecast {
		strength = StrengthSoft
		status = ReservationTemporary
	}

	available, err := effectiveAvailable(ctx, tx, lot)
	if err != nil {
		return Reservation{}, err
	}

	// Temporary reservations do not hold stock yet, but over-promising a
	// provisional claim against visibly missing capacity helps nobody.
	if available.LessThan(qty) {
		if strength == StrengthHard {
			freed, err := a.preempt(ctx, tx, lot, qty.Sub(available), "", at)
			if err != nil {
				return Reservation{}, err
			}
			available = available.Add(freed)
		}
		if available.LessThan(qty) {
			return Reservation{}, &CommitError{
				Code:    CommitInsufficientStock,
				LotID:   lotID,
				LineID:  line.ID,
				Message: fmt.Sprintf("available %s, requested %s", available.String(), qty.String()),
			}
		}
	}

	r := Reservation{
		ID:        newReservationID(at),
		LotID:     lotID,
		Source:    line.Source,
		LineID:    line.ID,
		Qty:       qty,
		Status:    status,
		Strength:  strength,
		Priority:  line.Priority,
		CreatedAt: at,
	}
	if err := tx.SaveReservation(ctx, r); err != nil {
		return Reservation{}, err
	}
	return r, nil
}

// =============================================================================
// STATUS REDERIVATION
// =============================================================================

// rederiveLine recomputes AllocatedQty from non-released reservations and
// re-derives the line status. Status is never set ad hoc.
func (a *Actioner) rederiveLine(ctx context.Context, tx Store, lineID DemandLineID, at time.Time) (DemandLine, error) {
	line, err := tx.GetLine(ctx, lineID)
	if err != nil {
		return DemandLine{}, err
	}

	reservations, err := tx.ReservationsByLine(ctx, lineID)
	if err != nil {
		return DemandLine{}, err
	}

	allocated := decimal.Zero
	for _, r := range reservations {
		if r.Status != ReservationReleased {
			allocated = allocated.Add(r.Qty)
		}
	}
	line.AllocatedQty = allocated

	// Terminal statuses are owned by shipping/closing flows, not by us.
	switch line.Status {
	case LinePending, LineAllocated:
		if line.Covered() {
			line.Status = LineAllocated
		} else {
			line.Status = LinePending
		}
	}

	line.Version++
	line.UpdatedAt = at
	if err := tx.SaveLine(ctx, line); err != nil {
		return DemandLine{}, err
	}
	return line, nil
}

// rederiveGroup re-derives the group status from its lines' coverage.
func (a *Actioner) rederiveGroup(ctx context.Context, tx Store, groupID DemandGroupID, at time.Time) (DemandGroup, error) {
	group, err := tx.GetGroup(ctx, groupID)
	if err != nil {
		return DemandGroup{}, err
	}

	switch group.Status {
	case GroupShipped, GroupCompleted, GroupCancelled:
		return group, nil
	}

	lines, err := tx.LinesByGroup(ctx, groupID)
	if err != nil {
		return DemandGroup{}, err
	}

	covered, open, anyAllocated := 0, 0, false
	for _, line := range lines {
		if line.Status == LineCancelled {
			continue
		}
		open++
		if line.Covered() {
			covered++
		}
		if line.AllocatedQty.IsPositive() {
			anyAllocated = true
		}
	}

	switch {
	case open > 0 && covered == open:
		group.Status = GroupAllocated
	case covered > 0 || anyAllocated:
		group.Status = GroupPartAllocated
	default:
		group.Status = GroupPending
	}

	group.Version++
	group.UpdatedAt = at
	if err := tx.SaveGroup(ctx, group); err != nil {
		return DemandGroup{}, err
	}
	return group, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// effectiveAvailable is the quantity new reservations may still claim:
// CurrentQty - LockedQty - sum(active+confirmed reservations).
func effectiveAvailable(ctx context.Context, tx Store, lot Lot) (decimal.Decimal, error) {
	reserved, err := ReservedQty(ctx, tx, lot.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return lot.Unlocked().Sub(reserved), nil
}

// collectLotIDs gathers the distinct lots a preview touches. WithLots sorts
// before locking, but we sort here too so error paths are deterministic.
func collectLotIDs(preview *Preview) []LotID {
	seen := make(map[LotID]bool)
	var ids []LotID
	for _, plan := range preview.Lines {
		for _, assignment := range plan.Assignments {
			if !seen[assignment.LotID] {
				seen[assignment.LotID] = true
				ids = append(ids, assignment.LotID)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func newReservationID(at time.Time) ReservationID {
	return ReservationID(fmt.Sprintf("rsv-%d-%d", at.UnixNano(), reservationSeq.Add(1)))
}

/*
confirm.go - Confirm and cancel lifecycle operations

PURPOSE:
  Confirm hardens an active reservation into a confirmed one, optionally
  for a partial quantity (the residual stays behind as a fresh soft
  reservation). Cancel releases a reservation and cascades the demand
  line/group status update. Both re-validate under the same lot lock as
  every other mutation.

CONFIRM AND SCARCITY:
  Administrative adjustments can shrink a lot after a reservation was
  created. Confirm therefore re-checks the conservation invariant; when
  it finds the lot over-committed it preempts competing soft
  reservations (never the one being confirmed) before failing with
  INSUFFICIENT_STOCK.

BULK SEMANTICS:
  CancelBulk is best-effort per item: each item's failure is collected
  and reported while the other items' releases still commit. This is the
  only place where partial success is a designed outcome.

SEE ALSO:
  - lifecycle.go: The transition table enforced here
  - preempt.go: Soft reservation release ordering
*/
package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ConfirmResult is the outcome of a confirm: the hardened reservation and,
// for partial confirms, the residual soft reservation left behind.
type ConfirmResult struct {
	Confirmed Reservation
	Residual  *Reservation
}

// Confirm transitions an active reservation to confirmed. qty nil confirms
// the full reserved quantity; a smaller qty splits off the remainder into a
// new soft reservation. May trigger preemption.
func (a *Actioner) Confirm(ctx context.Context, id ReservationID, qty *decimal.Decimal) (*ConfirmResult, error) {
	if id == "" {
		return nil, &ValidationError{Field: "reservation_id", Message: "required"}
	}

	// Lock-free read just to learn which lot to lock.
	stale, err := a.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	at := a.now()
	var result *ConfirmResult
	err = a.Store.WithLots(ctx, []LotID{stale.LotID}, func(tx Store) error {
		r, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}

		switch r.Status {
		case ReservationTemporary:
			return &CommitError{
				Code:    CommitNotConfirmable,
				LotID:   r.LotID,
				LineID:  r.LineID,
				Message: "provisional reservation must be promoted before confirmation",
			}
		case ReservationConfirmed:
			return &CommitError{
				Code:   CommitAlreadyConfirmed,
				LotID:  r.LotID,
				LineID: r.LineID,
			}
		case ReservationReleased:
			return &ReservationStateError{ReservationID: r.ID, From: r.Status, To: ReservationConfirmed}
		}

		confirmQty := r.Qty
		if qty != nil {
			if !qty.IsPositive() {
				return &ValidationError{Field: "qty", Message: "must be > 0"}
			}
			if qty.GreaterThan(r.Qty) {
				return &ValidationError{
					Field:   "qty",
					Message: fmt.Sprintf("exceeds reserved quantity %s", r.Qty.String()),
				}
			}
			confirmQty = *qty
		}

		lot, err := tx.GetLot(ctx, r.LotID)
		if err != nil {
			return err
		}

		// The lot may have shrunk since the reservation was created.
		// Conservation must hold before the claim hardens.
		available, err := effectiveAvailable(ctx, tx, lot)
		if err != nil {
			return err
		}
		if available.IsNegative() {
			shortfall := available.Neg()
			freed, err := a.preempt(ctx, tx, lot, shortfall, r.ID, at)
			if err != nil {
				return err
			}
			if freed.LessThan(shortfall) {
				return &CommitError{
					Code:    CommitInsufficientStock,
					LotID:   r.LotID,
					LineID:  r.LineID,
					Message: fmt.Sprintf("lot over-committed by %s after preemption", shortfall.Sub(freed).String()),
				}
			}
		}

		var residual *Reservation
		if confirmQty.LessThan(r.Qty) {
			rest := Reservation{
				ID:        newReservationID(at),
				LotID:     r.LotID,
				Source:    r.Source,
				LineID:    r.LineID,
				Qty:       r.Qty.Sub(confirmQty),
				Status:    ReservationActive,
				Strength:  StrengthSoft,
				Priority:  r.Priority,
				CreatedAt: at,
			}
			if err := tx.SaveReservation(ctx, rest); err != nil {
				return err
			}
			residual = &rest
			r.Qty = confirmQty
		}

		if err := Transition(&r, ReservationConfirmed, at); err != nil {
			return err
		}
		r.Strength = StrengthHard
		if err := tx.SaveReservation(ctx, r); err != nil {
			return err
		}

		line, err := a.rederiveLine(ctx, tx, r.LineID, at)
		if err != nil {
			return err
		}
		if _, err := a.rederiveGroup(ctx, tx, line.GroupID, at); err != nil {
			return err
		}

		result = &ConfirmResult{Confirmed: r, Residual: residual}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Promote transitions a temporary (provisional) reservation to active, at
// which point it starts holding stock. Validated against availability the
// same way creation is.
func (a *Actioner) Promote(ctx context.Context, id ReservationID) (*Reservation, error) {
	if id == "" {
		return nil, &ValidationError{Field: "reservation_id", Message: "required"}
	}

	stale, err := a.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	at := a.now()
	var promoted Reservation
	err = a.Store.WithLots(ctx, []LotID{stale.LotID}, func(tx Store) error {
		r, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}

		lot, err := tx.GetLot(ctx, r.LotID)
		if err != nil {
			return err
		}
		available, err := effectiveAvailable(ctx, tx, lot)
		if err != nil {
			return err
		}
		if available.LessThan(r.Qty) {
			return &CommitError{
				Code:    CommitInsufficientStock,
				LotID:   r.LotID,
				LineID:  r.LineID,
				Message: fmt.Sprintf("available %s, promoting %s", available.String(), r.Qty.String()),
			}
		}

		if err := Transition(&r, ReservationActive, at); err != nil {
			return err
		}
		if err := tx.SaveReservation(ctx, r); err != nil {
			return err
		}

		line, err := a.rederiveLine(ctx, tx, r.LineID, at)
		if err != nil {
			return err
		}
		if _, err := a.rederiveGroup(ctx, tx, line.GroupID, at); err != nil {
			return err
		}
		promoted = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &promoted, nil
}

// Cancel releases a reservation and cascades the line/group status update.
// Invalid transitions (already released; confirmed with an unreversed
// external confirmation) fail with *ReservationStateError.
func (a *Actioner) Cancel(ctx context.Context, id ReservationID) (*Reservation, error) {
	if id == "" {
		return nil, &ValidationError{Field: "reservation_id", Message: "required"}
	}

	stale, err := a.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	at := a.now()
	var released Reservation
	err = a.Store.WithLots(ctx, []LotID{stale.LotID}, func(tx Store) error {
		r, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if err := Transition(&r, ReservationReleased, at); err != nil {
			return err
		}
		if err := tx.SaveReservation(ctx, r); err != nil {
			return err
		}

		line, err := a.rederiveLine(ctx, tx, r.LineID, at)
		if err != nil {
			return err
		}
		if _, err := a.rederiveGroup(ctx, tx, line.GroupID, at); err != nil {
			return err
		}
		released = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &released, nil
}

// =============================================================================
// BULK CANCEL - Best-effort per item
// =============================================================================

// BulkFailure pairs a reservation id with the error that kept it from
// being released.
type BulkFailure struct {
	ID  ReservationID
	Err error
}

// BulkCancelResult reports which reservations were released and which failed.
type BulkCancelResult struct {
	Released []Reservation
	Failures []BulkFailure
}

// CancelBulk releases each reservation independently. Failures do not roll
// back the other items' releases.
func (a *Actioner) CancelBulk(ctx context.Context, ids []ReservationID) (*BulkCancelResult, error) {
	if len(ids) == 0 {
		return nil, &ValidationError{Field: "reservation_ids", Message: "required"}
	}

	result := &BulkCancelResult{}
	for _, id := range ids {
		released, err := a.Cancel(ctx, id)
		if err != nil {
			result.Failures = append(result.Failures, BulkFailure{ID: id, Err: err})
			continue
		}
		result.Released = append(result.Released, *released)
	}
	return result, nil
}

// =============================================================================
// EXTERNAL CONFIRMATION MARKER
// =============================================================================

// MarkExternalConfirmed records that an external system acknowledged the
// confirmation. While the marker is set, the reservation cannot be released.
func (a *Actioner) MarkExternalConfirmed(ctx context.Context, id ReservationID, ref string) (*Reservation, error) {
	if ref == "" {
		return nil, &ValidationError{Field: "ref", Message: "required"}
	}
	return a.setExternalRef(ctx, id, ref)
}

// UnconfirmExternal reverses the external confirmation marker, making a
// confirmed reservation releasable again.
func (a *Actioner) UnconfirmExternal(ctx context.Context, id ReservationID) (*Reservation, error) {
	return a.setExternalRef(ctx, id, "")
}

func (a *Actioner) setExternalRef(ctx context.Context, id ReservationID, ref string) (*Reservation, error) {
	if id == "" {
		return nil, &ValidationError{Field: "reservation_id", Message: "required"}
	}

	stale, err := a.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	var updated Reservation
	err = a.Store.WithLots(ctx, []LotID{stale.LotID}, func(tx Store) error {
		r, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != ReservationConfirmed {
			return &ValidationError{
				Field:   "reservation_id",
				Message: fmt.Sprintf("external confirmation applies to confirmed reservations, status is %s", r.Status),
			}
		}
		r.ExternalRef = ref
		if err := tx.SaveReservation(ctx, r); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// =============================================================================
// TEMPORARY EXPIRY SWEEP
// =============================================================================

// SweepExpiredTemporary releases temporary reservations created before the
// cutoff. Expiry of unused provisional claims is policy, not core behavior,
// so this runs only when a scheduler calls it. Best-effort per item.
func (a *Actioner) SweepExpiredTemporary(ctx context.Context, cutoff time.Time) (*BulkCancelResult, error) {
	expired, err := a.Store.TemporaryCreatedBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	result := &BulkCancelResult{}
	for _, r := range expired {
		released, err := a.Cancel(ctx, r.ID)
		if err != nil {
			result.Failures = append(result.Failures, BulkFailure{ID: r.ID, Err: err})
			continue
		}
		result.Released = append(result.Released, *released)
	}
	return result, nil
}

/*
lifecycle.go - Reservation state machine

PURPOSE:
  The four-state reservation lifecycle with asymmetric, one-way transitions:

      temporary ──▶ active ──▶ confirmed
          │           │            │
          └───────────┴────────────┴──▶ released (terminal)

  Every status change in the system goes through Transition. No caller
  sets Reservation.Status directly; that is what keeps the conservation
  invariant checkable at a single point.

TRANSITIONS:
  temporary -> active      promotion of a provisional claim
  temporary -> released    provisional claim abandoned
  active    -> confirmed   hard commitment (may trigger preemption upstream)
  active    -> released    cancellation
  confirmed -> released    only after the external confirmation marker has
                           been reversed (ExternalRef empty)

  released is terminal: no transition out of it ever succeeds.

SEE ALSO:
  - commit.go: The only caller that persists transitioned reservations
  - errors.go: ReservationStateError
*/
package allocation

import "time"

// transitions is the closed transition table. A target list missing a state
// means the transition is invalid.
var transitions = map[ReservationStatus][]ReservationStatus{
	ReservationTemporary: {ReservationActive, ReservationReleased},
	ReservationActive:    {ReservationConfirmed, ReservationReleased},
	ReservationConfirmed: {ReservationReleased},
	ReservationReleased:  {},
}

// CanTransition reports whether from -> to is defined in the transition table.
// It does not check side conditions (external confirmation marker); see
// Transition for the full check.
func CanTransition(from, to ReservationStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition moves the reservation to the target status, stamping the
// relevant timestamp. Returns *ReservationStateError when the transition is
// not permitted.
func Transition(r *Reservation, to ReservationStatus, at time.Time) error {
	if !CanTransition(r.Status, to) {
		return &ReservationStateError{
			ReservationID: r.ID,
			From:          r.Status,
			To:            to,
		}
	}

	// A confirmed reservation acknowledged by the external system must be
	// un-confirmed there before it can be released here.
	if r.Status == ReservationConfirmed && to == ReservationReleased && r.ExternalRef != "" {
		return &ReservationStateError{
			ReservationID: r.ID,
			From:          r.Status,
			To:            to,
			Message:       "external confirmation must be reversed first",
		}
	}

	r.Status = to
	switch to {
	case ReservationConfirmed:
		t := at
		r.ConfirmedAt = &t
	case ReservationReleased:
		t := at
		r.ReleasedAt = &t
	}
	return nil
}

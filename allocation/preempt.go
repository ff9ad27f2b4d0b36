/*
preempt.go - Soft reservation preemption

PURPOSE:
  When hard (confirmed-intent) demand needs capacity on a lot that soft
  reservations occupy, the lowest-value soft claims give way. Candidates
  are every preemptible reservation against the lot, excluding the
  reservation being confirmed, ordered by:

    1. priority class ascending (forecast-linked gives way before spot,
       spot before order, order before kanban)
    2. creation time ascending (older claims give way first)

  Reservations are released one at a time until the shortfall is covered
  or none remain. Each release cascades the status rederivation of the
  demand line and group it was serving, inside the same transaction as
  the triggering operation.

  Preemption never releases more than needed: once the freed total
  covers the shortfall, remaining soft reservations are left alone.

SEE ALSO:
  - commit.go: Triggers preemption when creating hard reservations
  - confirm.go: Triggers preemption when confirming under scarcity
*/
package allocation

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// preempt releases soft reservations against the lot until the shortfall is
// covered. exclude names the reservation being confirmed, which must never
// preempt itself. Returns the freed quantity, which may fall short; the
// caller decides whether that is fatal. Caller holds the lot lock.
func (a *Actioner) preempt(
	ctx context.Context,
	tx Store,
	lot Lot,
	shortfall decimal.Decimal,
	exclude ReservationID,
	at time.Time,
) (decimal.Decimal, error) {
	reservations, err := tx.ReservationsByLot(ctx, lot.ID)
	if err != nil {
		return decimal.Zero, err
	}

	var victims []Reservation
	for _, r := range reservations {
		if r.ID == exclude || !r.Preemptible() {
			continue
		}
		victims = append(victims, r)
	}

	sort.Slice(victims, func(i, j int) bool {
		if victims[i].Priority != victims[j].Priority {
			return victims[i].Priority < victims[j].Priority
		}
		return victims[i].CreatedAt.Before(victims[j].CreatedAt)
	})

	freed := decimal.Zero
	for _, victim := range victims {
		if freed.GreaterThanOrEqual(shortfall) {
			break
		}

		if err := Transition(&victim, ReservationReleased, at); err != nil {
			return freed, err
		}
		if err := tx.SaveReservation(ctx, victim); err != nil {
			return freed, err
		}
		freed = freed.Add(victim.Qty)

		// The preempted source loses its allocation; its line and group
		// statuses cascade in the same transaction.
		line, err := a.rederiveLine(ctx, tx, victim.LineID, at)
		if err != nil {
			return freed, err
		}
		if _, err := a.rederiveGroup(ctx, tx, line.GroupID, at); err != nil {
			return freed, err
		}
	}

	return freed, nil
}

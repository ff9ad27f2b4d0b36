/*
ranker.go - FEFO candidate ranking

PURPOSE:
  Given a product/warehouse demand, produce the ordered, filtered sequence
  of allocatable lots the allocator draws from. Ordering is FEFO:

    1. expiry date ascending, nil (non-perishable) last
    2. received date ascending
    3. lot id ascending

  The final tie-break on lot id makes ranking fully deterministic, which
  is what makes previews reproducible: two previews over unchanged state
  rank identically.

AVAILABILITY:
  available = CurrentQty - LockedQty - sum(active+confirmed reservations)

  Lots with available <= 0, non-active status, or uncleared inspection are
  filtered out unless the filter flags say otherwise.

SIDE EFFECTS:
  None. The ranker is read-only and safe to call repeatedly within one
  preview.

SEE ALSO:
  - allocator.go: Consumes the ranked candidate list
  - preview.go: Seeds its shared availability tracker from ranker output
*/
package allocation

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FILTER
// =============================================================================

// CandidateFilter controls which lots are eligible. The zero value is the
// strict default: active lots only, cleared inspection, not expired as of AsOf.
type CandidateFilter struct {
	// AsOf is the reference date for expiry checks. Zero means time.Now().
	AsOf time.Time

	// IncludeExpired keeps lots whose expiry date is before AsOf.
	IncludeExpired bool

	// IncludeUninspected keeps lots with pending or failed inspection.
	IncludeUninspected bool
}

func (f CandidateFilter) asOf() time.Time {
	if f.AsOf.IsZero() {
		return time.Now()
	}
	return f.AsOf
}

// =============================================================================
// RANKER
// =============================================================================

// Ranker produces ordered candidate lists from the store.
type Ranker struct {
	Lots         LotStore
	Reservations ReservationStore
}

// Candidates returns allocatable lots for a product in FEFO order with their
// available quantities. warehouseID narrows to one warehouse when non-nil.
func (rk *Ranker) Candidates(
	ctx context.Context,
	productID ProductID,
	warehouseID *WarehouseID,
	filter CandidateFilter,
) ([]Candidate, error) {
	if productID == "" {
		return nil, &ValidationError{Field: "product_id", Message: "required"}
	}

	lots, err := rk.Lots.LotsByProduct(ctx, productID, warehouseID)
	if err != nil {
		return nil, err
	}

	ref := filter.asOf()
	var candidates []Candidate
	for _, lot := range lots {
		if lot.Status != LotActive {
			continue
		}
		if !filter.IncludeUninspected && !lot.InspectionCleared() {
			continue
		}
		if !filter.IncludeExpired && lot.ExpiredAsOf(ref) {
			continue
		}

		available, err := rk.availableFor(ctx, lot)
		if err != nil {
			return nil, err
		}
		if !available.IsPositive() {
			continue
		}

		candidates = append(candidates, Candidate{Lot: lot, Available: available})
	}

	SortFEFO(candidates)
	return candidates, nil
}

func (rk *Ranker) availableFor(ctx context.Context, lot Lot) (decimal.Decimal, error) {
	reserved, err := ReservedQty(ctx, rk.Reservations, lot.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return lot.Unlocked().Sub(reserved), nil
}

// ReservedQty sums reservation quantities holding stock (active + confirmed)
// against a lot.
func ReservedQty(ctx context.Context, store ReservationStore, lotID LotID) (decimal.Decimal, error) {
	reservations, err := store.ReservationsByLot(ctx, lotID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range reservations {
		if r.Holds() {
			total = total.Add(r.Qty)
		}
	}
	return total, nil
}

// SortFEFO orders candidates in place: expiry ascending with nil last, then
// received date ascending, then lot id ascending.
func SortFEFO(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].Lot, candidates[j].Lot
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt == nil:
			// fall through to received date
		case a.ExpiresAt == nil:
			return false
		case b.ExpiresAt == nil:
			return true
		case !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID < b.ID
	})
}

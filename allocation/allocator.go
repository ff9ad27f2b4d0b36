/*
allocator.go - Single-Lot-Fit / FEFO allocation

PURPOSE:
  Pure allocation arithmetic: given a required quantity and a ranked
  candidate list, decide which lots cover it. No I/O, no clock reads,
  no mutation of anything outside the returned result.

ALGORITHM:
  1. effective_available[lot] = candidate.Available - tempConsumed[lot];
     drop non-positive entries.
  2. SINGLE LOT FIT: if any one candidate's effective availability covers
     the whole requirement, take the earliest-expiring such candidate and
     allocate everything from it. One lot per shipment means less picking
     and paperwork.
  3. FEFO FALLBACK: otherwise walk candidates in ranked order, draining
     min(effective_available, remaining) from each until covered or
     exhausted.
  4. shortage = required - allocated (always >= 0).

NUMERIC SEMANTICS:
  Quantities are exact decimals. No rounding happens here; packaging-unit
  conversion is a demand-line concern upstream.

DECISIONS:
  Every lot touched (or skipped, or missing) yields a Decision the trace
  recorder can persist verbatim. The allocator itself never writes traces.

SEE ALSO:
  - ranker.go: Produces the candidate list
  - trace.go: Persists Decisions
*/
package allocation

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INPUT / OUTPUT
// =============================================================================

// AllocInput is everything the allocator needs. TempConsumed carries
// quantities already provisionally spoken for by earlier lines in the same
// batch; it may be nil.
type AllocInput struct {
	Required     decimal.Decimal
	Candidates   []Candidate
	TempConsumed map[LotID]decimal.Decimal

	// AsOf is the reference date used for decision scoring only.
	AsOf time.Time
}

// Decision is one allocator verdict about one candidate (or about the
// requirement as a whole, when LotID is nil).
type Decision struct {
	LotID    *LotID
	Qty      decimal.Decimal
	Score    float64
	Decision TraceDecision
	Reason   string
}

// AllocResult is the allocation plan for one requirement.
type AllocResult struct {
	Assignments []LotAssignment
	Allocated   decimal.Decimal
	Shortage    decimal.Decimal
	Decisions   []Decision
}

// =============================================================================
// ALLOCATOR
// =============================================================================

// noExpiryScore is the score for lots without an expiry date; they rank
// after every dated lot.
const noExpiryScore = 1e9

// Allocate computes a lot assignment plan for one required quantity.
// required = 0 yields an empty plan and zero shortage, not an error.
func Allocate(in AllocInput) (AllocResult, error) {
	if in.Required.IsNegative() {
		return AllocResult{}, &ValidationError{Field: "required", Message: "must be >= 0"}
	}

	result := AllocResult{
		Allocated: decimal.Zero,
		Shortage:  decimal.Zero,
	}
	if in.Required.IsZero() {
		return result, nil
	}

	// Step 1: effective availability after in-batch consumption.
	type entry struct {
		cand      Candidate
		effective decimal.Decimal
	}
	var entries []entry
	for _, c := range in.Candidates {
		eff := c.Available
		if in.TempConsumed != nil {
			eff = eff.Sub(in.TempConsumed[c.Lot.ID])
		}
		if !eff.IsPositive() {
			continue
		}
		entries = append(entries, entry{cand: c, effective: eff})
	}

	if len(entries) == 0 {
		result.Shortage = in.Required
		result.Decisions = append(result.Decisions, Decision{
			Decision: TraceRejected,
			Qty:      decimal.Zero,
			Reason:   "no allocatable candidates",
		})
		return result, nil
	}

	// Step 2: single lot fit. Entries keep FEFO order, so the first match
	// is the earliest-expiring lot that covers the whole requirement.
	for _, e := range entries {
		if e.effective.GreaterThanOrEqual(in.Required) {
			id := e.cand.Lot.ID
			result.Assignments = append(result.Assignments, LotAssignment{LotID: id, Qty: in.Required})
			result.Allocated = in.Required
			result.Decisions = append(result.Decisions, Decision{
				LotID:    &id,
				Qty:      in.Required,
				Score:    fefoScore(e.cand.Lot, in.AsOf),
				Decision: TraceAdopted,
				Reason:   "single lot fit",
			})
			return result, nil
		}
	}

	// Step 3: FEFO fallback.
	remaining := in.Required
	for _, e := range entries {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(e.effective, remaining)
		id := e.cand.Lot.ID
		result.Assignments = append(result.Assignments, LotAssignment{LotID: id, Qty: take})
		result.Allocated = result.Allocated.Add(take)
		remaining = remaining.Sub(take)

		decision := TracePartial
		reason := "fefo split: lot drained"
		if !remaining.IsPositive() {
			decision = TraceAdopted
			reason = "fefo split: requirement covered"
		}
		result.Decisions = append(result.Decisions, Decision{
			LotID:    &id,
			Qty:      take,
			Score:    fefoScore(e.cand.Lot, in.AsOf),
			Decision: decision,
			Reason:   reason,
		})
	}

	result.Shortage = in.Required.Sub(result.Allocated)
	if result.Shortage.IsPositive() {
		result.Decisions = append(result.Decisions, Decision{
			Decision: TraceRejected,
			Qty:      decimal.Zero,
			Reason:   "insufficient stock: candidates exhausted",
		})
	}
	return result, nil
}

// fefoScore is the decision score recorded in traces: days until expiry at
// the reference date, lower is better. Non-perishable lots score last.
func fefoScore(lot Lot, asOf time.Time) float64 {
	if lot.ExpiresAt == nil {
		return noExpiryScore
	}
	ref := asOf
	if ref.IsZero() {
		ref = time.Now()
	}
	return lot.ExpiresAt.Sub(ref).Hours() / 24
}

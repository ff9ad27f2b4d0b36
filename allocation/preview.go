/*
preview.go - Preview engine

PURPOSE:
  Answers "what would an allocation of this demand group look like right
  now?" without mutating anything. Orchestrates the candidate ranker and
  the allocator across all lines of a group, sharing one availability
  tracker so a lot consumed by an earlier line reduces what a later line
  can draw within the same preview.

ORDERING:
  Lines are processed in ascending line-id order. Together with the
  ranker's deterministic tie-breaks this makes previews idempotent:
  re-running preview on unchanged state yields the same plan and the
  same warnings.

WARNINGS, NOT ERRORS:
  Stock shortage is reported as a warning plus a shortage value, never
  as an error. Preview's job is to report the consequence of scarcity,
  not prevent it.

TRACKER:
  The tempConsumed map is an explicit context object, one instance per
  preview call, discarded after. It is never shared across calls.

SEE ALSO:
  - commit.go: Turns an accepted preview into reservations
  - ranker.go, allocator.go: The leaves being orchestrated
*/
package allocation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Previewer computes allocation previews for demand groups.
type Previewer struct {
	Store  Store
	Ranker *Ranker
}

// NewPreviewer wires a previewer over a store.
func NewPreviewer(store Store) *Previewer {
	return &Previewer{
		Store:  store,
		Ranker: &Ranker{Lots: store, Reservations: store},
	}
}

// Preview builds the allocation plan for every open line of the group.
// Read-only: no reservation, lot, line, or trace row is written.
func (p *Previewer) Preview(ctx context.Context, groupID DemandGroupID, filter CandidateFilter) (*Preview, error) {
	if groupID == "" {
		return nil, &ValidationError{Field: "group_id", Message: "required"}
	}
	if _, err := p.Store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}

	lines, err := p.Store.LinesByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })

	takenAt := time.Now()
	if filter.AsOf.IsZero() {
		filter.AsOf = takenAt
	}

	preview := &Preview{GroupID: groupID, TakenAt: takenAt}
	// One tracker per preview call, shared across lines.
	tempConsumed := make(map[LotID]decimal.Decimal)

	for _, line := range lines {
		if line.Status == LineCancelled || line.Status == LineShipped || line.Status == LineCompleted {
			continue
		}

		plan, err := p.planLine(ctx, line, tempConsumed, filter)
		if err != nil {
			return nil, err
		}
		preview.Lines = append(preview.Lines, plan)
		preview.Warnings = append(preview.Warnings, plan.Warnings...)
	}

	return preview, nil
}

// PlanLine builds a plan for a single line against a caller-owned tracker.
// The manual allocation path and tests use it directly.
func (p *Previewer) planLine(
	ctx context.Context,
	line DemandLine,
	tempConsumed map[LotID]decimal.Decimal,
	filter CandidateFilter,
) (LinePlan, error) {
	plan := LinePlan{
		LineID:       line.ID,
		ProductID:    line.ProductID,
		RequiredQty:  line.RequiredQty,
		AlreadyAlloc: line.AllocatedQty,
		Allocated:    decimal.Zero,
		Shortage:     decimal.Zero,
	}

	remaining := line.RequiredQty.Sub(line.AllocatedQty)
	if !remaining.IsPositive() {
		return plan, nil
	}

	var warehouse *WarehouseID
	if line.WarehouseID != "" {
		w := line.WarehouseID
		warehouse = &w
	} else {
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("line %s: no warehouse routing, searching all warehouses", line.ID))
	}

	candidates, err := p.Ranker.Candidates(ctx, line.ProductID, warehouse, filter)
	if err != nil {
		return plan, err
	}

	result, err := Allocate(AllocInput{
		Required:     remaining,
		Candidates:   candidates,
		TempConsumed: tempConsumed,
		AsOf:         filter.asOf(),
	})
	if err != nil {
		return plan, err
	}

	plan.Assignments = result.Assignments
	plan.Allocated = result.Allocated
	plan.Shortage = result.Shortage
	plan.Decisions = result.Decisions

	for _, a := range result.Assignments {
		tempConsumed[a.LotID] = tempConsumed[a.LotID].Add(a.Qty)
	}

	if result.Shortage.IsPositive() {
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("line %s: insufficient stock, short %s", line.ID, result.Shortage.String()))
	}

	return plan, nil
}

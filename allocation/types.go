/*
Package allocation provides the lot allocation and reservation engine.

PURPOSE:
  This package decides which physical inventory lots satisfy a unit of
  demand (an order line, forecast line, or manual request), in what order,
  and under what commitment strength. It owns the persistent reservation
  ledger and keeps it consistent under concurrent access.

KEY CONCEPTS IN THIS FILE (types.go):
  - Lot: a physically distinct receipted quantity of one product in one
    warehouse, with expiry, lock and inspection state
  - Reservation: a claim against a Lot on behalf of a demand source
  - DemandLine / DemandGroup: the required quantities being satisfied
  - Candidate: a lot plus its currently available quantity, as ranked
  - Preview / LinePlan: the ephemeral allocation plan shown to callers
  - TraceRecord: an immutable audit row per allocation decision

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Type Safety: Strong typing for IDs prevents mixing lot/line/group IDs
  3. Immutability: Reservations are never deleted, only released;
     trace records are never mutated
  4. Derivation: Line and group statuses are always re-derived from
     reservations, never set ad hoc

SEE ALSO:
  - lifecycle.go: Reservation state machine
  - ranker.go: FEFO candidate ranking
  - allocator.go: Single-Lot-Fit / FEFO allocation
  - commit.go: The only component that mutates persistent state
*/
package allocation

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LotID string
type ProductID string
type WarehouseID string
type ReservationID string
type DemandLineID string
type DemandGroupID string
type TraceID string

// =============================================================================
// LOT - Physical receipted inventory
// =============================================================================

type LotStatus string

const (
	LotActive     LotStatus = "active"
	LotDepleted   LotStatus = "depleted"
	LotExpired    LotStatus = "expired"
	LotQuarantine LotStatus = "quarantine"
	LotLocked     LotStatus = "locked"
)

type InspectionStatus string

const (
	InspectionNotRequired InspectionStatus = "not_required"
	InspectionPending     InspectionStatus = "pending"
	InspectionPassed      InspectionStatus = "passed"
	InspectionFailed      InspectionStatus = "failed"
)

// Lot is a physically distinct receipted quantity of one product in one
// warehouse. Created on receipt; mutated by reservation confirmation/release
// and administrative adjustments; never deleted while reservations reference it.
//
// INVARIANTS:
//   - 0 <= LockedQty <= CurrentQty
//   - sum(reserved qty over active+confirmed reservations) <= CurrentQty - LockedQty
type Lot struct {
	ID          LotID
	ProductID   ProductID
	WarehouseID WarehouseID

	ReceivedAt time.Time
	// ExpiresAt is nil for non-perishable lots; nil sorts last in FEFO.
	ExpiresAt *time.Time

	ReceivedQty decimal.Decimal
	CurrentQty  decimal.Decimal
	// LockedQty is administratively withheld stock (QA hold, samples).
	LockedQty decimal.Decimal

	Status     LotStatus
	Inspection InspectionStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Unlocked returns the physically present quantity not administratively held.
// Reservation accounting is layered on top of this by the ranker.
func (l Lot) Unlocked() decimal.Decimal {
	return l.CurrentQty.Sub(l.LockedQty)
}

// InspectionCleared reports whether the lot passed (or never needed) inspection.
func (l Lot) InspectionCleared() bool {
	return l.Inspection == InspectionNotRequired || l.Inspection == InspectionPassed
}

// ExpiredAsOf reports whether the lot's expiry date is before the reference date.
func (l Lot) ExpiredAsOf(ref time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(ref)
}

// Allocatable reports whether new reservations may be created against the lot:
// active status and cleared inspection. Expiry is checked against a reference
// date by the caller, since previews must be reproducible for a fixed date.
func (l Lot) Allocatable() bool {
	return l.Status == LotActive && l.InspectionCleared()
}

// =============================================================================
// RESERVATION - A claim against a lot
// =============================================================================

type ReservationStatus string

const (
	ReservationTemporary ReservationStatus = "temporary"
	ReservationActive    ReservationStatus = "active"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationReleased  ReservationStatus = "released"
)

// Strength is the commitment strength of a reservation. Soft reservations
// (forecast-driven) may be preempted by hard demand competing for the same lot.
type Strength string

const (
	StrengthSoft Strength = "soft"
	StrengthHard Strength = "hard"
)

type SourceType string

const (
	SourceForecast SourceType = "forecast"
	SourceOrder    SourceType = "order"
	SourceManual   SourceType = "manual"
)

// Reservation is a claim against a Lot on behalf of a demand line.
// Reservations are never physically deleted; released rows are retained
// for audit. Status changes only through Transition (lifecycle.go).
type Reservation struct {
	ID     ReservationID
	LotID  LotID
	Source SourceType
	// LineID is the demand line this reservation serves.
	LineID DemandLineID

	Qty      decimal.Decimal
	Status   ReservationStatus
	Strength Strength
	// Priority is copied from the demand line at creation time and drives
	// preemption ordering.
	Priority PriorityClass

	CreatedAt   time.Time
	ConfirmedAt *time.Time
	ReleasedAt  *time.Time

	// ExternalRef marks that an external system (ERP) has acknowledged the
	// confirmation. While set, the reservation cannot be released.
	ExternalRef string
}

// Holds reports whether the reservation counts against lot availability.
// Only active and confirmed reservations hold stock.
func (r Reservation) Holds() bool {
	return r.Status == ReservationActive || r.Status == ReservationConfirmed
}

// Preemptible reports whether the reservation may be released to make room
// for a competing hard demand.
func (r Reservation) Preemptible() bool {
	return r.Holds() && r.Strength == StrengthSoft
}

// =============================================================================
// PRIORITY - Ordered demand classes
// =============================================================================

// PriorityClass orders demand sources for preemption. Lower values are
// preempted first.
type PriorityClass int

const (
	PriorityForecastLinked PriorityClass = iota
	PrioritySpot
	PriorityOrder
	PriorityKanban
)

func (p PriorityClass) String() string {
	switch p {
	case PriorityForecastLinked:
		return "forecast-linked"
	case PrioritySpot:
		return "spot"
	case PriorityOrder:
		return "order"
	case PriorityKanban:
		return "kanban"
	default:
		return "unknown"
	}
}

// ParsePriorityClass converts the wire name of a priority class.
func ParsePriorityClass(s string) (PriorityClass, error) {
	switch s {
	case "forecast-linked":
		return PriorityForecastLinked, nil
	case "spot":
		return PrioritySpot, nil
	case "order":
		return PriorityOrder, nil
	case "kanban":
		return PriorityKanban, nil
	default:
		return 0, &ValidationError{Field: "priority", Message: "unknown priority class " + s}
	}
}

// =============================================================================
// DEMAND LINE / GROUP - What is being satisfied
// =============================================================================

type LineStatus string

const (
	LinePending   LineStatus = "pending"
	LineAllocated LineStatus = "allocated"
	LineShipped   LineStatus = "shipped"
	LineCompleted LineStatus = "completed"
	LineCancelled LineStatus = "cancelled"
)

type GroupStatus string

const (
	GroupPending       GroupStatus = "pending"
	GroupPartAllocated GroupStatus = "part_allocated"
	GroupAllocated     GroupStatus = "allocated"
	GroupShipped       GroupStatus = "shipped"
	GroupCompleted     GroupStatus = "completed"
	GroupCancelled     GroupStatus = "cancelled"
)

// DemandLine is a single required quantity, e.g. one order line.
// AllocatedQty is a denormalized cache of the sum of non-released
// reservations against the line; it is re-derived on every mutation.
type DemandLine struct {
	ID      DemandLineID
	GroupID DemandGroupID

	ProductID   ProductID
	WarehouseID WarehouseID

	RequiredQty  decimal.Decimal
	AllocatedQty decimal.Decimal

	Source   SourceType
	Priority PriorityClass
	Status   LineStatus

	// Version is an optimistic counter for call sites that read line status
	// outside the engine's locking path.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Covered reports whether the line's requirement is fully allocated.
func (dl DemandLine) Covered() bool {
	return dl.AllocatedQty.GreaterThanOrEqual(dl.RequiredQty)
}

// DemandGroup is a set of demand lines allocated together, e.g. one order.
type DemandGroup struct {
	ID      DemandGroupID
	Status  GroupStatus
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// CANDIDATE - Ranked allocatable lot
// =============================================================================

// Candidate is a lot with its available quantity at ranking time:
// CurrentQty - LockedQty - sum(active+confirmed reservations).
type Candidate struct {
	Lot       Lot
	Available decimal.Decimal
}

// =============================================================================
// PLAN / PREVIEW - Ephemeral allocation results
// =============================================================================

// LotAssignment is one (lot, quantity) decision within a plan.
type LotAssignment struct {
	LotID LotID
	Qty   decimal.Decimal
}

// LinePlan is the allocation plan for a single demand line. Decisions carry
// the allocator's verdicts so commit can persist them as trace records;
// previews themselves write nothing.
type LinePlan struct {
	LineID       DemandLineID
	ProductID    ProductID
	RequiredQty  decimal.Decimal
	AlreadyAlloc decimal.Decimal
	Assignments  []LotAssignment
	Allocated    decimal.Decimal
	Shortage     decimal.Decimal
	Warnings     []string
	Decisions    []Decision
}

// Preview aggregates line plans for a demand group. It exists only for the
// duration of a preview/commit round trip and is never persisted.
type Preview struct {
	GroupID  DemandGroupID
	Lines    []LinePlan
	Warnings []string
	TakenAt  time.Time
}

// =============================================================================
// TRACE - Immutable allocation decision audit
// =============================================================================

type TraceDecision string

const (
	TraceAdopted  TraceDecision = "adopted"
	TraceRejected TraceDecision = "rejected"
	TracePartial  TraceDecision = "partial"
)

// TraceRecord is one append-only audit row per allocator decision.
// LotID is nil when a rejection names no lot (e.g. no candidates at all).
type TraceRecord struct {
	ID       TraceID
	LineID   DemandLineID
	LotID    *LotID
	Score    float64
	Decision TraceDecision
	Reason   string
	Qty      decimal.Decimal
	At       time.Time
}

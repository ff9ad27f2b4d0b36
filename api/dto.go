/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

QUANTITIES:
  All quantities travel as decimal strings ("12.5"), never as floats,
  so nothing is lost between client and engine.

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/warp/lot-engine/allocation"
)

// =============================================================================
// ERROR RESPONSE
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// LOTS / CANDIDATES
// =============================================================================

type LotDTO struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	WarehouseID string `json:"warehouse_id"`
	ReceivedAt  string `json:"received_at"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	ReceivedQty string `json:"received_qty"`
	CurrentQty  string `json:"current_qty"`
	LockedQty   string `json:"locked_qty"`
	Status      string `json:"status"`
	Inspection  string `json:"inspection"`
}

type CandidateDTO struct {
	Lot       LotDTO `json:"lot"`
	Available string `json:"available"`
}

type ReceiveLotRequest struct {
	ID          string `json:"id,omitempty"`
	ProductID   string `json:"product_id"`
	WarehouseID string `json:"warehouse_id"`
	ReceivedQty string `json:"received_qty"`
	LockedQty   string `json:"locked_qty,omitempty"`
	ReceivedAt  string `json:"received_at,omitempty"` // YYYY-MM-DD
	ExpiresAt   string `json:"expires_at,omitempty"`  // YYYY-MM-DD
	Inspection  string `json:"inspection,omitempty"`
}

type AdjustLockedRequest struct {
	LockedQty string `json:"locked_qty"`
}

type SetLotStatusRequest struct {
	Status string `json:"status"`
}

type SetInspectionRequest struct {
	Inspection string `json:"inspection"`
}

// =============================================================================
// DEMAND GROUPS / LINES
// =============================================================================

type CreateGroupRequest struct {
	ID    string              `json:"id,omitempty"`
	Lines []CreateLineRequest `json:"lines,omitempty"`
}

type CreateLineRequest struct {
	ID          string `json:"id,omitempty"`
	ProductID   string `json:"product_id"`
	WarehouseID string `json:"warehouse_id,omitempty"`
	RequiredQty string `json:"required_qty"`
	Source      string `json:"source,omitempty"`   // forecast | order | manual
	Priority    string `json:"priority,omitempty"` // forecast-linked | spot | order | kanban
}

type GroupDTO struct {
	ID      string    `json:"id"`
	Status  string    `json:"status"`
	Version int64     `json:"version"`
	Lines   []LineDTO `json:"lines,omitempty"`
}

type LineDTO struct {
	ID           string `json:"id"`
	GroupID      string `json:"group_id"`
	ProductID    string `json:"product_id"`
	WarehouseID  string `json:"warehouse_id,omitempty"`
	RequiredQty  string `json:"required_qty"`
	AllocatedQty string `json:"allocated_qty"`
	Source       string `json:"source"`
	Priority     string `json:"priority"`
	Status       string `json:"status"`
	Version      int64  `json:"version"`
}

// =============================================================================
// PREVIEW / COMMIT
// =============================================================================

type AssignmentDTO struct {
	LotID string `json:"lot_id"`
	Qty   string `json:"qty"`
}

type LinePlanDTO struct {
	LineID           string          `json:"line_id"`
	RequiredQty      string          `json:"required_qty"`
	AlreadyAllocated string          `json:"already_allocated"`
	Allocated        string          `json:"allocated"`
	Shortage         string          `json:"shortage"`
	Assignments      []AssignmentDTO `json:"assignments"`
	Warnings         []string        `json:"warnings,omitempty"`
}

type PreviewDTO struct {
	GroupID  string        `json:"group_id"`
	TakenAt  string        `json:"taken_at"`
	Lines    []LinePlanDTO `json:"lines"`
	Warnings []string      `json:"warnings,omitempty"`
}

type CommitResultDTO struct {
	Reservations []ReservationDTO `json:"reservations"`
	Lines        []LineDTO        `json:"lines"`
	Group        GroupDTO         `json:"group"`
}

// =============================================================================
// RESERVATIONS
// =============================================================================

type ReservationDTO struct {
	ID          string `json:"id"`
	LotID       string `json:"lot_id"`
	LineID      string `json:"line_id"`
	Source      string `json:"source"`
	Qty         string `json:"qty"`
	Status      string `json:"status"`
	Strength    string `json:"strength"`
	Priority    string `json:"priority"`
	CreatedAt   string `json:"created_at"`
	ConfirmedAt string `json:"confirmed_at,omitempty"`
	ReleasedAt  string `json:"released_at,omitempty"`
	ExternalRef string `json:"external_ref,omitempty"`
}

type AllocateManualRequest struct {
	LotID string `json:"lot_id"`
	Qty   string `json:"qty"`
}

type ConfirmRequest struct {
	// Qty confirms partially when set; empty confirms the full reservation.
	Qty string `json:"qty,omitempty"`
}

type ConfirmResultDTO struct {
	Confirmed ReservationDTO  `json:"confirmed"`
	Residual  *ReservationDTO `json:"residual,omitempty"`
}

type CancelBulkRequest struct {
	ReservationIDs []string `json:"reservation_ids"`
}

type BulkFailureDTO struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type BulkCancelDTO struct {
	Released []ReservationDTO `json:"released"`
	Failures []BulkFailureDTO `json:"failures,omitempty"`
}

// =============================================================================
// TRACE
// =============================================================================

type TraceDTO struct {
	ID       string  `json:"id"`
	LineID   string  `json:"line_id"`
	LotID    string  `json:"lot_id,omitempty"`
	Score    float64 `json:"score"`
	Decision string  `json:"decision"`
	Reason   string  `json:"reason,omitempty"`
	Qty      string  `json:"qty"`
	At       string  `json:"at"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

const timeLayout = "2006-01-02T15:04:05Z07:00"

func toLotDTO(lot allocation.Lot) LotDTO {
	dto := LotDTO{
		ID:          string(lot.ID),
		ProductID:   string(lot.ProductID),
		WarehouseID: string(lot.WarehouseID),
		ReceivedAt:  lot.ReceivedAt.Format("2006-01-02"),
		ReceivedQty: lot.ReceivedQty.String(),
		CurrentQty:  lot.CurrentQty.String(),
		LockedQty:   lot.LockedQty.String(),
		Status:      string(lot.Status),
		Inspection:  string(lot.Inspection),
	}
	if lot.ExpiresAt != nil {
		dto.ExpiresAt = lot.ExpiresAt.Format("2006-01-02")
	}
	return dto
}

func toReservationDTO(r allocation.Reservation) ReservationDTO {
	dto := ReservationDTO{
		ID:          string(r.ID),
		LotID:       string(r.LotID),
		LineID:      string(r.LineID),
		Source:      string(r.Source),
		Qty:         r.Qty.String(),
		Status:      string(r.Status),
		Strength:    string(r.Strength),
		Priority:    r.Priority.String(),
		CreatedAt:   r.CreatedAt.Format(timeLayout),
		ExternalRef: r.ExternalRef,
	}
	if r.ConfirmedAt != nil {
		dto.ConfirmedAt = r.ConfirmedAt.Format(timeLayout)
	}
	if r.ReleasedAt != nil {
		dto.ReleasedAt = r.ReleasedAt.Format(timeLayout)
	}
	return dto
}

func toLineDTO(line allocation.DemandLine) LineDTO {
	return LineDTO{
		ID:           string(line.ID),
		GroupID:      string(line.GroupID),
		ProductID:    string(line.ProductID),
		WarehouseID:  string(line.WarehouseID),
		RequiredQty:  line.RequiredQty.String(),
		AllocatedQty: line.AllocatedQty.String(),
		Source:       string(line.Source),
		Priority:     line.Priority.String(),
		Status:       string(line.Status),
		Version:      line.Version,
	}
}

func toGroupDTO(group allocation.DemandGroup, lines []allocation.DemandLine) GroupDTO {
	dto := GroupDTO{
		ID:      string(group.ID),
		Status:  string(group.Status),
		Version: group.Version,
	}
	for _, line := range lines {
		dto.Lines = append(dto.Lines, toLineDTO(line))
	}
	return dto
}

func toPreviewDTO(p *allocation.Preview) PreviewDTO {
	dto := PreviewDTO{
		GroupID:  string(p.GroupID),
		TakenAt:  p.TakenAt.Format(timeLayout),
		Warnings: p.Warnings,
	}
	for _, plan := range p.Lines {
		planDTO := LinePlanDTO{
			LineID:           string(plan.LineID),
			RequiredQty:      plan.RequiredQty.String(),
			AlreadyAllocated: plan.AlreadyAlloc.String(),
			Allocated:        plan.Allocated.String(),
			Shortage:         plan.Shortage.String(),
			Warnings:         plan.Warnings,
		}
		for _, a := range plan.Assignments {
			planDTO.Assignments = append(planDTO.Assignments, AssignmentDTO{
				LotID: string(a.LotID),
				Qty:   a.Qty.String(),
			})
		}
		dto.Lines = append(dto.Lines, planDTO)
	}
	return dto
}

func toTraceDTO(rec allocation.TraceRecord) TraceDTO {
	dto := TraceDTO{
		ID:       string(rec.ID),
		LineID:   string(rec.LineID),
		Score:    rec.Score,
		Decision: string(rec.Decision),
		Reason:   rec.Reason,
		Qty:      rec.Qty.String(),
		At:       rec.At.Format(timeLayout),
	}
	if rec.LotID != nil {
		dto.LotID = string(*rec.LotID)
	}
	return dto
}

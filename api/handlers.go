/*
handlers.go - HTTP API handlers for the lot allocation engine

PURPOSE:
  Exposes the allocation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Lots:
    POST   /api/lots                        Receive a lot
    GET    /api/lots/{id}                   Get lot details
    POST   /api/lots/{id}/locked            Adjust locked quantity
    POST   /api/lots/{id}/status            Set lot status
    POST   /api/lots/{id}/inspection        Record inspection result
    GET    /api/products/{id}/candidates    FEFO-ranked candidates

  Demand:
    POST   /api/groups                      Create group (with lines)
    GET    /api/groups/{id}                 Get group with lines
    GET    /api/groups/{id}/preview         Preview allocation plan
    POST   /api/groups/{id}/commit          Preview and commit atomically
    POST   /api/lines/{id}/allocate         Manual allocation to a named lot
    GET    /api/lines/{id}/trace            Allocation decision audit

  Reservations:
    POST   /api/reservations/{id}/confirm   Confirm (optional partial qty)
    POST   /api/reservations/{id}/promote   Promote temporary to active
    POST   /api/reservations/{id}/cancel    Release
    POST   /api/reservations/cancel         Bulk release, best effort
    POST   /api/reservations/{id}/external  Mark external confirmation
    DELETE /api/reservations/{id}/external  Reverse external confirmation

  Admin:
    POST   /api/admin/sweep                 Release stale temporary reservations

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call the engine
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Entity not found
  - 409: Reservation state or commit conflicts
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/lot-engine/allocation"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *allocation.Engine
}

// NewHandler creates a new handler over an engine.
func NewHandler(engine *allocation.Engine) *Handler {
	return &Handler{Engine: engine}
}

// =============================================================================
// LOT HANDLERS
// =============================================================================

// ReceiveLot registers a newly receipted lot.
// POST /api/lots
func (h *Handler) ReceiveLot(w http.ResponseWriter, r *http.Request) {
	var req ReceiveLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	receivedQty, err := decimal.NewFromString(req.ReceivedQty)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid received_qty", err)
		return
	}
	lockedQty := decimal.Zero
	if req.LockedQty != "" {
		lockedQty, err = decimal.NewFromString(req.LockedQty)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid locked_qty", err)
			return
		}
	}

	lot := allocation.Lot{
		ID:          allocation.LotID(req.ID),
		ProductID:   allocation.ProductID(req.ProductID),
		WarehouseID: allocation.WarehouseID(req.WarehouseID),
		ReceivedQty: receivedQty,
		LockedQty:   lockedQty,
		Inspection:  allocation.InspectionStatus(req.Inspection),
	}
	if req.ReceivedAt != "" {
		at, err := time.Parse("2006-01-02", req.ReceivedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid received_at, expected YYYY-MM-DD", err)
			return
		}
		lot.ReceivedAt = at
	}
	if req.ExpiresAt != "" {
		exp, err := time.Parse("2006-01-02", req.ExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid expires_at, expected YYYY-MM-DD", err)
			return
		}
		lot.ExpiresAt = &exp
	}

	created, err := h.Engine.ReceiveLot(r.Context(), lot)
	if err != nil {
		writeEngineError(w, "Failed to receive lot", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLotDTO(created))
}

// GetLot returns a single lot.
// GET /api/lots/{id}
func (h *Handler) GetLot(w http.ResponseWriter, r *http.Request) {
	lotID := allocation.LotID(chi.URLParam(r, "id"))
	lot, err := h.Engine.GetLot(r.Context(), lotID)
	if err != nil {
		writeEngineError(w, "Failed to get lot", err)
		return
	}
	writeJSON(w, http.StatusOK, toLotDTO(lot))
}

// AdjustLocked changes the administratively withheld quantity of a lot.
// POST /api/lots/{id}/locked
func (h *Handler) AdjustLocked(w http.ResponseWriter, r *http.Request) {
	var req AdjustLockedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	locked, err := decimal.NewFromString(req.LockedQty)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid locked_qty", err)
		return
	}

	lot, err := h.Engine.AdjustLockedQty(r.Context(), allocation.LotID(chi.URLParam(r, "id")), locked)
	if err != nil {
		writeEngineError(w, "Failed to adjust locked quantity", err)
		return
	}
	writeJSON(w, http.StatusOK, toLotDTO(lot))
}

// SetLotStatus changes a lot's administrative status.
// POST /api/lots/{id}/status
func (h *Handler) SetLotStatus(w http.ResponseWriter, r *http.Request) {
	var req SetLotStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	lot, err := h.Engine.SetLotStatus(r.Context(), allocation.LotID(chi.URLParam(r, "id")), allocation.LotStatus(req.Status))
	if err != nil {
		writeEngineError(w, "Failed to set lot status", err)
		return
	}
	writeJSON(w, http.StatusOK, toLotDTO(lot))
}

// SetInspection records an inspection result for a lot.
// POST /api/lots/{id}/inspection
func (h *Handler) SetInspection(w http.ResponseWriter, r *http.Request) {
	var req SetInspectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	lot, err := h.Engine.SetInspection(r.Context(), allocation.LotID(chi.URLParam(r, "id")), allocation.InspectionStatus(req.Inspection))
	if err != nil {
		writeEngineError(w, "Failed to set inspection status", err)
		return
	}
	writeJSON(w, http.StatusOK, toLotDTO(lot))
}

// Candidates returns the FEFO-ranked allocatable lots for a product.
// GET /api/products/{id}/candidates?warehouse_id=...&as_of=YYYY-MM-DD
func (h *Handler) Candidates(w http.ResponseWriter, r *http.Request) {
	productID := allocation.ProductID(chi.URLParam(r, "id"))

	var warehouseID *allocation.WarehouseID
	if wh := r.URL.Query().Get("warehouse_id"); wh != "" {
		id := allocation.WarehouseID(wh)
		warehouseID = &id
	}

	filter := allocation.CandidateFilter{}
	if asOf := r.URL.Query().Get("as_of"); asOf != "" {
		at, err := time.Parse("2006-01-02", asOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of, expected YYYY-MM-DD", err)
			return
		}
		filter.AsOf = at
	}

	candidates, err := h.Engine.Candidates(r.Context(), productID, warehouseID, filter)
	if err != nil {
		writeEngineError(w, "Failed to rank candidates", err)
		return
	}

	dtos := make([]CandidateDTO, len(candidates))
	for i, c := range candidates {
		dtos[i] = CandidateDTO{Lot: toLotDTO(c.Lot), Available: c.Available.String()}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// DEMAND HANDLERS
// =============================================================================

// CreateGroup registers a demand group, optionally with lines.
// POST /api/groups
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	group, err := h.Engine.CreateGroup(ctx, allocation.DemandGroupID(req.ID))
	if err != nil {
		writeEngineError(w, "Failed to create group", err)
		return
	}

	lines := make([]allocation.DemandLine, 0, len(req.Lines))
	for _, lr := range req.Lines {
		required, err := decimal.NewFromString(lr.RequiredQty)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid required_qty", err)
			return
		}
		line := allocation.DemandLine{
			ID:          allocation.DemandLineID(lr.ID),
			GroupID:     group.ID,
			ProductID:   allocation.ProductID(lr.ProductID),
			WarehouseID: allocation.WarehouseID(lr.WarehouseID),
			RequiredQty: required,
			Source:      allocation.SourceType(lr.Source),
		}
		if lr.Priority != "" {
			priority, err := allocation.ParsePriorityClass(lr.Priority)
			if err != nil {
				writeEngineError(w, "Invalid priority", err)
				return
			}
			line.Priority = priority
		}
		created, err := h.Engine.AddLine(ctx, line)
		if err != nil {
			writeEngineError(w, "Failed to add line", err)
			return
		}
		lines = append(lines, created)
	}

	writeJSON(w, http.StatusCreated, toGroupDTO(group, lines))
}

// GetGroup returns a demand group with its lines.
// GET /api/groups/{id}
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	groupID := allocation.DemandGroupID(chi.URLParam(r, "id"))
	group, lines, err := h.Engine.GroupWithLines(r.Context(), groupID)
	if err != nil {
		writeEngineError(w, "Failed to get group", err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(group, lines))
}

// PreviewGroup computes the allocation plan for a group without persisting.
// GET /api/groups/{id}/preview
func (h *Handler) PreviewGroup(w http.ResponseWriter, r *http.Request) {
	groupID := allocation.DemandGroupID(chi.URLParam(r, "id"))
	preview, err := h.Engine.Preview(r.Context(), groupID)
	if err != nil {
		writeEngineError(w, "Failed to preview group", err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewDTO(preview))
}

// CommitGroup previews and commits a group in one request. The commit
// re-validates everything under lock, so a plan raced out from under us
// surfaces as a 409.
// POST /api/groups/{id}/commit
func (h *Handler) CommitGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := allocation.DemandGroupID(chi.URLParam(r, "id"))

	preview, err := h.Engine.Preview(ctx, groupID)
	if err != nil {
		writeEngineError(w, "Failed to preview group", err)
		return
	}

	result, err := h.Engine.Commit(ctx, preview)
	if err != nil {
		writeEngineError(w, "Failed to commit group", err)
		return
	}
	writeJSON(w, http.StatusOK, toCommitResultDTO(result))
}

// AllocateManual creates one reservation for an explicit lot assignment.
// POST /api/lines/{id}/allocate
func (h *Handler) AllocateManual(w http.ResponseWriter, r *http.Request) {
	var req AllocateManualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid qty", err)
		return
	}

	lineID := allocation.DemandLineID(chi.URLParam(r, "id"))
	reservation, err := h.Engine.AllocateManual(r.Context(), lineID, allocation.LotID(req.LotID), qty)
	if err != nil {
		writeEngineError(w, "Failed to allocate", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationDTO(*reservation))
}

// TraceForLine returns the allocation decision audit for a line.
// GET /api/lines/{id}/trace
func (h *Handler) TraceForLine(w http.ResponseWriter, r *http.Request) {
	lineID := allocation.DemandLineID(chi.URLParam(r, "id"))
	records, err := h.Engine.TraceForLine(r.Context(), lineID)
	if err != nil {
		writeEngineError(w, "Failed to read trace", err)
		return
	}
	dtos := make([]TraceDTO, len(records))
	for i, rec := range records {
		dtos[i] = toTraceDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// Confirm hardens an active reservation, optionally partially.
// POST /api/reservations/{id}/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	var qty *decimal.Decimal
	if req.Qty != "" {
		q, err := decimal.NewFromString(req.Qty)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid qty", err)
			return
		}
		qty = &q
	}

	id := allocation.ReservationID(chi.URLParam(r, "id"))
	result, err := h.Engine.Confirm(r.Context(), id, qty)
	if err != nil {
		writeEngineError(w, "Failed to confirm reservation", err)
		return
	}

	dto := ConfirmResultDTO{Confirmed: toReservationDTO(result.Confirmed)}
	if result.Residual != nil {
		residual := toReservationDTO(*result.Residual)
		dto.Residual = &residual
	}
	writeJSON(w, http.StatusOK, dto)
}

// Promote activates a temporary reservation.
// POST /api/reservations/{id}/promote
func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	id := allocation.ReservationID(chi.URLParam(r, "id"))
	reservation, err := h.Engine.Promote(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to promote reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*reservation))
}

// Cancel releases a reservation.
// POST /api/reservations/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := allocation.ReservationID(chi.URLParam(r, "id"))
	reservation, err := h.Engine.Cancel(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to cancel reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*reservation))
}

// CancelBulk releases reservations best-effort per item.
// POST /api/reservations/cancel
func (h *Handler) CancelBulk(w http.ResponseWriter, r *http.Request) {
	var req CancelBulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.ReservationIDs) == 0 {
		writeError(w, http.StatusBadRequest, "reservation_ids is required", nil)
		return
	}

	ids := make([]allocation.ReservationID, len(req.ReservationIDs))
	for i, id := range req.ReservationIDs {
		ids[i] = allocation.ReservationID(id)
	}

	result, err := h.Engine.CancelBulk(r.Context(), ids)
	if err != nil {
		writeEngineError(w, "Failed to cancel reservations", err)
		return
	}
	writeJSON(w, http.StatusOK, toBulkCancelDTO(result))
}

// MarkExternal records an external system acknowledgement for a confirmed
// reservation. While the marker is set the reservation cannot be released.
// POST /api/reservations/{id}/external
func (h *Handler) MarkExternal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ref string `json:"ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Ref == "" {
		writeError(w, http.StatusBadRequest, "ref is required", nil)
		return
	}

	id := allocation.ReservationID(chi.URLParam(r, "id"))
	reservation, err := h.Engine.MarkExternalConfirmed(r.Context(), id, req.Ref)
	if err != nil {
		writeEngineError(w, "Failed to mark external confirmation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*reservation))
}

// UnmarkExternal reverses an external acknowledgement.
// DELETE /api/reservations/{id}/external
func (h *Handler) UnmarkExternal(w http.ResponseWriter, r *http.Request) {
	id := allocation.ReservationID(chi.URLParam(r, "id"))
	reservation, err := h.Engine.UnconfirmExternal(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to reverse external confirmation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*reservation))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Sweep releases temporary reservations created before the given cutoff.
// POST /api/admin/sweep
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OlderThan string `json:"older_than"` // RFC3339
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	cutoff, err := time.Parse(time.RFC3339, req.OlderThan)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid older_than, expected RFC3339", err)
		return
	}

	result, err := h.Engine.SweepExpiredTemporary(r.Context(), cutoff)
	if err != nil {
		writeEngineError(w, "Failed to sweep reservations", err)
		return
	}
	writeJSON(w, http.StatusOK, toBulkCancelDTO(result))
}

// =============================================================================
// HELPERS
// =============================================================================

func toCommitResultDTO(result *allocation.CommitResult) CommitResultDTO {
	dto := CommitResultDTO{
		Reservations: make([]ReservationDTO, len(result.Reservations)),
		Lines:        make([]LineDTO, len(result.Lines)),
		Group:        toGroupDTO(result.Group, nil),
	}
	for i, res := range result.Reservations {
		dto.Reservations[i] = toReservationDTO(res)
	}
	for i, line := range result.Lines {
		dto.Lines[i] = toLineDTO(line)
	}
	return dto
}

func toBulkCancelDTO(result *allocation.BulkCancelResult) BulkCancelDTO {
	dto := BulkCancelDTO{Released: make([]ReservationDTO, len(result.Released))}
	for i, res := range result.Released {
		dto.Released[i] = toReservationDTO(res)
	}
	for _, f := range result.Failures {
		dto.Failures = append(dto.Failures, BulkFailureDTO{ID: string(f.ID), Error: f.Err.Error()})
	}
	return dto
}

// writeEngineError maps the engine's error taxonomy to HTTP statuses.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, allocation.ErrNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, allocation.ErrValidation):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, allocation.ErrReservationState),
		errors.Is(err, allocation.ErrCommit),
		errors.Is(err, allocation.ErrConcurrentModification):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

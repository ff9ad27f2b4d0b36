package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lot-engine/allocation"
	"github.com/warp/lot-engine/allocation/store"
	"github.com/warp/lot-engine/api"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	engine := allocation.New(store.NewMemory())
	return api.NewRouter(api.NewHandler(engine))
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), "body: %s", rec.Body.String())
	return out
}

// =============================================================================
// END TO END FLOW
// =============================================================================

func TestAPI_ReceiveCommitConfirmFlow(t *testing.T) {
	router := newTestRouter(t)

	// Receive a lot. Omitted fields get engine defaults.
	rec := doJSON(t, router, http.MethodPost, "/api/lots", api.ReceiveLotRequest{
		ID:          "lot-1",
		ProductID:   "prod-1",
		WarehouseID: "wh-1",
		ReceivedQty: "100",
		ExpiresAt:   "2030-09-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	lot := decodeAs[api.LotDTO](t, rec)
	assert.Equal(t, "100", lot.CurrentQty)
	assert.Equal(t, "active", lot.Status)
	assert.Equal(t, "2030-09-01", lot.ExpiresAt)

	// Register demand.
	rec = doJSON(t, router, http.MethodPost, "/api/groups", api.CreateGroupRequest{
		ID: "grp-1",
		Lines: []api.CreateLineRequest{
			{ID: "line-1", ProductID: "prod-1", WarehouseID: "wh-1", RequiredQty: "40"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	group := decodeAs[api.GroupDTO](t, rec)
	require.Len(t, group.Lines, 1)
	assert.Equal(t, "pending", group.Lines[0].Status)

	// Preview is read-only and shows the plan.
	rec = doJSON(t, router, http.MethodGet, "/api/groups/grp-1/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	preview := decodeAs[api.PreviewDTO](t, rec)
	require.Len(t, preview.Lines, 1)
	require.Len(t, preview.Lines[0].Assignments, 1)
	assert.Equal(t, "lot-1", preview.Lines[0].Assignments[0].LotID)
	assert.Equal(t, "40", preview.Lines[0].Assignments[0].Qty)

	// Commit creates the reservation.
	rec = doJSON(t, router, http.MethodPost, "/api/groups/grp-1/commit", nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	result := decodeAs[api.CommitResultDTO](t, rec)
	require.Len(t, result.Reservations, 1)
	reservation := result.Reservations[0]
	assert.Equal(t, "active", reservation.Status)
	assert.Equal(t, "hard", reservation.Strength)
	assert.Equal(t, "allocated", result.Group.Status)

	// Confirm it fully.
	rec = doJSON(t, router, http.MethodPost, "/api/reservations/"+reservation.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	confirmed := decodeAs[api.ConfirmResultDTO](t, rec)
	assert.Equal(t, "confirmed", confirmed.Confirmed.Status)
	assert.NotEmpty(t, confirmed.Confirmed.ConfirmedAt)
	assert.Nil(t, confirmed.Residual)

	// The decision audit is queryable per line.
	rec = doJSON(t, router, http.MethodGet, "/api/lines/line-1/trace", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	traces := decodeAs[[]api.TraceDTO](t, rec)
	require.NotEmpty(t, traces)
	assert.Equal(t, "adopted", traces[0].Decision)
}

func TestAPI_PartialConfirm_ReturnsResidual(t *testing.T) {
	router := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/api/lots", api.ReceiveLotRequest{
		ID: "lot-1", ProductID: "prod-1", WarehouseID: "wh-1", ReceivedQty: "100",
	})
	doJSON(t, router, http.MethodPost, "/api/groups", api.CreateGroupRequest{
		ID: "grp-1",
		Lines: []api.CreateLineRequest{
			{ID: "line-1", ProductID: "prod-1", WarehouseID: "wh-1", RequiredQty: "40"},
		},
	})
	rec := doJSON(t, router, http.MethodPost, "/api/groups/grp-1/commit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeAs[api.CommitResultDTO](t, rec)
	id := result.Reservations[0].ID

	rec = doJSON(t, router, http.MethodPost, "/api/reservations/"+id+"/confirm",
		api.ConfirmRequest{Qty: "25"})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	confirmed := decodeAs[api.ConfirmResultDTO](t, rec)
	assert.Equal(t, "25", confirmed.Confirmed.Qty)
	require.NotNil(t, confirmed.Residual)
	assert.Equal(t, "15", confirmed.Residual.Qty)
	assert.Equal(t, "soft", confirmed.Residual.Strength)
}

func TestAPI_Candidates_FEFOOrderWithAvailability(t *testing.T) {
	router := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/api/lots", api.ReceiveLotRequest{
		ID: "lot-late", ProductID: "prod-1", WarehouseID: "wh-1",
		ReceivedQty: "50", ExpiresAt: "2030-12-01",
	})
	doJSON(t, router, http.MethodPost, "/api/lots", api.ReceiveLotRequest{
		ID: "lot-early", ProductID: "prod-1", WarehouseID: "wh-1",
		ReceivedQty: "50", ExpiresAt: "2030-09-01",
	})

	rec := doJSON(t, router, http.MethodGet, "/api/products/prod-1/candidates?warehouse_id=wh-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	candidates := decodeAs[[]api.CandidateDTO](t, rec)
	require.Len(t, candidates, 2)
	assert.Equal(t, "lot-early", candidates[0].Lot.ID)
	assert.Equal(t, "lot-late", candidates[1].Lot.ID)
	assert.Equal(t, "50", candidates[0].Available)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_UnknownLot_404(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/lots/no-such-lot", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	resp := decodeAs[api.ErrorResponse](t, rec)
	assert.NotEmpty(t, resp.Error)
}

func TestAPI_InvalidQuantity_400(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/lots", api.ReceiveLotRequest{
		ProductID: "prod-1", WarehouseID: "wh-1", ReceivedQty: "not-a-number",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_DoubleConfirm_409(t *testing.T) {
	router := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/api/lots", api.ReceiveLotRequest{
		ID: "lot-1", ProductID: "prod-1", WarehouseID: "wh-1", ReceivedQty: "100",
	})
	doJSON(t, router, http.MethodPost, "/api/groups", api.CreateGroupRequest{
		ID: "grp-1",
		Lines: []api.CreateLineRequest{
			{ID: "line-1", ProductID: "prod-1", WarehouseID: "wh-1", RequiredQty: "40"},
		},
	})
	rec := doJSON(t, router, http.MethodPost, "/api/groups/grp-1/commit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeAs[api.CommitResultDTO](t, rec)
	id := result.Reservations[0].ID

	rec = doJSON(t, router, http.MethodPost, "/api/reservations/"+id+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/reservations/"+id+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "body: %s", rec.Body.String())
}

func TestAPI_CommitHandler_ReplansAgainstLiveStock(t *testing.T) {
	// GIVEN: A rival allocation shrinks the available stock
	// WHEN: Committing the group afterwards
	// THEN: The commit handler replans first, so the line lands short
	//       instead of conflicting

	router := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/api/lots", api.ReceiveLotRequest{
		ID: "lot-1", ProductID: "prod-1", WarehouseID: "wh-1", ReceivedQty: "50",
	})
	doJSON(t, router, http.MethodPost, "/api/groups", api.CreateGroupRequest{
		ID: "grp-1",
		Lines: []api.CreateLineRequest{
			{ID: "line-1", ProductID: "prod-1", WarehouseID: "wh-1", RequiredQty: "40"},
		},
	})

	// A rival hard allocation eats most of the lot.
	doJSON(t, router, http.MethodPost, "/api/groups", api.CreateGroupRequest{
		ID: "grp-rival",
		Lines: []api.CreateLineRequest{
			{ID: "line-rival", ProductID: "prod-1", WarehouseID: "wh-1", RequiredQty: "30"},
		},
	})
	rec := doJSON(t, router, http.MethodPost, "/api/lines/line-rival/allocate",
		api.AllocateManualRequest{LotID: "lot-1", Qty: "30"})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	// grp-1's commit previews 40 but only 20 are left. The preview inside the
	// commit handler already caps at 20, so this succeeds with a short line.
	rec = doJSON(t, router, http.MethodPost, "/api/groups/grp-1/commit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeAs[api.CommitResultDTO](t, rec)
	require.Len(t, result.Lines, 1)
	assert.Equal(t, "20", result.Lines[0].AllocatedQty)
	assert.Equal(t, "pending", result.Lines[0].Status)
}

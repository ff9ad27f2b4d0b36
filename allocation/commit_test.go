package allocation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lot-engine/allocation"
)

// =============================================================================
// RE-VALIDATION UNDER LOCK
// =============================================================================

func TestCommit_StalePreview_InsufficientStock(t *testing.T) {
	// GIVEN: A preview taken while the lot still had capacity
	// WHEN: A competing hard reservation eats the capacity before commit
	// THEN: Commit re-validates against live state and fails INSUFFICIENT_STOCK

	eng, _ := newTestEngine()
	ctx := context.Background()

	seedLot(t, eng, "lot-1", "prod-1", "wh-1", "50", datePtr(2030, time.July, 10))
	seedGroup(t, eng, "grp-1")
	seedLine(t, eng, orderLine("line-1", "grp-1", "prod-1", "wh-1", "40"))

	preview, err := eng.Preview(ctx, "grp-1")
	require.NoError(t, err)

	// Competing demand lands between preview and commit.
	seedGroup(t, eng, "grp-rival")
	seedLine(t, eng, orderLine("line-rival", "grp-rival", "prod-1", "wh-1", "30"))
	_, err = eng.AllocateManual(ctx, "line-rival", "lot-1", d("30"))
	require.NoError(t, err)

	_, err = eng.Commit(ctx, preview)
	require.Error(t, err)

	var commitErr *allocation.CommitError
	require.ErrorAs(t, err, &commitErr)
	assert.Equal(t, allocation.CommitInsufficientStock, commitErr.Code)
	assert.Equal(t, allocation.LotID("lot-1"), commitErr.LotID)
}

func TestCommit_QuarantinedLot_LotNotActive(t *testing.T) {
	// GIVEN: A preview over a lot that gets quarantined before commit
	// WHEN: Committing
	// THEN: LOT_NOT_ACTIVE, nothing persisted

	eng, mem := newTestEngine()
	ctx := context.Background()

	seedLot(t, eng, "lot-1", "prod-1", "wh-1", "50", datePtr(2030, time.July, 10))
	seedGroup(t, eng, "grp-1")
	seedLine(t, eng, orderLine("line-1", "grp-1", "prod-1", "wh-1", "40"))

	preview, err := eng.Preview(ctx, "grp-1")
	require.NoError(t, err)

	_, err = eng.SetLotStatus(ctx, "lot-1", allocation.LotQuarantine)
	require.NoError(t, err)

	_, err = eng.Commit(ctx, preview)
	var commitErr *allocation.CommitError
	require.ErrorAs(t, err, &commitErr)
	assert.Equal(t, allocation.CommitLotNotActive, commitErr.Code)

	reservations, err := mem.ReservationsByLine(ctx, "line-1")
	require.NoError(t, err)
	assert.Empty(t, reservations, "failed commit must not leave reservations")
}

// =============================================================================
// ALL OR NOTHING
// =============================================================================

func TestCommit_MultiLineFailure_RollsBackEverything(t *testing.T) {
	// GIVEN: A two-line preview over two lots
	// WHEN: The second lot is sabotaged after preview and commit fails there
	// THEN: The first line's reservation, line update and traces are rolled back too

	eng, mem := newTestEngine()
	ctx := context.Background()

	seedLot(t, eng, "lot-a", "prod-1", "wh-1", "50", datePtr(2030, time.July, 10))
	seedLot(t, eng, "lot-b", "prod-2", "wh-1", "50", datePtr(2030, time.July, 10))
	seedGroup(t, eng, "grp-1")
	seedLine(t, eng, orderLine("line-1", "grp-1", "prod-1", "wh-1", "40"))
	seedLine(t, eng, orderLine("line-2", "grp-1", "prod-2", "wh-1", "40"))

	preview, err := eng.Preview(ctx, "grp-1")
	require.NoError(t, err)
	require.Len(t, preview.Lines, 2)

	_, err = eng.SetLotStatus(ctx, "lot-b", allocation.LotLocked)
	require.NoError(t, err)

	_, err = eng.Commit(ctx, preview)
	require.Error(t, err)

	for _, lineID := range []allocation.DemandLineID{"line-1", "line-2"} {
		reservations, err := mem.ReservationsByLine(ctx, lineID)
		require.NoError(t, err)
		assert.Emptyf(t, reservations, "line %s: rollback must remove reservations", lineID)

		traces, err := mem.TracesByLine(ctx, lineID)
		require.NoError(t, err)
		assert.Emptyf(t, traces, "line %s: rollback must remove traces", lineID)

		line, err := mem.GetLine(ctx, lineID)
		require.NoError(t, err)
		assert.True(t, line.AllocatedQty.IsZero(), "line %s: allocated qty must stay zero", lineID)
		assert.Equal(t, allocation.LinePending, line.Status)
	}

	group, err := mem.GetGroup(ctx, "grp-1")
	require.NoError(t, err)
	assert.Equal(t, allocation.GroupPending, group.Status)
}

// =============================================================================
// RESERVATION SHAPE
// =============================================================================

func TestCommit_ForecastDemand_CreatesTemporarySoft(t *testing.T) {
	// GIVEN: A forecast-origin line
	// WHEN: Committing its preview
	// THEN: The reservation is temporary/soft; it holds no stock yet

	eng, _ := newTestEngine()
	ctx := context.Background()

	seedLot(t, eng, "lot-1", "prod-1", "wh-1", "100", datePtr(2030, time.July, 10))
	seedGroup(t, eng, "grp-1")
	line := orderLine("line-1", "grp-1", "prod-1", "wh-1", "40")
	line.Source = allocation.SourceForecast
	line.Priority = allocation.PriorityForecastLinked
	seedLine(t, eng, line)

	preview, err := eng.Preview(ctx, "grp-1")
	require.NoError(t, err)

	result, err := eng.Commit(ctx, preview)
	require.NoError(t, err)
	require.Len(t, result.Reservations, 1)

	r := result.Reservations[0]
	assert.Equal(t, allocation.ReservationTemporary, r.Status)
	assert.Equal(t, allocation.StrengthSoft, r.Strength)
	assert.Equal(t, allocation.PriorityForecastLinked, r.Priority)

	// Temporary reservations hold nothing, so full availability remains.
	candidates, err := eng.Candidates(ctx, "prod-1", nil, allocation.CandidateFilter{AsOf: fixedNow})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.True(t, candidates[0].Available.Equal(d("100")),
		"expected available 100, got %s", candidates[0].Available)
}

func TestCommit_LineStatusRederived(t *testing.T) {
	// GIVEN: A partially coverable line (stock 30, required 40)
	// WHEN: Committing
	// THEN: The line stays pending with AllocatedQty 30; group is part_allocated

	eng, _ := newTestEngine()
	ctx := context.Background()

	seedLot(t, eng, "lot-1", "prod-1", "wh-1", "30", datePtr(2030, time.July, 10))
	seedGroup(t, eng, "grp-1")
	seedLine(t, eng, orderLine("line-1", "grp-1", "prod-1", "wh-1", "40"))

	preview, err := eng.Preview(ctx, "grp-1")
	require.NoError(t, err)

	result, err := eng.Commit(ctx, preview)
	require.NoError(t, err)

	require.Len(t, result.Lines, 1)
	line := result.Lines[0]
	assert.True(t, line.AllocatedQty.Equal(d("30")), "expected allocated 30, got %s", line.AllocatedQty)
	assert.Equal(t, allocation.LinePending, line.Status)
	assert.Equal(t, allocation.GroupPartAllocated, result.Group.Status)
	assert.Greater(t, line.Version, int64(0), "version must bump on rederivation")
}

// =============================================================================
// MANUAL ALLOCATION
// =============================================================================

func TestAllocateManual_ProductMismatch_Rejected(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	seedLot(t, eng, "lot-1", "prod-other", "wh-1", "50", nil)
	seedGroup(t, eng, "grp-1")
	seedLine(t, eng, orderLine("line-1", "grp-1", "prod-1", "wh-1", "10"))

	_, err := eng.AllocateManual(ctx, "line-1", "lot-1", d("10"))
	require.ErrorIs(t, err, allocation.ErrValidation)
}

func TestAllocateManual_AlwaysHard(t *testing.T) {
	// GIVEN: A forecast line
	// WHEN: An operator manually assigns a lot
	// THEN: The reservation is active/hard regardless of the line's source

	eng, _ := newTestEngine()
	ctx := context.Background()

	seedLot(t, eng, "lot-1", "prod-1", "wh-1", "50", nil)
	seedGroup(t, eng, "grp-1")
	line := orderLine("line-1", "grp-1", "prod-1", "wh-1", "10")
	line.Source = allocation.SourceForecast
	seedLine(t, eng, line)

	r, err := eng.AllocateManual(ctx, "line-1", "lot-1", d("10"))
	require.NoError(t, err)
	assert.Equal(t, allocation.ReservationActive, r.Status)
	assert.Equal(t, allocation.StrengthHard, r.Strength)
	assert.Equal(t, allocation.SourceManual, r.Source)
}

func TestAllocateManual_WritesManualTrace(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	seedLot(t, eng, "lot-1", "prod-1", "wh-1", "50", nil)
	seedGroup(t, eng, "grp-1")
	seedLine(t, eng, orderLine("line-1", "grp-1", "prod-1", "wh-1", "10"))

	_, err := eng.AllocateManual(ctx, "line-1", "lot-1", d("10"))
	require.NoError(t, err)

	traces, err := eng.TraceForLine(ctx, "line-1")
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, allocation.TraceAdopted, traces[0].Decision)
	assert.Equal(t, "manual assignment", traces[0].Reason)
	require.NotNil(t, traces[0].LotID)
	assert.Equal(t, allocation.LotID("lot-1"), *traces[0].LotID)
}

func TestAllocateManual_UnknownLot_NotFound(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	seedGroup(t, eng, "grp-1")
	seedLine(t, eng, orderLine("line-1", "grp-1", "prod-1", "wh-1", "10"))

	_, err := eng.AllocateManual(ctx, "line-1", "no-such-lot", d("10"))
	require.ErrorIs(t, err, allocation.ErrNotFound)
}

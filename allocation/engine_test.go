package allocation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/lot-engine/allocation"
	"github.com/warp/lot-engine/allocation/store"
)

// =============================================================================
// SHARED FIXTURES
// =============================================================================
// Note: d(), date(), datePtr() and candidate() are defined in allocator_test.go

// fixedNow keeps engine clocks deterministic. Expiry dates in fixtures sit
// well after it.
var fixedNow = date(2030, time.June, 1)

func newTestEngine() (*allocation.Engine, *store.Memory) {
	mem := store.NewMemory()
	engine := allocation.New(mem)
	engine.Actioner.Now = func() time.Time { return fixedNow }
	return engine, mem
}

func seedLot(t *testing.T, eng *allocation.Engine, id, product, warehouse, qty string, expires *time.Time) allocation.Lot {
	t.Helper()
	lot, err := eng.ReceiveLot(context.Background(), allocation.Lot{
		ID:          allocation.LotID(id),
		ProductID:   allocation.ProductID(product),
		WarehouseID: allocation.WarehouseID(warehouse),
		ReceivedQty: d(qty),
		ExpiresAt:   expires,
	})
	if err != nil {
		t.Fatalf("seed lot %s: %v", id, err)
	}
	return lot
}

func seedGroup(t *testing.T, eng *allocation.Engine, id string) allocation.DemandGroup {
	t.Helper()
	group, err := eng.CreateGroup(context.Background(), allocation.DemandGroupID(id))
	if err != nil {
		t.Fatalf("seed group %s: %v", id, err)
	}
	return group
}

func seedLine(t *testing.T, eng *allocation.Engine, line allocation.DemandLine) allocation.DemandLine {
	t.Helper()
	created, err := eng.AddLine(context.Background(), line)
	if err != nil {
		t.Fatalf("seed line %s: %v", line.ID, err)
	}
	return created
}

func orderLine(id, group, product, warehouse, required string) allocation.DemandLine {
	return allocation.DemandLine{
		ID:          allocation.DemandLineID(id),
		GroupID:     allocation.DemandGroupID(group),
		ProductID:   allocation.ProductID(product),
		WarehouseID: allocation.WarehouseID(warehouse),
		RequiredQty: d(required),
		Source:      allocation.SourceOrder,
		Priority:    allocation.PriorityOrder,
	}
}

// =============================================================================
// LOT RECEIPT
// =============================================================================

func TestReceiveLot_Defaults(t *testing.T) {
	// GIVEN: A receipt naming only product, warehouse and quantity
	// WHEN: The lot is received
	// THEN: CurrentQty defaults to ReceivedQty, status to active, inspection to not_required

	eng, _ := newTestEngine()
	lot, err := eng.ReceiveLot(context.Background(), allocation.Lot{
		ProductID:   "prod-1",
		WarehouseID: "wh-1",
		ReceivedQty: d("100"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if lot.ID == "" {
		t.Error("expected a generated lot id")
	}
	if !lot.CurrentQty.Equal(d("100")) {
		t.Errorf("expected current qty 100, got %s", lot.CurrentQty)
	}
	if lot.Status != allocation.LotActive {
		t.Errorf("expected active status, got %s", lot.Status)
	}
	if lot.Inspection != allocation.InspectionNotRequired {
		t.Errorf("expected not_required inspection, got %s", lot.Inspection)
	}
}

func TestReceiveLot_RejectsBadInput(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	cases := []struct {
		name string
		lot  allocation.Lot
	}{
		{"missing product", allocation.Lot{WarehouseID: "wh-1", ReceivedQty: d("10")}},
		{"missing warehouse", allocation.Lot{ProductID: "prod-1", ReceivedQty: d("10")}},
		{"zero qty", allocation.Lot{ProductID: "prod-1", WarehouseID: "wh-1"}},
		{"negative locked", allocation.Lot{ProductID: "prod-1", WarehouseID: "wh-1", ReceivedQty: d("10"), LockedQty: d("-1")}},
		{"locked exceeds current", allocation.Lot{ProductID: "prod-1", WarehouseID: "wh-1", ReceivedQty: d("10"), LockedQty: d("20")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := eng.ReceiveLot(ctx, tc.lot); !errors.Is(err, allocation.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

// =============================================================================
// LOCKED QUANTITY ADJUSTMENT
// =============================================================================

func TestAdjustLockedQty_RefusesStrandingReservedStock(t *testing.T) {
	// GIVEN: Lot of 100 with 60 reserved by an active reservation
	// WHEN: Raising the locked quantity to 50 (leaving only 50 unlocked)
	// THEN: Refused, because 60 reserved > 50 unlocked would break conservation

	eng, _ := newTestEngine()
	ctx := context.Background()

	seedLot(t, eng, "lot-1", "prod-1", "wh-1", "100", nil)
	seedGroup(t, eng, "grp-1")
	seedLine(t, eng, orderLine("line-1", "grp-1", "prod-1", "wh-1", "60"))

	if _, err := eng.AllocateManual(ctx, "line-1", "lot-1", d("60")); err != nil {
		t.Fatalf("manual allocation: %v", err)
	}

	_, err := eng.AdjustLockedQty(ctx, "lot-1", d("50"))
	if !errors.Is(err, allocation.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	// Locking 40 keeps exactly 60 unlocked; the invariant holds.
	lot, err := eng.AdjustLockedQty(ctx, "lot-1", d("40"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lot.LockedQty.Equal(d("40")) {
		t.Errorf("expected locked 40, got %s", lot.LockedQty)
	}
}

// =============================================================================
// DEMAND SEEDING
// =============================================================================

func TestAddLine_RequiresExistingGroup(t *testing.T) {
	eng, _ := newTestEngine()
	_, err := eng.AddLine(context.Background(), orderLine("line-1", "no-such-group", "prod-1", "wh-1", "10"))
	if !allocation.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestAddLine_Defaults(t *testing.T) {
	eng, _ := newTestEngine()
	seedGroup(t, eng, "grp-1")

	line, err := eng.AddLine(context.Background(), allocation.DemandLine{
		GroupID:     "grp-1",
		ProductID:   "prod-1",
		RequiredQty: d("10"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if line.ID == "" {
		t.Error("expected a generated line id")
	}
	if line.Source != allocation.SourceOrder {
		t.Errorf("expected order source default, got %s", line.Source)
	}
	if line.Priority != allocation.PriorityOrder {
		t.Errorf("expected order priority default, got %s", line.Priority)
	}
	if line.Status != allocation.LinePending {
		t.Errorf("expected pending status, got %s", line.Status)
	}
	if !line.AllocatedQty.IsZero() {
		t.Errorf("expected zero allocated qty, got %s", line.AllocatedQty)
	}
}

// =============================================================================
// END TO END: PREVIEW, COMMIT, CONFIRM, TRACE
// =============================================================================

func TestEngine_FullAllocationRoundTrip(t *testing.T) {
	// GIVEN: Two lots and a one-line order for 50
	// WHEN: Preview, commit, confirm, then read the trace
	// THEN: The reservation hardens through the full lifecycle and the trace
	//       explains the single-lot-fit choice

	eng, _ := newTestEngine()
	ctx := context.Background()

	seedLot(t, eng, "lot-L", "prod-1", "wh-1", "60", datePtr(2030, time.July, 10))
	seedLot(t, eng, "lot-M", "prod-1", "wh-1", "60", datePtr(2030, time.August, 1))
	seedGroup(t, eng, "grp-1")
	seedLine(t, eng, orderLine("line-1", "grp-1", "prod-1", "wh-1", "50"))

	preview, err := eng.Preview(ctx, "grp-1")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(preview.Lines) != 1 {
		t.Fatalf("expected 1 line plan, got %d", len(preview.Lines))
	}
	if len(preview.Lines[0].Assignments) != 1 || preview.Lines[0].Assignments[0].LotID != "lot-L" {
		t.Fatalf("expected single-lot-fit on lot-L, got %+v", preview.Lines[0].Assignments)
	}

	result, err := eng.Commit(ctx, preview)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(result.Reservations) != 1 {
		t.Fatalf("expected 1 reservation, got %d", len(result.Reservations))
	}
	r := result.Reservations[0]
	if r.Status != allocation.ReservationActive || r.Strength != allocation.StrengthHard {
		t.Errorf("order demand should create active/hard reservations, got %s/%s", r.Status, r.Strength)
	}
	if result.Group.Status != allocation.GroupAllocated {
		t.Errorf("expected group allocated, got %s", result.Group.Status)
	}

	confirmed, err := eng.Confirm(ctx, r.ID, nil)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Confirmed.Status != allocation.ReservationConfirmed {
		t.Errorf("expected confirmed, got %s", confirmed.Confirmed.Status)
	}
	if confirmed.Residual != nil {
		t.Errorf("full confirm should leave no residual, got %+v", confirmed.Residual)
	}

	traces, err := eng.TraceForLine(ctx, "line-1")
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	if len(traces) == 0 {
		t.Fatal("expected trace records after commit")
	}
	found := false
	for _, rec := range traces {
		if rec.LotID != nil && *rec.LotID == "lot-L" && rec.Decision == allocation.TraceAdopted {
			found = true
			if rec.Reason != "single lot fit" {
				t.Errorf("expected single lot fit reason, got %q", rec.Reason)
			}
		}
	}
	if !found {
		t.Errorf("expected an adopted trace for lot-L, got %+v", traces)
	}
}

func TestEngine_PreviewWritesNothing(t *testing.T) {
	// GIVEN: Stock and demand
	// WHEN: Preview runs twice
	// THEN: No reservation or trace exists, and both previews agree

	eng, mem := newTestEngine()
	ctx := context.Background()

	seedLot(t, eng, "lot-1", "prod-1", "wh-1", "100", datePtr(2030, time.July, 10))
	seedGroup(t, eng, "grp-1")
	seedLine(t, eng, orderLine("line-1", "grp-1", "prod-1", "wh-1", "40"))

	first, err := eng.Preview(ctx, "grp-1")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	second, err := eng.Preview(ctx, "grp-1")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}

	reservations, err := mem.ReservationsByLot(ctx, "lot-1")
	if err != nil {
		t.Fatalf("reservations: %v", err)
	}
	if len(reservations) != 0 {
		t.Errorf("preview must not create reservations, found %d", len(reservations))
	}
	traces, err := mem.TracesByLine(ctx, "line-1")
	if err != nil {
		t.Fatalf("traces: %v", err)
	}
	if len(traces) != 0 {
		t.Errorf("preview must not write traces, found %d", len(traces))
	}

	if len(first.Lines) != len(second.Lines) {
		t.Fatalf("previews disagree on line count")
	}
	for i := range first.Lines {
		a, b := first.Lines[i], second.Lines[i]
		if len(a.Assignments) != len(b.Assignments) {
			t.Fatalf("line %s: previews disagree on assignments", a.LineID)
		}
		for j := range a.Assignments {
			if a.Assignments[j].LotID != b.Assignments[j].LotID || !a.Assignments[j].Qty.Equal(b.Assignments[j].Qty) {
				t.Errorf("line %s: assignment %d differs between previews", a.LineID, j)
			}
		}
	}
}

// =============================================================================
// SWEEP
// =============================================================================

func TestSweepExpiredTemporary_ReleasesOnlyStaleProvisionals(t *testing.T) {
	// GIVEN: A forecast line committed at fixedNow (temporary reservation)
	// WHEN: Sweeping with a cutoff after creation
	// THEN: The temporary reservation is released; sweeping again finds nothing

	eng, _ := newTestEngine()
	ctx := context.Background()

	seedLot(t, eng, "lot-1", "prod-1", "wh-1", "100", datePtr(2030, time.July, 10))
	seedGroup(t, eng, "grp-1")
	line := orderLine("line-1", "grp-1", "prod-1", "wh-1", "40")
	line.Source = allocation.SourceForecast
	line.Priority = allocation.PriorityForecastLinked
	seedLine(t, eng, line)

	preview, err := eng.Preview(ctx, "grp-1")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	result, err := eng.Commit(ctx, preview)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if result.Reservations[0].Status != allocation.ReservationTemporary {
		t.Fatalf("forecast demand should create temporary reservations, got %s", result.Reservations[0].Status)
	}

	swept, err := eng.SweepExpiredTemporary(ctx, fixedNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(swept.Released) != 1 {
		t.Fatalf("expected 1 released reservation, got %d", len(swept.Released))
	}
	if len(swept.Failures) != 0 {
		t.Errorf("expected no failures, got %+v", swept.Failures)
	}

	again, err := eng.SweepExpiredTemporary(ctx, fixedNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(again.Released) != 0 {
		t.Errorf("second sweep should find nothing, released %d", len(again.Released))
	}
}

// =============================================================================
// ADMIN PATHS
// =============================================================================

func TestSetLotStatus_StopsNewAllocation(t *testing.T) {
	// GIVEN: A quarantined lot
	// WHEN: Ranking candidates
	// THEN: The lot does not appear

	eng, _ := newTestEngine()
	ctx := context.Background()

	seedLot(t, eng, "lot-1", "prod-1", "wh-1", "100", datePtr(2030, time.July, 10))
	if _, err := eng.SetLotStatus(ctx, "lot-1", allocation.LotQuarantine); err != nil {
		t.Fatalf("set status: %v", err)
	}

	candidates, err := eng.Candidates(ctx, "prod-1", nil, allocation.CandidateFilter{AsOf: fixedNow})
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("quarantined lot should not be a candidate, got %d", len(candidates))
	}
}

func TestSetLotStatus_UnknownStatusRejected(t *testing.T) {
	eng, _ := newTestEngine()
	seedLot(t, eng, "lot-1", "prod-1", "wh-1", "100", nil)
	if _, err := eng.SetLotStatus(context.Background(), "lot-1", "melted"); !errors.Is(err, allocation.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func decimalPtr(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

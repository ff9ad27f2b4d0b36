/*
trace.go - Allocation decision audit recorder

PURPOSE:
  Persists one immutable trace row per allocator decision so that every
  "why did lot X get picked (or not)?" question is answerable after the
  fact. The recorder is a read-only consumer of allocator output; it
  never influences allocation.

  Previews carry their decisions inside the returned plan and write
  nothing; the commit/action engine persists them together with the
  reservations they explain, inside the same transaction.

SEE ALSO:
  - allocator.go: Produces Decisions
  - store.go: TraceLog interface
*/
package allocation

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

var traceSeq atomic.Int64

// Recorder appends allocator decisions to the trace log.
type Recorder struct {
	Log TraceLog
}

// Record persists every decision of one allocator run for a demand line.
func (rec *Recorder) Record(ctx context.Context, lineID DemandLineID, decisions []Decision, at time.Time) error {
	for _, d := range decisions {
		r := TraceRecord{
			ID:       newTraceID(at),
			LineID:   lineID,
			LotID:    d.LotID,
			Score:    d.Score,
			Decision: d.Decision,
			Reason:   d.Reason,
			Qty:      d.Qty,
			At:       at,
		}
		if err := rec.Log.AppendTrace(ctx, r); err != nil {
			return fmt.Errorf("append trace for line %s: %w", lineID, err)
		}
	}
	return nil
}

func newTraceID(at time.Time) TraceID {
	return TraceID(fmt.Sprintf("trc-%d-%d", at.UnixNano(), traceSeq.Add(1)))
}

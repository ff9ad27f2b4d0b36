// Package store provides TxStore implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/lot-engine/allocation"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	lots         map[allocation.LotID]allocation.Lot
	reservations map[allocation.ReservationID]allocation.Reservation
	lines        map[allocation.DemandLineID]allocation.DemandLine
	groups       map[allocation.DemandGroupID]allocation.DemandGroup
	traces       []allocation.TraceRecord
}

func NewMemory() *Memory {
	return &Memory{
		lots:         make(map[allocation.LotID]allocation.Lot),
		reservations: make(map[allocation.ReservationID]allocation.Reservation),
		lines:        make(map[allocation.DemandLineID]allocation.DemandLine),
		groups:       make(map[allocation.DemandGroupID]allocation.DemandGroup),
	}
}

// =============================================================================
// LOTS
// =============================================================================

func (m *Memory) GetLot(_ context.Context, id allocation.LotID) (allocation.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLotLocked(id)
}

func (m *Memory) getLotLocked(id allocation.LotID) (allocation.Lot, error) {
	lot, ok := m.lots[id]
	if !ok {
		return allocation.Lot{}, &allocation.NotFoundError{Kind: "lot", ID: string(id)}
	}
	return lot, nil
}

func (m *Memory) LotsByProduct(_ context.Context, productID allocation.ProductID, warehouseID *allocation.WarehouseID) ([]allocation.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lotsByProductLocked(productID, warehouseID), nil
}

func (m *Memory) lotsByProductLocked(productID allocation.ProductID, warehouseID *allocation.WarehouseID) []allocation.Lot {
	var result []allocation.Lot
	for _, lot := range m.lots {
		if lot.ProductID != productID {
			continue
		}
		if warehouseID != nil && lot.WarehouseID != *warehouseID {
			continue
		}
		result = append(result, lot)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (m *Memory) SaveLot(_ context.Context, lot allocation.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lots[lot.ID] = lot
	return nil
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func (m *Memory) GetReservation(_ context.Context, id allocation.ReservationID) (allocation.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getReservationLocked(id)
}

func (m *Memory) getReservationLocked(id allocation.ReservationID) (allocation.Reservation, error) {
	r, ok := m.reservations[id]
	if !ok {
		return allocation.Reservation{}, &allocation.NotFoundError{Kind: "reservation", ID: string(id)}
	}
	return r, nil
}

func (m *Memory) ReservationsByLot(_ context.Context, lotID allocation.LotID) ([]allocation.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reservationsLocked(func(r allocation.Reservation) bool { return r.LotID == lotID }), nil
}

func (m *Memory) ReservationsByLine(_ context.Context, lineID allocation.DemandLineID) ([]allocation.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reservationsLocked(func(r allocation.Reservation) bool { return r.LineID == lineID }), nil
}

func (m *Memory) TemporaryCreatedBefore(_ context.Context, cutoff time.Time) ([]allocation.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reservationsLocked(func(r allocation.Reservation) bool {
		return r.Status == allocation.ReservationTemporary && r.CreatedAt.Before(cutoff)
	}), nil
}

func (m *Memory) reservationsLocked(match func(allocation.Reservation) bool) []allocation.Reservation {
	var result []allocation.Reservation
	for _, r := range m.reservations {
		if match(r) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (m *Memory) SaveReservation(_ context.Context, r allocation.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations[r.ID] = r
	return nil
}

// =============================================================================
// DEMAND LINES / GROUPS
// =============================================================================

func (m *Memory) GetLine(_ context.Context, id allocation.DemandLineID) (allocation.DemandLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLineLocked(id)
}

func (m *Memory) getLineLocked(id allocation.DemandLineID) (allocation.DemandLine, error) {
	line, ok := m.lines[id]
	if !ok {
		return allocation.DemandLine{}, &allocation.NotFoundError{Kind: "demand line", ID: string(id)}
	}
	return line, nil
}

func (m *Memory) LinesByGroup(_ context.Context, groupID allocation.DemandGroupID) ([]allocation.DemandLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.linesByGroupLocked(groupID), nil
}

func (m *Memory) linesByGroupLocked(groupID allocation.DemandGroupID) []allocation.DemandLine {
	var result []allocation.DemandLine
	for _, line := range m.lines {
		if line.GroupID == groupID {
			result = append(result, line)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (m *Memory) SaveLine(_ context.Context, line allocation.DemandLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[line.ID] = line
	return nil
}

func (m *Memory) GetGroup(_ context.Context, id allocation.DemandGroupID) (allocation.DemandGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getGroupLocked(id)
}

func (m *Memory) getGroupLocked(id allocation.DemandGroupID) (allocation.DemandGroup, error) {
	group, ok := m.groups[id]
	if !ok {
		return allocation.DemandGroup{}, &allocation.NotFoundError{Kind: "demand group", ID: string(id)}
	}
	return group, nil
}

func (m *Memory) SaveGroup(_ context.Context, group allocation.DemandGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[group.ID] = group
	return nil
}

// =============================================================================
// TRACE LOG
// =============================================================================

func (m *Memory) AppendTrace(_ context.Context, rec allocation.TraceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces = append(m.traces, rec)
	return nil
}

func (m *Memory) TracesByLine(_ context.Context, lineID allocation.DemandLineID) ([]allocation.TraceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []allocation.TraceRecord
	for _, rec := range m.traces {
		if rec.LineID == lineID {
			result = append(result, rec)
		}
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithLots locks the whole store exclusively (in-memory stand-in for
// row-level locks), verifies the named lots exist in ascending-id order,
// and runs fn against a snapshot-rollback view.
func (m *Memory) WithLots(ctx context.Context, ids []allocation.LotID, fn func(allocation.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := append([]allocation.LotID{}, ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, id := range sorted {
		if _, err := m.getLotLocked(id); err != nil {
			return err
		}
	}

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	lots         map[allocation.LotID]allocation.Lot
	reservations map[allocation.ReservationID]allocation.Reservation
	lines        map[allocation.DemandLineID]allocation.DemandLine
	groups       map[allocation.DemandGroupID]allocation.DemandGroup
	traceLen     int
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		lots:         make(map[allocation.LotID]allocation.Lot, len(m.lots)),
		reservations: make(map[allocation.ReservationID]allocation.Reservation, len(m.reservations)),
		lines:        make(map[allocation.DemandLineID]allocation.DemandLine, len(m.lines)),
		groups:       make(map[allocation.DemandGroupID]allocation.DemandGroup, len(m.groups)),
		traceLen:     len(m.traces),
	}
	for k, v := range m.lots {
		s.lots[k] = v
	}
	for k, v := range m.reservations {
		s.reservations[k] = v
	}
	for k, v := range m.lines {
		s.lines[k] = v
	}
	for k, v := range m.groups {
		s.groups[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.lots = s.lots
	m.reservations = s.reservations
	m.lines = s.lines
	m.groups = s.groups
	m.traces = m.traces[:s.traceLen]
}

// txView runs against the parent's maps while the parent holds its own lock.
type txView struct {
	parent *Memory
}

func (tv *txView) GetLot(_ context.Context, id allocation.LotID) (allocation.Lot, error) {
	return tv.parent.getLotLocked(id)
}

func (tv *txView) LotsByProduct(_ context.Context, productID allocation.ProductID, warehouseID *allocation.WarehouseID) ([]allocation.Lot, error) {
	return tv.parent.lotsByProductLocked(productID, warehouseID), nil
}

func (tv *txView) SaveLot(_ context.Context, lot allocation.Lot) error {
	tv.parent.lots[lot.ID] = lot
	return nil
}

func (tv *txView) GetReservation(_ context.Context, id allocation.ReservationID) (allocation.Reservation, error) {
	return tv.parent.getReservationLocked(id)
}

func (tv *txView) ReservationsByLot(_ context.Context, lotID allocation.LotID) ([]allocation.Reservation, error) {
	return tv.parent.reservationsLocked(func(r allocation.Reservation) bool { return r.LotID == lotID }), nil
}

func (tv *txView) ReservationsByLine(_ context.Context, lineID allocation.DemandLineID) ([]allocation.Reservation, error) {
	return tv.parent.reservationsLocked(func(r allocation.Reservation) bool { return r.LineID == lineID }), nil
}

func (tv *txView) TemporaryCreatedBefore(_ context.Context, cutoff time.Time) ([]allocation.Reservation, error) {
	return tv.parent.reservationsLocked(func(r allocation.Reservation) bool {
		return r.Status == allocation.ReservationTemporary && r.CreatedAt.Before(cutoff)
	}), nil
}

func (tv *txView) SaveReservation(_ context.Context, r allocation.Reservation) error {
	tv.parent.reservations[r.ID] = r
	return nil
}

func (tv *txView) GetLine(_ context.Context, id allocation.DemandLineID) (allocation.DemandLine, error) {
	return tv.parent.getLineLocked(id)
}

func (tv *txView) LinesByGroup(_ context.Context, groupID allocation.DemandGroupID) ([]allocation.DemandLine, error) {
	return tv.parent.linesByGroupLocked(groupID), nil
}

func (tv *txView) SaveLine(_ context.Context, line allocation.DemandLine) error {
	tv.parent.lines[line.ID] = line
	return nil
}

func (tv *txView) GetGroup(_ context.Context, id allocation.DemandGroupID) (allocation.DemandGroup, error) {
	return tv.parent.getGroupLocked(id)
}

func (tv *txView) SaveGroup(_ context.Context, group allocation.DemandGroup) error {
	tv.parent.groups[group.ID] = group
	return nil
}

func (tv *txView) AppendTrace(_ context.Context, rec allocation.TraceRecord) error {
	tv.parent.traces = append(tv.parent.traces, rec)
	return nil
}

func (tv *txView) TracesByLine(_ context.Context, lineID allocation.DemandLineID) ([]allocation.TraceRecord, error) {
	var result []allocation.TraceRecord
	for _, rec := range tv.parent.traces {
		if rec.LineID == lineID {
			result = append(result, rec)
		}
	}
	return result, nil
}

package padstore

import (
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

// MemoryTable is an in-memory Table backed by a sorted slice.
// Values are copied on the way in and on the way out.
type MemoryTable struct {
	mu      sync.RWMutex
	records []Record
	pageCap int
}

// NewMemoryTable creates an empty MemoryTable. A non-positive pageCap selects
// DefaultPageCap.
func NewMemoryTable(pageCap int) *MemoryTable {
	if pageCap <= 0 {
		pageCap = DefaultPageCap
	}
	return &MemoryTable{
		records: make([]Record, 0),
		pageCap: pageCap,
	}
}

func compareRecordKey(r Record, key string) int {
	return strings.Compare(r.Key, key)
}

func copyBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// Put stores value under key.
func (m *MemoryTable) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.putLocked(key, value)
	return nil
}

func (m *MemoryTable) putLocked(key string, value []byte) {
	idx, found := slices.BinarySearchFunc(m.records, key, compareRecordKey)
	if found {
		m.records[idx].Value = copyBytes(value)
		return
	}
	m.records = slices.Insert(m.records, idx, Record{Key: key, Value: copyBytes(value)})
}

// Scan returns up to limit records within r.
func (m *MemoryTable) Scan(r Range, limit int) ([]Record, error) {
	limit = clampLimit(limit, m.pageCap)
	if limit <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, found := slices.BinarySearchFunc(m.records, r.Start, compareRecordKey)
	if found && !r.StartInclusive {
		idx++
	}

	out := make([]Record, 0)
	for ; idx < len(m.records) && len(out) < limit; idx++ {
		rec := m.records[idx]
		if !r.beforeEnd(rec.Key) {
			break
		}
		out = append(out, Record{Key: rec.Key, Value: copyBytes(rec.Value)})
	}
	return out, nil
}

// Delete removes key if present.
func (m *MemoryTable) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteLocked(key)
	return nil
}

func (m *MemoryTable) deleteLocked(key string) {
	idx, found := slices.BinarySearchFunc(m.records, key, compareRecordKey)
	if found {
		m.records = slices.Delete(m.records, idx, idx+1)
	}
}

// PageCap returns the maximum number of records per Scan.
func (m *MemoryTable) PageCap() int {
	return m.pageCap
}

// Len returns the number of stored records.
func (m *MemoryTable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

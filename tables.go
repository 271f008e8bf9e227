package paddock

import (
	"github.com/bcongdon/paddock/internal/pkg/padstore"
)

// Table is an ordered key -> blob store with bounded range scans. Tables
// back job input, job output and the shuffle between Map and Reduce.
type Table = padstore.Table

// NewMemoryTable returns an empty in-memory Table.
func NewMemoryTable() Table {
	return padstore.NewMemoryTable(padstore.DefaultPageCap)
}

// NewLocalTable opens a Table persisted to a bolt database file at path.
func NewLocalTable(path string) (Table, error) {
	return padstore.OpenLocalTable(path)
}

// NewS3Table returns a Table storing one object per record under
// s3://bucket/prefix.
func NewS3Table(bucket, prefix string) (Table, error) {
	return padstore.NewS3Table(bucket, prefix)
}

// InferTable opens the Table described by location: s3://bucket/prefix,
// mem://, or a local file path.
func InferTable(location string) (Table, error) {
	return padstore.InferTable(location)
}

// TableSource reads job input from a Table.
type TableSource struct {
	Table Table
}

// Get returns up to maxEntries records within r.
func (s TableSource) Get(r ShardRange, maxEntries int) ([]KeyValue, error) {
	if maxEntries <= 0 || r.Empty() {
		return []KeyValue{}, nil
	}
	records, err := s.Table.Scan(r.table(), maxEntries)
	if err != nil {
		return nil, err
	}
	out := make([]KeyValue, len(records))
	for i, rec := range records {
		out[i] = KeyValue{Key: rec.Key, Value: rec.Value}
	}
	return out, nil
}

// TableSink writes job output to a Table keyed by the emitted key.
// Rewriting a key overwrites it, so re-applied output is harmless.
type TableSink struct {
	Table Table
}

// Put stores value under key.
func (s TableSink) Put(key string, value []byte) error {
	return s.Table.Put(key, value)
}

package padstore

import (
	"fmt"
	"strings"
)

// DefaultPageCap is the largest number of records a single Scan returns
// unless a Table is configured otherwise. It matches the S3 listing cap.
const DefaultPageCap = 1000

// Record is a single key and its stored blob.
type Record struct {
	Key   string
	Value []byte
}

// Range describes a contiguous, ordered span of keys. Each bound carries its
// own inclusivity flag. An EndUnbounded range ignores End.
type Range struct {
	Start          string
	End            string
	StartInclusive bool
	EndInclusive   bool
	EndUnbounded   bool
}

// afterStart reports whether key satisfies the lower bound of r.
func (r Range) afterStart(key string) bool {
	if r.StartInclusive {
		return key >= r.Start
	}
	return key > r.Start
}

// beforeEnd reports whether key satisfies the upper bound of r.
func (r Range) beforeEnd(key string) bool {
	if r.EndUnbounded {
		return true
	}
	if r.EndInclusive {
		return key <= r.End
	}
	return key < r.End
}

// Contains reports whether key lies within r.
func (r Range) Contains(key string) bool {
	return r.afterStart(key) && r.beforeEnd(key)
}

// Table is an ordered key -> blob store that only supports point writes and
// bounded range scans. It is the storage model for job input, job output and
// intermediate shuffle data.
//
// Implementations must be safe for concurrent use.
type Table interface {
	// Put stores value under key, replacing any previous value.
	Put(key string, value []byte) error
	// Scan returns up to limit records within r, ordered ascending by key.
	// limit is clamped to PageCap.
	Scan(r Range, limit int) ([]Record, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
	// PageCap is the maximum number of records a single Scan can return.
	PageCap() int
}

// clampLimit bounds a requested scan size by a table's page cap.
func clampLimit(limit, pageCap int) int {
	if limit > pageCap {
		return pageCap
	}
	return limit
}

// InferTable opens the Table described by location.
//   - s3://bucket/prefix opens an S3Table
//   - mem:// opens an empty MemoryTable
//   - anything else is treated as the path of a LocalTable
func InferTable(location string) (Table, error) {
	switch {
	case strings.HasPrefix(location, "s3://"):
		bucket, prefix := parseS3Location(location)
		if bucket == "" {
			return nil, fmt.Errorf("missing bucket in %q", location)
		}
		return NewS3Table(bucket, prefix)
	case strings.HasPrefix(location, "mem://"):
		return NewMemoryTable(DefaultPageCap), nil
	default:
		return OpenLocalTable(location)
	}
}

func parseS3Location(location string) (bucket, prefix string) {
	trimmed := strings.TrimPrefix(location, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = parts[1]
	}
	return bucket, prefix
}

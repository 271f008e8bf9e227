package paddock

import (
	"encoding/json"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/bcongdon/paddock/internal/pkg/padstore"
)

// boundaryAlphabet is the ordered alphabet shard boundary prefixes are drawn from.
const boundaryAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// ShardRange is a contiguous span of the key space. By default a range
// starts exclusively and ends inclusively, so a shard can be resumed right
// after the last key it processed.
type ShardRange struct {
	Start          string
	End            string
	StartInclusive bool
	EndInclusive   bool
}

// NewShardRange returns the default (start, end] range.
func NewShardRange(start, end string) ShardRange {
	return ShardRange{Start: start, End: end, EndInclusive: true}
}

// Contains reports whether key lies within the range.
func (r ShardRange) Contains(key string) bool {
	return r.table().Contains(key)
}

// Resume returns the remainder of the range strictly after key.
func (r ShardRange) Resume(after string) ShardRange {
	return ShardRange{
		Start:        after,
		End:          r.End,
		EndInclusive: r.EndInclusive,
	}
}

// openEnded reports whether the range extends past MaxKey to every larger
// byte string.
func (r ShardRange) openEnded() bool {
	return r.End == MaxKey && r.EndInclusive
}

// Empty reports whether no key can fall within the range.
func (r ShardRange) Empty() bool {
	if r.Start < r.End || r.openEnded() {
		return false
	}
	return !(r.Start == r.End && r.StartInclusive && r.EndInclusive)
}

func (r ShardRange) String() string {
	open, closed := "(", "]"
	if r.StartInclusive {
		open = "["
	}
	if !r.EndInclusive {
		closed = ")"
	}
	return fmt.Sprintf("%s%q, %q%s", open, r.Start, r.End, closed)
}

func (r ShardRange) table() padstore.Range {
	return padstore.Range{
		Start:          r.Start,
		End:            r.End,
		StartInclusive: r.StartInclusive,
		EndInclusive:   r.EndInclusive,
		EndUnbounded:   r.openEnded(),
	}
}

// shardRangeWire carries range bounds as raw bytes. JSON strings would
// replace invalid UTF-8 such as MaxKey with U+FFFD.
type shardRangeWire struct {
	Start          []byte `json:"start"`
	End            []byte `json:"end"`
	StartInclusive bool   `json:"start_inclusive,omitempty"`
	EndInclusive   bool   `json:"end_inclusive"`
}

// MarshalJSON encodes the range with byte-exact bounds.
func (r ShardRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(shardRangeWire{
		Start:          []byte(r.Start),
		End:            []byte(r.End),
		StartInclusive: r.StartInclusive,
		EndInclusive:   r.EndInclusive,
	})
}

// UnmarshalJSON decodes a range written by MarshalJSON.
func (r *ShardRange) UnmarshalJSON(data []byte) error {
	var wire shardRangeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = ShardRange{
		Start:          string(wire.Start),
		End:            string(wire.End),
		StartInclusive: wire.StartInclusive,
		EndInclusive:   wire.EndInclusive,
	}
	return nil
}

// prefixWidth returns the smallest w such that len(alphabet)^w >= n.
func prefixWidth(n int) (width int, space int) {
	width, space = 1, len(boundaryAlphabet)
	for space < n {
		width++
		space *= len(boundaryAlphabet)
	}
	return width, space
}

// encodePrefix renders v as a fixed-width number in boundaryAlphabet.
func encodePrefix(v, width int) string {
	base := len(boundaryAlphabet)
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = boundaryAlphabet[v%base]
		v /= base
	}
	return string(buf)
}

// GenerateBoundaries returns n+1 strictly increasing keys partitioning the
// key space into n shards: MinKey, n-1 evenly spaced alphanumeric prefixes,
// then MaxKey.
func GenerateBoundaries(n int) ([]string, error) {
	if n < 1 {
		return nil, &ConfigurationError{Field: "shard count", Reason: fmt.Sprintf("must be at least 1, got %d", n)}
	}

	width, space := prefixWidth(n)
	boundaries := make([]string, 0, n+1)
	boundaries = append(boundaries, MinKey)
	for i := 1; i < n; i++ {
		boundaries = append(boundaries, encodePrefix(i*space/n, width))
	}
	boundaries = append(boundaries, MaxKey)
	return boundaries, nil
}

// ShardRanges turns boundaries into tiling ranges. The first range includes
// MinKey so that every key, the empty key included, is owned by exactly one
// shard.
func ShardRanges(boundaries []string) []ShardRange {
	if len(boundaries) < 2 {
		return []ShardRange{}
	}
	ranges := make([]ShardRange, len(boundaries)-1)
	for i := 1; i < len(boundaries); i++ {
		ranges[i-1] = NewShardRange(boundaries[i-1], boundaries[i])
	}
	ranges[0].StartInclusive = true
	return ranges
}

// ShardPlanner computes and caches shard ranges per shard count.
type ShardPlanner struct {
	cache *lru.Cache
}

// NewShardPlanner creates a planner caching up to cacheSize boundary sets.
func NewShardPlanner(cacheSize int) (*ShardPlanner, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &ShardPlanner{cache: cache}, nil
}

// Plan returns the n shard ranges for a phase.
func (p *ShardPlanner) Plan(n int) ([]ShardRange, error) {
	if cached, ok := p.cache.Get(n); ok {
		return slices.Clone(cached.([]ShardRange)), nil
	}

	boundaries, err := GenerateBoundaries(n)
	if err != nil {
		return nil, err
	}
	if !slices.IsSorted(boundaries) || len(slices.Compact(slices.Clone(boundaries))) != len(boundaries) {
		return nil, fmt.Errorf("boundaries not strictly increasing: %s", strings.Join(boundaries, ","))
	}

	ranges := ShardRanges(boundaries)
	log.Debugf("Planned %d shards", len(ranges))
	p.cache.Add(n, ranges)
	return slices.Clone(ranges), nil
}

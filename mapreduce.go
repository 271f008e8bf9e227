package paddock

// MinKey is the smallest key. It opens the key space.
const MinKey = ""

// MaxKey closes the key space. Byte 0xFF never occurs in UTF-8 text, so
// MaxKey compares greater than every valid text key. A range ending
// inclusively at MaxKey has no upper bound: arbitrary byte keys such as
// "\xff\x01" still belong to the last shard.
const MaxKey = "\xff"

// KeyValue is a single record flowing through a job.
type KeyValue struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// Source provides job input.
type Source interface {
	// Get returns at most maxEntries records within r, ordered ascending by
	// key. Get holds no cursor state between calls.
	Get(r ShardRange, maxEntries int) ([]KeyValue, error)
}

// Sink receives job output. Sinks that derive a record's identity from its
// value may ignore key.
type Sink interface {
	Put(key string, value []byte) error
}

// Mapper defines the interface for a Map task.
// Map must not have side effects other than emitted pairs: a failed
// invocation is retried from its start, so the same record may be mapped
// more than once.
type Mapper interface {
	Map(key string, value []byte, emitter Emitter) error
}

// Reducer defines the interface for a Reduce task.
// Reduce is called once per distinct intermediate key with the complete bag
// of values emitted for it. Value order is not significant.
type Reducer interface {
	Reduce(key string, values *ValueIterator, emitter Emitter) error
}

// MapperFunc adapts an ordinary function to the Mapper interface.
type MapperFunc func(key string, value []byte, emitter Emitter) error

// Map calls f(key, value, emitter).
func (f MapperFunc) Map(key string, value []byte, emitter Emitter) error {
	return f(key, value, emitter)
}

// ReducerFunc adapts an ordinary function to the Reducer interface.
type ReducerFunc func(key string, values *ValueIterator, emitter Emitter) error

// Reduce calls f(key, values, emitter).
func (f ReducerFunc) Reduce(key string, values *ValueIterator, emitter Emitter) error {
	return f(key, values, emitter)
}

// ValueIterator iterates over a sequence of values.
// This is used during the Reduce phase, wherein a reduce task
// iterates over all values for a particular key.
type ValueIterator struct {
	values [][]byte
	pos    int
}

func newValueIterator(values [][]byte) *ValueIterator {
	return &ValueIterator{values: values, pos: -1}
}

// Next advances to the next value, returning false once the bag is exhausted.
func (v *ValueIterator) Next() bool {
	if v.pos+1 >= len(v.values) {
		v.pos = len(v.values)
		return false
	}
	v.pos++
	return true
}

// Value returns the current value. It is only valid after Next returned true.
func (v *ValueIterator) Value() []byte {
	return v.values[v.pos]
}

// Len returns the size of the bag.
func (v *ValueIterator) Len() int {
	return len(v.values)
}

// All returns every value in the bag regardless of iteration state.
func (v *ValueIterator) All() [][]byte {
	return v.values
}

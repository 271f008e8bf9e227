package paddock

// Emitter enables mappers and reducers to yield key-value pairs.
type Emitter interface {
	Emit(key string, value []byte) error
}

type emitStats struct {
	pairs int
	bytes int64
}

// countingEmitter forwards pairs to put and remembers the first failure, so
// a Mapper or Reducer that drops an Emit error still aborts its invocation.
type countingEmitter struct {
	op      string
	put     func(key string, value []byte) error
	written emitStats
	err     error
}

// newMapperEmitter returns an emitter appending to the shuffle bags of a job.
func newMapperEmitter(shuffle *shuffleStore) *countingEmitter {
	return &countingEmitter{op: "shuffle write", put: shuffle.Write}
}

// newReducerEmitter returns an emitter writing final output to a Sink.
func newReducerEmitter(sink Sink) *countingEmitter {
	return &countingEmitter{op: "sink put", put: sink.Put}
}

// Emit yields a key-value pair to the framework.
func (e *countingEmitter) Emit(key string, value []byte) error {
	if e.err != nil {
		return e.err
	}
	if err := e.put(key, value); err != nil {
		e.err = storageError(e.op, err)
		return e.err
	}
	e.written.pairs++
	e.written.bytes += int64(len(key) + len(value))
	return nil
}

func (e *countingEmitter) failure() error {
	return e.err
}

func (e *countingEmitter) stats() emitStats {
	return e.written
}

package paddock

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedExecutor wraps an executor, records every invocation and can fail
// shard tasks a fixed number of times per descriptor.
type scriptedExecutor struct {
	inner executor

	mu          sync.Mutex
	calls       []task
	failures    map[ShardDescriptor]int
	failEvery   int // fail the first failEvery attempts of each shard task
	failWith    error
	delay       time.Duration
	inFlight    int
	maxInFlight int
}

func (s *scriptedExecutor) Invoke(ctx context.Context, t task) (taskResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, t)
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	fail := false
	if t.Kind == MapShardTask || t.Kind == ReduceShardTask {
		if s.failures == nil {
			s.failures = map[ShardDescriptor]int{}
		}
		if s.failEvery < 0 || s.failures[t.Shard] < s.failEvery {
			s.failures[t.Shard]++
			fail = true
		}
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if fail {
		return taskResult{}, s.failWith
	}
	return s.inner.Invoke(ctx, t)
}

func (s *scriptedExecutor) kinds() []TaskKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]TaskKind, len(s.calls))
	for i, c := range s.calls {
		kinds[i] = c.Kind
	}
	return kinds
}

func (s *scriptedExecutor) count(kind TaskKind) int {
	n := 0
	for _, k := range s.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

type recordedSleeps struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	return nil
}

func newTestDriver(t *testing.T, tj *testJob, options ...Option) (*Driver, *scriptedExecutor, *recordedSleeps) {
	d, err := NewDriver(tj.job, options...)
	require.Nil(t, err)

	scripted := &scriptedExecutor{inner: d.executor}
	sleeps := &recordedSleeps{}
	d.executor = scripted
	d.sleep = sleeps.sleep
	d.progress = false
	return d, scripted, sleeps
}

var tokenDocs = map[string]string{"D1": "a b a", "D2": "b c"}

var tokenIndex = map[string][]string{
	"a": {"D1"},
	"b": {"D1", "D2"},
	"c": {"D2"},
}

func TestDriverEndToEnd(t *testing.T) {
	tj := newTestJob(t, tokenDocs)
	d, _, _ := newTestDriver(t, tj, WithShardCount(4), WithMaxEntries(1))

	require.Nil(t, d.Run(context.Background()))
	assert.Equal(t, tokenIndex, tj.outputs(t))
	assert.Equal(t, 2, d.stats[MapPhase].ItemsProcessed)
	assert.Equal(t, 3, d.stats[ReducePhase].ItemsProcessed)
}

func TestDriverRemoteEndToEnd(t *testing.T) {
	tj := newTestJob(t, tokenDocs)
	co := newTestCoordinator(t, tj, WithShardCount(3), WithMaxEntries(1))
	server := httptest.NewServer(co)
	defer server.Close()

	d, err := NewRemoteDriver(server.URL, WithMaxInFlight(2))
	require.Nil(t, err)
	d.progress = false

	require.Nil(t, d.Run(context.Background()))
	assert.Equal(t, tokenIndex, tj.outputs(t))
}

func TestDriverKeysPastMaxKey(t *testing.T) {
	tj := newTestJob(t, map[string]string{"D1": "a \xff\x01 b", "\xffdoc": "c"})
	co := newTestCoordinator(t, tj, WithShardCount(3), WithMaxEntries(1))
	server := httptest.NewServer(co)
	defer server.Close()

	d, err := NewRemoteDriver(server.URL)
	require.Nil(t, err)
	d.progress = false

	require.Nil(t, d.Run(context.Background()))
	assert.Equal(t, 2, d.stats[MapPhase].ItemsProcessed)
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1, "\xff\x01": 1}, tj.reducer.calls)

	records, err := tj.output.Scan(NewShardRange(MinKey, MaxKey).table(), 100)
	require.Nil(t, err)
	keys := make([]string, len(records))
	for i, rec := range records {
		keys[i] = rec.Key
	}
	assert.Equal(t, []string{"a", "b", "c", "\xff\x01"}, keys)
}

func TestNewRemoteDriverRequiresEndpoint(t *testing.T) {
	_, err := NewRemoteDriver("")
	var cerr *ConfigurationError
	assert.True(t, errors.As(err, &cerr))
}

func TestDriverRetriesTransportErrors(t *testing.T) {
	tj := newTestJob(t, tokenDocs)
	d, scripted, sleeps := newTestDriver(t, tj,
		WithShardCount(1),
		WithMaxAttempts(5),
		WithRetryBackoff(time.Second, 90*time.Second),
	)
	scripted.failEvery = 2
	scripted.failWith = &TransportError{Err: errors.New("connection reset")}

	require.Nil(t, d.Run(context.Background()))
	assert.Equal(t, tokenIndex, tj.outputs(t))

	require.NotEmpty(t, sleeps.sleeps)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.sleeps[:2])
}

func TestDriverRetryExhaustion(t *testing.T) {
	tj := newTestJob(t, tokenDocs)
	d, scripted, _ := newTestDriver(t, tj, WithShardCount(1), WithMaxAttempts(3), WithMaxInFlight(1))
	scripted.failEvery = -1
	scripted.failWith = &StorageError{Op: "source get", Err: errors.New("throttled")}

	err := d.Run(context.Background())
	var uerr *UnrecoverableError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, 3, uerr.Attempts)
	assert.Equal(t, MapPhase, uerr.Shard.Phase)

	assert.Equal(t, 3, scripted.count(MapShardTask))
	assert.Equal(t, 0, scripted.count(ReduceMasterTask))
	assert.Empty(t, tj.outputs(t))
}

func TestDriverFatalErrorNotRetried(t *testing.T) {
	tj := newTestJob(t, tokenDocs)
	tj.mapper.fail = errors.New("bad record")
	d, scripted, sleeps := newTestDriver(t, tj, WithShardCount(1))

	err := d.Run(context.Background())
	var uerr *UnrecoverableError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, 1, uerr.Attempts)
	var terr *TaskError
	assert.True(t, errors.As(err, &terr))

	assert.Equal(t, 1, scripted.count(MapShardTask))
	assert.Empty(t, sleeps.sleeps)
}

func TestDriverContinuationPriority(t *testing.T) {
	tj := newTestJob(t, map[string]string{"a": "x", "b": "y", "x": "z"})
	d, scripted, _ := newTestDriver(t, tj, WithShardCount(2), WithMaxEntries(1), WithMaxInFlight(1))

	require.Nil(t, d.Run(context.Background()))

	var ends []string
	for _, c := range scripted.calls {
		if c.Kind == MapShardTask {
			ends = append(ends, c.Shard.Range.End)
		}
	}
	// Boundaries are "", "i", MaxKey: the first shard holds a and b.
	assert.Equal(t, []string{"i", "i", "i", MaxKey, MaxKey}, ends)
}

func TestDriverMaxInFlight(t *testing.T) {
	tj := newTestJob(t, tokenDocs)
	d, scripted, _ := newTestDriver(t, tj, WithShardCount(8), WithMaxInFlight(2))
	scripted.delay = 5 * time.Millisecond

	require.Nil(t, d.Run(context.Background()))
	assert.LessOrEqual(t, scripted.maxInFlight, 2)
	assert.Equal(t, tokenIndex, tj.outputs(t))
}

func TestDriverPhaseBarrier(t *testing.T) {
	tj := newTestJob(t, tokenDocs)
	d, _, _ := newTestDriver(t, tj, WithShardCount(6), WithMaxEntries(1))
	scripted := d.executor.(*scriptedExecutor)
	scripted.delay = time.Millisecond

	require.Nil(t, d.Run(context.Background()))

	kinds := scripted.kinds()
	lastMap, firstReduce := -1, len(kinds)
	for i, k := range kinds {
		if k == MapShardTask || k == MapMasterTask {
			lastMap = i
		}
		if (k == ReduceShardTask || k == ReduceMasterTask) && i < firstReduce {
			firstReduce = i
		}
	}
	assert.Less(t, lastMap, firstReduce)
}

func TestDriverCancelled(t *testing.T) {
	tj := newTestJob(t, tokenDocs)
	d, _, _ := newTestDriver(t, tj)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NotNil(t, d.Run(ctx))
}

func TestRetryPolicy(t *testing.T) {
	policy := retryPolicy{maxAttempts: 3, step: 2 * time.Second, max: 5 * time.Second}

	assert.Equal(t, 2*time.Second, policy.backoff(1))
	assert.Equal(t, 4*time.Second, policy.backoff(2))
	assert.Equal(t, 5*time.Second, policy.backoff(3))

	assert.False(t, policy.exhausted(2))
	assert.True(t, policy.exhausted(3))
	assert.False(t, retryPolicy{}.exhausted(1000))
}

func TestWorkQueue(t *testing.T) {
	fresh := []ShardDescriptor{
		{Range: NewShardRange("", "m")},
		{Range: NewShardRange("m", MaxKey)},
	}
	queue := newWorkQueue(fresh)
	assert.Equal(t, 2, queue.Len())

	first := queue.pop()
	assert.Equal(t, "m", first.Range.End)

	queue.pushContinuation(ShardDescriptor{Range: NewShardRange("c", "m")})
	assert.Equal(t, "c", queue.pop().Range.Start)
	assert.Equal(t, MaxKey, queue.pop().Range.End)
	assert.Equal(t, 0, queue.Len())
}

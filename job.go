package paddock

import (
	"errors"
	"fmt"
	"strings"

	humanize "github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// JobSpec binds the collaborators of a MapReduce job. It is validated once
// by NewJob and never modified afterwards.
type JobSpec struct {
	// Namespace isolates this job's intermediate data in the Shuffle table.
	Namespace string
	Source    Source
	Sink      Sink
	Mapper    Mapper
	Reducer   Reducer
	// Shuffle stores intermediate data between the Map and Reduce phases.
	Shuffle Table
}

// Job is a validated JobSpec ready to execute shard tasks. A Job is never
// modified after NewJob, so any number of coordinators may share one.
type Job struct {
	spec JobSpec
}

// NewJob validates spec and returns a Job. Missing bindings are reported as
// a *ConfigurationError.
func NewJob(spec JobSpec) (*Job, error) {
	switch {
	case spec.Mapper == nil:
		return nil, &ConfigurationError{Field: "Mapper", Reason: "required"}
	case spec.Reducer == nil:
		return nil, &ConfigurationError{Field: "Reducer", Reason: "required"}
	case spec.Source == nil:
		return nil, &ConfigurationError{Field: "Source", Reason: "required"}
	case spec.Sink == nil:
		return nil, &ConfigurationError{Field: "Sink", Reason: "required"}
	case spec.Shuffle == nil:
		return nil, &ConfigurationError{Field: "Shuffle", Reason: "required"}
	case spec.Namespace == "":
		return nil, &ConfigurationError{Field: "Namespace", Reason: "required"}
	case strings.Contains(spec.Namespace, "/"):
		return nil, &ConfigurationError{Field: "Namespace", Reason: "must not contain '/'"}
	}

	return &Job{spec: spec}, nil
}

// Namespace returns the job's intermediate data namespace.
func (j *Job) Namespace() string {
	return j.spec.Namespace
}

// newShuffle opens the job's intermediate data, drained pageSize entries at
// a time.
func (j *Job) newShuffle(pageSize int) *shuffleStore {
	return newShuffleStore(j.spec.Shuffle, j.spec.Namespace, pageSize)
}

// userError wraps a Mapper or Reducer failure. Storage failures surfaced
// through the emitter keep their StorageError type.
func userError(emitter *countingEmitter, err error, format string, args ...interface{}) error {
	if ferr := emitter.failure(); ferr != nil {
		return ferr
	}
	if err == nil {
		return nil
	}
	var serr *StorageError
	if errors.As(err, &serr) {
		return err
	}
	return &TaskError{Msg: fmt.Sprintf(format, args...), Err: err}
}

// runMapper maps one batch of records from shard, stopping early when the
// timer says another record might not finish in time.
func (j *Job) runMapper(shuffle *shuffleStore, shard ShardDescriptor, timer *taskTimer) (taskResult, error) {
	logger := log.WithFields(log.Fields{"phase": shard.Phase, "range": shard.Range})

	records, err := j.spec.Source.Get(shard.Range, shard.MaxEntries)
	if err != nil {
		return taskResult{}, storageError("source get", err)
	}

	emitter := newMapperEmitter(shuffle)
	lastKey := ""
	mapped := 0
	for _, record := range records {
		if timer.ShouldStop() {
			logger.Debugf("Stopping after %d of %d records to stay within deadline", mapped, len(records))
			break
		}
		err := j.spec.Mapper.Map(record.Key, record.Value, emitter)
		if err = userError(emitter, err, "map %q", record.Key); err != nil {
			return taskResult{}, err
		}
		lastKey = record.Key
		mapped++
		timer.ItemCompleted()
	}

	result := taskResult{
		Stats: taskStats{
			RecordsRead:    len(records),
			ItemsProcessed: mapped,
			PairsEmitted:   emitter.stats().pairs,
			BytesWritten:   emitter.stats().bytes,
			Elapsed:        timer.Elapsed(),
		},
	}
	if len(records) > 0 {
		result.Next = newContinuation(shard, lastKey)
	}

	logger.Debugf("Mapped %s records, shuffled %s", humanize.Comma(int64(mapped)), humanize.Bytes(uint64(result.Stats.BytesWritten)))
	return result, nil
}

// runReducer reduces up to shard.MaxEntries distinct intermediate keys,
// each with its complete bag of values.
func (j *Job) runReducer(shuffle *shuffleStore, shard ShardDescriptor, timer *taskTimer) (taskResult, error) {
	logger := log.WithFields(log.Fields{"phase": shard.Phase, "range": shard.Range})

	emitter := newReducerEmitter(j.spec.Sink)
	stats := taskStats{}
	remaining := shard.Range
	lastKey := ""
	reduced := 0

	// Draining a huge bag can take longer than the deadline policy expects,
	// so pages are only fetched past the threshold for an invocation's
	// first key.
	keepGoing := func() bool {
		return reduced == 0 || !timer.Overdue(0)
	}

	for reduced < shard.MaxEntries {
		if timer.ShouldStop() {
			logger.Debugf("Stopping after %d keys to stay within deadline", reduced)
			break
		}

		key, ok, err := shuffle.NextKey(remaining)
		if err != nil {
			return taskResult{}, storageError("shuffle scan", err)
		}
		if !ok {
			break
		}

		values, err := shuffle.Bag(key, keepGoing)
		if errors.Is(err, errBagAbandoned) {
			logger.Debugf("Abandoned bag for %q to stay within deadline", key)
			break
		} else if err != nil {
			return taskResult{}, storageError("shuffle read", err)
		}
		stats.RecordsRead += len(values)

		err = j.spec.Reducer.Reduce(key, newValueIterator(values), emitter)
		if err = userError(emitter, err, "reduce %q", key); err != nil {
			return taskResult{}, err
		}

		lastKey = key
		reduced++
		remaining = remaining.Resume(key)
		timer.ItemCompleted()
	}

	stats.ItemsProcessed = reduced
	stats.PairsEmitted = emitter.stats().pairs
	stats.BytesWritten = emitter.stats().bytes
	stats.Elapsed = timer.Elapsed()

	result := taskResult{Stats: stats}
	if reduced > 0 {
		result.Next = newContinuation(shard, lastKey)
	}

	logger.Debugf("Reduced %s keys, wrote %s", humanize.Comma(int64(reduced)), humanize.Bytes(uint64(stats.BytesWritten)))
	return result, nil
}

package paddock

import (
	"context"
	"time"

	humanize "github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// Coordinator answers task invocations for a Job: master tasks list the
// shards of a phase, shard tasks run one time-boxed batch of a shard.
type Coordinator struct {
	job      *Job
	config   *config
	planner  *ShardPlanner
	shuffle  *shuffleStore
	handlers map[TaskKind]taskHandler
}

type taskHandler func(ctx context.Context, shard ShardDescriptor) (taskResult, error)

// NewCoordinator creates a Coordinator for job. Invalid shard settings are
// reported as a *ConfigurationError.
func NewCoordinator(job *Job, options ...Option) (*Coordinator, error) {
	c := newConfig()
	for _, f := range options {
		f(c)
	}
	return newCoordinator(job, c)
}

func newCoordinator(job *Job, c *config) (*Coordinator, error) {
	if _, err := GenerateBoundaries(c.ShardCount); err != nil {
		return nil, err
	}
	if c.ReduceShardCount < 0 {
		return nil, &ConfigurationError{Field: "reduce_shard_count", Reason: "must not be negative"}
	}
	if _, err := GenerateBoundaries(c.reduceShards()); err != nil {
		return nil, err
	}
	if c.TaskTimeout <= 0 {
		return nil, &ConfigurationError{Field: "task_timeout", Reason: "must be positive"}
	}

	planner, err := NewShardPlanner(4)
	if err != nil {
		return nil, err
	}

	co := &Coordinator{
		job:     job,
		config:  c,
		planner: planner,
		shuffle: job.newShuffle(c.ShufflePageSize),
	}
	co.handlers = map[TaskKind]taskHandler{
		MapMasterTask:    co.listShards,
		MapShardTask:     co.runShard,
		ReduceMasterTask: co.listShards,
		ReduceShardTask:  co.runShard,
	}
	return co, nil
}

// handle dispatches one task invocation.
func (co *Coordinator) handle(ctx context.Context, t task) (taskResult, error) {
	handler, ok := co.handlers[t.Kind]
	if !ok {
		return taskResult{}, &UnknownTaskError{Kind: t.Kind.String()}
	}
	if t.Shard.Phase != t.Kind.phase() {
		return taskResult{}, &UnknownTaskError{Kind: t.Kind.String() + " for phase " + t.Shard.Phase.String()}
	}
	return handler(ctx, t.Shard)
}

// listShards returns one descriptor per shard of the phase.
func (co *Coordinator) listShards(ctx context.Context, shard ShardDescriptor) (taskResult, error) {
	n := co.config.ShardCount
	if shard.Phase == ReducePhase {
		n = co.config.reduceShards()
	}

	ranges, err := co.planner.Plan(n)
	if err != nil {
		return taskResult{}, err
	}

	shards := make([]ShardDescriptor, len(ranges))
	for i, r := range ranges {
		shards[i] = ShardDescriptor{
			Phase:      shard.Phase,
			Range:      r,
			MaxEntries: co.config.MaxEntries,
		}
	}
	log.Debugf("Listing %d %s shards", len(shards), shard.Phase)
	return taskResult{Shards: shards}, nil
}

// budget is the configured task timeout, shortened to fit the context
// deadline when the hosting platform supplies one.
func (co *Coordinator) budget(ctx context.Context) time.Duration {
	budget := co.config.TaskTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < budget {
			budget = remaining
		}
	}
	return budget
}

// runShard executes one time-boxed batch of a Map or Reduce shard.
func (co *Coordinator) runShard(ctx context.Context, shard ShardDescriptor) (taskResult, error) {
	timer := newTaskTimer(co.budget(ctx))
	timer.Start()

	var (
		result taskResult
		err    error
	)
	if shard.Phase == MapPhase {
		result, err = co.job.runMapper(co.shuffle, shard, timer)
	} else {
		result, err = co.job.runReducer(co.shuffle, shard, timer)
	}
	if err != nil {
		log.WithFields(log.Fields{"phase": shard.Phase, "range": shard.Range}).Errorf("Shard invocation failed: %s", err)
		return taskResult{}, err
	}

	log.WithFields(log.Fields{
		"phase":     shard.Phase,
		"range":     shard.Range,
		"exhausted": result.Next == nil,
	}).Infof("Processed %s items (%s written) in %s",
		humanize.Comma(int64(result.Stats.ItemsProcessed)),
		humanize.Bytes(uint64(result.Stats.BytesWritten)),
		result.Stats.Elapsed)
	return result, nil
}

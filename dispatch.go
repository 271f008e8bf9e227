package paddock

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// workQueue orders pending shard invocations. Continuations of shards
// already started are handed out before fresh shards.
type workQueue struct {
	continuations []ShardDescriptor
	fresh         []ShardDescriptor
}

func newWorkQueue(shards []ShardDescriptor) *workQueue {
	fresh := make([]ShardDescriptor, len(shards))
	copy(fresh, shards)
	return &workQueue{fresh: fresh}
}

func (q *workQueue) Len() int {
	return len(q.continuations) + len(q.fresh)
}

func (q *workQueue) pushContinuation(shard ShardDescriptor) {
	q.continuations = append(q.continuations, shard)
}

func (q *workQueue) pop() ShardDescriptor {
	var shard ShardDescriptor
	if len(q.continuations) > 0 {
		shard, q.continuations = q.continuations[0], q.continuations[1:]
	} else {
		shard, q.fresh = q.fresh[0], q.fresh[1:]
	}
	return shard
}

// retryPolicy bounds attempts per invocation and spaces them out linearly.
type retryPolicy struct {
	maxAttempts int // 0 means unlimited
	step        time.Duration
	max         time.Duration
}

func (p retryPolicy) backoff(attempt int) time.Duration {
	wait := time.Duration(attempt) * p.step
	if p.max > 0 && wait > p.max {
		wait = p.max
	}
	return wait
}

func (p retryPolicy) exhausted(attempt int) bool {
	return p.maxAttempts > 0 && attempt >= p.maxAttempts
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// dispatchWithRetry invokes t until it succeeds, fails in a way retrying
// cannot fix, or exhausts the retry budget. Every failed attempt is retried
// from the same descriptor, never from partial progress.
func (d *Driver) dispatchWithRetry(ctx context.Context, t task) (taskResult, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return taskResult{}, err
		}
		result, err := d.executor.Invoke(ctx, t)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return taskResult{}, ctx.Err()
		}

		if !isRetryable(err) || d.retry.exhausted(attempt) {
			return taskResult{}, &UnrecoverableError{Shard: t.Shard, Attempts: attempt, Err: err}
		}

		wait := d.retry.backoff(attempt)
		log.WithFields(log.Fields{
			"task":    t.Kind,
			"range":   t.Shard.Range,
			"attempt": attempt,
		}).Warnf("Invocation failed, retrying in %s: %s", wait, err)
		if err := d.sleep(ctx, wait); err != nil {
			return taskResult{}, err
		}
	}
}

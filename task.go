package paddock

import (
	"encoding/json"
	"fmt"
	"time"
)

// Phase is a descriptor of the phase (i.e. Map or Reduce) of a Job
type Phase int

// Descriptors of the Job phase
const (
	MapPhase Phase = iota
	ReducePhase
)

func (p Phase) String() string {
	switch p {
	case MapPhase:
		return "Map"
	case ReducePhase:
		return "Reduce"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// TaskKind enumerates the task invocations a coordinator understands.
type TaskKind int

// Task kinds. Master tasks list a phase's shards; shard tasks run one
// time-boxed batch of a shard.
const (
	MapMasterTask TaskKind = iota
	MapShardTask
	ReduceMasterTask
	ReduceShardTask
)

func (k TaskKind) String() string {
	switch k {
	case MapMasterTask:
		return "map_master"
	case MapShardTask:
		return "mapper"
	case ReduceMasterTask:
		return "reduce_master"
	case ReduceShardTask:
		return "reducer"
	}
	return fmt.Sprintf("TaskKind(%d)", int(k))
}

func (k TaskKind) phase() Phase {
	if k == MapMasterTask || k == MapShardTask {
		return MapPhase
	}
	return ReducePhase
}

func masterTaskKind(phase Phase) (TaskKind, error) {
	switch phase {
	case MapPhase:
		return MapMasterTask, nil
	case ReducePhase:
		return ReduceMasterTask, nil
	}
	return 0, &UnknownTaskError{Kind: phase.String()}
}

func shardTaskKind(phase Phase) (TaskKind, error) {
	switch phase {
	case MapPhase:
		return MapShardTask, nil
	case ReducePhase:
		return ReduceShardTask, nil
	}
	return 0, &UnknownTaskError{Kind: phase.String()}
}

// ShardDescriptor describes one dispatchable batch of work over a shard.
type ShardDescriptor struct {
	Phase      Phase      `json:"phase"`
	Range      ShardRange `json:"range"`
	MaxEntries int        `json:"max_entries"`
}

func (d ShardDescriptor) String() string {
	return fmt.Sprintf("%s shard %s", d.Phase, d.Range)
}

// Continuation tells the driver where the next invocation for a shard
// starts. Range already begins exclusively after ResumeKey. A nil
// *Continuation means the shard is exhausted.
type Continuation struct {
	ShardDescriptor
	ResumeKey string `json:"resume_key"`
}

// continuationWire carries ResumeKey as raw bytes, like shardRangeWire.
type continuationWire struct {
	ShardDescriptor
	ResumeKey []byte `json:"resume_key"`
}

// MarshalJSON encodes the continuation with a byte-exact ResumeKey.
func (c Continuation) MarshalJSON() ([]byte, error) {
	return json.Marshal(continuationWire{ShardDescriptor: c.ShardDescriptor, ResumeKey: []byte(c.ResumeKey)})
}

// UnmarshalJSON decodes a continuation written by MarshalJSON.
func (c *Continuation) UnmarshalJSON(data []byte) error {
	var wire continuationWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*c = Continuation{ShardDescriptor: wire.ShardDescriptor, ResumeKey: string(wire.ResumeKey)}
	return nil
}

func newContinuation(shard ShardDescriptor, resumeKey string) *Continuation {
	next := shard
	next.Range = shard.Range.Resume(resumeKey)
	return &Continuation{ShardDescriptor: next, ResumeKey: resumeKey}
}

// task defines a serialized description of a single task invocation.
// For master tasks only Shard.Phase is meaningful.
type task struct {
	Kind  TaskKind        `json:"kind"`
	Shard ShardDescriptor `json:"shard"`
}

// taskStats are collected by every shard invocation.
type taskStats struct {
	RecordsRead    int           `json:"records_read"`
	ItemsProcessed int           `json:"items_processed"`
	PairsEmitted   int           `json:"pairs_emitted"`
	BytesWritten   int64         `json:"bytes_written"`
	Elapsed        time.Duration `json:"elapsed"`
}

func (s *taskStats) add(other taskStats) {
	s.RecordsRead += other.RecordsRead
	s.ItemsProcessed += other.ItemsProcessed
	s.PairsEmitted += other.PairsEmitted
	s.BytesWritten += other.BytesWritten
	s.Elapsed += other.Elapsed
}

// taskResult is the response to a task invocation.
type taskResult struct {
	Shards []ShardDescriptor `json:"shards,omitempty"`
	Next   *Continuation     `json:"next,omitempty"`
	Stats  taskStats         `json:"stats"`
}

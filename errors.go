package paddock

import (
	"errors"
	"fmt"
)

// StorageError is a Source, Sink or Table failure inside a task invocation.
// The invocation is abandoned without a continuation and may be retried
// from its original shard bound.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var serr *StorageError
	if errors.As(err, &serr) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// TransportError is a failure to deliver a task invocation or to receive
// its result.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UnrecoverableError halts a Driver run. It is raised when a dispatch
// exhausts its retry budget or fails in a way that retrying cannot fix.
type UnrecoverableError struct {
	Shard    ShardDescriptor
	Attempts int
	Err      error
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("unrecoverable error on %s after %d attempt(s): %v", e.Shard, e.Attempts, e.Err)
}

func (e *UnrecoverableError) Unwrap() error { return e.Err }

// ConfigurationError reports a missing or invalid job binding or setting.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Reason)
}

// UnknownTaskError is returned for task kinds or phases the coordinator does
// not recognize.
type UnknownTaskError struct {
	Kind string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown task: %s", e.Kind)
}

// isRetryable reports whether a failed dispatch should be attempted again.
func isRetryable(err error) bool {
	var terr *TransportError
	var serr *StorageError
	return errors.As(err, &terr) || errors.As(err, &serr)
}

// TaskError reports a Mapper or Reducer failure. Retrying the invocation
// would fail the same way, so it is not retried.
type TaskError struct {
	Msg string
	Err error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

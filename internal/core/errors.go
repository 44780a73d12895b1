package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass names one branch of the failure taxonomy.
type ErrorClass string

const (
	ClassInput       ErrorClass = "input"
	ClassExecution   ErrorClass = "execution"
	ClassConsistency ErrorClass = "consistency"
	ClassResource    ErrorClass = "resource"
	ClassUpstream    ErrorClass = "upstream"
	ClassCancelled   ErrorClass = "cancelled"
	ClassInternal    ErrorClass = "internal"
)

// InputError reports malformed data: overlapping partitions, unaligned rows
// where an alignment is required, unparsable program output.
// Fatal to the owning task only.
type InputError struct {
	Code    string
	Message string
	Cause   error
}

func (e *InputError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("input error (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("input error: %s", e.Message)
}

func (e *InputError) Unwrap() error { return e.Cause }

// ExecutionError reports an external program that exited non-zero or did not
// produce a declared output.
type ExecutionError struct {
	Program  string
	ExitCode int
	Message  string
	Cause    error
}

func (e *ExecutionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Program != "" {
		return fmt.Sprintf("execution error program=%s exit=%d: %s", e.Program, e.ExitCode, e.Message)
	}
	return fmt.Sprintf("execution error: %s", e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// ConsistencyError reports a violated identity invariant: a store key bound
// to two different payloads, or one task ID registered with two different
// definitions. Fatal to the whole run.
type ConsistencyError struct {
	Code    string
	Message string
	Cause   error
}

func (e *ConsistencyError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("consistency fault (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("consistency fault: %s", e.Message)
}

func (e *ConsistencyError) Unwrap() error { return e.Cause }

// ResourceError reports a job the backend could not accept. Permanent is set
// when the requirement can never be met (e.g. more cores than the budget);
// otherwise the rejection is transient. Throttled marks a transient
// rejection by a submission rate limit, which does not use up an attempt.
type ResourceError struct {
	Permanent bool
	Throttled bool
	Message   string
	Cause     error
}

func (e *ResourceError) Error() string {
	if e == nil {
		return ""
	}
	if e.Permanent {
		return fmt.Sprintf("resource error (permanent): %s", e.Message)
	}
	return fmt.Sprintf("resource error (transient): %s", e.Message)
}

func (e *ResourceError) Unwrap() error { return e.Cause }

// Classify maps an error onto the taxonomy. Unknown errors are internal.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var ce *ConsistencyError
	if errors.As(err, &ce) {
		return ClassConsistency
	}
	var ie *InputError
	if errors.As(err, &ie) {
		return ClassInput
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ClassExecution
	}
	var re *ResourceError
	if errors.As(err, &re) {
		return ClassResource
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassCancelled
	}
	return ClassInternal
}

// IsConsistency reports whether err contains a ConsistencyError.
func IsConsistency(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}

package dag

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidGraph  = errors.New("invalid task graph")
	ErrUnknownParent = errors.New("unknown parent")
	ErrStalled       = errors.New("scheduler stalled")
)

// GraphError wraps deterministic graph construction failures.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func unknownParentf(format string, args ...any) error {
	return &GraphError{Kind: ErrUnknownParent, Msg: fmt.Sprintf(format, args...)}
}

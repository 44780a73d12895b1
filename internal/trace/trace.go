// Package trace records the ordered sequence of task state transitions of a
// run. Given a fixed graph and cache state the sequence is deterministic, so
// two traces can be compared byte for byte.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Event is one task state transition.
//
// Determinism constraints:
//   - No timestamps, durations, PIDs or job handles.
//   - No error strings; Class is a stable taxonomy value.
type Event struct {
	Seq    int    `json:"seq"`
	TaskID string `json:"task_id"`
	Kind   string `json:"kind"`
	From   string `json:"from"`
	To     string `json:"to"`

	// Class is the failure class for transitions into FAILED.
	Class string `json:"class,omitempty"`

	// CauseTaskID is the upstream task whose failure cascaded here.
	CauseTaskID string `json:"cause_task_id,omitempty"`

	// CacheHit marks LOADED -> DONE transitions served from the store.
	CacheHit bool `json:"cache_hit,omitempty"`
}

// RunTrace is the full transition record of one scheduler run.
type RunTrace struct {
	GraphHash string  `json:"graph_hash"`
	Events    []Event `json:"events"`
}

// Validate checks sequence numbering and required fields.
func (t *RunTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.GraphHash == "" {
		return errors.New("graph_hash is required")
	}
	for i, e := range t.Events {
		if e.Seq != i {
			return fmt.Errorf("events[%d].seq = %d, expected %d", i, e.Seq, i)
		}
		if e.TaskID == "" {
			return fmt.Errorf("events[%d].task_id is required", i)
		}
		if e.From == "" || e.To == "" {
			return fmt.Errorf("events[%d] has an empty state", i)
		}
	}
	return nil
}

// CanonicalJSON encodes the trace with fixed field order and no
// insignificant whitespace.
func (t *RunTrace) CanonicalJSON() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(t); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Hash returns the sha256 of the canonical encoding.
func (t *RunTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// FirstDivergence returns the index of the first event where a and b differ,
// or -1 when the traces are identical.
func FirstDivergence(a, b *RunTrace) int {
	n := len(a.Events)
	if len(b.Events) < n {
		n = len(b.Events)
	}
	for i := 0; i < n; i++ {
		if a.Events[i] != b.Events[i] {
			return i
		}
	}
	if len(a.Events) != len(b.Events) {
		return n
	}
	return -1
}

// ForTask returns the events of one task in order.
func (t *RunTrace) ForTask(taskID string) []Event {
	var out []Event
	for _, e := range t.Events {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out
}

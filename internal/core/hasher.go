package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"
)

// TaskID is the content-addressed identity of a task.
//
// Includes: task kind, scope identifier (node or clade), resolved tool
// configuration, resolved parameters, parent task IDs.
// Excludes: core counts, working directories, timestamps.
//
// Two tasks with equal TaskID are the same logical unit of work.
type TaskID string

// String returns the string representation of the TaskID.
func (t TaskID) String() string {
	return string(t)
}

// Short returns the first 12 hex characters, for logs and reports.
func (t TaskID) Short() string {
	if len(t) <= 12 {
		return string(t)
	}
	return string(t[:12])
}

// TaskHasher computes task identities.
//
// The hash computation is:
//   - Deterministic: identical inputs always produce identical hashes
//   - Order-independent over sets: parent IDs are sorted before hashing
//   - Order-dependent over arguments: Params keep their declared order
type TaskHasher struct{}

// NewTaskHasher creates a new TaskHasher.
func NewTaskHasher() *TaskHasher {
	return &TaskHasher{}
}

// HashInput contains all components that contribute to a TaskID.
type HashInput struct {
	// Kind is the task kind.
	Kind Kind

	// ScopeID is the partition's node or clade identifier, or any other
	// stable scope string for kinds without a partition (e.g. merges).
	ScopeID string

	// Tool is the fingerprint of the resolved tool configuration
	// (see ToolSpec.Fingerprint). Empty for job-less kinds.
	Tool string

	// Params are kind-specific resolved parameters.
	Params Args

	// Parents are the IDs of the tasks whose outputs this task consumes.
	Parents []TaskID
}

// ComputeHash computes a deterministic TaskID from the given inputs.
//
// Components are written in this order, each length-prefixed:
//  1. Kind
//  2. Scope identifier
//  3. Tool fingerprint
//  4. Params in declared order (flag, value)
//  5. Sorted parent IDs
func (h *TaskHasher) ComputeHash(input HashInput) TaskID {
	fh := newFieldHasher()

	fh.writeString("kind")
	fh.writeString(string(input.Kind))
	fh.writeString(input.ScopeID)
	fh.writeString(input.Tool)

	fh.writeCount(len(input.Params))
	for _, p := range input.Params {
		fh.writeString(p.Flag)
		fh.writeString(p.Value)
	}

	parents := make([]string, 0, len(input.Parents))
	for _, p := range input.Parents {
		parents = append(parents, string(p))
	}
	sort.Strings(parents)
	parents = dedupSorted(parents)

	fh.writeCount(len(parents))
	for _, p := range parents {
		fh.writeString(p)
	}

	return TaskID(fh.sum())
}

// ContentKey returns the content address of a payload.
func ContentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// fieldHasher writes length-prefixed fields into a sha256 digest so that
// no two distinct field sequences share an encoding.
type fieldHasher struct {
	h hash.Hash
}

func newFieldHasher() *fieldHasher {
	return &fieldHasher{h: sha256.New()}
}

func (f *fieldHasher) writeField(data []byte) {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(data)))
	f.h.Write(prefix[:])
	f.h.Write(data)
}

func (f *fieldHasher) writeString(s string) {
	f.writeField([]byte(s))
}

func (f *fieldHasher) writeCount(n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	f.writeField(b[:])
}

func (f *fieldHasher) sum() string {
	return hex.EncodeToString(f.h.Sum(nil))
}

// dedupSorted removes duplicates from a sorted slice.
func dedupSorted(sorted []string) []string {
	if len(sorted) == 0 {
		return sorted
	}
	result := make([]string, 0, len(sorted))
	result = append(result, sorted[0])
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			result = append(result, sorted[i])
		}
	}
	return result
}

package dag

import (
	"crypto/sha256"
	"encoding/hex"

	"phylobuild/internal/task"
)

// definitionHash hashes the declarative content of a task. Two tasks with the
// same ID must have the same definition hash; anything else means the ID
// space has collided and cached results cannot be trusted.
//
// Name, deliverable flag and core count are excluded: they change neither
// what a task computes nor where its results live.
func definitionHash(t *task.Task) string {
	h := sha256.New()

	writeField := func(data []byte) {
		length := uint64(len(data))
		lengthBytes := []byte{
			byte(length >> 56),
			byte(length >> 48),
			byte(length >> 40),
			byte(length >> 32),
			byte(length >> 24),
			byte(length >> 16),
			byte(length >> 8),
			byte(length),
		}
		h.Write(lengthBytes)
		h.Write(data)
	}
	writeCount := func(n int) {
		writeField([]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
	}

	writeField([]byte(t.Kind))

	// Partition, with the full member sets rather than the clade ID.
	targets := t.Partition.Targets()
	writeCount(len(targets))
	for _, id := range targets {
		writeField([]byte(id))
	}
	outgroup := t.Partition.Outgroup()
	writeCount(len(outgroup))
	for _, id := range outgroup {
		writeField([]byte(id))
	}

	if t.Kind.RunsJobs() {
		writeField([]byte(t.Tool.Fingerprint()))
	} else {
		writeField(nil)
	}

	writeCount(len(t.Params))
	for _, p := range t.Params {
		writeField([]byte(p.Flag))
		writeField([]byte(p.Value))
	}

	parents := t.SortedParents()
	uniq := parents[:0]
	for i, p := range parents {
		if i == 0 || p != parents[i-1] {
			uniq = append(uniq, p)
		}
	}
	writeCount(len(uniq))
	for _, p := range uniq {
		writeField([]byte(p))
	}

	return hex.EncodeToString(h.Sum(nil))
}

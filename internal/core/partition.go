package core

import (
	"sort"
	"strings"
)

// Partition is an immutable (target, outgroup) split of sequence IDs.
//
// Both sets are stored sorted and de-duplicated. A valid partition has a
// non-empty target set that is disjoint from the outgroup.
type Partition struct {
	targets  []string
	outgroup []string
}

// PartitionOf builds a Partition without validating it. Grouping tasks use
// this so an invalid split surfaces as that task's failure rather than as a
// composer error.
func PartitionOf(targets, outgroup []string) Partition {
	return Partition{
		targets:  normalizeIDs(targets),
		outgroup: normalizeIDs(outgroup),
	}
}

// NewPartition builds and validates a Partition.
func NewPartition(targets, outgroup []string) (Partition, error) {
	p := PartitionOf(targets, outgroup)
	if err := p.Validate(); err != nil {
		return Partition{}, err
	}
	return p, nil
}

// Validate reports an InputError if the target set is empty or overlaps
// the outgroup.
func (p Partition) Validate() error {
	if len(p.targets) == 0 {
		return &InputError{Code: "EmptyTargets", Message: "partition has no target sequences"}
	}
	if shared := p.Overlap(); len(shared) > 0 {
		return &InputError{
			Code:    "PartitionOverlap",
			Message: "target and outgroup share sequences: " + strings.Join(shared, ", "),
		}
	}
	return nil
}

// Overlap returns the sorted IDs present in both sets.
func (p Partition) Overlap() []string {
	var shared []string
	i, j := 0, 0
	for i < len(p.targets) && j < len(p.outgroup) {
		switch {
		case p.targets[i] == p.outgroup[j]:
			shared = append(shared, p.targets[i])
			i++
			j++
		case p.targets[i] < p.outgroup[j]:
			i++
		default:
			j++
		}
	}
	return shared
}

// Targets returns a copy of the sorted target IDs.
func (p Partition) Targets() []string {
	return append([]string(nil), p.targets...)
}

// Outgroup returns a copy of the sorted outgroup IDs.
func (p Partition) Outgroup() []string {
	return append([]string(nil), p.outgroup...)
}

// Members returns the sorted union of targets and outgroup.
func (p Partition) Members() []string {
	all := make([]string, 0, len(p.targets)+len(p.outgroup))
	all = append(all, p.targets...)
	all = append(all, p.outgroup...)
	sort.Strings(all)
	return dedupSorted(all)
}

// IsZero reports whether p has neither targets nor outgroup.
func (p Partition) IsZero() bool {
	return len(p.targets) == 0 && len(p.outgroup) == 0
}

// NodeID hashes the sorted target set.
func (p Partition) NodeID() string {
	fh := newFieldHasher()
	fh.writeString("node")
	writeIDSet(fh, p.targets)
	return fh.sum()
}

// CladeID hashes the target set together with the outgroup. A partition
// without an outgroup has CladeID == NodeID.
func (p Partition) CladeID() string {
	if len(p.outgroup) == 0 {
		return p.NodeID()
	}
	fh := newFieldHasher()
	fh.writeString("clade")
	writeIDSet(fh, p.targets)
	writeIDSet(fh, p.outgroup)
	return fh.sum()
}

// String renders the partition as "A,B|C".
func (p Partition) String() string {
	s := strings.Join(p.targets, ",")
	if len(p.outgroup) > 0 {
		s += "|" + strings.Join(p.outgroup, ",")
	}
	return s
}

func writeIDSet(fh *fieldHasher, ids []string) {
	fh.writeCount(len(ids))
	for _, id := range ids {
		fh.writeString(id)
	}
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return dedupSorted(out)
}

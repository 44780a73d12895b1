package core

import (
	"errors"
	"testing"
)

// TestNewPartition_OverlapIsInputError verifies that every overlapping split
// is rejected with an input error.
func TestNewPartition_OverlapIsInputError(t *testing.T) {
	cases := []struct {
		targets  []string
		outgroup []string
	}{
		{[]string{"A"}, []string{"A"}},
		{[]string{"A", "B"}, []string{"B", "C"}},
		{[]string{"A", "B", "C"}, []string{"C", "B", "A"}},
		{[]string{" A "}, []string{"A"}},
	}
	for _, tc := range cases {
		_, err := NewPartition(tc.targets, tc.outgroup)
		if err == nil {
			t.Fatalf("expected overlap error for %v|%v", tc.targets, tc.outgroup)
		}
		var ie *InputError
		if !errors.As(err, &ie) {
			t.Fatalf("expected *InputError, got %T", err)
		}
		if ie.Code != "PartitionOverlap" {
			t.Fatalf("expected PartitionOverlap, got %q", ie.Code)
		}
	}
}

func TestNewPartition_EmptyTargetsRejected(t *testing.T) {
	_, err := NewPartition(nil, []string{"C"})
	if Classify(err) != ClassInput {
		t.Fatalf("expected input error, got %v", err)
	}
}

func TestPartitionOf_DoesNotValidate(t *testing.T) {
	p := PartitionOf([]string{"A", "B"}, []string{"B"})
	if got := p.Overlap(); len(got) != 1 || got[0] != "B" {
		t.Fatalf("expected overlap [B], got %v", got)
	}
	if p.Validate() == nil {
		t.Fatal("expected Validate to fail")
	}
}

// TestPartition_IdentifiersAreOrderIndependent verifies set semantics.
func TestPartition_IdentifiersAreOrderIndependent(t *testing.T) {
	a := PartitionOf([]string{"B", "A"}, []string{"C"})
	b := PartitionOf([]string{"A", "B", "A"}, []string{"C"})

	if a.NodeID() != b.NodeID() {
		t.Error("node id depends on target order")
	}
	if a.CladeID() != b.CladeID() {
		t.Error("clade id depends on target order")
	}
}

func TestPartition_CladeIncludesOutgroup(t *testing.T) {
	withC := PartitionOf([]string{"A", "B"}, []string{"C"})
	withD := PartitionOf([]string{"A", "B"}, []string{"D"})
	bare := PartitionOf([]string{"A", "B"}, nil)

	if withC.NodeID() != withD.NodeID() {
		t.Error("node id should depend on targets only")
	}
	if withC.CladeID() == withD.CladeID() {
		t.Error("clade id should depend on the outgroup")
	}
	if bare.CladeID() != bare.NodeID() {
		t.Error("clade id without outgroup should equal node id")
	}
	if withC.CladeID() == withC.NodeID() {
		t.Error("clade id with outgroup should differ from node id")
	}
}

func TestPartition_MembersAndString(t *testing.T) {
	p := PartitionOf([]string{"B", "A"}, []string{"C"})
	m := p.Members()
	if len(m) != 3 || m[0] != "A" || m[1] != "B" || m[2] != "C" {
		t.Fatalf("unexpected members %v", m)
	}
	if p.String() != "A,B|C" {
		t.Fatalf("unexpected string %q", p.String())
	}
}

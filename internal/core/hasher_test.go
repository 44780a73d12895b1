package core

import (
	"testing"
)

func baseHashInput() HashInput {
	return HashInput{
		Kind:    KindAlignment,
		ScopeID: PartitionOf([]string{"A", "B"}, []string{"C"}).CladeID(),
		Tool:    "tool-fingerprint",
		Params:  Args{{Flag: "--format", Value: "fasta"}},
		Parents: []TaskID{"p1", "p2"},
	}
}

// TestComputeHash_IdenticalInputsProduceSameHash verifies that hashing is a
// pure function of its input.
func TestComputeHash_IdenticalInputsProduceSameHash(t *testing.T) {
	hasher := NewTaskHasher()

	h1 := hasher.ComputeHash(baseHashInput())
	h2 := hasher.ComputeHash(baseHashInput())
	if h1 != h2 {
		t.Errorf("identical inputs produced different hashes: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
}

// TestComputeHash_ParentOrderIndependent verifies parent IDs are treated as a set.
func TestComputeHash_ParentOrderIndependent(t *testing.T) {
	hasher := NewTaskHasher()

	a := baseHashInput()
	b := baseHashInput()
	b.Parents = []TaskID{"p2", "p1", "p2"}

	if hasher.ComputeHash(a) != hasher.ComputeHash(b) {
		t.Error("parent order or duplication changed the hash")
	}
}

// TestComputeHash_ParamOrderSignificant verifies argument order contributes.
func TestComputeHash_ParamOrderSignificant(t *testing.T) {
	hasher := NewTaskHasher()

	a := baseHashInput()
	a.Params = Args{{Flag: "-a", Value: "1"}, {Flag: "-b", Value: "2"}}
	b := baseHashInput()
	b.Params = Args{{Flag: "-b", Value: "2"}, {Flag: "-a", Value: "1"}}

	if hasher.ComputeHash(a) == hasher.ComputeHash(b) {
		t.Error("reordered params produced the same hash")
	}
}

// TestComputeHash_EachComponentContributes verifies every field changes the ID.
func TestComputeHash_EachComponentContributes(t *testing.T) {
	hasher := NewTaskHasher()
	base := hasher.ComputeHash(baseHashInput())

	mutations := map[string]func(*HashInput){
		"kind":    func(h *HashInput) { h.Kind = KindTrim },
		"scope":   func(h *HashInput) { h.ScopeID = "other" },
		"tool":    func(h *HashInput) { h.Tool = "other-tool" },
		"params":  func(h *HashInput) { h.Params = nil },
		"parents": func(h *HashInput) { h.Parents = []TaskID{"p1"} },
	}
	for name, mutate := range mutations {
		in := baseHashInput()
		mutate(&in)
		if hasher.ComputeHash(in) == base {
			t.Errorf("changing %s did not change the hash", name)
		}
	}
}

// TestComputeHash_LengthPrefixPreventsAmbiguity verifies field boundaries matter.
func TestComputeHash_LengthPrefixPreventsAmbiguity(t *testing.T) {
	hasher := NewTaskHasher()

	a := HashInput{Kind: KindTrim, ScopeID: "ab", Tool: "c"}
	b := HashInput{Kind: KindTrim, ScopeID: "a", Tool: "bc"}
	if hasher.ComputeHash(a) == hasher.ComputeHash(b) {
		t.Error("shifting bytes across a field boundary produced the same hash")
	}
}

func TestToolFingerprint_IgnoresCoresAndName(t *testing.T) {
	a := ToolSpec{Name: "mafft", Kind: KindAlignment, Program: "mafft", Cores: 1,
		Args: []ArgTemplate{MustTemplateArg("", "${input.sequences}")}}
	b := a
	b.Name = "mafft-big"
	b.Cores = 8

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("cores or name changed the tool fingerprint")
	}

	c := a
	c.Args = []ArgTemplate{LiteralArg("--auto", ""), MustTemplateArg("", "${input.sequences}")}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("adding an argument did not change the tool fingerprint")
	}
}

func TestContentKey_Stable(t *testing.T) {
	if ContentKey([]byte("x")) != ContentKey([]byte("x")) {
		t.Fatal("content key is not stable")
	}
	if ContentKey([]byte("x")) == ContentKey([]byte("y")) {
		t.Fatal("different content produced the same key")
	}
}

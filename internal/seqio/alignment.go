package seqio

import (
	"fmt"
	"sort"
	"strings"

	"phylobuild/internal/core"
)

// ValidateAlignment checks that recs is non-empty, has unique IDs and that
// every row has the same non-zero length.
func ValidateAlignment(recs []Record) error {
	if len(recs) == 0 {
		return &core.InputError{Code: "EmptyAlignment", Message: "alignment has no sequences"}
	}
	want := len(recs[0].Seq)
	if want == 0 {
		return &core.InputError{Code: "EmptyAlignment", Message: fmt.Sprintf("sequence %q is empty", recs[0].ID)}
	}
	seen := make(map[string]bool, len(recs))
	for _, r := range recs {
		if seen[r.ID] {
			return &core.InputError{Code: "DuplicateID", Message: fmt.Sprintf("sequence %q appears twice", r.ID)}
		}
		seen[r.ID] = true
		if len(r.Seq) != want {
			return &core.InputError{
				Code: "UnequalLength",
				Message: fmt.Sprintf("sequence %q has length %d, expected %d (from %q)",
					r.ID, len(r.Seq), want, recs[0].ID),
			}
		}
	}
	return nil
}

// SameIDSet reports an InputError when before and after do not carry the same
// set of sequence IDs.
func SameIDSet(before, after []Record) error {
	a := sortedIDs(before)
	b := sortedIDs(after)
	if strings.Join(a, "\x00") == strings.Join(b, "\x00") {
		return nil
	}
	return &core.InputError{
		Code:    "IDSetChanged",
		Message: fmt.Sprintf("sequence ids changed: had [%s], now [%s]", strings.Join(a, ","), strings.Join(b, ",")),
	}
}

// SortByID orders records by ID in place.
func SortByID(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
}

func sortedIDs(recs []Record) []string {
	ids := IDs(recs)
	sort.Strings(ids)
	return ids
}

package core

import "fmt"

// Kind identifies what a task does. Each kind has one adapter.
type Kind string

const (
	KindGrouping       Kind = "grouping"
	KindAlignment      Kind = "alignment"
	KindTrim           Kind = "trim"
	KindModelSelection Kind = "model_selection"
	KindTreeBuild      Kind = "tree_build"
	KindMerge          Kind = "merge"
)

// Kinds lists the built-in kinds in pipeline order.
var Kinds = []Kind{
	KindGrouping,
	KindAlignment,
	KindTrim,
	KindModelSelection,
	KindTreeBuild,
	KindMerge,
}

// ParseKind maps a configuration string onto a built-in Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown task kind %q", s)
}

// RunsJobs reports whether tasks of this kind invoke an external program.
func (k Kind) RunsJobs() bool {
	return k != KindGrouping && k != KindMerge
}

package core

import (
	"fmt"
	"sort"
	"strconv"
)

// DefaultStdout is the file a job's standard output is captured to when the
// tool does not name one.
const DefaultStdout = "stdout.log"

// ToolSpec declares one external program: how to invoke it and which files it
// leaves behind. Adapters look outputs up by role (e.g. "alignment",
// "report", "tree"); the role-to-file mapping is per tool.
type ToolSpec struct {
	// Name is the workflow-level name of this tool configuration.
	Name string

	// Kind is the task kind this tool serves.
	Kind Kind

	// Program is the executable, resolved through PATH at run time.
	Program string

	// Args are rendered in order when the job is created.
	Args []ArgTemplate

	// Cores is the number of cores one job of this tool occupies.
	Cores int

	// Stdout is the file in the working directory that receives stdout.
	Stdout string

	// Outputs maps a role to a file name relative to the working directory.
	Outputs map[string]string

	// Options holds kind-specific settings (e.g. "model_pattern", "format").
	Options map[string]string
}

// StdoutFile returns Stdout or DefaultStdout.
func (t ToolSpec) StdoutFile() string {
	if t.Stdout == "" {
		return DefaultStdout
	}
	return t.Stdout
}

// CoresOrDefault returns Cores, treating zero as one.
func (t ToolSpec) CoresOrDefault() int {
	if t.Cores <= 0 {
		return 1
	}
	return t.Cores
}

// Option returns Options[key] or fallback.
func (t ToolSpec) Option(key, fallback string) string {
	if v, ok := t.Options[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Validate checks the fields every kind needs.
func (t ToolSpec) Validate() error {
	if t.Name == "" {
		return &InputError{Code: "BadTool", Message: "tool has no name"}
	}
	if t.Kind.RunsJobs() && t.Program == "" {
		return &InputError{Code: "BadTool", Message: fmt.Sprintf("tool %q has no program", t.Name)}
	}
	if t.Cores < 0 {
		return &InputError{Code: "BadTool", Message: fmt.Sprintf("tool %q has negative cores", t.Name)}
	}
	return nil
}

// Fingerprint hashes everything about the tool that can change its output:
// kind, program, argument templates in order, stdout target, outputs and
// options. Cores and the tool's name do not contribute.
func (t ToolSpec) Fingerprint() string {
	fh := newFieldHasher()
	fh.writeString(string(t.Kind))
	fh.writeString(t.Program)

	fh.writeCount(len(t.Args))
	for _, a := range t.Args {
		fh.writeString(a.Flag)
		fh.writeString(a.Source)
	}

	fh.writeString(t.StdoutFile())
	writeSortedMap(fh, t.Outputs)
	writeSortedMap(fh, t.Options)
	return fh.sum()
}

func writeSortedMap(fh *fieldHasher, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fh.writeString(strconv.Itoa(len(keys)))
	for _, k := range keys {
		fh.writeString(k)
		fh.writeString(m[k])
	}
}

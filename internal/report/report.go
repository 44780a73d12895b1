// Package report renders run outcomes, build plans and run history for the
// terminal or as JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"phylobuild/internal/core"
	"phylobuild/internal/dag"
	"phylobuild/internal/runstate"
	"phylobuild/internal/task"
)

var (
	colorOK    = lipgloss.Color("#2CD7C7")
	colorWarn  = lipgloss.Color("#F4D03F")
	colorError = lipgloss.Color("#E74C3C")
	colorMuted = lipgloss.Color("#5C7A84")
)

var styles = struct {
	Title lipgloss.Style
	OK    lipgloss.Style
	Warn  lipgloss.Style
	Error lipgloss.Style
	Muted lipgloss.Style
	Box   lipgloss.Style
}{
	Title: lipgloss.NewStyle().Bold(true),
	OK:    lipgloss.NewStyle().Foreground(colorOK),
	Warn:  lipgloss.NewStyle().Foreground(colorWarn),
	Error: lipgloss.NewStyle().Foreground(colorError),
	Muted: lipgloss.NewStyle().Foreground(colorMuted),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorMuted).
		Padding(0, 1),
}

// Options controls rendering.
type Options struct {
	// JSON writes machine-readable output instead of text.
	JSON bool

	// Color enables terminal styling for text output.
	Color bool
}

// ColorEnabled reports whether f is a terminal that should receive styled
// output. NO_COLOR disables styling regardless.
func ColorEnabled(f *os.File) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type printer struct {
	w     io.Writer
	color bool
	err   error
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Run renders the outcome of a build.
func Run(w io.Writer, res *dag.RunResult, runID string, opts Options) error {
	if opts.JSON {
		return writeJSON(w, struct {
			RunID string `json:"run_id,omitempty"`
			*dag.RunResult
			Succeeded bool `json:"succeeded"`
		}{runID, res, res.Succeeded()})
	}

	p := &printer{w: w, color: opts.Color}
	for _, o := range res.Deliverables {
		switch o.State {
		case task.StateDone:
			note := ""
			if o.CacheHit {
				note = p.style(styles.Muted, " (cached)")
			}
			p.printf("%s %s %s%s\n", p.style(styles.OK, "✓"), p.style(styles.Title, o.Name), p.style(styles.Muted, o.TaskID.Short()), note)
			for _, name := range sortedKeys(o.Results) {
				p.printf("    %s %s\n", name, p.style(styles.Muted, o.Results[name]))
			}
		default:
			p.printf("%s %s %s\n", p.style(styles.Error, "✗"), p.style(styles.Title, o.Name), p.style(styles.Muted, o.TaskID.Short()))
			for i, link := range o.Chain {
				indent := strings.Repeat("  ", i+2)
				p.printf("%s%s %s [%s] %s\n", indent, "↳", link.Name, p.style(classStyle(link.Class), string(link.Class)), link.Reason)
			}
		}
	}

	s := res.Stats
	summary := fmt.Sprintf("%d tasks: %d done, %d failed, %d cached · %d/%d jobs succeeded",
		s.Tasks, s.Done, s.Failed, s.CacheHits, s.JobsOK, s.Jobs)
	if runID != "" {
		summary += "\nrun " + runID
	}
	if p.color {
		summary = styles.Box.Render(summary)
	}
	p.printf("%s\n", summary)
	return p.err
}

func classStyle(c core.ErrorClass) lipgloss.Style {
	switch c {
	case core.ClassUpstream, core.ClassCancelled:
		return styles.Warn
	default:
		return styles.Error
	}
}

// PlanRow describes one task of a composed graph.
type PlanRow struct {
	TaskID      core.TaskID   `json:"task_id"`
	Kind        core.Kind     `json:"kind"`
	Name        string        `json:"name"`
	Parents     []core.TaskID `json:"parents"`
	Depth       int           `json:"depth"`
	Descendants int           `json:"descendants"`
	Deliverable bool          `json:"deliverable,omitempty"`
	Cores       int           `json:"cores,omitempty"`
}

// Plan lists g's tasks in registration order.
func Plan(g *dag.Graph) []PlanRow {
	deliver := map[core.TaskID]bool{}
	for _, t := range g.Deliverables() {
		deliver[t.ID] = true
	}
	tasks := g.Tasks()
	rows := make([]PlanRow, 0, len(tasks))
	for _, t := range tasks {
		depth, _ := g.Depth(t.ID)
		row := PlanRow{
			TaskID:      t.ID,
			Kind:        t.Kind,
			Name:        t.Name,
			Parents:     t.SortedParents(),
			Depth:       depth,
			Descendants: g.DescendantCount(t.ID),
			Deliverable: deliver[t.ID],
		}
		if t.Kind.RunsJobs() {
			row.Cores = t.Tool.CoresOrDefault()
		}
		rows = append(rows, row)
	}
	return rows
}

// RenderPlan writes rows as an indented listing.
func RenderPlan(w io.Writer, graphHash string, rows []PlanRow, opts Options) error {
	if opts.JSON {
		return writeJSON(w, struct {
			GraphHash string    `json:"graph_hash"`
			Tasks     []PlanRow `json:"tasks"`
		}{graphHash, rows})
	}
	p := &printer{w: w, color: opts.Color}
	p.printf("%s %s\n", p.style(styles.Title, "graph"), graphHash)
	for _, r := range rows {
		mark := " "
		if r.Deliverable {
			mark = p.style(styles.OK, "*")
		}
		parents := make([]string, len(r.Parents))
		for i, id := range r.Parents {
			parents[i] = id.Short()
		}
		p.printf("%s%s %s %-16s %s", strings.Repeat("  ", r.Depth), mark, p.style(styles.Muted, r.TaskID.Short()), r.Kind, r.Name)
		if len(parents) > 0 {
			p.printf(" %s", p.style(styles.Muted, "<- "+strings.Join(parents, ",")))
		}
		p.printf(" (%d downstream)\n", r.Descendants)
	}
	return p.err
}

// Runs renders the run history, newest last.
func Runs(w io.Writer, runs []runstate.Run, opts Options) error {
	if opts.JSON {
		if runs == nil {
			runs = []runstate.Run{}
		}
		return writeJSON(w, runs)
	}
	p := &printer{w: w, color: opts.Color}
	if len(runs) == 0 {
		p.printf("%s\n", p.style(styles.Muted, "no runs recorded"))
		return p.err
	}
	for _, r := range runs {
		p.printf("%s %s %-9s %-6s %s  %d/%d done, %d failed, %d cached\n",
			r.RunID,
			r.StartTime.UTC().Format("2006-01-02T15:04:05Z"),
			p.style(statusStyle(r.Status), string(r.Status)),
			r.Mode,
			shortHash(r.GraphHash),
			r.Done, r.Tasks, r.Failed, r.CacheHits)
	}
	return p.err
}

func statusStyle(s runstate.Status) lipgloss.Style {
	switch s {
	case runstate.StatusSucceeded:
		return styles.OK
	case runstate.StatusRunning:
		return styles.Warn
	default:
		return styles.Error
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

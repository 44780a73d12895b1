package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"phylobuild/internal/core"
	"phylobuild/internal/report"
	"phylobuild/internal/runstate"
	"phylobuild/internal/store"
	"phylobuild/internal/workflow"
)

// app carries per-invocation state between cobra and the command bodies.
type app struct {
	stdout io.Writer
	stderr io.Writer
	flags  globalFlags

	// color is decided once from stdout.
	color bool

	// ran is set once a command body starts; errors before that are
	// invocation errors raised by cobra.
	ran    bool
	result Result
}

func (a *app) reportOptions(inv Invocation) report.Options {
	return report.Options{JSON: inv.JSON, Color: a.color}
}

func (a *app) setup(cmd *cobra.Command, workflowPath string) (Invocation, *slog.Logger, error) {
	a.ran = true
	inv, err := a.flags.resolve(cmd.Flags(), workflowPath)
	if err != nil {
		return Invocation{}, nil, err
	}
	logger := newLogger(inv.Config.Log.Level, inv.Config.Log.Format, a.stderr)
	return inv, logger, nil
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "phylobuild",
		Short:         "Build phylogenomic pipelines as a cached dependency graph",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidInvocationf("%v", err)
	})
	a.flags.register(root.PersistentFlags())

	root.AddCommand(
		newRunCommand(a),
		newPlanCommand(a),
		newCacheCommand(a),
		newRunsCommand(a),
	)
	return root
}

// exactArgs is cobra.ExactArgs with an invocation error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return invalidInvocationf("%s expects %d argument(s), got %d", cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

func newRunCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <workflow.hcl>",
		Short: "Build every deliverable of a workflow",
		Long: `Composes the workflow into a task graph and runs it. Tasks whose
results are already in the store complete without running a program.

Exit codes: 0 all deliverables built, 1 a deliverable failed or the run
was interrupted, 2 invalid invocation, 3 configuration or input error,
4 internal fault.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, logger, err := a.setup(cmd, args[0])
			if err != nil {
				return err
			}
			res, err := Execute(cmd.Context(), inv, a.stdout, logger, a.reportOptions(inv))
			a.result = res
			return err
		},
	}
	a.flags.registerRun(cmd.Flags())
	return cmd
}

func newPlanCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <workflow.hcl>",
		Short: "Print the task graph without running it",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, logger, err := a.setup(cmd, args[0])
			if err != nil {
				return err
			}
			wf, err := workflow.Load(inv.WorkflowPath)
			if err != nil {
				return &InvocationError{ExitCode: ExitConfigError, Message: err.Error()}
			}
			// Identity does not depend on the store, so planning never
			// writes to the configured one.
			g, err := workflow.Build(wf, store.NewMemoryStore(), logger)
			if err != nil {
				if core.Classify(err) == core.ClassInput {
					return &InvocationError{ExitCode: ExitConfigError, Message: err.Error()}
				}
				return err
			}
			a.result.ExitCode = ExitSuccess
			return report.RenderPlan(a.stdout, g.Hash(), report.Plan(g), a.reportOptions(inv))
		},
	}
}

func newCacheCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the result store",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <key>",
			Short: "Write the payload stored under key to stdout",
			Args:  exactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				inv, logger, err := a.setup(cmd, "")
				if err != nil {
					return err
				}
				if strings.ContainsAny(args[0], `/\`) || strings.Contains(args[0], "..") {
					return invalidInvocationf("malformed key %q", args[0])
				}
				st, err := cacheStore(inv, logger)
				if err != nil {
					return err
				}
				defer st.Close()
				data, err := st.Get(args[0])
				if err != nil {
					return a.notFound(err, "no object %s", args[0])
				}
				a.result.ExitCode = ExitSuccess
				_, err = a.stdout.Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "lookup <result> <task-id>",
			Short: "Print the key a task's result is bound to",
			Args:  exactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				inv, logger, err := a.setup(cmd, "")
				if err != nil {
					return err
				}
				st, err := cacheStore(inv, logger)
				if err != nil {
					return err
				}
				defer st.Close()
				key, err := st.Lookup(args[0], args[1])
				if err != nil {
					return a.notFound(err, "no %s bound for %s", args[0], args[1])
				}
				a.result.ExitCode = ExitSuccess
				_, err = fmt.Fprintln(a.stdout, key)
				return err
			},
		},
	)
	return cmd
}

// notFound turns store.ErrNotFound into a plain failure exit.
func (a *app) notFound(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		a.result.ExitCode = ExitGraphFailure
		fmt.Fprintf(a.stderr, format+"\n", args...)
		return nil
	}
	return err
}

func newRunsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, oldest first",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv, _, err := a.setup(cmd, "")
			if err != nil {
				return err
			}
			rs, err := runstate.NewStore(inv.Config.WorkDir)
			if err != nil {
				return err
			}
			runs, err := rs.ListRuns()
			if err != nil {
				return err
			}
			a.result.ExitCode = ExitSuccess
			return report.Runs(a.stdout, runs, a.reportOptions(inv))
		},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && report.ColorEnabled(f)
}

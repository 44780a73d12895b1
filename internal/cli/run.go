package cli

import (
	"context"
	"io"
)

// Run is a high-level CLI entrypoint suitable for black-box tests.
// It accepts the argument slice (excluding argv[0]) and returns the semantic
// exit code plus any error.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) (Result, error) {
	a := &app{stdout: stdout, stderr: stderr, color: isTerminal(stdout)}
	a.result.ExitCode = ExitInternalError

	root := newRootCommand(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	switch {
	case err == nil && !a.ran:
		// help, --version or a bare command group
		return Result{ExitCode: ExitSuccess}, nil
	case err == nil:
		return a.result, nil
	case !a.ran && ExitCode(err) == ExitInternalError:
		// unknown command and similar cobra parse failures
		err = invalidInvocationf("%v", err)
	}
	code := ExitCode(err)
	if a.ran && a.result.ExitCode != ExitInternalError && ExitCode(err) == ExitInternalError {
		code = a.result.ExitCode
	}
	res := a.result
	res.ExitCode = code
	return res, err
}

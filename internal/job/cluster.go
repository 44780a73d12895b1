package job

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"phylobuild/internal/core"
)

const (
	scriptName   = "job.sh"
	exitCodeFile = ".exitcode"
)

// ClusterConfig describes how to talk to a batch queue.
type ClusterConfig struct {
	// Submit is the submission command; the script path is appended.
	// Its stdout up to the first ';' or whitespace is the queue's job ID,
	// e.g. "sbatch --parsable".
	Submit []string

	// Cancel is the cancellation command; the queue's job ID is appended,
	// e.g. "scancel".
	Cancel []string

	// Cores is the total core budget the scheduler may occupy on the queue.
	Cores int

	// MaxJobCores is the largest single job the queue accepts. Zero means Cores.
	MaxJobCores int

	// SubmitRate limits submissions per second. Zero disables limiting.
	SubmitRate float64

	// SubmitBurst is the token bucket size. Zero means 1.
	SubmitBurst int
}

// ClusterBackend submits jobs to a batch queue as shell scripts.
//
// Each job's script runs the program inside the job's working directory and
// writes the exit status to a sentinel file when the program returns.
// Status polls that file, so no queue-specific status command is needed.
type ClusterBackend struct {
	cfg     ClusterConfig
	limiter *rate.Limiter
	logger  *slog.Logger

	mu   sync.Mutex
	jobs map[Handle]*Job
}

// NewClusterBackend validates cfg and creates a ClusterBackend.
func NewClusterBackend(cfg ClusterConfig, logger *slog.Logger) (*ClusterBackend, error) {
	if len(cfg.Submit) == 0 {
		return nil, fmt.Errorf("cluster backend: submit command is required")
	}
	if cfg.Cores <= 0 {
		return nil, fmt.Errorf("cluster backend: cores must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.SubmitRate > 0 {
		limit = rate.Limit(cfg.SubmitRate)
	}
	burst := cfg.SubmitBurst
	if burst <= 0 {
		burst = 1
	}
	return &ClusterBackend{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		jobs:    make(map[Handle]*Job),
	}, nil
}

func (b *ClusterBackend) Capacity() int { return b.cfg.Cores }

// Submit writes the job script and hands it to the queue.
func (b *ClusterBackend) Submit(ctx context.Context, j *Job) (Handle, error) {
	maxCores := b.cfg.MaxJobCores
	if maxCores <= 0 {
		maxCores = b.cfg.Cores
	}
	if j.Cores > maxCores {
		return "", &core.ResourceError{
			Permanent: true,
			Message:   fmt.Sprintf("job %s needs %d cores, queue accepts at most %d", j.ID, j.Cores, maxCores),
		}
	}
	// Allow never sleeps; a throttled job waits for a later loop iteration.
	if !b.limiter.Allow() {
		return "", &core.ResourceError{Throttled: true, Message: fmt.Sprintf("submission of job %s throttled", j.ID)}
	}
	if err := j.Prepare(); err != nil {
		return "", err
	}
	_ = os.Remove(j.Path(exitCodeFile))

	script := j.Path(scriptName)
	if err := os.WriteFile(script, renderScript(j), 0o755); err != nil {
		return "", fmt.Errorf("writing job script: %w", err)
	}

	argv := append(append([]string(nil), b.cfg.Submit...), script)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = j.WorkDir
	out, err := cmd.Output()
	if err != nil {
		return "", &core.ResourceError{
			Message: fmt.Sprintf("queue rejected job %s: %s", j.ID, strings.TrimSpace(stderrOf(err))),
			Cause:   err,
		}
	}

	h := parseQueueID(out)
	if h == "" {
		h = Handle(j.ID)
	}
	b.mu.Lock()
	b.jobs[h] = j
	b.mu.Unlock()
	b.logger.Debug("job queued", "job", j.ID, "queue_id", h, "cores", j.Cores)
	return h, nil
}

// Status reads the exit-code sentinel. A job without one is still queued or
// running; the queue is not asked which. Once the sentinel has been read the
// handle is forgotten.
func (b *ClusterBackend) Status(_ context.Context, h Handle) (Result, error) {
	b.mu.Lock()
	j, ok := b.jobs[h]
	b.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("unknown job handle %q", h)
	}
	data, err := os.ReadFile(j.Path(exitCodeFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Status: StatusRunning}, nil
		}
		return Result{}, fmt.Errorf("reading exit status of %s: %w", j.ID, err)
	}
	b.mu.Lock()
	delete(b.jobs, h)
	b.mu.Unlock()
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return Result{
			Status:   StatusFailed,
			ExitCode: -1,
			Err:      &core.ExecutionError{Program: j.Program, ExitCode: -1, Message: "unreadable exit status", Cause: err},
		}, nil
	}
	return completion(j, code), nil
}

// Cancel asks the queue to remove the job.
func (b *ClusterBackend) Cancel(h Handle) error {
	if len(b.cfg.Cancel) == 0 {
		return nil
	}
	argv := append(append([]string(nil), b.cfg.Cancel...), string(h))
	if out, err := exec.Command(argv[0], argv[1:]...).CombinedOutput(); err != nil {
		return fmt.Errorf("cancelling %s: %w: %s", h, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func renderScript(j *Job) []byte {
	var sb strings.Builder
	sb.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&sb, "#PHYLOBUILD job=%s task=%s cores=%d\n", j.ID, j.TaskID, j.Cores)
	fmt.Fprintf(&sb, "cd %s || exit 1\n", shellQuote(j.WorkDir))
	fmt.Fprintf(&sb, "OMP_NUM_THREADS=%d\nexport OMP_NUM_THREADS\n", max(j.Cores, 1))
	quoted := make([]string, 0, len(j.Args)+1)
	for _, a := range j.Command() {
		quoted = append(quoted, shellQuote(a))
	}
	fmt.Fprintf(&sb, "%s > %s 2> %s\n", strings.Join(quoted, " "), shellQuote(j.StdoutPath()), shellQuote(j.StderrPath()))
	fmt.Fprintf(&sb, "echo $? > %s.tmp && mv %s.tmp %s\n", exitCodeFile, exitCodeFile, exitCodeFile)
	return []byte(sb.String())
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func parseQueueID(out []byte) Handle {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexAny(s, "; \t\n"); i >= 0 {
		s = s[:i]
	}
	return Handle(s)
}

func stderrOf(err error) string {
	if ee, ok := err.(*exec.ExitError); ok {
		return string(ee.Stderr)
	}
	return err.Error()
}

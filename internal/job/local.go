package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/semaphore"

	"phylobuild/internal/core"
)

// LocalBackend runs jobs as child processes on this machine, bounded by a
// core budget.
//
// Each job runs in its own process group so cancellation kills the whole
// process tree, including helpers the program forks.
type LocalBackend struct {
	cores  int
	sem    *semaphore.Weighted
	logger *slog.Logger

	// inUse counts the cores of started processes that have not exited.
	inUse atomic.Int64

	// procs holds jobs until their terminal status is read or they are
	// cancelled.
	mu    sync.Mutex
	seq   int
	procs map[Handle]*localProc
}

type localProc struct {
	job    *Job
	cores  int64
	cancel context.CancelFunc
	done   chan struct{}
	result Result
}

// NewLocalBackend creates a backend that never runs more than cores cores.
func NewLocalBackend(cores int, logger *slog.Logger) *LocalBackend {
	if cores <= 0 {
		cores = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalBackend{
		cores:  cores,
		sem:    semaphore.NewWeighted(int64(cores)),
		logger: logger,
		procs:  make(map[Handle]*localProc),
	}
}

func (b *LocalBackend) Capacity() int { return b.cores }

// Submit starts the job's process and returns immediately.
//
// Execution steps:
//  1. Reserve the job's cores (a job larger than the budget is a permanent
//     resource error; a full budget is a transient one)
//  2. Create the work dir and check declared inputs
//  3. Start the program with stdout/stderr redirected to files
//  4. Wait in the background; on exit, apply the declared-output check
func (b *LocalBackend) Submit(ctx context.Context, j *Job) (Handle, error) {
	need := int64(j.Cores)
	if need <= 0 {
		need = 1
	}
	if need > int64(b.cores) {
		return "", &core.ResourceError{
			Permanent: true,
			Message:   fmt.Sprintf("job %s needs %d cores, backend has %d", j.ID, need, b.cores),
		}
	}
	if !b.sem.TryAcquire(need) {
		return "", &core.ResourceError{Message: fmt.Sprintf("no free cores for job %s", j.ID)}
	}

	if err := j.Prepare(); err != nil {
		b.sem.Release(need)
		return "", err
	}

	stdout, err := os.Create(j.StdoutPath())
	if err != nil {
		b.sem.Release(need)
		return "", fmt.Errorf("creating stdout file: %w", err)
	}
	stderr, err := os.Create(j.StderrPath())
	if err != nil {
		_ = stdout.Close()
		b.sem.Release(need)
		return "", fmt.Errorf("creating stderr file: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.Command(j.Program, j.Args.Argv()...)
	cmd.Dir = j.WorkDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), "OMP_NUM_THREADS="+strconv.FormatInt(need, 10))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	b.mu.Lock()
	b.seq++
	h := Handle("local-" + strconv.Itoa(b.seq))
	p := &localProc{job: j, cores: need, cancel: cancel, done: make(chan struct{})}
	b.procs[h] = p
	b.mu.Unlock()

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		cancel()
		p.result = Result{
			Status:   StatusFailed,
			ExitCode: -1,
			Err:      &core.ExecutionError{Program: j.Program, ExitCode: -1, Message: "failed to start", Cause: err},
		}
		b.sem.Release(need)
		close(p.done)
		return h, nil
	}

	b.inUse.Add(need)
	b.logger.Debug("job started", "job", j.ID, "program", j.Program, "pid", cmd.Process.Pid, "cores", need)
	go b.wait(runCtx, cmd, p, stdout, stderr)
	return h, nil
}

func (b *LocalBackend) wait(ctx context.Context, cmd *exec.Cmd, p *localProc, stdout, stderr *os.File) {
	defer close(p.done)
	defer b.sem.Release(p.cores)
	defer b.inUse.Add(-p.cores)
	defer func() {
		_ = stdout.Close()
		_ = stderr.Close()
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var err error
	select {
	case <-ctx.Done():
		// Kill the process group (negative PID).
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-waitErr
		p.result = Result{
			Status:   StatusFailed,
			ExitCode: -1,
			Err:      &core.ExecutionError{Program: p.job.Program, ExitCode: -1, Message: "cancelled", Cause: ctx.Err()},
		}
		return
	case err = <-waitErr:
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			p.result = Result{
				Status:   StatusFailed,
				ExitCode: -1,
				Err:      &core.ExecutionError{Program: p.job.Program, ExitCode: -1, Message: "wait failed", Cause: err},
			}
			return
		}
		exitCode = exitErr.ExitCode()
	}
	p.result = completion(p.job, exitCode)
	b.logger.Debug("job exited", "job", p.job.ID, "exit_code", exitCode, "status", p.result.Status)
}

// Status reports Running until the process has exited. The terminal result
// is returned once, after which the handle is forgotten.
func (b *LocalBackend) Status(_ context.Context, h Handle) (Result, error) {
	b.mu.Lock()
	p, ok := b.procs[h]
	b.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("unknown job handle %q", h)
	}
	select {
	case <-p.done:
		b.forget(h)
		return p.result, nil
	default:
		return Result{Status: StatusRunning}, nil
	}
}

// Cancel kills the job's process group and returns once the process is gone.
// A handle whose terminal status was already read is finished, so
// cancelling it is a no-op.
func (b *LocalBackend) Cancel(h Handle) error {
	b.mu.Lock()
	p, ok := b.procs[h]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	p.cancel()
	<-p.done
	b.forget(h)
	return nil
}

func (b *LocalBackend) forget(h Handle) {
	b.mu.Lock()
	delete(b.procs, h)
	b.mu.Unlock()
}

// InUse returns the number of cores held by running processes.
func (b *LocalBackend) InUse() int {
	return int(b.inUse.Load())
}

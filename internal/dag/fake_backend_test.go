package dag

import (
	"context"
	"fmt"
	"os"
	"sync"

	"phylobuild/internal/core"
	"phylobuild/internal/job"
)

// fakeBackend runs jobs in-process and deterministically. The first Status
// of a job reports running; the second applies the program's behavior and
// reports the terminal result.
//
// Programs:
//
//	cat     copy the first argument file to stdout
//	ragged  emit an alignment with rows of unequal length
//	tree    emit a fixed Newick tree
//	fail    exit 1
//	silent  exit 0 and write nothing
//	hang    never finish
type fakeBackend struct {
	mu sync.Mutex

	capacity int
	jobs     map[job.Handle]*fakeJob
	order    []string

	inUse    int
	maxInUse int

	// rejections is the number of transient refusals left per job program.
	rejections map[string]int
	cancelled  int

	// serial throttles every submission while another job is unfinished,
	// like a queue that admits one job per rate-limit window.
	serial    bool
	throttled int
	polls     int
}

type fakeJob struct {
	j      *job.Job
	cores  int
	polls  int
	done   bool
	result job.Result
}

func newFakeBackend(capacity int) *fakeBackend {
	return &fakeBackend{capacity: capacity, jobs: make(map[job.Handle]*fakeJob), rejections: make(map[string]int)}
}

func (b *fakeBackend) Capacity() int { return b.capacity }

func (b *fakeBackend) Submit(_ context.Context, j *job.Job) (job.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.serial && b.inUse > 0 {
		b.throttled++
		return "", &core.ResourceError{Throttled: true, Message: "throttled"}
	}
	if n := b.rejections[j.Program]; n > 0 {
		b.rejections[j.Program] = n - 1
		return "", &core.ResourceError{Message: "queue full"}
	}
	cores := j.Cores
	if cores <= 0 {
		cores = 1
	}
	if cores > b.capacity {
		return "", &core.ResourceError{Permanent: true, Message: "too large"}
	}
	if err := j.Prepare(); err != nil {
		return "", err
	}
	b.inUse += cores
	if b.inUse > b.maxInUse {
		b.maxInUse = b.inUse
	}
	h := job.Handle(fmt.Sprintf("fake-%d", len(b.order)))
	b.order = append(b.order, j.ID)
	b.jobs[h] = &fakeJob{j: j, cores: cores}
	return h, nil
}

func (b *fakeBackend) Status(_ context.Context, h job.Handle) (job.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.polls++
	fj, ok := b.jobs[h]
	if !ok {
		return job.Result{}, fmt.Errorf("unknown handle %s", h)
	}
	if fj.done {
		return fj.result, nil
	}
	fj.polls++
	if fj.polls == 1 || fj.j.Program == "hang" {
		return job.Result{Status: job.StatusRunning}, nil
	}
	fj.result = b.execute(fj.j)
	fj.done = true
	b.inUse -= fj.cores
	return fj.result, nil
}

func (b *fakeBackend) Cancel(h job.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	fj, ok := b.jobs[h]
	if !ok || fj.done {
		return nil
	}
	fj.done = true
	fj.result = job.Result{Status: job.StatusFailed, ExitCode: -1, Err: context.Canceled}
	b.inUse -= fj.cores
	b.cancelled++
	return nil
}

func (b *fakeBackend) execute(j *job.Job) job.Result {
	var stdout []byte
	exit := 0
	switch j.Program {
	case "cat":
		argv := j.Args.Argv()
		if len(argv) == 0 {
			exit = 2
			break
		}
		data, err := os.ReadFile(j.Path(argv[0]))
		if err != nil {
			exit = 1
			break
		}
		stdout = data
	case "ragged":
		stdout = []byte(">A\nACGT\n>B\nAC\n>C\nACG\n")
	case "tree":
		stdout = []byte("((A,B),C);\n")
	case "fail":
		exit = 1
	case "silent":
		return b.finish(j, 0)
	}
	if err := os.WriteFile(j.StdoutPath(), stdout, 0o644); err != nil {
		return job.Result{Status: job.StatusFailed, Err: err}
	}
	return b.finish(j, exit)
}

func (b *fakeBackend) finish(j *job.Job, exit int) job.Result {
	if exit != 0 {
		return job.Result{
			Status:   job.StatusFailed,
			ExitCode: exit,
			Err:      &core.ExecutionError{Program: j.Program, ExitCode: exit, Message: "non-zero exit"},
		}
	}
	if err := job.CheckOutputs(j); err != nil {
		return job.Result{Status: job.StatusFailed, Err: err}
	}
	return job.Result{Status: job.StatusSucceeded}
}

func (b *fakeBackend) submitted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.order...)
}

package dag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"phylobuild/internal/core"
	"phylobuild/internal/job"
	"phylobuild/internal/metrics"
	"phylobuild/internal/task"
	"phylobuild/internal/trace"
)

const (
	DefaultPollInterval      = 2 * time.Second
	DefaultMaxSubmitAttempts = 3
)

var tracer = otel.Tracer("phylobuild.dag")

// Expander adds tasks to the graph when a task reaches DONE. It runs on the
// scheduler loop, so it may call g.Add directly. An error aborts the run.
type Expander interface {
	Expand(ctx context.Context, g *Graph, done *task.Task) error
}

// ExpanderFunc adapts a function to Expander.
type ExpanderFunc func(ctx context.Context, g *Graph, done *task.Task) error

func (f ExpanderFunc) Expand(ctx context.Context, g *Graph, done *task.Task) error {
	return f(ctx, g, done)
}

// Options tunes a Scheduler. Zero values select defaults.
type Options struct {
	// Cores is the budget shared by all submitted jobs. Defaults to the
	// backend's capacity and never exceeds it.
	Cores int

	PollInterval time.Duration

	// MaxSubmitAttempts bounds transient submission rejections per job.
	MaxSubmitAttempts int

	Logger   *slog.Logger
	Metrics  *metrics.Collectors
	Trace    trace.Sink
	Expander Expander
}

type submission struct {
	task  *task.Task
	job   *job.Job
	cores int
	at    time.Time
}

// Scheduler drives a Graph to completion on a job.Backend.
//
// Run is a single cooperative loop. Each iteration:
//  1. loads every CREATED task whose parents are all DONE,
//  2. submits pending jobs within the core budget, preferring tasks with
//     more descendants and then earlier registration,
//  3. polls submitted jobs,
//  4. completes tasks whose jobs all succeeded and fails tasks with a
//     failed job, cascading to their descendants.
//
// Given a fixed graph, cache state and backend behavior the sequence of
// state transitions is deterministic.
type Scheduler struct {
	graph   *Graph
	backend job.Backend
	env     task.Env
	opts    Options
	log     *slog.Logger

	active   []*submission
	inUse    int
	changed  bool
	retrying bool
}

// NewScheduler binds g to backend. env supplies the store, work root and
// logger; its Tasks registry is replaced by g.
func NewScheduler(g *Graph, backend job.Backend, env task.Env, opts Options) *Scheduler {
	capacity := backend.Capacity()
	if opts.Cores <= 0 || (capacity > 0 && opts.Cores > capacity) {
		opts.Cores = capacity
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxSubmitAttempts <= 0 {
		opts.MaxSubmitAttempts = DefaultMaxSubmitAttempts
	}
	log := opts.Logger
	if log == nil {
		log = env.Logger
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Scheduler{graph: g, backend: backend, opts: opts, log: log}

	hook := env.OnTransition
	env.Tasks = g
	env.Logger = log
	env.OnTransition = func(t *task.Task, from, to task.State) {
		s.changed = true
		s.observeTransition(t, from, to)
		if hook != nil {
			hook(t, from, to)
		}
	}
	s.env = env
	return s
}

// Run executes until every task is terminal. Task failures are reported in
// the result, not as an error; a non-nil error means the run was cancelled
// or hit a consistency fault, and every unfinished task has been failed.
func (s *Scheduler) Run(ctx context.Context) (*RunResult, error) {
	ctx, span := tracer.Start(ctx, "dag.Scheduler.Run", oteltrace.WithAttributes(
		attribute.Int("graph.tasks", s.graph.Len()),
		attribute.Int("scheduler.cores", s.opts.Cores),
	))
	defer span.End()

	s.opts.Metrics.SetCores(0, s.opts.Cores)
	s.log.Info("scheduler started", "tasks", s.graph.Len(), "cores", s.opts.Cores)

	err := s.loop(ctx)
	if err != nil {
		s.abort(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	res := Summarize(s.graph)
	span.SetAttributes(
		attribute.Int("tasks.done", res.Stats.Done),
		attribute.Int("tasks.failed", res.Stats.Failed),
		attribute.Int("tasks.cache_hits", res.Stats.CacheHits),
	)
	s.log.Info("scheduler finished",
		"done", res.Stats.Done,
		"failed", res.Stats.Failed,
		"cache_hits", res.Stats.CacheHits,
		"jobs", res.Stats.Jobs,
	)
	return res, err
}

func (s *Scheduler) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.changed = false

		if err := s.loadReady(ctx); err != nil {
			return err
		}
		if err := s.dispatch(ctx); err != nil {
			return err
		}
		s.poll(ctx)
		if err := s.settle(ctx); err != nil {
			return err
		}

		if s.finished() {
			return nil
		}
		if s.changed {
			continue
		}
		if len(s.active) == 0 && !s.retrying {
			return fmt.Errorf("%w: %d tasks unfinished with no job submitted", ErrStalled, s.unfinished())
		}
		if err := s.sleep(ctx); err != nil {
			return err
		}
	}
}

// loadReady loads CREATED tasks whose parents are all DONE and fails those
// with a FAILED parent. It repeats until a pass changes nothing, so tasks
// added by an Expander are picked up in the same iteration.
func (s *Scheduler) loadReady(ctx context.Context) error {
	for {
		progressed := false
		for _, t := range s.graph.Tasks() {
			if t.State() != task.StateCreated {
				continue
			}
			ready, failed := s.parentStatus(t)
			if failed != nil {
				cause := rootCause(failed)
				err := t.Fail(&s.env, task.Failure{
					Class:  core.ClassUpstream,
					Reason: fmt.Sprintf("ancestor %s failed", cause.Short()),
					Cause:  cause,
				})
				if err != nil {
					return err
				}
				progressed = true
				continue
			}
			if !ready {
				continue
			}
			if err := s.load(ctx, t); err != nil {
				return err
			}
			progressed = true
		}
		if !progressed {
			return nil
		}
	}
}

func (s *Scheduler) parentStatus(t *task.Task) (ready bool, failed *task.Task) {
	ready = true
	for _, p := range s.graph.Parents(t.ID) {
		switch p.State() {
		case task.StateDone:
		case task.StateFailed:
			return false, p
		default:
			ready = false
		}
	}
	return ready, nil
}

func (s *Scheduler) load(ctx context.Context, t *task.Task) error {
	ctx, span := tracer.Start(ctx, "task.Load", oteltrace.WithAttributes(
		attribute.String("task.id", string(t.ID)),
		attribute.String("task.kind", string(t.Kind)),
		attribute.String("task.name", t.Name),
	))
	defer span.End()

	if err := t.Load(&s.env); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(
		attribute.Bool("task.cache_hit", t.CacheHit),
		attribute.Int("task.jobs", len(t.Jobs)),
	)
	return s.afterChange(ctx, t)
}

// afterChange reacts to a task that may have just become terminal.
func (s *Scheduler) afterChange(ctx context.Context, t *task.Task) error {
	switch t.State() {
	case task.StateDone:
		s.log.Info("task done", "task", t.ID.Short(), "name", t.Name, "kind", t.Kind, "cache_hit", t.CacheHit)
		if s.opts.Expander == nil {
			return nil
		}
		if err := s.opts.Expander.Expand(ctx, s.graph, t); err != nil {
			return fmt.Errorf("expanding graph after %s: %w", t.ID.Short(), err)
		}
	case task.StateFailed:
		return failDescendants(s.graph, &s.env, t)
	}
	return nil
}

// dispatch submits unsubmitted jobs of LOADED tasks. A job that does not fit
// the free cores is skipped so smaller jobs behind it can backfill.
func (s *Scheduler) dispatch(ctx context.Context) error {
	s.retrying = false

	var cands []*task.Task
	for _, t := range s.graph.Tasks() {
		if t.State() == task.StateLoaded && hasUnsubmitted(t) {
			cands = append(cands, t)
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return s.graph.DescendantCount(cands[i].ID) > s.graph.DescendantCount(cands[j].ID)
	})

next:
	for _, t := range cands {
		for _, j := range t.Jobs {
			if j.Handle != "" || j.Status.Terminal() {
				continue
			}
			need := jobCores(j)
			if need > s.opts.Cores {
				err := &core.ResourceError{
					Permanent: true,
					Message:   fmt.Sprintf("job %s needs %d cores, budget is %d", j.ID, need, s.opts.Cores),
				}
				j.Fail(err)
				if err := s.failTask(ctx, t, err); err != nil {
					return err
				}
				continue next
			}
			if need > s.opts.Cores-s.inUse {
				continue
			}

			h, err := s.backend.Submit(ctx, j)
			if err != nil {
				var re *core.ResourceError
				if errors.As(err, &re) && re.Throttled {
					s.log.Debug("job submission throttled", "job", j.ID)
					s.retrying = true
					continue
				}
				if re != nil {
					s.opts.Metrics.SubmitRejected(re.Permanent)
					if !re.Permanent {
						j.SubmitAttempts++
						if j.SubmitAttempts < s.opts.MaxSubmitAttempts {
							s.log.Debug("job submission deferred", "job", j.ID, "attempt", j.SubmitAttempts, "error", err)
							s.retrying = true
							continue
						}
					}
				}
				j.Fail(err)
				if err := s.failTask(ctx, t, fmt.Errorf("submitting job %s: %w", j.ID, err)); err != nil {
					return err
				}
				continue next
			}

			j.Handle = h
			s.active = append(s.active, &submission{task: t, job: j, cores: need, at: time.Now()})
			s.inUse += need
			s.changed = true
			s.opts.Metrics.JobSubmitted(string(t.Kind))
			s.opts.Metrics.SetCores(s.inUse, s.opts.Cores)
			s.log.Debug("job submitted", "job", j.ID, "handle", h, "cores", need, "in_use", s.inUse)
		}
		if t.State() == task.StateLoaded && !hasUnsubmitted(t) {
			if err := t.MarkSubmitted(&s.env); err != nil {
				return err
			}
		}
	}
	return nil
}

// poll refreshes every submitted job and frees the cores of finished ones.
func (s *Scheduler) poll(ctx context.Context) {
	kept := make([]*submission, 0, len(s.active))
	for _, sub := range s.active {
		if !sub.job.Status.Terminal() {
			r, err := s.backend.Status(ctx, sub.job.Handle)
			if err != nil {
				sub.job.Fail(fmt.Errorf("polling job %s: %w", sub.job.ID, err))
			} else {
				sub.job.Observe(r)
			}
		}
		if sub.job.Status.Terminal() {
			s.release(sub)
			continue
		}
		kept = append(kept, sub)
	}
	s.active = kept
}

func (s *Scheduler) release(sub *submission) {
	s.inUse -= sub.cores
	s.changed = true
	s.opts.Metrics.JobFinished(string(sub.task.Kind), sub.job.Status.String(), time.Since(sub.at).Seconds())
	s.opts.Metrics.SetCores(s.inUse, s.opts.Cores)
	s.log.Debug("job finished", "job", sub.job.ID, "status", sub.job.Status, "exit_code", sub.job.ExitCode)
}

// settle moves tasks forward from their jobs' statuses.
func (s *Scheduler) settle(ctx context.Context) error {
	for _, t := range s.graph.Tasks() {
		st := t.State()
		if st != task.StateLoaded && st != task.StateSubmitted && st != task.StateRunning {
			continue
		}
		if fj := t.FailedJob(); fj != nil {
			err := fj.Err
			if err == nil {
				err = &core.ExecutionError{Program: fj.Program, ExitCode: fj.ExitCode, Message: "job failed"}
			}
			if err := s.failTask(ctx, t, fmt.Errorf("job %s: %w", fj.ID, err)); err != nil {
				return err
			}
			continue
		}
		if st == task.StateSubmitted && anyStarted(t) {
			if err := t.MarkRunning(&s.env); err != nil {
				return err
			}
		}
		if t.State() == task.StateRunning && t.JobsSucceeded() {
			if err := s.complete(ctx, t); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scheduler) complete(ctx context.Context, t *task.Task) error {
	ctx, span := tracer.Start(ctx, "task.Complete", oteltrace.WithAttributes(
		attribute.String("task.id", string(t.ID)),
		attribute.String("task.kind", string(t.Kind)),
	))
	defer span.End()

	if err := t.Complete(&s.env); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return s.afterChange(ctx, t)
}

// failTask cancels t's remaining jobs, fails t and cascades to descendants.
func (s *Scheduler) failTask(ctx context.Context, t *task.Task, cause error) error {
	s.cancelJobs(t, cause)
	if t.State().Terminal() {
		return nil
	}
	err := t.Fail(&s.env, task.Failure{Class: core.Classify(cause), Reason: cause.Error(), Err: cause})
	if err != nil {
		return err
	}
	s.log.Warn("task failed", "task", t.ID.Short(), "name", t.Name, "class", t.Failure.Class, "error", cause)
	_, span := tracer.Start(ctx, "task.Fail", oteltrace.WithAttributes(
		attribute.String("task.id", string(t.ID)),
		attribute.String("failure.class", string(t.Failure.Class)),
	))
	span.RecordError(cause)
	span.SetStatus(codes.Error, t.Failure.Reason)
	span.End()
	return s.afterChange(ctx, t)
}

// cancelJobs stops t's submitted jobs that are still active.
func (s *Scheduler) cancelJobs(t *task.Task, cause error) {
	kept := s.active[:0]
	for _, sub := range s.active {
		if sub.task != t {
			kept = append(kept, sub)
			continue
		}
		if err := s.backend.Cancel(sub.job.Handle); err != nil {
			s.log.Warn("job cancel failed", "job", sub.job.ID, "error", err)
		}
		sub.job.Fail(fmt.Errorf("cancelled: %w", cause))
		s.release(sub)
	}
	s.active = kept
}

// abort cancels every active job and fails every unfinished task.
func (s *Scheduler) abort(cause error) {
	for _, sub := range s.active {
		if err := s.backend.Cancel(sub.job.Handle); err != nil {
			s.log.Warn("job cancel failed", "job", sub.job.ID, "error", err)
		}
		sub.job.Fail(cause)
		s.release(sub)
	}
	s.active = nil

	reason := fmt.Sprintf("run aborted: %v", cause)
	for _, t := range s.graph.Tasks() {
		if t.State().Terminal() {
			continue
		}
		err := t.Fail(&s.env, task.Failure{Class: core.ClassCancelled, Reason: reason, Err: cause})
		if err != nil {
			s.log.Error("failing task on abort", "task", t.ID.Short(), "error", err)
		}
	}
	s.log.Warn("run aborted", "error", cause)
}

func (s *Scheduler) finished() bool {
	return len(s.active) == 0 && s.unfinished() == 0
}

func (s *Scheduler) unfinished() int {
	n := 0
	for _, t := range s.graph.Tasks() {
		if !t.State().Terminal() {
			n++
		}
	}
	return n
}

func (s *Scheduler) sleep(ctx context.Context) error {
	timer := time.NewTimer(s.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Scheduler) observeTransition(t *task.Task, from, to task.State) {
	ev := trace.Event{
		TaskID: string(t.ID),
		Kind:   string(t.Kind),
		From:   string(from),
		To:     string(to),
	}
	if to == task.StateFailed && t.Failure != nil {
		ev.Class = string(t.Failure.Class)
		ev.CauseTaskID = string(t.Failure.Cause)
	}
	if to == task.StateDone && t.CacheHit {
		ev.CacheHit = true
		s.opts.Metrics.CacheHit(string(t.Kind))
	}
	trace.SafeRecord(s.opts.Trace, ev)
	s.opts.Metrics.Transition(string(t.Kind), string(to))
}

// InUse returns the cores currently held by submitted jobs.
func (s *Scheduler) InUse() int { return s.inUse }

func jobCores(j *job.Job) int {
	if j.Cores <= 0 {
		return 1
	}
	return j.Cores
}

func hasUnsubmitted(t *task.Task) bool {
	for _, j := range t.Jobs {
		if j.Handle == "" && !j.Status.Terminal() {
			return true
		}
	}
	return false
}

func anyStarted(t *task.Task) bool {
	for _, j := range t.Jobs {
		if j.Status != job.StatusPending {
			return true
		}
	}
	return false
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"phylobuild/internal/core"
	"phylobuild/internal/dag"
	"phylobuild/internal/metrics"
	"phylobuild/internal/report"
	"phylobuild/internal/runstate"
	"phylobuild/internal/store"
	"phylobuild/internal/task"
	"phylobuild/internal/telemetry"
	"phylobuild/internal/trace"
	"phylobuild/internal/workflow"
)

// Version is reported in spans and by --version.
var Version = "dev"

// Result is what one command produced.
type Result struct {
	ExitCode int

	// RunID and Run are set by the run command.
	RunID string
	Run   *dag.RunResult
}

// Execute builds the workflow in inv and runs it to completion.
//
// Responsibilities:
//   - Open the configured store and backend.
//   - Record the run under <work>/.phylobuild/runs before and after the
//     scheduler, even when it aborts.
//   - Translate the outcome to a semantic exit code.
func Execute(ctx context.Context, inv Invocation, stdout io.Writer, logger *slog.Logger, opts report.Options) (res Result, execErr error) {
	res.ExitCode = ExitInternalError
	cfg := inv.Config

	wf, err := workflow.Load(inv.WorkflowPath)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil && execErr == nil {
			execErr = fmt.Errorf("closing store: %w", cerr)
			res.ExitCode = ExitInternalError
		}
	}()

	g, err := workflow.Build(wf, st, logger)
	if err != nil {
		res.ExitCode = buildExitCode(err)
		return res, err
	}

	backend, err := newBackend(cfg, logger)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}

	runs, err := runstate.NewStore(cfg.WorkDir)
	if err != nil {
		return res, err
	}
	rec := &runstate.Recorder{Store: runs}
	run, err := rec.Begin(g.Hash(), wf.Path)
	if err != nil {
		return res, fmt.Errorf("recording run: %w", err)
	}
	res.RunID = run.RunID
	logger = logger.With("run_id", run.RunID)
	logger.Info("run started", "graph", g.Hash(), "mode", run.Mode, "tasks", g.Len())

	exporter := "none"
	if cfg.Tracing {
		exporter = "stdout"
	}
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "phylobuild",
		ServiceVersion: Version,
		Exporter:       exporter,
		RunID:          run.RunID,
	})
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := shutdown(sctx); serr != nil {
			logger.Warn("trace shutdown failed", "error", serr)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	col := metrics.NewCollectors(reg)
	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(ctx, cfg.MetricsAddr, metrics.Handler(reg), logger)
		if err != nil {
			res.ExitCode = ExitConfigError
			return res, err
		}
		defer func() {
			if serr := stop(); serr != nil {
				logger.Warn("metrics server stopped with error", "error", serr)
			}
		}()
	}

	recorder := trace.NewRecorder()
	sched := dag.NewScheduler(g, backend, task.Env{Store: st, WorkRoot: cfg.WorkDir, Logger: logger}, dag.Options{
		Cores:             cfg.Cores,
		PollInterval:      cfg.PollInterval,
		MaxSubmitAttempts: cfg.MaxSubmitAttempts,
		Logger:            logger,
		Metrics:           col,
		Trace:             recorder,
	})

	out, runErr := sched.Run(ctx)
	rt := recorder.Trace(g.Hash())
	final, recErr := rec.Finish(out, g.Tasks(), &rt, runErr)
	if recErr != nil {
		logger.Error("failed to record run", "error", recErr)
	}
	res.Run = out
	logger.Info("run finished", "status", final.Status, "trace", final.TraceHash)

	if err := report.Run(stdout, out, run.RunID, opts); err != nil {
		return res, fmt.Errorf("writing report: %w", err)
	}

	switch {
	case runErr != nil && isCancellation(runErr):
		res.ExitCode = ExitGraphFailure
		return res, runErr
	case runErr != nil:
		res.ExitCode = ExitInternalError
		return res, runErr
	case recErr != nil:
		res.ExitCode = ExitInternalError
		return res, recErr
	case out.Succeeded():
		res.ExitCode = ExitSuccess
	default:
		res.ExitCode = ExitGraphFailure
	}
	return res, nil
}

// buildExitCode maps composition errors: bad input data is the user's to
// fix, anything else is a fault.
func buildExitCode(err error) int {
	switch core.Classify(err) {
	case core.ClassInput:
		return ExitConfigError
	default:
		return ExitInternalError
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// serveMetrics listens on addr and serves h until ctx ends or stop is
// called. Listening happens before it returns so a bad address is reported
// to the caller.
func serveMetrics(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) (stop func() error, err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		return srv.Shutdown(sctx)
	})
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() error {
		cancel()
		return g.Wait()
	}, nil
}

// cacheStore opens the configured store for read-only inspection.
func cacheStore(inv Invocation, logger *slog.Logger) (store.Store, error) {
	st, err := openStore(inv.Config, logger)
	if err != nil {
		return nil, &InvocationError{ExitCode: ExitConfigError, Message: fmt.Sprintf("opening store: %v", err)}
	}
	return st, nil
}

package cli

import (
	"fmt"
	"log/slog"
	"runtime"

	"phylobuild/internal/config"
	"phylobuild/internal/job"
	"phylobuild/internal/store"
)

// openStore opens the result store the configuration names.
func openStore(cfg config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Kind {
	case config.StoreMemory:
		return store.NewMemoryStore(), nil
	case config.StoreFile, "":
		return store.NewFileStore(cfg.StorePath())
	case config.StoreBadger:
		return store.OpenBadger(store.BadgerConfig{
			Path:       cfg.StorePath(),
			SyncWrites: cfg.Store.SyncWrites,
			Logger:     logger.With("component", "badger"),
		})
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
}

// newBackend creates the execution backend the configuration names.
func newBackend(cfg config.Config, logger *slog.Logger) (job.Backend, error) {
	switch cfg.Backend.Kind {
	case config.BackendLocal, "":
		cores := cfg.Cores
		if cores <= 0 {
			cores = runtime.NumCPU()
		}
		return job.NewLocalBackend(cores, logger), nil
	case config.BackendCluster:
		c := cfg.Backend.Cluster
		return job.NewClusterBackend(job.ClusterConfig{
			Submit:      c.Submit,
			Cancel:      c.Cancel,
			Cores:       c.Cores,
			MaxJobCores: c.MaxJobCores,
			SubmitRate:  c.SubmitRate,
			SubmitBurst: c.SubmitBurst,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "phylobuild.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StoreFile, cfg.Store.Kind)
	assert.Equal(t, BackendLocal, cfg.Backend.Kind)
	assert.Equal(t, filepath.Join(cfg.WorkDir, "store"), cfg.StorePath())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
work_dir: /scratch/build
cores: 16
poll_interval: 500ms
store:
  kind: badger
  path: /scratch/cache
backend:
  kind: cluster
  cluster:
    submit: [sbatch, --parsable, --partition=long]
    cores: 256
    max_job_cores: 32
log:
  level: debug
  format: json
metrics_addr: localhost:9100
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/scratch/build", cfg.WorkDir)
	assert.Equal(t, 16, cfg.Cores)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "/scratch/cache", cfg.StorePath())
	assert.Equal(t, []string{"sbatch", "--parsable", "--partition=long"}, cfg.Backend.Cluster.Submit)
	assert.Equal(t, []string{"scancel"}, cfg.Backend.Cluster.Cancel, "unset keys keep defaults")
	assert.Equal(t, 256, cfg.Backend.Cluster.Cores)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EmptyFileIsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "workdir: typo\n"))
	var ce *Error
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Contains(t, err.Error(), "workdir")
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	_, err := Load(writeConfig(t, `
cores: -1
store:
  kind: redis
log:
  level: loud
`))
	var ce *Error
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Len(t, ce.Problems, 3)
	assert.Contains(t, ce.Path, "phylobuild.yaml")
}

func TestValidate_ClusterNeedsCores(t *testing.T) {
	cfg := Default()
	cfg.Backend.Kind = BackendCluster
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.cluster.cores")

	cfg.Backend.Cluster.Cores = 64
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

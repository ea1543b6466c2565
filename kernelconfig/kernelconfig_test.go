package kernelconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, BackendMemory, cfg.EventLog.Backend)
	require.Equal(t, 30*time.Second, cfg.Scheduler.DefaultLease)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "kernel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scheduler:
  backend: mongo
  default_lease: 45s
  max_retries: 5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendMongo, cfg.Scheduler.Backend)
	require.Equal(t, 45*time.Second, cfg.Scheduler.DefaultLease)
	require.Equal(t, 5, cfg.Scheduler.MaxRetries)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scheduler:
  backend: mongo
`), 0o644))

	t.Setenv("CHOIROS_SCHEDULER_BACKEND", "pulse")
	t.Setenv("CHOIROS_SCHEDULER_MAX_RETRIES", "9")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendPulse, cfg.Scheduler.Backend)
	require.Equal(t, 9, cfg.Scheduler.MaxRetries)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "kernel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
event_log:
  backend: filesystem
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsNonPositiveLease(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "kernel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scheduler:
  default_lease: 0s
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

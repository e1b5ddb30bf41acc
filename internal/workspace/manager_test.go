package workspace

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/deploycenter/internal/db/memstore"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), 0, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPathFor(t *testing.T) {
	m := newTestManager(t)
	pid, did := uuid.New(), uuid.New()

	p := m.PathFor(pid, did)
	assert.Equal(t, filepath.Join(m.Base(), "project-"+pid.String(), "deployment-"+did.String()), p)
}

func TestPrepare_CreatesFreshDirectory(t *testing.T) {
	m := newTestManager(t)
	pid, did := uuid.New(), uuid.New()

	path, err := m.Prepare(pid, did)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	entries, err := os.ReadDir(path)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPrepare_ClearsLeftovers(t *testing.T) {
	m := newTestManager(t)
	pid, did := uuid.New(), uuid.New()

	stale := filepath.Join(m.PathFor(pid, did), "leftover.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old run"), 0o644))

	path, err := m.Prepare(pid, did)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(path, "leftover.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCleanup_RemovesWorkspace(t *testing.T) {
	m := newTestManager(t)
	path, err := m.Prepare(uuid.New(), uuid.New())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(path, "a.txt"), []byte("x"), 0o644))

	require.NoError(t, m.Cleanup(path, []string{"/srv/www/app"}))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCleanup_RefusesTargetPath(t *testing.T) {
	m := newTestManager(t)
	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "live.html"), []byte("prod"), 0o644))

	err := m.Cleanup(target, []string{target})
	require.Error(t, err)

	// Production content untouched.
	_, statErr := os.Stat(filepath.Join(target, "live.html"))
	assert.NoError(t, statErr)
}

func TestCleanup_MissingPathIsNoop(t *testing.T) {
	m := newTestManager(t)
	assert.NoError(t, m.Cleanup(filepath.Join(m.Base(), "never-created"), nil))
}

func TestPreflight_PassesWithHealthyDisk(t *testing.T) {
	m := newTestManager(t)
	// Threshold of 1 GB free is satisfiable on any CI runner.
	m.minFreeBytes = 1 << 30

	store := memstore.New()
	assert.NoError(t, m.Preflight(context.Background(), uuid.New(), store.Deployments()))
}

func TestPreflight_InsufficientDiskIsFatal(t *testing.T) {
	m := newTestManager(t)
	// An absurd threshold forces the failure branch after pruning.
	m.minFreeBytes = 1 << 62

	store := memstore.New()
	err := m.Preflight(context.Background(), uuid.New(), store.Deployments())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient disk space")
}

func TestSweepQuarantine(t *testing.T) {
	m := newTestManager(t)
	q := filepath.Join(m.Base(), QuarantineDirName, "deployment-x-123")
	require.NoError(t, os.MkdirAll(q, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(q, "junk"), []byte("x"), 0o644))

	m.SweepQuarantine()

	_, statErr := os.Stat(q)
	assert.True(t, os.IsNotExist(statErr))
}

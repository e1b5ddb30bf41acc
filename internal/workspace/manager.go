package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/irgordon/deploycenter/internal/core/domain"
)

const (
	// QuarantineDirName holds workspaces that resisted deletion until a
	// later sweep can reclaim them.
	QuarantineDirName = "_quarantine"

	busyRetryAttempts = 3
	busyRetryDelay    = 500 * time.Millisecond
	// Background retries run at four times the foreground delay.
	deferredRetryDelay = 4 * busyRetryDelay

	defaultMinFreeBytes    = 5 << 30
	defaultKeepDeployments = 5
)

// Manager owns the per-deployment directory lifecycle under a single base
// path. Cleanup never fails a deployment: unresolvable directories end up
// in quarantine instead.
type Manager struct {
	base            string
	minFreeBytes    uint64
	keepDeployments int
	logger          *slog.Logger
}

// NewManager builds a manager. minFreeGB zero means the default floor; a
// negative value disables the free-space check entirely.
func NewManager(base string, minFreeGB, keepDeployments int, logger *slog.Logger) *Manager {
	m := &Manager{
		base:            base,
		minFreeBytes:    defaultMinFreeBytes,
		keepDeployments: defaultKeepDeployments,
		logger:          logger,
	}
	if minFreeGB > 0 {
		m.minFreeBytes = uint64(minFreeGB) << 30
	} else if minFreeGB < 0 {
		m.minFreeBytes = 0
	}
	if keepDeployments > 0 {
		m.keepDeployments = keepDeployments
	}
	return m
}

func (m *Manager) Base() string { return m.base }

// PathFor returns the workspace directory for one deployment.
func (m *Manager) PathFor(projectID, deploymentID uuid.UUID) string {
	return filepath.Join(m.base,
		fmt.Sprintf("project-%s", projectID),
		fmt.Sprintf("deployment-%s", deploymentID))
}

func (m *Manager) quarantineDir() string {
	return filepath.Join(m.base, QuarantineDirName)
}

// Prepare creates a fresh empty workspace, killing any stale process still
// holding the path from a previous run.
func (m *Manager) Prepare(projectID, deploymentID uuid.UUID) (string, error) {
	path := m.PathFor(projectID, deploymentID)

	killStaleProcesses(path, m.logger)

	if err := os.RemoveAll(path); err != nil {
		return "", fmt.Errorf("workspace: cannot clear %s: %w", path, err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("workspace: cannot create %s: %w", path, err)
	}
	return path, nil
}

// Preflight repairs what it can and verifies disk capacity, pruning old
// workspaces when below the threshold. Only insufficient disk is fatal.
func (m *Manager) Preflight(ctx context.Context, projectID uuid.UUID, deployments domain.DeploymentRepository) error {
	fixPackageManagerCache(m.logger)

	if err := os.MkdirAll(m.base, 0o755); err != nil {
		return fmt.Errorf("workspace: cannot create base %s: %w", m.base, err)
	}

	free, err := freeBytes(m.base)
	if err != nil {
		m.logger.Warn("disk probe failed, continuing", slog.Any("error", err))
		return nil
	}
	if free >= m.minFreeBytes {
		return nil
	}

	m.logger.Warn("low disk space, pruning old deployment workspaces",
		slog.Uint64("free_bytes", free),
		slog.Uint64("required_bytes", m.minFreeBytes))
	m.pruneOld(ctx, projectID, deployments)

	free, err = freeBytes(m.base)
	if err == nil && free < m.minFreeBytes {
		return fmt.Errorf("workspace: insufficient disk space: %d bytes free, %d required", free, m.minFreeBytes)
	}
	return nil
}

// pruneOld removes workspace directories of completed deployments beyond
// the keep window. Failures are logged; pruning is best effort.
func (m *Manager) pruneOld(ctx context.Context, projectID uuid.UUID, deployments domain.DeploymentRepository) {
	completed, err := deployments.ListCompletedForProject(ctx, projectID, 0)
	if err != nil {
		m.logger.Warn("cannot list completed deployments for pruning", slog.Any("error", err))
		return
	}
	if len(completed) <= m.keepDeployments {
		return
	}
	for _, d := range completed[m.keepDeployments:] {
		path := m.PathFor(projectID, d.ID)
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("prune failed", slog.String("path", path), slog.Any("error", err))
		}
	}
}

// Cleanup deletes a workspace directory. It refuses paths that resolve to a
// configured target path, retries through transient busy errors, and falls
// back to emptying the directory and then quarantining it. The only error
// it returns is the target-path refusal.
func (m *Manager) Cleanup(path string, targetPaths []string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	for _, target := range targetPaths {
		if samePath(abs, target) {
			m.logger.Error("refusing to delete workspace equal to a target path",
				slog.String("path", abs))
			return fmt.Errorf("workspace: refusing to delete %s: it is a configured target path", abs)
		}
	}

	if _, statErr := os.Lstat(abs); os.IsNotExist(statErr) {
		return nil
	}

	killStaleProcesses(abs, m.logger)

	for attempt := 1; attempt <= busyRetryAttempts; attempt++ {
		if err := os.RemoveAll(abs); err == nil {
			return nil
		} else {
			m.logger.Warn("workspace removal failed",
				slog.String("path", abs),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
		}
		time.Sleep(time.Duration(attempt) * busyRetryDelay)
	}

	// Keep the directory handle, strip its contents.
	if emptyDirectory(abs) {
		if err := os.Remove(abs); err == nil {
			return nil
		}
	}

	m.quarantine(abs)
	return nil
}

// quarantine moves a stubborn workspace under <base>/_quarantine and
// schedules background removal attempts.
func (m *Manager) quarantine(path string) {
	qdir := m.quarantineDir()
	if err := os.MkdirAll(qdir, 0o755); err != nil {
		m.logger.Error("cannot create quarantine directory", slog.Any("error", err))
		scheduleForcedRemoval(path, m.logger)
		return
	}

	dest := filepath.Join(qdir, fmt.Sprintf("%s-%d", filepath.Base(path), time.Now().UnixNano()))
	if err := os.Rename(path, dest); err != nil {
		m.logger.Error("quarantine move failed",
			slog.String("path", path),
			slog.Any("error", err))
		scheduleForcedRemoval(path, m.logger)
		m.retryLater(path)
		return
	}

	m.logger.Warn("workspace quarantined",
		slog.String("path", path),
		slog.String("quarantine", dest))
	m.retryLater(dest)
}

// retryLater attempts removal in the background once file handles have had
// time to close.
func (m *Manager) retryLater(path string) {
	go func() {
		for attempt := 1; attempt <= busyRetryAttempts; attempt++ {
			time.Sleep(time.Duration(attempt) * deferredRetryDelay)
			if err := os.RemoveAll(path); err == nil {
				return
			}
		}
		m.logger.Warn("deferred workspace removal gave up", slog.String("path", path))
	}()
}

// SweepQuarantine retries removal of everything previously quarantined.
func (m *Manager) SweepQuarantine() {
	entries, err := os.ReadDir(m.quarantineDir())
	if err != nil {
		return
	}
	for _, e := range entries {
		p := filepath.Join(m.quarantineDir(), e.Name())
		if err := os.RemoveAll(p); err != nil {
			m.logger.Warn("quarantine sweep failed", slog.String("path", p), slog.Any("error", err))
		}
	}
}

// emptyDirectory removes the children of dir, reporting whether the
// directory is empty afterwards.
func emptyDirectory(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	ok := true
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			ok = false
		}
	}
	return ok
}

func samePath(a, b string) bool {
	ra, err := filepath.Abs(b)
	if err != nil {
		ra = filepath.Clean(b)
	}
	if filepath.Clean(a) == filepath.Clean(ra) {
		return true
	}
	// Symlinked paths compare equal through resolution when possible.
	ea, errA := filepath.EvalSymlinks(a)
	eb, errB := filepath.EvalSymlinks(ra)
	return errA == nil && errB == nil && ea == eb
}

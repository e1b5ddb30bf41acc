//go:build !windows

package workspace

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
)

func freeBytes(path string) (uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// killStaleProcesses terminates anything whose command line still
// references the workspace path. Best effort; pkill may be absent.
func killStaleProcesses(path string, logger *slog.Logger) {
	if _, err := exec.LookPath("pkill"); err != nil {
		return
	}
	// pkill exits 1 when nothing matched, which is the common case.
	_ = exec.Command("pkill", "-TERM", "-f", path).Run()
}

// fixPackageManagerCache restores ownership of the npm cache when a
// previous root-run build left it unwritable. Best effort.
func fixPackageManagerCache(logger *slog.Logger) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	cache := filepath.Join(home, ".npm")
	info, err := os.Stat(cache)
	if err != nil || !info.IsDir() {
		return
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	uid, gid := os.Getuid(), os.Getgid()
	if int(st.Uid) == uid {
		return
	}
	spec := strconv.Itoa(uid) + ":" + strconv.Itoa(gid)
	if err := exec.Command("chown", "-R", spec, cache).Run(); err != nil {
		logger.Debug("npm cache ownership fix failed", slog.Any("error", err))
	}
}

// scheduleForcedRemoval has no extra mechanism on POSIX; the deferred
// retries cover it.
func scheduleForcedRemoval(path string, logger *slog.Logger) {}

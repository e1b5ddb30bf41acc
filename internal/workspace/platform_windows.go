//go:build windows

package workspace

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"unsafe"
)

var (
	kernel32               = syscall.NewLazyDLL("kernel32.dll")
	procGetDiskFreeSpaceEx = kernel32.NewProc("GetDiskFreeSpaceExW")
)

func freeBytes(path string) (uint64, error) {
	p, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	var freeAvail, total, totalFree uint64
	r, _, callErr := procGetDiskFreeSpaceEx.Call(
		uintptr(unsafe.Pointer(p)),
		uintptr(unsafe.Pointer(&freeAvail)),
		uintptr(unsafe.Pointer(&total)),
		uintptr(unsafe.Pointer(&totalFree)),
	)
	if r == 0 {
		return 0, callErr
	}
	return freeAvail, nil
}

// killStaleProcesses terminates dev servers and daemons still holding
// files under the workspace. Windows cannot delete open files, so this
// runs before every removal attempt.
func killStaleProcesses(path string, logger *slog.Logger) {
	escaped := strings.ReplaceAll(path, `\`, `\\`)
	script := fmt.Sprintf(
		`Get-CimInstance Win32_Process | Where-Object { $_.CommandLine -like '*%s*' } | ForEach-Object { Stop-Process -Id $_.ProcessId -Force -ErrorAction SilentlyContinue }`,
		escaped)
	if err := exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script).Run(); err != nil {
		logger.Debug("stale process sweep failed", slog.Any("error", err))
	}
}

func fixPackageManagerCache(logger *slog.Logger) {
	// npm cache ownership is a POSIX concern.
}

// scheduleForcedRemoval detaches a delayed rmdir so the directory goes
// away once the last handle closes.
func scheduleForcedRemoval(path string, logger *slog.Logger) {
	cmd := exec.Command("cmd", "/C",
		fmt.Sprintf(`ping -n 4 127.0.0.1 > NUL & rmdir /S /Q "%s"`, path))
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	if err := cmd.Start(); err != nil {
		logger.Warn("cannot schedule forced removal", slog.Any("error", err))
		return
	}
	go func() { _ = cmd.Wait() }()
}

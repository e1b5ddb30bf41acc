//go:build !windows

package shell

import (
	"fmt"
	"os/exec"
	"syscall"
)

// shellCommand returns the system shell configured as a session leader so
// every descendant lands in one signalable process group.
func shellCommand() *exec.Cmd {
	cmd := exec.Command("/bin/sh")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd
}

// frameCommand wraps a command so the shell prints the end marker with the
// command's exit code on its own line. The leading newline forces the marker
// off any unterminated output line.
func frameCommand(command, marker string) string {
	return fmt.Sprintf("%s\nprintf '\\n%s %%s\\n' \"$?\"\n", command, marker)
}

func terminateProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Negative pid addresses the whole group (the shell is its leader).
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

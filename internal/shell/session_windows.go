//go:build windows

package shell

import (
	"fmt"
	"os/exec"
	"strconv"
)

// shellCommand returns a non-interactive PowerShell host reading commands
// from stdin.
func shellCommand() *exec.Cmd {
	return exec.Command("powershell.exe", "-NoProfile", "-NonInteractive", "-Command", "-")
}

// frameCommand wraps a command so PowerShell prints the end marker with the
// child's exit code. $LASTEXITCODE is unset for cmdlets; fall back on $?.
func frameCommand(command, marker string) string {
	return fmt.Sprintf(
		"%s\r\nif ($LASTEXITCODE -ne $null) { Write-Output (\"%s \" + $LASTEXITCODE) } elseif ($?) { Write-Output \"%s 0\" } else { Write-Output \"%s 1\" }\r\n",
		command, marker, marker, marker,
	)
}

// terminateProcessGroup has no graceful signal on Windows; taskkill the tree.
func terminateProcessGroup(cmd *exec.Cmd) {
	killProcessGroup(cmd)
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid)).Run()
}

package sshkey

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// GitSSHCommand builds the GIT_SSH_COMMAND value pointing at an ephemeral
// key. Host key checking is disabled: deploy targets are configured by the
// operator and the key is single-purpose.
func GitSSHCommand(keyPath string) string {
	return fmt.Sprintf(
		"ssh -i %s -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null -o IdentitiesOnly=yes -o LogLevel=ERROR -o BatchMode=yes",
		keyPath,
	)
}

// GitEnv returns the process environment extended with GIT_SSH_COMMAND when
// a key handle is supplied.
func GitEnv(handle *Handle) []string {
	env := os.Environ()
	if handle != nil {
		env = append(env, "GIT_SSH_COMMAND="+GitSSHCommand(handle.Path))
	}
	return env
}

// RunGit executes a git command in dir with the ephemeral-key environment
// and a hard timeout. Output is combined; the caller decides what to log.
func RunGit(ctx context.Context, dir string, handle *Handle, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = GitEnv(handle)

	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return string(out), fmt.Errorf("sshkey: git %s timed out after %s", args[0], timeout)
	}
	if err != nil {
		return string(out), fmt.Errorf("sshkey: git %s failed: %w: %s", args[0], err, truncate(string(out), 500))
	}
	return string(out), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

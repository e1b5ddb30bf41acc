package gitexec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/irgordon/deploycenter/internal/sshkey"
)

const (
	cloneTimeout    = 5 * time.Minute
	checkoutTimeout = 30 * time.Second
	lsRemoteTimeout = 30 * time.Second
)

// Client is the git surface the orchestrator needs. Tests substitute a
// fake that writes files instead of talking to a remote.
type Client interface {
	// Clone performs a shallow single-branch clone into dir.
	Clone(ctx context.Context, repoURL, branch, dir string, key *sshkey.Handle) error
	// Checkout moves the work tree to a concrete commit.
	Checkout(ctx context.Context, dir, commit string, key *sshkey.Handle) error
	// RevParseHead resolves the checked-out commit hash.
	RevParseHead(ctx context.Context, dir string) (string, error)
	// LsRemote resolves the tip of a branch without cloning.
	LsRemote(ctx context.Context, repoURL, branch string, key *sshkey.Handle) (string, error)
}

// CLI shells out to the git binary.
type CLI struct{}

func NewCLI() *CLI { return &CLI{} }

func (c *CLI) Clone(ctx context.Context, repoURL, branch, dir string, key *sshkey.Handle) error {
	_, err := sshkey.RunGit(ctx, dir, key, cloneTimeout,
		"clone", "--branch", branch, "--depth", "1", repoURL, ".")
	return err
}

func (c *CLI) Checkout(ctx context.Context, dir, commit string, key *sshkey.Handle) error {
	_, err := sshkey.RunGit(ctx, dir, key, checkoutTimeout, "checkout", commit)
	return err
}

func (c *CLI) RevParseHead(ctx context.Context, dir string) (string, error) {
	out, err := sshkey.RunGit(ctx, dir, nil, checkoutTimeout, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	hash := strings.TrimSpace(out)
	if hash == "" {
		return "", fmt.Errorf("gitexec: rev-parse produced no output")
	}
	return hash, nil
}

func (c *CLI) LsRemote(ctx context.Context, repoURL, branch string, key *sshkey.Handle) (string, error) {
	out, err := sshkey.RunGit(ctx, "", key, lsRemoteTimeout,
		"ls-remote", repoURL, "refs/heads/"+branch)
	if err != nil {
		return "", err
	}
	// Output: "<hash>\trefs/heads/<branch>\n"
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", fmt.Errorf("gitexec: branch %q not found on remote", branch)
	}
	return fields[0], nil
}

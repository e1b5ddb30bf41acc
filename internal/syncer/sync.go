package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const rsyncTimeout = 5 * time.Minute

// Options configure one publish.
type Options struct {
	// BuildOutput, when set, names the source subdirectory to publish
	// instead of the workspace root.
	BuildOutput string
	// ExtraIgnores are the project's additions to the preserve set.
	ExtraIgnores []string
	// RsyncOptions override the default "-a --delete" flags.
	RsyncOptions string
}

// Syncer publishes a build into production paths while honouring the
// preserve set. It prefers an external rsync and falls back to a manual
// two-pass copy/delete when rsync is unavailable or fails.
type Syncer struct {
	logger *slog.Logger

	// lookPath is swappable in tests to force the manual path.
	lookPath func(string) (string, error)
}

func New(logger *slog.Logger) *Syncer {
	return &Syncer{logger: logger, lookPath: exec.LookPath}
}

// Publish syncs the source into every target path independently and
// aggregates per-path failures so a partial publish is diagnosable.
func (s *Syncer) Publish(ctx context.Context, workspace string, targetPaths []string, opts Options) error {
	source := workspace
	if opts.BuildOutput != "" {
		source = filepath.Join(workspace, opts.BuildOutput)
		info, err := os.Stat(source)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("syncer: build output directory %q does not exist in the workspace", opts.BuildOutput)
		}
	}

	matcher := NewMatcher(opts.ExtraIgnores)

	var failures []string
	for _, target := range targetPaths {
		if err := s.syncOne(ctx, source, target, matcher, opts); err != nil {
			s.logger.Error("publish to target failed",
				slog.String("target", target),
				slog.Any("error", err))
			failures = append(failures, fmt.Sprintf("%s: %v", target, err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("syncer: publish failed for %d path(s): %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

func (s *Syncer) syncOne(ctx context.Context, source, target string, matcher *Matcher, opts Options) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("cannot create target: %w", err)
	}

	if rsyncPath, err := s.lookPath("rsync"); err == nil {
		if err := s.rsync(ctx, rsyncPath, source, target, matcher, opts.RsyncOptions); err == nil {
			return nil
		} else {
			s.logger.Warn("rsync failed, falling back to manual sync",
				slog.String("target", target),
				slog.Any("error", err))
		}
	}

	return manualSync(source, target, matcher)
}

func (s *Syncer) rsync(ctx context.Context, rsyncPath, source, target string, matcher *Matcher, options string) error {
	ctx, cancel := context.WithTimeout(ctx, rsyncTimeout)
	defer cancel()

	args := strings.Fields(options)
	if len(args) == 0 {
		args = []string{"-a", "--delete"}
	}
	for _, pat := range matcher.Patterns() {
		args = append(args, "--exclude", pat)
	}
	// Trailing slash: sync the contents of source, not source itself.
	args = append(args, source+string(filepath.Separator), target)

	cmd := exec.CommandContext(ctx, rsyncPath, args...)
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("rsync timed out after %s", rsyncTimeout)
	}
	if err != nil {
		return fmt.Errorf("rsync: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// manualSync is the two-pass fallback: copy everything from source that is
// not preserved, then delete anything in target that is absent from source
// and not preserved. Both passes share one predicate.
func manualSync(source, target string, matcher *Matcher) error {
	if err := copyPass(source, target, matcher); err != nil {
		return err
	}
	return deletePass(source, target, matcher)
}

func copyPass(source, target string, matcher *Matcher) error {
	return filepath.Walk(source, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(source, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if matcher.Match(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		dest := filepath.Join(target, rel)
		if info.IsDir() {
			return os.MkdirAll(dest, info.Mode().Perm())
		}
		if info.Mode()&os.ModeSymlink != 0 {
			// Replicate the link itself, not its target's contents.
			linkDest, err := os.Readlink(p)
			if err != nil {
				return err
			}
			_ = os.Remove(dest)
			return os.Symlink(linkDest, dest)
		}
		return copyFile(p, dest, info.Mode().Perm())
	})
}

func deletePass(source, target string, matcher *Matcher) error {
	var doomed []string
	err := filepath.Walk(target, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		rel, relErr := filepath.Rel(target, p)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if matcher.Match(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if _, statErr := os.Lstat(filepath.Join(source, rel)); os.IsNotExist(statErr) {
			doomed = append(doomed, p)
			if info.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, p := range doomed {
		if rmErr := os.RemoveAll(p); rmErr != nil {
			return rmErr
		}
	}
	return nil
}

func copyFile(src, dest string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

package shell

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// DefaultCommandTimeout is the per-command ceiling; a build step that is
// still silent after this is force-killed with its whole process group.
const DefaultCommandTimeout = 10 * time.Minute

var (
	ErrSessionClosed  = errors.New("shell: session closed")
	ErrCommandTimeout = errors.New("shell: command timed out")
)

// Session is a single persistent shell process executing one command at a
// time. Commands are framed with a session-unique end marker carrying the
// child's exit code; the stdout reader parses the marker to find command
// boundaries. On POSIX the shell is a session leader so the entire child
// process group can be signalled as a unit.
type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	marker string
	logger *slog.Logger

	mu sync.Mutex // one command in flight at a time

	stateMu  sync.Mutex
	inflight *inflight
	closed   bool
	exited   chan struct{}
	exitErr  error
}

type inflight struct {
	onStdout func(string)
	onStderr func(string)
	done     chan CommandResult
}

// NewSession starts the platform shell in dir with the given extra
// environment entries (full environment, e.g. from sshkey.GitEnv).
func NewSession(dir string, env []string, logger *slog.Logger) (*Session, error) {
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("shell: entropy failure: %w", err)
	}

	s := &Session{
		marker: "__DEPLOY_CENTER_DONE_" + hex.EncodeToString(nonce) + "__",
		logger: logger,
		exited: make(chan struct{}),
	}

	cmd := shellCommand()
	cmd.Dir = dir
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("shell: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("shell: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("shell: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("shell: cannot start session shell: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin

	go s.readStdout(stdout)
	go s.readStderr(stderr)
	go func() {
		err := cmd.Wait()
		s.stateMu.Lock()
		s.exitErr = err
		cur := s.inflight
		s.inflight = nil
		s.stateMu.Unlock()
		close(s.exited)
		// An in-flight command whose shell died rejects explicitly.
		if cur != nil {
			select {
			case cur.done <- CommandResult{ExitCode: -1}:
			default:
			}
		}
	}()

	return s, nil
}

func (s *Session) readStdout(r io.Reader) {
	parser := NewParser(s.marker)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			lines, result := parser.Feed(buf[:n])
			s.deliver(lines, result)
		}
		if err != nil {
			if line, ok := parser.Flush(); ok {
				s.deliver([]string{line}, nil)
			}
			return
		}
	}
}

func (s *Session) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		s.stateMu.Lock()
		cur := s.inflight
		s.stateMu.Unlock()
		if cur != nil && cur.onStderr != nil {
			cur.onStderr(line)
		}
	}
}

func (s *Session) deliver(lines []string, result *CommandResult) {
	s.stateMu.Lock()
	cur := s.inflight
	if result != nil {
		s.inflight = nil
	}
	s.stateMu.Unlock()

	if cur == nil {
		return
	}
	for _, l := range lines {
		if cur.onStdout != nil {
			cur.onStdout(l)
		}
	}
	if result != nil {
		cur.done <- *result
	}
}

// Run submits one command and blocks until its marker arrives, the timeout
// fires, or the shell dies. Returns the command's exit code.
func (s *Session) Run(command string, timeout time.Duration, onStdout, onStderr func(string)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	s.stateMu.Lock()
	if s.closed || s.exitedAlready() {
		s.stateMu.Unlock()
		return -1, ErrSessionClosed
	}
	fl := &inflight{onStdout: onStdout, onStderr: onStderr, done: make(chan CommandResult, 1)}
	s.inflight = fl
	s.stateMu.Unlock()

	if _, err := io.WriteString(s.stdin, frameCommand(command, s.marker)); err != nil {
		s.clearInflight()
		return -1, fmt.Errorf("shell: submit failed: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-fl.done:
		s.stateMu.Lock()
		dead := s.exitedAlready()
		s.stateMu.Unlock()
		if dead && res.ExitCode == -1 {
			return -1, fmt.Errorf("shell: session shell exited unexpectedly: %w", ErrSessionClosed)
		}
		return res.ExitCode, nil
	case <-timer.C:
		// Kill the whole process group: the hung child, not just the shell.
		s.kill()
		s.clearInflight()
		return -1, fmt.Errorf("%w after %s", ErrCommandTimeout, timeout)
	case <-s.exited:
		s.clearInflight()
		return -1, fmt.Errorf("shell: session shell exited unexpectedly: %w", ErrSessionClosed)
	}
}

func (s *Session) exitedAlready() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}

func (s *Session) clearInflight() {
	s.stateMu.Lock()
	s.inflight = nil
	s.stateMu.Unlock()
}

// Close terminates the session: graceful stop of the process group, then a
// hard kill after the grace period. Idempotent.
func (s *Session) Close() {
	s.stateMu.Lock()
	if s.closed {
		s.stateMu.Unlock()
		return
	}
	s.closed = true
	s.stateMu.Unlock()

	_ = s.stdin.Close()
	s.terminateGracefully(time.Second)
}

// kill hard-kills the process group immediately.
func (s *Session) kill() {
	killProcessGroup(s.cmd)
}

func (s *Session) terminateGracefully(grace time.Duration) {
	terminateProcessGroup(s.cmd)
	select {
	case <-s.exited:
	case <-time.After(grace):
		killProcessGroup(s.cmd)
	}
}

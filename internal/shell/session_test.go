//go:build !windows

package shell

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(t.TempDir(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

type lineSink struct {
	mu    sync.Mutex
	lines []string
}

func (ls *lineSink) add(l string) {
	ls.mu.Lock()
	ls.lines = append(ls.lines, l)
	ls.mu.Unlock()
}

func (ls *lineSink) joined() string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return strings.Join(ls.lines, "\n")
}

func TestSession_RunEcho(t *testing.T) {
	s := newTestSession(t)

	var out lineSink
	code, err := s.Run("echo hello", 10*time.Second, out.add, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.joined(), "hello")
}

func TestSession_NonZeroExitCode(t *testing.T) {
	s := newTestSession(t)

	code, err := s.Run("exit 3", 10*time.Second, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestSession_StatePersistsAcrossCommands(t *testing.T) {
	s := newTestSession(t)

	_, err := s.Run("DEPLOY_TEST_VAR=persisted", 10*time.Second, nil, nil)
	require.NoError(t, err)

	var out lineSink
	code, err := s.Run("echo $DEPLOY_TEST_VAR", 10*time.Second, out.add, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.joined(), "persisted")
}

func TestSession_StderrRouted(t *testing.T) {
	s := newTestSession(t)

	var errSink lineSink
	code, err := s.Run("echo oops >&2", 10*time.Second, nil, errSink.add)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, errSink.joined(), "oops")
}

func TestSession_Timeout(t *testing.T) {
	s := newTestSession(t)

	start := time.Now()
	_, err := s.Run("sleep 30", 500*time.Millisecond, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSession_RunAfterClose(t *testing.T) {
	s := newTestSession(t)
	s.Close()

	_, err := s.Run("echo nope", time.Second, nil, nil)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_ShellDeathRejectsInFlight(t *testing.T) {
	s := newTestSession(t)

	_, err := s.Run("exec sleep 0", 5*time.Second, nil, nil)
	// The exec replaces the shell; the session must report closure rather
	// than hang.
	assert.Error(t, err)
}

package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/deploycenter/internal/core/domain"
	"github.com/irgordon/deploycenter/internal/db/memstore"
)

// scriptedSession replays canned results for submitted commands.
type scriptedSession struct {
	mu       sync.Mutex
	commands []string
	results  map[string]scriptedResult
	closed   bool
}

type scriptedResult struct {
	exit   int
	err    error
	stdout []string
	stderr []string
}

func (s *scriptedSession) Run(command string, timeout time.Duration, onStdout, onStderr func(string)) (int, error) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	res, ok := s.results[command]
	s.mu.Unlock()

	if !ok {
		res = scriptedResult{exit: 0}
	}
	for _, l := range res.stdout {
		if onStdout != nil {
			onStdout(l)
		}
	}
	for _, l := range res.stderr {
		if onStderr != nil {
			onStderr(l)
		}
	}
	return res.exit, res.err
}

func (s *scriptedSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

type recordingHub struct {
	mu    sync.Mutex
	lines []string
}

func (h *recordingHub) EmitDeploymentUpdated(d *domain.Deployment) {}
func (h *recordingHub) EmitDeploymentCompleted(d *domain.Deployment) {}
func (h *recordingHub) EmitDeploymentLog(depID, projID uuid.UUID, line string) {
	h.mu.Lock()
	h.lines = append(h.lines, line)
	h.mu.Unlock()
}

func (h *recordingHub) all() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.lines...)
}

func newTestRunner(t *testing.T, session *scriptedSession) (*Runner, *memstore.Store, *recordingHub) {
	t.Helper()
	store := memstore.New()
	hub := &recordingHub{}
	r := NewRunner(store.Steps(), hub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.newSession = func(dir string, env []string) (commandSession, error) {
		return session, nil
	}
	return r, store, hub
}

func TestRunner_AllStepsSucceed(t *testing.T) {
	session := &scriptedSession{results: map[string]scriptedResult{
		"npm ci":        {stdout: []string{"added 120 packages"}},
		"npm run build": {stdout: []string{"built in 3s"}},
	}}
	r, store, hub := newTestRunner(t, session)

	depID, projID := uuid.New(), uuid.New()
	steps := []domain.PipelineStep{
		{Name: "install", Run: []string{"npm ci"}},
		{Name: "build", Run: []string{"npm run build"}},
	}

	res := r.Execute(context.Background(), depID, projID, steps, domain.Context{}, t.TempDir(), nil, "default")

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.CompletedSteps)
	assert.Equal(t, 2, res.TotalSteps)
	assert.GreaterOrEqual(t, res.Duration, time.Duration(0))

	records, err := store.Steps().ListForDeployment(context.Background(), depID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, domain.StepSuccess, rec.Status)
	}
	assert.Contains(t, records[1].Output, "built in 3s")

	assert.Contains(t, hub.all(), "$ npm ci")
}

func TestRunner_SubstitutesContextIntoCommands(t *testing.T) {
	session := &scriptedSession{}
	r, _, _ := newTestRunner(t, session)

	ctx := domain.Context{"Branch": "main", "TargetPath": "/srv/www/p"}
	steps := []domain.PipelineStep{{Name: "deploy", Run: []string{"rsync dist/ {{TargetPath}}/ # {{Branch}}"}}}

	res := r.Execute(context.Background(), uuid.New(), uuid.New(), steps, ctx, t.TempDir(), nil, "default")
	require.True(t, res.Success)
	assert.Equal(t, []string{"rsync dist/ /srv/www/p/ # main"}, session.commands)
}

func TestRunner_FailureAbortsAndKillsSession(t *testing.T) {
	session := &scriptedSession{results: map[string]scriptedResult{
		"exit 1": {exit: 1, stderr: []string{"boom"}},
	}}
	r, store, hub := newTestRunner(t, session)

	depID := uuid.New()
	steps := []domain.PipelineStep{
		{Name: "build", Run: []string{"exit 1"}},
		{Name: "never", Run: []string{"echo unreachable"}},
	}

	res := r.Execute(context.Background(), depID, uuid.New(), steps, domain.Context{}, t.TempDir(), nil, "default")

	assert.False(t, res.Success)
	assert.Equal(t, 0, res.CompletedSteps)
	assert.Equal(t, 2, res.TotalSteps)
	assert.Contains(t, res.ErrorMessage, "exited with code 1")

	// The failing step is recorded Failed; the second step never ran.
	records, err := store.Steps().ListForDeployment(context.Background(), depID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.StepFailed, records[0].Status)
	assert.Contains(t, records[0].ErrorOutput, "boom")

	assert.True(t, session.closed, "session must be torn down on failure")
	assert.NotContains(t, session.commands, "echo unreachable")

	var sawError bool
	for _, l := range hub.all() {
		if l == "[ERROR] boom" {
			sawError = true
		}
	}
	assert.True(t, sawError, "stderr must reach subscribers with the [ERROR] prefix")
}

func TestRunner_TimeoutFailsStep(t *testing.T) {
	session := &scriptedSession{results: map[string]scriptedResult{
		"sleep forever": {exit: -1, err: errors.New("shell: command timed out after 10m0s")},
	}}
	r, _, _ := newTestRunner(t, session)

	steps := []domain.PipelineStep{{Name: "hang", Run: []string{"sleep forever"}}}
	res := r.Execute(context.Background(), uuid.New(), uuid.New(), steps, domain.Context{}, t.TempDir(), nil, "default")

	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "timed out")
}

func TestRunner_RunIfSkipsStep(t *testing.T) {
	session := &scriptedSession{}
	r, store, _ := newTestRunner(t, session)

	depID := uuid.New()
	ctx := domain.Context{"Environment": "production"}
	steps := []domain.PipelineStep{
		{Name: "tests", Run: []string{"npm test"}, RunIf: `Environment != 'production'`},
		{Name: "build", Run: []string{"npm run build"}},
	}

	res := r.Execute(context.Background(), depID, uuid.New(), steps, ctx, t.TempDir(), nil, "default")
	require.True(t, res.Success)

	records, err := store.Steps().ListForDeployment(context.Background(), depID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, domain.StepSkipped, records[0].Status)
	assert.Equal(t, float64(0), records[0].Duration)
	assert.Equal(t, domain.StepSuccess, records[1].Status)

	assert.NotContains(t, session.commands, "npm test")
}

func TestRunner_BadRunIfSkipsWithWarning(t *testing.T) {
	session := &scriptedSession{}
	r, store, _ := newTestRunner(t, session)

	depID := uuid.New()
	steps := []domain.PipelineStep{{Name: "broken", Run: []string{"echo x"}, RunIf: `Branch = 'main'`}}

	res := r.Execute(context.Background(), depID, uuid.New(), steps, domain.Context{}, t.TempDir(), nil, "default")
	require.True(t, res.Success, "a broken condition skips, never crashes")

	records, _ := store.Steps().ListForDeployment(context.Background(), depID)
	require.Len(t, records, 1)
	assert.Equal(t, domain.StepSkipped, records[0].Status)
}

func TestRunner_PackageManagerNoiseIsNotError(t *testing.T) {
	session := &scriptedSession{results: map[string]scriptedResult{
		"npm ci": {stdout: []string{"ok"}, stderr: []string{"npm warn deprecated foo@1.0.0", "real failure"}},
	}}
	r, store, hub := newTestRunner(t, session)

	depID := uuid.New()
	steps := []domain.PipelineStep{{Name: "install", Run: []string{"npm ci"}}}
	res := r.Execute(context.Background(), depID, uuid.New(), steps, domain.Context{}, t.TempDir(), nil, "default")
	require.True(t, res.Success)

	records, _ := store.Steps().ListForDeployment(context.Background(), depID)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].ErrorOutput, "real failure")
	assert.NotContains(t, records[0].ErrorOutput, "npm warn")

	var prefixed int
	for _, l := range hub.all() {
		if l == "[ERROR] real failure" {
			prefixed++
		}
		if l == "[ERROR] npm warn deprecated foo@1.0.0" {
			t.Error("package-manager noise must not carry the [ERROR] prefix")
		}
	}
	assert.Equal(t, 1, prefixed)
}

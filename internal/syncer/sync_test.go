package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newManualSyncer disables rsync discovery so tests exercise the portable
// two-pass implementation.
func newManualSyncer() *Syncer {
	s := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestPublish_CopiesNewBuild(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "index.html"), "<h1>v2</h1>")
	writeFile(t, filepath.Join(src, "assets", "app.js"), "console.log(2)")

	err := newManualSyncer().Publish(context.Background(), src, []string{dst}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "<h1>v2</h1>", readFile(t, filepath.Join(dst, "index.html")))
	assert.Equal(t, "console.log(2)", readFile(t, filepath.Join(dst, "assets", "app.js")))
}

func TestPublish_PreservesProtectedFiles(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "index.html"), "new")

	// Production state that publishing must never destroy.
	writeFile(t, filepath.Join(dst, ".env"), "SECRET=live")
	writeFile(t, filepath.Join(dst, "uploads", "photo.jpg"), "binary")
	writeFile(t, filepath.Join(dst, "index.html"), "old")

	err := newManualSyncer().Publish(context.Background(), src, []string{dst}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "SECRET=live", readFile(t, filepath.Join(dst, ".env")))
	assert.Equal(t, "binary", readFile(t, filepath.Join(dst, "uploads", "photo.jpg")))
	assert.Equal(t, "new", readFile(t, filepath.Join(dst, "index.html")))
}

func TestPublish_DeletesStaleFiles(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "keep.html"), "x")
	writeFile(t, filepath.Join(dst, "keep.html"), "old")
	writeFile(t, filepath.Join(dst, "removed-page.html"), "stale")
	writeFile(t, filepath.Join(dst, "old-dir", "a.txt"), "stale")

	err := newManualSyncer().Publish(context.Background(), src, []string{dst}, Options{})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dst, "removed-page.html"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(dst, "old-dir"))
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, "x", readFile(t, filepath.Join(dst, "keep.html")))
}

func TestPublish_SourceSecretsNeverOverwriteProduction(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, ".env"), "SECRET=repo-copy")
	writeFile(t, filepath.Join(dst, ".env"), "SECRET=live")

	err := newManualSyncer().Publish(context.Background(), src, []string{dst}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "SECRET=live", readFile(t, filepath.Join(dst, ".env")))
}

func TestPublish_BuildOutputSubdirectory(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "dist", "index.html"), "built")
	writeFile(t, filepath.Join(src, "src", "main.ts"), "source")

	err := newManualSyncer().Publish(context.Background(), src, []string{dst}, Options{BuildOutput: "dist"})
	require.NoError(t, err)

	assert.Equal(t, "built", readFile(t, filepath.Join(dst, "index.html")))
	_, statErr := os.Stat(filepath.Join(dst, "src"))
	assert.True(t, os.IsNotExist(statErr), "only the build output is published")
}

func TestPublish_MissingBuildOutputFails(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "index.html"), "x")

	err := newManualSyncer().Publish(context.Background(), src, []string{dst}, Options{BuildOutput: "dist"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dist")
}

func TestPublish_MultiplePathsAggregateFailures(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "index.html"), "x")

	good := t.TempDir()
	bad := filepath.Join(t.TempDir(), "blocked")
	// A regular file where a directory is needed makes the target fail.
	require.NoError(t, os.WriteFile(bad, []byte("file"), 0o644))

	err := newManualSyncer().Publish(context.Background(), src, []string{good, bad}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), bad, "the failing path is named")

	// The good path still received the publish.
	assert.Equal(t, "x", readFile(t, filepath.Join(good, "index.html")))
}

func TestPublish_Idempotent(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "1")
	writeFile(t, filepath.Join(src, "sub", "b.txt"), "2")
	writeFile(t, filepath.Join(dst, ".env"), "keep")

	s := newManualSyncer()
	require.NoError(t, s.Publish(context.Background(), src, []string{dst}, Options{}))
	require.NoError(t, s.Publish(context.Background(), src, []string{dst}, Options{}))

	assert.Equal(t, "1", readFile(t, filepath.Join(dst, "a.txt")))
	assert.Equal(t, "2", readFile(t, filepath.Join(dst, "sub", "b.txt")))
	assert.Equal(t, "keep", readFile(t, filepath.Join(dst, ".env")))
}

func TestPublish_ExtraIgnores(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "index.html"), "new")
	writeFile(t, filepath.Join(dst, "custom", "state.json"), "live")

	err := newManualSyncer().Publish(context.Background(), src, []string{dst}, Options{
		ExtraIgnores: []string{"custom/**"},
	})
	require.NoError(t, err)
	assert.Equal(t, "live", readFile(t, filepath.Join(dst, "custom", "state.json")))
}

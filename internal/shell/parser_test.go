package shell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMarker = "__DC_DONE_abc123__"

func TestParser_SingleCommand(t *testing.T) {
	p := NewParser(testMarker)

	lines, res := p.Feed([]byte("hello\nworld\n" + testMarker + " 0\n"))
	assert.Equal(t, []string{"hello", "world"}, lines)
	require.NotNil(t, res)
	assert.Equal(t, 0, res.ExitCode)
}

func TestParser_NonZeroExit(t *testing.T) {
	p := NewParser(testMarker)

	_, res := p.Feed([]byte(testMarker + " 127\n"))
	require.NotNil(t, res)
	assert.Equal(t, 127, res.ExitCode)
}

func TestParser_MarkerSplitAcrossChunks(t *testing.T) {
	p := NewParser(testMarker)

	lines, res := p.Feed([]byte("output line\n" + testMarker[:6]))
	assert.Equal(t, []string{"output line"}, lines)
	assert.Nil(t, res)

	lines, res = p.Feed([]byte(testMarker[6:] + " 1\n"))
	assert.Empty(t, lines)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.ExitCode)
}

func TestParser_PartialOutputLineBuffers(t *testing.T) {
	p := NewParser(testMarker)

	lines, res := p.Feed([]byte("no newline yet"))
	assert.Empty(t, lines)
	assert.Nil(t, res)

	lines, res = p.Feed([]byte(" …now\n"))
	assert.Equal(t, []string{"no newline yet …now"}, lines)
	assert.Nil(t, res)
}

func TestParser_CRLFNormalised(t *testing.T) {
	p := NewParser(testMarker)

	lines, res := p.Feed([]byte("windows output\r\n" + testMarker + " 0\r\n"))
	assert.Equal(t, []string{"windows output"}, lines)
	require.NotNil(t, res)
	assert.Equal(t, 0, res.ExitCode)
}

func TestParser_MangledMarkerCodeIsFailureBoundary(t *testing.T) {
	p := NewParser(testMarker)

	_, res := p.Feed([]byte(testMarker + " garbage\n"))
	require.NotNil(t, res)
	assert.Equal(t, -1, res.ExitCode)
}

func TestParser_OutputResemblingMarkerPrefixPasses(t *testing.T) {
	p := NewParser(testMarker)

	lines, res := p.Feed([]byte("__DC_DONE_other__ 0\n"))
	assert.Equal(t, []string{"__DC_DONE_other__ 0"}, lines)
	assert.Nil(t, res)
}

func TestParser_Flush(t *testing.T) {
	p := NewParser(testMarker)

	p.Feed([]byte("tail without newline"))
	line, ok := p.Flush()
	assert.True(t, ok)
	assert.Equal(t, "tail without newline", line)

	_, ok = p.Flush()
	assert.False(t, ok)
}

func TestParser_MultipleCommandsSequential(t *testing.T) {
	p := NewParser(testMarker)

	lines, res := p.Feed([]byte("a\n" + testMarker + " 0\n"))
	assert.Equal(t, []string{"a"}, lines)
	require.NotNil(t, res)

	lines, res = p.Feed([]byte("b\n" + testMarker + " 2\n"))
	assert.Equal(t, []string{"b"}, lines)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.ExitCode)
}

package shell

import (
	"strconv"
	"strings"
)

// CommandResult is the parsed end-of-command marker.
type CommandResult struct {
	ExitCode int
}

// Parser is the state machine over the session's stdout stream. Every
// submitted command is followed by a unique marker line carrying the child's
// exit code; anything before the marker is command output. The parser buffers
// partial lines so chunk boundaries from the pipe never split a marker.
type Parser struct {
	marker  string
	partial strings.Builder
}

// NewParser builds a parser for one session's marker.
func NewParser(marker string) *Parser {
	return &Parser{marker: marker}
}

// Feed consumes one chunk from the stream and returns the completed output
// lines plus, when the marker arrived, the command result. Output lines are
// returned without their trailing newline.
func (p *Parser) Feed(chunk []byte) (lines []string, result *CommandResult) {
	p.partial.Write(chunk)
	buffered := p.partial.String()
	p.partial.Reset()

	for {
		idx := strings.IndexByte(buffered, '\n')
		if idx < 0 {
			// An unterminated marker line must wait for the rest; anything
			// else is a partial output line.
			p.partial.WriteString(buffered)
			return lines, result
		}
		line := strings.TrimSuffix(buffered[:idx], "\r")
		buffered = buffered[idx+1:]

		if code, ok := p.parseMarker(line); ok {
			result = &CommandResult{ExitCode: code}
			continue
		}
		lines = append(lines, line)
	}
}

// Flush returns any buffered partial line, ending the stream.
func (p *Parser) Flush() (string, bool) {
	if p.partial.Len() == 0 {
		return "", false
	}
	line := p.partial.String()
	p.partial.Reset()
	if code, ok := p.parseMarker(line); ok {
		_ = code
		return "", false
	}
	return line, true
}

func (p *Parser) parseMarker(line string) (int, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, p.marker) {
		return 0, false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(trimmed, p.marker))
	code, err := strconv.Atoi(rest)
	if err != nil {
		// A marker without a parsable code means the shell mangled the
		// frame; treat it as a failure boundary.
		return -1, true
	}
	return code, true
}

package task

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	prefixNameMaxLen    = 16
	prefixCutNameSuffix = "..."
)

// OutputCapture keeps last N lines written to it, safe for concurrent writes.
// Zero max disables capture.
type OutputCapture struct {
	maxLines int
	lines    []string
	dropped  int
	mu       sync.Mutex
}

// NewOutputCapture makes io.Writer keeping last maxLines lines
func NewOutputCapture(maxLines int) *OutputCapture {
	return &OutputCapture{maxLines: maxLines}
}

// Write splits p to lines, empty lines skipped
func (o *OutputCapture) Write(p []byte) (n int, err error) {
	if o.maxLines <= 0 {
		return len(p), nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for line := range bytes.SplitSeq(p, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}
		if len(o.lines) >= o.maxLines {
			o.lines = o.lines[1:]
			o.dropped++
		}
		o.lines = append(o.lines, string(line))
	}
	return len(p), nil
}

// Output returns captured lines joined with new line
func (o *OutputCapture) Output() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return strings.Join(o.lines, "\n")
}

// Dropped returns number of lines pushed out of the buffer
func (o *OutputCapture) Dropped() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// LogPrefixer writes every line to the underlying writer with "{name} " prefix
type LogPrefixer struct {
	writer io.Writer
	prefix []byte
	mu     sync.Mutex
}

// NewLogPrefixer makes prefixer for task name, long names are cut
func NewLogPrefixer(writer io.Writer, name string) *LogPrefixer {
	return &LogPrefixer{writer: writer, prefix: prefixFor(name)}
}

// Write adds prefix to each line of data, returns number of data bytes written
func (p *LogPrefixer) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reader := bufio.NewReader(bytes.NewReader(data))
	written := 0
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return written, err
		}
		if len(line) > 0 {
			if _, werr := p.writer.Write(p.prefix); werr != nil {
				return written, werr
			}
			n, werr := p.writer.Write(line)
			written += n
			if werr != nil {
				return written, werr
			}
		}
		if err == io.EOF {
			return written, nil
		}
	}
}

func prefixFor(name string) []byte {
	if len(name) > prefixNameMaxLen {
		name = name[:prefixNameMaxLen] + prefixCutNameSuffix
	}
	return []byte(fmt.Sprintf("{%s} ", name))
}

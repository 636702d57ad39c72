package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

//go:generate moq -out mocks/executor.go -pkg mocks -skip-ensure -fmt goimports . Executor

const waitDelay = time.Second

// Output of external command. Stdout and Stderr are complete, Tail keeps the last lines of both streams.
type Output struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`

	Tail        string `json:"-"`
	TailDropped int    `json:"-"`
}

// Executor runs external command. Non-zero exit code is reported in Output, not as error.
type Executor interface {
	Execute(ctx context.Context, name, command string) (Output, error)
}

// ShellExecutor runs commands with sh -c. Both streams are kept in full,
// the last MaxLines lines of them go to Output.Tail.
type ShellExecutor struct {
	MaxLines  int
	LogWriter io.Writer // optional, gets both streams with task name prefix
	Dir       string    // optional working directory
}

// Execute runs command and waits for it to finish, ctx cancellation kills the process
func (e *ShellExecutor) Execute(ctx context.Context, name, command string) (Output, error) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	tail := NewOutputCapture(e.MaxLines)
	cmd := exec.CommandContext(ctx, "sh", "-c", command) // nolint gosec
	cmd.WaitDelay = waitDelay // children of killed shell may hold output pipes
	cmd.Dir = e.Dir
	outWriters, errWriters := []io.Writer{stdout, tail}, []io.Writer{stderr, tail}
	if e.LogWriter != nil {
		prefixer := NewLogPrefixer(e.LogWriter, name)
		outWriters, errWriters = append(outWriters, prefixer), append(errWriters, prefixer)
	}
	// exec copies each stream in its own goroutine, only the tail capture is shared and it is locked
	cmd.Stdout, cmd.Stderr = io.MultiWriter(outWriters...), io.MultiWriter(errWriters...)

	err := cmd.Run()
	res := Output{Stdout: strings.TrimSuffix(stdout.String(), "\n"), Stderr: strings.TrimSuffix(stderr.String(), "\n"),
		Tail: tail.Output(), TailDropped: tail.Dropped()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		return res, fmt.Errorf("command %q interrupted: %w", command, ctx.Err())
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	default:
		return res, fmt.Errorf("failed to execute command %q: %w", command, err)
	}
}

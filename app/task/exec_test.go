package task

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellExecutor_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("separate streams", func(t *testing.T) {
		e := &ShellExecutor{MaxLines: 10}
		out, err := e.Execute(ctx, "t", "echo out1; echo err1 >&2; echo out2")
		require.NoError(t, err)
		assert.Equal(t, "out1\nout2", out.Stdout)
		assert.Equal(t, "err1", out.Stderr)
		assert.Equal(t, 0, out.ExitCode)
	})

	t.Run("non-zero exit is not an error", func(t *testing.T) {
		e := &ShellExecutor{MaxLines: 10}
		out, err := e.Execute(ctx, "t", "echo failing; exit 3")
		require.NoError(t, err)
		assert.Equal(t, 3, out.ExitCode)
		assert.Equal(t, "failing", out.Stdout)
	})

	t.Run("full output with tail", func(t *testing.T) {
		e := &ShellExecutor{MaxLines: 2}
		out, err := e.Execute(ctx, "t", "for i in 1 2 3 4; do echo $i; done")
		require.NoError(t, err)
		assert.Equal(t, "1\n2\n3\n4", out.Stdout)
		assert.Equal(t, "3\n4", out.Tail)
		assert.Equal(t, 2, out.TailDropped)

		out, err = e.Execute(ctx, "t", "echo err1 >&2")
		require.NoError(t, err)
		assert.Equal(t, "err1", out.Stderr)
		assert.Equal(t, "err1", out.Tail, "stderr goes to tail too")
	})

	t.Run("output over tail size kept", func(t *testing.T) {
		e := &ShellExecutor{MaxLines: 1}
		out, err := e.Execute(ctx, "t", "seq 1 500")
		require.NoError(t, err)
		lines := strings.Split(out.Stdout, "\n")
		require.Len(t, lines, 500)
		assert.Equal(t, "1", lines[0])
		assert.Equal(t, "500", out.Tail)
	})

	t.Run("working dir", func(t *testing.T) {
		dir := t.TempDir()
		e := &ShellExecutor{MaxLines: 10, Dir: dir}
		out, err := e.Execute(ctx, "t", "pwd")
		require.NoError(t, err)
		assert.Equal(t, filepath.Base(dir), filepath.Base(out.Stdout))
	})

	t.Run("log writer gets prefixed output", func(t *testing.T) {
		buf := &bytes.Buffer{}
		e := &ShellExecutor{MaxLines: 10, LogWriter: buf}
		_, err := e.Execute(ctx, "echo-task", "echo hello")
		require.NoError(t, err)
		assert.Equal(t, "{echo-task} hello\n", buf.String())
	})

	t.Run("canceled", func(t *testing.T) {
		e := &ShellExecutor{MaxLines: 10}
		ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		st := time.Now()
		_, err := e.Execute(ctx, "t", "sleep 5")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(st), 4*time.Second)
	})
}

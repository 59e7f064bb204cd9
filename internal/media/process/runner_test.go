//go:build unix

package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/media-derivatives/internal/media/models"
)

func newTestExec(timeout time.Duration) *Exec {
	return NewExec(ExecConfig{
		Timeout:   timeout,
		TailBytes: 64,
		WaitDelay: 500 * time.Millisecond,
		Logger:    zerolog.Nop(),
	})
}

func TestRun_Success(t *testing.T) {
	e := newTestExec(5 * time.Second)

	res, err := e.Run(context.Background(), "sh", "-c", "printf '{\"ok\":true}'")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, `{"ok":true}`, string(res.Stdout))
}

func TestRun_NonZeroExit(t *testing.T) {
	e := newTestExec(5 * time.Second)

	_, err := e.Run(context.Background(), "sh", "-c", "echo 'invalid data found' >&2; exit 3")
	require.Error(t, err)
	require.ErrorIs(t, err, models.ErrProcessFailed)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, "sh", exitErr.Tool)
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Equal(t, "invalid data found", exitErr.OutputTail)
}

func TestRun_TailIsBounded(t *testing.T) {
	e := newTestExec(5 * time.Second)

	script := "i=0; while [ $i -lt 500 ]; do echo line$i >&2; i=$((i+1)); done; exit 1"
	_, err := e.Run(context.Background(), "sh", "-c", script)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.LessOrEqual(t, len(exitErr.OutputTail), 64)
	assert.True(t, strings.HasSuffix(exitErr.OutputTail, "line499"))
}

func TestRun_Timeout(t *testing.T) {
	e := newTestExec(200 * time.Millisecond)

	start := time.Now()
	// the background sleep shares the process group and must die too
	_, err := e.Run(context.Background(), "sh", "-c", "sleep 30 & sleep 30; wait")
	require.ErrorIs(t, err, models.ErrProcessTimeout)
	assert.NotErrorIs(t, err, models.ErrProcessFailed)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_ParentCancelled(t *testing.T) {
	e := newTestExec(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := e.Run(ctx, "sh", "-c", "sleep 30")
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, models.ErrProcessTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_MissingBinary(t *testing.T) {
	e := newTestExec(time.Second)

	_, err := e.Run(context.Background(), "definitely-not-a-real-tool-binary")
	require.ErrorIs(t, err, models.ErrProcessFailed)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, -1, exitErr.ExitCode)
}

func TestCheckTools(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	statuses := CheckTools([]string{present, "clearly-not-present-binary", " "})
	require.Len(t, statuses, 3)

	assert.True(t, statuses[0].Available)
	assert.False(t, statuses[1].Available)
	assert.Contains(t, statuses[1].Detail, "not found")
	assert.Equal(t, "command not configured", statuses[2].Detail)

	assert.Equal(t, []string{"clearly-not-present-binary", ""}, Missing(statuses))
}

package model

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("driver tests use POSIX shell utilities")
	}
}

func TestExecDriver_Success(t *testing.T) {
	skipOnWindows(t)
	d := &ExecDriver{Binary: "true"}
	require.NoError(t, d.Run(context.Background(), t.TempDir()))
}

func TestExecDriver_NonZeroExit(t *testing.T) {
	skipOnWindows(t)
	d := &ExecDriver{Binary: "false"}

	err := d.Run(context.Background(), t.TempDir())
	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.False(t, re.Timeout)
	assert.Equal(t, 1, re.ExitCode)
}

func TestExecDriver_Timeout(t *testing.T) {
	skipOnWindows(t)
	d := &ExecDriver{Binary: "sleep", Args: []string{"5"}, Timeout: 50 * time.Millisecond}

	start := time.Now()
	err := d.Run(context.Background(), t.TempDir())
	require.Less(t, time.Since(start), 2*time.Second)

	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.Timeout)
}

func TestExecDriver_MissingBinary(t *testing.T) {
	d := &ExecDriver{Binary: "definitely-not-a-real-binary-9aa1"}

	err := d.Run(context.Background(), t.TempDir())
	require.Error(t, err)
	var re *RunError
	assert.False(t, errors.As(err, &re), "startup failures are not RunErrors")
}

func TestExecDriver_RunsInRunDir(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	d := &ExecDriver{Binary: "sh", Args: []string{"-c", "touch marker"}}
	require.NoError(t, d.Run(context.Background(), dir))
	assert.FileExists(t, dir+"/marker")
}

package pid_test

import (
	"os"
	"strconv"
	"testing"

	"codeberg.org/mutker/cpufreqd/internal/errors"
	"codeberg.org/mutker/cpufreqd/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	require.NoError(t, pid.Write())

	bytes, err := os.ReadFile(pid.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(bytes))

	require.NoError(t, pid.Remove())
	_, err = os.Stat(pid.Path())
	assert.True(t, os.IsNotExist(err))

	// Removing twice is harmless
	require.NoError(t, pid.Remove())
}

func TestWriteOverwritesStaleFile(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	require.NoError(t, os.WriteFile(pid.Path(), []byte("not-a-pid"), 0o600))
	require.NoError(t, pid.Write())

	bytes, err := os.ReadFile(pid.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(bytes))
}

func TestWriteDetectsRunningInstance(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	// The parent process (the test runner) is alive for the duration of the test
	require.NoError(t, os.WriteFile(pid.Path(), []byte(strconv.Itoa(os.Getppid())), 0o600))

	err := pid.Write()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

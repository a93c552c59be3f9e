//go:build !windows

package terminal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termhost/termhost/internal/config"
	"github.com/termhost/termhost/internal/logging"
)

func subprocessConfig() config.SessionConfig {
	cfg := config.DefaultSessionConfig()
	cfg.DisableTmux = true
	cfg.PollInterval = 50 * time.Millisecond
	cfg.NoOutputTimeout = 5 * time.Second
	cfg.HardTimeout = 20 * time.Second
	return cfg
}

func TestLoginShellArgv(t *testing.T) {
	assert.Equal(t, []string{"/bin/bash"}, loginShellArgv("/bin/bash", ""))
	// Non-login su: the session's work directory must survive entering the
	// target user's shell.
	assert.Equal(t, []string{"su", "agent"}, loginShellArgv("/bin/bash", "agent"))
	assert.NotContains(t, loginShellArgv("/bin/bash", "agent"), "-")
}

func requireBash(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("bash not installed")
	}
	if testing.Short() {
		t.Skip("skipping subprocess integration test in short mode")
	}
}

func TestSubprocessEcho(t *testing.T) {
	requireBash(t)

	s := NewSession(subprocessConfig(), t.TempDir(), "", logging.NewNop())
	require.NoError(t, s.Initialize())
	defer s.Close()

	obs, err := s.Execute(context.Background(), Action{Command: "echo hello-from-test"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, obs.Status)
	require.NotNil(t, obs.ExitCode)
	assert.Equal(t, 0, *obs.ExitCode)
	assert.Contains(t, obs.Text, "hello-from-test")
}

func TestSubprocessExitCode(t *testing.T) {
	requireBash(t)

	s := NewSession(subprocessConfig(), t.TempDir(), "", logging.NewNop())
	require.NoError(t, s.Initialize())
	defer s.Close()

	obs, err := s.Execute(context.Background(), Action{Command: "false"})
	require.NoError(t, err)
	require.NotNil(t, obs.ExitCode)
	assert.Equal(t, 1, *obs.ExitCode)
}

func TestSubprocessWorkingDirTracking(t *testing.T) {
	requireBash(t)

	dir := t.TempDir()
	s := NewSession(subprocessConfig(), dir, "", logging.NewNop())
	require.NoError(t, s.Initialize())
	defer s.Close()

	obs, err := s.Execute(context.Background(), Action{Command: "cd /tmp && pwd"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, obs.Status)
	assert.Equal(t, "/tmp", obs.WorkingDir)
}

func TestSubprocessQuotedWorkingDir(t *testing.T) {
	requireBash(t)

	dir := filepath.Join(t.TempDir(), `we"ird \dir`)
	require.NoError(t, os.Mkdir(dir, 0o755))
	s := NewSession(subprocessConfig(), dir, "", logging.NewNop())
	require.NoError(t, s.Initialize())
	defer s.Close()

	obs, err := s.Execute(context.Background(), Action{Command: "true"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, obs.Status)
	require.NotNil(t, obs.ExitCode)
	assert.Equal(t, 0, *obs.ExitCode)
	assert.Equal(t, dir, obs.WorkingDir)
}

func TestSubprocessResetRestoresState(t *testing.T) {
	requireBash(t)

	dir := t.TempDir()
	s := NewSession(subprocessConfig(), dir, "", logging.NewNop())
	require.NoError(t, s.Initialize())
	defer s.Close()

	_, err := s.Execute(context.Background(), Action{Command: "export TERMHOST_TEST_VAR=zzz; cd /tmp"})
	require.NoError(t, err)

	obs, err := s.Execute(context.Background(), Action{Command: "", Reset: true})
	require.NoError(t, err)
	assert.Equal(t, "[RESET]", obs.CommandLabel)
	assert.Contains(t, obs.Text, "Terminal session has been reset.")

	obs, err = s.Execute(context.Background(), Action{Command: "echo var=$TERMHOST_TEST_VAR; pwd"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, obs.Status)
	assert.Contains(t, obs.Text, "var=\n")
	assert.Equal(t, dir, obs.WorkingDir)
}

func TestSubprocessCloseTwice(t *testing.T) {
	requireBash(t)

	s := NewSession(subprocessConfig(), t.TempDir(), "", logging.NewNop())
	require.NoError(t, s.Initialize())

	s.Close()
	assert.NotPanics(t, func() { s.Close() })
}

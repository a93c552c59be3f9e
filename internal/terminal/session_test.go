package terminal

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termhost/termhost/internal/config"
	"github.com/termhost/termhost/internal/logging"
	"github.com/termhost/termhost/internal/metadata"
)

// fakeBackend is a scriptable in-memory backend. Commands sent through
// SendKeys set the screen from the script; the session's poll loop then
// sees whatever the script produced.
type fakeBackend struct {
	mu          sync.Mutex
	workDir     string
	initialized bool
	closed      int
	screen      string
	running     bool
	interrupts  int
	sends       []string
	inputs      []string
	script      func(command string) string
	onRead      func(current string) string
}

func newFakeBackend(workDir string) *fakeBackend {
	return &fakeBackend{workDir: workDir}
}

func (f *fakeBackend) Initialize() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized = true
	return nil
}

func (f *fakeBackend) SendKeys(text string, enter bool, internal bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if internal {
		f.inputs = append(f.inputs, text)
		return nil
	}
	f.sends = append(f.sends, text)
	f.running = true
	if f.script != nil {
		f.screen = f.script(text)
	}
	return nil
}

func (f *fakeBackend) ReadScreen(clear bool) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onRead != nil {
		f.screen = f.onRead(f.screen)
	}
	out := f.screen
	if clear {
		f.screen = ""
	}
	return out
}

func (f *fakeBackend) ClearScreen() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screen = ""
	f.running = false
}

func (f *fakeBackend) Interrupt() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
	f.running = false
	return true
}

func (f *fakeBackend) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeBackend) Kind() string    { return "fake" }
func (f *fakeBackend) WorkDir() string { return f.workDir }

func (f *fakeBackend) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func (f *fakeBackend) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func completionBlock(body string, exitCode int, workDir string) string {
	record := fmt.Sprintf(
		`{"pid": 42, "exit_code": %d, "username": "dev", "hostname": "box", "working_dir": %q}`,
		exitCode, workDir)
	return body + "\n" + metadata.BeginMarker + "\n" + record + "\n" + metadata.EndMarker + "\n"
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		Shell:           "/bin/bash",
		TmuxBinary:      "tmux",
		DisableTmux:     true,
		NoOutputTimeout: 50 * time.Millisecond,
		HardTimeout:     2 * time.Second,
		PollInterval:    5 * time.Millisecond,
		HistoryLimit:    100,
	}
}

func newTestSession(t *testing.T, cfg config.SessionConfig, fakes ...*fakeBackend) (*Session, *fakeBackend) {
	t.Helper()
	first := newFakeBackend("/work")
	if len(fakes) > 0 {
		first = fakes[0]
	}
	next := first
	i := 0
	s := NewSessionWithFactory(cfg, "/work", "", logging.NewNop(), func() Backend {
		i++
		if i == 1 {
			return first
		}
		fresh := newFakeBackend("/work")
		fresh.script = next.script
		next = fresh
		return fresh
	})
	require.NoError(t, s.Initialize())
	return s, first
}

func TestExecuteCompleted(t *testing.T) {
	fake := newFakeBackend("/work")
	fake.script = func(command string) string {
		return completionBlock("X", 0, "/work")
	}
	s, _ := newTestSession(t, testSessionConfig(), fake)
	defer s.Close()

	obs, err := s.Execute(context.Background(), Action{Command: "echo X"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, obs.Status)
	require.NotNil(t, obs.ExitCode)
	assert.Equal(t, 0, *obs.ExitCode)
	assert.Contains(t, obs.Text, "X")
	assert.Equal(t, "/work", obs.WorkingDir)
	assert.Equal(t, "echo X", obs.CommandLabel)
	assert.False(t, s.IsBusy())
}

func TestExecuteStripsMarkers(t *testing.T) {
	fake := newFakeBackend("/work")
	fake.script = func(command string) string {
		return completionBlock("before\nafter", 3, "/elsewhere")
	}
	s, _ := newTestSession(t, testSessionConfig(), fake)
	defer s.Close()

	obs, err := s.Execute(context.Background(), Action{Command: "false"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, obs.Status)
	assert.Equal(t, 3, *obs.ExitCode)
	assert.NotContains(t, obs.Text, metadata.BeginMarker)
	assert.NotContains(t, obs.Text, metadata.EndMarker)
	assert.NotContains(t, obs.Text, "exit_code")
	assert.Contains(t, obs.Text, "before")
	assert.Contains(t, obs.Text, "after")
}

func TestExecuteRejectsResetWithInput(t *testing.T) {
	fake := newFakeBackend("/work")
	s, _ := newTestSession(t, testSessionConfig(), fake)
	defer s.Close()

	obs, err := s.Execute(context.Background(), Action{Command: "", Reset: true, IsInput: true})
	assert.Nil(t, obs)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidAction)
	assert.Equal(t, 0, fake.sendCount())
}

func TestExecuteNoOutputTimeout(t *testing.T) {
	fake := newFakeBackend("/work")
	fake.script = func(command string) string {
		return "partial output, never finishes"
	}
	s, _ := newTestSession(t, testSessionConfig(), fake)
	defer s.Close()

	obs, err := s.Execute(context.Background(), Action{Command: "sleep 9999"})
	require.NoError(t, err)

	assert.Equal(t, StatusNoOutputTimeout, obs.Status)
	assert.Nil(t, obs.ExitCode)
	assert.Contains(t, obs.Text, "partial output")
	assert.Contains(t, obs.Text, "no new output")
	assert.True(t, s.IsBusy())
}

func TestExecuteActionTimeoutOverride(t *testing.T) {
	cfg := testSessionConfig()
	cfg.NoOutputTimeout = 10 * time.Second
	fake := newFakeBackend("/work")
	fake.script = func(command string) string { return "stuck" }
	s, _ := newTestSession(t, cfg, fake)
	defer s.Close()

	start := time.Now()
	obs, err := s.Execute(context.Background(), Action{Command: "sleep 9999", Timeout: 30 * time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, StatusNoOutputTimeout, obs.Status)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecuteHardTimeout(t *testing.T) {
	cfg := testSessionConfig()
	cfg.HardTimeout = 60 * time.Millisecond
	cfg.NoOutputTimeout = 10 * time.Second

	fake := newFakeBackend("/work")
	fake.script = func(command string) string { return "tick" }
	// Screen keeps changing, so only the hard ceiling can fire.
	n := 0
	fake.onRead = func(current string) string {
		n++
		return fmt.Sprintf("tick %d", n)
	}
	s, _ := newTestSession(t, cfg, fake)
	defer s.Close()

	obs, err := s.Execute(context.Background(), Action{Command: "yes"})
	require.NoError(t, err)

	assert.Equal(t, StatusHardTimeout, obs.Status)
	assert.Contains(t, obs.Text, "ceiling")
	assert.True(t, s.IsBusy())
}

func TestExecuteBusyReturnsRunning(t *testing.T) {
	fake := newFakeBackend("/work")
	fake.script = func(command string) string { return "still working" }
	s, _ := newTestSession(t, testSessionConfig(), fake)
	defer s.Close()

	obs, err := s.Execute(context.Background(), Action{Command: "sleep 9999"})
	require.NoError(t, err)
	require.Equal(t, StatusNoOutputTimeout, obs.Status)

	obs, err = s.Execute(context.Background(), Action{Command: "echo nope"})
	require.NoError(t, err)

	assert.Equal(t, StatusRunning, obs.Status)
	assert.Equal(t, "echo nope", obs.CommandLabel)
	assert.Contains(t, obs.Text, "still working")
	assert.Equal(t, 1, fake.sendCount())
}

func TestExecuteEmptyCommandContinuesWaiting(t *testing.T) {
	fake := newFakeBackend("/work")
	fake.script = func(command string) string { return "running..." }
	s, _ := newTestSession(t, testSessionConfig(), fake)
	defer s.Close()

	obs, err := s.Execute(context.Background(), Action{Command: "sleep 2"})
	require.NoError(t, err)
	require.Equal(t, StatusNoOutputTimeout, obs.Status)

	// The command finishes while nobody is watching.
	fake.mu.Lock()
	fake.screen = completionBlock("done now", 0, "/work")
	fake.mu.Unlock()

	obs, err = s.Execute(context.Background(), Action{Command: ""})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, obs.Status)
	assert.Contains(t, obs.Text, "done now")
	assert.Equal(t, 1, fake.sendCount())
	assert.False(t, s.IsBusy())
}

func TestExecuteInputGoesRaw(t *testing.T) {
	fake := newFakeBackend("/work")
	fake.script = func(command string) string { return "waiting for input" }
	s, _ := newTestSession(t, testSessionConfig(), fake)
	defer s.Close()

	obs, err := s.Execute(context.Background(), Action{Command: "python3 quiz.py"})
	require.NoError(t, err)
	require.Equal(t, StatusNoOutputTimeout, obs.Status)

	go func() {
		time.Sleep(20 * time.Millisecond)
		fake.mu.Lock()
		fake.screen = completionBlock("answer accepted", 0, "/work")
		fake.mu.Unlock()
	}()

	obs, err = s.Execute(context.Background(), Action{Command: "42", IsInput: true})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, obs.Status)
	assert.Contains(t, obs.Text, "answer accepted")
	fake.mu.Lock()
	assert.Contains(t, fake.inputs, "42")
	fake.mu.Unlock()
}

func TestResetBareCommand(t *testing.T) {
	fake := newFakeBackend("/work")
	fake.script = func(command string) string {
		return completionBlock("ok", 0, "/somewhere/else")
	}
	s, first := newTestSession(t, testSessionConfig(), fake)
	defer s.Close()

	// Move the working directory before resetting.
	_, err := s.Execute(context.Background(), Action{Command: "cd /somewhere/else"})
	require.NoError(t, err)

	obs, err := s.Execute(context.Background(), Action{Command: "", Reset: true})
	require.NoError(t, err)

	assert.Equal(t, "[RESET]", obs.CommandLabel)
	assert.Equal(t, StatusCompleted, obs.Status)
	assert.Equal(t, "/work", obs.WorkingDir)
	assert.Contains(t, obs.Text, "Terminal session has been reset.")

	first.mu.Lock()
	assert.Equal(t, 1, first.closed)
	first.mu.Unlock()
}

func TestResetWithCommand(t *testing.T) {
	fake := newFakeBackend("/work")
	fake.script = func(command string) string {
		return completionBlock("hi", 0, "/work")
	}
	s, first := newTestSession(t, testSessionConfig(), fake)
	defer s.Close()

	obs, err := s.Execute(context.Background(), Action{Command: "echo hi", Reset: true})
	require.NoError(t, err)

	assert.Equal(t, "[RESET] echo hi", obs.CommandLabel)
	assert.Equal(t, StatusCompleted, obs.Status)
	assert.Contains(t, obs.Text, "Terminal session has been reset.")
	assert.Contains(t, obs.Text, "hi")
	require.NotNil(t, obs.ExitCode)
	assert.Equal(t, 0, *obs.ExitCode)

	// The command ran on the replacement backend, not the old one.
	assert.Equal(t, 0, first.sendCount())
}

func TestCloseIdempotent(t *testing.T) {
	fake := newFakeBackend("/work")
	s, _ := newTestSession(t, testSessionConfig(), fake)

	s.Close()
	s.Close()

	fake.mu.Lock()
	assert.Equal(t, 1, fake.closed)
	fake.mu.Unlock()

	obs, err := s.Execute(context.Background(), Action{Command: "echo x"})
	assert.Nil(t, obs)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestInterruptWhenIdle(t *testing.T) {
	fake := newFakeBackend("/work")
	s, _ := newTestSession(t, testSessionConfig(), fake)
	defer s.Close()

	assert.False(t, s.IsBusy())
	s.Interrupt()
	assert.False(t, s.IsBusy())

	fake.mu.Lock()
	assert.Equal(t, 1, fake.interrupts)
	fake.mu.Unlock()
}

func TestInterruptAfterClose(t *testing.T) {
	s, _ := newTestSession(t, testSessionConfig())
	s.Close()
	assert.False(t, s.Interrupt())
}

func TestExecuteContextCancel(t *testing.T) {
	cfg := testSessionConfig()
	cfg.NoOutputTimeout = 10 * time.Second
	fake := newFakeBackend("/work")
	fake.script = func(command string) string { return "hanging" }
	s, _ := newTestSession(t, cfg, fake)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	obs, err := s.Execute(ctx, Action{Command: "sleep 9999"})
	assert.Nil(t, obs)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTidyOutput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "crlf normalized",
			in:   "line1\r\nline2\r\n",
			want: "line1\nline2",
		},
		{
			name: "echoed suffix removed",
			in:   "$ echo hi; __termhost_ec=$?; printf stuff\nhi",
			want: "$ echo hi\nhi",
		},
		{
			name: "surrounding whitespace trimmed",
			in:   "\n\n  output  \n\n",
			want: "output",
		},
		{
			name: "echoed live suffix removed",
			in:   "$ pwd" + metadata.BashSuffix() + "\n/work",
			want: "$ pwd\n/work",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tidyOutput(tt.in))
		})
	}
}

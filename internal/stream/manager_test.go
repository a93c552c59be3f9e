//go:build !windows

package stream

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termhost/termhost/internal/logging"
	"github.com/termhost/termhost/internal/shared/id"
)

func requireShell(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping pty integration test in short mode")
	}
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("bash not installed")
	}
}

func waitForOutput(t *testing.T, m *Manager, sid id.StreamID, want []byte) []byte {
	t.Helper()
	var collected []byte
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		out, err := m.Read(sid)
		require.NoError(t, err)
		collected = append(collected, out...)
		if bytes.Contains(collected, want) {
			return collected
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("output %q never appeared; got %q", want, collected)
	return nil
}

func TestStreamLifecycle(t *testing.T) {
	requireShell(t)

	m := NewManager(logging.NewNop())
	info, err := m.Create("/bin/bash", t.TempDir(), 120, 40, nil)
	require.NoError(t, err)
	assert.True(t, info.Active)
	assert.Equal(t, 120, info.Cols)
	assert.Equal(t, 1, m.Count())

	require.NoError(t, m.Write(info.ID, []byte("echo stream-works\n")))
	waitForOutput(t, m, info.ID, []byte("stream-works"))

	require.NoError(t, m.Resize(info.ID, 80, 24))
	got, err := m.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, got.Cols)

	require.NoError(t, m.Kill(info.ID))
	assert.Equal(t, 0, m.Count())

	err = m.Write(info.ID, []byte("x"))
	assert.ErrorIs(t, err, ErrStreamNotFound)
}

func TestStreamUnknownID(t *testing.T) {
	m := NewManager(logging.NewNop())

	_, err := m.Get(id.StreamID("pty_nope"))
	assert.ErrorIs(t, err, ErrStreamNotFound)

	_, err = m.Read(id.StreamID("pty_nope"))
	assert.ErrorIs(t, err, ErrStreamNotFound)

	err = m.Resize(id.StreamID("pty_nope"), 80, 24)
	assert.ErrorIs(t, err, ErrStreamNotFound)
}

func TestStreamCloseAll(t *testing.T) {
	requireShell(t)

	m := NewManager(logging.NewNop())
	_, err := m.Create("", "", 0, 0, map[string]string{"TERMHOST_STREAM_TEST": "1"})
	require.NoError(t, err)
	_, err = m.Create("", "", 0, 0, nil)
	require.NoError(t, err)
	require.Equal(t, 2, m.Count())

	m.CloseAll()
	assert.Equal(t, 0, m.Count())
}

// Package terminal implements persistent interactive shell sessions with
// reliable command-completion detection.
//
// A Session owns exactly one Backend — a tmux-backed pane, a raw-pipe bash
// subprocess, or a piped PowerShell interpreter — selected once by
// NewBackend at creation time. Commands are wrapped with the metadata
// protocol (internal/metadata) before being sent; the session polls the
// backend's screen until the completion record appears or a timeout fires.
//
// Concurrency model: pipe-based backends run one background reader goroutine
// per session that decodes raw bytes and appends them to a bounded Buffer;
// the tmux backend reads pane snapshots instead, because the multiplexer
// already owns the PTY and its scrollback. The Buffer's mutex is the only
// state shared between reader and caller, and it is held only for the
// duration of an append or drain.
package terminal

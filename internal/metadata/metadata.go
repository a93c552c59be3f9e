// Package metadata defines the completion-marker protocol shared by all
// terminal backends.
//
// A backend transforms every command into
//
//	<command>; <print BEGIN>; <print one-line JSON record>; <print END>
//
// before sending it to the shell. The session controller then scans the
// accumulated output for the first BEGIN..END span and parses the payload
// between the markers as a Record. The markers only ever exist transiently
// in the live output stream; they are never persisted.
package metadata

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
)

// Sentinel markers delimiting the completion record in shell output. Chosen
// to be collision-resistant: no legitimate command output should contain
// them.
const (
	BeginMarker = "###TERMHOST-META-BEGIN###"
	EndMarker   = "###TERMHOST-META-END###"
)

// EchoSuffixMarker is the leading fragment of BashSuffix as a PTY echoes it
// back on the typed line. Output tidying cuts echoed lines at this marker;
// BashSuffix must keep starting with it. The pipe-fed PowerShell backend
// never echoes, so its suffix needs no counterpart.
const EchoSuffixMarker = "; __termhost_ec="

var recordPattern = regexp.MustCompile(
	`(?s)` + regexp.QuoteMeta(BeginMarker) + `(.+?)` + regexp.QuoteMeta(EndMarker),
)

// Record is the structured result printed after every completed command.
type Record struct {
	PID             int    `json:"pid"`
	ExitCode        int    `json:"exit_code"`
	Username        string `json:"username"`
	Hostname        string `json:"hostname"`
	WorkingDir      string `json:"working_dir"`
	InterpreterPath string `json:"interpreter_path,omitempty"`
}

// Extract locates the first BEGIN..END span in output and parses the payload
// between the markers. It returns the record, the output with the span
// removed, and whether a complete record was found. A malformed or truncated
// payload is reported as "not found": the record may still be arriving in a
// later chunk, so the caller retries on the next poll.
func Extract(output string) (*Record, string, bool) {
	loc := recordPattern.FindStringSubmatchIndex(output)
	if loc == nil {
		return nil, output, false
	}
	payload := strings.TrimSpace(output[loc[2]:loc[3]])
	var rec Record
	if err := sonic.UnmarshalString(payload, &rec); err != nil {
		return nil, output, false
	}
	stripped := output[:loc[0]] + output[loc[1]:]
	return &rec, stripped, true
}

// ContainsEnd reports whether output already carries a complete end marker.
// Backends use this as a cheap "command finished" probe without parsing.
func ContainsEnd(output string) bool {
	return strings.Contains(output, EndMarker)
}

// EscapeShellSingleQuotes escapes s for embedding inside a POSIX
// single-quoted literal, so marker text placed in a command cannot be
// terminated early by quote characters.
func EscapeShellSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

// EscapePowerShell escapes s for a PowerShell single-quoted literal, where
// only the single quote needs escaping (by doubling it).
func EscapePowerShell(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// splitMarker splits a marker literal in two so the command text sent to an
// echoing terminal never contains the full sentinel. The shell concatenates
// the halves when it prints them, so the marker appears intact in output but
// never in the echoed command line.
func splitMarker(marker string) (string, string) {
	mid := len(marker) / 2
	return marker[:mid], marker[mid:]
}

// BashSuffix returns the fragment appended to a command so bash emits the
// completion record. The previous command's exit status is captured first,
// before any marker printing can clobber it. String fields are run through a
// JSON escaper so a working directory containing quotes or backslashes still
// yields a parseable record.
func BashSuffix() string {
	beginA, beginB := splitMarker(EscapeShellSingleQuotes(BeginMarker))
	endA, endB := splitMarker(EscapeShellSingleQuotes(EndMarker))
	return fmt.Sprintf(
		EchoSuffixMarker+`$?; `+
			`__termhost_esc() { printf '%%s' "$1" | sed -e 's/\\/\\\\/g' -e 's/"/\\"/g'; }; `+
			`printf '\n%%s\n' '%s''%s'; `+
			`printf '{"pid": %%d, "exit_code": %%d, "username": "%%s", "hostname": "%%s", "working_dir": "%%s", "interpreter_path": "%%s"}\n' `+
			`"$$" "$__termhost_ec" "$(__termhost_esc "$(whoami 2>/dev/null)")" "$(__termhost_esc "$(hostname 2>/dev/null)")" "$(__termhost_esc "$PWD")" "$(command -v python3 2>/dev/null)"; `+
			`printf '%%s\n' '%s''%s'`,
		beginA, beginB, endA, endB,
	)
}

// PowerShellSuffix returns the fragment appended to a command so PowerShell
// emits the completion record. $? must be read before anything else runs;
// ConvertTo-Json -Compress keeps the record on a single line.
func PowerShellSuffix() string {
	beginA, beginB := splitMarker(EscapePowerShell(BeginMarker))
	endA, endB := splitMarker(EscapePowerShell(EndMarker))
	return fmt.Sprintf(
		"; $exit_code = if ($?) { if ($null -ne $LASTEXITCODE) { $LASTEXITCODE } else { 0 } } else { 1 }; "+
			"Write-Host ''; Write-Host ('%s' + '%s'); "+
			"$interp = (Get-Command python -ErrorAction SilentlyContinue | Select-Object -ExpandProperty Source); "+
			"$meta = @{pid=$PID; exit_code=$exit_code; username=$env:USERNAME; hostname=$env:COMPUTERNAME; "+
			"working_dir=(Get-Location).Path.Replace('\\', '/'); "+
			"interpreter_path=if ($interp) { $interp } else { '' }}; "+
			"Write-Host (ConvertTo-Json $meta -Compress); "+
			"Write-Host ('%s' + '%s')",
		beginA, beginB, endA, endB,
	)
}

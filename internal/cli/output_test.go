package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/clock"
	"github.com/roach88/tandem/internal/config"
	"github.com/roach88/tandem/internal/eventlog"
	"github.com/roach88/tandem/internal/network"
	"github.com/roach88/tandem/internal/replay"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"config_schema", WrapExitError(ExitCommandError, "invalid config", &config.Error{Code: config.ErrCodeSchema, Message: "loop_rate"}), config.ErrCodeSchema},
		{"config_read_beats_not_found", &config.Error{Code: config.ErrCodeRead, Err: fs.ErrNotExist}, config.ErrCodeRead},
		{"malformed_line", fmt.Errorf("line 3: %w", eventlog.ErrMalformedLine), CodeLogMalformed},
		{"missing_file", fmt.Errorf("open sub-log: %w", fs.ErrNotExist), CodeNotFound},
		{"speed", fmt.Errorf("speed 0: %w", clock.ErrInvalidTickSize), CodeReplaySpeed},
		{"replay_state", fmt.Errorf("Step in state idle: %w", replay.ErrInvalidTransition), CodeReplayState},
		{"handshake", WrapExitError(ExitCommandError, "failed to join", fmt.Errorf("%w: eof", network.ErrHandshake)), CodeHandshake},
		{"dial", WrapExitError(ExitCommandError, "failed to join", &net.OpError{Op: "dial", Err: errors.New("refused")}), CodeNetwork},
		{"command", NewExitError(ExitCommandError, "bad"), CodeCommand},
		{"runtime", WrapExitError(ExitFailure, "disconnected", assert.AnError), CodeRuntime},
		{"plain", assert.AnError, CodeRuntime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(ServeStatus{Addr: "127.0.0.1:7777", Mode: "centralized", LoopRate: 60}))

	var resp struct {
		Status string      `json:"status"`
		Data   ServeStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, ServeStatus{Addr: "127.0.0.1:7777", Mode: "centralized", LoopRate: 60}, resp.Data)
}

func TestOutputFormatter_TextUsesWriteText(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(JoinStatus{Addr: "127.0.0.1:7777", Peer: "3"}))
	assert.Equal(t, "Joined 127.0.0.1:7777 as peer 3.\n", buf.String())
}

func TestOutputFormatter_TextFallback(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("Replay complete"))
	assert.Equal(t, "Replay complete\n", buf.String())
}

func TestOutputFormatter_ReportJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	cause := &config.Error{Code: config.ErrCodeArgs, Message: `mode "sideways"`}
	err := formatter.Report(WrapExitError(ExitCommandError, "invalid arguments", cause))
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, config.ErrCodeArgs, resp.Error.Code)
	assert.Equal(t, "invalid arguments", resp.Error.Message)
	assert.Equal(t, ExitCommandError, resp.Error.ExitCode)
	assert.Contains(t, resp.Error.Details, "sideways")
}

func TestOutputFormatter_ReportText(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := formatter.Report(NewExitError(ExitFailure, "server error"))
	require.Error(t, err)
	assert.Empty(t, buf.String())

	assert.NoError(t, formatter.Report(nil))
	assert.Empty(t, buf.String())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}

	formatter.VerboseLog("replayed %s", "replay-1.tsv")
	assert.Empty(t, out.String())
	assert.Equal(t, "replayed replay-1.tsv\n", errOut.String())

	errOut.Reset()
	formatter.Verbose = false
	formatter.VerboseLog("hidden")
	assert.Empty(t, errOut.String())
}

func TestReplayResultText(t *testing.T) {
	buf := &bytes.Buffer{}
	ReplayResult{Entries: 0, Steps: 1, Speed: 1}.WriteText(buf)
	assert.Equal(t, "Replayed 0 entries in 1 steps at speed 1\nNo objects recorded.\n", buf.String())
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/config"
)

func newServeCmd(t *testing.T, args ...string) (*bytes.Buffer, *bytes.Buffer, func(context.Context) error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewServeCommand(&RootOptions{Format: "text"})
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append(args, "--listen", "127.0.0.1:0", "--log-dir", t.TempDir()))
	return out, errOut, cmd.ExecuteContext
}

func TestServeRejectsMalformedArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad_mode", []string{"60", "sideways"}},
		{"not_a_number", []string{"fast"}},
		{"too_many", []string{"60", "centralized", "1", "1", "1", "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut, execute := newServeCmd(t, tt.args...)

			err := execute(context.Background())
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, errOut.String(), "Usage:")
			assert.NotContains(t, out.String(), "listening")
		})
	}
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	out, _, execute := newServeCmd(t, "0")

	err := execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid config")
	assert.Empty(t, out.String())
}

func TestServeMissingConfigFile(t *testing.T) {
	out := &bytes.Buffer{}
	cmd := NewServeCommand(&RootOptions{Format: "text", Config: "/nonexistent/tandem.yaml"})
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(nil)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestServeRunsUntilCancelled(t *testing.T) {
	out, _, execute := newServeCmd(t, "30", "distributed")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := execute(ctx)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Server listening on 127.0.0.1:")
	assert.Contains(t, out.String(), "distributed, 30 Hz")
}

func TestServeJSONReportsConfigCode(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad_mode", []string{"60", "sideways"}, config.ErrCodeArgs},
		{"zero_rate", []string{"0"}, config.ErrCodeSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			cmd := NewServeCommand(&RootOptions{Format: "json"})
			cmd.SetOut(out)
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs(append(tt.args, "--listen", "127.0.0.1:0", "--log-dir", t.TempDir()))

			err := cmd.Execute()
			require.Error(t, err)

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.want, resp.Error.Code)
			assert.Equal(t, ExitCommandError, resp.Error.ExitCode)
		})
	}
}

func TestServeJSONStatus(t *testing.T) {
	out := &bytes.Buffer{}
	cmd := NewServeCommand(&RootOptions{Format: "json"})
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"30", "distributed", "--listen", "127.0.0.1:0", "--log-dir", t.TempDir()})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, cmd.ExecuteContext(ctx))

	var resp struct {
		Status string      `json:"status"`
		Data   ServeStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "distributed", resp.Data.Mode)
	assert.Equal(t, 30, resp.Data.LoopRate)
	assert.Contains(t, resp.Data.Addr, "127.0.0.1:")
}

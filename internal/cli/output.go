package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"

	"github.com/roach88/tandem/internal/clock"
	"github.com/roach88/tandem/internal/config"
	"github.com/roach88/tandem/internal/eventlog"
	"github.com/roach88/tandem/internal/network"
	"github.com/roach88/tandem/internal/replay"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Clean shutdown or completed replay
	ExitFailure      = 1 // Runtime failure (server lost, accept loop error)
	ExitCommandError = 2 // Command error (bad arguments, config, unreadable log)
)

// Error codes reported in JSON output next to the config package's
// E_CONFIG_* codes.
const (
	CodeLogMalformed = "E_LOG_MALFORMED"
	CodeNotFound     = "E_NOT_FOUND"
	CodeReplaySpeed  = "E_REPLAY_SPEED"
	CodeReplayState  = "E_REPLAY_STATE"
	CodeHandshake    = "E_HANDSHAKE"
	CodeNetwork      = "E_NETWORK"
	CodeCommand      = "E_COMMAND"
	CodeRuntime      = "E_RUNTIME"
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int    // ExitFailure or ExitCommandError
	Message string // what the command was doing
	Err     error  // cause, optional
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error: ExitSuccess for nil,
// ExitFailure for anything that is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ErrorCode classifies err for JSON output. The most specific cause wins.
func ErrorCode(err error) string {
	var cfgErr *config.Error
	var opErr *net.OpError
	switch {
	case errors.As(err, &cfgErr):
		return cfgErr.Code
	case errors.Is(err, eventlog.ErrMalformedLine):
		return CodeLogMalformed
	case errors.Is(err, fs.ErrNotExist):
		return CodeNotFound
	case errors.Is(err, clock.ErrInvalidTickSize):
		return CodeReplaySpeed
	case errors.Is(err, replay.ErrInvalidTransition):
		return CodeReplayState
	case errors.Is(err, network.ErrHandshake):
		return CodeHandshake
	case errors.As(err, &opErr):
		return CodeNetwork
	case GetExitCode(err) == ExitCommandError:
		return CodeCommand
	default:
		return CodeRuntime
	}
}

// TextWriter is implemented by results with a human-readable form.
type TextWriter interface {
	WriteText(w io.Writer)
}

// OutputFormatter renders command results as JSON envelopes or text.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose output; keeps JSON on Writer clean
	Verbose   bool
}

// newFormatter builds the formatter for cmd's streams.
func newFormatter(opts *RootOptions, out, errOut io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: out, ErrWriter: errOut, Verbose: opts.Verbose}
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // result payload
	Error  *CLIError `json:"error,omitempty"` // failure details
}

// CLIError is the error part of a CLIResponse.
type CLIError struct {
	Code     string `json:"code"` // E_CONFIG_SCHEMA, E_NOT_FOUND, ...
	Message  string `json:"message"`
	ExitCode int    `json:"exit_code"`
	Details  string `json:"details,omitempty"`
}

// Success outputs data. Text output uses data's WriteText when it has one.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	if tw, ok := data.(TextWriter); ok {
		tw.WriteText(f.Writer)
		return nil
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Report passes err through unchanged. In JSON mode a failed command also
// writes an error envelope so scripted callers can read the cause from
// stdout. Text mode leaves printing to the caller of Execute.
func (f *OutputFormatter) Report(err error) error {
	if err == nil || f.Format != "json" {
		return err
	}
	cliErr := &CLIError{Code: ErrorCode(err), Message: err.Error(), ExitCode: GetExitCode(err)}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		cliErr.Message = exitErr.Message
		if exitErr.Err != nil {
			cliErr.Details = exitErr.Err.Error()
		}
	}
	_ = json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: cliErr})
	return err
}

// VerboseLog writes a diagnostic line when verbose mode is on.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/spf13/cobra"

	"github.com/roach88/tandem/internal/config"
	"github.com/roach88/tandem/internal/game"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
	LogDir string
}

// ServeStatus is reported once the server accepts connections.
type ServeStatus struct {
	Addr     string `json:"addr"`
	Mode     string `json:"mode"`
	LoopRate int    `json:"loop_rate"`
}

// WriteText prints the listening banner.
func (s ServeStatus) WriteText(w io.Writer) {
	fmt.Fprintf(w, "Server listening on %s (%s, %d Hz).\n", s.Addr, s.Mode, s.LoopRate)
	fmt.Fprintln(w, "Press Ctrl-C to stop.")
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve " + config.ServerArgsUsage,
		Short: "Run the server peer",
		Long: `Run the server: populate the level, accept clients and drive the
simulation loop.

Positional arguments override the configuration in order. Omitted
arguments keep their configured value. A malformed argument list prints
usage and exits before any socket is opened.

Examples:
  tandem serve
  tandem serve 30 distributed
  tandem serve 60 centralized 8 2 4 --listen 127.0.0.1:7777`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.LogDir, "log-dir", "", "event log directory (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, args []string, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return formatter.Report(WrapExitError(ExitCommandError, "failed to load config", err))
	}
	if err := cfg.ApplyArgs(args); err != nil {
		fmt.Fprint(cmd.ErrOrStderr(), cmd.UsageString())
		return formatter.Report(WrapExitError(ExitCommandError, "invalid arguments", err))
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if opts.LogDir != "" {
		cfg.LogDir = opts.LogDir
	}
	if err := cfg.Validate(); err != nil {
		return formatter.Report(WrapExitError(ExitCommandError, "invalid config", err))
	}

	session, err := game.NewServer(cfg)
	if err != nil {
		return formatter.Report(WrapExitError(ExitCommandError, "failed to start server", err))
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		session.Close()
		return formatter.Report(WrapExitError(ExitCommandError, "failed to listen", err))
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	status := ServeStatus{Addr: ln.Addr().String(), Mode: cfg.Mode, LoopRate: cfg.LoopRate}
	if err := formatter.Success(status); err != nil {
		ln.Close()
		session.Close()
		return err
	}

	if err := session.Serve(ctx, ln); err != nil {
		return formatter.Report(WrapExitError(ExitFailure, "server error", err))
	}
	slog.Info("server stopped gracefully")
	return nil
}

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tandem/internal/config"
	"github.com/roach88/tandem/internal/game"
)

// JoinOptions holds flags for the join command.
type JoinOptions struct {
	*RootOptions
	LogDir  string
	Timeout time.Duration
}

// JoinStatus is reported once the avatar handshake completes.
type JoinStatus struct {
	Addr string `json:"addr"`
	Peer string `json:"peer"`
}

// WriteText prints the joined banner.
func (s JoinStatus) WriteText(w io.Writer) {
	fmt.Fprintf(w, "Joined %s as peer %s.\n", s.Addr, s.Peer)
}

// NewJoinCommand creates the join command.
func NewJoinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JoinOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "join <addr>",
		Short: "Run a headless client peer",
		Long: `Connect to a server, receive this peer's avatar and follow the shared
simulation until the server goes away or the process is interrupted.

Exit codes:
  0 - Interrupted
  1 - Connection to the server lost
  2 - Command error (cannot connect, bad config, etc.)

Example:
  tandem join 127.0.0.1:7777`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.LogDir, "log-dir", "", "event log directory (overrides config)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Second, "connect timeout")

	return cmd
}

func runJoin(opts *JoinOptions, addr string, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return formatter.Report(WrapExitError(ExitCommandError, "failed to load config", err))
	}
	if opts.LogDir != "" {
		cfg.LogDir = opts.LogDir
	}
	if err := cfg.Validate(); err != nil {
		return formatter.Report(WrapExitError(ExitCommandError, "invalid config", err))
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	dialCtx, cancelDial := context.WithTimeout(ctx, opts.Timeout)
	session, err := game.Join(dialCtx, cfg, addr)
	cancelDial()
	if err != nil {
		return formatter.Report(WrapExitError(ExitCommandError, "failed to join", err))
	}

	if err := formatter.Success(JoinStatus{Addr: addr, Peer: session.Bus().Identity().String()}); err != nil {
		session.Close()
		return err
	}

	if err := session.Run(ctx); err != nil {
		return formatter.Report(WrapExitError(ExitFailure, "disconnected", err))
	}
	slog.Info("client stopped")
	return nil
}

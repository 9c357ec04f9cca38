// cmd/trapsender/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/signalnine/trapsender/internal/config"
	"github.com/signalnine/trapsender/internal/history"
	"github.com/signalnine/trapsender/internal/trapper"
)

// exitError carries a process exit code through cobra
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

type globalFlags struct {
	configPath string
	server     string
	port       int
	raise      bool
}

// app is the state shared by every subcommand after config is loaded
type app struct {
	flags   globalFlags
	cfg     *config.Config
	logger  *slog.Logger
	history *history.DB
	stderr  io.Writer
}

// newRootCmd builds the command tree. The caller closes the returned app
// once the command has run, whatever its outcome.
func newRootCmd() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:           "trapsender",
		Short:         "Push monitoring values to a trapper collector",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.stderr = cmd.ErrOrStderr()
			return a.load()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "config file (.yaml or .toml)")
	pf.StringVar(&a.flags.server, "server", "", "collector host (overrides config)")
	pf.IntVar(&a.flags.port, "port", 0, "collector port (overrides config)")
	pf.BoolVar(&a.flags.raise, "raise", false, "exit non-zero when the collector rejects any item")

	root.AddCommand(
		newSendCmd(a),
		newDiscoverCmd(a),
		newBatchCmd(a),
		newAtlasCmd(a),
		newAgentCmd(a),
		newHistoryCmd(a),
	)
	return root, a
}

func (a *app) load() error {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return err
	}
	if a.flags.server != "" {
		cfg.Sender.Server = a.flags.server
	}
	if a.flags.port != 0 {
		cfg.Sender.Port = a.flags.port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = config.BuildLogger(cfg.Log, a.stderr)
	return nil
}

func (a *app) close() error {
	if a.history == nil {
		return nil
	}
	err := a.history.Close()
	a.history = nil
	return err
}

// openHistory opens the exchange ledger when one is configured
func (a *app) openHistory() (*history.DB, error) {
	if a.history != nil || a.cfg.Agent.HistoryDB == "" {
		return a.history, nil
	}
	db, err := history.NewDB(a.cfg.Agent.HistoryDB, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	a.history = db
	return db, nil
}

// sender builds a sender that records to the history ledger when configured
func (a *app) sender(extra ...trapper.Observer) (*trapper.Sender, error) {
	db, err := a.openHistory()
	if err != nil {
		return nil, err
	}
	observers := extra
	if db != nil {
		observers = append(observers, db)
	}
	return trapper.NewSenderFromConfig(a.cfg.Sender, a.logger, observers...), nil
}

// check turns collector failures into the command's error: a total
// rejection always fails, a partial one only with --raise
func (a *app) check(responses ...*trapper.Response) error {
	var errs []error
	for _, resp := range responses {
		if resp == nil {
			continue
		}
		err := resp.RaiseForFailure()
		if errors.Is(err, trapper.ErrTotalSend) || (a.flags.raise && err != nil) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return &exitError{code: 2, err: err}
	}
	return nil
}

// rejected marks errors caused by the collector rejecting an upload
func rejected(err error) error {
	if errors.Is(err, trapper.ErrTotalSend) {
		return &exitError{code: 2, err: err}
	}
	return err
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	ctx, cancel := signalContext()
	root, a := newRootCmd()
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

// Command mpsync copies Megaplan tasks into OpenProject and keeps them in
// sync, remembering every created object in a local SQLite state database.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steveyegge/mpsync/internal/config"
	"github.com/steveyegge/mpsync/internal/debug"
	"github.com/steveyegge/mpsync/internal/lockfile"
	"github.com/steveyegge/mpsync/internal/telemetry"
	"github.com/steveyegge/mpsync/internal/tracker"
	"github.com/steveyegge/mpsync/internal/ui"
)

var (
	// Version is the release version, set with -ldflags at build time.
	Version = "0.1.0"
	// Build is the commit the binary was built from.
	Build = "dev"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath  string
	verbosity   int
	jsonOutput  bool
	logJSON     bool
	quiet       bool
	lockTimeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "mpsync",
		Short: "mpsync - Megaplan to OpenProject migration and sync",
		Long: `Copies Megaplan tasks, comments, attachments and users into OpenProject.

Every object created in OpenProject is recorded in a local state database,
so runs can be repeated safely: known tasks are updated, never duplicated.
Use "migrate" for the first full copy and "sync" afterwards.`,
		Version:       fmt.Sprintf("%s (%s)", Version, Build),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			debug.SetQuiet(opts.quiet)
			if _, err := debug.Init(opts.verbosity, opts.logJSON); err != nil {
				return err
			}
			ui.ApplyColorProfile()
			if err := telemetry.Init(cmd.Context(), "mpsync", Version); err != nil {
				debug.Logger().Warn("telemetry disabled", zap.Error(err))
			}
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			telemetry.Shutdown(ctx)
			debug.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "Path to the YAML (or .toml) configuration")
	pf.CountVarP(&opts.verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	pf.BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")
	pf.BoolVar(&opts.logJSON, "log-json", false, "Write logs to stderr as JSON")
	pf.BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress non-essential output")
	pf.DurationVar(&opts.lockTimeout, "lock-timeout", 0, "Wait this long for another run to release the state lock")

	root.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "setup", Title: "Setup & Diagnostics:"},
	)
	root.AddCommand(
		newMigrateCmd(opts),
		newSyncCmd(opts),
		newVerifyCmd(opts),
		newProjectsCmd(opts),
		newStatusCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// errorHint suggests a next step for errors operators commonly hit.
func errorHint(err error) string {
	var authErr *tracker.AuthError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return `Run "mpsync config init" to create a starter configuration`
	case config.IsValidationError(err):
		return "Fix the configuration file, then re-run the command"
	case errors.As(err, &authErr):
		return fmt.Sprintf("Check the %s credentials in the configuration", authErr.Service)
	case errors.Is(err, lockfile.ErrLockBusy):
		return "Wait for the other run to finish or pass --lock-timeout"
	}
	return ""
}

func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if hint := errorHint(err); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	root := newRootCmd()
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/mpsync/internal/config"
	"github.com/steveyegge/mpsync/internal/timeparsing"
	"github.com/steveyegge/mpsync/internal/tracker"
)

type runFunc func(ctx context.Context, e *tracker.Engine) (*tracker.SyncResult, error)

func addDryRunFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("dry-run", false, "Fetch and translate only; write nothing, watermarks included (overrides sync.dry_run)")
	cmd.Flags().Bool("no-dry-run", false, "Write to OpenProject even if sync.dry_run is set")
	cmd.MarkFlagsMutuallyExclusive("dry-run", "no-dry-run")
}

// dryRunOverride returns the flag's verdict, or nil to keep the config value.
func dryRunOverride(cmd *cobra.Command) *bool {
	var v bool
	switch {
	case cmd.Flags().Changed("dry-run"):
		v, _ = cmd.Flags().GetBool("dry-run")
	case cmd.Flags().Changed("no-dry-run"):
		off, _ := cmd.Flags().GetBool("no-dry-run")
		v = !off
	default:
		return nil
	}
	return &v
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "migrate",
		Aliases: []string{"initial-sync"},
		GroupID: "sync",
		Short:   "Copy every task of the configured projects",
		Long: `Copies every task of every configured project, ignoring stored watermarks.

Tasks already in the state database are updated instead of created, so a
repeated migration never duplicates work packages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, opts, "migrate", func(ctx context.Context, e *tracker.Engine) (*tracker.SyncResult, error) {
				return e.Migrate(ctx)
			})
		},
	}
	addDryRunFlags(cmd)
	return cmd
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:     "sync",
		Aliases: []string{"sync-updates"},
		GroupID: "sync",
		Short:   "Copy tasks changed since the last run",
		Long: `Copies tasks updated since each project's last successful run.

--since overrides the stored watermark for every project. It accepts a
duration (2d, 6h, 1w), a timestamp (2024-05-01, 2024-05-01T10:00:00Z) or a
phrase such as "yesterday" or "last monday".

A dry run leaves the stored watermarks untouched, so the next real run
covers the same window.`,
		Example: `  mpsync sync
  mpsync sync --since 3d --dry-run
  mpsync sync --since "last monday" --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var window *time.Time
			if since != "" {
				t, err := timeparsing.ParseSince(since, time.Now())
				if err != nil {
					return fmt.Errorf("--since: %w", err)
				}
				window = &t
			}
			return runSync(cmd, opts, "sync", func(ctx context.Context, e *tracker.Engine) (*tracker.SyncResult, error) {
				return e.SyncUpdates(ctx, window)
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "Only tasks updated after this time (default: per-project watermark)")
	addDryRunFlags(cmd)
	return cmd
}

// runSync loads the configuration, runs the engine and prints whatever
// statistics were gathered, including after a failure.
func runSync(cmd *cobra.Command, opts *rootOptions, name string, run runFunc) error {
	ctx := cmd.Context()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if v := dryRunOverride(cmd); v != nil {
		cfg.Sync.DryRun = *v
	}

	a, err := openApp(ctx, opts, cfg, name)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	result, runErr := run(ctx, a.engine())
	if result != nil {
		if err := printSyncResult(cmd.OutOrStdout(), result, opts.jsonOutput); err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}

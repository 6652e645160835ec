package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/mpsync/internal/config"
	"github.com/steveyegge/mpsync/internal/storage/sqlite"
	"github.com/steveyegge/mpsync/internal/ui"
)

// checkResult is one line of verify output.
type checkResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "verify",
		GroupID: "setup",
		Short:   "Check the configuration and both API connections",
		Long: `Loads and validates the configuration, opens the state database and
probes Megaplan and OpenProject with a read-only request each.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if err := cfg.EnsureRuntimeDirs(); err != nil {
				return err
			}

			checks := runChecks(cmd.Context(), cfg)
			if opts.jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), checks); err != nil {
					return err
				}
			} else {
				for _, c := range checks {
					ok := c.OK
					fmt.Fprintln(cmd.OutOrStdout(), ui.StatusLine(&ok, c.Name, c.Detail))
				}
			}

			var failed []error
			for _, c := range checks {
				if !c.OK {
					failed = append(failed, fmt.Errorf("%s: %s", c.Name, c.Detail))
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("verification failed: %w", errors.Join(failed...))
			}
			return nil
		},
	}
}

// runChecks probes the state database and both trackers concurrently.
// Every probe runs to completion; failures are reported, not returned.
func runChecks(ctx context.Context, cfg *config.Config) []checkResult {
	checks := []checkResult{
		{Name: "state database"},
		{Name: "megaplan"},
		{Name: "openproject"},
	}
	probes := []func(context.Context) (string, error){
		func(ctx context.Context) (string, error) {
			st, err := sqlite.New(ctx, cfg.StateDB)
			if err != nil {
				return "", err
			}
			return cfg.StateDB, st.Close()
		},
		func(ctx context.Context) (string, error) {
			projects, err := newSource(cfg).ListProjects(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d project(s) visible", len(projects)), nil
		},
		func(ctx context.Context) (string, error) {
			return cfg.OpenProject.BaseURL, newTarget(cfg).Ping(ctx)
		},
	}

	var g errgroup.Group
	for i, probe := range probes {
		g.Go(func() error {
			detail, err := probe(ctx)
			if err != nil {
				checks[i].Detail = err.Error()
				return nil
			}
			checks[i].OK = true
			checks[i].Detail = detail
			return nil
		})
	}
	_ = g.Wait()
	return checks
}

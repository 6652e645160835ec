package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/mpsync/internal/config"
	"github.com/steveyegge/mpsync/internal/debug"
	"github.com/steveyegge/mpsync/internal/storage/sqlite"
	"github.com/steveyegge/mpsync/internal/types"
	"github.com/steveyegge/mpsync/internal/ui"
)

// statusReport is the JSON shape of "mpsync status".
type statusReport struct {
	StateDB    string               `json:"state_db"`
	Exists     bool                 `json:"exists"`
	Mappings   map[string]int       `json:"mappings,omitempty"`
	Watermarks map[string]time.Time `json:"watermarks,omitempty"`
	Unmapped   []string             `json:"never_synced,omitempty"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: "setup",
		Short:   "Show mapping counts and per-project watermarks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Read(opts.configPath)
			if err != nil {
				return err
			}

			report := &statusReport{StateDB: cfg.StateDB}
			if _, err := os.Stat(cfg.StateDB); errors.Is(err, fs.ErrNotExist) {
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ui.RenderMuted("No state database at"), cfg.StateDB)
				debug.PrintNormal("%s\n", ui.RenderMuted(`Run "mpsync migrate" to start.`))
				return nil
			}
			report.Exists = true

			ctx := cmd.Context()
			st, err := sqlite.New(ctx, cfg.StateDB)
			if err != nil {
				return fmt.Errorf("opening state database: %w", err)
			}
			defer func() { _ = st.Close() }()

			report.Mappings = make(map[string]int, len(types.AllKinds))
			for _, kind := range types.AllKinds {
				n, err := st.CountMappings(ctx, kind)
				if err != nil {
					return err
				}
				report.Mappings[string(kind)] = n
			}
			if report.Watermarks, err = st.ListWatermarks(ctx); err != nil {
				return err
			}
			for _, p := range cfg.Projects {
				if _, ok := report.Watermarks[p.MegaplanID]; !ok {
					report.Unmapped = append(report.Unmapped, p.MegaplanID)
				}
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printStatus(cmd, report)
			return nil
		},
	}
}

func printStatus(cmd *cobra.Command, r *statusReport) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s %s\n\n", ui.RenderAccent("State database:"), r.StateDB)

	fmt.Fprintln(w, ui.RenderCategory("Mappings"))

	rows := make([][]string, 0, len(types.AllKinds))
	for _, kind := range types.AllKinds {
		rows = append(rows, []string{string(kind), strconv.Itoa(r.Mappings[string(kind)])})
	}
	fmt.Fprintln(w, ui.RenderTable([]string{"KIND", "MAPPINGS"}, rows))

	if len(r.Watermarks) > 0 {
		fmt.Fprintln(w, ui.RenderCategory("Watermarks"))
		rows = rows[:0]
		for _, id := range sortedKeys(r.Watermarks) {
			rows = append(rows, []string{id, r.Watermarks[id].Local().Format(time.DateTime)})
		}
		fmt.Fprintln(w, ui.RenderTable([]string{"PROJECT", "LAST SYNC"}, rows))
	}
	for _, id := range r.Unmapped {
		fmt.Fprintln(w, ui.RenderWarn(fmt.Sprintf("%s project %s has never completed a run", ui.IconWarn, id)))
	}
}

package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/steveyegge/mpsync/internal/config"
	"github.com/steveyegge/mpsync/internal/tracker"
	"github.com/steveyegge/mpsync/internal/ui"
)

// projectRow is one listed project with its configured counterpart.
type projectRow struct {
	Source     string `json:"source"`
	ID         string `json:"id"`
	Identifier string `json:"identifier,omitempty"`
	Name       string `json:"name"`
	MappedTo   string `json:"mapped_to,omitempty"`
}

func newProjectsCmd(opts *rootOptions) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:     "projects",
		GroupID: "setup",
		Short:   "List projects on Megaplan and OpenProject",
		Long: `Lists the projects visible to the configured accounts, to help fill in
the "projects" section of the configuration. Only the connection sections
of the configuration need to be filled in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if source != "megaplan" && source != "openproject" && source != "both" {
				return fmt.Errorf("--source must be megaplan, openproject or both, got %q", source)
			}
			cfg, err := config.Read(opts.configPath)
			if err != nil {
				return err
			}
			if err := cfg.ValidateConnections(); err != nil {
				return err
			}

			ctx := cmd.Context()
			var rows []projectRow
			if source != "openproject" {
				projects, err := newSource(cfg).ListProjects(ctx)
				if err != nil {
					return fmt.Errorf("listing megaplan projects: %w", err)
				}
				rows = append(rows, projectRows("megaplan", projects, megaplanMapping(cfg))...)
			}
			if source != "megaplan" {
				projects, err := newTarget(cfg).ListProjects(ctx)
				if err != nil {
					return fmt.Errorf("listing openproject projects: %w", err)
				}
				rows = append(rows, projectRows("openproject", projects, openProjectMapping(cfg))...)
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMuted("No projects visible"))
				return nil
			}
			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				table = append(table, []string{r.Source, r.ID, r.Identifier, r.Name, r.MappedTo})
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderTable(
				[]string{"SOURCE", "ID", "IDENTIFIER", "NAME", "MAPPED TO"}, table))
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "both", "Which side to list: megaplan, openproject or both")
	return cmd
}

func projectRows(source string, projects []tracker.ProjectInfo, mapped map[string]string) []projectRow {
	rows := make([]projectRow, 0, len(projects))
	for _, p := range projects {
		rows = append(rows, projectRow{
			Source:     source,
			ID:         p.ID,
			Identifier: p.Identifier,
			Name:       p.Name,
			MappedTo:   mapped[p.ID],
		})
	}
	return rows
}

// megaplanMapping maps a Megaplan project ID to its OpenProject ID.
func megaplanMapping(cfg *config.Config) map[string]string {
	lookup := cfg.ProjectLookup()
	out := make(map[string]string, len(lookup))
	for id, pm := range lookup {
		out[id] = strconv.FormatInt(pm.TargetID, 10)
	}
	return out
}

// openProjectMapping maps an OpenProject ID to the Megaplan IDs feeding it.
func openProjectMapping(cfg *config.Config) map[string]string {
	sources := make(map[string][]string)
	for _, p := range cfg.Projects {
		key := strconv.FormatInt(p.OpenProjectID, 10)
		sources[key] = append(sources[key], p.MegaplanID)
	}
	out := make(map[string]string, len(sources))
	for k, ids := range sources {
		sort.Strings(ids)
		out[k] = ids[0]
		for _, id := range ids[1:] {
			out[k] += "," + id
		}
	}
	return out
}

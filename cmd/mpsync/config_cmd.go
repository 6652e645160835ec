package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/mpsync/internal/config"
	"github.com/steveyegge/mpsync/internal/debug"
	"github.com/steveyegge/mpsync/internal/ui"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		GroupID: "setup",
		Short:   "Create, check or print the configuration file",
	}
	cmd.AddCommand(
		newConfigInitCmd(opts),
		newConfigValidateCmd(opts),
		newConfigShowCmd(opts),
	)
	return cmd
}

func newConfigInitCmd(opts *rootOptions) *cobra.Command {
	var force, printOnly bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter configuration",
		Long: `Writes a commented starter configuration to the --config path, or to the
given path. The starter has dry_run enabled so a first run writes nothing.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if printOnly {
				_, err := fmt.Fprint(cmd.OutOrStdout(), config.StarterConfig())
				return err
			}
			path := opts.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteStarter(path, force); err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"path": path})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", ui.RenderPass(ui.IconPass), path)
			debug.PrintNormal("%s\n", ui.RenderMuted(`Fill in credentials and projects, then run "mpsync verify".`))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the starter to stdout instead of writing a file")
	return cmd
}

func newConfigValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without contacting either tracker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"path":     cfg.Path(),
					"valid":    true,
					"projects": len(cfg.Projects),
				})
			}
			ok := true
			fmt.Fprintln(cmd.OutOrStdout(), ui.StatusLine(&ok, cfg.Path(),
				fmt.Sprintf("%d project mapping(s)", len(cfg.Projects))))
			return nil
		},
	}
}

func newConfigShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with passwords masked",
		Long: `Prints the configuration after defaults and environment overrides are
applied. Passwords are masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Read(opts.configPath)
			if err != nil {
				return err
			}
			shown := cfg.Redacted()
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), shown)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(shown); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

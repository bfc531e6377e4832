package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/convoy/internal/config"
	"github.com/mattjoyce/convoy/internal/doctor"
)

var errConfigInvalid = errors.New("configuration has errors")

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate, lock and show configuration",
	}
	cmd.AddCommand(
		newConfigCheckCmd(g),
		newConfigLockCmd(g),
		newConfigShowCmd(g),
		newConfigDoctorCmd(g),
	)
	return cmd
}

func newConfigCheckCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration without starting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration valid (%d file(s)):\n", len(cfg.SourceFiles))
			for _, f := range cfg.SourceFiles {
				fmt.Fprintf(out, "  - %s\n", f)
			}
			fmt.Fprintf(out, "pools: %d, recurring jobs: %d, api: %t\n", len(cfg.Pools), len(cfg.Recurring), cfg.API.Enabled)
			return nil
		},
	}
}

func newConfigLockCmd(g *globalOptions) *cobra.Command {
	var dryRun, verbose bool
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Write BLAKE3 checksums for every config file",
		Long: `Write a .checksums manifest into each directory of the include tree.
Once a directory has a manifest, every file it lists must match it or
loading fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reports, err := config.Lock(g.configPath, dryRun)
			if err != nil {
				return fmt.Errorf("failed to lock config: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, report := range reports {
				if !verbose {
					continue
				}
				fmt.Fprintf(out, "Processing directory: %s\n", report.ConfigDir)
				for _, file := range report.Files {
					if file.Exists {
						fmt.Fprintf(out, "  HASH %s: %s\n", file.Filename, file.Hash)
						continue
					}
					fmt.Fprintf(out, "  SKIP %s: not found\n", file.Filename)
				}
				if dryRun {
					fmt.Fprintf(out, "  DRY-RUN .checksums: %s (not written)\n", report.ChecksumPath)
				} else {
					fmt.Fprintf(out, "  WROTE .checksums: %s\n", report.ChecksumPath)
				}
			}
			if dryRun {
				fmt.Fprintf(out, "Dry run completed for %d directory/ies (no files written):\n", len(reports))
			} else {
				fmt.Fprintf(out, "Successfully locked configuration in %d directory/ies:\n", len(reports))
			}
			for _, report := range reports {
				fmt.Fprintf(out, "  - %s\n", report.ConfigDir)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute hashes without writing")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every hashed file")
	return cmd
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration with defaults applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			redact(cfg)
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func newConfigDoctorCmd(g *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Review the configuration for likely mistakes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			result := doctor.New(cfg).Validate()
			out := cmd.OutOrStdout()
			if jsonOut {
				text, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, text)
			} else {
				fmt.Fprint(out, doctor.FormatHuman(result))
			}
			if !result.Valid {
				return errConfigInvalid
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func redact(cfg *config.Config) {
	const hidden = "<redacted>"
	if cfg.API.Auth.APIKey != "" {
		cfg.API.Auth.APIKey = hidden
	}
	for i := range cfg.API.Auth.Tokens {
		cfg.API.Auth.Tokens[i].Token = hidden
	}
	for i := range cfg.Webhooks.Endpoints {
		cfg.Webhooks.Endpoints[i].Secret = hidden
	}
}

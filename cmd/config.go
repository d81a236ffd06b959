// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"reactor/internal/config"
)

func newConfigCommand(opts *options) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and export configuration",
	}

	configCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the resolved application config as YAML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				app, _, err := loadConfig(opts)
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(app); err != nil {
					return fmt.Errorf("failed to encode config: %w", err)
				}
				return enc.Close()
			},
		},
		&cobra.Command{
			Use:   "export [path]",
			Short: "Write the effective tuning settings as JSON",
			Long:  "Export writes the tuning settings (defaults merged with the settings file) to path, or to stdout.",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, live, err := loadConfig(opts)
				if err != nil {
					return err
				}
				if len(args) == 0 {
					return config.Export(cmd.OutOrStdout(), live.Snapshot())
				}
				if err := config.SaveSettings(args[0], live.Snapshot()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Settings written to %s\n", args[0])
				return nil
			},
		},
	)
	return configCmd
}

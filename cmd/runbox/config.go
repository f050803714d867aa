package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if cfg.File != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", cfg.File)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "# no config file found, defaults and environment only")
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/ccsd/internal/cli/output"
	"github.com/marmos91/ccsd/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective ccsd configuration, after defaults and
environment overrides are applied.

Examples:
  # Show as YAML
  ccsd config show

  # Show as JSON
  ccsd config show --output json`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		return fmt.Errorf("config show supports yaml or json")
	}
	return output.Print(cmd.OutOrStdout(), format, cfg)
}

package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/ccsd/internal/cli/output"
	"github.com/marmos91/ccsd/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the ccsd configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  ccsd config validate

  # Validate specific config file
  ccsd config validate --config /etc/ccsd/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
		if !config.DefaultConfigExists() {
			displayPath = "(defaults)"
		}
	}

	var warnings []string
	if cfg.Lock.MaxWaitersPerObject == 0 {
		warnings = append(warnings, "lock.max_waiters_per_object is 0: lock queues are unbounded")
	}
	if cfg.Lock.MaxTotalLocks == 0 {
		warnings = append(warnings, "lock.max_total_locks is 0: the lock count is unbounded")
	}
	if cfg.Server.SocketMode&0o007 != 0 {
		warnings = append(warnings, fmt.Sprintf("server.socket_mode %#o lets any local user connect", cfg.Server.SocketMode))
	}
	realm, err := cfg.Kerberos.ResolveDefaultRealm()
	if err != nil {
		warnings = append(warnings, err.Error())
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintln(out, "\nConfiguration summary:")
	output.KeyValues(out, [][2]string{
		{"Socket", cfg.Server.SocketPath},
		{"HTTP port", fmt.Sprintf("%d (enabled: %t)", cfg.API.Port, cfg.API.IsEnabled())},
		{"Log level", cfg.Logging.Level},
		{"Default realm", realm},
		{"Imports", fmt.Sprintf("%d", len(cfg.Kerberos.Imports))},
	})
	return nil
}

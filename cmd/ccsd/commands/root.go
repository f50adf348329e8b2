// Package commands implements the ccsd command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/ccsd/cmd/ccsd/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile    string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ccsd",
	Short: "ccsd - Kerberos credential cache server",
	Long: `ccsd keeps Kerberos credential caches in memory and serves them to
local clients over a Unix socket. Clients coordinate access to a cache, and
to the cache collection, with shared and exclusive locks.

Use "ccsd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/ccsd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "server socket (default: server.socket_path from the config)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(config.Cmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

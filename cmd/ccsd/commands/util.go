package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/ccsd/internal/cli/output"
	"github.com/marmos91/ccsd/internal/ipc"
	"github.com/marmos91/ccsd/internal/logger"
	"github.com/marmos91/ccsd/pkg/config"
)

// dialTimeout bounds connecting to the server and each client call.
const dialTimeout = 5 * time.Second

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// resolveSocket returns the --socket flag, or the configured socket path.
func resolveSocket() (string, error) {
	if socketPath != "" {
		return socketPath, nil
	}
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return "", err
	}
	return cfg.Server.SocketPath, nil
}

// withClient dials the server and runs fn with a bounded context.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *ipc.Client) error) error {
	path, err := resolveSocket()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), dialTimeout)
	defer cancel()

	c, err := ipc.Dial(ctx, path)
	if err != nil {
		return fmt.Errorf("cannot reach ccsd at %s: %w", path, err)
	}
	defer func() { _ = c.Close() }()

	return fn(ctx, c)
}

func outputFormat(cmd *cobra.Command) (output.Format, error) {
	s, _ := cmd.Flags().GetString("output")
	return output.ParseFormat(s)
}

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "table", "Output format (table|json|yaml)")
}

func formatUnix(sec int64) string {
	if sec <= 0 {
		return "-"
	}
	return time.Unix(sec, 0).Format(time.DateTime)
}

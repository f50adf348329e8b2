package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/ccsd/internal/cli/output"
	"github.com/marmos91/ccsd/internal/cli/prompt"
	"github.com/marmos91/ccsd/internal/ipc"
)

var cacheCmd = &cobra.Command{
	Use:     "cache",
	Aliases: []string{"caches"},
	Short:   "Manage credential caches on a running server",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List credential caches",
	Args:  cobra.NoArgs,
	RunE:  runCacheList,
}

var cacheCreateCmd = &cobra.Command{
	Use:   "create NAME PRINCIPAL",
	Short: "Create an empty credential cache",
	Args:  cobra.ExactArgs(2),
	RunE:  runCacheCreate,
}

var cacheDestroyCmd = &cobra.Command{
	Use:   "destroy NAME",
	Short: "Destroy a credential cache",
	Long: `Destroy a credential cache and wipe its keys.

Clients waiting for a lock on the cache are told the cache is gone.`,
	Args: cobra.ExactArgs(1),
	RunE: runCacheDestroy,
}

var cacheDefaultCmd = &cobra.Command{
	Use:   "default NAME",
	Short: "Make a cache the default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *ipc.Client) error {
			if _, err := c.Call(ctx, &ipc.Request{Op: uint32(ipc.OpSetDefault), Cache: args[0]}); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Default cache is now %s\n", args[0])
			return nil
		})
	},
}

var cacheImportCmd = &cobra.Command{
	Use:   "import NAME FILE",
	Short: "Import a ccache file written by kinit",
	Args:  cobra.ExactArgs(2),
	RunE:  runCacheImport,
}

var cacheCredsCmd = &cobra.Command{
	Use:   "creds [NAME]",
	Short: "List the credentials in a cache (default cache when NAME is omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCacheCreds,
}

var destroyForce bool

func init() {
	addOutputFlag(cacheListCmd)
	addOutputFlag(cacheCredsCmd)
	cacheDestroyCmd.Flags().BoolVarP(&destroyForce, "force", "f", false, "Do not ask for confirmation")

	cacheCmd.AddCommand(cacheListCmd, cacheCreateCmd, cacheDestroyCmd, cacheDefaultCmd, cacheImportCmd, cacheCredsCmd)
}

type cacheTable []ipc.CacheEntry

func (t cacheTable) Headers() []string {
	return []string{"Name", "Principal", "Creds", "Default", "Changed"}
}

func (t cacheTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, c := range t {
		def := ""
		if c.Default {
			def = "*"
		}
		rows = append(rows, []string{c.Name, c.Principal, strconv.Itoa(int(c.Credentials)), def, formatUnix(c.ChangedAt)})
	}
	return rows
}

type credTable []ipc.CredentialEntry

func (t credTable) Headers() []string {
	return []string{"Server", "Enctype", "Start", "End", "Flags"}
}

func (t credTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, c := range t {
		rows = append(rows, []string{c.Server, strconv.Itoa(int(c.KeyType)),
			formatUnix(c.StartTime), formatUnix(c.EndTime), strings.Join(c.Flags, ",")})
	}
	return rows
}

func runCacheList(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	return withClient(cmd, func(ctx context.Context, c *ipc.Client) error {
		reply, err := c.Call(ctx, &ipc.Request{Op: uint32(ipc.OpCacheList)})
		if err != nil {
			return err
		}
		var list ipc.CacheList
		if err := ipc.Decode(reply.Payload, &list); err != nil {
			return err
		}
		if len(list.Caches) == 0 && format == output.FormatTable {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No credential caches")
			return nil
		}
		return output.Print(cmd.OutOrStdout(), format, cacheTable(list.Caches))
	})
}

func runCacheCreate(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *ipc.Client) error {
		reply, err := c.Call(ctx, &ipc.Request{Op: uint32(ipc.OpCacheCreate), Cache: args[0], Principal: args[1]})
		if err != nil {
			return err
		}
		var entry ipc.CacheEntry
		if err := ipc.Decode(reply.Payload, &entry); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created %s for %s\n", entry.Name, entry.Principal)
		return nil
	})
}

func runCacheDestroy(cmd *cobra.Command, args []string) error {
	ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Destroy credential cache %s", args[0]), destroyForce)
	if err != nil {
		return err
	}
	if !ok {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
		return nil
	}
	return withClient(cmd, func(ctx context.Context, c *ipc.Client) error {
		if _, err := c.Call(ctx, &ipc.Request{Op: uint32(ipc.OpCacheDestroy), Cache: args[0]}); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Destroyed %s\n", args[0])
		return nil
	})
}

func runCacheImport(cmd *cobra.Command, args []string) error {
	// The file is read here so the server never opens client paths.
	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read ccache: %w", err)
	}
	return withClient(cmd, func(ctx context.Context, c *ipc.Client) error {
		reply, err := c.Call(ctx, &ipc.Request{Op: uint32(ipc.OpCacheImport), Cache: args[0], Data: data})
		if err != nil {
			return err
		}
		var entry ipc.CacheEntry
		if err := ipc.Decode(reply.Payload, &entry); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %s for %s (%d credentials)\n",
			entry.Name, entry.Principal, entry.Credentials)
		return nil
	})
}

func runCacheCreds(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	return withClient(cmd, func(ctx context.Context, c *ipc.Client) error {
		reply, err := c.Call(ctx, &ipc.Request{Op: uint32(ipc.OpCredentials), Cache: name})
		if err != nil {
			return err
		}
		var list ipc.CredentialList
		if err := ipc.Decode(reply.Payload, &list); err != nil {
			return err
		}
		return output.Print(cmd.OutOrStdout(), format, credTable(list.Credentials))
	})
}

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/ccsd/internal/cli/output"
	"github.com/marmos91/ccsd/internal/ipc"
	"github.com/marmos91/ccsd/pkg/ccapi/lock"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect locks on a running server",
}

var lockStatusCmd = &cobra.Command{
	Use:   "status [CACHE]",
	Short: "Show the locks on a cache, or on the cache collection",
	Long: `Show the locks held and waiting on a credential cache.

Without CACHE, the locks on the cache collection itself are shown. Holders
are listed first, then waiters in the order they will be served.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLockStatus,
}

func init() {
	addOutputFlag(lockStatusCmd)
	lockCmd.AddCommand(lockStatusCmd)
}

type lockTable []ipc.LockEntry

func (t lockTable) Headers() []string {
	return []string{"ID", "Mode", "State", "Client", "Since"}
}

func (t lockTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, l := range t {
		state := "held"
		if l.Pending {
			state = "waiting"
		}
		rows = append(rows, []string{l.ID, lock.Mode(l.Mode).String(), state, l.Client, formatUnix(l.Since)})
	}
	return rows
}

func runLockStatus(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	return withClient(cmd, func(ctx context.Context, c *ipc.Client) error {
		reply, err := c.Call(ctx, &ipc.Request{Op: uint32(ipc.OpLockStatus), Cache: name})
		if err != nil {
			return err
		}
		var status ipc.LockStatus
		if err := ipc.Decode(reply.Payload, &status); err != nil {
			return err
		}
		if format != output.FormatTable {
			return output.Print(cmd.OutOrStdout(), format, status)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Object: %s\n", status.Object)
		if len(status.Locks) == 0 {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No locks")
			return nil
		}
		output.PrintTable(cmd.OutOrStdout(), lockTable(status.Locks))
		return nil
	})
}

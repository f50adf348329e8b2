package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/ccsd/internal/cli/output"
	"github.com/marmos91/ccsd/internal/ipc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that the server answers on its socket",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	addOutputFlag(statusCmd)
}

// ServerStatus is the result of the status command.
type ServerStatus struct {
	Socket  string `json:"socket" yaml:"socket"`
	Running bool   `json:"running" yaml:"running"`
	Latency string `json:"latency,omitempty" yaml:"latency,omitempty"`
	Caches  int    `json:"caches" yaml:"caches"`
	Default string `json:"default,omitempty" yaml:"default,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	path, err := resolveSocket()
	if err != nil {
		return err
	}

	status := ServerStatus{Socket: path}
	err = withClient(cmd, func(ctx context.Context, c *ipc.Client) error {
		start := time.Now()
		if _, err := c.Call(ctx, &ipc.Request{Op: uint32(ipc.OpPing)}); err != nil {
			return err
		}
		status.Latency = time.Since(start).String()

		reply, err := c.Call(ctx, &ipc.Request{Op: uint32(ipc.OpCacheList)})
		if err != nil {
			return err
		}
		var list ipc.CacheList
		if err := ipc.Decode(reply.Payload, &list); err != nil {
			return err
		}
		status.Caches = len(list.Caches)
		for _, c := range list.Caches {
			if c.Default {
				status.Default = c.Name
			}
		}
		return nil
	})
	status.Running = err == nil
	if err != nil {
		status.Error = err.Error()
	}

	if format != output.FormatTable {
		return output.Print(cmd.OutOrStdout(), format, status)
	}
	output.KeyValues(cmd.OutOrStdout(), [][2]string{
		{"Socket", status.Socket},
		{"Running", strconv.FormatBool(status.Running)},
		{"Latency", status.Latency},
		{"Caches", strconv.Itoa(status.Caches)},
		{"Default", status.Default},
		{"Error", status.Error},
	})
	if !status.Running {
		return fmt.Errorf("server not reachable at %s", path)
	}
	return nil
}

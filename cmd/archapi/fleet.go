package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/archapi/pkg/client"
	"github.com/cuemby/archapi/pkg/discovery"
	"github.com/cuemby/archapi/pkg/fleet"
	"github.com/cuemby/archapi/pkg/types"
	"github.com/spf13/cobra"
)

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Inspect and configure fleets",
}

var fleetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the fleets in the fleet directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fleets, err := fleet.NewFiles(cfg.FleetDir).All()
		if err != nil {
			return err
		}
		t := newTable(cmd.OutOrStdout(), "FLEET", "DEVICES")
		for _, fl := range fleets {
			t.AppendRow([]any{fl.Name, strings.Join(fl.Hostnames(), ", ")})
		}
		t.Render()
		return nil
	},
}

var fleetScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Browse the network for online devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		found, err := discovery.NewZeroconf(cfg.Discovery.Timeout).Scan(ctx)
		if err != nil {
			return err
		}
		t := newTable(cmd.OutOrStdout(), "HOSTNAME", "ADDRESSES", "PORT")
		for _, host := range discovery.Hostnames(found) {
			svc := found[host]
			t.AppendRow([]any{host, strings.Join(svc.Addresses, ", "), svc.Port})
		}
		t.Render()
		return nil
	},
}

var fleetSetCmd = &cobra.Command{
	Use:   "set CONFIGURATION FLEET",
	Short: "Set a configuration on every device of a fleet",
	Long: `Ask the leading device to set a configuration on a fleet. The leader
checks that every member is idle before anything is started.

Example:
  archapi fleet set town town01 --host watchtower01.local:8083`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := remoteClient(cmd)
		env, err := c.FleetSet(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		var res fleet.SetResult
		if err := env.DecodeData(&res); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Fleet job %d started\n", res.JobID)
		t := newTable(cmd.OutOrStdout(), "DEVICE", "STATUS", "JOB")
		for _, host := range sortedKeys(res.Devices) {
			member := res.Devices[host]
			var ticket struct {
				JobID int64 `json:"job_id"`
			}
			_ = member.DecodeData(&ticket)
			t.AppendRow([]any{host, envelopeStatus(member.Status), ticket.JobID})
		}
		t.Render()
		return nil
	},
}

var fleetMonitorCmd = &cobra.Command{
	Use:   "monitor JOB_ID FLEET",
	Short: "Show the progress of the last fleet job",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid job id %q", args[0])
		}
		env, err := remoteClient(cmd).FleetMonitor(cmd.Context(), id, args[1])
		if err != nil {
			return err
		}
		var devices map[string]struct {
			Status   string `json:"status"`
			Progress int    `json:"progress"`
		}
		if err := env.DecodeData(&devices); err != nil {
			return err
		}
		t := newTable(cmd.OutOrStdout(), "DEVICE", "STATUS", "PROGRESS")
		for _, host := range sortedKeys(devices) {
			d := devices[host]
			t.AppendRow([]any{host, jobStatus(types.JobStatus(d.Status)), fmt.Sprintf("%d%%", d.Progress)})
		}
		t.Render()
		return nil
	},
}

func init() {
	fleetCmd.AddCommand(fleetListCmd)
	fleetCmd.AddCommand(fleetScanCmd)
	fleetCmd.AddCommand(fleetSetCmd)
	fleetCmd.AddCommand(fleetMonitorCmd)

	for _, c := range []*cobra.Command{fleetSetCmd, fleetMonitorCmd} {
		c.Flags().String("host", "localhost:8083", "Address of the leading device")
	}
}

func remoteClient(cmd *cobra.Command) *client.Client {
	host, _ := cmd.Flags().GetString("host")
	return client.NewClient(host)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

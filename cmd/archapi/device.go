package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cuemby/archapi/pkg/types"
	"github.com/spf13/cobra"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Operate a device through its API",
}

var deviceInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe a device",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := remoteClient(cmd)
		info, err := c.Info(cmd.Context())
		if err != nil {
			return err
		}
		ready, blocking, err := c.Clearance(cmd.Context())
		if err != nil {
			return err
		}
		clearance := envelopeStatus("ready")
		if !ready {
			clearance = fmt.Sprintf("%s (job %d)", envelopeStatus("busy"), blocking)
		}

		t := newTable(cmd.OutOrStdout(), "FIELD", "VALUE")
		t.AppendRow([]any{"hostname", info.Hostname})
		t.AppendRow([]any{"robot type", info.RobotType})
		t.AppendRow([]any{"arch", info.Arch})
		t.AppendRow([]any{"instance", info.Instance})
		t.AppendRow([]any{"version", info.Version})
		t.AppendRow([]any{"clearance", clearance})
		t.Render()
		return nil
	},
}

var deviceSetCmd = &cobra.Command{
	Use:   "set CONFIGURATION",
	Short: "Set a configuration on a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := remoteClient(cmd).SetConfiguration(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return followJob(cmd, id)
	},
}

var devicePullCmd = &cobra.Command{
	Use:   "pull IMAGE",
	Short: "Pull an image on a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := remoteClient(cmd).Pull(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return followJob(cmd, id)
	},
}

var deviceMonitorCmd = &cobra.Command{
	Use:   "monitor JOB_ID",
	Short: "Show a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid job id %q", args[0])
		}
		job, err := remoteClient(cmd).Job(cmd.Context(), id)
		if err != nil {
			return err
		}
		printJob(cmd, job)
		return nil
	},
}

var deviceClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Cancel the running job and forget every job",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := remoteClient(cmd).Clear(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d jobs\n", n)
		return nil
	},
}

func init() {
	deviceCmd.AddCommand(deviceInfoCmd)
	deviceCmd.AddCommand(deviceSetCmd)
	deviceCmd.AddCommand(devicePullCmd)
	deviceCmd.AddCommand(deviceMonitorCmd)
	deviceCmd.AddCommand(deviceClearCmd)

	for _, c := range []*cobra.Command{deviceInfoCmd, deviceSetCmd, devicePullCmd, deviceMonitorCmd, deviceClearCmd} {
		c.Flags().String("host", "localhost:8083", "Address of the device")
	}
	for _, c := range []*cobra.Command{deviceSetCmd, devicePullCmd} {
		c.Flags().Bool("wait", false, "Wait for the job to finish")
		c.Flags().Duration("interval", time.Second, "Polling interval while waiting")
	}
}

// followJob prints the job id, or waits for the job when --wait is set
func followJob(cmd *cobra.Command, id int64) error {
	out := cmd.OutOrStdout()
	wait, _ := cmd.Flags().GetBool("wait")
	if !wait {
		fmt.Fprintf(out, "Job %d started\n", id)
		return nil
	}
	interval, _ := cmd.Flags().GetDuration("interval")

	last := -1
	job, err := remoteClient(cmd).Wait(cmd.Context(), id, interval, func(j *types.Job) {
		if j.Progress != last {
			last = j.Progress
			fmt.Fprintf(out, "Job %d: %s %d%%\n", j.ID, j.Status, j.Progress)
		}
	})
	if err != nil {
		return err
	}
	printJob(cmd, job)
	if job.Status != types.JobStatusComplete {
		return fmt.Errorf("job %d finished with status %s", job.ID, job.Status)
	}
	return nil
}

func printJob(cmd *cobra.Command, job *types.Job) {
	fmt.Fprintf(cmd.OutOrStdout(), "Job %d %s %s: %s (%d%%)\n", job.ID, job.Kind, job.Target, jobStatus(job.Status), job.Progress)
	t := newTable(cmd.OutOrStdout(), "TIME", "MESSAGE")
	for _, entry := range job.Log {
		t.AppendRow([]any{entry.Time.Format(time.RFC3339), entry.Message})
	}
	t.Render()
}

package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"fieldops/pkg/api"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and retry queued jobs",
	Long:  `List, inspect and retry jobs in the work queue. Jobs that exhausted their attempts are FAILED and are only picked up again after a retry.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		opts := ListOptions{}
		opts.Status, _ = cmd.Flags().GetString("status")
		opts.Type, _ = cmd.Flags().GetString("type")
		opts.Limit, _ = cmd.Flags().GetInt("limit")
		opts.Offset, _ = cmd.Flags().GetInt("offset")

		list, err := client.ListJobs(opts)
		if err != nil {
			cmd.Printf("Error listing jobs: %s\n", err)
			return
		}

		if len(list) == 0 {
			if opts.Offset > 0 {
				cmd.Println("No more jobs found.")
			} else {
				cmd.Println("No jobs found.")
			}
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "JOB ID\tTYPE\tSTATUS\tATTEMPTS\tCREATED\tERROR")
		for _, j := range list {
			errMsg := ""
			if j.LastError != nil {
				errMsg = truncate(*j.LastError, 50)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
				j.ID,
				j.JobType,
				j.Status,
				j.Attempts,
				j.MaxAttempts,
				j.CreatedAt.Format(time.RFC3339),
				errMsg,
			)
		}
		w.Flush()
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get [job_id]",
	Short: "Show a single job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		job, err := client.GetJob(args[0])
		if err != nil {
			cmd.Printf("Error fetching job: %s\n", err)
			return
		}
		printJob(cmd, job)
	},
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry [job_id]",
	Short: "Retry a FAILED job",
	Long:  `Reset a FAILED job to PENDING with zero attempts so the workers pick it up again. Jobs in any other state are left untouched.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		resp, err := client.RetryJob(args[0])
		if err != nil {
			cmd.Printf("Error retrying job: %s\n", err)
			return
		}
		cmd.Printf("✅ Job %s retried successfully.\n", resp.ID)
		cmd.Printf("   Status: %s\n", resp.Status)
	},
}

func printJob(cmd *cobra.Command, job *api.JobResponse) {
	cmd.Printf("%s %sJob Details%s\n", statusIcon(job.Status), colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, job.ID)
	cmd.Printf("%sType:%s        %s\n", colorDim, colorReset, job.JobType)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(job.Status))
	cmd.Printf("%sAttempts:%s    %d/%d\n", colorDim, colorReset, job.Attempts, job.MaxAttempts)
	cmd.Printf("%sLock:%s        %s\n", colorDim, colorReset, lockState(job.Status, job.LockedBy))

	if job.LastError != nil {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, *job.LastError, colorReset)
	}

	cmd.Printf("%sRun after:%s   %s\n", colorDim, colorReset, formatTimeWithRelative(&job.RunAfter))
	cmd.Printf("%sCreated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&job.CreatedAt))
	if len(job.Payload) > 0 {
		cmd.Printf("%sPayload:%s     %s\n", colorDim, colorReset, string(job.Payload))
	}
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsCmd.AddCommand(jobsRetryCmd)

	jobsListCmd.Flags().StringP("status", "s", "", "Filter by status (PENDING, COMPLETED, FAILED; comma-separated)")
	jobsListCmd.Flags().String("type", "", "Filter by job type")
	jobsListCmd.Flags().IntP("limit", "l", 20, "Number of jobs to list")
	jobsListCmd.Flags().IntP("offset", "o", 0, "Offset for pagination")
}

package cmd

import (
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Manage stored webhook events",
}

var eventsEnqueueCmd = &cobra.Command{
	Use:   "enqueue [event_id]",
	Short: "Enqueue a processing job for a stored webhook event",
	Long: `Schedule a new processing job for a webhook event that is already persisted,
for example one whose job could not be enqueued when it arrived. The job type is
derived from the event's source.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		resp, err := client.EnqueueEvent(args[0])
		if err != nil {
			cmd.Printf("Error enqueueing event: %s\n", err)
			return
		}
		cmd.Printf("✅ Event %s enqueued.\n", resp.EventID)
		cmd.Printf("   Job ID:   %s\n", resp.JobID)
		cmd.Printf("   Job type: %s\n", resp.JobType)
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsEnqueueCmd)
}

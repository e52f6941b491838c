package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ictashik/OpenDataTagger/internal/client"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect tagging jobs",
	Long: `List all tagging jobs or inspect a specific job by ID.

Examples:
  tagger jobs                # List all jobs
  tagger jobs abc123         # Show details for job abc123
  tagger jobs cancel abc123  # Stop job abc123 before its next row`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.CancelJob(context.Background(), args[0]); err != nil {
			if client.IsNotFound(err) {
				return fmt.Errorf("job not found: %s", args[0])
			}
			return fmt.Errorf("cancel job: %w", err)
		}
		fmt.Printf("Cancellation requested for job %s\n", args[0])
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job's progress until it ends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunWatch(context.Background(), apiClient, args[0])
	},
}

func init() {
	jobsCmd.AddCommand(jobsCancelCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		return showJob(ctx, args[0])
	}
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	jobs, err := apiClient.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-36s %-10s %-10s %-9s %s\n", "ID", "STATE", "PROGRESS", "STARTED", "DATASET")
	fmt.Println("--------------------------------------------------------------------------------------")

	for _, job := range jobs {
		fmt.Printf("%-36s %-10s %-10s %-9s %s\n",
			job.ID, job.State, fmt.Sprintf("%d/%d", job.Done, job.Total),
			job.StartedAt.Local().Format("15:04:05"), job.Dataset)
	}
	return nil
}

func showJob(ctx context.Context, id string) error {
	snap, err := apiClient.GetJob(ctx, id)
	if err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("job not found: %s", id)
		}
		return fmt.Errorf("get job: %w", err)
	}

	fmt.Printf("Job: %s\n", snap.JobID)
	fmt.Printf("  Status: %s\n", snap.Status)
	fmt.Printf("  Progress: %d/%d\n", snap.Done, snap.Total)
	fmt.Printf("  Files saved: %t\n", snap.FilesSaved)
	if snap.LastSave != "" {
		if t, err := time.Parse(time.RFC3339, snap.LastSave); err == nil {
			fmt.Printf("  Last save: %s (%s ago)\n", snap.LastSave, time.Since(t).Round(time.Second))
		}
	}

	if snap.LogsNote != "" {
		fmt.Printf("\n  %s\n", snap.LogsNote)
	}
	if len(snap.Logs) > 0 {
		fmt.Printf("\nRecent answers (%d):\n", len(snap.Logs))
		for _, e := range snap.Logs {
			fmt.Printf("  row %-5d %-20s %s\n", e.RowIndex, e.Column, truncate(e.BestAnswer, 50))
		}
	}
	return nil
}

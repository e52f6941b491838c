package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ictashik/OpenDataTagger/internal/client"
	"github.com/ictashik/OpenDataTagger/internal/service"
)

var (
	cleanupHours  float64
	cleanupDryRun bool
	cleanupForce  bool
	cleanupList   bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old job records from the server",
	Long: `Remove job records that are older than --hours and are finished, failed,
or no longer advancing. Output files on disk are never touched.

--force removes every record, running jobs included, after confirmation.

Examples:
  tagger cleanup --list
  tagger cleanup --hours 48 --dry-run
  tagger cleanup --force`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().Float64Var(&cleanupHours, "hours", 24, "only remove records older than this many hours")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "show what would be removed")
	cleanupCmd.Flags().BoolVar(&cleanupForce, "force", false, "remove all records, running ones included")
	cleanupCmd.Flags().BoolVar(&cleanupList, "list", false, "list current records and exit")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if cleanupList {
		return listRecords(ctx)
	}

	if cleanupForce && !cleanupDryRun {
		fmt.Print("This removes ALL job records, including running jobs. Type 'yes' to continue: ")
		if !confirmed(cmd.InOrStdin()) {
			fmt.Println("Aborted")
			return nil
		}
	}

	hours := cleanupHours
	report, err := apiClient.Cleanup(ctx, client.CleanupOptions{
		MinAgeHours: &hours,
		DryRun:      cleanupDryRun,
		Force:       cleanupForce,
	})
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	printCleanupReport(report, hours)
	return nil
}

// confirmed reports whether the next input line is exactly "yes".
func confirmed(r io.Reader) bool {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}

func listRecords(ctx context.Context) error {
	jobs, err := apiClient.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Println("No job records")
		return nil
	}

	fmt.Printf("%d job record(s):\n", len(jobs))
	for _, job := range jobs {
		fmt.Printf("  %s\n", job.ID)
		fmt.Printf("    Status: %s\n", job.Status)
		fmt.Printf("    Progress: %d/%d\n", job.Done, job.Total)
		fmt.Printf("    Age: %.1f hours\n", time.Since(job.StartedAt).Hours())
	}
	return nil
}

func printCleanupReport(report *service.CleanupReport, hours float64) {
	switch {
	case report.DryRun:
		fmt.Printf("Dry run: %d record(s) older than %.1f hours would be removed\n", len(report.Selected), hours)
	case len(report.Selected) == 0:
		fmt.Println("Nothing to clean up")
		return
	default:
		fmt.Printf("Removed %d record(s), kept %d\n", report.Removed, report.Kept)
	}

	for _, item := range report.Selected {
		fmt.Printf("  %s... - %s - %d/%d - %.1fh old\n", shortID(item.JobID), item.Status, item.Done, item.Total, item.AgeHours)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

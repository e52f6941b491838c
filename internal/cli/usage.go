package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ictashik/OpenDataTagger/internal/metrics"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show LLM usage and server timings",
	Long: `Show the persistent LLM request counters and the server's in-memory
latency statistics.

Examples:
  tagger usage`,
	Args: cobra.NoArgs,
	RunE: runUsage,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available to the server",
	Long: `List the models installed on the server's Ollama host and show the
configured default. Pick one per job with 'tagger tag --model'.`,
	Args: cobra.NoArgs,
	RunE: runModels,
}

func runUsage(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	status, err := apiClient.LLMStatus(ctx)
	if err != nil {
		return fmt.Errorf("get llm status: %w", err)
	}
	fmt.Printf("LLM Usage (all time)\n")
	fmt.Printf("═══════════════════════════════════════\n")
	fmt.Printf("Requests:   %d\n", status.Requests)
	fmt.Printf("Total time: %.1fs\n", status.TotalTime)
	fmt.Printf("Avg speed:  %.2fs per request\n", status.AvgSpeed)
	fmt.Println()

	stats, err := apiClient.Timings(ctx)
	if err != nil {
		return fmt.Errorf("get server timings: %w", err)
	}
	printServerStats(stats)
	return nil
}

func runModels(cmd *cobra.Command, args []string) error {
	status, err := apiClient.LLMStatus(context.Background())
	if err != nil {
		return fmt.Errorf("get llm status: %w", err)
	}

	fmt.Printf("Default model: %s\n", status.Model)
	if status.ModelsError != "" {
		fmt.Printf("Model listing unavailable: %s\n", status.ModelsError)
		return nil
	}
	if len(status.Models) == 0 {
		fmt.Println("No models installed")
		return nil
	}
	fmt.Println("\nAvailable models:")
	for _, name := range status.Models {
		marker := " "
		if name == status.Model {
			marker = "*"
		}
		fmt.Printf("  %s %s\n", marker, name)
	}
	return nil
}

// printServerStats displays server runtime statistics.
func printServerStats(stats *metrics.Snapshot) {
	fmt.Printf("Server Statistics (in-memory, since restart)\n")
	fmt.Printf("═══════════════════════════════════════════════\n")
	fmt.Printf("Uptime: %.1f seconds\n", stats.UptimeSeconds)

	if stats.LLMInfer != nil {
		fmt.Printf("\nLLM Inference:\n")
		printOpStats(stats.LLMInfer)
		printTokenStats(stats.LLMInfer)
	}

	if stats.LLMFailed != nil {
		fmt.Printf("\nLLM Failures:\n")
		printOpStats(stats.LLMFailed)
	}

	if stats.Checkpoint != nil {
		fmt.Printf("\nCheckpoints:\n")
		printOpStats(stats.Checkpoint)
	}

	if stats.StoreQuery != nil {
		fmt.Printf("\nStore Queries:\n")
		printOpStats(stats.StoreQuery)
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(op *metrics.OperationSnapshot) {
	fmt.Printf("  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func printTokenStats(op *metrics.OperationSnapshot) {
	if op.TotalInputTokens == nil || op.TotalOutputTokens == nil {
		return
	}
	fmt.Printf("  Tokens In:  %d total", *op.TotalInputTokens)
	if op.AvgInputTokens != nil {
		fmt.Printf(", avg %.0f", *op.AvgInputTokens)
	}
	fmt.Println()

	fmt.Printf("  Tokens Out: %d total", *op.TotalOutputTokens)
	if op.AvgOutputTokens != nil {
		fmt.Printf(", avg %.0f", *op.AvgOutputTokens)
	}
	fmt.Println()
}

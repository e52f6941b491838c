// Package cli provides the command-line interface for the tagger.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ictashik/OpenDataTagger/internal/client"
	"github.com/ictashik/OpenDataTagger/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	configFile string
	serverURL  string
	verbose    bool

	// Loaded in PersistentPreRunE
	cfg       config.Config
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tagger",
	Short: "Annotate CSV datasets with a language model",
	Long: `Tagger fills new CSV columns row by row by asking a language model one
question per output column. Prompts are templates over the row's values.

Start the server with 'tagger serve', then submit datasets with 'tagger tag'.
Progress is checkpointed to disk every few rows, so partial results survive
a crash.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.LoadFile(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}
		apiClient = client.New(cfg.ServerURL)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default from TAGGER_SERVER_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(usageCmd)
}

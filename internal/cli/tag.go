package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ictashik/OpenDataTagger/internal/client"
	"github.com/ictashik/OpenDataTagger/internal/models"
)

var (
	tagDefs     string
	tagInputs   []string
	tagOutputs  []string
	tagModel    string
	tagDetach   bool
	tagDownload string
)

var tagCmd = &cobra.Command{
	Use:   "tag <dataset.csv>",
	Short: "Upload a dataset and start tagging it",
	Long: `Upload a CSV dataset, define the output columns and start a tagging job.

Output columns come from a definitions file (header OutputColumn,PromptTemplate)
or from repeated --output flags of the form "Column=template". Templates
reference input columns as {Column}.

Examples:
  tagger tag foods.csv --defs foods_config.csv
  tagger tag foods.csv --input Food --output "Vegetarian=Is {Food} vegetarian?"
  tagger tag foods.csv --defs defs.csv --model mistral --download out/
  tagger tag foods.csv --defs defs.csv --detach`,
	Args: cobra.ExactArgs(1),
	RunE: runTag,
}

func init() {
	tagCmd.Flags().StringVar(&tagDefs, "defs", "", "output definitions CSV file")
	tagCmd.Flags().StringSliceVarP(&tagInputs, "input", "i", nil, "input columns available to templates (default: all columns)")
	tagCmd.Flags().StringArrayVarP(&tagOutputs, "output", "o", nil, `output definition "Column=template" (repeatable)`)
	tagCmd.Flags().StringVarP(&tagModel, "model", "m", "", "model to use (default: server's configured model)")
	tagCmd.Flags().BoolVarP(&tagDetach, "detach", "d", false, "return after starting the job")
	tagCmd.Flags().StringVar(&tagDownload, "download", "", "directory to download results into when the job finishes")
}

func runTag(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	up, err := apiClient.Upload(ctx, args[0], tagDefs)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	fmt.Printf("Uploaded %s (%d columns)\n", up.Dataset, len(up.Columns))

	defs := up.Definitions
	if len(tagOutputs) > 0 {
		defs, err = parseOutputs(tagOutputs)
		if err != nil {
			return err
		}
	}
	if len(defs) == 0 {
		fmt.Println("Warning: no output columns defined; the job will only copy the dataset")
	}

	inputs := tagInputs
	if len(inputs) == 0 {
		inputs = up.Columns
	}
	if _, err := apiClient.DefineColumns(ctx, inputs, defs); err != nil {
		return fmt.Errorf("define columns: %w", err)
	}

	if tagModel != "" {
		if err := apiClient.SelectModel(ctx, tagModel); err != nil {
			return fmt.Errorf("select model: %w", err)
		}
	}

	id, err := apiClient.StartTagging(ctx)
	if err != nil {
		return fmt.Errorf("start tagging: %w", err)
	}
	fmt.Printf("Started job %s\n", id)

	if tagDetach {
		fmt.Printf("Use 'tagger watch %s' to follow progress.\n", id)
		return nil
	}

	if err := RunWatch(ctx, apiClient, id); err != nil {
		return err
	}

	if tagDownload != "" {
		return downloadResults(ctx, apiClient, tagDownload)
	}
	return nil
}

// parseOutputs turns "Column=template" flags into output definitions.
func parseOutputs(specs []string) ([]models.OutputDefinition, error) {
	defs := make([]models.OutputDefinition, 0, len(specs))
	for _, spec := range specs {
		col, tmpl, ok := strings.Cut(spec, "=")
		col, tmpl = strings.TrimSpace(col), strings.TrimSpace(tmpl)
		if !ok || col == "" || tmpl == "" {
			return nil, fmt.Errorf("invalid output %q: want Column=template", spec)
		}
		defs = append(defs, models.OutputDefinition{OutputColumn: col, PromptTemplate: tmpl})
	}
	return defs, nil
}

// downloadResults saves the session's tagged and logs files into dir.
func downloadResults(ctx context.Context, c *client.Client, dir string) error {
	res, err := c.Results(ctx)
	if err != nil {
		return fmt.Errorf("resolve results: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	for kind, name := range map[string]string{"tagged": res.TaggedFile, "logs": res.LogsFile} {
		dst := filepath.Join(dir, filepath.Base(name))
		f, err := os.Create(dst)
		if err != nil {
			return fmt.Errorf("create %s: %w", dst, err)
		}
		err = c.Download(ctx, kind, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if kind == "logs" && client.IsNotFound(err) {
			_ = os.Remove(dst)
			fmt.Println("No logs written")
			continue
		}
		if err != nil {
			return fmt.Errorf("download %s: %w", kind, err)
		}
		fmt.Printf("Saved %s\n", dst)
	}
	return nil
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/ollama/ollama/api"

	"github.com/ictashik/OpenDataTagger/internal/config"
)

// ErrListingUnsupported is returned by ListModels for providers without a model catalog.
var ErrListingUnsupported = errors.New("model listing not supported for provider")

// ListModels returns the model names installed on the configured Ollama host, sorted.
func ListModels(ctx context.Context, cfg config.Config, httpClient *http.Client) ([]string, error) {
	if cfg.LLMProvider != config.ProviderOllama {
		return nil, fmt.Errorf("%w: %s", ErrListingUnsupported, cfg.LLMProvider)
	}
	base, err := url.Parse(cfg.OllamaHost)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := api.NewClient(base, httpClient).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ollama models: %w", err)
	}

	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names, nil
}

package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/ictashik/OpenDataTagger/internal/config"
	"github.com/ictashik/OpenDataTagger/internal/kv"
	"github.com/ictashik/OpenDataTagger/internal/llm/llmtest"
	"github.com/ictashik/OpenDataTagger/internal/metrics"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name        string
		reply       string
		best        string
		explanation string
	}{
		{"both markers", "Best Answer: yes\nExplanation: because", "yes", "because"},
		{"no markers", "yes it is", "yes it is", NoExplanation},
		{"padded", "  Best Answer:   no  \n\nExplanation:  it has meat \n", "no", "it has meat"},
		{"split at first explanation", "Best Answer: a\nExplanation: b Explanation: c", "a", "b Explanation: c"},
		{"missing best answer marker", "maybe\nExplanation: unsure", "maybe\nExplanation: unsure", NoExplanation},
		{"missing explanation marker", "Best Answer: yes", "Best Answer: yes", NoExplanation},
		{"empty", "", "", NoExplanation},
		{"markers reversed", "Explanation: because\nBest Answer: yes", "", "because\nBest Answer: yes"},
		{"repeated best answer marker", "Best Answer: Best Answer: yes\nExplanation: why", "yes", "why"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			best, explanation := ParseResponse(tt.reply)
			assert.Equal(t, tt.best, best)
			assert.Equal(t, tt.explanation, explanation)
		})
	}
}

func TestInferOk(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	collector := metrics.NewCollector()
	fake := llmtest.Constant("Best Answer: TAG\nExplanation: because")
	client := NewClient(NewModelFrom(fake, "fake"), store, WithCollector(collector))

	result := client.Infer(ctx, "system", "Is rice ok?")

	require.IsType(t, Ok{}, result)
	best, explanation := result.Answer()
	assert.Equal(t, "TAG", best)
	assert.Equal(t, "because", explanation)
	assert.Equal(t, []string{"Is rice ok?"}, fake.Calls())

	usage, err := client.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.Requests)
	assert.GreaterOrEqual(t, usage.TotalTime, 0.0)

	snap := collector.Snapshot()
	require.NotNil(t, snap.LLMInfer)
	assert.Equal(t, int64(1), snap.LLMInfer.Count)
}

func TestInferFailed(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	collector := metrics.NewCollector()
	fake := llmtest.New(func(string, string) (string, error) {
		return "", errors.New("HTTP 401: invalid api key")
	})
	client := NewClient(NewModelFrom(fake, "fake"), store, WithCollector(collector))

	result := client.Infer(ctx, "system", "user")

	failed, ok := result.(Failed)
	require.True(t, ok)
	assert.True(t, failed.Fatal)
	best, explanation := result.Answer()
	assert.Equal(t, ErrorAnswer, best)
	assert.Equal(t, ErrorExplanation, explanation)

	usage, err := client.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.Requests, "failures count as requests")
	assert.NotNil(t, collector.Snapshot().LLMFailed)
}

func TestInferTimeout(t *testing.T) {
	slow := &slowModel{Fake: llmtest.Constant("late")}
	client := NewClient(NewModelFrom(slow, "slow"), kv.NewMemory(), WithTimeout(10*time.Millisecond))

	result := client.Infer(context.Background(), "s", "u")

	failed, ok := result.(Failed)
	require.True(t, ok)
	assert.Contains(t, failed.Reason, "deadline")
	assert.False(t, failed.Fatal)
}

func TestInferRecoversPanic(t *testing.T) {
	fake := llmtest.New(func(string, string) (string, error) { panic("boom") })
	client := NewClient(NewModelFrom(fake, "fake"), kv.NewMemory())

	var result Result
	require.NotPanics(t, func() { result = client.Infer(context.Background(), "s", "u") })
	assert.IsType(t, Failed{}, result)
}

func TestUsageAverage(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	client := NewClient(NewModelFrom(llmtest.Constant(""), "fake"), store)

	usage, err := client.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, Usage{}, usage)

	_, _ = store.Add(ctx, UsageRequestsKey, 4)
	_, _ = store.Add(ctx, UsageTotalTimeKey, 10)

	usage, err = client.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, Usage{Requests: 4, TotalTime: 10, AvgSpeed: 2.5}, usage)
}

func TestWithModelOnWrappedModel(t *testing.T) {
	client := NewClient(NewModelFrom(llmtest.Constant(""), "fake"), kv.NewMemory())

	same, err := client.WithModel(context.Background(), "other")
	require.NoError(t, err)
	assert.Same(t, client, same)
}

func TestWithModelRebindsOllama(t *testing.T) {
	cfg := config.Default()
	cfg.LLMModel = "llama3.2"
	model, err := NewModel(context.Background(), cfg)
	require.NoError(t, err)
	client := NewClient(model, kv.NewMemory())

	other, err := client.WithModel(context.Background(), "mistral")
	require.NoError(t, err)
	assert.Equal(t, "mistral", other.Model())
	assert.Equal(t, "llama3.2", client.Model())
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"mistral:latest"},{"name":"llama3.2:latest"}]}`))
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.OllamaHost = srv.URL

	names, err := ListModels(context.Background(), cfg, srv.Client())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.2:latest", "mistral:latest"}, names)
}

func TestListModelsUnsupported(t *testing.T) {
	cfg := config.Default()
	cfg.LLMProvider = config.ProviderOpenAI

	_, err := ListModels(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, ErrListingUnsupported)
}

// slowModel answers after a second unless the context ends first.
type slowModel struct {
	*llmtest.Fake
}

func (s *slowModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Second):
		return s.Fake.GenerateContent(ctx, messages, opts...)
	}
}

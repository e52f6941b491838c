package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()

	c.RecordLLMUsage(OpLLMInfer, 100*time.Millisecond, 10, 5)
	c.RecordLLMUsage(OpLLMInfer, 300*time.Millisecond, 30, 15)
	c.RecordTiming(OpCheckpoint, 20*time.Millisecond)

	snap := c.Snapshot()

	require.NotNil(t, snap.LLMInfer)
	assert.Equal(t, int64(2), snap.LLMInfer.Count)
	assert.Equal(t, int64(400), snap.LLMInfer.TotalTimeMs)
	assert.Equal(t, 200.0, snap.LLMInfer.AvgTimeMs)
	assert.Equal(t, int64(100), snap.LLMInfer.MinTimeMs)
	assert.Equal(t, int64(300), snap.LLMInfer.MaxTimeMs)
	require.NotNil(t, snap.LLMInfer.TotalInputTokens)
	assert.Equal(t, int64(40), *snap.LLMInfer.TotalInputTokens)
	assert.Equal(t, int64(10), *snap.LLMInfer.MinInputTokens)

	require.NotNil(t, snap.Checkpoint)
	assert.Nil(t, snap.Checkpoint.TotalInputTokens)
	assert.Nil(t, snap.LLMFailed)
	assert.Nil(t, snap.StoreQuery)
}

func TestCollectorNoTokens(t *testing.T) {
	c := NewCollector()
	c.RecordLLMUsage(OpLLMInfer, time.Millisecond, 0, 0)

	snap := c.Snapshot()
	require.NotNil(t, snap.LLMInfer)
	assert.Nil(t, snap.LLMInfer.TotalInputTokens)
}

func TestRecorderExportsPrometheus(t *testing.T) {
	ctx := context.Background()
	handler, shutdown, err := InitMetrics()
	require.NoError(t, err)
	defer func() { _ = shutdown(ctx) }()

	rec, err := NewRecorder()
	require.NoError(t, err)
	rec.LLMRequest(ctx, OutcomeOK, 250*time.Millisecond)
	rec.LLMRequest(ctx, OutcomeFailed, time.Second)
	rec.Checkpoint(ctx, OutcomeOK)
	rec.RowProcessed(ctx)
	require.NoError(t, RegisterJobGauge(func() map[string]int64 {
		return map[string]int64{"running": 2}
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "tagger_llm_requests_total")
	assert.Contains(t, body, `outcome="failed"`)
	assert.Contains(t, body, "tagger_llm_latency_seconds")
	assert.Contains(t, body, "tagger_checkpoints_total")
	assert.Contains(t, body, "tagger_rows_processed_total")
	assert.Contains(t, body, `state="running"`)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *Recorder
	assert.NotPanics(t, func() {
		rec.LLMRequest(context.Background(), OutcomeOK, time.Second)
		rec.Checkpoint(context.Background(), OutcomeFailed)
		rec.RowProcessed(context.Background())
	})
}

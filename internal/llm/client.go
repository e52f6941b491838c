package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ictashik/OpenDataTagger/internal/kv"
	"github.com/ictashik/OpenDataTagger/internal/metrics"
	"github.com/ictashik/OpenDataTagger/internal/prompt"
)

// Cell values written when inference fails or the reply lacks an explanation.
const (
	ErrorAnswer      = "ERROR"
	ErrorExplanation = "LLM call failed."
	NoExplanation    = "No explanation provided."
)

// Usage counter keys in the shared store.
const (
	UsageRequestsKey  = "llm:requests"
	UsageTotalTimeKey = "llm:total_time"
)

// Result is the outcome of one inference call: Ok or Failed.
type Result interface {
	// Answer returns the pair written to the dataset cell and the logs.
	Answer() (best, explanation string)
	isResult()
}

// Ok is a reply that reached the model and came back.
type Ok struct {
	BestAnswer  string
	Explanation string
}

func (r Ok) Answer() (string, string) { return r.BestAnswer, r.Explanation }
func (Ok) isResult()                  {}

// Failed is a call that errored or timed out. Fatal marks provider errors
// (auth, quota) that will fail again on the next call.
type Failed struct {
	Reason string
	Fatal  bool
}

func (Failed) Answer() (string, string) { return ErrorAnswer, ErrorExplanation }
func (Failed) isResult()                {}

// Usage is the process-wide inference usage, shared across jobs.
type Usage struct {
	Requests  int64   `json:"requests"`
	TotalTime float64 `json:"total_time"`
	AvgSpeed  float64 `json:"avg_speed"`
}

// Client performs inference calls and keeps usage counters.
type Client struct {
	model     *Model
	store     kv.Store
	collector *metrics.Collector
	recorder  *metrics.Recorder
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCollector records call timings in an in-process collector.
func WithCollector(c *metrics.Collector) Option {
	return func(cl *Client) { cl.collector = c }
}

// WithRecorder exports call counts and latency as OpenTelemetry metrics.
func WithRecorder(r *metrics.Recorder) Option {
	return func(cl *Client) { cl.recorder = r }
}

// WithTimeout bounds each call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// NewClient creates an inference client. store receives the usage counters.
func NewClient(model *Model, store kv.Store, opts ...Option) *Client {
	c := &Client{model: model, store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithModel returns a client sharing counters and metrics but bound to another model.
func (c *Client) WithModel(ctx context.Context, name string) (*Client, error) {
	model, err := c.model.WithName(ctx, name)
	if err != nil {
		return nil, err
	}
	if model == c.model {
		return c, nil
	}
	clone := *c
	clone.model = model
	return &clone, nil
}

// Model returns the model name calls are sent to.
func (c *Client) Model() string {
	return c.model.Model()
}

// Infer sends one prompt pair to the model. It never returns an error:
// every failure becomes a Failed result so one bad cell cannot stop a job.
func (c *Client) Infer(ctx context.Context, systemPrompt, userPrompt string) (result Result) {
	start := time.Now()
	var completion Completion
	var callErr error

	defer func() {
		if r := recover(); r != nil {
			callErr = fmt.Errorf("panic in model call: %v", r)
			result = Failed{Reason: callErr.Error()}
		}
		c.record(ctx, time.Since(start), completion, callErr)
	}()

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	completion, callErr = c.model.GenerateWithSystem(callCtx, systemPrompt, userPrompt)
	if callErr != nil {
		fatal := errors.Is(callErr, ErrFatalAPI)
		level := slog.LevelWarn
		if fatal {
			level = slog.LevelError
		}
		c.logger.Log(ctx, level, "inference failed", "model", c.model.Model(), "error", callErr)
		return Failed{Reason: callErr.Error(), Fatal: fatal}
	}

	best, explanation := ParseResponse(completion.Text)
	return Ok{BestAnswer: best, Explanation: explanation}
}

func (c *Client) record(ctx context.Context, latency time.Duration, completion Completion, callErr error) {
	outcome := metrics.OutcomeOK
	if callErr != nil {
		outcome = metrics.OutcomeFailed
	}
	c.recorder.LLMRequest(ctx, outcome, latency)

	if c.collector != nil {
		if callErr != nil {
			c.collector.RecordTiming(metrics.OpLLMFailed, latency)
		} else {
			c.collector.RecordLLMUsage(metrics.OpLLMInfer, latency, completion.InputTokens, completion.OutputTokens)
		}
	}

	// Counters survive a cancelled job context.
	storeCtx := context.WithoutCancel(ctx)
	if _, err := c.store.Add(storeCtx, UsageRequestsKey, 1); err != nil {
		c.logger.Warn("failed to update usage counter", "key", UsageRequestsKey, "error", err)
	}
	if _, err := c.store.Add(storeCtx, UsageTotalTimeKey, latency.Seconds()); err != nil {
		c.logger.Warn("failed to update usage counter", "key", UsageTotalTimeKey, "error", err)
	}
}

// Usage reads the shared usage counters.
func (c *Client) Usage(ctx context.Context) (Usage, error) {
	requests, err := kv.Number(ctx, c.store, UsageRequestsKey)
	if err != nil {
		return Usage{}, fmt.Errorf("read request count: %w", err)
	}
	total, err := kv.Number(ctx, c.store, UsageTotalTimeKey)
	if err != nil {
		return Usage{}, fmt.Errorf("read total time: %w", err)
	}

	u := Usage{Requests: int64(requests), TotalTime: total}
	if requests > 0 {
		u.AvgSpeed = total / requests
	}
	return u, nil
}

// ParseResponse splits a reply at the first "Explanation:" marker and strips
// every "Best Answer:" marker from the part before it. Replies missing either
// marker are returned whole with NoExplanation.
func ParseResponse(text string) (best, explanation string) {
	idx := strings.Index(text, prompt.ExplanationMarker)
	if idx < 0 || !strings.Contains(text, prompt.BestAnswerMarker) {
		return strings.TrimSpace(text), NoExplanation
	}

	before := strings.ReplaceAll(text[:idx], prompt.BestAnswerMarker, "")
	return strings.TrimSpace(before), strings.TrimSpace(text[idx+len(prompt.ExplanationMarker):])
}

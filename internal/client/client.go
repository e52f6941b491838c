// Package client provides an HTTP client for the tagger server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ictashik/OpenDataTagger/internal/metrics"
	"github.com/ictashik/OpenDataTagger/internal/models"
	"github.com/ictashik/OpenDataTagger/internal/service"
)

// Client talks to the tagger server. It keeps the session cookie, so one
// Client walks through a single upload, define and tag flow.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a new client.
// If endpoint is empty, uses TAGGER_SERVER_URL env var or defaults to localhost:8080.
// Timeout can be configured via TAGGER_CLIENT_TIMEOUT env var (default 2m).
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("TAGGER_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8080"
	}

	timeout := 2 * time.Minute
	if t := os.Getenv("TAGGER_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	// cookiejar.New only fails on a bad public suffix list, and we pass none.
	jar, _ := cookiejar.New(nil)
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// =============================================================================
// TYPES
// =============================================================================

// UploadResult describes a stored dataset.
type UploadResult struct {
	Dataset     string                    `json:"dataset"`
	Columns     []string                  `json:"columns"`
	Definitions []models.OutputDefinition `json:"definitions"`
}

// Columns is the dataset header and the session's column setup.
type Columns struct {
	Columns      []string                  `json:"columns"`
	InputColumns []string                  `json:"input_columns"`
	Definitions  []models.OutputDefinition `json:"definitions"`
}

// Results locates the output files of the session's job.
type Results struct {
	JobID      string `json:"job_id"`
	TaggedFile string `json:"tagged_file"`
	LogsFile   string `json:"logs_file"`
	Rows       int    `json:"rows"`
}

// LLMStatus reports the selected model, available models and usage counters.
type LLMStatus struct {
	Model       string   `json:"model"`
	Models      []string `json:"models"`
	ModelsError string   `json:"models_error,omitempty"`
	Requests    int64    `json:"requests"`
	TotalTime   float64  `json:"total_time"`
	AvgSpeed    float64  `json:"avg_speed"`
}

// Job is one entry of the job listing.
type Job struct {
	ID         string     `json:"id"`
	Dataset    string     `json:"dataset"`
	Model      string     `json:"model,omitempty"`
	Status     string     `json:"status"`
	State      string     `json:"state"`
	Done       int        `json:"done"`
	Total      int        `json:"total"`
	StartedAt  time.Time  `json:"started_at"`
	LastUpdate time.Time  `json:"last_update"`
	LastSave   *time.Time `json:"last_save,omitempty"`
}

// CleanupOptions mirrors the cleanup request. A nil MinAgeHours uses the server default.
type CleanupOptions struct {
	MinAgeHours *float64 `json:"min_age_hours,omitempty"`
	DryRun      bool     `json:"dry_run"`
	Force       bool     `json:"force"`
}

// =============================================================================
// REQUESTS
// =============================================================================

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, "", nil, result)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, result any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	return c.do(ctx, http.MethodPost, path, "application/json", body, result)
}

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/health", nil)
}

// Upload sends a dataset and, when configPath is not empty, a definitions file.
func (c *Client) Upload(ctx context.Context, datasetPath, configPath string) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := addFile(mw, "dataset", datasetPath); err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := addFile(mw, "config", configPath); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	var result UploadResult
	if err := c.do(ctx, http.MethodPost, "/upload", mw.FormDataContentType(), &buf, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func addFile(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", field, err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy %s: %w", field, err)
	}
	return nil
}

// Columns returns the uploaded dataset's columns and current definitions.
func (c *Client) Columns(ctx context.Context) (*Columns, error) {
	var result Columns
	if err := c.getJSON(ctx, "/columns", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DefineColumns selects the input columns and saves the output definitions.
func (c *Client) DefineColumns(ctx context.Context, inputs []string, defs []models.OutputDefinition) (*Columns, error) {
	payload := struct {
		InputColumns    []string `json:"input_columns"`
		OutputColumns   []string `json:"output_columns"`
		PromptTemplates []string `json:"prompt_templates"`
	}{InputColumns: inputs}
	for _, d := range defs {
		payload.OutputColumns = append(payload.OutputColumns, d.OutputColumn)
		payload.PromptTemplates = append(payload.PromptTemplates, d.PromptTemplate)
	}

	var result Columns
	if err := c.postJSON(ctx, "/columns", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StartTagging starts a job for the session and returns its id.
func (c *Client) StartTagging(ctx context.Context) (string, error) {
	var result struct {
		JobID string `json:"job_id"`
	}
	if err := c.postJSON(ctx, "/tagging", nil, &result); err != nil {
		return "", err
	}
	return result.JobID, nil
}

// Progress polls the session's current job.
func (c *Client) Progress(ctx context.Context) (*service.ProgressSnapshot, error) {
	var result service.ProgressSnapshot
	if err := c.getJSON(ctx, "/tagging/progress", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Results resolves the output files of the session's job.
func (c *Client) Results(ctx context.Context) (*Results, error) {
	var result Results
	if err := c.getJSON(ctx, "/results", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Download writes the "tagged" or "logs" file of the session's job to w.
func (c *Client) Download(ctx context.Context, kind string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/results/"+url.PathEscape(kind), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download %s: %w", kind, err)
	}
	return nil
}

// LLMStatus reports models and usage.
func (c *Client) LLMStatus(ctx context.Context) (*LLMStatus, error) {
	var result LLMStatus
	if err := c.getJSON(ctx, "/llm/status", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SelectModel picks the model the session's next job uses.
func (c *Client) SelectModel(ctx context.Context, name string) error {
	return c.postJSON(ctx, "/llm/model", map[string]string{"selected_model": name}, nil)
}

// Timings returns the server's in-process latency statistics.
func (c *Client) Timings(ctx context.Context) (*metrics.Snapshot, error) {
	var result metrics.Snapshot
	if err := c.getJSON(ctx, "/admin/timings", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListJobs returns all jobs known to the server, most recent first.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var result []Job
	if err := c.getJSON(ctx, "/jobs", &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetJob returns one job's progress.
func (c *Client) GetJob(ctx context.Context, id string) (*service.ProgressSnapshot, error) {
	var result service.ProgressSnapshot
	if err := c.getJSON(ctx, "/jobs/"+url.PathEscape(id), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelJob asks a job to stop before its next row.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	return c.postJSON(ctx, "/jobs/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// Cleanup removes old job records on the server.
func (c *Client) Cleanup(ctx context.Context, opts CleanupOptions) (*service.CleanupReport, error) {
	var result service.CleanupReport
	if err := c.postJSON(ctx, "/admin/cleanup", opts, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// =============================================================================
// STREAMING
// =============================================================================

// Watch streams a job's progress until it ends. onSnapshot is invoked for
// each update; return an error from it to stop watching.
func (c *Client) Watch(ctx context.Context, id string, onSnapshot func(service.ProgressSnapshot) error) error {
	wsEndpoint := c.endpoint
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsEndpoint+"/jobs/"+url.PathEscape(id)+"/stream", nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return &APIError{StatusCode: resp.StatusCode, Message: "job not found"}
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var snap service.ProgressSnapshot
		if err := conn.ReadJSON(&snap); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseGoingAway) {
				return &APIError{StatusCode: http.StatusNotFound, Message: "job removed"}
			}
			return fmt.Errorf("read message: %w", err)
		}
		if err := onSnapshot(snap); err != nil {
			return err
		}
	}
}

package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/ictashik/OpenDataTagger/internal/kv"
	"github.com/ictashik/OpenDataTagger/internal/metrics"
)

var _ kv.Store = (*Client)(nil)

type kvRecord struct {
	Value     *string    `json:"value,omitempty"`
	Number    *float64   `json:"number,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (r kvRecord) expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// SetCollector records the latency of every key-value operation.
func (c *Client) SetCollector(col *metrics.Collector) {
	c.collector = col
}

func (c *Client) observe(start time.Time) {
	if c.collector != nil {
		c.collector.RecordTiming(metrics.OpStoreQuery, time.Since(start))
	}
}

// Get decodes the value at key into dst, ignoring expired records.
func (c *Client) Get(ctx context.Context, key string, dst any) (bool, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]kvRecord](ctx, c.db,
		`SELECT value, number, expires_at FROM type::record("kv", $key)`,
		map[string]any{"key": key})
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return false, nil
	}

	rec := (*results)[0].Result[0]
	if rec.expired(time.Now()) {
		return false, nil
	}

	var data []byte
	switch {
	case rec.Value != nil:
		data = []byte(*rec.Value)
	case rec.Number != nil:
		data, _ = json.Marshal(*rec.Number)
	default:
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores value at key as JSON. A zero ttl clears any expiry.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	defer c.observe(time.Now())

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	vars := map[string]any{"key": key, "value": string(data)}
	sql := `UPSERT type::record("kv", $key) SET value = $value, number = NONE, expires_at = NONE`
	if ttl > 0 {
		sql = `UPSERT type::record("kv", $key) SET value = $value, number = NONE, expires_at = $expires_at`
		vars["expires_at"] = time.Now().Add(ttl).UTC()
	}

	if _, err := surrealdb.Query[any](ctx, c.db, sql, vars); err != nil {
		return fmt.Errorf("set %s: %w", key, wrapQueryError(err))
	}
	return nil
}

// Add increments the counter at key in a single statement.
// Expired counters restart from zero.
func (c *Client) Add(ctx context.Context, key string, delta float64) (float64, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]kvRecord](ctx, c.db, `
		UPSERT type::record("kv", $key) SET
			number = (IF expires_at != NONE AND expires_at <= time::now() THEN 0 ELSE number ?? 0 END) + $delta,
			value = NONE,
			expires_at = NONE
		RETURN number`,
		map[string]any{"key": key, "delta": delta})
	if err != nil {
		return 0, fmt.Errorf("add %s: %w", key, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, fmt.Errorf("add %s: empty result", key)
	}
	rec := (*results)[0].Result[0]
	if rec.Number == nil {
		return 0, fmt.Errorf("add %s: no number returned", key)
	}
	return *rec.Number, nil
}

// Delete removes key.
func (c *Client) Delete(ctx context.Context, key string) error {
	defer c.observe(time.Now())
	_, err := surrealdb.Query[any](ctx, c.db,
		`DELETE type::record("kv", $key)`, map[string]any{"key": key})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, wrapQueryError(err))
	}
	return nil
}

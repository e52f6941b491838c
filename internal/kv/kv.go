// Package kv defines the small expiring key-value store that backs the
// file path registry, usage counters and client sessions.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by MustGet when a key is absent or expired.
var ErrNotFound = errors.New("key not found")

// Store persists JSON-encodable values with an optional per-key TTL.
// All operations are atomic per key.
type Store interface {
	// Get decodes the value stored at key into dst.
	// It reports false when the key is absent or expired.
	Get(ctx context.Context, key string, dst any) (bool, error)
	// Set stores value at key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Add atomically increments the numeric value at key, creating it at zero.
	Add(ctx context.Context, key string, delta float64) (float64, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// MustGet is Get that turns a missing key into ErrNotFound.
func MustGet(ctx context.Context, s Store, key string, dst any) error {
	ok, err := s.Get(ctx, key, dst)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Number reads a counter written by Add. Missing counters read as zero.
func Number(ctx context.Context, s Store, key string) (float64, error) {
	return s.Add(ctx, key, 0)
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ictashik/OpenDataTagger/internal/kv"
	"github.com/ictashik/OpenDataTagger/internal/models"
)

// DefaultFilesTTL is how long output file locations stay resolvable.
const DefaultFilesTTL = 24 * time.Hour

// FileRegistry maps job ids to output file paths in the shared store.
// Entries outlive the in-memory job record and expire on their own.
type FileRegistry struct {
	store kv.Store
	ttl   time.Duration
}

// NewFileRegistry creates a registry. A non-positive ttl uses DefaultFilesTTL.
func NewFileRegistry(store kv.Store, ttl time.Duration) *FileRegistry {
	if ttl <= 0 {
		ttl = DefaultFilesTTL
	}
	return &FileRegistry{store: store, ttl: ttl}
}

func filesKey(jobID string) string {
	return "files:" + jobID
}

// Register writes or refreshes the entry for jobID, restarting its TTL.
func (r *FileRegistry) Register(ctx context.Context, jobID string, paths models.FilePaths) error {
	if err := r.store.Set(ctx, filesKey(jobID), paths, r.ttl); err != nil {
		return fmt.Errorf("register files for %s: %w", jobID, err)
	}
	return nil
}

// Lookup returns the entry for jobID, reporting false when absent or expired.
func (r *FileRegistry) Lookup(ctx context.Context, jobID string) (models.FilePaths, bool, error) {
	var paths models.FilePaths
	ok, err := r.store.Get(ctx, filesKey(jobID), &paths)
	if err != nil {
		return models.FilePaths{}, false, fmt.Errorf("lookup files for %s: %w", jobID, err)
	}
	return paths, ok, nil
}

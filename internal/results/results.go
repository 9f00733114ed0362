// Package results caches result-folder listings in redis so the API can
// answer download queries without opening a shell to the cluster. The
// worker writes the listing once when a job ends.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no listing has been recorded for a job.
var ErrNotFound = errors.New("results: listing not found")

// Store reads and writes result listings.
type Store struct {
	rdb *redis.Client
}

// NewStore wraps a redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func listingKey(jobID uuid.UUID) string {
	return "job_result_folder_content:" + jobID.String()
}

// Put records the relative file paths found in a job's result folder.
func (s *Store) Put(ctx context.Context, jobID uuid.UUID, files []string) error {
	raw, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("results: marshal listing: %w", err)
	}
	if err := s.rdb.Set(ctx, listingKey(jobID), raw, 0).Err(); err != nil {
		return fmt.Errorf("results: store listing: %w", err)
	}
	return nil
}

// Get returns the recorded listing for a job.
func (s *Store) Get(ctx context.Context, jobID uuid.UUID) ([]string, error) {
	raw, err := s.rdb.Get(ctx, listingKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("results: fetch listing: %w", err)
	}

	var files []string
	if err := json.Unmarshal(raw, &files); err != nil {
		return nil, fmt.Errorf("results: decode listing: %w", err)
	}
	return files, nil
}

// Package secrets keeps user SSH credentials out of the relational store.
// Credentials live in redis, keyed by an opaque id that jobs reference; the
// relational database only ever sees the id.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no credential exists for an id.
var ErrNotFound = errors.New("secrets: credential not found")

// Credential is one stored SSH login.
type Credential struct {
	ID       string `json:"id"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// Store reads and writes credentials in redis.
type Store struct {
	rdb *redis.Client
}

// NewStore wraps a redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func credentialKey(id string) string {
	return "credential:" + id
}

// Put stores a credential under a fresh id and returns the id.
func (s *Store) Put(ctx context.Context, user, password string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("secrets: new id: %w", err)
	}

	cred := Credential{ID: id.String(), User: user, Password: password}
	raw, err := json.Marshal(cred)
	if err != nil {
		return "", fmt.Errorf("secrets: marshal: %w", err)
	}

	if err := s.rdb.Set(ctx, credentialKey(cred.ID), raw, 0).Err(); err != nil {
		return "", fmt.Errorf("secrets: store: %w", err)
	}
	return cred.ID, nil
}

// Get retrieves a credential by id.
func (s *Store) Get(ctx context.Context, id string) (*Credential, error) {
	raw, err := s.rdb.Get(ctx, credentialKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: fetch: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, fmt.Errorf("secrets: unmarshal: %w", err)
	}
	return &cred, nil
}

// Delete removes a credential. Missing ids are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, credentialKey(id)).Err(); err != nil {
		return fmt.Errorf("secrets: delete: %w", err)
	}
	return nil
}

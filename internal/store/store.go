// Package store provides the semantic memory storage interface and its
// SQLite implementation.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rcliao/mail-sentinel/internal/model"
)

// ErrNotFound is returned when no entry exists for the requested ID.
var ErrNotFound = errors.New("memory not found")

// EmbeddingError reports that the upstream embedding computation failed.
// It is retryable by the caller.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return fmt.Sprintf("compute embedding: %v", e.Err) }
func (e *EmbeddingError) Unwrap() error { return e.Err }

// PersistenceError reports that the underlying store write or read failed.
// It is retryable by the caller.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// PutParams holds parameters for storing a memory entry.
type PutParams struct {
	Content    string
	Kind       model.Kind
	Importance float64
	Metadata   map[string]string
}

// SearchParams holds parameters for similarity search. The filter fields are
// applied before ranking.
type SearchParams struct {
	Query    string
	K        int
	Kind     model.Kind
	Metadata map[string]string // exact-match filter on metadata fields
}

// SearchResult pairs an entry with its similarity score.
type SearchResult struct {
	model.Entry
	Score float64 `json:"score"`
}

// ListParams holds parameters for listing entries without a query vector.
type ListParams struct {
	Kind     model.Kind
	Metadata map[string]string
	Limit    int
}

// Stats holds store statistics.
type Stats struct {
	DBPath      string         `json:"db_path"`
	DBSizeBytes int64          `json:"db_size_bytes"`
	Count       int            `json:"count"`
	ByKind      map[string]int `json:"by_kind"`
}

// Store defines the semantic memory interface. All writes are append-only.
type Store interface {
	// Put computes the embedding for the content and persists a new entry.
	Put(ctx context.Context, p PutParams) (*model.Entry, error)

	// Get retrieves an entry by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*model.Entry, error)

	// Search ranks entries by descending cosine similarity to the query,
	// ties broken by created_at descending.
	Search(ctx context.Context, p SearchParams) ([]SearchResult, error)

	// List returns entries matching the filters, most recent first.
	List(ctx context.Context, p ListParams) ([]model.Entry, error)

	// Stats returns entry counts, total and per kind.
	Stats(ctx context.Context) (*Stats, error)

	// Clear removes every entry. Destructive and irreversible; administrative
	// use only.
	Clear(ctx context.Context) error

	// Close closes the store.
	Close() error
}

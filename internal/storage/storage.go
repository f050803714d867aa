package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no execution matches a lookup.
var ErrNotFound = errors.New("execution not found")

// ExecutionRecord is one finished execution in the history log.
type ExecutionRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Outcome     string    `json:"outcome"`
	Code        string    `json:"code"`
	StdoutBytes int       `json:"stdout_bytes"`
	StderrBytes int       `json:"stderr_bytes"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListOptions controls filtering and pagination for ListExecutions.
type ListOptions struct {
	SessionID string
	Outcome   string
	Limit     int
	Offset    int
}

// Store is the persistence interface for execution history.
type Store interface {
	// RecordExecution inserts a record. The ID field must be set by the caller;
	// CreatedAt is filled in when zero.
	RecordExecution(ctx context.Context, rec *ExecutionRecord) error

	// GetExecution returns a record by ID or ID prefix.
	GetExecution(ctx context.Context, id string) (*ExecutionRecord, error)

	// ListExecutions returns records ordered by created_at descending.
	ListExecutions(ctx context.Context, opts ListOptions) ([]ExecutionRecord, error)

	// PruneBefore deletes records created before cutoff and returns how many
	// were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases resources.
	Close() error
}

// Package store persists SavedWorkflow snapshots so a resumed execution can
// restore its prior state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned by Load when no snapshot exists for an execution.
var ErrNotFound = errors.New("store: saved workflow not found")

// SavedWorkflow is the persisted state a resumed execution restores from.
type SavedWorkflow struct {
	ExecutionID string
	WorkflowID  string
	State       json.RawMessage
}

// Store wraps a Postgres connection holding the saved_workflows table.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres via lib/pq and verifies reachability.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts a workflow's state, keyed by execution id.
func (s *Store) Save(ctx context.Context, sw *SavedWorkflow) error {
	const q = `
		INSERT INTO saved_workflows (execution_id, workflow_id, state)
		VALUES ($1, $2, $3)
		ON CONFLICT (execution_id) DO UPDATE
		SET workflow_id = EXCLUDED.workflow_id, state = EXCLUDED.state`
	_, err := s.db.ExecContext(ctx, q, sw.ExecutionID, sw.WorkflowID, sw.State)
	if err != nil {
		return fmt.Errorf("store: save %s: %w", sw.ExecutionID, err)
	}
	return nil
}

// Load fetches a prior snapshot by execution id, returning ErrNotFound when
// absent.
func (s *Store) Load(ctx context.Context, executionID string) (*SavedWorkflow, error) {
	const q = `SELECT execution_id, workflow_id, state FROM saved_workflows WHERE execution_id = $1`
	row := s.db.QueryRowContext(ctx, q, executionID)

	var sw SavedWorkflow
	if err := row.Scan(&sw.ExecutionID, &sw.WorkflowID, &sw.State); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: load %s: %w", executionID, err)
	}
	return &sw, nil
}

// Delete removes a snapshot, used once an execution completes and no
// further resume is possible.
func (s *Store) Delete(ctx context.Context, executionID string) error {
	const q = `DELETE FROM saved_workflows WHERE execution_id = $1`
	_, err := s.db.ExecContext(ctx, q, executionID)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", executionID, err)
	}
	return nil
}

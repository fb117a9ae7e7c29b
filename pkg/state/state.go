// Package state persists sync progress between runs. SyncState is a
// flat string-keyed mapping holding the cursor and the pagination
// position; a Store provides durable load/save for it.
//
// The single-writer assumption holds throughout: one orchestrator owns
// a connector's state for the duration of a run, and nothing here
// protects against two concurrent syncs of the same logical source.
package state

import (
	"context"
	"strconv"

	"github.com/flowsync-io/flowsync/pkg/config"
	"github.com/flowsync-io/flowsync/pkg/errors"
)

// Well-known state keys written by the orchestrator.
const (
	KeyCursor        = "cursor"
	KeyLastRunID     = "last_run_id"
	KeyLastRunAt     = "last_run_at"
	KeyTotalRecords  = "total_records"
	KeyRunLowerBound = "run_lower_bound"
)

// SyncState is the opaque persisted mapping. Created empty on a first
// run; only the orchestrator mutates it afterwards.
type SyncState map[string]string

// Get returns the value for key, or ""
func (s SyncState) Get(key string) string {
	return s[key]
}

// GetInt returns the integer value for key, or the fallback
func (s SyncState) GetInt(key string, fallback int64) int64 {
	v, ok := s[key]
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// Set assigns a value; empty values delete the key so state files stay
// free of stale position leftovers.
func (s SyncState) Set(key, value string) {
	if value == "" {
		delete(s, key)
		return
	}
	s[key] = value
}

// Delete removes a key
func (s SyncState) Delete(key string) {
	delete(s, key)
}

// Clone returns an independent copy
func (s SyncState) Clone() SyncState {
	c := make(SyncState, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Store durably persists sync state between runs. Load returns an
// empty state when none exists; that is how first runs are detected.
type Store interface {
	Load(ctx context.Context) (SyncState, error)
	Save(ctx context.Context, state SyncState) error
}

// NewStore constructs the configured store for a connector
func NewStore(cfg config.StateConfig, connector string) (Store, error) {
	switch cfg.Type {
	case "file":
		return NewFileStore(cfg.Path), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path, connector)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown state store type %q", cfg.Type)
	}
}

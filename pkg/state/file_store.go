package state

import (
	"context"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/flowsync-io/flowsync/pkg/errors"
)

// FileStore persists sync state as a JSON file. Saves go through a
// temp file plus rename so a crash mid-write cannot corrupt the last
// good checkpoint.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed state store
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the state file; a missing file yields an empty state
func (fs *FileStore) Load(_ context.Context) (SyncState, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(SyncState), nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to read state file")
	}

	st := make(SyncState)
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "state file is corrupt")
	}
	return st, nil
}

// Save atomically replaces the state file
func (fs *FileStore) Save(_ context.Context, st SyncState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to marshal state")
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to create state directory")
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to create temp state file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeState, "failed to write state")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeState, "failed to sync state file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to close temp state file")
	}

	if err := os.Rename(tmpName, fs.path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to replace state file")
	}
	return nil
}

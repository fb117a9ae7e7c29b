// Package jsonl writes records as newline-delimited JSON. It is an
// append-only sink: replayed batches append again, and deduplication by
// primary key is left to whatever loads the file downstream. Each line
// carries the operation and key so loaders can do that.
package jsonl

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/flowsync-io/flowsync/pkg/config"
	"github.com/flowsync-io/flowsync/pkg/errors"
	"github.com/flowsync-io/flowsync/pkg/models"
	"github.com/flowsync-io/flowsync/pkg/registry"
	sinkpkg "github.com/flowsync-io/flowsync/pkg/sink"
)

func init() {
	registry.RegisterSink("jsonl", func(cfg config.DestinationConfig, logger *zap.Logger) (sinkpkg.Sink, error) {
		return New(cfg.Path, cfg.KeyColumns, logger)
	})
}

// line is the envelope written per record
type line struct {
	Op        string                 `json:"op"`
	Table     string                 `json:"table"`
	Key       string                 `json:"key,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	EmittedAt time.Time              `json:"emitted_at"`
}

// Sink appends NDJSON lines to a single file
type Sink struct {
	file       *os.File
	writer     *bufio.Writer
	keyColumns []string
	logger     *zap.Logger
}

// New opens (appending) the output file
func New(path string, keyColumns []string, logger *zap.Logger) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSink, "failed to create output directory")
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // G304: path is operator-supplied
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSink, "failed to open output file")
	}

	return &Sink{
		file:       file,
		writer:     bufio.NewWriterSize(file, 64*1024),
		keyColumns: keyColumns,
		logger:     logger.With(zap.String("sink", "jsonl")),
	}, nil
}

func (s *Sink) write(op, table, key string, data map[string]interface{}) error {
	payload, err := json.Marshal(line{
		Op:        op,
		Table:     table,
		Key:       key,
		Data:      data,
		EmittedAt: time.Now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to marshal record")
	}
	if _, err := s.writer.Write(append(payload, '\n')); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to write record")
	}
	return nil
}

// Upsert appends records with op=upsert
func (s *Sink) Upsert(_ context.Context, table string, records []*models.Record) error {
	for _, rec := range records {
		if err := s.write("upsert", table, rec.Key(s.keyColumns), rec.Data); err != nil {
			return err
		}
	}
	return nil
}

// Update appends partial records with op=update
func (s *Sink) Update(_ context.Context, table string, records []*models.Record) error {
	for _, rec := range records {
		if err := s.write("update", table, rec.Key(s.keyColumns), rec.Data); err != nil {
			return err
		}
	}
	return nil
}

// Delete appends tombstone lines with op=delete
func (s *Sink) Delete(_ context.Context, table string, keys []map[string]interface{}) error {
	for _, key := range keys {
		if err := s.write("delete", table, "", key); err != nil {
			return err
		}
	}
	return nil
}

// Flush drains the write buffer to disk
func (s *Sink) Flush(_ context.Context) error {
	if err := s.writer.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to flush output")
	}
	if err := s.file.Sync(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to sync output file")
	}
	return nil
}

// Close flushes and closes the file
func (s *Sink) Close(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	return s.file.Close()
}

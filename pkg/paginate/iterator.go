package paginate

import (
	"context"

	"go.uber.org/zap"

	"github.com/flowsync-io/flowsync/pkg/httpx"
	"github.com/flowsync-io/flowsync/pkg/metrics"
	"github.com/flowsync-io/flowsync/pkg/models"
)

// Executor issues a single logical page request with retries applied
type Executor interface {
	Execute(ctx context.Context, req *httpx.PageRequest) (*httpx.RawResponse, error)
}

// RecordBatch is one unit of records handed to the orchestrator.
type RecordBatch struct {
	Records []*models.Record
	// Skipped counts malformed records dropped from this page
	Skipped int
	// Final marks the last batch of the sequence
	Final bool
}

// Iterator pulls record batches page by page. It is forward-only and
// restartable solely through the strategy's Restore; once Next returns
// a nil batch the sequence is exhausted for good.
type Iterator struct {
	strategy  Strategy
	executor  Executor
	envelope  *Envelope
	logger    *zap.Logger
	connector string
	done      bool
}

// NewIterator creates an iterator over the given strategy
func NewIterator(strategy Strategy, executor Executor, envelope *Envelope, connector string, logger *zap.Logger) *Iterator {
	return &Iterator{
		strategy:  strategy,
		executor:  executor,
		envelope:  envelope,
		logger:    logger.With(zap.String("component", "paginator"), zap.String("strategy", strategy.Name())),
		connector: connector,
	}
}

// Next fetches and decodes the next page. It returns (nil, nil) when
// the sequence is exhausted. A returned batch is never empty without
// also being final: empty intermediate pages (sparse time windows) are
// fetched through without being yielded, and a page that neither
// carries records nor advances the position ends the sequence.
func (it *Iterator) Next(ctx context.Context) (*RecordBatch, error) {
	for {
		if it.done {
			return nil, nil
		}

		req, ok := it.strategy.NextRequest()
		if !ok {
			it.done = true
			return nil, nil
		}

		before := it.strategy.Position()

		resp, err := it.executor.Execute(ctx, req)
		if err != nil {
			return nil, err
		}

		page, err := it.envelope.Decode(resp)
		if err != nil {
			return nil, err
		}

		if err := it.strategy.Observe(page); err != nil {
			return nil, err
		}

		batch := &RecordBatch{
			Records: page.Records,
			Skipped: page.Skipped,
		}

		_, more := it.strategy.NextRequest()
		batch.Final = !more
		if batch.Final {
			it.done = true
		}

		metrics.PagesFetched.WithLabelValues(it.connector).Inc()
		metrics.BatchSize.WithLabelValues(it.connector).Observe(float64(len(batch.Records)))
		if batch.Skipped > 0 {
			metrics.RecordsSkipped.WithLabelValues(it.connector).Add(float64(batch.Skipped))
		}

		it.logger.Debug("fetched page",
			zap.Int("records", len(batch.Records)),
			zap.Int("skipped", batch.Skipped),
			zap.Bool("final", batch.Final))

		if len(batch.Records) > 0 || batch.Final {
			return batch, nil
		}

		if positionsEqual(before, it.strategy.Position()) {
			it.logger.Warn("empty page did not advance the pagination position; terminating")
			it.done = true
			batch.Final = true
			return batch, nil
		}

		// Empty page, position advanced: keep fetching. Checkpointing
		// between pages remains the orchestrator's job via Position.
	}
}

func positionsEqual(a, b Position) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// Position exposes the underlying strategy position for checkpointing
func (it *Iterator) Position() Position {
	return it.strategy.Position()
}

// Package syncer runs one sync end-to-end: it loads persisted state,
// pages through the source, streams records to the sink, and
// checkpoints progress so a crashed or cancelled run resumes instead of
// restarting.
//
// A run moves through fixed phases: init, compute_window, fetching
// (with interleaved checkpoints), finalize, then done. Failure at any
// point short-circuits to failed without touching the state store, so
// the last successful checkpoint stays authoritative.
package syncer

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowsync-io/flowsync/pkg/config"
	"github.com/flowsync-io/flowsync/pkg/cursor"
	"github.com/flowsync-io/flowsync/pkg/errors"
	"github.com/flowsync-io/flowsync/pkg/httpx"
	"github.com/flowsync-io/flowsync/pkg/metrics"
	"github.com/flowsync-io/flowsync/pkg/paginate"
	"github.com/flowsync-io/flowsync/pkg/sink"
	"github.com/flowsync-io/flowsync/pkg/state"
)

// Phase identifies where in its lifecycle a run is
type Phase string

const (
	PhaseInit          Phase = "init"
	PhaseComputeWindow Phase = "compute_window"
	PhaseFetching      Phase = "fetching"
	PhaseCheckpoint    Phase = "checkpoint"
	PhaseFinalize      Phase = "finalize"
	PhaseDone          Phase = "done"
	PhaseFailed        Phase = "failed"
)

// Result summarizes a finished run
type Result struct {
	RunID       string
	Phase       Phase
	Records     int
	Skipped     int
	Pages       int
	Checkpoints int
	Cursor      string
	Duration    time.Duration
	Err         error
}

// batchSource is what the fetch loop consumes; satisfied by the serial
// page iterator and by the parallel window prefetcher.
type batchSource interface {
	Next(ctx context.Context) (*paginate.RecordBatch, error)
	Position() paginate.Position
}

// Orchestrator owns one connector's sync run. It is the only writer of
// that connector's state for the duration of the run.
type Orchestrator struct {
	cfg      *config.SyncConfig
	store    state.Store
	sink     sink.Sink
	executor paginate.Executor
	logger   *zap.Logger

	// now is swapped out in tests to pin window boundaries
	now func() time.Time
}

// New creates an orchestrator. The executor, sink and store are built
// by the caller so tests can substitute fakes.
func New(cfg *config.SyncConfig, store state.Store, snk sink.Sink, executor paginate.Executor, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		sink:     snk,
		executor: executor,
		logger:   logger.With(zap.String("connector", cfg.Name)),
		now:      time.Now,
	}
}

// SetClock overrides the run clock, for tests
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Run executes the sync. The returned Result is non-nil even on
// failure; Result.Err mirrors the returned error.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	started := o.now()
	result := &Result{
		RunID: uuid.NewString(),
		Phase: PhaseInit,
	}
	logger := o.logger.With(zap.String("run_id", result.RunID))
	logger.Info("starting sync run",
		zap.String("strategy", o.cfg.Pagination.Strategy),
		zap.String("destination", o.cfg.Destination.Type))

	fail := func(err error) (*Result, error) {
		result.Phase = PhaseFailed
		result.Err = err
		result.Duration = o.now().Sub(started)
		metrics.SyncDuration.WithLabelValues(o.cfg.Name, string(PhaseFailed)).Observe(result.Duration.Seconds())
		logger.Error("sync run failed",
			zap.String("error_class", string(errors.TypeOf(err))),
			zap.Int("records", result.Records),
			zap.Error(err))
		return result, err
	}

	st, err := o.store.Load(ctx)
	if err != nil {
		return fail(errors.Wrap(err, errors.ErrorTypeState, "failed to load sync state"))
	}

	result.Phase = PhaseComputeWindow
	runNow := o.now().UTC()

	committed := st.Get(state.KeyCursor)

	// The query lower bound is pinned for the lifetime of one logical
	// run. A checkpointed pagination position only means anything
	// against the result set that bound produced, so a resumed run must
	// reuse the persisted bound instead of the advanced cursor; the
	// bound moves forward only once finalize clears it.
	lowerBound := st.Get(state.KeyRunLowerBound)
	if lowerBound == "" {
		lowerBound = committed
		if lowerBound == "" {
			lowerBound = o.cfg.StartPosition(runNow)
			logger.Info("no stored cursor; starting from configured position",
				zap.String("start", lowerBound))
		}
		st.Set(state.KeyRunLowerBound, lowerBound)
	} else {
		logger.Info("resuming interrupted run",
			zap.String("lower_bound", lowerBound))
	}

	base := o.baseRequest(lowerBound)
	strategy, err := paginate.NewStrategy(o.cfg.Pagination, base, lowerBound, runNow)
	if err != nil {
		return fail(err)
	}
	if err := strategy.Restore(positionFrom(st)); err != nil {
		return fail(err)
	}

	tracker := cursor.NewTracker(o.cfg.Incremental.CursorField, committed, logger)
	envelope := paginate.NewEnvelope(o.cfg.Pagination.Envelope, o.cfg.Name, logger)

	var source batchSource
	if tw, ok := strategy.(*paginate.TimeWindowStrategy); ok && o.cfg.Performance.PrefetchWorkers > 1 {
		source = newPrefetcher(tw, o.executor, envelope, o.cfg.Performance.PrefetchWorkers, o.cfg.Name, logger)
	} else {
		source = paginate.NewIterator(strategy, o.executor, envelope, o.cfg.Name, logger)
	}

	result.Phase = PhaseFetching
	sinceCheckpoint := 0

	for {
		// Cancellation is honored between pages; a page in flight
		// completes and checkpoints first.
		if err := ctx.Err(); err != nil {
			class := errors.ErrorTypeCancelled
			if err == context.DeadlineExceeded {
				class = errors.ErrorTypeTimeout
			}
			return fail(errors.Wrap(err, class, "sync interrupted"))
		}

		prePagePos := source.Position()

		batch, err := source.Next(ctx)
		if err != nil {
			return fail(err)
		}
		if batch == nil {
			break
		}
		result.Pages++
		result.Skipped += batch.Skipped

		// Stream the page to the sink in checkpoint-sized chunks. A
		// mid-page checkpoint keeps the pre-page position so resume
		// refetches the whole page; upserts absorb the replay.
		records := batch.Records
		for len(records) > 0 {
			n := o.cfg.Performance.CheckpointEveryRecords - sinceCheckpoint
			if n <= 0 || n > len(records) {
				n = len(records)
			}
			chunk := records[:n]
			records = records[n:]

			if err := o.sink.Upsert(ctx, o.cfg.Destination.Table, chunk); err != nil {
				return fail(errors.Wrap(err, errors.ErrorTypeSink, "failed to upsert batch"))
			}
			tracker.Observe(chunk)
			result.Records += len(chunk)
			sinceCheckpoint += len(chunk)
			metrics.RecordsProcessed.WithLabelValues(o.cfg.Name, "success").Add(float64(len(chunk)))

			if sinceCheckpoint >= o.cfg.Performance.CheckpointEveryRecords && len(records) > 0 {
				if err := o.checkpoint(ctx, st, prePagePos, tracker, result, logger); err != nil {
					return fail(err)
				}
				sinceCheckpoint = 0
			}
		}

		// A checkpoint always lands at page end with the advanced
		// position, so resume never refetches a fully processed page.
		if err := o.checkpoint(ctx, st, source.Position(), tracker, result, logger); err != nil {
			return fail(err)
		}
		sinceCheckpoint = 0

		if batch.Final {
			break
		}
	}

	result.Phase = PhaseFinalize

	if err := o.sink.Flush(ctx); err != nil {
		return fail(errors.Wrap(err, errors.ErrorTypeSink, "failed to flush sink"))
	}

	if o.cfg.Incremental.Enabled {
		final := tracker.Candidate()
		if v, ok := strategy.FinalCursor(); ok {
			// Time windows close at the run boundary even when no
			// records were seen, otherwise sparse sources refetch the
			// same span forever.
			final = v
		}
		st.Set(state.KeyCursor, final)
		result.Cursor = final
	}
	for _, key := range paginate.PositionKeys {
		st.Delete(key)
	}
	st.Delete(state.KeyRunLowerBound)
	st.Set(state.KeyLastRunID, result.RunID)
	st.Set(state.KeyLastRunAt, runNow.Format(time.RFC3339))
	st.Set(state.KeyTotalRecords, strconv.FormatInt(st.GetInt(state.KeyTotalRecords, 0)+int64(result.Records), 10))

	if err := o.store.Save(ctx, st); err != nil {
		return fail(errors.Wrap(err, errors.ErrorTypeState, "failed to persist final state"))
	}
	tracker.Commit()

	result.Phase = PhaseDone
	result.Duration = o.now().Sub(started)
	metrics.SyncDuration.WithLabelValues(o.cfg.Name, string(PhaseDone)).Observe(result.Duration.Seconds())
	logger.Info("sync run complete",
		zap.Int("records", result.Records),
		zap.Int("skipped", result.Skipped),
		zap.Int("pages", result.Pages),
		zap.Int("checkpoints", result.Checkpoints),
		zap.String("cursor", result.Cursor),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// checkpoint persists the cursor candidate and pagination position.
// The cursor only becomes committed once the store accepted the write.
func (o *Orchestrator) checkpoint(ctx context.Context, st state.SyncState, pos paginate.Position, tracker *cursor.Tracker, result *Result, logger *zap.Logger) error {
	if o.cfg.Incremental.Enabled && tracker.Candidate() != "" {
		st.Set(state.KeyCursor, tracker.Candidate())
	}
	for _, key := range paginate.PositionKeys {
		st.Delete(key)
	}
	for k, v := range pos {
		st.Set(k, v)
	}
	st.Set(state.KeyLastRunID, result.RunID)

	if err := o.store.Save(ctx, st); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to write checkpoint")
	}
	tracker.Commit()
	result.Checkpoints++
	metrics.CheckpointsTotal.WithLabelValues(o.cfg.Name).Inc()
	logger.Debug("checkpoint written",
		zap.String("cursor", tracker.Committed()),
		zap.Any("position", pos))
	return nil
}

// baseRequest builds the request template every page derives from.
// The cursor lower bound is inclusive: the boundary record is refetched
// on purpose and the upsert makes the overlap harmless.
func (o *Orchestrator) baseRequest(lowerBound string) *httpx.PageRequest {
	req := &httpx.PageRequest{
		Method: o.cfg.Source.Method,
		URL:    joinURL(o.cfg.Source.BaseURL, o.cfg.Source.Endpoint),
	}
	for k, v := range o.cfg.Source.Query {
		req = req.WithQuery(k, v)
	}
	if len(o.cfg.Source.Headers) > 0 {
		req.Headers = make(map[string]string, len(o.cfg.Source.Headers))
		for k, v := range o.cfg.Source.Headers {
			req.Headers[k] = v
		}
	}
	if o.cfg.Incremental.Enabled &&
		o.cfg.Incremental.CursorParam != "" &&
		o.cfg.Pagination.Strategy != config.StrategyTimeWindow {
		req = req.WithQuery(o.cfg.Incremental.CursorParam, lowerBound)
	}
	return req
}

// positionFrom extracts the strategy position keys persisted in state
func positionFrom(st state.SyncState) paginate.Position {
	pos := make(paginate.Position)
	for _, key := range paginate.PositionKeys {
		if v := st.Get(key); v != "" {
			pos[key] = v
		}
	}
	return pos
}

func joinURL(base, endpoint string) string {
	if endpoint == "" {
		return base
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(endpoint, "/")
}

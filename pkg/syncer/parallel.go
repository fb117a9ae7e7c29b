package syncer

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/flowsync-io/flowsync/pkg/errors"
	"github.com/flowsync-io/flowsync/pkg/metrics"
	"github.com/flowsync-io/flowsync/pkg/paginate"
)

// prefetcher fetches time windows with a bounded worker pool while
// delivering them to the fetch loop strictly in window order. Only the
// orchestrator goroutine observes delivery, so state and cursor
// mutation stay single-threaded; the workers touch nothing but the
// network.
type prefetcher struct {
	strategy  *paginate.TimeWindowStrategy
	executor  paginate.Executor
	envelope  *paginate.Envelope
	workers   int
	connector string
	logger    *zap.Logger

	started bool
	windows []paginate.Window
	results []chan fetchResult
	next    int
	done    bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type fetchResult struct {
	page *paginate.Page
	err  error
}

func newPrefetcher(strategy *paginate.TimeWindowStrategy, executor paginate.Executor, envelope *paginate.Envelope, workers int, connector string, logger *zap.Logger) *prefetcher {
	return &prefetcher{
		strategy:  strategy,
		executor:  executor,
		envelope:  envelope,
		workers:   workers,
		connector: connector,
		logger: logger.With(
			zap.String("component", "prefetcher"),
			zap.Int("workers", workers)),
	}
}

func (p *prefetcher) start(ctx context.Context) {
	p.started = true
	p.windows = p.strategy.RemainingWindows()
	p.results = make([]chan fetchResult, len(p.windows))
	for i := range p.results {
		p.results[i] = make(chan fetchResult, 1)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	jobs := make(chan int)
	workers := p.workers
	if workers > len(p.windows) {
		workers = len(p.windows)
	}
	for w := 0; w < workers; w++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for i := range jobs {
				p.results[i] <- p.fetch(workerCtx, i)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range p.windows {
			select {
			case jobs <- i:
			case <-workerCtx.Done():
				return
			}
		}
	}()

	p.logger.Debug("prefetch started", zap.Int("windows", len(p.windows)))
}

func (p *prefetcher) fetch(ctx context.Context, i int) fetchResult {
	resp, err := p.executor.Execute(ctx, p.windows[i].Request)
	if err != nil {
		return fetchResult{err: err}
	}
	page, err := p.envelope.Decode(resp)
	if err != nil {
		return fetchResult{err: err}
	}
	return fetchResult{page: page}
}

// Next delivers the next non-empty window in order. Empty intermediate
// windows advance the strategy position without being yielded, matching
// the serial iterator's contract.
func (p *prefetcher) Next(ctx context.Context) (*paginate.RecordBatch, error) {
	if p.done {
		return nil, nil
	}
	if !p.started {
		p.start(ctx)
	}

	for {
		if p.next >= len(p.windows) {
			p.stop()
			return nil, nil
		}

		var res fetchResult
		select {
		case <-ctx.Done():
			p.stop()
			class := errors.ErrorTypeCancelled
			if ctx.Err() == context.DeadlineExceeded {
				class = errors.ErrorTypeTimeout
			}
			return nil, errors.Wrap(ctx.Err(), class, "window wait interrupted")
		case res = <-p.results[p.next]:
		}

		window := p.windows[p.next]
		p.next++

		if res.err != nil {
			p.stop()
			return nil, res.err
		}

		p.strategy.AdvanceTo(window.To)

		batch := &paginate.RecordBatch{
			Records: res.page.Records,
			Skipped: res.page.Skipped,
			Final:   p.next >= len(p.windows),
		}
		if batch.Final {
			p.stop()
		}

		metrics.PagesFetched.WithLabelValues(p.connector).Inc()
		metrics.BatchSize.WithLabelValues(p.connector).Observe(float64(len(batch.Records)))
		if batch.Skipped > 0 {
			metrics.RecordsSkipped.WithLabelValues(p.connector).Add(float64(batch.Skipped))
		}
		p.logger.Debug("window delivered",
			zap.Time("from", window.From),
			zap.Time("to", window.To),
			zap.Int("records", len(batch.Records)),
			zap.Bool("final", batch.Final))

		if len(batch.Records) > 0 || batch.Final {
			return batch, nil
		}
	}
}

// Position reports the strategy position as of the last delivered window
func (p *prefetcher) Position() paginate.Position {
	return p.strategy.Position()
}

func (p *prefetcher) stop() {
	p.done = true
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

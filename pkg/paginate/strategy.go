package paginate

import (
	"strconv"
	"time"

	"github.com/flowsync-io/flowsync/pkg/config"
	"github.com/flowsync-io/flowsync/pkg/errors"
	"github.com/flowsync-io/flowsync/pkg/httpx"
)

// Position is a snapshot of a strategy's progress, suitable for
// persisting into sync state and restoring on the next run.
type Position map[string]string

// State keys used by strategy positions.
const (
	PositionOffset     = "offset"
	PositionPageToken  = "page_token"
	PositionNextURL    = "next_url"
	PositionWindowFrom = "window_from"
)

// PositionKeys lists every key a strategy may put in its Position
var PositionKeys = []string{PositionOffset, PositionPageToken, PositionNextURL, PositionWindowFrom}

// Strategy derives successive page requests. NextRequest is side-effect
// free; position only advances through Observe. Strategies are not
// safe for concurrent use.
type Strategy interface {
	// Name returns the strategy identifier from configuration
	Name() string

	// NextRequest returns the request for the next page, or false when
	// the sequence is exhausted
	NextRequest() (*httpx.PageRequest, bool)

	// Observe advances the position using a fully-decoded page
	Observe(page *Page) error

	// Position snapshots progress for checkpointing
	Position() Position

	// Restore resumes from a previously checkpointed position
	Restore(pos Position) error

	// FinalCursor returns a cursor value to persist at finalize even
	// when no records were seen; only the time-window strategy has one
	FinalCursor() (string, bool)
}

// Strategies returns the names of all supported pagination strategies
func Strategies() []string {
	return []string{
		config.StrategyOffset,
		config.StrategyPageToken,
		config.StrategyLinkHeader,
		config.StrategyTimeWindow,
	}
}

// NewStrategy constructs the configured strategy. base is the request
// template for the first page (static query, headers, cursor lower
// bound already applied); now anchors time-window advancement.
func NewStrategy(cfg config.PaginationConfig, base *httpx.PageRequest, cursorValue string, now time.Time) (Strategy, error) {
	switch cfg.Strategy {
	case config.StrategyOffset:
		return &offsetStrategy{
			base:        base,
			offsetParam: cfg.OffsetParam,
			limitParam:  cfg.LimitParam,
			pageSize:    cfg.PageSize,
		}, nil
	case config.StrategyPageToken:
		return &tokenStrategy{
			base:       base,
			tokenParam: cfg.TokenParam,
			limitParam: cfg.LimitParam,
			pageSize:   cfg.PageSize,
		}, nil
	case config.StrategyLinkHeader:
		return &linkStrategy{base: base}, nil
	case config.StrategyTimeWindow:
		from, err := parseCursorTime(cursorValue)
		if err != nil {
			return nil, err
		}
		return &TimeWindowStrategy{
			base:      base,
			fromParam: cfg.FromParam,
			toParam:   cfg.ToParam,
			window:    time.Duration(cfg.WindowDays) * 24 * time.Hour,
			from:      from,
			now:       now.UTC(),
		}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown pagination strategy %q", cfg.Strategy)
	}
}

// offsetStrategy advances offset += len(page) and terminates when a
// page comes back shorter than the page size.
type offsetStrategy struct {
	base        *httpx.PageRequest
	offsetParam string
	limitParam  string
	pageSize    int
	offset      int
	done        bool
}

func (s *offsetStrategy) Name() string { return config.StrategyOffset }

func (s *offsetStrategy) NextRequest() (*httpx.PageRequest, bool) {
	if s.done {
		return nil, false
	}
	req := s.base.
		WithQuery(s.limitParam, strconv.Itoa(s.pageSize)).
		WithQuery(s.offsetParam, strconv.Itoa(s.offset))
	return req, true
}

func (s *offsetStrategy) Observe(page *Page) error {
	s.offset += len(page.Records) + page.Skipped
	if len(page.Records)+page.Skipped < s.pageSize {
		s.done = true
	}
	return nil
}

func (s *offsetStrategy) Position() Position {
	return Position{PositionOffset: strconv.Itoa(s.offset)}
}

func (s *offsetStrategy) Restore(pos Position) error {
	v, ok := pos[PositionOffset]
	if !ok || v == "" {
		return nil
	}
	offset, err := strconv.Atoi(v)
	if err != nil {
		return errors.Newf(errors.ErrorTypeState, "invalid persisted offset %q", v)
	}
	s.offset = offset
	return nil
}

func (s *offsetStrategy) FinalCursor() (string, bool) { return "", false }

// tokenStrategy follows an opaque token extracted from each response
// and terminates when no next token is present.
type tokenStrategy struct {
	base       *httpx.PageRequest
	tokenParam string
	limitParam string
	pageSize   int
	token      string
	done       bool
}

func (s *tokenStrategy) Name() string { return config.StrategyPageToken }

func (s *tokenStrategy) NextRequest() (*httpx.PageRequest, bool) {
	if s.done {
		return nil, false
	}
	req := s.base
	if s.limitParam != "" {
		req = req.WithQuery(s.limitParam, strconv.Itoa(s.pageSize))
	}
	if s.token != "" {
		req = req.WithQuery(s.tokenParam, s.token)
	}
	return req.Clone(), true
}

func (s *tokenStrategy) Observe(page *Page) error {
	if page.NextToken == "" {
		s.done = true
		return nil
	}
	s.token = page.NextToken
	return nil
}

func (s *tokenStrategy) Position() Position {
	return Position{PositionPageToken: s.token}
}

func (s *tokenStrategy) Restore(pos Position) error {
	if v, ok := pos[PositionPageToken]; ok {
		s.token = v
	}
	return nil
}

func (s *tokenStrategy) FinalCursor() (string, bool) { return "", false }

// linkStrategy follows server-supplied absolute next URLs and
// terminates when none is supplied.
type linkStrategy struct {
	base    *httpx.PageRequest
	next    string
	started bool
	done    bool
}

func (s *linkStrategy) Name() string { return config.StrategyLinkHeader }

func (s *linkStrategy) NextRequest() (*httpx.PageRequest, bool) {
	if s.done {
		return nil, false
	}
	if s.next != "" {
		return s.base.WithURL(s.next), true
	}
	if s.started {
		return nil, false
	}
	return s.base.Clone(), true
}

func (s *linkStrategy) Observe(page *Page) error {
	s.started = true
	if page.NextURL == "" {
		s.done = true
		s.next = ""
		return nil
	}
	s.next = page.NextURL
	return nil
}

func (s *linkStrategy) Position() Position {
	return Position{PositionNextURL: s.next}
}

func (s *linkStrategy) Restore(pos Position) error {
	if v, ok := pos[PositionNextURL]; ok && v != "" {
		s.next = v
		s.started = true
	}
	return nil
}

func (s *linkStrategy) FinalCursor() (string, bool) { return "", false }

// TimeWindowStrategy advances a [from, to) window by a fixed increment
// and terminates when from reaches the run start time. It is exported
// because the parallel prefetcher needs the remaining windows upfront.
type TimeWindowStrategy struct {
	base      *httpx.PageRequest
	fromParam string
	toParam   string
	window    time.Duration
	from      time.Time
	now       time.Time
}

// Window is one prefetchable [From, To) slice of a time-window sync
type Window struct {
	Request *httpx.PageRequest
	From    time.Time
	To      time.Time
}

func (s *TimeWindowStrategy) Name() string { return config.StrategyTimeWindow }

func (s *TimeWindowStrategy) windowEnd(from time.Time) time.Time {
	to := from.Add(s.window)
	if to.After(s.now) {
		return s.now
	}
	return to
}

func (s *TimeWindowStrategy) request(from time.Time) *httpx.PageRequest {
	return s.base.
		WithQuery(s.fromParam, from.Format(time.RFC3339)).
		WithQuery(s.toParam, s.windowEnd(from).Format(time.RFC3339))
}

func (s *TimeWindowStrategy) NextRequest() (*httpx.PageRequest, bool) {
	if !s.from.Before(s.now) {
		return nil, false
	}
	return s.request(s.from), true
}

// Observe advances the window; it moves forward even for empty windows
// so sparse histories cannot stall the sync.
func (s *TimeWindowStrategy) Observe(_ *Page) error {
	s.from = s.windowEnd(s.from)
	return nil
}

func (s *TimeWindowStrategy) Position() Position {
	return Position{PositionWindowFrom: s.from.Format(time.RFC3339)}
}

func (s *TimeWindowStrategy) Restore(pos Position) error {
	v, ok := pos[PositionWindowFrom]
	if !ok || v == "" {
		return nil
	}
	from, err := parseCursorTime(v)
	if err != nil {
		return err
	}
	s.from = from
	return nil
}

// FinalCursor records the run boundary so the next run starts at "now"
// even when zero records were seen.
func (s *TimeWindowStrategy) FinalCursor() (string, bool) {
	return s.now.Format(time.RFC3339), true
}

// RemainingWindows enumerates every window left to fetch, in order
func (s *TimeWindowStrategy) RemainingWindows() []Window {
	var windows []Window
	for from := s.from; from.Before(s.now); from = s.windowEnd(from) {
		windows = append(windows, Window{
			Request: s.request(from),
			From:    from,
			To:      s.windowEnd(from),
		})
	}
	return windows
}

// AdvanceTo moves the window start; the parallel prefetcher applies
// this after each delivered window so Position stays accurate.
func (s *TimeWindowStrategy) AdvanceTo(from time.Time) {
	s.from = from
}

// parseCursorTime accepts RFC3339 timestamps and plain dates
func parseCursorTime(value string) (time.Time, error) {
	if value == "" {
		return time.Unix(0, 0).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, errors.Newf(errors.ErrorTypeState, "cursor value %q is not a timestamp", value)
}

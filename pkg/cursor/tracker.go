// Package cursor tracks the incremental high-water mark of a sync run.
// The candidate cursor only ever grows, and only whole successfully
// processed batches feed it; the orchestrator decides when a candidate
// is durable by checkpointing it.
package cursor

import (
	"time"

	"go.uber.org/zap"

	"github.com/flowsync-io/flowsync/pkg/models"
)

// Tracker derives the candidate cursor from processed batches.
//
// Values compare as timestamps when both sides parse as RFC3339 or
// plain dates, and lexically otherwise, which matches the common
// ISO-8601 string ordering used by REST APIs.
type Tracker struct {
	field     string
	committed string
	candidate string
	logger    *zap.Logger
}

// NewTracker creates a tracker for the given incremental field,
// starting from the last committed cursor ("" on a first run).
func NewTracker(field, committed string, logger *zap.Logger) *Tracker {
	return &Tracker{
		field:     field,
		committed: committed,
		candidate: committed,
		logger:    logger.With(zap.String("component", "cursor"), zap.String("field", field)),
	}
}

// Observe folds a fully-processed batch into the candidate cursor.
// Call it only after every record of the batch has been handed to the
// sink; partial batches must never advance the cursor.
func (t *Tracker) Observe(records []*models.Record) {
	maxSeen := ""
	for _, rec := range records {
		v := rec.GetString(t.field)
		if v == "" {
			continue
		}
		if maxSeen == "" || Compare(v, maxSeen) > 0 {
			maxSeen = v
		}
	}
	if maxSeen == "" {
		return
	}

	if t.candidate != "" && Compare(maxSeen, t.candidate) < 0 {
		// A batch maximum below the stored cursor means the source is
		// replaying or its clock moved; never regress.
		t.logger.Warn("batch cursor below stored cursor; ignoring",
			zap.String("batch_max", maxSeen),
			zap.String("cursor", t.candidate))
		return
	}

	t.candidate = maxSeen
}

// Candidate returns the value to persist at the next checkpoint
func (t *Tracker) Candidate() string {
	return t.candidate
}

// Committed returns the cursor as of the last checkpoint
func (t *Tracker) Committed() string {
	return t.committed
}

// Commit marks the candidate durable; the orchestrator calls this
// after the state store accepted the checkpoint.
func (t *Tracker) Commit() {
	t.committed = t.candidate
}

// Compare orders two cursor values. Timestamps compare as instants;
// anything else compares lexically. Returns -1, 0 or 1.
func Compare(a, b string) int {
	ta, okA := parseTime(a)
	tb, okB := parseTime(b)
	if okA && okB {
		switch {
		case ta.Before(tb):
			return -1
		case ta.After(tb):
			return 1
		default:
			return 0
		}
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func parseTime(v string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, true
	}
	return time.Time{}, false
}

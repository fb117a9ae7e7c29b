package cursor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/flowsync-io/flowsync/pkg/models"
)

func recordsWith(values ...string) []*models.Record {
	out := make([]*models.Record, 0, len(values))
	for _, v := range values {
		out = append(out, models.NewRecord("test", map[string]interface{}{"updated_at": v}))
	}
	return out
}

func TestTrackerObservesBatchMax(t *testing.T) {
	tr := NewTracker("updated_at", "", zap.NewNop())

	tr.Observe(recordsWith("2024-01-03T00:00:00Z", "2024-01-05T00:00:00Z", "2024-01-01T00:00:00Z"))
	assert.Equal(t, "2024-01-05T00:00:00Z", tr.Candidate())
	assert.Empty(t, tr.Committed(), "candidate is not durable until committed")

	tr.Commit()
	assert.Equal(t, "2024-01-05T00:00:00Z", tr.Committed())
}

func TestTrackerNeverRegresses(t *testing.T) {
	tr := NewTracker("updated_at", "2024-02-01T00:00:00Z", zap.NewNop())

	// replayed or out-of-order batch below the stored cursor
	tr.Observe(recordsWith("2024-01-15T00:00:00Z"))
	assert.Equal(t, "2024-02-01T00:00:00Z", tr.Candidate())

	tr.Observe(recordsWith("2024-03-01T00:00:00Z"))
	assert.Equal(t, "2024-03-01T00:00:00Z", tr.Candidate())
}

func TestTrackerIgnoresRecordsWithoutCursorField(t *testing.T) {
	tr := NewTracker("updated_at", "", zap.NewNop())

	tr.Observe([]*models.Record{
		models.NewRecord("test", map[string]interface{}{"id": 1}),
	})
	assert.Empty(t, tr.Candidate())

	tr.Observe([]*models.Record{
		models.NewRecord("test", map[string]interface{}{"id": 2, "updated_at": "2024-01-05"}),
		models.NewRecord("test", map[string]interface{}{"id": 3}),
	})
	assert.Equal(t, "2024-01-05", tr.Candidate())
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"timestamps as instants", "2024-01-05T00:00:00Z", "2024-01-05T01:00:00+02:00", 1},
		{"equal timestamps different zones", "2024-01-05T02:00:00+02:00", "2024-01-05T00:00:00Z", 0},
		{"plain dates", "2024-01-04", "2024-01-05", -1},
		{"lexical fallback", "abc", "abd", -1},
		{"lexical equal", "v2", "v2", 0},
		{"mixed falls back to lexical", "2024-01-05T00:00:00Z", "abc", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

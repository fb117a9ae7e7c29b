package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetString(t *testing.T) {
	rec := NewRecord("test", map[string]interface{}{
		"id":      float64(42), // decoded JSON numbers arrive as float64
		"ratio":   1.5,
		"name":    "widget",
		"active":  true,
		"missing": nil,
	})

	assert.Equal(t, "42", rec.GetString("id"), "integral floats format without exponent")
	assert.Equal(t, "1.5", rec.GetString("ratio"))
	assert.Equal(t, "widget", rec.GetString("name"))
	assert.Equal(t, "true", rec.GetString("active"))
	assert.Empty(t, rec.GetString("missing"))
	assert.Empty(t, rec.GetString("absent"))
}

func TestKey(t *testing.T) {
	rec := NewRecord("test", map[string]interface{}{"region": "eu", "id": float64(7)})

	assert.Equal(t, "eu\x1f7", rec.Key([]string{"region", "id"}))
	assert.Equal(t, "7\x1feu", rec.Key([]string{"id", "region"}), "key order follows the configured columns")
	assert.Equal(t, "eu\x1f", rec.Key([]string{"region", "absent"}), "missing components stay positional")
}

func TestColumnsSorted(t *testing.T) {
	rec := NewRecord("test", map[string]interface{}{"b": 1, "a": 2, "c": 3})
	assert.Equal(t, []string{"a", "b", "c"}, rec.Columns())
}

func TestSetOnNilData(t *testing.T) {
	rec := &Record{}
	rec.Set("id", "1")
	v, ok := rec.Get("id")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}

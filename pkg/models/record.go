// Package models defines the record structures moved between source
// and destination by a sync run.
package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Record is a single source row in flattened form. Data keys are the
// column names the destination receives.
type Record struct {
	Data     map[string]interface{} `json:"data"`
	Metadata Metadata               `json:"metadata"`
}

// Metadata carries record provenance used for logging and sink routing.
type Metadata struct {
	Source      string    `json:"source"`
	Table       string    `json:"table"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// NewRecord creates a record for the given source with the given data
func NewRecord(source string, data map[string]interface{}) *Record {
	return &Record{
		Data: data,
		Metadata: Metadata{
			Source:      source,
			ExtractedAt: time.Now().UTC(),
		},
	}
}

// Get returns a field value and whether it was present
func (r *Record) Get(field string) (interface{}, bool) {
	if r.Data == nil {
		return nil, false
	}
	v, ok := r.Data[field]
	return v, ok
}

// GetString returns a field rendered as a string, or "" when absent.
// Numeric values are formatted without an exponent so they remain
// usable as cursor and key values.
func (r *Record) GetString(field string) string {
	v, ok := r.Get(field)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// gjson and encoding/json deliver all numbers as float64
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Set assigns a field value
func (r *Record) Set(field string, value interface{}) {
	if r.Data == nil {
		r.Data = make(map[string]interface{})
	}
	r.Data[field] = value
}

// Key builds the composite primary-key value for the given key columns.
// Missing components render as empty strings so key shape stays stable.
func (r *Record) Key(keyColumns []string) string {
	parts := make([]string, 0, len(keyColumns))
	for _, col := range keyColumns {
		parts = append(parts, r.GetString(col))
	}
	return strings.Join(parts, "\x1f")
}

// Columns returns the record's column names in sorted order
func (r *Record) Columns() []string {
	cols := make([]string, 0, len(r.Data))
	for k := range r.Data {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

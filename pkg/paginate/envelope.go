// Package paginate produces a lazy, finite, forward-only sequence of
// record batches from a paginated API. A pagination strategy decides
// how to derive the next page request; the iterator drives the strategy
// against the request executor and decodes response envelopes.
package paginate

import (
	"go.uber.org/zap"

	"github.com/tidwall/gjson"

	"github.com/flowsync-io/flowsync/pkg/config"
	"github.com/flowsync-io/flowsync/pkg/errors"
	"github.com/flowsync-io/flowsync/pkg/httpx"
	"github.com/flowsync-io/flowsync/pkg/models"
)

// Page is one decoded API response: its records plus the pagination
// metadata strategies advance on.
type Page struct {
	Records []*models.Record
	// Skipped counts malformed elements dropped from the page
	Skipped int
	// NextToken is the token extracted from the envelope, if any
	NextToken string
	// NextURL is the server-supplied next page URL, if any
	NextURL string
}

// Envelope decodes raw responses into pages using configured gjson
// paths. A malformed page envelope is fatal; a malformed single record
// is logged, counted and skipped.
type Envelope struct {
	cfg    config.EnvelopeConfig
	source string
	logger *zap.Logger
}

// NewEnvelope creates an envelope decoder for one connector
func NewEnvelope(cfg config.EnvelopeConfig, source string, logger *zap.Logger) *Envelope {
	return &Envelope{
		cfg:    cfg,
		source: source,
		logger: logger.With(zap.String("component", "envelope")),
	}
}

// Decode parses a response body into a Page
func (e *Envelope) Decode(resp *httpx.RawResponse) (*Page, error) {
	if !gjson.ValidBytes(resp.Body) {
		return nil, errors.New(errors.ErrorTypeData, "response body is not valid JSON")
	}

	root := gjson.ParseBytes(resp.Body)

	recordsNode := root
	if e.cfg.RecordsPath != "" {
		recordsNode = root.Get(e.cfg.RecordsPath)
		if !recordsNode.Exists() {
			return nil, errors.Newf(errors.ErrorTypeData, "records path %q not found in response envelope", e.cfg.RecordsPath)
		}
	}
	if !recordsNode.IsArray() {
		return nil, errors.Newf(errors.ErrorTypeData, "records path %q does not point at an array", e.cfg.RecordsPath)
	}

	page := &Page{}
	for _, el := range recordsNode.Array() {
		if !el.IsObject() {
			page.Skipped++
			e.logger.Warn("skipping non-object record element",
				zap.String("element", truncate(el.Raw, 128)))
			continue
		}
		data, ok := el.Value().(map[string]interface{})
		if !ok {
			page.Skipped++
			e.logger.Warn("skipping undecodable record element",
				zap.String("element", truncate(el.Raw, 128)))
			continue
		}
		page.Records = append(page.Records, models.NewRecord(e.source, data))
	}

	if e.cfg.NextTokenPath != "" {
		page.NextToken = root.Get(e.cfg.NextTokenPath).String()
	}
	if e.cfg.NextURLPath != "" {
		page.NextURL = root.Get(e.cfg.NextURLPath).String()
	}
	// Link headers take precedence over envelope URLs
	if link := resp.NextLink(); link != "" {
		page.NextURL = link
	}

	return page, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

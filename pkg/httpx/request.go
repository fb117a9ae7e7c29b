// Package httpx issues the HTTP requests a sync run is made of. It owns
// the request/response types, outcome classification into the sync
// error taxonomy, and the retry loop driven by the backoff policy.
package httpx

import (
	"bytes"
	"context"
	"net/http"
	"net/url"

	"github.com/flowsync-io/flowsync/pkg/errors"
)

// PageRequest is an immutable description of one API call. Pagination
// strategies derive a fresh PageRequest per page; the executor never
// mutates one.
type PageRequest struct {
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string
	Body    []byte
}

// Clone returns a deep copy that is safe to mutate
func (r *PageRequest) Clone() *PageRequest {
	q := make(url.Values, len(r.Query))
	for k, v := range r.Query {
		q[k] = append([]string(nil), v...)
	}
	h := make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		h[k] = v
	}
	var body []byte
	if r.Body != nil {
		body = append([]byte(nil), r.Body...)
	}
	return &PageRequest{
		Method:  r.Method,
		URL:     r.URL,
		Query:   q,
		Headers: h,
		Body:    body,
	}
}

// WithQuery returns a copy with one query parameter set
func (r *PageRequest) WithQuery(key, value string) *PageRequest {
	c := r.Clone()
	if c.Query == nil {
		c.Query = url.Values{}
	}
	c.Query.Set(key, value)
	return c
}

// WithURL returns a copy pointed at a different URL with no query
// parameters of its own; used when following server-supplied next links.
func (r *PageRequest) WithURL(rawURL string) *PageRequest {
	c := r.Clone()
	c.URL = rawURL
	c.Query = url.Values{}
	return c
}

// build materializes the http.Request for one attempt
func (r *PageRequest) build(ctx context.Context) (*http.Request, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid request URL")
	}

	if len(r.Query) > 0 {
		q := u.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body *bytes.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create HTTP request")
	}

	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if r.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "flowsync/1.0")
	}

	return req, nil
}

// RawResponse is a fully-read successful response
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NextLink extracts the rel="next" target from the Link header, or ""
func (r *RawResponse) NextLink() string {
	for _, link := range r.Header.Values("Link") {
		for _, part := range bytes.Split([]byte(link), []byte(",")) {
			seg := bytes.TrimSpace(part)
			if !bytes.Contains(seg, []byte(`rel="next"`)) {
				continue
			}
			start := bytes.IndexByte(seg, '<')
			end := bytes.IndexByte(seg, '>')
			if start >= 0 && end > start {
				return string(seg[start+1 : end])
			}
		}
	}
	return ""
}

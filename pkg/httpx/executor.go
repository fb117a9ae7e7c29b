package httpx

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/flowsync-io/flowsync/pkg/backoff"
	"github.com/flowsync-io/flowsync/pkg/errors"
	"github.com/flowsync-io/flowsync/pkg/metrics"
)

// HeaderProvider supplies per-attempt authentication headers. OAuth2
// token sources refresh behind this interface without the executor
// knowing about credentials.
type HeaderProvider interface {
	Headers(ctx context.Context) (map[string]string, error)
}

// ExecutorConfig configures the request executor
type ExecutorConfig struct {
	// RequestTimeout bounds a single attempt, not the whole retry loop
	RequestTimeout time.Duration
	// DialTimeout bounds connection establishment
	DialTimeout time.Duration
	// RateLimitPerSec limits attempts per second; 0 disables
	RateLimitPerSec int
	// MaxIdleConnsPerHost tunes connection reuse against one API host
	MaxIdleConnsPerHost int
}

// DefaultExecutorConfig returns production defaults
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		RequestTimeout:      30 * time.Second,
		DialTimeout:         10 * time.Second,
		RateLimitPerSec:     0,
		MaxIdleConnsPerHost: 10,
	}
}

// Executor issues single logical requests, retrying transient failures
// per the backoff policy. A terminal error from Execute means the retry
// budget is spent or the failure is permanent; the orchestrator treats
// it as fatal for the run.
type Executor struct {
	client  *http.Client
	policy  *backoff.Policy
	limiter *rate.Limiter
	auth    HeaderProvider
	logger  *zap.Logger

	// sleep is swapped out in tests to observe delays without waiting
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor with a tuned transport
func NewExecutor(cfg ExecutorConfig, policy *backoff.Policy, auth HeaderProvider, logger *zap.Logger) *Executor {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("failed to configure HTTP/2", zap.Error(err))
	}

	var limiter *rate.Limiter
	if cfg.RateLimitPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitPerSec)
	}

	return &Executor{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		policy:  policy,
		limiter: limiter,
		auth:    auth,
		logger:  logger.With(zap.String("component", "executor")),
		sleep:   sleepContext,
	}
}

// Execute issues the request, retrying transient failures. The returned
// error is always classified; inspect it with errors.TypeOf.
func (e *Executor) Execute(ctx context.Context, req *PageRequest) (*RawResponse, error) {
	for retry := 0; ; retry++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, errors.Wrap(err, interruptionClass(ctx), "rate limiter wait interrupted")
			}
		}

		resp, err := e.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), interruptionClass(ctx), "request interrupted")
		}

		class := errors.TypeOf(err)
		hint, _ := errors.RetryAfter(err)
		delay, ok := e.policy.NextDelay(retry+1, class, hint)
		if !ok {
			if errors.IsRetryable(err) {
				return nil, errors.Wrap(err, class, "retry budget exhausted")
			}
			return nil, err
		}

		metrics.RetriesTotal.WithLabelValues(string(class)).Inc()
		e.logger.Warn("retrying request",
			zap.Int("attempt", retry+1),
			zap.String("error_class", string(class)),
			zap.Duration("delay", delay),
			zap.String("url", req.URL))

		if err := e.sleep(ctx, delay); err != nil {
			return nil, errors.Wrap(err, interruptionClass(ctx), "retry wait interrupted")
		}
	}
}

// interruptionClass tells a spent deadline apart from a caller cancel
func interruptionClass(ctx context.Context) errors.ErrorType {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.ErrorTypeTimeout
	}
	return errors.ErrorTypeCancelled
}

// attempt performs one HTTP round trip and classifies the outcome
func (e *Executor) attempt(ctx context.Context, req *PageRequest) (*RawResponse, error) {
	pr := req
	if e.auth != nil {
		headers, err := e.auth.Headers(ctx)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to resolve auth headers")
		}
		if len(headers) > 0 {
			pr = req.Clone()
			if pr.Headers == nil {
				pr.Headers = make(map[string]string, len(headers))
			}
			for k, v := range headers {
				pr.Headers[k] = v
			}
		}
	}

	httpReq, err := pr.build(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body")
	}

	metrics.RequestDuration.WithLabelValues(statusClass(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &RawResponse{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
		}, nil
	}

	return nil, classifyStatus(resp.StatusCode, resp.Header, body)
}

// classifyStatus maps a non-2xx response onto the error taxonomy
func classifyStatus(status int, header http.Header, body []byte) error {
	snippet := string(body)
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}

	switch {
	case status == http.StatusTooManyRequests:
		e := errors.Newf(errors.ErrorTypeRateLimit, "API returned status 429: %s", snippet)
		if d, ok := parseRetryAfter(header.Get("Retry-After")); ok {
			e = e.WithRetryAfter(d)
		}
		return e
	case status == http.StatusRequestTimeout:
		return errors.Newf(errors.ErrorTypeTimeout, "API returned status 408: %s", snippet)
	case status >= 500:
		return errors.Newf(errors.ErrorTypeServer, "API returned status %d: %s", status, snippet)
	default:
		return errors.Newf(errors.ErrorTypeClient, "API returned status %d: %s", status, snippet)
	}
}

// classifyTransportError maps transport failures onto the error taxonomy
func classifyTransportError(err error) error {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "request timed out")
	}
	if err == context.DeadlineExceeded {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "request timed out")
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms
func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func statusClass(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetSleepFunc overrides the retry sleep, for tests
func (e *Executor) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	e.sleep = fn
}

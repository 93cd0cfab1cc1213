// Package transport wraps outbound HTTP calls with rate-limit and
// transient-failure retry. All remote clients (the record store and the
// issue trackers) share one Gate so a backoff observed by any caller
// pauses the whole process instead of each caller retrying on its own.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxRetries bounds the retry budget for one logical request.
	DefaultMaxRetries = 10
	// DefaultRetryDelay is the fixed backoff for 5xx and transport errors,
	// and the fallback when a 429 carries no Retry-After header.
	DefaultRetryDelay = 10 * time.Second
	// DefaultTimeout is the per-attempt HTTP timeout.
	DefaultTimeout = 60 * time.Second
)

// ErrRetryBudgetExceeded marks a request that stayed retryable past the
// retry budget. The last underlying error or status is wrapped alongside.
var ErrRetryBudgetExceeded = errors.New("retry budget exceeded")

// Retrying is an http.RoundTripper implementing the retry policy:
//
//	429           wait Retry-After (default 10s), retry
//	5xx           wait 10s, retry
//	409           wait a randomized 10-20s to desynchronize writers, retry
//	transport err wait 10s, retry
//	other 4xx     propagate immediately
//
// Waits go through the shared Gate, so concurrent callers pause together.
type Retrying struct {
	Base       http.RoundTripper
	Gate       *Gate
	MaxRetries int
	RetryDelay time.Duration

	logger *slog.Logger
}

// NewRetrying wraps base with the retry policy. A nil base uses
// http.DefaultTransport; a nil gate gets a private one.
func NewRetrying(base http.RoundTripper, gate *Gate, logger *slog.Logger) *Retrying {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	if gate == nil {
		gate = NewGate(logger)
	}
	return &Retrying{
		Base:       base,
		Gate:       gate,
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
		logger:     logger.With("component", "transport"),
	}
}

// Client returns an *http.Client using this transport.
func (t *Retrying) Client() *http.Client {
	return &http.Client{Transport: t, Timeout: DefaultTimeout}
}

// RoundTrip performs the request, retrying per the policy. Responses with
// retryable statuses are drained and retried; once the budget is exhausted
// the call fails with ErrRetryBudgetExceeded.
func (t *Retrying) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response

	op := func() error {
		if err := t.Gate.Wait(req.Context()); err != nil {
			return backoff.Permanent(err)
		}

		attempt, err := t.attempt(req)
		if err != nil {
			return err
		}

		delay, retryable := t.retryDelay(attempt)
		if !retryable {
			resp = attempt
			return nil
		}

		// The body of a retried attempt is never seen by the caller.
		io.Copy(io.Discard, attempt.Body) //nolint:errcheck
		attempt.Body.Close()              //nolint:errcheck

		t.logger.Info("retrying request",
			"status", attempt.StatusCode, "delay", delay, "url", req.URL.Redacted())
		t.Gate.Engage(delay)
		return fmt.Errorf("status %d from %s", attempt.StatusCode, req.URL.Redacted())
	}

	// The gate does the waiting, so the backoff itself contributes zero
	// delay; the library tracks the budget and Permanent classification.
	bo := backoff.WithContext(
		backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(t.maxRetries())),
		req.Context(),
	)
	if err := backoff.Retry(op, bo); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Unwrap()
		}
		return nil, fmt.Errorf("%w: %w", ErrRetryBudgetExceeded, err)
	}
	return resp, nil
}

// attempt issues one request, rewinding the body on retries.
func (t *Retrying) attempt(req *http.Request) (*http.Response, error) {
	r := req
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rewinding request body: %w", err))
		}
		r = req.Clone(req.Context())
		r.Body = body
	}

	resp, err := t.Base.RoundTrip(r)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, backoff.Permanent(err)
		}
		// Timeout, connection reset and friends are retryable.
		t.logger.Info("retrying request", "error", err, "delay", t.retryDelayBase())
		t.Gate.Engage(t.retryDelayBase())
		return nil, err
	}
	return resp, nil
}

// retryDelay classifies a response and returns the backoff to apply before
// the next attempt. retryable is false for final responses, including
// non-retryable 4xx.
func (t *Retrying) retryDelay(resp *http.Response) (delay time.Duration, retryable bool) {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		delay = t.retryDelayBase()
		if after := resp.Header.Get("Retry-After"); after != "" {
			if seconds, err := strconv.Atoi(after); err == nil {
				delay = time.Duration(seconds) * time.Second
			}
		}
		return delay, true
	case resp.StatusCode == http.StatusConflict:
		// Randomized so contending writers stop colliding.
		base := t.retryDelayBase()
		return base + time.Duration(rand.Int63n(int64(base))), true
	case resp.StatusCode >= 500:
		return t.retryDelayBase(), true
	default:
		return 0, false
	}
}

func (t *Retrying) maxRetries() int {
	if t.MaxRetries > 0 {
		return t.MaxRetries
	}
	return DefaultMaxRetries
}

func (t *Retrying) retryDelayBase() time.Duration {
	if t.RetryDelay > 0 {
		return t.RetryDelay
	}
	return DefaultRetryDelay
}

// Ensure the interface is satisfied.
var _ http.RoundTripper = (*Retrying)(nil)

// WithTestClock replaces the gate's timers; tests use it to observe
// engaged windows without sleeping.
func (g *Gate) WithTestClock(now func() time.Time, sleep func(context.Context, time.Duration) error, jitter func() time.Duration) *Gate {
	g.now = now
	g.sleep = sleep
	g.jitter = jitter
	return g
}

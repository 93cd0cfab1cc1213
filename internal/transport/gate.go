package transport

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Gate is a shared, per-process rate-limit gate. When any caller hits a
// backoff condition it closes the gate for the computed duration; every
// other caller waits for the gate before issuing its next request.
// Independent retries collapse into a single coordinated pause.
//
// There is one coordinating lock so only one caller computes a new backoff
// window at a time; checking whether the gate is open is cheap.
type Gate struct {
	mu    sync.Mutex
	until time.Time

	logger *slog.Logger

	// Injectable for tests.
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewGate creates an open gate.
func NewGate(logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		logger: logger.With("component", "transport"),
		now:    time.Now,
		sleep:  sleepCtx,
		jitter: func() time.Duration {
			// Stagger callers released together so they do not all
			// fire at once.
			return time.Duration(1+rand.Intn(10)) * time.Second
		},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Limited reports whether the gate is currently closed.
func (g *Gate) Limited() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now().Before(g.until)
}

// Engage closes the gate for d. If a longer window is already in effect
// the call is a no-op: the first caller to observe a backoff wins and
// siblings simply wait out the existing window.
func (g *Gate) Engage(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	deadline := g.now().Add(d)
	if deadline.After(g.until) {
		g.until = deadline
		g.logger.Info("rate limit engaged", "duration", d)
	}
}

// Wait blocks until the gate is open. Callers that actually had to wait
// sleep an extra randomized jitter before returning.
func (g *Gate) Wait(ctx context.Context) error {
	waited := false
	for {
		g.mu.Lock()
		remaining := g.until.Sub(g.now())
		g.mu.Unlock()
		if remaining <= 0 {
			break
		}
		waited = true
		if err := g.sleep(ctx, remaining); err != nil {
			return err
		}
	}
	if waited {
		return g.sleep(ctx, g.jitter())
	}
	return nil
}

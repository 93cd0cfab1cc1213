package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// testGate returns a gate whose sleeps complete instantly but are recorded,
// driven by a fake clock that jumps forward on every sleep.
func testGate(t *testing.T) (*Gate, *[]time.Duration) {
	t.Helper()
	var mu sync.Mutex
	var slept []time.Duration
	clock := time.Now()
	g := NewGate(nil)
	g.WithTestClock(
		func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return clock
		},
		func(_ context.Context, d time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			slept = append(slept, d)
			clock = clock.Add(d)
			return nil
		},
		func() time.Duration { return time.Millisecond },
	)
	return g, &slept
}

func newTestTransport(t *testing.T, base http.RoundTripper) (*Retrying, *[]time.Duration) {
	t.Helper()
	g, slept := testGate(t)
	tr := NewRetrying(base, g, nil)
	return tr, slept
}

func TestRetryAfterHonored(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	tr, slept := newTestTransport(t, nil)
	resp, err := tr.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var total time.Duration
	for _, d := range *slept {
		total += d
	}
	if total < 5*time.Second {
		t.Errorf("expected to wait at least 5s for Retry-After, waited %v", total)
	}
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tr, _ := newTestTransport(t, nil)
	resp, err := tr.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if calls != 1 {
		t.Errorf("404 must not be retried, got %d attempts", calls)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected the 404 to propagate, got %d", resp.StatusCode)
	}
}

func TestServerErrorRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr, _ := newTestTransport(t, nil)
	resp, err := tr.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestConflictBackoffRandomized(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr, slept := newTestTransport(t, nil)
	resp, err := tr.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	// The first recorded sleep is the engaged window.
	if len(*slept) == 0 {
		t.Fatal("expected a backoff sleep")
	}
	d := (*slept)[0]
	if d < 10*time.Second || d >= 20*time.Second {
		t.Errorf("409 backoff %v outside [10s,20s)", d)
	}
}

func TestRetryBudgetExhaustion(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g, _ := testGate(t)
	tr := NewRetrying(nil, g, nil)
	tr.MaxRetries = 3

	_, err := tr.Client().Get(srv.URL)
	if err == nil {
		t.Fatal("expected an error after budget exhaustion")
	}
	if !strings.Contains(err.Error(), "retry budget exceeded") {
		t.Errorf("expected retry budget error, got: %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 1 initial + 3 retries, got %d attempts", calls)
	}
}

func TestRequestBodyReplayedOnRetry(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr, _ := newTestTransport(t, nil)
	resp, err := tr.Client().Post(srv.URL, "application/json", strings.NewReader(`{"a":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(bodies) != 2 || bodies[0] != bodies[1] || bodies[1] != `{"a":1}` {
		t.Errorf("body not replayed intact across retry: %q", bodies)
	}
}

func TestGateSharedAcrossCallers(t *testing.T) {
	g, slept := testGate(t)
	g.Engage(30 * time.Second)

	if !g.Limited() {
		t.Fatal("gate should be closed after Engage")
	}
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if g.Limited() {
		t.Error("gate should reopen once the window passes")
	}
	if len(*slept) == 0 || (*slept)[0] != 30*time.Second {
		t.Errorf("expected a 30s wait, got %v", *slept)
	}
}

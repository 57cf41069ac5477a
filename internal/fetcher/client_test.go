package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingDegrader struct {
	mu      sync.Mutex
	calls   int
	reasons []string
}

func (d *countingDegrader) EnterDegraded(_ context.Context, reason string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.reasons = append(d.reasons, reason)
	return d.calls == 1
}

func (d *countingDegrader) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testClient(degrader Degrader) *Client {
	return NewClient(ClientOptions{
		Name:        "test",
		MaxAttempts: 5,
		BackoffUnit: time.Millisecond,
		Timeout:     time.Second,
		Degrader:    degrader,
	}, noopLogger())
}

func flakyServer(t *testing.T, failures int32) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n <= failures {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetchRecoversWithinBudget(t *testing.T) {
	for failures := int32(0); failures <= 4; failures++ {
		srv, hits := flakyServer(t, failures)
		degrader := &countingDegrader{}

		resp, err := testClient(degrader).Fetch(context.Background(), Request{URL: srv.URL})
		if err != nil {
			t.Fatalf("failures=%d: unexpected error %v", failures, err)
		}
		if string(resp.Body) != `{"ok":true}` {
			t.Fatalf("failures=%d: body %q", failures, resp.Body)
		}
		if got := atomic.LoadInt32(hits); got != failures+1 {
			t.Fatalf("failures=%d: hits %d", failures, got)
		}
		if degrader.count() != 0 {
			t.Fatalf("failures=%d: degraded mode entered", failures)
		}
	}
}

func TestFetchExhaustionDegradesOnce(t *testing.T) {
	srv, hits := flakyServer(t, 100)
	degrader := &countingDegrader{}

	_, err := testClient(degrader).Fetch(context.Background(), Request{URL: srv.URL})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("want ErrRetriesExhausted, got %v", err)
	}
	if got := atomic.LoadInt32(hits); got != 5 {
		t.Fatalf("hits = %d, want 5", got)
	}
	if degrader.count() != 1 {
		t.Fatalf("degrader calls = %d, want 1", degrader.count())
	}
	var status *StatusError
	if errors.As(err, &status) {
		t.Fatal("status error should be flattened into the exhaustion message")
	}
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *recordedSleeps) get() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func TestFetchBackoffSchedule(t *testing.T) {
	cases := []struct {
		name     string
		failures int32
		want     []time.Duration
	}{
		{"no failures", 0, nil},
		{"two failures", 2, []time.Duration{2 * time.Second, 4 * time.Second}},
		{"four failures", 4, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}},
		// No sleep follows the fifth and final attempt.
		{"exhausted", 100, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := flakyServer(t, tc.failures)
			client := NewClient(ClientOptions{Name: "test", MaxAttempts: 5, BackoffUnit: time.Second, Timeout: time.Second}, noopLogger())
			sleeps := &recordedSleeps{}
			client.sleep = sleeps.sleep

			_, _ = client.Fetch(context.Background(), Request{URL: srv.URL})

			got := sleeps.get()
			if len(got) != len(tc.want) {
				t.Fatalf("delays = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("delay %d = %s, want %s", i+1, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestFetchCancelledDoesNotDegrade(t *testing.T) {
	srv, _ := flakyServer(t, 100)
	degrader := &countingDegrader{}
	client := NewClient(ClientOptions{MaxAttempts: 5, BackoffUnit: time.Hour, Timeout: time.Second, Degrader: degrader}, noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Fetch(ctx, Request{URL: srv.URL})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if degrader.count() != 0 {
		t.Fatal("cancellation must not degrade")
	}
}

func TestFetchSendsQueryHeadersCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("accountType") != "UNIFIED" || r.URL.Query().Get("fixed") != "1" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.Header.Get("X-Test") != "yes" {
			t.Errorf("header missing")
		}
		if c, err := r.Cookie("secure-token"); err != nil || c.Value != "abc" {
			t.Errorf("cookie missing: %v", err)
		}
		if r.Header.Get("User-Agent") != "tracker/test" {
			t.Errorf("user agent = %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{MaxAttempts: 1, Timeout: time.Second, UserAgent: "tracker/test"}, noopLogger())
	_, err := client.Fetch(context.Background(), Request{
		URL:     srv.URL + "/path?fixed=1",
		Query:   url.Values{"accountType": {"UNIFIED"}},
		Header:  http.Header{"X-Test": {"yes"}},
		Cookies: []*http.Cookie{{Name: "secure-token", Value: "abc"}},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
}

func TestBlocking(t *testing.T) {
	if !Blocking(ErrCredentialExpired) || !Blocking(ErrDataShape) || !Blocking(ErrRetriesExhausted) {
		t.Fatal("credential, shape and exhaustion errors must block")
	}
	if Blocking(ErrConversionUnavailable) || Blocking(context.Canceled) {
		t.Fatal("conversion and cancellation must not block")
	}
}

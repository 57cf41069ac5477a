package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"balance-tracker/internal/alerting"
	"balance-tracker/internal/config"
	"balance-tracker/internal/freshness"
	"balance-tracker/internal/report"
	"balance-tracker/internal/sampler"
	"balance-tracker/internal/storage"
)

type stubBalance struct {
	value decimal.Decimal
	err   error
}

func (s stubBalance) FetchBalance(context.Context) (decimal.Decimal, error) {
	return s.value, s.err
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []alerting.Message
}

func (r *recordingNotifier) Notify(_ context.Context, msg alerting.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type fakeFactory struct {
	mu       sync.Mutex
	builds   int
	closed   int
	balance  stubBalance
	notifier *recordingNotifier
}

func (f *fakeFactory) build(cfg *config.Config, gate *freshness.Gate, ledger *storage.Ledger, logger zerolog.Logger) (*Components, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds++
	s := sampler.New(gate, f.balance, nil, ledger, logger)
	d := alerting.NewDispatcher(f.notifier, cfg.Alerting.Operators, cfg.Alerting.DefaultChat, logger)
	return NewComponents(s, d, func() error {
		f.mu.Lock()
		f.closed++
		f.mu.Unlock()
		return nil
	}), nil
}

func (f *fakeFactory) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds, f.closed
}

func testConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{LedgerIntervalMinutes: 30, NotifyIntervalMinutes: 30, NotifyEnabled: true},
		Alerting:  config.AlertingConfig{Operators: []string{"op"}, DefaultChat: "chat"},
		Report:    config.ReportConfig{DailyLimit: 30, MonthlyWindowDays: 365},
	}
}

func newTestService(t *testing.T, seed ...storage.Sample) (*Service, *fakeFactory, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore(seed...)
	factory := &fakeFactory{balance: stubBalance{value: decimal.NewFromInt(100)}, notifier: &recordingNotifier{}}
	svc, err := New(testConfig(), freshness.NewGate(zerolog.Nop()), storage.NewLedger(store), factory.build, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return svc, factory, store
}

func TestSampleNowDoesNotRecord(t *testing.T) {
	svc, _, store := newTestService(t)

	reading, err := svc.SampleNow(context.Background(), false)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if !reading.Primary.Equal(decimal.NewFromInt(100)) || reading.Recorded {
		t.Fatalf("reading = %+v", reading)
	}
	if store.Len() != 0 {
		t.Fatal("sample now must not touch the ledger")
	}
}

func TestDegradedModeGatesEverything(t *testing.T) {
	now := time.Now()
	svc, factory, _ := newTestService(t,
		storage.Sample{Timestamp: now.Add(-2 * time.Hour), Primary: decimal.NewFromInt(1)},
		storage.Sample{Timestamp: now.Add(-time.Hour), Primary: decimal.NewFromInt(2)},
	)

	if !svc.gate.EnterDegraded(context.Background(), "cookie expired") {
		t.Fatal("first entry should transition")
	}
	if factory.notifier.count() != 1 {
		t.Fatalf("operators alerted %d times, want 1", factory.notifier.count())
	}

	if _, err := svc.SampleNow(context.Background(), true); !errors.Is(err, freshness.ErrDegraded) {
		t.Fatalf("sample: want ErrDegraded, got %v", err)
	}
	if _, err := svc.Report(context.Background(), report.Request{}); !errors.Is(err, freshness.ErrDegraded) {
		t.Fatalf("report: want ErrDegraded, got %v", err)
	}

	if !svc.ClearDegraded(context.Background()) {
		t.Fatal("clear should report the gate was blocked")
	}
	if _, err := svc.Report(context.Background(), report.Request{}); err != nil {
		t.Fatalf("report after clear: %v", err)
	}
}

func TestLedgerAndNotifyTicks(t *testing.T) {
	svc, factory, store := newTestService(t)
	_, comps := svc.snapshot()
	ctx := context.Background()

	if err := svc.ledgerTick(ctx, comps, 0); err != nil {
		t.Fatalf("ledger tick: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("ledger tick wrote %d rows", store.Len())
	}

	if err := svc.notifyTick(ctx, comps); err != nil {
		t.Fatalf("notify tick: %v", err)
	}
	if store.Len() != 1 || factory.notifier.count() != 1 {
		t.Fatalf("notify tick: rows=%d messages=%d", store.Len(), factory.notifier.count())
	}

	svc.gate.EnterDegraded(ctx, "expired")
	before := factory.notifier.count()
	if err := svc.ledgerTick(ctx, comps, 0); err != nil {
		t.Fatalf("blocked ledger tick: %v", err)
	}
	if err := svc.notifyTick(ctx, comps); err != nil {
		t.Fatalf("blocked notify tick: %v", err)
	}
	if store.Len() != 1 || factory.notifier.count() != before {
		t.Fatal("blocked ticks must skip all work")
	}
}

func TestReloadWhileRunning(t *testing.T) {
	svc, factory, _ := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		svc.mu.RLock()
		running := svc.running
		svc.mu.RUnlock()
		if running {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("service did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	next := testConfig()
	next.Alerting.DefaultChat = "other-chat"
	if err := svc.Reload(context.Background(), next); err != nil {
		t.Fatalf("reload: %v", err)
	}

	builds, closed := factory.counts()
	if builds != 2 || closed != 1 {
		t.Fatalf("builds=%d closed=%d, want 2 and 1", builds, closed)
	}
	cfg, _ := svc.snapshot()
	if cfg.Alerting.DefaultChat != "other-chat" {
		t.Fatal("snapshot was not swapped")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestReloadWhenIdle(t *testing.T) {
	svc, factory, _ := newTestService(t)
	if err := svc.Reload(context.Background(), testConfig()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if builds, _ := factory.counts(); builds != 2 {
		t.Fatalf("builds = %d", builds)
	}
}

func TestRunSamplesOnStart(t *testing.T) {
	store := storage.NewMemoryStore()
	factory := &fakeFactory{balance: stubBalance{value: decimal.NewFromInt(100)}, notifier: &recordingNotifier{}}
	cfg := testConfig()
	cfg.Scheduler.SampleOnStart = true
	svc, err := New(cfg, freshness.NewGate(zerolog.Nop()), storage.NewLedger(store), factory.build, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no sample recorded at startup")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
}

func TestBuildComponentsRequiresExchangeCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.Exchange = config.ExchangeConfig{Mode: config.ModeCookie, CookieURL: "http://127.0.0.1:0"}
	gate := freshness.NewGate(zerolog.Nop())
	ledger := storage.NewLedger(storage.NewMemoryStore())

	if _, err := BuildComponents(cfg, gate, ledger, zerolog.Nop()); err == nil {
		t.Fatal("missing cookie token should be rejected")
	}
}

package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"balance-tracker/internal/config"
	"balance-tracker/internal/freshness"
	"balance-tracker/internal/storage"
)

func testApp(t *testing.T, cookieURL string) (*App, string) {
	t.Helper()
	ledgerPath := filepath.Join(t.TempDir(), "balance_data.csv")
	cfg := &config.Config{
		Exchange: config.ExchangeConfig{
			Mode:           config.ModeCookie,
			CookieURL:      cookieURL,
			CookieToken:    "tok",
			CookieAccount:  "ACCOUNT_TYPE_BOT",
			RequestTimeout: time.Second,
		},
		Fetcher:   config.FetcherConfig{MaxAttempts: 2, BackoffUnit: time.Millisecond},
		Scheduler: config.SchedulerConfig{LedgerIntervalMinutes: 30, NotifyIntervalMinutes: 30},
		Storage:   config.StorageConfig{Backend: config.BackendCSV, CSVPath: ledgerPath},
		Report:    config.ReportConfig{DailyLimit: 30, MonthlyWindowDays: 365},
	}
	return NewApp(cfg, "", zerolog.Nop()), ledgerPath
}

func seedLedger(t *testing.T, path string, samples ...storage.Sample) {
	t.Helper()
	store, err := storage.NewCSVStore(path)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	for _, s := range samples {
		if err := store.Append(context.Background(), s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func threeDays() []storage.Sample {
	base := time.Now().Add(-72 * time.Hour).Truncate(time.Hour)
	return []storage.Sample{
		{Timestamp: base, Primary: decimal.NewFromInt(100)},
		{Timestamp: base.Add(24 * time.Hour), Primary: decimal.NewFromInt(110), Secondary: decimal.NewNullDecimal(decimal.NewFromInt(9900))},
		{Timestamp: base.Add(48 * time.Hour), Primary: decimal.NewFromInt(120), ChangePct: decimal.NewNullDecimal(decimal.RequireFromString("9.09"))},
	}
}

func TestShow(t *testing.T) {
	a, path := testApp(t, "")
	seedLedger(t, path, threeDays()...)

	var out bytes.Buffer
	if err := a.Show(context.Background(), &out, ShowOptions{Limit: 2}); err != nil {
		t.Fatalf("show: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("want header plus 2 rows, got %q", out.String())
	}
	if !strings.Contains(lines[1], "120") || !strings.Contains(lines[1], "+9.09%") {
		t.Fatalf("newest row should come first: %q", lines[1])
	}
}

func TestExport(t *testing.T) {
	a, path := testApp(t, "")
	seedLedger(t, path, threeDays()...)

	dir := t.TempDir()
	opts := ExportOptions{
		CSVPath:    filepath.Join(dir, "out", "daily.csv"),
		PNGPath:    filepath.Join(dir, "out", "daily.png"),
		LedgerPath: filepath.Join(dir, "out", "ledger.csv"),
	}
	if err := a.Export(context.Background(), opts); err != nil {
		t.Fatalf("export: %v", err)
	}

	daily, err := os.ReadFile(opts.CSVPath)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if got := strings.Count(strings.TrimSpace(string(daily)), "\n"); got != 3 {
		t.Fatalf("daily csv has %d data rows, want 3:\n%s", got, daily)
	}

	ledger, err := os.ReadFile(opts.LedgerPath)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if !strings.HasPrefix(string(ledger), strings.Join(storage.Header, ",")) {
		t.Fatalf("ledger copy lacks header: %q", ledger)
	}

	info, err := os.Stat(opts.PNGPath)
	if err != nil || info.Size() == 0 {
		t.Fatalf("png not written: %v", err)
	}
}

func TestExportRequiresOutput(t *testing.T) {
	a, _ := testApp(t, "")
	if err := a.Export(context.Background(), ExportOptions{}); err == nil {
		t.Fatal("expected an error without outputs")
	}
}

func TestReport(t *testing.T) {
	a, path := testApp(t, "http://127.0.0.1:0")
	seedLedger(t, path, threeDays()...)

	var out bytes.Buffer
	if err := a.Report(context.Background(), &out, ReportOptions{}); err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(out.String(), "Daily (avg / min / max)") {
		t.Fatalf("report output: %q", out.String())
	}
}

func TestSampleRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"totalBalanceItems":[{"accountType":"ACCOUNT_TYPE_BOT","originBalance":"250.5"}]}}`))
	}))
	defer srv.Close()

	a, path := testApp(t, srv.URL)

	var out bytes.Buffer
	if err := a.Sample(context.Background(), &out, true); err != nil {
		t.Fatalf("sample: %v", err)
	}
	if !strings.Contains(out.String(), "250.5 USDT") || !strings.Contains(out.String(), "rate unavailable") {
		t.Fatalf("output: %q", out.String())
	}

	store, err := storage.NewCSVStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	samples, err := store.All(context.Background())
	if err != nil || len(samples) != 1 {
		t.Fatalf("ledger rows = %d, err = %v", len(samples), err)
	}
}

func TestSampleExpiredCookiePrintsDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"retCode":10007,"retMsg":"not logged in"}`))
	}))
	defer srv.Close()

	a, _ := testApp(t, srv.URL)

	var out bytes.Buffer
	if err := a.Sample(context.Background(), &out, false); err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(out.String(), "Sampling is paused") {
		t.Fatalf("degraded message missing: %q", out.String())
	}
}

func TestDegradedModeSharedBetweenCommands(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"retCode":10007,"retMsg":"not logged in"}`))
	}))
	defer srv.Close()

	first, path := testApp(t, srv.URL)
	first.Config.Freshness.StatePath = filepath.Join(t.TempDir(), "gate.json")
	seedLedger(t, path, threeDays()...)

	var out bytes.Buffer
	if err := first.Sample(context.Background(), &out, true); err == nil {
		t.Fatal("expected the expired cookie to fail")
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("exchange hits = %d, want 1", got)
	}

	second := NewApp(first.Config, "", zerolog.Nop())
	out.Reset()
	err := second.Sample(context.Background(), &out, true)
	if !errors.Is(err, freshness.ErrDegraded) {
		t.Fatalf("want ErrDegraded, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("a blocked gate must not contact the exchange, hits = %d", got)
	}
	if !strings.Contains(out.String(), "Sampling is paused") {
		t.Fatalf("degraded message missing: %q", out.String())
	}
	if err := second.Report(context.Background(), &out, ReportOptions{}); !errors.Is(err, freshness.ErrDegraded) {
		t.Fatalf("report: want ErrDegraded, got %v", err)
	}
}

func TestShowWithoutExchangeCredentials(t *testing.T) {
	a, path := testApp(t, "")
	a.Config.Exchange.CookieToken = ""
	seedLedger(t, path, threeDays()...)

	var out bytes.Buffer
	if err := a.Show(context.Background(), &out, ShowOptions{Limit: 1}); err != nil {
		t.Fatalf("show: %v", err)
	}
	if err := a.Export(context.Background(), ExportOptions{CSVPath: filepath.Join(t.TempDir(), "daily.csv")}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if err := a.Sample(context.Background(), &out, false); err == nil {
		t.Fatal("sampling without a cookie token should fail")
	}
}

package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"balance-tracker/internal/report"
	"balance-tracker/internal/storage"
)

// Export writes the daily aggregates as CSV and/or PNG, and optionally a raw
// copy of the ledger in its tabular layout.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" && opts.LedgerPath == "" {
		return errors.New("at least one of --csv, --png or --ledger must be provided")
	}
	if opts.From != nil && opts.To != nil && !opts.From.Before(*opts.To) {
		return errors.New("from must be before to")
	}

	ledger, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	defer ledger.Close()

	all, err := ledger.All(ctx)
	if err != nil {
		return err
	}
	samples := filterSamples(all, opts.From, opts.To)
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found for export window")
		return nil
	}

	daily := report.Daily(samples, time.Local)
	a.Logger.Info().Int("samples", len(samples)).Int("days", len(daily)).Msg("exporting ledger")

	if opts.LedgerPath != "" {
		if err := writeLedgerCSV(opts.LedgerPath, samples); err != nil {
			return err
		}
	}
	if opts.CSVPath != "" {
		if err := writeAggregatesCSV(opts.CSVPath, daily); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if len(daily) < 2 {
			return report.ErrInsufficientHistory
		}
		if err := writeAggregatesPNG(opts.PNGPath, daily); err != nil {
			return err
		}
	}
	return nil
}

func filterSamples(samples []storage.Sample, from, to *time.Time) []storage.Sample {
	out := make([]storage.Sample, 0, len(samples))
	for _, s := range samples {
		if from != nil && s.Timestamp.Before(*from) {
			continue
		}
		if to != nil && !s.Timestamp.Before(*to) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func writeLedgerCSV(path string, samples []storage.Sample) error {
	records := make([][]string, 0, len(samples)+1)
	records = append(records, storage.Header)
	for _, s := range samples {
		records = append(records, storage.EncodeRow(s))
	}
	return writeCSV(path, records)
}

func writeAggregatesCSV(path string, daily []report.Aggregate) error {
	records := make([][]string, 0, len(daily)+1)
	records = append(records, []string{"date", "avg", "min", "max", "samples"})
	for _, agg := range daily {
		records = append(records, []string{
			agg.Start.Format("2006-01-02"),
			agg.Avg.StringFixed(4),
			agg.Min.String(),
			agg.Max.String(),
			strconv.Itoa(agg.Count),
		})
	}
	return writeCSV(path, records)
}

func writeCSV(path string, records [][]string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(records); err != nil {
		return err
	}
	return writer.Error()
}

func writeAggregatesPNG(path string, daily []report.Aggregate) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(daily))
	avg := make([]float64, len(daily))
	lo := make([]float64, len(daily))
	hi := make([]float64, len(daily))
	for i, agg := range daily {
		x[i] = agg.Start
		avg[i] = agg.Avg.InexactFloat64()
		lo[i] = agg.Min.InexactFloat64()
		hi[i] = agg.Max.InexactFloat64()
	}

	balanceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Balance (USDT)",
			ValueFormatter: balanceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{Name: "Average", XValues: x, YValues: avg},
			chart.TimeSeries{Name: "Min", XValues: x, YValues: lo},
			chart.TimeSeries{Name: "Max", XValues: x, YValues: hi},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

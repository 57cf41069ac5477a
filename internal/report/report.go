package report

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"balance-tracker/internal/storage"
)

// ErrInsufficientHistory means the window holds fewer than two samples.
var ErrInsufficientHistory = errors.New("insufficient history")

// Aggregate summarises the primary balance over one calendar period.
type Aggregate struct {
	Start time.Time
	Avg   decimal.Decimal
	Min   decimal.Decimal
	Max   decimal.Decimal
	Count int
}

// Request bounds a report. Zero From/To leave that side open; To is exclusive.
type Request struct {
	From              time.Time
	To                time.Time
	DailyLimit        int
	MonthlyWindowDays int
	IntradayPeriod    int
}

// Report is the aggregate view handed to presentation.
type Report struct {
	From     time.Time
	To       time.Time
	Count    int
	First    storage.Sample
	Latest   storage.Sample
	Daily    []Aggregate
	Monthly  []Aggregate
	Intraday []storage.Sample
}

type bucket struct {
	start    time.Time
	sum      decimal.Decimal
	min, max decimal.Decimal
	count    int
}

func (b *bucket) add(v decimal.Decimal) {
	if b.count == 0 {
		b.min, b.max = v, v
	} else {
		b.min = decimal.Min(b.min, v)
		b.max = decimal.Max(b.max, v)
	}
	b.sum = b.sum.Add(v)
	b.count++
}

func group(samples []storage.Sample, key func(time.Time) time.Time) []Aggregate {
	buckets := make(map[time.Time]*bucket)
	for _, s := range samples {
		k := key(s.Timestamp)
		b, ok := buckets[k]
		if !ok {
			b = &bucket{start: k}
			buckets[k] = b
		}
		b.add(s.Primary)
	}

	out := make([]Aggregate, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, Aggregate{
			Start: b.start,
			Avg:   b.sum.Div(decimal.NewFromInt(int64(b.count))),
			Min:   b.min,
			Max:   b.max,
			Count: b.count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Daily groups samples by local calendar date, ascending.
func Daily(samples []storage.Sample, loc *time.Location) []Aggregate {
	return group(samples, func(t time.Time) time.Time {
		t = t.In(loc)
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	})
}

// Monthly groups samples from the trailing windowDays by calendar month, ascending.
func Monthly(samples []storage.Sample, now time.Time, windowDays int, loc *time.Location) []Aggregate {
	cutoff := now.AddDate(0, 0, -windowDays)
	recent := make([]storage.Sample, 0, len(samples))
	for _, s := range samples {
		if !s.Timestamp.Before(cutoff) {
			recent = append(recent, s)
		}
	}
	return group(recent, func(t time.Time) time.Time {
		t = t.In(loc)
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	})
}

// Last keeps the n most recent aggregates. n <= 0 returns all of them.
func Last(aggs []Aggregate, n int) []Aggregate {
	if n <= 0 || n >= len(aggs) {
		return aggs
	}
	return aggs[len(aggs)-n:]
}

// Intraday returns the samples of day's local date captured on an aligned
// minute boundary of periodMinutes.
func Intraday(samples []storage.Sample, day time.Time, periodMinutes int) []storage.Sample {
	if periodMinutes <= 0 {
		periodMinutes = 30
	}
	y, m, d := day.Date()
	out := make([]storage.Sample, 0)
	for _, s := range samples {
		ts := s.Timestamp.In(day.Location())
		sy, sm, sd := ts.Date()
		if sy != y || sm != m || sd != d {
			continue
		}
		if ts.Minute()%periodMinutes == 0 {
			out = append(out, s)
		}
	}
	return out
}

// Build filters samples to the request window and computes every series.
func Build(samples []storage.Sample, req Request, now time.Time) (Report, error) {
	window := make([]storage.Sample, 0, len(samples))
	for _, s := range samples {
		if !req.From.IsZero() && s.Timestamp.Before(req.From) {
			continue
		}
		if !req.To.IsZero() && !s.Timestamp.Before(req.To) {
			continue
		}
		window = append(window, s)
	}
	if len(window) < 2 {
		return Report{}, ErrInsufficientHistory
	}

	windowDays := req.MonthlyWindowDays
	if windowDays <= 0 {
		windowDays = 365
	}
	loc := now.Location()

	return Report{
		From:     req.From,
		To:       req.To,
		Count:    len(window),
		First:    window[0],
		Latest:   window[len(window)-1],
		Daily:    Last(Daily(window, loc), req.DailyLimit),
		Monthly:  Monthly(window, now, windowDays, loc),
		Intraday: Intraday(window, now, req.IntradayPeriod),
	}, nil
}

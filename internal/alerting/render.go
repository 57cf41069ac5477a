package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"balance-tracker/internal/report"
	"balance-tracker/internal/sampler"
)

const dateLayout = "2006-01-02 15:04:05"

// RenderReading formats a balance summary.
func RenderReading(r sampler.Reading) string {
	b := strings.Builder{}
	b.WriteString(fmt.Sprintf("Date: %s\n", r.Timestamp.Format(dateLayout)))
	if r.Secondary.Valid {
		b.WriteString(fmt.Sprintf("Balance: %s USDT = %s RUB\n", r.Primary.String(), r.Secondary.Decimal.StringFixed(2)))
	} else {
		b.WriteString(fmt.Sprintf("Balance: %s USDT (rate unavailable)\n", r.Primary.String()))
	}
	b.WriteString(fmt.Sprintf("24h change: %s", FormatChange(r.ChangePct)))
	return b.String()
}

// FormatChange renders a signed percentage with two decimals, or n/a.
func FormatChange(change decimal.NullDecimal) string {
	if !change.Valid {
		return "n/a"
	}
	sign := ""
	if !change.Decimal.IsNegative() {
		sign = "+"
	}
	return sign + change.Decimal.StringFixed(2) + "%"
}

// RenderDegraded is the operator alert sent when sampling is suspended.
func RenderDegraded(reason string, since time.Time) string {
	return fmt.Sprintf("Credentials expired or the exchange is unreachable since %s (%s). "+
		"Sampling is paused until an operator renews the credentials and clears degraded mode.",
		since.Format(dateLayout), reason)
}

// RenderReport formats aggregate series as plain text.
func RenderReport(rep report.Report) string {
	b := strings.Builder{}
	b.WriteString(fmt.Sprintf("Samples: %d (%s .. %s)\n", rep.Count,
		rep.First.Timestamp.Format(dateLayout), rep.Latest.Timestamp.Format(dateLayout)))

	if len(rep.Intraday) > 0 {
		b.WriteString("\nToday\n")
		for _, s := range rep.Intraday {
			b.WriteString(fmt.Sprintf("  %s  %s\n", s.Timestamp.Format("15:04"), s.Primary.StringFixed(2)))
		}
	}

	writeSeries(&b, "Daily", "2006-01-02", rep.Daily)
	writeSeries(&b, "Monthly", "2006-01", rep.Monthly)
	return strings.TrimRight(b.String(), "\n")
}

func writeSeries(b *strings.Builder, title, layout string, aggs []report.Aggregate) {
	if len(aggs) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf("\n%s (avg / min / max)\n", title))
	for _, a := range aggs {
		b.WriteString(fmt.Sprintf("  %s  %s / %s / %s\n", a.Start.Format(layout),
			a.Avg.StringFixed(2), a.Min.StringFixed(2), a.Max.StringFixed(2)))
	}
}

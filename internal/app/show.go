package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"balance-tracker/internal/alerting"
	"balance-tracker/internal/storage"
)

// Show prints the most recent ledger rows, newest first.
func (a *App) Show(ctx context.Context, out io.Writer, opts ShowOptions) error {
	ledger, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	defer ledger.Close()

	samples, err := ledger.Recent(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(out, "no samples found")
		return nil
	}

	writeSamples(out, samples)
	return nil
}

func writeSamples(out io.Writer, samples []storage.Sample) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (local)\tUSDT\tRUB\t24h change")
	for _, sample := range samples {
		secondary := storage.UnavailableMarker
		if sample.Secondary.Valid {
			secondary = sample.Secondary.Decimal.StringFixed(2)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			sample.Timestamp.Format(storage.TimestampLayout),
			sample.Primary.String(),
			secondary,
			alerting.FormatChange(sample.ChangePct),
		)
	}
	writer.Flush()
}

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"balance-tracker/internal/alerting"
	"balance-tracker/internal/freshness"
	"balance-tracker/internal/report"
)

// Sample takes one reading and prints the summary.
func (a *App) Sample(ctx context.Context, out io.Writer, record bool) error {
	svc, cleanup, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	reading, err := svc.SampleNow(ctx, record)
	if err != nil {
		if state, reason, since := svc.Status(); state == freshness.StateWaitingForRenewal {
			fmt.Fprintln(out, alerting.RenderDegraded(reason, since))
		}
		return err
	}

	fmt.Fprintln(out, alerting.RenderReading(reading))
	return nil
}

// Report prints daily, monthly and intraday aggregates.
func (a *App) Report(ctx context.Context, out io.Writer, opts ReportOptions) error {
	svc, cleanup, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	req := report.Request{DailyLimit: opts.DailyLimit}
	if opts.All {
		req.DailyLimit = -1
	}
	if opts.From != nil {
		req.From = *opts.From
	}
	if opts.To != nil {
		req.To = *opts.To
	}
	if !req.From.IsZero() && !req.To.IsZero() && !req.From.Before(req.To) {
		return errors.New("from must be before to")
	}

	rep, err := svc.Report(ctx, req)
	if errors.Is(err, report.ErrInsufficientHistory) {
		fmt.Fprintln(out, "not enough samples to build a report")
		return nil
	}
	if err != nil {
		return err
	}

	a.Logger.Debug().Int("samples", rep.Count).Time("generated_at", time.Now()).Msg("report built")
	fmt.Fprintln(out, alerting.RenderReport(rep))
	return nil
}

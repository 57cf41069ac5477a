package alerting

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"balance-tracker/internal/sampler"
)

// Dispatcher addresses messages to operators and the default recipient.
type Dispatcher struct {
	notifier    Notifier
	operators   []string
	defaultChat string
	logger      zerolog.Logger
	now         func() time.Time
}

// NewDispatcher wraps a sink. A nil notifier makes every send a no-op.
func NewDispatcher(notifier Notifier, operators []string, defaultChat string, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		notifier:    notifier,
		operators:   operators,
		defaultChat: defaultChat,
		logger:      logger.With().Str("component", "dispatcher").Logger(),
		now:         time.Now,
	}
}

// Enabled reports whether a sink is configured.
func (d *Dispatcher) Enabled() bool {
	return d != nil && d.notifier != nil
}

// Degraded alerts every operator. Failures are logged and dropped.
func (d *Dispatcher) Degraded(ctx context.Context, reason string) {
	if !d.Enabled() {
		return
	}
	now := d.now()
	text := RenderDegraded(reason, now)
	for _, op := range d.operators {
		msg := Message{Recipient: op, Kind: KindDegraded, Text: text, CreatedAt: now}
		if err := d.notifier.Notify(ctx, msg); err != nil {
			d.logger.Warn().Err(err).Str("operator", op).Msg("degraded alert not delivered")
		}
	}
}

// Summary sends a reading to the default recipient.
func (d *Dispatcher) Summary(ctx context.Context, r sampler.Reading) error {
	if !d.Enabled() || d.defaultChat == "" {
		return nil
	}
	return d.notifier.Notify(ctx, Message{
		Recipient: d.defaultChat,
		Kind:      KindSummary,
		Text:      RenderReading(r),
		CreatedAt: d.now(),
	})
}

package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"balance-tracker/internal/config"
	"balance-tracker/internal/freshness"
	"balance-tracker/internal/logging"
	"balance-tracker/internal/service"
	"balance-tracker/internal/storage"
	"balance-tracker/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, configPath string, logger zerolog.Logger) *App {
	return &App{Config: cfg, ConfigPath: configPath, Logger: logger}
}

func (a *App) openLedger(ctx context.Context) (*storage.Ledger, error) {
	return storage.Open(ctx, a.Config.Storage, logging.Component(a.Logger, "storage"))
}

// openGate returns the freshness gate. With a state path configured every
// process shares it, so one-shot commands honour the daemon's degraded mode.
func (a *App) openGate() *freshness.Gate {
	if path := a.Config.Freshness.StatePath; path != "" {
		return freshness.NewSharedGate(freshness.NewFileStore(path), a.Logger)
	}
	return freshness.NewGate(a.Logger)
}

// openService wires the ledger, the freshness gate and the service.
// The returned cleanup closes both.
func (a *App) openService(ctx context.Context) (*service.Service, func(), error) {
	ledger, err := a.openLedger(ctx)
	if err != nil {
		return nil, nil, err
	}

	gate := a.openGate()
	svc, err := service.New(a.Config, gate, ledger, nil, a.Logger)
	if err != nil {
		ledger.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := svc.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("closing service components failed")
		}
		if err := ledger.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("closing ledger failed")
		}
	}
	return svc, cleanup, nil
}

// Run executes the long-running sampler. SIGHUP reloads the configuration
// file and SIGUSR1 clears degraded mode.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, cleanup, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	operator := make(chan os.Signal, 1)
	signal.Notify(operator, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(operator)
	go a.handleOperatorSignals(ctx, svc, operator)

	a.Logger.Info().
		Str("build", version.String()).
		Str("mode", a.Config.Exchange.Mode).
		Str("backend", a.Config.Storage.Backend).
		Int("ledger_interval_minutes", a.Config.Scheduler.LedgerIntervalMinutes).
		Int("notify_interval_minutes", a.Config.Scheduler.NotifyIntervalMinutes).
		Msg("starting balance tracker")

	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("balance tracker stopped")
	return nil
}

func (a *App) handleOperatorSignals(ctx context.Context, svc *service.Service, signals <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			switch sig {
			case syscall.SIGHUP:
				a.reload(ctx, svc)
			case syscall.SIGUSR1:
				if svc.ClearDegraded(ctx) {
					a.Logger.Info().Msg("degraded mode cleared by operator")
				} else {
					a.Logger.Info().Msg("clear requested but sampling was not paused")
				}
			}
		}
	}
}

func (a *App) reload(ctx context.Context, svc *service.Service) {
	cfg, err := config.Load(a.ConfigPath)
	if err != nil {
		a.Logger.Error().Err(err).Msg("reload rejected: invalid configuration")
		return
	}
	if cfg.Storage != a.Config.Storage || cfg.Freshness != a.Config.Freshness {
		a.Logger.Warn().Msg("storage or freshness settings changed; they take effect on restart")
	}
	start := time.Now()
	if err := svc.Reload(ctx, cfg); err != nil {
		a.Logger.Error().Err(err).Msg("reload failed")
		return
	}
	a.Logger.Info().Dur("took", time.Since(start)).Msg("configuration reloaded")
}

// ExportOptions hold parameters for exporting the ledger.
type ExportOptions struct {
	From       *time.Time
	To         *time.Time
	PNGPath    string
	CSVPath    string
	LedgerPath string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ReportOptions configure the report command.
type ReportOptions struct {
	From       *time.Time
	To         *time.Time
	DailyLimit int
	All        bool
}

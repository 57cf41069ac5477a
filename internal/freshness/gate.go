package freshness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrDegraded is returned by gated operations while the gate is blocked.
var ErrDegraded = errors.New("waiting for credential renewal")

// State is the gate position.
type State int32

const (
	StateNormal State = iota
	StateWaitingForRenewal
)

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "NORMAL":
		*s = StateNormal
	case "WAITING_FOR_RENEWAL":
		*s = StateWaitingForRenewal
	default:
		return fmt.Errorf("unknown gate state %q", text)
	}
	return nil
}

func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateWaitingForRenewal:
		return "WAITING_FOR_RENEWAL"
	default:
		return "UNKNOWN"
	}
}

// AlertFunc is invoked once per transition into degraded mode.
type AlertFunc func(ctx context.Context, reason string)

// Gate suspends all sampling until an operator clears it. Safe for concurrent use.
type Gate struct {
	mu      sync.Mutex
	state   State
	reason  string
	since   time.Time
	onAlert AlertFunc
	store   Store
	now     func() time.Time
	logger  zerolog.Logger
}

// NewGate returns a gate in the NORMAL state.
func NewGate(logger zerolog.Logger) *Gate {
	return &Gate{
		state:  StateNormal,
		now:    time.Now,
		logger: logger.With().Str("component", "freshness_gate").Logger(),
	}
}

// NewSharedGate returns a gate whose state lives in store. Every read and
// transition goes through the store, so separate processes agree on it.
func NewSharedGate(store Store, logger zerolog.Logger) *Gate {
	g := NewGate(logger)
	g.store = store
	g.mu.Lock()
	g.refreshLocked()
	g.mu.Unlock()
	return g
}

// refreshLocked pulls the shared state. On a read failure the last known
// state is kept.
func (g *Gate) refreshLocked() {
	if g.store == nil {
		return
	}
	snap, err := g.store.Load()
	if err != nil {
		g.logger.Warn().Err(err).Msg("reading shared gate state failed; using last known state")
		return
	}
	g.state = snap.State
	g.reason = snap.Reason
	g.since = snap.Since
}

func (g *Gate) persistLocked() {
	if g.store == nil {
		return
	}
	if err := g.store.Save(Snapshot{State: g.state, Reason: g.reason, Since: g.since}); err != nil {
		g.logger.Error().Err(err).Msg("persisting gate state failed")
	}
}

// SetAlert installs the operator broadcast hook. Reload swaps it for the new sinks.
func (g *Gate) SetAlert(fn AlertFunc) {
	g.mu.Lock()
	g.onAlert = fn
	g.mu.Unlock()
}

// Blocked reports whether sampling is suspended.
func (g *Gate) Blocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshLocked()
	return g.state == StateWaitingForRenewal
}

// Status returns the state, the reason recorded on entry and when it happened.
func (g *Gate) Status() (State, string, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshLocked()
	return g.state, g.reason, g.since
}

// EnterDegraded blocks the gate. It reports true only for the call that
// performed the transition; only that call alerts operators.
func (g *Gate) EnterDegraded(ctx context.Context, reason string) bool {
	g.mu.Lock()
	g.refreshLocked()
	if g.state == StateWaitingForRenewal {
		g.mu.Unlock()
		g.logger.Debug().Str("reason", reason).Msg("already waiting for renewal")
		return false
	}
	g.state = StateWaitingForRenewal
	g.reason = reason
	g.since = g.now()
	g.persistLocked()
	alert := g.onAlert
	g.mu.Unlock()

	g.logger.Error().Str("reason", reason).Msg("entering degraded mode; sampling suspended until cleared")
	if alert != nil {
		alert(ctx, reason)
	}
	return true
}

// Clear returns the gate to NORMAL. It does not check that the credential was
// actually renewed. Reports whether the gate was blocked.
func (g *Gate) Clear() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshLocked()
	if g.state == StateNormal {
		return false
	}
	g.logger.Info().Str("reason", g.reason).Dur("blocked_for", g.now().Sub(g.since)).Msg("degraded mode cleared")
	g.state = StateNormal
	g.reason = ""
	g.since = time.Time{}
	g.persistLocked()
	return true
}

package action

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atlas-assistant/cortex/internal/profile"
)

// ParentalStore is the slice of the profile store the dispatcher needs.
type ParentalStore interface {
	GetParental(ctx context.Context, childID string) (*profile.ParentalControls, error)
}

// HitRecorder persists action usage so match priority survives restarts.
type HitRecorder interface {
	RecordActionHit(ctx context.Context, actionID string, at time.Time) error
}

// Result is the outcome of a dispatch.
type Result struct {
	// Response is the rendered reply text.
	Response string

	// Refused is true when the parental gate short-circuited the handler.
	// The matched layer stays "action" either way.
	Refused bool
}

// Dispatcher runs matched actions through the parental gate and the
// integration handler.
type Dispatcher struct {
	registry *Registry
	parental ParentalStore
	hits     HitRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithParentalStore enables parental-control lookups for strict-tier users.
func WithParentalStore(s ParentalStore) DispatcherOption {
	return func(d *Dispatcher) { d.parental = s }
}

// WithHitRecorder persists hit counts through the given recorder.
func WithHitRecorder(h HitRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.hits = h }
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// NewDispatcher constructs a dispatcher over the registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch checks the speaker's policy against the action's domain, then
// invokes the handler and renders the response template. A policy refusal
// returns Refused=true with a polite reply and never calls the handler.
func (d *Dispatcher) Dispatch(ctx context.Context, m Match, ident *profile.Identity) (Result, error) {
	now := d.now()
	if refusal, refused := d.gate(ctx, m.Action, ident, now); refused {
		return Result{Response: refusal, Refused: true}, nil
	}

	handler, ok := d.registry.Handler(m.Action.HandlerName)
	if !ok {
		return Result{}, fmt.Errorf("action: no handler %q for %q", m.Action.HandlerName, m.Action.ID)
	}
	result, err := handler(ctx, m.Params)
	if err != nil {
		return Result{}, fmt.Errorf("action: dispatch %q: %w", m.Action.ID, err)
	}

	m.Action.HitCount++
	m.Action.LastHit = now
	if d.hits != nil {
		if err := d.hits.RecordActionHit(ctx, m.Action.ID, now); err != nil {
			d.logger.Warn("failed to persist action hit", "action_id", m.Action.ID, "error", err)
		}
	}

	return Result{Response: RenderTemplate(m.Action.Template, m.Params, result)}, nil
}

// gate applies the parental policy. Only strict-tier speakers are gated;
// lookup failures refuse rather than allow.
func (d *Dispatcher) gate(ctx context.Context, a *Action, ident *profile.Identity, now time.Time) (string, bool) {
	if ident == nil || ident.Tier(now) != profile.TierStrict || d.parental == nil {
		return "", false
	}
	controls, err := d.parental.GetParental(ctx, ident.UserID)
	if err != nil {
		d.logger.Warn("parental lookup failed, refusing action",
			"user_id", ident.UserID, "action_id", a.ID, "error", err)
		return "Sorry, I can't do that right now.", true
	}
	if controls == nil {
		return "", false
	}
	if !controls.AllowsDomain(a.Domain) {
		return "Sorry, that's not something I can do for you. Ask a grown-up to help.", true
	}
	if controls.InQuietHours(now) {
		return "It's quiet time right now — let's try that again later.", true
	}
	return "", false
}

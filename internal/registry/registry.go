// Package registry routes model calls to providers by role.
//
// Each role (fast, standard, thinking, embed, tts, transcribe) holds an
// ordered candidate list. Calls go to the first healthy candidate and fall
// over down the list: transient failures retry with bounded backoff before
// moving on, permanent failures move on immediately. A periodic health
// cadence demotes candidates that fail their probe and re-promotes them
// when they recover, so a flapping backend stops absorbing first-attempt
// latency. The embed role is never empty — when no backend is registered,
// an in-process hashing embedder serves it at degraded quality.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atlas-assistant/cortex/pkg/provider/embeddings"
	"github.com/atlas-assistant/cortex/pkg/provider/embeddings/hashed"
	"github.com/atlas-assistant/cortex/pkg/provider/llm"
	"github.com/atlas-assistant/cortex/pkg/provider/stt"
	"github.com/atlas-assistant/cortex/pkg/provider/tts"
	"github.com/atlas-assistant/cortex/pkg/types"
)

// ChatRoles lists the roles backed by chat-completion providers.
func ChatRoles() []types.Role {
	return []types.Role{types.RoleFast, types.RoleStandard, types.RoleThinking}
}

// Pinger is an optional interface a provider can implement to participate
// in the active health cadence. Providers without it are demoted by
// call-time failures and re-promoted optimistically after a recovery
// window.
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	defaultProbeInterval = 30 * time.Second
	defaultRetryBackoff  = 250 * time.Millisecond
	probeTimeout         = 5 * time.Second
	recoveryWindow       = time.Minute

	// demoteAfter is the consecutive call failures that mark a candidate
	// unhealthy outside the probe cadence.
	demoteAfter = 3

	// transientRetries is the extra attempts a transient error earns on the
	// same candidate before fallover.
	transientRetries = 2
)

// candidate pairs a provider value with its health state.
type candidate[T any] struct {
	name  string
	value T

	mu        sync.Mutex
	healthy   bool
	failures  int
	demotedAt time.Time
}

func (c *candidate[T]) isHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// recordFailure counts one failed call and reports whether this call
// demoted the candidate.
func (c *candidate[T]) recordFailure(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.healthy && c.failures >= demoteAfter {
		c.healthy = false
		c.demotedAt = now
		return true
	}
	return false
}

// recordSuccess resets the failure streak and reports whether this call
// re-promoted the candidate.
func (c *candidate[T]) recordSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	if !c.healthy {
		c.healthy = true
		return true
	}
	return false
}

// setHealthy applies a probe verdict and reports whether the state flipped.
func (c *candidate[T]) setHealthy(healthy bool, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.healthy == healthy {
		return false
	}
	c.healthy = healthy
	c.failures = 0
	if !healthy {
		c.demotedAt = now
	}
	return true
}

// readyForRetry reports whether a demoted candidate without a Ping method
// has sat out long enough to be tried again.
func (c *candidate[T]) readyForRetry(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.healthy && now.Sub(c.demotedAt) >= recoveryWindow
}

// slot is one role's ordered candidate list.
type slot[T any] struct {
	mu         sync.RWMutex
	candidates []*candidate[T]
}

func (s *slot[T]) add(name string, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, &candidate[T]{
		name:    name,
		value:   value,
		healthy: true,
	})
}

// replace swaps the named candidate for a fresh one in the same position,
// resetting its health state. Unknown names are prepended so the new
// provider takes priority.
func (s *slot[T]) replace(name string, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := &candidate[T]{name: name, value: value, healthy: true}
	for i, c := range s.candidates {
		if c.name == name {
			s.candidates[i] = fresh
			return
		}
	}
	s.candidates = append([]*candidate[T]{fresh}, s.candidates...)
}

func (s *slot[T]) empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candidates) == 0
}

// ordered returns healthy candidates in registration order followed by the
// demoted ones. Demoted candidates stay reachable as a last resort so a
// fleet-wide outage degrades to slow answers instead of none.
func (s *slot[T]) ordered() []*candidate[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*candidate[T], 0, len(s.candidates))
	for _, c := range s.candidates {
		if c.isHealthy() {
			out = append(out, c)
		}
	}
	for _, c := range s.candidates {
		if !c.isHealthy() {
			out = append(out, c)
		}
	}
	return out
}

func (s *slot[T]) healthyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.candidates {
		if c.isHealthy() {
			n++
		}
	}
	return n
}

// Registry holds the per-role candidate lists. Register candidates at
// startup, then hand the role views (Chat, Embedder, Synthesizer,
// Transcriber) to the components that need them.
type Registry struct {
	chat map[types.Role]*slot[llm.Provider]

	embedMu sync.Mutex
	embed   *slot[embeddings.Provider]

	ttsSlot *slot[tts.Provider]
	sttSlot *slot[stt.Provider]

	probeInterval time.Duration
	retryBackoff  time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger for demotion and fallover events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithProbeInterval overrides the health cadence period.
func WithProbeInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.probeInterval = d
		}
	}
}

// WithRetryBackoff overrides the base backoff for transient retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.retryBackoff = d
		}
	}
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		chat: map[types.Role]*slot[llm.Provider]{
			types.RoleFast:     {},
			types.RoleStandard: {},
			types.RoleThinking: {},
		},
		embed:         &slot[embeddings.Provider]{},
		ttsSlot:       &slot[tts.Provider]{},
		sttSlot:       &slot[stt.Provider]{},
		probeInterval: defaultProbeInterval,
		retryBackoff:  defaultRetryBackoff,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterChat appends a chat-completion candidate to role. Candidates are
// tried in registration order.
func (r *Registry) RegisterChat(role types.Role, name string, p llm.Provider) error {
	s, ok := r.chat[role]
	if !ok {
		return fmt.Errorf("registry: %q is not a chat role", role)
	}
	s.add(name, p)
	return nil
}

// ReplaceChat swaps the named candidate's provider in place, keeping its
// position in the fallback order. The admin models endpoint goes through
// here when a role's model changes at runtime.
func (r *Registry) ReplaceChat(role types.Role, name string, p llm.Provider) error {
	s, ok := r.chat[role]
	if !ok {
		return fmt.Errorf("registry: %q is not a chat role", role)
	}
	s.replace(name, p)
	return nil
}

// RegisterEmbedder appends an embedding candidate. All candidates for the
// embed role must produce vectors of the same dimensionality; mixing
// spaces breaks every stored similarity.
func (r *Registry) RegisterEmbedder(name string, p embeddings.Provider) {
	r.embed.add(name, p)
}

// RegisterSynthesizer appends a speech-synthesis candidate.
func (r *Registry) RegisterSynthesizer(name string, p tts.Provider) {
	r.ttsSlot.add(name, p)
}

// RegisterTranscriber appends a speech-to-text candidate.
func (r *Registry) RegisterTranscriber(name string, p stt.Provider) {
	r.sttSlot.add(name, p)
}

// Chat returns the llm.Provider view of a chat role. A role with no
// candidates of its own borrows the standard list, so an unconfigured
// fast or thinking role degrades to the main model instead of failing.
func (r *Registry) Chat(role types.Role) llm.Provider {
	return &chatRole{reg: r, role: role}
}

// Embedder returns the embeddings.Provider view of the embed role. When no
// backend was registered a deterministic in-process hashing embedder is
// installed so vectors are degraded, never absent.
func (r *Registry) Embedder() embeddings.Provider {
	r.embedMu.Lock()
	if r.embed.empty() {
		r.logger.Warn("no embed provider configured, falling back to hashed embeddings")
		r.embed.add("hashed", hashed.New(hashed.DefaultDimensions))
	}
	r.embedMu.Unlock()
	return &embedRole{reg: r}
}

// Synthesizer returns the tts.Provider view of the tts role.
func (r *Registry) Synthesizer() tts.Provider {
	return &ttsRole{reg: r}
}

// Transcriber returns the stt.Provider view of the transcribe role.
func (r *Registry) Transcriber() stt.Provider {
	return &sttRole{reg: r}
}

// Start launches the health cadence. It returns immediately; the probe
// loop stops when ctx is cancelled.
func (r *Registry) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.probeAll(ctx)
			}
		}
	}()
}

func (r *Registry) probeAll(ctx context.Context) {
	for role, s := range r.chat {
		probeSlot(ctx, r, string(role), s)
	}
	probeSlot(ctx, r, string(types.RoleEmbed), r.embed)
	probeSlot(ctx, r, string(types.RoleTTS), r.ttsSlot)
	probeSlot(ctx, r, string(types.RoleTranscribe), r.sttSlot)
}

func probeSlot[T any](ctx context.Context, r *Registry, role string, s *slot[T]) {
	s.mu.RLock()
	cands := make([]*candidate[T], len(s.candidates))
	copy(cands, s.candidates)
	s.mu.RUnlock()

	now := r.now()
	for _, c := range cands {
		if pinger, ok := any(c.value).(Pinger); ok {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			err := pinger.Ping(pctx)
			cancel()
			if c.setHealthy(err == nil, now) {
				if err != nil {
					r.logger.Warn("provider demoted by health probe",
						"role", role, "provider", c.name, "error", err)
				} else {
					r.logger.Info("provider recovered",
						"role", role, "provider", c.name)
				}
			}
			continue
		}
		// No probe available: give a demoted candidate another chance
		// after the recovery window.
		if c.readyForRetry(now) && c.setHealthy(true, now) {
			r.logger.Info("provider retry window elapsed, re-promoting",
				"role", role, "provider", c.name)
		}
	}
}

// Health is a readiness checker: it fails when any populated role has no
// healthy candidate left.
func (r *Registry) Health(_ context.Context) error {
	var degraded []string
	for role, s := range r.chat {
		if !s.empty() && s.healthyCount() == 0 {
			degraded = append(degraded, string(role))
		}
	}
	if !r.embed.empty() && r.embed.healthyCount() == 0 {
		degraded = append(degraded, string(types.RoleEmbed))
	}
	if !r.ttsSlot.empty() && r.ttsSlot.healthyCount() == 0 {
		degraded = append(degraded, string(types.RoleTTS))
	}
	if !r.sttSlot.empty() && r.sttSlot.healthyCount() == 0 {
		degraded = append(degraded, string(types.RoleTranscribe))
	}
	if len(degraded) > 0 {
		return fmt.Errorf("registry: no healthy provider for %v", degraded)
	}
	return nil
}

// call runs fn against the slot's candidates in health order. Transient
// errors retry on the same candidate with doubling backoff before falling
// over; permanent errors fall over immediately. Caller-side context
// cancellation aborts without charging the candidate a failure.
func call[T, R any](ctx context.Context, r *Registry, s *slot[T], op string, fn func(T) (R, error)) (R, error) {
	var zero R
	cands := s.ordered()
	if len(cands) == 0 {
		return zero, fmt.Errorf("registry: no provider registered for %s", op)
	}

	var lastErr error
	for _, c := range cands {
		for attempt := 0; ; attempt++ {
			result, err := fn(c.value)
			if err == nil {
				if c.recordSuccess() {
					r.logger.Info("provider recovered", "op", op, "provider", c.name)
				}
				return result, nil
			}
			if ctx.Err() != nil {
				return zero, err
			}
			lastErr = err
			if c.recordFailure(r.now()) {
				r.logger.Warn("provider demoted after repeated failures",
					"op", op, "provider", c.name, "error", err)
			}
			if IsPermanent(err) {
				r.logger.Warn("permanent provider error, falling over",
					"op", op, "provider", c.name, "error", err)
				break
			}
			if attempt >= transientRetries {
				r.logger.Warn("provider exhausted retries, falling over",
					"op", op, "provider", c.name, "error", err)
				break
			}
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(r.retryBackoff * (1 << attempt)):
			}
		}
	}
	return zero, fmt.Errorf("registry: %s: all providers failed: %w", op, lastErr)
}

package satellite

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/atlas-assistant/cortex/pkg/provider/stt"
)

// Outbound notification retry parameters. A satellite that dropped off
// owns its own reconnection; the gateway just keeps retrying its side of
// the conversation with backoff until the device shows up again.
const (
	defaultNotifyRetries = 10
	defaultNotifyBackoff = time.Second
	defaultNotifyMax     = 30 * time.Second
)

// Gateway accepts satellite connections and tracks the live sessions.
// Safe for concurrent use.
type Gateway struct {
	pipe        Pipeline
	voice       Voicer
	transcriber stt.Provider
	logger      *slog.Logger

	heartbeatTimeout time.Duration
	notifyRetries    int
	notifyBackoff    time.Duration
	notifyMax        time.Duration
	config           json.RawMessage

	onAnnounce func(id, area string)

	mu           sync.RWMutex
	sessions     map[string]*Session
	fillers      []Filler
	fillerByText map[string]string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithHeartbeatTimeout overrides how long a satellite may stay silent.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.heartbeatTimeout = d
		}
	}
}

// WithFillers seeds the filler set pushed to satellites on announce.
func WithFillers(fillers []Filler) Option {
	return func(g *Gateway) { g.setFillersLocked(fillers) }
}

// WithConfigPayload sets the CONFIG body pushed after a satellite is
// accepted.
func WithConfigPayload(payload json.RawMessage) Option {
	return func(g *Gateway) { g.config = payload }
}

// WithAnnounceHook registers a callback fired after every accepted
// announce, off the session goroutine.
func WithAnnounceHook(fn func(id, area string)) Option {
	return func(g *Gateway) { g.onAnnounce = fn }
}

// WithNotifyBackoff overrides the outbound notification retry pacing.
func WithNotifyBackoff(initial, max time.Duration, retries int) Option {
	return func(g *Gateway) {
		if initial > 0 {
			g.notifyBackoff = initial
		}
		if max > 0 {
			g.notifyMax = max
		}
		if retries > 0 {
			g.notifyRetries = retries
		}
	}
}

// New constructs a Gateway over the given pipeline, voicer and
// transcriber.
func New(pipe Pipeline, voice Voicer, transcriber stt.Provider, opts ...Option) *Gateway {
	g := &Gateway{
		pipe:             pipe,
		voice:            voice,
		transcriber:      transcriber,
		logger:           slog.Default(),
		heartbeatTimeout: defaultHeartbeatTimeout,
		notifyRetries:    defaultNotifyRetries,
		notifyBackoff:    defaultNotifyBackoff,
		notifyMax:        defaultNotifyMax,
		sessions:         make(map[string]*Session),
		fillerByText:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ServeHTTP upgrades the request and drives the satellite session until
// the connection dies.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket accept failed", "error", err)
		return
	}
	// A second of 16-bit 22.05 kHz PCM is ~59 KB base64; a megabyte of
	// headroom covers every legitimate frame.
	conn.SetReadLimit(1 << 20)
	s := newSession(g, &wsWire{conn: conn})
	s.run(r.Context())
}

// register installs an announced session. A duplicate announce for the
// same id supersedes the old connection.
func (g *Gateway) register(s *Session) {
	g.mu.Lock()
	old := g.sessions[s.id]
	g.sessions[s.id] = s
	g.mu.Unlock()

	if old != nil && old != s {
		g.logger.Info("superseding satellite connection", "satellite_id", s.id)
		_ = old.w.Close("superseded by new connection")
	}
	g.logger.Info("satellite announced",
		"satellite_id", s.id, "area", s.area, "playback_rate", s.rate)
	if g.onAnnounce != nil {
		go g.onAnnounce(s.id, s.area)
	}
}

// pushStartup sends the post-accept configuration frames.
func (g *Gateway) pushStartup(ctx context.Context, s *Session) {
	g.mu.RLock()
	fillers := g.fillers
	g.mu.RUnlock()

	if g.config != nil {
		if err := s.send(ctx, Frame{Type: FrameConfig, Payload: g.config}); err != nil {
			g.logger.Warn("config push failed", "satellite_id", s.id, "error", err)
		}
	}
	if len(fillers) > 0 {
		if err := s.send(ctx, Frame{Type: FrameSyncFillers, Fillers: fillers}); err != nil {
			g.logger.Warn("filler sync failed", "satellite_id", s.id, "error", err)
		}
	}
}

func (g *Gateway) unregister(s *Session) {
	if s.id == "" {
		return
	}
	g.mu.Lock()
	if g.sessions[s.id] == s {
		delete(g.sessions, s.id)
	}
	g.mu.Unlock()
}

func (g *Gateway) session(id string) *Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sessions[id]
}

// Connected lists the ids of currently registered satellites.
func (g *Gateway) Connected() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.sessions))
	for id := range g.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (g *Gateway) setFillersLocked(fillers []Filler) {
	g.fillers = fillers
	g.fillerByText = make(map[string]string, len(fillers))
	for _, f := range fillers {
		g.fillerByText[f.Text] = f.ID
	}
}

// SetFillers replaces the filler set and syncs it to every connected
// satellite.
func (g *Gateway) SetFillers(ctx context.Context, fillers []Filler) {
	g.mu.Lock()
	g.setFillersLocked(fillers)
	sessions := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()

	for _, s := range sessions {
		if err := s.send(ctx, Frame{Type: FrameSyncFillers, Fillers: fillers}); err != nil {
			g.logger.Warn("filler sync failed", "satellite_id", s.id, "error", err)
		}
	}
}

// fillerID resolves a filler phrase to its cache id on the satellite.
func (g *Gateway) fillerID(text string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.fillerByText[text]
	return id, ok
}

// Command delivers a named directive to one satellite, retrying with
// exponential backoff while the device is offline. Blocks until
// delivered, retries are exhausted, or ctx ends.
func (g *Gateway) Command(ctx context.Context, satelliteID, command string, payload json.RawMessage) error {
	return g.deliver(ctx, satelliteID, Frame{
		Type:    FrameCommand,
		Command: command,
		Payload: payload,
	})
}

func (g *Gateway) deliver(ctx context.Context, satelliteID string, f Frame) error {
	backoff := g.notifyBackoff
	var lastErr error
	for attempt := 0; attempt < g.notifyRetries; attempt++ {
		if s := g.session(satelliteID); s != nil {
			err := s.send(ctx, f)
			if err == nil {
				return nil
			}
			lastErr = err
		} else {
			lastErr = fmt.Errorf("satellite: %s not connected", satelliteID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > g.notifyMax {
			backoff = g.notifyMax
		}
	}
	return fmt.Errorf("satellite: deliver to %s: %w", satelliteID, lastErr)
}

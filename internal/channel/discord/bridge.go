// Package discord bridges configured Discord text channels into the
// turn pipeline. It owns one discordgo.Session: messages in watched
// channels become discord-channel turns, and the resolved response is
// sent back chunked to Discord's message length limit.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/atlas-assistant/cortex/internal/pipeline"
	"github.com/atlas-assistant/cortex/pkg/types"
)

// messageLimit is Discord's maximum message length.
const messageLimit = 2000

// turnTimeout bounds one turn end to end, including streaming.
const turnTimeout = 2 * time.Minute

// Config holds Discord bridge configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// Channels lists the text channel IDs the bridge listens on.
	// Empty means every channel the bot can read.
	Channels []string `yaml:"channels"`
}

// Pipeline resolves one turn. Implemented by pipeline.Driver.
type Pipeline interface {
	Process(ctx context.Context, turn types.Turn) pipeline.Resolution
}

// messageSender is the slice of the Discord session the responder uses.
type messageSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

// Bridge owns the Discord gateway connection and relays messages
// through the pipeline.
type Bridge struct {
	session   *discordgo.Session
	pipeline  Pipeline
	channels  map[string]struct{}
	logger    *slog.Logger
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// New creates a Bridge, connects to Discord, and registers the
// message handler.
func New(_ context.Context, cfg Config, pipe Pipeline, opts ...Option) (*Bridge, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	b := &Bridge{
		session:  session,
		pipeline: pipe,
		channels: make(map[string]struct{}, len(cfg.Channels)),
		logger:   slog.Default(),
		closed:   make(chan struct{}),
	}
	for _, id := range cfg.Channels {
		b.channels[id] = struct{}{}
	}
	for _, opt := range opts {
		opt(b)
	}

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.onMessage(s, m)
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// Run blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("discord bridge running", "channels", len(b.channels))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closed:
		return nil
	}
}

// Close disconnects from Discord and waits for in-flight turns.
func (b *Bridge) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		close(b.closed)
		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		b.wg.Wait()
		b.logger.Info("discord bridge closed")
	})
	return closeErr
}

func (b *Bridge) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if !b.watches(m.ChannelID) {
		return
	}
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return
	}

	turn := buildTurn(m.ChannelID, m.Author.ID, text)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
		defer cancel()
		b.handleTurn(ctx, s, turn)
	}()
}

func (b *Bridge) watches(channelID string) bool {
	if len(b.channels) == 0 {
		return true
	}
	_, ok := b.channels[channelID]
	return ok
}

// buildTurn maps an incoming Discord message onto a pipeline turn. The
// channel ID keys the conversation so each text channel is one session.
func buildTurn(channelID, authorID, text string) types.Turn {
	return types.Turn{
		Channel:   types.ChannelDiscord,
		SessionID: "discord-" + channelID,
		SpeakerID: authorID,
		Text:      text,
	}
}

func (b *Bridge) handleTurn(ctx context.Context, sender messageSender, turn types.Turn) {
	if err := sender.ChannelTyping(strings.TrimPrefix(turn.SessionID, "discord-")); err != nil {
		b.logger.Debug("typing indicator failed", "error", err)
	}

	res := b.pipeline.Process(ctx, turn)
	text, err := collectResponse(res)
	if err != nil {
		b.logger.Error("turn failed", "turn", res.TurnID, "error", err)
		text = "Something went wrong on my end. Give me a moment and try again."
	}
	if text == "" {
		return
	}
	b.reply(sender, strings.TrimPrefix(turn.SessionID, "discord-"), text)
}

// collectResponse drains a streamed resolution into one string. Filler
// phrases are a voice affordance and are dropped for text.
func collectResponse(res pipeline.Resolution) (string, error) {
	if res.Events == nil {
		return res.Response, nil
	}
	var sb strings.Builder
	for ev := range res.Events {
		if ev.Err != nil {
			return "", ev.Err
		}
		if ev.Filler {
			continue
		}
		if sb.Len() > 0 && ev.Text != "" {
			sb.WriteByte(' ')
		}
		sb.WriteString(ev.Text)
	}
	return sb.String(), nil
}

func (b *Bridge) reply(sender messageSender, channelID, text string) {
	for _, chunk := range chunkMessage(text, messageLimit) {
		if _, err := sender.ChannelMessageSend(channelID, chunk); err != nil {
			b.logger.Error("reply send failed", "channel", channelID, "error", err)
			return
		}
	}
}

// chunkMessage splits text into pieces of at most limit runes,
// preferring paragraph, then sentence, then word boundaries.
func chunkMessage(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var chunks []string
	runes := []rune(text)
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, strings.TrimSpace(string(runes)))
			break
		}
		cut := splitPoint(runes[:limit])
		chunk := strings.TrimSpace(string(runes[:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[cut:]
		for len(runes) > 0 && (runes[0] == ' ' || runes[0] == '\n') {
			runes = runes[1:]
		}
	}
	return chunks
}

// splitPoint finds the best boundary within the window, scanning
// backwards for a paragraph break, a sentence end, then whitespace.
func splitPoint(window []rune) int {
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == '\n' && i > 0 && window[i-1] == '\n' {
			return i
		}
	}
	for i := len(window) - 2; i > 0; i-- {
		if (window[i] == '.' || window[i] == '!' || window[i] == '?') && window[i+1] == ' ' {
			return i + 1
		}
	}
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == ' ' || window[i] == '\n' {
			return i
		}
	}
	return len(window)
}

package satellite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/atlas-assistant/cortex/internal/orchestrator"
	"github.com/atlas-assistant/cortex/internal/pipeline"
	"github.com/atlas-assistant/cortex/pkg/audio"
	"github.com/atlas-assistant/cortex/pkg/provider/stt"
	"github.com/atlas-assistant/cortex/pkg/types"
)

const (
	// captureRate is the fixed inbound PCM rate satellites record at.
	captureRate = 16000

	// synthesisRate is the PCM rate the TTS bridge produces. Outbound
	// audio is resampled to the satellite's negotiated rate when they
	// differ.
	synthesisRate = 22050

	defaultHeartbeatTimeout = 30 * time.Second
	writeTimeout            = 10 * time.Second

	// finalsTimeout bounds the wait for the transcriber to commit its
	// final transcript after the utterance ends.
	finalsTimeout = 3 * time.Second
)

// Pipeline resolves one user turn. Satisfied by the pipeline driver.
type Pipeline interface {
	Process(ctx context.Context, turn types.Turn) pipeline.Resolution
}

// Voicer synthesises reply audio. Satisfied by the TTS bridge.
type Voicer interface {
	Speak(ctx context.Context, text string, s types.Sentiment) (<-chan []byte, error)
	Stream(ctx context.Context, events <-chan orchestrator.Event, s types.Sentiment) (<-chan []byte, error)
}

// wire abstracts the transport beneath a session so the protocol logic
// can be exercised without sockets.
type wire interface {
	ReadFrame(ctx context.Context) (Frame, error)
	WriteFrame(ctx context.Context, f Frame) error
	Close(reason string) error
}

// wsWire adapts a coder/websocket connection to the wire interface.
type wsWire struct {
	conn *websocket.Conn
}

func (w *wsWire) ReadFrame(ctx context.Context) (Frame, error) {
	_, data, err := w.conn.Read(ctx)
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("satellite: decode frame: %w", err)
	}
	return f, nil
}

func (w *wsWire) WriteFrame(ctx context.Context, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("satellite: encode frame: %w", err)
	}
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsWire) Close(reason string) error {
	return w.conn.Close(websocket.StatusNormalClosure, reason)
}

// Session is one connected satellite.
type Session struct {
	gw *Gateway
	w  wire

	id        string
	area      string
	rate      int
	sessionID string

	mu          sync.Mutex
	state       State
	lastSeen    time.Time
	speakerHint string
	capture     stt.SessionHandle
	speakCancel context.CancelFunc

	writeMu sync.Mutex
}

func newSession(gw *Gateway, w wire) *Session {
	return &Session{
		gw:       gw,
		w:        w,
		rate:     synthesisRate,
		state:    StateConnecting,
		lastSeen: time.Now(),
	}
}

// run drives the read loop until the connection dies or a protocol error
// forces a close.
func (s *Session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.teardown()

	go s.watchHeartbeat(ctx, cancel)

	for {
		f, err := s.w.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.gw.logger.Info("satellite disconnected",
					"satellite_id", s.id, "error", err)
			}
			return
		}
		s.touch()
		if err := s.handle(ctx, f); err != nil {
			s.gw.logger.Warn("closing satellite connection",
				"satellite_id", s.id, "error", err)
			_ = s.w.Close(err.Error())
			return
		}
	}
}

func (s *Session) teardown() {
	s.mu.Lock()
	cancel := s.speakCancel
	capture := s.capture
	s.capture = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if capture != nil {
		_ = capture.Close()
	}
	s.gw.unregister(s)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// watchHeartbeat closes the connection when the satellite goes quiet past
// the timeout. Any inbound frame counts as liveness, not just HEARTBEAT.
func (s *Session) watchHeartbeat(ctx context.Context, cancel context.CancelFunc) {
	timeout := s.gw.heartbeatTimeout
	ticker := time.NewTicker(timeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			quiet := time.Since(s.lastSeen)
			s.mu.Unlock()
			if quiet > timeout {
				s.gw.logger.Warn("satellite heartbeat timeout",
					"satellite_id", s.id, "quiet", quiet)
				_ = s.w.Close("heartbeat timeout")
				cancel()
				return
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, f Frame) error {
	switch f.Type {
	case FrameAnnounce:
		return s.handleAnnounce(ctx, f)
	case FrameHeartbeat:
		return nil
	case FrameWake:
		s.handleWake(f)
		return nil
	case FrameAudioStart:
		s.handleAudioStart(ctx)
		return nil
	case FrameAudioChunk:
		s.handleAudioChunk(f)
		return nil
	case FrameAudioEnd:
		s.handleAudioEnd(ctx)
		return nil
	case FrameStatus:
		s.gw.logger.Debug("satellite status",
			"satellite_id", s.id, "status", f.Status)
		return nil
	default:
		s.gw.logger.Warn("unknown frame type ignored",
			"satellite_id", s.id, "type", f.Type)
		return nil
	}
}

func (s *Session) handleAnnounce(ctx context.Context, f Frame) error {
	if f.SatelliteID == "" {
		return fmt.Errorf("satellite: announce without satellite_id")
	}
	if err := s.setState(StateAnnounced); err != nil {
		return err
	}
	s.id = f.SatelliteID
	s.area = f.Area
	if f.SampleRate > 0 {
		s.rate = f.SampleRate
	}
	s.sessionID = "sat-" + s.id

	s.gw.register(s)
	if err := s.send(ctx, Frame{Type: FrameAccepted, SessionID: s.sessionID}); err != nil {
		return err
	}
	if err := s.setState(StateIdle); err != nil {
		return err
	}
	s.gw.pushStartup(ctx, s)
	return nil
}

// handleWake moves to listening. A wake during playback is a barge-in:
// the speech stream is cancelled and the state takes the transient
// speaking → idle edge first.
func (s *Session) handleWake(f Frame) {
	s.mu.Lock()
	if s.state == StateSpeaking && s.speakCancel != nil {
		s.speakCancel()
		s.state = StateIdle
	}
	s.mu.Unlock()

	if err := s.setState(StateListening); err != nil {
		s.gw.logger.Warn("wake ignored", "satellite_id", s.id, "error", err)
		return
	}
	s.mu.Lock()
	s.speakerHint = f.SpeakerHint
	s.mu.Unlock()
}

func (s *Session) handleAudioStart(ctx context.Context) {
	if s.currentState() != StateListening {
		s.gw.logger.Warn("audio start outside listening state",
			"satellite_id", s.id, "state", s.currentState().String())
		return
	}
	h, err := s.gw.transcriber.StartStream(ctx, stt.StreamConfig{
		SampleRate: captureRate,
		Channels:   1,
	})
	if err != nil {
		s.gw.logger.Error("failed to open transcription stream",
			"satellite_id", s.id, "error", err)
		_ = s.setState(StateIdle)
		return
	}
	s.mu.Lock()
	s.capture = h
	s.mu.Unlock()
}

func (s *Session) handleAudioChunk(f Frame) {
	s.mu.Lock()
	h := s.capture
	s.mu.Unlock()
	if h == nil {
		return
	}
	if err := h.SendAudio(f.Audio); err != nil {
		s.gw.logger.Warn("transcriber rejected audio",
			"satellite_id", s.id, "error", err)
	}
}

func (s *Session) handleAudioEnd(ctx context.Context) {
	s.mu.Lock()
	h := s.capture
	s.capture = nil
	s.mu.Unlock()
	if h == nil {
		return
	}
	_ = h.Close()

	text, speaker := collectFinal(ctx, h)
	if err := s.setState(StateIdle); err != nil {
		s.gw.logger.Warn("audio end in unexpected state",
			"satellite_id", s.id, "error", err)
	}
	if strings.TrimSpace(text) == "" {
		s.gw.logger.Debug("empty utterance discarded", "satellite_id", s.id)
		return
	}
	go s.respond(ctx, text, speaker)
}

// collectFinal drains committed transcripts after the capture session is
// closed. Providers close the finals channel on Close; the timeout guards
// against ones that do not.
func collectFinal(ctx context.Context, h stt.SessionHandle) (text, speaker string) {
	var parts []string
	timer := time.NewTimer(finalsTimeout)
	defer timer.Stop()
	for {
		select {
		case t, ok := <-h.Finals():
			if !ok {
				return strings.Join(parts, " "), speaker
			}
			if t.Text != "" {
				parts = append(parts, t.Text)
			}
			if t.SpeakerID != "" {
				speaker = t.SpeakerID
			}
		case <-timer.C:
			return strings.Join(parts, " "), speaker
		case <-ctx.Done():
			return strings.Join(parts, " "), speaker
		}
	}
}

// respond runs the utterance through the pipeline and plays the reply.
func (s *Session) respond(ctx context.Context, text, sttSpeaker string) {
	speakCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.speakCancel = cancel
	hint := s.speakerHint
	s.mu.Unlock()
	if hint == "" {
		hint = sttSpeaker
	}

	res := s.gw.pipe.Process(speakCtx, types.Turn{
		Channel:     types.ChannelSatellite,
		SessionID:   s.sessionID,
		SpeakerID:   hint,
		SatelliteID: s.id,
		AreaHint:    s.area,
		Text:        text,
	})

	if s.gw.voice == nil {
		// No synthesizer configured. The turn was still processed and
		// recorded; there is just nothing to play.
		s.gw.logger.Warn("no tts provider, dropping reply audio", "satellite_id", s.id)
		if res.Events != nil {
			go func() {
				for range res.Events {
				}
			}()
		}
		return
	}

	var (
		audioCh <-chan []byte
		err     error
	)
	switch {
	case res.Events != nil:
		audioCh, err = s.gw.voice.Stream(speakCtx, s.routeFillers(speakCtx, res.Events), types.Sentiment{})
	case res.Response != "":
		audioCh, err = s.gw.voice.Speak(speakCtx, res.Response, types.Sentiment{})
	default:
		return
	}
	if err != nil {
		s.gw.logger.Error("synthesis failed", "satellite_id", s.id, "error", err)
		return
	}

	if err := s.setState(StateSpeaking); err != nil {
		s.gw.logger.Warn("skipping playback", "satellite_id", s.id, "error", err)
		go func() {
			for range audioCh {
			}
		}()
		return
	}
	s.play(speakCtx, audioCh)
}

// routeFillers diverts filler events to the satellite's local cache via
// PLAY_FILLER and forwards everything else to synthesis. A filler phrase
// the satellite has not cached is voiced like normal text.
func (s *Session) routeFillers(ctx context.Context, in <-chan orchestrator.Event) <-chan orchestrator.Event {
	out := make(chan orchestrator.Event, 32)
	go func() {
		defer close(out)
		for ev := range in {
			if ev.Filler {
				if id, ok := s.gw.fillerID(ev.Text); ok {
					if err := s.send(ctx, Frame{Type: FramePlayFiller, FillerID: id}); err != nil {
						s.gw.logger.Warn("filler dispatch failed",
							"satellite_id", s.id, "error", err)
					}
					continue
				}
				ev.Filler = false
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// play streams synthesised audio out, resampling from the synthesis rate
// to the satellite's negotiated playback rate.
func (s *Session) play(ctx context.Context, audioCh <-chan []byte) {
	reason := "stop"
	if err := s.send(ctx, Frame{Type: FrameTTSStart, SampleRate: s.rate}); err != nil {
		reason = "error"
	} else {
		for chunk := range audioCh {
			if ctx.Err() != nil {
				reason = "interrupted"
				break
			}
			pcm := audio.ResampleMono16(chunk, synthesisRate, s.rate)
			if err := s.send(ctx, Frame{Type: FrameTTSChunk, Audio: pcm}); err != nil {
				reason = "error"
				break
			}
		}
		if ctx.Err() != nil && reason == "stop" {
			reason = "interrupted"
		}
	}
	go func() {
		for range audioCh {
		}
	}()

	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := s.send(endCtx, Frame{Type: FrameTTSEnd, Reason: reason}); err != nil {
		s.gw.logger.Warn("failed to send playback end",
			"satellite_id", s.id, "error", err)
	}

	s.mu.Lock()
	if s.state == StateSpeaking {
		s.state = StateIdle
	}
	s.speakCancel = nil
	s.mu.Unlock()
}

func (s *Session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.canTransition(to) {
		return fmt.Errorf("satellite: invalid transition %s -> %s", s.state, to)
	}
	s.state = to
	return nil
}

// send serialises writes; the websocket allows one writer at a time.
func (s *Session) send(ctx context.Context, f Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.w.WriteFrame(wctx, f)
}

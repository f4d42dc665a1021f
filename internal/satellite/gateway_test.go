package satellite

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/atlas-assistant/cortex/internal/orchestrator"
	"github.com/atlas-assistant/cortex/internal/pipeline"
	sttmock "github.com/atlas-assistant/cortex/pkg/provider/stt/mock"
	"github.com/atlas-assistant/cortex/pkg/types"
)

// fakeWire scripts inbound frames and records outbound ones.
type fakeWire struct {
	in chan Frame

	mu          sync.Mutex
	out         []Frame
	closed      bool
	closeReason string
}

func newFakeWire() *fakeWire {
	return &fakeWire{in: make(chan Frame, 32)}
}

func (w *fakeWire) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case f, ok := <-w.in:
		if !ok {
			return Frame{}, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (w *fakeWire) WriteFrame(_ context.Context, f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.out = append(w.out, f)
	return nil
}

func (w *fakeWire) Close(reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		w.closeReason = reason
	}
	return nil
}

func (w *fakeWire) frames() []Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Frame, len(w.out))
	copy(out, w.out)
	return out
}

func (w *fakeWire) firstOfType(t FrameType) (Frame, bool) {
	for _, f := range w.frames() {
		if f.Type == t {
			return f, true
		}
	}
	return Frame{}, false
}

// fakePipe returns a canned resolution and records turns.
type fakePipe struct {
	mu         sync.Mutex
	turns      []types.Turn
	resolution pipeline.Resolution
}

func (p *fakePipe) Process(_ context.Context, turn types.Turn) pipeline.Resolution {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turn)
	return p.resolution
}

func (p *fakePipe) recorded() []types.Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Turn, len(p.turns))
	copy(out, p.turns)
	return out
}

// fakeVoice echoes text back as audio bytes.
type fakeVoice struct {
	speakFunc func(ctx context.Context, text string) <-chan []byte
}

func (v *fakeVoice) Speak(ctx context.Context, text string, _ types.Sentiment) (<-chan []byte, error) {
	if v.speakFunc != nil {
		return v.speakFunc(ctx, text), nil
	}
	ch := make(chan []byte, 1)
	ch <- []byte(text)
	close(ch)
	return ch, nil
}

func (v *fakeVoice) Stream(ctx context.Context, events <-chan orchestrator.Event, _ types.Sentiment) (<-chan []byte, error) {
	ch := make(chan []byte, 32)
	go func() {
		defer close(ch)
		for ev := range events {
			if ev.Filler || ev.Text == "" {
				continue
			}
			select {
			case ch <- []byte(ev.Text):
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func announceFrame() Frame {
	return Frame{
		Type:        FrameAnnounce,
		SatelliteID: "kitchen-1",
		Area:        "kitchen",
		SampleRate:  16000,
	}
}

func newTestGateway(pipe *fakePipe, stt *sttmock.Provider, opts ...Option) *Gateway {
	opts = append(opts, WithLogger(slog.New(slog.DiscardHandler)))
	return New(pipe, &fakeVoice{}, stt, opts...)
}

func TestAnnounceHandshake(t *testing.T) {
	gw := newTestGateway(&fakePipe{}, &sttmock.Provider{},
		WithFillers([]Filler{{ID: "f1", Text: "One sec."}}),
		WithConfigPayload(json.RawMessage(`{"volume":5}`)))
	wire := newFakeWire()
	s := newSession(gw, wire)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.run(context.Background())
	}()

	wire.in <- announceFrame()
	waitFor(t, func() bool { return len(gw.Connected()) == 1 })

	if s.rate != 16000 {
		t.Fatalf("negotiated rate = %d", s.rate)
	}
	if s.currentState() != StateIdle {
		t.Fatalf("state = %s", s.currentState())
	}

	frames := wire.frames()
	if len(frames) < 3 {
		t.Fatalf("frames = %+v", frames)
	}
	if frames[0].Type != FrameAccepted || frames[0].SessionID != "sat-kitchen-1" {
		t.Fatalf("first frame = %+v", frames[0])
	}
	if frames[1].Type != FrameConfig {
		t.Fatalf("second frame = %+v", frames[1])
	}
	if frames[2].Type != FrameSyncFillers || len(frames[2].Fillers) != 1 {
		t.Fatalf("third frame = %+v", frames[2])
	}

	close(wire.in)
	<-done
	if len(gw.Connected()) != 0 {
		t.Fatal("session not unregistered on disconnect")
	}
}

func TestAnnounceHookFires(t *testing.T) {
	var mu sync.Mutex
	var gotID, gotArea string
	gw := newTestGateway(&fakePipe{}, &sttmock.Provider{},
		WithAnnounceHook(func(id, area string) {
			mu.Lock()
			gotID, gotArea = id, area
			mu.Unlock()
		}))
	wire := newFakeWire()
	s := newSession(gw, wire)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.run(context.Background())
	}()

	wire.in <- announceFrame()
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotID == "kitchen-1"
	})
	mu.Lock()
	if gotArea != "kitchen" {
		t.Errorf("hook area = %q, want kitchen", gotArea)
	}
	mu.Unlock()

	close(wire.in)
	<-done
}

func TestAnnounceWithoutIDCloses(t *testing.T) {
	gw := newTestGateway(&fakePipe{}, &sttmock.Provider{})
	wire := newFakeWire()
	s := newSession(gw, wire)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.run(context.Background())
	}()

	wire.in <- Frame{Type: FrameAnnounce}
	<-done
	if !wire.closed {
		t.Fatal("connection left open after bad announce")
	}
}

func TestVoiceTurnRoundTrip(t *testing.T) {
	finals := make(chan types.Transcript, 1)
	finals <- types.Transcript{Text: "what time is it", IsFinal: true}
	close(finals)
	sess := &sttmock.Session{
		PartialsCh: make(chan types.Transcript),
		FinalsCh:   finals,
	}

	pipe := &fakePipe{resolution: pipeline.Resolution{
		MatchedLayer: types.LayerInstant,
		Response:     "It's three in the afternoon.",
	}}
	gw := newTestGateway(pipe, &sttmock.Provider{Session: sess})
	wire := newFakeWire()
	s := newSession(gw, wire)
	go s.run(context.Background())
	defer close(wire.in)

	wire.in <- announceFrame()
	wire.in <- Frame{Type: FrameWake, SpeakerHint: "u-ana", Confidence: 0.93}
	wire.in <- Frame{Type: FrameAudioStart}
	wire.in <- Frame{Type: FrameAudioChunk, Audio: []byte{1, 2, 3, 4}}
	wire.in <- Frame{Type: FrameAudioEnd}

	waitFor(t, func() bool {
		_, ok := wire.firstOfType(FrameTTSEnd)
		return ok
	})

	if got := len(sess.SendAudioCalls); got != 1 {
		t.Fatalf("audio chunks forwarded = %d", got)
	}

	turns := pipe.recorded()
	if len(turns) != 1 {
		t.Fatalf("turns = %+v", turns)
	}
	turn := turns[0]
	if turn.Channel != types.ChannelSatellite || turn.SessionID != "sat-kitchen-1" {
		t.Fatalf("turn = %+v", turn)
	}
	if turn.SpeakerID != "u-ana" || turn.Text != "what time is it" {
		t.Fatalf("turn = %+v", turn)
	}
	if turn.AreaHint != "kitchen" {
		t.Fatalf("area hint = %q", turn.AreaHint)
	}

	start, ok := wire.firstOfType(FrameTTSStart)
	if !ok || start.SampleRate != 16000 {
		t.Fatalf("tts start = %+v", start)
	}
	chunk, ok := wire.firstOfType(FrameTTSChunk)
	if !ok || len(chunk.Audio) == 0 {
		t.Fatalf("tts chunk = %+v", chunk)
	}
	end, _ := wire.firstOfType(FrameTTSEnd)
	if end.Reason != "stop" {
		t.Fatalf("tts end reason = %q", end.Reason)
	}
}

func TestBargeInInterruptsPlayback(t *testing.T) {
	finals := make(chan types.Transcript, 1)
	finals <- types.Transcript{Text: "tell me a story", IsFinal: true}
	close(finals)
	sess := &sttmock.Session{
		PartialsCh: make(chan types.Transcript),
		FinalsCh:   finals,
	}

	pipe := &fakePipe{resolution: pipeline.Resolution{
		MatchedLayer: types.LayerLLM,
		Response:     "Once upon a time, in a very long story...",
	}}
	gw := newTestGateway(pipe, &sttmock.Provider{Session: sess})
	gw.voice = &fakeVoice{speakFunc: func(ctx context.Context, text string) <-chan []byte {
		ch := make(chan []byte, 1)
		go func() {
			defer close(ch)
			ch <- []byte("chapter one")
			<-ctx.Done() // keep speaking until interrupted
		}()
		return ch
	}}

	wire := newFakeWire()
	s := newSession(gw, wire)
	go s.run(context.Background())
	defer close(wire.in)

	wire.in <- announceFrame()
	wire.in <- Frame{Type: FrameWake}
	wire.in <- Frame{Type: FrameAudioStart}
	wire.in <- Frame{Type: FrameAudioEnd}

	waitFor(t, func() bool {
		_, ok := wire.firstOfType(FrameTTSStart)
		return ok
	})

	// Barge-in while speaking.
	wire.in <- Frame{Type: FrameWake}
	waitFor(t, func() bool {
		end, ok := wire.firstOfType(FrameTTSEnd)
		return ok && end.Reason == "interrupted"
	})
	if s.currentState() != StateListening {
		t.Fatalf("state after barge-in = %s", s.currentState())
	}
}

func TestHeartbeatTimeoutClosesConnection(t *testing.T) {
	gw := newTestGateway(&fakePipe{}, &sttmock.Provider{},
		WithHeartbeatTimeout(40*time.Millisecond))
	wire := newFakeWire()
	s := newSession(gw, wire)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close on missed heartbeats")
	}
	if wire.closeReason != "heartbeat timeout" {
		t.Fatalf("close reason = %q", wire.closeReason)
	}
}

func TestFillerRoutedToLocalCache(t *testing.T) {
	finals := make(chan types.Transcript, 1)
	finals <- types.Transcript{Text: "plan my weekend", IsFinal: true}
	close(finals)
	sess := &sttmock.Session{
		PartialsCh: make(chan types.Transcript),
		FinalsCh:   finals,
	}

	events := make(chan orchestrator.Event, 3)
	events <- orchestrator.Event{Text: "One sec.", Filler: true}
	events <- orchestrator.Event{Text: "Saturday looks sunny."}
	close(events)

	pipe := &fakePipe{resolution: pipeline.Resolution{
		MatchedLayer: types.LayerLLM,
		Events:       events,
	}}
	gw := newTestGateway(pipe, &sttmock.Provider{Session: sess},
		WithFillers([]Filler{{ID: "f1", Text: "One sec."}}))
	wire := newFakeWire()
	s := newSession(gw, wire)
	go s.run(context.Background())
	defer close(wire.in)

	wire.in <- announceFrame()
	wire.in <- Frame{Type: FrameWake}
	wire.in <- Frame{Type: FrameAudioStart}
	wire.in <- Frame{Type: FrameAudioEnd}

	waitFor(t, func() bool {
		_, ok := wire.firstOfType(FrameTTSEnd)
		return ok
	})

	filler, ok := wire.firstOfType(FramePlayFiller)
	if !ok || filler.FillerID != "f1" {
		t.Fatalf("play filler = %+v, ok = %v", filler, ok)
	}
	for _, f := range wire.frames() {
		if f.Type == FrameTTSChunk && string(f.Audio) == "One sec." {
			t.Fatal("filler was synthesised instead of played from cache")
		}
	}
}

func TestCommandRetriesUntilReconnect(t *testing.T) {
	gw := newTestGateway(&fakePipe{}, &sttmock.Provider{},
		WithNotifyBackoff(5*time.Millisecond, 20*time.Millisecond, 10))

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Command(context.Background(), "porch-1", "reboot", nil)
	}()

	time.Sleep(15 * time.Millisecond)
	wire := newFakeWire()
	s := newSession(gw, wire)
	s.id = "porch-1"
	gw.register(s)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command never delivered")
	}
	cmd, ok := wire.firstOfType(FrameCommand)
	if !ok || cmd.Command != "reboot" {
		t.Fatalf("command frame = %+v", cmd)
	}
}

func TestCommandGivesUpAfterRetries(t *testing.T) {
	gw := newTestGateway(&fakePipe{}, &sttmock.Provider{},
		WithNotifyBackoff(time.Millisecond, 2*time.Millisecond, 3))

	if err := gw.Command(context.Background(), "ghost", "reboot", nil); err == nil {
		t.Fatal("expected delivery failure")
	}
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateConnecting, StateAnnounced, true},
		{StateConnecting, StateIdle, false},
		{StateAnnounced, StateIdle, true},
		{StateIdle, StateListening, true},
		{StateIdle, StateSpeaking, true},
		{StateListening, StateIdle, true},
		{StateListening, StateSpeaking, true},
		{StateSpeaking, StateIdle, true},
		{StateSpeaking, StateListening, false},
		{StateIdle, StateConnecting, false},
	}
	for _, tt := range tests {
		if got := tt.from.canTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

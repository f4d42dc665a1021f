// Package satellite implements the WebSocket gateway for room voice
// devices.
//
// A satellite connects, announces itself, and then alternates between
// idle, listening and speaking. Capture audio arrives as PCM 16 kHz
// 16-bit mono; synthesised speech goes back at 22.05 kHz or the rate the
// satellite negotiated in its announce frame. Control and audio share one
// JSON frame envelope — audio payloads ride base64-encoded, which keeps
// the protocol inspectable and the satellite firmware trivial.
package satellite

import "encoding/json"

// FrameType discriminates the protocol envelope.
type FrameType string

// Frames sent by the satellite.
const (
	FrameAnnounce   FrameType = "ANNOUNCE"
	FrameWake       FrameType = "WAKE"
	FrameAudioStart FrameType = "AUDIO_START"
	FrameAudioChunk FrameType = "AUDIO_CHUNK"
	FrameAudioEnd   FrameType = "AUDIO_END"
	FrameStatus     FrameType = "STATUS"
	FrameHeartbeat  FrameType = "HEARTBEAT"
)

// Frames sent by the server.
const (
	FrameAccepted    FrameType = "ACCEPTED"
	FrameTTSStart    FrameType = "TTS_START"
	FrameTTSChunk    FrameType = "TTS_CHUNK"
	FrameTTSEnd      FrameType = "TTS_END"
	FramePlayFiller  FrameType = "PLAY_FILLER"
	FrameCommand     FrameType = "COMMAND"
	FrameConfig      FrameType = "CONFIG"
	FrameSyncFillers FrameType = "SYNC_FILLERS"
)

// Filler is one cached filler phrase a satellite can play locally on
// PLAY_FILLER, skipping the synthesis round trip.
type Filler struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Frame is the protocol envelope. Only the fields relevant to a frame's
// type are populated; everything else stays omitted on the wire.
type Frame struct {
	Type FrameType `json:"type"`

	// ANNOUNCE: device identity, static area, preferred playback rate.
	// TTS_START echoes the rate the audio that follows is encoded at.
	SatelliteID string `json:"satellite_id,omitempty"`
	Area        string `json:"area,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`

	// WAKE: on-device wake-word confidence and optional speaker hint
	// from local voice matching.
	Confidence  float64 `json:"confidence,omitempty"`
	SpeakerHint string  `json:"speaker_hint,omitempty"`

	// AUDIO_CHUNK / TTS_CHUNK: raw PCM, base64 on the wire.
	Audio []byte `json:"audio,omitempty"`

	// STATUS: free-form device status ("playing", "muted", ...).
	Status string `json:"status,omitempty"`

	// ACCEPTED: the session id assigned to this connection.
	// TTS_END: why playback ended ("stop", "interrupted", "error").
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// PLAY_FILLER names a cached phrase; SYNC_FILLERS replaces the cache.
	FillerID string   `json:"filler_id,omitempty"`
	Fillers  []Filler `json:"fillers,omitempty"`

	// COMMAND / CONFIG carry a named directive with a JSON body.
	Command string          `json:"command,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

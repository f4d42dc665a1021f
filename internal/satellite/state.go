package satellite

// State is a satellite connection's position in its lifecycle.
type State int

const (
	// StateConnecting is the socket-open, pre-announce state.
	StateConnecting State = iota

	// StateAnnounced means the ANNOUNCE frame was received and is being
	// validated.
	StateAnnounced

	// StateIdle is the steady state: registered, waiting for a wake.
	StateIdle

	// StateListening means the satellite is streaming capture audio.
	StateListening

	// StateSpeaking means the server is streaming TTS audio out.
	// A barge-in wake interrupts straight back to idle.
	StateSpeaking
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAnnounced:
		return "announced"
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// transitions maps each state to the states it may move to.
var transitions = map[State][]State{
	StateConnecting: {StateAnnounced},
	StateAnnounced:  {StateIdle},
	StateIdle:       {StateListening, StateSpeaking},
	StateListening:  {StateIdle, StateSpeaking},
	StateSpeaking:   {StateIdle},
}

// canTransition reports whether the edge s → to is part of the lifecycle.
func (s State) canTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

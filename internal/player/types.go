package player

import (
	"errors"
	"fmt"
	"time"
)

// State is the engine's playback state
type State string

const (
	StateIdle      State = "idle"
	StateUnlocking State = "unlocking"
	StateLoading   State = "loading"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateError     State = "error"
)

// ErrorKind classifies a playback failure
type ErrorKind string

const (
	KindNetwork     ErrorKind = "network"
	KindDecode      ErrorKind = "decode"
	KindNotUnlocked ErrorKind = "not-unlocked"
	KindAborted     ErrorKind = "aborted"
)

// Engine errors
var (
	ErrNotUnlocked   = errors.New("playback requires a successful unlock")
	ErrSuperseded    = errors.New("play superseded by a newer request")
	ErrNoTrack       = errors.New("no track loaded")
	ErrInvalidVolume = errors.New("volume must be within [0, 1]")
	ErrInvalidRate   = errors.New("playback rate must be within (0, 4]")
	ErrEngineClosed  = errors.New("engine is closed")
)

// PlaybackError is reported to OnError callbacks and carried by error
// state change events.
type PlaybackError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback %s: %s: %v", e.Kind, e.URL, e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}

// Snapshot is a consistent view of the engine
type Snapshot struct {
	State          State
	URL            string
	Position       time.Duration
	Duration       time.Duration
	Volume         float64
	PlaybackRate   float64
	Unlocked       bool
	RequiresUnlock bool
}

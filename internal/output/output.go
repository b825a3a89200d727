// Package output provides the playback primitives the engine drives: an
// Output opens one Element per decoded clip and the Element is played,
// paused, seeked and released by its owner.
package output

import (
	"context"
	"errors"
	"time"

	"phototheology.app/palace/internal/audio"
)

// Common errors for Output and Element implementations
var (
	ErrNotAvailable = errors.New("audio output not available")
	ErrBlocked      = errors.New("audio output blocked: unlock required")
	ErrReleased     = errors.New("audio element released")
	ErrClosed       = errors.New("audio output is closed")
	ErrInvalidValue = errors.New("invalid element value")
)

// Element is a single loaded clip bound to an output device.
// Implementations must be safe for use from multiple goroutines.
type Element interface {
	// Play starts or continues playback from the current position
	Play() error
	// Pause holds the current position
	Pause() error
	// Seek moves the position; callers clamp to [0, Duration()]
	Seek(pos time.Duration) error
	// Position reports the playback position in clip time
	Position() time.Duration
	// Duration reports the total clip length
	Duration() time.Duration
	// SetVolume applies a linear gain in [0, 1]
	SetVolume(volume float64) error
	// SetPlaybackRate applies a speed multiplier (> 0)
	SetPlaybackRate(rate float64) error
	// Done is closed once playback reaches the end of the clip
	Done() <-chan struct{}
	// Release stops playback and frees the device resources
	Release() error
}

// Output creates Elements for a playback device
type Output interface {
	// Name identifies the output kind
	Name() string
	// RequiresUnlock reports whether Unlock must succeed before Open
	RequiresUnlock() bool
	// Unlock acquires the device by playing and stopping a silent buffer
	Unlock(ctx context.Context) error
	// Open binds a decoded clip to the device, paused at position zero
	Open(ctx context.Context, clip *audio.AudioData) (Element, error)
	// Close releases the device
	Close() error
}

func validVolume(v float64) bool { return v >= 0 && v <= 1 }

func validRate(r float64) bool { return r > 0 && r <= 4 }

// clampPosition bounds pos to [0, total]
func clampPosition(pos, total time.Duration) time.Duration {
	if pos < 0 {
		return 0
	}
	if pos > total {
		return total
	}
	return pos
}

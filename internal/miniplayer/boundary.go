package miniplayer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"phototheology.app/palace/internal/player"
	"phototheology.app/palace/internal/tts"
)

// ErrAudioUnavailable wraps the last failure once a Boundary gives up
var ErrAudioUnavailable = errors.New("audio unavailable")

// Attempt is one try at starting playback
type Attempt func(ctx context.Context) error

// BoundaryOption configures a Boundary
type BoundaryOption func(*Boundary)

// WithRetries sets how many times a retryable failure is tried again
func WithRetries(n int) BoundaryOption {
	return func(b *Boundary) { b.retries = max(n, 0) }
}

// WithBackoff sets the wait before the first retry; it doubles per retry
func WithBackoff(d time.Duration) BoundaryOption {
	return func(b *Boundary) { b.backoff = d }
}

// Boundary runs playback attempts and turns failures into a visible
// "audio unavailable" notice instead of letting them escape to the caller's UI
type Boundary struct {
	out     io.Writer
	retries int
	backoff time.Duration
}

// NewBoundary creates a boundary writing notices to out
func NewBoundary(out io.Writer, opts ...BoundaryOption) *Boundary {
	b := &Boundary{out: out, retries: 2, backoff: 500 * time.Millisecond}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run calls attempt, retrying failures that may clear on their own.
// The returned error wraps ErrAudioUnavailable and the last failure.
func (b *Boundary) Run(ctx context.Context, attempt Attempt) error {
	wait := b.backoff
	for try := 0; ; try++ {
		err := attempt(ctx)
		if err == nil {
			return nil
		}

		msg := Message(err)
		if try >= b.retries || !Retryable(err) {
			errorColour.Fprintf(b.out, "Audio unavailable: %s\n", msg)
			slog.Warn("audio unavailable", "attempts", try+1, "error", err)
			return fmt.Errorf("%w: %w", ErrAudioUnavailable, err)
		}

		pausedColour.Fprintf(b.out, "Audio unavailable: %s Retrying (%d/%d)...\n", msg, try+1, b.retries)
		slog.Debug("retrying playback", "attempt", try+1, "wait", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrAudioUnavailable, ctx.Err())
		case <-timer.C:
		}
		wait *= 2
	}
}

// Retryable reports whether err may succeed on another attempt
func Retryable(err error) bool {
	var perr *player.PlaybackError
	if errors.As(err, &perr) {
		return perr.Kind == player.KindNetwork
	}
	var remote *tts.RemoteError
	switch {
	case errors.Is(err, tts.ErrRateLimited):
		return true
	case errors.Is(err, tts.ErrCreditsExhausted), errors.Is(err, tts.ErrEmptyText):
		return false
	case errors.As(err, &remote):
		return remote.Status >= 500
	case errors.Is(err, tts.ErrRequestFailed), errors.Is(err, tts.ErrNoAudio):
		return true
	default:
		return false
	}
}

// Message returns listener-facing text for a playback or synthesis failure
func Message(err error) string {
	var perr *player.PlaybackError
	if errors.As(err, &perr) {
		switch perr.Kind {
		case player.KindNotUnlocked:
			return "Audio is locked. Start playback again to enable sound."
		case player.KindDecode:
			return "This audio could not be decoded."
		case player.KindAborted:
			return "Playback was interrupted."
		default:
			return "The audio could not be downloaded."
		}
	}
	return tts.UserMessage(err)
}

package output

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"phototheology.app/palace/internal/audio"
)

// NullOutput plays nothing but advances a wall clock as if it did.
// It backs headless runs and never requires unlock.
type NullOutput struct {
	mu     sync.Mutex
	closed bool
}

// NewNullOutput creates a silent clock-driven output
func NewNullOutput() *NullOutput {
	return &NullOutput{}
}

func (o *NullOutput) Name() string { return "null" }

func (o *NullOutput) RequiresUnlock() bool { return false }

func (o *NullOutput) Unlock(ctx context.Context) error {
	return ctx.Err()
}

func (o *NullOutput) Open(ctx context.Context, clip *audio.AudioData) (Element, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if clip == nil || clip.SampleRate == 0 {
		return nil, fmt.Errorf("%w: empty clip", ErrInvalidValue)
	}
	return newClockElement(clip.Duration()), nil
}

func (o *NullOutput) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

// clockElement derives its position from elapsed time and rate
type clockElement struct {
	mu       sync.Mutex
	duration time.Duration
	base     time.Duration // position when the clock was last anchored
	anchor   time.Time     // zero while paused
	rate     float64
	volume   float64
	timer    *time.Timer
	gen      int
	done     chan struct{}
	doneOnce sync.Once
	released bool
}

func newClockElement(duration time.Duration) *clockElement {
	return &clockElement{
		duration: duration,
		rate:     1.0,
		volume:   1.0,
		done:     make(chan struct{}),
	}
}

func (e *clockElement) positionLocked() time.Duration {
	pos := e.base
	if !e.anchor.IsZero() {
		pos += time.Duration(float64(time.Since(e.anchor)) * e.rate)
	}
	return clampPosition(pos, e.duration)
}

// rearmLocked re-anchors the clock and schedules the end-of-clip timer
func (e *clockElement) rearmLocked(playing bool) {
	e.base = e.positionLocked()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
	if !playing {
		e.anchor = time.Time{}
		return
	}
	e.anchor = time.Now()
	gen := e.gen
	remaining := time.Duration(float64(e.duration-e.base) / e.rate)
	e.timer = time.AfterFunc(remaining, func() { e.finish(gen) })
}

func (e *clockElement) finish(gen int) {
	e.mu.Lock()
	if e.released || gen != e.gen {
		e.mu.Unlock()
		return
	}
	e.base = e.duration
	e.anchor = time.Time{}
	e.mu.Unlock()
	e.doneOnce.Do(func() { close(e.done) })
}

func (e *clockElement) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	if !e.anchor.IsZero() {
		return nil
	}
	e.rearmLocked(true)
	return nil
}

func (e *clockElement) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	e.rearmLocked(false)
	return nil
}

func (e *clockElement) Seek(pos time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	playing := !e.anchor.IsZero()
	e.anchor = time.Time{}
	e.base = clampPosition(pos, e.duration)
	e.rearmLocked(playing)
	return nil
}

func (e *clockElement) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked()
}

func (e *clockElement) Duration() time.Duration {
	return e.duration
}

func (e *clockElement) SetVolume(volume float64) error {
	if !validVolume(volume) {
		return fmt.Errorf("%w: volume %f", ErrInvalidValue, volume)
	}
	e.mu.Lock()
	e.volume = volume
	e.mu.Unlock()
	return nil
}

func (e *clockElement) SetPlaybackRate(rate float64) error {
	if !validRate(rate) {
		return fmt.Errorf("%w: rate %f", ErrInvalidValue, rate)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	playing := !e.anchor.IsZero()
	e.rearmLocked(false)
	e.rate = rate
	if playing && !e.released {
		e.rearmLocked(true)
	}
	return nil
}

func (e *clockElement) Done() <-chan struct{} {
	return e.done
}

func (e *clockElement) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return nil
	}
	e.released = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	slog.Debug("null element released", "position", e.positionLocked())
	return nil
}

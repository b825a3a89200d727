//go:build cgo

package output

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"phototheology.app/palace/internal/audio"
)

// deviceOutputsAvailable reports whether this build can reach a sound device
const deviceOutputsAvailable = true

// MalgoOutput opens one miniaudio playback device per element
type MalgoOutput struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	closed bool
}

// NewMalgoOutput creates a malgo output; the context is initialised lazily
func NewMalgoOutput() (*MalgoOutput, error) {
	return &MalgoOutput{}, nil
}

func (o *MalgoOutput) Name() string { return "malgo" }

func (o *MalgoOutput) RequiresUnlock() bool { return false }

// contextLocked initialises the malgo context on first use
func (o *MalgoOutput) contextLocked() (*malgo.AllocatedContext, error) {
	if o.closed {
		return nil, ErrClosed
	}
	if o.ctx != nil {
		return o.ctx, nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("malgo internal", "message", message)
	})
	if err != nil {
		slog.Error("failed to initialize audio context", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrNotAvailable, err)
	}
	o.ctx = ctx
	slog.Info("audio context initialized")
	return ctx, nil
}

// Unlock initialises the context and plays a short silent buffer
func (o *MalgoOutput) Unlock(ctx context.Context) error {
	el, err := o.Open(ctx, audio.Silence(20*time.Millisecond, 44100))
	if err != nil {
		return err
	}
	defer el.Release()

	if err := el.Play(); err != nil {
		return err
	}
	select {
	case <-el.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *MalgoOutput) Open(ctx context.Context, clip *audio.AudioData) (Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if clip == nil || clip.SampleRate == 0 || clip.Channels == 0 {
		return nil, fmt.Errorf("%w: empty clip", ErrInvalidValue)
	}

	o.mu.Lock()
	mctx, err := o.contextLocked()
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}

	el := &malgoElement{
		clip:   clip,
		frames: clip.Frames(),
		rate:   1.0,
		volume: 1.0,
		paused: true,
		done:   make(chan struct{}),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgoFormat(clip.Format)
	cfg.Playback.Channels = clip.Channels
	cfg.SampleRate = clip.SampleRate
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: el.onSamples})
	if err != nil {
		slog.Error("failed to initialize playback device", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrNotAvailable, err)
	}
	el.device = device

	slog.Debug("playback device initialized",
		"format", clip.Format,
		"channels", clip.Channels,
		"sample_rate", clip.SampleRate)
	return el, nil
}

func (o *MalgoOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if o.ctx == nil {
		return nil
	}
	// malgo requires both Uninit() and Free()
	if err := o.ctx.Uninit(); err != nil {
		slog.Error("failed to uninitialize audio context", "error", err)
		return err
	}
	o.ctx.Free()
	o.ctx = nil
	return nil
}

func malgoFormat(f audio.SampleFormat) malgo.FormatType {
	switch f {
	case audio.FormatS24:
		return malgo.FormatS24
	case audio.FormatS32:
		return malgo.FormatS32
	default:
		return malgo.FormatS16
	}
}

// malgoElement feeds a device callback from a fractional frame cursor
type malgoElement struct {
	device *malgo.Device

	mu       sync.Mutex
	clip     *audio.AudioData
	frames   int
	cursor   float64
	rate     float64
	volume   float64
	paused   bool
	started  bool
	ended    bool
	released bool
	done     chan struct{}
	doneOnce sync.Once
}

// onSamples runs on the device thread
func (e *malgoElement) onSamples(out, _ []byte, framecount uint32) {
	for i := range out {
		out[i] = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused || e.ended || e.released {
		return
	}

	bpf := e.clip.BytesPerFrame()
	written := 0
	for i := 0; i < int(framecount); i++ {
		src := int(e.cursor)
		if src >= e.frames {
			e.ended = true
			break
		}
		copy(out[i*bpf:(i+1)*bpf], e.clip.Samples[src*bpf:(src+1)*bpf])
		e.cursor += e.rate
		written++
	}
	applyGain(out[:written*bpf], e.clip.Format, e.volume)

	if e.ended {
		e.doneOnce.Do(func() { close(e.done) })
	}
}

func (e *malgoElement) Play() error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return ErrReleased
	}
	e.paused = false
	start := !e.started
	e.started = true
	e.mu.Unlock()

	if start {
		if err := e.device.Start(); err != nil {
			slog.Error("failed to start playback", "error", err)
			return fmt.Errorf("%w: %w", ErrNotAvailable, err)
		}
	}
	return nil
}

func (e *malgoElement) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	e.paused = true
	return nil
}

func (e *malgoElement) Seek(pos time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	pos = clampPosition(pos, e.clip.Duration())
	e.cursor = float64(pos) * float64(e.clip.SampleRate) / float64(time.Second)
	return nil
}

func (e *malgoElement) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	frame := e.cursor
	if frame > float64(e.frames) {
		frame = float64(e.frames)
	}
	return time.Duration(frame * float64(time.Second) / float64(e.clip.SampleRate))
}

func (e *malgoElement) Duration() time.Duration {
	return e.clip.Duration()
}

func (e *malgoElement) SetVolume(volume float64) error {
	if !validVolume(volume) {
		return fmt.Errorf("%w: volume %f", ErrInvalidValue, volume)
	}
	e.mu.Lock()
	e.volume = volume
	e.mu.Unlock()
	return nil
}

func (e *malgoElement) SetPlaybackRate(rate float64) error {
	if !validRate(rate) {
		return fmt.Errorf("%w: rate %f", ErrInvalidValue, rate)
	}
	e.mu.Lock()
	e.rate = rate
	e.mu.Unlock()
	return nil
}

func (e *malgoElement) Done() <-chan struct{} {
	return e.done
}

func (e *malgoElement) Release() error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return nil
	}
	e.released = true
	e.mu.Unlock()

	// Uninit must not run under e.mu: it waits for the callback to return.
	if e.device != nil {
		e.device.Stop()
		e.device.Uninit()
	}
	return nil
}

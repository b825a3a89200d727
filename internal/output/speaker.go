//go:build cgo

package output

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/speaker"

	"phototheology.app/palace/internal/audio"
)

// SpeakerSampleRate is the mixing rate of the shared speaker
const SpeakerSampleRate = beep.SampleRate(44100)

// SpeakerOutput plays through the process-wide beep speaker. The speaker
// device is only initialised by Unlock, so Open fails with ErrBlocked until
// an unlock has succeeded.
type SpeakerOutput struct {
	mu          sync.Mutex
	bufferSize  time.Duration
	initialized bool
	closed      bool
}

// NewSpeakerOutput creates a speaker output with the given device buffer
func NewSpeakerOutput(bufferSize time.Duration) (*SpeakerOutput, error) {
	if bufferSize <= 0 {
		bufferSize = 100 * time.Millisecond
	}
	return &SpeakerOutput{bufferSize: bufferSize}, nil
}

func (o *SpeakerOutput) Name() string { return "speaker" }

func (o *SpeakerOutput) RequiresUnlock() bool { return true }

// Unlock initialises the speaker and plays a short silent buffer through it
func (o *SpeakerOutput) Unlock(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if !o.initialized {
		if err := speaker.Init(SpeakerSampleRate, SpeakerSampleRate.N(o.bufferSize)); err != nil {
			o.mu.Unlock()
			slog.Error("failed to initialise speaker", "error", err)
			return fmt.Errorf("%w: %w", ErrNotAvailable, err)
		}
		o.initialized = true
		slog.Info("speaker initialised", "sample_rate", SpeakerSampleRate, "buffer", o.bufferSize)
	}
	o.mu.Unlock()

	played := make(chan struct{})
	speaker.Play(beep.Seq(
		beep.Silence(SpeakerSampleRate.N(20*time.Millisecond)),
		beep.Callback(func() { close(played) }),
	))

	select {
	case <-played:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

func (o *SpeakerOutput) Open(ctx context.Context, clip *audio.AudioData) (Element, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	if !o.initialized {
		return nil, ErrBlocked
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if clip == nil || clip.SampleRate == 0 {
		return nil, fmt.Errorf("%w: empty clip", ErrInvalidValue)
	}
	return newSpeakerElement(clip), nil
}

func (o *SpeakerOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if o.initialized {
		speaker.Clear()
		speaker.Close()
	}
	return nil
}

// speakerElement chains pcm -> resampler -> ctrl -> volume into the mixer
type speakerElement struct {
	clipRate  beep.SampleRate
	baseRatio float64
	pcm       *pcmStreamer
	resampler *beep.Resampler
	ctrl      *beep.Ctrl
	volume    *effects.Volume

	mu       sync.Mutex
	started  bool
	released atomic.Bool // read from the mixer goroutine
	done     chan struct{}
	doneOnce sync.Once
}

func newSpeakerElement(clip *audio.AudioData) *speakerElement {
	clipRate := beep.SampleRate(clip.SampleRate)
	pcm := newPCMStreamer(clip)
	resampler := beep.Resample(4, clipRate, SpeakerSampleRate, pcm)
	ctrl := &beep.Ctrl{Streamer: resampler, Paused: true}

	return &speakerElement{
		clipRate:  clipRate,
		baseRatio: float64(clipRate) / float64(SpeakerSampleRate),
		pcm:       pcm,
		resampler: resampler,
		ctrl:      ctrl,
		volume:    &effects.Volume{Streamer: ctrl, Base: 2},
		done:      make(chan struct{}),
	}
}

func (e *speakerElement) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released.Load() {
		return ErrReleased
	}
	if !e.started {
		e.started = true
		speaker.Play(beep.Seq(e, beep.Callback(e.finish)))
	}
	speaker.Lock()
	e.ctrl.Paused = false
	speaker.Unlock()
	return nil
}

// Stream feeds the mixer until the element is released; the mixer then
// drops this streamer and leaves any newer element playing.
func (e *speakerElement) Stream(samples [][2]float64) (int, bool) {
	if e.released.Load() {
		return 0, false
	}
	return e.volume.Stream(samples)
}

func (e *speakerElement) Err() error { return e.volume.Err() }

// finish runs on the mixer goroutine with the speaker lock held
func (e *speakerElement) finish() {
	if !e.released.Load() {
		e.doneOnce.Do(func() { close(e.done) })
	}
}

func (e *speakerElement) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released.Load() {
		return ErrReleased
	}
	speaker.Lock()
	e.ctrl.Paused = true
	speaker.Unlock()
	return nil
}

func (e *speakerElement) Seek(pos time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released.Load() {
		return ErrReleased
	}
	frame := e.clipRate.N(clampPosition(pos, e.Duration()))
	speaker.Lock()
	defer speaker.Unlock()
	return e.pcm.Seek(frame)
}

func (e *speakerElement) Position() time.Duration {
	return e.clipRate.D(e.pcm.Position())
}

func (e *speakerElement) Duration() time.Duration {
	return e.clipRate.D(e.pcm.Len())
}

func (e *speakerElement) SetVolume(volume float64) error {
	if !validVolume(volume) {
		return fmt.Errorf("%w: volume %f", ErrInvalidValue, volume)
	}
	speaker.Lock()
	defer speaker.Unlock()
	if volume == 0 {
		e.volume.Silent = true
		return nil
	}
	e.volume.Silent = false
	e.volume.Volume = math.Log2(volume)
	return nil
}

func (e *speakerElement) SetPlaybackRate(rate float64) error {
	if !validRate(rate) {
		return fmt.Errorf("%w: rate %f", ErrInvalidValue, rate)
	}
	speaker.Lock()
	e.resampler.SetRatio(e.baseRatio * rate)
	speaker.Unlock()
	return nil
}

func (e *speakerElement) Done() <-chan struct{} {
	return e.done
}

func (e *speakerElement) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released.Load() {
		return nil
	}
	e.released.Store(true)
	return nil
}

package player

import (
	"time"

	"phototheology.app/palace/internal/audio"
	"phototheology.app/palace/internal/metrics"
)

// PlayOption configures a single Play call
type PlayOption func(*playOptions)

type playOptions struct {
	volume  *float64
	rate    *float64
	onEnded func()
	onError func(*PlaybackError)
}

// WithVolume sets the gain for this track, in [0, 1]
func WithVolume(v float64) PlayOption {
	return func(o *playOptions) { o.volume = &v }
}

// WithPlaybackRate sets the speed multiplier for this track
func WithPlaybackRate(r float64) PlayOption {
	return func(o *playOptions) { o.rate = &r }
}

// OnEnded is invoked exactly once when the track completes naturally
func OnEnded(fn func()) PlayOption {
	return func(o *playOptions) { o.onEnded = fn }
}

// OnError is invoked at most once when the track fails. Handlers from
// repeated OnError options all run in the order given.
func OnError(fn func(*PlaybackError)) PlayOption {
	return func(o *playOptions) {
		prev := o.onError
		if prev == nil {
			o.onError = fn
			return
		}
		o.onError = func(err *PlaybackError) {
			prev(err)
			fn(err)
		}
	}
}

// Option configures an Engine
type Option func(*Engine)

// WithFetcher replaces the payload fetcher
func WithFetcher(f *audio.Fetcher) Option {
	return func(e *Engine) { e.fetcher = f }
}

// WithDecoders replaces the decoder registry
func WithDecoders(r *audio.DecoderRegistry) Option {
	return func(e *Engine) { e.decoders = r }
}

// WithRequiresUnlock overrides the output's unlock capability
func WithRequiresUnlock(required bool) Option {
	return func(e *Engine) { e.requiresUnlock = required }
}

// WithProgressInterval sets how often progress events are emitted while playing
func WithProgressInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.progressInterval = d
		}
	}
}

// WithMetrics records engine activity
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

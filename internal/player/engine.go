// Package player implements the process-wide audio playback engine: a
// state machine over a single output element with unlock handling,
// ordered state/progress events and superseding plays.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"phototheology.app/palace/internal/audio"
	"phototheology.app/palace/internal/metrics"
	"phototheology.app/palace/internal/output"
)

// DefaultProgressInterval is the progress event period while playing
const DefaultProgressInterval = 250 * time.Millisecond

// Engine owns at most one live output element at a time
type Engine struct {
	out              output.Output
	fetcher          *audio.Fetcher
	decoders         *audio.DecoderRegistry
	requiresUnlock   bool
	progressInterval time.Duration
	metrics          *metrics.Metrics
	events           *dispatcher

	mu         sync.Mutex
	state      State
	unlocked   bool
	unlockDone chan struct{} // non-nil while an unlock is in flight
	epoch      uint64        // bumped by Reset so stale unlocks are ignored
	volume     float64
	rate       float64
	track      *track
	closed     bool
}

// track is one Play call, from loading until it is stopped, superseded or ends
type track struct {
	url       string
	cancel    context.CancelFunc
	el        output.Element
	volume    float64
	rate      float64
	started   time.Time
	lastPos   time.Duration
	stopped   chan struct{}
	onEnded   func()
	onError   func(*PlaybackError)
	errOnce   sync.Once
	endedOnce sync.Once
}

func (t *track) reportError(perr *PlaybackError) {
	if t.onError == nil {
		return
	}
	t.errOnce.Do(func() { t.onError(perr) })
}

// New creates an engine bound to out. Unless overridden, the unlock
// requirement is taken from the output once, here.
func New(out output.Output, opts ...Option) *Engine {
	e := &Engine{
		out:              out,
		requiresUnlock:   out.RequiresUnlock(),
		progressInterval: DefaultProgressInterval,
		state:            StateIdle,
		volume:           1.0,
		rate:             1.0,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.fetcher == nil {
		e.fetcher = audio.NewFetcher()
	}
	if e.decoders == nil {
		e.decoders = audio.NewDefaultRegistry()
	}
	e.unlocked = !e.requiresUnlock
	e.events = newDispatcher()

	slog.Debug("playback engine created",
		"output", out.Name(),
		"requires_unlock", e.requiresUnlock,
		"progress_interval", e.progressInterval)
	return e
}

// setStateLocked records and publishes a transition; e.mu must be held
func (e *Engine) setStateLocked(s State, url string, perr *PlaybackError) {
	prev := e.state
	if prev == s {
		return
	}
	e.state = s
	slog.Debug("playback state changed", "from", prev, "to", s, "url", url)
	e.events.emit(Event{Kind: EventStateChange, State: s, Previous: prev, URL: url, Err: perr})
}

// On registers a handler for kind and returns its id for Off
func (e *Engine) On(kind EventKind, h Handler) ListenerID {
	return e.events.subscribe(kind, h)
}

// Off removes a handler; unknown ids are ignored
func (e *Engine) Off(id ListenerID) {
	e.events.unsubscribe(id)
}

// Sync blocks until every event emitted so far has been delivered.
// It must not be called from an event handler.
func (e *Engine) Sync() {
	e.events.flush()
}

// State returns the current state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsUnlocked reports whether playback is permitted on this output
func (e *Engine) IsUnlocked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unlocked
}

// RequiresUnlock reports the capability flag resolved at construction
func (e *Engine) RequiresUnlock() bool {
	return e.requiresUnlock
}

// Snapshot returns a consistent view of the engine
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		State:          e.state,
		Volume:         e.volume,
		PlaybackRate:   e.rate,
		Unlocked:       e.unlocked,
		RequiresUnlock: e.requiresUnlock,
	}
	if t := e.track; t != nil {
		snap.URL = t.url
		snap.Volume = t.volume
		snap.PlaybackRate = t.rate
		if t.el != nil {
			snap.Position = max(t.el.Position(), t.lastPos)
			snap.Duration = t.el.Duration()
		}
	}
	return snap
}

// Unlock acquires the output by playing a silent buffer. It must be called
// from a user gesture on outputs that require it. Concurrent callers share
// one attempt; once unlocked it returns true without side effects.
func (e *Engine) Unlock(ctx context.Context) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	if e.unlocked {
		e.mu.Unlock()
		return true
	}
	if done := e.unlockDone; done != nil {
		e.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return false
		}
		return e.IsUnlocked()
	}

	done := make(chan struct{})
	e.unlockDone = done
	epoch := e.epoch
	if e.state == StateIdle {
		e.setStateLocked(StateUnlocking, "", nil)
	}
	e.mu.Unlock()

	err := e.out.Unlock(ctx)

	e.mu.Lock()
	if err == nil && epoch == e.epoch {
		e.unlocked = true
	}
	ok := e.unlocked
	if e.unlockDone == done {
		e.unlockDone = nil
	}
	if e.state == StateUnlocking {
		e.setStateLocked(StateIdle, "", nil)
	}
	close(done)
	e.mu.Unlock()

	e.metrics.RecordUnlock(ok)
	if err != nil {
		slog.Warn("audio unlock failed", "output", e.out.Name(), "error", err)
	} else {
		slog.Info("audio unlocked", "output", e.out.Name())
	}
	return ok
}

// Play stops the current track and plays url. It returns false on any
// failure, after reporting the failure to the OnError option.
func (e *Engine) Play(ctx context.Context, url string, opts ...PlayOption) bool {
	var po playOptions
	for _, opt := range opts {
		opt(&po)
	}

	e.mu.Lock()
	// an unlock in flight is awaited, never raced
	for e.unlockDone != nil {
		done := e.unlockDone
		e.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			abortBeforeStart(url, po, ctx.Err())
			return false
		}
		e.mu.Lock()
	}
	if e.closed {
		e.mu.Unlock()
		abortBeforeStart(url, po, ErrEngineClosed)
		return false
	}

	e.stopTrackLocked()

	fctx, cancel := context.WithCancel(ctx)
	t := &track{
		url:     url,
		cancel:  cancel,
		volume:  e.volume,
		rate:    e.rate,
		started: time.Now(),
		stopped: make(chan struct{}),
		onEnded: po.onEnded,
		onError: po.onError,
	}
	if po.volume != nil {
		t.volume = min(max(*po.volume, 0), 1)
	}
	if po.rate != nil && validRate(*po.rate) {
		t.rate = *po.rate
	}
	e.track = t
	e.setStateLocked(StateLoading, url, nil)
	unlocked := e.unlocked
	e.mu.Unlock()

	slog.Debug("play requested", "url", url, "volume", t.volume, "rate", t.rate)

	if !unlocked {
		return e.fail(t, KindNotUnlocked, ErrNotUnlocked)
	}

	data, name, err := e.fetcher.Fetch(fctx, url)
	if err != nil {
		return e.fail(t, KindNetwork, err)
	}
	if err := fctx.Err(); err != nil {
		return e.fail(t, KindAborted, err)
	}

	clip, err := e.decoders.Decode(name, data)
	if err != nil {
		return e.fail(t, KindDecode, err)
	}

	el, err := e.out.Open(fctx, clip)
	if err != nil {
		return e.fail(t, outputErrorKind(err), err)
	}

	// volume and rate are applied under e.mu so a concurrent SetVolume or
	// SetPlaybackRate either lands before the bind or sees t.el
	e.mu.Lock()
	if e.track != t {
		e.mu.Unlock()
		el.Release()
		return e.fail(t, KindAborted, ErrSuperseded)
	}
	if err := el.SetVolume(t.volume); err != nil {
		slog.Warn("failed to apply volume", "volume", t.volume, "error", err)
	}
	if err := el.SetPlaybackRate(t.rate); err != nil {
		slog.Warn("failed to apply playback rate", "rate", t.rate, "error", err)
	}
	t.el = el
	if err := el.Play(); err != nil {
		e.mu.Unlock()
		return e.fail(t, outputErrorKind(err), err)
	}
	e.setStateLocked(StatePlaying, url, nil)
	e.emitProgressLocked(t)
	e.mu.Unlock()

	e.metrics.RecordPlayStarted(time.Since(t.started).Seconds())
	slog.Info("playback started", "url", url, "duration", clip.Duration())

	go e.watch(t, el)
	go e.tick(t)
	return true
}

// fail ends a track that could not start or continue. A track that is no
// longer current was stopped or superseded; it only hears KindAborted.
func (e *Engine) fail(t *track, kind ErrorKind, err error) bool {
	e.mu.Lock()
	if e.track != t {
		e.mu.Unlock()
		perr := &PlaybackError{Kind: KindAborted, URL: t.url, Err: err}
		slog.Debug("play aborted", "url", t.url, "error", err)
		e.metrics.RecordPlayFailed(string(KindAborted))
		t.reportError(perr)
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = KindAborted
	}

	perr := &PlaybackError{Kind: kind, URL: t.url, Err: err}
	e.detachLocked(t)
	// error is terminal only for this track; the engine recovers at once
	e.setStateLocked(StateError, t.url, perr)
	e.setStateLocked(StateIdle, t.url, nil)
	e.mu.Unlock()

	slog.Error("playback failed", "url", t.url, "kind", kind, "error", err)
	e.metrics.RecordPlayFailed(string(kind))
	t.reportError(perr)
	return false
}

// abortBeforeStart reports a play that never became the current track
func abortBeforeStart(url string, po playOptions, err error) {
	slog.Debug("play aborted before start", "url", url, "error", err)
	if po.onError != nil {
		po.onError(&PlaybackError{Kind: KindAborted, URL: url, Err: err})
	}
}

func outputErrorKind(err error) ErrorKind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindAborted
	case errors.Is(err, output.ErrInvalidValue):
		return KindDecode
	default:
		// blocked, unavailable or released devices all mean the platform refused playback
		return KindNotUnlocked
	}
}

// detachLocked releases everything t holds and clears it as current
func (e *Engine) detachLocked(t *track) {
	if e.track == t {
		e.track = nil
	}
	t.cancel()
	select {
	case <-t.stopped:
	default:
		close(t.stopped)
	}
	if t.el != nil {
		if err := t.el.Release(); err != nil {
			slog.Warn("failed to release element", "url", t.url, "error", err)
		}
	}
}

// stopTrackLocked drops the current track and returns to idle
func (e *Engine) stopTrackLocked() {
	url := ""
	if t := e.track; t != nil {
		url = t.url
		e.detachLocked(t)
		slog.Debug("track stopped", "url", url)
	}
	switch e.state {
	case StateLoading, StatePlaying, StatePaused:
		e.setStateLocked(StateIdle, url, nil)
	}
}

// watch waits for the element to finish and ends the track naturally
func (e *Engine) watch(t *track, el output.Element) {
	select {
	case <-el.Done():
	case <-t.stopped:
		return
	}

	e.mu.Lock()
	if e.track != t {
		e.mu.Unlock()
		return
	}
	t.lastPos = max(t.lastPos, el.Duration())
	e.events.emit(Event{Kind: EventProgress, State: e.state, URL: t.url, Position: t.lastPos, Duration: el.Duration()})
	e.detachLocked(t)
	e.mu.Unlock()

	slog.Info("playback ended", "url", t.url)
	e.metrics.RecordPlayEnded()
	if t.onEnded != nil {
		t.endedOnce.Do(t.onEnded)
	}

	// onEnded may already have started the next track
	e.mu.Lock()
	if e.track == nil && (e.state == StatePlaying || e.state == StatePaused) {
		e.setStateLocked(StateIdle, t.url, nil)
	}
	e.mu.Unlock()
}

// tick emits progress for t until it is stopped
func (e *Engine) tick(t *track) {
	ticker := time.NewTicker(e.progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopped:
			return
		case <-ticker.C:
			e.mu.Lock()
			if e.track == t && e.state == StatePlaying {
				e.emitProgressLocked(t)
			}
			e.mu.Unlock()
		}
	}
}

// emitProgressLocked publishes a non-decreasing position for t
func (e *Engine) emitProgressLocked(t *track) {
	pos := t.el.Position()
	if pos < t.lastPos {
		pos = t.lastPos
	}
	t.lastPos = pos
	e.events.emit(Event{Kind: EventProgress, State: e.state, URL: t.url, Position: pos, Duration: t.el.Duration()})
}

// Pause holds the current position; it is a no-op unless playing
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePlaying || e.track == nil || e.track.el == nil {
		return
	}
	t := e.track
	if err := t.el.Pause(); err != nil {
		slog.Warn("pause failed", "url", t.url, "error", err)
		return
	}
	t.lastPos = max(t.lastPos, t.el.Position())
	e.setStateLocked(StatePaused, t.url, nil)
}

// Resume continues a paused track. It returns true when already playing
// and false when there is nothing to resume or the output refuses.
func (e *Engine) Resume(ctx context.Context) bool {
	e.mu.Lock()
	if e.state == StatePlaying {
		e.mu.Unlock()
		return true
	}
	t := e.track
	if e.state != StatePaused || t == nil || t.el == nil {
		e.mu.Unlock()
		return false
	}
	if err := ctx.Err(); err != nil {
		e.mu.Unlock()
		return false
	}
	if err := t.el.Play(); err != nil {
		e.mu.Unlock()
		return e.fail(t, outputErrorKind(err), err)
	}
	e.setStateLocked(StatePlaying, t.url, nil)
	e.mu.Unlock()
	return true
}

// Stop releases the current track and returns to idle from any state
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	url := ""
	if e.track != nil {
		url = e.track.url
	}
	e.stopTrackLocked()
	if e.state != StateIdle {
		e.setStateLocked(StateIdle, url, nil)
	}
}

// Seek moves the loaded track to pos, clamped to [0, duration]
func (e *Engine) Seek(pos time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.track
	if t == nil || t.el == nil {
		return ErrNoTrack
	}
	pos = min(max(pos, 0), t.el.Duration())
	if err := t.el.Seek(pos); err != nil {
		return fmt.Errorf("seek failed: %w", err)
	}
	// a seek resets the progress baseline
	t.lastPos = pos
	e.events.emit(Event{Kind: EventProgress, State: e.state, URL: t.url, Position: pos, Duration: t.el.Duration()})
	return nil
}

// SetVolume applies v to the active track and stores it for later plays
func (e *Engine) SetVolume(v float64) error {
	if !validVolume(v) {
		return fmt.Errorf("%w: %f", ErrInvalidVolume, v)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
	if t := e.track; t != nil {
		t.volume = v
		if t.el != nil {
			return t.el.SetVolume(v)
		}
	}
	return nil
}

// SetPlaybackRate applies r to the active track and stores it for later plays
func (e *Engine) SetPlaybackRate(r float64) error {
	if !validRate(r) {
		return fmt.Errorf("%w: %f", ErrInvalidRate, r)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rate = r
	if t := e.track; t != nil {
		t.rate = r
		if t.el != nil {
			return t.el.SetPlaybackRate(r)
		}
	}
	return nil
}

// Reset stops playback, forgets the unlock and drops every listener.
// Intended for tests and full session teardown; not callable from a handler.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.stopTrackLocked()
	if e.state != StateIdle {
		e.setStateLocked(StateIdle, "", nil)
	}
	e.epoch++
	e.unlocked = !e.requiresUnlock
	e.volume = 1.0
	e.rate = 1.0
	e.mu.Unlock()

	e.events.flush()
	e.events.clearListeners()
	slog.Debug("playback engine reset")
}

// Close stops playback, drains pending events and closes the output.
// It must not be called from an event handler.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stopTrackLocked()
	if e.state != StateIdle {
		e.setStateLocked(StateIdle, "", nil)
	}
	e.mu.Unlock()

	e.events.close()
	return e.out.Close()
}

func validVolume(v float64) bool { return v >= 0 && v <= 1 }

func validRate(r float64) bool { return r > 0 && r <= 4 }

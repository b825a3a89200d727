package player

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phototheology.app/palace/internal/audio"
	"phototheology.app/palace/internal/audio/audiotest"
)

func TestEngine_UnlockPlayPauseResumeStop(t *testing.T) {
	srv := newAudioServer(t, 2*time.Second)
	out := newFakeOutput(true)
	e := newTestEngine(t, out)
	rec := recordStates(e)
	ctx := context.Background()

	require.True(t, e.Unlock(ctx))
	require.True(t, e.Play(ctx, srv.URL+"/a.wav", WithVolume(0.5)))
	assert.Equal(t, StatePlaying, e.State())
	assert.Equal(t, 0.5, e.Snapshot().Volume)

	e.Pause()
	assert.Equal(t, StatePaused, e.State())
	require.True(t, e.Resume(ctx))
	assert.Equal(t, StatePlaying, e.State())
	e.Stop()
	assert.Equal(t, StateIdle, e.State())

	e.Sync()
	assert.Equal(t, []State{
		StateUnlocking, StateIdle,
		StateLoading, StatePlaying,
		StatePaused, StatePlaying,
		StateIdle,
	}, rec.get())
	assert.Equal(t, 0, out.liveCount())
}

func TestEngine_PlayWithoutUnlock(t *testing.T) {
	srv := newAudioServer(t, time.Second)
	out := newFakeOutput(true)
	e := newTestEngine(t, out)
	rec := recordStates(e)

	var calls []*PlaybackError
	ok := e.Play(context.Background(), srv.URL+"/a.wav", OnError(func(err *PlaybackError) {
		calls = append(calls, err)
	}))

	assert.False(t, ok)
	require.Len(t, calls, 1)
	assert.Equal(t, KindNotUnlocked, calls[0].Kind)
	assert.ErrorIs(t, calls[0], ErrNotUnlocked)
	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, int32(0), srv.requests.Load(), "no fetch without unlock")

	e.Sync()
	assert.Equal(t, []State{StateLoading, StateError, StateIdle}, rec.get())

	// recoverable: unlock then retry
	require.True(t, e.Unlock(context.Background()))
	assert.True(t, e.Play(context.Background(), srv.URL+"/a.wav"))
}

func TestEngine_SecondPlaySupersedesFirst(t *testing.T) {
	srv := newAudioServer(t, 2*time.Second)
	out := newFakeOutput(false)
	e := newTestEngine(t, out)
	ctx := context.Background()

	var firstErr *PlaybackError
	firstDone := make(chan bool, 1)
	go func() {
		firstDone <- e.Play(ctx, srv.URL+"/slow/a.wav", OnError(func(err *PlaybackError) {
			firstErr = err
		}))
	}()
	<-srv.entered

	require.True(t, e.Play(ctx, srv.URL+"/b.wav"))
	assert.False(t, <-firstDone)
	require.NotNil(t, firstErr)
	assert.Equal(t, KindAborted, firstErr.Kind)

	assert.Equal(t, 1, out.liveCount())
	snap := e.Snapshot()
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, srv.URL+"/b.wav", snap.URL)
}

func TestEngine_BackToBackPlaysKeepOneElement(t *testing.T) {
	srv := newAudioServer(t, 2*time.Second)
	out := newFakeOutput(false)
	e := newTestEngine(t, out)
	ctx := context.Background()

	require.True(t, e.Play(ctx, srv.URL+"/a.wav"))
	require.True(t, e.Play(ctx, srv.URL+"/b.wav"))

	assert.Equal(t, 1, out.liveCount())
	assert.Equal(t, srv.URL+"/b.wav", e.Snapshot().URL)
}

func TestEngine_UnlockIdempotent(t *testing.T) {
	out := newFakeOutput(true)
	e := newTestEngine(t, out)
	ctx := context.Background()

	require.True(t, e.Unlock(ctx))
	assert.True(t, e.Unlock(ctx))
	assert.True(t, e.IsUnlocked())
	assert.Equal(t, int32(1), out.unlockCalls.Load())
}

func TestEngine_ConcurrentUnlockSharesAttempt(t *testing.T) {
	out := newFakeOutput(true)
	out.unlockGate = make(chan struct{})
	e := newTestEngine(t, out)

	var wg sync.WaitGroup
	var okCount atomic.Int32
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.Unlock(context.Background()) {
				okCount.Add(1)
			}
		}()
	}
	waitFor(t, "unlocking state", func() bool { return e.State() == StateUnlocking })
	close(out.unlockGate)
	wg.Wait()

	assert.Equal(t, int32(3), okCount.Load())
	assert.Equal(t, int32(1), out.unlockCalls.Load())
}

func TestEngine_UnlockFailure(t *testing.T) {
	out := newFakeOutput(true)
	out.unlockErr = errors.New("permission denied")
	e := newTestEngine(t, out)

	assert.False(t, e.Unlock(context.Background()))
	assert.False(t, e.IsUnlocked())
	assert.Equal(t, StateIdle, e.State())
}

func TestEngine_PlayAwaitsUnlockInFlight(t *testing.T) {
	srv := newAudioServer(t, time.Second)
	out := newFakeOutput(true)
	out.unlockGate = make(chan struct{})
	e := newTestEngine(t, out)
	ctx := context.Background()

	go e.Unlock(ctx)
	waitFor(t, "unlocking state", func() bool { return e.State() == StateUnlocking })

	played := make(chan bool, 1)
	go func() { played <- e.Play(ctx, srv.URL+"/a.wav") }()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateUnlocking, e.State(), "play must not race the unlock")
	assert.Equal(t, int32(0), srv.requests.Load())

	close(out.unlockGate)
	assert.True(t, <-played)
	assert.Equal(t, StatePlaying, e.State())
}

func TestEngine_StopFromEveryState(t *testing.T) {
	ctx := context.Background()

	t.Run("idle", func(t *testing.T) {
		e := newTestEngine(t, newFakeOutput(false))
		assert.NotPanics(t, e.Stop)
		assert.Equal(t, StateIdle, e.State())
	})

	t.Run("unlocking", func(t *testing.T) {
		out := newFakeOutput(true)
		out.unlockGate = make(chan struct{})
		e := newTestEngine(t, out)
		go e.Unlock(ctx)
		waitFor(t, "unlocking", func() bool { return e.State() == StateUnlocking })

		e.Stop()
		assert.Equal(t, StateIdle, e.State())
		close(out.unlockGate)
		waitFor(t, "unlock to finish", e.IsUnlocked)
		assert.Equal(t, StateIdle, e.State())
	})

	t.Run("loading", func(t *testing.T) {
		srv := newAudioServer(t, time.Second)
		e := newTestEngine(t, newFakeOutput(false))
		done := make(chan bool, 1)
		go func() { done <- e.Play(ctx, srv.URL+"/slow/a.wav") }()
		<-srv.entered

		e.Stop()
		assert.Equal(t, StateIdle, e.State())
		assert.False(t, <-done)
		assert.Equal(t, StateIdle, e.State())
	})

	t.Run("playing and paused", func(t *testing.T) {
		srv := newAudioServer(t, time.Second)
		out := newFakeOutput(false)
		e := newTestEngine(t, out)

		require.True(t, e.Play(ctx, srv.URL+"/a.wav"))
		e.Stop()
		assert.Equal(t, StateIdle, e.State())

		require.True(t, e.Play(ctx, srv.URL+"/a.wav"))
		e.Pause()
		e.Stop()
		assert.Equal(t, StateIdle, e.State())
		assert.Equal(t, 0, out.liveCount())
	})

	t.Run("error", func(t *testing.T) {
		srv := newAudioServer(t, time.Second)
		e := newTestEngine(t, newFakeOutput(false))
		stopped := make(chan struct{})
		e.On(EventStateChange, func(ev Event) {
			if ev.State == StateError {
				e.Stop()
				close(stopped)
			}
		})

		assert.False(t, e.Play(ctx, srv.URL+"/missing.wav"))
		<-stopped
		assert.Equal(t, StateIdle, e.State())
	})
}

func TestEngine_FailureKinds(t *testing.T) {
	srv := newAudioServer(t, time.Second)
	ctx := context.Background()

	tests := []struct {
		name string
		url  string
		kind ErrorKind
	}{
		{"http error", srv.URL + "/missing.wav", KindNetwork},
		{"empty url", "", KindNetwork},
		{"garbage payload", audio.DataURL("audio/mpeg", []byte("definitely not audio")), KindDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, newFakeOutput(false))
			rec := recordStates(e)
			var got *PlaybackError
			ok := e.Play(ctx, tt.url, OnError(func(err *PlaybackError) { got = err }))

			assert.False(t, ok)
			require.NotNil(t, got)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, StateIdle, e.State())

			e.Sync()
			assert.Equal(t, []State{StateLoading, StateError, StateIdle}, rec.get())
			require.Len(t, rec.errs, 1)
			assert.Equal(t, tt.kind, rec.errs[0].Kind)
		})
	}
}

func TestEngine_CallerCancelAborts(t *testing.T) {
	srv := newAudioServer(t, time.Second)
	e := newTestEngine(t, newFakeOutput(false))
	ctx, cancel := context.WithCancel(context.Background())

	var got *PlaybackError
	done := make(chan bool, 1)
	go func() {
		done <- e.Play(ctx, srv.URL+"/slow/a.wav", OnError(func(err *PlaybackError) { got = err }))
	}()
	<-srv.entered
	cancel()

	assert.False(t, <-done)
	require.NotNil(t, got)
	assert.Equal(t, KindAborted, got.Kind)
	assert.Equal(t, StateIdle, e.State())
}

func TestEngine_NaturalEnd(t *testing.T) {
	clip := audio.DataURL("audio/wav", audiotest.WAV(60*time.Millisecond, 8000))
	e := newTestEngine(t, newFakeOutput(false))
	rec := recordStates(e)

	var ended atomic.Int32
	endedAt := make(chan State, 1)
	require.True(t, e.Play(context.Background(), clip, OnEnded(func() {
		ended.Add(1)
		endedAt <- e.State()
	})))

	assert.Equal(t, StatePlaying, <-endedAt, "onEnded fires before the reset to idle")
	waitFor(t, "idle after end", func() bool { return e.State() == StateIdle })
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), ended.Load())

	e.Sync()
	assert.Equal(t, []State{StateLoading, StatePlaying, StateIdle}, rec.get())
}

func TestEngine_OnEndedCanStartNextTrack(t *testing.T) {
	short := audio.DataURL("audio/wav", audiotest.WAV(40*time.Millisecond, 8000))
	long := audio.DataURL("audio/wav", audiotest.WAV(2*time.Second, 8000))
	e := newTestEngine(t, newFakeOutput(false))

	next := make(chan bool, 1)
	require.True(t, e.Play(context.Background(), short, OnEnded(func() {
		next <- e.Play(context.Background(), long)
	})))

	assert.True(t, <-next)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatePlaying, e.State())
	assert.Equal(t, long, e.Snapshot().URL)
}

func TestEngine_ProgressIsMonotonic(t *testing.T) {
	clip := audio.DataURL("audio/wav", audiotest.WAV(300*time.Millisecond, 8000))
	e := newTestEngine(t, newFakeOutput(false))

	var mu sync.Mutex
	var positions []time.Duration
	e.On(EventProgress, func(ev Event) {
		mu.Lock()
		positions = append(positions, ev.Position)
		mu.Unlock()
		assert.Equal(t, 300*time.Millisecond, ev.Duration)
	})

	require.True(t, e.Play(context.Background(), clip))
	waitFor(t, "end of clip", func() bool { return e.State() == StateIdle })
	e.Sync()

	mu.Lock()
	defer mu.Unlock()
	require.Greater(t, len(positions), 5)
	for i := 1; i < len(positions); i++ {
		assert.GreaterOrEqual(t, positions[i], positions[i-1], "progress went backwards at %d", i)
	}
	assert.Equal(t, 300*time.Millisecond, positions[len(positions)-1])
}

func TestEngine_SeekClampsAndResetsBaseline(t *testing.T) {
	clip := audio.DataURL("audio/wav", audiotest.WAV(time.Second, 8000))
	e := newTestEngine(t, newFakeOutput(false))

	assert.ErrorIs(t, e.Seek(time.Second), ErrNoTrack)

	require.True(t, e.Play(context.Background(), clip))
	e.Pause()

	require.NoError(t, e.Seek(10*time.Second))
	assert.Equal(t, time.Second, e.Snapshot().Position)

	require.NoError(t, e.Seek(-time.Second))
	snap := e.Snapshot()
	assert.Equal(t, time.Duration(0), snap.Position, "seek backwards resets the baseline")
}

func TestEngine_VolumeAndRateStoredForNextPlay(t *testing.T) {
	clip := audio.DataURL("audio/wav", audiotest.WAV(time.Second, 8000))
	e := newTestEngine(t, newFakeOutput(false))

	assert.ErrorIs(t, e.SetVolume(1.2), ErrInvalidVolume)
	assert.ErrorIs(t, e.SetPlaybackRate(0), ErrInvalidRate)

	require.NoError(t, e.SetVolume(0.3))
	require.NoError(t, e.SetPlaybackRate(1.5))
	require.True(t, e.Play(context.Background(), clip))

	snap := e.Snapshot()
	assert.Equal(t, 0.3, snap.Volume)
	assert.Equal(t, 1.5, snap.PlaybackRate)

	require.NoError(t, e.SetVolume(0.8))
	assert.Equal(t, 0.8, e.Snapshot().Volume)
}

func TestEngine_VolumeChangeWhileBindingReachesElement(t *testing.T) {
	clip := audio.DataURL("audio/wav", audiotest.WAV(time.Second, 8000))
	out := newFakeOutput(false)
	out.volumeGate = make(chan struct{})
	out.volumeEntered = make(chan struct{}, 1)
	e := newTestEngine(t, out)

	played := make(chan bool, 1)
	go func() { played <- e.Play(context.Background(), clip) }()
	<-out.volumeEntered

	changed := make(chan error, 1)
	go func() { changed <- e.SetVolume(0.2) }()
	time.Sleep(20 * time.Millisecond)
	close(out.volumeGate)

	require.True(t, <-played)
	require.NoError(t, <-changed)

	out.mu.Lock()
	el := out.all[0]
	out.mu.Unlock()
	assert.Equal(t, 0.2, e.Snapshot().Volume)
	assert.Equal(t, 0.2, el.appliedVolume(), "element must play at the engine's volume")
}

func TestEngine_PauseAndResumeNoOps(t *testing.T) {
	e := newTestEngine(t, newFakeOutput(false))
	rec := recordStates(e)

	e.Pause()
	assert.False(t, e.Resume(context.Background()), "nothing to resume")

	clip := audio.DataURL("audio/wav", audiotest.WAV(time.Second, 8000))
	require.True(t, e.Play(context.Background(), clip))
	assert.True(t, e.Resume(context.Background()), "resume while playing is a no-op")
	e.Pause()
	e.Pause()

	e.Sync()
	assert.Equal(t, []State{StateLoading, StatePlaying, StatePaused}, rec.get())
}

func TestEngine_OffStopsDelivery(t *testing.T) {
	e := newTestEngine(t, newFakeOutput(false))
	var count atomic.Int32
	id := e.On(EventStateChange, func(Event) { count.Add(1) })

	clip := audio.DataURL("audio/wav", audiotest.WAV(time.Second, 8000))
	require.True(t, e.Play(context.Background(), clip))
	e.Sync()
	before := count.Load()

	e.Off(id)
	e.Stop()
	e.Sync()
	assert.Equal(t, before, count.Load())
}

func TestEngine_ResetClearsUnlock(t *testing.T) {
	out := newFakeOutput(true)
	e := newTestEngine(t, out)

	require.True(t, e.Unlock(context.Background()))
	require.NoError(t, e.SetVolume(0.2))
	e.Reset()

	assert.False(t, e.IsUnlocked())
	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, 1.0, e.Snapshot().Volume)
}

func TestEngine_ClosedRejectsPlay(t *testing.T) {
	e := New(newFakeOutput(false))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	var got *PlaybackError
	assert.False(t, e.Play(context.Background(), "x.wav", OnError(func(err *PlaybackError) { got = err })))
	require.NotNil(t, got)
	assert.Equal(t, KindAborted, got.Kind)
	assert.False(t, e.Unlock(context.Background()))
}

func TestDefaultEngine(t *testing.T) {
	custom := New(newFakeOutput(false))
	prev := SetDefault(custom)
	t.Cleanup(func() {
		SetDefault(prev)
		custom.Close()
	})

	assert.Same(t, custom, Default())
	assert.Same(t, Default(), Default())
}

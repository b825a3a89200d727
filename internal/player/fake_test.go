package player

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"phototheology.app/palace/internal/audio"
	"phototheology.app/palace/internal/audio/audiotest"
	"phototheology.app/palace/internal/output"
)

// fakeOutput wraps the clock-driven null output and records element lifetimes
type fakeOutput struct {
	null           *output.NullOutput
	requiresUnlock bool
	unlockErr      error
	unlockGate     chan struct{} // when set, Unlock blocks until closed
	unlockCalls    atomic.Int32
	volumeGate     chan struct{} // when set, the first element SetVolume blocks until closed
	volumeEntered  chan struct{}

	mu   sync.Mutex
	live []*fakeElement
	all  []*fakeElement
}

func newFakeOutput(requiresUnlock bool) *fakeOutput {
	return &fakeOutput{null: output.NewNullOutput(), requiresUnlock: requiresUnlock}
}

func (o *fakeOutput) Name() string         { return "fake" }
func (o *fakeOutput) RequiresUnlock() bool { return o.requiresUnlock }
func (o *fakeOutput) Close() error         { return o.null.Close() }

func (o *fakeOutput) Unlock(ctx context.Context) error {
	o.unlockCalls.Add(1)
	if o.unlockGate != nil {
		select {
		case <-o.unlockGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return o.unlockErr
}

func (o *fakeOutput) Open(ctx context.Context, clip *audio.AudioData) (output.Element, error) {
	el, err := o.null.Open(ctx, clip)
	if err != nil {
		return nil, err
	}
	fe := &fakeElement{Element: el, out: o}
	o.mu.Lock()
	o.live = append(o.live, fe)
	o.all = append(o.all, fe)
	o.mu.Unlock()
	return fe, nil
}

func (o *fakeOutput) liveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.live)
}

type fakeElement struct {
	output.Element
	out     *fakeOutput
	release sync.Once
	gate    sync.Once

	mu     sync.Mutex
	volume float64
}

func (e *fakeElement) SetVolume(v float64) error {
	e.gate.Do(func() {
		if e.out.volumeGate != nil {
			e.out.volumeEntered <- struct{}{}
			<-e.out.volumeGate
		}
	})
	if err := e.Element.SetVolume(v); err != nil {
		return err
	}
	e.mu.Lock()
	e.volume = v
	e.mu.Unlock()
	return nil
}

func (e *fakeElement) appliedVolume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

func (e *fakeElement) Release() error {
	e.release.Do(func() {
		e.out.mu.Lock()
		for i, l := range e.out.live {
			if l == e {
				e.out.live = append(e.out.live[:i], e.out.live[i+1:]...)
				break
			}
		}
		e.out.mu.Unlock()
	})
	return e.Element.Release()
}

// stateRecorder collects state change events in delivery order
type stateRecorder struct {
	mu     sync.Mutex
	states []State
	errs   []*PlaybackError
}

func recordStates(e *Engine) *stateRecorder {
	r := &stateRecorder{}
	e.On(EventStateChange, func(ev Event) {
		r.mu.Lock()
		r.states = append(r.states, ev.State)
		if ev.Err != nil {
			r.errs = append(r.errs, ev.Err)
		}
		r.mu.Unlock()
	})
	return r
}

func (r *stateRecorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

// audioServer serves WAV clips; paths under /slow/ wait for release
type audioServer struct {
	*httptest.Server
	entered  chan string
	release  chan struct{}
	requests atomic.Int32
}

func newAudioServer(t *testing.T, clip time.Duration) *audioServer {
	t.Helper()
	payload := audiotest.WAV(clip, 8000)
	s := &audioServer{entered: make(chan string, 8), release: make(chan struct{})}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		switch {
		case r.URL.Path == "/missing.wav":
			http.Error(w, "gone", http.StatusInternalServerError)
			return
		case len(r.URL.Path) > 6 && r.URL.Path[:6] == "/slow/":
			s.entered <- r.URL.Path
			select {
			case <-s.release:
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(payload)
	}))
	t.Cleanup(func() {
		select {
		case <-s.release:
		default:
			close(s.release)
		}
		s.Close()
	})
	return s
}

func newTestEngine(t *testing.T, out *fakeOutput, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithProgressInterval(10 * time.Millisecond)}, opts...)
	e := New(out, opts...)
	t.Cleanup(func() { e.Close() })
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

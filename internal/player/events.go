package player

import (
	"log/slog"
	"sync"
	"time"
)

// EventKind selects which engine events a handler receives
type EventKind int

const (
	EventStateChange EventKind = iota
	EventProgress
)

func (k EventKind) String() string {
	switch k {
	case EventStateChange:
		return "stateChange"
	case EventProgress:
		return "progress"
	default:
		return "unknown"
	}
}

// Event is delivered to handlers registered with On
type Event struct {
	Kind     EventKind
	State    State
	Previous State // state changes only
	URL      string
	Position time.Duration
	Duration time.Duration
	Err      *PlaybackError // set on transitions into StateError
}

// Handler receives engine events on the dispatcher goroutine
type Handler func(Event)

// ListenerID identifies a registration for Off
type ListenerID uint64

type listener struct {
	id      ListenerID
	kind    EventKind
	handler Handler
}

// dispatcher delivers events in emission order from a single goroutine.
// The queue is unbounded so emitters never block on slow handlers.
type dispatcher struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Event
	listeners []listener
	nextID    ListenerID
	closed    bool
	idle      *sync.Cond
	busy      bool
	stopped   chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{stopped: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	d.idle = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) subscribe(kind EventKind, h Handler) ListenerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.listeners = append(d.listeners, listener{id: d.nextID, kind: kind, handler: h})
	return d.nextID
}

func (d *dispatcher) unsubscribe(id ListenerID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, l := range d.listeners {
		if l.id == id {
			d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (d *dispatcher) clearListeners() {
	d.mu.Lock()
	d.listeners = nil
	d.mu.Unlock()
}

func (d *dispatcher) emit(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, ev)
	d.cond.Signal()
}

// flush blocks until every event emitted so far has been delivered
func (d *dispatcher) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for (len(d.queue) > 0 || d.busy) && !d.closed {
		d.idle.Wait()
	}
}

func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.cond.Broadcast()
	d.idle.Broadcast()
	d.mu.Unlock()
	<-d.stopped
}

func (d *dispatcher) run() {
	defer close(d.stopped)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		ev := d.queue[0]
		d.queue[0] = Event{}
		d.queue = d.queue[1:]
		targets := make([]Handler, 0, len(d.listeners))
		for _, l := range d.listeners {
			if l.kind == ev.Kind {
				targets = append(targets, l.handler)
			}
		}
		d.busy = true
		d.mu.Unlock()

		for _, h := range targets {
			deliver(h, ev)
		}

		d.mu.Lock()
		d.busy = false
		if len(d.queue) == 0 {
			d.idle.Broadcast()
		}
		d.mu.Unlock()
	}
}

// deliver isolates the dispatcher from panicking handlers
func deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "event", ev.Kind, "panic", r)
		}
	}()
	h(ev)
}

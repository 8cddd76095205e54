package simulator

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/unixpickle/essentials"
)

// An EventStream is a uni-directional channel of events
// that are passed through an EventLoop.
//
// It is only safe to use an EventStream on one EventLoop
// at once.
type EventStream struct {
	loop    *EventLoop
	name    string
	pending []interface{}
}

// Name returns the name given to the stream, if any.
func (e *EventStream) Name() string {
	return e.name
}

// An Event is a message received on some EventStream.
type Event struct {
	Message interface{}
	Stream  *EventStream
}

// A Timer is a single delivery that will happen in the
// (virtual) future.
type Timer struct {
	time  float64
	event *Event
}

// Time gets the virtual time when the timer fires.
func (t *Timer) Time() float64 {
	return t.time
}

// A Handle is a Goroutine's access to an EventLoop.
// Goroutines must not share Handles.
type Handle struct {
	*EventLoop

	name string

	// Empty while the Goroutine is not polling.
	pollStreams []*EventStream
	pollChan    chan<- *Event
}

// Name returns the name the Handle was started with.
func (h *Handle) Name() string {
	return h.name
}

// Poll waits for the next event on any of the streams.
// Streams are checked for buffered events in order.
func (h *Handle) Poll(streams ...*EventStream) *Event {
	ch := make(chan *Event, 1)
	h.modifyHandles(func() {
		if h.pollStreams != nil {
			panic("Handle is shared between Goroutines")
		}
		for _, stream := range streams {
			if len(stream.pending) > 0 {
				msg := stream.pending[0]
				essentials.OrderedDelete(&stream.pending, 0)
				ch <- &Event{Message: msg, Stream: stream}
				return
			}
		}
		h.pollStreams = streams
		h.pollChan = ch
	})
	return <-ch
}

// Schedule delivers msg on stream after delay units of
// virtual time.
func (h *Handle) Schedule(stream *EventStream, msg interface{}, delay float64) *Timer {
	if stream.loop != h.EventLoop {
		panic("EventStream is not associated with the correct EventLoop")
	}
	var timer *Timer
	h.modify(func() {
		timer = &Timer{
			time:  h.time + delay,
			event: &Event{Message: msg, Stream: stream},
		}
		if math.IsInf(timer.time, 0) || math.IsNaN(timer.time) || delay < 0 {
			panic(fmt.Sprintf("invalid deadline: %f", timer.time))
		}
		h.timers = append(h.timers, timer)
	})
	return timer
}

// Cancel stops a timer that has not fired yet.
// Cancelling a fired timer has no effect.
func (h *Handle) Cancel(t *Timer) {
	h.modify(func() {
		for i, timer := range h.timers {
			if timer == t {
				essentials.UnorderedDelete(&h.timers, i)
				return
			}
		}
	})
}

// Sleep waits for delay units of virtual time.
func (h *Handle) Sleep(delay float64) {
	stream := h.Stream()
	h.Schedule(stream, nil, delay)
	h.Poll(stream)
}

// An EventLoop schedules events in virtual time.
//
// Goroutines which access an EventLoop must be started
// with Go.
// The loop only advances while every such Goroutine is
// polling, so work done in real time takes no virtual
// time.
type EventLoop struct {
	lock    sync.Mutex
	timers  []*Timer
	handles []*Handle
	seed    int64
	rand    *rand.Rand
	jitter  map[string]*rand.Rand

	time float64

	running  bool
	notifyCh chan struct{}
}

// NewEventLoop creates an event loop with a random seed.
// Its clock starts at 0.
func NewEventLoop() *EventLoop {
	return NewEventLoopSeed(rand.Int63())
}

// NewEventLoopSeed creates an event loop whose tie
// breaking between simultaneous events is reproducible.
func NewEventLoopSeed(seed int64) *EventLoop {
	return &EventLoop{
		notifyCh: make(chan struct{}, 1),
		seed:     seed,
		rand:     rand.New(rand.NewSource(seed)),
		jitter:   map[string]*rand.Rand{},
	}
}

// Seed returns the seed the loop was created with.
func (e *EventLoop) Seed() int64 {
	return e.seed
}

// Jitter draws the next number in [0, 1) of a named
// sequence.
//
// Every key has its own generator derived from the loop
// seed, so the values do not depend on the real-time
// order in which Goroutines draw them.
func (e *EventLoop) Jitter(key string) float64 {
	e.lock.Lock()
	defer e.lock.Unlock()
	g, ok := e.jitter[key]
	if !ok {
		hash := fnv.New64a()
		hash.Write([]byte(key))
		g = rand.New(rand.NewSource(e.seed ^ int64(hash.Sum64())))
		e.jitter[key] = g
	}
	return g.Float64()
}

// Stream creates a new EventStream.
func (e *EventLoop) Stream() *EventStream {
	return &EventStream{loop: e}
}

// NamedStream creates a new EventStream with a name used
// in deadlock reports.
func (e *EventLoop) NamedStream(name string) *EventStream {
	return &EventStream{loop: e, name: name}
}

// Go runs f in a Goroutine with a new Handle.
func (e *EventLoop) Go(f func(h *Handle)) {
	e.GoNamed("", f)
}

// GoNamed is like Go, but names the Handle so that
// deadlock errors can say who was stuck.
func (e *EventLoop) GoNamed(name string, f func(h *Handle)) {
	h := &Handle{EventLoop: e, name: name}
	e.lock.Lock()
	e.handles = append(e.handles, h)
	e.lock.Unlock()
	go func() {
		f(h)
		e.modifyHandles(func() {
			for i, handle := range e.handles {
				if handle == h {
					essentials.UnorderedDelete(&e.handles, i)
					return
				}
			}
			panic("cannot free handle that does not exist")
		})
	}()
}

// Run runs the loop until every Handle has finished.
//
// It returns an error if every remaining Handle is
// polling and no timer can wake any of them up.
func (e *EventLoop) Run() error {
	e.lock.Lock()
	if e.running {
		e.lock.Unlock()
		panic("EventLoop is already running.")
	}
	e.running = true
	e.lock.Unlock()

	defer func() {
		e.lock.Lock()
		e.running = false
		e.lock.Unlock()
	}()

	// Handles that finished before Run was called never
	// notify again.
	select {
	case e.notifyCh <- struct{}{}:
	default:
	}

	for range e.notifyCh {
		if shouldContinue, err := e.step(); !shouldContinue {
			return err
		}
	}

	panic("unreachable")
}

// MustRun is like Run, but it panics on deadlock.
func (e *EventLoop) MustRun() {
	if err := e.Run(); err != nil {
		panic(err)
	}
}

// Time gets the current virtual time.
func (e *EventLoop) Time() float64 {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.time
}

// modify calls f while holding the loop lock.
// f must not change whether a Handle is polling.
func (e *EventLoop) modify(f func()) {
	e.lock.Lock()
	defer e.lock.Unlock()
	f()
}

// modifyHandles is like modify, but f may change the
// polling state of Handles, so the loop is woken up.
func (e *EventLoop) modifyHandles(f func()) {
	e.lock.Lock()
	defer func() {
		e.lock.Unlock()
		select {
		case e.notifyCh <- struct{}{}:
		default:
		}
	}()
	f()
}

// step delivers the next event, if possible.
//
// The first return value is false once the loop can no
// longer run; the error is set if that is a deadlock.
func (e *EventLoop) step() (bool, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if len(e.handles) == 0 {
		return false, nil
	}

	for _, h := range e.handles {
		if len(h.pollStreams) == 0 {
			// A Goroutine is doing work in real time.
			return true, nil
		}
	}

	for len(e.timers) > 0 {
		// Simultaneous timers fire in a random order.
		indices := e.rand.Perm(len(e.timers))

		minTimerIdx := indices[0]
		for _, i := range indices[1:] {
			if e.timers[i].time < e.timers[minTimerIdx].time {
				minTimerIdx = i
			}
		}
		timer := e.timers[minTimerIdx]

		essentials.UnorderedDelete(&e.timers, minTimerIdx)
		e.time = math.Max(e.time, timer.time)
		if e.deliver(timer.event) {
			return true, nil
		}
	}

	return false, e.deadlockError()
}

func (e *EventLoop) deliver(event *Event) bool {
	// Receivers sharing a stream are served in a random
	// order.
	indices := e.rand.Perm(len(e.handles))
	for _, i := range indices {
		h := e.handles[i]
		for _, stream := range h.pollStreams {
			if stream == event.Stream {
				h.pollChan <- event
				h.pollChan = nil
				h.pollStreams = nil
				return true
			}
		}
	}
	event.Stream.pending = append(event.Stream.pending, event.Message)
	return false
}

func (e *EventLoop) deadlockError() error {
	var stuck []string
	for _, h := range e.handles {
		var streams []string
		for _, s := range h.pollStreams {
			if s.name != "" {
				streams = append(streams, s.name)
			}
		}
		name := h.name
		if name == "" {
			name = "?"
		}
		if len(streams) > 0 {
			name += " on " + strings.Join(streams, ",")
		}
		stuck = append(stuck, name)
	}
	sort.Strings(stuck)
	return errors.Errorf("deadlock at time %f: all Handles are polling: [%s]", e.time,
		strings.Join(stuck, "; "))
}

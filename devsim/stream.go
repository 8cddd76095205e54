package devsim

import (
	"sync"

	"github.com/unixpickle/hcoll/collcomm"
	"github.com/unixpickle/hcoll/simulator"
)

type task func(h *simulator.Handle) error

// A Stream is a simulated hardware queue.
// It implements collcomm.Stream.
//
// Enqueued tasks execute in order on their own Goroutine
// of the event loop once World.Run is called.
type Stream struct {
	world *World
	rank  collcomm.UserRank
	id    string

	lock  sync.Mutex
	tasks []task
}

func newStream(w *World, rank collcomm.UserRank, id string) *Stream {
	s := &Stream{world: w, rank: rank, id: id}
	w.addStream(s)
	return s
}

// ID returns the stream name.
func (s *Stream) ID() string {
	return s.id
}

// Len returns the number of tasks waiting for World.Run.
func (s *Stream) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.tasks)
}

// Memcpy enqueues a device-local copy.
func (s *Stream) Memcpy(dst, src collcomm.Mem) error {
	d, err := asMemory(dst)
	if err != nil {
		return err
	}
	sm, err := asMemory(src)
	if err != nil {
		return err
	}
	if d.Size() != sm.Size() {
		return collcomm.ParameterErrorf("memcpy from %d bytes into %d bytes", sm.Size(), d.Size())
	}
	s.world.count(s.rank, func(st *Stats) { st.Copies++ })
	s.enqueue(func(h *simulator.Handle) error {
		if d.Size() > 0 {
			h.Sleep(CopyTime * float64(d.Size()))
			copy(d.Bytes(), sm.Bytes())
		}
		return nil
	})
	return nil
}

// Post enqueues a record of sig.
func (s *Stream) Post(sig collcomm.Signal) error {
	signal, err := s.asSignal(sig)
	if err != nil {
		return err
	}
	s.enqueue(func(h *simulator.Handle) error {
		h.Schedule(signal.events, nil, 0)
		return nil
	})
	return nil
}

// Wait enqueues a wait for one record of sig.
func (s *Stream) Wait(sig collcomm.Signal) error {
	signal, err := s.asSignal(sig)
	if err != nil {
		return err
	}
	s.enqueue(func(h *simulator.Handle) error {
		h.Poll(signal.events)
		return nil
	})
	return nil
}

func (s *Stream) asSignal(sig collcomm.Signal) (*Signal, error) {
	signal, ok := sig.(*Signal)
	if !ok || signal == nil {
		return nil, collcomm.ParameterErrorf("signal %T is not a simulated signal", sig)
	}
	if signal.rank != s.rank {
		return nil, collcomm.ParameterErrorf("signal %s of rank %d used on rank %d",
			signal.name, signal.rank, s.rank)
	}
	return signal, nil
}

func (s *Stream) enqueue(t task) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.tasks = append(s.tasks, t)
}

func (s *Stream) takeTasks() []task {
	s.lock.Lock()
	defer s.lock.Unlock()
	res := s.tasks
	s.tasks = nil
	return res
}

// A Signal is a counting event: every record wakes
// exactly one wait.
type Signal struct {
	rank   collcomm.UserRank
	name   string
	events *simulator.EventStream
}

// Name returns the signal name.
func (s *Signal) Name() string {
	return s.name
}

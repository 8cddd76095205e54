package devsim

import (
	"fmt"
	"sync"

	"github.com/unixpickle/hcoll/collcomm"
	"github.com/unixpickle/hcoll/simulator"
)

// A Device is one simulated accelerator.
type Device struct {
	world *World
	rank  collcomm.UserRank
	node  *simulator.Node
	main  *Stream

	lock       sync.Mutex
	registered map[collcomm.MemKind]*Memory
	pools      map[string]*StreamPool
	numSignals int
}

func newDevice(w *World, rank collcomm.UserRank) *Device {
	return &Device{
		world:      w,
		rank:       rank,
		node:       simulator.NewNode(fmt.Sprintf("rank%d", rank)),
		main:       newStream(w, rank, fmt.Sprintf("rank%d/main", rank)),
		registered: map[collcomm.MemKind]*Memory{},
		pools:      map[string]*StreamPool{},
	}
}

// Rank returns the user rank of the device.
func (d *Device) Rank() collcomm.UserRank {
	return d.rank
}

// Alloc allocates zeroed device memory.
func (d *Device) Alloc(size uint64) *Memory {
	return d.world.alloc(size)
}

// MainStream returns the stream collectives are enqueued
// on.
func (d *Device) MainStream() *Stream {
	return d.main
}

// Register makes a buffer visible to peers under a kind,
// which is what TxAsync addresses and RemoteMem returns.
func (d *Device) Register(kind collcomm.MemKind, m *Memory) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.registered[kind] = m
}

// Registered returns the buffer registered under a kind.
func (d *Device) Registered(kind collcomm.MemKind) (*Memory, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	m, ok := d.registered[kind]
	if !ok {
		return nil, collcomm.NotFoundErrorf("rank %d has no %s buffer", d.rank, kind)
	}
	return m, nil
}

// NewSignal creates a signal usable by every stream of
// the device.
func (d *Device) NewSignal(name string) (collcomm.Signal, error) {
	d.lock.Lock()
	d.numSignals++
	id := d.numSignals
	d.lock.Unlock()
	fullName := fmt.Sprintf("rank%d/%s#%d", d.rank, name, id)
	return &Signal{
		rank:   d.rank,
		name:   fullName,
		events: d.world.loop.NamedStream(fullName),
	}, nil
}

// Reduce enqueues an element-wise reduction.
// It implements collcomm.Reducer.
func (d *Device) Reduce(s collcomm.Stream, dst, a, b collcomm.Mem, count uint64,
	dt collcomm.DataType, op collcomm.ReduceOp) error {
	stream, ok := s.(*Stream)
	if !ok || stream.rank != d.rank {
		return collcomm.ParameterErrorf("reduce on foreign stream %v", s)
	}
	var regions [3]*Memory
	for i, m := range []collcomm.Mem{dst, a, b} {
		mem, err := asMemory(m)
		if err != nil {
			return err
		}
		regions[i] = mem
	}
	n := count * uint64(dt.Size())
	for _, m := range regions {
		if m.Size() < n {
			return collcomm.ParameterErrorf("reduce of %d bytes on %d-byte region", n, m.Size())
		}
	}
	d.world.count(d.rank, func(st *Stats) { st.Reductions++ })
	stream.enqueue(func(h *simulator.Handle) error {
		if count == 0 {
			return nil
		}
		h.Sleep(FlopTime * float64(count))
		return collcomm.ReduceBytes(regions[0].Bytes()[:n], regions[1].Bytes()[:n],
			regions[2].Bytes()[:n], dt, op)
	})
	return nil
}

// StreamPool returns the auxiliary streams of a tag,
// creating them on first use. The pool only grows.
func (d *Device) StreamPool(tag string) *StreamPool {
	d.lock.Lock()
	defer d.lock.Unlock()
	if p, ok := d.pools[tag]; ok {
		return p
	}
	p := &StreamPool{device: d, tag: tag}
	d.pools[tag] = p
	return p
}

// Release forgets the auxiliary streams of a tag.
func (d *Device) Release(tag string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	delete(d.pools, tag)
}

// A StreamPool holds the auxiliary streams of one tag.
type StreamPool struct {
	device *Device
	tag    string

	lock    sync.Mutex
	streams []*Stream
}

// Streams returns at least n auxiliary streams.
func (s *StreamPool) Streams(n int) []collcomm.Stream {
	s.lock.Lock()
	defer s.lock.Unlock()
	for len(s.streams) < n {
		id := fmt.Sprintf("rank%d/%s/aux%d", s.device.rank, s.tag, len(s.streams))
		s.streams = append(s.streams, newStream(s.device.world, s.device.rank, id))
	}
	res := make([]collcomm.Stream, n)
	for i := range res {
		res[i] = s.streams[i]
	}
	return res
}

// Package devsim simulates a group of accelerator devices
// connected by a network, implementing every collaborator
// the collective executors need: device memory, streams,
// signals, links, the connection fabric and the reducer.
//
// Work enqueued on simulated streams only runs when
// World.Run is called, which drives the virtual-time
// event loop of package simulator until every stream has
// drained.
package devsim

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/unixpickle/hcoll/collcomm"
	"github.com/unixpickle/hcoll/simulator"
	"k8s.io/klog/v2"
)

const (
	// FlopTime is the virtual time of one element-wise
	// reduction step.
	FlopTime = 1e-9

	// CopyTime is the virtual time to copy one byte
	// within a device.
	CopyTime = 1e-10
)

// Options configures a World.
type Options struct {
	// Rate is the link transfer rate in bytes per unit of
	// virtual time. Zero means transfers take no time.
	Rate float64

	// Latency is paid by every network message.
	Latency float64

	// RDMA makes every link a remote-direct-memory link.
	RDMA bool

	// Random delivers messages with random delays, which
	// may reorder messages on the same link.
	Random bool

	// Switched makes Rate the send and receive rate of
	// every device rather than of every link: concurrent
	// transfers from or to one device share its bandwidth.
	// It needs a positive Rate and is ignored if Random is
	// set.
	Switched bool

	// Seed makes tie breaking in the event loop and
	// random delays reproducible. Zero picks a random seed.
	Seed int64
}

// Stats counts enqueued work.
type Stats struct {
	// NetworkOps counts link operations.
	NetworkOps int

	// Copies counts memcpy operations, including
	// zero-size ones.
	Copies int

	// Reductions counts reduce operations.
	Reductions int
}

// A World is a set of simulated devices sharing one event
// loop and one network.
type World struct {
	opts    Options
	loop    *simulator.EventLoop
	network simulator.Network
	devices []*Device

	lock     sync.Mutex
	nextAddr uint64
	streams  []*Stream
	stats    map[collcomm.UserRank]*Stats
	torn     bool

	fabric *fabric
}

// NewWorld creates a World with one device per rank.
// Device i has user rank i.
func NewWorld(numDevices int, opts Options) *World {
	w := &World{
		opts:     opts,
		nextAddr: pageSize,
		stats:    map[collcomm.UserRank]*Stats{},
	}
	if opts.Seed != 0 {
		w.loop = simulator.NewEventLoopSeed(opts.Seed)
	} else {
		w.loop = simulator.NewEventLoop()
	}
	w.fabric = newFabric(w)
	nodes := make([]*simulator.Node, numDevices)
	for i := range nodes {
		dev := newDevice(w, collcomm.UserRank(i))
		w.devices = append(w.devices, dev)
		nodes[i] = dev.node
	}
	switch {
	case opts.Random:
		w.network = simulator.RandomNetwork{MaxLatency: opts.Latency}
	case opts.Switched && opts.Rate > 0:
		switcher := simulator.NewGreedyDropSwitcher(numDevices, opts.Rate)
		w.network = simulator.NewSwitcherNetwork(switcher, nodes, opts.Latency)
	default:
		w.network = simulator.NewOrderedNetwork(opts.Rate, opts.Latency)
	}
	return w
}

// Loop returns the event loop, so that callers can add
// their own Goroutines before Run.
func (w *World) Loop() *simulator.EventLoop {
	return w.loop
}

// NumDevices returns the number of devices.
func (w *World) NumDevices() int {
	return len(w.devices)
}

// Device returns the device of a user rank.
func (w *World) Device(rank collcomm.UserRank) *Device {
	if int(rank) < 0 || int(rank) >= len(w.devices) {
		panic("device index out of range")
	}
	return w.devices[rank]
}

// Connector returns the connection collaborator as seen
// from one rank.
func (w *World) Connector(rank collcomm.UserRank) collcomm.Connector {
	return &connector{fabric: w.fabric, rank: rank}
}

// Unpaired lists the links of a tag that only one
// endpoint asked for, which happens when both endpoints
// computed the same role.
func (w *World) Unpaired(tag string) []collcomm.TransportRequest {
	return w.fabric.unpaired(tag)
}

// Stats returns the work enqueued by a rank so far.
func (w *World) Stats(rank collcomm.UserRank) Stats {
	w.lock.Lock()
	defer w.lock.Unlock()
	if s, ok := w.stats[rank]; ok {
		return *s
	}
	return Stats{}
}

// ResetStats clears all counters.
func (w *World) ResetStats() {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.stats = map[collcomm.UserRank]*Stats{}
}

// Time returns the current virtual time.
func (w *World) Time() float64 {
	return w.loop.Time()
}

// Run executes every enqueued task on every stream and
// blocks until all streams have drained.
//
// If any rank was torn down, stream failures and
// deadlocks are reported as a transient teardown.
func (w *World) Run() error {
	w.lock.Lock()
	streams := append([]*Stream{}, w.streams...)
	w.lock.Unlock()

	var errLock sync.Mutex
	var streamErrs []error
	for _, s := range streams {
		tasks := s.takeTasks()
		if len(tasks) == 0 {
			continue
		}
		stream := s
		w.loop.GoNamed(stream.id, func(h *simulator.Handle) {
			for _, t := range tasks {
				if err := t(h); err != nil {
					errLock.Lock()
					streamErrs = append(streamErrs, errors.WithMessagef(err, "stream %s", stream.id))
					errLock.Unlock()
					return
				}
			}
		})
	}
	loopErr := w.loop.Run()

	w.lock.Lock()
	torn := w.torn
	w.lock.Unlock()

	for _, err := range streamErrs {
		if collcomm.IsTransientTeardown(err) {
			klog.Warningf("simulated run ended by teardown: %v", err)
			return err
		}
	}
	if loopErr != nil && torn {
		klog.Warningf("simulated run stalled after teardown: %v", loopErr)
		return collcomm.TeardownErrorf("%v", loopErr)
	}
	if len(streamErrs) > 0 {
		return streamErrs[0]
	}
	if loopErr != nil {
		return collcomm.InternalErrorf("%v", loopErr)
	}
	return nil
}

// Teardown destroys every link of a rank while the loop
// is running, as a communicator teardown racing with
// in-flight operations would.
//
// It must be called from a Goroutine of the loop.
func (w *World) Teardown(h *simulator.Handle, rank collcomm.UserRank) {
	w.markTorn()
	if net, ok := w.network.(*simulator.OrderedNetwork); ok {
		net.SetDown(h, w.devices[rank].node, true)
	}
	w.fabric.teardown(h, rank)
}

// TeardownRank closes every link of a rank while the loop
// is not running. Enqueued work on those links fails when
// it executes.
func (w *World) TeardownRank(rank collcomm.UserRank) {
	w.markTorn()
	w.fabric.teardown(nil, rank)
}

func (w *World) markTorn() {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.torn = true
}

func (w *World) alloc(size uint64) *Memory {
	w.lock.Lock()
	defer w.lock.Unlock()
	a := &allocation{addr: w.nextAddr, data: make([]byte, size)}
	w.nextAddr += (size + pageSize) / pageSize * pageSize
	return &Memory{alloc: a, size: size}
}

func (w *World) addStream(s *Stream) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.streams = append(w.streams, s)
}

func (w *World) count(rank collcomm.UserRank, f func(s *Stats)) {
	w.lock.Lock()
	defer w.lock.Unlock()
	s, ok := w.stats[rank]
	if !ok {
		s = &Stats{}
		w.stats[rank] = s
	}
	f(s)
}

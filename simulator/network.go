package simulator

import (
	"math"
	"sync"

	"github.com/unixpickle/essentials"
)

// A Node is a machine on a virtual network.
type Node struct {
	Name string
}

// NewNode creates a new, unique Node.
func NewNode(name string) *Node {
	return &Node{Name: name}
}

// A Message is a chunk of data sent between nodes.
type Message struct {
	Source *Node
	Dest   *Node

	// Stream is where the message is delivered.
	Stream *EventStream

	Message interface{}
	Size    float64
}

// A Network is a way of communicating between nodes.
type Network interface {
	// Send schedules messages for delivery on their
	// streams.
	//
	// This is a non-blocking operation.
	Send(h *Handle, msgs ...*Message)
}

// A RandomNetwork delays every message by a random amount
// of time in [0, MaxLatency).
// Messages on the same stream may be reordered.
type RandomNetwork struct {
	MaxLatency float64
}

// Send sends the messages with random delays.
func (r RandomNetwork) Send(h *Handle, msgs ...*Message) {
	maxLatency := r.MaxLatency
	if maxLatency == 0 {
		maxLatency = 1
	}
	for _, msg := range msgs {
		h.Schedule(msg.Stream, msg, h.Jitter(msg.jitterKey())*maxLatency)
	}
}

// jitterKey names the sequence of random delays of a
// message, which is reproducible for a given loop seed.
func (m *Message) jitterKey() string {
	var src, dst string
	if m.Source != nil {
		src = m.Source.Name
	}
	if m.Dest != nil {
		dst = m.Dest.Name
	}
	return src + "->" + dst + "/" + m.Stream.Name()
}

// An OrderedNetwork delivers the messages sent from one
// node to another in order, with a per-message latency.
//
// Every directed pair of nodes is a link of its own with
// transfer rate Rate: messages on a pair are transmitted
// one after the other, while different pairs do not slow
// each other down.
//
// Nodes can be taken down, which drops every message to
// or from them, including those in flight.
type OrderedNetwork struct {
	// Rate is the number of bytes per unit of time a
	// directed pair of nodes can carry.
	// Zero means transfers take no time.
	Rate float64

	// Latency is paid by every message after it has been
	// transmitted.
	Latency float64

	// MaxRandomLatency adds jitter; it never reorders
	// messages between the same pair of nodes.
	MaxRandomLatency float64

	lock      sync.Mutex
	busyUntil map[nodePair]float64
	nextTimes map[nodePair]float64
	downNodes map[*Node]bool
	timers    map[*Node][]*Timer
}

const orderEpsilon = 1e-9

type nodePair struct {
	src *Node
	dst *Node
}

// NewOrderedNetwork creates an OrderedNetwork.
func NewOrderedNetwork(rate, latency float64) *OrderedNetwork {
	return &OrderedNetwork{
		Rate:      rate,
		Latency:   latency,
		busyUntil: map[nodePair]float64{},
		nextTimes: map[nodePair]float64{},
		downNodes: map[*Node]bool{},
		timers:    map[*Node][]*Timer{},
	}
}

// Send sends the messages over the network in order.
// Messages to or from a down node are dropped.
func (o *OrderedNetwork) Send(h *Handle, msgs ...*Message) {
	o.lock.Lock()
	defer o.lock.Unlock()

	o.cleanupTimers(h)
	curTime := h.Time()

	for _, msg := range msgs {
		if o.downNodes[msg.Source] || o.downNodes[msg.Dest] {
			continue
		}
		pair := nodePair{src: msg.Source, dst: msg.Dest}
		sent := math.Max(curTime, o.busyUntil[pair])
		if o.Rate > 0 {
			sent += msg.Size / o.Rate
		}
		o.busyUntil[pair] = sent

		deadline := sent + o.Latency
		if o.MaxRandomLatency > 0 {
			deadline += h.Jitter(msg.jitterKey()) * o.MaxRandomLatency
		}
		if t, ok := o.nextTimes[pair]; ok && t >= deadline {
			// Equal deadlines fire in random order.
			deadline = t + orderEpsilon
		}
		o.nextTimes[pair] = deadline
		timer := h.Schedule(msg.Stream, msg, deadline-curTime)
		o.timers[msg.Dest] = append(o.timers[msg.Dest], timer)
		o.timers[msg.Source] = append(o.timers[msg.Source], timer)
	}
}

// Down checks if a node has been taken down.
func (o *OrderedNetwork) Down(node *Node) bool {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.downNodes[node]
}

// SetDown takes a node down or brings it back up.
// Taking a node down cancels its in-flight messages.
func (o *OrderedNetwork) SetDown(h *Handle, node *Node, down bool) {
	o.lock.Lock()
	defer o.lock.Unlock()

	o.downNodes[node] = down
	if !down {
		return
	}

	for pair := range o.nextTimes {
		if pair.src == node || pair.dst == node {
			delete(o.nextTimes, pair)
			delete(o.busyUntil, pair)
		}
	}

	o.cleanupTimers(h)
	canceled := map[*Timer]bool{}
	for _, t := range o.timers[node] {
		canceled[t] = true
		h.Cancel(t)
	}
	delete(o.timers, node)
	o.filterTimers(func(t *Timer) bool {
		return !canceled[t]
	})
}

func (o *OrderedNetwork) cleanupTimers(h *Handle) {
	time := h.Time()
	o.filterTimers(func(t *Timer) bool {
		return t.Time() >= time
	})
}

func (o *OrderedNetwork) filterTimers(keep func(t *Timer) bool) {
	for node, timers := range o.timers {
		for i := 0; i < len(timers); i++ {
			if !keep(timers[i]) {
				essentials.UnorderedDelete(&timers, i)
				i--
			}
		}
		o.timers[node] = timers
	}
}

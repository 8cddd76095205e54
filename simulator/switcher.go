package simulator

import (
	"math"
	"sync"
)

// A Switcher decides how fast data flows between nodes
// that transmit at the same time, which is where
// oversubscribed network cards slow transfers down.
type Switcher interface {
	// SwitchedRates is passed a matrix with the number of
	// active transfers of every pair, and replaces every
	// entry with the total rate the pair gets.
	SwitchedRates(mat *ConnMat)
}

// A GreedyDropSwitcher models network cards that split
// their send rate evenly between their active transfers,
// and receivers that scale down every incoming transfer
// when more arrives than they can take in.
type GreedyDropSwitcher struct {
	SendRates []float64
	RecvRates []float64
}

// NewGreedyDropSwitcher creates a GreedyDropSwitcher
// where every node sends and receives at rate.
func NewGreedyDropSwitcher(numNodes int, rate float64) *GreedyDropSwitcher {
	rates := make([]float64, numNodes)
	for i := range rates {
		rates[i] = rate
	}
	return &GreedyDropSwitcher{SendRates: rates, RecvRates: rates}
}

// SwitchedRates applies the send split, then the receive
// limits.
func (g *GreedyDropSwitcher) SwitchedRates(mat *ConnMat) {
	if mat.NumNodes() != len(g.SendRates) || mat.NumNodes() != len(g.RecvRates) {
		panic("switcher and matrix disagree on the number of nodes")
	}
	for src := 0; src < mat.NumNodes(); src++ {
		if active := mat.SumSource(src); active > 0 {
			mat.ScaleSource(src, g.SendRates[src]/active)
		}
	}
	for dst := 0; dst < mat.NumNodes(); dst++ {
		if incoming := mat.SumDest(dst); incoming > g.RecvRates[dst] {
			mat.ScaleDest(dst, g.RecvRates[dst]/incoming)
		}
	}
}

// A SwitcherNetwork transmits every message at once and
// lets a Switcher share the bandwidth of the nodes
// between them. A new message may slow down the ones
// already in flight.
//
// Every message pays Latency before its transmission
// starts. Messages between the same pair of nodes may
// overtake each other.
type SwitcherNetwork struct {
	lock     sync.Mutex
	switcher Switcher
	indices  map[*Node]int
	latency  float64
	plan     []*switchedSegment
}

// NewSwitcherNetwork creates a SwitcherNetwork for a
// fixed set of nodes.
func NewSwitcherNetwork(switcher Switcher, nodes []*Node, latency float64) *SwitcherNetwork {
	indices := make(map[*Node]int, len(nodes))
	for i, n := range nodes {
		indices[n] = i
	}
	return &SwitcherNetwork{switcher: switcher, indices: indices, latency: latency}
}

// Send adds the messages to the ones in flight and
// reschedules every delivery.
func (s *SwitcherNetwork) Send(h *Handle, msgs ...*Message) {
	s.lock.Lock()
	defer s.lock.Unlock()

	state := s.inFlight(h)
	for _, msg := range msgs {
		if _, ok := s.indices[msg.Source]; !ok {
			panic("message from a node that is not on the network")
		}
		if _, ok := s.indices[msg.Dest]; !ok {
			panic("message to a node that is not on the network")
		}
		state = append(state, &switchedMsg{msg: msg, latency: s.latency, remaining: msg.Size})
	}
	s.schedule(h, state)
}

// inFlight cancels the pending deliveries and returns the
// messages that have not arrived yet, as of now.
func (s *SwitcherNetwork) inFlight(h *Handle) []*switchedMsg {
	now := h.Time()
	var res []*switchedMsg
	for _, seg := range s.plan {
		if now >= seg.end {
			// Its deliveries fire now or already did.
			continue
		}
		if now >= seg.start {
			for _, msg := range seg.state {
				res = append(res, msg.advance(now-seg.start))
			}
		}
		for _, t := range seg.timers {
			h.Cancel(t)
		}
	}
	return res
}

// schedule plans the deliveries of state as a sequence of
// segments during which the rates do not change.
func (s *SwitcherNetwork) schedule(h *Handle, state []*switchedMsg) {
	now := h.Time()
	start := now
	s.plan = s.plan[:0]
	for len(state) > 0 {
		s.assignRates(state)
		var first, rest []*switchedMsg
		eta := math.Inf(1)
		for _, msg := range state {
			eta = math.Min(eta, msg.eta())
		}
		for _, msg := range state {
			if msg.eta() == eta {
				first = append(first, msg)
			} else {
				rest = append(rest, msg)
			}
		}
		end := start + eta
		seg := &switchedSegment{start: start, end: end, state: state}
		for _, msg := range first {
			seg.timers = append(seg.timers, h.Schedule(msg.msg.Stream, msg.msg, end-now))
		}
		s.plan = append(s.plan, seg)
		for i, msg := range rest {
			rest[i] = msg.advance(eta)
		}
		state = rest
		start = end
	}
}

func (s *SwitcherNetwork) assignRates(state []*switchedMsg) {
	counts := NewConnMat(len(s.indices))
	for _, msg := range state {
		if msg.remaining > 0 {
			counts.Add(s.indices[msg.msg.Source], s.indices[msg.msg.Dest], 1)
		}
	}
	rates := NewConnMat(len(s.indices))
	for i, c := range counts.values {
		if c > 0 {
			rates.values[i] = 1
		}
	}
	s.switcher.SwitchedRates(rates)
	for _, msg := range state {
		src, dst := s.indices[msg.msg.Source], s.indices[msg.msg.Dest]
		if c := counts.Get(src, dst); c > 0 {
			msg.rate = rates.Get(src, dst) / c
		}
	}
}

// switchedMsg is the progress of a message in flight.
type switchedMsg struct {
	msg       *Message
	latency   float64
	remaining float64
	rate      float64
}

// eta is the time left until the message arrives at the
// current rate.
func (s *switchedMsg) eta() float64 {
	if s.remaining <= 0 {
		return math.Max(0, s.latency)
	}
	return math.Max(0, s.latency+s.remaining/s.rate)
}

// advance returns the progress after t more units of
// time, spent on latency first.
func (s *switchedMsg) advance(t float64) *switchedMsg {
	res := *s
	if t < res.latency {
		res.latency -= t
		return &res
	}
	t -= res.latency
	res.latency = 0
	res.remaining -= res.rate * t
	return &res
}

// A switchedSegment is a period during which the rates of
// the messages in flight do not change. It ends with at
// least one delivery.
type switchedSegment struct {
	start  float64
	end    float64
	timers []*Timer
	state  []*switchedMsg
}

package devsim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/unixpickle/hcoll/collcomm"
	"github.com/unixpickle/hcoll/simulator"
	"k8s.io/klog/v2"
)

// linkKey identifies a link: both endpoints compute the
// same key when their roles are complementary.
type linkKey struct {
	tag       string
	initiator collcomm.UserRank
	responder collcomm.UserRank
}

func (l linkKey) String() string {
	return fmt.Sprintf("%s:%d->%d", l.tag, l.initiator, l.responder)
}

// fabric pairs the transport requests of all ranks.
type fabric struct {
	world *World

	lock  sync.Mutex
	pairs map[linkKey]*linkPair
}

func newFabric(w *World) *fabric {
	return &fabric{world: w, pairs: map[linkKey]*linkPair{}}
}

func (f *fabric) connect(rank collcomm.UserRank, tag string,
	reqs []collcomm.TransportRequest) ([]collcomm.Link, error) {
	res := make([]collcomm.Link, len(reqs))
	for i, req := range reqs {
		if !req.Valid {
			continue
		}
		joined, err := f.join(rank, tag, req)
		if err != nil {
			for _, l := range res {
				if l != nil && f.leave(l.(*link)) {
					f.world.markTorn()
				}
			}
			return nil, err
		}
		res[i] = joined
	}
	return res, nil
}

func (f *fabric) join(rank collcomm.UserRank, tag string, req collcomm.TransportRequest) (*link, error) {
	if req.LocalRank != rank {
		return nil, collcomm.ParameterErrorf("rank %d cannot connect on behalf of rank %d", rank, req.LocalRank)
	}
	if req.RemoteRank == rank {
		return nil, collcomm.ParameterErrorf("rank %d cannot connect to itself", rank)
	}
	if int(req.RemoteRank) < 0 || int(req.RemoteRank) >= len(f.world.devices) {
		return nil, collcomm.NotFoundErrorf("no device for rank %d", req.RemoteRank)
	}

	key := linkKey{tag: tag, initiator: rank, responder: req.RemoteRank}
	side := 0
	if req.Role == collcomm.Responder {
		key = linkKey{tag: tag, initiator: req.RemoteRank, responder: rank}
		side = 1
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	pair, ok := f.pairs[key]
	if !ok {
		loop := f.world.loop
		pair = &linkPair{
			key:         key,
			req:         req,
			toInitiator: newChannel(loop, fmt.Sprintf("%s/to%d", key, key.initiator)),
			toResponder: newChannel(loop, fmt.Sprintf("%s/to%d", key, key.responder)),
		}
		f.pairs[key] = pair
	}
	pair.lock.Lock()
	defer pair.lock.Unlock()
	if pair.joined[side] {
		return nil, collcomm.ParameterErrorf("link %s requested twice as %s", key, req.Role)
	}
	if pair.closed {
		return nil, collcomm.TeardownErrorf("link %s", key)
	}
	pair.joined[side] = true

	l := &link{
		world:  f.world,
		pair:   pair,
		side:   side,
		local:  f.world.devices[rank],
		remote: f.world.devices[req.RemoteRank],
	}
	if side == 0 {
		l.in, l.out = pair.toInitiator, pair.toResponder
	} else {
		l.in, l.out = pair.toResponder, pair.toInitiator
	}
	klog.V(2).Infof("rank %d: joined link %s as %s", rank, key, req.Role)
	return l, nil
}

// leave closes one endpoint of a link. A pair that
// neither endpoint holds any more is forgotten, so that
// its tag can be set up again. It reports whether the
// remote endpoint still holds the link.
func (f *fabric) leave(l *link) bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	l.pair.lock.Lock()
	defer l.pair.lock.Unlock()
	l.pair.joined[l.side] = false
	l.pair.closed = true
	if l.pair.joined[1-l.side] {
		return true
	}
	if f.pairs[l.pair.key] == l.pair {
		delete(f.pairs, l.pair.key)
	}
	return false
}

func (f *fabric) unpaired(tag string) []collcomm.TransportRequest {
	f.lock.Lock()
	defer f.lock.Unlock()
	var res []collcomm.TransportRequest
	for key, pair := range f.pairs {
		if key.tag != tag {
			continue
		}
		pair.lock.Lock()
		if pair.joined[0] != pair.joined[1] && !pair.closed {
			res = append(res, pair.req)
		}
		pair.lock.Unlock()
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].LocalRank != res[j].LocalRank {
			return res[i].LocalRank < res[j].LocalRank
		}
		return res[i].RemoteRank < res[j].RemoteRank
	})
	return res
}

// teardown closes every link of a rank. With a Handle,
// streams blocked on those links are woken up.
func (f *fabric) teardown(h *simulator.Handle, rank collcomm.UserRank) {
	f.lock.Lock()
	defer f.lock.Unlock()
	var closed int
	for key, pair := range f.pairs {
		if key.initiator != rank && key.responder != rank {
			continue
		}
		pair.lock.Lock()
		wasClosed := pair.closed
		pair.closed = true
		pair.lock.Unlock()
		if wasClosed {
			continue
		}
		closed++
		if h != nil {
			for _, ch := range []*channel{pair.toInitiator, pair.toResponder} {
				for _, inbox := range ch.inboxes() {
					h.Schedule(inbox, closedMsg{}, 0)
				}
			}
		}
	}
	klog.V(1).Infof("rank %d: tore down %d links", rank, closed)
}

// connector is the view of the fabric from one rank.
type connector struct {
	fabric *fabric
	rank   collcomm.UserRank
}

func (c *connector) Connect(tag string, reqs []collcomm.TransportRequest) ([]collcomm.Link, error) {
	return c.fabric.connect(c.rank, tag, reqs)
}

// Disconnect closes links created by any connector of the
// same World. Like TeardownRank, it must not be called
// while the loop is running.
//
// Links whose remote endpoint never joined are forgotten,
// and their tag may be set up again. Otherwise the remote
// endpoint fails with a transient teardown.
func (c *connector) Disconnect(links []collcomm.Link) error {
	for _, l := range links {
		sim, ok := l.(*link)
		if !ok || sim.world != c.fabric.world {
			return collcomm.ParameterErrorf("link %T was not created by this fabric", l)
		}
	}
	var torn int
	for _, l := range links {
		if c.fabric.leave(l.(*link)) {
			torn++
		}
	}
	if torn > 0 {
		c.fabric.world.markTorn()
	}
	klog.V(1).Infof("rank %d: disconnected %d links, %d still held remotely", c.rank, len(links), torn)
	return nil
}

package devsim

import (
	"sync"

	"github.com/unixpickle/hcoll/collcomm"
	"github.com/unixpickle/hcoll/simulator"
)

type ackMsg struct{}

type signalMsg struct{}

type envMsg struct {
	rank collcomm.UserRank
}

type closedMsg struct{}

type dataKey struct {
	kind   collcomm.MemKind
	offset uint64
}

type dataMsg struct {
	key  dataKey
	data []byte
}

// A channel is one direction of a link: the inboxes of
// the receiving endpoint, one per message kind.
type channel struct {
	ack    *simulator.EventStream
	data   *simulator.EventStream
	signal *simulator.EventStream
	env    *simulator.EventStream

	lock    sync.Mutex
	stashed map[dataKey][]*dataMsg
}

func newChannel(loop *simulator.EventLoop, name string) *channel {
	return &channel{
		ack:     loop.NamedStream(name + "/ack"),
		data:    loop.NamedStream(name + "/data"),
		signal:  loop.NamedStream(name + "/signal"),
		env:     loop.NamedStream(name + "/env"),
		stashed: map[dataKey][]*dataMsg{},
	}
}

func (c *channel) inboxes() []*simulator.EventStream {
	return []*simulator.EventStream{c.ack, c.data, c.signal, c.env}
}

func (c *channel) takeStashed(key dataKey) *dataMsg {
	c.lock.Lock()
	defer c.lock.Unlock()
	msgs := c.stashed[key]
	if len(msgs) == 0 {
		return nil
	}
	res := msgs[0]
	c.stashed[key] = msgs[1:]
	return res
}

func (c *channel) stash(msg *dataMsg) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.stashed[msg.key] = append(c.stashed[msg.key], msg)
}

// A linkPair is the shared state of both endpoints.
type linkPair struct {
	key linkKey
	req collcomm.TransportRequest

	toInitiator *channel
	toResponder *channel

	lock   sync.Mutex
	joined [2]bool
	closed bool
}

func (l *linkPair) isClosed() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.closed
}

// link is one endpoint of a linkPair.
// It implements collcomm.Link.
type link struct {
	world  *World
	pair   *linkPair
	side   int
	local  *Device
	remote *Device
	in     *channel
	out    *channel
}

func (l *link) RemoteRank() collcomm.UserRank {
	return l.remote.rank
}

func (l *link) IsRDMA() bool {
	return l.world.opts.RDMA
}

func (l *link) TxAck(s collcomm.Stream) error {
	return l.enqueue(s, "TxAck", func(h *simulator.Handle) error {
		return l.send(h, l.out.ack, ackMsg{}, 0)
	})
}

func (l *link) RxAck(s collcomm.Stream) error {
	return l.enqueue(s, "RxAck", func(h *simulator.Handle) error {
		_, err := l.recv(h, l.in.ack)
		return err
	})
}

func (l *link) TxDataSignal(s collcomm.Stream) error {
	return l.enqueue(s, "TxDataSignal", func(h *simulator.Handle) error {
		return l.send(h, l.out.signal, signalMsg{}, 0)
	})
}

func (l *link) RxDataSignal(s collcomm.Stream) error {
	return l.enqueue(s, "RxDataSignal", func(h *simulator.Handle) error {
		_, err := l.recv(h, l.in.signal)
		return err
	})
}

func (l *link) TxEnv(s collcomm.Stream) error {
	return l.enqueue(s, "TxEnv", func(h *simulator.Handle) error {
		return l.send(h, l.out.env, envMsg{rank: l.local.rank}, 0)
	})
}

func (l *link) RxEnv(s collcomm.Stream) error {
	return l.enqueue(s, "RxEnv", func(h *simulator.Handle) error {
		msg, err := l.recv(h, l.in.env)
		if err != nil {
			return err
		}
		if env := msg.(envMsg); env.rank != l.remote.rank {
			return collcomm.InternalErrorf("buffer announcement from rank %d on link to rank %d",
				env.rank, l.remote.rank)
		}
		return nil
	})
}

func (l *link) TxAsync(kind collcomm.MemKind, offset uint64, src collcomm.Mem, s collcomm.Stream) error {
	mem, err := asMemory(src)
	if err != nil {
		return err
	}
	if dst, err := l.remote.Registered(kind); err == nil && offset+mem.Size() > dst.Size() {
		return collcomm.ParameterErrorf("send of %d bytes at offset %d overflows %d-byte remote %s buffer",
			mem.Size(), offset, dst.Size(), kind)
	}
	return l.enqueue(s, "TxAsync", func(h *simulator.Handle) error {
		data := append([]byte{}, mem.Bytes()...)
		msg := &dataMsg{key: dataKey{kind: kind, offset: offset}, data: data}
		return l.send(h, l.out.data, msg, float64(len(data)))
	})
}

func (l *link) RxAsync(kind collcomm.MemKind, offset uint64, dst collcomm.Mem, s collcomm.Stream) error {
	mem, err := asMemory(dst)
	if err != nil {
		return err
	}
	key := dataKey{kind: kind, offset: offset}
	return l.enqueue(s, "RxAsync", func(h *simulator.Handle) error {
		msg, err := l.recvData(h, key)
		if err != nil {
			return err
		}
		if uint64(len(msg.data)) != mem.Size() {
			return collcomm.InternalErrorf("rank %d sent %d bytes to %s+%d, rank %d expected %d",
				l.remote.rank, len(msg.data), kind, offset, l.local.rank, mem.Size())
		}
		copy(mem.Bytes(), msg.data)
		return nil
	})
}

func (l *link) RemoteMem(kind collcomm.MemKind) (collcomm.Mem, error) {
	if l.pair.isClosed() {
		return nil, collcomm.TeardownErrorf("link %d -> %d", l.local.rank, l.remote.rank)
	}
	return l.remote.Registered(kind)
}

func (l *link) enqueue(s collcomm.Stream, op string, t task) error {
	if l.pair.isClosed() {
		return collcomm.TeardownErrorf("%s on link %d -> %d", op, l.local.rank, l.remote.rank)
	}
	stream, ok := s.(*Stream)
	if !ok || stream.rank != l.local.rank {
		return collcomm.ParameterErrorf("%s on foreign stream %v", op, s)
	}
	l.world.count(l.local.rank, func(st *Stats) { st.NetworkOps++ })
	stream.enqueue(t)
	return nil
}

func (l *link) send(h *simulator.Handle, inbox *simulator.EventStream, msg interface{}, size float64) error {
	if l.pair.isClosed() {
		return collcomm.TeardownErrorf("send on link %d -> %d", l.local.rank, l.remote.rank)
	}
	l.world.network.Send(h, &simulator.Message{
		Source:  l.local.node,
		Dest:    l.remote.node,
		Stream:  inbox,
		Message: msg,
		Size:    size,
	})
	return nil
}

func (l *link) recv(h *simulator.Handle, inbox *simulator.EventStream) (interface{}, error) {
	if l.pair.isClosed() {
		return nil, collcomm.TeardownErrorf("receive on link %d <- %d", l.local.rank, l.remote.rank)
	}
	event := h.Poll(inbox)
	if _, ok := event.Message.(closedMsg); ok {
		// Wake any other stream waiting on the same inbox.
		h.Schedule(inbox, closedMsg{}, 0)
		return nil, collcomm.TeardownErrorf("receive on link %d <- %d", l.local.rank, l.remote.rank)
	}
	return event.Message.(*simulator.Message).Message, nil
}

// recvData waits for the data targeted at key. Data for
// other keys that overtakes it on the network is stashed.
func (l *link) recvData(h *simulator.Handle, key dataKey) (*dataMsg, error) {
	for {
		if msg := l.in.takeStashed(key); msg != nil {
			return msg, nil
		}
		raw, err := l.recv(h, l.in.data)
		if err != nil {
			return nil, err
		}
		msg := raw.(*dataMsg)
		if msg.key == key {
			return msg, nil
		}
		l.in.stash(msg)
	}
}

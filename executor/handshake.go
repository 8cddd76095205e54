package executor

import (
	"github.com/unixpickle/hcoll/collcomm"
	"k8s.io/klog/v2"
)

// A transfer is one direction of an exchange: a local
// region and where it lands in the receiver's registered
// buffers.
type transfer struct {
	kind   collcomm.MemKind
	offset uint64
	mem    collcomm.Mem
}

func (t *transfer) empty() bool {
	return t == nil || t.mem.Size() == 0
}

// exchange runs one round with a peer on a stream.
// Both ends call it with mirrored transfers; either may
// be nil, and zero-size transfers move no data.
//
// The steps are, in order: a ready Ack pair (a buffer
// announcement on RDMA links), the data transfers, a
// second Ack pair, and a DataSignal pair retiring the
// round. When neither direction moves data the round is
// only a barrier.
func exchange(s collcomm.Stream, l collcomm.Link, send, recv *transfer) error {
	if send.empty() && recv.empty() {
		return barrier(s, l)
	}
	if l.IsRDMA() {
		if err := checkStep(l, "announce", l.TxEnv(s)); err != nil {
			return err
		}
		if err := checkStep(l, "announce", l.RxEnv(s)); err != nil {
			return err
		}
	} else if err := ackPair(s, l); err != nil {
		return err
	}
	if !send.empty() {
		if err := checkStep(l, "send", l.TxAsync(send.kind, send.offset, send.mem, s)); err != nil {
			return err
		}
	}
	if !recv.empty() {
		if err := checkStep(l, "receive", l.RxAsync(recv.kind, recv.offset, recv.mem, s)); err != nil {
			return err
		}
	}
	if err := ackPair(s, l); err != nil {
		return err
	}
	return signalPair(s, l)
}

// barrier makes both ends of a link rendezvous without
// moving data.
func barrier(s collcomm.Stream, l collcomm.Link) error {
	if err := ackPair(s, l); err != nil {
		return err
	}
	return signalPair(s, l)
}

func ackPair(s collcomm.Stream, l collcomm.Link) error {
	if err := checkStep(l, "ack", l.TxAck(s)); err != nil {
		return err
	}
	return checkStep(l, "ack", l.RxAck(s))
}

func signalPair(s collcomm.Stream, l collcomm.Link) error {
	if err := checkStep(l, "data signal", l.TxDataSignal(s)); err != nil {
		return err
	}
	return checkStep(l, "data signal", l.RxDataSignal(s))
}

// checkStep logs teardown and passes every error through
// unchanged.
func checkStep(l collcomm.Link, step string, err error) error {
	if err == nil {
		return nil
	}
	if collcomm.IsTransientTeardown(err) {
		klog.Warningf("%s with rank %d interrupted by teardown: %v", step, l.RemoteRank(), err)
	}
	return err
}

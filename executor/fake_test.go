package executor

import (
	"fmt"

	"github.com/unixpickle/hcoll/collcomm"
	"github.com/unixpickle/hcoll/devsim"
)

// fakeLinks records every operation enqueued on links
// and streams instead of running it.
type fakeLinks struct {
	links []collcomm.Link
	ops   []string

	// failAt makes operation number failAt (1-based) of
	// any link fail with a teardown error.
	failAt int
	calls  int
}

func newFakeLinks(size, rank int, adjacency []bool) *fakeLinks {
	f := &fakeLinks{links: make([]collcomm.Link, size)}
	for i, ok := range adjacency {
		if ok && i != rank {
			f.links[i] = &fakeLink{owner: f, remote: collcomm.UserRank(i)}
		}
	}
	return f
}

func (f *fakeLinks) params(bytes uint64) *Params {
	aux := make([]collcomm.Stream, len(f.links))
	for i := range aux {
		aux[i] = &fakeStream{owner: f, id: fmt.Sprintf("aux%d", i)}
	}
	return &Params{
		Input:    devsim.NewMemory(bytes),
		Output:   devsim.NewMemory(bytes),
		Scratch:  devsim.NewMemory(bytes * uint64(len(f.links))),
		Count:    bytes / 8,
		DataType: collcomm.Float64,
		Stream:   &fakeStream{owner: f, id: "main"},
		Aux:      aux,
		Signals:  f,
		Reducer:  f,
	}
}

func (f *fakeLinks) record(op string) error {
	f.calls++
	if f.calls == f.failAt {
		return collcomm.TeardownErrorf("%s", op)
	}
	f.ops = append(f.ops, op)
	return nil
}

func (f *fakeLinks) NewSignal(name string) (collcomm.Signal, error) {
	return fakeSignal(name), nil
}

func (f *fakeLinks) Reduce(s collcomm.Stream, dst, a, b collcomm.Mem, count uint64,
	dt collcomm.DataType, op collcomm.ReduceOp) error {
	f.ops = append(f.ops, fmt.Sprintf("%s:reduce(%d)", s.ID(), count))
	return nil
}

type fakeSignal string

func (f fakeSignal) Name() string {
	return string(f)
}

type fakeStream struct {
	owner *fakeLinks
	id    string
}

func (f *fakeStream) ID() string {
	return f.id
}

func (f *fakeStream) Memcpy(dst, src collcomm.Mem) error {
	f.owner.ops = append(f.owner.ops, fmt.Sprintf("%s:memcpy(%d)", f.id, src.Size()))
	return nil
}

func (f *fakeStream) Post(sig collcomm.Signal) error {
	f.owner.ops = append(f.owner.ops, f.id+":post("+sig.Name()+")")
	return nil
}

func (f *fakeStream) Wait(sig collcomm.Signal) error {
	f.owner.ops = append(f.owner.ops, f.id+":wait("+sig.Name()+")")
	return nil
}

type fakeLink struct {
	owner  *fakeLinks
	remote collcomm.UserRank
	rdma   bool
}

func (f *fakeLink) op(s collcomm.Stream, name string) error {
	return f.owner.record(fmt.Sprintf("%s:%s(%d)", s.ID(), name, f.remote))
}

func (f *fakeLink) RemoteRank() collcomm.UserRank { return f.remote }
func (f *fakeLink) IsRDMA() bool { return f.rdma }
func (f *fakeLink) TxAck(s collcomm.Stream) error { return f.op(s, "TxAck") }
func (f *fakeLink) RxAck(s collcomm.Stream) error { return f.op(s, "RxAck") }
func (f *fakeLink) TxEnv(s collcomm.Stream) error { return f.op(s, "TxEnv") }
func (f *fakeLink) RxEnv(s collcomm.Stream) error { return f.op(s, "RxEnv") }

func (f *fakeLink) TxDataSignal(s collcomm.Stream) error { return f.op(s, "TxDataSignal") }
func (f *fakeLink) RxDataSignal(s collcomm.Stream) error { return f.op(s, "RxDataSignal") }

func (f *fakeLink) TxAsync(kind collcomm.MemKind, offset uint64, src collcomm.Mem, s collcomm.Stream) error {
	return f.op(s, "TxAsync")
}

func (f *fakeLink) RxAsync(kind collcomm.MemKind, offset uint64, dst collcomm.Mem, s collcomm.Stream) error {
	return f.op(s, "RxAsync")
}

func (f *fakeLink) RemoteMem(kind collcomm.MemKind) (collcomm.Mem, error) {
	return devsim.NewMemory(1 << 20), nil
}

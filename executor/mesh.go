package executor

import (
	"github.com/unixpickle/hcoll/collcomm"
	"github.com/unixpickle/hcoll/streamsync"
)

// meshPeers exchanges with every peer concurrently: the
// first peer on the main stream, peer j on auxiliary
// stream j-1. A barrier group brackets the region so the
// auxiliary streams start after, and the main stream
// continues after, everything around it.
func (b *base) meshPeers(p *Params, rank, size int, links []collcomm.Link,
	f func(s collcomm.Stream, l collcomm.Link, peer int) error) error {
	numAux := size - 2
	if len(p.Aux) < numAux {
		return collcomm.ParameterErrorf("%s: %d auxiliary streams for plane of size %d, need %d",
			b.kind, len(p.Aux), size, numAux)
	}
	if numAux > 0 && p.Signals == nil {
		return collcomm.ParameterErrorf("%s: no signal allocator", b.kind)
	}
	group, err := streamsync.NewBarrierGroup(p.Stream, p.Aux[:numAux], p.Output.Range(0, 0), p.Signals)
	if err != nil {
		return err
	}
	if err := group.FanOut(); err != nil {
		return err
	}
	var j int
	err = forEachPeer(rank, size, func(peer int) error {
		s := p.Stream
		if j > 0 {
			s = group.Aux(j - 1)
		}
		j++
		l, err := b.link(links, peer)
		if err != nil {
			return err
		}
		return f(s, l, peer)
	})
	if err != nil {
		return err
	}
	return group.FanIn()
}

type meshAllGather struct {
	base
}

// NewMeshAllGather creates an executor that concatenates
// the input of every rank, in rank order, into the output
// of every rank.
func NewMeshAllGather(cfg Config) Executor {
	return &meshAllGather{base: base{kind: MeshAllGather, cfg: cfg}}
}

func (m *meshAllGather) RunAsync(rank, size int, links []collcomm.Link) error {
	p, err := m.start(rank, size, links)
	if err != nil {
		return err
	}
	n := p.Bytes()
	if err := checkSize(m.kind, "input", p.Input, n); err != nil {
		return err
	}
	if err := checkSize(m.kind, "output", p.Output, n*uint64(size)); err != nil {
		return err
	}
	input := p.Input.Range(0, n)
	own := p.Output.Range(uint64(rank)*n, n)
	if !collcomm.SameMem(own, input) {
		if err := p.Stream.Memcpy(own, input); err != nil {
			return err
		}
	}
	if size == 1 {
		return nil
	}
	return m.meshPeers(p, rank, size, links, func(s collcomm.Stream, l collcomm.Link, peer int) error {
		offset := uint64(peer) * n
		send := &transfer{kind: collcomm.MemOutput, offset: uint64(rank) * n, mem: input}
		recv := &transfer{kind: collcomm.MemOutput, offset: offset, mem: p.Output.Range(offset, n)}
		return exchange(s, l, send, recv)
	})
}

type meshReduceScatter struct {
	base
}

// NewMeshReduceScatter creates an executor that reduces
// share i of every rank's input into the output of rank
// i.
func NewMeshReduceScatter(cfg Config) Executor {
	return &meshReduceScatter{base: base{kind: MeshReduceScatter, cfg: cfg}}
}

func (m *meshReduceScatter) RunAsync(rank, size int, links []collcomm.Link) error {
	p, err := m.start(rank, size, links)
	if err != nil {
		return err
	}
	n := p.Bytes()
	total := n * uint64(size)
	if err := checkSize(m.kind, "input", p.Input, total); err != nil {
		return err
	}
	if err := checkSize(m.kind, "output", p.Output, n); err != nil {
		return err
	}
	output := p.Output.Range(0, n)
	own := p.Input.Range(uint64(rank)*n, n)
	if !collcomm.SameMem(own, output) {
		if err := p.Stream.Memcpy(output, own); err != nil {
			return err
		}
	}
	if size == 1 {
		return nil
	}
	if err := checkSize(m.kind, "scratch", p.Scratch, total); err != nil {
		return err
	}
	if p.Reducer == nil {
		return collcomm.ParameterErrorf("%s: no reducer", m.kind)
	}
	err = m.meshPeers(p, rank, size, links, func(s collcomm.Stream, l collcomm.Link, peer int) error {
		offset := uint64(peer) * n
		send := &transfer{kind: collcomm.MemScratch, offset: uint64(rank) * n, mem: p.Input.Range(offset, n)}
		recv := &transfer{kind: collcomm.MemScratch, offset: offset, mem: p.Scratch.Range(offset, n)}
		return exchange(s, l, send, recv)
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return forEachPeer(rank, size, func(peer int) error {
		return p.Reducer.Reduce(p.Stream, output, output, p.Scratch.Range(uint64(peer)*n, n),
			p.Count, p.DataType, p.Op)
	})
}

type meshAllReduce struct {
	base
}

// NewMeshAllReduce creates an all-reduce executor that
// runs a mesh reduce-scatter over the slices of the data
// followed by a mesh all-gather of the reduced slices.
func NewMeshAllReduce(cfg Config) Executor {
	return &meshAllReduce{base: base{kind: MeshAllReduce, cfg: cfg}}
}

func (m *meshAllReduce) RunAsync(rank, size int, links []collcomm.Link) error {
	p, err := m.start(rank, size, links)
	if err != nil {
		return err
	}
	n := p.Bytes()
	if err := checkSize(m.kind, "input", p.Input, n); err != nil {
		return err
	}
	if err := checkSize(m.kind, "output", p.Output, n); err != nil {
		return err
	}
	if err := copyInput(p); err != nil {
		return err
	}
	if size == 1 {
		return nil
	}
	slices, err := m.slices(p, size)
	if err != nil {
		return err
	}
	var per uint64
	for _, s := range slices {
		if s.Size > per {
			per = s.Size
		}
	}
	if err := checkSize(m.kind, "scratch", p.Scratch, per*uint64(size)); err != nil {
		return err
	}
	if p.Reducer == nil {
		return collcomm.ParameterErrorf("%s: no reducer", m.kind)
	}

	mine := slices[rank]
	err = m.meshPeers(p, rank, size, links, func(s collcomm.Stream, l collcomm.Link, peer int) error {
		send := &transfer{kind: collcomm.MemScratch, offset: uint64(rank) * per,
			mem: collcomm.MemSlice(p.Output, slices[peer])}
		recv := &transfer{kind: collcomm.MemScratch, offset: uint64(peer) * per,
			mem: p.Scratch.Range(uint64(peer)*per, mine.Size)}
		return exchange(s, l, send, recv)
	})
	if err != nil {
		return err
	}
	if mine.Size > 0 {
		out := collcomm.MemSlice(p.Output, mine)
		err := forEachPeer(rank, size, func(peer int) error {
			return p.Reducer.Reduce(p.Stream, out, out, p.Scratch.Range(uint64(peer)*per, mine.Size),
				elements(p, mine.Size), p.DataType, p.Op)
		})
		if err != nil {
			return err
		}
	}
	return m.meshPeers(p, rank, size, links, func(s collcomm.Stream, l collcomm.Link, peer int) error {
		send := &transfer{kind: collcomm.MemOutput, offset: mine.Offset, mem: collcomm.MemSlice(p.Output, mine)}
		recv := &transfer{kind: collcomm.MemOutput, offset: slices[peer].Offset,
			mem: collcomm.MemSlice(p.Output, slices[peer])}
		return exchange(s, l, send, recv)
	})
}

// slices returns the caller's partition of the data, or
// an even one.
func (m *meshAllReduce) slices(p *Params, size int) ([]collcomm.Slice, error) {
	n := p.Bytes()
	if p.Slices == nil {
		return collcomm.EvenSlices(n, size, sliceUnit(m.cfg, p.DataType)), nil
	}
	if len(p.Slices) != size {
		return nil, collcomm.ParameterErrorf("%s: %d slices for plane of size %d", m.kind, len(p.Slices), size)
	}
	var offset uint64
	elem := uint64(p.DataType.Size())
	for i, s := range p.Slices {
		if s.Offset != offset || s.Size%elem != 0 {
			return nil, collcomm.ParameterErrorf("%s: slice %d %s is not contiguous or element aligned",
				m.kind, i, s)
		}
		offset = s.End()
	}
	if offset != n {
		return nil, collcomm.ParameterErrorf("%s: slices cover %d of %d bytes", m.kind, offset, n)
	}
	return p.Slices, nil
}

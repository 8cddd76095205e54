package executor

import (
	"github.com/unixpickle/hcoll/collcomm"
	"github.com/unixpickle/hcoll/topology"
	"k8s.io/klog/v2"
)

// CalculateSlices divides dataBytes into blockSize
// contiguous slices whose sizes are multiples of align,
// except for the last non-empty one.
//
// Slices past the end of the data have size zero but are
// still returned, so that slice i always belongs to block
// rank i.
func CalculateSlices(dataBytes uint64, blockSize int, align uint64) []collcomm.Slice {
	return collcomm.EvenSlices(dataBytes, blockSize, align)
}

// sliceUnit is the slice alignment rounded so that no
// element straddles two slices.
func sliceUnit(cfg Config, dt collcomm.DataType) uint64 {
	align := cfg.sliceAlign()
	elem := uint64(dt.Size())
	if align%elem != 0 {
		return align * elem
	}
	return align
}

// hdAllReduce is a recursive halving-doubling all-reduce.
//
// Extra ranks first fold their data into their even
// partner. The power-of-two block then runs a halving
// reduce-scatter, after which block rank b owns slice b,
// and a doubling all-gather. Finally the even partners
// hand the result back to the extra ranks.
type hdAllReduce struct {
	base
}

// NewHDAllReduce creates a halving-doubling all-reduce
// executor.
func NewHDAllReduce(cfg Config) Executor {
	return &hdAllReduce{base: base{kind: HDAllReduce, cfg: cfg}}
}

func (h *hdAllReduce) RunAsync(rank, size int, links []collcomm.Link) error {
	p, err := h.start(rank, size, links)
	if err != nil {
		return err
	}
	n := p.Bytes()
	if err := checkSize(h.kind, "input", p.Input, n); err != nil {
		return err
	}
	if err := checkSize(h.kind, "output", p.Output, n); err != nil {
		return err
	}
	if err := copyInput(p); err != nil {
		return err
	}
	if size == 1 {
		return nil
	}
	if err := checkSize(h.kind, "scratch", p.Scratch, n); err != nil {
		return err
	}
	if p.Reducer == nil {
		return collcomm.ParameterErrorf("%s: no reducer", h.kind)
	}

	root := p.Root
	if root == topology.NoRoot {
		root = 0
	} else if root < 0 || root >= size {
		return collcomm.ParameterErrorf("%s: root %d out of plane of size %d", h.kind, root, size)
	}
	r := &hdRun{
		hdAllReduce: h,
		params:      p,
		links:       links,
		layout:      topology.NewHDLayout(size),
		root:        root,
		virtual:     (rank - root + size) % size,
		output:      p.Output.Range(0, n),
	}
	r.slices = CalculateSlices(n, r.layout.BlockSize, sliceUnit(h.cfg, p.DataType))

	if err := r.fold(); err != nil {
		return err
	}
	if b := r.layout.BlockRank(r.virtual); b >= 0 {
		if err := r.reduceScatter(b); err != nil {
			return err
		}
		if err := r.allGather(b); err != nil {
			return err
		}
	}
	return r.unfold()
}

// hdRun is the state of one invocation.
type hdRun struct {
	*hdAllReduce
	params  *Params
	links   []collcomm.Link
	layout  topology.HDLayout
	root    int
	virtual int
	slices  []collcomm.Slice
	output  collcomm.Mem
}

func (r *hdRun) peerLink(virtual int) (collcomm.Link, error) {
	return r.link(r.links, (virtual+r.root)%r.layout.Size)
}

// span returns the byte range of slices [lo, hi).
func (r *hdRun) span(lo, hi int) collcomm.Slice {
	start := r.slices[lo].Offset
	return collcomm.Slice{Offset: start, Size: r.slices[hi-1].End() - start}
}

func (r *hdRun) reduceInto(span collcomm.Slice) error {
	if span.Size == 0 {
		return nil
	}
	p := r.params
	out := collcomm.MemSlice(r.output, span)
	return p.Reducer.Reduce(p.Stream, out, out, collcomm.MemSlice(p.Scratch, span),
		elements(p, span.Size), p.DataType, p.Op)
}

func (r *hdRun) fold() error {
	partner := r.layout.Partner(r.virtual)
	if partner < 0 {
		return nil
	}
	l, err := r.peerLink(partner)
	if err != nil {
		return err
	}
	all := collcomm.Slice{Size: r.output.Size()}
	if r.virtual%2 == 1 {
		return exchange(r.params.Stream, l, &transfer{kind: collcomm.MemScratch, mem: r.output}, nil)
	}
	recv := &transfer{kind: collcomm.MemScratch, mem: collcomm.MemSlice(r.params.Scratch, all)}
	if err := exchange(r.params.Stream, l, nil, recv); err != nil {
		return err
	}
	return r.reduceInto(all)
}

func (r *hdRun) reduceScatter(blockRank int) error {
	lo, hi := 0, r.layout.BlockSize
	for round := 0; round < r.layout.Rounds(); round++ {
		mask := r.layout.BlockSize >> uint(round+1)
		peer := r.layout.BlockPeer(blockRank, round)
		l, err := r.peerLink(r.layout.BlockToRank(peer))
		if err != nil {
			return err
		}
		mid := (lo + hi) / 2
		keep, give := r.span(lo, mid), r.span(mid, hi)
		if blockRank&mask != 0 {
			keep, give = give, keep
			lo = mid
		} else {
			hi = mid
		}
		klog.V(2).Infof("%s: block rank %d round %d keeps %s", r.kind, blockRank, round, keep)
		send := &transfer{kind: collcomm.MemScratch, offset: give.Offset, mem: collcomm.MemSlice(r.output, give)}
		recv := &transfer{kind: collcomm.MemScratch, offset: keep.Offset,
			mem: collcomm.MemSlice(r.params.Scratch, keep)}
		if err := exchange(r.params.Stream, l, send, recv); err != nil {
			return err
		}
		if err := r.reduceInto(keep); err != nil {
			return err
		}
	}
	if lo != blockRank || hi != blockRank+1 {
		return collcomm.InternalErrorf("%s: block rank %d ended owning slices [%d:%d)", r.kind, blockRank, lo, hi)
	}
	return nil
}

func (r *hdRun) allGather(blockRank int) error {
	lo, hi := blockRank, blockRank+1
	for round := r.layout.Rounds() - 1; round >= 0; round-- {
		peer := r.layout.BlockPeer(blockRank, round)
		l, err := r.peerLink(r.layout.BlockToRank(peer))
		if err != nil {
			return err
		}
		width := hi - lo
		peerLo := lo ^ width
		own, theirs := r.span(lo, hi), r.span(peerLo, peerLo+width)
		klog.V(2).Infof("%s: block rank %d round %d gathers %s", r.kind, blockRank, round, theirs)
		send := &transfer{kind: collcomm.MemOutput, offset: own.Offset, mem: collcomm.MemSlice(r.output, own)}
		recv := &transfer{kind: collcomm.MemOutput, offset: theirs.Offset,
			mem: collcomm.MemSlice(r.output, theirs)}
		if err := exchange(r.params.Stream, l, send, recv); err != nil {
			return err
		}
		if peerLo < lo {
			lo = peerLo
		} else {
			hi = peerLo + width
		}
	}
	return nil
}

func (r *hdRun) unfold() error {
	partner := r.layout.Partner(r.virtual)
	if partner < 0 {
		return nil
	}
	l, err := r.peerLink(partner)
	if err != nil {
		return err
	}
	t := &transfer{kind: collcomm.MemOutput, mem: r.output}
	if r.virtual%2 == 1 {
		return exchange(r.params.Stream, l, nil, t)
	}
	return exchange(r.params.Stream, l, t, nil)
}

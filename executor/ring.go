package executor

import (
	"github.com/unixpickle/hcoll/collcomm"
	"k8s.io/klog/v2"
)

// ringReduce reduces every rank's input into the output
// of the root by passing a running reduction around the
// ring, starting at the successor of the root.
//
// The successor of the root has nothing to combine, so it
// forwards its input as is. Every other rank reduces what
// it receives with its input and forwards the result,
// except the root, which only receives.
type ringReduce struct {
	base
}

// NewRingReduce creates a ring reduce executor.
func NewRingReduce(cfg Config) Executor {
	return &ringReduce{base: base{kind: RingReduce, cfg: cfg}}
}

func (r *ringReduce) RunAsync(rank, size int, links []collcomm.Link) error {
	p, err := r.start(rank, size, links)
	if err != nil {
		return err
	}
	n := p.Bytes()
	if err := checkSize(r.kind, "input", p.Input, n); err != nil {
		return err
	}
	if err := checkSize(r.kind, "output", p.Output, n); err != nil {
		return err
	}
	if size == 1 {
		return copyInput(p)
	}
	if err := checkRoot(r.kind, p, size); err != nil {
		return err
	}

	prev := (rank + size - 1) % size
	next := (rank + 1) % size
	isHead := prev == p.Root
	isRoot := rank == p.Root

	var prevLink, nextLink collcomm.Link
	if !isHead {
		if err := checkSize(r.kind, "scratch", p.Scratch, n); err != nil {
			return err
		}
		if p.Reducer == nil {
			return collcomm.ParameterErrorf("%s: no reducer", r.kind)
		}
		if prevLink, err = r.link(links, prev); err != nil {
			return err
		}
	}
	if !isRoot {
		if nextLink, err = r.link(links, next); err != nil {
			return err
		}
	}

	chunks := collcomm.EvenSlices(n, r.cfg.ringChunks(), uint64(p.DataType.Size()))
	for i, chunk := range chunks {
		if chunk.Size == 0 {
			continue
		}
		klog.V(2).Infof("%s: rank %d chunk %d %s", r.kind, rank, i, chunk)
		outChunk := collcomm.MemSlice(p.Output, chunk)
		inChunk := collcomm.MemSlice(p.Input, chunk)
		forward := outChunk
		if isHead {
			forward = inChunk
		} else {
			scratch := collcomm.MemSlice(p.Scratch, chunk)
			recv := &transfer{kind: collcomm.MemScratch, offset: chunk.Offset, mem: scratch}
			if err := exchange(p.Stream, prevLink, nil, recv); err != nil {
				return err
			}
			err := p.Reducer.Reduce(p.Stream, outChunk, scratch, inChunk, elements(p, chunk.Size),
				p.DataType, p.Op)
			if err != nil {
				return err
			}
		}
		if !isRoot {
			send := &transfer{kind: collcomm.MemScratch, offset: chunk.Offset, mem: forward}
			if err := exchange(p.Stream, nextLink, send, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

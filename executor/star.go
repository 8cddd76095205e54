package executor

import (
	"github.com/unixpickle/hcoll/collcomm"
	"k8s.io/klog/v2"
)

// The star executors have the root talk to every other
// rank in turn on the main stream. Cost is linear in the
// plane size.

type starBroadcast struct {
	base
}

// NewStarBroadcast creates an executor that copies the
// input of the root into the output of every rank.
func NewStarBroadcast(cfg Config) Executor {
	return &starBroadcast{base: base{kind: StarBroadcast, cfg: cfg}}
}

func (s *starBroadcast) RunAsync(rank, size int, links []collcomm.Link) error {
	p, err := s.start(rank, size, links)
	if err != nil {
		return err
	}
	if err := checkRoot(s.kind, p, size); err != nil {
		return err
	}
	n := p.Bytes()
	if err := checkSize(s.kind, "output", p.Output, n); err != nil {
		return err
	}
	if rank != p.Root {
		l, err := s.link(links, p.Root)
		if err != nil {
			return err
		}
		recv := &transfer{kind: collcomm.MemOutput, mem: p.Output.Range(0, n)}
		return exchange(p.Stream, l, nil, recv)
	}

	if err := checkSize(s.kind, "input", p.Input, n); err != nil {
		return err
	}
	if err := copyInput(p); err != nil {
		return err
	}
	send := &transfer{kind: collcomm.MemOutput, mem: p.Input.Range(0, n)}
	return forEachPeer(rank, size, func(peer int) error {
		l, err := s.link(links, peer)
		if err != nil {
			return err
		}
		klog.V(2).Infof("%s: root %d sends to %d", s.kind, rank, peer)
		return exchange(p.Stream, l, send, nil)
	})
}

type starGather struct {
	base
}

// NewStarGather creates an executor that concatenates the
// input of every rank, in rank order, into the output of
// the root.
func NewStarGather(cfg Config) Executor {
	return &starGather{base: base{kind: StarGather, cfg: cfg}}
}

func (s *starGather) RunAsync(rank, size int, links []collcomm.Link) error {
	p, err := s.start(rank, size, links)
	if err != nil {
		return err
	}
	if err := checkRoot(s.kind, p, size); err != nil {
		return err
	}
	n := p.Bytes()
	if err := checkSize(s.kind, "input", p.Input, n); err != nil {
		return err
	}
	input := p.Input.Range(0, n)
	if rank != p.Root {
		l, err := s.link(links, p.Root)
		if err != nil {
			return err
		}
		send := &transfer{kind: collcomm.MemOutput, offset: uint64(rank) * n, mem: input}
		return exchange(p.Stream, l, send, nil)
	}

	if err := checkSize(s.kind, "output", p.Output, n*uint64(size)); err != nil {
		return err
	}
	own := p.Output.Range(uint64(rank)*n, n)
	if !collcomm.SameMem(own, input) {
		if err := p.Stream.Memcpy(own, input); err != nil {
			return err
		}
	}
	return forEachPeer(rank, size, func(peer int) error {
		l, err := s.link(links, peer)
		if err != nil {
			return err
		}
		offset := uint64(peer) * n
		recv := &transfer{kind: collcomm.MemOutput, offset: offset, mem: p.Output.Range(offset, n)}
		return exchange(p.Stream, l, nil, recv)
	})
}

type starScatter struct {
	base
}

// NewStarScatter creates an executor that sends share i
// of the input of the root to rank i.
func NewStarScatter(cfg Config) Executor {
	return &starScatter{base: base{kind: StarScatter, cfg: cfg}}
}

func (s *starScatter) RunAsync(rank, size int, links []collcomm.Link) error {
	p, err := s.start(rank, size, links)
	if err != nil {
		return err
	}
	if err := checkRoot(s.kind, p, size); err != nil {
		return err
	}
	n := p.Bytes()
	if err := checkSize(s.kind, "output", p.Output, n); err != nil {
		return err
	}
	output := p.Output.Range(0, n)
	if rank != p.Root {
		l, err := s.link(links, p.Root)
		if err != nil {
			return err
		}
		return exchange(p.Stream, l, nil, &transfer{kind: collcomm.MemOutput, mem: output})
	}

	if err := checkSize(s.kind, "input", p.Input, n*uint64(size)); err != nil {
		return err
	}
	own := p.Input.Range(uint64(rank)*n, n)
	if !collcomm.SameMem(own, output) {
		if err := p.Stream.Memcpy(output, own); err != nil {
			return err
		}
	}
	return forEachPeer(rank, size, func(peer int) error {
		l, err := s.link(links, peer)
		if err != nil {
			return err
		}
		share := p.Input.Range(uint64(peer)*n, n)
		return exchange(p.Stream, l, &transfer{kind: collcomm.MemOutput, mem: share}, nil)
	})
}

func checkRoot(kind Kind, p *Params, size int) error {
	if p.Root < 0 || p.Root >= size {
		return collcomm.ParameterErrorf("%s: root %d out of plane of size %d", kind, p.Root, size)
	}
	return nil
}

// forEachPeer calls f for every rank but the local one,
// in rank order, stopping at the first error.
func forEachPeer(rank, size int, f func(peer int) error) error {
	for peer := 0; peer < size; peer++ {
		if peer == rank {
			continue
		}
		if err := f(peer); err != nil {
			return err
		}
	}
	return nil
}

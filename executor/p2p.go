package executor

import "github.com/unixpickle/hcoll/collcomm"

type pointToPoint struct {
	base
	send bool
}

// NewSend creates an executor that copies the input into
// the output of Params.Peer.
func NewSend(cfg Config) Executor {
	return &pointToPoint{base: base{kind: Send, cfg: cfg}, send: true}
}

// NewRecv creates an executor that receives the input of
// Params.Peer into the output.
func NewRecv(cfg Config) Executor {
	return &pointToPoint{base: base{kind: Recv, cfg: cfg}}
}

// RunAsync finds the link to the peer among links, so
// it accepts the single link a point-to-point plan yields.
func (t *pointToPoint) RunAsync(rank, size int, links []collcomm.Link) error {
	p, err := t.start(rank, size, links)
	if err != nil {
		return err
	}
	var l collcomm.Link
	for _, candidate := range links {
		if candidate != nil && candidate.RemoteRank() == p.Peer {
			l = candidate
			break
		}
	}
	if l == nil {
		return collcomm.NotFoundErrorf("%s: no link to rank %d", t.kind, p.Peer)
	}

	n := p.Bytes()
	if !t.send {
		if err := checkSize(t.kind, "output", p.Output, n); err != nil {
			return err
		}
		return exchange(p.Stream, l, nil, &transfer{kind: collcomm.MemOutput, mem: p.Output.Range(0, n)})
	}

	if err := checkSize(t.kind, "input", p.Input, n); err != nil {
		return err
	}
	remote, err := l.RemoteMem(collcomm.MemOutput)
	if err != nil {
		return err
	}
	if remote.Size() < n {
		return collcomm.ParameterErrorf("%s: rank %d output has %d bytes, sending %d", t.kind, p.Peer,
			remote.Size(), n)
	}
	return exchange(p.Stream, l, &transfer{kind: collcomm.MemOutput, mem: p.Input.Range(0, n)}, nil)
}

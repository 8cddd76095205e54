// Package executor drives the asynchronous, multi-round
// protocols of collective operations over links that a
// communicator has already established.
//
// Executors never block: RunAsync enqueues every round on
// the streams of the invocation and returns.
package executor

import (
	"github.com/dustin/go-humanize"
	"github.com/unixpickle/hcoll/collcomm"
	"k8s.io/klog/v2"
)

// Config holds tuning knobs shared by executors.
type Config struct {
	// SliceAlign is the minimum alignment, in bytes, of
	// the slices a buffer is divided into.
	//
	// If SliceAlign is 0, it is treated as 128.
	SliceAlign uint64

	// RingChunks determines how many chunks ring
	// algorithms split the data into, so that ranks
	// further down the ring can start early.
	//
	// If RingChunks is 0, it is treated as 1.
	RingChunks int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{SliceAlign: 128, RingChunks: 1}
}

func (c Config) sliceAlign() uint64 {
	if c.SliceAlign == 0 {
		return 128
	}
	return c.SliceAlign
}

func (c Config) ringChunks() int {
	if c.RingChunks <= 0 {
		return 1
	}
	return c.RingChunks
}

// Params are the arguments of one invocation.
type Params struct {
	Input  collcomm.Mem
	Output collcomm.Mem

	// Scratch is needed by executors that reduce data
	// received from peers.
	Scratch collcomm.Mem

	// Count is the number of elements each rank
	// contributes. For gather, scatter and all-gather it
	// is the size of one rank's share.
	//
	// Any count is accepted on both kinds of link,
	// including 0 and 1: rounds whose slices are empty
	// only synchronize the peers.
	Count    uint64
	DataType collcomm.DataType
	Op       collcomm.ReduceOp

	Stream collcomm.Stream

	// Aux are auxiliary streams owned by the invocation,
	// used by the mesh executors.
	Aux []collcomm.Stream

	Signals collcomm.SignalAllocator
	Reducer collcomm.Reducer

	// Root is the local rank of the root of rooted
	// operations. Halving-doubling rotates ranks so that
	// Root acts as rank 0.
	Root int

	// Peer is the remote end of point-to-point
	// operations.
	Peer collcomm.UserRank

	// Slices optionally overrides how the mesh all-reduce
	// divides the data between ranks.
	Slices []collcomm.Slice
}

// Bytes returns the number of bytes a rank contributes.
func (p *Params) Bytes() uint64 {
	return p.Count * uint64(p.DataType.Size())
}

// An Executor runs one kind of collective operation.
//
// Prepare binds the invocation arguments, then RunAsync
// enqueues the protocol for the local rank of a plane.
// links[i] is the link to local rank i; entries the
// pattern does not use may be nil.
type Executor interface {
	Prepare(p *Params) error
	RunAsync(rank, size int, links []collcomm.Link) error
}

// base holds what every executor shares.
type base struct {
	kind   Kind
	cfg    Config
	params *Params
}

func (b *base) Prepare(p *Params) error {
	if p == nil {
		return collcomm.ParameterErrorf("%s: nil params", b.kind)
	}
	if p.Stream == nil {
		return collcomm.ParameterErrorf("%s: no stream", b.kind)
	}
	if p.Input == nil && p.Output == nil {
		return collcomm.ParameterErrorf("%s: no memory regions", b.kind)
	}
	if p.DataType < collcomm.Int8 || p.DataType > collcomm.Float64 {
		return collcomm.NotSupportedErrorf("%s: data type %s", b.kind, p.DataType)
	}
	b.params = p
	return nil
}

// start checks the common preconditions of RunAsync.
func (b *base) start(rank, size int, links []collcomm.Link) (*Params, error) {
	if b.params == nil {
		return nil, collcomm.InternalErrorf("%s: RunAsync before Prepare", b.kind)
	}
	if size <= 0 || rank < 0 || rank >= size {
		return nil, collcomm.ParameterErrorf("%s: rank %d out of plane of size %d", b.kind, rank, size)
	}
	if len(links) < size {
		return nil, collcomm.InternalErrorf("%s: %d links for plane of size %d", b.kind, len(links), size)
	}
	klog.V(1).Infof("%s: rank %d/%d on %s, %s", b.kind, rank, size, b.params.Stream.ID(),
		humanize.Bytes(b.params.Bytes()))
	return b.params, nil
}

// link returns the link to a peer, which the pattern
// requires to exist.
func (b *base) link(links []collcomm.Link, peer int) (collcomm.Link, error) {
	if links[peer] == nil {
		return nil, collcomm.InternalErrorf("%s: no link to rank %d", b.kind, peer)
	}
	return links[peer], nil
}

// copyInput copies the input into the output unless the
// operation is in place.
func copyInput(p *Params) error {
	if collcomm.SameMem(p.Input, p.Output) {
		return nil
	}
	n := p.Bytes()
	return p.Stream.Memcpy(p.Output.Range(0, n), p.Input.Range(0, n))
}

func checkSize(kind Kind, name string, m collcomm.Mem, want uint64) error {
	if m == nil {
		return collcomm.ParameterErrorf("%s: missing %s region", kind, name)
	}
	if m.Size() < want {
		return collcomm.ParameterErrorf("%s: %s region has %d bytes, need %d", kind, name, m.Size(), want)
	}
	return nil
}

func elements(p *Params, bytes uint64) uint64 {
	return bytes / uint64(p.DataType.Size())
}

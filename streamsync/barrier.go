// Package streamsync orders work between one main stream
// and a group of auxiliary streams without serializing
// the auxiliary streams with each other.
package streamsync

import (
	"fmt"

	"github.com/unixpickle/hcoll/collcomm"
	"k8s.io/klog/v2"
)

// A BarrierGroup brackets a region of auxiliary-stream
// work with respect to a main stream.
//
// It owns two signal arrays: mainToSub, which the main
// stream posts during FanOut, and subToMain, which the
// auxiliary streams post during FanIn. Slot i of each
// array belongs to auxiliary stream i.
//
// A BarrierGroup belongs to one in-flight operation.
type BarrierGroup struct {
	main      collcomm.Stream
	aux       []collcomm.Stream
	attach    collcomm.Mem
	mainToSub []collcomm.Signal
	subToMain []collcomm.Signal
}

// NewBarrierGroup allocates the signals of a group.
//
// The attach region must have size zero; a copy of it
// onto itself is enqueued on the main stream after every
// fan-out and fan-in, which only adds a dependency edge
// for execution-graph capture.
func NewBarrierGroup(main collcomm.Stream, aux []collcomm.Stream, attach collcomm.Mem,
	alloc collcomm.SignalAllocator) (*BarrierGroup, error) {
	if main == nil {
		return nil, collcomm.ParameterErrorf("barrier group without a main stream")
	}
	if attach != nil && attach.Size() != 0 {
		return nil, collcomm.ParameterErrorf("attach point of %d bytes, expected 0", attach.Size())
	}
	b := &BarrierGroup{
		main:      main,
		aux:       aux,
		attach:    attach,
		mainToSub: make([]collcomm.Signal, len(aux)),
		subToMain: make([]collcomm.Signal, len(aux)),
	}
	for i := range aux {
		var err error
		b.mainToSub[i], err = alloc.NewSignal(fmt.Sprintf("main-to-sub-%d", i))
		if err != nil {
			return nil, err
		}
		b.subToMain[i], err = alloc.NewSignal(fmt.Sprintf("sub-to-main-%d", i))
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Len returns the number of auxiliary streams.
func (b *BarrierGroup) Len() int {
	return len(b.aux)
}

// Aux returns auxiliary stream i.
func (b *BarrierGroup) Aux(i int) collcomm.Stream {
	return b.aux[i]
}

// FanOut makes every auxiliary stream wait for the work
// enqueued on the main stream so far.
func (b *BarrierGroup) FanOut() error {
	for i, aux := range b.aux {
		if err := b.main.Post(b.mainToSub[i]); err != nil {
			return err
		}
		if err := aux.Wait(b.mainToSub[i]); err != nil {
			return err
		}
	}
	klog.V(2).Infof("%s: fan-out to %d streams", b.main.ID(), len(b.aux))
	return b.attachPoint()
}

// FanIn makes the main stream wait for the work enqueued
// on every auxiliary stream so far.
func (b *BarrierGroup) FanIn() error {
	for i, aux := range b.aux {
		if err := aux.Post(b.subToMain[i]); err != nil {
			return err
		}
	}
	for i := range b.aux {
		if err := b.main.Wait(b.subToMain[i]); err != nil {
			return err
		}
	}
	klog.V(2).Infof("%s: fan-in from %d streams", b.main.ID(), len(b.aux))
	return b.attachPoint()
}

func (b *BarrierGroup) attachPoint() error {
	if b.attach == nil || len(b.aux) == 0 {
		return nil
	}
	return b.main.Memcpy(b.attach, b.attach)
}

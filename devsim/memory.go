package devsim

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/unixpickle/hcoll/collcomm"
)

// pageSize aligns the addresses of separate allocations.
const pageSize = 4096

type allocation struct {
	addr uint64
	data []byte
}

// Memory is a region of simulated device memory.
// It implements collcomm.Mem.
type Memory struct {
	alloc  *allocation
	offset uint64
	size   uint64
}

// Addr returns the simulated device address.
func (m *Memory) Addr() uint64 {
	return m.alloc.addr + m.offset
}

// Size returns the region size in bytes.
func (m *Memory) Size() uint64 {
	return m.size
}

// Range returns a sub-region.
func (m *Memory) Range(offset, size uint64) collcomm.Mem {
	if offset+size > m.size || offset+size < offset {
		panic(fmt.Sprintf("range [%d:%d) out of bounds of %d-byte region", offset, offset+size, m.size))
	}
	return &Memory{alloc: m.alloc, offset: m.offset + offset, size: size}
}

// Bytes gives direct host access to the region.
func (m *Memory) Bytes() []byte {
	return m.alloc.data[m.offset : m.offset+m.size]
}

// String describes the region.
func (m *Memory) String() string {
	return fmt.Sprintf("mem[0x%x+%d]", m.Addr(), m.size)
}

func asMemory(m collcomm.Mem) (*Memory, error) {
	if m == nil {
		return nil, collcomm.ParameterErrorf("nil memory region")
	}
	res, ok := m.(*Memory)
	if !ok {
		return nil, collcomm.ParameterErrorf("memory %T is not simulated device memory", m)
	}
	return res, nil
}

// NewMemory allocates memory outside of any World, for
// tests of code that never enqueues work.
func NewMemory(size uint64) *Memory {
	return &Memory{alloc: &allocation{addr: pageSize, data: make([]byte, size)}, size: size}
}

// WriteFloat64s stores little-endian float64 values at
// the start of the region.
func (m *Memory) WriteFloat64s(values []float64) {
	data := m.Bytes()
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[i*8:], math.Float64bits(v))
	}
}

// Float64s decodes the region as little-endian float64
// values.
func (m *Memory) Float64s() []float64 {
	data := m.Bytes()
	res := make([]float64, len(data)/8)
	for i := range res {
		res[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return res
}

// WriteInt32s stores little-endian int32 values at the
// start of the region.
func (m *Memory) WriteInt32s(values []int32) {
	data := m.Bytes()
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(v))
	}
}

// Int32s decodes the region as little-endian int32
// values.
func (m *Memory) Int32s() []int32 {
	data := m.Bytes()
	res := make([]int32, len(data)/4)
	for i := range res {
		res[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return res
}

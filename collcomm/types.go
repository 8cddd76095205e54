package collcomm

import "fmt"

// A UserRank is a rank's global identity, stable across
// the whole job.
type UserRank int

// A Slice is a contiguous byte range of an operation's
// data buffer.
type Slice struct {
	Offset uint64
	Size   uint64
}

// End returns the first offset past the slice.
func (s Slice) End() uint64 {
	return s.Offset + s.Size
}

// String formats the slice as [offset:end).
func (s Slice) String() string {
	return fmt.Sprintf("[%d:%d)", s.Offset, s.End())
}

// EvenSlices splits size bytes into n contiguous slices.
// Every slice is a multiple of unit bytes except possibly
// the last non-empty one.
// Trailing slices past the data length have size zero.
func EvenSlices(size uint64, n int, unit uint64) []Slice {
	if n <= 0 {
		return nil
	}
	if unit == 0 {
		unit = 1
	}
	per := (size + uint64(n) - 1) / uint64(n)
	per = (per + unit - 1) / unit * unit
	res := make([]Slice, n)
	var offset uint64
	for i := range res {
		sliceSize := per
		if offset+sliceSize > size {
			sliceSize = size - offset
		}
		res[i] = Slice{Offset: offset, Size: sliceSize}
		offset += sliceSize
	}
	return res
}

// A MemKind identifies which registered buffer of a rank
// a transfer targets.
type MemKind int

const (
	MemInput MemKind = iota
	MemOutput
	MemScratch
)

// String returns the name of the memory kind.
func (m MemKind) String() string {
	switch m {
	case MemInput:
		return "Input"
	case MemOutput:
		return "Output"
	case MemScratch:
		return "Scratch"
	}
	return fmt.Sprintf("MemKind(%d)", int(m))
}

// A DataType is the element type of a collective buffer.
type DataType int

const (
	Int8 DataType = iota
	Int16
	Int32
	Int64
	Uint8
	Float16
	Float32
	Float64
)

// Size returns the number of bytes per element.
func (d DataType) Size() uint64 {
	switch d {
	case Int8, Uint8:
		return 1
	case Int16, Float16:
		return 2
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	}
	panic(fmt.Sprintf("unknown data type: %d", int(d)))
}

// String returns the name of the data type.
func (d DataType) String() string {
	switch d {
	case Int8:
		return "Int8"
	case Int16:
		return "Int16"
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	case Uint8:
		return "Uint8"
	case Float16:
		return "Float16"
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	}
	return fmt.Sprintf("DataType(%d)", int(d))
}

// A ReduceOp is an associative binary operator applied
// element-wise.
type ReduceOp int

const (
	Sum ReduceOp = iota
	Prod
	Max
	Min
)

// String returns the name of the reduce op.
func (r ReduceOp) String() string {
	switch r {
	case Sum:
		return "Sum"
	case Prod:
		return "Prod"
	case Max:
		return "Max"
	case Min:
		return "Min"
	}
	return fmt.Sprintf("ReduceOp(%d)", int(r))
}

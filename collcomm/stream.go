package collcomm

// Mem is an opaque handle to a device memory region.
type Mem interface {
	// Addr is the device address of the first byte.
	Addr() uint64

	// Size is the number of bytes in the region.
	Size() uint64

	// Range returns a sub-region.
	// It panics if the range is out of bounds.
	Range(offset, size uint64) Mem
}

// SameMem checks if two handles describe the same region,
// which is how in-place operations are detected.
func SameMem(m1, m2 Mem) bool {
	if m1 == nil || m2 == nil {
		return m1 == nil && m2 == nil
	}
	return m1.Addr() == m2.Addr() && m1.Size() == m2.Size()
}

// MemSlice returns the sub-region of m addressed by s.
func MemSlice(m Mem, s Slice) Mem {
	return m.Range(s.Offset, s.Size)
}

// A Signal is an event with post/wait semantics used to
// order work across streams.
type Signal interface {
	Name() string
}

// A Stream is a hardware queue.
// Work enqueued on one Stream executes in enqueue order;
// work on different Streams is unordered unless a Signal
// orders it.
type Stream interface {
	// ID identifies the stream for logging.
	ID() string

	// Memcpy enqueues a copy of src into dst.
	// Both regions must have the same size; zero-size
	// copies are allowed and only create a dependency.
	Memcpy(dst, src Mem) error

	// Post enqueues a record of sig.
	Post(sig Signal) error

	// Wait enqueues a wait for sig to be posted.
	Wait(sig Signal) error
}

// A SignalAllocator creates signals for one in-flight
// operation.
type SignalAllocator interface {
	NewSignal(name string) (Signal, error)
}

// A Reducer applies a ReduceOp element-wise:
// dst[i] = a[i] op b[i].
// All three regions hold count elements of type dt.
// dst may alias a or b.
type Reducer interface {
	Reduce(s Stream, dst, a, b Mem, count uint64, dt DataType, op ReduceOp) error
}

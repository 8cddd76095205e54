package executor

import (
	"fmt"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/hcoll/collcomm"
	"github.com/unixpickle/hcoll/devsim"
	"github.com/unixpickle/hcoll/topology"
)

// testRank holds the buffers of one rank of a test job.
type testRank struct {
	device  *devsim.Device
	input   *devsim.Memory
	output  *devsim.Memory
	scratch *devsim.Memory
}

// testJob runs one collective on a simulated world.
type testJob struct {
	kind  Kind
	cfg   Config
	opts  devsim.Options
	size  int
	root  int
	count uint64
	dt    collcomm.DataType
	op    collcomm.ReduceOp

	inPlace bool

	// Buffer sizes in bytes; zero means count elements.
	inputBytes   uint64
	outputBytes  uint64
	scratchBytes uint64

	world *devsim.World
	ranks []*testRank
}

func newTestJob(kind Kind, size int, count uint64) *testJob {
	return &testJob{
		kind:  kind,
		cfg:   Config{SliceAlign: 8, RingChunks: 1},
		opts:  devsim.Options{Rate: 1e6, Latency: 0.01, Seed: 1},
		size:  size,
		count: count,
		dt:    collcomm.Float64,
		op:    collcomm.Sum,
	}
}

// allocate creates the world and every buffer.
func (j *testJob) allocate() {
	j.world = devsim.NewWorld(j.size, j.opts)
	bytes := j.count * uint64(j.dt.Size())
	sizeOr := func(v uint64) uint64 {
		if v == 0 {
			return bytes
		}
		return v
	}
	j.ranks = make([]*testRank, j.size)
	for i := range j.ranks {
		dev := j.world.Device(collcomm.UserRank(i))
		r := &testRank{
			device:  dev,
			input:   dev.Alloc(sizeOr(j.inputBytes)),
			scratch: dev.Alloc(sizeOr(j.scratchBytes) * uint64(j.size)),
		}
		if j.inPlace {
			r.output = r.input
		} else {
			r.output = dev.Alloc(sizeOr(j.outputBytes))
		}
		dev.Register(collcomm.MemInput, r.input)
		dev.Register(collcomm.MemOutput, r.output)
		dev.Register(collcomm.MemScratch, r.scratch)
		j.ranks[i] = r
	}
}

// enqueue plans, connects and enqueues the collective on
// every rank.
func (j *testJob) enqueue() error {
	return j.enqueueWith(nil)
}

// enqueueWith is like enqueue, but lets the caller adjust
// the parameters of every rank.
func (j *testJob) enqueueWith(modify func(p *Params)) error {
	devices := map[collcomm.UserRank]topology.DeviceInfo{}
	members := make([]collcomm.UserRank, j.size)
	for i := range members {
		members[i] = collcomm.UserRank(i)
		devices[members[i]] = topology.DeviceInfo{Server: fmt.Sprint(i), NodeType: "sim", Class: "sim"}
	}
	planner := topology.NewPlanner(devices, topology.Capabilities{})
	registry := NewRegistry(j.cfg)
	const tag = "test"
	for i, r := range j.ranks {
		spec := topology.PlanSpec{
			Pattern: j.kind.Pattern(),
			Planes:  []topology.Plane{{Members: members}},
			Local:   collcomm.UserRank(i),
			Root:    j.root,
		}
		if spec.Pattern == topology.PointToPoint {
			spec.Peer = collcomm.UserRank(1 - i)
		}
		reqs, err := planner.Plan(spec)
		if err != nil {
			return err
		}
		links := make([]collcomm.Link, j.size)
		if reqs[0] != nil {
			links, err = j.world.Connector(spec.Local).Connect(tag, reqs[0])
			if err != nil {
				return err
			}
		}
		params := &Params{
			Input:    r.input,
			Output:   r.output,
			Scratch:  r.scratch,
			Count:    j.count,
			DataType: j.dt,
			Op:       j.op,
			Stream:   r.device.MainStream(),
			Aux:      r.device.StreamPool(tag).Streams(j.size),
			Signals:  r.device,
			Reducer:  r.device,
			Root:     j.root,
			Peer:     collcomm.UserRank(1 - i),
		}
		if modify != nil {
			modify(params)
		}
		kind := j.kind
		if kind == Send && i == 1 {
			// Rank 0 sends to rank 1.
			kind = Recv
		}
		exec := must.M1(registry.New(kind))
		if err := exec.Prepare(params); err != nil {
			return err
		}
		rank, size := i, j.size
		if spec.Pattern == topology.PointToPoint {
			rank, size = 0, len(links)
		}
		if err := exec.RunAsync(rank, size, links); err != nil {
			return err
		}
	}
	return nil
}

// run enqueues the collective and runs the world to
// completion.
func (j *testJob) run(t *testing.T) {
	require.NoError(t, j.enqueue())
	require.NoError(t, j.world.Run())
	require.Empty(t, j.world.Unpaired("test"))
}

// rankValues is the deterministic input of a rank.
func rankValues(rank int, n uint64) []float64 {
	res := make([]float64, n)
	for i := range res {
		res[i] = float64(rank+1) + float64(i%7)
	}
	return res
}

func sumValues(size int, n uint64) []float64 {
	res := make([]float64, n)
	for r := 0; r < size; r++ {
		for i, v := range rankValues(r, n) {
			res[i] += v
		}
	}
	return res
}

// testSizes are the plane sizes every battery covers,
// including non powers of two.
var testSizes = []int{1, 2, 3, 5, 8, 13}

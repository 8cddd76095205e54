package executor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/unixpickle/hcoll/collcomm"
	"github.com/unixpickle/hcoll/topology"
)

// A Kind names a collective algorithm.
type Kind int

const (
	RingReduce Kind = iota
	StarBroadcast
	StarGather
	StarScatter
	HDAllReduce
	MeshReduceScatter
	MeshAllGather
	MeshAllReduce
	Send
	Recv
)

// String returns the name of the algorithm.
func (k Kind) String() string {
	switch k {
	case RingReduce:
		return "RingReduce"
	case StarBroadcast:
		return "StarBroadcast"
	case StarGather:
		return "StarGather"
	case StarScatter:
		return "StarScatter"
	case HDAllReduce:
		return "HDAllReduce"
	case MeshReduceScatter:
		return "MeshReduceScatter"
	case MeshAllGather:
		return "MeshAllGather"
	case MeshAllReduce:
		return "MeshAllReduce"
	case Send:
		return "Send"
	case Recv:
		return "Recv"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Pattern is the topology whose links the algorithm
// runs on.
func (k Kind) Pattern() topology.Pattern {
	switch k {
	case RingReduce:
		return topology.Ring
	case StarBroadcast, StarGather, StarScatter:
		return topology.Star
	case HDAllReduce:
		return topology.HalvingDoubling
	case Send, Recv:
		return topology.PointToPoint
	}
	return topology.Mesh
}

// A Factory creates a fresh executor.
type Factory func(cfg Config) Executor

// A Registry maps algorithm kinds to factories.
// It is safe for concurrent use.
type Registry struct {
	cfg Config

	lock      sync.RWMutex
	factories map[Kind]Factory
}

// NewRegistry creates a Registry holding every built-in
// algorithm.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{cfg: cfg, factories: map[Kind]Factory{}}
	r.Register(RingReduce, NewRingReduce)
	r.Register(StarBroadcast, NewStarBroadcast)
	r.Register(StarGather, NewStarGather)
	r.Register(StarScatter, NewStarScatter)
	r.Register(HDAllReduce, NewHDAllReduce)
	r.Register(MeshReduceScatter, NewMeshReduceScatter)
	r.Register(MeshAllGather, NewMeshAllGather)
	r.Register(MeshAllReduce, NewMeshAllReduce)
	r.Register(Send, NewSend)
	r.Register(Recv, NewRecv)
	return r
}

// Config returns the configuration passed to factories.
func (r *Registry) Config() Config {
	return r.cfg
}

// Register adds or replaces a factory.
func (r *Registry) Register(k Kind, f Factory) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.factories[k] = f
}

// New creates an executor of a registered kind.
func (r *Registry) New(k Kind) (Executor, error) {
	r.lock.RLock()
	f, ok := r.factories[k]
	r.lock.RUnlock()
	if !ok {
		return nil, collcomm.NotSupportedErrorf("executor %s", k)
	}
	return f(r.cfg), nil
}

// Kinds returns every registered kind in order.
func (r *Registry) Kinds() []Kind {
	r.lock.RLock()
	defer r.lock.RUnlock()
	res := make([]Kind, 0, len(r.factories))
	for k := range r.factories {
		res = append(res, k)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

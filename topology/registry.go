package topology

import (
	"sync"

	"github.com/unixpickle/hcoll/collcomm"
)

// A Strategy binds a pattern to its role resolver.
type Strategy struct {
	Pattern Pattern
	Roles   RoleFunc

	// Targeted, if set, builds the resolver of a pattern
	// whose links are restricted to target ranks, given
	// the plane indices of the targets. Roles then applies
	// when every rank is a target.
	Targeted func(targets []int) RoleFunc
}

// A Registry maps patterns to strategies.
// It is safe for concurrent use.
type Registry struct {
	lock       sync.RWMutex
	strategies map[Pattern]Strategy
}

// NewRegistry creates a Registry holding every built-in
// pattern.
func NewRegistry() *Registry {
	r := &Registry{strategies: map[Pattern]Strategy{}}
	r.Register(Strategy{Pattern: Ring, Roles: RingRoles})
	r.Register(Strategy{Pattern: Mesh, Roles: MeshRoles})
	r.Register(Strategy{Pattern: HalvingDoubling, Roles: HalvingDoublingRoles})
	r.Register(Strategy{Pattern: Star, Roles: StarRoles})
	r.Register(Strategy{Pattern: PointToPoint, Roles: PointToPointRoles})
	r.Register(Strategy{Pattern: PartialMesh, Roles: allTargets(PartialMeshRoles), Targeted: PartialMeshRoles})
	return r
}

// Register adds or replaces a strategy.
func (r *Registry) Register(s Strategy) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.strategies[s.Pattern] = s
}

// Lookup finds the strategy of a pattern.
func (r *Registry) Lookup(p Pattern) (Strategy, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	s, ok := r.strategies[p]
	if !ok {
		return Strategy{}, collcomm.NotSupportedErrorf("pattern %s", p)
	}
	return s, nil
}

// ComputeRoles resolves the edges of a rank for a
// registered pattern.
func (r *Registry) ComputeRoles(p Pattern, rank, size, root int) ([]Edge, error) {
	s, err := r.Lookup(p)
	if err != nil {
		return nil, err
	}
	return s.Roles(rank, size, root)
}

// RolesFor picks the resolver of a strategy for a set of
// targets.
func (s Strategy) RolesFor(targets []int) RoleFunc {
	if s.Targeted == nil {
		return s.Roles
	}
	return s.Targeted(targets)
}

// allTargets turns a targeted resolver into one that
// targets the whole plane.
func allTargets(targeted func(targets []int) RoleFunc) RoleFunc {
	return func(rank, size, root int) ([]Edge, error) {
		targets := make([]int, size)
		for i := range targets {
			targets[i] = i
		}
		return targeted(targets)(rank, size, root)
	}
}

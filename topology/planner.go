package topology

import (
	"github.com/unixpickle/hcoll/collcomm"
	"k8s.io/klog/v2"
)

// DeviceInfo describes the hardware behind a user rank.
type DeviceInfo struct {
	// Server identifies the physical node.
	Server string

	// NodeType is the kind of physical node.
	NodeType string

	// Class is the accelerator device class.
	Class string
}

// Capabilities lists what the hardware supports beyond
// identical node types.
type Capabilities struct {
	// PeerClasses are the device classes that support
	// direct peer transport with each other regardless of
	// node type.
	PeerClasses []string
}

// A PlanSpec is the input of Planner.Plan for one level
// of a (possibly hierarchical) topology.
type PlanSpec struct {
	Pattern Pattern

	// Planes are the planes of this level.
	// The local rank must be a member of every plane.
	// Unused for PointToPoint.
	Planes []Plane

	// Local is the rank doing the planning.
	Local collcomm.UserRank

	// InterPlane is set when the level aggregates across
	// planes; planes whose Bridge flag is unset are then
	// skipped.
	InterPlane bool

	// Root is the local rank of the root in every plane,
	// for Star and HalvingDoubling.
	Root int

	// Peer is the destination of PointToPoint.
	Peer collcomm.UserRank

	// Targets are the user ranks PartialMesh may link to.
	Targets []collcomm.UserRank

	InputKind  collcomm.MemKind
	OutputKind collcomm.MemKind
}

// A Planner turns a communication shape into the
// transport requests of the local rank.
//
// Planning never performs connection I/O.
type Planner struct {
	Strategies *Registry
	Devices    map[collcomm.UserRank]DeviceInfo
	Caps       Capabilities
}

// NewPlanner creates a Planner with the default pattern
// registry.
func NewPlanner(devices map[collcomm.UserRank]DeviceInfo, caps Capabilities) *Planner {
	return &Planner{
		Strategies: NewRegistry(),
		Devices:    devices,
		Caps:       caps,
	}
}

// Plan computes the transport requests for every plane of
// a level.
//
// The result has one entry per plane; skipped planes
// (single member, or non-bridge planes of an inter-plane
// level) have a nil entry.
// PointToPoint ignores planes and returns one entry.
func (p *Planner) Plan(spec PlanSpec) ([][]collcomm.TransportRequest, error) {
	strategy, err := p.Strategies.Lookup(spec.Pattern)
	if err != nil {
		return nil, err
	}
	if spec.Pattern == PointToPoint {
		reqs, err := p.pointToPoint(spec, strategy.Roles)
		if err != nil {
			return nil, err
		}
		return [][]collcomm.TransportRequest{reqs}, nil
	}

	res := make([][]collcomm.TransportRequest, len(spec.Planes))
	for i, plane := range spec.Planes {
		if spec.InterPlane && !plane.Bridge {
			klog.V(2).Infof("rank %d: skip non-bridge plane %d of %s level", spec.Local, i, spec.Pattern)
			continue
		}
		ranks, err := NewRankMap(plane.Members)
		if err != nil {
			return nil, err
		}
		local, err := ranks.LocalRank(spec.Local)
		if err != nil {
			return nil, err
		}
		if ranks.Size() == 1 {
			continue
		}
		if spec.Pattern == PartialMesh {
			res[i], err = p.partialMesh(spec, strategy, ranks, local)
		} else {
			res[i], err = perIndexRequests(spec, strategy.Roles, ranks, local)
		}
		if err != nil {
			return nil, err
		}
		klog.V(1).Infof("rank %d: planned %d/%d %s links in plane %d", spec.Local,
			countValid(res[i]), len(res[i]), spec.Pattern, i)
	}
	return res, nil
}

// PlanLevels plans every level of a hierarchical topology,
// one Plan call per level.
func (p *Planner) PlanLevels(levels []PlanSpec) ([][][]collcomm.TransportRequest, error) {
	res := make([][][]collcomm.TransportRequest, len(levels))
	for i, spec := range levels {
		reqs, err := p.Plan(spec)
		if err != nil {
			return nil, err
		}
		res[i] = reqs
	}
	return res, nil
}

// perIndexRequests creates one request per plane member,
// valid only where the pattern has an edge.
func perIndexRequests(spec PlanSpec, roles RoleFunc, ranks *RankMap,
	local int) ([]collcomm.TransportRequest, error) {
	edges, err := roles(local, ranks.Size(), spec.Root)
	if err != nil {
		return nil, err
	}
	reqs := make([]collcomm.TransportRequest, ranks.Size())
	for i := range reqs {
		remote, _ := ranks.UserRank(i)
		reqs[i] = collcomm.TransportRequest{
			LocalRank:  spec.Local,
			RemoteRank: remote,
			InputKind:  spec.InputKind,
			OutputKind: spec.OutputKind,
		}
	}
	for _, e := range edges {
		if e.Peer == local || e.Peer < 0 || e.Peer >= len(reqs) {
			return nil, collcomm.InternalErrorf("%s edge from %d to invalid peer %d", spec.Pattern, local, e.Peer)
		}
		reqs[e.Peer].Valid = true
		reqs[e.Peer].Role = e.Role
	}
	return reqs, nil
}

// partialMesh creates two requests per plane member: the
// first carries data from the local rank to the member,
// the second from the member to the local rank.
func (p *Planner) partialMesh(spec PlanSpec, strategy Strategy, ranks *RankMap,
	local int) ([]collcomm.TransportRequest, error) {
	var targets []int
	for _, t := range spec.Targets {
		if idx, err := ranks.LocalRank(t); err == nil {
			targets = append(targets, idx)
		}
	}
	edges, err := strategy.RolesFor(targets)(local, ranks.Size(), NoRoot)
	if err != nil {
		return nil, err
	}
	reqs := make([]collcomm.TransportRequest, ranks.Size()*2)
	for i := range reqs {
		remote, _ := ranks.UserRank(i / 2)
		reqs[i] = collcomm.TransportRequest{
			LocalRank:  spec.Local,
			RemoteRank: remote,
			InputKind:  spec.InputKind,
			OutputKind: spec.OutputKind,
		}
		if i%2 == 1 {
			reqs[i].Role = collcomm.Responder
		}
	}
	for _, e := range edges {
		if e.Peer == local || e.Peer < 0 || e.Peer >= ranks.Size() {
			return nil, collcomm.InternalErrorf("%s edge from %d to invalid peer %d", spec.Pattern, local, e.Peer)
		}
		slot := e.Peer * 2
		if e.Role == collcomm.Responder {
			slot++
		}
		reqs[slot].Valid = true
	}
	return reqs, nil
}

func (p *Planner) pointToPoint(spec PlanSpec, roles RoleFunc) ([]collcomm.TransportRequest, error) {
	if spec.Peer == spec.Local {
		return nil, collcomm.ParameterErrorf("point-to-point link from rank %d to itself", spec.Local)
	}
	if err := p.checkPeerCapable(spec.Local, spec.Peer); err != nil {
		return nil, err
	}
	edges, err := roles(int(spec.Local), 0, int(spec.Peer))
	if err != nil {
		return nil, err
	}
	if len(edges) != 1 || edges[0].Peer != int(spec.Peer) {
		return nil, collcomm.InternalErrorf("point-to-point roles of rank %d towards %d gave edges %v",
			spec.Local, spec.Peer, edges)
	}
	return []collcomm.TransportRequest{{
		Valid:      true,
		LocalRank:  spec.Local,
		RemoteRank: spec.Peer,
		InputKind:  spec.InputKind,
		OutputKind: spec.OutputKind,
		Role:       edges[0].Role,
	}}, nil
}

// checkPeerCapable verifies that two devices can talk
// directly: they share a node type, or both belong to
// classes that support direct peer transport.
func (p *Planner) checkPeerCapable(local, peer collcomm.UserRank) error {
	localInfo, ok := p.Devices[local]
	if !ok {
		return collcomm.NotFoundErrorf("no device info for rank %d", local)
	}
	peerInfo, ok := p.Devices[peer]
	if !ok {
		return collcomm.NotFoundErrorf("no device info for rank %d", peer)
	}
	if localInfo.NodeType == peerInfo.NodeType {
		return nil
	}
	if p.peerClass(localInfo.Class) && p.peerClass(peerInfo.Class) {
		return nil
	}
	return collcomm.ParameterErrorf("rank %d (%s/%s) cannot reach rank %d (%s/%s) directly",
		local, localInfo.NodeType, localInfo.Class, peer, peerInfo.NodeType, peerInfo.Class)
}

func (p *Planner) peerClass(class string) bool {
	for _, c := range p.Caps.PeerClasses {
		if c == class {
			return true
		}
	}
	return false
}

func countValid(reqs []collcomm.TransportRequest) int {
	var n int
	for _, r := range reqs {
		if r.Valid {
			n++
		}
	}
	return n
}

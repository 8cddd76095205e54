package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/hcoll/collcomm"
)

func userRanks(ranks ...int) []collcomm.UserRank {
	res := make([]collcomm.UserRank, len(ranks))
	for i, r := range ranks {
		res[i] = collcomm.UserRank(r)
	}
	return res
}

func TestPlanMesh(t *testing.T) {
	p := NewPlanner(nil, Capabilities{})
	reqs, err := p.Plan(PlanSpec{
		Pattern:    Mesh,
		Planes:     []Plane{{Members: userRanks(10, 11, 12, 13)}},
		Local:      12,
		InputKind:  collcomm.MemInput,
		OutputKind: collcomm.MemOutput,
	})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0], 4)
	for i, req := range reqs[0] {
		assert.Equal(t, collcomm.UserRank(12), req.LocalRank)
		assert.Equal(t, collcomm.UserRank(10+i), req.RemoteRank)
		assert.Equal(t, collcomm.MemOutput, req.OutputKind)
	}
	assert.False(t, reqs[0][2].Valid)
	assert.Equal(t, collcomm.Responder, reqs[0][0].Role)
	assert.Equal(t, collcomm.Responder, reqs[0][1].Role)
	assert.Equal(t, collcomm.Initiator, reqs[0][3].Role)
}

func TestPlanValidCounts(t *testing.T) {
	p := NewPlanner(nil, Capabilities{})
	members := userRanks(3, 1, 4, 0, 5, 9)
	expected := map[Pattern]int{Ring: 2, Mesh: 5}
	for pattern, count := range expected {
		for _, local := range members {
			reqs, err := p.Plan(PlanSpec{Pattern: pattern, Planes: []Plane{{Members: members}}, Local: local})
			require.NoError(t, err)
			assert.Equal(t, count, countValid(reqs[0]), "%s at rank %d", pattern, local)
		}
	}

	reqs, err := p.Plan(PlanSpec{Pattern: Ring, Planes: []Plane{{Members: userRanks(7, 2)}}, Local: 7})
	require.NoError(t, err)
	assert.Equal(t, 1, countValid(reqs[0]))

	reqs, err = p.Plan(PlanSpec{Pattern: HalvingDoubling, Planes: []Plane{{Members: members}}, Local: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, countValid(reqs[0]))
}

func TestPlanPairsAcrossRanks(t *testing.T) {
	p := NewPlanner(nil, Capabilities{})
	members := userRanks(8, 2, 6, 4, 0)
	specs := []PlanSpec{
		{Pattern: Ring},
		{Pattern: Mesh},
		{Pattern: HalvingDoubling, Root: 3},
		{Pattern: Star, Root: 1},
		{Pattern: PartialMesh, Targets: members},
	}
	for _, spec := range specs {
		t.Run(spec.Pattern.String(), func(t *testing.T) {
			type half struct {
				local, remote collcomm.UserRank
				role          collcomm.LinkRole
			}
			seen := map[half]int{}
			for _, local := range members {
				spec.Local = local
				spec.Planes = []Plane{{Members: members}}
				reqs, err := p.Plan(spec)
				require.NoError(t, err)
				for _, req := range reqs[0] {
					if req.Valid {
						seen[half{req.LocalRank, req.RemoteRank, req.Role}]++
					}
				}
			}
			for h, n := range seen {
				assert.Equal(t, 1, n, "%v requested twice", h)
				other := half{h.remote, h.local, h.role.Complement()}
				assert.Equal(t, 1, seen[other], "%v has no counterpart", h)
			}
		})
	}
}

func TestPlanPartialMesh(t *testing.T) {
	p := NewPlanner(nil, Capabilities{})
	reqs, err := p.Plan(PlanSpec{
		Pattern: PartialMesh,
		Planes:  []Plane{{Members: userRanks(0, 1, 2, 3)}},
		Local:   1,
		Targets: userRanks(0, 3, 7),
	})
	require.NoError(t, err)
	require.Len(t, reqs[0], 8)
	for i, req := range reqs[0] {
		assert.Equal(t, collcomm.UserRank(i/2), req.RemoteRank)
		if i%2 == 0 {
			assert.Equal(t, collcomm.Initiator, req.Role)
		} else {
			assert.Equal(t, collcomm.Responder, req.Role)
		}
		assert.Equal(t, i/2 == 0 || i/2 == 3, req.Valid, "slot %d", i)
	}
}

func TestPlanPartialMeshNoTargets(t *testing.T) {
	p := NewPlanner(nil, Capabilities{})
	_, err := p.Plan(PlanSpec{
		Pattern: PartialMesh,
		Planes:  []Plane{{Members: userRanks(0, 1, 2)}},
		Local:   1,
		Targets: userRanks(1, 5),
	})
	assert.Equal(t, collcomm.CodeInternal, collcomm.CodeOf(err))
}

func TestPlanRegisteredStrategies(t *testing.T) {
	devices := map[collcomm.UserRank]DeviceInfo{
		0: {NodeType: "x86"},
		1: {NodeType: "x86"},
	}
	p := NewPlanner(devices, Capabilities{})

	// Point-to-point links where the larger rank dials.
	p.Strategies.Register(Strategy{
		Pattern: PointToPoint,
		Roles: func(rank, size, dst int) ([]Edge, error) {
			return []Edge{{Peer: dst, Role: indexRole(dst, rank)}}, nil
		},
	})
	reqs, err := p.Plan(PlanSpec{Pattern: PointToPoint, Local: 1, Peer: 0})
	require.NoError(t, err)
	assert.Equal(t, collcomm.Initiator, reqs[0][0].Role)

	// A partial mesh that only sends.
	p.Strategies.Register(Strategy{
		Pattern: PartialMesh,
		Targeted: func(targets []int) RoleFunc {
			return func(rank, size, root int) ([]Edge, error) {
				var edges []Edge
				for _, t := range targets {
					if t != rank {
						edges = append(edges, Edge{Peer: t, Role: collcomm.Initiator})
					}
				}
				return edges, nil
			}
		},
	})
	reqs, err = p.Plan(PlanSpec{
		Pattern: PartialMesh,
		Planes:  []Plane{{Members: userRanks(0, 1, 2)}},
		Local:   0,
		Targets: userRanks(2),
	})
	require.NoError(t, err)
	var valid []int
	for i, req := range reqs[0] {
		if req.Valid {
			valid = append(valid, i)
		}
	}
	assert.Equal(t, []int{4}, valid)

	p.Strategies.Register(Strategy{
		Pattern: PointToPoint,
		Roles: func(rank, size, dst int) ([]Edge, error) {
			return nil, nil
		},
	})
	_, err = p.Plan(PlanSpec{Pattern: PointToPoint, Local: 1, Peer: 0})
	assert.Equal(t, collcomm.CodeInternal, collcomm.CodeOf(err))
}

func TestPlanSkippedPlanes(t *testing.T) {
	p := NewPlanner(nil, Capabilities{})
	reqs, err := p.Plan(PlanSpec{
		Pattern:    Ring,
		InterPlane: true,
		Planes: []Plane{
			{Members: userRanks(0, 4, 8), Bridge: true},
			{Members: userRanks(0, 1, 2)},
			{Members: userRanks(0), Bridge: true},
		},
		Local: 0,
	})
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	assert.Len(t, reqs[0], 3)
	assert.Nil(t, reqs[1])
	assert.Nil(t, reqs[2])
}

func TestPlanErrors(t *testing.T) {
	p := NewPlanner(nil, Capabilities{})
	_, err := p.Plan(PlanSpec{Pattern: Ring, Planes: []Plane{{Members: userRanks(1, 2)}}, Local: 0})
	assert.Equal(t, collcomm.CodeNotFound, collcomm.CodeOf(err))

	_, err = p.Plan(PlanSpec{Pattern: Ring, Planes: []Plane{{Members: userRanks(0, 1, 0)}}, Local: 0})
	assert.Equal(t, collcomm.CodeParameter, collcomm.CodeOf(err))

	_, err = p.Plan(PlanSpec{Pattern: Pattern(42), Planes: []Plane{{Members: userRanks(0, 1)}}, Local: 0})
	assert.Equal(t, collcomm.CodeNotSupported, collcomm.CodeOf(err))

	_, err = p.Plan(PlanSpec{Pattern: Star, Root: 4, Planes: []Plane{{Members: userRanks(0, 1)}}, Local: 0})
	assert.Equal(t, collcomm.CodeParameter, collcomm.CodeOf(err))
}

func TestPlanIdempotent(t *testing.T) {
	p := NewPlanner(nil, Capabilities{})
	spec := PlanSpec{
		Pattern: HalvingDoubling,
		Planes:  []Plane{{Members: userRanks(5, 6, 7, 8, 9, 10, 11)}, {Members: userRanks(1, 9)}},
		Local:   9,
	}
	first, err := p.Plan(spec)
	require.NoError(t, err)
	second, err := p.Plan(spec)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPlanPointToPoint(t *testing.T) {
	devices := map[collcomm.UserRank]DeviceInfo{
		0: {Server: "a", NodeType: "x86", Class: "npu-a"},
		1: {Server: "a", NodeType: "x86", Class: "npu-a"},
		2: {Server: "b", NodeType: "arm", Class: "npu-b"},
		3: {Server: "c", NodeType: "arm", Class: "npu-c"},
	}
	p := NewPlanner(devices, Capabilities{PeerClasses: []string{"npu-a", "npu-b"}})

	reqs, err := p.Plan(PlanSpec{Pattern: PointToPoint, Local: 1, Peer: 0})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, []collcomm.TransportRequest{{
		Valid:      true,
		LocalRank:  1,
		RemoteRank: 0,
		Role:       collcomm.Responder,
	}}, reqs[0])

	reqs, err = p.Plan(PlanSpec{Pattern: PointToPoint, Local: 0, Peer: 2})
	require.NoError(t, err)
	assert.Equal(t, collcomm.Initiator, reqs[0][0].Role)

	_, err = p.Plan(PlanSpec{Pattern: PointToPoint, Local: 0, Peer: 3})
	assert.Equal(t, collcomm.CodeParameter, collcomm.CodeOf(err))
	_, err = p.Plan(PlanSpec{Pattern: PointToPoint, Local: 0, Peer: 9})
	assert.Equal(t, collcomm.CodeNotFound, collcomm.CodeOf(err))
	_, err = p.Plan(PlanSpec{Pattern: PointToPoint, Local: 2, Peer: 2})
	assert.Equal(t, collcomm.CodeParameter, collcomm.CodeOf(err))
}

func TestPlanLevels(t *testing.T) {
	p := NewPlanner(nil, Capabilities{})
	levels := []PlanSpec{
		{
			Pattern: Mesh,
			Planes:  []Plane{{Members: userRanks(4, 5, 6, 7)}},
			Local:   5,
		},
		{
			Pattern:    Ring,
			InterPlane: true,
			Planes:     []Plane{{Members: userRanks(1, 5, 9, 13), Bridge: true}},
			Local:      5,
		},
	}
	res, err := p.PlanLevels(levels)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, 3, countValid(res[0][0]))
	assert.Equal(t, 2, countValid(res[1][0]))

	levels[1].Local = 6
	_, err = p.PlanLevels(levels)
	assert.Error(t, err)
}

func TestRankMap(t *testing.T) {
	m, err := NewRankMap(userRanks(7, 3, 5))
	require.NoError(t, err)
	assert.Equal(t, 3, m.Size())
	idx, err := m.LocalRank(5)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	user, err := m.UserRank(1)
	require.NoError(t, err)
	assert.Equal(t, collcomm.UserRank(3), user)
	_, err = m.UserRank(3)
	assert.Equal(t, collcomm.CodeNotFound, collcomm.CodeOf(err))
	assert.Equal(t, userRanks(7, 3, 5), m.Members())
}

package topology

import "github.com/unixpickle/hcoll/collcomm"

// A Plane is one instance of a topology over an ordered
// set of user ranks.
type Plane struct {
	// Members lists user ranks by local rank.
	Members []collcomm.UserRank

	// Bridge is set if the local rank takes part in
	// inter-plane aggregation for this plane.
	Bridge bool
}

// Size returns the number of members.
func (p Plane) Size() int {
	return len(p.Members)
}

// A RankMap translates between user ranks and local ranks
// of a single plane.
type RankMap struct {
	members []collcomm.UserRank
	local   map[collcomm.UserRank]int
}

// NewRankMap creates a RankMap for an ordered member list.
//
// Duplicate members are a parameter error.
func NewRankMap(members []collcomm.UserRank) (*RankMap, error) {
	r := &RankMap{
		members: append([]collcomm.UserRank{}, members...),
		local:   make(map[collcomm.UserRank]int, len(members)),
	}
	for i, m := range members {
		if _, ok := r.local[m]; ok {
			return nil, collcomm.ParameterErrorf("user rank %d appears twice in plane", m)
		}
		r.local[m] = i
	}
	return r, nil
}

// Size returns the number of ranks in the plane.
func (r *RankMap) Size() int {
	return len(r.members)
}

// LocalRank finds the position of a user rank.
func (r *RankMap) LocalRank(user collcomm.UserRank) (int, error) {
	idx, ok := r.local[user]
	if !ok {
		return 0, collcomm.NotFoundErrorf("user rank %d is not in plane", user)
	}
	return idx, nil
}

// UserRank finds the user rank at a position.
func (r *RankMap) UserRank(local int) (collcomm.UserRank, error) {
	if local < 0 || local >= len(r.members) {
		return 0, collcomm.NotFoundErrorf("local rank %d out of plane of size %d", local, len(r.members))
	}
	return r.members[local], nil
}

// Members returns a copy of the member list.
func (r *RankMap) Members() []collcomm.UserRank {
	return append([]collcomm.UserRank{}, r.members...)
}

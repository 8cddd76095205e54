package topology

import (
	"github.com/unixpickle/hcoll/collcomm"
)

// NoRoot is passed as the root of patterns that do not
// have one.
const NoRoot = -1

// An Edge is one link the local rank needs, named by the
// local rank of the remote end.
type Edge struct {
	Peer int
	Role collcomm.LinkRole
}

// A RoleFunc computes the edges of the local rank in a
// plane of the given size.
//
// The returned order is the order in which links should
// be established.
// The root argument is pattern specific: the root rank
// for rooted patterns and the destination for
// point-to-point.
type RoleFunc func(rank, size, root int) ([]Edge, error)

// RingRoles connects a rank to its two ring neighbors.
//
// Every rank is the initiator towards its predecessor and
// the responder towards its successor, so rank 0 answers
// rank 1 and dials the tail.
// Odd interior ranks dial their predecessor first; even
// ranks (including 0 and the tail) accept from their
// successor first, which keeps blocking establishments
// from waiting on each other around the ring.
//
// With two ranks the ring collapses onto a single edge,
// resolved with the point-to-point rule.
func RingRoles(rank, size, root int) ([]Edge, error) {
	if err := checkRank(rank, size); err != nil {
		return nil, err
	}
	if size == 1 {
		return nil, collcomm.InternalErrorf("ring of size 1 has no edges")
	}
	if size == 2 {
		return PointToPointRoles(rank, size, 1-rank)
	}
	prev := (rank + size - 1) % size
	next := (rank + 1) % size
	toPrev := Edge{Peer: prev, Role: collcomm.Initiator}
	toNext := Edge{Peer: next, Role: collcomm.Responder}
	if rank%2 == 1 && rank != size-1 {
		return []Edge{toPrev, toNext}, nil
	}
	return []Edge{toNext, toPrev}, nil
}

// MeshRoles connects a rank to every other rank.
// The local rank responds to smaller ranks and initiates
// towards larger ones.
func MeshRoles(rank, size, root int) ([]Edge, error) {
	if err := checkRank(rank, size); err != nil {
		return nil, err
	}
	edges := make([]Edge, 0, size-1)
	for peer := 0; peer < size; peer++ {
		if peer != rank {
			edges = append(edges, Edge{Peer: peer, Role: indexRole(rank, peer)})
		}
	}
	if len(edges) == 0 {
		return nil, collcomm.InternalErrorf("mesh of size %d has no edges", size)
	}
	return edges, nil
}

// HalvingDoublingRoles connects a rank to the peers of
// the recursive halving-doubling exchange, using the mesh
// rule on that subset.
// A root of NoRoot is treated as rank 0.
func HalvingDoublingRoles(rank, size, root int) ([]Edge, error) {
	if err := checkRank(rank, size); err != nil {
		return nil, err
	}
	if root == NoRoot {
		root = 0
	} else if err := checkRank(root, size); err != nil {
		return nil, err
	}
	peers := HalvingDoublingPeers(rank, size, root)
	if len(peers) == 0 {
		return nil, collcomm.InternalErrorf("halving-doubling adjacency of rank %d/%d is empty", rank, size)
	}
	edges := make([]Edge, len(peers))
	for i, p := range peers {
		edges[i] = Edge{Peer: p, Role: indexRole(rank, p)}
	}
	return edges, nil
}

// StarRoles connects the root to every rank and every
// other rank only to the root.
func StarRoles(rank, size, root int) ([]Edge, error) {
	if root == NoRoot {
		root = 0
	}
	if err := checkRank(rank, size); err != nil {
		return nil, err
	}
	if err := checkRank(root, size); err != nil {
		return nil, err
	}
	if rank != root {
		return []Edge{{Peer: root, Role: indexRole(rank, root)}}, nil
	}
	return MeshRoles(rank, size, root)
}

// PointToPointRoles connects a rank to a single
// destination, passed as root.
func PointToPointRoles(rank, size, dst int) ([]Edge, error) {
	if rank == dst {
		return nil, collcomm.ParameterErrorf("point-to-point link from rank %d to itself", rank)
	}
	if rank < 0 || dst < 0 {
		return nil, collcomm.ParameterErrorf("invalid point-to-point ranks %d -> %d", rank, dst)
	}
	return []Edge{{Peer: dst, Role: indexRole(rank, dst)}}, nil
}

// PartialMeshRoles returns a RoleFunc for a mesh that is
// restricted to a set of target ranks.
//
// Each target gets two directed links: one the local rank
// sends on, which it initiates, and one it receives on,
// which it answers.
// Both ends of a directed link therefore agree that the
// sender initiates.
func PartialMeshRoles(targets []int) RoleFunc {
	wanted := map[int]bool{}
	for _, t := range targets {
		wanted[t] = true
	}
	return func(rank, size, root int) ([]Edge, error) {
		if err := checkRank(rank, size); err != nil {
			return nil, err
		}
		var edges []Edge
		for peer := 0; peer < size; peer++ {
			if peer != rank && wanted[peer] {
				edges = append(edges,
					Edge{Peer: peer, Role: collcomm.Initiator},
					Edge{Peer: peer, Role: collcomm.Responder})
			}
		}
		if len(edges) == 0 {
			return nil, collcomm.InternalErrorf("partial mesh of rank %d/%d has no targets", rank, size)
		}
		return edges, nil
	}
}

func indexRole(rank, peer int) collcomm.LinkRole {
	if rank < peer {
		return collcomm.Initiator
	}
	return collcomm.Responder
}

func checkRank(rank, size int) error {
	if size <= 0 {
		return collcomm.ParameterErrorf("invalid plane size %d", size)
	}
	if rank < 0 || rank >= size {
		return collcomm.ParameterErrorf("rank %d out of plane of size %d", rank, size)
	}
	return nil
}

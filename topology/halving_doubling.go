package topology

import "sort"

// HDLayout describes how a recursive halving-doubling
// algorithm folds a plane of any size onto a block whose
// size is a power of two.
//
// Ranks below Part1Size are "extra" ranks that pair up:
// the even rank of each pair joins the block, the odd
// one sits out while the block runs its rounds.
// Every rank at or above Part1Size is in the block.
type HDLayout struct {
	Size      int
	BlockSize int
	Part1Size int
}

// NewHDLayout computes the layout for a plane size.
func NewHDLayout(size int) HDLayout {
	block := 1
	for block*2 <= size {
		block *= 2
	}
	return HDLayout{
		Size:      size,
		BlockSize: block,
		Part1Size: (size - block) * 2,
	}
}

// Rounds is log2(BlockSize).
func (h HDLayout) Rounds() int {
	var n int
	for 1<<uint(n) < h.BlockSize {
		n++
	}
	return n
}

// BlockRank returns a rank's index in the block, or -1
// if the rank sits out.
func (h HDLayout) BlockRank(rank int) int {
	if rank < h.Part1Size {
		if rank%2 == 1 {
			return -1
		}
		return rank / 2
	}
	return rank - h.Part1Size/2
}

// BlockToRank is the inverse of BlockRank.
func (h HDLayout) BlockToRank(blockRank int) int {
	if blockRank < h.Part1Size/2 {
		return blockRank * 2
	}
	return blockRank + h.Part1Size/2
}

// Partner returns the other rank of an extra pair, or -1
// if the rank is not an extra rank.
func (h HDLayout) Partner(rank int) int {
	if rank >= h.Part1Size {
		return -1
	}
	return rank ^ 1
}

// BlockPeer returns the block rank a block member talks
// to during a round of the halving phase.
// Round 0 pairs the members that are furthest apart.
func (h HDLayout) BlockPeer(blockRank, round int) int {
	mask := h.BlockSize >> uint(round+1)
	return blockRank ^ mask
}

// HalvingDoublingPeers lists, in ascending order, every
// rank that a rank exchanges data with.
//
// When root is not zero, ranks are rotated so that root
// plays the part of rank 0.
// The relation is symmetric.
func HalvingDoublingPeers(rank, size, root int) []int {
	if size <= 1 {
		return nil
	}
	layout := NewHDLayout(size)
	virtual := ((rank-root)%size + size) % size
	var peers []int
	if p := layout.Partner(virtual); p >= 0 {
		peers = append(peers, p)
	}
	if b := layout.BlockRank(virtual); b >= 0 {
		for round := 0; round < layout.Rounds(); round++ {
			peers = append(peers, layout.BlockToRank(layout.BlockPeer(b, round)))
		}
	}
	for i, p := range peers {
		peers[i] = (p + root) % size
	}
	sort.Ints(peers)
	return peers
}

// HalvingDoublingAdjacency returns, for every rank of
// the plane, whether rank has an edge to it.
func HalvingDoublingAdjacency(rank, size, root int) []bool {
	res := make([]bool, size)
	for _, p := range HalvingDoublingPeers(rank, size, root) {
		res[p] = true
	}
	return res
}

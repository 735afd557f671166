// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package tree

import (
	"math/bits"

	"github.com/viettran-edgeAI/mcu-rf/pkg/packedvector"
)

// bitsFor returns the number of bits needed to represent values in [0, n),
// minimum 1.
func bitsFor(n int) uint8 {
	if n <= 1 {
		return 1
	}
	return uint8(bits.Len(uint(n - 1)))
}

// ConvertToCompact converts a breadth-first build-form tree into the
// three-vector compact representation addressed by a rank-over-bitmap
// index. After conversion the caller may drop bt.
func ConvertToCompact(bt *BuildTree, cfg BuildConfig) *CompactTree {
	n := len(bt.nodes)

	if n == 1 && bt.nodes[0].isLeaf {
		return &CompactTree{
			RootIsLeaf: true,
			RootIndex:  0,
			Leaf:       []uint8{bt.nodes[0].label},
			BranchKind: packedvector.New(1),
		}
	}

	// Pass 1: assign each old node a dense leaf index or a dense branch
	// index, both in old (enqueue) order.
	leafIdx := make([]uint32, n)
	branchIdx := make([]uint32, n)
	var leafCount, branchCount uint32
	for i, nd := range bt.nodes {
		if nd.isLeaf {
			leafIdx[i] = leafCount
			leafCount++
		} else {
			branchIdx[i] = branchCount
			branchCount++
		}
	}

	ct := &CompactTree{
		Leaf:       make([]uint8, 0, leafCount),
		BranchKind: packedvector.New(1),
	}

	if bt.nodes[0].isLeaf {
		ct.RootIsLeaf = true
		ct.RootIndex = leafIdx[0]
	} else {
		ct.RootIsLeaf = false
		ct.RootIndex = branchIdx[0]
	}

	// Pass 2: walk branches in old order (== increasing global branch
	// index) and classify each as Internal or Mixed.
	for _, nd := range bt.nodes {
		if nd.isLeaf {
			ct.Leaf = append(ct.Leaf, nd.label)
			continue
		}
		leftOld := int(nd.left)
		rightOld := leftOld + 1
		left := bt.nodes[leftOld]
		right := bt.nodes[rightOld]

		if left.isLeaf == right.isLeaf {
			ct.BranchKind.Push(0)
			var childIdx uint32
			if left.isLeaf {
				childIdx = leafIdx[leftOld] // right = left+1 in leaf space
			} else {
				childIdx = branchIdx[leftOld] // right = left+1 in branch space
			}
			ct.Internal = append(ct.Internal, InternalNode{
				ChildrenAreLeaf: left.isLeaf,
				Threshold:       nd.threshold,
				FeatureID:       nd.featureID,
				Left:            childIdx,
			})
		} else {
			ct.BranchKind.Push(1)
			var leftIdx, rightIdx uint32
			if left.isLeaf {
				leftIdx = leafIdx[leftOld]
				rightIdx = branchIdx[rightOld]
			} else {
				leftIdx = branchIdx[leftOld]
				rightIdx = leafIdx[rightOld]
			}
			ct.Mixed = append(ct.Mixed, MixedNode{
				LeftIsLeaf: left.isLeaf,
				Threshold:  nd.threshold,
				FeatureID:  nd.featureID,
				Left:       leftIdx,
				Right:      rightIdx,
			})
		}
	}

	ct.MixedPrefix = computeMixedPrefix(ct.BranchKind)
	return ct
}

// computeMixedPrefix builds the per-word cumulative popcount index used by
// RankMixed.
func computeMixedPrefix(bk *packedvector.PackedVector) []uint32 {
	words := bk.RawWords()
	prefix := make([]uint32, len(words)+1)
	for i, w := range words {
		prefix[i+1] = prefix[i] + uint32(bits.OnesCount32(w))
	}
	return prefix
}

// wordBitsForRank matches packedvector's internal word width; BranchKind is
// a 1-bit-per-value PackedVector so one word holds 32 branch-kind bits.
const wordBitsForRank = 32

// RankMixed returns the number of mixed-kind branches preceding index b in
// BranchKind, i.e. popcount(branch_kind[0..b)).
func (ct *CompactTree) RankMixed(b int) uint32 {
	wordIdx := b / wordBitsForRank
	bitIdx := uint(b % wordBitsForRank)
	word := ct.BranchKind.RawWords()[wordIdx]
	mask := uint32(1)<<bitIdx - 1
	return ct.MixedPrefix[wordIdx] + uint32(bits.OnesCount32(word&mask))
}

// FeatureGetterSingle returns the quantized bin for one feature of the
// sample under prediction.
type FeatureGetterSingle func(feature int) uint32

// Predict descends the compact tree for one sample's feature vector,
// returning ErrorLabel if descent fails to terminate within the 100-step
// cap, which guards against a corrupt tree looping forever.
func (ct *CompactTree) Predict(getFeature FeatureGetterSingle) uint8 {
	isLeaf := ct.RootIsLeaf
	idx := ct.RootIndex

	for iter := 0; iter < 100; iter++ {
		if isLeaf {
			if int(idx) >= len(ct.Leaf) {
				return ErrorLabel
			}
			return ct.Leaf[idx]
		}

		b := int(idx)
		mixedBefore := ct.RankMixed(b)
		kind := ct.BranchKind.GetUnsafe(b)

		if kind == 0 {
			local := uint32(b) - mixedBefore
			if int(local) >= len(ct.Internal) {
				return ErrorLabel
			}
			node := ct.Internal[local]
			goLeft := getFeature(int(node.FeatureID)) <= node.Threshold
			if node.ChildrenAreLeaf {
				isLeaf = true
				if goLeft {
					idx = node.Left
				} else {
					idx = node.Left + 1
				}
			} else {
				isLeaf = false
				if goLeft {
					idx = node.Left
				} else {
					idx = node.Left + 1
				}
			}
		} else {
			local := mixedBefore
			if int(local) >= len(ct.Mixed) {
				return ErrorLabel
			}
			node := ct.Mixed[local]
			goLeft := getFeature(int(node.FeatureID)) <= node.Threshold
			if goLeft {
				idx = node.Left
				isLeaf = node.LeftIsLeaf
			} else {
				idx = node.Right
				isLeaf = !node.LeftIsLeaf
			}
		}
	}
	return ErrorLabel
}

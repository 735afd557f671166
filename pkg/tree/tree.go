// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package tree implements the breadth-first CART/entropy tree builder and
// its conversion to a compact, rank-indexed three-vector representation
// suitable for inference on a memory-constrained target.
package tree

import "github.com/viettran-edgeAI/mcu-rf/pkg/packedvector"

// Criterion selects the impurity function used to score candidate splits.
type Criterion uint8

const (
	Gini Criterion = iota
	Entropy
)

// ErrorLabel is the sentinel returned by Predict when descent fails to
// terminate within the iteration cap.
const ErrorLabel = 0xFF

// BuildConfig parameterizes tree construction.
type BuildConfig struct {
	NumFeatures int
	Groups      uint32 // 2^Q, the number of bins per feature
	NumLabels   int

	MinSplit uint8
	MinLeaf  uint8
	MaxDepth uint16

	Criterion         Criterion
	ImpurityThreshold float32
}

// FeatureGetter returns the quantized bin for (sample, feature).
type FeatureGetter func(sample, feature int) uint32

// LabelGetter returns the label for a sample.
type LabelGetter func(sample int) uint8

type buildNode struct {
	isLeaf    bool
	label     uint8
	featureID uint16
	threshold uint32
	left      uint32 // valid only when !isLeaf; right child is left+1
}

// BuildTree is the mutable breadth-first build-time representation: a dense
// array of nodes addressed by index, with child indices assigned as nodes
// are enqueued.
type BuildTree struct {
	nodes []buildNode
	cfg   BuildConfig
}

// NodeCount returns the number of nodes produced by the build.
func (t *BuildTree) NodeCount() int { return len(t.nodes) }

// Predict descends the build-form tree for one sample, used by tests to
// check build-form/compact-form equivalence.
func (t *BuildTree) Predict(getFeature func(feature int) uint32) uint8 {
	idx := 0
	for iter := 0; iter < 100; iter++ {
		n := t.nodes[idx]
		if n.isLeaf {
			return n.label
		}
		if getFeature(int(n.featureID)) <= n.threshold {
			idx = int(n.left)
		} else {
			idx = int(n.left) + 1
		}
	}
	return ErrorLabel
}

// InternalNode packs a branch whose two children share a kind (both leaves
// or both branches).
type InternalNode struct {
	ChildrenAreLeaf bool
	Threshold       uint32
	FeatureID       uint16
	Left            uint32 // index into Leaf[] or the global branch space; Right = Left+1
}

// MixedNode packs a branch with exactly one leaf child.
type MixedNode struct {
	LeftIsLeaf bool
	Threshold  uint32
	FeatureID  uint16
	Left       uint32 // index into Leaf[] (if LeftIsLeaf) or global branch space
	Right      uint32 // index into the other space
}

// CompactTree is the three-vector representation addressed by a
// rank-over-bitmap index for O(1) branch-kind lookups.
type CompactTree struct {
	RootIsLeaf bool
	RootIndex  uint32

	Internal []InternalNode
	Mixed    []MixedNode
	Leaf     []uint8

	BranchKind  *packedvector.PackedVector // 1 bit per branch; 0=internal, 1=mixed
	MixedPrefix []uint32                   // len == BranchKind.WordCount()+1
}

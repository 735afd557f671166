// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package tree_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viettran-edgeAI/mcu-rf/pkg/tree"
)

// s1Dataset returns a small 8-sample, 2-feature, Q=1 dataset where feature
// 0 exactly determines the label and feature 1 is pure noise:
// labels=[0,0,0,0,1,1,1,1], features[f0]=labels, features[f1]=0.
func s1Dataset() (labels []uint8, features [][]uint32) {
	labels = []uint8{0, 0, 0, 0, 1, 1, 1, 1}
	features = make([][]uint32, 8)
	for i, l := range labels {
		features[i] = []uint32{uint32(l), 0}
	}
	return
}

func s1Build(t *testing.T) (*tree.BuildTree, [][]uint32) {
	t.Helper()
	labels, features := s1Dataset()
	ids := make([]uint32, 8)
	for i := range ids {
		ids[i] = uint32(i)
	}
	cfg := tree.BuildConfig{
		NumFeatures:       2,
		Groups:            2,
		NumLabels:         2,
		MinSplit:          2,
		MinLeaf:           1,
		MaxDepth:          3,
		Criterion:         tree.Gini,
		ImpurityThreshold: 0,
	}
	bt := tree.Build(cfg, ids,
		func(sample, feature int) uint32 { return features[sample][feature] },
		func(sample int) uint8 { return labels[sample] },
		4)
	return bt, features
}

// S1 — Tiny balanced tree: 1 root + 2 leaves; every sample predicts its own
// label; node count = 3.
func TestS1TinyBalancedTree(t *testing.T) {
	t.Parallel()
	bt, features := s1Build(t)
	labels, _ := s1Dataset()

	require.Equal(t, 3, bt.NodeCount())
	for i, l := range labels {
		got := bt.Predict(func(feature int) uint32 { return features[i][feature] })
		require.Equal(t, l, got, "sample %d", i)
	}
}

// S6 / invariant 5 — compact-form prediction equals build-form prediction
// for every sample, after converting the S1 tree.
func TestS6CompactEquivalence(t *testing.T) {
	t.Parallel()
	bt, features := s1Build(t)
	cfg := tree.BuildConfig{NumFeatures: 2, Groups: 2, NumLabels: 2}
	ct := tree.ConvertToCompact(bt, cfg)

	for i := range features {
		want := bt.Predict(func(feature int) uint32 { return features[i][feature] })
		got := ct.Predict(func(feature int) uint32 { return features[i][feature] })
		require.Equal(t, want, got, "sample %d", i)
	}
}

// Invariant 6 — rank identity: RankMixed(b) equals the popcount of
// branch_kind[0..b) for every b.
func TestRankIdentity(t *testing.T) {
	t.Parallel()
	bt, _ := s1Build(t)
	cfg := tree.BuildConfig{NumFeatures: 2, Groups: 2, NumLabels: 2}
	ct := tree.ConvertToCompact(bt, cfg)

	n := ct.BranchKind.Len()
	var runningPopcount uint32
	for b := 0; b < n; b++ {
		require.Equal(t, runningPopcount, ct.RankMixed(b), "b=%d", b)
		if ct.BranchKind.Get(b) == 1 {
			runningPopcount++
		}
	}
}

// Invariant 7 (tree half) — serializing a compact tree and deserializing it
// yields identical predictions on every sample.
func TestTRC3RoundTripPredictionsMatch(t *testing.T) {
	t.Parallel()
	bt, features := s1Build(t)
	cfg := tree.BuildConfig{NumFeatures: 2, Groups: 2, NumLabels: 2}
	ct := tree.ConvertToCompact(bt, cfg)

	var buf bytes.Buffer
	require.NoError(t, ct.WriteTo(&buf))

	got, err := tree.ReadFrom(&buf)
	require.NoError(t, err)

	for i := range features {
		want := ct.Predict(func(feature int) uint32 { return features[i][feature] })
		gotPred := got.Predict(func(feature int) uint32 { return features[i][feature] })
		require.Equal(t, want, gotPred, "sample %d", i)
	}
}

func TestTRC3BadMagicRejected(t *testing.T) {
	t.Parallel()
	_, err := tree.ReadFrom(bytes.NewReader([]byte("XXXX")))
	require.Error(t, err)
}

func TestGiniTieBreaksToLowerFeatureThenThreshold(t *testing.T) {
	t.Parallel()
	// Two identical-quality features; the builder must pick feature 0.
	labels := []uint8{0, 0, 1, 1}
	features := [][]uint32{{0, 0}, {0, 0}, {1, 1}, {1, 1}}
	ids := []uint32{0, 1, 2, 3}
	cfg := tree.BuildConfig{
		NumFeatures: 2, Groups: 2, NumLabels: 2,
		MinSplit: 2, MinLeaf: 1, MaxDepth: 2,
		Criterion: tree.Gini,
	}
	bt := tree.Build(cfg, ids,
		func(s, f int) uint32 { return features[s][f] },
		func(s int) uint8 { return labels[s] }, 4)
	require.Equal(t, 3, bt.NodeCount())
	// Feature 0 is 0 and feature 1 is 1: only a split on feature 0 sends this sample left, to label 0.
	require.Equal(t, uint8(0), bt.Predict(func(f int) uint32 { return []uint32{0, 1}[f] }))
}

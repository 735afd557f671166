// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package forest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viettran-edgeAI/mcu-rf/pkg/forest"
	"github.com/viettran-edgeAI/mcu-rf/pkg/nodepredictor"
	"github.com/viettran-edgeAI/mcu-rf/pkg/scoring"
	"github.com/viettran-edgeAI/mcu-rf/pkg/tree"
)

// separableDataset returns an n-sample, 2-feature dataset where feature 0
// equals the label exactly and feature 1 is pure noise, Q=1 (2 bins per
// feature), sized for bootstrap/OOB coverage.
func separableDataset(n int) (labels []uint8, features [][]uint32) {
	labels = make([]uint8, n)
	features = make([][]uint32, n)
	for i := 0; i < n; i++ {
		l := uint8(i % 2)
		labels[i] = l
		features[i] = []uint32{uint32(l), uint32(i % 3 % 2)}
	}
	return
}

func trainSeparable(t *testing.T, n int, cfg forest.TrainConfig) (*forest.Forest, []uint8, [][]uint32, float64) {
	t.Helper()
	labels, features := separableDataset(n)
	res := forest.Resources{NumFeatures: 2, NumLabels: 2, Groups: 2}
	getFeature := func(sample, feature int) uint32 { return features[sample][feature] }
	getLabel := func(sample int) uint8 { return labels[sample] }

	var f forest.Forest
	score, err := f.Train(n, res, getFeature, getLabel, cfg, nodepredictor.New())
	require.NoError(t, err)
	return &f, labels, features, score
}

// Invariant 8 — OOB scoring only votes with trees whose bootstrap bag
// excluded the sample, and on a perfectly separable dataset that score
// should be high.
func TestOOBScoringOnSeparableData(t *testing.T) {
	t.Parallel()
	_, _, _, score := trainSeparable(t, 60, forest.TrainConfig{
		NumTrees: 15, UseBootstrap: true, BootstrapRatio: 0.8,
		MinSplit: 2, MinLeaf: 1, MaxDepth: 3,
		Criterion: tree.Gini, Seed: 42,
		ScoreMode: forest.ScoreOOB, MetricMask: scoring.Accuracy,
	})
	require.Greater(t, score, 0.8)
}

func TestValidSplitScoring(t *testing.T) {
	t.Parallel()
	f, labels, features, score := trainSeparable(t, 60, forest.TrainConfig{
		NumTrees: 10, UseBootstrap: true, BootstrapRatio: 0.8,
		MinSplit: 2, MinLeaf: 1, MaxDepth: 3,
		Criterion: tree.Gini, Seed: 7,
		ScoreMode: forest.ScoreValid, ValidRatio: 0.2, MetricMask: scoring.Accuracy,
	})
	require.Greater(t, score, 0.7)
	require.NotEmpty(t, f.Trees)

	// Every sample should be classifiable via the trained trees' majority
	// vote, matching its own label on this perfectly separable dataset.
	for i := range labels {
		got := f.Predict(func(feature int) uint32 { return features[i][feature] })
		require.Equal(t, labels[i], got)
	}
}

func TestKFoldScoring(t *testing.T) {
	t.Parallel()
	labels, features := separableDataset(60)
	res := forest.Resources{NumFeatures: 2, NumLabels: 2, Groups: 2}
	var f forest.Forest
	score, err := f.Train(60, res,
		func(sample, feature int) uint32 { return features[sample][feature] },
		func(sample int) uint8 { return labels[sample] },
		forest.TrainConfig{
			NumTrees: 5, UseBootstrap: false,
			MinSplit: 2, MinLeaf: 1, MaxDepth: 3,
			Criterion: tree.Gini, Seed: 3,
			ScoreMode: forest.ScoreKFold, KFolds: 5, MetricMask: scoring.Accuracy,
		}, nodepredictor.New())
	require.NoError(t, err)
	require.Greater(t, score, 0.8)
	// KFold's production trees are trained on the full dataset.
	require.Len(t, f.Trees, 5)
}

// singleLeafTree builds a degenerate one-node compact tree that always
// predicts `label`, regardless of features — used to construct exact vote
// tallies without depending on the split search.
func singleLeafTree(t *testing.T, label uint8) *tree.CompactTree {
	t.Helper()
	cfg := tree.BuildConfig{NumFeatures: 1, Groups: 2, NumLabels: 2, MinSplit: 2}
	bt := tree.Build(cfg, []uint32{0},
		func(sample, feature int) uint32 { return 0 },
		func(sample int) uint8 { return label },
		1)
	require.Equal(t, 1, bt.NodeCount())
	return tree.ConvertToCompact(bt, cfg)
}

// S5 — majority-vote ties break to the lowest label id.
func TestS5MajorityVoteTieBreaksToLowestLabel(t *testing.T) {
	t.Parallel()
	f := &forest.Forest{
		Resources: forest.Resources{NumFeatures: 1, NumLabels: 2, Groups: 2},
		Trees:     []*tree.CompactTree{singleLeafTree(t, 1), singleLeafTree(t, 0)},
		IsUnified: true,
	}
	got := f.Predict(func(feature int) uint32 { return 0 })
	require.Equal(t, uint8(0), got)
}

func TestPredictSentinelWhenNoTrees(t *testing.T) {
	t.Parallel()
	f := &forest.Forest{Resources: forest.Resources{NumFeatures: 1, NumLabels: 2, Groups: 2}}
	got := f.Predict(func(feature int) uint32 { return 0 })
	require.Equal(t, uint8(forest.ErrorLabel), got)
}

// Invariant 7 (forest half) — round-tripping a unified FRC3 file preserves
// every tree's predictions.
func TestFRC3UnifiedRoundTrip(t *testing.T) {
	t.Parallel()
	f, labels, features, _ := trainSeparable(t, 40, forest.TrainConfig{
		NumTrees: 6, UseBootstrap: true, BootstrapRatio: 0.7,
		MinSplit: 2, MinLeaf: 1, MaxDepth: 3,
		Criterion: tree.Gini, Seed: 11,
		ScoreMode: forest.ScoreOOB, MetricMask: scoring.Accuracy,
	})

	path := filepath.Join(t.TempDir(), "model.frc3")
	require.NoError(t, f.Save(path))

	got, err := forest.Load(path)
	require.NoError(t, err)
	require.Len(t, got.Trees, len(f.Trees))
	require.Equal(t, f.Resources, got.Resources)

	for i := range labels {
		want := f.Predict(func(feature int) uint32 { return features[i][feature] })
		gotPred := got.Predict(func(feature int) uint32 { return features[i][feature] })
		require.Equal(t, want, gotPred, "sample %d", i)
	}
}

// Invariant 9 — per-tree (non-unified) storage round-trips identically to
// the unified format.
func TestFRC3PerTreeRoundTrip(t *testing.T) {
	t.Parallel()
	f, labels, features, _ := trainSeparable(t, 40, forest.TrainConfig{
		NumTrees: 4, UseBootstrap: true, BootstrapRatio: 0.7,
		MinSplit: 2, MinLeaf: 1, MaxDepth: 3,
		Criterion: tree.Gini, Seed: 5,
		ScoreMode: forest.ScoreOOB, MetricMask: scoring.Accuracy,
	})
	f.IsUnified = false

	path := filepath.Join(t.TempDir(), "model.frc3")
	require.NoError(t, f.Save(path))

	got, err := forest.Load(path)
	require.NoError(t, err)
	require.False(t, got.IsUnified)
	require.Len(t, got.Trees, len(f.Trees))

	for i := range labels {
		want := f.Predict(func(feature int) uint32 { return features[i][feature] })
		gotPred := got.Predict(func(feature int) uint32 { return features[i][feature] })
		require.Equal(t, want, gotPred, "sample %d", i)
	}
}

func TestBadMagicRejected(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.frc3")
	require.NoError(t, os.WriteFile(path, []byte("NOPE"), 0o644))
	_, err := forest.Load(path)
	require.Error(t, err)
}

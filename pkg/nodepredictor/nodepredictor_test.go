// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package nodepredictor_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viettran-edgeAI/mcu-rf/pkg/nodepredictor"
)

// Invariant 10 — estimate_nodes never returns 0 and never exceeds
// RF_MAX_NODES, across a spread of untrained-heuristic inputs.
func TestEstimateNodesSafety(t *testing.T) {
	t.Parallel()
	p := nodepredictor.New()
	shapes := []nodepredictor.DatasetShape{
		{NumSamples: 10, NumFeatures: 2, NumLabels: 2},
		{NumSamples: 100000, NumFeatures: 500, NumLabels: 200},
		{NumSamples: 0, NumFeatures: 0, NumLabels: 0},
	}
	for _, shape := range shapes {
		for minSplit := uint8(0); minSplit <= 5; minSplit++ {
			for minLeaf := uint8(1); minLeaf <= 5; minLeaf++ {
				got := p.EstimateNodes(minSplit, minLeaf, 10, shape)
				require.Greater(t, got, 0)
				require.LessOrEqual(t, got, nodepredictor.RFMaxNodes)
			}
		}
	}
}

func TestRetrainRequiresThreeRows(t *testing.T) {
	t.Parallel()
	p := nodepredictor.New()
	p.Log = []nodepredictor.LogRow{
		{MinSplit: 2, MinLeaf: 1, MaxDepth: 5, TotalNodes: 50},
		{MinSplit: 4, MinLeaf: 1, MaxDepth: 5, TotalNodes: 30},
	}
	require.Error(t, p.Retrain())

	p.Log = append(p.Log, nodepredictor.LogRow{MinSplit: 6, MinLeaf: 1, MaxDepth: 5, TotalNodes: 20})
	require.NoError(t, p.Retrain())
	require.True(t, p.Trained)
	require.LessOrEqual(t, p.AccuracyPercent, 100.0)
	require.GreaterOrEqual(t, p.AccuracyPercent, 0.0)
}

func TestRetrainedEstimateUsesTrainedCoefficients(t *testing.T) {
	t.Parallel()
	p := nodepredictor.New()
	p.Log = []nodepredictor.LogRow{
		{MinSplit: 2, MinLeaf: 1, MaxDepth: 5, TotalNodes: 100},
		{MinSplit: 4, MinLeaf: 1, MaxDepth: 5, TotalNodes: 60},
		{MinSplit: 6, MinLeaf: 1, MaxDepth: 5, TotalNodes: 20},
	}
	require.NoError(t, p.Retrain())

	shape := nodepredictor.DatasetShape{NumSamples: 100, NumFeatures: 5, NumLabels: 2}
	got := p.EstimateNodes(4, 1, 5, shape)
	require.Greater(t, got, 0)
}

func TestNPDRoundTrip(t *testing.T) {
	t.Parallel()
	p := nodepredictor.New()
	p.Log = []nodepredictor.LogRow{
		{MinSplit: 2, MinLeaf: 1, MaxDepth: 5, TotalNodes: 100},
		{MinSplit: 4, MinLeaf: 1, MaxDepth: 5, TotalNodes: 60},
		{MinSplit: 6, MinLeaf: 1, MaxDepth: 5, TotalNodes: 20},
	}
	require.NoError(t, p.Retrain())

	path := filepath.Join(t.TempDir(), "model.npd")
	require.NoError(t, p.Save(path))
	got, err := nodepredictor.Load(path)
	require.NoError(t, err)
	require.True(t, got.Trained)
	require.InDelta(t, p.Bias, got.Bias, 1e-3)
	require.InDelta(t, p.CSplit, got.CSplit, 1e-3)

	dump, err := p.DebugDump()
	require.NoError(t, err)
	require.NotEmpty(t, dump)
}

func TestNPDBadMagicRejected(t *testing.T) {
	t.Parallel()
	_, err := nodepredictor.ReadFrom(bytes.NewReader([]byte{0, 0, 0, 0}))
	require.Error(t, err)
}

func TestLogRotationCapsAt50Rows(t *testing.T) {
	t.Parallel()
	p := nodepredictor.New()
	for i := 0; i < 60; i++ {
		p.Observe(2, 1, 5, uint32(i))
	}
	p.FlushPending()
	require.LessOrEqual(t, len(p.Log), 50)
}

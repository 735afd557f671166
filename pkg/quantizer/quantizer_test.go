// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package quantizer_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viettran-edgeAI/mcu-rf/pkg/packedvector"
	"github.com/viettran-edgeAI/mcu-rf/pkg/quantizer"
)

func cuFeature(min, max float32, edgesReal []float64) *quantizer.Feature {
	scale := uint64(65535.0 / float64(max-min))
	if scale == 0 {
		scale = 1
	}
	baseline := int64(float64(min) * float64(scale))
	edges := make([]uint16, len(edgesReal))
	for i, e := range edgesReal {
		edges[i] = uint16(int64(e*float64(scale)) - baseline)
	}
	return &quantizer.Feature{
		Type:           2, // FTCustomUniform
		Min:            min,
		Max:            max,
		BaselineScaled: baseline,
		Scale:          scale,
		EdgesScaled:    edges,
	}
}

// S3 — Drift + remap: 1 FT_CU feature, range [0,10], Q=2 (4 bins at edges
// 2.5,5,7.5). After widening with samples {12, -1}, every old bin maps to
// itself (bins only widened).
func TestS3DriftAndRemap(t *testing.T) {
	t.Parallel()
	q := quantizer.New(1, 2)
	q.Features[0] = cuFeature(0, 10, []float64{2.5, 5, 7.5})

	filter := quantizer.NewRemapFilter(1, q.GroupsPerFeature)
	changed := q.ApplyConceptDriftUpdate([]quantizer.DriftSample{
		{Feature: 0, Value: 12},
		{Feature: 0, Value: -1},
	}, filter)
	require.True(t, changed)

	require.InDelta(t, float32(-1), q.Features[0].Min, 1e-3)
	require.InDelta(t, float32(12), q.Features[0].Max, 1e-3)

	for b := uint32(0); b < q.GroupsPerFeature; b++ {
		require.Equal(t, b, filter.Map(0, b), "bin %d should map to itself after pure widening", b)
	}
}

func TestQuantizeFeaturesClampsAndReportsDrift(t *testing.T) {
	t.Parallel()
	q := quantizer.New(2, 2) // Q=2 -> 4 bins
	q.Features[0] = &quantizer.Feature{Type: 0, Min: 0, Max: 3}
	q.Features[1] = &quantizer.Feature{Type: 0, Min: 0, Max: 3}

	res := q.QuantizeFeatures([]float32{1, 10})
	require.True(t, res.Drift.OK)
	require.Equal(t, 1, res.Drift.Val.Feature)
	require.Equal(t, uint32(1), res.Bins[0])
	require.Equal(t, uint32(3), res.Bins[1]) // clamped into range
}

func TestCustomUniformDriftCodes(t *testing.T) {
	t.Parallel()
	q := quantizer.New(1, 2) // Q=2 -> 4 bins over [0,10], bin width 2.5
	q.Features[0] = cuFeature(0, 10, []float64{2.5, 5, 7.5})

	// In-range values land in their bins without drift.
	bin, drift := q.QuantizeValue(0, 6)
	require.False(t, drift)
	require.Equal(t, int32(2), bin)

	// Overflow: 12 lies within the first bin-width past max, so the code is groups-1+1.
	bin, drift = q.QuantizeValue(0, 12)
	require.True(t, drift)
	require.Equal(t, int32(4), bin)

	// Underflow: -1 is within one bin-width below min.
	bin, drift = q.QuantizeValue(0, -1)
	require.True(t, drift)
	require.Equal(t, int32(-1), bin)

	// QuantizeFeatures clamps the stored bin but reports the drift.
	res := q.QuantizeFeatures([]float32{12})
	require.True(t, res.Drift.OK)
	require.Equal(t, 0, res.Drift.Val.Feature)
	require.Equal(t, float32(12), res.Drift.Val.Value)
	require.Equal(t, uint32(3), res.Bins[0])
}

func TestQuantizeFeaturesPackedMatchesBins(t *testing.T) {
	t.Parallel()
	q := quantizer.New(2, 2)
	q.Features[0] = &quantizer.Feature{Type: 0, Min: 0, Max: 3}
	q.Features[1] = &quantizer.Feature{Type: 0, Min: 0, Max: 3}

	out := packedvector.New(2)
	res := q.QuantizeFeaturesPacked([]float32{2, 3}, out)
	require.Equal(t, 2, out.Len())
	for i, b := range res.Bins {
		require.Equal(t, b, out.Get(i))
	}
}

func TestQuantizeDeterministic(t *testing.T) {
	t.Parallel()
	q := quantizer.New(1, 3)
	q.Features[0] = &quantizer.Feature{Type: 0, Min: 0, Max: 7}
	a := q.QuantizeFeatures([]float32{4})
	b := q.QuantizeFeatures([]float32{4})
	require.Equal(t, a, b)
}

func TestDiscreteExactMatch(t *testing.T) {
	t.Parallel()
	q := quantizer.New(1, 2)
	q.Features[0] = &quantizer.Feature{Type: 1, DiscreteValues: []float32{1.5, 2.5, 9.9}}
	bin, drift := q.QuantizeValue(0, 2.5)
	require.False(t, drift)
	require.Equal(t, int32(1), bin)

	_, drift = q.QuantizeValue(0, 42)
	require.True(t, drift)
}

func TestQTZ4RoundTrip(t *testing.T) {
	t.Parallel()
	q := quantizer.New(2, 3)
	q.NumLabels = 2
	q.LabelNames = []string{"cat", "dog"}
	q.Features[0] = &quantizer.Feature{Type: 0, Min: 0, Max: 7}
	q.Features[1] = cuFeature(0, 10, []float64{2.5, 5, 7.5})

	var buf bytes.Buffer
	require.NoError(t, q.WriteTo(&buf))

	got, err := quantizer.ReadFrom(&buf)
	require.NoError(t, err)
	require.Equal(t, q.NumLabels, got.NumLabels)
	require.Equal(t, q.LabelNames, got.LabelNames)
	require.Equal(t, q.GroupsPerFeature, got.GroupsPerFeature)
	require.Equal(t, q.Features[0].Min, got.Features[0].Min)
	require.Equal(t, q.Features[1].EdgesScaled, got.Features[1].EdgesScaled)
}

func TestQTZ4BadMagicRejected(t *testing.T) {
	t.Parallel()
	_, err := quantizer.ReadFrom(bytes.NewReader([]byte("XXXX")))
	require.Error(t, err)
}

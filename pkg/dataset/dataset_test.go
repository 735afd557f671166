// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package dataset_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viettran-edgeAI/mcu-rf/pkg/dataset"
	"github.com/viettran-edgeAI/mcu-rf/pkg/quantizer"
)

func writeRawDataset(t *testing.T, path string, q uint8, numFeatures int, samples []dataset.Sample) {
	t.Helper()
	d, err := dataset.New(path, q, numFeatures, 2, dataset.SmallChunkBytes)
	require.NoError(t, err)
	d.Size = 0
	require.NoError(t, d.Release(false)) // writes empty header
	_, err = d.Add(samples, 0)
	require.NoError(t, err)
}

// Invariant 2 — Dataset round-trip: every sample written via Add reads back
// identically across save->release->load.
func TestDatasetRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "ds.bin")

	samples := []dataset.Sample{
		{Label: 0, Features: []uint32{0, 1}},
		{Label: 1, Features: []uint32{1, 0}},
		{Label: 0, Features: []uint32{1, 1}},
	}
	writeRawDataset(t, path, 1, 2, samples)

	d, err := dataset.New(path, 1, 2, 2, dataset.SmallChunkBytes)
	require.NoError(t, err)
	require.NoError(t, d.Load())
	require.Equal(t, 3, d.Size)
	for i, s := range samples {
		require.Equal(t, s.Label, d.GetLabel(i))
		for f, v := range s.Features {
			require.Equal(t, v, d.GetFeature(i, f))
		}
	}

	require.NoError(t, d.Release(false))
	d2, err := dataset.New(path, 1, 2, 2, dataset.SmallChunkBytes)
	require.NoError(t, err)
	require.NoError(t, d2.Load())
	for i, s := range samples {
		require.Equal(t, s.Label, d2.GetLabel(i))
		for f, v := range s.Features {
			require.Equal(t, v, d2.GetFeature(i, f))
		}
	}
}

// S4 — FIFO cap: dataset with 10 samples, max_samples=8, add one new sample.
// Expected: removed_labels = first 3 labels; final size = 8; sample
// previously at index 3 is now at index 0.
func TestS4FIFOCap(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "ds.bin")

	initial := make([]dataset.Sample, 10)
	for i := range initial {
		initial[i] = dataset.Sample{Label: uint8(i % 2), Features: []uint32{uint32(i % 2)}}
	}
	writeRawDataset(t, path, 1, 1, initial)

	d, err := dataset.New(path, 1, 1, 2, dataset.SmallChunkBytes)
	require.NoError(t, err)
	require.NoError(t, d.Load())
	require.Equal(t, 10, d.Size)
	require.NoError(t, d.Release(false))

	removed, err := d.Add([]dataset.Sample{{Label: 9, Features: []uint32{1}}}, 8)
	require.NoError(t, err)
	require.Equal(t, []uint8{initial[0].Label, initial[1].Label, initial[2].Label}, removed)
	require.Equal(t, 8, d.Size)

	require.NoError(t, d.Load())
	require.Equal(t, initial[3].Label, d.GetLabel(0))
}

func TestConvertFromCSVRemovesSourceAndWritesHeader(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "in.csv")
	outPath := filepath.Join(dir, "out.bin")

	require.NoError(t, os.WriteFile(csvPath, []byte("0,1,2\n1,3,0\n"), 0o644))
	require.NoError(t, dataset.ConvertFromCSV(csvPath, outPath, 2, 2))

	_, statErr := os.Stat(csvPath)
	require.True(t, os.IsNotExist(statErr))

	d, err := dataset.New(outPath, 2, 2, 2, dataset.SmallChunkBytes)
	require.NoError(t, err)
	require.NoError(t, d.Load())
	require.Equal(t, 2, d.Size)
	require.Equal(t, uint8(0), d.GetLabel(0))
	require.Equal(t, uint32(1), d.GetFeature(0, 0))
	require.Equal(t, uint32(2), d.GetFeature(0, 1))
}

func TestLoadRejectsFeatureCountMismatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "ds.bin")
	writeRawDataset(t, path, 1, 2, []dataset.Sample{{Label: 0, Features: []uint32{0, 1}}})

	d, err := dataset.New(path, 1, 3, 2, dataset.SmallChunkBytes)
	require.NoError(t, err)
	require.Error(t, d.Load())
}

// Bin histograms + FIFO shrink: with bins 0 and 3 empty on a CU feature, the
// shrink remaps stored bins down by one and records a pending filter until
// the next write-back.
func TestShrinkBinsRemapsLoadedSamples(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "ds.bin")

	samples := []dataset.Sample{
		{Label: 0, Features: []uint32{1}},
		{Label: 1, Features: []uint32{2}},
		{Label: 0, Features: []uint32{1}},
	}
	writeRawDataset(t, path, 2, 1, samples)

	d, err := dataset.New(path, 2, 1, 2, dataset.SmallChunkBytes)
	require.NoError(t, err)
	require.NoError(t, d.Load())

	hist := d.BinHistograms()
	require.Len(t, hist, 1)
	require.Equal(t, []uint32{0, 2, 1, 0}, hist[0].Counts)

	q := quantizer.New(1, 2)
	scaleF := 65535.0 / 10
	scale := uint64(scaleF)
	q.Features[0] = &quantizer.Feature{
		Type:        quantizer.FTCustomUniform,
		Min:         0, Max: 10,
		Scale:       scale,
		EdgesScaled: []uint16{uint16(2.5 * float64(scale)), uint16(5 * float64(scale)), uint16(7.5 * float64(scale))},
	}
	require.True(t, d.ShrinkBins(q, 2))
	require.NotNil(t, d.PendingFilter)

	require.Equal(t, uint32(0), d.GetFeature(0, 0))
	require.Equal(t, uint32(1), d.GetFeature(1, 0))
	require.Equal(t, uint32(0), d.GetFeature(2, 0))

	// Write-back syncs the disk copy, so the pending filter is dropped.
	require.NoError(t, d.Release(false))
	require.Nil(t, d.PendingFilter)
}

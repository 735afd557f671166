// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dataset implements the chunked, bit-packed on-disk/in-RAM sample
// store: (label, quantized-feature-vector) records that stream from flash
// into RAM a chunk at a time and support in-place bin remapping when a
// quantizer's boundaries shift.
//
// Chunk location is pure integer math; eviction is FIFO; disk I/O is
// batched so a load never needs more than one read buffer live at a time.
package dataset

import (
	"fmt"

	"github.com/viettran-edgeAI/mcu-rf/pkg/packedvector"
	"github.com/viettran-edgeAI/mcu-rf/pkg/quantizer"
)

// Absolute size caps for on-device storage.
const (
	MaxSamples  = 1 << 20 // RF_MAX_SAMPLES
	MaxFeatures = 1023    // RF_MAX_FEATURES
	MaxLabels   = 255     // RF_MAX_LABELS
)

// Default chunk byte budgets for small and large RAM targets.
const (
	SmallChunkBytes = 8 * 1024
	LargeChunkBytes = 32 * 1024
)

// Sample is one (label, feature-vector) training record.
type Sample struct {
	Label    uint8
	Features []uint32 // len == NumFeatures, each in [0, 2^Q)
}

// Dataset is the chunked bit-packed sample store.
type Dataset struct {
	FilePath string

	NumFeatures int
	Q           uint8 // bits per feature value
	NumLabels   int
	LabelBits   uint8

	ChunkByteLimit int
	SamplesPerChunk int

	Size int // logical sample count

	chunks []*packedvector.PackedVector // each holds up to SamplesPerChunk*NumFeatures values
	labels *packedvector.PackedVector   // LabelBits per value

	PendingFilter *quantizer.RemapFilter
}

// labelBitsFor returns the smallest power-of-two-derived bit width covering
// numLabels distinct label ids.
func labelBitsFor(numLabels int) uint8 {
	switch {
	case numLabels <= 2:
		return 1
	case numLabels <= 4:
		return 2
	case numLabels <= 16:
		return 4
	case numLabels <= 256:
		return 8
	default:
		return 16
	}
}

// New initializes a Dataset descriptor (no I/O yet). chunkByteLimit should
// be SmallChunkBytes or LargeChunkBytes depending on target RAM.
func New(path string, q uint8, numFeatures, numLabels, chunkByteLimit int) (*Dataset, error) {
	if numFeatures <= 0 || numFeatures > MaxFeatures {
		return nil, fmt.Errorf("dataset: invalid feature count %d", numFeatures)
	}
	if numLabels <= 0 || numLabels > MaxLabels {
		return nil, fmt.Errorf("dataset: invalid label count %d", numLabels)
	}
	if q == 0 || q > 8 {
		return nil, fmt.Errorf("dataset: invalid quantization coefficient %d", q)
	}
	if chunkByteLimit <= 0 {
		chunkByteLimit = SmallChunkBytes
	}

	bitsPerSample := numFeatures * int(q)
	samplesPerChunk := (chunkByteLimit * 8) / bitsPerSample
	if samplesPerChunk < 1 {
		samplesPerChunk = 1
	}

	return &Dataset{
		FilePath:        path,
		NumFeatures:     numFeatures,
		Q:               q,
		NumLabels:       numLabels,
		LabelBits:       labelBitsFor(numLabels),
		ChunkByteLimit:  chunkByteLimit,
		SamplesPerChunk: samplesPerChunk,
	}, nil
}

// chunkOf returns (chunkIndex, offsetWithinChunk) for sample index i.
func (d *Dataset) chunkOf(i int) (chunk, offset int) {
	return i / d.SamplesPerChunk, i % d.SamplesPerChunk
}

// GetFeature returns the stored bin for (sample, feature), O(1).
func (d *Dataset) GetFeature(sample, feature int) uint32 {
	c, off := d.chunkOf(sample)
	idx := off*d.NumFeatures + feature
	return d.chunks[c].GetUnsafe(idx)
}

// GetLabel returns the stored label for sample, O(1).
func (d *Dataset) GetLabel(sample int) uint8 {
	return uint8(d.labels.GetUnsafe(sample))
}

// BinHistograms tallies, per feature, how many stored samples currently
// occupy each bin — the input the quantizer's FIFO shrink uses to find
// empty leading/trailing bins.
func (d *Dataset) BinHistograms() []quantizer.BinHistogram {
	groups := uint32(1) << d.Q
	out := make([]quantizer.BinHistogram, d.NumFeatures)
	for f := range out {
		out[f] = quantizer.BinHistogram{Feature: f, Counts: make([]uint32, groups)}
	}
	for s := 0; s < d.Size; s++ {
		c, off := d.chunkOf(s)
		for f := 0; f < d.NumFeatures; f++ {
			v := d.chunks[c].GetUnsafe(off*d.NumFeatures + f)
			if v < groups {
				out[f].Counts[v]++
			}
		}
	}
	return out
}

// ShrinkBins runs the quantizer's FIFO bin shrink against the loaded
// samples. On a shrink, the remap is written into the loaded chunks
// immediately and kept as PendingFilter so a load that bypassed write-back
// still sees remapped bins; writeBack clears it once the disk copy matches.
func (d *Dataset) ShrinkBins(q *quantizer.Quantizer, maxShrink int) bool {
	filter := quantizer.NewRemapFilter(d.NumFeatures, q.GroupsPerFeature)
	if !q.ApplyFIFOBinShrink(d.BinHistograms(), filter, maxShrink) {
		return false
	}
	d.ApplyUpdateFilterInPlace(filter, q.GroupsPerFeature)
	d.PendingFilter = filter
	return true
}

// ApplyUpdateFilterInPlace rewrites every stored bin v at every feature f to
// filter.Map(f, v), leaving values already out of [0, groupsPerFeature)
// untouched.
func (d *Dataset) ApplyUpdateFilterInPlace(filter *quantizer.RemapFilter, groupsPerFeature uint32) {
	for s := 0; s < d.Size; s++ {
		c, off := d.chunkOf(s)
		for f := 0; f < d.NumFeatures; f++ {
			idx := off*d.NumFeatures + f
			v := d.chunks[c].GetUnsafe(idx)
			if v < groupsPerFeature {
				d.chunks[c].SetUnsafe(idx, filter.Map(f, v))
			}
		}
	}
}

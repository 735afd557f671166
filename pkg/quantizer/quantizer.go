// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package quantizer maps raw feature values to small integer bins, detects
// drift at inference time, and responds to drift/FIFO eviction by widening
// or shrinking bin boundaries and emitting a remap filter that lets the
// dataset store be rewritten without re-quantizing from raw data.
package quantizer

import (
	"fmt"
	"math"

	"github.com/viettran-edgeAI/mcu-rf/lib/containers"
	"github.com/viettran-edgeAI/mcu-rf/pkg/packedvector"
)

// FeatureType selects how a feature's raw value maps to a bin. The numeric
// values match the on-disk QTZ4 encoding.
type FeatureType uint8

const (
	FTDenseFull     FeatureType = 0 // DF: direct clamp to [0, 2^Q-1]
	FTDiscrete      FeatureType = 1 // DC: exact-match float categories
	FTCustomUniform FeatureType = 2 // CU: scaled-integer edge array
)

// DefaultOutlierZThreshold is the z-score beyond which a raw value is
// clamped to mean±z*stdev before quantization.
const DefaultOutlierZThreshold = 3.0

// Feature holds the per-feature quantizer state for one of the F features
// declared by the owning Quantizer.
type Feature struct {
	Type FeatureType
	Min  float32
	Max  float32

	// CU fields.
	BaselineScaled int64
	Scale          uint64 // 0 is read as 1.
	EdgesScaled    []uint16

	// DC fields.
	DiscreteValues []float32

	// Optional outlier-clipping stats.
	HasOutlierStats bool
	Mean, Stdev     float32
}

func (f *Feature) scale() uint64 {
	if f.Scale == 0 {
		return 1
	}
	return f.Scale
}

// Quantizer holds the per-feature state for all F features of one dataset.
type Quantizer struct {
	GroupsPerFeature uint32 // 2^Q
	NumLabels        uint8
	LabelNames       []string // index by label id, len == NumLabels
	Features         []*Feature
}

// New allocates a Quantizer for numFeatures features with Q bits per value.
func New(numFeatures int, q uint8) *Quantizer {
	feats := make([]*Feature, numFeatures)
	for i := range feats {
		feats[i] = &Feature{Type: FTDenseFull}
	}
	return &Quantizer{
		GroupsPerFeature: 1 << q,
		Features:         feats,
	}
}

// clampOutlier clamps the input to mean±z*stdev when outlier stats are
// present and stdev is non-negligible.
func clampOutlier(f *Feature, value float32) float32 {
	if !f.HasOutlierStats || f.Stdev <= 1e-6 {
		return value
	}
	lo := f.Mean - DefaultOutlierZThreshold*f.Stdev
	hi := f.Mean + DefaultOutlierZThreshold*f.Stdev
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// QuantizeValue quantizes a single raw value for feature index fi.
//
// The returned bin is in [0, groupsPerFeature) on success. When drift is
// true, what bin holds depends on the feature type: for CU features it is a
// signed drift code (negative for underflow, >= groupsPerFeature for
// overflow) whose magnitude encodes how many bin-widths beyond the declared
// range the value fell; DF features return the bin clamped into range; DC
// features return -1.
func (q *Quantizer) QuantizeValue(fi int, rawValue float32) (bin int32, drift bool) {
	f := q.Features[fi]
	value := clampOutlier(f, rawValue)

	switch f.Type {
	case FTDenseFull:
		return quantizeDenseFull(f, value, q.GroupsPerFeature)
	case FTCustomUniform:
		return quantizeCustomUniform(f, value, q.GroupsPerFeature)
	case FTDiscrete:
		return quantizeDiscrete(f, value)
	default:
		panic(fmt.Errorf("quantizer: unknown feature type %d", f.Type))
	}
}

func quantizeDenseFull(f *Feature, value float32, groups uint32) (int32, bool) {
	drift := value < f.Min || value > f.Max
	bin := int32(math.Round(float64(value)))
	if bin < 0 {
		bin = 0
	}
	if bin > int32(groups)-1 {
		bin = int32(groups) - 1
	}
	return bin, drift
}

func quantizeCustomUniform(f *Feature, value float32, groups uint32) (int32, bool) {
	under := value < f.Min
	over := value > f.Max

	// Drift codes encode how many real-domain bin-widths beyond the
	// declared range the value fell: -extra for underflow, groups-1+extra
	// for overflow.
	if under || over {
		bw := float64(f.Max-f.Min) / float64(groups)
		if over {
			if bw > 1e-9 {
				extra := int32(math.Floor(float64(value-f.Max)/bw)) + 1
				return int32(groups) - 1 + extra, true
			}
			return int32(groups), true
		}
		if bw > 1e-9 {
			extra := int32(math.Floor(float64(f.Min-value)/bw)) + 1
			return -extra, true
		}
		return -1, true
	}

	scale := f.scale()
	adj := int64(math.Round(float64(value)*float64(scale))) - f.BaselineScaled
	if adj <= 0 {
		return 0, false
	}

	// bin = count of edges strictly less than adj.
	bin := int32(0)
	for _, e := range f.EdgesScaled {
		if adj > int64(e) {
			bin++
		} else {
			break
		}
	}
	return bin, false
}

func quantizeDiscrete(f *Feature, value float32) (int32, bool) {
	const tolerance = 1e-6
	for i, v := range f.DiscreteValues {
		if math.Abs(float64(v-value)) <= tolerance {
			return int32(i), false
		}
	}
	return -1, true
}

// DriftInfo identifies a feature whose raw value fell outside its declared
// range, and the value that did it.
type DriftInfo struct {
	Feature int
	Value   float32
}

// Result carries the output of QuantizeFeatures: the packed bins plus the
// first out-of-range feature encountered, if any.
type Result struct {
	Bins  []uint32
	Drift containers.Optional[DriftInfo]
}

// QuantizeFeatures quantizes every feature of one sample, clamping each bin
// into [0, groupsPerFeature) regardless of drift, and reports the first
// feature whose raw value fell outside its declared range.
func (q *Quantizer) QuantizeFeatures(values []float32) Result {
	res := Result{Bins: make([]uint32, len(values))}
	for fi, v := range values {
		bin, drift := q.QuantizeValue(fi, v)
		clamped := bin
		if clamped < 0 {
			clamped = 0
		}
		if clamped >= int32(q.GroupsPerFeature) {
			clamped = int32(q.GroupsPerFeature) - 1
		}
		res.Bins[fi] = uint32(clamped)
		if drift && !res.Drift.OK {
			res.Drift = containers.Optional[DriftInfo]{OK: true, Val: DriftInfo{Feature: fi, Value: v}}
		}
	}
	return res
}

// QuantizeFeaturesPacked is QuantizeFeatures but also stores the clamped
// bins into out (resized to len(values)), for callers that keep quantized
// samples in packed form end to end.
func (q *Quantizer) QuantizeFeaturesPacked(values []float32, out *packedvector.PackedVector) Result {
	res := q.QuantizeFeatures(values)
	out.Resize(len(values))
	for i, b := range res.Bins {
		out.SetUnsafe(i, b)
	}
	return res
}

// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package quantizer

import "math"

// RemapFilter is a per-feature old_bin -> new_bin table, applied during the
// dataset's next disk->RAM load instead of re-quantizing raw data.
type RemapFilter struct {
	groups   uint32
	perFeat  [][]uint32 // perFeat[f][oldBin] = newBin
	features int
}

// NewRemapFilter allocates an identity filter for numFeatures features with
// groups bins each.
func NewRemapFilter(numFeatures int, groups uint32) *RemapFilter {
	rf := &RemapFilter{groups: groups, features: numFeatures}
	rf.perFeat = make([][]uint32, numFeatures)
	for f := range rf.perFeat {
		rf.perFeat[f] = identityMap(groups)
	}
	return rf
}

func identityMap(groups uint32) []uint32 {
	m := make([]uint32, groups)
	for i := range m {
		m[i] = uint32(i)
	}
	return m
}

// Map returns the new bin for (feature, oldBin); every feature/bin
// combination has a defined mapping.
func (rf *RemapFilter) Map(feature int, oldBin uint32) uint32 {
	if oldBin >= rf.groups {
		oldBin = rf.groups - 1
	}
	return rf.perFeat[feature][oldBin]
}

func (rf *RemapFilter) setMap(feature int, oldBin, newBin uint32) {
	rf.perFeat[feature][oldBin] = newBin
}

// DriftSample is one observed (feature, value) pair used to widen a
// quantizer's declared range.
type DriftSample struct {
	Feature int
	Value   float32
}

// binRangeCU returns the real-domain [lo, hi) range covered by bin b of a
// CU feature given its current min/max/edges, in the convention:
// b=0 -> [min, edge0); b=cnt -> [edge_{cnt-1}, max); else [edge_{b-1}, edge_b).
func binRangeCU(f *Feature, b int) (lo, hi float32) {
	n := len(f.EdgesScaled)
	scale := float64(f.scale())
	edgeReal := func(i int) float32 {
		return float32((float64(f.EdgesScaled[i]) + float64(f.BaselineScaled)) / scale)
	}
	switch {
	case b <= 0:
		return f.Min, edgeAt(edgeReal, n, 0, f.Max)
	case b >= n:
		return edgeAt(edgeReal, n, n-1, f.Min), f.Max
	default:
		return edgeReal(b - 1), edgeReal(b)
	}
}

// binRangeCUWithBounds is binRangeCU but using explicit min/max bounds
// instead of f.Min/f.Max, for recovering a bin's range under the range that
// was in effect before a subsequent widen.
func binRangeCUWithBounds(f *Feature, b int, min, max float32) (lo, hi float32) {
	n := len(f.EdgesScaled)
	scale := float64(f.scale())
	edgeReal := func(i int) float32 {
		return float32((float64(f.EdgesScaled[i]) + float64(f.BaselineScaled)) / scale)
	}
	switch {
	case b <= 0:
		return min, edgeAt(edgeReal, n, 0, max)
	case b >= n:
		return edgeAt(edgeReal, n, n-1, min), max
	default:
		return edgeReal(b - 1), edgeReal(b)
	}
}

func edgeAt(edgeReal func(int) float32, n, i int, fallback float32) float32 {
	if n == 0 {
		return fallback
	}
	return edgeReal(i)
}

// ApplyConceptDriftUpdate widens min/max for every feature touched by
// samples, re-encodes CU edges preserving their fractional position within
// the (possibly now wider) range, and emits the best-overlap bin remap for
// every old bin of every touched CU feature. Non-CU features get an
// identity mapping but still have their min/max widened.
//
// Ties in best-overlap go to the lowest new bin index.
func (q *Quantizer) ApplyConceptDriftUpdate(samples []DriftSample, outFilter *RemapFilter) bool {
	touched := map[int]bool{}
	oldMinMax := make(map[int][2]float32)
	for _, s := range samples {
		f := q.Features[s.Feature]
		if !touched[s.Feature] {
			oldMinMax[s.Feature] = [2]float32{f.Min, f.Max}
		}
		if s.Value < f.Min {
			f.Min = s.Value
		}
		if s.Value > f.Max {
			f.Max = s.Value
		}
		touched[s.Feature] = true
	}
	if len(touched) == 0 {
		return false
	}

	for fi := range touched {
		f := q.Features[fi]
		if f.Type != FTCustomUniform {
			continue // identity mapping already holds; min/max already widened.
		}
		mm := oldMinMax[fi]
		q.remapCUFeature(fi, f, mm[0], mm[1], outFilter)
	}
	return true
}

func (q *Quantizer) remapCUFeature(fi int, f *Feature, oldMin, oldMax float32, outFilter *RemapFilter) {
	n := len(f.EdgesScaled)
	oldRanges := make([][2]float32, int(q.GroupsPerFeature))
	for b := range oldRanges {
		lo, hi := binRangeCUWithBounds(f, b, oldMin, oldMax)
		oldRanges[b] = [2]float32{lo, hi}
	}

	scale := float64(f.scale())
	edgeReal := make([]float64, n)
	for i, e := range f.EdgesScaled {
		edgeReal[i] = (float64(e) + float64(f.BaselineScaled)) / scale
	}

	// Preserve each edge's position as a fraction of the pre-widen
	// [oldMin, oldMax] range.
	spanLo, spanHi := float64(oldMin), float64(oldMax)

	newMin, newMax := float64(f.Min), float64(f.Max)
	newRange := newMax - newMin
	if newRange <= 0 {
		newRange = 1
	}

	newScale := uint64(65535.0 / newRange)
	if newScale == 0 {
		newScale = 1
	}
	newBaseline := int64(math.Round(newMin * float64(newScale)))

	newEdges := make([]uint16, n)
	for i := range edgeReal {
		var frac float64
		if spanHi > spanLo {
			frac = (edgeReal[i] - spanLo) / (spanHi - spanLo)
		}
		newReal := newMin + frac*(newMax-newMin)
		scaled := int64(math.Round(newReal*float64(newScale))) - newBaseline
		if scaled < 0 {
			scaled = 0
		}
		if scaled > 0xFFFF {
			scaled = 0xFFFF
		}
		newEdges[i] = uint16(scaled)
	}

	f.Scale = newScale
	f.BaselineScaled = newBaseline
	f.EdgesScaled = newEdges

	for b := range oldRanges {
		bestBin := 0
		bestOverlap := float32(-1)
		for nb := 0; nb < int(q.GroupsPerFeature); nb++ {
			lo, hi := binRangeCU(f, nb)
			overlap := overlapLen(oldRanges[b][0], oldRanges[b][1], lo, hi)
			if overlap > bestOverlap {
				bestOverlap = overlap
				bestBin = nb
			}
		}
		outFilter.setMap(fi, uint32(b), uint32(bestBin))
	}
}

func overlapLen(aLo, aHi, bLo, bHi float32) float32 {
	lo := aLo
	if bLo > lo {
		lo = bLo
	}
	hi := aHi
	if bHi < hi {
		hi = bHi
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// BinHistogram is a per-feature count of how many stored samples currently
// occupy each bin, used to detect empty leading/trailing bins for FIFO
// shrink.
type BinHistogram struct {
	Feature int
	Counts  []uint32 // len == groupsPerFeature
}

// ApplyFIFOBinShrink detects empty leading (<=maxShrink) and/or trailing
// bins in each CU feature's histogram and, if any are found, tightens the
// feature's range to the first/last non-empty edge, re-encodes the
// remaining edges, and writes a remap that shifts bins down by the shrunk
// leading count and clamps at the new top bin.
func (q *Quantizer) ApplyFIFOBinShrink(histograms []BinHistogram, outFilter *RemapFilter, maxShrink int) bool {
	shrunkAny := false
	for _, h := range histograms {
		f := q.Features[h.Feature]
		if f.Type != FTCustomUniform {
			continue
		}
		groups := int(q.GroupsPerFeature)
		lowEmpty := 0
		for lowEmpty < maxShrink && lowEmpty < groups && h.Counts[lowEmpty] == 0 {
			lowEmpty++
		}
		highEmpty := 0
		for highEmpty < maxShrink && highEmpty < groups-lowEmpty && h.Counts[groups-1-highEmpty] == 0 {
			highEmpty++
		}
		if lowEmpty+highEmpty == 0 || lowEmpty+highEmpty >= groups {
			continue
		}
		q.shrinkCUFeature(h.Feature, f, lowEmpty, highEmpty, outFilter)
		shrunkAny = true
	}
	return shrunkAny
}

func (q *Quantizer) shrinkCUFeature(fi int, f *Feature, low, high int, outFilter *RemapFilter) {
	n := len(f.EdgesScaled)
	groups := int(q.GroupsPerFeature)

	// The new min is the lower edge of the first kept bin; the new max is
	// the upper edge of the last kept bin.
	newMin, _ := binRangeCU(f, low)
	_, newMax := binRangeCU(f, groups-1-high)

	// Keep only the edges strictly interior to [low, n-high).
	var kept []uint16
	scale := float64(f.scale())
	for i := low; i < n-high; i++ {
		kept = append(kept, f.EdgesScaled[i])
	}

	newRange := float64(newMax - newMin)
	if newRange <= 0 {
		newRange = 1
	}
	newScale := uint64(65535.0 / newRange)
	if newScale == 0 {
		newScale = 1
	}
	newBaseline := int64(math.Round(float64(newMin) * float64(newScale)))

	reencoded := make([]uint16, len(kept))
	for i, e := range kept {
		real := (float64(e) + float64(f.BaselineScaled)) / scale
		scaled := int64(math.Round(real*float64(newScale))) - newBaseline
		if scaled < 0 {
			scaled = 0
		}
		if scaled > 0xFFFF {
			scaled = 0xFFFF
		}
		reencoded[i] = uint16(scaled)
	}

	f.Min = newMin
	f.Max = newMax
	f.Scale = newScale
	f.BaselineScaled = newBaseline
	f.EdgesScaled = reencoded

	topBin := uint32(groups - 1 - high)
	for b := 0; b < groups; b++ {
		shifted := b - low
		if shifted < 0 {
			shifted = 0
		}
		if uint32(shifted) > topBin {
			shifted = int(topBin)
		}
		outFilter.setMap(fi, uint32(b), uint32(shifted))
	}
}

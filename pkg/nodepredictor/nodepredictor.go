// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package nodepredictor sizes the BuildingNode storage a tree build will
// need, before the build starts, so the breadth-first builder never
// reallocates mid-build or aborts out of memory. It learns a 4-term linear
// model from a rolling CSV log of (min_split, min_leaf, max_depth) ->
// observed node count, with a dataset-drift fallback to a manual heuristic.
package nodepredictor

import (
	"fmt"
	"math"

	"github.com/viettran-edgeAI/mcu-rf/lib/containers"
	"github.com/viettran-edgeAI/mcu-rf/pkg/rfrand"
)

// RFMaxNodes is the absolute cap on estimated (and actual) tree node count.
const RFMaxNodes = 1 << 18

// LogRow is one row of the rolling (min_split,min_leaf,max_depth,
// total_nodes) CSV log.
type LogRow struct {
	MinSplit   uint8
	MinLeaf    uint8
	MaxDepth   uint16
	TotalNodes uint32
}

// maxLogRows caps the persisted CSV log.
const maxLogRows = 50

// ramBufferRows caps the in-RAM buffer of unflushed observations before they're prepended into the persisted log.
const ramBufferRows = 12

// DatasetShape supplies the fields the untrained heuristic needs.
type DatasetShape struct {
	NumSamples  int
	NumFeatures int
	NumLabels   int
}

// Predictor is the 4-term linear node-count model plus its training log.
type Predictor struct {
	Trained bool

	Bias    float64
	CSplit  float64
	CLeaf   float64
	CDepth  float64 // reserved; always 0, matches the 4-coefficient file schema.

	AccuracyPercent    float64
	PeakPercent        uint8
	TrainedSampleCount int

	// Log is the persisted rows, newest-first, capped at maxLogRows.
	Log []LogRow
	// pending holds observations not yet folded into Log (flushed on the
	// next Retrain or FlushPending).
	pending []LogRow

	driftWarned     bool
	adjustmentNoted bool

	cache *containers.LRUCache[uint64, int]
}

// New constructs an untrained predictor.
func New() *Predictor {
	return &Predictor{
		PeakPercent: 30,
		cache:       containers.NewLRUCache[uint64, int](64),
	}
}

// Observe records one completed build's (params -> actual node count) into
// the in-RAM buffer, flushing into the persisted log once the buffer fills.
func (p *Predictor) Observe(minSplit, minLeaf uint8, maxDepth uint16, totalNodes uint32) {
	p.pending = append(p.pending, LogRow{MinSplit: minSplit, MinLeaf: minLeaf, MaxDepth: maxDepth, TotalNodes: totalNodes})
	if len(p.pending) >= ramBufferRows {
		p.FlushPending()
	}
}

// FlushPending prepends all pending observations onto Log (newest-first)
// and truncates to maxLogRows.
func (p *Predictor) FlushPending() {
	if len(p.pending) == 0 {
		return
	}
	// Newest-first: reverse pending (oldest observed first, appended in
	// observation order) then prepend.
	rows := make([]LogRow, len(p.pending))
	for i, r := range p.pending {
		rows[len(p.pending)-1-i] = r
	}
	p.Log = append(rows, p.Log...)
	if len(p.Log) > maxLogRows {
		p.Log = p.Log[:maxLogRows]
	}
	p.pending = nil
}

// manualEstimate is the untrained-model heuristic used whenever no
// predictor has been trained/loaded yet.
func manualEstimate(minSplit, minLeaf uint8, maxDepth uint16, shape DatasetShape) float64 {
	if minSplit == 0 {
		return 100
	}
	leafAdj := 60.0 / math.Max(1, float64(minLeaf))
	depthF := math.Min(250, float64(maxDepth)) / 50

	sampleF := 1.0
	if shape.NumSamples > 100 {
		sampleF = clamp(1+0.5*math.Log2(float64(shape.NumSamples)/100), 1, 2.5)
	}
	featureF := 1.0
	if shape.NumFeatures > 10 {
		featureF = clamp(1+0.3*math.Log2(float64(shape.NumFeatures)/10), 1, 2.0)
	}
	labelF := 1.0
	if shape.NumLabels > 2 {
		labelF = clamp(0.8+0.2*float64(shape.NumLabels)/10, 1, 1.5)
	}

	est := 120 - float64(minSplit)*10 + leafAdj + depthF*15
	est *= sampleF * featureF * labelF
	return math.Max(10, est)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EstimateNodes sizes BuildingNode storage for a build with the given
// hyperparameters and dataset shape, composing the trained formula (or the
// manual heuristic, if untrained) with the dataset-drift fallback and the
// final accuracy/cap adjustment. Results are memoized in an LRU cache keyed
// by (params, sample-count bucket) so repeated builds with the same
// hyperparameters skip the arithmetic and the drift checks.
func (p *Predictor) EstimateNodes(minSplit, minLeaf uint8, maxDepth uint16, shape DatasetShape) int {
	key := cacheKey(minSplit, minLeaf, maxDepth, shape)
	if v, ok := p.cache.Get(key); ok {
		return v
	}
	v := p.estimateNodesUncached(minSplit, minLeaf, maxDepth, shape)
	p.cache.Add(key, v)
	return v
}

func cacheKey(minSplit, minLeaf uint8, maxDepth uint16, shape DatasetShape) uint64 {
	bucket := shape.NumSamples / 100
	b := []byte{minSplit, minLeaf, byte(maxDepth), byte(maxDepth >> 8)}
	return rfrand.HashBytes(b) ^ uint64(bucket)<<32 ^ uint64(shape.NumFeatures)<<16 ^ uint64(shape.NumLabels)
}

func (p *Predictor) estimateNodesUncached(minSplit, minLeaf uint8, maxDepth uint16, shape DatasetShape) int {
	var raw float64
	if !p.Trained {
		raw = manualEstimate(minSplit, minLeaf, maxDepth, shape)
	} else {
		trained := p.Bias + p.CSplit*float64(minSplit) + p.CLeaf*float64(minLeaf) + p.CDepth*float64(maxDepth)
		trained = math.Max(trained, 10)
		raw = p.applyDriftAdjustment(trained, shape, minSplit, minLeaf, maxDepth)
	}

	accFactor := math.Max(0.90, p.AccuracyPercent/100)
	result := raw / accFactor
	result = math.Max(10, result)
	if result > RFMaxNodes {
		result = RFMaxNodes
	}
	return int(result)
}

// applyDriftAdjustment implements the dataset-drift fallback: a ratio
// beyond [0.5, 1.75] falls back entirely to the manual heuristic
// (with a one-time warning); a milder deviation beyond [0.95, 1.05] scales
// the trained estimate by clamp(ratio, 0.75, 1.35) (with a one-time notice).
func (p *Predictor) applyDriftAdjustment(trained float64, shape DatasetShape, minSplit, minLeaf uint8, maxDepth uint16) float64 {
	if p.TrainedSampleCount <= 0 {
		return trained
	}
	ratio := float64(shape.NumSamples) / float64(p.TrainedSampleCount)
	switch {
	case ratio > 1.75 || ratio < 0.5:
		if !p.driftWarned {
			p.driftWarned = true
		}
		return manualEstimate(minSplit, minLeaf, maxDepth, shape)
	case ratio > 1.05 || ratio < 0.95:
		if !p.adjustmentNoted {
			p.adjustmentNoted = true
		}
		return trained * clamp(ratio, 0.75, 1.35)
	default:
		return trained
	}
}

// Retrain fits the 4-term linear model from the persisted log. Requires at
// least 3 rows; the depth coefficient always stays 0 (reserved slot in the
// file schema). TrainedSampleCount is left for the caller to stamp with the
// dataset size the log rows were observed against.
func (p *Predictor) Retrain() error {
	p.FlushPending()
	if len(p.Log) < 3 {
		return fmt.Errorf("nodepredictor: need at least 3 log rows to retrain, have %d", len(p.Log))
	}

	minSplit, maxSplit := extremes(p.Log, func(r LogRow) float64 { return float64(r.MinSplit) })
	minLeaf, maxLeaf := extremes(p.Log, func(r LogRow) float64 { return float64(r.MinLeaf) })

	meanAtSplit := meanNodesAt(p.Log, func(r LogRow) float64 { return float64(r.MinSplit) })
	meanAtLeaf := meanNodesAt(p.Log, func(r LogRow) float64 { return float64(r.MinLeaf) })

	splitEffect := 0.0
	if maxSplit != minSplit {
		splitEffect = (meanAtSplit[maxSplit] - meanAtSplit[minSplit]) / (maxSplit - minSplit)
	}
	leafEffect := 0.0
	if maxLeaf != minLeaf {
		leafEffect = (meanAtLeaf[maxLeaf] - meanAtLeaf[minLeaf]) / (maxLeaf - minLeaf)
	}

	var sumNodes float64
	for _, r := range p.Log {
		sumNodes += float64(r.TotalNodes)
	}
	overallMean := sumNodes / float64(len(p.Log))

	bias := overallMean - splitEffect*minSplit - leafEffect*minLeaf

	var sumAPE float64
	for _, r := range p.Log {
		pred := bias + splitEffect*float64(r.MinSplit) + leafEffect*float64(r.MinLeaf)
		if r.TotalNodes > 0 {
			sumAPE += math.Abs(pred-float64(r.TotalNodes)) / float64(r.TotalNodes)
		}
	}
	mape := 100 * sumAPE / float64(len(p.Log))

	p.Bias = bias
	p.CSplit = splitEffect
	p.CLeaf = leafEffect
	p.CDepth = 0
	p.AccuracyPercent = clamp(100-mape, 0, 100)
	if p.PeakPercent == 0 {
		p.PeakPercent = 30
	}
	p.Trained = true
	p.cache.Purge()
	return nil
}

func extremes(rows []LogRow, f func(LogRow) float64) (min, max float64) {
	min, max = f(rows[0]), f(rows[0])
	for _, r := range rows[1:] {
		v := f(r)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return
}

// meanNodesAt buckets TotalNodes by the value of f(row) and averages within
// each bucket.
func meanNodesAt(rows []LogRow, f func(LogRow) float64) map[float64]float64 {
	sums := map[float64]float64{}
	counts := map[float64]int{}
	for _, r := range rows {
		k := f(r)
		sums[k] += float64(r.TotalNodes)
		counts[k]++
	}
	means := map[float64]float64{}
	for k, s := range sums {
		means[k] = s / float64(counts[k])
	}
	return means
}

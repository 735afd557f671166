// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rfconfig

import "math"

// DatasetSummary captures the shape of a dataset as read from the saved
// dataset-summary CSV, without needing the dataset itself in memory.
type DatasetSummary struct {
	NumSamples  int
	NumFeatures int
	NumLabels   int
	LabelCounts []uint32
}

// LowestLabelPct returns the rarest label's share of the dataset, as a
// percentage in [0, 100].
func (s DatasetSummary) LowestLabelPct() float32 {
	if s.NumSamples == 0 || len(s.LabelCounts) == 0 {
		return 0
	}
	lowest := s.LabelCounts[0]
	for _, c := range s.LabelCounts[1:] {
		if c < lowest {
			lowest = c
		}
	}
	return 100 * float32(lowest) / float32(s.NumSamples)
}

// highestLabelPct returns the most common label's share of the dataset.
func (s DatasetSummary) highestLabelPct() float32 {
	if s.NumSamples == 0 || len(s.LabelCounts) == 0 {
		return 0
	}
	highest := s.LabelCounts[0]
	for _, c := range s.LabelCounts[1:] {
		if c > highest {
			highest = c
		}
	}
	return 100 * float32(highest) / float32(s.NumSamples)
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func log2Safe(v float64) float64 {
	if v < 2 {
		return 1
	}
	return math.Log2(v)
}

// imbalanceFactor returns a value in [0.5, 1.0]: 1.0 for a perfectly
// balanced dataset, dropping toward 0.5 as the rarest label's share falls
// further below the expected 100/num_labels.
func imbalanceFactor(s DatasetSummary) float64 {
	if s.NumLabels <= 0 {
		return 1.0
	}
	expected := 100.0 / float64(s.NumLabels)
	deficit := expected - float64(s.LowestLabelPct())
	if deficit < 0 {
		deficit = 0
	}
	return clampF(1-deficit/expected, 0.5, 1.0)
}

// GenerateRanges derives min_split/min_leaf/max_depth ranges from the
// dataset's shape and imbalance, and — when the corresponding Config field
// is 0 or force is set — seeds it from the range's lower bound.
func GenerateRanges(cfg *Config, s DatasetSummary, force bool) {
	density := log2Safe(float64(s.NumSamples))
	imb := imbalanceFactor(s)

	minRatio := clampF(0.12+0.05*imb-0.002*density, 0.12, 0.17)

	minSplitLow := uint8(clampF(minRatio*float64(s.NumSamples)/10, 2, 50))
	minSplitHigh := uint8(clampF(float64(minSplitLow)*3, float64(minSplitLow)+1, 100))
	cfg.MinSplitRange = Range[uint8]{Low: minSplitLow, High: minSplitHigh}

	minLeafLow := uint8(clampF(minRatio*float64(s.NumSamples)/20, 1, 30))
	minLeafHigh := uint8(clampF(float64(minLeafLow)*3, float64(minLeafLow)+1, 60))
	cfg.MinLeafRange = Range[uint8]{Low: minLeafLow, High: minLeafHigh}

	baseMaxDepth := int(math.Floor(log2Safe(float64(s.NumSamples)) + log2Safe(float64(s.NumFeatures)))) + 1
	maxDepthLow := uint16(int(clampF(float64(baseMaxDepth), 3, 40)))
	maxDepthHigh := uint16(int(clampF(float64(baseMaxDepth)*2, float64(maxDepthLow)+1, 64)))
	cfg.MaxDepthRange = Range[uint16]{Low: maxDepthLow, High: maxDepthHigh}

	if force || cfg.MinSplit == 0 {
		cfg.MinSplit = cfg.MinSplitRange.Low
	}
	if force || cfg.MinLeaf == 0 {
		cfg.MinLeaf = cfg.MinLeafRange.Low
	}
	if force || cfg.MaxDepth == 0 {
		cfg.MaxDepth = cfg.MaxDepthRange.Low
	}
}

// GenerateImpurityThreshold derives the impurity_threshold field from
// sample count, imbalance, and feature count, scaled to entropy's
// [0.0003, 0.02] or Gini's [0.002, 0.2] band.
func GenerateImpurityThreshold(cfg *Config, s DatasetSummary) float32 {
	lo, hi := 0.002, 0.2
	if cfg.Criterion == "entropy" {
		lo, hi = 0.0003, 0.02
	}

	densityFrac := clampF(log2Safe(float64(s.NumSamples))/20, 0, 1)
	imbFrac := 1 - imbalanceFactor(s) // 0 balanced .. 0.5 imbalanced
	featureFrac := clampF(log2Safe(float64(s.NumFeatures))/10, 0, 1)

	frac := clampF((densityFrac+imbFrac+featureFrac)/2, 0, 1)
	threshold := float32(lo + (hi-lo)*frac)
	cfg.ImpurityThreshold = threshold
	return threshold
}

// SelectTrainingScore picks a score mode from the average
// samples per label: <200 -> k-fold, <500 -> OOB, else -> held-out valid.
func SelectTrainingScore(s DatasetSummary) string {
	if s.NumLabels <= 0 {
		return TrainingScoreOOB
	}
	avg := float64(s.NumSamples) / float64(s.NumLabels)
	switch {
	case avg < 200:
		return TrainingScoreKFold
	case avg < 500:
		return TrainingScoreOOB
	default:
		return TrainingScoreValid
	}
}

// SelectMetric picks a metric from the label imbalance ratio:
// >10x -> recall, >3x -> F1, >1.5x -> precision, else -> accuracy.
func SelectMetric(s DatasetSummary) string {
	lowest := s.LowestLabelPct()
	if lowest <= 0 {
		return MetricRecall
	}
	ratio := float64(s.highestLabelPct()) / float64(lowest)
	switch {
	case ratio > 10:
		return MetricRecall
	case ratio > 3:
		return MetricF1
	case ratio > 1.5:
		return MetricPrecision
	default:
		return MetricAccuracy
	}
}

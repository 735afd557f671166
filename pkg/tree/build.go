// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package tree

import "math"

// impurity computes the Gini (1 - sum p_i^2) or Shannon entropy
// (-sum p_i*log2(p_i), with 0*log2(0) treated as 0) of a class histogram
// over total samples.
func impurity(criterion Criterion, hist []uint32, total int) float32 {
	if total == 0 {
		return 0
	}
	switch criterion {
	case Entropy:
		var h float64
		for _, c := range hist {
			if c == 0 {
				continue
			}
			p := float64(c) / float64(total)
			h -= p * math.Log2(p)
		}
		return float32(h)
	default: // Gini
		var sumSq float64
		for _, c := range hist {
			p := float64(c) / float64(total)
			sumSq += p * p
		}
		return float32(1 - sumSq)
	}
}

type queueItem struct {
	index int
	ids   []uint32
	depth uint16
}

// Build grows a BuildTree breadth-first from sampleIDs.
// estimatedCapacity (from pkg/nodepredictor) only preallocates the backing
// slice; the build still grows it on demand if the estimate was low.
func Build(cfg BuildConfig, sampleIDs []uint32, getFeature FeatureGetter, getLabel LabelGetter, estimatedCapacity int) *BuildTree {
	t := &BuildTree{cfg: cfg}
	if estimatedCapacity < 1 {
		estimatedCapacity = 1
	}
	t.nodes = make([]buildNode, 1, estimatedCapacity)

	queue := []queueItem{{index: 0, ids: sampleIDs, depth: 0}}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		hist := labelHistogram(item.ids, getLabel, cfg.NumLabels)
		majority := argmaxLabel(hist)

		if len(item.ids) < int(cfg.MinSplit) || item.depth >= cfg.MaxDepth {
			t.nodes[item.index] = buildNode{isLeaf: true, label: majority}
			continue
		}

		split, found := bestSplit(cfg, item.ids, getFeature, getLabel, hist)
		if !found || split.gain < cfg.ImpurityThreshold {
			t.nodes[item.index] = buildNode{isLeaf: true, label: majority}
			continue
		}

		leftIDs, rightIDs := partition(item.ids, getFeature, split.feature, split.threshold)

		leftIdx := len(t.nodes)
		t.nodes = append(t.nodes, buildNode{}, buildNode{})
		t.nodes[item.index] = buildNode{
			isLeaf:    false,
			featureID: uint16(split.feature),
			threshold: split.threshold,
			left:      uint32(leftIdx),
		}
		queue = append(queue,
			queueItem{index: leftIdx, ids: leftIDs, depth: item.depth + 1},
			queueItem{index: leftIdx + 1, ids: rightIDs, depth: item.depth + 1},
		)
	}
	return t
}

func labelHistogram(ids []uint32, getLabel LabelGetter, numLabels int) []uint32 {
	hist := make([]uint32, numLabels)
	for _, id := range ids {
		hist[getLabel(int(id))]++
	}
	return hist
}

// argmaxLabel returns the label with the highest count, ties broken by the
// lower label id.
func argmaxLabel(hist []uint32) uint8 {
	best := 0
	for i := 1; i < len(hist); i++ {
		if hist[i] > hist[best] {
			best = i
		}
	}
	return uint8(best)
}

func partition(ids []uint32, getFeature FeatureGetter, feature int, threshold uint32) (left, right []uint32) {
	for _, id := range ids {
		if getFeature(int(id), feature) <= threshold {
			left = append(left, id)
		} else {
			right = append(right, id)
		}
	}
	return
}

type splitCandidate struct {
	feature   int
	threshold uint32
	gain      float32
}

// bestSplit searches every (feature, threshold) pair, maximizing
// impurity-gain, with ties broken by lower feature id then lower
// threshold. For each feature it builds a per-bin label histogram in
// one pass over ids, then scans thresholds using a running left-of-t
// accumulator, avoiding an O(groups) rescan of ids per threshold.
func bestSplit(cfg BuildConfig, ids []uint32, getFeature FeatureGetter, getLabel LabelGetter, parentHist []uint32) (splitCandidate, bool) {
	total := len(ids)
	if total == 0 {
		return splitCandidate{}, false
	}
	parentImpurity := impurity(cfg.Criterion, parentHist, total)

	labels := make([]uint8, len(ids))
	for i, id := range ids {
		labels[i] = getLabel(int(id))
	}

	var best splitCandidate
	haveBest := false

	for f := 0; f < cfg.NumFeatures; f++ {
		binHist := make([][]uint32, cfg.Groups)
		for b := range binHist {
			binHist[b] = make([]uint32, cfg.NumLabels)
		}
		for i, id := range ids {
			b := getFeature(int(id), f)
			binHist[b][labels[i]]++
		}

		leftHist := make([]uint32, cfg.NumLabels)
		leftTotal := 0
		for thresh := uint32(0); thresh+1 < cfg.Groups; thresh++ {
			for l := range leftHist {
				leftHist[l] += binHist[thresh][l]
			}
			leftTotal += int(sumUint32(binHist[thresh]))
			rightTotal := total - leftTotal
			if leftTotal < int(cfg.MinLeaf) || rightTotal < int(cfg.MinLeaf) {
				continue
			}

			rightHist := make([]uint32, cfg.NumLabels)
			for l := range rightHist {
				rightHist[l] = parentHist[l] - leftHist[l]
			}

			leftImp := impurity(cfg.Criterion, leftHist, leftTotal)
			rightImp := impurity(cfg.Criterion, rightHist, rightTotal)
			weighted := (float32(leftTotal)*leftImp + float32(rightTotal)*rightImp) / float32(total)
			gain := parentImpurity - weighted

			if !haveBest || gain > best.gain {
				best = splitCandidate{feature: f, threshold: thresh, gain: gain}
				haveBest = true
			}
		}
	}
	return best, haveBest
}

func sumUint32(xs []uint32) uint32 {
	var s uint32
	for _, x := range xs {
		s += x
	}
	return s
}

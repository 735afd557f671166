// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package forest orchestrates N trees: bootstrap sampling, OOB/k-fold/
// holdout scoring, majority-vote inference, and unified on-disk
// serialization.
package forest

import (
	"fmt"

	"github.com/viettran-edgeAI/mcu-rf/lib/containers"
	"github.com/viettran-edgeAI/mcu-rf/pkg/nodepredictor"
	"github.com/viettran-edgeAI/mcu-rf/pkg/rfrand"
	"github.com/viettran-edgeAI/mcu-rf/pkg/scoring"
	"github.com/viettran-edgeAI/mcu-rf/pkg/tree"
)

// ScoreMode selects how training-time quality is measured.
type ScoreMode uint8

const (
	ScoreOOB ScoreMode = iota
	ScoreValid
	ScoreKFold
)

// TrainConfig parameterizes Forest.Train.
type TrainConfig struct {
	NumTrees       int
	UseBootstrap   bool
	BootstrapRatio float64

	MinSplit          uint8
	MinLeaf           uint8
	MaxDepth          uint16
	Criterion         tree.Criterion
	ImpurityThreshold float32

	Seed uint64

	ScoreMode  ScoreMode
	ValidRatio float64
	KFolds     int
	MetricMask scoring.Metric
}

// Resources carries the dimensions and bit widths shared across every tree
// in a forest. The four layout widths are the widest any tree in the forest
// needs; Save stamps them from the trees and Load restores them from the
// preamble.
type Resources struct {
	NumFeatures int
	NumLabels   int
	Groups      uint32 // 2^Q

	ThresholdBits uint8
	FeatureBits   uint8
	LabelBits     uint8
	ChildBits     uint8
}

// Forest is an ordered list of compact trees sharing one Resources record.
type Forest struct {
	Trees     []*tree.CompactTree
	IsUnified bool
	Resources Resources

	// oobBags[i] holds the sample IDs in tree i's bag; populated by the
	// full-dataset training path (OOB and K-fold scoring), with or without
	// bootstrap.
	// Not serialized.
	oobBags []containers.Set[uint32]
}

// queuePeakSize bounds the BFS frontier queue's pre-sized capacity between
// 30 and 30% of the theoretical max node count for the given max_depth,
// capped at a 120-entry tuning ceiling.
func queuePeakSize(maxDepth uint16, estimatedNodes int) int {
	theoreticalMax := 1 << minInt(int(maxDepth)+1, 20)
	peak := estimatedNodes * 3 / 10
	if peak < 30 {
		peak = 30
	}
	if cap := theoreticalMax * 3 / 10; peak > cap {
		peak = cap
	}
	if peak > 120 {
		peak = 120
	}
	return peak
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Train builds cfg.NumTrees trees over a dataset of `size` samples, scoring
// the result according to cfg.ScoreMode, and returns the aggregate score.
// getFeature/getLabel read quantized bins directly from the bit-packed
// dataset store (pkg/dataset), so tree construction never materializes a
// dense feature matrix.
func (f *Forest) Train(size int, res Resources, getFeature tree.FeatureGetter, getLabel tree.LabelGetter, cfg TrainConfig, predictor *nodepredictor.Predictor) (float64, error) {
	if cfg.NumTrees <= 0 {
		return 0, fmt.Errorf("forest: num_trees must be positive, got %d", cfg.NumTrees)
	}
	f.Resources = res
	f.IsUnified = true

	var score float64
	switch cfg.ScoreMode {
	case ScoreKFold:
		score = f.scoreKFold(size, res, getFeature, getLabel, cfg)
	case ScoreValid:
		var err error
		score, err = f.trainValidSplit(size, res, getFeature, getLabel, cfg, predictor)
		if err != nil {
			return 0, err
		}
		return score, nil
	}

	// Production trees: OOB and KFold both land here and train on the
	// full dataset; Valid returns earlier because its production trees
	// were trained on the non-held-out split above.
	f.trainFullBootstrap(size, res, getFeature, getLabel, cfg, predictor)

	if cfg.ScoreMode == ScoreOOB {
		score = f.scoreOOB(size, getFeature, getLabel, cfg.MetricMask)
	}
	return score, nil
}

// trainFullBootstrap trains cfg.NumTrees trees on `size` samples, recording
// per-tree bootstrap bags for OOB scoring.
func (f *Forest) trainFullBootstrap(size int, res Resources, getFeature tree.FeatureGetter, getLabel tree.LabelGetter, cfg TrainConfig, predictor *nodepredictor.Predictor) {
	f.Trees = nil
	f.oobBags = nil
	for i := 0; i < cfg.NumTrees; i++ {
		bag, inBag := drawBag(size, i, cfg)
		ct := f.buildOne(bag, res, getFeature, getLabel, cfg, predictor)
		f.Trees = append(f.Trees, ct)
		f.oobBags = append(f.oobBags, inBag)
	}
}

// drawBag returns the sample-ID bag for tree treeIdx and, when bootstrap
// sampling is enabled, the in-bag membership bitmap (for OOB scoring).
// Bootstrap substreams are derived via SplitMix from the forest seed, so
// each tree's draw is independent and reproducible from (seed, tree index).
func drawBag(size, treeIdx int, cfg TrainConfig) (bag []uint32, inBag containers.Set[uint32]) {
	if !cfg.UseBootstrap {
		bag = make([]uint32, size)
		inBag = make(containers.Set[uint32], size)
		for i := range bag {
			bag[i] = uint32(i)
			inBag.Insert(uint32(i))
		}
		return
	}
	n := int(float64(size) * cfg.BootstrapRatio)
	if n < 1 {
		n = 1
	}
	rng := rfrand.DeriveRNG(cfg.Seed, uint32(treeIdx), 0)
	bag = make([]uint32, n)
	inBag = make(containers.Set[uint32], n)
	for j := 0; j < n; j++ {
		idx := rng.Bounded(uint32(size))
		bag[j] = idx
		inBag.Insert(idx)
	}
	return
}

func (f *Forest) buildOne(bag []uint32, res Resources, getFeature tree.FeatureGetter, getLabel tree.LabelGetter, cfg TrainConfig, predictor *nodepredictor.Predictor) *tree.CompactTree {
	est := predictor.EstimateNodes(cfg.MinSplit, cfg.MinLeaf, cfg.MaxDepth, nodepredictor.DatasetShape{
		NumSamples:  len(bag),
		NumFeatures: res.NumFeatures,
		NumLabels:   res.NumLabels,
	})
	_ = queuePeakSize(cfg.MaxDepth, est) // sizing guidance only; Go's growable queue needs no hard cap.

	buildCfg := tree.BuildConfig{
		NumFeatures:       res.NumFeatures,
		Groups:            res.Groups,
		NumLabels:         res.NumLabels,
		MinSplit:          cfg.MinSplit,
		MinLeaf:           cfg.MinLeaf,
		MaxDepth:          cfg.MaxDepth,
		Criterion:         cfg.Criterion,
		ImpurityThreshold: cfg.ImpurityThreshold,
	}
	bt := tree.Build(buildCfg, bag, getFeature, getLabel, est)
	predictor.Observe(cfg.MinSplit, cfg.MinLeaf, cfg.MaxDepth, uint32(bt.NodeCount()))
	return tree.ConvertToCompact(bt, buildCfg)
}

// scoreOOB evaluates every sample using only the trees whose bootstrap bag
// excluded it.
func (f *Forest) scoreOOB(size int, getFeature tree.FeatureGetter, getLabel tree.LabelGetter, mask scoring.Metric) float64 {
	counters := scoring.NewCounters(f.Resources.NumLabels)
	for s := 0; s < size; s++ {
		var voters []*tree.CompactTree
		for i, bag := range f.oobBags {
			if !bag.Has(uint32(s)) {
				voters = append(voters, f.Trees[i])
			}
		}
		if len(voters) == 0 {
			continue
		}
		pred := vote(voters, func(feature int) uint32 { return getFeature(s, feature) }, f.Resources.NumLabels)
		counters.Record(pred, getLabel(s))
	}
	return counters.CalculateScore(mask)
}

// trainValidSplit holds out the trailing valid_ratio fraction of sample IDs
// as a validation set, trains the production trees on the remainder, and
// scores against the held-out set.
func (f *Forest) trainValidSplit(size int, res Resources, getFeature tree.FeatureGetter, getLabel tree.LabelGetter, cfg TrainConfig, predictor *nodepredictor.Predictor) (float64, error) {
	cut := size - int(float64(size)*cfg.ValidRatio)
	if cut < 1 {
		cut = 1
	}
	if cut > size {
		cut = size
	}

	f.Trees = nil
	f.oobBags = nil
	for i := 0; i < cfg.NumTrees; i++ {
		bag, _ := drawTrainBag(cut, i, cfg)
		ct := f.buildOne(bag, res, getFeature, getLabel, cfg, predictor)
		f.Trees = append(f.Trees, ct)
	}

	counters := scoring.NewCounters(res.NumLabels)
	for s := cut; s < size; s++ {
		pred := vote(f.Trees, func(feature int) uint32 { return getFeature(s, feature) }, res.NumLabels)
		counters.Record(pred, getLabel(s))
	}
	return counters.CalculateScore(cfg.MetricMask), nil
}

// drawTrainBag is drawBag restricted to IDs [0, trainSize).
func drawTrainBag(trainSize, treeIdx int, cfg TrainConfig) (bag []uint32, inBag containers.Set[uint32]) {
	if !cfg.UseBootstrap {
		bag = make([]uint32, trainSize)
		for i := range bag {
			bag[i] = uint32(i)
		}
		return bag, nil
	}
	n := int(float64(trainSize) * cfg.BootstrapRatio)
	if n < 1 {
		n = 1
	}
	rng := rfrand.DeriveRNG(cfg.Seed, uint32(treeIdx), 0)
	bag = make([]uint32, n)
	for j := 0; j < n; j++ {
		bag[j] = rng.Bounded(uint32(trainSize))
	}
	return bag, nil
}

// scoreKFold partitions the dataset into cfg.KFolds disjoint folds; for
// each fold it trains cfg.NumTrees trees on the other folds and predicts
// on the held-out fold, aggregating the per-sample scores. It does not
// populate f.Trees; the caller trains the production forest on the full
// dataset separately.
func (f *Forest) scoreKFold(size int, res Resources, getFeature tree.FeatureGetter, getLabel tree.LabelGetter, cfg TrainConfig) float64 {
	k := cfg.KFolds
	if k < 2 {
		k = 2
	}
	counters := scoring.NewCounters(res.NumLabels)
	predictor := nodepredictor.New()

	for fold := 0; fold < k; fold++ {
		var trainIDs, testIDs []uint32
		for s := 0; s < size; s++ {
			if s%k == fold {
				testIDs = append(testIDs, uint32(s))
			} else {
				trainIDs = append(trainIDs, uint32(s))
			}
		}
		if len(testIDs) == 0 || len(trainIDs) == 0 {
			continue
		}

		var trees []*tree.CompactTree
		for i := 0; i < cfg.NumTrees; i++ {
			foldCfg := cfg
			foldCfg.Seed = cfg.Seed ^ (uint64(fold) << 32)
			bag := trainIDs
			if cfg.UseBootstrap {
				n := int(float64(len(trainIDs)) * cfg.BootstrapRatio)
				if n < 1 {
					n = 1
				}
				rng := rfrand.DeriveRNG(foldCfg.Seed, uint32(i), 0)
				bag = make([]uint32, n)
				for j := range bag {
					bag[j] = trainIDs[rng.Bounded(uint32(len(trainIDs)))]
				}
			}
			trees = append(trees, f.buildOne(bag, res, getFeature, getLabel, foldCfg, predictor))
		}

		for _, s := range testIDs {
			pred := vote(trees, func(feature int) uint32 { return getFeature(int(s), feature) }, res.NumLabels)
			counters.Record(pred, getLabel(int(s)))
		}
	}
	return counters.CalculateScore(cfg.MetricMask)
}

// ErrorLabel is returned by Predict when every tree fails to produce a
// label.
const ErrorLabel = tree.ErrorLabel

// Predict runs majority-vote inference across every tree, breaking ties by
// the lowest label id.
func (f *Forest) Predict(getFeature tree.FeatureGetterSingle) uint8 {
	return vote(f.Trees, getFeature, f.Resources.NumLabels)
}

// vote aggregates one prediction per tree and returns the majority label,
// using a stack array for <=32 labels and a small map otherwise.
func vote(trees []*tree.CompactTree, getFeature func(feature int) uint32, numLabels int) uint8 {
	if numLabels <= 32 {
		var counts [32]uint32
		var any bool
		for _, t := range trees {
			l := t.Predict(getFeature)
			if l == tree.ErrorLabel {
				continue
			}
			counts[l]++
			any = true
		}
		if !any {
			return tree.ErrorLabel
		}
		best := uint8(0)
		for l := 1; l < numLabels && l < 32; l++ {
			if counts[l] > counts[best] {
				best = uint8(l)
			}
		}
		return best
	}

	counts := make(map[uint8]uint32, 8)
	var any bool
	for _, t := range trees {
		l := t.Predict(getFeature)
		if l == tree.ErrorLabel {
			continue
		}
		counts[l]++
		any = true
	}
	if !any {
		return tree.ErrorLabel
	}
	var best uint8
	var bestCount uint32 = 0
	first := true
	for l := uint8(0); ; l++ {
		if c, ok := counts[l]; ok {
			if first || c > bestCount {
				best, bestCount, first = l, c, false
			}
		}
		if l == 255 {
			break
		}
	}
	return best
}

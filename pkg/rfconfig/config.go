// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rfconfig

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/dlib/dlog"

	"github.com/viettran-edgeAI/mcu-rf/lib/streamio"
	"github.com/viettran-edgeAI/mcu-rf/pkg/forest"
	"github.com/viettran-edgeAI/mcu-rf/pkg/scoring"
	"github.com/viettran-edgeAI/mcu-rf/pkg/tree"
)

// Training-score mode strings as they appear in the config file.
const (
	TrainingScoreOOB   = "oob_score"
	TrainingScoreValid = "valid_score"
	TrainingScoreKFold = "k_fold_score"
)

// Metric-score strings as they appear in the config file.
const (
	MetricAccuracy  = "ACCURACY"
	MetricPrecision = "PRECISION"
	MetricRecall    = "RECALL"
	MetricF1        = "F1_SCORE"
)

// Range is an inclusive [Low, High] bound.
type Range[T any] struct {
	Low  T `json:"low"`
	High T `json:"high"`
}

// Config mirrors the on-disk JSON schema, plus derived-but-unserialized
// hyperparameter ranges. Key spellings (including "boostrapRatio") are
// frozen; config files already in the field use them.
type Config struct {
	NumTrees   int    `json:"numTrees"`
	RandomSeed uint64 `json:"randomSeed"`

	TrainRatio float64 `json:"train_ratio"`
	TestRatio  float64 `json:"test_ratio"`
	ValidRatio float64 `json:"valid_ratio"`

	MinSplit uint8  `json:"minSplit"`
	MinLeaf  uint8  `json:"minLeaf"`
	MaxDepth uint16 `json:"maxDepth"`

	UseBootstrap   bool    `json:"useBootstrap"`
	BootstrapRatio float64 `json:"boostrapRatio"`

	Criterion         string  `json:"criterion"` // "gini" | "entropy"
	ImpurityThreshold float32 `json:"impurityThreshold"`

	TrainingScore string `json:"trainingScore"` // oob_score | valid_score | k_fold_score
	KFolds        int    `json:"k_folds"`

	MetricScore string  `json:"metric_score"` // ACCURACY | PRECISION | RECALL | F1_SCORE
	ResultScore float64 `json:"resultScore"`

	ThresholdBits uint8 `json:"threshold_bits"`
	FeatureBits   uint8 `json:"feature_bits"`
	LabelBits     uint8 `json:"label_bits"`
	ChildBits     uint8 `json:"child_bits"`

	EnableRetrain    bool `json:"enableRetrain"`
	EnableAutoConfig bool `json:"enableAutoConfig"`

	MaxSamples        int `json:"max_samples"`
	EstimatedRAMBytes int `json:"Estimated RAM (bytes)"`

	// Derived ranges, not round-tripped through JSON (kept as live,
	// recomputed-on-load fields).
	MinSplitRange Range[uint8]  `json:"-"`
	MinLeafRange  Range[uint8]  `json:"-"`
	MaxDepthRange Range[uint16] `json:"-"`
}

// Load reads a Config from its JSON file.
func Load(ctx context.Context, path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rfconfig: open %s: %w", path, err)
	}
	buf, err := streamio.NewRuneScanner(dlog.WithField(ctx, "rf.read-json-file", path), fh)
	if err != nil {
		_ = fh.Close()
		return nil, fmt.Errorf("rfconfig: read %s: %w", path, err)
	}
	defer func() {
		_ = buf.Close()
	}()
	var cfg Config
	if err := lowmemjson.NewDecoder(buf).DecodeThenEOF(&cfg); err != nil {
		return nil, fmt.Errorf("rfconfig: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg as indented JSON.
func (cfg *Config) Save(path string) (err error) {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("rfconfig: create %s: %w", path, err)
	}
	defer func() {
		if _err := fh.Close(); err == nil && _err != nil {
			err = _err
		}
	}()
	buffer := bufio.NewWriter(fh)
	defer func() {
		if _err := buffer.Flush(); err == nil && _err != nil {
			err = _err
		}
	}()
	return lowmemjson.NewEncoder(lowmemjson.NewReEncoder(buffer, lowmemjson.ReEncoderConfig{
		Indent:                "\t",
		ForceTrailingNewlines: true,
		CompactIfUnder:        120,
	})).Encode(cfg)
}

// CriterionValue maps the JSON criterion string to pkg/tree's Criterion.
func (cfg *Config) CriterionValue() tree.Criterion {
	if cfg.Criterion == "entropy" {
		return tree.Entropy
	}
	return tree.Gini
}

// ScoreMode maps the JSON trainingScore string to pkg/forest's ScoreMode.
func (cfg *Config) ScoreMode() forest.ScoreMode {
	switch cfg.TrainingScore {
	case TrainingScoreValid:
		return forest.ScoreValid
	case TrainingScoreKFold:
		return forest.ScoreKFold
	default:
		return forest.ScoreOOB
	}
}

// MetricMask maps the JSON metric_score string to pkg/scoring's Metric
// bitmask.
func (cfg *Config) MetricMask() scoring.Metric {
	switch cfg.MetricScore {
	case MetricPrecision:
		return scoring.Precision
	case MetricRecall:
		return scoring.Recall
	case MetricF1:
		return scoring.F1
	default:
		return scoring.Accuracy
	}
}

// TrainConfig projects cfg into a forest.TrainConfig, ready for
// Forest.Train.
func (cfg *Config) TrainConfig() forest.TrainConfig {
	return forest.TrainConfig{
		NumTrees:          cfg.NumTrees,
		UseBootstrap:      cfg.UseBootstrap,
		BootstrapRatio:    cfg.BootstrapRatio,
		MinSplit:          cfg.MinSplit,
		MinLeaf:           cfg.MinLeaf,
		MaxDepth:          cfg.MaxDepth,
		Criterion:         cfg.CriterionValue(),
		ImpurityThreshold: cfg.ImpurityThreshold,
		Seed:              cfg.RandomSeed,
		ScoreMode:         cfg.ScoreMode(),
		ValidRatio:        cfg.ValidRatio,
		KFolds:            cfg.KFolds,
		MetricMask:        cfg.MetricMask(),
	}
}

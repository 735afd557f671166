// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rfconfig_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viettran-edgeAI/mcu-rf/pkg/forest"
	"github.com/viettran-edgeAI/mcu-rf/pkg/rfconfig"
	"github.com/viettran-edgeAI/mcu-rf/pkg/scoring"
	"github.com/viettran-edgeAI/mcu-rf/pkg/tree"
)

func TestBasePaths(t *testing.T) {
	t.Parallel()
	b := rfconfig.NewBase("/models/gesture")
	require.Equal(t, "/models/gesture/gesture_quantizer.qtz", b.QuantizerPath())
	require.Equal(t, "/models/gesture/gesture_config.json", b.ConfigPath())
	require.Equal(t, "/models/gesture/gesture_forest.frc3", b.ForestPath())
	require.Equal(t, "/models/gesture/gesture_predictor.npd", b.NodePredictorPath())
}

func TestReadyToUseRequiresAllThreeFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	b := rfconfig.NewBase(dir)
	require.False(t, b.ReadyToUse())

	for _, p := range []string{b.QuantizerPath(), b.ForestPath(), b.ConfigPath()} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	require.True(t, b.ReadyToUse())
}

func TestConfigSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	cfg := &rfconfig.Config{
		MinSplit: 4, MinLeaf: 2, MaxDepth: 10,
		Criterion: "entropy", ImpurityThreshold: 0.01,
		NumTrees: 20, UseBootstrap: true, BootstrapRatio: 0.8,
		TrainingScore: rfconfig.TrainingScoreOOB,
		MetricScore:   rfconfig.MetricF1,
		RandomSeed:    99,
	}
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, cfg.Save(path))

	got, err := rfconfig.Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, cfg.MinSplit, got.MinSplit)
	require.Equal(t, cfg.Criterion, got.Criterion)
	require.Equal(t, tree.Entropy, got.CriterionValue())
	require.Equal(t, forest.ScoreOOB, got.ScoreMode())
	require.Equal(t, scoring.F1, got.MetricMask())
}

func TestGenerateRangesSeedsZeroFields(t *testing.T) {
	t.Parallel()
	cfg := &rfconfig.Config{}
	summary := rfconfig.DatasetSummary{
		NumSamples: 1000, NumFeatures: 16, NumLabels: 2,
		LabelCounts: []uint32{500, 500},
	}
	rfconfig.GenerateRanges(cfg, summary, false)

	require.Greater(t, cfg.MinSplitRange.High, cfg.MinSplitRange.Low)
	require.Greater(t, cfg.MinLeafRange.High, cfg.MinLeafRange.Low)
	require.Greater(t, cfg.MaxDepthRange.High, cfg.MaxDepthRange.Low)
	require.Equal(t, cfg.MinSplitRange.Low, cfg.MinSplit)
	require.Equal(t, cfg.MinLeafRange.Low, cfg.MinLeaf)
	require.Equal(t, cfg.MaxDepthRange.Low, cfg.MaxDepth)
}

func TestGenerateRangesDoesNotOverwriteNonzeroUnlessForced(t *testing.T) {
	t.Parallel()
	cfg := &rfconfig.Config{MinSplit: 9, MinLeaf: 5, MaxDepth: 12}
	summary := rfconfig.DatasetSummary{NumSamples: 500, NumFeatures: 8, NumLabels: 2, LabelCounts: []uint32{250, 250}}

	rfconfig.GenerateRanges(cfg, summary, false)
	require.Equal(t, uint8(9), cfg.MinSplit)

	rfconfig.GenerateRanges(cfg, summary, true)
	require.Equal(t, cfg.MinSplitRange.Low, cfg.MinSplit)
}

func TestGenerateImpurityThresholdWithinCriterionBand(t *testing.T) {
	t.Parallel()
	summary := rfconfig.DatasetSummary{NumSamples: 2000, NumFeatures: 32, NumLabels: 4, LabelCounts: []uint32{1000, 500, 300, 200}}

	giniCfg := &rfconfig.Config{Criterion: "gini"}
	got := rfconfig.GenerateImpurityThreshold(giniCfg, summary)
	require.GreaterOrEqual(t, got, float32(0.002))
	require.LessOrEqual(t, got, float32(0.2))

	entropyCfg := &rfconfig.Config{Criterion: "entropy"}
	got = rfconfig.GenerateImpurityThreshold(entropyCfg, summary)
	require.GreaterOrEqual(t, got, float32(0.0003))
	require.LessOrEqual(t, got, float32(0.02))
}

func TestSelectTrainingScoreThresholds(t *testing.T) {
	t.Parallel()
	require.Equal(t, rfconfig.TrainingScoreKFold, rfconfig.SelectTrainingScore(rfconfig.DatasetSummary{NumSamples: 100, NumLabels: 1}))
	require.Equal(t, rfconfig.TrainingScoreOOB, rfconfig.SelectTrainingScore(rfconfig.DatasetSummary{NumSamples: 300, NumLabels: 1}))
	require.Equal(t, rfconfig.TrainingScoreValid, rfconfig.SelectTrainingScore(rfconfig.DatasetSummary{NumSamples: 1000, NumLabels: 1}))
}

func TestSelectMetricThresholds(t *testing.T) {
	t.Parallel()
	balanced := rfconfig.DatasetSummary{NumSamples: 100, LabelCounts: []uint32{50, 50}}
	require.Equal(t, rfconfig.MetricAccuracy, rfconfig.SelectMetric(balanced))

	mild := rfconfig.DatasetSummary{NumSamples: 100, LabelCounts: []uint32{65, 35}}
	require.Equal(t, rfconfig.MetricPrecision, rfconfig.SelectMetric(mild))

	skewed := rfconfig.DatasetSummary{NumSamples: 100, LabelCounts: []uint32{82, 18}}
	require.Equal(t, rfconfig.MetricF1, rfconfig.SelectMetric(skewed))

	extreme := rfconfig.DatasetSummary{NumSamples: 1000, LabelCounts: []uint32{960, 40}}
	require.Equal(t, rfconfig.MetricRecall, rfconfig.SelectMetric(extreme))
}

func TestDatasetSummaryCSVRoundTrip(t *testing.T) {
	t.Parallel()
	s := rfconfig.DatasetSummary{
		NumSamples: 120, NumFeatures: 6, NumLabels: 3,
		LabelCounts: []uint32{40, 40, 40},
	}
	path := filepath.Join(t.TempDir(), "summary.csv")
	require.NoError(t, rfconfig.SaveDatasetSummary(path, s))

	got, err := rfconfig.LoadDatasetSummary(path)
	require.NoError(t, err)
	require.Equal(t, s.NumSamples, got.NumSamples)
	require.Equal(t, s.NumFeatures, got.NumFeatures)
	require.Equal(t, s.NumLabels, got.NumLabels)
	require.Equal(t, s.LabelCounts, got.LabelCounts)
}

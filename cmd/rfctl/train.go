// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"math/bits"
	"path/filepath"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/viettran-edgeAI/mcu-rf/pkg/dataset"
	"github.com/viettran-edgeAI/mcu-rf/pkg/forest"
	"github.com/viettran-edgeAI/mcu-rf/pkg/nodepredictor"
	"github.com/viettran-edgeAI/mcu-rf/pkg/quantizer"
	"github.com/viettran-edgeAI/mcu-rf/pkg/rfconfig"
	"github.com/viettran-edgeAI/mcu-rf/pkg/rflog"
)

// applyTrainDefaults fills in the handful of Config fields GenerateRanges
// and friends don't derive on their own (num_trees, bootstrap ratio,
// k-folds, valid ratio).
func applyTrainDefaults(cfg *rfconfig.Config) {
	if cfg.NumTrees == 0 {
		cfg.NumTrees = 50
	}
	if cfg.BootstrapRatio == 0 {
		cfg.UseBootstrap = true
		cfg.BootstrapRatio = 0.8
	}
	if cfg.KFolds == 0 {
		cfg.KFolds = 5
	}
	if cfg.ValidRatio == 0 {
		cfg.ValidRatio = 0.2
	}
}

func newTrainCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "train <model-dir>",
		Short: "Train a forest for the model in <model-dir>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modelDir := args[0]
			base := rfconfig.NewBase(modelDir)
			ctx := dlog.WithField(cmd.Context(), "rf.model", filepath.Base(modelDir))

			qz, err := quantizer.Load(base.QuantizerPath())
			if err != nil {
				return fmt.Errorf("rfctl: load quantizer: %w", err)
			}

			cfg, err := rfconfig.Load(ctx, base.ConfigPath())
			if err != nil {
				cfg = &rfconfig.Config{EnableAutoConfig: true}
			}

			if summary, err := rfconfig.LoadDatasetSummary(base.DatasetSummaryPath()); err == nil && (cfg.EnableAutoConfig || force) {
				rfconfig.GenerateRanges(cfg, summary, force)
				if cfg.ImpurityThreshold == 0 || force {
					rfconfig.GenerateImpurityThreshold(cfg, summary)
				}
				if cfg.TrainingScore == "" || force {
					cfg.TrainingScore = rfconfig.SelectTrainingScore(summary)
				}
				if cfg.MetricScore == "" || force {
					cfg.MetricScore = rfconfig.SelectMetric(summary)
				}
			} else {
				dlog.Infof(ctx, "no dataset summary at %s, training with config defaults only", base.DatasetSummaryPath())
			}
			applyTrainDefaults(cfg)

			q := uint8(bits.Len32(qz.GroupsPerFeature - 1))
			if q == 0 {
				q = 1
			}
			ds, err := dataset.New(base.DatasetPath(), q, len(qz.Features), int(qz.NumLabels), dataset.SmallChunkBytes)
			if err != nil {
				return fmt.Errorf("rfctl: init dataset: %w", err)
			}
			if err := ds.Load(); err != nil {
				return fmt.Errorf("rfctl: load dataset: %w", err)
			}
			defer ds.Release(false)

			predictor := nodepredictor.New()
			if err := predictor.LoadLog(base.NodePredictorLogPath()); err != nil {
				dlog.Debugf(ctx, "no existing node-predictor log: %v", err)
			} else if err := predictor.Retrain(); err != nil {
				dlog.Debugf(ctx, "node-predictor log too short to retrain yet: %v", err)
			} else {
				predictor.TrainedSampleCount = ds.Size
			}

			timeLog, err := rflog.OpenTimeLog(base.TimeLogPath())
			if err != nil {
				return fmt.Errorf("rfctl: open time log: %w", err)
			}
			defer timeLog.Close()
			_ = timeLog.Anchor("train")

			res := forest.Resources{NumFeatures: ds.NumFeatures, NumLabels: ds.NumLabels, Groups: qz.GroupsPerFeature}
			f := &forest.Forest{}
			score, err := f.Train(ds.Size, res, ds.GetFeature, ds.GetLabel, cfg.TrainConfig(), predictor)
			if err != nil {
				return fmt.Errorf("rfctl: train: %w", err)
			}
			_ = timeLog.Anchor("train")
			rflog.LogMemUse(ctx)

			if memLog, err := rflog.OpenMemoryLog(base.MemoryLogPath()); err == nil {
				_ = memLog.Record(rflog.RuntimeMemStats())
				_ = memLog.Close()
			}

			if err := f.Save(base.ForestPath()); err != nil {
				return fmt.Errorf("rfctl: save forest: %w", err)
			}
			if err := predictor.SaveLog(base.NodePredictorLogPath()); err != nil {
				return fmt.Errorf("rfctl: save node-predictor log: %w", err)
			}
			if err := predictor.Save(base.NodePredictorPath()); err != nil {
				return fmt.Errorf("rfctl: save node-predictor: %w", err)
			}
			cfg.ResultScore = score
			if err := cfg.Save(base.ConfigPath()); err != nil {
				return fmt.Errorf("rfctl: save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "trained %d trees, %s score: %.4f\n", cfg.NumTrees, cfg.MetricScore, score)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force-ranges", false, "recompute hyperparameter ranges even if the config already has them")
	return cmd
}

// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/viettran-edgeAI/mcu-rf/pkg/nodepredictor"
	"github.com/viettran-edgeAI/mcu-rf/pkg/rfconfig"
)

func newRetrainPredictorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retrain-predictor <model-dir>",
		Short: "Refit the node-count predictor from its rolling observation log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := rfconfig.NewBase(args[0])

			predictor := nodepredictor.New()
			if err := predictor.LoadLog(base.NodePredictorLogPath()); err != nil {
				return fmt.Errorf("rfctl: load node-predictor log: %w", err)
			}
			if err := predictor.Retrain(); err != nil {
				return fmt.Errorf("rfctl: retrain: %w", err)
			}
			if summary, err := rfconfig.LoadDatasetSummary(base.DatasetSummaryPath()); err == nil {
				predictor.TrainedSampleCount = summary.NumSamples
			}
			if err := predictor.Save(base.NodePredictorPath()); err != nil {
				return fmt.Errorf("rfctl: save node-predictor: %w", err)
			}

			dump, err := predictor.DebugDump()
			if err != nil {
				return fmt.Errorf("rfctl: dump predictor state: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "retrained: %s\n", dump)
			return nil
		},
	}
}

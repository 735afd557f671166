// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/viettran-edgeAI/mcu-rf/pkg/forest"
	"github.com/viettran-edgeAI/mcu-rf/pkg/quantizer"
	"github.com/viettran-edgeAI/mcu-rf/pkg/rfconfig"
)

func newPredictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "predict <model-dir> <features...>",
		Short: "Quantize raw feature values and predict a label",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := rfconfig.NewBase(args[0])
			rawFeatures := args[1:]

			qz, err := quantizer.Load(base.QuantizerPath())
			if err != nil {
				return fmt.Errorf("rfctl: load quantizer: %w", err)
			}
			if len(rawFeatures) != len(qz.Features) {
				return fmt.Errorf("rfctl: expected %d feature values, got %d", len(qz.Features), len(rawFeatures))
			}

			values := make([]float32, len(rawFeatures))
			for i, s := range rawFeatures {
				v, err := strconv.ParseFloat(s, 32)
				if err != nil {
					return fmt.Errorf("rfctl: parse feature %d (%q): %w", i, s, err)
				}
				values[i] = float32(v)
			}
			result := qz.QuantizeFeatures(values)

			f, err := forest.Load(base.ForestPath())
			if err != nil {
				return fmt.Errorf("rfctl: load forest: %w", err)
			}
			label := f.Predict(func(feature int) uint32 { return result.Bins[feature] })

			out := cmd.OutOrStdout()
			if label == forest.ErrorLabel {
				fmt.Fprintln(out, "prediction: <none, no tree voted>")
			} else if int(label) < len(qz.LabelNames) && qz.LabelNames[label] != "" {
				fmt.Fprintf(out, "prediction: %d (%s)\n", label, qz.LabelNames[label])
			} else {
				fmt.Fprintf(out, "prediction: %d\n", label)
			}
			if result.Drift.OK {
				fmt.Fprintf(out, "warning: feature %d (value %v) fell outside its declared range\n", result.Drift.Val.Feature, result.Drift.Val.Value)
			}
			return nil
		},
	}
}

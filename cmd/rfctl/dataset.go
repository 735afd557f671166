// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/viettran-edgeAI/mcu-rf/pkg/dataset"
)

func newDatasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Inspect and convert dataset files",
	}
	cmd.AddCommand(newDatasetConvertCmd())
	cmd.AddCommand(newDatasetInspectCmd())
	return cmd
}

func newDatasetConvertCmd() *cobra.Command {
	var bits uint8
	var numFeatures int

	cmd := &cobra.Command{
		Use:   "convert <csv> <out>",
		Short: "Convert a label,feature... CSV into the packed dataset format",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if numFeatures <= 0 {
				return fmt.Errorf("rfctl: --features is required and must be positive")
			}
			if bits == 0 || bits > 8 {
				return fmt.Errorf("rfctl: --bits must be in [1, 8]")
			}
			csvPath, outPath := args[0], args[1]
			if err := dataset.ConvertFromCSV(csvPath, outPath, bits, numFeatures); err != nil {
				return fmt.Errorf("rfctl: convert %s: %w", csvPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().IntVar(&numFeatures, "features", 0, "number of feature columns (required)")
	cmd.Flags().Uint8Var(&bits, "bits", 4, "bits per feature value (Q)")
	return cmd
}

func newDatasetInspectCmd() *cobra.Command {
	var bits uint8

	cmd := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Print a packed dataset file's sample and feature counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("rfctl: open %s: %w", path, err)
			}
			defer f.Close()

			var count uint32
			var featureCount uint16
			if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
				return fmt.Errorf("rfctl: read sample_count: %w", err)
			}
			if err := binary.Read(f, binary.LittleEndian, &featureCount); err != nil {
				return fmt.Errorf("rfctl: read feature_count: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "samples: %s\n", strconv.FormatUint(uint64(count), 10))
			fmt.Fprintf(out, "features: %d\n", featureCount)

			// The header does not record Q, so per-label tallies need the
			// record stride supplied by the caller.
			if bits > 0 {
				recBytes := 1 + (int(featureCount)*int(bits)+7)/8
				rec := make([]byte, recBytes)
				labelCounts := map[uint8]uint32{}
				for i := uint32(0); i < count; i++ {
					if _, err := io.ReadFull(f, rec); err != nil {
						return fmt.Errorf("rfctl: read record %d: %w", i, err)
					}
					labelCounts[rec[0]]++
				}
				for l := 0; l < 256; l++ {
					if c, ok := labelCounts[uint8(l)]; ok {
						fmt.Fprintf(out, "samples_label_%d: %d\n", l, c)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().Uint8Var(&bits, "bits", 0, "bits per feature value (Q); when set, also tally per-label counts")
	return cmd
}

// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Command rfctl is the operator-facing CLI for a trained model directory:
// converting raw CSV into the packed dataset format, training a forest,
// predicting from raw feature values, and retraining the node-count
// predictor. Structured as a cobra command tree: a root command plus one
// subcommand per verb.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/viettran-edgeAI/mcu-rf/lib/profile"
	"github.com/viettran-edgeAI/mcu-rf/pkg/rflog"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "rfctl: error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	root, err := newRootCmd()
	if err != nil {
		return err
	}
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// rootLogLevel backs the --log-level persistent flag, defaulting to info.
var rootLogLevel = rflog.LogLevelFlag{Level: dlog.LogLevelInfo}

func newRootCmd() (*cobra.Command, error) {
	root := &cobra.Command{
		Use:           "rfctl",
		Short:         "Train and run on-device random forest models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log := rflog.NewLogger(cmd.OutOrStderr(), rootLogLevel.Level)
			cmd.SetContext(dlog.WithLogger(cmd.Context(), log))
			return nil
		},
	}

	stopProfiling := profile.AddProfileFlags(root.PersistentFlags(), "profile.")
	root.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		return stopProfiling()
	}

	root.PersistentFlags().Var(&rootLogLevel, "log-level", "set the logging level (error|warn|info|debug|trace)")
	_ = root.RegisterFlagCompletionFunc("log-level", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"error", "warn", "info", "debug", "trace"}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(newDatasetCmd())
	root.AddCommand(newTrainCmd())
	root.AddCommand(newPredictCmd())
	root.AddCommand(newRetrainPredictorCmd())

	return root, nil
}

// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rfconfig locates a model's on-disk files and derives training
// hyperparameters (ranges, impurity threshold, scoring strategy, metric
// selection) from a dataset's shape.
package rfconfig

import (
	"os"
	"path/filepath"
)

// Base locates every file belonging to one trained model, all living under
// one directory and sharing one name prefix.
type Base struct {
	Dir  string
	Name string
}

// NewBase derives a Base from a model directory, using the directory's own
// base name as the file-name prefix.
func NewBase(modelDir string) Base {
	return Base{Dir: modelDir, Name: filepath.Base(modelDir)}
}

func (b Base) path(suffix string) string {
	return filepath.Join(b.Dir, b.Name+"_"+suffix)
}

func (b Base) DatasetPath() string          { return b.path("dataset.bin") }
func (b Base) QuantizerPath() string        { return b.path("quantizer.qtz") }
func (b Base) ConfigPath() string           { return b.path("config.json") }
func (b Base) ForestPath() string           { return b.path("forest.frc3") }
func (b Base) NodePredictorPath() string    { return b.path("predictor.npd") }
func (b Base) NodePredictorLogPath() string { return b.path("predictor_log.csv") }
func (b Base) DatasetSummaryPath() string   { return b.path("summary.csv") }
func (b Base) TimeLogPath() string          { return b.path("time.csv") }
func (b Base) MemoryLogPath() string        { return b.path("mem.csv") }

// ReadyToUse reports whether the quantizer, forest, and config files all
// exist, i.e. whether the model can serve predictions without retraining.
func (b Base) ReadyToUse() bool {
	for _, p := range []string{b.QuantizerPath(), b.ForestPath(), b.ConfigPath()} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

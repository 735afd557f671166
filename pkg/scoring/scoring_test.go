// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package scoring_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viettran-edgeAI/mcu-rf/pkg/scoring"
)

func TestAccuracyAllCorrect(t *testing.T) {
	t.Parallel()
	c := scoring.NewCounters(2)
	for i := 0; i < 5; i++ {
		c.Record(0, 0)
	}
	require.Equal(t, 1.0, c.Accuracy())
}

func TestPrecisionRecallF1(t *testing.T) {
	t.Parallel()
	c := scoring.NewCounters(2)
	// label0: 3 TP, 1 FP (predicted 0 actual 1), 1 FN (predicted 1 actual 0)
	c.Record(0, 0)
	c.Record(0, 0)
	c.Record(0, 0)
	c.Record(0, 1)
	c.Record(1, 0)
	c.Record(1, 1)

	require.InDelta(t, 4.0/6.0, c.Accuracy(), 1e-9)
	require.Greater(t, c.Precision(), 0.0)
	require.Greater(t, c.Recall(), 0.0)
	require.Greater(t, c.F1Score(), 0.0)
}

func TestCalculateScoreAveragesSelectedMetrics(t *testing.T) {
	t.Parallel()
	c := scoring.NewCounters(2)
	c.Record(0, 0)
	c.Record(1, 1)
	only := c.CalculateScore(scoring.Accuracy)
	require.Equal(t, c.Accuracy(), only)

	combined := c.CalculateScore(scoring.Accuracy | scoring.Precision)
	require.InDelta(t, (c.Accuracy()+c.Precision())/2, combined, 1e-9)
}

func TestEmptyCountersDoNotDivideByZero(t *testing.T) {
	t.Parallel()
	c := scoring.NewCounters(3)
	require.Equal(t, 0.0, c.Accuracy())
	require.Equal(t, 0.0, c.Precision())
	require.Equal(t, 0.0, c.Recall())
	require.Equal(t, 0.0, c.F1Score())
}

// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rfconfig

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SaveDatasetSummary writes s as the "parameter,value" CSV described in
// the model directory: num_samples,
// num_features, num_labels, then one samples_label_<i> row per label.
func SaveDatasetSummary(path string, s DatasetSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("rfconfig: create %s: %w", path, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)

	rows := [][]string{
		{"num_samples", strconv.Itoa(s.NumSamples)},
		{"num_features", strconv.Itoa(s.NumFeatures)},
		{"num_labels", strconv.Itoa(s.NumLabels)},
	}
	for i, c := range s.LabelCounts {
		rows = append(rows, []string{fmt.Sprintf("samples_label_%d", i), strconv.FormatUint(uint64(c), 10)})
	}
	if err := w.Write([]string{"parameter", "value"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// LoadDatasetSummary parses a dataset-summary CSV written by
// SaveDatasetSummary.
func LoadDatasetSummary(path string) (DatasetSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return DatasetSummary{}, fmt.Errorf("rfconfig: open %s: %w", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return DatasetSummary{}, fmt.Errorf("rfconfig: read %s: %w", path, err)
	}

	var s DatasetSummary
	labelCounts := map[int]uint32{}
	maxLabel := -1
	for _, row := range rows[1:] { // skip header
		if len(row) != 2 {
			continue
		}
		key, val := row[0], row[1]
		switch {
		case key == "num_samples":
			s.NumSamples, _ = strconv.Atoi(val)
		case key == "num_features":
			s.NumFeatures, _ = strconv.Atoi(val)
		case key == "num_labels":
			s.NumLabels, _ = strconv.Atoi(val)
		case strings.HasPrefix(key, "samples_label_"):
			idxStr := strings.TrimPrefix(key, "samples_label_")
			idx, e1 := strconv.Atoi(idxStr)
			count, e2 := strconv.ParseUint(val, 10, 32)
			if e1 != nil || e2 != nil {
				continue
			}
			labelCounts[idx] = uint32(count)
			if idx > maxLabel {
				maxLabel = idx
			}
		}
	}
	if maxLabel >= 0 {
		s.LabelCounts = make([]uint32, maxLabel+1)
		for i, c := range labelCounts {
			s.LabelCounts[i] = c
		}
	}
	return s, nil
}

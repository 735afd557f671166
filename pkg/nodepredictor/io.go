// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package nodepredictor

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"git.lukeshu.com/go/lowmemjson"
)

// npdMagic is the 4-byte little-endian magic of the .npd predictor file:
// u32 0x4E4F4445, "NODE" read back-to-front on disk.
const npdMagic uint32 = 0x4E4F4445

// SaveLog writes the persisted log (newest-first, <=50 rows) to path as a
// CSV with header "min_split,min_leaf,max_depth,total_nodes".
func (p *Predictor) SaveLog(path string) error {
	p.FlushPending()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("nodepredictor: create %s: %w", path, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"min_split", "min_leaf", "max_depth", "total_nodes"}); err != nil {
		return err
	}
	for _, r := range p.Log {
		row := []string{
			strconv.Itoa(int(r.MinSplit)),
			strconv.Itoa(int(r.MinLeaf)),
			strconv.Itoa(int(r.MaxDepth)),
			strconv.FormatUint(uint64(r.TotalNodes), 10),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// LoadLog reads a previously-saved log CSV into p.Log, replacing any
// existing rows. Malformed rows are skipped.
func (p *Predictor) LoadLog(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("nodepredictor: open %s: %w", path, err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("nodepredictor: read %s: %w", path, err)
	}
	if len(rows) == 0 {
		p.Log = nil
		return nil
	}
	var out []LogRow
	for _, row := range rows[1:] { // skip header
		if len(row) != 4 {
			continue
		}
		minSplit, e1 := strconv.ParseUint(row[0], 10, 8)
		minLeaf, e2 := strconv.ParseUint(row[1], 10, 8)
		maxDepth, e3 := strconv.ParseUint(row[2], 10, 16)
		totalNodes, e4 := strconv.ParseUint(row[3], 10, 32)
		if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
			continue
		}
		out = append(out, LogRow{
			MinSplit: uint8(minSplit), MinLeaf: uint8(minLeaf),
			MaxDepth: uint16(maxDepth), TotalNodes: uint32(totalNodes),
		})
	}
	if len(out) > maxLogRows {
		out = out[:maxLogRows]
	}
	p.Log = out
	return nil
}

// Save writes the trained coefficients to path in the .npd format: magic,
// is_trained byte (informational), accuracy, peak_percent,
// num_coefficients, then that many float32s.
func (p *Predictor) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("nodepredictor: create %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	if err := binary.Write(w, binary.LittleEndian, npdMagic); err != nil {
		return err
	}
	isTrained := uint8(0)
	if p.Trained {
		isTrained = 1
	}
	if err := binary.Write(w, binary.LittleEndian, isTrained); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(clamp(p.AccuracyPercent, 0, 255))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, p.PeakPercent); err != nil {
		return err
	}
	const numCoefficients = 4
	if err := binary.Write(w, binary.LittleEndian, uint8(numCoefficients)); err != nil {
		return err
	}
	for _, c := range []float64{p.Bias, p.CSplit, p.CLeaf, p.CDepth} {
		if err := binary.Write(w, binary.LittleEndian, float32(c)); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Load reads a .npd file into a new Predictor. A successful load sets
// Trained=true whatever the file's is_trained byte holds.
func Load(path string) (*Predictor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nodepredictor: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadFrom(bufio.NewReader(f))
}

// ReadFrom parses a .npd stream.
func ReadFrom(r io.Reader) (*Predictor, error) {
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("nodepredictor: read magic: %w", err)
	}
	if magic != npdMagic {
		return nil, fmt.Errorf("nodepredictor: bad magic %#x, want %#x", magic, npdMagic)
	}

	var isTrainedByte, accuracyByte, peakPercent, numCoeff uint8
	if err := binary.Read(r, binary.LittleEndian, &isTrainedByte); err != nil {
		return nil, fmt.Errorf("nodepredictor: read is_trained: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &accuracyByte); err != nil {
		return nil, fmt.Errorf("nodepredictor: read accuracy: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &peakPercent); err != nil {
		return nil, fmt.Errorf("nodepredictor: read peak_percent: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &numCoeff); err != nil {
		return nil, fmt.Errorf("nodepredictor: read num_coefficients: %w", err)
	}
	if numCoeff != 3 && numCoeff != 4 {
		return nil, fmt.Errorf("nodepredictor: unsupported coefficient count %d", numCoeff)
	}
	coeffs := make([]float32, numCoeff)
	for i := range coeffs {
		if err := binary.Read(r, binary.LittleEndian, &coeffs[i]); err != nil {
			return nil, fmt.Errorf("nodepredictor: read coefficient[%d]: %w", i, err)
		}
	}

	p := New()
	p.Bias = float64(coeffs[0])
	p.CSplit = float64(coeffs[1])
	p.CLeaf = float64(coeffs[2])
	if numCoeff == 4 {
		p.CDepth = float64(coeffs[3])
	}
	p.AccuracyPercent = float64(accuracyByte)
	p.PeakPercent = peakPercent
	_ = isTrainedByte // informational only; a clean parse is what sets Trained.
	p.Trained = true
	return p, nil
}

// snapshot is the lowmemjson-encoded debug dump of a predictor's fitted
// state.
type snapshot struct {
	Trained         bool    `json:"trained"`
	Bias            float64 `json:"bias"`
	CSplit          float64 `json:"c_split"`
	CLeaf           float64 `json:"c_leaf"`
	CDepth          float64 `json:"c_depth"`
	AccuracyPercent float64 `json:"accuracy_percent"`
	LogRows         int     `json:"log_rows"`
}

// DebugDump renders the predictor's fitted coefficients as a compact JSON
// blob, via lowmemjson rather than encoding/json, for CLI "inspect" output.
func (p *Predictor) DebugDump() ([]byte, error) {
	var buf bytes.Buffer
	err := lowmemjson.NewEncoder(lowmemjson.NewReEncoder(&buf, lowmemjson.ReEncoderConfig{
		CompactIfUnder: 120,
	})).Encode(snapshot{
		Trained:         p.Trained,
		Bias:            p.Bias,
		CSplit:          p.CSplit,
		CLeaf:           p.CLeaf,
		CDepth:          p.CDepth,
		AccuracyPercent: math.Round(p.AccuracyPercent*100) / 100,
		LogRows:         len(p.Log),
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

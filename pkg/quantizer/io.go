// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package quantizer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// qtz4Magic is the 4-byte magic of the QTZ4 wire format.
var qtz4Magic = [4]byte{'Q', 'T', 'Z', '4'}

// Save writes the quantizer to path using the QTZ4 binary layout.
func (q *Quantizer) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("quantizer: create %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := q.WriteTo(w); err != nil {
		return err
	}
	return w.Flush()
}

// WriteTo serializes the quantizer in QTZ4 layout.
func (q *Quantizer) WriteTo(w io.Writer) error {
	if _, err := w.Write(qtz4Magic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(q.Features))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(q.GroupsPerFeature)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, q.NumLabels); err != nil {
		return err
	}

	outlierFlag := uint8(0)
	for _, f := range q.Features {
		if f.HasOutlierStats {
			outlierFlag = 1
			break
		}
	}
	if err := binary.Write(w, binary.LittleEndian, outlierFlag); err != nil {
		return err
	}
	if outlierFlag == 1 {
		for _, f := range q.Features {
			if err := binary.Write(w, binary.LittleEndian, f.Mean); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, f.Stdev); err != nil {
				return err
			}
		}
	}

	for id, name := range q.LabelNames {
		if err := binary.Write(w, binary.LittleEndian, uint8(id)); err != nil {
			return err
		}
		if len(name) > 255 {
			return fmt.Errorf("quantizer: label name %q exceeds 255 bytes", name)
		}
		if err := binary.Write(w, binary.LittleEndian, uint8(len(name))); err != nil {
			return err
		}
		if _, err := w.Write([]byte(name)); err != nil {
			return err
		}
	}

	for _, f := range q.Features {
		if err := binary.Write(w, binary.LittleEndian, uint8(f.Type)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, f.Min); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, f.Max); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, f.BaselineScaled); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, f.Scale); err != nil {
			return err
		}
		switch f.Type {
		case FTDiscrete:
			if len(f.DiscreteValues) > 255 {
				return fmt.Errorf("quantizer: too many discrete values for feature")
			}
			if err := binary.Write(w, binary.LittleEndian, uint8(len(f.DiscreteValues))); err != nil {
				return err
			}
			for _, v := range f.DiscreteValues {
				if err := binary.Write(w, binary.LittleEndian, v); err != nil {
					return err
				}
			}
		case FTCustomUniform:
			if len(f.EdgesScaled) > 255 {
				return fmt.Errorf("quantizer: too many edges for feature")
			}
			if err := binary.Write(w, binary.LittleEndian, uint8(len(f.EdgesScaled))); err != nil {
				return err
			}
			for _, e := range f.EdgesScaled {
				if err := binary.Write(w, binary.LittleEndian, e); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Load reads a QTZ4 file from path. On any corruption (bad magic, short
// read, out-of-range label id) it returns a non-nil error and does not return a
// partially constructed Quantizer.
func Load(path string) (*Quantizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("quantizer: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadFrom(bufio.NewReader(f))
}

// ReadFrom parses a QTZ4 stream.
func ReadFrom(r io.Reader) (*Quantizer, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("quantizer: read magic: %w", err)
	}
	if magic != qtz4Magic {
		return nil, fmt.Errorf("quantizer: bad magic %q, want %q", magic, qtz4Magic)
	}

	var numFeatures, groups uint16
	if err := binary.Read(r, binary.LittleEndian, &numFeatures); err != nil {
		return nil, fmt.Errorf("quantizer: read num_features: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &groups); err != nil {
		return nil, fmt.Errorf("quantizer: read groups_per_feature: %w", err)
	}

	q := &Quantizer{GroupsPerFeature: uint32(groups)}
	if err := binary.Read(r, binary.LittleEndian, &q.NumLabels); err != nil {
		return nil, fmt.Errorf("quantizer: read label_count: %w", err)
	}

	var outlierFlag uint8
	if err := binary.Read(r, binary.LittleEndian, &outlierFlag); err != nil {
		return nil, fmt.Errorf("quantizer: read outlier_flag: %w", err)
	}

	var outlierStats []struct{ mean, stdev float32 }
	if outlierFlag == 1 {
		outlierStats = make([]struct{ mean, stdev float32 }, numFeatures)
		for i := range outlierStats {
			if err := binary.Read(r, binary.LittleEndian, &outlierStats[i].mean); err != nil {
				return nil, fmt.Errorf("quantizer: read outlier mean[%d]: %w", i, err)
			}
			if err := binary.Read(r, binary.LittleEndian, &outlierStats[i].stdev); err != nil {
				return nil, fmt.Errorf("quantizer: read outlier stdev[%d]: %w", i, err)
			}
		}
	}

	q.LabelNames = make([]string, q.NumLabels)
	for i := 0; i < int(q.NumLabels); i++ {
		var id, length uint8
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("quantizer: read label id: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, fmt.Errorf("quantizer: read label length: %w", err)
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("quantizer: read label text: %w", err)
		}
		if int(id) >= len(q.LabelNames) {
			return nil, fmt.Errorf("quantizer: label id %d out of range", id)
		}
		q.LabelNames[id] = string(buf)
	}

	q.Features = make([]*Feature, numFeatures)
	for i := range q.Features {
		ft := &Feature{}
		var typ uint8
		if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
			return nil, fmt.Errorf("quantizer: read feature[%d] type: %w", i, err)
		}
		ft.Type = FeatureType(typ)
		if err := binary.Read(r, binary.LittleEndian, &ft.Min); err != nil {
			return nil, fmt.Errorf("quantizer: read feature[%d] min: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &ft.Max); err != nil {
			return nil, fmt.Errorf("quantizer: read feature[%d] max: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &ft.BaselineScaled); err != nil {
			return nil, fmt.Errorf("quantizer: read feature[%d] baseline: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &ft.Scale); err != nil {
			return nil, fmt.Errorf("quantizer: read feature[%d] scale: %w", i, err)
		}
		switch ft.Type {
		case FTDiscrete:
			var cnt uint8
			if err := binary.Read(r, binary.LittleEndian, &cnt); err != nil {
				return nil, fmt.Errorf("quantizer: read feature[%d] discrete count: %w", i, err)
			}
			ft.DiscreteValues = make([]float32, cnt)
			for j := range ft.DiscreteValues {
				if err := binary.Read(r, binary.LittleEndian, &ft.DiscreteValues[j]); err != nil {
					return nil, fmt.Errorf("quantizer: read feature[%d] discrete[%d]: %w", i, j, err)
				}
			}
		case FTCustomUniform:
			var cnt uint8
			if err := binary.Read(r, binary.LittleEndian, &cnt); err != nil {
				return nil, fmt.Errorf("quantizer: read feature[%d] edge count: %w", i, err)
			}
			ft.EdgesScaled = make([]uint16, cnt)
			for j := range ft.EdgesScaled {
				if err := binary.Read(r, binary.LittleEndian, &ft.EdgesScaled[j]); err != nil {
					return nil, fmt.Errorf("quantizer: read feature[%d] edge[%d]: %w", i, j, err)
				}
			}
		}
		if outlierStats != nil {
			ft.HasOutlierStats = true
			ft.Mean = outlierStats[i].mean
			ft.Stdev = outlierStats[i].stdev
		}
		q.Features[i] = ft
	}
	return q, nil
}

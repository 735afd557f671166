// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package forest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/viettran-edgeAI/mcu-rf/lib/binstruct"
	"github.com/viettran-edgeAI/mcu-rf/pkg/tree"
)

// frc3Magic is the 4-byte magic of the unified forest wire format.
var frc3Magic = [4]byte{'F', 'R', 'C', '3'}

const frc3Version = 3

// frc3Header is the fixed-size FRC3 preamble: magic, version, the unified
// flag, the tree count, the shared dimensions, and the four layout bit
// widths written once for the whole forest (each tree's TRC3 block still
// carries the widths its own streams were packed with).
type frc3Header struct {
	Magic         [4]byte `bin:"off=0x0, siz=0x4"`
	Version       uint8   `bin:"off=0x4, siz=0x1"`
	IsUnified     uint8   `bin:"off=0x5, siz=0x1"`
	NumTrees      uint32  `bin:"off=0x6, siz=0x4"`
	NumFeatures   uint32  `bin:"off=0xa, siz=0x4"`
	NumLabels     uint32  `bin:"off=0xe, siz=0x4"`
	Groups        uint32  `bin:"off=0x12, siz=0x4"`
	ThresholdBits uint8   `bin:"off=0x16, siz=0x1"`
	FeatureBits   uint8   `bin:"off=0x17, siz=0x1"`
	LabelBits     uint8   `bin:"off=0x18, siz=0x1"`
	ChildBits     uint8   `bin:"off=0x19, siz=0x1"`
	binstruct.End `bin:"off=0x1a"`
}

// Save writes the forest to path. If f.IsUnified, every tree is inlined
// into one FRC3 file; otherwise each tree is written to its own TRC3 file
// alongside path, named "<path>.<i>.trc3", and path itself holds only the
// FRC3 header plus a manifest of tree count.
func (f *Forest) Save(path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("forest: create %s: %w", path, err)
	}
	defer out.Close()
	w := bufio.NewWriter(out)

	if err := f.writeHeader(w); err != nil {
		return err
	}

	if f.IsUnified {
		for i, ct := range f.Trees {
			if err := ct.WriteTo(w); err != nil {
				return fmt.Errorf("forest: write tree %d: %w", i, err)
			}
		}
		return w.Flush()
	}

	if err := w.Flush(); err != nil {
		return err
	}
	for i, ct := range f.Trees {
		treePath := perTreePath(path, i)
		if err := ct.Save(treePath); err != nil {
			return fmt.Errorf("forest: save tree %d to %s: %w", i, treePath, err)
		}
	}
	return nil
}

func perTreePath(basePath string, i int) string {
	dir, base := filepath.Split(basePath)
	return filepath.Join(dir, fmt.Sprintf("%s.%d.trc3", base, i))
}

func (f *Forest) writeHeader(w io.Writer) error {
	f.stampWidths()
	hdr := frc3Header{
		Magic:         frc3Magic,
		Version:       frc3Version,
		NumTrees:      uint32(len(f.Trees)),
		NumFeatures:   uint32(f.Resources.NumFeatures),
		NumLabels:     uint32(f.Resources.NumLabels),
		Groups:        f.Resources.Groups,
		ThresholdBits: f.Resources.ThresholdBits,
		FeatureBits:   f.Resources.FeatureBits,
		LabelBits:     f.Resources.LabelBits,
		ChildBits:     f.Resources.ChildBits,
	}
	if f.IsUnified {
		hdr.IsUnified = 1
	}
	dat, err := binstruct.Marshal(hdr)
	if err != nil {
		return err
	}
	_, err = w.Write(dat)
	return err
}

// stampWidths records in Resources the widest layout widths any tree in the
// forest uses.
func (f *Forest) stampWidths() {
	var thresholdBits, featureBits, labelBits, childBits uint8
	for _, ct := range f.Trees {
		tb, fb, lb, cb := ct.BitWidths()
		if tb > thresholdBits {
			thresholdBits = tb
		}
		if fb > featureBits {
			featureBits = fb
		}
		if lb > labelBits {
			labelBits = lb
		}
		if cb > childBits {
			childBits = cb
		}
	}
	f.Resources.ThresholdBits = thresholdBits
	f.Resources.FeatureBits = featureBits
	f.Resources.LabelBits = labelBits
	f.Resources.ChildBits = childBits
}

// Load reads a forest previously written by Save. Unified files carry
// every tree inline; non-unified files carry only the header, and each
// tree is loaded from its sibling "<path>.<i>.trc3" file.
func Load(path string) (*Forest, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("forest: open %s: %w", path, err)
	}
	defer in.Close()
	r := bufio.NewReader(in)

	f, numTrees, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	if f.IsUnified {
		for i := 0; i < numTrees; i++ {
			ct, err := tree.ReadFrom(r)
			if err != nil {
				return nil, fmt.Errorf("forest: read tree %d: %w", i, err)
			}
			f.Trees = append(f.Trees, ct)
		}
		return f, nil
	}

	for i := 0; i < numTrees; i++ {
		treePath := perTreePath(path, i)
		ct, err := tree.Load(treePath)
		if err != nil {
			return nil, fmt.Errorf("forest: load tree %d from %s: %w", i, treePath, err)
		}
		f.Trees = append(f.Trees, ct)
	}
	return f, nil
}

func readHeader(r io.Reader) (*Forest, int, error) {
	buf := make([]byte, binstruct.StaticSize(frc3Header{}))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, 0, fmt.Errorf("forest: read header: %w", err)
	}
	var hdr frc3Header
	if _, err := binstruct.Unmarshal(buf, &hdr); err != nil {
		return nil, 0, fmt.Errorf("forest: parse header: %w", err)
	}
	if hdr.Magic != frc3Magic {
		return nil, 0, fmt.Errorf("forest: bad magic %q, want %q", hdr.Magic, frc3Magic)
	}
	if hdr.Version != frc3Version {
		return nil, 0, fmt.Errorf("forest: unsupported version %d, want %d", hdr.Version, frc3Version)
	}

	f := &Forest{
		IsUnified: hdr.IsUnified != 0,
		Resources: Resources{
			NumFeatures:   int(hdr.NumFeatures),
			NumLabels:     int(hdr.NumLabels),
			Groups:        hdr.Groups,
			ThresholdBits: hdr.ThresholdBits,
			FeatureBits:   hdr.FeatureBits,
			LabelBits:     hdr.LabelBits,
			ChildBits:     hdr.ChildBits,
		},
	}
	return f, int(hdr.NumTrees), nil
}

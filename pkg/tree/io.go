// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package tree

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/viettran-edgeAI/mcu-rf/lib/binstruct"
	"github.com/viettran-edgeAI/mcu-rf/pkg/packedvector"
)

// trc3Magic is the 4-byte magic of the TRC3 wire format.
var trc3Magic = [4]byte{'T', 'R', 'C', '3'}

const trc3Version = 3

// trc3Header is the fixed-size TRC3 preamble: magic, version, the four
// layout bit widths, the root pointer, and the per-kind element counts.
type trc3Header struct {
	Magic         [4]byte `bin:"off=0x0, siz=0x4"`
	Version       uint8   `bin:"off=0x4, siz=0x1"`
	ThresholdBits uint8   `bin:"off=0x5, siz=0x1"`
	FeatureBits   uint8   `bin:"off=0x6, siz=0x1"`
	LabelBits     uint8   `bin:"off=0x7, siz=0x1"`
	ChildBits     uint8   `bin:"off=0x8, siz=0x1"`
	RootIsLeaf    uint8   `bin:"off=0x9, siz=0x1"`
	RootIndex     uint32  `bin:"off=0xa, siz=0x4"`
	InternalCount uint32  `bin:"off=0xe, siz=0x4"`
	MixedCount    uint32  `bin:"off=0x12, siz=0x4"`
	LeafCount     uint32  `bin:"off=0x16, siz=0x4"`
	binstruct.End `bin:"off=0x1a"`
}

// writeField marshals one binstruct scalar and writes it to w.
func writeField(w io.Writer, v interface {
	MarshalBinary() ([]byte, error)
}) error {
	b, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func readField(r io.Reader, v interface {
	UnmarshalBinary([]byte) (int, error)
}, size int) error {
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	_, err := v.UnmarshalBinary(buf)
	return err
}

// Save writes the compact tree to path in TRC3 format.
func (ct *CompactTree) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("tree: create %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := ct.WriteTo(w); err != nil {
		return err
	}
	return w.Flush()
}

// WriteTo serializes the compact tree in TRC3 layout: magic, version, four
// bit widths, root pointer, per-kind counts, then the branch_kind bitmap
// followed by one byte-aligned packed stream per field.
func (ct *CompactTree) WriteTo(w io.Writer) error {
	thresholdBits, featureBits, labelBits, childBits := ct.bitWidths()

	hdr := trc3Header{
		Magic:         trc3Magic,
		Version:       trc3Version,
		ThresholdBits: thresholdBits,
		FeatureBits:   featureBits,
		LabelBits:     labelBits,
		ChildBits:     childBits,
		RootIndex:     ct.RootIndex,
		InternalCount: uint32(len(ct.Internal)),
		MixedCount:    uint32(len(ct.Mixed)),
		LeafCount:     uint32(len(ct.Leaf)),
	}
	if ct.RootIsLeaf {
		hdr.RootIsLeaf = 1
	}
	dat, err := binstruct.Marshal(hdr)
	if err != nil {
		return err
	}
	if _, err := w.Write(dat); err != nil {
		return err
	}

	branchCount := len(ct.Internal) + len(ct.Mixed)
	wordCount := (branchCount + wordBitsForRank - 1) / wordBitsForRank
	words := ct.BranchKind.RawWords()
	for i := 0; i < wordCount; i++ {
		var word uint32
		if i < len(words) {
			word = words[i]
		}
		if err := writeField(w, binstruct.U32le(word)); err != nil {
			return err
		}
	}

	if err := writePacked(w, internalFlags(ct.Internal), 1); err != nil {
		return err
	}
	if err := writePacked(w, internalThresholds(ct.Internal), thresholdBits); err != nil {
		return err
	}
	if err := writePacked(w, internalFeatures(ct.Internal), featureBits); err != nil {
		return err
	}
	if err := writePacked(w, internalLefts(ct.Internal), childBits); err != nil {
		return err
	}

	if err := writePacked(w, mixedFlags(ct.Mixed), 1); err != nil {
		return err
	}
	if err := writePacked(w, mixedThresholds(ct.Mixed), thresholdBits); err != nil {
		return err
	}
	if err := writePacked(w, mixedFeatures(ct.Mixed), featureBits); err != nil {
		return err
	}
	if err := writePacked(w, mixedLefts(ct.Mixed), childBits); err != nil {
		return err
	}
	if err := writePacked(w, mixedRights(ct.Mixed), childBits); err != nil {
		return err
	}

	leafVals := make([]uint32, len(ct.Leaf))
	for i, l := range ct.Leaf {
		leafVals[i] = uint32(l)
	}
	return writePacked(w, leafVals, labelBits)
}

// BitWidths computes the four layout widths from the values actually
// present: threshold width clamped to <=8, feature/label/child widths sized
// to the largest value each stream holds. The forest serializer uses it to
// record the widest widths any tree needs once in the forest preamble.
func (ct *CompactTree) BitWidths() (thresholdBits, featureBits, labelBits, childBits uint8) {
	return ct.bitWidths()
}

func (ct *CompactTree) bitWidths() (thresholdBits, featureBits, labelBits, childBits uint8) {
	maxThresh := 0
	maxFeature := 0
	for _, n := range ct.Internal {
		if int(n.Threshold) > maxThresh {
			maxThresh = int(n.Threshold)
		}
		if int(n.FeatureID) > maxFeature {
			maxFeature = int(n.FeatureID)
		}
	}
	for _, n := range ct.Mixed {
		if int(n.Threshold) > maxThresh {
			maxThresh = int(n.Threshold)
		}
		if int(n.FeatureID) > maxFeature {
			maxFeature = int(n.FeatureID)
		}
	}
	thresholdBits = bitsFor(maxThresh + 1)
	if thresholdBits > 8 {
		thresholdBits = 8
	}
	featureBits = bitsFor(maxFeature + 1)
	maxLabel := 0
	for _, l := range ct.Leaf {
		if int(l) > maxLabel {
			maxLabel = int(l)
		}
	}
	labelBits = bitsFor(maxLabel + 1)
	childBits = bitsFor(len(ct.Leaf))
	if b := bitsFor(len(ct.Internal) + len(ct.Mixed)); b > childBits {
		childBits = b
	}
	return
}

func internalFlags(ns []InternalNode) []uint32 {
	out := make([]uint32, len(ns))
	for i, n := range ns {
		if n.ChildrenAreLeaf {
			out[i] = 1
		}
	}
	return out
}
func internalThresholds(ns []InternalNode) []uint32 {
	out := make([]uint32, len(ns))
	for i, n := range ns {
		out[i] = n.Threshold
	}
	return out
}
func internalFeatures(ns []InternalNode) []uint32 {
	out := make([]uint32, len(ns))
	for i, n := range ns {
		out[i] = uint32(n.FeatureID)
	}
	return out
}
func internalLefts(ns []InternalNode) []uint32 {
	out := make([]uint32, len(ns))
	for i, n := range ns {
		out[i] = n.Left
	}
	return out
}
func mixedFlags(ns []MixedNode) []uint32 {
	out := make([]uint32, len(ns))
	for i, n := range ns {
		if n.LeftIsLeaf {
			out[i] = 1
		}
	}
	return out
}
func mixedThresholds(ns []MixedNode) []uint32 {
	out := make([]uint32, len(ns))
	for i, n := range ns {
		out[i] = n.Threshold
	}
	return out
}
func mixedFeatures(ns []MixedNode) []uint32 {
	out := make([]uint32, len(ns))
	for i, n := range ns {
		out[i] = uint32(n.FeatureID)
	}
	return out
}
func mixedLefts(ns []MixedNode) []uint32 {
	out := make([]uint32, len(ns))
	for i, n := range ns {
		out[i] = n.Left
	}
	return out
}
func mixedRights(ns []MixedNode) []uint32 {
	out := make([]uint32, len(ns))
	for i, n := range ns {
		out[i] = n.Right
	}
	return out
}

// writePacked packs values at bpv bits each, byte-aligned per element: each
// value is written little-endian in ceil(bpv/8) bytes.
func writePacked(w io.Writer, values []uint32, bpv uint8) error {
	if len(values) == 0 {
		return nil
	}
	pv := packedvector.New(bpv)
	pv.Resize(len(values))
	for i, v := range values {
		pv.SetUnsafe(i, v)
	}
	_, err := w.Write(pv.Bytes())
	return err
}

// readPacked is the inverse of writePacked.
func readPacked(r io.Reader, count int, bpv uint8) ([]uint32, error) {
	out := make([]uint32, count)
	if count == 0 {
		return out, nil
	}
	bytesPerElem := (int(bpv) + 7) / 8
	buf := make([]byte, count*bytesPerElem)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	for i := 0; i < count; i++ {
		var v uint32
		for b := 0; b < bytesPerElem; b++ {
			v |= uint32(buf[i*bytesPerElem+b]) << (8 * b)
		}
		mask := uint32(1)<<bpv - 1
		if bpv == 32 {
			mask = 0xFFFFFFFF
		}
		out[i] = v & mask
	}
	return out, nil
}

// Load reads a compact tree from path in TRC3 format. On any corruption
// (bad magic, version mismatch, short read) it returns a non-nil error
// without returning a partially constructed tree.
func Load(path string) (*CompactTree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tree: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadFrom(bufio.NewReader(f))
}

// ReadFrom parses a TRC3 stream.
func ReadFrom(r io.Reader) (*CompactTree, error) {
	buf := make([]byte, binstruct.StaticSize(trc3Header{}))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("tree: read header: %w", err)
	}
	var hdr trc3Header
	if _, err := binstruct.Unmarshal(buf, &hdr); err != nil {
		return nil, fmt.Errorf("tree: parse header: %w", err)
	}
	if hdr.Magic != trc3Magic {
		return nil, fmt.Errorf("tree: bad magic %q, want %q", hdr.Magic, trc3Magic)
	}
	if hdr.Version != trc3Version {
		return nil, fmt.Errorf("tree: unsupported version %d, want %d", hdr.Version, trc3Version)
	}
	thresholdBits, featureBits, labelBits, childBits := hdr.ThresholdBits, hdr.FeatureBits, hdr.LabelBits, hdr.ChildBits
	rootIsLeaf := hdr.RootIsLeaf
	rootIndex := hdr.RootIndex
	internalCount, mixedCount, leafCount := hdr.InternalCount, hdr.MixedCount, hdr.LeafCount

	branchCount := int(internalCount) + int(mixedCount)
	wordCount := (branchCount + wordBitsForRank - 1) / wordBitsForRank
	bk := packedvector.New(1)
	bk.Resize(branchCount)
	for i := 0; i < wordCount; i++ {
		var word binstruct.U32le
		if err := readField(r, &word, 4); err != nil {
			return nil, fmt.Errorf("tree: read branch_kind word %d: %w", i, err)
		}
		base := i * wordBitsForRank
		for bit := 0; bit < wordBitsForRank && base+bit < branchCount; bit++ {
			bk.SetUnsafe(base+bit, (uint32(word)>>bit)&1)
		}
	}

	flags, err := readPacked(r, int(internalCount), 1)
	if err != nil {
		return nil, fmt.Errorf("tree: read internal flags: %w", err)
	}
	thresholds, err := readPacked(r, int(internalCount), thresholdBits)
	if err != nil {
		return nil, fmt.Errorf("tree: read internal thresholds: %w", err)
	}
	features, err := readPacked(r, int(internalCount), featureBits)
	if err != nil {
		return nil, fmt.Errorf("tree: read internal features: %w", err)
	}
	lefts, err := readPacked(r, int(internalCount), childBits)
	if err != nil {
		return nil, fmt.Errorf("tree: read internal lefts: %w", err)
	}
	internal := make([]InternalNode, internalCount)
	for i := range internal {
		internal[i] = InternalNode{
			ChildrenAreLeaf: flags[i] != 0,
			Threshold:       thresholds[i],
			FeatureID:       uint16(features[i]),
			Left:            lefts[i],
		}
	}

	mFlags, err := readPacked(r, int(mixedCount), 1)
	if err != nil {
		return nil, fmt.Errorf("tree: read mixed flags: %w", err)
	}
	mThresholds, err := readPacked(r, int(mixedCount), thresholdBits)
	if err != nil {
		return nil, fmt.Errorf("tree: read mixed thresholds: %w", err)
	}
	mFeatures, err := readPacked(r, int(mixedCount), featureBits)
	if err != nil {
		return nil, fmt.Errorf("tree: read mixed features: %w", err)
	}
	mLefts, err := readPacked(r, int(mixedCount), childBits)
	if err != nil {
		return nil, fmt.Errorf("tree: read mixed lefts: %w", err)
	}
	mRights, err := readPacked(r, int(mixedCount), childBits)
	if err != nil {
		return nil, fmt.Errorf("tree: read mixed rights: %w", err)
	}
	mixed := make([]MixedNode, mixedCount)
	for i := range mixed {
		mixed[i] = MixedNode{
			LeftIsLeaf: mFlags[i] != 0,
			Threshold:  mThresholds[i],
			FeatureID:  uint16(mFeatures[i]),
			Left:       mLefts[i],
			Right:      mRights[i],
		}
	}

	leafVals, err := readPacked(r, int(leafCount), labelBits)
	if err != nil {
		return nil, fmt.Errorf("tree: read leaves: %w", err)
	}
	leaf := make([]uint8, leafCount)
	for i, v := range leafVals {
		leaf[i] = uint8(v)
	}

	return &CompactTree{
		RootIsLeaf:  rootIsLeaf != 0,
		RootIndex:   rootIndex,
		Internal:    internal,
		Mixed:       mixed,
		Leaf:        leaf,
		BranchKind:  bk,
		MixedPrefix: computeMixedPrefix(bk),
	}, nil
}

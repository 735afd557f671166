// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package dataset

import (
	"bufio"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/viettran-edgeAI/mcu-rf/lib/diskio"
	"github.com/viettran-edgeAI/mcu-rf/pkg/packedvector"
)

// recordBytes returns the on-disk byte length of one record: 1 label byte
// plus ceil(NumFeatures*Q/8) packed feature bytes.
func (d *Dataset) recordBytes() int {
	return 1 + (d.NumFeatures*int(d.Q)+7)/8
}

// readBatchBytes is the load-time read buffer budget, sized down
// to a whole number of records (minimum 1 record per batch).
const readBatchBytes = 2048

// writeBatchBytes is the release-time write buffer budget.
const writeBatchBytes = 512

// ConvertFromCSV is the one-shot CSV->binary convertor used to seed a new
// model directory. Each row is `label, f0,...,f_{F-1}` with integer values
// in [0, 2^Q). The CSV is removed after a successful conversion.
func ConvertFromCSV(csvPath, outPath string, q uint8, numFeatures int) error {
	in, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("dataset: open csv %s: %w", csvPath, err)
	}
	defer in.Close()

	reader := csv.NewReader(in)
	reader.FieldsPerRecord = numFeatures + 1

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("dataset: create %s: %w", outPath, err)
	}
	w := bufio.NewWriter(out)

	// Placeholder header, patched once the row count is known.
	if err := binary.Write(w, binary.LittleEndian, uint32(0)); err != nil {
		out.Close()
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(numFeatures)); err != nil {
		out.Close()
		return err
	}

	count := uint32(0)
	for {
		row, rerr := reader.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			// Malformed row: skip it and keep converting; the row is not
			// logged.
			continue
		}
		label, perr := strconv.ParseUint(row[0], 10, 8)
		if perr != nil {
			continue
		}
		feats := make([]uint32, numFeatures)
		ok := true
		for i := 0; i < numFeatures; i++ {
			v, perr := strconv.ParseUint(row[i+1], 10, 32)
			if perr != nil {
				ok = false
				break
			}
			feats[i] = uint32(v)
		}
		if !ok {
			continue
		}
		if err := writeRecord(w, uint8(label), feats, q); err != nil {
			out.Close()
			return err
		}
		count++
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	// Patch the header with the real count.
	f, err := os.OpenFile(outPath, os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := binary.Write(f, binary.LittleEndian, count); err != nil {
		return err
	}

	return os.Remove(csvPath)
}

func writeRecord(w io.Writer, label uint8, feats []uint32, q uint8) error {
	if _, err := w.Write([]byte{label}); err != nil {
		return err
	}
	pv := packedvector.New(q)
	pv.Resize(len(feats))
	for i, v := range feats {
		pv.Set(i, v)
	}
	_, err := w.Write(pv.PackedBytes())
	return err
}

// Load reads the header, pre-sizes chunks/labels, and streams records into
// RAM in batches. On any I/O error the load is aborted, chunks are cleared,
// and a non-nil error is returned without a partially-filled Dataset.
func (d *Dataset) Load() error {
	f, err := os.Open(d.FilePath)
	if err != nil {
		return fmt.Errorf("dataset: open %s: %w", d.FilePath, err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("dataset: read sample_count: %w", err)
	}
	var featureCount uint16
	if err := binary.Read(r, binary.LittleEndian, &featureCount); err != nil {
		return fmt.Errorf("dataset: read feature_count: %w", err)
	}
	if int(featureCount) != d.NumFeatures {
		return fmt.Errorf("dataset: feature_count mismatch: file has %d, dataset expects %d", featureCount, d.NumFeatures)
	}

	recBytes := d.recordBytes()
	numChunks := 0
	if int(count) > 0 {
		numChunks = (int(count) + d.SamplesPerChunk - 1) / d.SamplesPerChunk
	}
	chunks := make([]*packedvector.PackedVector, numChunks)
	labels := packedvector.New(d.LabelBits)
	labels.Resize(int(count))

	recsPerBatch := readBatchBytes / recBytes
	if recsPerBatch < 1 {
		recsPerBatch = 1
	}
	buf := make([]byte, recsPerBatch*recBytes)

	remaining := int(count)
	sampleIdx := 0
	for remaining > 0 {
		n := recsPerBatch
		if n > remaining {
			n = remaining
		}
		chunk := buf[:n*recBytes]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return fmt.Errorf("dataset: read batch at sample %d: %w", sampleIdx, err)
		}
		for i := 0; i < n; i++ {
			rec := chunk[i*recBytes : (i+1)*recBytes]
			label := rec[0]
			labels.SetUnsafe(sampleIdx, uint32(label))

			c, off := d.chunkOf(sampleIdx)
			if chunks[c] == nil {
				chunks[c] = packedvector.New(d.Q)
				sz := d.SamplesPerChunk
				if remain := int(count) - c*d.SamplesPerChunk; remain < sz {
					sz = remain
				}
				chunks[c].Resize(sz * d.NumFeatures)
			}
			unpackFeatures(chunks[c], off*d.NumFeatures, rec[1:], d.NumFeatures, d.Q)
			sampleIdx++
		}
		remaining -= n
	}

	d.chunks = chunks
	d.labels = labels
	d.Size = int(count)

	if d.PendingFilter != nil {
		d.ApplyUpdateFilterInPlace(d.PendingFilter, 1<<d.Q)
		d.PendingFilter = nil
	}
	return nil
}

// unpackFeatures reads numFeatures values of q bits each, LSB-first within
// each byte, from rec, and stores them into dst starting at dstOffset.
func unpackFeatures(dst *packedvector.PackedVector, dstOffset int, rec []byte, numFeatures int, q uint8) {
	bitPos := 0
	for i := 0; i < numFeatures; i++ {
		byteIdx := bitPos / 8
		bitOff := uint(bitPos % 8)
		var v uint32
		if bitOff+uint(q) <= 8 {
			v = uint32(rec[byteIdx]>>bitOff) & ((1 << q) - 1)
		} else {
			lo := uint32(rec[byteIdx]) >> bitOff
			hiBits := bitOff + uint(q) - 8
			hi := uint32(rec[byteIdx+1]) & ((1 << hiBits) - 1)
			v = (lo | (hi << (8 - bitOff))) & ((1 << q) - 1)
		}
		dst.SetUnsafe(dstOffset+i, v)
		bitPos += int(q)
	}
}

// packFeatures is the inverse of unpackFeatures, used by Release/Add to
// serialize a sample's features back into record bytes.
func packFeatures(rec []byte, features []uint32, q uint8) {
	bitPos := 0
	for _, v := range features {
		byteIdx := bitPos / 8
		bitOff := uint(bitPos % 8)
		v &= (1 << q) - 1
		rec[byteIdx] |= byte(v << bitOff)
		if bitOff+uint(q) > 8 {
			spill := 8 - bitOff
			rec[byteIdx+1] |= byte(v >> spill)
		}
		bitPos += int(q)
	}
}

// Release drops the in-RAM dataset. Unless reuse is true, it first
// serializes the dataset back to disk (batched in writeBatchBytes-sized
// writes); with reuse true the file is left untouched.
func (d *Dataset) Release(reuse bool) error {
	if !reuse {
		if err := d.writeBack(); err != nil {
			return err
		}
	}
	d.chunks = nil
	d.labels = nil
	return nil
}

func (d *Dataset) writeBack() error {
	f, err := os.Create(d.FilePath)
	if err != nil {
		return fmt.Errorf("dataset: create %s: %w", d.FilePath, err)
	}
	defer f.Close()
	w := bufio.NewWriterSize(f, writeBatchBytes)

	if err := binary.Write(w, binary.LittleEndian, uint32(d.Size)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(d.NumFeatures)); err != nil {
		return err
	}

	recBytes := d.recordBytes()
	rec := make([]byte, recBytes)
	feats := make([]uint32, d.NumFeatures)
	for s := 0; s < d.Size; s++ {
		for i := range rec {
			rec[i] = 0
		}
		rec[0] = d.GetLabel(s)
		c, off := d.chunkOf(s)
		for i := 0; i < d.NumFeatures; i++ {
			feats[i] = d.chunks[c].GetUnsafe(off*d.NumFeatures + i)
		}
		packFeatures(rec[1:], feats, d.Q)
		if _, err := w.Write(rec); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	// The disk copy now matches RAM; a pending remap no longer applies.
	d.PendingFilter = nil
	return nil
}

// Add appends newSamples to the on-disk file. When size+len(newSamples)
// exceeds maxSamples (0 disables the cap), the oldest records are evicted
// (FIFO) by shifting the remaining records to the start of the file; the
// labels of evicted samples are returned so per-label counters can be
// decremented without a full reload.
func (d *Dataset) Add(newSamples []Sample, maxSamples int) ([]uint8, error) {
	if d.Size+len(newSamples) > MaxSamples {
		return nil, fmt.Errorf("dataset: would exceed absolute cap of %d samples", MaxSamples)
	}

	osf, err := os.OpenFile(d.FilePath, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", d.FilePath, err)
	}
	f := &diskio.OSFile[int64]{File: osf}
	defer f.Close()

	recBytes := d.recordBytes()
	headerBytes := int64(6)

	// Append new records at the end.
	off := f.Size()
	rec := make([]byte, recBytes)
	for _, s := range newSamples {
		for i := range rec {
			rec[i] = 0
		}
		rec[0] = s.Label
		packFeatures(rec[1:], s.Features, d.Q)
		if _, err := f.WriteAt(rec, off); err != nil {
			return nil, err
		}
		off += int64(recBytes)
	}
	newSize := d.Size + len(newSamples)

	var removedLabels []uint8
	finalSize := newSize
	if maxSamples > 0 && newSize > maxSamples {
		evict := newSize - maxSamples
		removedLabels = make([]uint8, evict)

		buf := make([]byte, recBytes)
		for i := 0; i < evict; i++ {
			if _, err := f.ReadAt(buf, headerBytes+int64(i)*int64(recBytes)); err != nil {
				return nil, fmt.Errorf("dataset: read evicted record %d: %w", i, err)
			}
			removedLabels[i] = buf[0]
		}

		// Shift the remaining records to the front of the file.
		shiftBuf := make([]byte, recBytes)
		for i := 0; i < finalSize-evict; i++ {
			src := headerBytes + int64(evict+i)*int64(recBytes)
			dst := headerBytes + int64(i)*int64(recBytes)
			if _, err := f.ReadAt(shiftBuf, src); err != nil {
				return nil, fmt.Errorf("dataset: shift read %d: %w", i, err)
			}
			if _, err := f.WriteAt(shiftBuf, dst); err != nil {
				return nil, fmt.Errorf("dataset: shift write %d: %w", i, err)
			}
		}
		finalSize = maxSamples
		if err := f.Truncate(headerBytes + int64(finalSize)*int64(recBytes)); err != nil {
			return nil, err
		}
	}

	if _, err := f.WriteAt(uint32LE(uint32(finalSize)), 0); err != nil {
		return nil, err
	}
	d.Size = finalSize
	return removedLabels, nil
}

func uint32LE(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

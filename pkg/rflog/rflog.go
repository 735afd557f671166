// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rflog provides the ambient logging and telemetry story for the
// engine: a leveled logger built on dlog.Logger, plus append-only
// time-log/memory-log CSV writers using an "anchor" timestamp model.
package rflog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/viettran-edgeAI/mcu-rf/lib/textui"
)

// NewLogger constructs a dlog.Logger writing to out at the given level.
func NewLogger(out io.Writer, lvl dlog.LogLevel) dlog.Logger {
	return textui.NewLogger(out, lvl)
}

// LogLevelFlag is a pflag.Value binding a --log-level flag to a dlog level.
type LogLevelFlag = textui.LogLevelFlag

// WithModel returns a child logger tagged with the model name, using the
// "rf.model" field ordering already wired into lib/textui/log.go's
// fieldOrd/fieldName tables.
func WithModel(log dlog.Logger, model string) dlog.Logger {
	return log.WithField("rf.model", model)
}

// WithTree returns a child logger tagged with a tree index.
func WithTree(log dlog.Logger, idx int) dlog.Logger {
	return log.WithField("rf.tree", idx)
}

// WithFeature returns a child logger tagged with a feature index.
func WithFeature(log dlog.Logger, idx int) dlog.Logger {
	return log.WithField("rf.feature", idx)
}

// liveMem is the shared rate-limited runtime memory sampler behind
// LogMemUse.
var liveMem textui.LiveMemUse

// LogMemUse emits a one-line snapshot of Go-runtime memory use at info
// level.
func LogMemUse(ctx context.Context) {
	dlog.Infof(ctx, "mem: %v", &liveMem)
}

// MemStats is a point-in-time resource-telemetry snapshot: free heap, the
// largest free block, free disk space, heap-fragmentation percent, and the
// lowest-observed RAM/ROM low-water marks. RuntimeMemStats fills the
// Go-runtime-derived fields; FreeDisk/LowestRAM/LowestROM are supplied by
// the caller's platform layer, which lives outside this module.
type MemStats struct {
	Timestamp         time.Time
	FreeHeapBytes     uint64
	LargestBlockBytes uint64
	FreeDiskBytes     uint64
	FragmentPercent   float32
	LowestRAMBytes    uint64
	LowestROMBytes    uint64
}

// TimeLog is an append-only CSV of named "anchor" timestamps, matching
// the time-log file: each row is the elapsed duration between two
// anchors of the same name; the first anchor of a name writes no row.
type TimeLog struct {
	f        *os.File
	w        *bufio.Writer
	anchors  map[string]time.Time
	anchorID int
}

// OpenTimeLog opens (creating if necessary) the append-only time-log CSV at
// path.
func OpenTimeLog(path string) (*TimeLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rflog: open time log %s: %w", path, err)
	}
	if fi, _ := f.Stat(); fi != nil && fi.Size() == 0 {
		if _, err := f.WriteString("anchor,elapsed_ms\n"); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &TimeLog{f: f, w: bufio.NewWriter(f), anchors: map[string]time.Time{}}, nil
}

// Anchor records "now" under name and, if a previous anchor of the same
// name exists, appends the elapsed milliseconds since that anchor.
func (t *TimeLog) Anchor(name string) error {
	now := time.Now()
	prev, ok := t.anchors[name]
	t.anchors[name] = now
	if !ok {
		return nil
	}
	elapsed := now.Sub(prev).Milliseconds()
	if _, err := fmt.Fprintf(t.w, "%s,%d\n", name, elapsed); err != nil {
		return err
	}
	return t.w.Flush()
}

// Close flushes and closes the underlying file.
func (t *TimeLog) Close() error {
	if err := t.w.Flush(); err != nil {
		t.f.Close()
		return err
	}
	return t.f.Close()
}

// MemoryLog is an append-only CSV of MemStats snapshots.
type MemoryLog struct {
	f *os.File
	w *bufio.Writer
}

// OpenMemoryLog opens (creating if necessary) the append-only memory-log
// CSV at path.
func OpenMemoryLog(path string) (*MemoryLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rflog: open memory log %s: %w", path, err)
	}
	if fi, _ := f.Stat(); fi != nil && fi.Size() == 0 {
		const header = "timestamp,free_heap,largest_block,free_disk,fragment_pct,lowest_ram,lowest_rom\n"
		if _, err := f.WriteString(header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &MemoryLog{f: f, w: bufio.NewWriter(f)}, nil
}

// RuntimeMemStats builds a MemStats snapshot from the Go runtime's own
// accounting. The platform-supplied fields (free disk, RAM/ROM low-water
// marks) are left zero for the caller to fill.
func RuntimeMemStats() MemStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	free := ms.HeapIdle - ms.HeapReleased
	var frag float32
	if ms.HeapSys > 0 {
		frag = 100 * float32(ms.HeapInuse-ms.HeapAlloc) / float32(ms.HeapSys)
	}
	return MemStats{
		Timestamp:       time.Now(),
		FreeHeapBytes:   free,
		FragmentPercent: frag,
	}
}

// Record appends one MemStats snapshot.
func (m *MemoryLog) Record(s MemStats) error {
	_, err := fmt.Fprintf(m.w, "%d,%d,%d,%d,%.2f,%d,%d\n",
		s.Timestamp.UnixMilli(), s.FreeHeapBytes, s.LargestBlockBytes,
		s.FreeDiskBytes, s.FragmentPercent, s.LowestRAMBytes, s.LowestROMBytes)
	if err != nil {
		return err
	}
	return m.w.Flush()
}

// Close flushes and closes the underlying file.
func (m *MemoryLog) Close() error {
	if err := m.w.Flush(); err != nil {
		m.f.Close()
		return err
	}
	return m.f.Close()
}

// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rflog_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/require"

	"github.com/viettran-edgeAI/mcu-rf/pkg/rflog"
)

func TestLoggerWritesTaggedLines(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := rflog.WithModel(rflog.NewLogger(&buf, dlog.LogLevelInfo), "gesture")
	ctx := dlog.WithLogger(context.Background(), log)
	dlog.Info(ctx, "training started")
	require.Contains(t, buf.String(), "training started")
	require.Contains(t, buf.String(), "model=gesture")
}

func TestTimeLogRecordsElapsedBetweenAnchors(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "time.csv")
	tl, err := rflog.OpenTimeLog(path)
	require.NoError(t, err)

	require.NoError(t, tl.Anchor("build"))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, tl.Anchor("build"))
	require.NoError(t, tl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "anchor,elapsed_ms")
	require.Contains(t, string(data), "build,")
}

func TestMemoryLogRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "mem.csv")
	ml, err := rflog.OpenMemoryLog(path)
	require.NoError(t, err)
	require.NoError(t, ml.Record(rflog.MemStats{
		Timestamp:         time.Unix(0, 0),
		FreeHeapBytes:     1024,
		LargestBlockBytes: 512,
		FreeDiskBytes:     4096,
		FragmentPercent:   12.5,
	}))
	require.NoError(t, ml.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "free_heap")
	require.Contains(t, string(data), "1024,512,4096,12.50")
}

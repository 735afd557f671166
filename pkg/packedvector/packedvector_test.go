// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package packedvector_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viettran-edgeAI/mcu-rf/pkg/packedvector"
)

// S2 — Bit packing: write values [0,1,2,3,0,1,2,3] with B=2; the dense
// byte layout is [0xE4, 0xE4]; reading back yields the same values.
func TestS2BitPacking(t *testing.T) {
	t.Parallel()
	v := packedvector.New(2)
	vals := []uint32{0, 1, 2, 3, 0, 1, 2, 3}
	for _, x := range vals {
		v.Push(x)
	}
	require.Equal(t, []byte{0xE4, 0xE4}, v.PackedBytes())
	for i, want := range vals {
		require.Equal(t, want, v.Get(i))
	}
}

// Invariant 1 — packing round-trip for the widths 1, 2, 4, 8, 16 and 32.
func TestRoundTripAllWidths(t *testing.T) {
	t.Parallel()
	for _, b := range []uint8{1, 2, 4, 8, 16, 32} {
		b := b
		t.Run("", func(t *testing.T) {
			t.Parallel()
			v := packedvector.New(b)
			max := uint32(1)<<b - 1
			if b == 32 {
				max = 0xFFFFFFFF
			}
			n := 40
			v.Resize(n)
			for i := 0; i < n; i++ {
				val := uint32(i) & max
				v.Set(i, val)
			}
			for i := 0; i < n; i++ {
				require.Equal(t, uint32(i)&max, v.Get(i), "width=%d idx=%d", b, i)
			}
		})
	}
}

func TestResizeThenPushPreservesOrder(t *testing.T) {
	t.Parallel()
	v := packedvector.New(4)
	v.Resize(3)
	v.Set(0, 5)
	v.Set(1, 9)
	v.Set(2, 2)
	v.Push(7)
	require.Equal(t, 4, v.Len())
	require.Equal(t, []uint32{5, 9, 2, 7}, []uint32{v.Get(0), v.Get(1), v.Get(2), v.Get(3)})
}

func TestStraddlingWidth(t *testing.T) {
	t.Parallel()
	// width=3 does not divide 32, so several elements straddle a word
	// boundary within a single word, and some straddle across words.
	v := packedvector.New(3)
	n := 100
	for i := 0; i < n; i++ {
		v.Push(uint32(i%8) & 0x7)
	}
	for i := 0; i < n; i++ {
		require.Equal(t, uint32(i%8), v.Get(i))
	}
}

func TestGetUnsafeSetUnsafe(t *testing.T) {
	t.Parallel()
	v := packedvector.New(8)
	v.Resize(10)
	for i := 0; i < 10; i++ {
		v.SetUnsafe(i, uint32(i*3))
	}
	for i := 0; i < 10; i++ {
		require.Equal(t, uint32(i*3), v.GetUnsafe(i))
	}
}

func TestOutOfRangeGetPanics(t *testing.T) {
	t.Parallel()
	v := packedvector.New(4)
	v.Resize(2)
	require.Panics(t, func() { v.Get(5) })
}

func TestClearAndFit(t *testing.T) {
	t.Parallel()
	v := packedvector.New(6)
	for i := 0; i < 20; i++ {
		v.Push(uint32(i % 0x3F))
	}
	v.Fit()
	require.Equal(t, 20, v.Len())
	v.Clear()
	require.Equal(t, 0, v.Len())
	require.Equal(t, 0, v.WordCount())
}

// Copyright (C) 2024-2026  Viet Tran <viettran.edgeai@gmail.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rfrand provides the deterministic PCG32 random source used to draw
// bootstrap samples and derive independent per-tree substreams, plus the
// FNV-1a helpers used to key sample-ID caches.
package rfrand

const (
	pcgDefaultState = 0x853c49e6748fea9b
	pcgDefaultInc   = 0xda3e39cb94b95bd0 | 1
	pcgMult         = 6364136223846793005
)

// PCG32 is a minimal-state, well-distributed PRNG suitable for embedded
// targets. It is not cryptographically secure.
type PCG32 struct {
	state uint64
	inc   uint64
}

// DefaultPCG32 returns a generator with the process-wide default seed, for
// callers that have not been given an explicit seed (e.g. ad hoc CLI
// invocations).
func DefaultPCG32() *PCG32 {
	return NewPCG32(pcgDefaultState, pcgDefaultInc)
}

// NewPCG32 seeds a generator from an initial state and a sequence selector:
// the increment is derived from seq (forced odd) and the state is warmed up by
// one step before the first output.
func NewPCG32(initState, seq uint64) *PCG32 {
	r := &PCG32{}
	r.Seed(initState, seq)
	return r
}

// Seed resets the generator deterministically.
func (r *PCG32) Seed(initState, seq uint64) {
	r.state = 0
	r.inc = (seq << 1) | 1
	r.step()
	r.state += initState
	r.step()
}

func (r *PCG32) step() {
	r.state = r.state*pcgMult + r.inc
}

// Next returns the next pseudo-random uint32.
func (r *PCG32) Next() uint32 {
	old := r.state
	r.step()
	xorshifted := uint32(((old >> 18) ^ old) >> 27)
	rot := uint32(old >> 59)
	return (xorshifted >> rot) | (xorshifted << ((-rot) & 31))
}

// Bounded returns a uniformly distributed value in [0, bound), using the
// standard PCG rejection technique to avoid modulo bias.
func (r *PCG32) Bounded(bound uint32) uint32 {
	if bound == 0 {
		return 0
	}
	threshold := -bound % bound
	for {
		v := r.Next()
		if v >= threshold {
			return v % bound
		}
	}
}

// SplitMix64 is used only to derive independent PCG32 substreams from a
// single base seed; it is never used as the sampling RNG itself.
type SplitMix64 struct {
	state uint64
}

func NewSplitMix64(seed uint64) *SplitMix64 {
	return &SplitMix64{state: seed}
}

func (s *SplitMix64) Next() uint64 {
	s.state += 0x9E3779B97F4A7C15
	z := s.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// DeriveRNG produces an independent PCG32 substream for (stream, nonce) from
// a single base seed, so that e.g. each tree in a forest gets its own
// bootstrap-sampling stream without needing to store per-tree seeds.
func DeriveRNG(baseSeed uint64, stream, nonce uint32) *PCG32 {
	const streamConst = 0x9E3779B97F4A7C15
	mixSeed := baseSeed ^ (uint64(stream)*streamConst + uint64(nonce))
	sm := NewSplitMix64(mixSeed)
	initState := sm.Next()
	seq := sm.Next()
	return NewPCG32(initState, seq)
}

// HashString computes the 64-bit FNV-1a hash of s.
func HashString(s string) uint64 {
	return fnv1a([]byte(s))
}

// HashBytes computes the 64-bit FNV-1a hash of b.
func HashBytes(b []byte) uint64 {
	return fnv1a(b)
}

// HashIDVector computes an order-sensitive FNV-1a hash over a sequence of
// sample/feature IDs, hashing each ID as 8 little-endian bytes.
func HashIDVector[T ~uint32 | ~int](ids []T) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	for _, id := range ids {
		v := uint64(id)
		for i := 0; i < 8; i++ {
			h ^= v & 0xff
			h *= prime
			v >>= 8
		}
	}
	return h
}

func fnv1a(b []byte) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	for _, c := range b {
		h ^= uint64(c)
		h *= prime
	}
	return h
}

// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cluster runs the multi-process worker model: a master that
// spawns, supervises and restarts workers, per-worker runtime setup and
// the shared peer rate-limit table.
package cluster

import (
	"sync"
	"time"
)

const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619

	defaultRateBuckets = 1024
)

// fnv1a hashes a peer address string.
func fnv1a(s string) uint32 {
	h := uint32(fnvOffset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

type bucket struct {
	hash        uint32
	used        bool
	tokens      float64
	lastRefill  time.Time
	bannedUntil time.Time
}

// RateTable is a fixed-size token-bucket table keyed by peer IP. On index
// collision with a different original hash it linear-probes exactly one
// slot; both peers then share whatever slot they land in.
type RateTable struct {
	mu      sync.Mutex
	buckets []bucket
	mask    uint32

	maxPerSec float64
	burst     float64
	banFor    time.Duration

	now func() time.Time
}

// NewRateTable sizes the table up to the next power of two (default 1024)
// and configures the refill rate, burst headroom and ban duration.
func NewRateTable(size int, maxPerSec, burst float64, banFor time.Duration) *RateTable {
	if size <= 0 {
		size = defaultRateBuckets
	}
	pow := 1
	for pow < size {
		pow <<= 1
	}

	return &RateTable{
		buckets:   make([]bucket, pow),
		mask:      uint32(pow - 1),
		maxPerSec: maxPerSec,
		burst:     burst,
		banFor:    banFor,
		now:       time.Now,
	}
}

func (t *RateTable) cap() float64 {
	return t.maxPerSec + t.burst
}

func (t *RateTable) slotFor(hash uint32) *bucket {
	idx := hash & t.mask
	b := &t.buckets[idx]
	if b.used && b.hash != hash {
		idx = (idx + 1) & t.mask
		b = &t.buckets[idx]
	}
	return b
}

// Allow consumes one token for peer, returning false when the peer is out
// of tokens or banned. Exhaustion bans the bucket until the ban duration
// elapses; an expired ban rearms the bucket automatically.
func (t *RateTable) Allow(peer string) bool {
	hash := fnv1a(peer)
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.slotFor(hash)
	if !b.used || b.hash != hash {
		// fresh slot, or evicting the probe collision's previous tenant
		*b = bucket{hash: hash, used: true, tokens: t.cap(), lastRefill: now}
	}

	if !b.bannedUntil.IsZero() {
		if now.Before(b.bannedUntil) {
			return false
		}
		// ban expired: rearm with a full bucket
		b.bannedUntil = time.Time{}
		b.tokens = t.cap()
		b.lastRefill = now
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * t.maxPerSec
		if b.tokens > t.cap() {
			b.tokens = t.cap()
		}
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}

	b.bannedUntil = now.Add(t.banFor)
	return false
}

// Banned reports whether peer is currently banned without consuming a
// token.
func (t *RateTable) Banned(peer string) bool {
	hash := fnv1a(peer)

	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.slotFor(hash)
	if !b.used || b.hash != hash {
		return false
	}
	return !b.bannedUntil.IsZero() && t.now().Before(b.bannedUntil)
}

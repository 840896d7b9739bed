// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cluster

import (
	"testing"
	"time"
)

// fixedClock lets the tests steer refill and ban arithmetic.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTable(size int, maxPerSec, burst float64, banFor time.Duration) (*RateTable, *fixedClock) {
	clock := &fixedClock{t: time.Unix(1000, 0)}
	table := NewRateTable(size, maxPerSec, burst, banFor)
	table.now = clock.now
	return table, clock
}

func TestRateTableSizeRoundsToPowerOfTwo(t *testing.T) {
	tests := []struct {
		size     int
		expected int
	}{
		{0, defaultRateBuckets},
		{1, 1},
		{100, 128},
		{1024, 1024},
		{1025, 2048},
	}
	for _, test := range tests {
		table := NewRateTable(test.size, 10, 0, time.Minute)
		if len(table.buckets) != test.expected {
			t.Errorf("size %d rounded to %d, expected %d", test.size, len(table.buckets), test.expected)
		}
	}
}

func TestRateTableAllowsUpToCap(t *testing.T) {
	table, _ := newTestTable(16, 5, 2, time.Minute)

	// cap is max_per_sec + burst
	for i := 0; i < 7; i++ {
		if !table.Allow("10.0.0.1") {
			t.Fatalf("request %d denied below the cap", i)
		}
	}
	if table.Allow("10.0.0.1") {
		t.Fatal("request beyond the cap allowed")
	}
}

func TestRateTableRefill(t *testing.T) {
	table, clock := newTestTable(16, 5, 0, time.Hour)

	for i := 0; i < 5; i++ {
		if !table.Allow("10.0.0.2") {
			t.Fatalf("request %d denied", i)
		}
	}

	// one second refills max_per_sec tokens
	clock.advance(time.Second)
	if !table.Allow("10.0.0.2") {
		t.Fatal("request denied after refill")
	}
}

func TestRateTableBanAndRearm(t *testing.T) {
	table, clock := newTestTable(16, 2, 0, 10*time.Second)

	table.Allow("10.0.0.3")
	table.Allow("10.0.0.3")
	if table.Allow("10.0.0.3") {
		t.Fatal("exhausted bucket allowed a request")
	}
	if !table.Banned("10.0.0.3") {
		t.Fatal("exhausted bucket is not banned")
	}

	// refill alone does not lift an active ban
	clock.advance(5 * time.Second)
	if table.Allow("10.0.0.3") {
		t.Fatal("banned bucket allowed a request before ban expiry")
	}

	// expired ban rearms with a full bucket
	clock.advance(6 * time.Second)
	if !table.Allow("10.0.0.3") {
		t.Fatal("rearmed bucket denied a request")
	}
	if table.Banned("10.0.0.3") {
		t.Fatal("bucket still banned after rearm")
	}
}

func TestRateTableIndependentPeers(t *testing.T) {
	table, _ := newTestTable(1024, 1, 0, time.Minute)

	if !table.Allow("10.0.0.4") {
		t.Fatal("first peer denied")
	}
	if table.Allow("10.0.0.4") {
		t.Fatal("first peer not exhausted")
	}
	if !table.Allow("10.0.0.5") {
		t.Fatal("second peer affected by first peer's bucket")
	}
}

func TestFnv1a(t *testing.T) {
	// reference vectors for 32-bit FNV-1a
	tests := []struct {
		in       string
		expected uint32
	}{
		{"", 0x811c9dc5},
		{"a", 0xe40c292c},
		{"foobar", 0xbf9cf968},
	}
	for _, test := range tests {
		if got := fnv1a(test.in); got != test.expected {
			t.Errorf("fnv1a(%q) = %#x, expected %#x", test.in, got, test.expected)
		}
	}
}

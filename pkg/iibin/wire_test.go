// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package iibin

import (
	"bytes"
	"testing"

	"github.com/quicpro/quicpro-go/pkg/qerr"
)

func TestVarintRoundTrip(t *testing.T) {
	tests := []struct {
		value uint64
		wire  []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
		{1<<64 - 1, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}},
	}

	for _, test := range tests {
		if got := appendVarint(nil, test.value); !bytes.Equal(got, test.wire) {
			t.Fatalf("encode %d: %x != %x", test.value, got, test.wire)
		}

		v, n, err := readVarint(test.wire)
		if err != nil {
			t.Fatalf("decode %x: %v", test.wire, err)
		}
		if v != test.value || n != len(test.wire) {
			t.Fatalf("decode %x: got (%d, %d)", test.wire, v, n)
		}
	}
}

func TestVarintTenByteBoundary(t *testing.T) {
	// exactly ten bytes with the last high bit clear decodes
	ok := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}
	if _, _, err := readVarint(ok); err != nil {
		t.Fatalf("ten byte varint rejected: %v", err)
	}

	// eleventh continuation byte is malformed
	bad := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}
	if _, _, err := readVarint(bad); qerr.KindOf(err) != qerr.MalformedVarint {
		t.Fatalf("expected MalformedVarint, got %v", err)
	}

	// truncated: continuation bit set but buffer ends
	if _, _, err := readVarint([]byte{0x80}); qerr.KindOf(err) != qerr.MalformedVarint {
		t.Fatalf("expected MalformedVarint for truncation, got %v", err)
	}
}

func TestZigZag(t *testing.T) {
	tests32 := []struct {
		in  int32
		out uint64
	}{
		{0, 0}, {-1, 1}, {1, 2}, {-2, 3}, {2147483647, 4294967294}, {-2147483648, 4294967295},
	}
	for _, test := range tests32 {
		if got := zigzag32(test.in); got != test.out {
			t.Fatalf("zigzag32(%d) = %d, expected %d", test.in, got, test.out)
		}
		if back := unzigzag32(test.out); back != test.in {
			t.Fatalf("unzigzag32(%d) = %d, expected %d", test.out, back, test.in)
		}
	}

	for _, v := range []int64{0, 1, -1, 1 << 40, -(1 << 40), -9223372036854775808, 9223372036854775807} {
		if back := unzigzag64(zigzag64(v)); back != v {
			t.Fatalf("zigzag64 round trip of %d gave %d", v, back)
		}
	}
}

func TestSkipValue(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		wt   WireType
		n    int
	}{
		{"varint", []byte{0xac, 0x02, 0xff}, WireVarint, 2},
		{"fixed32", []byte{1, 2, 3, 4, 5}, WireFixed32, 4},
		{"fixed64", []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, WireFixed64, 8},
		{"ldelim", []byte{0x03, 'a', 'b', 'c', 'x'}, WireLengthDelim, 4},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			n, err := skipValue(test.data, test.wt)
			if err != nil {
				t.Fatal(err)
			}
			if n != test.n {
				t.Fatalf("skipped %d, expected %d", n, test.n)
			}
		})
	}
}

func TestSkipValueOverflow(t *testing.T) {
	// nested length exceeding the enclosing buffer is malformed
	if _, err := skipValue([]byte{0x05, 'a'}, WireLengthDelim); qerr.KindOf(err) != qerr.MalformedVarint {
		t.Fatalf("expected MalformedVarint, got %v", err)
	}
}

func TestKeyRoundTrip(t *testing.T) {
	buf := appendKey(nil, 12345, WireFixed64)
	tag, wt, n, err := readKey(buf)
	if err != nil {
		t.Fatal(err)
	}
	if tag != 12345 || wt != WireFixed64 || n != len(buf) {
		t.Fatalf("got (%d, %v, %d)", tag, wt, n)
	}
}

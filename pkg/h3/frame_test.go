// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package h3

import (
	"bytes"
	"testing"

	"github.com/quic-go/quic-go/quicvarint"

	"github.com/quicpro/quicpro-go/pkg/config"
)

func TestFrameHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		frameType uint64
		length    int
	}{
		{frameTypeData, 0},
		{frameTypeHeaders, 100},
		{frameTypeSettings, 12},
		{frameTypeGoAway, 1},
		{0x21, 1 << 14}, // greased type
	}

	for _, test := range tests {
		encoded := appendFrameHeader(nil, test.frameType, test.length)
		hdr, err := readFrameHeader(newByteReader(encoded))
		if err != nil {
			t.Fatal(err)
		}
		if hdr.Type != test.frameType || hdr.Length != uint64(test.length) {
			t.Errorf("round trip got (%#x, %d), expected (%#x, %d)",
				hdr.Type, hdr.Length, test.frameType, test.length)
		}
	}
}

func TestFrameHeaderRejectsOversized(t *testing.T) {
	encoded := appendFrameHeader(nil, frameTypeData, maxFrameLen+1)
	if _, err := readFrameHeader(newByteReader(encoded)); err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	local := settings{
		QPACKMaxTableCapacity: 4096,
		MaxFieldSectionSize:   16 << 10,
		QPACKBlockedStreams:   16,
	}

	encoded := local.append(nil)
	r := newByteReader(encoded)
	hdr, err := readFrameHeader(r)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Type != frameTypeSettings {
		t.Fatalf("frame type %#x, expected SETTINGS", hdr.Type)
	}
	payload, err := readFramePayload(r, hdr)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := parseSettings(payload)
	if err != nil {
		t.Fatal(err)
	}
	if decoded != local {
		t.Fatalf("decoded %+v, expected %+v", decoded, local)
	}
}

func TestParseSettingsIgnoresUnknown(t *testing.T) {
	var payload []byte
	payload = quicvarint.Append(payload, 0x4242) // unknown id
	payload = quicvarint.Append(payload, 7)
	payload = quicvarint.Append(payload, settingMaxFieldSectionSize)
	payload = quicvarint.Append(payload, 1024)

	decoded, err := parseSettings(payload)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.MaxFieldSectionSize != 1024 {
		t.Fatalf("MaxFieldSectionSize = %d, expected 1024", decoded.MaxFieldSectionSize)
	}
}

func TestLocalSettingsFromTransport(t *testing.T) {
	tr := &config.Transport{
		MaxHeaderListSize: 32 << 10,
		QpackMaxTableCap:  4096,
	}
	local := localSettings(tr)
	if local.MaxFieldSectionSize != 32<<10 {
		t.Fatalf("MaxFieldSectionSize = %d, expected %d", local.MaxFieldSectionSize, 32<<10)
	}
	if local.QPACKMaxTableCapacity != 4096 {
		t.Fatalf("QPACKMaxTableCapacity = %d, expected 4096", local.QPACKMaxTableCapacity)
	}

	// a zero bundle still advertises a sane field section bound
	local = localSettings(&config.Transport{})
	if local.MaxFieldSectionSize != 16<<10 {
		t.Fatalf("fallback MaxFieldSectionSize = %d, expected %d", local.MaxFieldSectionSize, 16<<10)
	}
}

func TestReadFramePayloadTruncated(t *testing.T) {
	hdr := frameHeader{Type: frameTypeData, Length: 10}
	if _, err := readFramePayload(bytes.NewReader([]byte{1, 2, 3}), hdr); err == nil {
		t.Fatal("expected error on truncated payload")
	}
}

// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"bytes"
	"testing"

	"github.com/quicpro/quicpro-go/pkg/qerr"
)

func longHeaderPacket(dcid []byte) []byte {
	pkt := []byte{0xc0, 0x00, 0x00, 0x00, 0x01, byte(len(dcid))}
	return append(pkt, dcid...)
}

func shortHeaderPacket(dcid []byte) []byte {
	return append([]byte{0x40}, dcid...)
}

func TestParseDCID(t *testing.T) {
	dcid := bytes.Repeat([]byte{0xab}, scidLen)

	got, err := ParseDCID(longHeaderPacket(dcid), scidLen)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, dcid) {
		t.Fatalf("long header dcid = %x, expected %x", got, dcid)
	}

	got, err = ParseDCID(shortHeaderPacket(dcid), scidLen)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, dcid) {
		t.Fatalf("short header dcid = %x, expected %x", got, dcid)
	}
}

func TestParseDCIDMalformed(t *testing.T) {
	tests := []struct {
		name   string
		packet []byte
	}{
		{"empty", nil},
		{"truncated long header", []byte{0xc0, 0x00, 0x00}},
		{"cid length over 20", []byte{0xc0, 0x00, 0x00, 0x00, 0x01, 21}},
		{"truncated cid", []byte{0xc0, 0x00, 0x00, 0x00, 0x01, 8, 0x01}},
		{"short header too small", []byte{0x40, 0x01}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := ParseDCID(test.packet, scidLen); !qerr.IsKind(err, qerr.ProtocolViolation) {
				t.Fatalf("expected ProtocolViolation, got %v", err)
			}
		})
	}
}

func TestRegistryRoute(t *testing.T) {
	registry := NewRegistry()
	dcid := bytes.Repeat([]byte{0x42}, scidLen)
	s := &Session{state: StateEstablished}

	registry.Insert(dcid, s)
	if registry.Len() != 1 {
		t.Fatalf("len = %d, expected 1", registry.Len())
	}

	got, err := registry.Route(shortHeaderPacket(dcid))
	if err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Fatal("routed to wrong session")
	}

	unknown := bytes.Repeat([]byte{0x99}, scidLen)
	if _, err := registry.Route(shortHeaderPacket(unknown)); !qerr.IsKind(err, qerr.ConnectionClosed) {
		t.Fatalf("expected ConnectionClosed for unknown id, got %v", err)
	}

	registry.Remove(dcid)
	if registry.Lookup(dcid) != nil {
		t.Fatal("session still resolvable after Remove")
	}
}

func TestRegistrySweep(t *testing.T) {
	registry := NewRegistry()
	registry.Insert([]byte("alive"), &Session{state: StateEstablished})
	registry.Insert([]byte("gone-1"), &Session{state: StateClosed})
	registry.Insert([]byte("gone-2"), &Session{state: StateClosed})

	if swept := registry.Sweep(); swept != 2 {
		t.Fatalf("swept %d sessions, expected 2", swept)
	}
	if registry.Len() != 1 {
		t.Fatalf("len = %d after sweep, expected 1", registry.Len())
	}
	if registry.Lookup([]byte("alive")) == nil {
		t.Fatal("live session removed by sweep")
	}
}

// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"net"
	"testing"

	"github.com/quicpro/quicpro-go/pkg/qerr"
)

func TestResolveOrderedPrefersIPv6(t *testing.T) {
	addrs, err := ResolveOrdered(context.Background(), "localhost", 4433, false)
	if err != nil {
		t.Skipf("localhost did not resolve: %v", err)
	}

	seenV4 := false
	for _, addr := range addrs {
		if addr.IP.To4() != nil {
			seenV4 = true
		} else if seenV4 {
			t.Fatalf("IPv6 address %v ordered after IPv4", addr.IP)
		}
		if addr.Port != 4433 {
			t.Fatalf("port = %d, expected 4433", addr.Port)
		}
	}
}

func TestResolveOrderedPreferIPv4(t *testing.T) {
	addrs, err := ResolveOrdered(context.Background(), "localhost", 443, true)
	if err != nil {
		t.Skipf("localhost did not resolve: %v", err)
	}
	if len(addrs) > 0 && addrs[0].IP.To4() == nil {
		// only fails when a v4 address exists but was not put first
		for _, a := range addrs[1:] {
			if a.IP.To4() != nil {
				t.Fatalf("IPv4 not first despite preference: %v", addrs)
			}
		}
	}
}

func TestResolveOrderedFailure(t *testing.T) {
	_, err := ResolveOrdered(context.Background(), "host.invalid.", 443, false)
	if qerr.KindOf(err) != qerr.DnsResolutionFailed {
		t.Fatalf("expected DnsResolutionFailed, got %v", err)
	}
}

func TestPickAddrEmpty(t *testing.T) {
	_, err := PickAddr(context.Background(), nil)
	if qerr.KindOf(err) != qerr.DnsResolutionFailed {
		t.Fatalf("expected DnsResolutionFailed, got %v", err)
	}
}

func TestPickAddrLoopback(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433}
	picked, err := PickAddr(context.Background(), []*net.UDPAddr{addr})
	if err != nil {
		t.Fatal(err)
	}
	if !picked.IP.Equal(addr.IP) {
		t.Fatalf("picked %v", picked)
	}
}

func TestSendToAndRecvMsgWouldBlock(t *testing.T) {
	sock, err := Listen("127.0.0.1:0", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer sock.Close()

	// nothing queued: RecvMsg must signal retry, not fail
	buf := make([]byte, 1500)
	if _, _, _, err := sock.RecvMsg(buf); err != ErrWouldBlock {
		t.Fatalf("expected ErrWouldBlock, got %v", err)
	}
}

func TestSendToRoundTrip(t *testing.T) {
	a, err := Listen("127.0.0.1:0", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	b, err := Listen("127.0.0.1:0", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	payload := []byte("quicpro")
	if _, err := a.SendTo(payload, b.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 64)
	var n int
	for i := 0; i < 100; i++ {
		var recvErr error
		n, _, _, recvErr = b.RecvMsg(buf)
		if recvErr == ErrWouldBlock {
			continue
		}
		if recvErr != nil {
			t.Fatal(recvErr)
		}
		break
	}

	if string(buf[:n]) != "quicpro" {
		t.Fatalf("payload = %q", buf[:n])
	}
}

func TestListenBusyPoll(t *testing.T) {
	// SO_BUSY_POLL needs CAP_NET_ADMIN on some kernels; Listen treats a
	// refused sockopt as advisory and must still hand back a socket.
	sock, err := Listen("127.0.0.1:0", "", 50)
	if err != nil {
		t.Fatal(err)
	}
	defer sock.Close()
}

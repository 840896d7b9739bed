// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quicpro/quicpro-go/pkg/qerr"
)

// ipv4ProbeDelay is the head start the preferred family gets before the
// fallback family is considered (happy-eyeballs style).
const ipv4ProbeDelay = 250 * time.Millisecond

// ResolveOrdered resolves host and returns candidate UDP addresses in
// happy-eyeballs order: IPv6 first unless preferIPv4 inverts the order.
func ResolveOrdered(ctx context.Context, host string, port int, preferIPv4 bool) ([]*net.UDPAddr, error) {
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, qerr.Wrap(qerr.DnsResolutionFailed, "resolving "+host, err)
	}
	if len(ips) == 0 {
		return nil, qerr.Newf(qerr.DnsResolutionFailed, "no addresses for %s", host)
	}

	var primary, fallback []*net.UDPAddr
	for _, ip := range ips {
		addr := &net.UDPAddr{IP: ip.IP, Zone: ip.Zone, Port: port}
		isV4 := ip.IP.To4() != nil
		if isV4 == preferIPv4 {
			primary = append(primary, addr)
		} else {
			fallback = append(fallback, addr)
		}
	}

	return append(primary, fallback...), nil
}

// PickAddr probes the ordered candidates and returns the first reachable
// one. UDP has no handshake, so "reachable" means the kernel accepts a
// connect(2) for the destination (a missing route is rejected here rather
// than on first send). Addresses of the fallback family are only probed
// after ipv4ProbeDelay, giving the preferred family its head start.
func PickAddr(ctx context.Context, candidates []*net.UDPAddr) (*net.UDPAddr, error) {
	if len(candidates) == 0 {
		return nil, qerr.New(qerr.DnsResolutionFailed, "no candidate addresses")
	}

	primaryFamily := candidates[0].IP.To4() == nil
	deadline := time.Now().Add(ipv4ProbeDelay)

	for _, addr := range candidates {
		if (addr.IP.To4() == nil) != primaryFamily {
			if wait := time.Until(deadline); wait > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(wait):
				}
			}
		}

		if probeRoute(addr) {
			return addr, nil
		}
		log.WithField("addr", addr).Debug("No route, trying next candidate")
	}

	return nil, qerr.Newf(qerr.NetworkUnreachable, "no route to any of %d addresses", len(candidates))
}

// probeRoute asks the kernel whether a route to addr exists by connecting a
// throwaway UDP socket.
func probeRoute(addr *net.UDPAddr) bool {
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport implements the UDP socket layer underneath the QUIC
// session engine: non-blocking send/recv, happy-eyeballs address ordering,
// optional interface pinning and kernel RX timestamping.
package transport

import (
	"errors"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/quicpro/quicpro-go/pkg/qerr"
)

// ErrWouldBlock signals "try again after the next tick". It is a retry
// signal, never a failure.
var ErrWouldBlock = errors.New("operation would block")

// Socket is a UDP socket usable both as a net.PacketConn (the QUIC library
// reads through the blocking path) and through the non-blocking SendTo /
// RecvMsg pair the session tick loop uses.
type Socket struct {
	*net.UDPConn

	fd int

	// timestamping is set once SO_TIMESTAMPING_NEW enabling succeeded.
	timestamping bool

	lastRxTimestamp time.Time
}

// Listen opens a UDP socket bound to laddr ("" means any). ifname, when
// non-empty, pins the socket to the interface via SO_BINDTODEVICE and
// requires CAP_NET_RAW. busyPollUs > 0 requests kernel busy polling on the
// receive path; kernels without SO_BUSY_POLL fall back silently.
func Listen(laddr string, ifname string, busyPollUs uint64) (*Socket, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil && laddr != "" {
		return nil, qerr.Wrap(qerr.DnsResolutionFailed, "listen address", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, qerr.Wrap(qerr.SocketClosed, "udp listen", err)
	}

	s := &Socket{UDPConn: conn, fd: -1}

	raw, err := conn.SyscallConn()
	if err != nil {
		_ = conn.Close()
		return nil, qerr.Wrap(qerr.SocketClosed, "syscall conn", err)
	}

	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		s.fd = int(fd)

		if ifname != "" {
			sockErr = unix.SetsockoptString(int(fd), unix.SOL_SOCKET, unix.SO_BINDTODEVICE, ifname)
			if sockErr != nil {
				return
			}
		}

		if busyPollUs > 0 {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BUSY_POLL, int(busyPollUs)); err != nil {
				log.WithError(err).Debug("SO_BUSY_POLL unavailable, staying interrupt driven")
			}
		}

		s.enableTimestamping(int(fd))
	})
	if ctrlErr != nil {
		sockErr = ctrlErr
	}
	if sockErr != nil {
		_ = conn.Close()
		return nil, qerr.Wrap(qerr.SocketClosed, "socket options", sockErr)
	}

	return s, nil
}

// enableTimestamping turns on software RX timestamps. Failure is cached and
// never retried; RecvMsg then falls back to wall-clock stamps.
func (s *Socket) enableTimestamping(fd int) {
	flags := unix.SOF_TIMESTAMPING_RX_SOFTWARE | unix.SOF_TIMESTAMPING_SOFTWARE
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING_NEW, flags); err != nil {
		log.WithError(err).Debug("SO_TIMESTAMPING_NEW unavailable, using wall clock")
		return
	}
	s.timestamping = true
}

// Timestamping reports whether kernel RX timestamps are active.
func (s *Socket) Timestamping() bool {
	return s.timestamping
}

// SendTo transmits one datagram without blocking. A full socket buffer
// yields (0, ErrWouldBlock); hard unreachability errors are terminal.
func (s *Socket) SendTo(buf []byte, peer *net.UDPAddr) (int, error) {
	sa, err := udpAddrToSockaddr(peer)
	if err != nil {
		return 0, qerr.Wrap(qerr.UdpSendFailed, "bad peer address", err)
	}

	err = unix.Sendto(s.fd, buf, unix.MSG_DONTWAIT, sa)
	switch {
	case err == nil:
		return len(buf), nil
	case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK):
		return 0, ErrWouldBlock
	case errors.Is(err, unix.ECONNREFUSED) || errors.Is(err, unix.ENETUNREACH) || errors.Is(err, unix.EHOSTUNREACH):
		return 0, qerr.Wrap(qerr.NetworkUnreachable, "peer unreachable", err)
	case errors.Is(err, unix.EBADF):
		return 0, qerr.Wrap(qerr.SocketClosed, "socket closed", err)
	default:
		return 0, qerr.Wrap(qerr.UdpSendFailed, "sendto", err)
	}
}

// RecvMsg reads one datagram without blocking. It returns the payload
// length, the peer address and the kernel RX timestamp (zero when
// timestamping is off). An empty queue yields ErrWouldBlock.
func (s *Socket) RecvMsg(buf []byte) (int, *net.UDPAddr, time.Time, error) {
	oob := make([]byte, 128)

	n, oobn, _, from, err := unix.Recvmsg(s.fd, buf, oob, unix.MSG_DONTWAIT)
	switch {
	case err == nil:
		// fall through
	case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK):
		return 0, nil, time.Time{}, ErrWouldBlock
	case errors.Is(err, unix.EBADF):
		return 0, nil, time.Time{}, qerr.Wrap(qerr.SocketClosed, "socket closed", err)
	default:
		return 0, nil, time.Time{}, qerr.Wrap(qerr.UdpSendFailed, "recvmsg", err)
	}

	peer := sockaddrToUDPAddr(from)

	ts := time.Now()
	if s.timestamping && oobn > 0 {
		if kernel, ok := parseTimestamping(oob[:oobn]); ok {
			ts = kernel
		}
	}
	s.lastRxTimestamp = ts

	return n, peer, ts, nil
}

// LastRxTimestamp returns the timestamp of the most recently received
// datagram.
func (s *Socket) LastRxTimestamp() time.Time {
	return s.lastRxTimestamp
}

func udpAddrToSockaddr(addr *net.UDPAddr) (unix.Sockaddr, error) {
	if addr == nil {
		return nil, errors.New("nil address")
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return sa, nil
}

func sockaddrToUDPAddr(sa unix.Sockaddr) *net.UDPAddr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: append(net.IP(nil), v.Addr[:]...), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.UDPAddr{IP: append(net.IP(nil), v.Addr[:]...), Port: v.Port}
	default:
		return nil
	}
}

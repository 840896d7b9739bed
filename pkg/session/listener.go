// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/quicpro/quicpro-go/pkg/config"
	"github.com/quicpro/quicpro-go/pkg/qerr"
	"github.com/quicpro/quicpro-go/pkg/transport"
)

// Listener accepts QUIC connections and hands out Sessions registered in
// a shared Registry.
type Listener struct {
	socket   *transport.Socket
	tr       *quic.Transport
	ql       *quic.Listener
	cfg      *config.Config
	registry *Registry
	metrics  *Metrics
}

// ListenAddr binds addr ("host:port") and starts accepting. The config is
// frozen on first use, same as on the dial path.
func ListenAddr(addr string, cfg *config.Config, registry *Registry, metrics *Metrics) (*Listener, error) {
	if cfg == nil {
		return nil, qerr.New(qerr.KindUnknown, "nil config")
	}
	cfg.Freeze()

	socket, err := transport.Listen(addr, cfg.Transport.BindInterface, cfg.Transport.BusyPollUs)
	if err != nil {
		return nil, err
	}

	tlsConf, err := serverTLSConfig(&cfg.Transport)
	if err != nil {
		_ = socket.Close()
		return nil, err
	}

	l := &Listener{
		socket:   socket,
		cfg:      cfg,
		registry: registry,
		metrics:  metrics,
	}
	l.tr = &quic.Transport{Conn: socket}

	ql, err := l.tr.Listen(tlsConf, quicConfig(&cfg.Transport))
	if err != nil {
		_ = l.tr.Close()
		_ = socket.Close()
		return nil, qerr.Wrap(qerr.SocketClosed, "quic listen", err)
	}
	l.ql = ql

	log.WithField("addr", socket.LocalAddr()).Info("Listening for QUIC sessions")
	return l, nil
}

// Addr returns the bound address as "host:port".
func (l *Listener) Addr() string {
	return fmt.Sprint(l.socket.LocalAddr())
}

// Accept blocks for the next connection, wraps it in a Session and, when a
// registry is attached, registers it under a fresh 16-byte id.
func (l *Listener) Accept(ctx context.Context) (*Session, error) {
	conn, err := l.ql.Accept(ctx)
	if err != nil {
		return nil, qerr.Wrap(qerr.SocketClosed, "accept", err)
	}

	scid := make([]byte, scidLen)
	if _, err := rand.Read(scid); err != nil {
		_ = conn.CloseWithError(0, "internal error")
		return nil, qerr.Wrap(qerr.HandshakeFailed, "scid generation", err)
	}

	s := &Session{
		socket:      l.socket,
		conn:        conn,
		cfg:         l.cfg,
		scid:        scid,
		state:       StateEstablished,
		established: true,
		ticketCh:    make(chan []byte, 4),
		dgramOut:    make(chan queuedDatagram, max(l.cfg.Transport.DatagramTxQueue, 1)),
		dgramIn:     make(chan []byte, max(l.cfg.Transport.DatagramRxQueue, 1)),
		metrics:     l.metrics,
	}
	if l.metrics != nil {
		l.metrics.Sessions.Inc()
		l.metrics.Handshakes.Inc()
	}

	if l.registry != nil {
		l.registry.Insert(scid, s)
	}

	log.WithFields(log.Fields{
		"peer": conn.RemoteAddr(),
	}).Debug("Accepted session")

	return s, nil
}

// Close stops accepting. Existing sessions keep running until closed
// individually; the socket outlives them because accepted sessions do not
// own it.
func (l *Listener) Close() error {
	var errs []error
	if err := l.ql.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := l.tr.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := l.socket.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return qerr.Wrap(qerr.SocketClosed, "listener close", errs[0])
	}
	return nil
}

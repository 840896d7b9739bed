// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package session owns QUIC connections: handshake, streams, datagrams,
// ticket resumption and the drive-tick lifecycle. One Session belongs to
// exactly one task; only the config it references is shared, and that
// config freezes on first use.
package session

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/quicpro/quicpro-go/pkg/config"
	"github.com/quicpro/quicpro-go/pkg/qerr"
	"github.com/quicpro/quicpro-go/pkg/transport"
)

// State is the session lifecycle position.
type State int

const (
	StateHandshaking State = iota
	StateEstablished
	StateClosing
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// TickResult is what DriveTick reports back to the caller's loop.
type TickResult int

const (
	TickAlive TickResult = iota
	TickClosing
	TickClosed
)

const (
	maxOriginLen = 255
	scidLen      = 16
)

// queuedDatagram is an application datagram waiting for the handshake.
type queuedDatagram struct {
	payload []byte
	peer    *net.UDPAddr
}

// Session is one live QUIC connection.
type Session struct {
	socket     *transport.Socket
	ownsSocket bool
	tr         *quic.Transport
	conn       quic.Connection

	cfg    *config.Config
	origin string
	sni    string
	scid   []byte

	mu          sync.Mutex
	state       State
	closeCode   uint64
	closeReason string
	closeLocal  bool
	established bool

	lastTicket []byte
	ring       *TicketRing
	ticketCh   chan []byte

	dgramOut chan queuedDatagram

	dgramIn    chan []byte
	dgramInErr error
	dgramPump  sync.Once

	handshakeStarted time.Time

	numaNode int

	Stats   Stats
	metrics *Metrics
}

// Options tune Open beyond the config bundle.
type Options struct {
	SNI        string
	Interface  string
	Ring       *TicketRing
	Metrics    *Metrics
	NumaNode   int
	PreferIPv4 bool
}

// Open dials host:port and prepares a session. The config is frozen by the
// first Open that references it.
func Open(ctx context.Context, host string, port uint16, cfg *config.Config, opts Options) (*Session, error) {
	if cfg == nil {
		return nil, qerr.New(qerr.KindUnknown, "nil config")
	}
	if len(host) > maxOriginLen {
		return nil, qerr.Newf(qerr.DnsResolutionFailed, "origin longer than %d bytes", maxOriginLen)
	}
	cfg.Freeze()

	tr := &cfg.Transport
	preferIPv4 := opts.PreferIPv4 || tr.PreferIPv4

	candidates, err := transport.ResolveOrdered(ctx, host, int(port), preferIPv4)
	if err != nil {
		return nil, err
	}
	peer, err := transport.PickAddr(ctx, candidates)
	if err != nil {
		return nil, err
	}

	ifname := opts.Interface
	if ifname == "" {
		ifname = tr.BindInterface
	}
	socket, err := transport.Listen("", ifname, tr.BusyPollUs)
	if err != nil {
		return nil, err
	}

	scid := make([]byte, scidLen)
	if _, err := rand.Read(scid); err != nil {
		_ = socket.Close()
		return nil, qerr.Wrap(qerr.HandshakeFailed, "scid generation", err)
	}

	sni := opts.SNI
	if sni == "" {
		sni = host
	}

	s := &Session{
		socket:     socket,
		ownsSocket: true,
		cfg:        cfg,
		origin:     host,
		sni:        sni,
		scid:       scid,
		state:      StateHandshaking,
		ring:       opts.Ring,
		ticketCh:   make(chan []byte, 4),
		dgramOut:   make(chan queuedDatagram, max(tr.DatagramTxQueue, 1)),
		dgramIn:    make(chan []byte, max(tr.DatagramRxQueue, 1)),
		numaNode:   opts.NumaNode,
		metrics:    opts.Metrics,
	}

	cache := &ticketCache{
		inner:   tls.NewLRUClientSessionCache(4),
		capture: s.ticketCh,
	}
	tlsConf, err := clientTLSConfig(tr, sni, cache)
	if err != nil {
		_ = socket.Close()
		return nil, err
	}

	s.tr = &quic.Transport{Conn: &countingConn{Socket: socket, stats: &s.Stats, metrics: opts.Metrics}}

	dialCtx := ctx
	if tr.MaxIdleTimeoutMs > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, time.Duration(tr.MaxIdleTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	started := time.Now()
	conn, err := s.dial(dialCtx, peer, tlsConf, quicConfig(tr))
	if err != nil {
		_ = s.tr.Close()
		_ = socket.Close()
		return nil, qerr.Wrap(qerr.HandshakeFailed, "quic dial", err)
	}
	s.conn = conn
	s.handshakeStarted = started

	if opts.Metrics != nil {
		opts.Metrics.Sessions.Inc()
	}

	log.WithFields(log.Fields{
		"origin": host,
		"peer":   peer,
		"0rtt":   tr.TicketsEnabled(),
		"pacing": tr.PacingEnabled(),
	}).Debug("Session dialed")

	return s, nil
}

func (s *Session) dial(ctx context.Context, peer *net.UDPAddr, tlsConf *tls.Config, quicConf *quic.Config) (quic.Connection, error) {
	if s.cfg.Transport.TicketsEnabled() {
		early, err := s.tr.DialEarly(ctx, peer, tlsConf, quicConf)
		if err != nil {
			return nil, err
		}
		return early, nil
	}
	return s.tr.Dial(ctx, peer, tlsConf, quicConf)
}

// Origin returns the hostname this session was opened against.
func (s *Session) Origin() string { return s.origin }

// SNI returns the TLS server name.
func (s *Session) SNI() string { return s.sni }

// SCID returns the session's 16-byte source connection id.
func (s *Session) SCID() []byte { return append([]byte(nil), s.scid...) }

// NumaNode returns the placement hint given at open.
func (s *Session) NumaNode() int { return s.numaNode }

// Config returns the shared frozen config.
func (s *Session) Config() *config.Config { return s.cfg }

// Conn exposes the underlying QUIC connection to the H3 layer.
func (s *Session) Conn() quic.Connection { return s.conn }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DriveTick advances the session one step: queued datagrams are flushed,
// freshly completed handshakes export their ticket, and the lifecycle state
// is re-evaluated. It never blocks.
func (s *Session) DriveTick() TickResult {
	s.drainTickets()
	s.flushDatagrams()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return TickClosed

	case StateClosing, StateDraining:
		select {
		case <-s.conn.Context().Done():
			s.toClosedLocked()
			return TickClosed
		default:
			return TickClosing
		}

	default:
		select {
		case <-s.conn.Context().Done():
			// peer or timeout closed us under our feet
			s.captureCloseLocked()
			s.toClosedLocked()
			return TickClosed
		// quic-go < v0.47 declares HandshakeComplete only on EarlyConnection,
		// but every Transport-issued connection implements it.
		case <-s.conn.(interface{ HandshakeComplete() <-chan struct{} }).HandshakeComplete():
			if !s.established {
				s.established = true
				s.state = StateEstablished
				s.Stats.ObserveRTT(time.Since(s.handshakeStarted))
				if s.metrics != nil {
					s.metrics.Handshakes.Inc()
				}
			}
		default:
		}
		return TickAlive
	}
}

// captureCloseLocked records the close reason reported by the library.
func (s *Session) captureCloseLocked() {
	err := context.Cause(s.conn.Context())
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		s.closeCode = uint64(appErr.ErrorCode)
		s.closeReason = appErr.ErrorMessage
		if !appErr.Remote {
			return
		}
		s.state = StateDraining
	}
}

func (s *Session) toClosedLocked() {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	if s.metrics != nil {
		s.metrics.Sessions.Dec()
	}
}

// Close initiates connection shutdown. The next DriveTick emits the close;
// later ticks report Closed. Idempotent.
func (s *Session) Close(applicationClose bool, code uint64, reason string) error {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateClosing {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	s.closeLocal = true
	s.closeCode = code
	s.closeReason = reason
	s.mu.Unlock()

	_ = applicationClose // transport-level closes share the same library path

	err := s.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
	if err != nil {
		return qerr.Wrap(qerr.ConnectionClosed, "close", err)
	}
	return nil
}

// CloseCode returns the application error code once closed.
func (s *Session) CloseCode() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode
}

// CloseReason returns the close reason once closed.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Release frees every resource. Destruction order: H3 state is owned by the
// H3 layer and torn down first by its owner; here the QUIC connection goes
// before the UDP socket.
func (s *Session) Release() {
	s.mu.Lock()
	alreadyClosed := s.state == StateClosed
	s.mu.Unlock()

	if !alreadyClosed {
		_ = s.Close(true, 0, "session released")
	}

	s.mu.Lock()
	s.toClosedLocked()
	s.mu.Unlock()

	if s.tr != nil {
		_ = s.tr.Close()
	}
	if s.ownsSocket {
		_ = s.socket.Close()
	}
}

/*
Streams
*/

// OpenStream opens a bidirectional stream, translating stream-limit
// exhaustion into TooManyStreams.
func (s *Session) OpenStream(ctx context.Context) (quic.Stream, error) {
	stream, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, mapStreamErr(err)
	}
	return stream, nil
}

// SendBody writes p to the stream, closing the write side when fin is set.
// A stream blocked on flow control returns the partial count together with
// a StreamBlocked error; the caller retries after the next tick.
func (s *Session) SendBody(stream quic.Stream, p []byte, fin bool) (int, error) {
	_ = stream.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
	n, err := stream.Write(p)
	_ = stream.SetWriteDeadline(time.Time{})

	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return n, qerr.New(qerr.StreamBlocked, "flow control window exhausted")
		}
		return n, mapStreamErr(err)
	}

	if fin {
		if err := stream.Close(); err != nil {
			return n, mapStreamErr(err)
		}
	}
	return n, nil
}

// RecvBody reads from the stream into p. A fully closed peer yields
// (0, io.EOF); an empty receive buffer blocks until data or the deadline.
func (s *Session) RecvBody(ctx context.Context, stream quic.Stream, p []byte) (int, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetReadDeadline(deadline)
		defer stream.SetReadDeadline(time.Time{})
	}
	n, err := stream.Read(p)
	if err != nil {
		return n, err
	}
	return n, nil
}

/*
Datagrams
*/

// SendDatagram transmits an unreliable payload. Before the handshake
// completes, datagrams queue locally (oldest dropped on overflow) and are
// flushed by DriveTick.
func (s *Session) SendDatagram(payload []byte) error {
	if !s.cfg.Transport.EnableDatagrams {
		return qerr.New(qerr.ProtocolViolation, "datagrams disabled by config")
	}

	s.mu.Lock()
	established := s.established
	s.mu.Unlock()

	if !established {
		s.enqueueDatagram(payload, nil)
		return nil
	}
	return s.sendDatagramNow(payload)
}

func (s *Session) sendDatagramNow(payload []byte) error {
	err := s.conn.SendDatagram(payload)
	if err == nil {
		return nil
	}
	var tooLarge *quic.DatagramTooLargeError
	if errors.As(err, &tooLarge) {
		return qerr.Newf(qerr.PayloadTooLarge, "datagram exceeds %d bytes", tooLarge.MaxDatagramPayloadSize)
	}
	return qerr.Wrap(qerr.UdpSendFailed, "send datagram", err)
}

func (s *Session) enqueueDatagram(payload []byte, peer *net.UDPAddr) {
	dg := queuedDatagram{payload: append([]byte(nil), payload...), peer: peer}
	for {
		select {
		case s.dgramOut <- dg:
			return
		default:
			// drop the oldest queued datagram instead of blocking
			select {
			case <-s.dgramOut:
			default:
			}
		}
	}
}

// flushDatagrams pushes queued datagrams once the connection is up.
func (s *Session) flushDatagrams() {
	s.mu.Lock()
	established := s.established
	s.mu.Unlock()
	if !established {
		return
	}

	for {
		select {
		case dg := <-s.dgramOut:
			if err := s.sendDatagramNow(dg.payload); err != nil {
				log.WithError(err).Debug("Dropping queued datagram")
			}
		default:
			return
		}
	}
}

// FetchOutgoingDatagram pops one locally queued datagram for an external
// event loop, returning its length and destination. Zero means none are
// pending.
func (s *Session) FetchOutgoingDatagram(buf []byte) (int, *net.UDPAddr) {
	select {
	case dg := <-s.dgramOut:
		n := copy(buf, dg.payload)
		peer := dg.peer
		if peer == nil {
			if addr, ok := s.conn.RemoteAddr().(*net.UDPAddr); ok {
				peer = addr
			}
		}
		return n, peer
	default:
		return 0, nil
	}
}

// ReceiveDatagram yields the next incoming datagram. Arrivals flow through
// a bounded queue of DatagramRxQueue entries; when the consumer lags, the
// oldest queued datagram is dropped to make room for the newest.
func (s *Session) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	s.dgramPump.Do(func() { go s.pumpDatagrams() })

	select {
	case payload, ok := <-s.dgramIn:
		if !ok {
			s.mu.Lock()
			err := s.dgramInErr
			s.mu.Unlock()
			if err == nil {
				err = qerr.New(qerr.ConnectionClosed, "datagram receive ended")
			}
			return nil, err
		}
		s.Stats.BytesRx.Add(uint64(len(payload)))
		return payload, nil

	case <-ctx.Done():
		return nil, mapStreamErr(ctx.Err())
	}
}

// pumpDatagrams moves datagrams from the connection into the bounded
// receive queue. It ends, closing the queue, when the connection does.
func (s *Session) pumpDatagrams() {
	for {
		payload, err := s.conn.ReceiveDatagram(context.Background())
		if err != nil {
			s.mu.Lock()
			s.dgramInErr = mapStreamErr(err)
			s.mu.Unlock()
			close(s.dgramIn)
			return
		}

		s.enqueueIncoming(payload)
	}
}

// enqueueIncoming inserts into the receive queue, evicting the oldest entry
// when full. It never blocks the pump.
func (s *Session) enqueueIncoming(payload []byte) {
	for {
		select {
		case s.dgramIn <- payload:
			return
		default:
			select {
			case <-s.dgramIn:
			default:
			}
		}
	}
}

/*
Tickets
*/

// drainTickets moves captured TLS tickets into the session and the ring.
// Export before handshake completion never happens because the TLS stack
// only issues tickets afterwards.
func (s *Session) drainTickets() {
	for {
		select {
		case ticket := <-s.ticketCh:
			if len(ticket) > TicketSlotSize {
				ticket = ticket[:TicketSlotSize]
			}
			s.lastTicket = ticket
			if s.ring != nil {
				s.ring.Publish(ticket)
			}
		default:
			return
		}
	}
}

// ExportTicket returns the most recent resumption ticket, empty before the
// handshake completed.
func (s *Session) ExportTicket() []byte {
	s.drainTickets()
	return append([]byte(nil), s.lastTicket...)
}

func mapStreamErr(err error) error {
	var streamErr *quic.StreamError
	var appErr *quic.ApplicationError
	var idleErr *quic.IdleTimeoutError
	var limitErr *quic.StreamLimitReachedError

	switch {
	case err == nil:
		return nil
	case errors.As(err, &limitErr):
		return qerr.Wrap(qerr.TooManyStreams, "stream limit reached", err)
	case errors.As(err, &streamErr):
		if streamErr.Remote {
			return qerr.Wrap(qerr.StreamStopped, "peer reset stream", err).WithCode(int64(streamErr.ErrorCode))
		}
		return qerr.Wrap(qerr.StreamStopped, "stream reset", err).WithCode(int64(streamErr.ErrorCode))
	case errors.As(err, &appErr):
		return qerr.Wrap(qerr.ConnectionClosed, appErr.ErrorMessage, err).WithCode(int64(appErr.ErrorCode))
	case errors.As(err, &idleErr):
		return qerr.Wrap(qerr.ConnectionClosed, "idle timeout", err)
	case errors.Is(err, context.DeadlineExceeded):
		return qerr.Wrap(qerr.RequestTimeout, "deadline exceeded", err)
	default:
		return qerr.Wrap(qerr.ProtocolViolation, "quic error", err)
	}
}

// ticketCache tees session tickets into the capture channel while keeping
// the standard LRU cache for 0-RTT resumption.
type ticketCache struct {
	inner   tls.ClientSessionCache
	capture chan []byte
}

func (c *ticketCache) Get(key string) (*tls.ClientSessionState, bool) {
	return c.inner.Get(key)
}

func (c *ticketCache) Put(key string, cs *tls.ClientSessionState) {
	c.inner.Put(key, cs)
	if cs == nil {
		return
	}
	if ticket, _, err := cs.ResumptionState(); err == nil && len(ticket) > 0 {
		select {
		case c.capture <- append([]byte(nil), ticket...):
		default:
			// capture queue full: resumption still works via the LRU
		}
	}
}

// countingConn counts packets flowing through the QUIC transport.
type countingConn struct {
	*transport.Socket
	stats   *Stats
	metrics *Metrics
}

func (c *countingConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, addr, err := c.Socket.ReadFrom(p)
	if n > 0 {
		c.stats.PktRx.Add(1)
		c.stats.BytesRx.Add(uint64(n))
		if c.metrics != nil {
			c.metrics.PacketsRx.Inc()
		}
	}
	return n, addr, err
}

func (c *countingConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	n, err := c.Socket.WriteTo(p, addr)
	if n > 0 {
		c.stats.PktTx.Add(1)
		c.stats.BytesTx.Add(uint64(n))
		if c.metrics != nil {
			c.metrics.PacketsTx.Inc()
		}
	}
	return n, err
}

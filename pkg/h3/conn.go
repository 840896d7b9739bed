// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package h3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/quicvarint"
	log "github.com/sirupsen/logrus"

	"github.com/quicpro/quicpro-go/pkg/config"
	"github.com/quicpro/quicpro-go/pkg/qerr"
	"github.com/quicpro/quicpro-go/pkg/session"
)

// EventType enumerates what PollEvent can report.
type EventType int

const (
	// EventDone means no event is pending.
	EventDone EventType = iota
	EventHeaders
	EventData
	EventStreamFinished
	EventGoAway
)

func (t EventType) String() string {
	switch t {
	case EventDone:
		return "done"
	case EventHeaders:
		return "headers"
	case EventData:
		return "data"
	case EventStreamFinished:
		return "stream_finished"
	case EventGoAway:
		return "goaway"
	default:
		return "invalid"
	}
}

// Event is one unit of H3 progress.
type Event struct {
	Type     EventType
	StreamID int64
	Headers  Headers
}

// requestStream tracks one in-flight request.
type requestStream struct {
	stream quic.Stream

	mu         sync.Mutex
	headers    Headers
	sawHeaders bool
	body       bytes.Buffer
	fin        bool
	err        error
}

// Conn multiplexes HTTP/3 requests over one Session. Events are queued
// internally and drained with PollEvent, so callers keep a poll loop
// instead of blocking per request.
type Conn struct {
	sess *session.Session

	ctx    context.Context
	cancel context.CancelFunc

	events chan Event

	mu           sync.Mutex
	streams      map[int64]*requestStream
	peerSettings settings
	goAwayID     int64
	sawGoAway    bool
}

// eventQueueLen bounds the pending event queue. Overflow drops the oldest
// event; the stream state itself is never lost, only the wakeup.
const eventQueueLen = 128

// localSettings derives the advertised SETTINGS from the transport bundle.
// The QPACK table capacity is advertised as configured; the decoder handles
// the static table only, so it should stay 0 unless every peer is known to
// encode statically regardless.
func localSettings(tr *config.Transport) settings {
	maxFieldSection := tr.MaxHeaderListSize
	if maxFieldSection == 0 {
		maxFieldSection = 16 << 10
	}
	return settings{
		QPACKMaxTableCapacity: tr.QpackMaxTableCap,
		MaxFieldSectionSize:   maxFieldSection,
		QPACKBlockedStreams:   0,
	}
}

// NewConn performs the H3 connection preamble: it opens the control stream,
// sends SETTINGS and starts watching for the peer's control stream.
func NewConn(ctx context.Context, sess *session.Session) (*Conn, error) {
	connCtx, cancel := context.WithCancel(ctx)
	c := &Conn{
		sess:    sess,
		ctx:     connCtx,
		cancel:  cancel,
		events:  make(chan Event, eventQueueLen),
		streams: make(map[int64]*requestStream),
	}

	control, err := sess.Conn().OpenUniStream()
	if err != nil {
		cancel()
		return nil, qerr.Wrap(qerr.FrameError, "open control stream", err)
	}

	local := localSettings(&sess.Config().Transport)
	buf := quicvarint.Append(nil, streamTypeControl)
	buf = local.append(buf)
	if _, err := control.Write(buf); err != nil {
		cancel()
		return nil, qerr.Wrap(qerr.FrameError, "send settings", err)
	}

	go c.acceptUniStreams()

	return c, nil
}

// acceptUniStreams consumes peer-initiated unidirectional streams. Only the
// control stream matters; everything else is drained and dropped.
func (c *Conn) acceptUniStreams() {
	for {
		stream, err := c.sess.Conn().AcceptUniStream(c.ctx)
		if err != nil {
			return
		}

		go func(stream quic.ReceiveStream) {
			r := quicvarint.NewReader(stream)
			streamType, err := quicvarint.Read(r)
			if err != nil {
				return
			}
			if streamType != streamTypeControl {
				_, _ = io.Copy(io.Discard, stream)
				return
			}
			c.runControlStream(r, stream)
		}(stream)
	}
}

func (c *Conn) runControlStream(r quicvarint.Reader, stream quic.ReceiveStream) {
	for {
		hdr, err := readFrameHeader(r)
		if err != nil {
			return
		}
		payload, err := readFramePayload(stream, hdr)
		if err != nil {
			return
		}

		switch hdr.Type {
		case frameTypeSettings:
			peer, err := parseSettings(payload)
			if err != nil {
				log.WithError(err).Warn("Malformed peer SETTINGS")
				continue
			}
			c.mu.Lock()
			c.peerSettings = peer
			c.mu.Unlock()

		case frameTypeGoAway:
			id, err := quicvarint.Read(newByteReader(payload))
			if err != nil {
				continue
			}
			c.mu.Lock()
			c.goAwayID = int64(id)
			c.sawGoAway = true
			c.mu.Unlock()
			c.pushEvent(Event{Type: EventGoAway, StreamID: int64(id)})

		default:
			// unknown control frames are ignored
		}
	}
}

func (c *Conn) pushEvent(ev Event) {
	for {
		select {
		case c.events <- ev:
			return
		default:
			select {
			case <-c.events:
			default:
			}
		}
	}
}

// SendRequest validates and sends one request. The stream id is returned
// for correlation with later events. With fin set the request has no
// further body and the write side closes immediately after.
func (c *Conn) SendRequest(ctx context.Context, headers Headers, body []byte, fin bool) (int64, error) {
	c.mu.Lock()
	rejected := c.sawGoAway
	c.mu.Unlock()
	if rejected {
		return 0, qerr.New(qerr.ConnectionClosed, "peer sent GOAWAY")
	}

	if err := validateRequestHeaders(headers); err != nil {
		return 0, err
	}

	stream, err := c.sess.OpenStream(ctx)
	if err != nil {
		return 0, err
	}
	streamID := int64(stream.StreamID())

	fieldSection := encodeFieldSection(headers)
	buf := appendFrameHeader(nil, frameTypeHeaders, len(fieldSection))
	buf = append(buf, fieldSection...)

	if len(body) > 0 {
		buf = appendFrameHeader(buf, frameTypeData, len(body))
		buf = append(buf, body...)
	}

	if _, err := stream.Write(buf); err != nil {
		stream.CancelWrite(quic.StreamErrorCode(0))
		return 0, qerr.Wrap(qerr.FrameError, "send request", err)
	}
	if fin {
		if err := stream.Close(); err != nil {
			return 0, qerr.Wrap(qerr.FrameError, "close request stream", err)
		}
	}

	rs := &requestStream{stream: stream}
	c.mu.Lock()
	c.streams[streamID] = rs
	c.mu.Unlock()

	go c.readResponse(streamID, rs)

	return streamID, nil
}

// SendBody appends a DATA frame to an open request stream, closing the
// write side when fin is set.
func (c *Conn) SendBody(streamID int64, body []byte, fin bool) error {
	rs := c.lookup(streamID)
	if rs == nil {
		return qerr.Newf(qerr.StreamStopped, "unknown stream %d", streamID)
	}

	if len(body) > 0 {
		buf := appendFrameHeader(nil, frameTypeData, len(body))
		buf = append(buf, body...)
		if _, err := rs.stream.Write(buf); err != nil {
			return qerr.Wrap(qerr.FrameError, "send body", err)
		}
	}
	if fin {
		if err := rs.stream.Close(); err != nil {
			return qerr.Wrap(qerr.FrameError, "close stream", err)
		}
	}
	return nil
}

// readResponse parses response frames and feeds the event queue.
func (c *Conn) readResponse(streamID int64, rs *requestStream) {
	r := quicvarint.NewReader(rs.stream)

	for {
		hdr, err := readFrameHeader(r)
		if err != nil {
			c.finishStream(streamID, rs, err)
			return
		}
		payload, err := readFramePayload(rs.stream, hdr)
		if err != nil {
			c.finishStream(streamID, rs, err)
			return
		}

		switch hdr.Type {
		case frameTypeHeaders:
			headers, err := decodeFieldSection(payload)
			if err != nil {
				c.finishStream(streamID, rs, err)
				return
			}
			rs.mu.Lock()
			if !rs.sawHeaders {
				rs.headers = headers
				rs.sawHeaders = true
			}
			rs.mu.Unlock()
			c.pushEvent(Event{Type: EventHeaders, StreamID: streamID, Headers: headers})

		case frameTypeData:
			rs.mu.Lock()
			rs.body.Write(payload)
			rs.mu.Unlock()
			c.pushEvent(Event{Type: EventData, StreamID: streamID})

		default:
			// greased / unknown frames are skipped
		}
	}
}

func (c *Conn) finishStream(streamID int64, rs *requestStream, cause error) {
	rs.mu.Lock()
	rs.fin = true
	if cause != nil && !errors.Is(cause, io.EOF) {
		rs.err = cause
	}
	rs.mu.Unlock()
	c.pushEvent(Event{Type: EventStreamFinished, StreamID: streamID})
}

// PollEvent returns the next pending event, or an EventDone event when the
// queue is empty. It never blocks.
func (c *Conn) PollEvent() Event {
	select {
	case ev := <-c.events:
		return ev
	default:
		return Event{Type: EventDone}
	}
}

// ResponseHeaders returns the first field section received on the stream.
// Headers stay readable here even after the wakeup event for them was
// consumed elsewhere.
func (c *Conn) ResponseHeaders(streamID int64) (Headers, bool) {
	rs := c.lookup(streamID)
	if rs == nil {
		return nil, false
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.sawHeaders {
		return nil, false
	}
	return rs.headers, true
}

// RecvBody copies buffered response body bytes into p. done reports that
// the stream finished and everything was drained.
func (c *Conn) RecvBody(streamID int64, p []byte) (n int, done bool, err error) {
	rs := c.lookup(streamID)
	if rs == nil {
		return 0, true, qerr.Newf(qerr.StreamStopped, "unknown stream %d", streamID)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	n, _ = rs.body.Read(p)
	done = rs.fin && rs.body.Len() == 0
	if done && rs.err != nil {
		err = rs.err
	}
	if done {
		c.mu.Lock()
		delete(c.streams, streamID)
		c.mu.Unlock()
	}
	return n, done, err
}

func (c *Conn) lookup(streamID int64) *requestStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[streamID]
}

// CancelStream resets one request stream in both directions and forgets it.
// Other streams on the connection are unaffected.
func (c *Conn) CancelStream(streamID int64) {
	c.mu.Lock()
	rs := c.streams[streamID]
	delete(c.streams, streamID)
	c.mu.Unlock()
	if rs == nil {
		return
	}

	rs.stream.CancelRead(quic.StreamErrorCode(errcodeRequestCancelled))
	rs.stream.CancelWrite(quic.StreamErrorCode(errcodeRequestCancelled))
}

// Session returns the underlying session.
func (c *Conn) Session() *session.Session { return c.sess }

// Close tears the H3 state down. The session itself stays up; its owner
// closes it after the H3 layer, keeping the teardown order H3 first.
func (c *Conn) Close() {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, rs := range c.streams {
		rs.stream.CancelRead(quic.StreamErrorCode(0))
		delete(c.streams, id)
	}
}

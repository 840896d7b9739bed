// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package h3

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/quicvarint"
	log "github.com/sirupsen/logrus"

	"github.com/quicpro/quicpro-go/pkg/config"
	"github.com/quicpro/quicpro-go/pkg/qerr"
	"github.com/quicpro/quicpro-go/pkg/session"
)

// Request is one decoded request on a server connection. Pseudo-headers
// are lifted into fields; Headers keeps the full field section.
type Request struct {
	Method    string
	Path      string
	Authority string
	Headers   Headers
	Body      []byte
}

// Response is what a Handler answers with. A zero Status is treated as 200.
type Response struct {
	Status  int
	Headers Headers
	Body    []byte
}

// Handler serves one request.
type Handler func(*Request) Response

// ServerConn drives the server half of one HTTP/3 connection: SETTINGS
// exchange, request stream parsing, CORS filtering and handler dispatch.
type ServerConn struct {
	sess    *session.Session
	cors    *config.CORS
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc
}

// ServeConn starts serving requests arriving on sess. It returns once the
// control stream is written; request handling continues in the background
// until the session or ctx ends.
func ServeConn(ctx context.Context, sess *session.Session, cors *config.CORS, handler Handler) (*ServerConn, error) {
	connCtx, cancel := context.WithCancel(ctx)
	s := &ServerConn{
		sess:    sess,
		cors:    cors,
		handler: handler,
		ctx:     connCtx,
		cancel:  cancel,
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

	go s.acceptUniStreams()
	go s.acceptRequestStreams()

	return s, nil
}

// Close stops accepting requests. In-flight handlers finish on their own.
func (s *ServerConn) Close() {
	s.cancel()
}

func (s *ServerConn) acceptUniStreams() {
	for {
		stream, err := s.sess.Conn().AcceptUniStream(s.ctx)
		if err != nil {
			return
		}
		// The peer control stream only carries SETTINGS we do not act on.
		go func(stream quic.ReceiveStream) {
			_, _ = io.Copy(io.Discard, stream)
		}(stream)
	}
}

func (s *ServerConn) acceptRequestStreams() {
	for {
		stream, err := s.sess.Conn().AcceptStream(s.ctx)
		if err != nil {
			return
		}
		go s.serveStream(stream)
	}
}

// serveStream reads one request from stream, runs the CORS filter and the
// handler, and writes the response. Request streams are strictly one
// request each.
func (s *ServerConn) serveStream(stream quic.Stream) {
	req, err := readRequest(stream)
	if err != nil {
		log.WithFields(log.Fields{
			"stream": stream.StreamID(),
			"error":  err,
		}).Debug("Dropping malformed request stream")
		stream.CancelRead(quic.StreamErrorCode(errcodeMessageError))
		stream.CancelWrite(quic.StreamErrorCode(errcodeMessageError))
		return
	}

	resp := s.dispatch(req)
	if err := writeResponse(stream, resp); err != nil {
		log.WithFields(log.Fields{
			"stream": stream.StreamID(),
			"error":  err,
		}).Debug("Response write failed")
	}
}

func (s *ServerConn) dispatch(req *Request) Response {
	cors := EvaluateCORS(s.cors, req.Headers)
	switch cors.Decision {
	case CORSForbid:
		return Response{Status: 403}
	case CORSPreflight:
		return Response{Status: 204, Headers: cors.ResponseHeaders}
	}

	resp := s.handler(req)
	if resp.Status == 0 {
		resp.Status = 200
	}
	if cors.Decision == CORSAllow {
		resp.Headers = append(resp.Headers, cors.ResponseHeaders...)
	}
	return resp
}

// readRequest parses the HEADERS frame and any DATA frames up to stream FIN.
func readRequest(stream quic.Stream) (*Request, error) {
	r := quicvarint.NewReader(stream)

	var headers Headers
	var body []byte
	sawHeaders := false

	for {
		hdr, err := readFrameHeader(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		payload, err := readFramePayload(stream, hdr)
		if err != nil {
			return nil, err
		}

		switch hdr.Type {
		case frameTypeHeaders:
			if sawHeaders {
				return nil, qerr.Newf(qerr.FrameError, "second HEADERS frame on request stream")
			}
			headers, err = decodeFieldSection(payload)
			if err != nil {
				return nil, err
			}
			if err := validateRequestHeaders(headers); err != nil {
				return nil, err
			}
			sawHeaders = true

		case frameTypeData:
			if !sawHeaders {
				return nil, qerr.Newf(qerr.FrameError, "DATA before HEADERS")
			}
			body = append(body, payload...)

		default:
			// greased / unknown frames are skipped
		}
	}

	if !sawHeaders {
		return nil, qerr.Newf(qerr.FrameError, "request stream closed without HEADERS")
	}

	return &Request{
		Method:    headers.Get(":method"),
		Path:      headers.Get(":path"),
		Authority: headers.Get(":authority"),
		Headers:   headers,
		Body:      body,
	}, nil
}

func writeResponse(stream quic.Stream, resp Response) error {
	fields := Headers{{Name: ":status", Value: strconv.Itoa(resp.Status)}}
	fields = append(fields, resp.Headers...)

	section := encodeFieldSection(fields)
	buf := appendFrameHeader(nil, frameTypeHeaders, len(section))
	buf = append(buf, section...)
	if len(resp.Body) > 0 {
		buf = appendFrameHeader(buf, frameTypeData, len(resp.Body))
		buf = append(buf, resp.Body...)
	}
	if _, err := stream.Write(buf); err != nil {
		return qerr.Wrap(qerr.FrameError, "write response", err)
	}
	return stream.Close()
}

// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package h3 layers HTTP/3 request semantics over a QUIC session: frame
// codec, QPACK field sections, control-stream settings and a poll-based
// event surface.
package h3

import (
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"

	"github.com/quicpro/quicpro-go/pkg/qerr"
)

// HTTP/3 frame types (RFC 9114 §7.2).
const (
	frameTypeData     = 0x0
	frameTypeHeaders  = 0x1
	frameTypeSettings = 0x4
	frameTypeGoAway   = 0x7
)

// HTTP/3 settings identifiers (RFC 9114 §7.2.4.1, RFC 9204 §5).
const (
	settingQPACKMaxTableCapacity = 0x1
	settingMaxFieldSectionSize   = 0x6
	settingQPACKBlockedStreams   = 0x7
)

// streamTypeControl opens the unidirectional control stream.
const streamTypeControl = 0x00

// errcodeMessageError resets a request stream carrying a malformed message
// (RFC 9114 §8.1, H3_MESSAGE_ERROR).
const errcodeMessageError = 0x10e

// errcodeRequestCancelled resets a request stream the local side no longer
// wants an answer for (RFC 9114 §8.1, H3_REQUEST_CANCELLED).
const errcodeRequestCancelled = 0x10c

// maxFrameLen bounds a single frame payload; larger frames are a protocol
// violation rather than an allocation request.
const maxFrameLen = 8 << 20

type frameHeader struct {
	Type   uint64
	Length uint64
}

func appendFrameHeader(b []byte, frameType uint64, length int) []byte {
	b = quicvarint.Append(b, frameType)
	b = quicvarint.Append(b, uint64(length))
	return b
}

func readFrameHeader(r quicvarint.Reader) (frameHeader, error) {
	frameType, err := quicvarint.Read(r)
	if err != nil {
		return frameHeader{}, err
	}
	length, err := quicvarint.Read(r)
	if err != nil {
		return frameHeader{}, err
	}
	if length > maxFrameLen {
		return frameHeader{}, qerr.Newf(qerr.FrameError, "frame of %d bytes exceeds limit", length)
	}
	return frameHeader{Type: frameType, Length: length}, nil
}

// readFramePayload consumes exactly hdr.Length bytes.
func readFramePayload(r io.Reader, hdr frameHeader) ([]byte, error) {
	payload := make([]byte, hdr.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, qerr.Wrap(qerr.FrameError, fmt.Sprintf("truncated frame type %#x", hdr.Type), err)
	}
	return payload, nil
}

// settings is the decoded SETTINGS frame.
type settings struct {
	QPACKMaxTableCapacity uint64
	MaxFieldSectionSize   uint64
	QPACKBlockedStreams   uint64
}

func (s settings) append(b []byte) []byte {
	var payload []byte
	payload = quicvarint.Append(payload, settingQPACKMaxTableCapacity)
	payload = quicvarint.Append(payload, s.QPACKMaxTableCapacity)
	payload = quicvarint.Append(payload, settingMaxFieldSectionSize)
	payload = quicvarint.Append(payload, s.MaxFieldSectionSize)
	payload = quicvarint.Append(payload, settingQPACKBlockedStreams)
	payload = quicvarint.Append(payload, s.QPACKBlockedStreams)

	b = appendFrameHeader(b, frameTypeSettings, len(payload))
	return append(b, payload...)
}

func parseSettings(payload []byte) (settings, error) {
	var s settings
	r := newByteReader(payload)
	for r.Len() > 0 {
		id, err := quicvarint.Read(r)
		if err != nil {
			return s, qerr.Wrap(qerr.FrameError, "settings id", err)
		}
		value, err := quicvarint.Read(r)
		if err != nil {
			return s, qerr.Wrap(qerr.FrameError, "settings value", err)
		}
		switch id {
		case settingQPACKMaxTableCapacity:
			s.QPACKMaxTableCapacity = value
		case settingMaxFieldSectionSize:
			s.MaxFieldSectionSize = value
		case settingQPACKBlockedStreams:
			s.QPACKBlockedStreams = value
		default:
			// unknown settings are ignored
		}
	}
	return s, nil
}

// byteReader adapts a byte slice to quicvarint.Reader.
type byteReader struct {
	buf []byte
	off int
}

func newByteReader(buf []byte) *byteReader {
	return &byteReader{buf: buf}
}

func (r *byteReader) Len() int {
	return len(r.buf) - r.off
}

func (r *byteReader) ReadByte() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, io.EOF
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.off >= len(r.buf) {
		return 0, io.EOF
	}
	n := copy(p, r.buf[r.off:])
	r.off += n
	return n, nil
}

// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package h3

import (
	"bytes"
	"strings"

	"github.com/quic-go/qpack"

	"github.com/quicpro/quicpro-go/pkg/qerr"
)

// maxHeaderEntries caps the header list per request.
const maxHeaderEntries = 64

// Header is one (name, value) field of a request or response.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered field section.
type Headers []Header

// Get returns the first value for name, "" when absent.
func (h Headers) Get(name string) string {
	for _, f := range h {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// Has reports whether name is present.
func (h Headers) Has(name string) bool {
	for _, f := range h {
		if f.Name == name {
			return true
		}
	}
	return false
}

var requiredPseudoHeaders = []string{":method", ":scheme", ":path", ":authority"}

// validateRequestHeaders enforces the client-request field section rules:
// the four pseudo-headers present, pseudo-headers before regular fields,
// lowercase names, at most maxHeaderEntries entries.
func validateRequestHeaders(headers Headers) error {
	if len(headers) > maxHeaderEntries {
		return qerr.Newf(qerr.TooManyHeaders, "%d headers exceed the limit of %d", len(headers), maxHeaderEntries)
	}

	seenRegular := false
	for _, f := range headers {
		if f.Name == "" {
			return qerr.New(qerr.HeaderDecodeError, "empty header name")
		}
		if strings.HasPrefix(f.Name, ":") {
			if seenRegular {
				return qerr.Newf(qerr.HeaderDecodeError, "pseudo-header %q after regular fields", f.Name)
			}
		} else {
			seenRegular = true
		}
		if f.Name != strings.ToLower(f.Name) {
			return qerr.Newf(qerr.HeaderDecodeError, "header name %q is not lowercase", f.Name)
		}
	}

	for _, name := range requiredPseudoHeaders {
		if !headers.Has(name) {
			return qerr.Newf(qerr.HeaderDecodeError, "missing pseudo-header %q", name)
		}
	}
	return nil
}

// encodeFieldSection QPACK-encodes headers into a HEADERS frame payload.
func encodeFieldSection(headers Headers) []byte {
	var buf bytes.Buffer
	encoder := qpack.NewEncoder(&buf)
	for _, f := range headers {
		// static-table-only encoding never fails
		_ = encoder.WriteField(qpack.HeaderField{Name: f.Name, Value: f.Value})
	}
	return buf.Bytes()
}

// decodeFieldSection parses a QPACK field section.
func decodeFieldSection(payload []byte) (Headers, error) {
	decoder := qpack.NewDecoder(nil)
	fields, err := decoder.DecodeFull(payload)
	if err != nil {
		return nil, qerr.Wrap(qerr.HeaderDecodeError, "qpack decode", err)
	}
	if len(fields) > maxHeaderEntries {
		return nil, qerr.Newf(qerr.TooManyHeaders, "%d headers exceed the limit of %d", len(fields), maxHeaderEntries)
	}

	headers := make(Headers, 0, len(fields))
	for _, f := range fields {
		headers = append(headers, Header{Name: f.Name, Value: f.Value})
	}
	return headers, nil
}

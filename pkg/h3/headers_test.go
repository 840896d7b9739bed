// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package h3

import (
	"fmt"
	"testing"

	"github.com/quicpro/quicpro-go/pkg/qerr"
)

func requestHeaders(extra ...Header) Headers {
	h := Headers{
		{Name: ":method", Value: "POST"},
		{Name: ":scheme", Value: "https"},
		{Name: ":path", Value: "/svc/run"},
		{Name: ":authority", Value: "example.org"},
	}
	return append(h, extra...)
}

func TestValidateRequestHeaders(t *testing.T) {
	if err := validateRequestHeaders(requestHeaders(Header{Name: "content-type", Value: "application/octet-stream"})); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRequestHeadersMissingPseudo(t *testing.T) {
	h := Headers{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":path", Value: "/"},
	}
	if err := validateRequestHeaders(h); !qerr.IsKind(err, qerr.HeaderDecodeError) {
		t.Fatalf("expected HeaderDecodeError, got %v", err)
	}
}

func TestValidateRequestHeadersCap(t *testing.T) {
	h := requestHeaders()
	for i := 0; len(h) <= maxHeaderEntries; i++ {
		h = append(h, Header{Name: fmt.Sprintf("x-filler-%d", i), Value: "v"})
	}
	if err := validateRequestHeaders(h); !qerr.IsKind(err, qerr.TooManyHeaders) {
		t.Fatalf("expected TooManyHeaders, got %v", err)
	}
}

func TestValidateRequestHeadersOrderAndCase(t *testing.T) {
	late := append(requestHeaders(Header{Name: "accept", Value: "*/*"}),
		Header{Name: ":late", Value: "x"})
	if err := validateRequestHeaders(late); !qerr.IsKind(err, qerr.HeaderDecodeError) {
		t.Fatalf("expected HeaderDecodeError for late pseudo-header, got %v", err)
	}

	uppercase := requestHeaders(Header{Name: "Content-Type", Value: "text/plain"})
	if err := validateRequestHeaders(uppercase); !qerr.IsKind(err, qerr.HeaderDecodeError) {
		t.Fatalf("expected HeaderDecodeError for uppercase name, got %v", err)
	}
}

func TestFieldSectionRoundTrip(t *testing.T) {
	in := requestHeaders(
		Header{Name: "content-type", Value: "application/vnd.quicpro.proto"},
		Header{Name: "x-request-id", Value: "12345"},
	)

	out, err := decodeFieldSection(encodeFieldSection(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("decoded %d fields, expected %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("field %d = %+v, expected %+v", i, out[i], in[i])
		}
	}
}

func TestHeadersGet(t *testing.T) {
	h := requestHeaders()
	if got := h.Get(":method"); got != "POST" {
		t.Fatalf("Get(:method) = %q", got)
	}
	if got := h.Get("missing"); got != "" {
		t.Fatalf("Get(missing) = %q, expected empty", got)
	}
}

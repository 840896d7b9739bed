// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package h3

import (
	"strconv"

	"github.com/quicpro/quicpro-go/pkg/config"
)

// CORSDecision is the outcome of inspecting a request's Origin.
type CORSDecision int

const (
	// CORSPassthrough means no Origin header was present; the request
	// proceeds untouched.
	CORSPassthrough CORSDecision = iota
	// CORSAllow means the origin is allowed; ResponseHeaders carries the
	// Access-Control-Allow-Origin field for the eventual response.
	CORSAllow
	// CORSForbid means the request must be answered with 403.
	CORSForbid
	// CORSPreflight means an OPTIONS preflight must be answered with 204
	// and ResponseHeaders.
	CORSPreflight
)

// CORSResult bundles the decision with the headers to attach.
type CORSResult struct {
	Decision        CORSDecision
	ResponseHeaders Headers
}

// EvaluateCORS applies the configured policy to one request field section.
func EvaluateCORS(policy *config.CORS, requestHeaders Headers) CORSResult {
	if policy == nil || !policy.Enabled {
		return CORSResult{Decision: CORSPassthrough}
	}

	origin := requestHeaders.Get("origin")
	method := requestHeaders.Get(":method")

	if origin == "" {
		// A preflight without an Origin is not a same-origin request, it
		// is malformed; answering it would leak the policy.
		if method == "OPTIONS" {
			return CORSResult{Decision: CORSForbid}
		}
		return CORSResult{Decision: CORSPassthrough}
	}

	if !policy.AllowsOrigin(origin) {
		return CORSResult{Decision: CORSForbid}
	}

	allowHeaders := Headers{{Name: "access-control-allow-origin", Value: origin}}

	if method == "OPTIONS" {
		allowHeaders = append(allowHeaders,
			Header{Name: "access-control-allow-methods", Value: policy.MethodList()},
			Header{Name: "access-control-allow-headers", Value: policy.HeaderList()},
			Header{Name: "access-control-max-age", Value: strconv.Itoa(policy.MaxAge)},
		)
		return CORSResult{Decision: CORSPreflight, ResponseHeaders: allowHeaders}
	}

	return CORSResult{Decision: CORSAllow, ResponseHeaders: allowHeaders}
}

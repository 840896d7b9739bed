// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package qerr defines the error taxonomy shared by every quicpro-go package.
//
// Every operation that can fail returns an *Error carrying a Kind, a
// human-readable message and, where one exists, an underlying numeric code
// (errno, QUIC error code, H3 frame error). Errors wrap their cause and
// cooperate with errors.Is and errors.As.
package qerr

import (
	"errors"
	"fmt"
)

// Kind tags an error with its position in the taxonomy.
type Kind uint16

const (
	KindUnknown Kind = iota

	// Transport
	DnsResolutionFailed
	NetworkUnreachable
	UdpSendFailed
	SocketClosed

	// Quic
	HandshakeFailed
	ProtocolViolation
	ConnectionClosed
	StreamBlocked
	StreamStopped
	StreamLimitExceeded
	FinalSizeViolation
	TooManyStreams
	CongestionControl

	// Tls
	CertVerifyFailed
	CaLoadFailed
	ClientCertLoadFailed
	TicketRejected

	// H3
	TooManyHeaders
	HeaderDecodeError
	FrameError

	// IIBIN
	SchemaNotFound
	EnumNotFound
	DuplicateTag
	DuplicateName
	UnknownType
	WireTypeMismatch
	MalformedVarint
	RequiredFieldMissing
	TypeMismatch

	// Mcp
	RequestTimeout
	UnexpectedStatus
	PayloadTooLarge

	// Pipeline
	UnknownTool
	UnresolvedReference
	RagFailed
	StepFailed
	PipelineTimedOut

	// Cluster
	ForkFailed
	AffinityFailed
	ResourceLimitFailed
	PrivilegeDropFailed
	PidFileFailed

	// Policy
	ConfigFrozen
	OverrideForbidden
	RateLimited
)

var kindNames = map[Kind]string{
	KindUnknown:          "Unknown",
	DnsResolutionFailed:  "DnsResolutionFailed",
	NetworkUnreachable:   "NetworkUnreachable",
	UdpSendFailed:        "UdpSendFailed",
	SocketClosed:         "SocketClosed",
	HandshakeFailed:      "HandshakeFailed",
	ProtocolViolation:    "ProtocolViolation",
	ConnectionClosed:     "ConnectionClosed",
	StreamBlocked:        "StreamBlocked",
	StreamStopped:        "StreamStopped",
	StreamLimitExceeded:  "StreamLimitExceeded",
	FinalSizeViolation:   "FinalSizeViolation",
	TooManyStreams:       "TooManyStreams",
	CongestionControl:    "CongestionControl",
	CertVerifyFailed:     "CertVerifyFailed",
	CaLoadFailed:         "CaLoadFailed",
	ClientCertLoadFailed: "ClientCertLoadFailed",
	TicketRejected:       "TicketRejected",
	TooManyHeaders:       "TooManyHeaders",
	HeaderDecodeError:    "HeaderDecodeError",
	FrameError:           "FrameError",
	SchemaNotFound:       "SchemaNotFound",
	EnumNotFound:         "EnumNotFound",
	DuplicateTag:         "DuplicateTag",
	DuplicateName:        "DuplicateName",
	UnknownType:          "UnknownType",
	WireTypeMismatch:     "WireTypeMismatch",
	MalformedVarint:      "MalformedVarint",
	RequiredFieldMissing: "RequiredFieldMissing",
	TypeMismatch:         "TypeMismatch",
	RequestTimeout:       "RequestTimeout",
	UnexpectedStatus:     "UnexpectedStatus",
	PayloadTooLarge:      "PayloadTooLarge",
	UnknownTool:          "UnknownTool",
	UnresolvedReference:  "UnresolvedReference",
	RagFailed:            "RagFailed",
	StepFailed:           "StepFailed",
	PipelineTimedOut:     "PipelineTimedOut",
	ForkFailed:           "ForkFailed",
	AffinityFailed:       "AffinityFailed",
	ResourceLimitFailed:  "ResourceLimitFailed",
	PrivilegeDropFailed:  "PrivilegeDropFailed",
	PidFileFailed:        "PidFileFailed",
	ConfigFrozen:         "ConfigFrozen",
	OverrideForbidden:    "OverrideForbidden",
	RateLimited:          "RateLimited",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint16(k))
}

// Error is the concrete error type returned at package boundaries.
type Error struct {
	Kind Kind
	Msg  string
	Code int64
	Err  error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WithCode sets the underlying numeric code and returns the error.
func (e *Error) WithCode(code int64) *Error {
	e.Code = code
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality, so errors.Is(err, &Error{Kind: k}) and
// comparisons against sentinel kinds both work.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the Kind from an error chain, KindUnknown if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

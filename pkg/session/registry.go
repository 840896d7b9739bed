// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"sync"

	"github.com/quicpro/quicpro-go/pkg/qerr"
)

const (
	quicLongHeaderBit = 0x80
	maxCIDLen         = 20
)

// ParseDCID extracts the destination connection id from a raw QUIC packet.
// Long-header packets carry an explicit length byte; short-header packets
// use the registry-wide id length instead, which for sessions minted here
// is always 16 bytes.
func ParseDCID(packet []byte, shortHeaderLen int) ([]byte, error) {
	if len(packet) < 1 {
		return nil, qerr.New(qerr.ProtocolViolation, "empty packet")
	}

	if packet[0]&quicLongHeaderBit != 0 {
		// long header: flags(1) version(4) dcid-len(1) dcid
		if len(packet) < 6 {
			return nil, qerr.New(qerr.ProtocolViolation, "truncated long header")
		}
		dcidLen := int(packet[5])
		if dcidLen > maxCIDLen {
			return nil, qerr.Newf(qerr.ProtocolViolation, "connection id length %d exceeds 20", dcidLen)
		}
		if len(packet) < 6+dcidLen {
			return nil, qerr.New(qerr.ProtocolViolation, "truncated connection id")
		}
		return packet[6 : 6+dcidLen], nil
	}

	if shortHeaderLen <= 0 || shortHeaderLen > maxCIDLen {
		return nil, qerr.Newf(qerr.ProtocolViolation, "invalid short header id length %d", shortHeaderLen)
	}
	if len(packet) < 1+shortHeaderLen {
		return nil, qerr.New(qerr.ProtocolViolation, "truncated short header")
	}
	return packet[1 : 1+shortHeaderLen], nil
}

// Registry routes incoming packets to sessions by connection id. Lookups
// take the read lock only, so the hot path never serializes against
// insertions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Insert registers a session under its connection id.
func (r *Registry) Insert(cid []byte, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[string(cid)] = s
}

// Lookup resolves a connection id to its session, nil when unknown.
func (r *Registry) Lookup(cid []byte) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[string(cid)]
}

// Route parses the packet's destination id and resolves it in one step.
func (r *Registry) Route(packet []byte) (*Session, error) {
	cid, err := ParseDCID(packet, scidLen)
	if err != nil {
		return nil, err
	}
	s := r.Lookup(cid)
	if s == nil {
		return nil, qerr.New(qerr.ConnectionClosed, "no session for connection id")
	}
	return s, nil
}

// Remove drops a single session.
func (r *Registry) Remove(cid []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, string(cid))
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes every session that reached Closed and returns how many
// were dropped. Callers run this from their tick loop.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	swept := 0
	for cid, s := range r.sessions {
		if s.State() == StateClosed {
			delete(r.sessions, cid)
			swept++
		}
	}
	return swept
}

// Each calls fn for every registered session.
func (r *Registry) Each(fn func(cid []byte, s *Session)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for cid, s := range r.sessions {
		fn([]byte(cid), s)
	}
}

// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
	"unsafe"

	log "github.com/sirupsen/logrus"
)

// TicketRing ABI, shared between sibling workers through a common mapping:
//
//	offset 0:  magic "QPTR"
//	offset 4:  version u16
//	offset 6:  capacity u16
//	offset 8:  write-index u32 (atomic, monotonically increasing)
//	offset 12: capacity x { length u16, bytes[512] }
//
// Publish is wait-free single-producer; consumers use snapshot-then-reverify
// and may observe ErrRetryOrSkip when the producer lapped them mid-read.

const (
	ringMagic      = "QPTR"
	ringVersion    = 1
	ringHeaderSize = 12

	// TicketSlotSize is the fixed payload capacity per slot.
	TicketSlotSize = 512

	ringSlotSize = 2 + TicketSlotSize
)

// ErrRetryOrSkip reports that a slot was overwritten while being read.
var ErrRetryOrSkip = errors.New("ticket ring entry overwritten during read")

// ErrRingLayout reports an incompatible backing region.
var ErrRingLayout = errors.New("ticket ring region has wrong magic, version or size")

// TicketRing is a single-producer-multiple-consumer circular ticket buffer.
type TicketRing struct {
	region   []byte
	capacity uint32

	// writeIdx aliases region[8:12]; the region must be 4-byte aligned.
	writeIdx *atomic.Uint32
}

// RingSize returns the byte size of a ring region with the given capacity.
func RingSize(capacity uint16) int {
	return ringHeaderSize + int(capacity)*ringSlotSize
}

// NewTicketRing initialises a ring inside region, writing the header.
func NewTicketRing(region []byte, capacity uint16) (*TicketRing, error) {
	if capacity == 0 || len(region) < RingSize(capacity) {
		return nil, ErrRingLayout
	}

	copy(region[0:4], ringMagic)
	binary.LittleEndian.PutUint16(region[4:6], ringVersion)
	binary.LittleEndian.PutUint16(region[6:8], capacity)
	binary.LittleEndian.PutUint32(region[8:12], 0)

	return attachRing(region, capacity)
}

// AttachTicketRing opens an already initialised ring, e.g. one mapped from
// a sibling worker's shared memory.
func AttachTicketRing(region []byte) (*TicketRing, error) {
	if len(region) < ringHeaderSize || string(region[0:4]) != ringMagic {
		return nil, ErrRingLayout
	}
	if binary.LittleEndian.Uint16(region[4:6]) != ringVersion {
		return nil, ErrRingLayout
	}
	capacity := binary.LittleEndian.Uint16(region[6:8])
	if capacity == 0 || len(region) < RingSize(capacity) {
		return nil, ErrRingLayout
	}
	return attachRing(region, capacity)
}

func attachRing(region []byte, capacity uint16) (*TicketRing, error) {
	idxPtr := (*atomic.Uint32)(unsafe.Pointer(&region[8]))
	if uintptr(unsafe.Pointer(idxPtr))%4 != 0 {
		return nil, ErrRingLayout
	}
	return &TicketRing{
		region:   region,
		capacity: uint32(capacity),
		writeIdx: idxPtr,
	}, nil
}

// Capacity returns the number of slots.
func (r *TicketRing) Capacity() int {
	return int(r.capacity)
}

func (r *TicketRing) slot(seq uint32) []byte {
	off := ringHeaderSize + int(seq%r.capacity)*ringSlotSize
	return r.region[off : off+ringSlotSize]
}

// Publish stores one ticket, overwriting the oldest slot on overflow.
// Tickets longer than TicketSlotSize are truncated-rejected rather than
// split.
func (r *TicketRing) Publish(ticket []byte) bool {
	if len(ticket) == 0 || len(ticket) > TicketSlotSize {
		log.WithField("len", len(ticket)).Warn("Dropping ticket that does not fit a ring slot")
		return false
	}

	// claim the next sequence number up front (wait-free); the length word
	// is the per-slot commit marker, written last
	seq := r.writeIdx.Add(1) - 1
	slot := r.slot(seq)
	binary.LittleEndian.PutUint16(slot[0:2], 0)
	copy(slot[2:], ticket)
	binary.LittleEndian.PutUint16(slot[0:2], uint16(len(ticket)))
	return true
}

// Recent copies up to k of the most recently published tickets, newest
// first. Entries overwritten mid-read are skipped; if every candidate was
// torn, ErrRetryOrSkip is returned.
func (r *TicketRing) Recent(k int) ([][]byte, error) {
	if k <= 0 {
		return nil, nil
	}

	head := r.writeIdx.Load()
	if head == 0 {
		return nil, nil
	}

	available := head
	if available > r.capacity {
		available = r.capacity
	}
	if uint32(k) < available {
		available = uint32(k)
	}

	out := make([][]byte, 0, available)
	torn := false

	for i := uint32(0); i < available; i++ {
		seq := head - 1 - i

		slot := r.slot(seq)
		length := binary.LittleEndian.Uint16(slot[0:2])
		if length == 0 || int(length) > TicketSlotSize {
			// zero length means the producer has claimed but not committed
			torn = true
			continue
		}
		ticket := append([]byte(nil), slot[2:2+length]...)

		// reverify: if the producer advanced past this slot while we were
		// copying, the bytes may be torn
		newHead := r.writeIdx.Load()
		if newHead > seq+r.capacity {
			torn = true
			continue
		}

		out = append(out, ticket)
	}

	if len(out) == 0 && torn {
		return nil, ErrRetryOrSkip
	}
	return out, nil
}

// Latest returns the most recent ticket, or nil when the ring is empty.
func (r *TicketRing) Latest() ([]byte, error) {
	recent, err := r.Recent(1)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, nil
	}
	return recent[0], nil
}

// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package iibin

import (
	"encoding/binary"
	"math"

	"github.com/quicpro/quicpro-go/pkg/qerr"
)

// WireType is the low three bits of a field key.
type WireType uint8

const (
	WireVarint      WireType = 0
	WireFixed64     WireType = 1
	WireLengthDelim WireType = 2
	WireFixed32     WireType = 5
)

func (w WireType) String() string {
	switch w {
	case WireVarint:
		return "VARINT"
	case WireFixed64:
		return "FIXED64"
	case WireLengthDelim:
		return "LENGTH_DELIM"
	case WireFixed32:
		return "FIXED32"
	default:
		return "INVALID"
	}
}

// maxVarintBytes caps varint length; anything longer is malformed.
const maxVarintBytes = 10

func appendVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// readVarint decodes one base-128 varint from data, returning the value and
// the number of bytes consumed.
func readVarint(data []byte) (uint64, int, error) {
	var v uint64
	for i := 0; i < len(data); i++ {
		if i == maxVarintBytes {
			return 0, 0, qerr.New(qerr.MalformedVarint, "varint exceeds 10 bytes")
		}
		b := data[i]
		v |= uint64(b&0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, qerr.New(qerr.MalformedVarint, "varint truncated")
}

func appendKey(buf []byte, tag uint32, wt WireType) []byte {
	return appendVarint(buf, uint64(tag)<<3|uint64(wt))
}

func readKey(data []byte) (tag uint32, wt WireType, n int, err error) {
	key, n, err := readVarint(data)
	if err != nil {
		return 0, 0, 0, err
	}
	return uint32(key >> 3), WireType(key & 0x7), n, nil
}

// zig-zag maps signed to unsigned so small negatives stay short.

func zigzag32(v int32) uint64   { return uint64(uint32(v<<1) ^ uint32(v>>31)) }
func zigzag64(v int64) uint64   { return (uint64(v) << 1) ^ uint64(v>>63) }
func unzigzag32(v uint64) int32 { return int32(uint32(v>>1) ^ -(uint32(v) & 1)) }
func unzigzag64(v uint64) int64 { return int64(v>>1) ^ -int64(v&1) }

func appendFixed32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendFixed64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendFloat32(buf []byte, v float32) []byte {
	return appendFixed32(buf, math.Float32bits(v))
}

func appendFloat64(buf []byte, v float64) []byte {
	return appendFixed64(buf, math.Float64bits(v))
}

func readFixed32(data []byte) (uint32, int, error) {
	if len(data) < 4 {
		return 0, 0, qerr.New(qerr.MalformedVarint, "fixed32 truncated")
	}
	return binary.LittleEndian.Uint32(data), 4, nil
}

func readFixed64(data []byte) (uint64, int, error) {
	if len(data) < 8 {
		return 0, 0, qerr.New(qerr.MalformedVarint, "fixed64 truncated")
	}
	return binary.LittleEndian.Uint64(data), 8, nil
}

// skipValue consumes one wire value of type wt, knowing nothing about the
// schema. Unknown fields pass through here for forward compatibility.
func skipValue(data []byte, wt WireType) (int, error) {
	switch wt {
	case WireVarint:
		_, n, err := readVarint(data)
		return n, err
	case WireFixed32:
		if len(data) < 4 {
			return 0, qerr.New(qerr.MalformedVarint, "fixed32 truncated while skipping")
		}
		return 4, nil
	case WireFixed64:
		if len(data) < 8 {
			return 0, qerr.New(qerr.MalformedVarint, "fixed64 truncated while skipping")
		}
		return 8, nil
	case WireLengthDelim:
		length, n, err := readVarint(data)
		if err != nil {
			return 0, err
		}
		if uint64(len(data)-n) < length {
			return 0, qerr.New(qerr.MalformedVarint, "length-delimited value exceeds buffer")
		}
		return n + int(length), nil
	default:
		return 0, qerr.Newf(qerr.WireTypeMismatch, "cannot skip unknown wire type %d", wt)
	}
}

// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package host defines the boundary between the quicpro core and a dynamic
// host runtime. The core only ever speaks in tagged Values and Records; a
// binding implements Reader and Writer to translate its native mappings.
package host

import (
	"fmt"
	"sort"
	"strconv"
)

// ValueKind discriminates the variants of a Value.
type ValueKind uint8

const (
	KindNil ValueKind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindBytes
	KindList
	KindRecord
)

func (k ValueKind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindRecord:
		return "record"
	default:
		return "invalid"
	}
}

// Value is the tagged variant exchanged with the host runtime. The zero
// Value is Nil.
type Value struct {
	kind ValueKind

	b   bool
	i   int64
	u   uint64
	f   float64
	s   string
	raw []byte
	l   []Value
	r   *Record
}

func Nil() Value                { return Value{} }
func Bool(v bool) Value         { return Value{kind: KindBool, b: v} }
func Int(v int64) Value         { return Value{kind: KindInt, i: v} }
func Uint(v uint64) Value       { return Value{kind: KindUint, u: v} }
func Float(v float64) Value     { return Value{kind: KindFloat, f: v} }
func String(v string) Value     { return Value{kind: KindString, s: v} }
func Bytes(v []byte) Value      { return Value{kind: KindBytes, raw: v} }
func List(vs ...Value) Value    { return Value{kind: KindList, l: vs} }
func RecordVal(r *Record) Value { return Value{kind: KindRecord, r: r} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNil() bool     { return v.kind == KindNil }

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindUint:
		return int64(v.u), true
	default:
		return 0, false
	}
}

func (v Value) AsUint() (uint64, bool) {
	switch v.kind {
	case KindUint:
		return v.u, true
	case KindInt:
		if v.i < 0 {
			return 0, false
		}
		return uint64(v.i), true
	default:
		return 0, false
	}
}

func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	case KindUint:
		return float64(v.u), true
	default:
		return 0, false
	}
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

func (v Value) AsBytes() ([]byte, bool) {
	switch v.kind {
	case KindBytes:
		return v.raw, true
	case KindString:
		return []byte(v.s), true
	default:
		return nil, false
	}
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.l, true
}

func (v Value) AsRecord() (*Record, bool) {
	if v.kind != KindRecord {
		return nil, false
	}
	return v.r, true
}

// Truthy mirrors the host runtime's notion of truth: nil and zero values are
// false, everything else is true.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindUint:
		return v.u != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		return v.s != "" && v.s != "0"
	case KindBytes:
		return len(v.raw) > 0
	case KindList:
		return len(v.l) > 0
	case KindRecord:
		return v.r != nil && v.r.Len() > 0
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindUint:
		return strconv.FormatUint(v.u, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.raw))
	case KindList:
		return fmt.Sprintf("list(%d)", len(v.l))
	case KindRecord:
		return fmt.Sprintf("record(%d)", v.r.Len())
	default:
		return "invalid"
	}
}

// Equal compares two values structurally.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindUint:
		return v.u == o.u
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindBytes:
		if len(v.raw) != len(o.raw) {
			return false
		}
		for i := range v.raw {
			if v.raw[i] != o.raw[i] {
				return false
			}
		}
		return true
	case KindList:
		if len(v.l) != len(o.l) {
			return false
		}
		for i := range v.l {
			if !v.l[i].Equal(o.l[i]) {
				return false
			}
		}
		return true
	case KindRecord:
		return v.r.Equal(o.r)
	default:
		return false
	}
}

// Record is an insertion-ordered string-keyed mapping of Values.
type Record struct {
	keys   []string
	values map[string]Value
}

func NewRecord() *Record {
	return &Record{values: make(map[string]Value)}
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

func (r *Record) Set(key string, value Value) {
	if _, exists := r.values[key]; !exists {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r *Record) Get(key string) (Value, bool) {
	if r == nil {
		return Nil(), false
	}
	v, ok := r.values[key]
	return v, ok
}

func (r *Record) Has(key string) bool {
	if r == nil {
		return false
	}
	_, ok := r.values[key]
	return ok
}

func (r *Record) Delete(key string) {
	if !r.Has(key) {
		return
	}
	delete(r.values, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// SortedKeys returns the keys in lexical order.
func (r *Record) SortedKeys() []string {
	out := r.Keys()
	sort.Strings(out)
	return out
}

func (r *Record) Equal(o *Record) bool {
	if r.Len() != o.Len() {
		return false
	}
	for _, k := range r.keys {
		ov, ok := o.Get(k)
		if !ok {
			return false
		}
		v, _ := r.Get(k)
		if !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Clone performs a shallow copy; contained lists and records are shared.
func (r *Record) Clone() *Record {
	out := NewRecord()
	for _, k := range r.keys {
		out.Set(k, r.values[k])
	}
	return out
}

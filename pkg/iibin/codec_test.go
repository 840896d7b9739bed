// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package iibin

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quicpro/quicpro-go/pkg/host"
	"github.com/quicpro/quicpro-go/pkg/qerr"
)

func newShapeRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()

	require.NoError(t, r.DefineSchema("Point", map[string]FieldOptions{
		"x": {Type: "int32", Tag: 1},
		"y": {Type: "int32", Tag: 2},
	}))
	require.NoError(t, r.DefineSchema("Shape", map[string]FieldOptions{
		"name":   {Type: "string", Tag: 1},
		"points": {Type: "Point", Tag: 2, Repeated: true},
		"radii":  {Type: "int32", Tag: 3, Repeated: true},
	}))

	return r
}

func shapeRecord() *host.Record {
	p := func(x, y int64) host.Value {
		rec := host.NewRecord()
		rec.Set("x", host.Int(x))
		rec.Set("y", host.Int(y))
		return host.RecordVal(rec)
	}

	rec := host.NewRecord()
	rec.Set("name", host.String("tri"))
	rec.Set("points", host.List(p(0, 0), p(3, 0), p(0, 4)))
	rec.Set("radii", host.List(host.Int(1), host.Int(2), host.Int(3)))
	return rec
}

func TestShapeWireBytes(t *testing.T) {
	r := newShapeRegistry(t)

	data, err := r.Encode("Shape", shapeRecord())
	require.NoError(t, err)

	// tag 1, string "tri"
	assert.True(t, bytes.HasPrefix(data, []byte{0x0a, 0x03, 't', 'r', 'i'}))

	// packed radii: single length-delimited entry with bare varints 1 2 3
	assert.True(t, bytes.HasSuffix(data, []byte{0x1a, 0x03, 0x01, 0x02, 0x03}))

	// three length-delimited Point entries under tag 2
	assert.Equal(t, 3, bytes.Count(data, []byte{0x12}))
}

func TestShapeRoundTrip(t *testing.T) {
	r := newShapeRegistry(t)
	in := shapeRecord()

	data, err := r.Encode("Shape", in)
	require.NoError(t, err)

	out, err := r.Decode("Shape", data)
	require.NoError(t, err)

	require.True(t, in.Equal(out), "decode(encode(r)) != r\nin:  %v\nout: %v", in.Keys(), out.Keys())
}

func TestEncodeCanonicalOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.DefineSchema("Ordered", map[string]FieldOptions{
		"c": {Type: "uint32", Tag: 3},
		"a": {Type: "uint32", Tag: 1},
		"b": {Type: "uint32", Tag: 2},
	}))

	// record populated in reverse order; wire bytes must still ascend by tag
	rec := host.NewRecord()
	rec.Set("c", host.Uint(3))
	rec.Set("b", host.Uint(2))
	rec.Set("a", host.Uint(1))

	data, err := r.Encode("Ordered", rec)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0x01, 0x10, 0x02, 0x18, 0x03}, data)
}

func TestForwardCompatibility(t *testing.T) {
	v2 := NewRegistry()
	require.NoError(t, v2.DefineSchema("Msg", map[string]FieldOptions{
		"a":     {Type: "uint32", Tag: 1},
		"b":     {Type: "uint32", Tag: 2},
		"extra": {Type: "string", Tag: 3},
	}))

	v1 := NewRegistry()
	require.NoError(t, v1.DefineSchema("Msg", map[string]FieldOptions{
		"a": {Type: "uint32", Tag: 1},
		"b": {Type: "uint32", Tag: 2},
	}))

	rec := host.NewRecord()
	rec.Set("a", host.Uint(7))
	rec.Set("b", host.Uint(8))
	rec.Set("extra", host.String("future"))

	data, err := v2.Encode("Msg", rec)
	require.NoError(t, err)

	out, err := v1.Decode("Msg", data)
	require.NoError(t, err)

	a, _ := out.Get("a")
	b, _ := out.Get("b")
	assert.True(t, a.Equal(host.Uint(7)))
	assert.True(t, b.Equal(host.Uint(8)))
	assert.False(t, out.Has("extra"), "unknown tag must be dropped silently")
}

func TestRequiredFieldEnforcement(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.DefineSchema("Strict", map[string]FieldOptions{
		"id": {Type: "uint64", Tag: 1, Required: true},
	}))

	_, err := r.Encode("Strict", host.NewRecord())
	assert.Equal(t, qerr.RequiredFieldMissing, qerr.KindOf(err))

	// on the wire side: an empty buffer misses the required field as well
	_, err = r.Decode("Strict", nil)
	assert.Equal(t, qerr.RequiredFieldMissing, qerr.KindOf(err))
}

func TestDefaultInsertion(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.DefineEnum("Mode", map[string]int32{
		"MODE_IDLE": 0,
		"MODE_FAST": 2,
	}))
	require.NoError(t, r.DefineSchema("Settings", map[string]FieldOptions{
		"retries": {Type: "uint32", Tag: 1, Default: host.Uint(3)},
		"mode":    {Type: "Mode", Tag: 2, Default: host.String("MODE_FAST")},
	}))

	out, err := r.Decode("Settings", nil)
	require.NoError(t, err)

	retries, _ := out.Get("retries")
	assert.True(t, retries.Equal(host.Uint(3)))

	// enum default by identifier decodes to its number
	mode, _ := out.Get("mode")
	assert.True(t, mode.Equal(host.Int(2)))
}

func TestEnumPassthroughUnknownNumber(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.DefineEnum("Mode", map[string]int32{"MODE_IDLE": 0}))
	require.NoError(t, r.DefineSchema("M", map[string]FieldOptions{
		"mode": {Type: "Mode", Tag: 1},
	}))

	// 99 is not a defined number; forward-compat says pass it through
	data := []byte{0x08, 99}
	out, err := r.Decode("M", data)
	require.NoError(t, err)

	mode, _ := out.Get("mode")
	assert.True(t, mode.Equal(host.Int(99)))
}

func TestSintZigZagOnWire(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.DefineSchema("S", map[string]FieldOptions{
		"delta": {Type: "sint32", Tag: 1},
	}))

	rec := host.NewRecord()
	rec.Set("delta", host.Int(-1))

	data, err := r.Encode("S", rec)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0x01}, data, "-1 zig-zags to 1")

	out, err := r.Decode("S", data)
	require.NoError(t, err)
	delta, _ := out.Get("delta")
	assert.True(t, delta.Equal(host.Int(-1)))
}

func TestEmptyRepeatedEmitsNothing(t *testing.T) {
	r := newShapeRegistry(t)

	rec := host.NewRecord()
	rec.Set("name", host.String("x"))
	rec.Set("points", host.List())
	rec.Set("radii", host.List())

	data, err := r.Encode("Shape", rec)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0x01, 'x'}, data)
}

func TestLastOneWinsScalar(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.DefineSchema("L", map[string]FieldOptions{
		"v": {Type: "uint32", Tag: 1},
	}))

	// same tag twice on the wire
	data := []byte{0x08, 0x01, 0x08, 0x02}
	out, err := r.Decode("L", data)
	require.NoError(t, err)

	v, _ := out.Get("v")
	assert.True(t, v.Equal(host.Uint(2)))
}

func TestWireTypeMismatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.DefineSchema("W", map[string]FieldOptions{
		"v": {Type: "uint32", Tag: 1},
	}))

	// tag 1 framed as FIXED64 instead of VARINT
	data := []byte{0x09, 1, 2, 3, 4, 5, 6, 7, 8}
	_, err := r.Decode("W", data)
	assert.Equal(t, qerr.WireTypeMismatch, qerr.KindOf(err))
}

func TestWireTagZeroIgnored(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.DefineSchema("Z", map[string]FieldOptions{
		"v": {Type: "uint32", Tag: 1},
	}))

	// key 0x00 = tag 0, VARINT; its value is consumed and dropped
	data := []byte{0x00, 0x2a, 0x08, 0x07}
	out, err := r.Decode("Z", data)
	require.NoError(t, err)

	v, _ := out.Get("v")
	assert.True(t, v.Equal(host.Uint(7)))
}

func TestSingleNamespace(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.DefineEnum("Thing", map[string]int32{"A": 0}))

	err := r.DefineSchema("Thing", map[string]FieldOptions{
		"v": {Type: "uint32", Tag: 1},
	})
	assert.Equal(t, qerr.DuplicateName, qerr.KindOf(err))
}

func TestForwardReferenceRejected(t *testing.T) {
	r := NewRegistry()
	err := r.DefineSchema("Outer", map[string]FieldOptions{
		"inner": {Type: "NotYetDefined", Tag: 1},
	})
	assert.Equal(t, qerr.UnknownType, qerr.KindOf(err))
	assert.False(t, r.IsDefined("Outer"))
}

func TestDuplicateTagRejected(t *testing.T) {
	r := NewRegistry()
	err := r.DefineSchema("Dup", map[string]FieldOptions{
		"a": {Type: "uint32", Tag: 1},
		"b": {Type: "uint32", Tag: 1},
	})
	assert.Equal(t, qerr.DuplicateTag, qerr.KindOf(err))
}

func TestStrictTypeChecking(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.DefineSchema("T", map[string]FieldOptions{
		"n": {Type: "uint32", Tag: 1},
	}))

	rec := host.NewRecord()
	rec.Set("n", host.String("42")) // no implicit string->number

	_, err := r.Encode("T", rec)
	assert.Equal(t, qerr.TypeMismatch, qerr.KindOf(err))
}

func TestIntrospection(t *testing.T) {
	r := newShapeRegistry(t)
	require.NoError(t, r.DefineEnum("Mode", map[string]int32{"A": 1}))

	assert.Equal(t, []string{"Point", "Shape"}, r.Schemas())
	assert.Equal(t, []string{"Mode"}, r.Enums())
	assert.True(t, r.IsDefined("Shape"))
	assert.True(t, r.IsDefined("Mode"))
	assert.False(t, r.IsDefined("Nope"))
}

func TestFixedAndFloatRoundTrip(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.DefineSchema("F", map[string]FieldOptions{
		"f32": {Type: "fixed32", Tag: 1},
		"s32": {Type: "sfixed32", Tag: 2},
		"fl":  {Type: "float", Tag: 3},
		"f64": {Type: "fixed64", Tag: 4},
		"s64": {Type: "sfixed64", Tag: 5},
		"db":  {Type: "double", Tag: 6},
	}))

	in := host.NewRecord()
	in.Set("f32", host.Uint(0xdeadbeef))
	in.Set("s32", host.Int(-7))
	in.Set("fl", host.Float(1.5))
	in.Set("f64", host.Uint(1<<48))
	in.Set("s64", host.Int(-1<<40))
	in.Set("db", host.Float(-2.25))

	data, err := r.Encode("F", in)
	require.NoError(t, err)

	out, err := r.Decode("F", data)
	require.NoError(t, err)
	require.True(t, in.Equal(out))
}

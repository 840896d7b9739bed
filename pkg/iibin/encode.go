// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package iibin

import (
	"math"

	"github.com/quicpro/quicpro-go/pkg/host"
	"github.com/quicpro/quicpro-go/pkg/qerr"
)

// Encode serialises record against the named schema. Fields are emitted in
// canonical order (ascending tag) regardless of the record's own ordering.
func (r *Registry) Encode(schemaName string, record *host.Record) ([]byte, error) {
	schema, err := r.Schema(schemaName)
	if err != nil {
		return nil, err
	}
	return r.encodeRecord(schema, record)
}

func (r *Registry) encodeRecord(schema *Schema, record *host.Record) ([]byte, error) {
	var buf []byte

	for _, field := range schema.Fields() {
		value, present := fieldValue(record, field)
		if !present {
			if field.Required {
				return nil, qerr.Newf(qerr.RequiredFieldMissing,
					"schema %s: required field %s missing", schema.Name, field.Name)
			}
			continue
		}

		var err error
		if field.Repeated {
			buf, err = r.encodeRepeated(buf, schema, field, value)
		} else {
			buf, err = r.encodeScalarField(buf, schema, field, value)
		}
		if err != nil {
			return nil, err
		}
	}

	return buf, nil
}

// fieldValue finds the field in the record by name, falling back to its
// JSON alias.
func fieldValue(record *host.Record, field *Field) (host.Value, bool) {
	if v, ok := record.Get(field.Name); ok {
		return v, true
	}
	if field.JSONAlias != "" {
		if v, ok := record.Get(field.JSONAlias); ok {
			return v, true
		}
	}
	return host.Nil(), false
}

func (r *Registry) encodeRepeated(buf []byte, schema *Schema, field *Field, value host.Value) ([]byte, error) {
	elems, ok := value.AsList()
	if !ok {
		return nil, qerr.Newf(qerr.TypeMismatch,
			"schema %s: field %s is repeated but input is %s", schema.Name, field.Name, value.Kind())
	}
	if len(elems) == 0 {
		// empty repeated emits nothing at all
		return buf, nil
	}

	if field.Packed {
		var body []byte
		for _, elem := range elems {
			var err error
			body, err = r.encodeBare(body, schema, field, elem)
			if err != nil {
				return nil, err
			}
		}
		buf = appendKey(buf, field.Tag, WireLengthDelim)
		buf = appendVarint(buf, uint64(len(body)))
		return append(buf, body...), nil
	}

	for _, elem := range elems {
		var err error
		buf, err = r.encodeScalarField(buf, schema, field, elem)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// encodeScalarField emits key + value for one element.
func (r *Registry) encodeScalarField(buf []byte, schema *Schema, field *Field, value host.Value) ([]byte, error) {
	switch field.Wire {
	case WireLengthDelim:
		body, err := r.lengthDelimBody(schema, field, value)
		if err != nil {
			return nil, err
		}
		buf = appendKey(buf, field.Tag, WireLengthDelim)
		buf = appendVarint(buf, uint64(len(body)))
		return append(buf, body...), nil

	default:
		buf = appendKey(buf, field.Tag, field.Wire)
		return r.encodeBare(buf, schema, field, value)
	}
}

func (r *Registry) lengthDelimBody(schema *Schema, field *Field, value host.Value) ([]byte, error) {
	switch field.Type {
	case TypeString:
		s, ok := value.AsString()
		if !ok {
			return nil, typeErr(schema, field, "string", value)
		}
		return []byte(s), nil

	case TypeBytes:
		b, ok := value.AsBytes()
		if !ok {
			return nil, typeErr(schema, field, "bytes", value)
		}
		return b, nil

	case TypeMessage:
		nested, ok := value.AsRecord()
		if !ok {
			return nil, typeErr(schema, field, "record", value)
		}
		nestedSchema, err := r.Schema(field.Ref)
		if err != nil {
			return nil, err
		}
		return r.encodeRecord(nestedSchema, nested)

	default:
		return nil, qerr.Newf(qerr.UnknownType,
			"schema %s: field %s has no length-delimited form", schema.Name, field.Name)
	}
}

// encodeBare appends a value without its key, used for both plain scalars
// and packed repeated bodies.
func (r *Registry) encodeBare(buf []byte, schema *Schema, field *Field, value host.Value) ([]byte, error) {
	switch field.Type {
	case TypeInt32:
		v, ok := value.AsInt()
		if !ok || v < math.MinInt32 || v > math.MaxInt32 {
			return nil, typeErr(schema, field, "int32", value)
		}
		// negative int32 still occupies ten bytes, same as Protobuf
		return appendVarint(buf, uint64(v)), nil

	case TypeInt64:
		v, ok := value.AsInt()
		if !ok {
			return nil, typeErr(schema, field, "int64", value)
		}
		return appendVarint(buf, uint64(v)), nil

	case TypeUint32:
		v, ok := value.AsUint()
		if !ok || v > math.MaxUint32 {
			return nil, typeErr(schema, field, "uint32", value)
		}
		return appendVarint(buf, v), nil

	case TypeUint64:
		v, ok := value.AsUint()
		if !ok {
			return nil, typeErr(schema, field, "uint64", value)
		}
		return appendVarint(buf, v), nil

	case TypeSint32:
		v, ok := value.AsInt()
		if !ok || v < math.MinInt32 || v > math.MaxInt32 {
			return nil, typeErr(schema, field, "sint32", value)
		}
		return appendVarint(buf, zigzag32(int32(v))), nil

	case TypeSint64:
		v, ok := value.AsInt()
		if !ok {
			return nil, typeErr(schema, field, "sint64", value)
		}
		return appendVarint(buf, zigzag64(v)), nil

	case TypeBool:
		v, ok := value.AsBool()
		if !ok {
			return nil, typeErr(schema, field, "bool", value)
		}
		var n uint64
		if v {
			n = 1
		}
		return appendVarint(buf, n), nil

	case TypeEnum:
		return r.encodeEnum(buf, schema, field, value)

	case TypeFixed32:
		v, ok := value.AsUint()
		if !ok || v > math.MaxUint32 {
			return nil, typeErr(schema, field, "fixed32", value)
		}
		return appendFixed32(buf, uint32(v)), nil

	case TypeSfixed32:
		v, ok := value.AsInt()
		if !ok || v < math.MinInt32 || v > math.MaxInt32 {
			return nil, typeErr(schema, field, "sfixed32", value)
		}
		return appendFixed32(buf, uint32(int32(v))), nil

	case TypeFloat:
		v, ok := value.AsFloat()
		if !ok {
			return nil, typeErr(schema, field, "float", value)
		}
		return appendFloat32(buf, float32(v)), nil

	case TypeFixed64:
		v, ok := value.AsUint()
		if !ok {
			return nil, typeErr(schema, field, "fixed64", value)
		}
		return appendFixed64(buf, v), nil

	case TypeSfixed64:
		v, ok := value.AsInt()
		if !ok {
			return nil, typeErr(schema, field, "sfixed64", value)
		}
		return appendFixed64(buf, uint64(v)), nil

	case TypeDouble:
		v, ok := value.AsFloat()
		if !ok {
			return nil, typeErr(schema, field, "double", value)
		}
		return appendFloat64(buf, v), nil

	default:
		return nil, qerr.Newf(qerr.UnknownType,
			"schema %s: field %s has non-bare type", schema.Name, field.Name)
	}
}

// encodeEnum accepts either the numeric value or the identifier string.
func (r *Registry) encodeEnum(buf []byte, schema *Schema, field *Field, value host.Value) ([]byte, error) {
	enum, err := r.Enum(field.Ref)
	if err != nil {
		return nil, err
	}

	if ident, ok := value.AsString(); ok {
		number, found := enum.Number(ident)
		if !found {
			return nil, qerr.Newf(qerr.EnumNotFound,
				"schema %s: field %s: %q is not in enum %s", schema.Name, field.Name, ident, enum.Name)
		}
		return appendVarint(buf, uint64(number)), nil
	}

	if number, ok := value.AsInt(); ok {
		if number < math.MinInt32 || number > math.MaxInt32 {
			return nil, typeErr(schema, field, "enum", value)
		}
		return appendVarint(buf, uint64(int32(number))), nil
	}

	return nil, typeErr(schema, field, "enum", value)
}

func typeErr(schema *Schema, field *Field, expected string, value host.Value) error {
	return qerr.Newf(qerr.TypeMismatch,
		"schema %s: field %s expects %s, got %s", schema.Name, field.Name, expected, value.Kind())
}

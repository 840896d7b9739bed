// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package iibin

import (
	"math"

	"github.com/quicpro/quicpro-go/pkg/host"
	"github.com/quicpro/quicpro-go/pkg/qerr"
)

// Decode parses data against the named schema. Unknown tags are skipped
// using only their wire type, preserving forward compatibility. After the
// wire pass, missing required fields fail and missing optional fields with
// defaults receive them.
func (r *Registry) Decode(schemaName string, data []byte) (*host.Record, error) {
	schema, err := r.Schema(schemaName)
	if err != nil {
		return nil, err
	}
	return r.decodeRecord(schema, data)
}

func (r *Registry) decodeRecord(schema *Schema, data []byte) (*host.Record, error) {
	record := host.NewRecord()

	for len(data) > 0 {
		tag, wt, n, err := readKey(data)
		if err != nil {
			return nil, err
		}
		data = data[n:]

		// wire tag 0 is ignored rather than treated as an error
		if tag == 0 {
			skipped, err := skipValue(data, wt)
			if err != nil {
				return nil, err
			}
			data = data[skipped:]
			continue
		}

		field, known := schema.FieldByTag(tag)
		if !known {
			skipped, err := skipValue(data, wt)
			if err != nil {
				return nil, err
			}
			data = data[skipped:]
			continue
		}

		consumed, err := r.decodeField(schema, field, wt, data, record)
		if err != nil {
			return nil, err
		}
		data = data[consumed:]
	}

	// post-pass: required enforcement and default insertion
	for _, field := range schema.Fields() {
		if record.Has(field.Name) {
			continue
		}
		if field.Required {
			return nil, qerr.Newf(qerr.RequiredFieldMissing,
				"schema %s: required field %s absent", schema.Name, field.Name)
		}
		if field.HasDefault {
			record.Set(field.Name, field.Default)
		}
	}

	return record, nil
}

func (r *Registry) decodeField(schema *Schema, field *Field, wt WireType, data []byte, record *host.Record) (int, error) {
	// a packed repeated primitive arrives as one LENGTH_DELIM entry
	if field.Repeated && wt == WireLengthDelim && field.Wire != WireLengthDelim {
		if !packable(field.Type) {
			return 0, wireErr(schema, field, wt)
		}
		return r.decodePacked(schema, field, data, record)
	}

	if wt != field.Wire {
		return 0, wireErr(schema, field, wt)
	}

	value, consumed, err := r.decodeValue(schema, field, data)
	if err != nil {
		return 0, err
	}

	if field.Repeated {
		appendRepeated(record, field.Name, value)
	} else {
		// same tag twice for a non-repeated field: last one wins
		record.Set(field.Name, value)
	}

	return consumed, nil
}

func (r *Registry) decodePacked(schema *Schema, field *Field, data []byte, record *host.Record) (int, error) {
	length, n, err := readVarint(data)
	if err != nil {
		return 0, err
	}
	if uint64(len(data)-n) < length {
		return 0, qerr.Newf(qerr.MalformedVarint,
			"schema %s: packed field %s exceeds buffer", schema.Name, field.Name)
	}

	body := data[n : n+int(length)]
	for len(body) > 0 {
		value, consumed, err := r.decodeBare(schema, field, body)
		if err != nil {
			return 0, err
		}
		appendRepeated(record, field.Name, value)
		body = body[consumed:]
	}

	return n + int(length), nil
}

func appendRepeated(record *host.Record, name string, value host.Value) {
	existing, _ := record.Get(name)
	if list, ok := existing.AsList(); ok {
		record.Set(name, host.List(append(list, value)...))
	} else {
		record.Set(name, host.List(value))
	}
}

// decodeValue reads one keyed value (without the key, which the caller
// already consumed).
func (r *Registry) decodeValue(schema *Schema, field *Field, data []byte) (host.Value, int, error) {
	if field.Wire != WireLengthDelim {
		return r.decodeBare(schema, field, data)
	}

	length, n, err := readVarint(data)
	if err != nil {
		return host.Nil(), 0, err
	}
	if uint64(len(data)-n) < length {
		return host.Nil(), 0, qerr.Newf(qerr.MalformedVarint,
			"schema %s: field %s length exceeds buffer", schema.Name, field.Name)
	}
	body := data[n : n+int(length)]

	switch field.Type {
	case TypeString:
		return host.String(string(body)), n + int(length), nil

	case TypeBytes:
		return host.Bytes(append([]byte(nil), body...)), n + int(length), nil

	case TypeMessage:
		nestedSchema, err := r.Schema(field.Ref)
		if err != nil {
			return host.Nil(), 0, err
		}
		nested, err := r.decodeRecord(nestedSchema, body)
		if err != nil {
			return host.Nil(), 0, err
		}
		return host.RecordVal(nested), n + int(length), nil

	default:
		return host.Nil(), 0, qerr.Newf(qerr.UnknownType,
			"schema %s: field %s has no length-delimited form", schema.Name, field.Name)
	}
}

// decodeBare reads one bare (non-length-delimited) value.
func (r *Registry) decodeBare(schema *Schema, field *Field, data []byte) (host.Value, int, error) {
	switch field.Wire {
	case WireVarint:
		v, n, err := readVarint(data)
		if err != nil {
			return host.Nil(), 0, err
		}
		return varintToValue(field, v), n, nil

	case WireFixed32:
		v, n, err := readFixed32(data)
		if err != nil {
			return host.Nil(), 0, err
		}
		switch field.Type {
		case TypeFixed32:
			return host.Uint(uint64(v)), n, nil
		case TypeSfixed32:
			return host.Int(int64(int32(v))), n, nil
		default: // TypeFloat
			return host.Float(float64(math.Float32frombits(v))), n, nil
		}

	case WireFixed64:
		v, n, err := readFixed64(data)
		if err != nil {
			return host.Nil(), 0, err
		}
		switch field.Type {
		case TypeFixed64:
			return host.Uint(v), n, nil
		case TypeSfixed64:
			return host.Int(int64(v)), n, nil
		default: // TypeDouble
			return host.Float(math.Float64frombits(v)), n, nil
		}

	default:
		return host.Nil(), 0, qerr.Newf(qerr.UnknownType,
			"schema %s: field %s is not bare-decodable", schema.Name, field.Name)
	}
}

func varintToValue(field *Field, v uint64) host.Value {
	switch field.Type {
	case TypeInt32:
		return host.Int(int64(int32(v)))
	case TypeInt64:
		return host.Int(int64(v))
	case TypeUint32:
		return host.Uint(v & math.MaxUint32)
	case TypeUint64:
		return host.Uint(v)
	case TypeSint32:
		return host.Int(int64(unzigzag32(v)))
	case TypeSint64:
		return host.Int(unzigzag64(v))
	case TypeBool:
		return host.Bool(v != 0)
	case TypeEnum:
		// numbers outside the enum definition pass through untouched
		return host.Int(int64(int32(v)))
	default:
		return host.Nil()
	}
}

func wireErr(schema *Schema, field *Field, got WireType) error {
	return qerr.Newf(qerr.WireTypeMismatch,
		"schema %s: field %s expects wire type %s, got %s", schema.Name, field.Name, field.Wire, got)
}

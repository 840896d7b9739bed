// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package iibin implements the IIBIN binary codec: a schema-registry-driven
// encoder/decoder whose wire format is bit-compatible with Protobuf
// (tag/wire-type keys, little-endian varints, zig-zag signed ints, packed
// repeated primitives, forward-compatible skipping of unknown fields).
package iibin

import (
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/quicpro/quicpro-go/pkg/host"
	"github.com/quicpro/quicpro-go/pkg/qerr"
)

// FieldType is the logical type of a field. Message and enum fields carry
// the referenced registry name alongside.
type FieldType uint8

const (
	TypeInvalid FieldType = iota
	TypeInt32
	TypeInt64
	TypeUint32
	TypeUint64
	TypeSint32
	TypeSint64
	TypeBool
	TypeFixed32
	TypeSfixed32
	TypeFloat
	TypeFixed64
	TypeSfixed64
	TypeDouble
	TypeString
	TypeBytes
	TypeEnum
	TypeMessage
)

var typeNames = map[string]FieldType{
	"int32":    TypeInt32,
	"int64":    TypeInt64,
	"uint32":   TypeUint32,
	"uint64":   TypeUint64,
	"sint32":   TypeSint32,
	"sint64":   TypeSint64,
	"bool":     TypeBool,
	"fixed32":  TypeFixed32,
	"sfixed32": TypeSfixed32,
	"float":    TypeFloat,
	"fixed64":  TypeFixed64,
	"sfixed64": TypeSfixed64,
	"double":   TypeDouble,
	"string":   TypeString,
	"bytes":    TypeBytes,
}

// wireTypeOf maps a logical type to its wire framing.
func wireTypeOf(t FieldType) WireType {
	switch t {
	case TypeInt32, TypeInt64, TypeUint32, TypeUint64, TypeSint32, TypeSint64, TypeBool, TypeEnum:
		return WireVarint
	case TypeFixed32, TypeSfixed32, TypeFloat:
		return WireFixed32
	case TypeFixed64, TypeSfixed64, TypeDouble:
		return WireFixed64
	default:
		return WireLengthDelim
	}
}

// packable reports whether a repeated field of this type may use the packed
// encoding.
func packable(t FieldType) bool {
	switch wireTypeOf(t) {
	case WireVarint, WireFixed32, WireFixed64:
		return true
	default:
		return false
	}
}

// FieldOptions is the user-facing field definition passed to DefineSchema.
// Type is either a primitive name (see typeNames) or the name of an already
// defined schema or enum.
type FieldOptions struct {
	Type       string
	Tag        uint32
	Required   bool
	Repeated   bool
	Packed     *bool // nil means "packed when packable"
	Default    host.Value
	JSONAlias  string
	Deprecated bool
}

// Field is the compiled form of a field definition.
type Field struct {
	Name       string
	Tag        uint32
	Type       FieldType
	Ref        string // schema or enum name for TypeMessage / TypeEnum
	Wire       WireType
	Required   bool
	Repeated   bool
	Packed     bool
	HasDefault bool
	Default    host.Value
	JSONAlias  string
	Deprecated bool
}

// Schema is a compiled record type. Canonical field order is ascending tag.
type Schema struct {
	Name string

	fieldsByTag  map[uint32]*Field
	fieldsByName map[string]*Field
	ordered      []*Field // ascending tag
}

// FieldByTag looks a field up by its wire tag.
func (s *Schema) FieldByTag(tag uint32) (*Field, bool) {
	f, ok := s.fieldsByTag[tag]
	return f, ok
}

// FieldByName looks a field up by name.
func (s *Schema) FieldByName(name string) (*Field, bool) {
	f, ok := s.fieldsByName[name]
	return f, ok
}

// Fields returns the fields in canonical (ascending tag) order.
func (s *Schema) Fields() []*Field {
	return s.ordered
}

// Enum is a compiled identifier<->number mapping, unique in both directions.
type Enum struct {
	Name     string
	byIdent  map[string]int32
	byNumber map[int32]string
}

// Number resolves an identifier.
func (e *Enum) Number(ident string) (int32, bool) {
	n, ok := e.byIdent[ident]
	return n, ok
}

// Ident resolves a number.
func (e *Enum) Ident(number int32) (string, bool) {
	id, ok := e.byNumber[number]
	return id, ok
}

// compileSchema validates field options against the registry snapshot and
// produces a Schema. The registry lock is held by the caller.
func compileSchema(name string, fields map[string]FieldOptions, r *Registry) (*Schema, error) {
	schema := &Schema{
		Name:         name,
		fieldsByTag:  make(map[uint32]*Field, len(fields)),
		fieldsByName: make(map[string]*Field, len(fields)),
	}

	var result *multierror.Error
	for fieldName, opts := range fields {
		field, err := compileField(fieldName, opts, r)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}

		if _, dup := schema.fieldsByTag[field.Tag]; dup {
			result = multierror.Append(result, qerr.Newf(qerr.DuplicateTag,
				"schema %s: tag %d used twice", name, field.Tag))
			continue
		}
		schema.fieldsByTag[field.Tag] = field
		schema.fieldsByName[field.Name] = field
		schema.ordered = append(schema.ordered, field)
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	sort.Slice(schema.ordered, func(i, j int) bool {
		return schema.ordered[i].Tag < schema.ordered[j].Tag
	})

	return schema, nil
}

func compileField(name string, opts FieldOptions, r *Registry) (*Field, error) {
	if opts.Tag == 0 {
		return nil, qerr.Newf(qerr.UnknownType, "field %s: tag must be > 0", name)
	}

	field := &Field{
		Name:       name,
		Tag:        opts.Tag,
		Required:   opts.Required,
		Repeated:   opts.Repeated,
		JSONAlias:  opts.JSONAlias,
		Deprecated: opts.Deprecated,
	}

	if t, ok := typeNames[opts.Type]; ok {
		field.Type = t
	} else if _, ok := r.schemas[opts.Type]; ok {
		field.Type = TypeMessage
		field.Ref = opts.Type
	} else if _, ok := r.enums[opts.Type]; ok {
		field.Type = TypeEnum
		field.Ref = opts.Type
	} else {
		// forward references are rejected: the referenced type must exist
		return nil, qerr.Newf(qerr.UnknownType, "field %s: unknown type %q", name, opts.Type)
	}

	field.Wire = wireTypeOf(field.Type)

	if field.Repeated {
		if opts.Packed != nil {
			field.Packed = *opts.Packed
		} else {
			field.Packed = packable(field.Type)
		}
		if field.Packed && !packable(field.Type) {
			return nil, qerr.Newf(qerr.UnknownType,
				"field %s: type %q cannot be packed", name, opts.Type)
		}
		if field.Required {
			return nil, qerr.Newf(qerr.UnknownType,
				"field %s: repeated fields cannot be required", name)
		}
	}

	if !opts.Default.IsNil() {
		if field.Repeated || field.Type == TypeMessage {
			return nil, qerr.Newf(qerr.UnknownType,
				"field %s: defaults are only valid on scalar fields", name)
		}
		def := opts.Default
		if field.Type == TypeEnum {
			// enum defaults may be given by identifier; resolve now
			if ident, ok := def.AsString(); ok {
				enum := r.enums[field.Ref]
				number, found := enum.Number(ident)
				if !found {
					return nil, qerr.Newf(qerr.EnumNotFound,
						"field %s: default %q not in enum %s", name, ident, field.Ref)
				}
				def = host.Int(int64(number))
			}
		}
		field.HasDefault = true
		field.Default = def
	}

	return field, nil
}

func compileEnum(name string, values map[string]int32) (*Enum, error) {
	enum := &Enum{
		Name:     name,
		byIdent:  make(map[string]int32, len(values)),
		byNumber: make(map[int32]string, len(values)),
	}

	var result *multierror.Error
	for ident, number := range values {
		if ident == "" {
			result = multierror.Append(result, qerr.Newf(qerr.DuplicateName,
				"enum %s: empty identifier", name))
			continue
		}
		if prev, dup := enum.byNumber[number]; dup {
			result = multierror.Append(result, qerr.Newf(qerr.DuplicateName,
				"enum %s: number %d used by both %s and %s", name, number, prev, ident))
			continue
		}
		enum.byIdent[ident] = number
		enum.byNumber[number] = ident
	}

	return enum, result.ErrorOrNil()
}

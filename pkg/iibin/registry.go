// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package iibin

import (
	"sort"
	"sync"

	"github.com/quicpro/quicpro-go/pkg/qerr"
)

// Registry holds the schema and enum tables. Names share a single
// namespace: a schema and an enum can never carry the same name.
//
// Definitions normally happen during initialisation; steady-state reads are
// guarded by the RWMutex so late registration stays safe.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
	enums   map[string]*Enum
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*Schema),
		enums:   make(map[string]*Enum),
	}
}

// defaultRegistry backs the package-level convenience API.
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// DefineEnum registers a named identifier<->number mapping. Both directions
// must be unique.
func (r *Registry) DefineEnum(name string, values map[string]int32) error {
	if name == "" {
		return qerr.New(qerr.DuplicateName, "enum name must not be empty")
	}
	if len(values) == 0 {
		return qerr.Newf(qerr.EnumNotFound, "enum %s: no values", name)
	}

	enum, err := compileEnum(name, values)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.taken(name) {
		return qerr.Newf(qerr.DuplicateName, "name %q already defined", name)
	}
	r.enums[name] = enum

	return nil
}

// DefineSchema registers a named record type. Referenced schemas and enums
// must already be defined; forward references are rejected.
func (r *Registry) DefineSchema(name string, fields map[string]FieldOptions) error {
	if name == "" {
		return qerr.New(qerr.DuplicateName, "schema name must not be empty")
	}
	if len(fields) == 0 {
		return qerr.Newf(qerr.SchemaNotFound, "schema %s: no fields", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.taken(name) {
		return qerr.Newf(qerr.DuplicateName, "name %q already defined", name)
	}

	schema, err := compileSchema(name, fields, r)
	if err != nil {
		return err
	}
	r.schemas[name] = schema

	return nil
}

// taken must be called with the lock held.
func (r *Registry) taken(name string) bool {
	if _, ok := r.schemas[name]; ok {
		return true
	}
	_, ok := r.enums[name]
	return ok
}

// IsDefined reports whether name is a known schema or enum.
func (r *Registry) IsDefined(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.taken(name)
}

// Schema returns a registered schema.
func (r *Registry) Schema(name string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, ok := r.schemas[name]
	if !ok {
		return nil, qerr.Newf(qerr.SchemaNotFound, "schema %q is not defined", name)
	}
	return schema, nil
}

// Enum returns a registered enum.
func (r *Registry) Enum(name string) (*Enum, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enum, ok := r.enums[name]
	if !ok {
		return nil, qerr.Newf(qerr.EnumNotFound, "enum %q is not defined", name)
	}
	return enum, nil
}

// Schemas lists the registered schema names in lexical order.
func (r *Registry) Schemas() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Enums lists the registered enum names in lexical order.
func (r *Registry) Enums() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.enums))
	for name := range r.enums {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"strconv"
	"strings"

	"github.com/quicpro/quicpro-go/pkg/host"
	"github.com/quicpro/quicpro-go/pkg/qerr"
)

// InitialRoot is the reserved resolver root naming the pipeline's initial
// input record.
const InitialRoot = "initial"

// ExecutionContext accumulates step results by step id. The initial input
// is stored under InitialRoot.
type ExecutionContext struct {
	entries map[string]host.Value
	failed  map[string]bool
}

func NewExecutionContext(initial *host.Record) *ExecutionContext {
	ctx := &ExecutionContext{
		entries: make(map[string]host.Value),
		failed:  make(map[string]bool),
	}
	if initial == nil {
		initial = host.NewRecord()
	}
	ctx.entries[InitialRoot] = host.RecordVal(initial)
	return ctx
}

// Store records a step result under id.
func (c *ExecutionContext) Store(id string, result host.Value) {
	c.entries[id] = result
}

// StoreFailed records a failed step's marker; references into it resolve
// to UnresolvedReference even though the marker itself is retrievable via
// Entry.
func (c *ExecutionContext) StoreFailed(id string, marker host.Value) {
	c.entries[id] = marker
	c.failed[id] = true
}

// Entry returns the raw entry for a root id.
func (c *ExecutionContext) Entry(id string) (host.Value, bool) {
	v, ok := c.entries[id]
	return v, ok
}

// Has reports whether a step id has produced a result.
func (c *ExecutionContext) Has(id string) bool {
	_, ok := c.entries[id]
	return ok
}

// Resolve evaluates a source path of the form `@<root>.<segment>...` against
// the context. Record segments traverse by key; list segments by zero-based
// index. Every miss is an UnresolvedReference.
func (c *ExecutionContext) Resolve(path string) (host.Value, error) {
	if !strings.HasPrefix(path, "@") {
		return host.Nil(), qerr.Newf(qerr.UnresolvedReference, "source path %q does not start with '@'", path)
	}

	parts := strings.Split(path[1:], ".")
	if len(parts) == 0 || parts[0] == "" {
		return host.Nil(), qerr.Newf(qerr.UnresolvedReference, "source path %q has no root", path)
	}

	current, ok := c.entries[parts[0]]
	if !ok {
		return host.Nil(), qerr.Newf(qerr.UnresolvedReference, "unknown root %q in %q", parts[0], path)
	}
	if c.failed[parts[0]] {
		return host.Nil(), qerr.Newf(qerr.UnresolvedReference, "root %q refers to a failed step", parts[0])
	}

	for _, seg := range parts[1:] {
		if seg == "" {
			return host.Nil(), qerr.Newf(qerr.UnresolvedReference, "empty segment in %q", path)
		}

		if record, isRecord := current.AsRecord(); isRecord {
			next, found := record.Get(seg)
			if !found {
				return host.Nil(), qerr.Newf(qerr.UnresolvedReference, "no field %q in %q", seg, path)
			}
			current = next
			continue
		}

		if list, isList := current.AsList(); isList {
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 {
				return host.Nil(), qerr.Newf(qerr.UnresolvedReference, "segment %q is not a list index in %q", seg, path)
			}
			if idx >= len(list) {
				return host.Nil(), qerr.Newf(qerr.UnresolvedReference, "index %d out of range in %q", idx, path)
			}
			current = list[idx]
			continue
		}

		return host.Nil(), qerr.Newf(qerr.UnresolvedReference, "segment %q applied to a scalar in %q", seg, path)
	}

	return current, nil
}

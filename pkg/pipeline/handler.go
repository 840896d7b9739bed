// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package pipeline executes declarative multi-step tool pipelines: each
// step resolves its inputs from earlier results, invokes a remote tool
// over MCP with IIBIN-encoded payloads and stores the decoded result for
// the steps after it.
package pipeline

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/quicpro/quicpro-go/pkg/iibin"
	"github.com/quicpro/quicpro-go/pkg/qerr"
)

// ConditionalLogicTool is the reserved tool name whose result controls
// conditional steps.
const ConditionalLogicTool = "ConditionalLogic"

// ConditionalLogicSchema is the schema the reserved tool decodes with.
const ConditionalLogicSchema = "ConditionalLogic"

// Target addresses one remote MCP capability.
type Target struct {
	Host      string
	Port      uint16
	Service   string
	Method    string
	TimeoutMs uint64
}

func (t Target) valid() bool {
	return t.Host != "" && t.Port != 0 && t.Service != "" && t.Method != ""
}

func (t Target) String() string {
	return fmt.Sprintf("%s:%d/%s/%s", t.Host, t.Port, t.Service, t.Method)
}

// StepRef points at a field of a previously executed step's result.
type StepRef struct {
	Step  string
	Field string
}

// RAGConfig describes the optional retrieval sub-call of a tool.
type RAGConfig struct {
	// EnableKey is the step-param key that switches retrieval on.
	EnableKey string
	Target    Target

	InputSchema  string
	OutputSchema string

	// ContextOutputField is where the retrieved context appears in the
	// RAG response.
	ContextOutputField string
	// TargetContextField is where the context is injected into the outer
	// tool request.
	TargetContextField string

	// Topic sources: a step-param key holding the list, or a reference
	// into a previous step's output. The param key wins when both map.
	TopicsParamKey    string
	TopicsFromStep    *StepRef
	TopicsSchemaField string

	// ParamMap renames step params into RAG request fields.
	ParamMap map[string]string
}

// ToolHandler is the registered configuration of one named tool.
type ToolHandler struct {
	Name         string
	Target       Target
	InputSchema  string
	OutputSchema string

	// ParamMap renames generic step params to input-schema fields.
	ParamMap map[string]string
	// OutputMap renames output-schema fields to generic result names.
	OutputMap map[string]string

	RAG *RAGConfig
}

// HandlerRegistry holds tool handlers by name. Registration validates the
// handler against the IIBIN registry; lookups return the stored handler,
// which callers must treat as read-only.
type HandlerRegistry struct {
	mu       sync.RWMutex
	codec    *iibin.Registry
	handlers map[string]*ToolHandler
}

func NewHandlerRegistry(codec *iibin.Registry) *HandlerRegistry {
	return &HandlerRegistry{
		codec:    codec,
		handlers: make(map[string]*ToolHandler),
	}
}

// Register validates and stores a handler. A tool name registers once.
func (r *HandlerRegistry) Register(h *ToolHandler) error {
	var result *multierror.Error

	if h.Name == "" {
		result = multierror.Append(result, qerr.New(qerr.UnknownTool, "tool name is empty"))
	}
	if !h.Target.valid() {
		result = multierror.Append(result, qerr.Newf(qerr.UnknownTool, "tool %q has an incomplete mcp target", h.Name))
	}
	if !r.codec.IsDefined(h.InputSchema) {
		result = multierror.Append(result, qerr.Newf(qerr.SchemaNotFound, "input schema %q is not defined", h.InputSchema))
	}
	if !r.codec.IsDefined(h.OutputSchema) {
		result = multierror.Append(result, qerr.Newf(qerr.SchemaNotFound, "output schema %q is not defined", h.OutputSchema))
	}

	if rag := h.RAG; rag != nil {
		if rag.EnableKey == "" {
			result = multierror.Append(result, qerr.Newf(qerr.RagFailed, "tool %q rag config has no enable key", h.Name))
		}
		if !rag.Target.valid() {
			result = multierror.Append(result, qerr.Newf(qerr.RagFailed, "tool %q rag config has an incomplete target", h.Name))
		}
		if !r.codec.IsDefined(rag.InputSchema) {
			result = multierror.Append(result, qerr.Newf(qerr.SchemaNotFound, "rag input schema %q is not defined", rag.InputSchema))
		}
		if !r.codec.IsDefined(rag.OutputSchema) {
			result = multierror.Append(result, qerr.Newf(qerr.SchemaNotFound, "rag output schema %q is not defined", rag.OutputSchema))
		}
		if rag.ContextOutputField == "" || rag.TargetContextField == "" {
			result = multierror.Append(result, qerr.Newf(qerr.RagFailed, "tool %q rag config lacks context field names", h.Name))
		}
		if rag.TopicsParamKey == "" && rag.TopicsFromStep == nil {
			result = multierror.Append(result, qerr.Newf(qerr.RagFailed, "tool %q rag config has no topic source", h.Name))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Name]; exists {
		return qerr.Newf(qerr.DuplicateName, "tool %q is already registered", h.Name)
	}
	r.handlers[h.Name] = h
	return nil
}

// Lookup returns the handler for name, UnknownTool when absent.
func (r *HandlerRegistry) Lookup(name string) (*ToolHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, qerr.Newf(qerr.UnknownTool, "tool %q is not registered", name)
	}
	return h, nil
}

// Names lists the registered tools.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

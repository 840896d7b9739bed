// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quicpro/quicpro-go/pkg/iibin"
	"github.com/quicpro/quicpro-go/pkg/qerr"
)

func testCodec(t *testing.T) *iibin.Registry {
	t.Helper()
	codec := iibin.NewRegistry()

	require.NoError(t, codec.DefineSchema("ToolIn", map[string]iibin.FieldOptions{
		"prompt": {Type: "string", Tag: 1},
	}))
	require.NoError(t, codec.DefineSchema("ToolOut", map[string]iibin.FieldOptions{
		"text": {Type: "string", Tag: 1},
	}))
	return codec
}

func validHandler() *ToolHandler {
	return &ToolHandler{
		Name:         "GenerateText",
		Target:       Target{Host: "llm.internal", Port: 4443, Service: "llm", Method: "Generate"},
		InputSchema:  "ToolIn",
		OutputSchema: "ToolOut",
	}
}

func TestRegisterAndLookup(t *testing.T) {
	reg := NewHandlerRegistry(testCodec(t))

	require.NoError(t, reg.Register(validHandler()))

	h, err := reg.Lookup("GenerateText")
	require.NoError(t, err)
	assert.Equal(t, "llm.internal:4443/llm/Generate", h.Target.String())

	_, err = reg.Lookup("Nope")
	assert.True(t, qerr.IsKind(err, qerr.UnknownTool))
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewHandlerRegistry(testCodec(t))

	require.NoError(t, reg.Register(validHandler()))
	err := reg.Register(validHandler())
	assert.True(t, qerr.IsKind(err, qerr.DuplicateName))
}

func TestRegisterValidation(t *testing.T) {
	codec := testCodec(t)

	tests := []struct {
		name   string
		mutate func(h *ToolHandler)
	}{
		{"empty name", func(h *ToolHandler) { h.Name = "" }},
		{"missing host", func(h *ToolHandler) { h.Target.Host = "" }},
		{"zero port", func(h *ToolHandler) { h.Target.Port = 0 }},
		{"missing service", func(h *ToolHandler) { h.Target.Service = "" }},
		{"unknown input schema", func(h *ToolHandler) { h.InputSchema = "Ghost" }},
		{"unknown output schema", func(h *ToolHandler) { h.OutputSchema = "Ghost" }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			reg := NewHandlerRegistry(codec)
			h := validHandler()
			test.mutate(h)
			assert.Error(t, reg.Register(h))
		})
	}
}

func TestRegisterRAGValidation(t *testing.T) {
	codec := testCodec(t)
	require.NoError(t, codec.DefineSchema("RagIn", map[string]iibin.FieldOptions{
		"topics": {Type: "string", Tag: 1, Repeated: true},
	}))
	require.NoError(t, codec.DefineSchema("RagOut", map[string]iibin.FieldOptions{
		"context": {Type: "string", Tag: 1},
	}))

	valid := func() *ToolHandler {
		h := validHandler()
		h.RAG = &RAGConfig{
			EnableKey:          "use_rag",
			Target:             Target{Host: "rag.internal", Port: 4443, Service: "rag", Method: "Retrieve"},
			InputSchema:        "RagIn",
			OutputSchema:       "RagOut",
			ContextOutputField: "context",
			TargetContextField: "prompt",
			TopicsParamKey:     "topics",
		}
		return h
	}

	reg := NewHandlerRegistry(codec)
	require.NoError(t, reg.Register(valid()))

	tests := []struct {
		name   string
		mutate func(h *ToolHandler)
	}{
		{"no enable key", func(h *ToolHandler) { h.RAG.EnableKey = "" }},
		{"incomplete rag target", func(h *ToolHandler) { h.RAG.Target.Method = "" }},
		{"unknown rag input schema", func(h *ToolHandler) { h.RAG.InputSchema = "Ghost" }},
		{"no context fields", func(h *ToolHandler) { h.RAG.ContextOutputField = "" }},
		{"no topic source", func(h *ToolHandler) {
			h.RAG.TopicsParamKey = ""
			h.RAG.TopicsFromStep = nil
		}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			reg := NewHandlerRegistry(codec)
			h := valid()
			test.mutate(h)
			assert.Error(t, reg.Register(h))
		})
	}
}

// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/quicpro/quicpro-go/pkg/config"
	"github.com/quicpro/quicpro-go/pkg/host"
	"github.com/quicpro/quicpro-go/pkg/iibin"
	"github.com/quicpro/quicpro-go/pkg/qerr"
)

// Step is one declarative pipeline entry.
type Step struct {
	// ID keys the step's result in the ExecutionContext. Empty falls back
	// to the tool name, which must then be unique within the pipeline.
	ID   string
	Tool string

	// Params are the static inputs.
	Params *host.Record

	// InputMap overlays resolved source paths onto input-schema fields.
	InputMap map[string]string

	// ConditionTrueOnly skips the step while the last ConditionalLogic
	// result was false.
	ConditionTrueOnly bool
}

func (s Step) id() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Tool
}

// StepOutcome summarizes one executed (or skipped) step.
type StepOutcome struct {
	ID      string
	Tool    string
	Skipped bool
	Failed  bool
	Err     error
	Result  host.Value
}

// Result is a full pipeline run.
type Result struct {
	RunID    string
	Pipeline string
	Steps    []StepOutcome
	Context  *ExecutionContext
	TimedOut bool
	Err      error
}

// Orchestrator runs pipelines against the registered tools.
type Orchestrator struct {
	handlers *HandlerRegistry
	codec    *iibin.Registry
	invoker  Invoker
	emitter  *EventEmitter
	journal  *Journal

	failFast       bool
	overallTimeout time.Duration
}

// NewOrchestrator wires the orchestrator and registers the reserved
// ConditionalLogic schema when it is not already present.
func NewOrchestrator(cfg config.Pipeline, handlers *HandlerRegistry, codec *iibin.Registry, invoker Invoker, emitter *EventEmitter, journal *Journal) *Orchestrator {
	if !codec.IsDefined(ConditionalLogicSchema) {
		err := codec.DefineSchema(ConditionalLogicSchema, map[string]iibin.FieldOptions{
			"condition_met": {Type: "bool", Tag: 1, Required: true},
		})
		if err != nil {
			log.WithError(err).Warn("ConditionalLogic schema registration failed")
		}
	}

	return &Orchestrator{
		handlers:       handlers,
		codec:          codec,
		invoker:        invoker,
		emitter:        emitter,
		journal:        journal,
		failFast:       cfg.ShouldFailFast(),
		overallTimeout: time.Duration(cfg.OverallTimeoutMs) * time.Millisecond,
	}
}

func (o *Orchestrator) emit(ev Event) {
	if o.emitter != nil {
		o.emitter.Emit(ev)
	}
}

// Run executes the pipeline's steps in declaration order.
func (o *Orchestrator) Run(ctx context.Context, name string, steps []Step, initial *host.Record) *Result {
	if o.overallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.overallTimeout)
		defer cancel()
	}

	runID := uuid.NewString()
	execCtx := NewExecutionContext(initial)
	result := &Result{RunID: runID, Pipeline: name, Context: execCtx}
	lastCondition := true
	started := time.Now()

	o.emit(Event{Type: EventPipelineStarted, Run: runID, Pipeline: name})
	if o.journal != nil {
		o.journal.RunStarted(runID, name, started)
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			result.TimedOut = true
			result.Err = qerr.Wrap(qerr.PipelineTimedOut, "overall timeout exceeded", ctx.Err())
			break
		}

		if step.ConditionTrueOnly && !lastCondition {
			result.Steps = append(result.Steps, StepOutcome{ID: step.id(), Tool: step.Tool, Skipped: true})
			continue
		}

		o.emit(Event{Type: EventStepStarted, Run: runID, Pipeline: name, Step: step.id(), Tool: step.Tool})

		output, err := o.runStep(ctx, execCtx, step, name, runID)
		outcome := StepOutcome{ID: step.id(), Tool: step.Tool, Result: output, Err: err}

		if err != nil {
			outcome.Failed = true
			o.emit(Event{Type: EventStepFailed, Run: runID, Pipeline: name, Step: step.id(), Tool: step.Tool, Error: err.Error()})
			if o.journal != nil {
				o.journal.StepFinished(runID, name, step.id(), step.Tool, err)
			}

			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				result.Steps = append(result.Steps, outcome)
				result.TimedOut = true
				result.Err = qerr.Wrap(qerr.PipelineTimedOut, "overall timeout exceeded", ctx.Err())
				break
			}

			if o.failFast {
				result.Steps = append(result.Steps, outcome)
				result.Err = qerr.Wrap(qerr.StepFailed, "step "+step.id(), err)
				break
			}

			marker := host.NewRecord()
			marker.Set("isFailure", host.Bool(true))
			marker.Set("error", host.String(qerr.KindOf(err).String()))
			execCtx.StoreFailed(step.id(), host.RecordVal(marker))
			lastCondition = true
			result.Steps = append(result.Steps, outcome)
			continue
		}

		execCtx.Store(step.id(), output)
		o.emit(Event{Type: EventStepCompleted, Run: runID, Pipeline: name, Step: step.id(), Tool: step.Tool})
		if o.journal != nil {
			o.journal.StepFinished(runID, name, step.id(), step.Tool, nil)
		}

		// the reserved tool steers conditional steps; every other tool
		// rearms the condition
		if step.Tool == ConditionalLogicTool {
			lastCondition = conditionMet(output)
		} else {
			lastCondition = true
		}

		result.Steps = append(result.Steps, outcome)
	}

	o.emit(Event{Type: EventPipelineCompleted, Run: runID, Pipeline: name})
	if o.journal != nil {
		o.journal.RunFinished(runID, result.Err, result.TimedOut)
	}
	return result
}

func conditionMet(output host.Value) bool {
	record, ok := output.AsRecord()
	if !ok {
		return false
	}
	v, ok := record.Get("condition_met")
	if !ok {
		return false
	}
	return v.Truthy()
}

// runStep performs one tool invocation end to end.
func (o *Orchestrator) runStep(ctx context.Context, execCtx *ExecutionContext, step Step, pipelineName, runID string) (host.Value, error) {
	handler, err := o.handlers.Lookup(step.Tool)
	if err != nil {
		return host.Nil(), err
	}

	params := step.Params
	if params == nil {
		params = host.NewRecord()
	}

	var ragContext string
	ragRan := false
	if handler.RAG != nil {
		if enable, ok := params.Get(handler.RAG.EnableKey); ok && enable.Truthy() {
			ragContext, err = o.runRAG(ctx, execCtx, handler.RAG, params)
			if err != nil {
				return host.Nil(), err
			}
			ragRan = true
			o.emit(Event{Type: EventRagInvoked, Run: runID, Pipeline: pipelineName, Step: step.id(), Tool: step.Tool})
		}
	}

	request, err := o.buildRequest(execCtx, handler, step, params)
	if err != nil {
		return host.Nil(), err
	}
	if ragRan {
		request.Set(handler.RAG.TargetContextField, host.String(ragContext))
	}

	payload, err := o.codec.Encode(handler.InputSchema, request)
	if err != nil {
		return host.Nil(), err
	}

	reply, err := o.invoker.Invoke(ctx, handler.Target, payload)
	if err != nil {
		return host.Nil(), err
	}

	decoded, err := o.codec.Decode(handler.OutputSchema, reply)
	if err != nil {
		return host.Nil(), err
	}

	return applyOutputMap(decoded, handler.OutputMap), nil
}

// buildRequest assembles the tool request: static params filtered and
// renamed by the param map, then input-map overlays.
func (o *Orchestrator) buildRequest(execCtx *ExecutionContext, handler *ToolHandler, step Step, params *host.Record) (*host.Record, error) {
	request := host.NewRecord()

	if len(handler.ParamMap) == 0 {
		for _, key := range params.Keys() {
			v, _ := params.Get(key)
			request.Set(key, v)
		}
	} else {
		for _, key := range params.Keys() {
			target, mapped := handler.ParamMap[key]
			if !mapped {
				continue
			}
			v, _ := params.Get(key)
			request.Set(target, v)
		}
	}

	schema, err := o.codec.Schema(handler.InputSchema)
	if err != nil {
		return nil, err
	}

	for field, path := range step.InputMap {
		v, err := execCtx.Resolve(path)
		if err != nil {
			// absent is acceptable for optional fields without defaults
			if def, ok := schema.FieldByName(field); ok && !def.Required && !def.HasDefault {
				continue
			}
			return nil, err
		}
		request.Set(field, v)
	}

	return request, nil
}

// runRAG performs the retrieval sub-call and extracts the context text.
func (o *Orchestrator) runRAG(ctx context.Context, execCtx *ExecutionContext, rag *RAGConfig, params *host.Record) (string, error) {
	topics, err := o.ragTopics(execCtx, rag, params)
	if err != nil {
		return "", err
	}

	request := host.NewRecord()
	for key, target := range rag.ParamMap {
		if v, ok := params.Get(key); ok {
			request.Set(target, v)
		}
	}
	topicsField := rag.TopicsSchemaField
	if topicsField == "" {
		topicsField = "topics"
	}
	request.Set(topicsField, host.List(topics...))

	payload, err := o.codec.Encode(rag.InputSchema, request)
	if err != nil {
		return "", qerr.Wrap(qerr.RagFailed, "encode rag request", err)
	}

	reply, err := o.invoker.Invoke(ctx, rag.Target, payload)
	if err != nil {
		return "", qerr.Wrap(qerr.RagFailed, "rag agent call", err)
	}

	decoded, err := o.codec.Decode(rag.OutputSchema, reply)
	if err != nil {
		return "", qerr.Wrap(qerr.RagFailed, "decode rag response", err)
	}

	contextValue, ok := decoded.Get(rag.ContextOutputField)
	if !ok {
		return "", qerr.Newf(qerr.RagFailed, "rag response lacks field %q", rag.ContextOutputField)
	}
	text, ok := contextValue.AsString()
	if !ok {
		return "", qerr.Newf(qerr.RagFailed, "rag context field %q is not text", rag.ContextOutputField)
	}
	return text, nil
}

// ragTopics collects retrieval topics: the step-param key wins, then the
// previous-step reference.
func (o *Orchestrator) ragTopics(execCtx *ExecutionContext, rag *RAGConfig, params *host.Record) ([]host.Value, error) {
	if rag.TopicsParamKey != "" {
		if v, ok := params.Get(rag.TopicsParamKey); ok {
			if list, isList := v.AsList(); isList {
				return list, nil
			}
			return []host.Value{v}, nil
		}
	}

	if ref := rag.TopicsFromStep; ref != nil {
		v, err := execCtx.Resolve("@" + ref.Step + "." + ref.Field)
		if err != nil {
			return nil, qerr.Wrap(qerr.RagFailed, "topic source", err)
		}
		if list, isList := v.AsList(); isList {
			return list, nil
		}
		return []host.Value{v}, nil
	}

	return nil, qerr.New(qerr.RagFailed, "no topic source produced topics")
}

// applyOutputMap renames schema fields into the canonical result record.
// Unmapped fields pass through under their schema name.
func applyOutputMap(decoded *host.Record, outputMap map[string]string) host.Value {
	if len(outputMap) == 0 {
		return host.RecordVal(decoded)
	}

	result := host.NewRecord()
	for _, key := range decoded.Keys() {
		v, _ := decoded.Get(key)
		if renamed, ok := outputMap[key]; ok {
			result.Set(renamed, v)
		} else {
			result.Set(key, v)
		}
	}
	return host.RecordVal(result)
}

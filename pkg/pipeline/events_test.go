// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectingInvoker records every shipped batch.
type collectingInvoker struct {
	mu      sync.Mutex
	batches [][]Event
}

func (c *collectingInvoker) Invoke(_ context.Context, _ Target, payload []byte) ([]byte, error) {
	var batch []Event
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.batches = append(c.batches, batch)
	c.mu.Unlock()
	return nil, nil
}

func (c *collectingInvoker) collected() [][]Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]Event(nil), c.batches...)
}

func loggerTarget() Target {
	return Target{Host: "log.internal", Port: 4443, Service: "logger", Method: "Ingest"}
}

func TestEmitterBatchesByCount(t *testing.T) {
	sink := &collectingInvoker{}
	emitter := NewEventEmitter(loggerTarget(), sink, 3, 0)
	defer emitter.Close()

	for i := 0; i < 6; i++ {
		emitter.Emit(Event{Type: EventStepStarted, Pipeline: "p", Step: "s"})
	}

	require.Eventually(t, func() bool {
		return len(sink.collected()) == 2
	}, time.Second, 10*time.Millisecond)

	for _, batch := range sink.collected() {
		assert.Len(t, batch, 3)
	}
}

func TestEmitterFlushesOnWindow(t *testing.T) {
	sink := &collectingInvoker{}
	emitter := NewEventEmitter(loggerTarget(), sink, 100, 20*time.Millisecond)
	defer emitter.Close()

	emitter.Emit(Event{Type: EventPipelineStarted, Pipeline: "p"})

	require.Eventually(t, func() bool {
		return len(sink.collected()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Len(t, sink.collected()[0], 1)
}

func TestEmitterCloseFlushesRemainder(t *testing.T) {
	sink := &collectingInvoker{}
	emitter := NewEventEmitter(loggerTarget(), sink, 100, 0)

	emitter.Emit(Event{Type: EventPipelineStarted, Pipeline: "p"})
	emitter.Emit(Event{Type: EventPipelineCompleted, Pipeline: "p"})
	emitter.Close()

	require.Eventually(t, func() bool {
		batches := sink.collected()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestEmitterSubscribe(t *testing.T) {
	emitter := NewEventEmitter(Target{}, nil, 10, 0)
	defer emitter.Close()

	sub := emitter.Subscribe()
	emitter.Emit(Event{Type: EventStepCompleted, Pipeline: "p", Step: "s1"})

	select {
	case ev := <-sub:
		assert.Equal(t, EventStepCompleted, ev.Type)
		assert.Equal(t, "s1", ev.Step)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the event")
	}
}

func TestEmitterEmitAfterClose(t *testing.T) {
	emitter := NewEventEmitter(Target{}, nil, 10, 0)
	emitter.Close()

	// must not panic or block
	emitter.Emit(Event{Type: EventStepStarted, Pipeline: "p"})
	emitter.Close()
}

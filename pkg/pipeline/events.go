// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// EventType names one orchestrator lifecycle event.
type EventType string

const (
	EventPipelineStarted   EventType = "pipeline_started"
	EventPipelineCompleted EventType = "pipeline_completed"
	EventStepStarted       EventType = "step_started"
	EventStepCompleted     EventType = "step_completed"
	EventStepFailed        EventType = "step_failed"
	EventRagInvoked        EventType = "rag_invoked"
)

// Event is one observability record emitted by the orchestrator.
type Event struct {
	Type     EventType `json:"type"`
	Run      string    `json:"run,omitempty"`
	Pipeline string    `json:"pipeline"`
	Step     string    `json:"step,omitempty"`
	Tool     string    `json:"tool,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// maxPendingBatches bounds the flush queue; overflow drops the oldest
// batch rather than blocking the pipeline.
const maxPendingBatches = 16

// EventEmitter batches events by count or time window and ships each batch
// fire-and-forget to the configured logger tool. Subscribers (the admin
// event feed) receive every event individually.
type EventEmitter struct {
	target  Target
	invoker Invoker

	batchSize int
	window    time.Duration

	mu      sync.Mutex
	current []Event
	subs    []chan Event
	stopped bool

	pending chan []Event
	done    chan struct{}
}

// NewEventEmitter starts the emitter's flush loop. A zero batchSize means
// flush every event; a zero window disables time-based flushing.
func NewEventEmitter(target Target, invoker Invoker, batchSize int, window time.Duration) *EventEmitter {
	if batchSize <= 0 {
		batchSize = 1
	}
	e := &EventEmitter{
		target:    target,
		invoker:   invoker,
		batchSize: batchSize,
		window:    window,
		pending:   make(chan []Event, maxPendingBatches),
		done:      make(chan struct{}),
	}
	go e.flushLoop()
	return e
}

// Subscribe returns a channel that receives every event. Slow subscribers
// lose events instead of stalling the emitter.
func (e *EventEmitter) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	e.mu.Lock()
	e.subs = append(e.subs, ch)
	e.mu.Unlock()
	return ch
}

// Emit queues one event. Never blocks.
func (e *EventEmitter) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	for _, sub := range e.subs {
		select {
		case sub <- ev:
		default:
		}
	}
	e.current = append(e.current, ev)
	full := len(e.current) >= e.batchSize
	var batch []Event
	if full {
		batch = e.current
		e.current = nil
	}
	e.mu.Unlock()

	if full {
		e.enqueue(batch)
	}
}

func (e *EventEmitter) enqueue(batch []Event) {
	for {
		select {
		case e.pending <- batch:
			return
		default:
			select {
			case dropped := <-e.pending:
				log.WithField("events", len(dropped)).Debug("Dropping oldest event batch")
			default:
			}
		}
	}
}

func (e *EventEmitter) flushLoop() {
	var ticker *time.Ticker
	var tick <-chan time.Time
	if e.window > 0 {
		ticker = time.NewTicker(e.window)
		tick = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case batch, ok := <-e.pending:
			if !ok {
				return
			}
			e.ship(batch)

		case <-tick:
			e.mu.Lock()
			batch := e.current
			e.current = nil
			e.mu.Unlock()
			if len(batch) > 0 {
				e.ship(batch)
			}

		case <-e.done:
			// final drain
			for {
				select {
				case batch := <-e.pending:
					e.ship(batch)
				default:
					e.mu.Lock()
					batch := e.current
					e.current = nil
					e.mu.Unlock()
					if len(batch) > 0 {
						e.ship(batch)
					}
					return
				}
			}
		}
	}
}

// ship sends one batch to the logger tool. Failures are logged and
// forgotten.
func (e *EventEmitter) ship(batch []Event) {
	if e.invoker == nil || !e.target.valid() {
		return
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := e.invoker.Invoke(ctx, e.target, payload); err != nil {
		log.WithError(err).WithField("events", len(batch)).Debug("Event batch delivery failed")
	}
}

// Close flushes what is buffered and stops the loop.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	for _, sub := range e.subs {
		close(sub)
	}
	e.subs = nil
	e.mu.Unlock()

	close(e.done)
}

// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package host

import (
	"time"

	"github.com/quicpro/quicpro-go/pkg/qerr"
)

// Reader maps a host runtime mapping into a Record for encoding.
type Reader interface {
	ReadRecord(native interface{}) (*Record, error)
}

// Writer constructs a host runtime mapping from a decoded Record.
type Writer interface {
	WriteRecord(record *Record) (interface{}, error)
}

// ErrorSink receives errors the core surfaces to the host runtime, e.g. as
// exceptions in a dynamic language binding.
type ErrorSink interface {
	EmitError(kind qerr.Kind, message string)
}

// Yielder is the cooperative suspension primitive. Long I/O loops call
// YieldToHost whenever their time budget is exceeded or the underlying
// socket would block; a fiber-based host reschedules, a plain host may
// simply sleep until the transport's next timer.
type Yielder interface {
	YieldToHost()
}

// SleepYielder substitutes OS-thread blocking for cooperative scheduling.
// NextTimer is consulted on every yield; a zero duration falls back to Min.
type SleepYielder struct {
	NextTimer func() time.Duration
	Min       time.Duration
}

func (y *SleepYielder) YieldToHost() {
	d := y.Min
	if y.NextTimer != nil {
		if next := y.NextTimer(); next > 0 && (d == 0 || next < d) {
			d = next
		}
	}
	if d <= 0 {
		d = time.Millisecond
	}
	time.Sleep(d)
}

// NopYielder busy-spins; only sensible in tests.
type NopYielder struct{}

func (NopYielder) YieldToHost() {}

// LogSink is an ErrorSink that drops errors after accounting them. It backs
// contexts where the host did not install a sink.
type LogSink struct {
	Last    error
	Dropped uint64
}

func (s *LogSink) EmitError(kind qerr.Kind, message string) {
	s.Last = qerr.New(kind, message)
	s.Dropped++
}

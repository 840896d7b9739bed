// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package h3

import (
	"testing"
)

func TestCancelStreamIsScoped(t *testing.T) {
	timedOut := newFakeStream(nil)
	sibling := newFakeStream(nil)
	c := &Conn{streams: map[int64]*requestStream{
		4: {stream: timedOut},
		8: {stream: sibling},
	}}

	c.CancelStream(4)

	if !timedOut.canceledRead {
		t.Error("canceled stream was not reset")
	}
	if sibling.canceledRead {
		t.Error("sibling stream was reset")
	}
	if c.lookup(4) != nil {
		t.Error("canceled stream still registered")
	}
	if c.lookup(8) == nil {
		t.Error("sibling stream was forgotten")
	}

	// unknown ids are a no-op
	c.CancelStream(99)
}

func TestResponseSurvivesEventDrain(t *testing.T) {
	section := encodeFieldSection(Headers{{Name: ":status", Value: "200"}})
	buf := appendFrameHeader(nil, frameTypeHeaders, len(section))
	buf = append(buf, section...)
	buf = appendFrameHeader(buf, frameTypeData, 5)
	buf = append(buf, "hello"...)

	rs := &requestStream{stream: newFakeStream(buf)}
	c := &Conn{
		events:  make(chan Event, eventQueueLen),
		streams: map[int64]*requestStream{4: rs},
	}

	c.readResponse(4, rs)

	// drain the whole queue, as a concurrent call sharing the connection
	// would while waiting for its own stream
	for ev := c.PollEvent(); ev.Type != EventDone; ev = c.PollEvent() {
	}

	headers, ok := c.ResponseHeaders(4)
	if !ok {
		t.Fatal("headers lost after event drain")
	}
	if got := headers.Get(":status"); got != "200" {
		t.Fatalf(":status = %q", got)
	}

	p := make([]byte, 16)
	n, done, err := c.RecvBody(4, p)
	if err != nil {
		t.Fatal(err)
	}
	if string(p[:n]) != "hello" || !done {
		t.Fatalf("body = %q, done = %v", p[:n], done)
	}
}

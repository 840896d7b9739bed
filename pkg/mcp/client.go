// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package mcp implements the MCP unary and streaming RPC client on top of
// the H3 layer. Every call is synchronous: the caller's goroutine drives
// the poll loop until its own stream finishes. Queued events are wakeups
// only; headers and body bytes live in per-stream state on the connection,
// so concurrent calls sharing it never steal each other's response.
package mcp

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"

	"github.com/quicpro/quicpro-go/pkg/config"
	"github.com/quicpro/quicpro-go/pkg/h3"
	"github.com/quicpro/quicpro-go/pkg/host"
	"github.com/quicpro/quicpro-go/pkg/qerr"
	"github.com/quicpro/quicpro-go/pkg/session"
)

// ContentType is the wire content type of MCP payloads.
const ContentType = "application/vnd.quicpro.proto"

// maxResponseSize bounds a unary response body.
const maxResponseSize = 64 << 20

// uploadChunkSize is the DATA frame granularity of UploadStream.
const uploadChunkSize = 64 << 10

// pollInterval paces the synchronous event loop when nothing is pending.
const pollInterval = 200 * time.Microsecond

// Client is an MCP session: one QUIC+H3 connection plus a default request
// timeout.
type Client struct {
	sess *session.Session
	conn *h3.Conn

	host           string
	defaultTimeout time.Duration
	yield          host.Yielder
}

// RequestOptions tune a single call.
type RequestOptions struct {
	// Timeout overrides the client default for this call.
	Timeout time.Duration
	// Headers are appended after the canonical MCP fields.
	Headers h3.Headers
}

// Connect opens an MCP session against host:port.
func Connect(ctx context.Context, hostname string, port uint16, cfg *config.Config) (*Client, error) {
	sess, err := session.Open(ctx, hostname, port, cfg, session.Options{})
	if err != nil {
		return nil, err
	}

	conn, err := h3.NewConn(ctx, sess)
	if err != nil {
		sess.Release()
		return nil, err
	}

	timeout := time.Duration(cfg.Transport.RequestTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		sess:           sess,
		conn:           conn,
		host:           hostname,
		defaultTimeout: timeout,
		yield:          &host.SleepYielder{Min: pollInterval},
	}, nil
}

// Session exposes the underlying QUIC session.
func (c *Client) Session() *session.Session { return c.sess }

// SetYielder replaces the idle-wait strategy of the poll loops. Hosts with
// their own scheduler install a cooperative yielder; the default sleeps in
// short intervals.
func (c *Client) SetYielder(y host.Yielder) {
	if y != nil {
		c.yield = y
	}
}

func (c *Client) yielder() host.Yielder {
	if c.yield == nil {
		return &host.SleepYielder{Min: pollInterval}
	}
	return c.yield
}

// Close tears down H3 state first, then the session.
func (c *Client) Close() {
	c.conn.Close()
	c.sess.Release()
}

func (c *Client) requestHeaders(service, method string, extra h3.Headers) (h3.Headers, error) {
	if service == "" || method == "" {
		return nil, qerr.New(qerr.UnknownTool, "empty service or method")
	}
	if strings.ContainsAny(service, "/ ") || strings.ContainsAny(method, "/ ") {
		return nil, qerr.Newf(qerr.UnknownTool, "invalid rpc target %q/%q", service, method)
	}

	headers := h3.Headers{
		{Name: ":method", Value: "POST"},
		{Name: ":scheme", Value: "https"},
		{Name: ":path", Value: fmt.Sprintf("/%s/%s", service, method)},
		{Name: ":authority", Value: c.host},
		{Name: "content-type", Value: ContentType},
	}
	return append(headers, extra...), nil
}

// response accumulates one stream's reply.
type response struct {
	status   int
	headers  h3.Headers
	body     []byte
	finished bool
}

// pollStream drives the session until streamID finishes or the deadline
// passes. On breach only this request's stream is reset and RequestTimeout
// returned; sibling requests on the connection keep running. Events are
// treated as wakeups, the response itself is read from the stream state,
// so an event consumed by a sibling poll loop loses nothing.
func (c *Client) pollStream(ctx context.Context, streamID int64) (*response, error) {
	resp := &response{status: -1}
	buf := make([]byte, 32<<10)

	for !resp.finished {
		if err := ctx.Err(); err != nil {
			c.conn.CancelStream(streamID)
			return nil, qerr.Wrap(qerr.RequestTimeout, "rpc deadline exceeded", err)
		}

		if tick := c.sess.DriveTick(); tick == session.TickClosed {
			return nil, qerr.New(qerr.ConnectionClosed, "session closed mid-request")
		}

		idle := false
		switch ev := c.conn.PollEvent(); ev.Type {
		case h3.EventDone:
			idle = true
		case h3.EventGoAway:
			log.WithField("stream", ev.StreamID).Debug("Peer sent GOAWAY")
		}

		if resp.status == -1 {
			if headers, ok := c.conn.ResponseHeaders(streamID); ok {
				resp.headers = headers
				if status := headers.Get(":status"); status != "" {
					code, err := strconv.Atoi(status)
					if err != nil {
						return nil, qerr.Newf(qerr.HeaderDecodeError, "bad :status %q", status)
					}
					resp.status = code
				}
				idle = false
			}
		}

		for {
			n, done, err := c.conn.RecvBody(streamID, buf)
			if n > 0 {
				idle = false
				if len(resp.body)+n > maxResponseSize {
					return nil, qerr.Newf(qerr.PayloadTooLarge, "response exceeds %d bytes", maxResponseSize)
				}
				resp.body = append(resp.body, buf[:n]...)
			}
			if err != nil {
				return nil, err
			}
			if done {
				resp.finished = true
				break
			}
			if n == 0 {
				break
			}
		}

		if idle && !resp.finished {
			c.yielder().YieldToHost()
		}
	}

	return resp, nil
}

func checkStatus(resp *response) error {
	if resp.status < 200 || resp.status > 299 {
		return qerr.Newf(qerr.UnexpectedStatus, "rpc returned status %d", resp.status).WithCode(int64(resp.status))
	}
	return nil
}

// Request performs a synchronous unary RPC and returns the response body.
func (c *Client) Request(ctx context.Context, service, method string, payload []byte, opts RequestOptions) ([]byte, error) {
	headers, err := c.requestHeaders(service, method, opts.Headers)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	streamID, err := c.conn.SendRequest(ctx, headers, payload, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.pollStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return resp.body, nil
}

// UploadStream sends headers without FIN, pumps chunks from r until
// exhaustion (FIN on the last write) and awaits the single response. The
// pump runs concurrently with the poll loop so flow control on the upload
// never deadlocks response reading.
func (c *Client) UploadStream(ctx context.Context, service, method string, r io.Reader, opts RequestOptions) ([]byte, error) {
	headers, err := c.requestHeaders(service, method, opts.Headers)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	streamID, err := c.conn.SendRequest(ctx, headers, nil, false)
	if err != nil {
		return nil, err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		chunk := make([]byte, uploadChunkSize)
		for {
			if err := groupCtx.Err(); err != nil {
				return qerr.Wrap(qerr.RequestTimeout, "upload deadline exceeded", err)
			}
			n, readErr := r.Read(chunk)
			if n > 0 {
				fin := readErr == io.EOF
				if err := c.conn.SendBody(streamID, chunk[:n], fin); err != nil {
					return err
				}
				if fin {
					return nil
				}
			}
			if readErr == io.EOF {
				return c.conn.SendBody(streamID, nil, true)
			}
			if readErr != nil {
				return qerr.Wrap(qerr.StepFailed, "upload source", readErr)
			}
		}
	})

	var resp *response
	group.Go(func() error {
		var pollErr error
		resp, pollErr = c.pollStream(groupCtx, streamID)
		return pollErr
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return resp.body, nil
}

// DownloadStream performs a unary request and writes response body chunks
// into w as they arrive, returning the response headers.
func (c *Client) DownloadStream(ctx context.Context, service, method string, payload []byte, w io.Writer, opts RequestOptions) (h3.Headers, error) {
	headers, err := c.requestHeaders(service, method, opts.Headers)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	streamID, err := c.conn.SendRequest(ctx, headers, payload, true)
	if err != nil {
		return nil, err
	}

	var respHeaders h3.Headers
	status := -1
	buf := make([]byte, 32<<10)
	finished := false

	for !finished {
		if err := ctx.Err(); err != nil {
			c.conn.CancelStream(streamID)
			return nil, qerr.Wrap(qerr.RequestTimeout, "download deadline exceeded", err)
		}
		if tick := c.sess.DriveTick(); tick == session.TickClosed {
			return nil, qerr.New(qerr.ConnectionClosed, "session closed mid-download")
		}

		idle := c.conn.PollEvent().Type == h3.EventDone

		if status == -1 {
			if headers, ok := c.conn.ResponseHeaders(streamID); ok {
				respHeaders = headers
				if s := headers.Get(":status"); s != "" {
					if code, err := strconv.Atoi(s); err == nil {
						status = code
					}
				}
				if status >= 0 && (status < 200 || status > 299) {
					c.conn.CancelStream(streamID)
					return nil, qerr.Newf(qerr.UnexpectedStatus, "rpc returned status %d", status).WithCode(int64(status))
				}
				idle = false
			}
		}

		for {
			n, done, err := c.conn.RecvBody(streamID, buf)
			if n > 0 {
				idle = false
				if _, werr := w.Write(buf[:n]); werr != nil {
					return nil, qerr.Wrap(qerr.StepFailed, "download sink", werr)
				}
			}
			if err != nil {
				return nil, err
			}
			if done {
				finished = true
				break
			}
			if n == 0 {
				break
			}
		}

		if idle && !finished {
			c.yielder().YieldToHost()
		}
	}

	return respHeaders, nil
}

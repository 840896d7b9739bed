// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quicpro/quicpro-go/pkg/config"
	"github.com/quicpro/quicpro-go/pkg/mcp"
)

// Invoker performs one unary MCP call. The orchestrator depends on this
// surface so tests can substitute a local fake.
type Invoker interface {
	Invoke(ctx context.Context, target Target, payload []byte) ([]byte, error)
}

// MCPInvoker dials MCP clients on demand and keeps them per target host.
type MCPInvoker struct {
	cfg *config.Config

	mu      sync.Mutex
	clients map[string]*mcp.Client
}

func NewMCPInvoker(cfg *config.Config) *MCPInvoker {
	return &MCPInvoker{
		cfg:     cfg,
		clients: make(map[string]*mcp.Client),
	}
}

func (i *MCPInvoker) client(ctx context.Context, target Target) (*mcp.Client, error) {
	key := fmt.Sprintf("%s:%d", target.Host, target.Port)

	i.mu.Lock()
	defer i.mu.Unlock()

	if c, ok := i.clients[key]; ok {
		return c, nil
	}
	c, err := mcp.Connect(ctx, target.Host, target.Port, i.cfg)
	if err != nil {
		return nil, err
	}
	i.clients[key] = c
	return c, nil
}

// Invoke performs the call, reusing a cached connection to the target.
func (i *MCPInvoker) Invoke(ctx context.Context, target Target, payload []byte) ([]byte, error) {
	c, err := i.client(ctx, target)
	if err != nil {
		return nil, err
	}

	opts := mcp.RequestOptions{}
	if target.TimeoutMs > 0 {
		opts.Timeout = time.Duration(target.TimeoutMs) * time.Millisecond
	}
	return c.Request(ctx, target.Service, target.Method, payload, opts)
}

// Close releases every cached client.
func (i *MCPInvoker) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for key, c := range i.clients {
		c.Close()
		delete(i.clients, key)
	}
}

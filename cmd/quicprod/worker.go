// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/quicpro/quicpro-go/pkg/admin"
	"github.com/quicpro/quicpro-go/pkg/cluster"
	"github.com/quicpro/quicpro-go/pkg/config"
	"github.com/quicpro/quicpro-go/pkg/h3"
	"github.com/quicpro/quicpro-go/pkg/host"
	"github.com/quicpro/quicpro-go/pkg/iibin"
	"github.com/quicpro/quicpro-go/pkg/mcp"
	"github.com/quicpro/quicpro-go/pkg/session"
)

// errcodeRateLimited closes connections from banned peers.
const errcodeRateLimited = 0x101

// registerDemoSchemas defines the built-in echo surface every worker
// serves. Embedders register their own schemas and handlers instead.
func registerDemoSchemas(codec *iibin.Registry) error {
	if err := codec.DefineSchema("EchoRequest", map[string]iibin.FieldOptions{
		"message": {Type: "string", Tag: 1, Required: true},
	}); err != nil {
		return err
	}
	return codec.DefineSchema("EchoResponse", map[string]iibin.FieldOptions{
		"message": {Type: "string", Tag: 1, Required: true},
		"length":  {Type: "uint64", Tag: 2},
	})
}

// requestHandler dispatches /<service>/<method> requests.
type requestHandler struct {
	codec *iibin.Registry
}

func (h *requestHandler) serve(req *h3.Request) h3.Response {
	parts := strings.Split(strings.TrimPrefix(req.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return h3.Response{Status: 404}
	}
	service, method := parts[0], parts[1]

	switch {
	case service == "ping" && method == "ping":
		// raw echo, exercised by quicpro-tool ping
		return h3.Response{
			Status:  200,
			Headers: h3.Headers{{Name: "content-type", Value: mcp.ContentType}},
			Body:    req.Body,
		}

	case service == "echo" && method == "run":
		return h.echo(req.Body)

	default:
		return h3.Response{Status: 404}
	}
}

func (h *requestHandler) echo(body []byte) h3.Response {
	record, err := h.codec.Decode("EchoRequest", body)
	if err != nil {
		log.WithError(err).Debug("Echo request rejected")
		return h3.Response{Status: 400}
	}

	message := ""
	if v, ok := record.Get("message"); ok {
		message, _ = v.AsString()
	}

	out := host.NewRecord()
	out.Set("message", host.String(message))
	out.Set("length", host.Uint(uint64(len(message))))

	payload, err := h.codec.Encode("EchoResponse", out)
	if err != nil {
		log.WithError(err).Warn("Echo response encoding failed")
		return h3.Response{Status: 500}
	}

	return h3.Response{
		Status:  200,
		Headers: h3.Headers{{Name: "content-type", Value: mcp.ContentType}},
		Body:    payload,
	}
}

// aggregateStats sums the per-session counters for the admin surface.
func aggregateStats(registry *session.Registry) admin.StatsSource {
	return func() session.Snapshot {
		var total session.Snapshot
		registry.Each(func(cid []byte, s *session.Session) {
			snap := s.Stats.Snapshot()
			total.PktTx += snap.PktTx
			total.PktRx += snap.PktRx
			total.BytesTx += snap.BytesTx
			total.BytesRx += snap.BytesRx
			if snap.RttNs > total.RttNs {
				total.RttNs = snap.RttNs
			}
		})
		return total
	}
}

// runWorker is the per-process server loop: runtime setup, QUIC listener,
// request dispatch and the admin surface.
func runWorker(cfg *config.Config, core coreConf, slot int) error {
	if err := cluster.SetupWorker(&cfg.Cluster, slot); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if core.WatchConfig {
		watcher, err := config.Watch(os.Args[1], cfg, func(err error) {
			if err != nil {
				log.WithError(err).Warn("Admin config update not applied")
			}
		})
		if err != nil {
			return err
		}
		defer watcher.Close()
	}

	promReg := prometheus.NewRegistry()
	metrics := session.NewMetrics(promReg)
	registry := session.NewRegistry()

	listener, err := session.ListenAddr(core.Listen, cfg, registry, metrics)
	if err != nil {
		return err
	}
	defer listener.Close()

	codec := iibin.NewRegistry()
	if err := registerDemoSchemas(codec); err != nil {
		return err
	}
	handler := &requestHandler{codec: codec}

	var rates *cluster.RateTable
	if cfg.Cluster.RateMaxPerSec > 0 {
		rates = cluster.NewRateTable(
			cfg.Cluster.RateLimitBuckets,
			float64(cfg.Cluster.RateMaxPerSec),
			float64(cfg.Cluster.RateBurst),
			time.Duration(cfg.Cluster.RateBanSeconds)*time.Second,
		)
	}

	var adminSrv *admin.Server
	if cfg.Admin.Listen != "" {
		adminSrv = admin.NewServer(cfg.Admin, promReg, aggregateStats(registry), nil)
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil {
				log.WithError(err).Error("Admin endpoint failed")
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := registry.Sweep(); n > 0 {
					log.WithField("sessions", n).Debug("Swept closed sessions")
				}
			}
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.WithField("signal", sig).Info("Worker shutting down")
		cancel()
		_ = listener.Close()
	}()

	log.WithFields(log.Fields{
		"slot": slot,
		"addr": listener.Addr(),
	}).Info("Worker serving")

	for {
		sess, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}

		if rates != nil && !rates.Allow(peerHost(sess)) {
			log.WithField("peer", sess.Conn().RemoteAddr()).Debug("Rate limited")
			_ = sess.Close(true, errcodeRateLimited, "rate limited")
			continue
		}

		if _, err := h3.ServeConn(ctx, sess, &cfg.Transport.CORS, handler.serve); err != nil {
			log.WithError(err).Warn("Session setup failed")
			_ = sess.Close(true, 0, "setup failed")
		}
	}

	if adminSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = adminSrv.Shutdown(shutdownCtx)
	}
	registry.Each(func(cid []byte, s *session.Session) {
		_ = s.Close(true, 0, "worker shutdown")
	})

	return nil
}

func peerHost(sess *session.Session) string {
	addr := sess.Conn().RemoteAddr().String()
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}

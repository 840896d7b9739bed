// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package admin serves the local observability surface: session stats as
// JSON, Prometheus metrics and a websocket feed of pipeline events.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/quicpro/quicpro-go/pkg/config"
	"github.com/quicpro/quicpro-go/pkg/pipeline"
	"github.com/quicpro/quicpro-go/pkg/session"
)

// StatsSource yields the current stats snapshot for /stats.
type StatsSource func() session.Snapshot

// Server is the admin HTTP endpoint.
type Server struct {
	router   *mux.Router
	httpSrv  *http.Server
	upgrader websocket.Upgrader

	stats   StatsSource
	emitter *pipeline.EventEmitter
	cors    config.CORS
}

// NewServer wires the admin routes. The emitter may be nil when no
// pipeline runs in this process.
func NewServer(cfg config.Admin, registry *prometheus.Registry, stats StatsSource, emitter *pipeline.EventEmitter) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{},
		stats:    stats,
		emitter:  emitter,
		cors:     cfg.CORS,
	}

	s.router.Use(s.corsMiddleware)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet, http.MethodOptions)
	s.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet, http.MethodOptions)

	s.httpSrv = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the events socket writes indefinitely
	}
	return s
}

// Router exposes the mux for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	log.WithField("addr", s.httpSrv.Addr).Info("Admin endpoint listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// corsMiddleware applies the configured origin policy. Missing Origin
// passes through, a disallowed one answers 403, and allowed preflights
// answer 204 with the policy headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !s.cors.Enabled || origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !s.cors.AllowsOrigin(origin) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", s.cors.MethodList())
			w.Header().Set("Access-Control-Allow-Headers", s.cors.HeaderList())
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(s.cors.MaxAge))
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var snapshot session.Snapshot
	if s.stats != nil {
		snapshot = s.stats()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		log.WithError(err).Debug("Stats encoding failed")
	}
}

// handleEvents streams pipeline events over a websocket until the client
// goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.emitter == nil {
		http.Error(w, "no pipeline in this process", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	events := s.emitter.Subscribe()
	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

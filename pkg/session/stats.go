// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats counts per-session transport activity. The UDP socket feeds the
// packet counters; the handshake feeds the RTT estimate.
type Stats struct {
	PktTx   atomic.Uint64
	PktRx   atomic.Uint64
	BytesTx atomic.Uint64
	BytesRx atomic.Uint64

	rttNs atomic.Int64
}

// ObserveRTT records a round-trip estimate.
func (s *Stats) ObserveRTT(rtt time.Duration) {
	s.rttNs.Store(rtt.Nanoseconds())
}

// RTT returns the last round-trip estimate.
func (s *Stats) RTT() time.Duration {
	return time.Duration(s.rttNs.Load())
}

// Snapshot is a plain copy for the stats surface.
type Snapshot struct {
	PktTx   uint64 `json:"pkt_tx"`
	PktRx   uint64 `json:"pkt_rx"`
	BytesTx uint64 `json:"bytes_tx"`
	BytesRx uint64 `json:"bytes_rx"`
	RttNs   int64  `json:"rtt_ns"`
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		PktTx:   s.PktTx.Load(),
		PktRx:   s.PktRx.Load(),
		BytesTx: s.BytesTx.Load(),
		BytesRx: s.BytesRx.Load(),
		RttNs:   s.rttNs.Load(),
	}
}

// Metrics aggregates session counters process-wide for Prometheus.
type Metrics struct {
	PacketsTx  prometheus.Counter
	PacketsRx  prometheus.Counter
	Sessions   prometheus.Gauge
	Handshakes prometheus.Counter
}

// NewMetrics registers the session collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PacketsTx: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quicpro_session_packets_tx_total",
			Help: "UDP packets sent across all sessions.",
		}),
		PacketsRx: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quicpro_session_packets_rx_total",
			Help: "UDP packets received across all sessions.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quicpro_sessions_open",
			Help: "Currently open QUIC sessions.",
		}),
		Handshakes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quicpro_session_handshakes_total",
			Help: "Completed QUIC handshakes.",
		}),
	}
	reg.MustRegister(m.PacketsTx, m.PacketsRx, m.Sessions, m.Handshakes)
	return m
}

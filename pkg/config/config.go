// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config provides the quicpro configuration bundle and its four-tier
// merge: built-in defaults, system file, per-session overrides and live
// admin updates. A Config freezes on first use by a session; the frozen bit
// is sticky and later mutation attempts fail with ConfigFrozen.
package config

import (
	"strings"
	"sync/atomic"

	"github.com/quicpro/quicpro-go/pkg/qerr"
)

// Tier identifies where a configuration value came from. Higher tiers
// override lower ones during Merge, subject to the AllowOverride policy.
type Tier int

const (
	TierDefaults Tier = iota
	TierSystem
	TierSession
	TierAdmin
)

func (t Tier) String() string {
	switch t {
	case TierDefaults:
		return "defaults"
	case TierSystem:
		return "system"
	case TierSession:
		return "session"
	case TierAdmin:
		return "admin"
	default:
		return "invalid"
	}
}

// CongestionAlgorithm names the congestion controller requested from the
// QUIC library.
type CongestionAlgorithm string

const (
	CongestionCubic CongestionAlgorithm = "cubic"
	CongestionReno  CongestionAlgorithm = "reno"
	CongestionBBR   CongestionAlgorithm = "bbr"
)

// CORS is the cross-origin policy for the H3 request path. Origins of nil
// with Enabled=false disables the filter entirely; a single "*" entry allows
// every origin.
type CORS struct {
	Enabled bool     `toml:"enabled"`
	Origins []string `toml:"origins"`
	MaxAge  int      `toml:"max-age"`
	Methods []string `toml:"methods"`
	Headers []string `toml:"headers"`
}

// AllowsOrigin reports whether origin passes the policy.
func (c CORS) AllowsOrigin(origin string) bool {
	if !c.Enabled {
		return false
	}
	for _, o := range c.Origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// MethodList renders the allowed methods for a preflight response.
func (c CORS) MethodList() string {
	return strings.Join(c.Methods, ", ")
}

// HeaderList renders the allowed request headers for a preflight response.
func (c CORS) HeaderList() string {
	return strings.Join(c.Headers, ", ")
}

// Transport bundles every QUIC/H3 transport parameter of a session.
// VerifyPeer, EnablePacing and SessionTicketsEnabled are pointers so a tier
// patch can distinguish "not given" from an explicit false; all three
// resolve to true when left nil.
type Transport struct {
	ALPN       []string `toml:"alpn"`
	VerifyPeer *bool    `toml:"verify-peer"`
	CAFile     string   `toml:"ca-file"`
	CertFile   string   `toml:"cert-file"`
	KeyFile    string   `toml:"key-file"`

	MaxIdleTimeoutMs  uint64              `toml:"max-idle-timeout-ms"`
	MaxUDPPayload     uint64              `toml:"max-udp-payload"`
	InitialMaxData    uint64              `toml:"initial-max-data"`
	InitialMaxStream  uint64              `toml:"initial-max-stream-data"`
	MaxStreamsBidi    uint64              `toml:"initial-max-streams-bidi"`
	MaxStreamsUni     uint64              `toml:"initial-max-streams-uni"`
	Congestion        CongestionAlgorithm `toml:"congestion-control-algorithm"`
	EnablePacing      *bool               `toml:"enable-pacing"`
	EnableDatagrams   bool                `toml:"enable-datagrams"`
	DatagramRxQueue   int                 `toml:"dgram-recv-queue-len"`
	DatagramTxQueue   int                 `toml:"dgram-send-queue-len"`
	MaxHeaderListSize uint64              `toml:"max-header-list-size"`
	QpackMaxTableCap  uint64              `toml:"qpack-max-table-capacity"`
	BusyPollUs        uint64              `toml:"busy-poll-us"`
	RequestTimeoutMs  uint64              `toml:"request-timeout-ms"`
	BindInterface     string              `toml:"bind-interface"`
	PreferIPv4        bool                `toml:"prefer-ipv4"`

	SessionTicketsEnabled *bool `toml:"session-tickets"`
	TicketRingCapacity    int   `toml:"ticket-ring-capacity"`

	// CORS filters the server-side H3 request path.
	CORS CORS `toml:"cors"`
}

// Cluster holds supervisor tuning. SetAffinity is a pointer for the same
// reason as Transport.VerifyPeer and resolves to true when left nil.
type Cluster struct {
	NumWorkers              int    `toml:"num-workers"`
	SetAffinity             *bool  `toml:"set-affinity"`
	Niceness                int    `toml:"niceness"`
	SchedPolicy             string `toml:"sched-policy"`
	MaxOpenFiles            uint64 `toml:"max-fd"`
	CgroupProcsFile         string `toml:"cgroup-procs-file"`
	UID                     int    `toml:"uid"`
	GID                     int    `toml:"gid"`
	MaxRestartsPerWorker    int    `toml:"max-restarts-per-worker"`
	RestartIntervalSec      int    `toml:"restart-interval-sec"`
	GracefulShutdownTimeout int    `toml:"graceful-shutdown-timeout-sec"`
	PidFile                 string `toml:"pid-file"`

	RateLimitBuckets int `toml:"rate-limit-buckets"`
	RateMaxPerSec    int `toml:"rate-max-per-sec"`
	RateBurst        int `toml:"rate-burst"`
	RateBanSeconds   int `toml:"rate-ban-seconds"`
}

// Pipeline holds orchestrator tuning. FailFast resolves to true when nil.
type Pipeline struct {
	FailFast           *bool  `toml:"fail-fast"`
	OverallTimeoutMs   uint64 `toml:"overall-timeout-ms"`
	LoggerTool         string `toml:"logger-tool"`
	EventBatchSize     int    `toml:"event-batch-size"`
	EventBatchWindowMs uint64 `toml:"event-batch-window-ms"`
	JournalDir         string `toml:"journal-dir"`
}

// Admin holds the stats/metrics surface settings.
type Admin struct {
	Listen string `toml:"listen"`
	CORS   CORS   `toml:"cors"`
}

// Config is the immutable-after-first-use bundle referenced by sessions.
type Config struct {
	Transport Transport `toml:"transport"`
	Cluster   Cluster   `toml:"cluster"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Admin     Admin     `toml:"admin"`

	// allowOverride gates each tier; disabling a tier is itself sticky.
	allowOverride [4]atomicBool

	frozen atomicBool
}

type atomicBool struct{ v atomic.Bool }

// Default returns the compile-time tier.
func Default() *Config {
	cfg := &Config{
		Transport: Transport{
			ALPN:               []string{"h3"},
			MaxIdleTimeoutMs:   30000,
			MaxUDPPayload:      1350,
			InitialMaxData:     1 << 24,
			InitialMaxStream:   1 << 20,
			MaxStreamsBidi:     128,
			MaxStreamsUni:      16,
			Congestion:         CongestionCubic,
			DatagramRxQueue:    64,
			DatagramTxQueue:    64,
			MaxHeaderListSize:  1 << 16,
			RequestTimeoutMs:   30000,
			QpackMaxTableCap:   0,
			TicketRingCapacity: 64,
		},
		Cluster: Cluster{
			NumWorkers:              0,
			SchedPolicy:             "other",
			MaxRestartsPerWorker:    5,
			RestartIntervalSec:      60,
			GracefulShutdownTimeout: 30,
			RateLimitBuckets:        1024,
			RateMaxPerSec:           0,
			RateBurst:               0,
			RateBanSeconds:          30,
		},
		Pipeline: Pipeline{
			EventBatchSize:     16,
			EventBatchWindowMs: 250,
		},
	}
	for i := range cfg.allowOverride {
		cfg.allowOverride[i].v.Store(true)
	}
	return cfg
}

// Freeze marks the config immutable. Idempotent and sticky.
func (c *Config) Freeze() {
	c.frozen.v.Store(true)
}

// Frozen reports whether any session has taken a reference.
func (c *Config) Frozen() bool {
	return c.frozen.v.Load()
}

// DisableOverride forbids future merges from the given tier. The decision
// is sticky.
func (c *Config) DisableOverride(tier Tier) {
	c.allowOverride[tier].v.Store(false)
}

// OverrideAllowed reports whether the tier may still be merged.
func (c *Config) OverrideAllowed(tier Tier) bool {
	return c.allowOverride[tier].v.Load()
}

// Merge overlays the non-zero fields of patch onto c, attributed to tier.
// A frozen config rejects every merge; a disabled tier fails with
// OverrideForbidden.
func (c *Config) Merge(tier Tier, patch *Config) error {
	if c.Frozen() {
		return qerr.Newf(qerr.ConfigFrozen, "config is frozen, %s tier rejected", tier)
	}
	if !c.OverrideAllowed(tier) {
		return qerr.Newf(qerr.OverrideForbidden, "overrides from %s tier are disabled", tier)
	}

	mergeTransport(&c.Transport, &patch.Transport)
	mergeCluster(&c.Cluster, &patch.Cluster)
	mergePipeline(&c.Pipeline, &patch.Pipeline)
	mergeAdmin(&c.Admin, &patch.Admin)
	return nil
}

func mergeTransport(dst, src *Transport) {
	if len(src.ALPN) > 0 {
		dst.ALPN = append([]string(nil), src.ALPN...)
	}
	if src.CAFile != "" {
		dst.CAFile = src.CAFile
	}
	if src.CertFile != "" {
		dst.CertFile = src.CertFile
	}
	if src.KeyFile != "" {
		dst.KeyFile = src.KeyFile
	}
	if src.MaxIdleTimeoutMs != 0 {
		dst.MaxIdleTimeoutMs = src.MaxIdleTimeoutMs
	}
	if src.MaxUDPPayload != 0 {
		dst.MaxUDPPayload = src.MaxUDPPayload
	}
	if src.InitialMaxData != 0 {
		dst.InitialMaxData = src.InitialMaxData
	}
	if src.InitialMaxStream != 0 {
		dst.InitialMaxStream = src.InitialMaxStream
	}
	if src.MaxStreamsBidi != 0 {
		dst.MaxStreamsBidi = src.MaxStreamsBidi
	}
	if src.MaxStreamsUni != 0 {
		dst.MaxStreamsUni = src.MaxStreamsUni
	}
	if src.Congestion != "" {
		dst.Congestion = src.Congestion
	}
	if src.DatagramRxQueue != 0 {
		dst.DatagramRxQueue = src.DatagramRxQueue
	}
	if src.DatagramTxQueue != 0 {
		dst.DatagramTxQueue = src.DatagramTxQueue
	}
	if src.MaxHeaderListSize != 0 {
		dst.MaxHeaderListSize = src.MaxHeaderListSize
	}
	if src.QpackMaxTableCap != 0 {
		dst.QpackMaxTableCap = src.QpackMaxTableCap
	}
	if src.BusyPollUs != 0 {
		dst.BusyPollUs = src.BusyPollUs
	}
	if src.RequestTimeoutMs != 0 {
		dst.RequestTimeoutMs = src.RequestTimeoutMs
	}
	if src.BindInterface != "" {
		dst.BindInterface = src.BindInterface
	}
	if src.TicketRingCapacity != 0 {
		dst.TicketRingCapacity = src.TicketRingCapacity
	}
	if src.VerifyPeer != nil {
		v := *src.VerifyPeer
		dst.VerifyPeer = &v
	}
	if src.EnablePacing != nil {
		v := *src.EnablePacing
		dst.EnablePacing = &v
	}
	if src.SessionTicketsEnabled != nil {
		v := *src.SessionTicketsEnabled
		dst.SessionTicketsEnabled = &v
	}
	dst.EnableDatagrams = dst.EnableDatagrams || src.EnableDatagrams
	dst.PreferIPv4 = dst.PreferIPv4 || src.PreferIPv4
	if src.CORS.Enabled {
		dst.CORS = src.CORS
	}
}

// ShouldVerifyPeer resolves the tri-state VerifyPeer toggle; verification
// defaults to on.
func (t *Transport) ShouldVerifyPeer() bool {
	return t.VerifyPeer == nil || *t.VerifyPeer
}

// PacingEnabled resolves the tri-state pacing toggle; pacing defaults to on.
func (t *Transport) PacingEnabled() bool {
	return t.EnablePacing == nil || *t.EnablePacing
}

// TicketsEnabled resolves the tri-state resumption toggle; session tickets
// and 0-RTT default to on.
func (t *Transport) TicketsEnabled() bool {
	return t.SessionTicketsEnabled == nil || *t.SessionTicketsEnabled
}

func mergeCluster(dst, src *Cluster) {
	if src.NumWorkers != 0 {
		dst.NumWorkers = src.NumWorkers
	}
	if src.Niceness != 0 {
		dst.Niceness = src.Niceness
	}
	if src.SchedPolicy != "" {
		dst.SchedPolicy = src.SchedPolicy
	}
	if src.MaxOpenFiles != 0 {
		dst.MaxOpenFiles = src.MaxOpenFiles
	}
	if src.CgroupProcsFile != "" {
		dst.CgroupProcsFile = src.CgroupProcsFile
	}
	if src.UID != 0 {
		dst.UID = src.UID
	}
	if src.GID != 0 {
		dst.GID = src.GID
	}
	if src.MaxRestartsPerWorker != 0 {
		dst.MaxRestartsPerWorker = src.MaxRestartsPerWorker
	}
	if src.RestartIntervalSec != 0 {
		dst.RestartIntervalSec = src.RestartIntervalSec
	}
	if src.GracefulShutdownTimeout != 0 {
		dst.GracefulShutdownTimeout = src.GracefulShutdownTimeout
	}
	if src.PidFile != "" {
		dst.PidFile = src.PidFile
	}
	if src.RateLimitBuckets != 0 {
		dst.RateLimitBuckets = src.RateLimitBuckets
	}
	if src.RateMaxPerSec != 0 {
		dst.RateMaxPerSec = src.RateMaxPerSec
	}
	if src.RateBurst != 0 {
		dst.RateBurst = src.RateBurst
	}
	if src.RateBanSeconds != 0 {
		dst.RateBanSeconds = src.RateBanSeconds
	}
	if src.SetAffinity != nil {
		v := *src.SetAffinity
		dst.SetAffinity = &v
	}
}

// ShouldSetAffinity resolves the tri-state affinity toggle; worker CPU
// pinning defaults to on.
func (c *Cluster) ShouldSetAffinity() bool {
	return c.SetAffinity == nil || *c.SetAffinity
}

func mergePipeline(dst, src *Pipeline) {
	if src.OverallTimeoutMs != 0 {
		dst.OverallTimeoutMs = src.OverallTimeoutMs
	}
	if src.LoggerTool != "" {
		dst.LoggerTool = src.LoggerTool
	}
	if src.EventBatchSize != 0 {
		dst.EventBatchSize = src.EventBatchSize
	}
	if src.EventBatchWindowMs != 0 {
		dst.EventBatchWindowMs = src.EventBatchWindowMs
	}
	if src.JournalDir != "" {
		dst.JournalDir = src.JournalDir
	}
	if src.FailFast != nil {
		v := *src.FailFast
		dst.FailFast = &v
	}
}

// ShouldFailFast resolves the tri-state toggle; fail-fast defaults to on.
func (p *Pipeline) ShouldFailFast() bool {
	return p.FailFast == nil || *p.FailFast
}

func mergeAdmin(dst, src *Admin) {
	if src.Listen != "" {
		dst.Listen = src.Listen
	}
	if src.CORS.Enabled {
		dst.CORS = src.CORS
	}
}

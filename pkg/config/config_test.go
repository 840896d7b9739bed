// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"reflect"
	"testing"

	"github.com/quicpro/quicpro-go/pkg/qerr"
)

func TestMergeTiers(t *testing.T) {
	cfg := Default()

	off := false
	system := &Config{Transport: Transport{
		ALPN:             []string{"h3", "hq-interop"},
		VerifyPeer:       &off,
		MaxIdleTimeoutMs: 5000,
	}}
	if err := cfg.Merge(TierSystem, system); err != nil {
		t.Fatal(err)
	}

	session := &Config{Transport: Transport{MaxUDPPayload: 1200}}
	if err := cfg.Merge(TierSession, session); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(cfg.Transport.ALPN, []string{"h3", "hq-interop"}) {
		t.Fatalf("ALPN not merged: %v", cfg.Transport.ALPN)
	}
	if cfg.Transport.ShouldVerifyPeer() {
		t.Fatal("explicit verify-peer=false was lost")
	}
	if cfg.Transport.MaxIdleTimeoutMs != 5000 {
		t.Fatalf("idle timeout = %d", cfg.Transport.MaxIdleTimeoutMs)
	}
	if cfg.Transport.MaxUDPPayload != 1200 {
		t.Fatalf("udp payload = %d", cfg.Transport.MaxUDPPayload)
	}
}

func TestFreezeIsSticky(t *testing.T) {
	cfg := Default()
	cfg.Freeze()

	err := cfg.Merge(TierAdmin, &Config{Transport: Transport{MaxUDPPayload: 1400}})
	if qerr.KindOf(err) != qerr.ConfigFrozen {
		t.Fatalf("expected ConfigFrozen, got %v", err)
	}
	if cfg.Transport.MaxUDPPayload == 1400 {
		t.Fatal("frozen config was mutated")
	}
	if !cfg.Frozen() {
		t.Fatal("frozen bit not sticky")
	}
}

func TestDisableOverride(t *testing.T) {
	cfg := Default()
	cfg.DisableOverride(TierAdmin)

	err := cfg.Merge(TierAdmin, &Config{})
	if qerr.KindOf(err) != qerr.OverrideForbidden {
		t.Fatalf("expected OverrideForbidden, got %v", err)
	}

	// other tiers are unaffected
	if err := cfg.Merge(TierSystem, &Config{}); err != nil {
		t.Fatal(err)
	}
}

func TestVerifyPeerDefaultsOn(t *testing.T) {
	cfg := Default()
	if !cfg.Transport.ShouldVerifyPeer() {
		t.Fatal("peer verification must default to on")
	}
}

func TestMergeDisablesDefaultOnToggles(t *testing.T) {
	cfg := Default()
	if !cfg.Transport.PacingEnabled() || !cfg.Transport.TicketsEnabled() ||
		!cfg.Pipeline.ShouldFailFast() || !cfg.Cluster.ShouldSetAffinity() {
		t.Fatal("default-on toggles must resolve to true on Default()")
	}

	off := false
	system := &Config{
		Transport: Transport{
			EnablePacing:          &off,
			SessionTicketsEnabled: &off,
		},
		Pipeline: Pipeline{FailFast: &off},
		Cluster:  Cluster{SetAffinity: &off},
	}
	if err := cfg.Merge(TierSystem, system); err != nil {
		t.Fatal(err)
	}

	if cfg.Transport.PacingEnabled() {
		t.Fatal("explicit enable-pacing=false was lost")
	}
	if cfg.Transport.TicketsEnabled() {
		t.Fatal("explicit session-tickets=false was lost")
	}
	if cfg.Pipeline.ShouldFailFast() {
		t.Fatal("explicit fail-fast=false was lost")
	}
	if cfg.Cluster.ShouldSetAffinity() {
		t.Fatal("explicit set-affinity=false was lost")
	}

	// an absent field on a later tier must not flip the value back
	if err := cfg.Merge(TierSession, &Config{}); err != nil {
		t.Fatal(err)
	}
	if cfg.Transport.TicketsEnabled() || cfg.Pipeline.ShouldFailFast() {
		t.Fatal("empty overlay re-enabled a disabled toggle")
	}
}

func TestCORSAllowsOrigin(t *testing.T) {
	tests := []struct {
		policy  CORS
		origin  string
		allowed bool
	}{
		{CORS{}, "https://a.test", false},
		{CORS{Enabled: true, Origins: []string{"*"}}, "https://a.test", true},
		{CORS{Enabled: true, Origins: []string{"https://a.test"}}, "https://a.test", true},
		{CORS{Enabled: true, Origins: []string{"https://a.test"}}, "https://b.test", false},
	}

	for _, test := range tests {
		if got := test.policy.AllowsOrigin(test.origin); got != test.allowed {
			t.Fatalf("AllowsOrigin(%q) = %v, expected %v", test.origin, got, test.allowed)
		}
	}
}

// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cluster

import (
	"os"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/quicpro/quicpro-go/pkg/config"
)

func TestNewSupervisorDefaultsToNumCPU(t *testing.T) {
	s := NewSupervisor(config.Cluster{NumWorkers: 0}, Hooks{})
	if s.Workers() != runtime.NumCPU() {
		t.Fatalf("workers = %d, expected %d", s.Workers(), runtime.NumCPU())
	}

	s = NewSupervisor(config.Cluster{NumWorkers: 3}, Hooks{})
	if s.Workers() != 3 {
		t.Fatalf("workers = %d, expected 3", s.Workers())
	}
}

func TestRestartBudget(t *testing.T) {
	s := NewSupervisor(config.Cluster{
		NumWorkers:           1,
		MaxRestartsPerWorker: 2,
		RestartIntervalSec:   60,
	}, Hooks{})

	now := time.Unix(2000, 0)
	state := &slotState{lastRestart: now}

	if !s.restartAllowed(state, now.Add(time.Second)) {
		t.Fatal("first restart denied")
	}
	if !s.restartAllowed(state, now.Add(2*time.Second)) {
		t.Fatal("second restart denied")
	}
	if s.restartAllowed(state, now.Add(3*time.Second)) {
		t.Fatal("third rapid restart allowed beyond the budget")
	}
}

func TestRestartBudgetResetsAfterInterval(t *testing.T) {
	s := NewSupervisor(config.Cluster{
		NumWorkers:           1,
		MaxRestartsPerWorker: 1,
		RestartIntervalSec:   10,
	}, Hooks{})

	now := time.Unix(2000, 0)
	state := &slotState{lastRestart: now}

	if !s.restartAllowed(state, now.Add(time.Second)) {
		t.Fatal("first restart denied")
	}

	// a calm stretch longer than the interval resets the count
	if !s.restartAllowed(state, now.Add(31*time.Second)) {
		t.Fatal("restart after a calm interval denied")
	}
}

func TestRestartBudgetUnlimitedWhenNegative(t *testing.T) {
	s := NewSupervisor(config.Cluster{
		NumWorkers:           1,
		MaxRestartsPerWorker: -1,
	}, Hooks{})

	now := time.Unix(2000, 0)
	state := &slotState{lastRestart: now}
	for i := 0; i < 100; i++ {
		if !s.restartAllowed(state, now.Add(time.Duration(i)*time.Millisecond)) {
			t.Fatalf("restart %d denied with an unlimited budget", i)
		}
	}
}

func TestWorkerSlotEnv(t *testing.T) {
	if _, ok := WorkerSlot(); ok {
		t.Fatal("WorkerSlot reported a slot without the env var")
	}

	t.Setenv(WorkerSlotEnv, "3")
	slot, ok := WorkerSlot()
	if !ok || slot != 3 {
		t.Fatalf("WorkerSlot = (%d, %v), expected (3, true)", slot, ok)
	}

	t.Setenv(WorkerSlotEnv, "garbage")
	if _, ok := WorkerSlot(); ok {
		t.Fatal("WorkerSlot accepted a non-numeric slot")
	}
}

func TestSchedPolicyNumber(t *testing.T) {
	tests := []struct {
		name     string
		expected int
		wantErr  bool
	}{
		{"", 0, false},
		{"other", 0, false},
		{"fifo", 1, false},
		{"RR", 2, false},
		{"deadline", 0, true},
	}
	for _, test := range tests {
		got, err := schedPolicyNumber(test.name)
		if test.wantErr {
			if err == nil {
				t.Errorf("policy %q: expected error", test.name)
			}
			continue
		}
		if err != nil || got != test.expected {
			t.Errorf("policy %q = (%d, %v), expected %d", test.name, got, err, test.expected)
		}
	}
}

func TestWritePidFile(t *testing.T) {
	pidFile := t.TempDir() + "/master.pid"
	if err := os.WriteFile(pidFile, []byte("stale\n"), 0644); err != nil {
		t.Fatal(err)
	}

	s := NewSupervisor(config.Cluster{NumWorkers: 1, PidFile: pidFile}, Hooks{})
	if err := s.writePidFile(); err != nil {
		t.Fatal(err)
	}

	content, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatal(err)
	}
	expected := strconv.Itoa(os.Getpid()) + "\n"
	if string(content) != expected {
		t.Fatalf("pid file holds %q, expected %q", content, expected)
	}
}

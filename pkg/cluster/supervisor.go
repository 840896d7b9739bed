// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cluster

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/quicpro/quicpro-go/pkg/config"
	"github.com/quicpro/quicpro-go/pkg/qerr"
)

// reapInterval is the cadence of waitpid polling during shutdown.
const reapInterval = 100 * time.Millisecond

// Hooks are the master-side callbacks around worker lifecycle.
type Hooks struct {
	OnWorkerStart func(slot, pid int)
	OnWorkerExit  func(slot, pid, exitCode int, sig unix.Signal)
}

// slotState tracks one worker slot.
type slotState struct {
	pid          int
	startedAt    time.Time
	restartCount int
	lastRestart  time.Time
	intentional  bool
	dead         bool
}

// Supervisor is the cluster master. Workers are re-executions of the own
// binary with the slot index in the environment; the worker side branches
// on WorkerSlot before the master code path runs.
type Supervisor struct {
	cfg   config.Cluster
	hooks Hooks

	slots        []slotState
	shuttingDown bool

	sigs chan os.Signal
}

func NewSupervisor(cfg config.Cluster, hooks Hooks) *Supervisor {
	workers := cfg.NumWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	s := &Supervisor{
		cfg:   cfg,
		hooks: hooks,
		slots: make([]slotState, workers),
		sigs:  make(chan os.Signal, 8),
	}
	return s
}

// Workers returns the slot count.
func (s *Supervisor) Workers() int {
	return len(s.slots)
}

// Run spawns all workers and supervises them until a TERM/INT arrives.
// HUP triggers a graceful reload: every worker is terminated and
// re-spawned.
func (s *Supervisor) Run() error {
	if s.cfg.PidFile != "" {
		if err := s.writePidFile(); err != nil {
			return err
		}
		defer os.Remove(s.cfg.PidFile)
	}

	signal.Notify(s.sigs, unix.SIGTERM, unix.SIGINT, unix.SIGHUP, unix.SIGCHLD)
	defer signal.Stop(s.sigs)

	for slot := range s.slots {
		if err := s.spawn(slot); err != nil {
			s.shutdown()
			return err
		}
	}

	log.WithField("workers", len(s.slots)).Info("Cluster master supervising")

	for sig := range s.sigs {
		switch sig {
		case unix.SIGCHLD:
			s.reap()

		case unix.SIGHUP:
			log.Info("Reloading cluster workers")
			s.shutdown()
			s.shuttingDown = false
			for slot := range s.slots {
				s.slots[slot] = slotState{}
				if err := s.spawn(slot); err != nil {
					s.shutdown()
					return err
				}
			}

		case unix.SIGTERM, unix.SIGINT:
			log.WithField("signal", sig).Info("Shutting cluster down")
			s.shutdown()
			return nil
		}
	}
	return nil
}

func (s *Supervisor) writePidFile() error {
	// clear a stale file before claiming it
	_ = os.Remove(s.cfg.PidFile)
	content := fmt.Sprintf("%d\n", os.Getpid())
	if err := os.WriteFile(s.cfg.PidFile, []byte(content), 0644); err != nil {
		return qerr.Wrap(qerr.PidFileFailed, "write pid file", err)
	}
	return nil
}

// spawn re-executes the binary for one slot.
func (s *Supervisor) spawn(slot int) error {
	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", WorkerSlotEnv, slot))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return qerr.Wrap(qerr.ForkFailed, fmt.Sprintf("spawn worker %d", slot), err)
	}

	// the child is reaped via waitpid, not cmd.Wait
	_ = cmd.Process.Release()

	now := time.Now()
	state := &s.slots[slot]
	state.pid = cmd.Process.Pid
	state.startedAt = now
	if state.lastRestart.IsZero() {
		state.lastRestart = now
	}
	state.dead = false

	log.WithFields(log.Fields{
		"slot": slot,
		"pid":  state.pid,
	}).Info("Worker spawned")

	if s.hooks.OnWorkerStart != nil {
		s.hooks.OnWorkerStart(slot, state.pid)
	}
	return nil
}

// reap collects every exited child and applies the restart policy.
func (s *Supervisor) reap() {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}

		slot, ok := s.slotOf(pid)
		if !ok {
			continue
		}

		exitCode := 0
		var sig unix.Signal
		if status.Exited() {
			exitCode = status.ExitStatus()
		}
		if status.Signaled() {
			sig = status.Signal()
		}

		log.WithFields(log.Fields{
			"slot":   slot,
			"pid":    pid,
			"exit":   exitCode,
			"signal": sig,
		}).Warn("Worker exited")

		if s.hooks.OnWorkerExit != nil {
			s.hooks.OnWorkerExit(slot, pid, exitCode, sig)
		}

		s.maybeRestart(slot)
	}
}

// maybeRestart applies the restart budget: counts reset once the restart
// interval has passed without incident; exceeding the per-slot budget
// marks the slot dead.
func (s *Supervisor) maybeRestart(slot int) {
	state := &s.slots[slot]
	state.pid = 0

	if s.shuttingDown || state.intentional {
		return
	}

	if !s.restartAllowed(state, time.Now()) {
		log.WithField("slot", slot).Error("Worker exceeded its restart budget, giving up")
		state.dead = true
		return
	}

	if err := s.spawn(slot); err != nil {
		log.WithError(err).WithField("slot", slot).Error("Worker respawn failed")
		state.dead = true
	}
}

// restartAllowed charges one restart against the slot's budget. The count
// resets when the restart interval passed without an incident.
func (s *Supervisor) restartAllowed(state *slotState, now time.Time) bool {
	interval := time.Duration(s.cfg.RestartIntervalSec) * time.Second
	if interval > 0 && now.Sub(state.lastRestart) > interval {
		state.restartCount = 0
	}

	state.restartCount++
	state.lastRestart = now

	return s.cfg.MaxRestartsPerWorker < 0 || state.restartCount <= s.cfg.MaxRestartsPerWorker
}

func (s *Supervisor) slotOf(pid int) (int, bool) {
	for slot := range s.slots {
		if s.slots[slot].pid == pid {
			return slot, true
		}
	}
	return 0, false
}

// StopWorker marks a slot intentional and terminates it without restart.
func (s *Supervisor) StopWorker(slot int) {
	if slot < 0 || slot >= len(s.slots) {
		return
	}
	state := &s.slots[slot]
	state.intentional = true
	if state.pid > 0 {
		_ = unix.Kill(state.pid, unix.SIGTERM)
	}
}

// shutdown TERMs every living worker, waits up to the graceful timeout in
// 100 ms steps, then KILLs the stragglers.
func (s *Supervisor) shutdown() {
	s.shuttingDown = true

	for slot := range s.slots {
		if pid := s.slots[slot].pid; pid > 0 {
			_ = unix.Kill(pid, unix.SIGTERM)
		}
	}

	timeout := time.Duration(s.cfg.GracefulShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		s.reap()
		if s.liveWorkers() == 0 {
			return
		}
		time.Sleep(reapInterval)
	}

	for slot := range s.slots {
		if pid := s.slots[slot].pid; pid > 0 {
			log.WithFields(log.Fields{
				"slot": slot,
				"pid":  pid,
			}).Warn("Worker ignored SIGTERM, killing")
			_ = unix.Kill(pid, unix.SIGKILL)
		}
	}
	s.reap()
}

func (s *Supervisor) liveWorkers() int {
	n := 0
	for slot := range s.slots {
		if s.slots[slot].pid > 0 {
			n++
		}
	}
	return n
}

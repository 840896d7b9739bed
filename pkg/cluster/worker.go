// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cluster

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/quicpro/quicpro-go/pkg/config"
	"github.com/quicpro/quicpro-go/pkg/qerr"
)

// WorkerSlotEnv carries the slot index into re-executed workers.
const WorkerSlotEnv = "QUICPRO_WORKER_SLOT"

// WorkerSlot reports whether this process is a worker and which slot it
// occupies.
func WorkerSlot() (int, bool) {
	v, ok := os.LookupEnv(WorkerSlotEnv)
	if !ok {
		return 0, false
	}
	slot, err := strconv.Atoi(v)
	if err != nil || slot < 0 {
		return 0, false
	}
	return slot, true
}

type schedParam struct {
	priority int32
}

func schedPolicyNumber(name string) (int, error) {
	switch strings.ToLower(name) {
	case "", "other":
		return 0, nil // SCHED_OTHER
	case "fifo":
		return 1, nil // SCHED_FIFO
	case "rr":
		return 2, nil // SCHED_RR
	default:
		return 0, qerr.Newf(qerr.AffinityFailed, "unknown scheduling policy %q", name)
	}
}

// SetupWorker applies the per-worker runtime settings in the order the
// master promises: affinity, scheduling, rlimits, cgroup, then privilege
// drop last so the earlier steps still run privileged.
func SetupWorker(cfg *config.Cluster, slot int) error {
	if cfg.ShouldSetAffinity() {
		if err := setAffinity(slot); err != nil {
			return err
		}
	}

	if err := setScheduling(cfg); err != nil {
		return err
	}

	if cfg.MaxOpenFiles > 0 {
		limit := &unix.Rlimit{Cur: cfg.MaxOpenFiles, Max: cfg.MaxOpenFiles}
		if err := unix.Setrlimit(unix.RLIMIT_NOFILE, limit); err != nil {
			return qerr.Wrap(qerr.ResourceLimitFailed, "setrlimit nofile", err)
		}
	}

	if cfg.CgroupProcsFile != "" {
		if err := joinCgroup(cfg.CgroupProcsFile); err != nil {
			return err
		}
	}

	// GID before UID; the other order cannot drop the group anymore
	if cfg.GID > 0 {
		if err := unix.Setgid(cfg.GID); err != nil {
			return qerr.Wrap(qerr.PrivilegeDropFailed, "setgid", err)
		}
	}
	if cfg.UID > 0 {
		if err := unix.Setuid(cfg.UID); err != nil {
			return qerr.Wrap(qerr.PrivilegeDropFailed, "setuid", err)
		}
	}

	log.WithFields(log.Fields{
		"slot": slot,
		"pid":  os.Getpid(),
	}).Info("Worker runtime setup complete")

	return nil
}

func setAffinity(slot int) error {
	cpu := slot % runtime.NumCPU()

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return qerr.Wrap(qerr.AffinityFailed, fmt.Sprintf("pin to cpu %d", cpu), err)
	}
	return nil
}

func setScheduling(cfg *config.Cluster) error {
	policy, err := schedPolicyNumber(cfg.SchedPolicy)
	if err != nil {
		return err
	}

	if policy != 0 {
		// realtime policies need a static priority of at least 1
		param := schedParam{priority: 1}
		_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER,
			0, uintptr(policy), uintptr(unsafe.Pointer(&param)))
		if errno != 0 {
			return qerr.Wrap(qerr.AffinityFailed, "sched_setscheduler", errno)
		}
	}

	if cfg.Niceness != 0 {
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, cfg.Niceness); err != nil {
			return qerr.Wrap(qerr.AffinityFailed, "setpriority", err)
		}
	}
	return nil
}

func joinCgroup(procsFile string) error {
	f, err := os.OpenFile(procsFile, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return qerr.Wrap(qerr.ResourceLimitFailed, "open cgroup procs file", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return qerr.Wrap(qerr.ResourceLimitFailed, "join cgroup", err)
	}
	return nil
}

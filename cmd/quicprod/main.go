// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"os"

	"github.com/pkg/profile"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/quicpro/quicpro-go/pkg/cluster"
)

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	cfg, core, err := parseConfig(os.Args[1])
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Failed to parse config")
	}

	if core.Profiling {
		defer profile.Start(profile.ProfilePath(".")).Stop()
	}

	if slot, ok := cluster.WorkerSlot(); ok {
		if err := runWorker(cfg, core, slot); err != nil {
			log.WithFields(log.Fields{
				"slot":  slot,
				"error": err,
			}).Fatal("Worker failed")
		}
		return
	}

	sup := cluster.NewSupervisor(cfg.Cluster, cluster.Hooks{
		OnWorkerStart: func(slot, pid int) {
			log.WithFields(log.Fields{
				"slot": slot,
				"pid":  pid,
			}).Info("Worker started")
		},
		OnWorkerExit: func(slot, pid, exitCode int, sig unix.Signal) {
			log.WithFields(log.Fields{
				"slot":      slot,
				"pid":       pid,
				"exit-code": exitCode,
				"signal":    sig,
			}).Info("Worker exited")
		},
	})

	log.WithField("workers", sup.Workers()).Info("Supervising cluster")
	if err := sup.Run(); err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Supervisor failed")
	}
}

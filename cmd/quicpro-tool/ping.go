// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quicpro/quicpro-go/pkg/mcp"
)

// runPing for the "ping" CLI option: round-trips small payloads through the
// daemon's echo surface.
func runPing(args []string) {
	if len(args) < 1 || len(args) > 2 {
		printUsage()
	}

	count := 4
	if len(args) == 2 {
		c, err := strconv.Atoi(args[1])
		if err != nil || c < 1 {
			printUsage()
		}
		count = c
	}

	client := connect(args[0])
	defer client.Close()

	received := 0
	for seq := 0; seq < count; seq++ {
		payload := []byte(fmt.Sprintf("ping %d", seq))

		start := time.Now()
		resp, err := client.Request(context.Background(), "ping", "ping", payload, mcp.RequestOptions{})
		rtt := time.Since(start)

		if err != nil {
			log.WithFields(log.Fields{
				"seq":   seq,
				"error": err,
			}).Error("Ping errored")
			continue
		}
		if !bytes.Equal(resp, payload) {
			log.WithField("seq", seq).Error("Ping response mismatch")
			continue
		}

		received++
		fmt.Printf("%d bytes from %s: seq=%d time=%v\n", len(resp), args[0], seq, rtt)

		if seq < count-1 {
			time.Sleep(time.Second)
		}
	}

	fmt.Printf("%d packets transmitted, %d received\n", count, received)
	if received == 0 {
		log.Fatal("No ping succeeded")
	}
}

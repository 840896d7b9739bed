// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/quicpro/quicpro-go/pkg/config"
)

// printUsage of quicpro-tool and exit with an error code afterwards.
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage of %s request|upload|download|ping:\n\n", os.Args[0])

	_, _ = fmt.Fprintf(os.Stderr, "%s request host:port service method [-|filename]\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Sends one unary request to /service/method with the stdin (-) or the given\n")
	_, _ = fmt.Fprintf(os.Stderr, "  file as payload, and prints the response body to stdout.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s upload host:port service method -|filename\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Streams the stdin (-) or the given file chunk-wise to /service/method and\n")
	_, _ = fmt.Fprintf(os.Stderr, "  prints the response body to stdout.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s download host:port service method -|filename\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Requests /service/method and writes the streamed response to stdout (-) or\n")
	_, _ = fmt.Fprintf(os.Stderr, "  the given file.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s ping host:port [count]\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Sends count (default 4) echo requests to /ping/ping and reports round-trip\n")
	_, _ = fmt.Fprintf(os.Stderr, "  times.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "Set QUICPRO_INSECURE=1 to skip peer certificate verification.\n")

	os.Exit(1)
}

// parseTarget splits a host:port argument.
func parseTarget(arg string) (string, uint16, error) {
	hostPart, portPart, err := net.SplitHostPort(arg)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.ParseUint(portPart, 10, 16)
	if err != nil {
		return "", 0, err
	}
	return hostPart, uint16(port), nil
}

// toolConfig builds the client configuration, honoring the insecure toggle.
func toolConfig() *config.Config {
	cfg := config.Default()
	if os.Getenv("QUICPRO_INSECURE") == "1" {
		insecure := false
		cfg.Transport.VerifyPeer = &insecure
	}
	return cfg
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
	}

	switch os.Args[1] {
	case "request":
		runRequest(os.Args[2:])

	case "upload":
		runUpload(os.Args[2:])

	case "download":
		runDownload(os.Args[2:])

	case "ping":
		runPing(os.Args[2:])

	default:
		printUsage()
	}
}

// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/quicpro/quicpro-go/pkg/mcp"
)

// readPayload resolves the -|filename payload argument. A missing argument
// means an empty payload.
func readPayload(args []string, index int) []byte {
	if len(args) <= index {
		return nil
	}

	var (
		data []byte
		err  error
	)
	if args[index] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[index])
	}
	if err != nil {
		log.WithError(err).Fatal("Reading input errored")
	}
	return data
}

// connect dials the target from args[0] and returns the client.
func connect(target string) *mcp.Client {
	hostPart, port, err := parseTarget(target)
	if err != nil {
		log.WithError(err).Fatal("Invalid host:port")
	}

	client, err := mcp.Connect(context.Background(), hostPart, port, toolConfig())
	if err != nil {
		log.WithError(err).Fatal("Connecting errored")
	}
	return client
}

// runRequest for the "request" CLI option.
func runRequest(args []string) {
	if len(args) < 3 || len(args) > 4 {
		printUsage()
	}

	payload := readPayload(args, 3)

	client := connect(args[0])
	defer client.Close()

	resp, err := client.Request(context.Background(), args[1], args[2], payload, mcp.RequestOptions{})
	if err != nil {
		log.WithError(err).Fatal("Request errored")
	}

	if _, err := os.Stdout.Write(resp); err != nil {
		log.WithError(err).Fatal("Writing response errored")
	}
}

// runUpload for the "upload" CLI option.
func runUpload(args []string) {
	if len(args) != 4 {
		printUsage()
	}

	var src io.Reader
	if args[3] == "-" {
		src = os.Stdin
	} else {
		f, ferr := os.Open(args[3])
		if ferr != nil {
			log.WithError(ferr).Fatal("Opening input errored")
		}
		defer f.Close()
		src = f
	}

	client := connect(args[0])
	defer client.Close()

	resp, err := client.UploadStream(context.Background(), args[1], args[2], src, mcp.RequestOptions{})
	if err != nil {
		log.WithError(err).Fatal("Upload errored")
	}

	if _, err := os.Stdout.Write(resp); err != nil {
		log.WithError(err).Fatal("Writing response errored")
	}
}

// runDownload for the "download" CLI option.
func runDownload(args []string) {
	if len(args) != 4 {
		printUsage()
	}

	var sink io.Writer
	if args[3] == "-" {
		sink = os.Stdout
	} else {
		f, err := os.Create(args[3])
		if err != nil {
			log.WithError(err).Fatal("Creating output errored")
		}
		defer f.Close()
		sink = f
	}

	client := connect(args[0])
	defer client.Close()

	if _, err := client.DownloadStream(context.Background(), args[1], args[2], nil, sink, mcp.RequestOptions{}); err != nil {
		log.WithError(err).Fatal("Download errored")
	}
}

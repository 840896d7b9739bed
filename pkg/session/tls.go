// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/quicpro/quicpro-go/pkg/config"
	"github.com/quicpro/quicpro-go/pkg/qerr"
)

// clientTLSConfig builds the TLS 1.3 config for a dialing session. The
// session cache both enables 0-RTT resumption and feeds captured tickets
// into the ring.
func clientTLSConfig(tr *config.Transport, sni string, cache tls.ClientSessionCache) (*tls.Config, error) {
	tlsConf := &tls.Config{
		MinVersion:         tls.VersionTLS13,
		NextProtos:         append([]string(nil), tr.ALPN...),
		ServerName:         sni,
		InsecureSkipVerify: !tr.ShouldVerifyPeer(),
		ClientSessionCache: cache,
	}

	if tr.CAFile != "" {
		pem, err := os.ReadFile(tr.CAFile)
		if err != nil {
			return nil, qerr.Wrap(qerr.CaLoadFailed, "reading CA file", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, qerr.Newf(qerr.CaLoadFailed, "no certificates in %s", tr.CAFile)
		}
		tlsConf.RootCAs = pool
	}

	if tr.CertFile != "" || tr.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tr.CertFile, tr.KeyFile)
		if err != nil {
			return nil, qerr.Wrap(qerr.ClientCertLoadFailed, "loading client key pair", err)
		}
		tlsConf.Certificates = []tls.Certificate{cert}
	}

	return tlsConf, nil
}

// serverTLSConfig builds the TLS config for the accept path.
func serverTLSConfig(tr *config.Transport) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(tr.CertFile, tr.KeyFile)
	if err != nil {
		return nil, qerr.Wrap(qerr.ClientCertLoadFailed, "loading server key pair", err)
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		NextProtos:   append([]string(nil), tr.ALPN...),
		Certificates: []tls.Certificate{cert},
	}, nil
}

// quicConfig translates the transport bundle into the QUIC library's knobs.
func quicConfig(tr *config.Transport) *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:                 time.Duration(tr.MaxIdleTimeoutMs) * time.Millisecond,
		KeepAlivePeriod:                time.Duration(tr.MaxIdleTimeoutMs) * time.Millisecond / 2,
		InitialStreamReceiveWindow:     tr.InitialMaxStream,
		MaxStreamReceiveWindow:         tr.InitialMaxStream * 4,
		InitialConnectionReceiveWindow: tr.InitialMaxData,
		MaxConnectionReceiveWindow:     tr.InitialMaxData * 4,
		MaxIncomingStreams:             int64(tr.MaxStreamsBidi),
		MaxIncomingUniStreams:          int64(tr.MaxStreamsUni),
		EnableDatagrams:                tr.EnableDatagrams,
		Allow0RTT:                      tr.TicketsEnabled(),
	}
}

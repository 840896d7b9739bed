// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// parseTimestamping extracts the software receive timestamp from the
// SCM_TIMESTAMPING_NEW control message. The payload is three
// __kernel_timespec structs; index 0 carries the software stamp.
func parseTimestamping(oob []byte) (time.Time, bool) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return time.Time{}, false
	}

	for _, msg := range msgs {
		if msg.Header.Level != unix.SOL_SOCKET || msg.Header.Type != unix.SO_TIMESTAMPING_NEW {
			continue
		}
		if len(msg.Data) < 16 {
			continue
		}
		sec := int64(binary.LittleEndian.Uint64(msg.Data[0:8]))
		nsec := int64(binary.LittleEndian.Uint64(msg.Data[8:16]))
		if sec == 0 && nsec == 0 {
			continue
		}
		return time.Unix(sec, nsec), true
	}

	return time.Time{}, false
}

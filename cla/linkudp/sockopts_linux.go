// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux
// +build linux

package linkudp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// listenControl sets socket options on the listening UDP socket before
// bind, the way _examples/dtn7-dtn7-gold/pkg/cla/mtcp's dialControl tunes
// its TCP connections: SO_REUSEADDR lets the discovery and data sockets on
// different nodes in a test namespace share a port, and SO_BROADCAST
// allows the data socket to also be used for a broadcast fallback when no
// multicast route exists.
func listenControl(_, _ string, rawConn syscall.RawConn) (err error) {
	opts := map[int]int{
		unix.SO_REUSEADDR: 1,
		unix.SO_BROADCAST: 1,
	}

	ctrlErr := rawConn.Control(func(fd uintptr) {
			for opt, value := range opts {
				if err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt, value); err != nil {
					return
				}
			}
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return err
}

// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !linux
// +build !linux

package linkudp

import "syscall"

// listenControl on operating systems next to Linux leaves the socket
// options at their defaults; the Linux build additionally sets
// SO_REUSEADDR and SO_BROADCAST.
func listenControl(_, _ string, _ syscall.RawConn) error {
	return nil
}

// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package platform declares the contracts between this agent and the
// hardware it runs on: a clock, a raw-frame link driver, a block device
// for persistent storage, a node-identity source and a coarse timer.
// The agent never touches hardware directly; board bring-up code hands a
// Board to the daemon and every subsystem works against these interfaces.
// The in-repo implementations are the in-memory fakes used by tests and
// the host-side daemon; flash, FAT and radio drivers live with the board
// support packages, outside this module.
package platform

import "time"

// Clock is the process-wide time source: a monotonic tick counter with a
// known rate, a DTN wall clock, and a quality flag saying whether that
// wall clock can be trusted. It satisfies bundle.Clock.
type Clock interface {
	// Ticks returns a monotonically increasing local tick counter.
	Ticks() uint64
	// TickHz is the rate, in ticks per second, of Ticks.
	TickHz() uint64
	// Good reports whether DTNTime is currently trustworthy.
	Good() bool
	// DTNTime returns the current DTN-epoch wall time as whole seconds
	// plus a microsecond remainder. Only meaningful when Good is true.
	DTNTime() (seconds uint64, micros uint64)
}

// LinkDriver delivers and sends raw link frames. cla/link154.Modem is the
// radio-flavoured refinement of this contract; the UDP adapter owns its
// sockets directly and does not need one.
type LinkDriver interface {
	// Mtu is the largest frame Send accepts.
	Mtu() int
	// Send transmits one raw frame.
	Send(frame []byte) error
	// Receive blocks until the next inbound frame. The driver must copy
	// out of any interrupt-context buffer before returning; the returned
	// slice belongs to the caller.
	Receive() ([]byte, error)
	Close() error
}

// BlockDevice is the persistent-storage contract a filesystem or flash
// driver fulfils. The storage package's file-backed store uses the host
// filesystem instead; this interface exists for boards whose storage
// driver is raw pages.
type BlockDevice interface {
	BlockSize() int
	BlockCount() int
	ReadBlock(index int, dst []byte) error
	WriteBlock(index int, src []byte) error
	EraseBlock(index int) error
}

// NodeIdentitySource yields the node id exactly once at start, derived
// from the link-layer address.
type NodeIdentitySource interface {
	NodeID() (uint64, error)
}

// Timer is the coarse process/timer primitive: a channel that fires after
// d, cancellable by dropping the returned stop function.
type Timer interface {
	After(d time.Duration) (fire <-chan time.Time, stop func())
}

// Board bundles the five environment inputs a node is constructed from.
// Link may be nil on UDP-only nodes, Block may be nil when storage is
// file-backed.
type Board struct {
	Clock Clock
	Link LinkDriver
	Block BlockDevice
	Identity NodeIdentitySource
	Timer Timer
}

// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cla implements the segmenting datagram convergence layer: a
// link-agnostic Core that owns the ticket queue, segmentation and
// reassembly state machine, per-peer blocking, and the ~10 Hz timeout
// sweep, driving one LinkAdapter per physical link (cla/link154,
// cla/linkudp).
//
// Core depends on routing.Table directly (Sent/CheckKeepBundle/
// LocallyDelivered are its own methods), and routing depends back on cla
// only through the small CLQueue interface it declares itself -- so
// routing never imports this package, avoiding an import cycle across the
// agent/routing/CL/storage cluster.
package cla

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/udtn/bundle"
	"github.com/dtn7/udtn/routing"
)

type claError struct{ msg string }

func (e claError) Error() string { return e.msg }

var (
	// ErrQueueFull is returned by SendBundle when the ticket queue has no
	// room for another NORMAL-priority ticket.
	ErrQueueFull = claError{"cla: ticket queue full"}

	// ErrTransmissionFailure names a failed transmission. No function in
	// this package returns it; a ticket that exhausts its retries is
	// reported to routing as OutcomeFAIL.
	ErrTransmissionFailure = claError{"cla: transmission failed"}
)

// SegmentFlags mark a data segment's position. A NACK
// additionally borrows SegFirst to mean "temporary".
type SegmentFlags uint8

const (
	SegFirst SegmentFlags = 0x02
	SegLast SegmentFlags = 0x01
)

// Has reports whether all bits of flag are set in f.
func (f SegmentFlags) Has(flag SegmentFlags) bool { return f&flag == flag }

// AckType distinguishes an ACK from a (possibly temporary) NACK.
type AckType uint8

const (
	AckTypeAck AckType = iota
	AckTypeNack
	AckTypeNackTemporary
)

// Priority selects a ticket's place in the queue.
type Priority uint8

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// FrameKind distinguishes the three things a link adapter can hand Core
// back from Input.
type FrameKind int

const (
	FrameData FrameKind = iota
	FrameAck
	FrameDiscovery
)

// Frame is one fully header-parsed inbound unit. Each adapter owns its own
// wire header (1 byte for 802.15.4, 2 bytes for UDP) and is responsible for
// decoding it into this uniform shape before handing it to Core.
type Frame struct {
	Kind FrameKind
	Peer uint64
	Seq uint32
	SegFlags SegmentFlags
	AckType AckType
	Payload []byte

	// Addr is the transport-level source address of a discovery frame,
	// where the adapter has one (the UDP adapter does, the radio adapter
	// does not). Discovery uses it to teach the adapter a node->address
	// mapping once the beacon names its sender.
	Addr string

	RSSI int8
	HasRSSI bool
}

// LinkAdapter is the uniform vtable every physical link implements:
// 802.15.4 (cla/link154) and UDP (cla/linkudp) each provide one. Input
// blocks for the next inbound frame, mirroring the blocking Receive shape
// of a serial packet radio; Core runs one RX goroutine per adapter that
// loops on Input and dispatches by Frame.Kind.
type LinkAdapter interface {
	Init() error
	MaxPayloadLength() int
	NextSeqno(last uint32) uint32
	SendDiscovery(payload []byte) error
	SendBundle(peer uint64, seq uint32, flags SegmentFlags, payload []byte) error
	SendAck(peer uint64, seq uint32, ackType AckType) error
	Input() (*Frame, error)
}

// Ticket is the CL transmit/receive bookkeeping record.
type Ticket struct {
	Neighbour uint64
	BundleNumber uint32
	SequenceNumber uint32
	Flags TicketFlags
	Priority Priority

	Tries int
	FailedTries int

	OffsetSent int
	OffsetAcked int

	Buffer []byte

	Timestamp time.Time
}

// TicketFlags are a Ticket's state bits.
type TicketFlags uint16

const (
	TicketActive TicketFlags = 1 << iota
	TicketInTransit
	TicketAckPend
	TicketDone
	TicketFail
	TicketMultipart
	TicketMultipartRecv
)

// Has reports whether all bits of flag are set in f.
func (f TicketFlags) Has(flag TicketFlags) bool { return f&flag == flag }

// Default tuning constants.
const (
	DefaultQueueCapacity = 10
	DefaultReserveFrac = 0.2
	DefaultRetries = 5
	DefaultFailedRetries = 3
	DefaultCLTimeout = 5 * time.Second
	DefaultMultipartTimeout = 10 * time.Second
	DefaultNoSendBackoff = time.Millisecond
)

// Core is the link-agnostic convergence-layer engine.
type Core struct {
	mu sync.Mutex
	adapter LinkAdapter
	rt *routing.Table
	store routing.Store
	clock bundle.Clock

	queue *ticketQueue

	blocked map[uint64]time.Time
	lastSeqSeen map[uint64]uint32

	nextSeqno uint32

	// onBundle hands a fully reassembled, decoded bundle to the dispatcher
	// (core.Dispatch) and returns the ACK type the sending peer should
	// see: a plain ACK on success or silent duplicate, a temporary NACK
	// when the node is briefly out of room, a permanent NACK otherwise.
	// It is set by the agent during wiring.
	onBundle func(peer uint64, rssi int8, hasRSSI bool, b *bundle.Bundle) AckType

	// onDiscovery hands an inbound discovery beacon frame to the discovery
	// package. It is set by the agent during wiring.
	onDiscovery func(f *Frame)

	// onForwarded reports a bundle successfully handed to a peer, so the
	// agent can emit a forwarded status report where the bundle asked for
	// one. Optional.
	onForwarded func(bundleNumber uint32, peer uint64)

	retries int
	failedRetries int
	clTimeout time.Duration
	multipartTimeout time.Duration
}

// NewCore creates a Core driving adapter, reporting outcomes to rt, reading
// bundles to send from store, and handing reassembled bundles to onBundle.
func NewCore(adapter LinkAdapter, rt *routing.Table, store routing.Store, clock bundle.Clock, onBundle func(peer uint64, rssi int8, hasRSSI bool, b *bundle.Bundle) AckType) *Core {
	return &Core{
		adapter: adapter,
		rt: rt,
		store: store,
		clock: clock,
		queue: newTicketQueue(DefaultQueueCapacity, DefaultReserveFrac),
		blocked: make(map[uint64]time.Time),
		lastSeqSeen: make(map[uint64]uint32),
		onBundle: onBundle,
		retries: DefaultRetries,
		failedRetries: DefaultFailedRetries,
		clTimeout: DefaultCLTimeout,
		multipartTimeout: DefaultMultipartTimeout,
	}
}

// SendBundle enqueues a NORMAL-priority forward ticket for bundleNumber
// toward neighbour, satisfying the routing.CLQueue send_bundle entry point.
func (c *Core) SendBundle(neighbour uint64, bundleNumber uint32) error {
	t := &Ticket{
		Neighbour: neighbour,
		BundleNumber: bundleNumber,
		Flags: TicketActive,
		Priority: PriorityNormal,
		Timestamp: time.Now(),
	}
	return c.queue.push(t, PriorityNormal)
}

// isBlocked reports whether peer currently has an in-flight ACK_PEND
// ticket: per-peer only one bundle may be in the ACK_PEND phase.
func (c *Core) isBlocked(peer uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.blocked[peer]
	return ok
}

func (c *Core) block(peer uint64) {
	c.mu.Lock()
	c.blocked[peer] = time.Now()
	c.mu.Unlock()
}

func (c *Core) unblock(peer uint64) {
	c.mu.Lock()
	delete(c.blocked, peer)
	c.mu.Unlock()
}

// allocSeqnos reserves n consecutive seqnos from the adapter's global
// counter.
func (c *Core) allocSeqnos(n int) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	first := c.adapter.NextSeqno(c.nextSeqno)
	c.nextSeqno = first + uint32(n) - 1
	return first
}

// SetDiscoveryHandler wires the callback discovery beacons are handed to.
func (c *Core) SetDiscoveryHandler(f func(f *Frame)) {
	c.onDiscovery = f
}

// SetForwardedHandler wires the callback invoked after a bundle has been
// fully acknowledged by a peer.
func (c *Core) SetForwardedHandler(f func(bundleNumber uint32, peer uint64)) {
	c.onForwarded = f
}

// RunRX starts the adapter's blocking receive loop in a goroutine, feeding
// every inbound frame to IncomingFrame. Stop by having the adapter's Input
// return an error (e.g. on Close).
func (c *Core) RunRX() {
	go func() {
		for {
			f, err := c.adapter.Input()
			if err != nil {
				log.WithError(err).Warn("cla: adapter RX loop stopped")
				return
			}
			c.IncomingFrame(f)
		}
	}()
}

// IncomingFrame is the entry point link adapters call with every received
// frame, dispatching by Frame.Kind to the data, ACK/NACK or discovery
// handling path.
func (c *Core) IncomingFrame(f *Frame) {
	switch f.Kind {
		case FrameData:
			c.ParseDataframe(f.Peer, f.Seq, f.SegFlags, f.Payload, f.RSSI, f.HasRSSI)
		case FrameAck:
			c.ParseAckframe(f.Peer, f.Seq, f.AckType)
		case FrameDiscovery:
			if c.onDiscovery != nil {
				c.onDiscovery(f)
			}
	}
}

// PurgeBundle drops every transmit ticket referencing bundle number n,
// called when storage has deleted the bundle so no stale ticket tries to
// read it back.
func (c *Core) PurgeBundle(n uint32) {
	for _, t := range c.queue.list() {
		if t.BundleNumber == n && !t.Flags.Has(TicketMultipartRecv) {
			c.queue.remove(t)
		}
	}
}

// NeighbourDown drains every ticket on peer, reporting transmit tickets
// to routing as FAIL, dropping any MULTIPART_RECV ticket, and clearing
// block state.
func (c *Core) NeighbourDown(peer uint64) {
	for _, t := range c.queue.list() {
		if t.Neighbour != peer {
			continue
		}
		c.queue.remove(t)
		if t.Flags.Has(TicketMultipartRecv) {
			continue
		}
		c.rt.Sent(t.BundleNumber, peer, routing.OutcomeFAIL)
	}
	c.unblock(peer)
}

// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package routing implements the flooding and chain routing variants:
// per-bundle routing entries, a work cycle that attempts local delivery
// and per-neighbour forwarding, and a strike-based blacklist that tells
// discovery a peer is dead after repeated failures.
//
// Cross-subsystem calls go through small local interfaces (Store,
// Registrations, Neighbours, CLQueue, DeadNotifier) rather than importing
// the cla and discovery packages directly, so that cla (which must call
// back into routing on ticket outcomes) can depend on this package without
// creating an import cycle.
package routing

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/udtn/bundle"
	"github.com/dtn7/udtn/registration"
)

// Flags are a routing entry's per-bundle state bits.
type Flags uint8

const (
	Local Flags = 1 << iota
	Forward
	InDelivery
	InTransit
)

// Has reports whether all bits of flag are set in f.
func (f Flags) Has(flag Flags) bool { return f&flag == flag }

// SentToCap bounds how many neighbour addresses an Entry remembers before
// it stops tracking individual recipients.
const SentToCap = 3

// Entry is the per-bundle routing record.
type Entry struct {
	BundleNumber uint32
	Flags Flags
	SentTo []uint64
	DestinationNode uint64
	SourceNode uint64
	ReceivedFromNode uint64
}

// Outcome is the result a CL ticket reports back to routing via Sent.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeNACK
	OutcomeTempNACK
	OutcomeFAIL
	OutcomeERROR
)

type routingError struct{ msg string }

func (e routingError) Error() string { return e.msg }

var (
	// ErrAlreadyTracked is returned by NewBundle for a bundle number already
	// under routing.
	ErrAlreadyTracked = routingError{"routing: bundle already tracked"}
)

// Store is the storage.Store subset routing needs: reading a locally
// deliverable bundle and deleting one whose routing entry has cleared.
type Store interface {
	Read(n uint32) (*bundle.Bundle, error)
	Delete(n uint32, reason bundle.DeleteReason) error
}

// Registrations is the registration.Table subset routing needs for local
// delivery attempts.
type Registrations interface {
	Lookup(nodeID, appID uint64) (*registration.Registration, bool)
	Deliver(myNode uint64, b *bundle.Bundle) (*registration.Registration, error)
}

// Neighbours reports the current discovery neighbour set, satisfied by
// discovery.Table.
type Neighbours interface {
	IsNeighbour(node uint64) bool
	Neighbours() []uint64
}

// CLQueue enqueues a NORMAL-priority forward ticket, satisfied by
// cla.Core.SendBundle. A non-nil error (queue full or otherwise) stops the
// current work cycle.
type CLQueue interface {
	SendBundle(neighbour uint64, bundleNumber uint32) error
}

// DeadNotifier tells discovery a peer should be dropped, satisfied by
// discovery.Table.MarkDead.
type DeadNotifier interface {
	MarkDead(node uint64)
}

// Table is the process-wide routing table. The flooding variant visits
// every eligible neighbour; ChainTable overrides neighbourFilter for the
// directional chain variant.
type Table struct {
	mu sync.Mutex
	myNode uint64
	entries map[uint32]*Entry
	wake chan struct{}

	store Store
	regs Registrations
	neighbours Neighbours
	clq CLQueue

	blacklist *Blacklist
	blacklistEnabled bool
	deadNotifier DeadNotifier

	// neighbourFilter additionally restricts which neighbours a FORWARD
	// entry may be handed to beyond the base exclusions (source, received-
	// from, already-sent-to). The flooding variant accepts every neighbour;
	// ChainTable installs the "up"/"down" filter.
	neighbourFilter func(myNode, candidate uint64, e *Entry) bool
}

// NewTable creates an empty flooding routing table for myNode.
func NewTable(myNode uint64, store Store, regs Registrations, neighbours Neighbours, clq CLQueue) *Table {
	return &Table{
		myNode: myNode,
		entries: make(map[uint32]*Entry),
		wake: make(chan struct{}, 1),
		store: store,
		regs: regs,
		neighbours: neighbours,
		clq: clq,
		blacklist: NewBlacklist(DefaultBlacklistThreshold),
		blacklistEnabled: true,
		neighbourFilter: func(uint64, uint64, *Entry) bool { return true },
	}
}

// SetDeadNotifier wires the discovery table this routing table tells about
// blacklisted peers.
func (t *Table) SetDeadNotifier(n DeadNotifier) {
	t.deadNotifier = n
}

// Wake returns a channel that receives a value whenever a work cycle
// should be reconsidered: a new bundle, a ticket outcome, or a completed
// local delivery.
func (t *Table) Wake() <-chan struct{} {
	return t.wake
}

func (t *Table) wakeUp() {
	select {
		case t.wake <- struct{}{}:
		default:
	}
}

// NewBundle allocates a routing entry for a bundle storage just accepted.
// isSingleton comes from the bundle's control flags (bundle.IsSingleton).
func (t *Table) NewBundle(n uint32, dest, src bundle.EndpointID, receivedFrom uint64, isSingleton bool) error {
	t.mu.Lock()
	if _, ok := t.entries[n]; ok {
		t.mu.Unlock()
		return ErrAlreadyTracked
	}

	e := &Entry{
		BundleNumber: n,
		DestinationNode: dest.Node,
		SourceNode: src.Node,
		ReceivedFromNode: receivedFrom,
	}
	if dest.Node == t.myNode {
		e.Flags |= Local
	}
	if dest.Node != t.myNode {
		e.Flags |= Forward
	}
	if !isSingleton {
		e.Flags |= Forward
	}
	if _, ok := t.regs.Lookup(dest.Node, dest.Service); ok && dest.Node != t.myNode {
		e.Flags |= Local | Forward
	}

	t.entries[n] = e
	t.mu.Unlock()

	log.WithFields(log.Fields{"bundle": n, "dest": dest, "flags": e.Flags}).Debug("routing: new bundle")
	t.wakeUp()
	return nil
}

// WorkCycle iterates every tracked entry once, attempting local delivery
// for LOCAL entries and forwarding for FORWARD ones. It returns early, to be
// retried on the next wake, if the CL ticket queue reports full.
func (t *Table) WorkCycle() {
	t.mu.Lock()
	snapshot := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		snapshot = append(snapshot, e)
	}
	t.mu.Unlock()

	for _, e := range snapshot {
		t.mu.Lock()
		flags := e.Flags
		t.mu.Unlock()

		if flags.Has(Local) && !flags.Has(InDelivery) {
			t.attemptDelivery(e)
		}

		t.mu.Lock()
		flags = e.Flags
		t.mu.Unlock()

		if flags.Has(Forward) && !flags.Has(InTransit) {
			if !t.attemptForward(e) {
				return
			}
		}
	}
}

func (t *Table) attemptDelivery(e *Entry) {
	b, err := t.store.Read(e.BundleNumber)
	if err != nil {
		log.WithError(err).WithField("bundle", e.BundleNumber).Warn("routing: local bundle missing from storage")
		return
	}
	defer b.Release()

	if _, err := t.regs.Deliver(t.myNode, b); err != nil {
		log.WithError(err).WithField("bundle", e.BundleNumber).Debug("routing: local delivery deferred")
		return
	}

	// The receiving task now holds the bundle until it signals
	// processing_finished; its reference must outlive our Read.
	_ = b.Retain()

	t.mu.Lock()
	e.Flags |= InDelivery
	t.mu.Unlock()
}

// attemptForward tries to hand e off to one eligible neighbour, returning
// false if the CL queue reported full (the caller should stop the cycle).
func (t *Table) attemptForward(e *Entry) bool {
	if t.neighbours.IsNeighbour(e.DestinationNode) {
		return t.ticket(e, e.DestinationNode)
	}

	for _, nb := range t.neighbours.Neighbours() {
		if nb == e.SourceNode || nb == e.ReceivedFromNode {
			continue
		}
		if containsNode(e.SentTo, nb) {
			continue
		}
		if !t.neighbourFilter(t.myNode, nb, e) {
			continue
		}
		return t.ticket(e, nb)
	}
	return true
}

func (t *Table) ticket(e *Entry, neighbour uint64) bool {
	if err := t.clq.SendBundle(neighbour, e.BundleNumber); err != nil {
		log.WithError(err).Debug("routing: CL queue full, stopping work cycle")
		return false
	}

	t.mu.Lock()
	e.Flags |= InTransit
	t.mu.Unlock()
	return true
}

// Sent updates the routing entry for bundleNumber with a CL ticket's
// outcome.
func (t *Table) Sent(bundleNumber uint32, neighbour uint64, outcome Outcome) {
	t.mu.Lock()
	e, ok := t.entries[bundleNumber]
	if !ok {
		t.mu.Unlock()
		return
	}

	switch outcome {
		case OutcomeOK:
			if len(e.SentTo) < SentToCap {
				e.SentTo = append(e.SentTo, neighbour)
			}
			e.Flags &^= InTransit
			if neighbour == e.DestinationNode || len(e.SentTo) >= SentToCap {
				e.Flags &^= Forward
			}
			t.mu.Unlock()

		case OutcomeNACK, OutcomeFAIL:
			e.Flags &^= InTransit
			t.mu.Unlock()

			if t.blacklistEnabled && t.blacklist.Strike(neighbour) {
				if t.deadNotifier != nil {
					t.deadNotifier.MarkDead(neighbour)
				}
				t.blacklist.Clear(neighbour)
			}

		case OutcomeERROR:
			e.Flags = 0
			t.mu.Unlock()
			if err := t.store.Delete(bundleNumber, bundle.ReasonUnroutable); err != nil {
				log.WithError(err).WithField("bundle", bundleNumber).Debug("routing: delete on ERROR outcome failed")
			}

		case OutcomeTempNACK:
			// Left ACTIVE to be retried by CL.
			t.mu.Unlock()
	}

	t.CheckKeepBundle(bundleNumber)
	t.wakeUp()
}

// LocallyDelivered is called by a service task once it has consumed a
// bundle delivered to it locally.
func (t *Table) LocallyDelivered(n uint32) {
	t.mu.Lock()
	e, ok := t.entries[n]
	if !ok {
		t.mu.Unlock()
		return
	}
	e.Flags &^= InDelivery | Local
	if len(e.SentTo) < SentToCap {
		e.SentTo = append(e.SentTo, t.myNode)
	}
	t.mu.Unlock()

	t.CheckKeepBundle(n)
	t.wakeUp()
}

// CheckKeepBundle requests storage deletion, with reason DELIVERED, once
// an entry has neither LOCAL nor FORWARD set.
func (t *Table) CheckKeepBundle(n uint32) {
	t.mu.Lock()
	e, ok := t.entries[n]
	if !ok {
		t.mu.Unlock()
		return
	}
	done := !e.Flags.Has(Local) && !e.Flags.Has(Forward)
	t.mu.Unlock()

	if !done {
		return
	}

	if err := t.store.Delete(n, bundle.ReasonDelivered); err != nil {
		log.WithError(err).WithField("bundle", n).Debug("routing: delete on keep-check failed")
	}

	t.mu.Lock()
	delete(t.entries, n)
	t.mu.Unlock()
}

// NewNeighbour wakes the work cycle after discovery reports a fresh
// neighbour, so waiting FORWARD entries get another forwarding attempt.
func (t *Table) NewNeighbour(node uint64) {
	log.WithField("node", node).Debug("routing: new neighbour")
	t.wakeUp()
}

// Purge drops the routing entry for bundleNumber without touching storage,
// called when storage itself already removed the bundle (expiry, eviction
// or an administrative delete).
func (t *Table) Purge(bundleNumber uint32) {
	t.mu.Lock()
	delete(t.entries, bundleNumber)
	t.mu.Unlock()
}

// Entries returns a snapshot of every tracked routing entry, for the debug
// endpoint and tests.
func (t *Table) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	return out
}

func containsNode(list []uint64, n uint64) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}

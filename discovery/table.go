// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// NeighbourTimeout is the default age past which a neighbour not refreshed
// by a new beacon is considered gone.
const NeighbourTimeout = 25 * time.Second

// neighbourEntry is one Table row, keyed by node id: when the node was last
// seen and the sequence number of its last beacon. lastSeq is recorded but
// not read; the table's aging does not depend on it.
type neighbourEntry struct {
	lastSeen time.Time
	lastSeq uint16
}

// DeadHandler is notified when Sweep ages a neighbour out. It is how
// cla.Core learns to fail pending tickets for that peer; routing.Table
// clears its own blacklist entry when it reports a peer dead.
type DeadHandler func(node uint64)

// Table tracks currently-visible neighbours from their beacons, aging an
// entry out after Timeout without a refresh. It satisfies routing.Neighbours
// (IsNeighbour/Neighbours) and is itself satisfied as a routing.DeadNotifier
// target by routing.Table.SetDeadNotifier, since MarkDead lets any other
// component report a peer as unreachable without waiting for the timeout.
type Table struct {
	mu sync.Mutex

	myNode uint64
	timeout time.Duration
	neighbours map[uint64]*neighbourEntry

	onDead []DeadHandler
}

// NewTable creates an empty neighbour table for myNode using the default
// NeighbourTimeout.
func NewTable(myNode uint64) *Table {
	return &Table{
		myNode: myNode,
		timeout: NeighbourTimeout,
		neighbours: make(map[uint64]*neighbourEntry),
	}
}

// SetTimeout overrides the default neighbour aging window.
func (t *Table) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = d
}

// OnDead registers a handler invoked whenever Sweep or MarkDead drops a
// neighbour. Multiple handlers may be registered.
func (t *Table) OnDead(h DeadHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDead = append(t.onDead, h)
}

// Observe records or refreshes a neighbour from a beacon received at now.
// A beacon from ourself is ignored.
func (t *Table) Observe(b Beacon, now time.Time) {
	if b.EID.Node == t.myNode || b.EID.Node == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, known := t.neighbours[b.EID.Node]
	if !known {
		e = &neighbourEntry{}
		t.neighbours[b.EID.Node] = e
		log.WithField("node", b.EID.Node).Debug("discovery: new neighbour")
	}
	e.lastSeen = now
	e.lastSeq = b.SeqNo
}

// Sweep drops every neighbour not refreshed within the timeout as of now,
// invoking every registered DeadHandler for each one dropped.
func (t *Table) Sweep(now time.Time) {
	t.mu.Lock()
	var dead []uint64
	for node, e := range t.neighbours {
		if now.Sub(e.lastSeen) > t.timeout {
			dead = append(dead, node)
			delete(t.neighbours, node)
		}
	}
	handlers := append([]DeadHandler(nil), t.onDead...)
	t.mu.Unlock()

	for _, node := range dead {
		log.WithField("node", node).Debug("discovery: neighbour timed out")
		for _, h := range handlers {
			h(node)
		}
	}
}

// MarkDead immediately drops node, as though it had just timed out. A
// routing.DeadNotifier can call this the moment the convergence layer gives
// up on a peer, rather than waiting out the full timeout.
func (t *Table) MarkDead(node uint64) {
	t.mu.Lock()
	_, known := t.neighbours[node]
	delete(t.neighbours, node)
	handlers := append([]DeadHandler(nil), t.onDead...)
	t.mu.Unlock()

	if !known {
		return
	}
	for _, h := range handlers {
		h(node)
	}
}

// IsNeighbour reports whether node is currently tracked as visible.
func (t *Table) IsNeighbour(node uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.neighbours[node]
	return ok
}

// Neighbours returns the currently visible neighbour node ids.
func (t *Table) Neighbours() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uint64, 0, len(t.neighbours))
	for node := range t.neighbours {
		out = append(out, node)
	}
	return out
}

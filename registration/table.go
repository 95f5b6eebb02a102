// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package registration implements the local-service registration table
// and at-most-one-in-flight delivery: a registration maps a local
// service endpoint to a receiving task, and Deliver hands a bundle to
// one registration at a time, blocking further deliveries to the same
// service until the task signals it is done.
package registration

import (
	"sync"

	"github.com/dtn7/udtn/bundle"
)

// Status is a registration's activity mode.
type Status uint8

const (
	Active Status = iota
	Passive
)

// regError is this package's sentinel error type.
type regError struct{ msg string }

func (e regError) Error() string { return e.msg }

// ErrUnregistered is returned by Deliver when no registration matches the
// bundle's destination service.
var ErrUnregistered = regError{"registration: no matching registration"}

// ErrBusy is returned by Deliver when the matching registration already
// has a bundle in flight.
var ErrBusy = regError{"registration: service busy"}

// key identifies one registration by node and service/app id.
type key struct {
	node uint64
	app uint64
}

// Registration is {node_id, app_id, task_handle, status, busy}. Inbox is
// the task's receiving channel; Deliver posts at most one bundle to it
// before Busy blocks further deliveries.
type Registration struct {
	NodeID uint64
	AppID uint64
	Status Status
	Inbox chan *bundle.Bundle

	busy bool
}

// IsLocal reports whether this registration's node id matches myNode.
func (r *Registration) IsLocal(myNode uint64) bool {
	return r.NodeID == myNode
}

// Table is the process-wide registration table.
type Table struct {
	mu sync.Mutex
	regs map[key]*Registration
}

// NewTable creates an empty registration table.
func NewTable() *Table {
	return &Table{regs: make(map[key]*Registration)}
}

// Register adds a registration for (nodeID, appID) with the given inbox
// channel and status. A second Register call for the same (nodeID, appID)
// is not an error: it returns the existing registration.
func (t *Table) Register(nodeID, appID uint64, status Status, inbox chan *bundle.Bundle) *Registration {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{nodeID, appID}
	if r, ok := t.regs[k]; ok {
		return r
	}

	r := &Registration{NodeID: nodeID, AppID: appID, Status: status, Inbox: inbox}
	t.regs[k] = r
	return r
}

// Deregister removes the registration for (nodeID, appID), if any.
func (t *Table) Deregister(nodeID, appID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.regs, key{nodeID, appID})
}

// Lookup returns the registration for (nodeID, appID), if any.
func (t *Table) Lookup(nodeID, appID uint64) (*Registration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.regs[key{nodeID, appID}]
	return r, ok
}

// Deliver hands b to the first active, non-busy registration on myNode
// matching b's destination service, marking it busy and posting b to its
// inbox. ErrUnregistered is returned if no such registration exists;
// ErrBusy if the only match already has a bundle in flight.
func (t *Table) Deliver(myNode uint64, b *bundle.Bundle) (*Registration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dst := b.Destination()
	var candidate *Registration
	for _, r := range t.regs {
		if r.NodeID != myNode || r.AppID != dst.Service || r.Status != Active {
			continue
		}
		candidate = r
		if !r.busy {
			break
		}
	}

	if candidate == nil {
		return nil, ErrUnregistered
	}
	if candidate.busy {
		return nil, ErrBusy
	}

	// Non-blocking post: a task whose inbox is full is as busy as one that
	// has not signalled processing_finished yet.
	select {
		case candidate.Inbox <- b:
			candidate.busy = true
			return candidate, nil
		default:
			return nil, ErrBusy
	}
}

// SetStatus switches the registration for (nodeID, appID) between Active
// and Passive.
func (t *Table) SetStatus(nodeID, appID uint64, status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.regs[key{nodeID, appID}]; ok {
		r.Status = status
	}
}

// UnblockService clears the busy flag on (nodeID, appID), called by the
// receiving task when it signals processing_finished.
func (t *Table) UnblockService(nodeID, appID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.regs[key{nodeID, appID}]; ok {
		r.busy = false
	}
}

// Busy reports whether the registration for (nodeID, appID) has a bundle
// in flight.
func (t *Table) Busy(nodeID, appID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.regs[key{nodeID, appID}]; ok {
		return r.busy
	}
	return false
}

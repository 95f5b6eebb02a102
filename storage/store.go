// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package storage implements the persistent, slot-addressed bundle store:
// bundles are keyed by their 32-bit bundle number, pruned
// of expired entries before every insertion, and -- if still full -- offer
// their occupants up to a pluggable eviction policy. Two implementations
// share this bookkeeping: an in-memory store for tests and simulation, and
// a badgerhold/file-backed store for persistent nodes.
package storage

import (
	"time"

	"github.com/dtn7/udtn/bundle"
	"github.com/dtn7/udtn/bundleslot"
)

// storageError is this package's sentinel error type.
type storageError struct{ msg string }

func (e storageError) Error() string { return e.msg }

var (
	// ErrNoRoom is returned by Save when prune-then-evict could not free a
	// slot before the wait-for-deletion timeout elapsed.
	ErrNoRoom = storageError{"storage: no room"}

	// ErrNotFound is returned by Read, Delete, Lock and Unlock for an
	// unknown bundle number.
	ErrNotFound = storageError{"storage: bundle not found"}

	// ErrCorruption is returned by Read (or surfaced during Reinit) when a
	// stored bundle's image fails its integrity check; the offending entry
	// is dropped rather than returned.
	ErrCorruption = storageError{"storage: corrupt entry"}
)

// Entry is the per-bundle bookkeeping record: {bundle_number,
// local_arrival_time, remaining_lifetime_sec, encoded_size, primary_flags,
// locked}.
type Entry struct {
	BundleNumber uint32
	LocalArrivalTime time.Time
	RemainingLifetimeSec uint64
	EncodedSize int
	PrimaryFlags bundle.ControlFlags
	Locked bool
}

// EvictionPolicy selects which occupant storage sacrifices to make room
// for an incoming bundle when pruning expired entries was not enough. It
// is a runtime strategy value rather than a compile-time macro.
type EvictionPolicy uint8

const (
	// NeverDelete refuses to evict; Save fails with ErrNoRoom instead.
	NeverDelete EvictionPolicy = iota
	// DeleteOldest evicts the entry with the least remaining lifetime.
	DeleteOldest
	// DeleteYoungest evicts the entry with the most remaining lifetime.
	DeleteYoungest
	// DeleteOlder evicts an existing entry only if it is older than the
	// incoming bundle.
	DeleteOlder
	// DeleteYounger evicts an existing entry only if it is younger than the
	// incoming bundle.
	DeleteYounger
)

// Store is the abstract persistent-storage interface.
type Store interface {
	Init(capacity int, policy EvictionPolicy) error
	Reinit() error

	// Save persists b, computing and returning its bundle number. Saving a
	// bundle whose number already exists is a no-op that returns the
	// existing number and no error.
	Save(b *bundle.Bundle, clock bundle.Clock) (uint32, error)

	// Delete removes the bundle numbered n. The stores do not record
	// reason; any status report is synthesized by the caller.
	Delete(n uint32, reason bundle.DeleteReason) error

	// Read returns the bundle numbered n. The returned bundle's backing
	// slot reference count has already been incremented.
	Read(n uint32) (*bundle.Bundle, error)

	Lock(n uint32) error
	Unlock(n uint32) error

	// FreeSpace reports how many additional bundles storage could accept
	// right now without evicting anything.
	FreeSpace() int
	Count() int
	List() []Entry
}

// SlotPooled is implemented by stores whose Read can bind decoded
// bundles to a fixed slot pool; the agent wires its pool in at start.
type SlotPooled interface {
	SetSlotPool(p *bundleslot.Pool)
}

// DeleteNotifier is implemented by stores that can report deletions, so
// the agent can purge routing and CL state for removed bundles.
type DeleteNotifier interface {
	// Deletions returns a channel that receives the bundle number of every
	// bundle removed from storage, whatever the reason.
	Deletions() <-chan uint32
}

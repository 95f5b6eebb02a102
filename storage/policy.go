// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/udtn/bundleslot"
)

// DeleteWaitTimeout bounds how long Save blocks for room to free up once
// prune-then-evict has failed, before reporting ErrNoRoom.
const DeleteWaitTimeout = 2 * time.Second

// ioBackend is the byte-level persistence a base delegates to; memoryBackend
// and fsBackend are the two implementations, keeping the prune/evict/notify bookkeeping
// in one place.
type ioBackend interface {
	write(n uint32, data []byte) error
	read(n uint32) ([]byte, error)
	remove(n uint32) error
}

// base implements the Store interface's prune-then-evict algorithm and
// deletion notification, shared by every concrete Store.
type base struct {
	mu sync.Mutex

	capacity int
	policy EvictionPolicy

	entries []Entry // insertion order
	backend ioBackend

	deletions chan uint32

	clockSource func() time.Time
	deleteWait time.Duration

	pool *bundleslot.Pool
}

func newBase(backend ioBackend) *base {
	return &base{
		backend: backend,
		deletions: make(chan uint32, 32),
		clockSource: time.Now,
		deleteWait: DeleteWaitTimeout,
	}
}

func (b *base) Init(capacity int, policy EvictionPolicy) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capacity = capacity
	b.policy = policy
	return nil
}

func (b *base) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *base) FreeSpace() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity - len(b.entries)
}

func (b *base) List() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

func (b *base) Deletions() <-chan uint32 {
	return b.deletions
}

// SetSlotPool makes every Read hand out slot-backed bundles, so decoded
// bundles count against the fixed slot pool like freshly created ones.
// Without a pool, reads return unpooled bundles whose Retain/Release are
// no-ops.
func (b *base) SetSlotPool(p *bundleslot.Pool) {
	b.pool = p
}

func (b *base) indexOf(n uint32) int {
	for i := range b.entries {
		if b.entries[i].BundleNumber == n {
			return i
		}
	}
	return -1
}

func (b *base) lockEntry(n uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(n)
	if i < 0 {
		return ErrNotFound
	}
	b.entries[i].Locked = true
	return nil
}

func (b *base) unlockEntry(n uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(n)
	if i < 0 {
		return ErrNotFound
	}
	b.entries[i].Locked = false
	return nil
}

// pruneLocked deletes every entry whose age has exceeded its lifetime,
// matching an Entry's RemainingLifetimeSec against the wall-clock time
// elapsed since LocalArrivalTime. Called with b.mu held.
func (b *base) pruneLocked() {
	now := b.clockSource()

	kept := b.entries[:0]
	for _, e := range b.entries {
		if now.Sub(e.LocalArrivalTime) > time.Duration(e.RemainingLifetimeSec)*time.Second {
			log.WithField("bundle", e.BundleNumber).Debug("pruning expired bundle from storage")
			if err := b.backend.remove(e.BundleNumber); err != nil {
				log.WithError(err).Warn("failed to remove expired bundle from backend")
			}
			b.notify(e.BundleNumber)
			continue
		}
		kept = append(kept, e)
	}
	b.entries = kept
}

// evictLocked tries to free exactly one slot per b.policy to make room for
// incoming, an entry not yet in b.entries. Locked entries, and entries
// with a higher priority than incoming, are never evicted. Called with
// b.mu held.
func (b *base) evictLocked(incoming Entry) bool {
	if b.policy == NeverDelete {
		return false
	}

	best := -1
	for i, e := range b.entries {
		if e.Locked {
			continue
		}
		if e.PrimaryFlags.Priority() > incoming.PrimaryFlags.Priority() {
			continue
		}

		switch b.policy {
			case DeleteOldest:
				if best < 0 || e.RemainingLifetimeSec < b.entries[best].RemainingLifetimeSec {
					best = i
				}
			case DeleteYoungest:
				if best < 0 || e.RemainingLifetimeSec > b.entries[best].RemainingLifetimeSec {
					best = i
				}
			case DeleteOlder:
				if e.RemainingLifetimeSec < incoming.RemainingLifetimeSec {
					best = i
				}
			case DeleteYounger:
				if e.RemainingLifetimeSec > incoming.RemainingLifetimeSec {
					best = i
				}
		}

		if best == i && (b.policy == DeleteOlder || b.policy == DeleteYounger) {
			break
		}
	}

	if best < 0 {
		return false
	}

	victim := b.entries[best]
	if err := b.backend.remove(victim.BundleNumber); err != nil {
		log.WithError(err).Warn("failed to remove evicted bundle from backend")
	}
	b.entries = append(b.entries[:best], b.entries[best+1:]...)
	b.notify(victim.BundleNumber)
	return true
}

// notify is a best-effort, non-blocking broadcast of a deletion; a full
// channel means nobody is listening right now, which is fine since
// interested subsystems (routing, CL) also learn of missing bundles the
// next time they try to Read one.
func (b *base) notify(bundleNumber uint32) {
	select {
		case b.deletions <- bundleNumber:
		default:
	}
}

// makeRoom runs prune, then evict, then -- if still full -- blocks up to
// DeleteWaitTimeout for a concurrent deletion to free a slot, retrying
// once. It reports ErrNoRoom if no room could be made.
func (b *base) makeRoom(incoming Entry) error {
	b.mu.Lock()
	b.pruneLocked()
	if len(b.entries) < b.capacity {
		b.mu.Unlock()
		return nil
	}
	if b.evictLocked(incoming) {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
		case <-b.deletions:
			b.mu.Lock()
			defer b.mu.Unlock()
			b.pruneLocked()
			if len(b.entries) < b.capacity || b.evictLocked(incoming) {
				return nil
			}
			return ErrNoRoom
		case <-time.After(b.deleteWait):
			return ErrNoRoom
	}
}

// delete removes the bundle number n, returning the removed Entry for
// status-report synthesis by the caller. Must be called without b.mu held.
func (b *base) delete(n uint32) (Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexOf(n)
	if i < 0 {
		return Entry{}, ErrNotFound
	}

	victim := b.entries[i]
	if err := b.backend.remove(n); err != nil {
		return Entry{}, err
	}
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	b.notify(n)
	return victim, nil
}

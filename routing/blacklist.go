// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package routing

import (
	"sync"
	"time"
)

// DefaultBlacklistThreshold is the strike count at which a peer is
// reported dead.
const DefaultBlacklistThreshold = 3

// DefaultBlacklistWindow bounds how long strikes against a peer accumulate
// before a stale strike count resets, chosen generously relative to the
// CL timeout.
const DefaultBlacklistWindow = 30 * time.Second

type blacklistEntry struct {
	strikes int
	last time.Time
}

// Blacklist is the tiny per-peer strike ring.
type Blacklist struct {
	mu sync.Mutex
	threshold int
	window time.Duration
	entries map[uint64]*blacklistEntry
	now func() time.Time
}

// NewBlacklist creates a Blacklist with the given strike threshold.
// threshold <= 0 falls back to DefaultBlacklistThreshold.
func NewBlacklist(threshold int) *Blacklist {
	if threshold <= 0 {
		threshold = DefaultBlacklistThreshold
	}
	return &Blacklist{
		threshold: threshold,
		window: DefaultBlacklistWindow,
		entries: make(map[uint64]*blacklistEntry),
		now: time.Now,
	}
}

// Strike records one failure against peer and reports whether peer has now
// reached the strike threshold.
func (bl *Blacklist) Strike(peer uint64) bool {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	now := bl.now()
	e, ok := bl.entries[peer]
	if !ok || now.Sub(e.last) > bl.window {
		e = &blacklistEntry{}
		bl.entries[peer] = e
	}
	e.strikes++
	e.last = now
	return e.strikes >= bl.threshold
}

// Clear removes peer's strike record, so a future re-discovery starts
// fresh.
func (bl *Blacklist) Clear(peer uint64) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	delete(bl.entries, peer)
}

// Strikes reports peer's current strike count, for tests.
func (bl *Blacklist) Strikes(peer uint64) int {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	if e, ok := bl.entries[peer]; ok {
		return e.strikes
	}
	return 0
}

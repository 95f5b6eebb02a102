// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"sync"

	"github.com/dtn7/udtn/bundle"
)

// memoryBackend is an in-process ioBackend, used by MemoryStore.
type memoryBackend struct {
	mu sync.Mutex
	blob map[uint32][]byte
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{blob: make(map[uint32][]byte)}
}

func (m *memoryBackend) write(n uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]byte, len(data))
	copy(cpy, data)
	m.blob[n] = cpy
	return nil
}

func (m *memoryBackend) read(n uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blob[n]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *memoryBackend) remove(n uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blob, n)
	return nil
}

// MemoryStore is a Store implementation that keeps every bundle's encoded
// image in process memory: the default for tests and simulation, where
// surviving a reset does not matter.
type MemoryStore struct {
	*base

	cacheMu sync.Mutex
	cacheN uint32
	cacheB *bundle.Bundle
}

// NewMemoryStore creates an empty MemoryStore with the given capacity and
// eviction policy.
func NewMemoryStore(capacity int, policy EvictionPolicy) *MemoryStore {
	s := &MemoryStore{base: newBase(newMemoryBackend())}
	_ = s.Init(capacity, policy)
	return s
}

// Reinit is a no-op for MemoryStore: there is nothing on disk to scan.
func (s *MemoryStore) Reinit() error {
	return nil
}

// Save encodes b, computes its bundle number, and persists it. A bundle
// whose number already exists is left unchanged.
func (s *MemoryStore) Save(b *bundle.Bundle, clock bundle.Clock) (uint32, error) {
	n := b.Number()

	s.mu.Lock()
	if s.indexOf(n) >= 0 {
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	wire, err := bundle.Encode(b, clock)
	if err != nil {
		return 0, err
	}

	entry := Entry{
		BundleNumber: n,
		LocalArrivalTime: s.clockSource(),
		RemainingLifetimeSec: b.LifetimeSec,
		EncodedSize: len(wire),
		PrimaryFlags: b.Flags,
	}

	if err := s.makeRoom(entry); err != nil {
		return 0, err
	}

	if err := s.backend.write(n, wire); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	return n, nil
}

// Delete removes the bundle numbered n; reason is not recorded, and any
// status report is synthesized by the caller. The bundle's Blocks are
// not retained; callers that need the final state should Read before
// Delete.
func (s *MemoryStore) Delete(n uint32, reason bundle.DeleteReason) error {
	if _, err := s.delete(n); err != nil {
		return err
	}

	s.cacheMu.Lock()
	var old *bundle.Bundle
	if s.cacheN == n {
		old = s.cacheB
		s.cacheB = nil
	}
	s.cacheMu.Unlock()

	if old != nil {
		_ = old.Release()
	}
	return nil
}

// Read decodes and returns the bundle numbered n, slot-backed when a pool
// is wired, with one reference belonging to the caller. The most recently
// read bundle is cached to serve hot re-reads without a fresh decode; the
// cache holds its own reference, dropped when the entry is replaced or
// deleted.
func (s *MemoryStore) Read(n uint32) (*bundle.Bundle, error) {
	s.mu.Lock()
	exists := s.indexOf(n) >= 0
	s.mu.Unlock()

	s.cacheMu.Lock()
	if s.cacheB != nil && s.cacheN == n {
		b := s.cacheB
		if !exists {
			// Pruned or evicted behind the cache's back; drop the stale
			// entry and its reference.
			s.cacheB = nil
			s.cacheMu.Unlock()
			_ = b.Release()
			return nil, ErrNotFound
		}
		s.cacheMu.Unlock()
		if err := b.Retain(); err != nil {
			return nil, err
		}
		return b, nil
	}
	s.cacheMu.Unlock()

	wire, err := s.backend.read(n)
	if err != nil {
		return nil, err
	}

	b, _, err := bundle.Decode(wire)
	if err != nil {
		return nil, err
	}

	if s.pool != nil {
		// The fresh slot's reference becomes the cache's; the caller gets
		// their own below.
		if err := b.AttachSlot(s.pool); err != nil {
			return nil, err
		}
	}

	s.cacheMu.Lock()
	old := s.cacheB
	s.cacheN, s.cacheB = n, b
	s.cacheMu.Unlock()

	if old != nil {
		_ = old.Release()
	}

	if err := b.Retain(); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *MemoryStore) Lock(n uint32) error { return s.lockEntry(n) }
func (s *MemoryStore) Unlock(n uint32) error { return s.unlockEntry(n) }

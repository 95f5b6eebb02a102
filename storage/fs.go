// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/howeyc/crc16"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold"

	"github.com/dtn7/udtn/bundle"
)

var crc16table = crc16.MakeTable(crc16.CCITT)

// fsRecord is the badgerhold-indexed metadata kept alongside each
// "<bundle-number>.b" file: its encoded size and a CRC16 of its bytes, so a
// corrupted file can be detected and skipped during Reinit rather than
// handed back to a caller.
type fsRecord struct {
	BundleNumber uint32 `badgerhold:"key"`
	Checksum uint16
	Size int
}

// fsBackend persists one file per bundle under bundleDir, named
// "<bundle_number>.b", with fsRecord metadata mirrored into
// badgerhold; read uses it to verify each file's checksum.
type fsBackend struct {
	dir string
	bh *badgerhold.Store
}

func newFSBackend(dir string) (*fsBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	opts := badgerhold.DefaultOptions
	opts.Dir = filepath.Join(dir, "meta")
	opts.ValueDir = opts.Dir

	bh, err := badgerhold.Open(opts)
	if err != nil {
		return nil, err
	}

	return &fsBackend{dir: dir, bh: bh}, nil
}

func (f *fsBackend) path(n uint32) string {
	return filepath.Join(f.dir, fmt.Sprintf("%d.b", n))
}

func (f *fsBackend) write(n uint32, data []byte) error {
	if err := os.WriteFile(f.path(n), data, 0600); err != nil {
		return err
	}

	rec := fsRecord{BundleNumber: n, Checksum: crc16.Checksum(data, crc16table), Size: len(data)}
	return f.bh.Upsert(n, rec)
}

func (f *fsBackend) read(n uint32) ([]byte, error) {
	data, err := os.ReadFile(f.path(n))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}

	var rec fsRecord
	if err := f.bh.Get(n, &rec); err == nil {
		if crc16.Checksum(data, crc16table) != rec.Checksum {
			log.WithField("bundle", n).Warn("storage: checksum mismatch, dropping corrupt entry")
			_ = f.remove(n)
			return nil, ErrCorruption
		}
	}

	return data, nil
}

func (f *fsBackend) remove(n uint32) error {
	if err := os.Remove(f.path(n)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return f.bh.Delete(n, fsRecord{})
}

func (f *fsBackend) close() error {
	return f.bh.Close()
}

// FSStore is a Store implementation that survives process restarts: every
// bundle lives as a raw byte image in its own file, with badgerhold-backed
// checksum metadata for integrity checks and an fsnotify watch so externally
// added or removed files (e.g. by a concurrently recovering peer process)
// are picked up without a poll loop.
type FSStore struct {
	*base
	backend *fsBackend
	watcher *fsnotify.Watcher
}

// NewFSStore opens (or creates) a file-backed store rooted at dir.
func NewFSStore(dir string, capacity int, policy EvictionPolicy) (*FSStore, error) {
	backend, err := newFSBackend(dir)
	if err != nil {
		return nil, err
	}

	s := &FSStore{base: newBase(backend), backend: backend}
	_ = s.Init(capacity, policy)

	if err := s.Reinit(); err != nil {
		return nil, err
	}
	if err := s.watch(); err != nil {
		log.WithError(err).Warn("storage: fsnotify watch unavailable, falling back to Reinit-only recovery")
	}

	return s, nil
}

// Reinit scans dir for "<n>.b" files and reconstructs the in-memory entry
// list, so the store survives an unexpected reset. Corrupt files are
// skipped and logged, not returned as entries.
func (s *FSStore) Reinit() error {
	entries, err := os.ReadDir(s.backend.dir)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = s.entries[:0]

	for _, de := range entries {
		name := de.Name()
		if !strings.HasSuffix(name, ".b") {
			continue
		}

		n, err := strconv.ParseUint(strings.TrimSuffix(name, ".b"), 10, 32)
		if err != nil {
			continue
		}

		data, err := s.backend.read(uint32(n))
		if err != nil {
			log.WithError(err).WithField("file", name).Warn("storage: skipping unreadable entry during reconstruct")
			continue
		}

		b, _, err := bundle.Decode(data)
		if err != nil {
			log.WithError(err).WithField("file", name).Warn("storage: skipping malformed entry during reconstruct")
			continue
		}

		s.entries = append(s.entries, Entry{
				BundleNumber: uint32(n),
				LocalArrivalTime: s.clockSource(),
				RemainingLifetimeSec: b.LifetimeSec,
				EncodedSize: len(data),
				PrimaryFlags: b.Flags,
		})
	}

	return nil
}

func (s *FSStore) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.backend.dir); err != nil {
		_ = w.Close()
		return err
	}
	s.watcher = w

	go func() {
		for event := range w.Events {
			if !strings.HasSuffix(event.Name, ".b") {
				continue
			}
			log.WithField("event", event).Debug("storage: bundle directory changed externally")
			if err := s.Reinit(); err != nil {
				log.WithError(err).Warn("storage: reconstruct after external change failed")
			}
		}
	}()

	return nil
}

// Close releases the backend's badgerhold handle and fsnotify watcher.
func (s *FSStore) Close() error {
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	return s.backend.close()
}

// Save encodes b, computes its bundle number, and persists it to a new
// "<n>.b" file. A bundle whose number already exists is
// left unchanged.
func (s *FSStore) Save(b *bundle.Bundle, clock bundle.Clock) (uint32, error) {
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

// Delete removes the file and metadata for bundle n.
func (s *FSStore) Delete(n uint32, reason bundle.DeleteReason) error {
	_, err := s.delete(n)
	return err
}

// Read decodes and returns the bundle numbered n from disk, slot-backed
// when a pool is wired; the slot's single reference belongs to the
// caller.
func (s *FSStore) Read(n uint32) (*bundle.Bundle, error) {
	data, err := s.backend.read(n)
	if err != nil {
		return nil, err
	}
	b, _, err := bundle.Decode(data)
	if err != nil {
		return nil, err
	}
	if s.pool != nil {
		if err := b.AttachSlot(s.pool); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (s *FSStore) Lock(n uint32) error { return s.lockEntry(n) }
func (s *FSStore) Unlock(n uint32) error { return s.unlockEntry(n) }

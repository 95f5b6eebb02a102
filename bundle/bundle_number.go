// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bundle

import (
	"encoding/binary"
	"hash/fnv"
)

// Number computes and stashes this bundle's BundleNumber: an FNV-1a mix of
// its identity tuple (creation timestamp, creation sequence, source node,
// source service, fragment offset, and -- for a fragment -- the payload
// block's size). The hash must be stable across the
// fleet for identical bundles since it is the canonical dedup and routing
// key; FNV-1a over a fixed-width encoding of the tuple gives that without
// needing a shared seed.
func (b *Bundle) Number() uint32 {
	h := fnv.New32a()

	var buf [8]byte
	write := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}

	write(b.CreationTimestamp)
	write(b.CreationSequence)
	write(b.SrcNode)
	write(b.SrcService)
	write(b.FragOffset)

	if b.Flags.Has(IsFragment) {
		if payload, ok := b.Payload(); ok {
			write(uint64(len(payload.Payload)))
		}
	}

	b.BundleNumber = h.Sum32()
	return b.BundleNumber
}

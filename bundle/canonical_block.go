// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bundle

import "github.com/dtn7/udtn/sdnv"

// Block type constants. PayloadBlock is RFC 5050's
// reserved type 1; AgeExtensionBlock never becomes a CanonicalBlock -- its
// payload is folded into the Bundle's AEBValueMS field during Decode.
const (
	PayloadBlock uint64 = 1
	AgeExtensionBlock uint64 = 192
)

// CanonicalBlock is one extension block: a tagged {type, flags, payload}
// triple, as described above. Exactly one CanonicalBlock with
// Type == PayloadBlock must be present on a valid Bundle, and the last
// block in the chain (by append order) carries BlockLast.
type CanonicalBlock struct {
	Type uint64
	Flags BlockFlags
	Payload []byte
}

// IsLast reports whether this block carries the "last block" flag.
func (cb CanonicalBlock) IsLast() bool {
	return cb.Flags.Has(BlockLast)
}

// wireLen returns the number of bytes this block occupies on the wire:
// SDNV type, SDNV flags, SDNV payload length, and the payload itself.
func (cb CanonicalBlock) wireLen() int {
	return sdnv.Len64(cb.Type) + sdnv.Len64(uint64(cb.Flags)) + sdnv.Len64(uint64(len(cb.Payload))) + len(cb.Payload)
}

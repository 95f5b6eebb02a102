// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package bundle implements the in-memory bundle representation and the
// RFC 5050/CBHE wire codec: primary block, chained extension blocks, the
// age-extension block, and the process-internal metadata (bundle
// number, arrival tick, delivering task...) that rides alongside a
// bundle but never goes on the wire.
package bundle

import (
	"github.com/dtn7/udtn/bundleslot"
)

// DeleteReason names why a bundle left storage. core maps each value onto
// an RFC 5050 bundle-status-report reason code when it builds a report;
// the numeric values themselves are not reason codes.
type DeleteReason uint8

const (
	ReasonNoInfo DeleteReason = iota
	ReasonLifetimeExpired
	ReasonDelivered
	ReasonUnroutable
	ReasonDepletedStorage
	ReasonTrafficPared
)

// Clock is the process-wide time source a Bundle needs to compute its own
// age without this package depending on a concrete platform
// implementation. platform.Clock satisfies this interface.
type Clock interface {
	// Ticks returns a monotonically increasing local tick counter.
	Ticks() uint64
	// TickHz is the rate, in ticks per second, of Ticks.
	TickHz() uint64
	// Good reports whether DTNTime is currently trustworthy.
	Good() bool
	// DTNTime returns the current DTN-epoch wall time as whole seconds plus
	// a microsecond remainder. Only meaningful when Good is true.
	DTNTime() (seconds uint64, micros uint64)
}

// Bundle is a primary block plus its chained extension blocks, plus the
// process-internal metadata. Exactly one Blocks entry has
// Type == PayloadBlock, and the last entry in Blocks carries BlockLast.
type Bundle struct {
	PrimaryBlock
	Blocks []CanonicalBlock

	// BundleNumber is the deterministic hash of this bundle's identity
	// tuple; zero until computed by Number.
	BundleNumber uint32

	// RecTime is the local clock tick at which this bundle was created or
	// arrived, used by the age-extension fallback.
	RecTime uint64

	// AEBValueMS is the accumulated age in milliseconds carried by an
	// inbound age-extension block; zero for freshly created bundles.
	AEBValueMS uint64

	// DelReason holds a removal reason for the bundle. Nothing in this
	// module sets it; deletions pass their reason to Agent.Delete directly.
	DelReason DeleteReason

	// SourceProcess names the local task that created this bundle, or
	// "agent" for administrative records the agent itself originates.
	SourceProcess string

	// MSrc is the peer address this bundle was received from over a CL, or
	// empty for locally originated bundles.
	MSrc string

	// RSSI is the receive signal strength reported by the link adapter,
	// valid only when HasRSSI is true.
	RSSI int8
	HasRSSI bool

	slot *bundleslot.Pool
	handle bundleslot.Handle
}

// New allocates a slot from pool, zeroes a fresh Bundle, stamps RecTime
// from clock and records creator as SourceProcess. The caller owns the
// returned slot reference and must Release it when done.
func New(pool *bundleslot.Pool, clock Clock, creator string) (*Bundle, error) {
	h, err := pool.GetFree()
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		RecTime: clock.Ticks(),
		SourceProcess: creator,
		slot: pool,
		handle: h,
	}
	return b, nil
}

// Handle returns the bundle's backing slot handle, for components that
// need to pass around a lightweight reference (e.g. CL tickets) instead of
// the Bundle itself.
func (b *Bundle) Handle() bundleslot.Handle {
	return b.handle
}

// AttachSlot reserves a slot from pool for a bundle built without one
// (e.g. decoded from a raw frame buffer), so it participates in the
// pool's reference counting like a bundle from New. The fresh slot's
// single reference belongs to the caller. A bundle that already has a
// slot is left untouched.
func (b *Bundle) AttachSlot(pool *bundleslot.Pool) error {
	if b.slot != nil {
		return nil
	}

	h, err := pool.GetFree()
	if err != nil {
		return err
	}
	b.slot = pool
	b.handle = h
	return nil
}

// Retain increments the backing slot's reference count; see
// bundleslot.Pool.Incr. It is a no-op if the bundle was built without a
// pool (e.g. in pure codec tests).
func (b *Bundle) Retain() error {
	if b.slot == nil {
		return nil
	}
	_, err := b.slot.Incr(b.handle)
	return err
}

// Release drops one reference to the backing slot; see
// bundleslot.Pool.Decr. It is a no-op if the bundle was built without a
// pool.
func (b *Bundle) Release() error {
	if b.slot == nil {
		return nil
	}
	_, err := b.slot.Decr(b.handle)
	return err
}

// AddBlock appends a new extension block carrying flags and data. The
// previously last block (if any) loses BlockLast and the new block gains
// it, maintaining the "exactly one last block" invariant.
func (b *Bundle) AddBlock(blockType uint64, flags BlockFlags, data []byte) {
	if n := len(b.Blocks); n > 0 {
		b.Blocks[n-1].Flags &^= BlockLast
	}

	b.Blocks = append(b.Blocks, CanonicalBlock{
			Type: blockType,
			Flags: flags | BlockLast,
			Payload: data,
	})
}

// GetBlockByType returns the first block of the given type, or false if
// none is present.
func (b *Bundle) GetBlockByType(blockType uint64) (CanonicalBlock, bool) {
	for _, cb := range b.Blocks {
		if cb.Type == blockType {
			return cb, true
		}
	}
	return CanonicalBlock{}, false
}

// Payload returns the bundle's single payload block, or false if none is
// present (a violation of the invariant stated on Bundle).
func (b *Bundle) Payload() (CanonicalBlock, bool) {
	return b.GetBlockByType(PayloadBlock)
}

// IsAdminRecord reports whether this bundle's flags mark it as carrying an
// administrative record payload.
func (b *Bundle) IsAdminRecord() bool {
	return b.Flags.Has(AdminRecordPayload)
}

// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bundle

import (
	"testing"

	"github.com/dtn7/udtn/bundleslot"
)

func TestAttachSlotBindsDecodedBundle(t *testing.T) {
	pool := bundleslot.New(2)

	wire, err := Encode(sampleBundle(), nil)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := Decode(wire)
	if err != nil {
		t.Fatal(err)
	}

	if err := b.AttachSlot(pool); err != nil {
		t.Fatalf("AttachSlot: %v", err)
	}
	if pool.InUse() != 1 {
		t.Fatalf("InUse = %d, want 1 after attach", pool.InUse())
	}

	// A second attach must not grab another slot.
	if err := b.AttachSlot(pool); err != nil {
		t.Fatalf("second AttachSlot: %v", err)
	}
	if pool.InUse() != 1 {
		t.Errorf("InUse = %d after re-attach, want 1", pool.InUse())
	}

	if err := b.Retain(); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if err := b.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := b.Release(); err != nil {
		t.Fatalf("final Release: %v", err)
	}
	if pool.InUse() != 0 {
		t.Errorf("InUse = %d after final release, want 0", pool.InUse())
	}
}

func TestAttachSlotExhaustedPool(t *testing.T) {
	pool := bundleslot.New(1)
	if _, err := pool.GetFree(); err != nil {
		t.Fatal(err)
	}

	b, _, err := Decode(mustEncode(t, sampleBundle()))
	if err != nil {
		t.Fatal(err)
	}
	if err := b.AttachSlot(pool); err != bundleslot.ErrNoFreeSlot {
		t.Errorf("AttachSlot on exhausted pool = %v, want ErrNoFreeSlot", err)
	}
}

func mustEncode(t *testing.T, b *Bundle) []byte {
	t.Helper()
	wire, err := Encode(b, nil)
	if err != nil {
		t.Fatal(err)
	}
	return wire
}

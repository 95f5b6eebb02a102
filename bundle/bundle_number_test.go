// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bundle

import "testing"

func TestNumberStableForIdenticalIdentity(t *testing.T) {
	mk := func() *Bundle {
		b := sampleBundle()
		b.CreationTimestamp = 42
		b.CreationSequence = 7
		return b
	}

	a, c := mk(), mk()
	if a.Number() != c.Number() {
		t.Errorf("identical identity tuples produced different bundle numbers: %d vs %d", a.Number(), c.Number())
	}
}

func TestNumberDiffersOnIdentityChange(t *testing.T) {
	a := sampleBundle()
	a.CreationSequence = 1
	b := sampleBundle()
	b.CreationSequence = 2

	if a.Number() == b.Number() {
		t.Error("different creation sequences collided")
	}
}

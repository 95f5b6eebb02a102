// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link154

import (
	"testing"

	"github.com/dtn7/udtn/cla"
)

func TestHeaderBitLayout(t *testing.T) {
	cases := []struct {
		typ frameType
		seq uint8
		flags cla.SegmentFlags
		want byte
	}{
		{frameData, 0, cla.SegFirst | cla.SegLast, 0x13},
		{frameDiscovery, 0, 0, 0x20},
		{frameAck, 1, 0, 0x34},
		{frameNack, 0, cla.SegFirst, 0x02},
	}

	for _, c := range cases {
		if got := encodeHeader(c.typ, c.seq, c.flags); got != c.want {
			t.Errorf("encodeHeader(%v, %d, %v) = %#02x, want %#02x", c.typ, c.seq, c.flags, got, c.want)
		}
	}
}

func TestDecodeHeaderRejectsCompatBits(t *testing.T) {
	if _, _, _, err := decodeHeader(0xC0); err != errCompat {
		t.Errorf("non-zero compat bits = %v, want errCompat", err)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	for typ := frameType(0); typ < 4; typ++ {
		for seq := uint8(0); seq < 4; seq++ {
			for flags := cla.SegmentFlags(0); flags < 4; flags++ {
				h := encodeHeader(typ, seq, flags)
				gotType, gotSeq, gotFlags, err := decodeHeader(h)
				if err != nil {
					t.Fatalf("decodeHeader(%#02x): %v", h, err)
				}
				if gotType != typ || gotSeq != seq || gotFlags != flags {
					t.Errorf("round trip of (%v, %d, %v) gave (%v, %d, %v)", typ, seq, flags, gotType, gotSeq, gotFlags)
				}
			}
		}
	}
}

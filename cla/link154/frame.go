// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package link154 implements the 802.15.4 cla.LinkAdapter: a 1-byte
// header `[type:2 | seq:2 | flags:2 | compat:2]`, a 4-value
// seqno space, and a 115-byte maximum payload, carried over a packet radio
// wrapped the way _examples/dtn7-dtn7-gold/pkg/cla/bbc wraps an
// rf95modem-go serial device.
package link154

import (
	"github.com/dtn7/udtn/sdnv"

	"github.com/dtn7/udtn/cla"
)

// frameType occupies header bits 5..4.
type frameType uint8

const (
	frameNack frameType = iota
	frameData
	frameDiscovery
	frameAck
)

// seqnoSpace is the 4-value (2-bit) sequence number space.
const seqnoSpace = 4

// MaxPayload is the largest payload this adapter's frame can carry on top
// of its 1-byte header and SDNV-encoded peer node id, leaving headroom
// under a typical 802.15.4 127-byte PHY frame once the radio's own
// addressing overhead is subtracted.
const MaxPayload = 115

// Header layout: bits 7..6 compat (always 00), bits 5..4 frame type,
// bits 3..2 seqno, bits 1..0 segment flags.
func encodeHeader(t frameType, seq uint8, flags cla.SegmentFlags) byte {
	return byte(t&0x3)<<4 | (seq&0x3)<<2 | byte(flags&0x3)
}

func decodeHeader(h byte) (t frameType, seq uint8, flags cla.SegmentFlags, err error) {
	if h&0xC0 != 0 {
		err = errCompat
		return
	}
	t = frameType((h >> 4) & 0x3)
	seq = (h >> 2) & 0x3
	flags = cla.SegmentFlags(h & 0x3)
	return
}

// encodeFrame produces the on-air bytes: header, then the SDNV-encoded
// peer node id (the adapter's own address on send, inferred sender address
// is not carried by the PHY so every frame repeats it), then payload.
func encodeFrame(t frameType, seq uint8, flags cla.SegmentFlags, peer uint64, payload []byte) []byte {
	buf := make([]byte, 1, 1+sdnv.MaxLen64+len(payload))
	buf[0] = encodeHeader(t, seq, flags)

	sdnvBuf := make([]byte, sdnv.MaxLen64)
	n, _ := sdnv.EncodeUint64(peer, sdnvBuf)
	buf = append(buf, sdnvBuf[:n]...)
	return append(buf, payload...)
}

// decodeFrame is encodeFrame's inverse.
func decodeFrame(raw []byte) (t frameType, seq uint8, flags cla.SegmentFlags, peer uint64, payload []byte, err error) {
	if len(raw) < 1 {
		err = errTruncated
		return
	}
	if t, seq, flags, err = decodeHeader(raw[0]); err != nil {
		return
	}

	n, decErr := sdnv.DecodeUint64(raw[1:], &peer)
	if decErr != nil {
		err = decErr
		return
	}
	payload = raw[1+n:]
	return
}

type link154Error struct{ msg string }

func (e link154Error) Error() string { return e.msg }

var (
	errTruncated = link154Error{"link154: frame too short"}
	errCompat = link154Error{"link154: non-zero compat bits"}
)

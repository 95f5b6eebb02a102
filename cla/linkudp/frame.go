// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package linkudp implements the UDP cla.LinkAdapter: a
// 2-byte header `[type][flags:4|seq:4]`, a 16-value seqno space, unicast
// data on port 4565, discovery on port 4551 multicast to 224.0.0.142.
package linkudp

import "github.com/dtn7/udtn/cla"

// Well-known ports and multicast group.
const (
	DataPort = 4565
	DiscoveryPort = 4551
	MulticastGroup = "224.0.0.142"
)

// seqnoSpace is the 16-value (4-bit) sequence number space.
const seqnoSpace = 16

type frameType uint8

const (
	frameUnknown frameType = 0
	frameDiscovery frameType = 1
	frameData frameType = 2
	frameAck frameType = 4
	frameNack frameType = 8
)

// flagNackTemporary marks a NACK as temporary in the header's flags
// nibble, distinct from the segment-position flags.
const flagNackTemporary cla.SegmentFlags = 0x04

func encodeHeader(t frameType, seq uint8, flags cla.SegmentFlags) [2]byte {
	return [2]byte{byte(t), byte(flags&0xF)<<4 | byte(seq&0xF)}
}

func decodeHeader(h [2]byte) (t frameType, seq uint8, flags cla.SegmentFlags) {
	t = frameType(h[0])
	flags = cla.SegmentFlags((h[1] >> 4) & 0xF)
	seq = h[1] & 0xF
	return
}

func encodeFrame(t frameType, seq uint8, flags cla.SegmentFlags, payload []byte) []byte {
	h := encodeHeader(t, seq, flags)
	buf := make([]byte, 2, 2+len(payload))
	buf[0], buf[1] = h[0], h[1]
	return append(buf, payload...)
}

func decodeFrame(raw []byte) (t frameType, seq uint8, flags cla.SegmentFlags, payload []byte, err error) {
	if len(raw) < 2 {
		err = errTruncated
		return
	}
	t, seq, flags = decodeHeader([2]byte{raw[0], raw[1]})
	payload = raw[2:]
	return
}

type linkudpError struct{ msg string }

func (e linkudpError) Error() string { return e.msg }

var errTruncated = linkudpError{"linkudp: frame too short"}

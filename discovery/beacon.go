// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package discovery implements IP-ND style neighbour discovery: a small
// periodic broadcast beacon carrying the sender's endpoint identifier and
// an optional service/bloom-filter block, a neighbour table aging entries
// out on a timeout, and the duty-cycle schedulers deciding when a node's
// radio should be listening or transmitting beacons at all.
package discovery

import (
	"github.com/dtn7/udtn/bundle"
	"github.com/dtn7/udtn/sdnv"
)

// Version is the only beacon wire version this package emits or accepts.
const Version = 0x02

// Flags are the beacon header's per-beacon capability bits.
type Flags uint8

const (
	// FlagServiceBlock marks a service block following the endpoint id.
	FlagServiceBlock Flags = 1 << iota
	// FlagBloomFilter marks a summary-vector bloom filter following the
	// service block (or the endpoint id, if no service block is present).
	FlagBloomFilter
)

// Has reports whether all bits of want are set.
func (f Flags) Has(want Flags) bool {
	return f&want == want
}

// Service is one {tag, data} entry of a beacon's service block, advertising
// a locally reachable application beyond the bare endpoint identifier (e.g.
// a CLA's port, or a free-form capability string).
type Service struct {
	Tag string
	Data []byte
}

// Beacon is one IP-ND announcement: wire layout is
// [Version][Flags][SeqNo, 2 bytes big-endian][EndpointID][Services?][BloomFilter?].
type Beacon struct {
	Flags Flags
	SeqNo uint16
	EID bundle.EndpointID
	Services []Service
	// BloomFilter is carried as an opaque summary vector; this package
	// does not interpret its bits, only transports them.
	BloomFilter []byte
}

// beaconError is this package's sentinel error type.
type beaconError struct{ msg string }

func (e beaconError) Error() string { return e.msg }

// ErrTruncated is returned by DecodeBeacon when buf ends before a
// field it declares is fully present.
var ErrTruncated = beaconError{"discovery: truncated beacon"}

// ErrUnsupported is returned by DecodeBeacon for a version byte this
// package does not know how to parse.
var ErrUnsupported = beaconError{"discovery: unsupported beacon version"}

// Encode serializes b to its wire form.
func (b Beacon) Encode() []byte {
	flags := b.Flags
	if len(b.Services) > 0 {
		flags |= FlagServiceBlock
	}
	if len(b.BloomFilter) > 0 {
		flags |= FlagBloomFilter
	}

	buf := make([]byte, 0, 4+b.EID.WireLen())
	buf = append(buf, Version, byte(flags), byte(b.SeqNo>>8), byte(b.SeqNo))
	buf = b.EID.WriteTo(buf)

	if flags.Has(FlagServiceBlock) {
		countBuf := make([]byte, sdnv.MaxLen32)
		n, _ := sdnv.EncodeUint32(uint32(len(b.Services)), countBuf)
		buf = append(buf, countBuf[:n]...)

		for _, svc := range b.Services {
			buf = appendCountedBytes(buf, []byte(svc.Tag))
			buf = appendCountedBytes(buf, svc.Data)
		}
	}

	if flags.Has(FlagBloomFilter) {
		buf = appendCountedBytes(buf, b.BloomFilter)
	}

	return buf
}

// appendCountedBytes appends an SDNV length prefix followed by data.
func appendCountedBytes(buf []byte, data []byte) []byte {
	lenBuf := make([]byte, sdnv.MaxLen32)
	n, _ := sdnv.EncodeUint32(uint32(len(data)), lenBuf)
	buf = append(buf, lenBuf[:n]...)
	return append(buf, data...)
}

// readCountedBytes decodes an SDNV length prefix followed by that many
// bytes from buf, returning the slice and the total bytes consumed.
func readCountedBytes(buf []byte) ([]byte, int, error) {
	var length uint32
	n, err := sdnv.DecodeUint32(buf, &length)
	if err != nil {
		return nil, 0, err
	}
	if len(buf) < n+int(length) {
		return nil, 0, ErrTruncated
	}
	return buf[n : n+int(length)], n + int(length), nil
}

// DecodeBeacon parses a wire-form beacon. It returns ErrUnsupported for any
// version byte other than Version, and ErrTruncated if buf ends before a
// declared field is fully present.
func DecodeBeacon(buf []byte) (Beacon, error) {
	if len(buf) < 4 {
		return Beacon{}, ErrTruncated
	}
	if buf[0] != Version {
		return Beacon{}, ErrUnsupported
	}

	b := Beacon{
		Flags: Flags(buf[1]),
		SeqNo: uint16(buf[2])<<8 | uint16(buf[3]),
	}
	off := 4

	eid, n, err := bundle.ReadEndpointIDFrom(buf[off:])
	if err != nil {
		return Beacon{}, err
	}
	b.EID = eid
	off += n

	if b.Flags.Has(FlagServiceBlock) {
		var count uint32
		n, err := sdnv.DecodeUint32(buf[off:], &count)
		if err != nil {
			return Beacon{}, err
		}
		off += n

		b.Services = make([]Service, 0, count)
		for i := uint32(0); i < count; i++ {
			tag, n, err := readCountedBytes(buf[off:])
			if err != nil {
				return Beacon{}, err
			}
			off += n

			data, n, err := readCountedBytes(buf[off:])
			if err != nil {
				return Beacon{}, err
			}
			off += n

			b.Services = append(b.Services, Service{Tag: string(tag), Data: data})
		}
	}

	if b.Flags.Has(FlagBloomFilter) {
		filter, n, err := readCountedBytes(buf[off:])
		if err != nil {
			return Beacon{}, err
		}
		off += n
		b.BloomFilter = filter
	}

	return b, nil
}

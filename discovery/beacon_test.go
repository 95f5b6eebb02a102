// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"bytes"
	"testing"

	"github.com/dtn7/udtn/bundle"
)

func TestBeaconRoundTrip(t *testing.T) {
	b := Beacon{
		SeqNo: 7,
		EID: bundle.EndpointID{Node: 5},
	}

	wire := b.Encode()
	if wire[0] != Version {
		t.Fatalf("wire[0] = %#x, want %#x", wire[0], Version)
	}

	got, err := DecodeBeacon(wire)
	if err != nil {
		t.Fatalf("DecodeBeacon: %v", err)
	}
	if got.SeqNo != b.SeqNo || got.EID != b.EID {
		t.Errorf("got %+v, want %+v", got, b)
	}
	if len(got.Services) != 0 || got.BloomFilter != nil {
		t.Error("beacon without optional blocks should decode with none")
	}
}

func TestBeaconWithServicesRoundTrip(t *testing.T) {
	b := Beacon{
		SeqNo: 1,
		EID: bundle.EndpointID{Node: 9},
		Services: []Service{
			{Tag: "udp", Data: []byte{0x1f, 0x90}},
			{Tag: "154", Data: nil},
		},
	}

	got, err := DecodeBeacon(b.Encode())
	if err != nil {
		t.Fatalf("DecodeBeacon: %v", err)
	}
	if !got.Flags.Has(FlagServiceBlock) {
		t.Fatal("expected service block flag set")
	}
	if len(got.Services) != 2 {
		t.Fatalf("expected 2 services, got %d", len(got.Services))
	}
	if got.Services[0].Tag != "udp" || !bytes.Equal(got.Services[0].Data, []byte{0x1f, 0x90}) {
		t.Errorf("unexpected first service: %+v", got.Services[0])
	}
	if got.Services[1].Tag != "154" || len(got.Services[1].Data) != 0 {
		t.Errorf("unexpected second service: %+v", got.Services[1])
	}
}

func TestBeaconWithBloomFilterRoundTrip(t *testing.T) {
	b := Beacon{
		EID: bundle.EndpointID{Node: 2},
		BloomFilter: []byte{0xde, 0xad, 0xbe, 0xef},
	}

	got, err := DecodeBeacon(b.Encode())
	if err != nil {
		t.Fatalf("DecodeBeacon: %v", err)
	}
	if !got.Flags.Has(FlagBloomFilter) {
		t.Fatal("expected bloom filter flag set")
	}
	if !bytes.Equal(got.BloomFilter, b.BloomFilter) {
		t.Errorf("BloomFilter = %x, want %x", got.BloomFilter, b.BloomFilter)
	}
}

func TestDecodeBeaconRejectsWrongVersion(t *testing.T) {
	wire := Beacon{EID: bundle.EndpointID{Node: 1}}.Encode()
	wire[0] = 0x01

	if _, err := DecodeBeacon(wire); err != ErrUnsupported {
		t.Errorf("DecodeBeacon with bad version = %v, want ErrUnsupported", err)
	}
}

func TestDecodeBeaconRejectsTruncated(t *testing.T) {
	wire := Beacon{EID: bundle.EndpointID{Node: 1}}.Encode()

	if _, err := DecodeBeacon(wire[:2]); err != ErrTruncated {
		t.Errorf("DecodeBeacon of 2-byte buffer = %v, want ErrTruncated", err)
	}
	if _, err := DecodeBeacon(wire[:len(wire)-1]); err == nil {
		t.Error("DecodeBeacon of truncated endpoint id should fail")
	}
}

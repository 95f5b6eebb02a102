// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package arecord

import "testing"

func TestStatusReportRoundTrip(t *testing.T) {
	sr := StatusReport{
		Flags: DeliveredToEndpoint,
		Reason: ReasonNoInfo,
		Timestamp: 123456,
		SubjectCreationTimestamp: 700000000,
		SubjectCreationSequence: 3,
		SubjectSrcNode: 1,
		SubjectSrcService: 2,
	}

	got, err := Decode(sr.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got != sr {
		t.Errorf("round trip = %+v, want %+v", got, sr)
	}
}

func TestStatusReportFragmentFields(t *testing.T) {
	sr := StatusReport{
		Flags: ReceivedByReportingNode,
		IsFragment: true,
		FragOffset: 10,
		AppDataLen: 50,
	}

	got, err := Decode(sr.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsFragment || got.FragOffset != 10 || got.AppDataLen != 50 {
		t.Errorf("fragment fields lost in round trip: %+v", got)
	}
}

func TestDecodeWrongType(t *testing.T) {
	cs := CustodySignal{Succeeded: true}
	if _, err := Decode(encodeCustodyForTest(cs)); err != errWrongType {
		t.Errorf("Decode of a custody signal = %v, want errWrongType", err)
	}
}

func encodeCustodyForTest(cs CustodySignal) []byte {
	b := byte(TypeCustodySignal) << 4
	flag := byte(0)
	if cs.Succeeded {
		flag |= 0x80
	}
	return []byte{b, flag, 0}
}

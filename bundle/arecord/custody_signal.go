// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package arecord

import "github.com/dtn7/udtn/sdnv"

// CustodySignal is the decoded body of a custody-signal administrative
// record. This agent never takes custody of a bundle; this type exists
// only so core.Dispatch can recognise and log such records from peers
// that still send them, without acting on them.
type CustodySignal struct {
	Succeeded bool
	Reason ReasonCode

	IsFragment bool
	FragOffset uint64
	AppDataLen uint64

	Timestamp uint64
	SubjectCreationTimestamp uint64
	SubjectCreationSequence uint64
}

// DecodeCustodySignal parses a custody-signal administrative record
// payload. It is never called from the dispatch path for anything but
// logging.
func DecodeCustodySignal(buf []byte) (CustodySignal, error) {
	if len(buf) < 2 {
		return CustodySignal{}, errTruncated
	}
	if RecordType(buf[0]>>4) != TypeCustodySignal {
		return CustodySignal{}, errWrongType
	}

	cs := CustodySignal{
		IsFragment: buf[0]&0x01 != 0,
		Succeeded: buf[1]&0x80 != 0,
		Reason: ReasonCode(buf[1] &^ 0x80),
	}
	pos := 2

	read := func() (uint64, error) {
		var v uint64
		n, err := sdnv.DecodeUint64(buf[pos:], &v)
		if err != nil {
			return 0, err
		}
		pos += n
		return v, nil
	}

	var err error
	if cs.IsFragment {
		if cs.FragOffset, err = read(); err != nil {
			return CustodySignal{}, err
		}
		if cs.AppDataLen, err = read(); err != nil {
			return CustodySignal{}, err
		}
	}
	if cs.Timestamp, err = read(); err != nil {
		return CustodySignal{}, err
	}
	if cs.SubjectCreationTimestamp, err = read(); err != nil {
		return CustodySignal{}, err
	}
	if cs.SubjectCreationSequence, err = read(); err != nil {
		return CustodySignal{}, err
	}

	return cs, nil
}

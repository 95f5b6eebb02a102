// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package arecord implements the RFC 5050 administrative records this
// agent understands: bundle status reports, and read-only parsing of
// custody signals -- parsed for forward compatibility, never acted on.
package arecord

import (
	"github.com/dtn7/udtn/sdnv"
)

// RecordType is the administrative-record type tag in a record's first
// byte high nibble, RFC 5050 §6.1.
type RecordType byte

const (
	TypeStatusReport RecordType = 1
	TypeCustodySignal RecordType = 2
)

// StatusFlags are the "reporting node accepted/forwarded/..." bits of a
// bundle status report, mirroring bundle.ControlFlags' StatusRequest* sub
// flags but scoped to this record.
type StatusFlags byte

const (
	ReceivedByReportingNode StatusFlags = 0x01
	CustodyAcceptedByNode StatusFlags = 0x02
	ForwardedByReportingNode StatusFlags = 0x04
	DeliveredToEndpoint StatusFlags = 0x08
	DeletedFromStorage StatusFlags = 0x10
)

// Has reports whether all bits of flag are set.
func (f StatusFlags) Has(flag StatusFlags) bool { return f&flag == flag }

// ReasonCode is the RFC 5050 §6.1.1 reason-code subset this agent emits.
type ReasonCode byte

const (
	ReasonNoInfo ReasonCode = 0
	ReasonLifetimeExpired ReasonCode = 1
	ReasonNoRouteToDest ReasonCode = 3
	ReasonDepletedStorage ReasonCode = 4
	ReasonTrafficPared ReasonCode = 9
)

// StatusReport is the decoded body of a bundle-status administrative
// record, addressed at a subject bundle identified by its creation
// timestamp/sequence and source endpoint.
type StatusReport struct {
	Flags StatusFlags
	Reason ReasonCode

	IsFragment bool
	FragOffset uint64
	AppDataLen uint64

	// Timestamp is the DTN time, in seconds, at which this report was
	// generated.
	Timestamp uint64

	SubjectCreationTimestamp uint64
	SubjectCreationSequence uint64

	SubjectSrcNode uint64
	SubjectSrcService uint64
}

// Encode serialises the report into an administrative-record payload: a
// type/flag byte, then status_flags, reason, optional fragment fields,
// timestamps, and the subject's source EID fields.
func (sr StatusReport) Encode() []byte {
	var recordByte byte = byte(TypeStatusReport) << 4
	if sr.IsFragment {
		recordByte |= 0x01
	}

	buf := []byte{recordByte, byte(sr.Flags), byte(sr.Reason)}

	sdnvBuf := make([]byte, sdnv.MaxLen64)
	appendU64 := func(v uint64) {
		n, _ := sdnv.EncodeUint64(v, sdnvBuf)
		buf = append(buf, sdnvBuf[:n]...)
	}

	if sr.IsFragment {
		appendU64(sr.FragOffset)
		appendU64(sr.AppDataLen)
	}

	appendU64(sr.Timestamp)
	appendU64(sr.SubjectCreationTimestamp)
	appendU64(sr.SubjectCreationSequence)
	appendU64(sr.SubjectSrcNode)
	appendU64(sr.SubjectSrcService)

	return buf
}

// Decode parses a status-report administrative record payload produced by
// Encode.
func Decode(buf []byte) (StatusReport, error) {
	if len(buf) < 3 {
		return StatusReport{}, errTruncated
	}
	if RecordType(buf[0]>>4) != TypeStatusReport {
		return StatusReport{}, errWrongType
	}

	sr := StatusReport{
		IsFragment: buf[0]&0x01 != 0,
		Flags: StatusFlags(buf[1]),
		Reason: ReasonCode(buf[2]),
	}
	pos := 3

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
	if sr.IsFragment {
		if sr.FragOffset, err = read(); err != nil {
			return StatusReport{}, err
		}
		if sr.AppDataLen, err = read(); err != nil {
			return StatusReport{}, err
		}
	}
	if sr.Timestamp, err = read(); err != nil {
		return StatusReport{}, err
	}
	if sr.SubjectCreationTimestamp, err = read(); err != nil {
		return StatusReport{}, err
	}
	if sr.SubjectCreationSequence, err = read(); err != nil {
		return StatusReport{}, err
	}
	if sr.SubjectSrcNode, err = read(); err != nil {
		return StatusReport{}, err
	}
	if sr.SubjectSrcService, err = read(); err != nil {
		return StatusReport{}, err
	}

	return sr, nil
}

type arecordError struct{ msg string }

func (e arecordError) Error() string { return e.msg }

var (
	errTruncated = arecordError{"arecord: truncated status report"}
	errWrongType = arecordError{"arecord: not a status report record"}
)

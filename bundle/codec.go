// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bundle

import (
	"github.com/dtn7/udtn/sdnv"
)

// Decode parses an RFC 5050 bundle from buf and returns the Bundle plus
// the number of bytes consumed.
// The returned Bundle has no backing slot yet, since decoding happens on
// raw frame buffers before any slot is known to be available; the caller
// binds one with AttachSlot before handing the bundle onward.
func Decode(buf []byte) (*Bundle, int, error) {
	if len(buf) < 1 {
		return nil, 0, ErrTruncated
	}
	if buf[0] != Version {
		return nil, 0, ErrUnsupported
	}
	pos := 1

	var flags32 uint32
	n, err := sdnv.DecodeUint32(buf[pos:], &flags32)
	if err != nil {
		return nil, 0, err
	}
	pos += n

	var blockLength uint32
	n, err = sdnv.DecodeUint32(buf[pos:], &blockLength)
	if err != nil {
		return nil, 0, err
	}
	pos += n

	// block_length counts the primary-block bytes following the length
	// field itself, so the span under check starts here.
	bodyStart := pos

	b := &Bundle{PrimaryBlock: PrimaryBlock{Flags: ControlFlags(flags32)}}

	fields := []*uint64{
		&b.DestNode, &b.DestService,
		&b.SrcNode, &b.SrcService,
		&b.RepNode, &b.RepService,
		&b.CustNode, &b.CustService,
		&b.CreationTimestamp, &b.CreationSequence,
		&b.LifetimeSec,
	}
	for _, f := range fields {
		var v uint64
		n, err = sdnv.DecodeUint64(buf[pos:], &v)
		if err != nil {
			return nil, 0, err
		}
		pos += n
		*f = v
	}

	var dictLength uint64
	n, err = sdnv.DecodeUint64(buf[pos:], &dictLength)
	if err != nil {
		return nil, 0, err
	}
	pos += n
	if dictLength != 0 {
		return nil, 0, ErrUnsupportedDict
	}

	if b.Flags.Has(IsFragment) {
		n, err = sdnv.DecodeUint64(buf[pos:], &b.FragOffset)
		if err != nil {
			return nil, 0, err
		}
		pos += n

		n, err = sdnv.DecodeUint64(buf[pos:], &b.AppDataLen)
		if err != nil {
			return nil, 0, err
		}
		pos += n
	}

	if uint32(pos-bodyStart) != blockLength {
		return nil, 0, ErrLengthMismatch
	}

	for len(buf)-pos > 1 {
		var blockType, blockFlags, payloadSize uint64

		n, err = sdnv.DecodeUint64(buf[pos:], &blockType)
		if err != nil {
			return nil, 0, err
		}
		pos += n

		n, err = sdnv.DecodeUint64(buf[pos:], &blockFlags)
		if err != nil {
			return nil, 0, err
		}
		pos += n

		n, err = sdnv.DecodeUint64(buf[pos:], &payloadSize)
		if err != nil {
			return nil, 0, err
		}
		pos += n

		remaining := uint64(len(buf) - pos)
		if payloadSize > remaining {
			return nil, 0, ErrTruncated
		}
		payload := buf[pos: pos+int(payloadSize)]
		pos += int(payloadSize)

		if blockType == AgeExtensionBlock {
			var micros uint64
			if _, err = sdnv.DecodeUint64(payload, &micros); err != nil {
				return nil, 0, err
			}
			b.AEBValueMS = micros / 1000
			continue
		}

		cpy := make([]byte, len(payload))
		copy(cpy, payload)
		b.Blocks = append(b.Blocks, CanonicalBlock{
				Type: blockType,
				Flags: BlockFlags(blockFlags),
				Payload: cpy,
		})
	}

	return b, pos, nil
}

// Encode serialises b into RFC 5050 wire format, mirroring Decode. The
// age-extension block is always emitted first with the bundle's current
// computed age (clock may be nil to emit AEBValueMS verbatim, e.g. when
// re-serialising a bundle already in storage without advancing its age).
func Encode(b *Bundle, clock Clock) ([]byte, error) {
	if _, ok := b.Payload(); !ok {
		return nil, ErrNoPayload
	}

	buf := make([]byte, 1, 64+b.wireBodyLen())
	buf[0] = Version

	sdnvBuf := make([]byte, sdnv.MaxLen64)
	appendSDNV32 := func(v uint32) {
		n, _ := sdnv.EncodeUint32(v, sdnvBuf)
		buf = append(buf, sdnvBuf[:n]...)
	}
	appendSDNV64 := func(v uint64) {
		n, _ := sdnv.EncodeUint64(v, sdnvBuf)
		buf = append(buf, sdnvBuf[:n]...)
	}

	appendSDNV32(uint32(b.Flags))

	// block_length depends on the bytes that follow it; reserve one byte
	// and fix it up afterwards, shifting the tail if the final SDNV needs
	// more than one byte.
	lengthFieldPos := len(buf)
	buf = append(buf, 0)
	bodyStart := len(buf)

	appendSDNV64(b.DestNode)
	appendSDNV64(b.DestService)
	appendSDNV64(b.SrcNode)
	appendSDNV64(b.SrcService)
	appendSDNV64(b.RepNode)
	appendSDNV64(b.RepService)
	appendSDNV64(b.CustNode)
	appendSDNV64(b.CustService)
	appendSDNV64(b.CreationTimestamp)
	appendSDNV64(b.CreationSequence)
	appendSDNV64(b.LifetimeSec)
	appendSDNV64(0) // dict_length, always zero (CBHE)

	if b.Flags.Has(IsFragment) {
		appendSDNV64(b.FragOffset)
		appendSDNV64(b.AppDataLen)
	}

	blockLength := uint32(len(buf) - bodyStart)
	lenN, _ := sdnv.EncodeUint32(blockLength, sdnvBuf)
	if lenN == 1 {
		buf[lengthFieldPos] = sdnvBuf[0]
	} else {
		tail := append([]byte(nil), buf[bodyStart:]...)
		buf = buf[:lengthFieldPos]
		buf = append(buf, sdnvBuf[:lenN]...)
		buf = append(buf, tail...)
	}

	age := b.AEBValueMS
	if clock != nil {
		age = b.AgeMS(clock)
	}
	ageBuf := make([]byte, sdnv.MaxLen64)
	ageN, _ := sdnv.EncodeUint64(age*1000, ageBuf)
	buf = appendExtensionBlock(buf, AgeExtensionBlock, BlockFlags(0x01 /* replicate in every fragment */), ageBuf[:ageN])

	last := len(b.Blocks) - 1
	for i, cb := range b.Blocks {
		flags := cb.Flags
		if i == last {
			flags |= BlockLast
		} else {
			flags &^= BlockLast
		}
		buf = appendExtensionBlock(buf, cb.Type, flags, cb.Payload)
	}

	return buf, nil
}

func appendExtensionBlock(buf []byte, blockType uint64, flags BlockFlags, payload []byte) []byte {
	sdnvBuf := make([]byte, sdnv.MaxLen64)

	n, _ := sdnv.EncodeUint64(blockType, sdnvBuf)
	buf = append(buf, sdnvBuf[:n]...)

	n, _ = sdnv.EncodeUint64(uint64(flags), sdnvBuf)
	buf = append(buf, sdnvBuf[:n]...)

	n, _ = sdnv.EncodeUint64(uint64(len(payload)), sdnvBuf)
	buf = append(buf, sdnvBuf[:n]...)

	return append(buf, payload...)
}

// wireBodyLen estimates the encoded size to pre-size the output buffer; it
// need not be exact, only a reasonable lower bound.
func (b *Bundle) wireBodyLen() int {
	n := 0
	for _, cb := range b.Blocks {
		n += cb.wireLen()
	}
	return n
}

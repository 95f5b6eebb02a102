// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link154

import (
	"bytes"
	"sync"

	"github.com/ulikunitz/xz"

	"github.com/dtn7/udtn/cla"
	"github.com/dtn7/udtn/sdnv"
)

// Modem is the narrow broadcast-radio interface this adapter drives,
// shaped after _examples/dtn7-dtn7-gold/cla/bbc.Modem: blocking Send and
// Receive of raw frame bytes, an Mtu and a Close that interrupts Receive.
// Rf95Modem (an rf95modem-go wrapper analogous to bbc.Rf95Modem) is the
// intended production implementation; tests use an in-memory fake.
type Modem interface {
	Mtu() int
	Send([]byte) error
	Receive() ([]byte, error)
	Close() error
}

// Adapter is the cla.LinkAdapter for 802.15.4 packet radios: a 1-byte
// framing header wrapped around whatever the underlying Modem can send
// and receive.
type Adapter struct {
	mu sync.Mutex
	modem Modem
	self uint64
	compress bool
}

// NewAdapter wraps modem for node self. compress enables xz compression of
// every outgoing data payload, whatever its size, trading CPU for airtime the way
// bbc.OutgoingTransmission does for its own fragmentation scheme.
func NewAdapter(modem Modem, self uint64, compress bool) *Adapter {
	return &Adapter{modem: modem, self: self, compress: compress}
}

func (a *Adapter) Init() error { return nil }

// MaxPayloadLength returns the smaller of the modem's own MTU (minus this
// adapter's framing overhead) and MaxPayload.
func (a *Adapter) MaxPayloadLength() int {
	overhead := 1 + sdnv.Len64(a.self)
	budget := a.modem.Mtu() - overhead
	if budget > MaxPayload {
		budget = MaxPayload
	}
	return budget
}

// NextSeqno advances within the 4-value seqno space.
func (a *Adapter) NextSeqno(last uint32) uint32 {
	return (last + 1) % seqnoSpace
}

func (a *Adapter) SendDiscovery(payload []byte) error {
	return a.send(frameDiscovery, 0, 0, payload)
}

func (a *Adapter) SendBundle(peer uint64, seq uint32, flags cla.SegmentFlags, payload []byte) error {
	out := payload
	if a.compress {
		var buf bytes.Buffer
		w, err := xz.NewWriter(&buf)
		if err != nil {
			return err
		}
		if _, err := w.Write(payload); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		out = buf.Bytes()
	}
	return a.send(frameData, uint8(seq), flags, out)
}

func (a *Adapter) SendAck(peer uint64, seq uint32, ackType cla.AckType) error {
	t := frameAck
	flags := cla.SegmentFlags(0)
	if ackType == cla.AckTypeNack {
		t = frameNack
	} else if ackType == cla.AckTypeNackTemporary {
		t = frameNack
		flags = cla.SegFirst
	}
	return a.send(t, uint8(seq), flags, nil)
}

func (a *Adapter) send(t frameType, seq uint8, flags cla.SegmentFlags, payload []byte) error {
	frame := encodeFrame(t, seq, flags, a.self, payload)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.modem.Send(frame)
}

// Input blocks for the next frame, decompressing a data payload if this
// adapter was constructed with compress enabled.
func (a *Adapter) Input() (*cla.Frame, error) {
	raw, err := a.modem.Receive()
	if err != nil {
		return nil, err
	}

	t, seq, flags, peer, payload, err := decodeFrame(raw)
	if err != nil {
		return nil, err
	}

	f := &cla.Frame{Peer: peer, Seq: uint32(seq), SegFlags: flags}
	switch t {
		case frameData:
			if a.compress && len(payload) > 0 {
				r, rErr := xz.NewReader(bytes.NewReader(payload))
				if rErr != nil {
					return nil, rErr
				}
				var buf bytes.Buffer
				if _, rErr := buf.ReadFrom(r); rErr != nil {
					return nil, rErr
				}
				payload = buf.Bytes()
			}
			f.Kind = cla.FrameData
			f.Payload = payload
		case frameAck:
			f.Kind = cla.FrameAck
			f.AckType = cla.AckTypeAck
		case frameNack:
			f.Kind = cla.FrameAck
			if flags.Has(cla.SegFirst) {
				f.AckType = cla.AckTypeNackTemporary
			} else {
				f.AckType = cla.AckTypeNack
			}
		case frameDiscovery:
			f.Kind = cla.FrameDiscovery
			f.Payload = payload
	}
	return f, nil
}

func (a *Adapter) Close() error {
	return a.modem.Close()
}

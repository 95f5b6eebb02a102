// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cla

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/udtn/bundle"
	"github.com/dtn7/udtn/routing"
)

// PrepareSegmentation readies t for its first (or retried) transmission
// attempt. On the very first attempt it encodes the bundle into the
// ticket's buffer, reserves the seqnos the transfer will need and decides
// whether the bundle goes out as one segment or split across MULTIPART
// segments sized to the adapter's MTU. Retries re-send the window starting
// at OffsetAcked with the unchanged seqno, so the receiver sees an exact
// retransmit.
func (c *Core) PrepareSegmentation(t *Ticket) error {
	mtu := c.adapter.MaxPayloadLength()

	if t.Buffer == nil {
		b, err := c.store.Read(t.BundleNumber)
		if err != nil {
			return err
		}
		defer b.Release()

		if b.Expired(c.clock) {
			return bundle.ErrExpired
		}

		buf, err := bundle.Encode(b, c.clock)
		if err != nil {
			return err
		}
		t.Buffer = buf
		t.OffsetSent = 0
		t.OffsetAcked = 0

		if len(buf) <= mtu {
			t.SequenceNumber = c.allocSeqnos(1)
		} else {
			t.Flags |= TicketMultipart
			segCount := (len(buf) + mtu - 1) / mtu
			t.SequenceNumber = c.allocSeqnos(segCount)
		}
	}

	if !t.Flags.Has(TicketMultipart) {
		return c.sendSegment(t, SegFirst|SegLast, t.Buffer, len(t.Buffer))
	}

	start := t.OffsetAcked
	end := start + mtu
	if end > len(t.Buffer) {
		end = len(t.Buffer)
	}

	var segFlags SegmentFlags
	if start == 0 {
		segFlags |= SegFirst
	}
	if end == len(t.Buffer) {
		segFlags |= SegLast
	}
	return c.sendSegment(t, segFlags, t.Buffer[start:end], end)
}

func (c *Core) sendSegment(t *Ticket, flags SegmentFlags, payload []byte, sentMark int) error {
	if err := c.adapter.SendBundle(t.Neighbour, t.SequenceNumber, flags, payload); err != nil {
		return err
	}

	t.OffsetSent = sentMark
	t.Flags |= TicketInTransit
	c.block(t.Neighbour)
	return nil
}

// ParseDataframe handles one inbound data segment. peer/seq/flags/payload
// come from the adapter-specific frame decoder. Every accepted segment is
// answered with an ACK carrying the follow-up seqno; a rejected final
// segment or one-shot bundle is answered with a NACK whose permanence
// reflects why dispatch refused it.
func (c *Core) ParseDataframe(peer uint64, seq uint32, flags SegmentFlags, payload []byte, rssi int8, hasRSSI bool) {
	switch {
		case flags.Has(SegFirst) && flags.Has(SegLast):
			res := c.dispatchBundle(peer, payload, rssi, hasRSSI)
			c.rememberSeq(peer, seq)
			c.sendAck(peer, c.adapter.NextSeqno(seq), res)

		case flags.Has(SegFirst):
			if old := c.queue.findMultipartRecv(peer); old != nil {
				c.queue.remove(old)
				log.WithField("peer", peer).Debug("cla: dropping stale multipart receive ticket")
			}
			buf := append([]byte(nil), payload...)
			t := &Ticket{
				Neighbour: peer,
				Flags: TicketActive | TicketMultipartRecv,
				Priority: PriorityHigh,
				SequenceNumber: seq,
				Buffer: buf,
				Timestamp: time.Now(),
			}
			if err := c.queue.push(t, PriorityHigh); err != nil {
				log.WithError(err).Warn("cla: could not queue multipart receive ticket")
				c.sendAck(peer, c.adapter.NextSeqno(seq), AckTypeNackTemporary)
				return
			}
			c.sendAck(peer, c.adapter.NextSeqno(seq), AckTypeAck)

		default:
			t := c.queue.findMultipartRecv(peer)
			if t == nil {
				c.mu.Lock()
				lastSeen, ok := c.lastSeqSeen[peer]
				c.mu.Unlock()
				if ok && lastSeen == seq {
					// The final ACK was lost; re-ack instead of NACKing a
					// transfer that already completed.
					c.sendAck(peer, c.adapter.NextSeqno(seq), AckTypeAck)
					return
				}
				log.WithField("peer", peer).Debug("cla: no multipart receive ticket for continuation segment")
				c.sendAck(peer, c.adapter.NextSeqno(seq), AckTypeNack)
				return
			}

			if seq == t.SequenceNumber {
				// Duplicate of the segment already appended: its ACK was
				// lost, so repeat it.
				c.sendAck(peer, c.adapter.NextSeqno(seq), AckTypeAck)
				return
			}
			if want := c.adapter.NextSeqno(t.SequenceNumber); seq != want {
				log.WithFields(log.Fields{"peer": peer, "got": seq, "want": want}).Debug("cla: out-of-order segment")
				return
			}

			t.Buffer = append(t.Buffer, payload...)
			t.SequenceNumber = seq
			t.Timestamp = time.Now()

			if !flags.Has(SegLast) {
				c.sendAck(peer, c.adapter.NextSeqno(seq), AckTypeAck)
				return
			}

			c.rememberSeq(peer, seq)
			c.queue.remove(t)
			res := c.dispatchBundle(peer, t.Buffer, rssi, hasRSSI)
			c.sendAck(peer, c.adapter.NextSeqno(seq), res)
	}
}

func (c *Core) rememberSeq(peer uint64, seq uint32) {
	c.mu.Lock()
	c.lastSeqSeen[peer] = seq
	c.mu.Unlock()
}

func (c *Core) dispatchBundle(peer uint64, payload []byte, rssi int8, hasRSSI bool) AckType {
	b, _, err := bundle.Decode(payload)
	if err != nil {
		log.WithError(err).WithField("peer", peer).Warn("cla: failed to decode inbound bundle")
		return AckTypeNack
	}
	if c.onBundle == nil {
		return AckTypeNack
	}
	return c.onBundle(peer, rssi, hasRSSI, b)
}

func (c *Core) sendAck(peer uint64, seq uint32, ackType AckType) {
	if err := c.adapter.SendAck(peer, seq, ackType); err != nil {
		log.WithError(err).WithField("peer", peer).Debug("cla: ack send failed")
	}
}

// ParseAckframe handles one inbound ACK/NACK for the peer's ACK_PEND
// ticket.
func (c *Core) ParseAckframe(peer uint64, seq uint32, ackType AckType) {
	c.unblock(peer)

	t := c.queue.findByPeer(peer, TicketAckPend)
	if t == nil {
		log.WithField("peer", peer).Debug("cla: ack/nack for peer with no pending ticket")
		return
	}

	switch ackType {
		case AckTypeAck:
			if t.Flags.Has(TicketMultipart) {
				if want := c.adapter.NextSeqno(t.SequenceNumber); seq != want {
					log.WithFields(log.Fields{"peer": peer, "got": seq, "want": want}).Debug("cla: ack for wrong segment")
					return
				}
				t.OffsetAcked = t.OffsetSent
				t.SequenceNumber = seq
				if t.OffsetAcked >= len(t.Buffer) {
					c.finishTicket(t, routing.OutcomeOK)
				} else {
					t.Flags &^= TicketAckPend
				}
				return
			}
			c.finishTicket(t, routing.OutcomeOK)

		case AckTypeNack:
			c.finishTicket(t, routing.OutcomeNACK)

		case AckTypeNackTemporary:
			// The peer is briefly out of room; the ticket stays queued and
			// retries from the acked offset.
			t.Tries++
			if t.Tries >= c.retries {
				c.finishTicket(t, routing.OutcomeFAIL)
				return
			}
			t.Flags &^= TicketAckPend | TicketInTransit
			c.rt.Sent(t.BundleNumber, t.Neighbour, routing.OutcomeTempNACK)
	}
}

func (c *Core) finishTicket(t *Ticket, outcome routing.Outcome) {
	t.Flags |= TicketDone
	c.queue.remove(t)

	if outcome == routing.OutcomeOK && c.onForwarded != nil {
		c.onForwarded(t.BundleNumber, t.Neighbour)
	}
	c.rt.Sent(t.BundleNumber, t.Neighbour, outcome)
}

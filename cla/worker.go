// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cla

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/udtn/bundle"
	"github.com/dtn7/udtn/bundleslot"
	"github.com/dtn7/udtn/routing"
)

// SendResult is the outcome of one segment transmission attempt, as
// classified by the scheduler and the timeout sweep. It is distinct from
// routing.Outcome, which is what Core in turn reports to the routing table
// once a ticket's fate is decided.
type SendResult int

const (
	// SendOK means the segment left the adapter successfully.
	SendOK SendResult = iota
	// SendNoSend means the adapter could not take the segment right now;
	// retry after a tiny backoff.
	SendNoSend
	// SendNoAck means no ACK arrived for a data segment within the CL
	// timeout.
	SendNoAck
	// SendFatal means the adapter cannot reach peer at all (e.g. unknown
	// address); routing should stop trying immediately.
	SendFatal
)

// tickInterval is the sweep period for the timeout loop, running at ≈10 Hz.
const tickInterval = 100 * time.Millisecond

// Run drives the scheduler and timeout sweep until stop is closed. It pops
// the next eligible ticket, advances its segmentation, and every tick also
// sweeps blocked peers and stale MULTIPART_RECV tickets.
func (c *Core) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
			case <-stop:
				return
			case <-ticker.C:
				c.sweepTimeouts()
				c.scheduleNext()
		}
	}
}

func (c *Core) scheduleNext() {
	t := c.queue.next(c.isBlocked)
	if t == nil {
		return
	}

	if err := c.PrepareSegmentation(t); err != nil {
		if err == bundleslot.ErrNoFreeSlot {
			// Out of slots right now; the ticket stays queued for the next
			// tick.
			c.Status(t, SendNoSend, false)
			return
		}
		if err == bundle.ErrExpired || t.Buffer == nil {
			// Expired, unreadable or unencodable: nothing to retry.
			log.WithError(err).WithField("bundle", t.BundleNumber).Debug("cla: segmentation failed")
			c.queue.remove(t)
			c.rt.Sent(t.BundleNumber, t.Neighbour, routing.OutcomeERROR)
			return
		}
		c.Status(t, SendNoSend, false)
		return
	}

	c.Status(t, SendOK, false)
}

// Status is the outgoing result callback. wasAck distinguishes a
// data-segment completion from an ACK/NACK transmission completion,
// since each requires a different state transition on OK.
func (c *Core) Status(t *Ticket, result SendResult, wasAck bool) {
	switch result {
		case SendOK:
			if wasAck {
				c.queue.remove(t)
				return
			}
			t.Flags &^= TicketInTransit
			t.Flags |= TicketAckPend

		case SendNoSend:
			t.FailedTries++
			if t.FailedTries >= c.failedRetries {
				c.finishTicket(t, routing.OutcomeFAIL)
				c.unblock(t.Neighbour)
				return
			}
			time.AfterFunc(DefaultNoSendBackoff, func() {
				t.Flags &^= TicketInTransit
			})

		case SendNoAck:
			t.Tries++
			if t.Tries >= c.retries || t.FailedTries >= c.failedRetries {
				c.finishTicket(t, routing.OutcomeFAIL)
				c.unblock(t.Neighbour)
				return
			}
			t.Flags &^= TicketInTransit | TicketAckPend

		case SendFatal:
			c.finishTicket(t, routing.OutcomeERROR)
	}
}

// sweepTimeouts turns stale peer blocks into SendNoAck results on their
// ACK_PEND tickets (so they either retransmit or give up), and drops
// MULTIPART_RECV tickets idle past the multipart timeout.
func (c *Core) sweepTimeouts() {
	now := time.Now()

	c.mu.Lock()
	var stale []uint64
	for peer, since := range c.blocked {
		if now.Sub(since) > c.clTimeout {
			stale = append(stale, peer)
		}
	}
	c.mu.Unlock()

	for _, peer := range stale {
		c.unblock(peer)
		if t := c.queue.findByPeer(peer, TicketAckPend); t != nil {
			c.Status(t, SendNoAck, false)
		}
	}

	for _, t := range c.queue.list() {
		if t.Flags.Has(TicketMultipartRecv) && now.Sub(t.Timestamp) > c.multipartTimeout {
			c.queue.remove(t)
		}
	}
}

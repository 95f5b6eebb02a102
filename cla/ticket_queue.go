// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cla

import "sync"

// ticketQueue is the priority queue: HIGH tickets (multipart receive) are
// prepended and never refused up to capacity; NORMAL tickets (bundle
// forward) are refused once free slots are down to the reserved fraction.
// ACK and NACK frames do not pass through this queue: they are sent
// directly on the link adapter and never occupy a ticket.
type ticketQueue struct {
	mu sync.Mutex
	tickets []*Ticket
	capacity int
	reserve int
}

// newTicketQueue creates a queue of capacity slots, reserving
// reserveFrac*capacity of them (rounded up) for HIGH-priority tickets.
func newTicketQueue(capacity int, reserveFrac float64) *ticketQueue {
	reserve := int(float64(capacity)*reserveFrac + 0.999999)
	return &ticketQueue{capacity: capacity, reserve: reserve}
}

// push inserts t, prepending HIGH-priority tickets ahead of everything
// else. NORMAL tickets are refused with ErrQueueFull once no more than
// reserve slots remain free.
func (q *ticketQueue) push(t *Ticket, priority Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if priority == PriorityHigh {
		if len(q.tickets) >= q.capacity {
			return ErrQueueFull
		}
		q.tickets = append([]*Ticket{t}, q.tickets...)
		return nil
	}

	if q.capacity-len(q.tickets) <= q.reserve {
		return ErrQueueFull
	}
	q.tickets = append(q.tickets, t)
	return nil
}

// list returns a snapshot of every ticket currently queued.
func (q *ticketQueue) list() []*Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Ticket, len(q.tickets))
	copy(out, q.tickets)
	return out
}

// remove drops t from the queue, if present.
func (q *ticketQueue) remove(t *Ticket) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, cur := range q.tickets {
		if cur == t {
			q.tickets = append(q.tickets[:i], q.tickets[i+1:]...)
			return
		}
	}
}

// findByPeer returns the first ticket for peer whose flags include want,
// if any.
func (q *ticketQueue) findByPeer(peer uint64, want TicketFlags) *Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.tickets {
		if t.Neighbour == peer && t.Flags.Has(want) {
			return t
		}
	}
	return nil
}

// findMultipartRecv returns peer's in-progress MULTIPART_RECV ticket, if
// any.
func (q *ticketQueue) findMultipartRecv(peer uint64) *Ticket {
	return q.findByPeer(peer, TicketMultipartRecv)
}

// next returns the next ticket eligible for work: HIGH-priority tickets
// sort first by construction. ACK_PEND tickets are skipped (they wait on
// an ACK, not the scheduler), MULTIPART_RECV tickets are receive state and
// never scheduled, and a ticket whose peer is currently blocked is skipped
// too.
func (q *ticketQueue) next(isBlocked func(peer uint64) bool) *Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.tickets {
		if t.Flags.Has(TicketAckPend) || t.Flags.Has(TicketDone) || t.Flags.Has(TicketMultipartRecv) {
			continue
		}
		if isBlocked(t.Neighbour) {
			continue
		}
		return t
	}
	return nil
}

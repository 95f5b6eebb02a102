// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package core

import "sync/atomic"

// Stats holds the node's traffic counters, updated from whatever goroutine
// observes the event and read by the debug endpoint.
type Stats struct {
	generated uint64
	received uint64
	delivered uint64
	dropped uint64
	reports uint64
}

func (s *Stats) addGenerated() { atomic.AddUint64(&s.generated, 1) }
func (s *Stats) addReceived() { atomic.AddUint64(&s.received, 1) }
func (s *Stats) addDelivered() { atomic.AddUint64(&s.delivered, 1) }
func (s *Stats) addDropped() { atomic.AddUint64(&s.dropped, 1) }
func (s *Stats) addReports() { atomic.AddUint64(&s.reports, 1) }

// StatsSnapshot is a point-in-time copy of every counter.
type StatsSnapshot struct {
	Generated uint64 `json:"generated"`
	Received uint64 `json:"received"`
	Delivered uint64 `json:"delivered"`
	Dropped uint64 `json:"dropped"`
	Reports uint64 `json:"reports"`
}

// Snapshot returns a consistent-enough copy for reporting.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Generated: atomic.LoadUint64(&s.generated),
		Received: atomic.LoadUint64(&s.received),
		Delivered: atomic.LoadUint64(&s.delivered),
		Dropped: atomic.LoadUint64(&s.dropped),
		Reports: atomic.LoadUint64(&s.reports),
	}
}

// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// BeaconSender transmits an encoded beacon on every attached link. It is
// satisfied by a thin wrapper around each cla.LinkAdapter's SendDiscovery.
type BeaconSender interface {
	SendDiscovery(payload []byte) error
}

// Scheduler drives when beacons go out and, on duty-cycled hardware, when
// the radio should even be listening. Run blocks until stop is closed.
type Scheduler interface {
	Run(stop <-chan struct{})
}

// nextBeacon builds and sends one beacon, advancing seq, logging but not
// otherwise acting on a send failure -- discovery is inherently
// best-effort, so a single failed broadcast just waits for the next cycle.
func nextBeacon(sender BeaconSender, self func() Beacon, seq *uint16) {
	b := self()
	b.SeqNo = *seq
	*seq++

	if err := sender.SendDiscovery(b.Encode()); err != nil {
		log.WithError(err).Debug("discovery: beacon send failed")
	}
}

// AlwaysOn sends a beacon every Interval for as long as the radio is kept
// powered on, the simplest scheduler variant and the right choice for
// mains-powered or always-listening nodes.
type AlwaysOn struct {
	Interval time.Duration
	Self func() Beacon
	Sender BeaconSender
}

// Run implements Scheduler.
func (s *AlwaysOn) Run(stop <-chan struct{}) {
	var seq uint16
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
			case <-stop:
				return
			case <-ticker.C:
				nextBeacon(s.Sender, s.Self, &seq)
		}
	}
}

// Periodic sends a short burst of BurstCount beacons spaced BurstGap apart,
// once every Interval, then lets the radio idle for the remainder of the
// cycle -- a fixed duty cycle for battery-powered nodes that still want a
// bounded discovery latency.
type Periodic struct {
	Interval time.Duration
	BurstCount int
	BurstGap time.Duration
	Self func() Beacon
	Sender BeaconSender
}

// Run implements Scheduler.
func (s *Periodic) Run(stop <-chan struct{}) {
	var seq uint16
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	burst := func() {
		count := s.BurstCount
		if count < 1 {
			count = 1
		}
		for i := 0; i < count; i++ {
			nextBeacon(s.Sender, s.Self, &seq)
			if i < count-1 {
				select {
					case <-stop:
						return
					case <-time.After(s.BurstGap):
				}
			}
		}
	}

	burst()
	for {
		select {
			case <-stop:
				return
			case <-ticker.C:
				burst()
		}
	}
}

// Slot is one entry of a Pattern schedule: beacon for On, then stay silent
// for Off.
type Slot struct {
	On time.Duration
	Off time.Duration
}

// Pattern cycles through a fixed sequence of {on, off} slots, repeating
// from the start once it reaches the end -- for nodes following a
// pre-agreed rendezvous pattern with their neighbours rather than a flat
// duty cycle.
type Pattern struct {
	Slots []Slot
	BeaconGap time.Duration
	Self func() Beacon
	Sender BeaconSender
}

// Run implements Scheduler.
func (s *Pattern) Run(stop <-chan struct{}) {
	if len(s.Slots) == 0 {
		return
	}

	var seq uint16
	gap := s.BeaconGap
	if gap <= 0 {
		gap = time.Second
	}

	for i := 0; ; i = (i + 1) % len(s.Slots) {
		slot := s.Slots[i]

		deadline := time.Now().Add(slot.On)
		for time.Now().Before(deadline) {
			nextBeacon(s.Sender, s.Self, &seq)
			select {
				case <-stop:
					return
				case <-time.After(gap):
			}
		}

		select {
			case <-stop:
				return
			case <-time.After(slot.Off):
		}
	}
}

// RadioDutyCycler gates a physical radio's power state around a Scheduler,
// for link drivers (like 802.15.4 transceivers) that must be explicitly
// turned on before beaconing or receiving and off afterward to save power.
// It defers to the wrapped Scheduler entirely for beacon timing, only
// wrapping Run with power-up/power-down calls and holding the radio awake
// for Settle after the last scheduled activity to absorb a trailing ACK.
type RadioDutyCycler struct {
	Scheduler Scheduler
	PowerOn func() error
	PowerOff func() error
	Settle time.Duration
}

// Run implements Scheduler.
func (r *RadioDutyCycler) Run(stop <-chan struct{}) {
	if r.PowerOn != nil {
		if err := r.PowerOn(); err != nil {
			log.WithError(err).Warn("discovery: radio power-on failed")
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Scheduler.Run(stop)
	}()
	<-done

	if r.Settle > 0 {
		time.Sleep(r.Settle)
	}
	if r.PowerOff != nil {
		if err := r.PowerOff(); err != nil {
			log.WithError(err).Warn("discovery: radio power-off failed")
		}
	}
}

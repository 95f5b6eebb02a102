// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bundle

// AgeMS computes the bundle's current age in milliseconds.
// If the bundle carries a non-zero creation timestamp and clock is
// trustworthy, age derives from wall-clock DTN time, clamped to zero when
// the local clock appears to be behind the creation timestamp. Otherwise
// age falls back to the accumulated age-extension value plus elapsed
// local ticks since RecTime.
func (b *Bundle) AgeMS(clock Clock) uint64 {
	if b.CreationTimestamp != 0 && clock.Good() {
		seconds, micros := clock.DTNTime()
		if seconds < b.CreationTimestamp {
			return 0
		}
		return (seconds-b.CreationTimestamp)*1000 + micros/1000
	}

	hz := clock.TickHz()
	if hz == 0 {
		return b.AEBValueMS
	}

	elapsedTicks := clock.Ticks() - b.RecTime
	return b.AEBValueMS + elapsedTicks*1000/hz
}

// Expired reports whether the bundle's age exceeds its declared lifetime.
// A lifetime of zero never admits a positive age, so such bundles count as
// expired from the start.
func (b *Bundle) Expired(clock Clock) bool {
	if b.LifetimeSec == 0 {
		return true
	}
	return b.AgeMS(clock)/1000 > b.LifetimeSec
}

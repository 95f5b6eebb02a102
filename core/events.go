// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package core

import (
	"github.com/dtn7/udtn/bundle"
	"github.com/dtn7/udtn/discovery"
)

// event is one typed message on the agent's event loop.
type event interface {
	isEvent()
}

// sendBundleEvent asks the agent to complete and store a locally created
// bundle.
type sendBundleEvent struct {
	bundle *bundle.Bundle
	notify chan SendOutcome
}

// bundleInStorageEvent reports that storage accepted a bundle, so routing
// should start tracking it.
type bundleInStorageEvent struct {
	bundleNumber uint32
	dest bundle.EndpointID
	src bundle.EndpointID
	receivedFrom uint64
	singleton bool
}

// beaconEvent carries one decoded discovery beacon, plus the transport
// source address where the link has one.
type beaconEvent struct {
	beacon discovery.Beacon
	addr string
}

// processingFinishedEvent reports that a service task has consumed a
// locally delivered bundle.
type processingFinishedEvent struct {
	bundle *bundle.Bundle
}

func (sendBundleEvent) isEvent() {}
func (bundleInStorageEvent) isEvent() {}
func (beaconEvent) isEvent() {}
func (processingFinishedEvent) isEvent() {}

// SendOutcome is what a Submit caller receives on its notify channel: the
// stored bundle number, or the error that kept the bundle out of storage.
type SendOutcome struct {
	BundleNumber uint32
	Err error
}

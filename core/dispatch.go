// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package core

import (
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/udtn/bundle"
	"github.com/dtn7/udtn/bundle/arecord"
	"github.com/dtn7/udtn/bundleslot"
	"github.com/dtn7/udtn/cla"
	"github.com/dtn7/udtn/storage"
)

// onInboundBundle is the callback every convergence layer hands
// reassembled bundles to. It runs on a CL receive goroutine; the returned
// ack type is what the sending peer sees. The decoded bundle is bound to
// the slot pool for the duration of dispatch, so a node out of slots
// pushes back on its peers with a temporary NACK instead of decoding
// without bound.
func (a *Agent) onInboundBundle(peer uint64, rssi int8, hasRSSI bool, b *bundle.Bundle) cla.AckType {
	if err := b.AttachSlot(a.pool); err != nil {
		log.WithError(err).WithField("peer", peer).Debug("core: no slot for inbound bundle")
		return cla.AckTypeNackTemporary
	}
	defer func() { _ = b.Release() }()

	b.MSrc = strconv.FormatUint(peer, 10)
	b.RSSI = rssi
	b.HasRSSI = hasRSSI
	b.RecTime = a.clock.Ticks()

	return a.Dispatch(b, peer)
}

// Dispatch classifies one inbound bundle: administrative records for this
// node are consumed, duplicates are silently acknowledged, everything else
// lands in storage with routing notified. The returned ack type reflects
// the outcome the way the convergence layer reports it to the peer:
// temporary NACK for resource exhaustion, permanent NACK for terminal
// refusals.
func (a *Agent) Dispatch(b *bundle.Bundle, fromPeer uint64) cla.AckType {
	if b.IsAdminRecord() && b.DestNode == a.nodeID {
		a.consumeAdminRecord(b)
		return cla.AckTypeAck
	}

	// Custody transfer is not implemented; a custody-requested bundle is
	// forwarded like any other.

	if err := b.CheckValid(); err != nil {
		log.WithError(err).WithField("peer", fromPeer).Warn("core: dropping invalid bundle")
		a.stats.addDropped()
		return cla.AckTypeNack
	}

	if b.Expired(a.clock) {
		log.WithField("peer", fromPeer).Debug("core: dropping expired bundle")
		a.stats.addDropped()
		return cla.AckTypeNack
	}

	n := b.Number()
	if a.filter.Check(n) {
		log.WithField("bundle", n).Debug("core: redundancy filter hit, acknowledging duplicate")
		return cla.AckTypeAck
	}

	if _, err := a.store.Save(b, a.clock); err != nil {
		a.stats.addDropped()
		switch err {
			case storage.ErrNoRoom, bundleslot.ErrNoFreeSlot:
				log.WithError(err).WithField("bundle", n).Debug("core: no room for inbound bundle")
				return cla.AckTypeNackTemporary
			default:
				log.WithError(err).WithField("bundle", n).Warn("core: could not store inbound bundle")
				return cla.AckTypeNack
		}
	}

	a.stats.addReceived()

	if b.Flags.Has(bundle.StatusRequestReception) {
		a.SendStatusReport(b, arecord.ReceivedByReportingNode, arecord.ReasonNoInfo)
	}

	a.filter.Set(n)
	a.post(bundleInStorageEvent{
			bundleNumber: n,
			dest: b.Destination(),
			src: b.Source(),
			receivedFrom: fromPeer,
			singleton: b.Flags.Has(bundle.IsSingleton),
	})
	return cla.AckTypeAck
}

// consumeAdminRecord handles an administrative record addressed to this
// node. A delivery status report releases the subject bundle from
// storage; a custody signal is only logged, since this agent never takes
// custody.
func (a *Agent) consumeAdminRecord(b *bundle.Bundle) {
	payload, ok := b.Payload()
	if !ok {
		log.Warn("core: administrative record without payload block")
		return
	}

	if sr, err := arecord.Decode(payload.Payload); err == nil {
		if !sr.Flags.Has(arecord.DeliveredToEndpoint) {
			log.WithField("flags", sr.Flags).Debug("core: ignoring non-delivery status report")
			return
		}

		subject := &bundle.Bundle{PrimaryBlock: bundle.PrimaryBlock{
				SrcNode: sr.SubjectSrcNode,
				SrcService: sr.SubjectSrcService,
				CreationTimestamp: sr.SubjectCreationTimestamp,
				CreationSequence: sr.SubjectCreationSequence,
				FragOffset: sr.FragOffset,
		}}
		n := subject.Number()

		if err := a.Delete(n, bundle.ReasonDelivered); err != nil && err != storage.ErrNotFound {
			log.WithError(err).WithField("bundle", n).Debug("core: could not release delivered bundle")
		}
		return
	}

	if cs, err := arecord.DecodeCustodySignal(payload.Payload); err == nil {
		log.WithFields(log.Fields{
				"succeeded": cs.Succeeded,
				"reason": cs.Reason,
		}).Debug("core: ignoring custody signal")
		return
	}

	log.Warn("core: unparseable administrative record")
}

// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package core

import (
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/udtn/bundle"
	"github.com/dtn7/udtn/bundle/arecord"
)

// DefaultReportLifetimeSec bounds how long a status report itself may live
// in the network.
const DefaultReportLifetimeSec = 3600

// SendStatusReport builds a bundle-status administrative record about
// subject and submits it as a fresh agent-originated bundle addressed to
// the subject's report-to endpoint (or its custodian for custody-flavoured
// reports). Reports about our own reports are never generated.
func (a *Agent) SendStatusReport(subject *bundle.Bundle, flag arecord.StatusFlags, reason arecord.ReasonCode) {
	if subject.IsAdminRecord() {
		return
	}

	dest := subject.ReportTo()
	if flag == arecord.CustodyAcceptedByNode {
		dest = subject.Custodian()
	}
	if dest.IsNull() || dest.Node == a.nodeID {
		return
	}

	sr := arecord.StatusReport{
		Flags: flag,
		Reason: reason,
		IsFragment: subject.Flags.Has(bundle.IsFragment),
		FragOffset: subject.FragOffset,
		AppDataLen: subject.AppDataLen,
		SubjectCreationTimestamp: subject.CreationTimestamp,
		SubjectCreationSequence: subject.CreationSequence,
		SubjectSrcNode: subject.SrcNode,
		SubjectSrcService: subject.SrcService,
	}
	if a.clock.Good() {
		sr.Timestamp, _ = a.clock.DTNTime()
	}

	rb, err := a.NewBundle(AgentProcess)
	if err != nil {
		log.WithError(err).Warn("core: no slot for status report")
		return
	}

	rb.Flags = bundle.AdminRecordPayload | bundle.IsSingleton
	rb.SetDestination(dest)
	rb.SetSource(bundle.EndpointID{Node: a.nodeID})
	rb.LifetimeSec = DefaultReportLifetimeSec
	rb.AddBlock(bundle.PayloadBlock, 0, sr.Encode())

	a.stats.addReports()

	log.WithFields(log.Fields{
		"dest": dest,
		"flags": flag,
		"reason": reason,
	}).Debug("core: sending status report")
	a.Submit(rb, nil)
}

// deleteReasonCode maps a storage deletion reason onto the status-report
// reason-code it is reported with.
func deleteReasonCode(reason bundle.DeleteReason) arecord.ReasonCode {
	switch reason {
		case bundle.ReasonLifetimeExpired:
			return arecord.ReasonLifetimeExpired
		case bundle.ReasonUnroutable:
			return arecord.ReasonNoRouteToDest
		case bundle.ReasonDepletedStorage:
			return arecord.ReasonDepletedStorage
		case bundle.ReasonTrafficPared:
			return arecord.ReasonTrafficPared
		default:
			return arecord.ReasonNoInfo
	}
}

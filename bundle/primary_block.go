// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bundle

// Version is the RFC 5050 bundle protocol version byte this codec
// understands.
const Version byte = 0x06

// PrimaryBlock holds the primary-block fields, decoded from
// or destined for SDNV wire encoding. CBHE encodes each endpoint as a pair
// of raw node/service numbers rather than a dictionary reference, so the
// eight endpoint fields below are plain integers; Destination, Source,
// ReportTo and Custodian assemble them into EndpointID values for callers.
// Directory length is always zero (CBHE): there is no dictionary.
type PrimaryBlock struct {
	Flags ControlFlags

	DestNode, DestService uint64
	SrcNode, SrcService uint64
	RepNode, RepService uint64
	CustNode, CustService uint64

	CreationTimestamp uint64
	CreationSequence uint64
	LifetimeSec uint64

	// FragOffset and AppDataLen are present only when Flags has IsFragment
	// set; otherwise both are zero.
	FragOffset uint64
	AppDataLen uint64
}

// Destination returns the destination endpoint as an EndpointID.
func (pb PrimaryBlock) Destination() EndpointID {
	return EndpointID{Node: pb.DestNode, Service: pb.DestService}
}

// Source returns the source endpoint as an EndpointID.
func (pb PrimaryBlock) Source() EndpointID {
	return EndpointID{Node: pb.SrcNode, Service: pb.SrcService}
}

// ReportTo returns the report-to endpoint as an EndpointID.
func (pb PrimaryBlock) ReportTo() EndpointID {
	return EndpointID{Node: pb.RepNode, Service: pb.RepService}
}

// Custodian returns the custodian endpoint as an EndpointID.
func (pb PrimaryBlock) Custodian() EndpointID {
	return EndpointID{Node: pb.CustNode, Service: pb.CustService}
}

// SetDestination sets both destination fields from eid.
func (pb *PrimaryBlock) SetDestination(eid EndpointID) {
	pb.DestNode, pb.DestService = eid.Node, eid.Service
}

// SetSource sets both source fields from eid.
func (pb *PrimaryBlock) SetSource(eid EndpointID) {
	pb.SrcNode, pb.SrcService = eid.Node, eid.Service
}

// SetReportTo sets both report-to fields from eid.
func (pb *PrimaryBlock) SetReportTo(eid EndpointID) {
	pb.RepNode, pb.RepService = eid.Node, eid.Service
}

// SetCustodian sets both custodian fields from eid.
func (pb *PrimaryBlock) SetCustodian(eid EndpointID) {
	pb.CustNode, pb.CustService = eid.Node, eid.Service
}

// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package routing

// ChainTable is the chain routing variant: instead of
// flooding every neighbour, a bundle only moves "up" (to neighbours with a
// higher node id than self) when its destination is above self, or "down"
// when below. ChainTable embeds Table and only overrides neighbourFilter;
// the strike-based blacklist is disabled, so only the flooding variant
// reports peers dead.
type ChainTable struct {
	*Table
}

// NewChainTable creates an empty chain routing table for myNode.
func NewChainTable(myNode uint64, store Store, regs Registrations, neighbours Neighbours, clq CLQueue) *ChainTable {
	t := NewTable(myNode, store, regs, neighbours, clq)
	t.blacklistEnabled = false

	ct := &ChainTable{Table: t}
	t.neighbourFilter = ct.allows
	return ct
}

// allows implements the "up"/"down" neighbour filter. Open
// Questions leave destination_node == source_node undefined; we fall back
// to accepting every neighbour for that bundle (flooding-like behaviour for
// just that entry) rather than silently refusing to forward it -- see
// DESIGN.md.
func (ct *ChainTable) allows(myNode, candidate uint64, e *Entry) bool {
	if e.DestinationNode == e.SourceNode {
		return true
	}
	if e.DestinationNode > myNode {
		return candidate > myNode
	}
	return candidate < myNode
}

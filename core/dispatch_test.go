// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package core

import (
	"testing"

	"github.com/dtn7/udtn/bundle"
	"github.com/dtn7/udtn/bundle/arecord"
	"github.com/dtn7/udtn/bundleslot"
	"github.com/dtn7/udtn/cla"
	"github.com/dtn7/udtn/platform"
	"github.com/dtn7/udtn/storage"
)

// buildDeliveryReport fakes the delivery status report a downstream node
// would send back about subject.
func buildDeliveryReport(subject *bundle.Bundle) *bundle.Bundle {
	sr := arecord.StatusReport{
		Flags: arecord.DeliveredToEndpoint,
		SubjectCreationTimestamp: subject.CreationTimestamp,
		SubjectCreationSequence: subject.CreationSequence,
		SubjectSrcNode: subject.SrcNode,
		SubjectSrcService: subject.SrcService,
	}

	rb := &bundle.Bundle{}
	rb.Flags = bundle.AdminRecordPayload | bundle.IsSingleton
	rb.SetDestination(bundle.EndpointID{Node: 2})
	rb.SetSource(bundle.EndpointID{Node: 9})
	rb.LifetimeSec = 3600
	rb.AddBlock(bundle.PayloadBlock, 0, sr.Encode())
	return rb
}

func newTestAgent(nodeID uint64, capacity int) (*Agent, *platform.FakeClock) {
	clock := platform.NewFakeClock(1000)
	pool := bundleslot.New(capacity + 8)
	store := storage.NewMemoryStore(capacity, storage.NeverDelete)
	return NewAgent(nodeID, clock, pool, store, false), clock
}

func inboundBundle(dst, src bundle.EndpointID, lifetime uint64, payload string) *bundle.Bundle {
	b := &bundle.Bundle{}
	b.Flags = bundle.IsSingleton
	b.SetDestination(dst)
	b.SetSource(src)
	b.LifetimeSec = lifetime
	b.AddBlock(bundle.PayloadBlock, 0, []byte(payload))
	return b
}

func TestDispatchStoresFreshBundle(t *testing.T) {
	a, _ := newTestAgent(2, 8)

	b := inboundBundle(bundle.EndpointID{Node: 2, Service: 7}, bundle.EndpointID{Node: 1, Service: 7}, 3600, "hi")
	if res := a.Dispatch(b, 1); res != cla.AckTypeAck {
		t.Fatalf("expected ACK for fresh bundle, got %v", res)
	}

	if a.store.Count() != 1 {
		t.Fatalf("expected exactly one stored entry, got %d", a.store.Count())
	}
	if a.store.List()[0].BundleNumber != b.BundleNumber {
		t.Error("stored entry does not carry the bundle's own number")
	}
}

func TestDispatchDuplicateSuppressedButAcked(t *testing.T) {
	a, _ := newTestAgent(2, 8)

	b := inboundBundle(bundle.EndpointID{Node: 2, Service: 7}, bundle.EndpointID{Node: 1, Service: 7}, 3600, "hi")
	if res := a.Dispatch(b, 1); res != cla.AckTypeAck {
		t.Fatalf("first dispatch: %v", res)
	}

	dup := inboundBundle(bundle.EndpointID{Node: 2, Service: 7}, bundle.EndpointID{Node: 1, Service: 7}, 3600, "hi")
	if res := a.Dispatch(dup, 1); res != cla.AckTypeAck {
		t.Fatalf("expected duplicate to still be ACKed, got %v", res)
	}

	if a.store.Count() != 1 {
		t.Errorf("duplicate must not create a second entry, got %d", a.store.Count())
	}
}

func TestDispatchExpiredBundleNacked(t *testing.T) {
	a, clock := newTestAgent(2, 8)
	clock.Advance(10_000_000_000) // 10 s of ticks before arrival

	b := inboundBundle(bundle.EndpointID{Node: 2}, bundle.EndpointID{Node: 1}, 1, "late")
	b.AEBValueMS = 5000

	if res := a.Dispatch(b, 1); res != cla.AckTypeNack {
		t.Fatalf("expected permanent NACK for expired bundle, got %v", res)
	}
	if a.store.Count() != 0 {
		t.Error("expired bundle must not be stored")
	}
}

func TestDispatchNoRoomTemporaryNack(t *testing.T) {
	a, _ := newTestAgent(2, 1)

	first := inboundBundle(bundle.EndpointID{Node: 3}, bundle.EndpointID{Node: 1, Service: 1}, 3600, "one")
	if res := a.Dispatch(first, 1); res != cla.AckTypeAck {
		t.Fatalf("first dispatch: %v", res)
	}

	second := inboundBundle(bundle.EndpointID{Node: 3}, bundle.EndpointID{Node: 1, Service: 2}, 3600, "two")
	if res := a.Dispatch(second, 1); res != cla.AckTypeNackTemporary {
		t.Fatalf("expected temporary NACK once storage is full, got %v", res)
	}
}

func TestDispatchInvalidBundleNacked(t *testing.T) {
	a, _ := newTestAgent(2, 8)

	b := &bundle.Bundle{}
	b.SetDestination(bundle.EndpointID{Node: 2})
	b.SetSource(bundle.EndpointID{Node: 1})
	b.LifetimeSec = 3600
	// No payload block at all.

	if res := a.Dispatch(b, 1); res != cla.AckTypeNack {
		t.Fatalf("expected NACK for payload-less bundle, got %v", res)
	}
}

func TestConsumeDeliveryReportReleasesSubject(t *testing.T) {
	a, _ := newTestAgent(2, 8)

	subject := inboundBundle(bundle.EndpointID{Node: 9, Service: 1}, bundle.EndpointID{Node: 2, Service: 1}, 3600, "data")
	subject.CreationSequence = 5
	if res := a.Dispatch(subject, 0); res != cla.AckTypeAck {
		t.Fatalf("subject dispatch: %v", res)
	}
	if a.store.Count() != 1 {
		t.Fatal("subject must be stored")
	}

	report := buildDeliveryReport(subject)
	if res := a.Dispatch(report, 9); res != cla.AckTypeAck {
		t.Fatalf("report dispatch: %v", res)
	}

	if a.store.Count() != 0 {
		t.Error("delivery report should have released the subject bundle")
	}
}

func TestDispatchStoresWithReceptionReport(t *testing.T) {
	a, _ := newTestAgent(2, 8)

	b := inboundBundle(bundle.EndpointID{Node: 2, Service: 7}, bundle.EndpointID{Node: 1, Service: 7}, 3600, "hi")
	b.Flags |= bundle.StatusRequestReception
	b.SetReportTo(bundle.EndpointID{Node: 1, Service: 7})

	if res := a.Dispatch(b, 1); res != cla.AckTypeAck {
		t.Fatalf("dispatch: %v", res)
	}
	if got := a.stats.Snapshot().Reports; got != 1 {
		t.Errorf("expected one reception report generated, got %d", got)
	}
}

func TestInboundTempNackWhenSlotsExhausted(t *testing.T) {
	clock := platform.NewFakeClock(1000)
	pool := bundleslot.New(1)
	store := storage.NewMemoryStore(4, storage.NeverDelete)
	a := NewAgent(2, clock, pool, store, false)

	// Occupy the only slot so the inbound path has nothing to bind to.
	if _, err := pool.GetFree(); err != nil {
		t.Fatal(err)
	}

	b := inboundBundle(bundle.EndpointID{Node: 2, Service: 7}, bundle.EndpointID{Node: 1, Service: 7}, 3600, "starved")
	if res := a.onInboundBundle(1, 0, false, b); res != cla.AckTypeNackTemporary {
		t.Fatalf("expected temporary NACK without a free slot, got %v", res)
	}
	if store.Count() != 0 {
		t.Error("bundle must not be stored without a slot")
	}
}

func TestInboundSlotReleasedAfterDispatch(t *testing.T) {
	clock := platform.NewFakeClock(1000)
	pool := bundleslot.New(4)
	store := storage.NewMemoryStore(4, storage.NeverDelete)
	a := NewAgent(2, clock, pool, store, false)

	b := inboundBundle(bundle.EndpointID{Node: 9, Service: 7}, bundle.EndpointID{Node: 1, Service: 7}, 3600, "transit")
	if res := a.onInboundBundle(1, 0, false, b); res != cla.AckTypeAck {
		t.Fatalf("dispatch: %v", res)
	}

	// The decode-time slot is held only for the duration of dispatch; the
	// stored copy is the encoded image.
	if pool.InUse() != 0 {
		t.Errorf("InUse = %d after dispatch, want 0", pool.InUse())
	}
	if store.Count() != 1 {
		t.Errorf("Count = %d, want 1", store.Count())
	}
}

// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package core is the agent event loop: it owns the process-wide state
// (node id, outgoing creation-sequence counter), wires storage, routing,
// registration, discovery and the convergence layers together, and
// multiplexes their events. All cross-subsystem state changes funnel
// through here as typed events on one channel.
package core

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/udtn/bundle"
	"github.com/dtn7/udtn/bundle/arecord"
	"github.com/dtn7/udtn/bundleslot"
	"github.com/dtn7/udtn/cla"
	"github.com/dtn7/udtn/discovery"
	"github.com/dtn7/udtn/redundancy"
	"github.com/dtn7/udtn/registration"
	"github.com/dtn7/udtn/routing"
	"github.com/dtn7/udtn/storage"
)

// AgentProcess is the SourceProcess name of bundles the agent itself
// originates (status reports and other administrative records).
const AgentProcess = "agent"

// UnregisteredAppID is the sentinel app id for a task without a
// registration. A service could in principle register this very value;
// such a registration cannot submit bundles.
const UnregisteredAppID uint64 = 0xFFFF

// sweepInterval paces the discovery neighbour-timeout sweep.
const sweepInterval = time.Second

// clBinding pairs a convergence-layer core with its link adapter, kept so
// the agent can reach adapter-specific extras (peer address learning).
type clBinding struct {
	core *cla.Core
	adapter cla.LinkAdapter
}

// peerLearner is implemented by adapters that map node ids to transport
// addresses (the UDP adapter); the radio adapter has no addresses to
// learn.
type peerLearner interface {
	LearnPeerAddr(node uint64, addr string) error
}

// Agent owns the process-wide state and the event loop.
type Agent struct {
	nodeID uint64
	clock bundle.Clock
	pool *bundleslot.Pool
	store storage.Store

	regs *registration.Table
	rt *routing.Table
	neighbours *discovery.Table
	filter *redundancy.Ring
	stats *Stats

	mu sync.Mutex
	seq uint64
	creators map[string]uint64
	cls []clBinding

	events chan event

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewAgent assembles an agent for nodeID. chain selects the chain routing
// variant instead of flooding.
func NewAgent(nodeID uint64, clock bundle.Clock, pool *bundleslot.Pool, store storage.Store, chain bool) *Agent {
	a := &Agent{
		nodeID: nodeID,
		clock: clock,
		pool: pool,
		store: store,
		regs: registration.NewTable(),
		neighbours: discovery.NewTable(nodeID),
		filter: redundancy.New(redundancy.DefaultCapacity),
		stats: &Stats{},
		creators: make(map[string]uint64),
		events: make(chan event, 128),
	}

	if sp, ok := store.(storage.SlotPooled); ok {
		sp.SetSlotPool(pool)
	}

	if chain {
		a.rt = routing.NewChainTable(nodeID, a, a.regs, a.neighbours, a).Table
	} else {
		a.rt = routing.NewTable(nodeID, a, a.regs, a.neighbours, a)
	}
	a.rt.SetDeadNotifier(a.neighbours)

	a.neighbours.OnDead(func(node uint64) {
		for _, c := range a.cls {
			c.core.NeighbourDown(node)
		}
	})

	return a
}

// NodeID returns the process-wide node identity.
func (a *Agent) NodeID() uint64 {
	return a.nodeID
}

// Routing exposes the routing table, for the debug endpoint.
func (a *Agent) Routing() *routing.Table {
	return a.rt
}

// Neighbours exposes the discovery neighbour table.
func (a *Agent) Neighbours() *discovery.Table {
	return a.neighbours
}

// Store exposes the bundle storage, for the debug endpoint.
func (a *Agent) Store() storage.Store {
	return a.store
}

// Stats exposes the agent's counters.
func (a *Agent) Stats() *Stats {
	return a.stats
}

// AttachAdapter binds a link adapter to this agent through a fresh
// convergence-layer core. Must be called before Start.
func (a *Agent) AttachAdapter(adapter cla.LinkAdapter) (*cla.Core, error) {
	if err := adapter.Init(); err != nil {
		return nil, err
	}

	c := cla.NewCore(adapter, a.rt, a, a.clock, a.onInboundBundle)
	c.SetDiscoveryHandler(a.onDiscoveryFrame)
	c.SetForwardedHandler(a.onForwarded)

	a.mu.Lock()
	a.cls = append(a.cls, clBinding{core: c, adapter: adapter})
	a.mu.Unlock()
	return c, nil
}

// SendBundle implements routing.CLQueue across every attached link: the
// first adapter that accepts the ticket wins.
func (a *Agent) SendBundle(neighbour uint64, bundleNumber uint32) error {
	a.mu.Lock()
	cls := append([]clBinding(nil), a.cls...)
	a.mu.Unlock()

	var lastErr error = errNoAdapter
	for _, c := range cls {
		if err := c.core.SendBundle(neighbour, bundleNumber); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// Read implements routing.Store by delegation.
func (a *Agent) Read(n uint32) (*bundle.Bundle, error) {
	return a.store.Read(n)
}

// Delete implements routing.Store: before removal it synthesizes a
// deletion status report when the bundle asked for one (suppressed for
// reason DELIVERED), then purges routing and CL state for the number.
func (a *Agent) Delete(n uint32, reason bundle.DeleteReason) error {
	if reason != bundle.ReasonDelivered {
		if b, err := a.store.Read(n); err == nil {
			if b.Flags.Has(bundle.StatusRequestDeletion) || b.Flags.Has(bundle.CustodyRequested) {
				a.SendStatusReport(b, arecord.DeletedFromStorage, deleteReasonCode(reason))
			}
			_ = b.Release()
		}
	}

	err := a.store.Delete(n, reason)
	if err != nil {
		return err
	}

	a.purge(n)
	return nil
}

// purge drops every trace of bundle number n outside storage.
func (a *Agent) purge(n uint32) {
	a.rt.Purge(n)

	a.mu.Lock()
	cls := append([]clBinding(nil), a.cls...)
	a.mu.Unlock()
	for _, c := range cls {
		c.core.PurgeBundle(n)
	}
}

// Register maps a task name to a local service endpoint and returns the
// inbox channel bundles for that service are delivered on. Registering
// the same app id twice yields the existing registration.
func (a *Agent) Register(name string, appID uint64) chan *bundle.Bundle {
	inbox := make(chan *bundle.Bundle, 1)
	r := a.regs.Register(a.nodeID, appID, registration.Active, inbox)

	a.mu.Lock()
	a.creators[name] = appID
	a.mu.Unlock()

	log.WithFields(log.Fields{"name": name, "app": appID}).Info("core: registered service")
	a.rt.NewNeighbour(a.nodeID)
	return r.Inbox
}

// Deregister removes a task's registration.
func (a *Agent) Deregister(name string, appID uint64) {
	a.regs.Deregister(a.nodeID, appID)
	a.mu.Lock()
	delete(a.creators, name)
	a.mu.Unlock()
}

// SetStatus switches a registration between active and passive.
func (a *Agent) SetStatus(appID uint64, status registration.Status) {
	a.regs.SetStatus(a.nodeID, appID, status)
}

// NewBundle allocates a slot-backed bundle on behalf of creator.
func (a *Agent) NewBundle(creator string) (*bundle.Bundle, error) {
	return bundle.New(a.pool, a.clock, creator)
}

// Submit hands a locally created bundle to the agent for sending. The
// optional notify channel receives the outcome once the event loop has
// processed it.
func (a *Agent) Submit(b *bundle.Bundle, notify chan SendOutcome) {
	a.post(sendBundleEvent{bundle: b, notify: notify})
}

// SendToNode is the convenience path: build a singleton payload bundle
// from creator to dst and submit it.
func (a *Agent) SendToNode(creator string, dst bundle.EndpointID, lifetimeSec uint64, payload []byte) error {
	b, err := a.NewBundle(creator)
	if err != nil {
		return err
	}

	b.Flags = bundle.IsSingleton
	b.SetDestination(dst)
	b.LifetimeSec = lifetimeSec
	b.AddBlock(bundle.PayloadBlock, 0, payload)

	a.Submit(b, nil)
	return nil
}

// ProcessingFinished is called by a service task once it has consumed a
// delivered bundle.
func (a *Agent) ProcessingFinished(b *bundle.Bundle) {
	a.post(processingFinishedEvent{bundle: b})
}

// post enqueues ev without ever blocking the caller; a full event queue
// drops the event and logs, since every subsystem also recovers state on
// its own timers.
func (a *Agent) post(ev event) {
	select {
		case a.events <- ev:
		default:
			log.WithField("event", ev).Warn("core: event queue full, dropping event")
	}
}

// Start launches the event loop, the routing worker and every attached
// convergence layer.
func (a *Agent) Start() {
	a.stopSyn = make(chan struct{})
	a.stopAck = make(chan struct{})

	a.mu.Lock()
	cls := append([]clBinding(nil), a.cls...)
	a.mu.Unlock()
	for _, c := range cls {
		c.core.RunRX()
		go c.core.Run(a.stopSyn)
	}

	go a.routingWorker()
	go a.run()
}

// Close stops the event loop and waits for it to acknowledge.
func (a *Agent) Close() {
	close(a.stopSyn)
	<-a.stopAck
}

func (a *Agent) routingWorker() {
	for {
		select {
			case <-a.stopSyn:
				return
			case <-a.rt.Wake():
				a.rt.WorkCycle()
		}
	}
}

func (a *Agent) run() {
	defer close(a.stopAck)

	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	var deletions <-chan uint32
	if dn, ok := a.store.(storage.DeleteNotifier); ok {
		deletions = dn.Deletions()
	}

	for {
		select {
			case <-a.stopSyn:
				return

			case ev := <-a.events:
				a.handle(ev)

			case n := <-deletions:
				a.purge(n)

			case <-sweep.C:
				a.neighbours.Sweep(time.Now())
		}
	}
}

func (a *Agent) handle(ev event) {
	switch e := ev.(type) {
		case sendBundleEvent:
			a.handleSendBundle(e)
		case bundleInStorageEvent:
			a.handleBundleInStorage(e)
		case beaconEvent:
			a.handleBeacon(e)
		case processingFinishedEvent:
			a.handleProcessingFinished(e)
	}
}

// handleSendBundle validates and completes a locally submitted bundle,
// assigns its creation sequence and saves it.
func (a *Agent) handleSendBundle(e sendBundleEvent) {
	b := e.bundle

	appID := a.creatorAppID(b.SourceProcess)
	if appID == UnregisteredAppID && b.SourceProcess != AgentProcess {
		log.WithField("creator", b.SourceProcess).Warn("core: bundle from unregistered task")
		a.notifySend(e.notify, SendOutcome{Err: errUnregisteredCreator})
		_ = b.Release()
		return
	}

	if b.SrcService == 0 && appID != UnregisteredAppID {
		b.SrcService = appID
	}
	b.SrcNode = a.nodeID

	if b.Flags&bundle.StatusReportFlags != 0 {
		if b.RepService == 0 && appID != UnregisteredAppID {
			b.RepService = appID
		}
		if b.RepNode == 0 {
			b.RepNode = a.nodeID
		}
	}

	if b.CreationTimestamp == 0 && a.clock.Good() {
		seconds, _ := a.clock.DTNTime()
		b.CreationTimestamp = seconds
	}

	a.mu.Lock()
	b.CreationSequence = a.seq
	a.seq++
	a.mu.Unlock()

	n, err := a.store.Save(b, a.clock)
	if err != nil {
		a.mu.Lock()
		a.seq--
		a.mu.Unlock()

		log.WithError(err).WithField("creator", b.SourceProcess).Warn("core: could not store outgoing bundle")
		a.notifySend(e.notify, SendOutcome{Err: err})
		_ = b.Release()
		return
	}

	a.stats.addGenerated()
	a.notifySend(e.notify, SendOutcome{BundleNumber: n})

	a.post(bundleInStorageEvent{
			bundleNumber: n,
			dest: b.Destination(),
			src: b.Source(),
			singleton: b.Flags.Has(bundle.IsSingleton),
	})
	_ = b.Release()
}

func (a *Agent) handleBundleInStorage(e bundleInStorageEvent) {
	err := a.rt.NewBundle(e.bundleNumber, e.dest, e.src, e.receivedFrom, e.singleton)
	if err != nil && err != routing.ErrAlreadyTracked {
		log.WithError(err).WithField("bundle", e.bundleNumber).Warn("core: routing refused bundle")
	}
}

func (a *Agent) handleBeacon(e beaconEvent) {
	a.neighbours.Observe(e.beacon, time.Now())

	if e.addr != "" {
		a.mu.Lock()
		cls := append([]clBinding(nil), a.cls...)
		a.mu.Unlock()
		for _, c := range cls {
			if pl, ok := c.adapter.(peerLearner); ok {
				if err := pl.LearnPeerAddr(e.beacon.EID.Node, e.addr); err != nil {
					log.WithError(err).Debug("core: could not learn peer address")
				}
			}
		}
	}

	a.rt.NewNeighbour(e.beacon.EID.Node)
}

func (a *Agent) handleProcessingFinished(e processingFinishedEvent) {
	b := e.bundle

	a.regs.UnblockService(a.nodeID, b.DestService)
	a.rt.LocallyDelivered(b.Number())
	a.stats.addDelivered()

	if b.Flags.Has(bundle.StatusRequestDelivery) {
		a.SendStatusReport(b, arecord.DeliveredToEndpoint, arecord.ReasonNoInfo)
	}

	_ = b.Release()
}

func (a *Agent) creatorAppID(name string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id, ok := a.creators[name]; ok {
		return id
	}
	return UnregisteredAppID
}

func (a *Agent) notifySend(notify chan SendOutcome, outcome SendOutcome) {
	if notify == nil {
		return
	}
	select {
		case notify <- outcome:
		default:
	}
}

// onForwarded emits a forwarded status report for bundles that requested
// one, after a peer fully acknowledged the transfer.
func (a *Agent) onForwarded(bundleNumber uint32, peer uint64) {
	b, err := a.store.Read(bundleNumber)
	if err != nil {
		return
	}
	if b.Flags.Has(bundle.StatusRequestForward) {
		a.SendStatusReport(b, arecord.ForwardedByReportingNode, arecord.ReasonNoInfo)
	}
	_ = b.Release()
}

// onDiscoveryFrame runs on a CL receive goroutine; it decodes the beacon
// and defers the table update to the event loop.
func (a *Agent) onDiscoveryFrame(f *cla.Frame) {
	beacon, err := discovery.DecodeBeacon(f.Payload)
	if err != nil {
		log.WithError(err).Debug("core: dropping malformed beacon")
		return
	}
	a.post(beaconEvent{beacon: beacon, addr: f.Addr})
}

type coreError struct{ msg string }

func (e coreError) Error() string { return e.msg }

var (
	errUnregisteredCreator = coreError{"core: creating task has no registration"}
	errNoAdapter = coreError{"core: no link adapter attached"}
)

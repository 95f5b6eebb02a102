// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/udtn/bundle"
	"github.com/dtn7/udtn/bundleslot"
	"github.com/dtn7/udtn/cla"
	"github.com/dtn7/udtn/cla/link154"
	"github.com/dtn7/udtn/cla/linkudp"
	"github.com/dtn7/udtn/core"
	"github.com/dtn7/udtn/discovery"
	"github.com/dtn7/udtn/platform"
	"github.com/dtn7/udtn/storage"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Core coreConf
	Logging logConf
	Discovery discoveryConf
	Debug debugConf
	Listen []convergenceConf
}

// coreConf describes the Core-configuration block.
type coreConf struct {
	NodeID uint64 `toml:"node-id"`
	Store string
	StoreCapacity int `toml:"store-capacity"`
	Eviction string
	SlotPool int `toml:"slot-pool"`
	ChainRouting bool `toml:"chain-routing"`
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level string
	ReportCaller bool `toml:"report-caller"`
	Format string
}

// discoveryConf describes the Discovery-configuration block.
type discoveryConf struct {
	Scheduler string
	IntervalSec uint `toml:"interval"`
	BurstCount int `toml:"burst-count"`
	BurstGapSec uint `toml:"burst-gap"`
	NeighbourTimeoutSec uint `toml:"neighbour-timeout"`
}

// debugConf describes the optional Debug endpoint block.
type debugConf struct {
	Address string
	Websocket bool
}

// convergenceConf describes one Listen block: an attached link.
type convergenceConf struct {
	Protocol string
	Endpoint string
	Mtu int
	Compress bool
}

// parseLogging configures logrus from the Logging block, following the
// same knobs the configuration file has always exposed.
func parseLogging(conf logConf) error {
	if conf.Level != "" {
		level, err := log.ParseLevel(conf.Level)
		if err != nil {
			return err
		}
		log.SetLevel(level)
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
		case "", "text":
			log.SetFormatter(&log.TextFormatter{DisableTimestamp: false})
		case "json":
			log.SetFormatter(&log.JSONFormatter{})
		default:
			return fmt.Errorf("unknown logging format %q", conf.Format)
	}
	return nil
}

func parseEviction(name string) (storage.EvictionPolicy, error) {
	switch name {
		case "", "never":
			return storage.NeverDelete, nil
		case "oldest":
			return storage.DeleteOldest, nil
		case "youngest":
			return storage.DeleteYoungest, nil
		case "older":
			return storage.DeleteOlder, nil
		case "younger":
			return storage.DeleteYounger, nil
		default:
			return storage.NeverDelete, fmt.Errorf("unknown eviction policy %q", name)
	}
}

// parseListen builds the link adapter a Listen block describes.
func parseListen(conf convergenceConf, nodeID uint64) (cla.LinkAdapter, error) {
	log.WithFields(log.Fields{
		"protocol": conf.Protocol,
		"endpoint": conf.Endpoint,
	}).Debug("initialising link adapter")

	switch conf.Protocol {
		case "udp":
			mtu := conf.Mtu
			if mtu == 0 {
				mtu = 1472
			}
			return linkudp.NewAdapter(nodeID, mtu), nil

		case "rf95":
			modem, err := link154.NewRf95Modem(conf.Endpoint)
			if err != nil {
				return nil, err
			}
			return link154.NewAdapter(modem, nodeID, conf.Compress), nil

		default:
			return nil, fmt.Errorf("unknown listen protocol %q", conf.Protocol)
	}
}

// parseScheduler builds the discovery scheduler variant the Discovery
// block selects.
func parseScheduler(conf discoveryConf, sender discovery.BeaconSender, self func() discovery.Beacon) (discovery.Scheduler, error) {
	interval := time.Duration(conf.IntervalSec) * time.Second
	if interval == 0 {
		interval = 5 * time.Second
	}

	switch conf.Scheduler {
		case "", "always-on":
			return &discovery.AlwaysOn{Interval: interval, Self: self, Sender: sender}, nil

		case "periodic":
			gap := time.Duration(conf.BurstGapSec) * time.Second
			if gap == 0 {
				gap = time.Second
			}
			return &discovery.Periodic{
					Interval: interval,
					BurstCount: conf.BurstCount,
					BurstGap: gap,
					Self: self,
					Sender: sender,
			}, nil

		default:
			return nil, fmt.Errorf("unknown discovery scheduler %q", conf.Scheduler)
	}
}

// parseCore assembles the whole node from the configuration file.
func parseCore(filename string) (agent *core.Agent, scheduler discovery.Scheduler, debug *debugConf, err error) {
	var conf tomlConfig
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	if err = parseLogging(conf.Logging); err != nil {
		return
	}

	if conf.Core.NodeID == 0 {
		err = fmt.Errorf("core.node-id must be a non-zero ipn node number")
		return
	}

	policy, err := parseEviction(conf.Core.Eviction)
	if err != nil {
		return
	}

	capacity := conf.Core.StoreCapacity
	if capacity == 0 {
		capacity = 32
	}
	slots := conf.Core.SlotPool
	if slots == 0 {
		slots = capacity + 8
	}

	var store storage.Store
	if conf.Core.Store == "" {
		store = storage.NewMemoryStore(capacity, policy)
	} else {
		if store, err = storage.NewFSStore(conf.Core.Store, capacity, policy); err != nil {
			return
		}
	}

	clock := platform.NewSystemClock()
	pool := bundleslot.New(slots)

	agent = core.NewAgent(conf.Core.NodeID, clock, pool, store, conf.Core.ChainRouting)
	if conf.Discovery.NeighbourTimeoutSec != 0 {
		agent.Neighbours().SetTimeout(time.Duration(conf.Discovery.NeighbourTimeoutSec) * time.Second)
	}

	adapters := make([]cla.LinkAdapter, 0, len(conf.Listen))
	for _, lst := range conf.Listen {
		var adapter cla.LinkAdapter
		if adapter, err = parseListen(lst, conf.Core.NodeID); err != nil {
			return
		}
		if _, err = agent.AttachAdapter(adapter); err != nil {
			return
		}
		adapters = append(adapters, adapter)
	}

	self := func() discovery.Beacon {
		return discovery.Beacon{EID: bundle.EndpointID{Node: conf.Core.NodeID}}
	}
	scheduler, err = parseScheduler(conf.Discovery, multiSender(adapters), self)
	if err != nil {
		return
	}

	if conf.Debug.Address != "" {
		debug = &conf.Debug
	}
	return
}

// multiSender broadcasts a beacon over every attached link.
type multiSender []cla.LinkAdapter

func (m multiSender) SendDiscovery(payload []byte) error {
	var lastErr error
	for _, adapter := range m {
		if err := adapter.SendDiscovery(payload); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

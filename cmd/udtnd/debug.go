// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/udtn/core"
)

// nodeState is the JSON document the debug endpoint serves: a snapshot of
// the node's counters, storage occupancy, routing entries and currently
// visible neighbours.
type nodeState struct {
	NodeID uint64 `json:"node_id"`
	Stats core.StatsSnapshot `json:"stats"`
	StorageCount int `json:"storage_count"`
	StorageFree int `json:"storage_free"`
	RoutingEntries int `json:"routing_entries"`
	Neighbours []uint64 `json:"neighbours"`
}

func snapshot(agent *core.Agent) nodeState {
	return nodeState{
		NodeID: agent.NodeID(),
		Stats: agent.Stats().Snapshot(),
		StorageCount: agent.Store().Count(),
		StorageFree: agent.Store().FreeSpace(),
		RoutingEntries: len(agent.Routing().Entries()),
		Neighbours: agent.Neighbours().Neighbours(),
	}
}

var upgrader = websocket.Upgrader{}

// serveDebug exposes the node's internal state over a small HTTP surface:
// a JSON status document, the storage entry list, and optionally a
// WebSocket pushing one status snapshot per second.
func serveDebug(conf *debugConf, agent *core.Agent) {
	router := mux.NewRouter()

	router.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot(agent))
	}).Methods("GET")

	router.HandleFunc("/storage", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(agent.Store().List())
	}).Methods("GET")

	router.HandleFunc("/routing", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(agent.Routing().Entries())
	}).Methods("GET")

	if conf.Websocket {
		router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				log.WithError(err).Warn("debug: websocket upgrade failed")
				return
			}
			defer conn.Close()

			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()

			for range ticker.C {
				if err := conn.WriteJSON(snapshot(agent)); err != nil {
					return
				}
			}
		})
	}

	log.WithField("address", conf.Address).Info("debug: endpoint listening")
	if err := http.ListenAndServe(conf.Address, router); err != nil {
		log.WithError(err).Warn("debug: endpoint stopped")
	}
}

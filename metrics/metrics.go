// Copyright 2021 Optakt Labs OÜ
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package metrics exposes Prometheus instrumentation for the scanner, the
// in-memory tree mirror, and the state bridges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "world_tree"

// Chain holds the gauges and counters describing the tree synchronizer's
// progress against the canonical chain.
type Chain struct {
	ScannerCursor prometheus.Gauge
	TreeLeaves    prometheus.Gauge
	HistoryDepth  prometheus.Gauge
	RetryCount    *prometheus.CounterVec
}

// NewChain registers and returns the tree synchronizer's metrics.
func NewChain() *Chain {
	return &Chain{
		ScannerCursor: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scanner_cursor_block",
			Help:      "Block number the scanner's cursor has advanced to.",
		}),
		TreeLeaves: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tree_leaves",
			Help:      "Highest leaf index touched in the tree mirror, plus one.",
		}),
		HistoryDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_depth",
			Help:      "Number of historical roots currently retained.",
		}),
		RetryCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_total",
			Help:      "Retried RPC calls, by classification.",
		}, []string{"classification"}),
	}
}

// Bridge holds the metrics describing a state bridge's relay activity.
type Bridge struct {
	RelayLatency prometheus.Histogram
	RelaysTotal  prometheus.Counter
}

// NewBridge registers and returns one bridge's metrics, labelled by name so
// that multiple bridges can run in the same process without collisions.
func NewBridge(name string) *Bridge {
	return &Bridge{
		RelayLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "bridge_relay_latency_seconds",
			Help:        "Time from root observation to a confirmed propagateRoot transaction.",
			ConstLabels: prometheus.Labels{"bridge": name},
			Buckets:     prometheus.DefBuckets,
		}),
		RelaysTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "bridge_relays_total",
			Help:        "Number of roots successfully relayed downstream.",
			ConstLabels: prometheus.Labels{"bridge": name},
		}),
	}
}

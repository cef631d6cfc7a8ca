// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chainsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamePrefix = "fundwatch_chainsync_"

type Metrics struct {
	bootstraps        *prometheus.CounterVec
	bootstrapDuration prometheus.Histogram
	events            *prometheus.CounterVec
}

// NewMetrics registers the chainsync metrics. Sessions created over the
// lifetime of a process share one set.
func NewMetrics(promRegistry prometheus.Registerer) *Metrics {
	if promRegistry == nil {
		return nil
	}
	promautoFactory := promauto.With(promRegistry)
	return &Metrics{
		bootstraps: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "bootstraps_total",
				Help: "bootstrap scans by result",
			},
			[]string{"result"},
		),
		bootstrapDuration: promautoFactory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricNamePrefix + "bootstrap_duration_seconds",
				Help:    "duration of successful bootstrap scans",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
		events: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "events_total",
				Help: "ledger events reconciled by kind and result",
			},
			[]string{"kind", "result"},
		),
	}
}

func (m *Metrics) bootstrap(result string, seconds float64) {
	if m == nil {
		return
	}
	m.bootstraps.WithLabelValues(result).Inc()
	if result == "ok" {
		m.bootstrapDuration.Observe(seconds)
	}
}

func (m *Metrics) event(kind string, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, result).Inc()
}

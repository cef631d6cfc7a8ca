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

package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamePrefix = "fundwatch_dispatch_"

type dispatchMetrics struct {
	actions  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newDispatchMetrics(promRegistry prometheus.Registerer) *dispatchMetrics {
	if promRegistry == nil {
		return nil
	}
	promautoFactory := promauto.With(promRegistry)
	return &dispatchMetrics{
		actions: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "actions_total",
				Help: "actions by kind and outcome",
			},
			[]string{"action", "result"},
		),
		duration: promautoFactory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricNamePrefix + "action_duration_seconds",
				Help:    "time from request to outcome",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"action"},
		),
	}
}

func (m *dispatchMetrics) observe(kind Kind, result string, seconds float64) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(string(kind), result).Inc()
	m.duration.WithLabelValues(string(kind)).Observe(seconds)
}

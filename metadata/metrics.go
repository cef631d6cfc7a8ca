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

package metadata

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metadataMetrics struct {
	fetches   *prometheus.CounterVec
	cacheHits prometheus.Counter
}

func newMetadataMetrics(promRegistry prometheus.Registerer) *metadataMetrics {
	if promRegistry == nil {
		return nil
	}
	promautoFactory := promauto.With(promRegistry)
	return &metadataMetrics{
		fetches: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundwatch_metadata_fetches_total",
				Help: "metadata documents fetched by scheme and result",
			},
			[]string{"scheme", "result"},
		),
		cacheHits: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "fundwatch_metadata_cache_hits_total",
				Help: "metadata lookups served from cache",
			},
		),
	}
}

func (m *metadataMetrics) fetch(scheme, result string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(scheme, result).Inc()
}

func (m *metadataMetrics) cacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

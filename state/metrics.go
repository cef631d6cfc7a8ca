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

package state

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type storeMetrics struct {
	active      prometheus.Gauge
	closed      prometheus.Gauge
	ledgerTotal prometheus.Gauge
	loadErrors  prometheus.Counter
}

func newStoreMetrics(promRegistry prometheus.Registerer) *storeMetrics {
	promautoFactory := promauto.With(promRegistry)
	return &storeMetrics{
		active: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "fundwatch_state_active_campaigns",
			Help: "campaigns in the active collection",
		}),
		closed: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "fundwatch_state_closed_campaigns",
			Help: "campaigns in the closed collection",
		}),
		ledgerTotal: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "fundwatch_state_ledger_campaigns",
			Help: "total campaign count last read from the ledger",
		}),
		loadErrors: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "fundwatch_state_load_errors_total",
			Help: "bootstrap and reconciliation failures",
		}),
	}
}

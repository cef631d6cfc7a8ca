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
	"time"

	"github.com/blinklabs-io/fundwatch/event"
	"github.com/blinklabs-io/fundwatch/ledger"
)

const (
	// BootstrapCompleteEventType is emitted after a full scan has been
	// committed to the Store
	BootstrapCompleteEventType event.EventType = "chainsync.bootstrap_complete"

	// BootstrapFailedEventType is emitted when a scan is aborted
	BootstrapFailedEventType event.EventType = "chainsync.bootstrap_failed"

	// ReconciledEventType is emitted after each ledger event is applied
	ReconciledEventType event.EventType = "chainsync.reconciled"
)

type BootstrapCompleteEvent struct {
	TotalCount  uint64
	ClosedCount uint64
	Duration    time.Duration
}

type BootstrapFailedEvent struct {
	Error error
}

type ReconciledEvent struct {
	Kind       ledger.EventKind
	CampaignID uint64
	Error      error
}

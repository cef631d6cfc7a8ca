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

import "github.com/blinklabs-io/fundwatch/event"

const ChangedEventType event.EventType = "state.changed"

type ChangeKind string

const (
	ChangeCommitted ChangeKind = "committed"
	ChangeReset     ChangeKind = "reset"
	ChangeCreated   ChangeKind = "created"
	ChangeFunded    ChangeKind = "funded"
	ChangeClosed    ChangeKind = "closed"
	ChangeRefunded  ChangeKind = "refunded"
	ChangeStatus    ChangeKind = "status"
	ChangeDetail    ChangeKind = "detail"
)

// ChangedEvent is published after every Store mutation. CampaignID is zero
// for changes that are not about one campaign.
type ChangedEvent struct {
	Change     ChangeKind
	CampaignID uint64
}

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
	"github.com/ethereum/go-ethereum/common"

	"github.com/blinklabs-io/fundwatch/event"
)

const (
	ActionSubmittedEventType event.EventType = "dispatch.submitted"
	ActionCompletedEventType event.EventType = "dispatch.completed"
)

type ActionSubmittedEvent struct {
	ActionID   string
	Kind       Kind
	CampaignID uint64
	TxHash     common.Hash
}

// ActionCompletedEvent reports the outcome of an action. Error is nil on
// success.
type ActionCompletedEvent struct {
	ActionID   string
	Kind       Kind
	CampaignID uint64
	TxHash     common.Hash
	Error      error
}

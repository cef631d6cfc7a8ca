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

package connmanager

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/blinklabs-io/fundwatch/event"
)

const (
	ReadyEventType       event.EventType = "connmanager.ready"
	ProbeFailedEventType event.EventType = "connmanager.probe_failed"
)

// ReadyEvent is published once when the contract is found
type ReadyEvent struct {
	Address common.Address
	Attempt uint64
}

type ProbeFailedEvent struct {
	Address common.Address
	Attempt uint64
	Error   error
}

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

package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type EventKind int

const (
	EventCampaignCreated EventKind = iota + 1
	EventFunded
	EventWithdrawn
	EventStopped
	EventRefunded
)

func (k EventKind) String() string {
	switch k {
	case EventCampaignCreated:
		return "CampaignCreated"
	case EventFunded:
		return "Funded"
	case EventWithdrawn:
		return "Withdrawn"
	case EventStopped:
		return "Stopped"
	case EventRefunded:
		return "Refunded"
	default:
		return "Unknown"
	}
}

// Event is a decoded contract log. CampaignCreated carries no payload, the
// other kinds carry the campaign id. Account is the backer for Funded and
// Refunded and the creator for Withdrawn.
type Event struct {
	Kind        EventKind
	CampaignID  uint64
	Account     common.Address
	Amount      *big.Int
	ByCreator   bool
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

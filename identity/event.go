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

package identity

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blinklabs-io/fundwatch/event"
)

const (
	IdentityChangedEventType event.EventType = "identity.changed"
	NetworkChangedEventType  event.EventType = "identity.network_changed"
)

// IdentityChangedEvent is published after every identity change
type IdentityChangedEvent struct {
	Identity Identity
}

// NetworkChangedEvent means every piece of state derived from the ledger
// must be rebuilt
type NetworkChangedEvent struct {
	Previous *big.Int
	Current  *big.Int
}

// Identity is the current account and network. Account is the zero address
// when HasAccount is false.
type Identity struct {
	Account    common.Address
	HasAccount bool
	ChainID    *big.Int
	Connected  bool
}

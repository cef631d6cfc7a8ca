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
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Kind string

const (
	KindCreate   Kind = "create"
	KindFund     Kind = "fund"
	KindWithdraw Kind = "withdraw"
	KindStop     Kind = "stop"
	KindRefund   Kind = "refund"
)

// Action describes a pending submission. It is handed to the confirmation
// hook before anything is sent to the ledger.
type Action struct {
	ID          string
	Kind        Kind
	From        common.Address
	CampaignID  uint64
	Amount      *big.Int
	MetadataRef string
	Goal        *big.Int
	Duration    time.Duration
}

// Result is returned for an action whose transaction was mined successfully
type Result struct {
	ActionID    string
	TxHash      common.Hash
	BlockNumber uint64
}

// Quote is what the creator would receive from a withdrawal
type Quote struct {
	CampaignID  uint64
	Creator     common.Address
	FundsRaised *big.Int
	Amount      *big.Int
	GoalReached bool
}

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
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Campaign is one crowdfunding campaign as recorded by the contract. Amounts
// are in wei.
type Campaign struct {
	ID               uint64
	Creator          common.Address
	MetadataRef      string
	Goal             *big.Int
	Deadline         time.Time
	FundsRaised      *big.Int
	ContributorCount uint64
	Closed           bool
	// Stopped is read separately from the record and is only meaningful
	// once the campaign is closed
	Stopped bool
}

// Active reports whether the campaign still accepts funding
func (c Campaign) Active() bool {
	return !c.Closed
}

// Clone returns a copy that shares no big.Int values with c
func (c Campaign) Clone() Campaign {
	ret := c
	if c.Goal != nil {
		ret.Goal = new(big.Int).Set(c.Goal)
	}
	if c.FundsRaised != nil {
		ret.FundsRaised = new(big.Int).Set(c.FundsRaised)
	}
	return ret
}

// Remaining returns the time left until the deadline. It is zero once the
// deadline has passed or the campaign is closed.
func (c Campaign) Remaining(now time.Time) time.Duration {
	if c.Closed || !now.Before(c.Deadline) {
		return 0
	}
	return c.Deadline.Sub(now)
}

// PercentFunded returns floor(fundsRaised / goal * 100)
func (c Campaign) PercentFunded() uint64 {
	if c.Goal == nil || c.Goal.Sign() <= 0 || c.FundsRaised == nil {
		return 0
	}
	pct := new(big.Int).Mul(c.FundsRaised, big.NewInt(100))
	pct.Quo(pct, c.Goal)
	if !pct.IsUint64() {
		return 0
	}
	return pct.Uint64()
}

// GoalReached reports whether funds raised meet the goal
func (c Campaign) GoalReached() bool {
	if c.Goal == nil || c.FundsRaised == nil {
		return false
	}
	return c.FundsRaised.Cmp(c.Goal) >= 0
}

// Limits holds the contract's creation constraints
type Limits struct {
	MinGoal      *big.Int
	MinDuration  time.Duration
	MaxCampaigns uint64
}

// Funding is one contribution to a campaign
type Funding struct {
	CampaignID  uint64
	Backer      common.Address
	Amount      *big.Int
	TxHash      common.Hash
	BlockNumber uint64
	Timestamp   time.Time
}

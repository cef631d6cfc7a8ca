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

package ledger_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/blinklabs-io/fundwatch/ledger"
)

func TestCampaignRemaining(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	testDefs := []struct {
		name     string
		campaign ledger.Campaign
		expected time.Duration
	}{
		{
			name:     "open",
			campaign: ledger.Campaign{Deadline: now.Add(90 * time.Minute)},
			expected: 90 * time.Minute,
		},
		{
			name:     "deadline passed",
			campaign: ledger.Campaign{Deadline: now.Add(-time.Second)},
			expected: 0,
		},
		{
			name: "closed",
			campaign: ledger.Campaign{
				Deadline: now.Add(time.Hour),
				Closed:   true,
			},
			expected: 0,
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			assert.Equal(t, testDef.expected, testDef.campaign.Remaining(now))
		})
	}
}

func TestCampaignPercentFunded(t *testing.T) {
	testDefs := []struct {
		goal     int64
		funds    int64
		expected uint64
	}{
		{goal: 100, funds: 0, expected: 0},
		{goal: 300, funds: 100, expected: 33},
		{goal: 100, funds: 100, expected: 100},
		{goal: 100, funds: 250, expected: 250},
		{goal: 0, funds: 10, expected: 0},
	}
	for _, testDef := range testDefs {
		c := ledger.Campaign{
			Goal:        big.NewInt(testDef.goal),
			FundsRaised: big.NewInt(testDef.funds),
		}
		assert.Equal(t, testDef.expected, c.PercentFunded())
	}
}

func TestCampaignClone(t *testing.T) {
	c := ledger.Campaign{
		ID:          3,
		Goal:        big.NewInt(10),
		FundsRaised: big.NewInt(5),
	}
	clone := c.Clone()
	clone.FundsRaised.SetInt64(7)
	assert.Equal(t, int64(5), c.FundsRaised.Int64())
	assert.True(t, clone.Active())
	assert.False(t, clone.GoalReached())
}

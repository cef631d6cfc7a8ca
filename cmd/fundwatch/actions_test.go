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

package main

import (
	"bytes"
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/fundwatch/dispatch"
	"github.com/blinklabs-io/fundwatch/ledger"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		action dispatch.Action
		want   string
	}{
		{
			action: dispatch.Action{
				Kind:        dispatch.KindCreate,
				MetadataRef: "ipfs://abc",
				Goal:        big.NewInt(1_500_000_000_000_000_000),
				Duration:    48 * time.Hour,
			},
			want: "create a campaign for ipfs://abc with goal 1.5 ETH running 48h0m0s",
		},
		{
			action: dispatch.Action{
				Kind:       dispatch.KindFund,
				CampaignID: 3,
				Amount:     big.NewInt(100_000_000_000_000_000),
			},
			want: "fund campaign 3 with 0.1 ETH",
		},
		{
			action: dispatch.Action{Kind: dispatch.KindRefund, CampaignID: 7},
			want:   "refund campaign 7",
		},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, describe(tt.action))
	}
}

func TestPromptConfirm(t *testing.T) {
	ctx := context.Background()
	action := dispatch.Action{Kind: dispatch.KindStop, CampaignID: 1}

	ok, err := promptConfirm(strings.NewReader(""), &bytes.Buffer{}, true)(ctx, action)
	require.NoError(t, err)
	assert.True(t, ok)

	// Not a terminal
	_, err = promptConfirm(strings.NewReader("y\n"), &bytes.Buffer{}, false)(ctx, action)
	assert.ErrorIs(t, err, errConfirmationRequired)
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
	_, err = parseID("-1")
	assert.ErrorContains(t, err, "invalid campaign id")
}

func TestCampaignStatus(t *testing.T) {
	c := ledger.Campaign{Goal: big.NewInt(10), FundsRaised: big.NewInt(5)}
	assert.Equal(t, "open", campaignStatus(c))
	c.FundsRaised = big.NewInt(10)
	assert.Equal(t, "funded", campaignStatus(c))
	c.Closed = true
	assert.Equal(t, "withdrawn", campaignStatus(c))
	c.Stopped = true
	assert.Equal(t, "stopped", campaignStatus(c))
}

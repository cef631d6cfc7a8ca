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

package api

import (
	"time"

	"github.com/blinklabs-io/fundwatch/dispatch"
	"github.com/blinklabs-io/fundwatch/ledger"
	"github.com/blinklabs-io/fundwatch/state"
)

type RootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type HealthResponse struct {
	Ready  bool `json:"ready"`
	Loaded bool `json:"loaded"`
}

type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// Amounts are decimal wei strings with an ether rendering alongside
type CampaignResponse struct {
	ID               uint64 `json:"id"`
	Creator          string `json:"creator"`
	MetadataRef      string `json:"metadata_ref"`
	Goal             string `json:"goal"`
	GoalEth          string `json:"goal_eth"`
	Deadline         int64  `json:"deadline"`
	FundsRaised      string `json:"funds_raised"`
	FundsRaisedEth   string `json:"funds_raised_eth"`
	ContributorCount uint64 `json:"contributor_count"`
	PercentFunded    uint64 `json:"percent_funded"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	Closed           bool   `json:"closed"`
	Stopped          bool   `json:"stopped"`
}

type StatusResponse struct {
	Loaded      bool    `json:"loaded"`
	LoadError   *string `json:"load_error"`
	TotalCount  uint64  `json:"total_count"`
	ClosedCount uint64  `json:"closed_count"`
	ActiveCount uint64  `json:"active_count"`
	Active      int     `json:"active"`
	Closed      int     `json:"closed"`
	DetailID    *uint64 `json:"detail_id"`
}

type FundingResponse struct {
	Backer      string `json:"backer"`
	Amount      string `json:"amount"`
	AmountEth   string `json:"amount_eth"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	Time        int64  `json:"time"`
}

type QuoteResponse struct {
	CampaignID  uint64 `json:"campaign_id"`
	Creator     string `json:"creator"`
	FundsRaised string `json:"funds_raised"`
	Amount      string `json:"amount"`
	AmountEth   string `json:"amount_eth"`
	GoalReached bool   `json:"goal_reached"`
}

func campaignResponse(c ledger.Campaign, now time.Time) CampaignResponse {
	return CampaignResponse{
		ID:               c.ID,
		Creator:          c.Creator.Hex(),
		MetadataRef:      c.MetadataRef,
		Goal:             c.Goal.String(),
		GoalEth:          ledger.FormatEther(c.Goal),
		Deadline:         c.Deadline.Unix(),
		FundsRaised:      c.FundsRaised.String(),
		FundsRaisedEth:   ledger.FormatEther(c.FundsRaised),
		ContributorCount: c.ContributorCount,
		PercentFunded:    c.PercentFunded(),
		RemainingSeconds: int64(c.Remaining(now) / time.Second),
		Closed:           c.Closed,
		Stopped:          c.Stopped,
	}
}

func statusResponse(s state.Status) StatusResponse {
	ret := StatusResponse{
		Loaded:      s.Loaded,
		TotalCount:  s.TotalCount,
		ClosedCount: s.ClosedCount,
		ActiveCount: s.ActiveCount,
		Active:      s.Active,
		Closed:      s.Closed,
	}
	if s.LoadError != nil {
		msg := s.LoadError.Error()
		ret.LoadError = &msg
	}
	if s.DetailOpen {
		id := s.DetailID
		ret.DetailID = &id
	}
	return ret
}

func fundingResponse(f ledger.Funding) FundingResponse {
	return FundingResponse{
		Backer:      f.Backer.Hex(),
		Amount:      f.Amount.String(),
		AmountEth:   ledger.FormatEther(f.Amount),
		TxHash:      f.TxHash.Hex(),
		BlockNumber: f.BlockNumber,
		Time:        f.Timestamp.Unix(),
	}
}

func quoteResponse(q dispatch.Quote) QuoteResponse {
	return QuoteResponse{
		CampaignID:  q.CampaignID,
		Creator:     q.Creator.Hex(),
		FundsRaised: q.FundsRaised.String(),
		Amount:      q.Amount.String(),
		AmountEth:   ledger.FormatEther(q.Amount),
		GoalReached: q.GoalReached,
	}
}

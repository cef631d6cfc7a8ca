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
	"context"

	"github.com/blinklabs-io/fundwatch/dispatch"
	"github.com/blinklabs-io/fundwatch/ledger"
	"github.com/blinklabs-io/fundwatch/metadata"
	"github.com/blinklabs-io/fundwatch/state"
)

// CampaignSource is the read side of the campaign store. *state.Store
// satisfies it.
type CampaignSource interface {
	Active() []ledger.Campaign
	Closed() []ledger.Campaign
	Get(id uint64) (ledger.Campaign, bool)
	Status() state.Status
	DismissError()
	OpenDetail(id uint64) error
	CloseDetail()
	Detail() (ledger.Campaign, bool)
}

// LedgerSource answers the queries that go to the ledger directly
type LedgerSource interface {
	// Ready reports whether the contract has been found
	Ready() bool
	FundingHistory(ctx context.Context, id uint64) ([]ledger.Funding, error)
	WithdrawQuote(ctx context.Context, id uint64) (dispatch.Quote, error)
	// Reload requests a fresh bootstrap
	Reload()
}

type MetadataSource interface {
	Lookup(ctx context.Context, ref string) metadata.Metadata
}

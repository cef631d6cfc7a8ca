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

package chainsync

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/blinklabs-io/fundwatch/ledger"
)

// throttledReader waits on a shared limiter before each scan read so public
// RPC endpoints are not flooded during bootstrap
type throttledReader struct {
	ledger.Reader
	limiter *rate.Limiter
}

func newThrottledReader(r ledger.Reader, limiter *rate.Limiter) ledger.Reader {
	if limiter == nil {
		return r
	}
	return &throttledReader{Reader: r, limiter: limiter}
}

func (t *throttledReader) wait(ctx context.Context, op string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return &ledger.ReadError{Op: op, Err: err}
	}
	return nil
}

func (t *throttledReader) CampaignCount(ctx context.Context) (uint64, error) {
	if err := t.wait(ctx, "campaignCount"); err != nil {
		return 0, err
	}
	return t.Reader.CampaignCount(ctx)
}

func (t *throttledReader) ClosedCount(ctx context.Context) (uint64, error) {
	if err := t.wait(ctx, "closedCount"); err != nil {
		return 0, err
	}
	return t.Reader.ClosedCount(ctx)
}

func (t *throttledReader) Campaign(
	ctx context.Context,
	id uint64,
) (ledger.Campaign, error) {
	if err := t.wait(ctx, "campaigns"); err != nil {
		return ledger.Campaign{}, err
	}
	return t.Reader.Campaign(ctx, id)
}

func (t *throttledReader) IsStopped(ctx context.Context, id uint64) (bool, error) {
	if err := t.wait(ctx, "isStopped"); err != nil {
		return false, err
	}
	return t.Reader.IsStopped(ctx, id)
}

func (t *throttledReader) UserCampaigns(
	ctx context.Context,
	account common.Address,
) (uint64, error) {
	if err := t.wait(ctx, "usersCampaigns"); err != nil {
		return 0, err
	}
	return t.Reader.UserCampaigns(ctx, account)
}

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

package chainsync_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/blinklabs-io/fundwatch/chainsync"
	"github.com/blinklabs-io/fundwatch/internal/test/fakeledger"
	"github.com/blinklabs-io/fundwatch/ledger"
	"github.com/blinklabs-io/fundwatch/state"
)

// staleReader serves campaign records with an outdated funds amount
type staleReader struct {
	*fakeledger.Contract
	funds *big.Int
}

func (s *staleReader) Campaign(
	ctx context.Context,
	id uint64,
) (ledger.Campaign, error) {
	c, err := s.Contract.Campaign(ctx, id)
	if err == nil {
		c.FundsRaised = new(big.Int).Set(s.funds)
	}
	return c, err
}

func loadStore(t *testing.T, reader ledger.Reader) *state.Store {
	t.Helper()
	store := state.NewStore(state.StoreConfig{})
	loader := chainsync.NewLoader(chainsync.LoaderConfig{
		Reader:      reader,
		Store:       store,
		ReadLimiter: rate.NewLimiter(rate.Inf, 1),
	})
	require.NoError(t, loader.Load(context.Background()))
	return store
}

func TestFundedStaleRefetchKeepsFunds(t *testing.T) {
	contract := fakeledger.New(testOwner)
	createCampaigns(t, contract, 3)
	require.NoError(t, contract.Fund(2, testBacker, ether(10)))
	store := loadStore(t, contract)
	reconciler := chainsync.NewReconciler(chainsync.ReconcilerConfig{
		Reader: &staleReader{Contract: contract, funds: ether(5)},
		Store:  store,
	})
	require.NoError(t, reconciler.Apply(
		context.Background(),
		ledger.Event{Kind: ledger.EventFunded, CampaignID: 2},
	))
	c, _ := store.Get(2)
	assert.Zero(t, ether(10).Cmp(c.FundsRaised))
}

func TestRefundedBeforeStopIsUpserted(t *testing.T) {
	contract := fakeledger.New(testOwner)
	createCampaigns(t, contract, 2)
	require.NoError(t, contract.Fund(1, testBacker, ether(4)))
	store := loadStore(t, contract)
	require.NoError(t, contract.StopCampaign(1, testCreator))
	require.NoError(t, contract.Refund(1, testBacker))
	reconciler := chainsync.NewReconciler(chainsync.ReconcilerConfig{
		Reader: contract,
		Store:  store,
	})
	// the refund is handled before the stop
	require.NoError(t, reconciler.Apply(
		context.Background(),
		ledger.Event{Kind: ledger.EventRefunded, CampaignID: 1},
	))
	c, ok := store.Get(1)
	require.True(t, ok)
	assert.True(t, c.Closed)
	assert.True(t, c.Stopped)
	assert.Equal(t, int64(0), c.FundsRaised.Int64())
	require.NoError(t, store.CheckConsistency())
	require.NoError(t, reconciler.Apply(
		context.Background(),
		ledger.Event{Kind: ledger.EventStopped, CampaignID: 1},
	))
	assert.Equal(t, []uint64{1}, closedIDs(store))
	require.NoError(t, store.CheckConsistency())
}

func TestWithdrawnNeverClearsStop(t *testing.T) {
	contract := fakeledger.New(testOwner)
	createCampaigns(t, contract, 1)
	store := loadStore(t, contract)
	require.NoError(t, contract.StopCampaign(0, testOwner))
	reconciler := chainsync.NewReconciler(chainsync.ReconcilerConfig{
		Reader: contract,
		Store:  store,
	})
	for _, kind := range []ledger.EventKind{
		ledger.EventStopped,
		ledger.EventWithdrawn,
		ledger.EventFunded,
	} {
		require.NoError(t, reconciler.Apply(
			context.Background(),
			ledger.Event{Kind: kind, CampaignID: 0},
		))
	}
	c, _ := store.Get(0)
	assert.True(t, c.Stopped)
	assert.True(t, c.Closed)
	assert.Empty(t, store.Active())
}

func TestLoaderRateLimit(t *testing.T) {
	contract := fakeledger.New(testOwner)
	createCampaigns(t, contract, 2)
	store := state.NewStore(state.StoreConfig{})
	// campaignCount, closedCount, then two reads per active campaign
	loader := chainsync.NewLoader(chainsync.LoaderConfig{
		Reader:      contract,
		Store:       store,
		ReadLimiter: rate.NewLimiter(rate.Every(10*time.Millisecond), 1),
	})
	start := time.Now()
	require.NoError(t, loader.Load(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Len(t, store.Active(), 2)
}

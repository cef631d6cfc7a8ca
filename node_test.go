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

package fundwatch_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/fundwatch"
	"github.com/blinklabs-io/fundwatch/chainsync"
	"github.com/blinklabs-io/fundwatch/identity"
	"github.com/blinklabs-io/fundwatch/internal/test/fakeledger"
	"github.com/blinklabs-io/fundwatch/internal/test/testutil"
	"github.com/blinklabs-io/fundwatch/ledger"
	"github.com/blinklabs-io/fundwatch/state"
)

const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	testOwner   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testAccount = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

// lateDeploy reports no code for the first misses probes and deploys the
// contract just before the next one
type lateDeploy struct {
	contract     *fakeledger.Contract
	misses       int32
	calls        atomic.Int32
	subscribedAt atomic.Int32
}

func (l *lateDeploy) CodeAt(
	ctx context.Context,
	account common.Address,
	blockNumber *big.Int,
) ([]byte, error) {
	n := l.calls.Add(1)
	if l.contract.Subscribers() > 0 && l.subscribedAt.Load() == 0 {
		l.subscribedAt.Store(n)
	}
	if n == l.misses+1 {
		l.contract.SetDeployed(true)
	}
	return l.contract.CodeAt(ctx, account, blockNumber)
}

func newNode(
	t *testing.T,
	contract *fakeledger.Contract,
	opts ...fundwatch.ConfigOptionFunc,
) *fundwatch.Node {
	t.Helper()
	base := []fundwatch.ConfigOptionFunc{
		fundwatch.WithContractAddress(contract.Address()),
		fundwatch.WithCodeProber(contract),
		fundwatch.WithGatewayFactory(
			func(context.Context) (ledger.Gateway, error) {
				return contract, nil
			},
		),
		fundwatch.WithRetryInterval(20 * time.Millisecond),
		fundwatch.WithSessionRetryInterval(50 * time.Millisecond),
	}
	n, err := fundwatch.New(fundwatch.NewConfig(append(base, opts...)...))
	require.NoError(t, err)
	return n
}

// startNode runs n in the background. The returned func stops it and may be
// called more than once.
func startNode(t *testing.T, n *fundwatch.Node) func() {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		errCh <- n.Run()
	}()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			require.NoError(t, n.Stop())
			require.NoError(t, testutil.RequireReceive(t, errCh, 5*time.Second, "node run"))
		})
	}
	t.Cleanup(stop)
	return stop
}

func runNode(
	t *testing.T,
	contract *fakeledger.Contract,
	opts ...fundwatch.ConfigOptionFunc,
) *fundwatch.Node {
	t.Helper()
	n := newNode(t, contract, opts...)
	startNode(t, n)
	return n
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := fundwatch.New(fundwatch.NewConfig())
	require.ErrorContains(t, err, "contract address is required")

	_, err = fundwatch.New(fundwatch.NewConfig(
		fundwatch.WithContractAddress(fakeledger.DefaultAddress),
	))
	require.ErrorContains(t, err, "RPC URL is required")

	_, err = fundwatch.New(fundwatch.NewConfig(
		fundwatch.WithContractAddress(fakeledger.DefaultAddress),
		fundwatch.WithRPCURL("http://127.0.0.1:8545"),
		fundwatch.WithPrivateKey(testKey),
		fundwatch.WithKeystore("/tmp/keys", "secret", common.Address{}),
	))
	require.ErrorContains(t, err, "cannot both be used")
}

// The contract shows up on the fourth probe. Nothing subscribes or loads
// before that, and exactly one bootstrap follows.
func TestLateDeployment(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	contract := fakeledger.New(testOwner)
	contract.SetDeployed(false)
	_, err := contract.Create(testOwner, "ipfs://a", big.NewInt(5000), 48*time.Hour)
	require.NoError(t, err)
	prober := &lateDeploy{contract: contract, misses: 3}

	n := newNode(t, contract, fundwatch.WithCodeProber(prober))
	_, bootCh := n.EventBus().Subscribe(chainsync.BootstrapCompleteEventType)
	stop := startNode(t, n)

	require.NoError(t, n.WaitLoaded(context.Background()))
	assert.Equal(t, int32(4), prober.calls.Load())
	assert.Zero(t, prober.subscribedAt.Load(), "subscribed before the contract was found")
	assert.True(t, n.Ready())

	testutil.RequireReceive(t, bootCh, time.Second, "bootstrap")
	testutil.RequireNoReceive(t, bootCh, 200*time.Millisecond, "second bootstrap")
	assert.Equal(t, 1, contract.Subscribers())
	status := n.Store().Status()
	assert.True(t, status.Loaded)
	assert.Equal(t, uint64(1), status.TotalCount)
	assert.Len(t, n.Store().Active(), 1)

	stop()
	assert.Equal(t, 0, contract.Subscribers())
	assert.Equal(t, 1, contract.CloseCount())
}

func TestNotReadyQueries(t *testing.T) {
	contract := fakeledger.New(testOwner)
	contract.SetDeployed(false)
	n := runNode(t, contract)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := n.WaitLoaded(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ledger.ErrNotDeployed)

	assert.False(t, n.Ready())
	_, err = n.FundingHistory(context.Background(), 0)
	assert.ErrorIs(t, err, fundwatch.ErrNotReady)
	_, err = n.WithdrawQuote(context.Background(), 0)
	assert.ErrorIs(t, err, fundwatch.ErrNotReady)
	_, err = n.Dispatcher()
	assert.ErrorIs(t, err, fundwatch.ErrNotReady)
	n.Reload()
}

func TestActionsWithoutIdentity(t *testing.T) {
	contract := fakeledger.New(testOwner)
	n := runNode(t, contract)
	require.NoError(t, n.WaitLoaded(context.Background()))
	assert.False(t, n.Identity().HasAccount)

	d, err := n.Dispatcher()
	require.NoError(t, err)
	_, err = d.Create(context.Background(), "ipfs://a", big.NewInt(5000), 48*time.Hour)
	assert.ErrorIs(t, err, ledger.ErrIdentityUnavailable)
	count, err := contract.CampaignCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCreateReachesStore(t *testing.T) {
	contract := fakeledger.New(testOwner)
	provider, err := identity.NewKeyProvider(identity.KeyProviderConfig{
		Node:         contract,
		HexKey:       testKey,
		PollInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	n := runNode(t, contract, fundwatch.WithIdentityProvider(provider))
	require.NoError(t, n.WaitLoaded(context.Background()))

	d, err := n.Dispatcher()
	require.NoError(t, err)
	res, err := d.Create(context.Background(), "ipfs://a", big.NewInt(5000), 48*time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, res.TxHash)
	assert.Equal(t, testAccount, n.Identity().Account)

	testutil.WaitForCondition(t, func() bool {
		_, ok := n.Store().Get(0)
		return ok
	}, 2*time.Second, "created campaign never reached the store")
	c, _ := n.Store().Get(0)
	assert.Equal(t, testAccount, c.Creator)

	history, err := n.FundingHistory(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, history)
	quote, err := n.WithdrawQuote(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, quote.GoalReached)
}

func TestNetworkChangeReloads(t *testing.T) {
	contract := fakeledger.New(testOwner)
	_, err := contract.Create(testOwner, "ipfs://a", big.NewInt(5000), 48*time.Hour)
	require.NoError(t, err)
	provider, err := identity.NewKeyProvider(identity.KeyProviderConfig{
		Node:         contract,
		HexKey:       testKey,
		PollInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	n := newNode(t, contract, fundwatch.WithIdentityProvider(provider))
	_, bootCh := n.EventBus().Subscribe(chainsync.BootstrapCompleteEventType)
	_, changeCh := n.EventBus().Subscribe(state.ChangedEventType)
	startNode(t, n)
	require.NoError(t, n.WaitLoaded(context.Background()))
	testutil.RequireReceive(t, bootCh, time.Second, "first bootstrap")

	contract.SetChainID(big.NewInt(11155111))

	testutil.RequireReceive(t, bootCh, 2*time.Second, "bootstrap after network change")
	var reset bool
	for !reset {
		evt := testutil.RequireReceive(t, changeCh, time.Second, "store reset")
		reset = evt.Data.(state.ChangedEvent).Change == state.ChangeReset
	}
	assert.Equal(t, 0, n.Identity().ChainID.Cmp(big.NewInt(11155111)))
	testutil.WaitForCondition(t, func() bool {
		return contract.Subscribers() == 1
	}, time.Second, "old subscription was not released")
	assert.Len(t, n.Store().Active(), 1)
}

func TestStopBeforeRun(t *testing.T) {
	contract := fakeledger.New(testOwner)
	n, err := fundwatch.New(fundwatch.NewConfig(
		fundwatch.WithContractAddress(contract.Address()),
		fundwatch.WithCodeProber(contract),
		fundwatch.WithGatewayFactory(
			func(context.Context) (ledger.Gateway, error) {
				return contract, nil
			},
		),
	))
	require.NoError(t, err)
	require.NoError(t, n.Stop())
	err = n.Run()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ledger.ErrNotDeployed))
}

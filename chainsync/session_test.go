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
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/fundwatch/chainsync"
	"github.com/blinklabs-io/fundwatch/event"
	"github.com/blinklabs-io/fundwatch/internal/test/fakeledger"
	"github.com/blinklabs-io/fundwatch/internal/test/testutil"
	"github.com/blinklabs-io/fundwatch/ledger"
	"github.com/blinklabs-io/fundwatch/state"
)

var (
	testOwner   = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	testCreator = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	testBacker  = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	testBacker2 = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
)

const waitTimeout = 2 * time.Second

var oneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func ether(tenths int64) *big.Int {
	ret := new(big.Int).Mul(oneEther, big.NewInt(tenths))
	return ret.Quo(ret, big.NewInt(10))
}

type harness struct {
	t          *testing.T
	contract   *fakeledger.Contract
	store      *state.Store
	eventBus   *event.EventBus
	session    *chainsync.Session
	bootstraps <-chan event.Event
	reconciled <-chan event.Event
}

func newHarness(t *testing.T, contract *fakeledger.Contract) *harness {
	t.Helper()
	eventBus := event.NewEventBus(nil, nil)
	h := &harness{
		t:        t,
		contract: contract,
		eventBus: eventBus,
		store:    state.NewStore(state.StoreConfig{EventBus: eventBus}),
	}
	_, h.bootstraps = eventBus.Subscribe(chainsync.BootstrapCompleteEventType)
	_, h.reconciled = eventBus.Subscribe(chainsync.ReconciledEventType)
	session, err := chainsync.NewSession(chainsync.SessionConfig{
		EventBus: eventBus,
		Gateway:  contract,
		Store:    h.store,
	})
	require.NoError(t, err)
	h.session = session
	return h
}

func (h *harness) start() {
	h.t.Helper()
	require.NoError(h.t, h.session.Start(context.Background()))
}

func (h *harness) stop() {
	h.session.Stop()
	h.eventBus.Stop()
}

func (h *harness) waitBootstrap() chainsync.BootstrapCompleteEvent {
	h.t.Helper()
	evt := testutil.RequireReceive(h.t, h.bootstraps, waitTimeout, "bootstrap")
	return evt.Data.(chainsync.BootstrapCompleteEvent)
}

func (h *harness) waitReconciled(kind ledger.EventKind) chainsync.ReconciledEvent {
	h.t.Helper()
	for {
		evt := testutil.RequireReceive(h.t, h.reconciled, waitTimeout, kind.String())
		data := evt.Data.(chainsync.ReconciledEvent)
		if data.Kind == kind {
			return data
		}
	}
}

func (h *harness) requireConsistent() {
	h.t.Helper()
	require.NoError(h.t, h.store.CheckConsistency())
	total, err := h.contract.CampaignCount(context.Background())
	require.NoError(h.t, err)
	assert.Equal(h.t, total, uint64(len(h.store.Active())+len(h.store.Closed())))
}

func activeIDs(s *state.Store) []uint64 {
	var ret []uint64
	for _, c := range s.Active() {
		ret = append(ret, c.ID)
	}
	return ret
}

func closedIDs(s *state.Store) []uint64 {
	var ret []uint64
	for _, c := range s.Closed() {
		ret = append(ret, c.ID)
	}
	return ret
}

func createCampaigns(t *testing.T, contract *fakeledger.Contract, n int) {
	t.Helper()
	for range n {
		_, err := contract.Create(testCreator, "ipfs://meta", ether(10), 48*time.Hour)
		require.NoError(t, err)
	}
}

func TestBootstrapEmptyLedger(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, fakeledger.New(testOwner))
	h.start()
	defer h.stop()
	done := h.waitBootstrap()
	assert.Equal(t, uint64(0), done.TotalCount)
	assert.Equal(t, uint64(0), done.ClosedCount)
	assert.Empty(t, h.store.Active())
	assert.Empty(t, h.store.Closed())
	status := h.store.Status()
	assert.True(t, status.Loaded)
	assert.Equal(t, uint64(0), status.TotalCount)
	assert.Equal(t, uint64(0), status.ClosedCount)
}

func TestBootstrapClassifies(t *testing.T) {
	defer goleak.VerifyNone(t)
	contract := fakeledger.New(testOwner)
	createCampaigns(t, contract, 3)
	require.NoError(t, contract.StopCampaign(1, testOwner))
	h := newHarness(t, contract)
	h.start()
	defer h.stop()
	done := h.waitBootstrap()
	assert.Equal(t, uint64(3), done.TotalCount)
	assert.Equal(t, uint64(1), done.ClosedCount)
	assert.Equal(t, []uint64{0, 2}, activeIDs(h.store))
	assert.Equal(t, []uint64{1}, closedIDs(h.store))
	h.requireConsistent()
}

func TestCampaignCreated(t *testing.T) {
	defer goleak.VerifyNone(t)
	contract := fakeledger.New(testOwner)
	createCampaigns(t, contract, 3)
	h := newHarness(t, contract)
	h.start()
	defer h.stop()
	h.waitBootstrap()
	_, err := contract.Create(testCreator, "ipfs://four", ether(10), 48*time.Hour)
	require.NoError(t, err)
	h.waitReconciled(ledger.EventCampaignCreated)
	assert.Equal(t, []uint64{0, 1, 2, 3}, activeIDs(h.store))
	assert.Equal(t, uint64(4), h.store.Status().TotalCount)
	h.requireConsistent()

	// duplicate delivery
	contract.Emit(ledger.Event{Kind: ledger.EventCampaignCreated})
	h.waitReconciled(ledger.EventCampaignCreated)
	assert.Equal(t, []uint64{0, 1, 2, 3}, activeIDs(h.store))
	h.requireConsistent()
}

func TestCoalescedCreationsAreNotLost(t *testing.T) {
	defer goleak.VerifyNone(t)
	contract := fakeledger.New(testOwner)
	h := newHarness(t, contract)
	h.start()
	defer h.stop()
	h.waitBootstrap()
	var blocked atomic.Bool
	release := make(chan struct{})
	// hold the first catch-up read so three creations land behind it
	contract.SetReadHook(func(op string, _ uint64) error {
		if op == "campaignCount" && blocked.CompareAndSwap(false, true) {
			<-release
		}
		return nil
	})
	createCampaigns(t, contract, 1)
	testutil.WaitForCondition(t, blocked.Load, waitTimeout, "catch-up did not start")
	createCampaigns(t, contract, 2)
	close(release)
	h.waitReconciled(ledger.EventCampaignCreated)
	assert.Equal(t, []uint64{0, 1, 2}, activeIDs(h.store))
	h.waitReconciled(ledger.EventCampaignCreated)
	h.waitReconciled(ledger.EventCampaignCreated)
	assert.Equal(t, []uint64{0, 1, 2}, activeIDs(h.store))
	h.requireConsistent()
}

func TestFundedUpdatesInPlace(t *testing.T) {
	defer goleak.VerifyNone(t)
	contract := fakeledger.New(testOwner)
	createCampaigns(t, contract, 3)
	require.NoError(t, contract.Fund(2, testBacker, ether(10)))
	h := newHarness(t, contract)
	h.start()
	defer h.stop()
	h.waitBootstrap()
	require.NoError(t, contract.Fund(2, testBacker2, ether(5)))
	h.waitReconciled(ledger.EventFunded)
	c, ok := h.store.Get(2)
	require.True(t, ok)
	assert.Zero(t, ether(15).Cmp(c.FundsRaised))
	assert.Equal(t, uint64(2), c.ContributorCount)
	assert.Equal(t, []uint64{0, 1, 2}, activeIDs(h.store))
	h.requireConsistent()
}

func TestWithdrawnMovesToClosed(t *testing.T) {
	defer goleak.VerifyNone(t)
	contract := fakeledger.New(testOwner)
	createCampaigns(t, contract, 3)
	require.NoError(t, contract.Fund(2, testBacker, ether(15)))
	h := newHarness(t, contract)
	h.start()
	defer h.stop()
	h.waitBootstrap()
	require.NoError(t, h.store.OpenDetail(2))
	require.NoError(t, contract.Withdraw(2, testCreator))
	h.waitReconciled(ledger.EventWithdrawn)
	assert.Equal(t, []uint64{0, 1}, activeIDs(h.store))
	assert.Equal(t, []uint64{2}, closedIDs(h.store))
	c, _ := h.store.Get(2)
	assert.True(t, c.Closed)
	assert.False(t, c.Stopped)
	assert.Zero(t, ether(15).Cmp(c.FundsRaised))
	_, open := h.store.Detail()
	assert.False(t, open)
	status := h.store.Status()
	assert.Equal(t, uint64(3), status.TotalCount)
	assert.Equal(t, uint64(1), status.ClosedCount)
	h.requireConsistent()
}

func TestStoppedThenRefunded(t *testing.T) {
	defer goleak.VerifyNone(t)
	contract := fakeledger.New(testOwner)
	createCampaigns(t, contract, 6)
	require.NoError(t, contract.Fund(5, testBacker, ether(4)))
	require.NoError(t, contract.Fund(5, testBacker2, ether(6)))
	h := newHarness(t, contract)
	h.start()
	defer h.stop()
	h.waitBootstrap()
	require.NoError(t, contract.StopCampaign(5, testOwner))
	h.waitReconciled(ledger.EventStopped)
	c, _ := h.store.Get(5)
	assert.True(t, c.Closed)
	assert.True(t, c.Stopped)
	assert.Zero(t, ether(10).Cmp(c.FundsRaised))

	require.NoError(t, contract.Refund(5, testBacker))
	h.waitReconciled(ledger.EventRefunded)
	assert.Equal(t, []uint64{5}, closedIDs(h.store))
	c, _ = h.store.Get(5)
	assert.True(t, c.Stopped)
	assert.Zero(t, ether(6).Cmp(c.FundsRaised))
	h.requireConsistent()
}

func TestEventsDuringBootstrapApplyAfter(t *testing.T) {
	defer goleak.VerifyNone(t)
	contract := fakeledger.New(testOwner)
	createCampaigns(t, contract, 3)
	var fired atomic.Bool
	contract.SetReadHook(func(op string, id uint64) error {
		if op == "campaigns" && id == 2 && fired.CompareAndSwap(false, true) {
			// ledger moves on while the scan is in flight
			if err := contract.Fund(0, testBacker, ether(3)); err != nil {
				return err
			}
			if err := contract.StopCampaign(1, testCreator); err != nil {
				return err
			}
			if _, err := contract.Create(testCreator, "late", ether(10), 48*time.Hour); err != nil {
				return err
			}
		}
		return nil
	})
	h := newHarness(t, contract)
	h.start()
	defer h.stop()
	h.waitBootstrap()
	h.waitReconciled(ledger.EventFunded)
	h.waitReconciled(ledger.EventStopped)
	h.waitReconciled(ledger.EventCampaignCreated)
	assert.Equal(t, []uint64{0, 2, 3}, activeIDs(h.store))
	assert.Equal(t, []uint64{1}, closedIDs(h.store))
	c, _ := h.store.Get(0)
	assert.Zero(t, ether(3).Cmp(c.FundsRaised))
	stopped, _ := h.store.Get(1)
	assert.True(t, stopped.Stopped)
	h.requireConsistent()
}

func TestBootstrapFailureKeepsStoreAndReloads(t *testing.T) {
	defer goleak.VerifyNone(t)
	contract := fakeledger.New(testOwner)
	createCampaigns(t, contract, 2)
	h := newHarness(t, contract)
	_, failures := h.eventBus.Subscribe(chainsync.BootstrapFailedEventType)
	h.start()
	defer h.stop()
	h.waitBootstrap()

	var failing atomic.Bool
	failing.Store(true)
	contract.SetReadHook(func(op string, id uint64) error {
		if failing.Load() && op == "campaigns" && id == 1 {
			return errors.New("upstream timeout")
		}
		return nil
	})
	createCampaigns(t, contract, 1)
	h.waitReconciled(ledger.EventCampaignCreated)
	before := activeIDs(h.store)
	require.Equal(t, []uint64{0, 1, 2}, before)
	h.session.Reload()
	testutil.RequireReceive(t, failures, waitTimeout, "bootstrap failure")
	assert.Equal(t, before, activeIDs(h.store))
	assert.Error(t, h.store.Status().LoadError)

	failing.Store(false)
	h.store.DismissError()
	h.session.Reload()
	h.waitBootstrap()
	assert.Equal(t, []uint64{0, 1, 2}, activeIDs(h.store))
	assert.NoError(t, h.store.Status().LoadError)
	h.requireConsistent()
}

func TestReconcileReadFailureLeavesEntry(t *testing.T) {
	defer goleak.VerifyNone(t)
	contract := fakeledger.New(testOwner)
	createCampaigns(t, contract, 1)
	h := newHarness(t, contract)
	h.start()
	defer h.stop()
	h.waitBootstrap()
	contract.SetReadHook(func(op string, _ uint64) error {
		if op == "campaigns" {
			return errors.New("rpc unavailable")
		}
		return nil
	})
	require.NoError(t, contract.Fund(0, testBacker, ether(2)))
	result := h.waitReconciled(ledger.EventFunded)
	require.Error(t, result.Error)
	assert.True(t, ledger.IsTransient(result.Error))
	c, _ := h.store.Get(0)
	assert.Equal(t, int64(0), c.FundsRaised.Int64())
	assert.Error(t, h.store.Status().LoadError)
}

func TestSubscriptionFailureRecovers(t *testing.T) {
	defer goleak.VerifyNone(t)
	contract := fakeledger.New(testOwner)
	createCampaigns(t, contract, 1)
	eventBus := event.NewEventBus(nil, nil)
	defer eventBus.Stop()
	_, bootstraps := eventBus.Subscribe(chainsync.BootstrapCompleteEventType)
	store := state.NewStore(state.StoreConfig{})
	session, err := chainsync.NewSession(chainsync.SessionConfig{
		EventBus:      eventBus,
		Gateway:       contract,
		Store:         store,
		RetryInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, session.Start(context.Background()))
	defer session.Stop()
	testutil.RequireReceive(t, bootstraps, waitTimeout, "first bootstrap")
	contract.FailSubscriptions(errors.New("websocket closed"))
	testutil.RequireReceive(t, bootstraps, waitTimeout, "recovery bootstrap")
	testutil.WaitForCondition(t, func() bool {
		return contract.Subscribers() == 1
	}, waitTimeout, "session did not resubscribe")
	createCampaigns(t, contract, 1)
	testutil.WaitForCondition(t, func() bool {
		return store.Has(1)
	}, waitTimeout, "event after resubscribe not applied")
}

func TestStopUnsubscribes(t *testing.T) {
	defer goleak.VerifyNone(t)
	contract := fakeledger.New(testOwner)
	h := newHarness(t, contract)
	h.start()
	h.waitBootstrap()
	assert.Equal(t, 1, contract.Subscribers())
	h.stop()
	h.session.Stop()
	assert.Equal(t, 0, contract.Subscribers())
	testutil.RequireClosed(t, h.session.Done(), waitTimeout, "session still running")
}

func TestStartAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	contract := fakeledger.New(testOwner)
	h := newHarness(t, contract)
	h.session.Stop()
	testutil.RequireClosed(t, h.session.Done(), waitTimeout, "stopped session not done")
	require.NotPanics(t, func() {
		err := h.session.Start(context.Background())
		require.ErrorIs(t, err, chainsync.ErrSessionStopped)
	})
	assert.Equal(t, 0, contract.Subscribers())
	h.stop()
}

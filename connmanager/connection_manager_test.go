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

package connmanager_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/fundwatch/connmanager"
	"github.com/blinklabs-io/fundwatch/event"
	"github.com/blinklabs-io/fundwatch/internal/test/fakeledger"
	"github.com/blinklabs-io/fundwatch/internal/test/testutil"
	"github.com/blinklabs-io/fundwatch/ledger"
)

var testOwner = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func newTestManager(
	t *testing.T,
	contract *fakeledger.Contract,
	factoryCalls *atomic.Int32,
	eventBus *event.EventBus,
	reg prometheus.Registerer,
) *connmanager.ConnectionManager {
	t.Helper()
	cm, err := connmanager.NewConnectionManager(
		connmanager.ConnectionManagerConfig{
			EventBus:     eventBus,
			PromRegistry: reg,
			Address:      contract.Address(),
			Prober:       contract,
			GatewayFactory: func(context.Context) (ledger.Gateway, error) {
				factoryCalls.Add(1)
				return contract, nil
			},
			RetryInterval: 20 * time.Millisecond,
		},
	)
	require.NoError(t, err)
	return cm
}

func TestProbe(t *testing.T) {
	contract := fakeledger.New(testOwner)
	var calls atomic.Int32
	cm := newTestManager(t, contract, &calls, nil, nil)
	require.NoError(t, cm.Probe(context.Background()))

	contract.SetDeployed(false)
	assert.ErrorIs(t, cm.Probe(context.Background()), ledger.ErrNotDeployed)

	contract.SetProbeError(errors.New("dial tcp: connection refused"))
	err := cm.Probe(context.Background())
	var connErr *ledger.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.False(t, errors.Is(err, ledger.ErrNotDeployed))
	assert.True(t, ledger.IsTransient(err))
}

func TestDeployedAfterStart(t *testing.T) {
	defer goleak.VerifyNone(t)
	contract := fakeledger.New(testOwner)
	contract.SetDeployed(false)
	eventBus := event.NewEventBus(nil, nil)
	defer eventBus.Stop()
	_, readyCh := eventBus.Subscribe(connmanager.ReadyEventType)
	_, failedCh := eventBus.Subscribe(connmanager.ProbeFailedEventType)
	reg := prometheus.NewRegistry()
	var factoryCalls atomic.Int32
	cm := newTestManager(t, contract, &factoryCalls, eventBus, reg)
	require.NoError(t, cm.Start(context.Background()))
	defer cm.Stop()

	failed := testutil.RequireReceive(t, failedCh, time.Second, "probe failure")
	assert.ErrorIs(t, failed.Data.(connmanager.ProbeFailedEvent).Error, ledger.ErrNotDeployed)
	testutil.WaitForCondition(t, func() bool {
		return cm.Attempts() >= 3
	}, 2*time.Second, "manager did not keep retrying")
	assert.False(t, cm.IsReady())
	assert.Nil(t, cm.Gateway())
	assert.ErrorIs(t, cm.LastError(), ledger.ErrNotDeployed)

	contract.SetDeployed(true)
	testutil.RequireClosed(t, cm.Ready(), 2*time.Second, "manager never became ready")
	evt := testutil.RequireReceive(t, readyCh, time.Second, "ready event")
	assert.Equal(t, contract.Address(), evt.Data.(connmanager.ReadyEvent).Address)
	assert.Equal(t, int32(1), factoryCalls.Load())
	assert.Same(t, contract, cm.Gateway())
	assert.NoError(t, cm.LastError())

	// the retry loop has ended
	probes := contract.Probes()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, probes, contract.Probes())
	assert.True(t, cm.IsReady())
	require.NoError(t, promtest.GatherAndCompare(
		reg,
		strings.NewReader(readyMetric),
		"fundwatch_connmanager_ready",
	))

	cm.Stop()
	cm.Stop()
	assert.Equal(t, 1, contract.CloseCount())
}

func TestConnectionErrorKeepsRetrying(t *testing.T) {
	defer goleak.VerifyNone(t)
	contract := fakeledger.New(testOwner)
	contract.SetProbeError(errors.New("connection refused"))
	var factoryCalls atomic.Int32
	cm := newTestManager(t, contract, &factoryCalls, nil, nil)
	require.NoError(t, cm.Start(context.Background()))
	defer cm.Stop()
	testutil.WaitForCondition(t, func() bool {
		return cm.Attempts() >= 2
	}, 2*time.Second, "manager stopped retrying after connection error")
	var connErr *ledger.ConnectionError
	assert.ErrorAs(t, cm.LastError(), &connErr)
	contract.SetProbeError(nil)
	testutil.RequireClosed(t, cm.Ready(), 2*time.Second, "manager never became ready")
	assert.Equal(t, int32(1), factoryCalls.Load())
}

func TestStopBeforeReady(t *testing.T) {
	defer goleak.VerifyNone(t)
	contract := fakeledger.New(testOwner)
	contract.SetDeployed(false)
	var factoryCalls atomic.Int32
	cm := newTestManager(t, contract, &factoryCalls, nil, nil)
	require.NoError(t, cm.Start(context.Background()))
	require.Error(t, cm.Start(context.Background()))
	cm.Stop()
	assert.False(t, cm.IsReady())
	assert.Equal(t, 0, contract.CloseCount())
	assert.Equal(t, int32(0), factoryCalls.Load())
}

const readyMetric = `
# HELP fundwatch_connmanager_ready 1 once the contract has been found
# TYPE fundwatch_connmanager_ready gauge
fundwatch_connmanager_ready 1
`

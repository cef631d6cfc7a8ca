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

package node

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/fundwatch"
	"github.com/blinklabs-io/fundwatch/internal/config"
	"github.com/blinklabs-io/fundwatch/internal/test/fakeledger"
	"github.com/blinklabs-io/fundwatch/ledger"
)

var testOwner = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func testConfig(contract *fakeledger.Contract) *config.Config {
	return &config.Config{
		// HTTP clients connect lazily, so nothing listens here
		RpcUrl:          "http://127.0.0.1:1",
		ContractAddress: contract.Address().Hex(),
		RetryInterval:   20 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
	}
}

func fakeOptions(contract *fakeledger.Contract) []fundwatch.ConfigOptionFunc {
	return []fundwatch.ConfigOptionFunc{
		fundwatch.WithCodeProber(contract),
		fundwatch.WithGatewayFactory(
			func(context.Context) (ledger.Gateway, error) {
				return contract, nil
			},
		),
	}
}

func TestStartLoadsCampaigns(t *testing.T) {
	contract := fakeledger.New(testOwner)
	_, err := contract.Create(testOwner, "ipfs://a", big.NewInt(5000), 48*time.Hour)
	require.NoError(t, err)

	d, stop, err := Start(
		context.Background(),
		testConfig(contract),
		nil,
		fakeOptions(contract)...,
	)
	require.NoError(t, err)
	assert.True(t, d.Ready())
	assert.Len(t, d.Store().Active(), 1)
	require.NoError(t, stop())
	assert.Equal(t, 0, contract.Subscribers())
}

func TestStartTimesOutWhenNotDeployed(t *testing.T) {
	contract := fakeledger.New(testOwner)
	contract.SetDeployed(false)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, _, err := Start(ctx, testConfig(contract), nil, fakeOptions(contract)...)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrNotDeployed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStartInvalidConfig(t *testing.T) {
	cfg := &config.Config{ContractAddress: fakeledger.DefaultAddress.Hex()}
	_, _, err := Start(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "invalid configuration")
}

func TestRedacted(t *testing.T) {
	cfg := &config.Config{
		PrivateKey:         "0x01",
		KeystorePassphrase: "secret",
		RpcUrl:             "http://127.0.0.1:8545",
	}
	out := redacted(cfg)
	assert.Equal(t, "<redacted>", out.PrivateKey)
	assert.Equal(t, "<redacted>", out.KeystorePassphrase)
	assert.Equal(t, cfg.RpcUrl, out.RpcUrl)
	assert.Equal(t, "0x01", cfg.PrivateKey)
}

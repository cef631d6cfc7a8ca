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

package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Reader exposes the contract's read operations. Failures are returned as
// *ReadError.
type Reader interface {
	CampaignCount(ctx context.Context) (uint64, error)
	ClosedCount(ctx context.Context) (uint64, error)
	// Campaign returns the stored record. Stopped is not populated.
	Campaign(ctx context.Context, id uint64) (Campaign, error)
	IsStopped(ctx context.Context, id uint64) (bool, error)
	UserCampaigns(ctx context.Context, account common.Address) (uint64, error)
	Limits(ctx context.Context) (Limits, error)
	Owner(ctx context.Context) (common.Address, error)
	WithdrawAmount(ctx context.Context, id uint64) (*big.Int, error)
	FundingHistory(ctx context.Context, id uint64) ([]Funding, error)
}

// Writer submits state-changing transactions. Submissions return as soon as
// the transaction is accepted by the node; WaitMined blocks until it is
// included.
type Writer interface {
	CreateCampaign(
		ctx context.Context,
		opts *bind.TransactOpts,
		metadataRef string,
		goal *big.Int,
		duration time.Duration,
	) (*types.Transaction, error)
	FundCampaign(
		ctx context.Context,
		opts *bind.TransactOpts,
		id uint64,
		amount *big.Int,
	) (*types.Transaction, error)
	WithdrawFunds(
		ctx context.Context,
		opts *bind.TransactOpts,
		id uint64,
	) (*types.Transaction, error)
	Stop(
		ctx context.Context,
		opts *bind.TransactOpts,
		id uint64,
	) (*types.Transaction, error)
	TakeRefund(
		ctx context.Context,
		opts *bind.TransactOpts,
		id uint64,
	) (*types.Transaction, error)
	WaitMined(
		ctx context.Context,
		tx *types.Transaction,
	) (*types.Receipt, error)
}

// Subscription delivers contract events in log order until Unsubscribe is
// called or an error is sent on Err.
type Subscription interface {
	Events() <-chan Event
	Err() <-chan error
	Unsubscribe()
}

type Subscriber interface {
	SubscribeEvents(ctx context.Context) (Subscription, error)
}

// Gateway is the single handle to the deployed contract
type Gateway interface {
	Reader
	Writer
	Subscriber
	Address() common.Address
	Close()
}

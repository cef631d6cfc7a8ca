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

package identity

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsecureKeyFile = errors.New("key file is accessible by other users")
	ErrUnknownAccount  = errors.New("account is not managed by this provider")
	ErrAccountLocked   = errors.New("account is locked")
)

type NotificationKind int

const (
	AccountsChanged NotificationKind = iota + 1
	NetworkChanged
	Disconnected
)

func (k NotificationKind) String() string {
	switch k {
	case AccountsChanged:
		return "accounts_changed"
	case NetworkChanged:
		return "network_changed"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Notification is pushed by a provider when its view of the world changes.
// Accounts is set for AccountsChanged and ChainID for NetworkChanged.
type Notification struct {
	Kind     NotificationKind
	Accounts []common.Address
	ChainID  *big.Int
}

// Provider is the source of accounts, network and signers
type Provider interface {
	// Accounts returns the accounts already authorized, without prompting
	Accounts(ctx context.Context) ([]common.Address, error)
	// RequestAccounts authorizes accounts, unlocking them if needed
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Signer(
		ctx context.Context,
		account common.Address,
		chainID *big.Int,
	) (*bind.TransactOpts, error)
	Notifications() <-chan Notification
	Close() error
}

// ChainIDReader reads the network id from a node. *ethclient.Client
// satisfies it.
type ChainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

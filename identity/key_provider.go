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
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const maxKeyFileSize = 1 << 20

type KeyProviderConfig struct {
	Logger *slog.Logger
	Node   ChainIDReader
	// HexKey takes precedence over KeyFile
	HexKey       string
	KeyFile      string
	PollInterval time.Duration
}

// KeyProvider signs with a single raw secp256k1 key
type KeyProvider struct {
	node    ChainIDReader
	key     *ecdsa.PrivateKey
	address common.Address
	watcher *chainWatcher
}

func NewKeyProvider(cfg KeyProviderConfig) (*KeyProvider, error) {
	if cfg.Node == nil {
		return nil, errors.New("identity: node is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	hexKey := cfg.HexKey
	if hexKey == "" {
		if cfg.KeyFile == "" {
			return nil, errors.New("identity: a key or key file is required")
		}
		var err error
		hexKey, err = readKeyFile(cfg.KeyFile)
		if err != nil {
			return nil, err
		}
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("identity: invalid private key: %w", err)
	}
	p := &KeyProvider{
		node:    cfg.Node,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
	p.watcher = newChainWatcher(
		cfg.Logger.With("component", "identity", "provider", "key"),
		cfg.Node,
		cfg.PollInterval,
		func() []common.Address { return []common.Address{p.address} },
	)
	return p, nil
}

func readKeyFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open key file %q: %w", path, err)
	}
	defer f.Close()
	if err := checkKeyFileMode(f); err != nil {
		return "", err
	}
	data, err := io.ReadAll(io.LimitReader(f, maxKeyFileSize))
	if err != nil {
		return "", fmt.Errorf("failed to read key file %q: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (p *KeyProvider) Address() common.Address {
	return p.address
}

func (p *KeyProvider) Accounts(context.Context) ([]common.Address, error) {
	return []common.Address{p.address}, nil
}

func (p *KeyProvider) RequestAccounts(context.Context) ([]common.Address, error) {
	return []common.Address{p.address}, nil
}

func (p *KeyProvider) ChainID(ctx context.Context) (*big.Int, error) {
	return p.node.ChainID(ctx)
}

func (p *KeyProvider) Signer(
	ctx context.Context,
	account common.Address,
	chainID *big.Int,
) (*bind.TransactOpts, error) {
	if account != p.address {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account.Hex())
	}
	opts, err := bind.NewKeyedTransactorWithChainID(p.key, chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

func (p *KeyProvider) Notifications() <-chan Notification {
	return p.watcher.out
}

func (p *KeyProvider) Close() error {
	p.watcher.stop()
	return nil
}

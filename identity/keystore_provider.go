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
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	ethevent "github.com/ethereum/go-ethereum/event"
)

type KeystoreProviderConfig struct {
	Logger *slog.Logger
	Node   ChainIDReader
	// Dir is a directory of encrypted JSON key files
	Dir        string
	Passphrase string
	// Account selects which key to unlock. The first key is used when empty.
	Account common.Address
	// LightKDF trades key file strength for speed
	LightKDF     bool
	PollInterval time.Duration
}

// KeystoreProvider signs with accounts from an encrypted key directory.
// Nothing is unlocked until RequestAccounts is called.
type KeystoreProvider struct {
	config    KeystoreProviderConfig
	logger    *slog.Logger
	ks        *keystore.KeyStore
	watcher   *chainWatcher
	walletCh  chan accounts.WalletEvent
	walletSub ethevent.Subscription
	mu        sync.Mutex
	unlocked  []common.Address
	doneCh    chan struct{}
}

func NewKeystoreProvider(cfg KeystoreProviderConfig) (*KeystoreProvider, error) {
	if cfg.Node == nil {
		return nil, errors.New("identity: node is required")
	}
	if cfg.Dir == "" {
		return nil, errors.New("identity: keystore directory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	scryptN, scryptP := keystore.StandardScryptN, keystore.StandardScryptP
	if cfg.LightKDF {
		scryptN, scryptP = keystore.LightScryptN, keystore.LightScryptP
	}
	p := &KeystoreProvider{
		config:   cfg,
		logger:   cfg.Logger.With("component", "identity", "provider", "keystore"),
		ks:       keystore.NewKeyStore(cfg.Dir, scryptN, scryptP),
		walletCh: make(chan accounts.WalletEvent, 8),
		doneCh:   make(chan struct{}),
	}
	p.watcher = newChainWatcher(p.logger, cfg.Node, cfg.PollInterval, p.authorized)
	p.walletSub = p.ks.Subscribe(p.walletCh)
	go p.walletLoop()
	return p, nil
}

// KeyStore exposes the underlying key store for account management
func (p *KeystoreProvider) KeyStore() *keystore.KeyStore {
	return p.ks
}

func (p *KeystoreProvider) authorized() []common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	ret := make([]common.Address, len(p.unlocked))
	copy(ret, p.unlocked)
	return ret
}

func (p *KeystoreProvider) Accounts(context.Context) ([]common.Address, error) {
	return p.authorized(), nil
}

func (p *KeystoreProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if current := p.authorized(); len(current) > 0 {
		return current, nil
	}
	account, err := p.selectAccount()
	if err != nil {
		return nil, err
	}
	if err := p.ks.Unlock(account, p.config.Passphrase); err != nil {
		return nil, fmt.Errorf("failed to unlock %s: %w", account.Address.Hex(), err)
	}
	p.mu.Lock()
	p.unlocked = []common.Address{account.Address}
	p.mu.Unlock()
	p.logger.Info("unlocked account", "account", account.Address.Hex())
	return []common.Address{account.Address}, nil
}

func (p *KeystoreProvider) selectAccount() (accounts.Account, error) {
	if p.config.Account != (common.Address{}) {
		account, err := p.ks.Find(accounts.Account{Address: p.config.Account})
		if err != nil {
			return accounts.Account{}, fmt.Errorf(
				"%w: %s",
				ErrUnknownAccount,
				p.config.Account.Hex(),
			)
		}
		return account, nil
	}
	all := p.ks.Accounts()
	if len(all) == 0 {
		return accounts.Account{}, errors.New("keystore holds no accounts")
	}
	return all[0], nil
}

func (p *KeystoreProvider) ChainID(ctx context.Context) (*big.Int, error) {
	return p.config.Node.ChainID(ctx)
}

func (p *KeystoreProvider) Signer(
	ctx context.Context,
	account common.Address,
	chainID *big.Int,
) (*bind.TransactOpts, error) {
	var found bool
	for _, addr := range p.authorized() {
		if addr == account {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrAccountLocked, account.Hex())
	}
	opts, err := bind.NewKeyStoreTransactorWithChainID(
		p.ks,
		accounts.Account{Address: account},
		chainID,
	)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

func (p *KeystoreProvider) Notifications() <-chan Notification {
	return p.watcher.out
}

// walletLoop drops unlocked accounts whose key file disappears
func (p *KeystoreProvider) walletLoop() {
	defer close(p.doneCh)
	for {
		select {
		case <-p.walletSub.Err():
			return
		case ev := <-p.walletCh:
			if ev.Kind != accounts.WalletDropped {
				continue
			}
			if p.drop(ev.Wallet.Accounts()) {
				p.watcher.notify(Notification{
					Kind:     AccountsChanged,
					Accounts: p.authorized(),
				})
			}
		}
	}
}

func (p *KeystoreProvider) drop(gone []accounts.Account) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	var changed bool
	kept := p.unlocked[:0]
	for _, addr := range p.unlocked {
		var dropped bool
		for _, acct := range gone {
			if acct.Address == addr {
				dropped = true
				break
			}
		}
		if dropped {
			changed = true
			continue
		}
		kept = append(kept, addr)
	}
	p.unlocked = kept
	return changed
}

func (p *KeystoreProvider) Close() error {
	p.walletSub.Unsubscribe()
	<-p.doneCh
	p.watcher.stop()
	p.mu.Lock()
	unlocked := p.unlocked
	p.unlocked = nil
	p.mu.Unlock()
	var errs []error
	for _, addr := range unlocked {
		if err := p.ks.Lock(addr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

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

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/blinklabs-io/fundwatch/event"
	"github.com/blinklabs-io/fundwatch/ledger"
)

type TrackerConfig struct {
	Logger   *slog.Logger
	EventBus *event.EventBus
	Provider Provider
}

// Tracker follows the provider's account and network
type Tracker struct {
	config    TrackerConfig
	logger    *slog.Logger
	mu        sync.Mutex
	current   Identity
	version   uint64
	signer    *bind.TransactOpts
	cancel    context.CancelFunc
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Provider == nil {
		return nil, errors.New("identity: provider is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Tracker{
		config: cfg,
		logger: cfg.Logger.With("component", "identity"),
		doneCh: make(chan struct{}),
	}, nil
}

// Start reads the initial identity without prompting and begins following
// provider notifications. A provider that cannot be reached yields no
// identity rather than an error.
func (t *Tracker) Start(ctx context.Context) error {
	var started bool
	t.startOnce.Do(func() {
		started = true
		runCtx, cancel := context.WithCancel(ctx)
		t.mu.Lock()
		t.cancel = cancel
		t.mu.Unlock()
		t.refresh(runCtx)
		go t.watch(runCtx)
	})
	if !started {
		return errors.New("identity: tracker already started")
	}
	return nil
}

func (t *Tracker) refresh(ctx context.Context) {
	next := Identity{}
	chainID, err := t.config.Provider.ChainID(ctx)
	if err != nil {
		t.logger.Warn("identity provider unavailable", "error", err)
	} else {
		next.ChainID = chainID
		next.Connected = true
		accounts, err := t.config.Provider.Accounts(ctx)
		if err != nil {
			t.logger.Warn("failed to read accounts", "error", err)
		} else if len(accounts) > 0 {
			next.Account = accounts[0]
			next.HasAccount = true
		}
	}
	t.mu.Lock()
	t.current = next
	t.version++
	t.signer = nil
	t.mu.Unlock()
	t.publishIdentity(next)
}

func (t *Tracker) watch(ctx context.Context) {
	defer close(t.doneCh)
	notifications := t.config.Provider.Notifications()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			t.handle(n)
		}
	}
}

func (t *Tracker) handle(n Notification) {
	t.logger.Debug("identity notification", "kind", n.Kind.String())
	t.mu.Lock()
	prev := t.current
	next := prev
	var networkChanged bool
	switch n.Kind {
	case AccountsChanged:
		next.Connected = true
		if len(n.Accounts) == 0 {
			next.Account = common.Address{}
			next.HasAccount = false
		} else {
			next.Account = n.Accounts[0]
			next.HasAccount = true
		}
	case NetworkChanged:
		next.Connected = true
		next.ChainID = n.ChainID
		networkChanged = prev.ChainID == nil ||
			n.ChainID == nil ||
			prev.ChainID.Cmp(n.ChainID) != 0
	case Disconnected:
		next = Identity{ChainID: prev.ChainID}
	default:
		t.mu.Unlock()
		return
	}
	t.current = next
	t.version++
	if next.Account != prev.Account || networkChanged || !next.HasAccount {
		t.signer = nil
	}
	t.mu.Unlock()
	if networkChanged {
		t.logger.Info(
			"network changed",
			"previous", chainString(prev.ChainID),
			"current", chainString(next.ChainID),
		)
		if t.config.EventBus != nil {
			t.config.EventBus.Publish(
				NetworkChangedEventType,
				event.NewEvent(
					NetworkChangedEventType,
					NetworkChangedEvent{
						Previous: prev.ChainID,
						Current:  next.ChainID,
					},
				),
			)
		}
	}
	t.publishIdentity(next)
}

func (t *Tracker) publishIdentity(id Identity) {
	if t.config.EventBus == nil {
		return
	}
	t.config.EventBus.Publish(
		IdentityChangedEventType,
		event.NewEvent(
			IdentityChangedEventType,
			IdentityChangedEvent{Identity: id},
		),
	)
}

// Current returns the identity as last observed
func (t *Tracker) Current() Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Connect returns a signer for the current account, requesting accounts
// from the provider first when none is authorized
func (t *Tracker) Connect(ctx context.Context) (*bind.TransactOpts, error) {
	t.mu.Lock()
	if t.signer != nil {
		signer := t.signer
		t.mu.Unlock()
		return signer, nil
	}
	current := t.current
	version := t.version
	t.mu.Unlock()
	chainID := current.ChainID
	if chainID == nil {
		var err error
		chainID, err = t.config.Provider.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ledger.ErrIdentityUnavailable, err)
		}
	}
	account := current.Account
	if !current.HasAccount {
		accounts, err := t.config.Provider.RequestAccounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ledger.ErrIdentityUnavailable, err)
		}
		if len(accounts) == 0 {
			return nil, fmt.Errorf(
				"%w: provider returned no accounts",
				ledger.ErrIdentityUnavailable,
			)
		}
		account = accounts[0]
	}
	signer, err := t.config.Provider.Signer(ctx, account, chainID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrIdentityUnavailable, err)
	}
	next := Identity{
		Account:    account,
		HasAccount: true,
		ChainID:    chainID,
		Connected:  true,
	}
	t.mu.Lock()
	// a notification handled while the provider was prompting wins
	if t.version != version {
		t.mu.Unlock()
		return nil, fmt.Errorf(
			"%w: identity changed while connecting",
			ledger.ErrIdentityUnavailable,
		)
	}
	t.current = next
	t.version++
	t.signer = signer
	t.mu.Unlock()
	if !current.HasAccount {
		t.logger.Info("connected account", "account", account.Hex())
		t.publishIdentity(next)
	}
	return signer, nil
}

// Stop ends notification handling and closes the provider
func (t *Tracker) Stop() error {
	var err error
	t.stopOnce.Do(func() {
		t.mu.Lock()
		cancel := t.cancel
		t.mu.Unlock()
		if cancel != nil {
			cancel()
			<-t.doneCh
		}
		err = t.config.Provider.Close()
	})
	return err
}

func chainString(chainID *big.Int) string {
	if chainID == nil {
		return "none"
	}
	return chainID.String()
}

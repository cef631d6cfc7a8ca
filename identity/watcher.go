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
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const DefaultPollInterval = 2 * time.Second

// chainWatcher polls the node's chain id. A failed read reports
// Disconnected once, a later success reports the accounts again, and a
// different id reports NetworkChanged.
type chainWatcher struct {
	logger   *slog.Logger
	node     ChainIDReader
	interval time.Duration
	accounts func() []common.Address
	out      chan Notification
	cancel   context.CancelFunc
	doneCh   chan struct{}
	once     sync.Once
}

func newChainWatcher(
	logger *slog.Logger,
	node ChainIDReader,
	interval time.Duration,
	accounts func() []common.Address,
) *chainWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &chainWatcher{
		logger:   logger,
		node:     node,
		interval: interval,
		accounts: accounts,
		out:      make(chan Notification, 16),
		cancel:   cancel,
		doneCh:   make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

func (w *chainWatcher) run(ctx context.Context) {
	defer close(w.doneCh)
	var last *big.Int
	var disconnected bool
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		chainID, err := w.node.ChainID(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			if !disconnected {
				disconnected = true
				w.logger.Warn("lost connection to node", "error", err)
				w.send(ctx, Notification{Kind: Disconnected})
			}
		default:
			if last != nil && last.Cmp(chainID) != 0 {
				w.send(ctx, Notification{Kind: NetworkChanged, ChainID: chainID})
			}
			if disconnected {
				disconnected = false
				w.send(ctx, Notification{Kind: AccountsChanged, Accounts: w.accounts()})
			}
			last = chainID
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *chainWatcher) send(ctx context.Context, n Notification) {
	select {
	case w.out <- n:
	case <-ctx.Done():
	}
}

// notify lets the owning provider inject its own notifications
func (w *chainWatcher) notify(n Notification) {
	select {
	case w.out <- n:
	case <-w.doneCh:
	}
}

func (w *chainWatcher) stop() {
	w.once.Do(func() {
		w.cancel()
		<-w.doneCh
	})
}

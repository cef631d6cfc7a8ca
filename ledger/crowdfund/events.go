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

package crowdfund

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/blinklabs-io/fundwatch/ledger"
)

type fundingLog struct {
	CampaignId *big.Int
	Backer     common.Address
	Amount     *big.Int
}

type withdrawnLog struct {
	CampaignId *big.Int
	Creator    common.Address
	Amount     *big.Int
}

type stoppedLog struct {
	CampaignId *big.Int
	ByCreator  bool
}

func (g *Gateway) decodeLog(lg types.Log) (ledger.Event, error) {
	if len(lg.Topics) == 0 {
		return ledger.Event{}, errors.New("log has no topics")
	}
	kind, ok := g.eventIDs[lg.Topics[0]]
	if !ok {
		return ledger.Event{}, fmt.Errorf(
			"unknown event topic %s",
			lg.Topics[0].Hex(),
		)
	}
	evt := ledger.Event{
		Kind:        kind,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
	}
	switch kind {
	case ledger.EventCampaignCreated:
	case ledger.EventFunded, ledger.EventRefunded:
		var out fundingLog
		if err := g.contract.UnpackLog(&out, kind.String(), lg); err != nil {
			return ledger.Event{}, fmt.Errorf("decode %s: %w", kind, err)
		}
		evt.CampaignID = out.CampaignId.Uint64()
		evt.Account = out.Backer
		evt.Amount = out.Amount
	case ledger.EventWithdrawn:
		var out withdrawnLog
		if err := g.contract.UnpackLog(&out, kind.String(), lg); err != nil {
			return ledger.Event{}, fmt.Errorf("decode %s: %w", kind, err)
		}
		evt.CampaignID = out.CampaignId.Uint64()
		evt.Account = out.Creator
		evt.Amount = out.Amount
	case ledger.EventStopped:
		var out stoppedLog
		if err := g.contract.UnpackLog(&out, kind.String(), lg); err != nil {
			return ledger.Event{}, fmt.Errorf("decode %s: %w", kind, err)
		}
		evt.CampaignID = out.CampaignId.Uint64()
		evt.ByCreator = out.ByCreator
	}
	return evt, nil
}

func (g *Gateway) eventQuery() ethereum.FilterQuery {
	topics := make([]common.Hash, 0, len(g.eventIDs))
	for id := range g.eventIDs {
		topics = append(topics, id)
	}
	return ethereum.FilterQuery{
		Addresses: []common.Address{g.config.Address},
		Topics:    [][]common.Hash{topics},
	}
}

type subscription struct {
	events chan ledger.Event
	errCh  chan error
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newSubscription(cancel context.CancelFunc) *subscription {
	return &subscription{
		events: make(chan ledger.Event, 64),
		errCh:  make(chan error, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *subscription) Events() <-chan ledger.Event {
	return s.events
}

func (s *subscription) Err() <-chan error {
	return s.errCh
}

// Unsubscribe stops delivery and waits for the delivery goroutine to exit
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *subscription) fail(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}

// SubscribeEvents delivers contract events from the moment of the call. Push
// notifications are used when the transport supports them, otherwise the
// logs are polled.
func (g *Gateway) SubscribeEvents(
	ctx context.Context,
) (ledger.Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(cancel)
	query := g.eventQuery()
	logsCh := make(chan types.Log, 64)
	ethSub, err := g.config.Backend.SubscribeFilterLogs(subCtx, query, logsCh)
	if err == nil {
		g.logger.Debug("subscribed to contract logs")
		go g.pushLoop(subCtx, sub, ethSub, logsCh)
		return sub, nil
	}
	if !errors.Is(err, rpc.ErrNotificationsUnsupported) {
		cancel()
		return nil, &ledger.ReadError{Op: "subscribe logs", Err: err}
	}
	head, err := g.config.Backend.BlockNumber(subCtx)
	if err != nil {
		cancel()
		return nil, &ledger.ReadError{Op: "block number", Err: err}
	}
	g.logger.Debug(
		"log notifications unsupported, polling",
		"from_block", head+1,
		"interval", g.config.PollInterval,
	)
	go g.pollLoop(subCtx, sub, query, head+1)
	return sub, nil
}

func (g *Gateway) pushLoop(
	ctx context.Context,
	sub *subscription,
	ethSub ethereum.Subscription,
	logsCh <-chan types.Log,
) {
	defer close(sub.done)
	defer ethSub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-ethSub.Err():
			if err == nil {
				if ctx.Err() != nil {
					return
				}
				err = errors.New("log subscription closed")
			}
			sub.fail(&ledger.ReadError{Op: "log subscription", Err: err})
			return
		case lg := <-logsCh:
			if !g.forward(ctx, sub, lg) {
				return
			}
		}
	}
}

func (g *Gateway) pollLoop(
	ctx context.Context,
	sub *subscription,
	query ethereum.FilterQuery,
	fromBlock uint64,
) {
	defer close(sub.done)
	ticker := time.NewTicker(g.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		head, err := g.config.Backend.BlockNumber(ctx)
		if err != nil {
			g.logger.Warn("failed to read block number", "error", err)
			continue
		}
		if head < fromBlock {
			continue
		}
		query.FromBlock = new(big.Int).SetUint64(fromBlock)
		query.ToBlock = new(big.Int).SetUint64(head)
		logs, err := g.config.Backend.FilterLogs(ctx, query)
		if err != nil {
			g.logger.Warn(
				"failed to poll contract logs",
				"from_block", fromBlock,
				"to_block", head,
				"error", err,
			)
			continue
		}
		for _, lg := range logs {
			if !g.forward(ctx, sub, lg) {
				return
			}
		}
		fromBlock = head + 1
	}
}

// forward returns false once the subscription context is done
func (g *Gateway) forward(
	ctx context.Context,
	sub *subscription,
	lg types.Log,
) bool {
	if lg.Removed {
		g.logger.Debug(
			"ignoring removed log",
			"block", lg.BlockNumber,
			"tx", lg.TxHash.Hex(),
		)
		return true
	}
	evt, err := g.decodeLog(lg)
	if err != nil {
		g.logger.Warn("failed to decode contract log", "error", err)
		return true
	}
	select {
	case sub.events <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

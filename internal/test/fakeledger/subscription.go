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

package fakeledger

import (
	"context"
	"sync"

	"github.com/blinklabs-io/fundwatch/ledger"
)

// subscription queues events without bound so the contract never blocks on
// a slow consumer
type subscription struct {
	contract *Contract
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	queue    []ledger.Event
	notify   chan struct{}
	events   chan ledger.Event
	errCh    chan error
	done     chan struct{}
	once     sync.Once
}

func newSubscription(ctx context.Context, c *Contract) *subscription {
	subCtx, cancel := context.WithCancel(ctx)
	return &subscription{
		contract: c,
		ctx:      subCtx,
		cancel:   cancel,
		notify:   make(chan struct{}, 1),
		events:   make(chan ledger.Event),
		errCh:    make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (s *subscription) Events() <-chan ledger.Event {
	return s.events
}

func (s *subscription) Err() <-chan error {
	return s.errCh
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.contract.removeSub(s)
	})
}

func (s *subscription) push(evt ledger.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.ctx.Done():
				return
			case <-s.notify:
			}
			continue
		}
		evt := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		select {
		case s.events <- evt:
		case <-s.ctx.Done():
			return
		}
	}
}

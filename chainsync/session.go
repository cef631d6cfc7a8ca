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

package chainsync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/blinklabs-io/fundwatch/event"
	"github.com/blinklabs-io/fundwatch/ledger"
	"github.com/blinklabs-io/fundwatch/state"
)

// SessionGateway is the part of the ledger gateway a session needs
type SessionGateway interface {
	ledger.Reader
	ledger.Subscriber
}

type SessionConfig struct {
	Logger      *slog.Logger
	EventBus    *event.EventBus
	Metrics     *Metrics
	Gateway     SessionGateway
	Store       *state.Store
	ReadLimiter *rate.Limiter
	// RetryInterval schedules another bootstrap after a failure. Zero
	// leaves recovery to Reload.
	RetryInterval time.Duration
}

// Session ties one event subscription to one Store. A single goroutine
// subscribes, bootstraps and then applies events in delivery order, so it
// is the only writer to the Store while it runs.
type Session struct {
	config       SessionConfig
	logger       *slog.Logger
	loader       *Loader
	reconciler   *Reconciler
	sub          ledger.Subscription
	bootstrapped bool
	reloadCh     chan struct{}
	cancel       context.CancelFunc
	doneCh       chan struct{}
	mu           sync.Mutex
	started      bool
	stopped      bool
	stopOnce     sync.Once
}

var ErrSessionStopped = errors.New("chainsync: session stopped")

func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("chainsync: gateway is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("chainsync: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s := &Session{
		config:   cfg,
		logger:   cfg.Logger.With("component", "chainsync"),
		reloadCh: make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}
	s.loader = NewLoader(LoaderConfig{
		Logger:      cfg.Logger,
		EventBus:    cfg.EventBus,
		Metrics:     cfg.Metrics,
		Reader:      cfg.Gateway,
		Store:       cfg.Store,
		ReadLimiter: cfg.ReadLimiter,
	})
	s.reconciler = NewReconciler(ReconcilerConfig{
		Logger:      cfg.Logger,
		EventBus:    cfg.EventBus,
		Metrics:     cfg.Metrics,
		Reader:      cfg.Gateway,
		Store:       cfg.Store,
		ReadLimiter: cfg.ReadLimiter,
	})
	return s, nil
}

// Start subscribes to ledger events and launches the session goroutine,
// which bootstraps before applying any event. Events raised during the scan
// are queued by the subscription and applied afterwards.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSessionStopped
	}
	if s.started {
		return errors.New("chainsync: session already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	sub, err := s.config.Gateway.SubscribeEvents(runCtx)
	if err != nil {
		cancel()
		return err
	}
	s.started = true
	s.sub = sub
	s.cancel = cancel
	go s.run(runCtx)
	return nil
}

// Reload asks the session goroutine to run the bootstrap again
func (s *Session) Reload() {
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

// Done is closed when the session goroutine has exited
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}

// Stop cancels the subscription and waits for the session goroutine
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		started := s.started
		cancel := s.cancel
		s.mu.Unlock()
		if !started {
			close(s.doneCh)
			return
		}
		cancel()
		<-s.doneCh
	})
}

func (s *Session) run(ctx context.Context) {
	defer close(s.doneCh)
	defer func() {
		if s.sub != nil {
			s.sub.Unsubscribe()
		}
	}()
	var retryTimer *time.Timer
	var retryCh <-chan time.Time
	scheduleRetry := func() {
		if s.config.RetryInterval <= 0 {
			return
		}
		if retryTimer == nil {
			retryTimer = time.NewTimer(s.config.RetryInterval)
		} else {
			retryTimer.Reset(s.config.RetryInterval)
		}
		retryCh = retryTimer.C
	}
	defer func() {
		if retryTimer != nil {
			retryTimer.Stop()
		}
	}()
	if !s.recover(ctx) {
		scheduleRetry()
	}
	for {
		var eventsCh <-chan ledger.Event
		var errCh <-chan error
		if s.sub != nil {
			eventsCh = s.sub.Events()
			errCh = s.sub.Err()
		}
		select {
		case <-ctx.Done():
			return
		case <-s.reloadCh:
			retryCh = nil
			if !s.recover(ctx) {
				scheduleRetry()
			}
		case <-retryCh:
			retryCh = nil
			if !s.recover(ctx) {
				scheduleRetry()
			}
		case err := <-errCh:
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("event subscription failed", "error", err)
			s.config.Store.SetLoadError(err)
			s.sub.Unsubscribe()
			s.sub = nil
			s.bootstrapped = false
			scheduleRetry()
		case evt := <-eventsCh:
			if !s.bootstrapped {
				s.logger.Debug(
					"skipping event until bootstrap succeeds",
					"kind", evt.Kind.String(),
					"id", evt.CampaignID,
				)
				continue
			}
			// errors are recorded on the Store by the reconciler
			_ = s.reconciler.Apply(ctx, evt)
		}
	}
}

// recover restores the subscription if it was lost and runs the bootstrap.
// It returns false when either step failed.
func (s *Session) recover(ctx context.Context) bool {
	if s.sub == nil {
		sub, err := s.config.Gateway.SubscribeEvents(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("failed to resubscribe", "error", err)
				s.config.Store.SetLoadError(err)
			}
			return false
		}
		s.sub = sub
	}
	if err := s.loader.Load(ctx); err != nil {
		s.bootstrapped = false
		return false
	}
	s.bootstrapped = true
	return true
}

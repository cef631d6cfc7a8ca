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

package fundwatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/blinklabs-io/fundwatch/api"
	"github.com/blinklabs-io/fundwatch/chainsync"
	"github.com/blinklabs-io/fundwatch/connmanager"
	"github.com/blinklabs-io/fundwatch/dispatch"
	"github.com/blinklabs-io/fundwatch/event"
	"github.com/blinklabs-io/fundwatch/identity"
	"github.com/blinklabs-io/fundwatch/internal/version"
	"github.com/blinklabs-io/fundwatch/ledger"
	"github.com/blinklabs-io/fundwatch/ledger/crowdfund"
	"github.com/blinklabs-io/fundwatch/metadata"
	"github.com/blinklabs-io/fundwatch/state"
)

var ErrNotReady = errors.New("contract has not been found yet")

type Node struct {
	connManager   *connmanager.ConnectionManager
	eventBus      *event.EventBus
	store         *state.Store
	syncMetrics   *chainsync.Metrics
	readLimiter   *rate.Limiter
	client        *ethclient.Client
	tracker       *identity.Tracker
	signer        dispatch.Signer
	resolver      *metadata.Resolver
	api           *api.API
	mu            sync.Mutex
	session       *chainsync.Session
	dispatcher    *dispatch.Dispatcher
	networkCh     chan struct{}
	cancel        context.CancelFunc
	stopped       bool
	wg            sync.WaitGroup
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	eventBus := event.NewEventBus(cfg.promRegistry, cfg.logger)
	n := &Node{
		config:   cfg,
		eventBus: eventBus,
		store: state.NewStore(state.StoreConfig{
			Logger:       cfg.logger,
			EventBus:     eventBus,
			PromRegistry: cfg.promRegistry,
		}),
		syncMetrics: chainsync.NewMetrics(cfg.promRegistry),
		networkCh:   make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	if err := n.configValidate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.readRateLimit > 0 {
		burst := max(cfg.readBurst, 1)
		n.readLimiter = rate.NewLimiter(rate.Limit(cfg.readRateLimit), burst)
	}
	return n, nil
}

// Run starts contract discovery and the configured services, then blocks
// until Stop is called
func (n *Node) Run() error {
	if err := n.start(); err != nil {
		return err
	}
	// Wait for shutdown signal
	<-n.done
	return nil
}

func (n *Node) start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return errors.New("node has been stopped")
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(ctx); err != nil {
			return err
		}
	}
	if err := n.setupBackend(ctx); err != nil {
		return err
	}
	// Identity
	if err := n.setupIdentity(ctx); err != nil {
		return err
	}
	// Session restarts follow network changes
	n.eventBus.SubscribeFunc(
		identity.NetworkChangedEventType,
		func(evt event.Event) {
			if data, ok := evt.Data.(identity.NetworkChangedEvent); ok {
				n.config.logger.Info(
					"network changed, reloading campaigns",
					"previous", data.Previous,
					"current", data.Current,
				)
			}
			select {
			case n.networkCh <- struct{}{}:
			default:
			}
		},
	)
	// Metadata
	resolver, err := metadata.NewResolver(metadata.ResolverConfig{
		Logger:             n.config.logger,
		PromRegistry:       n.config.promRegistry,
		IPFSGateway:        n.config.ipfsGateway,
		CacheSize:          n.config.metadataCacheSize,
		GCSCredentialsFile: n.config.gcsCredentialsFile,
	})
	if err != nil {
		return fmt.Errorf("failed to create metadata resolver: %w", err)
	}
	n.resolver = resolver
	// Contract discovery
	connManager, err := connmanager.NewConnectionManager(
		connmanager.ConnectionManagerConfig{
			Logger:         n.config.logger,
			EventBus:       n.eventBus,
			PromRegistry:   n.config.promRegistry,
			Address:        n.config.contractAddress,
			Prober:         n.config.codeProber,
			GatewayFactory: n.config.gatewayFactory,
			RetryInterval:  n.config.retryInterval,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create connection manager: %w", err)
	}
	n.connManager = connManager
	if err := n.connManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start connection manager: %w", err)
	}
	n.wg.Add(1)
	go n.supervise(ctx)
	// API
	if n.config.apiListenAddress != "" {
		n.api, err = api.New(api.APIConfig{
			Logger:        n.config.logger,
			ListenAddress: n.config.apiListenAddress,
			Campaigns:     n.store,
			Ledger:        n,
			Metadata:      n.resolver,
			Version:       version.GetVersionString(),
		})
		if err != nil {
			return fmt.Errorf("failed to create API: %w", err)
		}
		if err := n.api.Start(ctx); err != nil {
			return fmt.Errorf("failed to start API: %w", err)
		}
	}
	return nil
}

func (n *Node) setupBackend(ctx context.Context) error {
	if n.config.rpcURL == "" {
		return nil
	}
	client, err := ethclient.DialContext(ctx, n.config.rpcURL)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", n.config.rpcURL, err)
	}
	n.client = client
	if n.config.codeProber == nil {
		n.config.codeProber = client
	}
	if n.config.gatewayFactory == nil {
		n.config.gatewayFactory = func(context.Context) (ledger.Gateway, error) {
			return crowdfund.NewGateway(crowdfund.GatewayConfig{
				Logger:           n.config.logger,
				Backend:          client,
				Address:          n.config.contractAddress,
				PollInterval:     n.config.pollInterval,
				HistoryFromBlock: n.config.historyFromBlock,
			})
		}
	}
	return nil
}

func (n *Node) setupIdentity(ctx context.Context) error {
	provider := n.config.identityProvider
	chainReader, _ := n.config.codeProber.(identity.ChainIDReader)
	if provider == nil && chainReader != nil {
		var err error
		switch {
		case n.config.privateKey != "" || n.config.keyFile != "":
			provider, err = identity.NewKeyProvider(identity.KeyProviderConfig{
				Logger:       n.config.logger,
				Node:         chainReader,
				HexKey:       n.config.privateKey,
				KeyFile:      n.config.keyFile,
				PollInterval: n.config.identityPollInterval,
			})
		case n.config.keystoreDir != "":
			provider, err = identity.NewKeystoreProvider(
				identity.KeystoreProviderConfig{
					Logger:       n.config.logger,
					Node:         chainReader,
					Dir:          n.config.keystoreDir,
					Passphrase:   n.config.keystorePassphrase,
					Account:      n.config.account,
					LightKDF:     n.config.lightKDF,
					PollInterval: n.config.identityPollInterval,
				},
			)
		}
		if err != nil {
			return fmt.Errorf("failed to load identity: %w", err)
		}
	}
	if provider == nil {
		n.config.logger.Info("no identity configured, actions are disabled")
		n.signer = noIdentity{}
		return nil
	}
	tracker, err := identity.NewTracker(identity.TrackerConfig{
		Logger:   n.config.logger,
		EventBus: n.eventBus,
		Provider: provider,
	})
	if err != nil {
		return err
	}
	if err := tracker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start identity tracker: %w", err)
	}
	n.tracker = tracker
	n.signer = tracker
	return nil
}

// supervise waits for the contract, then keeps exactly one session running
// against the Store until shutdown
func (n *Node) supervise(ctx context.Context) {
	defer n.wg.Done()
	select {
	case <-ctx.Done():
		return
	case <-n.connManager.Ready():
	}
	gateway := n.connManager.Gateway()
	dispatcher, err := dispatch.NewDispatcher(dispatch.DispatcherConfig{
		Logger:       n.config.logger,
		EventBus:     n.eventBus,
		PromRegistry: n.config.promRegistry,
		Ledger:       gateway,
		Signer:       n.signer,
		Confirm:      n.config.confirm,
	})
	if err != nil {
		n.config.logger.Error("failed to create dispatcher", "error", err)
	}
	n.mu.Lock()
	n.dispatcher = dispatcher
	n.mu.Unlock()
	for {
		session := n.startSession(ctx, gateway)
		if session == nil {
			return
		}
		select {
		case <-ctx.Done():
			session.Stop()
			return
		case <-n.networkCh:
			n.mu.Lock()
			n.session = nil
			n.mu.Unlock()
			session.Stop()
			n.store.Reset()
		}
	}
}

// startSession retries until a subscription is established. It returns nil
// when ctx is cancelled first.
func (n *Node) startSession(
	ctx context.Context,
	gateway ledger.Gateway,
) *chainsync.Session {
	for {
		session, err := chainsync.NewSession(chainsync.SessionConfig{
			Logger:        n.config.logger,
			EventBus:      n.eventBus,
			Metrics:       n.syncMetrics,
			Gateway:       gateway,
			Store:         n.store,
			ReadLimiter:   n.readLimiter,
			RetryInterval: n.config.sessionRetryInterval,
		})
		if err == nil {
			err = session.Start(ctx)
		}
		if err == nil {
			n.mu.Lock()
			n.session = session
			n.mu.Unlock()
			return session
		}
		n.config.logger.Error("failed to start session", "error", err)
		n.store.SetLoadError(err)
		retry := n.config.sessionRetryInterval
		if retry <= 0 {
			retry = connmanager.DefaultRetryInterval
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retry):
		}
	}
}

// Store returns the campaign view
func (n *Node) Store() *state.Store {
	return n.store
}

func (n *Node) EventBus() *event.EventBus {
	return n.eventBus
}

// Identity returns the current identity. The zero value is returned when no
// identity is configured.
func (n *Node) Identity() identity.Identity {
	n.mu.Lock()
	tracker := n.tracker
	n.mu.Unlock()
	if tracker == nil {
		return identity.Identity{}
	}
	return tracker.Current()
}

// Ready reports whether the contract has been found
func (n *Node) Ready() bool {
	cm := n.manager()
	return cm != nil && cm.IsReady()
}

func (n *Node) manager() *connmanager.ConnectionManager {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connManager
}

// WaitLoaded blocks until the first bootstrap has been committed
func (n *Node) WaitLoaded(ctx context.Context) error {
	subID, ch := n.eventBus.Subscribe(chainsync.BootstrapCompleteEventType)
	defer n.eventBus.Unsubscribe(chainsync.BootstrapCompleteEventType, subID)
	if n.store.Status().Loaded {
		return nil
	}
	select {
	case <-ctx.Done():
		if err := n.store.Status().LoadError; err != nil {
			return errors.Join(ctx.Err(), err)
		}
		if cm := n.manager(); cm != nil {
			if err := cm.LastError(); err != nil {
				return errors.Join(ctx.Err(), err)
			}
		}
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// Dispatcher returns the action dispatcher once the contract has been found
func (n *Node) Dispatcher() (*dispatch.Dispatcher, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.dispatcher == nil {
		return nil, ErrNotReady
	}
	return n.dispatcher, nil
}

func (n *Node) FundingHistory(
	ctx context.Context,
	id uint64,
) ([]ledger.Funding, error) {
	if !n.Ready() {
		return nil, ErrNotReady
	}
	return n.manager().Gateway().FundingHistory(ctx, id)
}

func (n *Node) WithdrawQuote(
	ctx context.Context,
	id uint64,
) (dispatch.Quote, error) {
	d, err := n.Dispatcher()
	if err != nil {
		return dispatch.Quote{}, err
	}
	return d.WithdrawQuote(ctx, id)
}

// Metadata resolves a campaign's metadata reference for display
func (n *Node) Metadata(ctx context.Context, ref string) metadata.Metadata {
	n.mu.Lock()
	resolver := n.resolver
	n.mu.Unlock()
	if resolver == nil {
		return metadata.Placeholders()
	}
	return resolver.Lookup(ctx, ref)
}

// Reload asks the running session to bootstrap again
func (n *Node) Reload() {
	n.mu.Lock()
	session := n.session
	n.mu.Unlock()
	if session != nil {
		session.Reload()
	}
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	shutdownTimeout := 30 * time.Second
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	n.mu.Lock()
	n.stopped = true
	apiServer := n.api
	cancelRun := n.cancel
	connManager := n.connManager
	tracker := n.tracker
	resolver := n.resolver
	client := n.client
	n.mu.Unlock()

	var err error

	n.config.logger.Debug("starting graceful shutdown")

	// Phase 1: Stop accepting requests
	n.config.logger.Debug("shutdown phase 1: stopping API")
	if apiServer != nil {
		if stopErr := apiServer.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("api shutdown: %w", stopErr))
		}
	}

	// Phase 2: Stop the session, then discovery and the gateway
	n.config.logger.Debug("shutdown phase 2: stopping sync")
	if cancelRun != nil {
		cancelRun()
	}
	n.wg.Wait()
	if connManager != nil {
		connManager.Stop()
	}

	// Phase 3: Release identity and external clients
	n.config.logger.Debug("shutdown phase 3: releasing clients")
	if tracker != nil {
		if stopErr := tracker.Stop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("identity shutdown: %w", stopErr))
		}
	}
	if resolver != nil {
		if closeErr := resolver.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("metadata close: %w", closeErr))
		}
	}
	if client != nil {
		client.Close()
	}

	// Phase 4: Cleanup resources
	n.config.logger.Debug("shutdown phase 4: cleanup resources")
	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	n.config.logger.Debug("graceful shutdown complete")
	close(n.done)
	return err
}

type noIdentity struct{}

func (noIdentity) Connect(context.Context) (*bind.TransactOpts, error) {
	return nil, fmt.Errorf(
		"%w: no key or keystore configured",
		ledger.ErrIdentityUnavailable,
	)
}

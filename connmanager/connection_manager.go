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

package connmanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blinklabs-io/fundwatch/event"
	"github.com/blinklabs-io/fundwatch/ledger"
)

const (
	DefaultRetryInterval = 10 * time.Second

	metricNamePrefix = "fundwatch_connmanager_"
)

// CodeProber reads deployed contract code. *ethclient.Client satisfies it.
type CodeProber interface {
	CodeAt(
		ctx context.Context,
		account common.Address,
		blockNumber *big.Int,
	) ([]byte, error)
}

// GatewayFactory builds the gateway once the contract has been found
type GatewayFactory func(ctx context.Context) (ledger.Gateway, error)

type ConnectionManagerConfig struct {
	Logger         *slog.Logger
	EventBus       *event.EventBus
	PromRegistry   prometheus.Registerer
	Address        common.Address
	Prober         CodeProber
	GatewayFactory GatewayFactory
	RetryInterval  time.Duration
}

// ConnectionManager finds the contract and owns the single gateway to it.
// Once ready it stays ready.
type ConnectionManager struct {
	config   ConnectionManagerConfig
	logger   *slog.Logger
	metrics  *connectionManagerMetrics
	readyCh  chan struct{}
	gateway  ledger.Gateway
	mu       sync.Mutex
	lastErr  error
	attempts atomic.Uint64
	started  bool
	cancel   context.CancelFunc
	doneCh   chan struct{}
	stopOnce sync.Once
}

type connectionManagerMetrics struct {
	probes *prometheus.CounterVec
	ready  prometheus.Gauge
}

func NewConnectionManager(
	cfg ConnectionManagerConfig,
) (*ConnectionManager, error) {
	if cfg.Prober == nil {
		return nil, errors.New("connmanager: code prober is required")
	}
	if cfg.GatewayFactory == nil {
		return nil, errors.New("connmanager: gateway factory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	c := &ConnectionManager{
		config: cfg,
		logger: cfg.Logger.With(
			"component", "connmanager",
			"address", cfg.Address.Hex(),
		),
		readyCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if cfg.PromRegistry != nil {
		c.initMetrics()
	}
	return c, nil
}

func (c *ConnectionManager) initMetrics() {
	promautoFactory := promauto.With(c.config.PromRegistry)
	c.metrics = &connectionManagerMetrics{}
	c.metrics.probes = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricNamePrefix + "probes_total",
			Help: "contract discovery attempts by result",
		},
		[]string{"result"},
	)
	c.metrics.ready = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: metricNamePrefix + "ready",
		Help: "1 once the contract has been found",
	})
}

func (c *ConnectionManager) recordProbe(result string) {
	if c.metrics != nil {
		c.metrics.probes.WithLabelValues(result).Inc()
	}
}

// Start begins discovery in the background. It returns immediately.
func (c *ConnectionManager) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("connmanager: already started")
	}
	c.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.discoveryLoop(loopCtx)
	return nil
}

// Ready is closed once the gateway is available
func (c *ConnectionManager) Ready() <-chan struct{} {
	return c.readyCh
}

func (c *ConnectionManager) IsReady() bool {
	select {
	case <-c.readyCh:
		return true
	default:
		return false
	}
}

// Gateway returns the gateway, or nil before the manager is ready
func (c *ConnectionManager) Gateway() ledger.Gateway {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gateway
}

// LastError returns the most recent discovery failure
func (c *ConnectionManager) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Attempts returns the number of probes made so far
func (c *ConnectionManager) Attempts() uint64 {
	return c.attempts.Load()
}

func (c *ConnectionManager) Address() common.Address {
	return c.config.Address
}

// Probe checks once for contract code at the configured address
func (c *ConnectionManager) Probe(ctx context.Context) error {
	code, err := c.config.Prober.CodeAt(ctx, c.config.Address, nil)
	if err != nil {
		return &ledger.ConnectionError{Err: err}
	}
	if len(code) == 0 {
		return ledger.ErrNotDeployed
	}
	return nil
}

func (c *ConnectionManager) discoveryLoop(ctx context.Context) {
	defer close(c.doneCh)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if c.attempt(ctx) {
			return
		}
		timer.Reset(c.config.RetryInterval)
	}
}

// attempt returns true once the manager is ready
func (c *ConnectionManager) attempt(ctx context.Context) bool {
	attempt := c.attempts.Add(1)
	err := c.Probe(ctx)
	if err == nil {
		var gw ledger.Gateway
		gw, err = c.config.GatewayFactory(ctx)
		if err != nil {
			err = &ledger.ConnectionError{
				Err: fmt.Errorf("create gateway: %w", err),
			}
		} else {
			c.setReady(gw, attempt)
			return true
		}
	}
	if ctx.Err() != nil {
		return false
	}
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	if errors.Is(err, ledger.ErrNotDeployed) {
		c.recordProbe("not_deployed")
		c.logger.Info(
			"no contract deployed at address, will retry",
			"attempt", attempt,
			"retry_in", c.config.RetryInterval,
		)
	} else {
		c.recordProbe("error")
		c.logger.Warn(
			"failed to probe contract, will retry",
			"attempt", attempt,
			"retry_in", c.config.RetryInterval,
			"error", err,
		)
	}
	if c.config.EventBus != nil {
		c.config.EventBus.Publish(
			ProbeFailedEventType,
			event.NewEvent(
				ProbeFailedEventType,
				ProbeFailedEvent{
					Address: c.config.Address,
					Attempt: attempt,
					Error:   err,
				},
			),
		)
	}
	return false
}

func (c *ConnectionManager) setReady(gw ledger.Gateway, attempt uint64) {
	c.mu.Lock()
	c.gateway = gw
	c.lastErr = nil
	c.mu.Unlock()
	close(c.readyCh)
	c.recordProbe("deployed")
	if c.metrics != nil {
		c.metrics.ready.Set(1)
	}
	c.logger.Info("contract found", "attempt", attempt)
	if c.config.EventBus != nil {
		c.config.EventBus.Publish(
			ReadyEventType,
			event.NewEvent(
				ReadyEventType,
				ReadyEvent{
					Address: c.config.Address,
					Attempt: attempt,
				},
			),
		)
	}
}

// Stop ends discovery and closes the gateway
func (c *ConnectionManager) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		started := c.started
		cancel := c.cancel
		c.mu.Unlock()
		if started {
			cancel()
			<-c.doneCh
		}
		if gw := c.Gateway(); gw != nil {
			gw.Close()
		}
	})
}

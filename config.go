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
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/fundwatch/connmanager"
	"github.com/blinklabs-io/fundwatch/dispatch"
	"github.com/blinklabs-io/fundwatch/identity"
)

type Config struct {
	promRegistry         prometheus.Registerer
	logger               *slog.Logger
	rpcURL               string
	contractAddress      common.Address
	retryInterval        time.Duration
	sessionRetryInterval time.Duration
	pollInterval         time.Duration
	historyFromBlock     uint64
	readRateLimit        float64
	readBurst            int
	apiListenAddress     string
	ipfsGateway          string
	metadataCacheSize    int
	gcsCredentialsFile   string
	keystoreDir          string
	keystorePassphrase   string
	account              common.Address
	privateKey           string
	keyFile              string
	lightKDF             bool
	identityPollInterval time.Duration
	tracing              bool
	tracingStdout        bool
	shutdownTimeout      time.Duration
	// Overrides of the go-ethereum backed defaults
	codeProber       connmanager.CodeProber
	gatewayFactory   connmanager.GatewayFactory
	identityProvider identity.Provider
	confirm          dispatch.ConfirmFunc
}

type ConfigOptionFunc func(*Config)

// NewConfig creates a new fundwatch config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		logger:               slog.New(slog.NewJSONHandler(io.Discard, nil)),
		sessionRetryInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (n *Node) configValidate() error {
	if n.config.contractAddress == (common.Address{}) {
		return errors.New("contract address is required")
	}
	if n.config.rpcURL == "" &&
		(n.config.codeProber == nil || n.config.gatewayFactory == nil) {
		return errors.New("an RPC URL is required")
	}
	if n.config.privateKey != "" && n.config.keystoreDir != "" {
		return errors.New("a private key and a keystore cannot both be used")
	}
	if n.config.readRateLimit < 0 {
		return errors.New("read rate limit cannot be negative")
	}
	return nil
}

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithRPCURL specifies the node endpoint. WebSocket and IPC endpoints get
// pushed log notifications, HTTP endpoints are polled.
func WithRPCURL(url string) ConfigOptionFunc {
	return func(c *Config) {
		c.rpcURL = url
	}
}

func WithContractAddress(address common.Address) ConfigOptionFunc {
	return func(c *Config) {
		c.contractAddress = address
	}
}

// WithRetryInterval sets how often the contract is probed until found
func WithRetryInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.retryInterval = interval
	}
}

// WithSessionRetryInterval sets how long to wait before retrying a failed
// bootstrap or subscription. Zero waits for an explicit reload.
func WithSessionRetryInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.sessionRetryInterval = interval
	}
}

// WithPollInterval sets the log polling interval for HTTP endpoints
func WithPollInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.pollInterval = interval
	}
}

// WithHistoryFromBlock bounds funding history queries, usually to the
// contract's deployment block
func WithHistoryFromBlock(block uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.historyFromBlock = block
	}
}

// WithReadRateLimit caps bootstrap and reconcile reads per second. Zero
// disables the limit.
func WithReadRateLimit(perSecond float64, burst int) ConfigOptionFunc {
	return func(c *Config) {
		c.readRateLimit = perSecond
		c.readBurst = burst
	}
}

// WithAPIListenAddress enables the API on the given address
func WithAPIListenAddress(address string) ConfigOptionFunc {
	return func(c *Config) {
		c.apiListenAddress = address
	}
}

func WithIPFSGateway(gateway string) ConfigOptionFunc {
	return func(c *Config) {
		c.ipfsGateway = gateway
	}
}

func WithMetadataCacheSize(size int) ConfigOptionFunc {
	return func(c *Config) {
		c.metadataCacheSize = size
	}
}

// WithGCSCredentialsFile specifies credentials for gs:// metadata
// references. Application default credentials are used otherwise.
func WithGCSCredentialsFile(path string) ConfigOptionFunc {
	return func(c *Config) {
		c.gcsCredentialsFile = path
	}
}

// WithKeystore signs with an account from an encrypted key directory. A
// zero account selects the first key.
func WithKeystore(
	dir string,
	passphrase string,
	account common.Address,
) ConfigOptionFunc {
	return func(c *Config) {
		c.keystoreDir = dir
		c.keystorePassphrase = passphrase
		c.account = account
	}
}

// WithPrivateKey signs with a raw hex private key
func WithPrivateKey(key string) ConfigOptionFunc {
	return func(c *Config) {
		c.privateKey = key
	}
}

// WithKeyFile signs with a raw hex private key read from a file that only
// its owner may access
func WithKeyFile(path string) ConfigOptionFunc {
	return func(c *Config) {
		c.keyFile = path
	}
}

func WithLightKDF(light bool) ConfigOptionFunc {
	return func(c *Config) {
		c.lightKDF = light
	}
}

// WithIdentityPollInterval sets how often the chain id is checked
func WithIdentityPollInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.identityPollInterval = interval
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}

// WithCodeProber replaces the RPC client used to look for contract code
func WithCodeProber(prober connmanager.CodeProber) ConfigOptionFunc {
	return func(c *Config) {
		c.codeProber = prober
	}
}

// WithGatewayFactory replaces the go-ethereum contract gateway
func WithGatewayFactory(factory connmanager.GatewayFactory) ConfigOptionFunc {
	return func(c *Config) {
		c.gatewayFactory = factory
	}
}

// WithIdentityProvider replaces the key or keystore based provider
func WithIdentityProvider(provider identity.Provider) ConfigOptionFunc {
	return func(c *Config) {
		c.identityProvider = provider
	}
}

// WithConfirm installs a hook asked before every submission
func WithConfirm(confirm dispatch.ConfirmFunc) ConfigOptionFunc {
	return func(c *Config) {
		c.confirm = confirm
	}
}

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

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/blinklabs-io/fundwatch"
	"github.com/blinklabs-io/fundwatch/internal/config"
)

// Options translates the loaded configuration into node options. Extra
// options are applied last.
func Options(
	cfg *config.Config,
	logger *slog.Logger,
	extra ...fundwatch.ConfigOptionFunc,
) []fundwatch.ConfigOptionFunc {
	opts := []fundwatch.ConfigOptionFunc{
		fundwatch.WithLogger(logger),
		fundwatch.WithRPCURL(cfg.RpcUrl),
		fundwatch.WithContractAddress(cfg.Address()),
		fundwatch.WithRetryInterval(cfg.RetryInterval),
		fundwatch.WithSessionRetryInterval(cfg.SessionRetryInterval),
		fundwatch.WithPollInterval(cfg.PollInterval),
		fundwatch.WithHistoryFromBlock(cfg.HistoryFromBlock),
		fundwatch.WithReadRateLimit(cfg.ReadRateLimit, cfg.ReadBurst),
		fundwatch.WithIPFSGateway(cfg.IpfsGateway),
		fundwatch.WithMetadataCacheSize(cfg.MetadataCacheSize),
		fundwatch.WithGCSCredentialsFile(cfg.GcsCredentialsFile),
		fundwatch.WithIdentityPollInterval(cfg.IdentityPollInterval),
		fundwatch.WithTracing(cfg.Tracing),
		fundwatch.WithTracingStdout(cfg.TracingStdout),
		fundwatch.WithShutdownTimeout(cfg.ShutdownTimeout),
	}
	switch {
	case cfg.PrivateKey != "":
		opts = append(opts, fundwatch.WithPrivateKey(cfg.PrivateKey))
	case cfg.KeyFile != "":
		opts = append(opts, fundwatch.WithKeyFile(cfg.KeyFile))
	case cfg.KeystoreDir != "":
		opts = append(
			opts,
			fundwatch.WithKeystore(
				cfg.KeystoreDir,
				cfg.KeystorePassphrase,
				cfg.AccountAddress(),
			),
			fundwatch.WithLightKDF(cfg.LightKdf),
		)
	}
	return append(opts, extra...)
}

// Run serves the API and metrics until SIGINT or SIGTERM
func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", redacted(cfg)), "component", "node")
	d, err := fundwatch.New(
		fundwatch.NewConfig(
			Options(
				cfg,
				logger,
				fundwatch.WithAPIListenAddress(cfg.ApiListenAddress),
				// Enable metrics with default prometheus registry
				fundwatch.WithPrometheusRegistry(prometheus.DefaultRegisterer),
			)...,
		),
	)
	if err != nil {
		return err
	}
	var metricsServer *http.Server
	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr: net.JoinHostPort(
				cfg.BindAddr,
				strconv.FormatUint(uint64(cfg.MetricsPort), 10),
			),
			Handler:           mux,
			ReadHeaderTimeout: 60 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
	}
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()
	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		if err := d.Run(); err != nil {
			return fmt.Errorf("node: %w", err)
		}
		return nil
	})
	if metricsServer != nil {
		logger.Info(
			"serving prometheus metrics on "+metricsServer.Addr,
			"component", "node",
		)
		g.Go(func() error {
			err := metricsServer.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		if signalCtx.Err() != nil {
			logger.Info("signal received, initiating graceful shutdown")
		}
		shutdownTimeout := cfg.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = config.DefaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		var err error
		if metricsServer != nil {
			if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
				err = errors.Join(err, fmt.Errorf("metrics server shutdown: %w", shutdownErr))
			}
		}
		if stopErr := d.Stop(); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Error("shutdown errors occurred", "error", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// Start runs a node without API or metrics listeners for one-shot commands
// and waits for the first campaign load. The returned func stops the node.
func Start(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	extra ...fundwatch.ConfigOptionFunc,
) (*fundwatch.Node, func() error, error) {
	d, err := fundwatch.New(fundwatch.NewConfig(Options(cfg, logger, extra...)...))
	if err != nil {
		return nil, nil, err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Run()
	}()
	stop := func() error {
		stopErr := d.Stop()
		return errors.Join(stopErr, <-errCh)
	}
	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		// A failed start ends the wait early
		select {
		case err := <-errCh:
			errCh <- err
			cancel()
		case <-loadCtx.Done():
		}
	}()
	if err := d.WaitLoaded(loadCtx); err != nil {
		return nil, nil, errors.Join(err, stop())
	}
	return d, stop, nil
}

// redacted hides secrets from debug output
func redacted(cfg *config.Config) config.Config {
	out := *cfg
	if out.PrivateKey != "" {
		out.PrivateKey = "<redacted>"
	}
	if out.KeystorePassphrase != "" {
		out.KeystorePassphrase = "<redacted>"
	}
	return out
}

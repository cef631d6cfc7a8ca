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

// Package api serves a read-only JSON view of the campaign store
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"connectrpc.com/grpchealth"
	"connectrpc.com/grpcreflect"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const DefaultListenAddress = ":8080"

type APIConfig struct {
	Logger *slog.Logger
	// ListenAddress is host:port, or a path prefixed with "unix:" or, on
	// Windows, "pipe:"
	ListenAddress string
	Campaigns     CampaignSource
	Ledger        LedgerSource
	Metadata      MetadataSource
	Version       string
	Now           func() time.Time
}

type API struct {
	config     APIConfig
	logger     *slog.Logger
	httpServer *http.Server
	listener   net.Listener
	mu         sync.Mutex
}

func New(cfg APIConfig) (*API, error) {
	if cfg.Campaigns == nil || cfg.Ledger == nil {
		return nil, errors.New("api: campaign and ledger sources are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &API{
		config: cfg,
		logger: cfg.Logger.With("component", "api"),
	}, nil
}

// Handler returns the API routes without starting a listener
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", a.handleRoot)
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /api/v1/status", a.handleStatus)
	mux.HandleFunc("DELETE /api/v1/status/error", a.handleDismissError)
	mux.HandleFunc("POST /api/v1/reload", a.handleReload)
	mux.HandleFunc("GET /api/v1/campaigns", a.handleCampaigns)
	mux.HandleFunc("GET /api/v1/campaigns/{id}", a.handleCampaign)
	mux.HandleFunc("GET /api/v1/campaigns/{id}/history", a.handleHistory)
	mux.HandleFunc("GET /api/v1/campaigns/{id}/metadata", a.handleMetadata)
	mux.HandleFunc("GET /api/v1/campaigns/{id}/withdraw-quote", a.handleQuote)
	mux.HandleFunc("GET /api/v1/detail", a.handleDetail)
	mux.HandleFunc("PUT /api/v1/detail/{id}", a.handleOpenDetail)
	mux.HandleFunc("DELETE /api/v1/detail", a.handleCloseDetail)
	mux.Handle(grpchealth.NewHandler(&healthChecker{ledger: a.config.Ledger}))
	reflector := grpcreflect.NewStaticReflector(grpchealth.HealthV1ServiceName)
	mux.Handle(grpcreflect.NewHandlerV1(reflector))
	mux.Handle(grpcreflect.NewHandlerV1Alpha(reflector))
	return mux
}

// Start binds the listener and serves in the background until Stop is
// called or ctx is cancelled
func (a *API) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.httpServer != nil {
		a.mu.Unlock()
		return errors.New("server already started")
	}
	ln, err := listen(ctx, a.config.ListenAddress)
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("failed to listen for API server: %w", err)
	}
	server := &http.Server{
		// h2c lets gRPC health clients connect without TLS
		Handler:           h2c.NewHandler(a.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 60 * time.Second,
	}
	a.httpServer = server
	a.listener = ln
	a.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("API server error", "error", err)
		}
	}()
	a.logger.Info("API listener started", "address", ln.Addr().String())

	go func() {
		<-ctx.Done()
		//nolint:contextcheck
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			30*time.Second,
		)
		defer cancel()
		//nolint:contextcheck
		if err := a.Stop(shutdownCtx); err != nil {
			a.logger.Error("failed to shut down API server", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start
func (a *API) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

func (a *API) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.httpServer
	a.httpServer = nil
	a.listener = nil
	a.mu.Unlock()
	if srv == nil {
		return nil
	}
	a.logger.Debug("shutting down API server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	return nil
}

func listen(ctx context.Context, address string) (net.Listener, error) {
	if path, ok := strings.CutPrefix(address, "unix:"); ok {
		lc := net.ListenConfig{}
		return lc.Listen(ctx, "unix", path)
	}
	if path, ok := strings.CutPrefix(address, "pipe:"); ok {
		return createPipeListener(path)
	}
	lc := net.ListenConfig{Control: socketControl}
	return lc.Listen(ctx, "tcp", address)
}

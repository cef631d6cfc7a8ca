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

package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultIPFSGateway = "https://gateway.pinata.cloud/ipfs/"
	DefaultCacheSize   = 512
	DefaultTimeout     = 15 * time.Second
	DefaultMaxRetries  = 3

	maxDocumentSize = 1 << 20
)

var (
	ErrUnsupportedScheme = errors.New("unsupported metadata reference")
	ErrNotFound          = errors.New("metadata not found")
)

type ResolverConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// IPFSGateway is the URL prefix ipfs:// references are rewritten to
	IPFSGateway        string
	CacheSize          int
	Timeout            time.Duration
	MaxRetries         int
	RetryWaitMin       time.Duration
	RetryWaitMax       time.Duration
	GCSCredentialsFile string
	// ObjectStore serves gs:// references. Google Cloud Storage is used when
	// nil.
	ObjectStore ObjectStore
}

// Resolver fetches and caches campaign metadata. Documents are immutable
// once published, so successful results are never invalidated.
type Resolver struct {
	config  ResolverConfig
	logger  *slog.Logger
	client  *retryablehttp.Client
	objects ObjectStore
	cache   *lru.Cache[string, Metadata]
	metrics *metadataMetrics
}

func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.IPFSGateway == "" {
		cfg.IPFSGateway = DefaultIPFSGateway
	}
	if !strings.HasSuffix(cfg.IPFSGateway, "/") {
		cfg.IPFSGateway += "/"
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	cache, err := lru.New[string, Metadata](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	logger := cfg.Logger.With("component", "metadata")
	client := retryablehttp.NewClient()
	client.Logger = logger
	client.RetryMax = cfg.MaxRetries
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	client.HTTPClient.Timeout = cfg.Timeout
	objects := cfg.ObjectStore
	if objects == nil {
		objects = newGCSStore(cfg.GCSCredentialsFile)
	}
	return &Resolver{
		config:  cfg,
		logger:  logger,
		client:  client,
		objects: objects,
		cache:   cache,
		metrics: newMetadataMetrics(cfg.PromRegistry),
	}, nil
}

// Resolve returns the document at ref with missing fields filled in
func (r *Resolver) Resolve(ctx context.Context, ref string) (Metadata, error) {
	if m, ok := r.cache.Get(ref); ok {
		r.metrics.cacheHit()
		return m, nil
	}
	scheme, body, err := r.open(ctx, ref)
	if err != nil {
		r.metrics.fetch(scheme, "error")
		return Metadata{}, err
	}
	defer body.Close()
	var m Metadata
	if err := json.NewDecoder(io.LimitReader(body, maxDocumentSize)).Decode(&m); err != nil {
		r.metrics.fetch(scheme, "invalid")
		return Metadata{}, fmt.Errorf("decode metadata %s: %w", ref, err)
	}
	r.metrics.fetch(scheme, "ok")
	m = m.withDefaults()
	r.cache.Add(ref, m)
	return m, nil
}

// Lookup is Resolve for display: failures are logged and yield
// placeholders, which are not cached
func (r *Resolver) Lookup(ctx context.Context, ref string) Metadata {
	m, err := r.Resolve(ctx, ref)
	if err != nil {
		r.logger.Warn("failed to load metadata", "ref", ref, "error", err)
		return Placeholders()
	}
	return m
}

// Close releases the object store client
func (r *Resolver) Close() error {
	return r.objects.Close()
}

func (r *Resolver) open(ctx context.Context, ref string) (string, io.ReadCloser, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "invalid", nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, ref)
	}
	switch u.Scheme {
	case "http", "https":
		body, err := r.get(ctx, ref)
		return u.Scheme, body, err
	case "ipfs":
		// ipfs://<cid>/<path> and the legacy ipfs://ipfs/<cid>
		path := strings.TrimPrefix(u.Host+u.Path, "ipfs/")
		if path == "" {
			return u.Scheme, nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, ref)
		}
		body, err := r.get(ctx, r.config.IPFSGateway+path)
		return u.Scheme, body, err
	case "gs":
		object := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || object == "" {
			return u.Scheme, nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, ref)
		}
		body, err := r.objects.Open(ctx, u.Host, object)
		return u.Scheme, body, err
	default:
		return "invalid", nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, ref)
	}
}

func (r *Resolver) get(ctx context.Context, target string) (io.ReadCloser, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, target)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %s", target, resp.Status)
	}
	return resp.Body, nil
}

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
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/blinklabs-io/fundwatch/event"
	"github.com/blinklabs-io/fundwatch/ledger"
	"github.com/blinklabs-io/fundwatch/state"
)

const tracerName = "github.com/blinklabs-io/fundwatch/chainsync"

type LoaderConfig struct {
	Logger      *slog.Logger
	EventBus    *event.EventBus
	Metrics     *Metrics
	Reader      ledger.Reader
	Store       *state.Store
	ReadLimiter *rate.Limiter
}

// Loader performs the full-state bootstrap scan
type Loader struct {
	config LoaderConfig
	logger *slog.Logger
	reader ledger.Reader
	tracer trace.Tracer
}

func NewLoader(cfg LoaderConfig) *Loader {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Loader{
		config: cfg,
		logger: cfg.Logger.With("component", "chainsync", "role", "loader"),
		reader: newThrottledReader(cfg.Reader, cfg.ReadLimiter),
		tracer: otel.Tracer(tracerName),
	}
}

// Load scans every campaign and commits the result to the Store. Any read
// failure aborts the scan, leaves the Store untouched and records a load
// error.
func (l *Loader) Load(ctx context.Context) error {
	ctx, span := l.tracer.Start(ctx, "chainsync.bootstrap")
	defer span.End()
	start := time.Now()
	snap, err := l.scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.config.Metrics.bootstrap("error", 0)
		l.logger.Error("bootstrap failed", "error", err)
		l.config.Store.SetLoadError(err)
		l.publish(
			BootstrapFailedEventType,
			BootstrapFailedEvent{Error: err},
		)
		return err
	}
	elapsed := time.Since(start)
	l.config.Store.Commit(snap)
	span.SetAttributes(
		attribute.Int64("campaigns.total", int64(snap.TotalCount)), // #nosec G115
		attribute.Int("campaigns.active", len(snap.Active)),
		attribute.Int("campaigns.closed", len(snap.Closed)),
	)
	l.config.Metrics.bootstrap("ok", elapsed.Seconds())
	l.logger.Info(
		"bootstrap complete",
		"total", snap.TotalCount,
		"active", len(snap.Active),
		"closed", len(snap.Closed),
		"duration", elapsed,
	)
	l.publish(
		BootstrapCompleteEventType,
		BootstrapCompleteEvent{
			TotalCount:  snap.TotalCount,
			ClosedCount: snap.ClosedCount,
			Duration:    elapsed,
		},
	)
	return nil
}

func (l *Loader) scan(ctx context.Context) (state.Snapshot, error) {
	total, err := l.reader.CampaignCount(ctx)
	if err != nil {
		return state.Snapshot{}, fmt.Errorf("bootstrap: %w", err)
	}
	closedCount, err := l.reader.ClosedCount(ctx)
	if err != nil {
		return state.Snapshot{}, fmt.Errorf("bootstrap: %w", err)
	}
	var activeCount uint64
	if total >= closedCount {
		activeCount = total - closedCount
	}
	l.logger.Debug(
		"starting bootstrap scan",
		"total", total,
		"closed", closedCount,
		"active", activeCount,
	)
	snap := state.Snapshot{
		Active:      make([]ledger.Campaign, 0, activeCount),
		Closed:      make([]ledger.Campaign, 0, closedCount),
		TotalCount:  total,
		ClosedCount: closedCount,
	}
	for id := range total {
		c, err := fetchCampaign(ctx, l.reader, id)
		if err != nil {
			return state.Snapshot{}, fmt.Errorf("bootstrap: %w", err)
		}
		if c.Closed {
			snap.Closed = append(snap.Closed, c)
		} else {
			snap.Active = append(snap.Active, c)
		}
	}
	return snap, nil
}

// fetchCampaign reads one record and, for an active campaign, its stopped
// flag. Closed campaigns are already resolved and skip the extra read.
func fetchCampaign(
	ctx context.Context,
	reader ledger.Reader,
	id uint64,
) (ledger.Campaign, error) {
	c, err := reader.Campaign(ctx, id)
	if err != nil {
		return ledger.Campaign{}, err
	}
	c.ID = id
	if !c.Closed {
		stopped, err := reader.IsStopped(ctx, id)
		if err != nil {
			return ledger.Campaign{}, err
		}
		c.Stopped = stopped
	}
	return c, nil
}

func (l *Loader) publish(eventType event.EventType, data any) {
	if l.config.EventBus == nil {
		return
	}
	l.config.EventBus.Publish(eventType, event.NewEvent(eventType, data))
}

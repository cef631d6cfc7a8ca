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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/blinklabs-io/fundwatch/event"
	"github.com/blinklabs-io/fundwatch/ledger"
	"github.com/blinklabs-io/fundwatch/state"
)

type ReconcilerConfig struct {
	Logger      *slog.Logger
	EventBus    *event.EventBus
	Metrics     *Metrics
	Reader      ledger.Reader
	Store       *state.Store
	ReadLimiter *rate.Limiter
}

// Reconciler applies ledger events to the Store. Every event triggers a
// re-fetch of the authoritative record, so applying the same event twice is
// harmless.
type Reconciler struct {
	config ReconcilerConfig
	logger *slog.Logger
	reader ledger.Reader
	tracer trace.Tracer
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Reconciler{
		config: cfg,
		logger: cfg.Logger.With("component", "chainsync", "role", "reconciler"),
		reader: newThrottledReader(cfg.Reader, cfg.ReadLimiter),
		tracer: otel.Tracer(tracerName),
	}
}

// Apply reconciles one event. A failed read leaves the Store unchanged and
// is recorded as its load error.
func (r *Reconciler) Apply(ctx context.Context, evt ledger.Event) error {
	ctx, span := r.tracer.Start(
		ctx,
		"chainsync.reconcile",
		trace.WithAttributes(
			attribute.String("event.kind", evt.Kind.String()),
			attribute.Int64("campaign.id", int64(evt.CampaignID)), // #nosec G115
		),
	)
	defer span.End()
	var err error
	switch evt.Kind {
	case ledger.EventCampaignCreated:
		err = r.catchUp(ctx)
	case ledger.EventFunded:
		err = r.funded(ctx, evt)
	case ledger.EventWithdrawn:
		err = r.closed(ctx, evt, false)
	case ledger.EventStopped:
		r.logger.Debug(
			"campaign stopped",
			"id", evt.CampaignID,
			"by_creator", evt.ByCreator,
		)
		err = r.closed(ctx, evt, true)
	case ledger.EventRefunded:
		err = r.refunded(ctx, evt)
	default:
		err = fmt.Errorf("unknown event kind %d", evt.Kind)
	}
	if err != nil {
		err = fmt.Errorf("reconcile %s: %w", evt.Kind, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.config.Metrics.event(evt.Kind.String(), "error")
		r.logger.Error(
			"failed to reconcile event",
			"kind", evt.Kind.String(),
			"id", evt.CampaignID,
			"block", evt.BlockNumber,
			"error", err,
		)
		r.config.Store.SetLoadError(err)
	} else {
		r.config.Metrics.event(evt.Kind.String(), "ok")
		r.logger.Debug(
			"reconciled event",
			"kind", evt.Kind.String(),
			"id", evt.CampaignID,
			"block", evt.BlockNumber,
		)
	}
	if r.config.EventBus != nil {
		r.config.EventBus.Publish(
			ReconciledEventType,
			event.NewEvent(
				ReconciledEventType,
				ReconciledEvent{
					Kind:       evt.Kind,
					CampaignID: evt.CampaignID,
					Error:      err,
				},
			),
		)
	}
	return err
}

// catchUp adds every campaign the ledger knows that the Store does not.
// Creation events carry no id and may be coalesced, so the latest index
// alone is not enough.
func (r *Reconciler) catchUp(ctx context.Context) error {
	total, err := r.reader.CampaignCount(ctx)
	if err != nil {
		return err
	}
	var missing []ledger.Campaign
	for id := range total {
		if r.config.Store.Has(id) {
			continue
		}
		c, err := fetchCampaign(ctx, r.reader, id)
		if err != nil {
			return err
		}
		missing = append(missing, c)
	}
	closedCount, err := r.reader.ClosedCount(ctx)
	if err != nil {
		return err
	}
	for _, c := range missing {
		if r.config.Store.AddCreated(c) {
			r.logger.Info(
				"campaign created",
				"id", c.ID,
				"creator", c.Creator.Hex(),
			)
		}
	}
	r.config.Store.SetCounts(total, closedCount)
	return nil
}

func (r *Reconciler) funded(ctx context.Context, evt ledger.Event) error {
	if !r.config.Store.Has(evt.CampaignID) {
		return r.catchUp(ctx)
	}
	c, err := fetchCampaign(ctx, r.reader, evt.CampaignID)
	if err != nil {
		return err
	}
	r.config.Store.ApplyFunded(c)
	return nil
}

func (r *Reconciler) closed(
	ctx context.Context,
	evt ledger.Event,
	stopped bool,
) error {
	c, err := r.reader.Campaign(ctx, evt.CampaignID)
	if err != nil {
		return err
	}
	c.ID = evt.CampaignID
	total, closedCount, err := r.counts(ctx)
	if err != nil {
		return err
	}
	r.config.Store.MoveToClosed(c, stopped)
	r.config.Store.SetCounts(total, closedCount)
	return nil
}

func (r *Reconciler) refunded(ctx context.Context, evt ledger.Event) error {
	c, err := r.reader.Campaign(ctx, evt.CampaignID)
	if err != nil {
		return err
	}
	c.ID = evt.CampaignID
	wasClosed := false
	if existing, ok := r.config.Store.Get(evt.CampaignID); ok {
		wasClosed = existing.Closed
	}
	if wasClosed {
		r.config.Store.ApplyRefunded(c)
		return nil
	}
	total, closedCount, err := r.counts(ctx)
	if err != nil {
		return err
	}
	r.config.Store.ApplyRefunded(c)
	r.config.Store.SetCounts(total, closedCount)
	return nil
}

func (r *Reconciler) counts(ctx context.Context) (uint64, uint64, error) {
	total, err := r.reader.CampaignCount(ctx)
	if err != nil {
		return 0, 0, err
	}
	closedCount, err := r.reader.ClosedCount(ctx)
	if err != nil {
		return 0, 0, err
	}
	return total, closedCount, nil
}

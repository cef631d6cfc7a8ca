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

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blinklabs-io/fundwatch/event"
	"github.com/blinklabs-io/fundwatch/ledger"
)

const tracerName = "github.com/blinklabs-io/fundwatch/dispatch"

// Signer yields transaction options for the current identity, requesting
// one if necessary. *identity.Tracker satisfies it.
type Signer interface {
	Connect(ctx context.Context) (*bind.TransactOpts, error)
}

// Ledger is the subset of the gateway the dispatcher needs
type Ledger interface {
	ledger.Reader
	ledger.Writer
}

// ConfirmFunc is asked before each submission. Returning false declines the
// action.
type ConfirmFunc func(ctx context.Context, action Action) (bool, error)

type DispatcherConfig struct {
	Logger       *slog.Logger
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
	Ledger       Ledger
	Signer       Signer
	Confirm      ConfirmFunc
}

// Dispatcher submits user actions to the ledger and waits for them to be
// mined. It never writes campaign state; the resulting ledger events do.
type Dispatcher struct {
	config  DispatcherConfig
	logger  *slog.Logger
	metrics *dispatchMetrics
	tracer  trace.Tracer
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("dispatch: ledger is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("dispatch: signer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Dispatcher{
		config:  cfg,
		logger:  cfg.Logger.With("component", "dispatch"),
		metrics: newDispatchMetrics(cfg.PromRegistry),
		tracer:  otel.Tracer(tracerName),
	}, nil
}

type step struct {
	action   Action
	validate func(ctx context.Context, from common.Address) error
	submit   func(ctx context.Context, opts *bind.TransactOpts) (*types.Transaction, error)
}

func (d *Dispatcher) Create(
	ctx context.Context,
	metadataRef string,
	goal *big.Int,
	duration time.Duration,
) (Result, error) {
	return d.run(ctx, step{
		action: Action{
			Kind:        KindCreate,
			MetadataRef: metadataRef,
			Goal:        goal,
			Duration:    duration,
		},
		validate: func(ctx context.Context, from common.Address) error {
			return d.validateCreate(ctx, from, metadataRef, goal, duration)
		},
		submit: func(ctx context.Context, opts *bind.TransactOpts) (*types.Transaction, error) {
			return d.config.Ledger.CreateCampaign(ctx, opts, metadataRef, goal, duration)
		},
	})
}

func (d *Dispatcher) validateCreate(
	ctx context.Context,
	from common.Address,
	metadataRef string,
	goal *big.Int,
	duration time.Duration,
) error {
	if metadataRef == "" {
		return reject(KindCreate, "metadata reference is required")
	}
	if goal == nil || goal.Sign() <= 0 {
		return reject(KindCreate, "goal must be greater than zero")
	}
	limits, err := d.config.Ledger.Limits(ctx)
	if err != nil {
		return err
	}
	if limits.MinGoal != nil && goal.Cmp(limits.MinGoal) < 0 {
		return reject(
			KindCreate,
			"minimum goal is "+ledger.FormatEther(limits.MinGoal)+" ETH",
		)
	}
	if duration < limits.MinDuration {
		return reject(
			KindCreate,
			fmt.Sprintf("minimum duration is %s", limits.MinDuration),
		)
	}
	owner, err := d.config.Ledger.Owner(ctx)
	if err != nil {
		return err
	}
	if from == owner {
		return nil
	}
	active, err := d.config.Ledger.UserCampaigns(ctx, from)
	if err != nil {
		return err
	}
	if active >= limits.MaxCampaigns {
		return reject(
			KindCreate,
			fmt.Sprintf(
				"accounts may have at most %d active campaigns, %s has %d",
				limits.MaxCampaigns,
				from.Hex(),
				active,
			),
		)
	}
	return nil
}

func (d *Dispatcher) Fund(
	ctx context.Context,
	id uint64,
	amount *big.Int,
) (Result, error) {
	return d.run(ctx, step{
		action: Action{Kind: KindFund, CampaignID: id, Amount: amount},
		validate: func(ctx context.Context, _ common.Address) error {
			if amount == nil || amount.Sign() <= 0 {
				return reject(KindFund, "amount must be greater than zero")
			}
			c, err := d.config.Ledger.Campaign(ctx, id)
			if err != nil {
				return err
			}
			if c.Closed {
				return reject(KindFund, "campaign is closed")
			}
			return nil
		},
		submit: func(ctx context.Context, opts *bind.TransactOpts) (*types.Transaction, error) {
			return d.config.Ledger.FundCampaign(ctx, opts, id, amount)
		},
	})
}

// WithdrawQuote reads what a withdrawal of id would pay the creator
func (d *Dispatcher) WithdrawQuote(ctx context.Context, id uint64) (Quote, error) {
	c, err := d.config.Ledger.Campaign(ctx, id)
	if err != nil {
		return Quote{}, err
	}
	if c.Closed {
		return Quote{}, reject(KindWithdraw, "campaign is closed")
	}
	amount, err := d.config.Ledger.WithdrawAmount(ctx, id)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		CampaignID:  id,
		Creator:     c.Creator,
		FundsRaised: new(big.Int).Set(c.FundsRaised),
		Amount:      amount,
		GoalReached: c.GoalReached(),
	}, nil
}

func (d *Dispatcher) Withdraw(ctx context.Context, id uint64) (Result, error) {
	return d.run(ctx, step{
		action: Action{Kind: KindWithdraw, CampaignID: id},
		validate: func(ctx context.Context, from common.Address) error {
			c, err := d.config.Ledger.Campaign(ctx, id)
			if err != nil {
				return err
			}
			switch {
			case c.Creator != from:
				return reject(KindWithdraw, "only the creator can withdraw")
			case c.Closed:
				return reject(KindWithdraw, "campaign is closed")
			}
			return nil
		},
		submit: func(ctx context.Context, opts *bind.TransactOpts) (*types.Transaction, error) {
			return d.config.Ledger.WithdrawFunds(ctx, opts, id)
		},
	})
}

func (d *Dispatcher) Stop(ctx context.Context, id uint64) (Result, error) {
	return d.run(ctx, step{
		action: Action{Kind: KindStop, CampaignID: id},
		validate: func(ctx context.Context, from common.Address) error {
			c, err := d.config.Ledger.Campaign(ctx, id)
			if err != nil {
				return err
			}
			if c.Closed {
				return reject(KindStop, "campaign is closed")
			}
			if c.Creator == from {
				return nil
			}
			owner, err := d.config.Ledger.Owner(ctx)
			if err != nil {
				return err
			}
			if owner != from {
				return reject(KindStop, "only the creator or the administrator can stop a campaign")
			}
			return nil
		},
		submit: func(ctx context.Context, opts *bind.TransactOpts) (*types.Transaction, error) {
			return d.config.Ledger.Stop(ctx, opts, id)
		},
	})
}

func (d *Dispatcher) Refund(ctx context.Context, id uint64) (Result, error) {
	return d.run(ctx, step{
		action: Action{Kind: KindRefund, CampaignID: id},
		validate: func(ctx context.Context, from common.Address) error {
			c, err := d.config.Ledger.Campaign(ctx, id)
			if err != nil {
				return err
			}
			if c.Creator == from {
				return reject(KindRefund, "the creator cannot take a refund")
			}
			stopped, err := d.config.Ledger.IsStopped(ctx, id)
			if err != nil {
				return err
			}
			if !stopped {
				return reject(KindRefund, "campaign is not stopped")
			}
			return nil
		},
		submit: func(ctx context.Context, opts *bind.TransactOpts) (*types.Transaction, error) {
			return d.config.Ledger.TakeRefund(ctx, opts, id)
		},
	})
}

func (d *Dispatcher) run(ctx context.Context, s step) (Result, error) {
	start := time.Now()
	action := s.action
	action.ID = uuid.NewString()
	logger := d.logger.With(
		"action_id", action.ID,
		"action", string(action.Kind),
	)
	if action.Kind != KindCreate {
		logger = logger.With("campaign_id", action.CampaignID)
	}
	ctx, span := d.tracer.Start(
		ctx,
		"dispatch."+string(action.Kind),
		trace.WithAttributes(
			attribute.String("action.id", action.ID),
			attribute.Int64("campaign.id", int64(action.CampaignID)), // #nosec G115
		),
	)
	defer span.End()

	result := Result{ActionID: action.ID}
	var tx *types.Transaction
	err := func() error {
		opts, err := d.config.Signer.Connect(ctx)
		if err != nil {
			if !errors.Is(err, ledger.ErrIdentityUnavailable) {
				err = fmt.Errorf("%w: %w", ledger.ErrIdentityUnavailable, err)
			}
			return err
		}
		action.From = opts.From
		logger = logger.With("from", opts.From.Hex())
		if err := s.validate(ctx, opts.From); err != nil {
			return err
		}
		if d.config.Confirm != nil {
			ok, err := d.config.Confirm(ctx, action)
			if err != nil {
				return err
			}
			if !ok {
				return ledger.ErrUserDeclined
			}
		}
		submitOpts := *opts
		submitOpts.Context = ctx
		tx, err = s.submit(ctx, &submitOpts)
		if err != nil {
			return err
		}
		result.TxHash = tx.Hash()
		logger.Info("transaction submitted", "tx", tx.Hash().Hex())
		d.publish(ActionSubmittedEventType, ActionSubmittedEvent{
			ActionID:   action.ID,
			Kind:       action.Kind,
			CampaignID: action.CampaignID,
			TxHash:     tx.Hash(),
		})
		receipt, err := d.config.Ledger.WaitMined(ctx, tx)
		if err != nil {
			return fmt.Errorf("waiting for %s: %w", tx.Hash().Hex(), err)
		}
		if receipt.BlockNumber != nil {
			result.BlockNumber = receipt.BlockNumber.Uint64()
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return &ledger.SubmissionRejectedError{
				Action: string(action.Kind),
				Reason: "transaction reverted in block " + receipt.BlockNumber.String(),
			}
		}
		return nil
	}()
	outcome := classify(err)
	d.metrics.observe(action.Kind, outcome, time.Since(start).Seconds())
	span.SetAttributes(attribute.String("action.result", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if outcome == "declined" {
			logger.Info("action declined")
		} else {
			logger.Warn("action failed", "result", outcome, "error", err)
		}
	} else {
		logger.Info("action confirmed", "tx", result.TxHash.Hex(), "block", result.BlockNumber)
	}
	if tx != nil || err == nil {
		d.publish(ActionCompletedEventType, ActionCompletedEvent{
			ActionID:   action.ID,
			Kind:       action.Kind,
			CampaignID: action.CampaignID,
			TxHash:     result.TxHash,
			Error:      err,
		})
	}
	return result, err
}

func (d *Dispatcher) publish(t event.EventType, data any) {
	if d.config.EventBus == nil {
		return
	}
	d.config.EventBus.Publish(t, event.NewEvent(t, data))
}

func reject(kind Kind, reason string) error {
	return &ledger.SubmissionRejectedError{Action: string(kind), Reason: reason}
}

func classify(err error) string {
	var rejected *ledger.SubmissionRejectedError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrUserDeclined):
		return "declined"
	case errors.Is(err, ledger.ErrIdentityUnavailable):
		return "no_identity"
	case errors.As(err, &rejected):
		return "rejected"
	default:
		return "error"
	}
}

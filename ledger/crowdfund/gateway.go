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

package crowdfund

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/blinklabs-io/fundwatch/ledger"
)

//go:embed crowdfund.abi.json
var crowdfundABIJSON []byte

const (
	DefaultPollInterval = 4 * time.Second
)

// Backend is the node connection used by the gateway. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
}

type GatewayConfig struct {
	Logger  *slog.Logger
	Backend Backend
	Address common.Address
	// PollInterval is used when the backend cannot push log notifications
	PollInterval time.Duration
	// HistoryFromBlock bounds funding history queries
	HistoryFromBlock uint64
}

// Gateway is the go-ethereum implementation of ledger.Gateway
type Gateway struct {
	config   GatewayConfig
	logger   *slog.Logger
	abi      abi.ABI
	contract *bind.BoundContract
	eventIDs map[common.Hash]ledger.EventKind
}

var _ ledger.Gateway = (*Gateway)(nil)

// ParseABI returns the parsed contract ABI
func ParseABI() (abi.ABI, error) {
	return abi.JSON(bytes.NewReader(crowdfundABIJSON))
}

func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Backend == nil {
		return nil, errors.New("crowdfund: backend is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	parsed, err := ParseABI()
	if err != nil {
		return nil, fmt.Errorf("crowdfund: parse ABI: %w", err)
	}
	g := &Gateway{
		config: cfg,
		logger: cfg.Logger.With(
			"component", "crowdfund",
			"address", cfg.Address.Hex(),
		),
		abi: parsed,
		contract: bind.NewBoundContract(
			cfg.Address,
			parsed,
			cfg.Backend,
			cfg.Backend,
			cfg.Backend,
		),
		eventIDs: make(map[common.Hash]ledger.EventKind),
	}
	for name, kind := range map[string]ledger.EventKind{
		"CampaignCreated": ledger.EventCampaignCreated,
		"Funded":          ledger.EventFunded,
		"Withdrawn":       ledger.EventWithdrawn,
		"Stopped":         ledger.EventStopped,
		"Refunded":        ledger.EventRefunded,
	} {
		g.eventIDs[parsed.Events[name].ID] = kind
	}
	return g, nil
}

func (g *Gateway) Address() common.Address {
	return g.config.Address
}

// Close releases the backend connection when it is closable
func (g *Gateway) Close() {
	if c, ok := g.config.Backend.(interface{ Close() }); ok {
		c.Close()
	}
}

func (g *Gateway) call(
	ctx context.Context,
	method string,
	args ...any,
) ([]any, error) {
	var out []any
	if err := g.contract.Call(
		&bind.CallOpts{Context: ctx},
		&out,
		method,
		args...,
	); err != nil {
		return nil, &ledger.ReadError{Op: method, Err: err}
	}
	if len(out) == 0 {
		return nil, &ledger.ReadError{Op: method, Err: errors.New("empty result")}
	}
	return out, nil
}

func (g *Gateway) callUint(
	ctx context.Context,
	method string,
	args ...any,
) (*big.Int, error) {
	out, err := g.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (g *Gateway) callUint64(
	ctx context.Context,
	method string,
	args ...any,
) (uint64, error) {
	v, err := g.callUint(ctx, method, args...)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, &ledger.ReadError{
			Op:  method,
			Err: fmt.Errorf("value %s out of range", v),
		}
	}
	return v.Uint64(), nil
}

func (g *Gateway) CampaignCount(ctx context.Context) (uint64, error) {
	return g.callUint64(ctx, "campaignCount")
}

func (g *Gateway) ClosedCount(ctx context.Context) (uint64, error) {
	return g.callUint64(ctx, "closedCount")
}

func (g *Gateway) Campaign(
	ctx context.Context,
	id uint64,
) (ledger.Campaign, error) {
	out, err := g.call(ctx, "campaigns", new(big.Int).SetUint64(id))
	if err != nil {
		return ledger.Campaign{}, err
	}
	if len(out) != 8 {
		return ledger.Campaign{}, &ledger.ReadError{
			Op:  "campaigns",
			Err: fmt.Errorf("unexpected result length %d", len(out)),
		}
	}
	campaignID := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	deadline := *abi.ConvertType(out[4], new(*big.Int)).(**big.Int)
	contributors := *abi.ConvertType(out[6], new(*big.Int)).(**big.Int)
	return ledger.Campaign{
		ID:               campaignID.Uint64(),
		Creator:          *abi.ConvertType(out[1], new(common.Address)).(*common.Address),
		MetadataRef:      *abi.ConvertType(out[2], new(string)).(*string),
		Goal:             *abi.ConvertType(out[3], new(*big.Int)).(**big.Int),
		Deadline:         time.Unix(deadline.Int64(), 0).UTC(),
		FundsRaised:      *abi.ConvertType(out[5], new(*big.Int)).(**big.Int),
		ContributorCount: contributors.Uint64(),
		Closed:           *abi.ConvertType(out[7], new(bool)).(*bool),
	}, nil
}

func (g *Gateway) IsStopped(ctx context.Context, id uint64) (bool, error) {
	out, err := g.call(ctx, "isStopped", new(big.Int).SetUint64(id))
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (g *Gateway) UserCampaigns(
	ctx context.Context,
	account common.Address,
) (uint64, error) {
	return g.callUint64(ctx, "usersCampaigns", account)
}

func (g *Gateway) Limits(ctx context.Context) (ledger.Limits, error) {
	minGoal, err := g.callUint(ctx, "MIN_GOAL")
	if err != nil {
		return ledger.Limits{}, err
	}
	minDuration, err := g.callUint64(ctx, "MIN_DURATION")
	if err != nil {
		return ledger.Limits{}, err
	}
	maxCampaigns, err := g.callUint64(ctx, "MAX_CAMPAIGNS")
	if err != nil {
		return ledger.Limits{}, err
	}
	return ledger.Limits{
		MinGoal:      minGoal,
		MinDuration:  time.Duration(minDuration) * time.Second,
		MaxCampaigns: maxCampaigns,
	}, nil
}

func (g *Gateway) Owner(ctx context.Context) (common.Address, error) {
	out, err := g.call(ctx, "owner")
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

func (g *Gateway) WithdrawAmount(
	ctx context.Context,
	id uint64,
) (*big.Int, error) {
	return g.callUint(
		ctx,
		"calculateWithdrawAmount",
		new(big.Int).SetUint64(id),
	)
}

// FundingHistory returns the Funded logs of one campaign in log order
func (g *Gateway) FundingHistory(
	ctx context.Context,
	id uint64,
) ([]ledger.Funding, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(g.config.HistoryFromBlock),
		Addresses: []common.Address{g.config.Address},
		Topics: [][]common.Hash{
			{g.abi.Events["Funded"].ID},
			{common.BigToHash(new(big.Int).SetUint64(id))},
		},
	}
	logs, err := g.config.Backend.FilterLogs(ctx, query)
	if err != nil {
		return nil, &ledger.ReadError{Op: "Funded logs", Err: err}
	}
	blockTimes := make(map[uint64]time.Time)
	ret := make([]ledger.Funding, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		evt, err := g.decodeLog(lg)
		if err != nil {
			return nil, &ledger.ReadError{Op: "Funded logs", Err: err}
		}
		ts, ok := blockTimes[lg.BlockNumber]
		if !ok {
			header, err := g.config.Backend.HeaderByNumber(
				ctx,
				new(big.Int).SetUint64(lg.BlockNumber),
			)
			if err != nil {
				return nil, &ledger.ReadError{Op: "block header", Err: err}
			}
			// #nosec G115
			ts = time.Unix(int64(header.Time), 0).UTC()
			blockTimes[lg.BlockNumber] = ts
		}
		ret = append(ret, ledger.Funding{
			CampaignID:  evt.CampaignID,
			Backer:      evt.Account,
			Amount:      evt.Amount,
			TxHash:      lg.TxHash,
			BlockNumber: lg.BlockNumber,
			Timestamp:   ts,
		})
	}
	return ret, nil
}

func (g *Gateway) transact(
	ctx context.Context,
	opts *bind.TransactOpts,
	action string,
	method string,
	args ...any,
) (*types.Transaction, error) {
	if opts == nil {
		return nil, fmt.Errorf("%s: %w", action, ledger.ErrIdentityUnavailable)
	}
	txOpts := *opts
	txOpts.Context = ctx
	tx, err := g.contract.Transact(&txOpts, method, args...)
	if err != nil {
		return nil, ClassifySubmitError(action, err)
	}
	g.logger.Debug(
		"submitted transaction",
		"action", action,
		"tx", tx.Hash().Hex(),
		"from", opts.From.Hex(),
	)
	return tx, nil
}

func (g *Gateway) CreateCampaign(
	ctx context.Context,
	opts *bind.TransactOpts,
	metadataRef string,
	goal *big.Int,
	duration time.Duration,
) (*types.Transaction, error) {
	return g.transact(
		ctx,
		opts,
		"create",
		"createCampaign",
		metadataRef,
		goal,
		big.NewInt(int64(duration/time.Second)),
	)
}

func (g *Gateway) FundCampaign(
	ctx context.Context,
	opts *bind.TransactOpts,
	id uint64,
	amount *big.Int,
) (*types.Transaction, error) {
	if opts == nil {
		return nil, fmt.Errorf("fund: %w", ledger.ErrIdentityUnavailable)
	}
	payOpts := *opts
	payOpts.Value = amount
	return g.transact(
		ctx,
		&payOpts,
		"fund",
		"fundCampaign",
		new(big.Int).SetUint64(id),
	)
}

func (g *Gateway) WithdrawFunds(
	ctx context.Context,
	opts *bind.TransactOpts,
	id uint64,
) (*types.Transaction, error) {
	return g.transact(
		ctx,
		opts,
		"withdraw",
		"withdrawFunds",
		new(big.Int).SetUint64(id),
	)
}

func (g *Gateway) Stop(
	ctx context.Context,
	opts *bind.TransactOpts,
	id uint64,
) (*types.Transaction, error) {
	return g.transact(ctx, opts, "stop", "stop", new(big.Int).SetUint64(id))
}

func (g *Gateway) TakeRefund(
	ctx context.Context,
	opts *bind.TransactOpts,
	id uint64,
) (*types.Transaction, error) {
	return g.transact(
		ctx,
		opts,
		"refund",
		"takeRefund",
		new(big.Int).SetUint64(id),
	)
}

// WaitMined blocks until tx is included and returns its receipt
func (g *Gateway) WaitMined(
	ctx context.Context,
	tx *types.Transaction,
) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, g.config.Backend, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	return receipt, nil
}

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

// Package fakeledger is an in-memory crowdfund contract for tests. It
// implements ledger.Gateway and the code/chain id reads used for discovery
// and identity.
package fakeledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/blinklabs-io/fundwatch/ledger"
)

var (
	DefaultAddress = common.HexToAddress(
		"0x5FbDB2315678afecb367f032d93F642f64180aa3",
	)
	DefaultChainID = big.NewInt(31337)
)

// ReadHook runs before every read, outside the contract lock. A non-nil
// return fails the read.
type ReadHook func(op string, id uint64) error

type record struct {
	campaign      ledger.Campaign
	stopped       bool
	contributions map[common.Address]*big.Int
}

type Contract struct {
	mu            sync.Mutex
	address       common.Address
	owner         common.Address
	limits        ledger.Limits
	chainID       *big.Int
	chainIDErr    error
	deployed      bool
	probeErr      error
	probes        int
	now           func() time.Time
	records       []*record
	closedCount   uint64
	userCampaigns map[common.Address]uint64
	fundings      map[uint64][]ledger.Funding
	block         uint64
	nonce         uint64
	receipts      map[common.Hash]*types.Receipt
	failNextTx    bool
	subs          map[*subscription]struct{}
	readHook      ReadHook
	closeCount    int
}

var _ ledger.Gateway = (*Contract)(nil)

// New returns a deployed contract administered by owner
func New(owner common.Address) *Contract {
	return &Contract{
		address: DefaultAddress,
		owner:   owner,
		limits: ledger.Limits{
			MinGoal:      big.NewInt(1000),
			MinDuration:  24 * time.Hour,
			MaxCampaigns: 3,
		},
		chainID:       new(big.Int).Set(DefaultChainID),
		deployed:      true,
		now:           time.Now,
		userCampaigns: make(map[common.Address]uint64),
		fundings:      make(map[uint64][]ledger.Funding),
		receipts:      make(map[common.Hash]*types.Receipt),
		subs:          make(map[*subscription]struct{}),
	}
}

func (c *Contract) Address() common.Address {
	return c.address
}

func (c *Contract) SetDeployed(deployed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deployed = deployed
}

// SetProbeError makes CodeAt fail with err until cleared with nil
func (c *Contract) SetProbeError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probeErr = err
}

func (c *Contract) SetLimits(limits ledger.Limits) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limits = limits
}

func (c *Contract) SetNow(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Contract) SetReadHook(hook ReadHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readHook = hook
}

func (c *Contract) SetChainID(chainID *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chainID = new(big.Int).Set(chainID)
}

// SetChainIDError makes ChainID fail with err until cleared with nil
func (c *Contract) SetChainIDError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chainIDErr = err
}

// FailNextTx makes the next accepted transaction revert when mined
func (c *Contract) FailNextTx() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNextTx = true
}

// Probes returns the number of CodeAt calls
func (c *Contract) Probes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probes
}

// CloseCount returns the number of Close calls
func (c *Contract) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// Subscribers returns the number of live event subscriptions
func (c *Contract) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *Contract) CodeAt(
	ctx context.Context,
	account common.Address,
	_ *big.Int,
) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.probeErr != nil {
		return nil, c.probeErr
	}
	if !c.deployed || account != c.address {
		return nil, nil
	}
	return []byte{0x60, 0x80, 0x60, 0x40}, nil
}

func (c *Contract) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.chainIDErr != nil {
		return nil, c.chainIDErr
	}
	return new(big.Int).Set(c.chainID), nil
}

func (c *Contract) Close() {
	c.mu.Lock()
	c.closeCount++
	subs := make([]*subscription, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (c *Contract) beforeRead(ctx context.Context, op string, id uint64) error {
	if err := ctx.Err(); err != nil {
		return &ledger.ReadError{Op: op, Err: err}
	}
	c.mu.Lock()
	hook := c.readHook
	c.mu.Unlock()
	if hook != nil {
		if err := hook(op, id); err != nil {
			return &ledger.ReadError{Op: op, Err: err}
		}
	}
	return nil
}

func (c *Contract) CampaignCount(ctx context.Context) (uint64, error) {
	if err := c.beforeRead(ctx, "campaignCount", 0); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.records)), nil
}

func (c *Contract) ClosedCount(ctx context.Context) (uint64, error) {
	if err := c.beforeRead(ctx, "closedCount", 0); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedCount, nil
}

func (c *Contract) Campaign(
	ctx context.Context,
	id uint64,
) (ledger.Campaign, error) {
	if err := c.beforeRead(ctx, "campaigns", id); err != nil {
		return ledger.Campaign{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.record(id)
	if err != nil {
		return ledger.Campaign{}, &ledger.ReadError{Op: "campaigns", Err: err}
	}
	return rec.campaign.Clone(), nil
}

func (c *Contract) IsStopped(ctx context.Context, id uint64) (bool, error) {
	if err := c.beforeRead(ctx, "isStopped", id); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.record(id)
	if err != nil {
		return false, &ledger.ReadError{Op: "isStopped", Err: err}
	}
	return rec.stopped, nil
}

func (c *Contract) UserCampaigns(
	ctx context.Context,
	account common.Address,
) (uint64, error) {
	if err := c.beforeRead(ctx, "usersCampaigns", 0); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userCampaigns[account], nil
}

func (c *Contract) Limits(ctx context.Context) (ledger.Limits, error) {
	if err := c.beforeRead(ctx, "limits", 0); err != nil {
		return ledger.Limits{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return ledger.Limits{
		MinGoal:      new(big.Int).Set(c.limits.MinGoal),
		MinDuration:  c.limits.MinDuration,
		MaxCampaigns: c.limits.MaxCampaigns,
	}, nil
}

func (c *Contract) Owner(ctx context.Context) (common.Address, error) {
	if err := c.beforeRead(ctx, "owner", 0); err != nil {
		return common.Address{}, err
	}
	return c.owner, nil
}

func (c *Contract) WithdrawAmount(
	ctx context.Context,
	id uint64,
) (*big.Int, error) {
	if err := c.beforeRead(ctx, "calculateWithdrawAmount", id); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.record(id)
	if err != nil {
		return nil, &ledger.ReadError{Op: "calculateWithdrawAmount", Err: err}
	}
	return ledger.WithdrawShare(rec.campaign.FundsRaised), nil
}

func (c *Contract) FundingHistory(
	ctx context.Context,
	id uint64,
) ([]ledger.Funding, error) {
	if err := c.beforeRead(ctx, "Funded logs", id); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := make([]ledger.Funding, len(c.fundings[id]))
	copy(ret, c.fundings[id])
	return ret, nil
}

func (c *Contract) record(id uint64) (*record, error) {
	if id >= uint64(len(c.records)) {
		return nil, fmt.Errorf("invalid campaign id %d", id)
	}
	return c.records[id], nil
}

// Create executes createCampaign as from and returns the new id
func (c *Contract) Create(
	from common.Address,
	metadataRef string,
	goal *big.Int,
	duration time.Duration,
) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if goal == nil || goal.Cmp(c.limits.MinGoal) < 0 {
		return 0, errors.New("goal is below the minimum")
	}
	if duration < c.limits.MinDuration {
		return 0, errors.New("duration is below the minimum")
	}
	if from != c.owner && c.userCampaigns[from] >= c.limits.MaxCampaigns {
		return 0, errors.New("too many active campaigns")
	}
	id := uint64(len(c.records))
	c.records = append(c.records, &record{
		campaign: ledger.Campaign{
			ID:          id,
			Creator:     from,
			MetadataRef: metadataRef,
			Goal:        new(big.Int).Set(goal),
			Deadline:    c.now().Add(duration).Truncate(time.Second).UTC(),
			FundsRaised: new(big.Int),
		},
		contributions: make(map[common.Address]*big.Int),
	})
	c.userCampaigns[from]++
	c.emitLocked(ledger.Event{Kind: ledger.EventCampaignCreated})
	return id, nil
}

// Fund executes fundCampaign as from
func (c *Contract) Fund(id uint64, from common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.record(id)
	if err != nil {
		return err
	}
	if rec.campaign.Closed {
		return errors.New("campaign is closed")
	}
	if amount == nil || amount.Sign() <= 0 {
		return errors.New("amount must be greater than zero")
	}
	prev, ok := rec.contributions[from]
	if !ok || prev.Sign() == 0 {
		rec.campaign.ContributorCount++
		prev = new(big.Int)
	}
	rec.contributions[from] = new(big.Int).Add(prev, amount)
	rec.campaign.FundsRaised.Add(rec.campaign.FundsRaised, amount)
	evt := c.emitLocked(ledger.Event{
		Kind:       ledger.EventFunded,
		CampaignID: id,
		Account:    from,
		Amount:     new(big.Int).Set(amount),
	})
	c.fundings[id] = append(c.fundings[id], ledger.Funding{
		CampaignID:  id,
		Backer:      from,
		Amount:      new(big.Int).Set(amount),
		TxHash:      evt.TxHash,
		BlockNumber: evt.BlockNumber,
		Timestamp:   c.now().Truncate(time.Second).UTC(),
	})
	return nil
}

// Withdraw executes withdrawFunds as from
func (c *Contract) Withdraw(id uint64, from common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.record(id)
	if err != nil {
		return err
	}
	if rec.campaign.Creator != from {
		return errors.New("only the creator can withdraw")
	}
	if rec.campaign.Closed {
		return errors.New("campaign is closed")
	}
	c.closeLocked(rec)
	c.emitLocked(ledger.Event{
		Kind:       ledger.EventWithdrawn,
		CampaignID: id,
		Account:    from,
		Amount:     ledger.WithdrawShare(rec.campaign.FundsRaised),
	})
	return nil
}

// StopCampaign executes stop as from
func (c *Contract) StopCampaign(id uint64, from common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.record(id)
	if err != nil {
		return err
	}
	if rec.campaign.Creator != from && c.owner != from {
		return errors.New("not authorized")
	}
	if rec.campaign.Closed {
		return errors.New("campaign is closed")
	}
	rec.stopped = true
	c.closeLocked(rec)
	c.emitLocked(ledger.Event{
		Kind:       ledger.EventStopped,
		CampaignID: id,
		ByCreator:  rec.campaign.Creator == from,
	})
	return nil
}

// Refund executes takeRefund as from
func (c *Contract) Refund(id uint64, from common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.record(id)
	if err != nil {
		return err
	}
	if !rec.stopped {
		return errors.New("campaign is not stopped")
	}
	contribution, ok := rec.contributions[from]
	if !ok || contribution.Sign() == 0 {
		return errors.New("nothing to refund")
	}
	rec.campaign.FundsRaised.Sub(rec.campaign.FundsRaised, contribution)
	rec.contributions[from] = new(big.Int)
	c.emitLocked(ledger.Event{
		Kind:       ledger.EventRefunded,
		CampaignID: id,
		Account:    from,
		Amount:     new(big.Int).Set(contribution),
	})
	return nil
}

func (c *Contract) closeLocked(rec *record) {
	rec.campaign.Closed = true
	c.closedCount++
	if c.userCampaigns[rec.campaign.Creator] > 0 {
		c.userCampaigns[rec.campaign.Creator]--
	}
}

// Emit delivers evt to subscribers without changing contract state
func (c *Contract) Emit(evt ledger.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked(evt)
}

func (c *Contract) emitLocked(evt ledger.Event) ledger.Event {
	c.block++
	evt.BlockNumber = c.block
	evt.TxHash = common.BigToHash(new(big.Int).SetUint64(c.block))
	for sub := range c.subs {
		sub.push(evt)
	}
	return evt
}

// FailSubscriptions sends err on every live subscription's error channel
func (c *Contract) FailSubscriptions(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sub := range c.subs {
		select {
		case sub.errCh <- err:
		default:
		}
	}
}

func (c *Contract) SubscribeEvents(
	ctx context.Context,
) (ledger.Subscription, error) {
	if err := c.beforeRead(ctx, "subscribe logs", 0); err != nil {
		return nil, err
	}
	sub := newSubscription(ctx, c)
	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()
	go sub.run()
	return sub, nil
}

func (c *Contract) removeSub(sub *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, sub)
}

func (c *Contract) submit(
	ctx context.Context,
	opts *bind.TransactOpts,
	action string,
	value *big.Int,
	exec func(from common.Address) error,
) (*types.Transaction, error) {
	if opts == nil {
		return nil, fmt.Errorf("%s: %w", action, ledger.ErrIdentityUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	failTx := c.failNextTx
	c.failNextTx = false
	c.nonce++
	tx := types.NewTx(&types.LegacyTx{
		Nonce: c.nonce,
		To:    &c.address,
		Value: value,
		Gas:   100_000,
		Data:  []byte(action),
	})
	c.mu.Unlock()
	status := types.ReceiptStatusSuccessful
	if failTx {
		status = types.ReceiptStatusFailed
	} else if err := exec(opts.From); err != nil {
		return nil, &ledger.SubmissionRejectedError{
			Action: action,
			Reason: err.Error(),
		}
	}
	c.mu.Lock()
	c.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(c.block),
	}
	c.mu.Unlock()
	return tx, nil
}

func (c *Contract) CreateCampaign(
	ctx context.Context,
	opts *bind.TransactOpts,
	metadataRef string,
	goal *big.Int,
	duration time.Duration,
) (*types.Transaction, error) {
	return c.submit(ctx, opts, "create", nil, func(from common.Address) error {
		_, err := c.Create(from, metadataRef, goal, duration)
		return err
	})
}

func (c *Contract) FundCampaign(
	ctx context.Context,
	opts *bind.TransactOpts,
	id uint64,
	amount *big.Int,
) (*types.Transaction, error) {
	return c.submit(ctx, opts, "fund", amount, func(from common.Address) error {
		return c.Fund(id, from, amount)
	})
}

func (c *Contract) WithdrawFunds(
	ctx context.Context,
	opts *bind.TransactOpts,
	id uint64,
) (*types.Transaction, error) {
	return c.submit(ctx, opts, "withdraw", nil, func(from common.Address) error {
		return c.Withdraw(id, from)
	})
}

func (c *Contract) Stop(
	ctx context.Context,
	opts *bind.TransactOpts,
	id uint64,
) (*types.Transaction, error) {
	return c.submit(ctx, opts, "stop", nil, func(from common.Address) error {
		return c.StopCampaign(id, from)
	})
}

func (c *Contract) TakeRefund(
	ctx context.Context,
	opts *bind.TransactOpts,
	id uint64,
) (*types.Transaction, error) {
	return c.submit(ctx, opts, "refund", nil, func(from common.Address) error {
		return c.Refund(id, from)
	})
}

func (c *Contract) WaitMined(
	ctx context.Context,
	tx *types.Transaction,
) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, ok := c.receipts[tx.Hash()]
	if !ok {
		return nil, fmt.Errorf("unknown transaction %s", tx.Hash().Hex())
	}
	return receipt, nil
}

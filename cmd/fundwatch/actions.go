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

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/blinklabs-io/fundwatch"
	"github.com/blinklabs-io/fundwatch/dispatch"
	"github.com/blinklabs-io/fundwatch/ledger"
)

var errConfirmationRequired = errors.New(
	"confirmation required: run from a terminal or pass --yes",
)

// describe renders an action for the confirmation prompt
func describe(a dispatch.Action) string {
	switch a.Kind {
	case dispatch.KindCreate:
		return fmt.Sprintf(
			"create a campaign for %s with goal %s ETH running %s",
			a.MetadataRef,
			ledger.FormatEther(a.Goal),
			a.Duration,
		)
	case dispatch.KindFund:
		return fmt.Sprintf(
			"fund campaign %d with %s ETH",
			a.CampaignID,
			ledger.FormatEther(a.Amount),
		)
	default:
		return fmt.Sprintf("%s campaign %d", a.Kind, a.CampaignID)
	}
}

func promptConfirm(in io.Reader, out io.Writer, yes bool) dispatch.ConfirmFunc {
	return func(_ context.Context, a dispatch.Action) (bool, error) {
		if yes {
			return true, nil
		}
		if f, ok := in.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
			return false, errConfirmationRequired
		}
		fmt.Fprintf(out, "%s from %s? [y/N] ", describe(a), a.From.Hex())
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}

// runAction submits one action and reports the mined transaction
func runAction(
	cmd *cobra.Command,
	yes bool,
	fn func(ctx context.Context, d *dispatch.Dispatcher, out io.Writer) (dispatch.Result, error),
) error {
	confirm := promptConfirm(cmd.InOrStdin(), cmd.ErrOrStderr(), yes)
	return withNode(
		cmd,
		[]fundwatch.ConfigOptionFunc{fundwatch.WithConfirm(confirm)},
		func(ctx context.Context, n *fundwatch.Node) error {
			d, err := n.Dispatcher()
			if err != nil {
				return err
			}
			res, err := fn(ctx, d, cmd.OutOrStdout())
			if errors.Is(err, ledger.ErrUserDeclined) {
				fmt.Fprintln(cmd.ErrOrStderr(), "cancelled")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(
				cmd.OutOrStdout(),
				"transaction %s mined in block %d\n",
				res.TxHash.Hex(),
				res.BlockNumber,
			)
			return nil
		},
	)
}

func createCommand() *cobra.Command {
	var (
		ref      string
		goal     string
		duration time.Duration
		yes      bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a campaign",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			goalWei, err := ledger.ParseEther(goal)
			if err != nil {
				return fmt.Errorf("invalid goal: %w", err)
			}
			return runAction(cmd, yes, func(ctx context.Context, d *dispatch.Dispatcher, _ io.Writer) (dispatch.Result, error) {
				return d.Create(ctx, ref, goalWei, duration)
			})
		},
	}
	cmd.Flags().StringVar(&ref, "metadata", "", "metadata reference (ipfs://, https:// or gs://)")
	cmd.Flags().StringVar(&goal, "goal", "", "funding goal in ETH")
	cmd.Flags().DurationVar(&duration, "duration", 30*24*time.Hour, "campaign duration")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "submit without asking")
	_ = cmd.MarkFlagRequired("metadata")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

func fundCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "fund <campaign-id> <amount-eth>",
		Short: "Contribute to a campaign",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			amount, err := ledger.ParseEther(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			return runAction(cmd, yes, func(ctx context.Context, d *dispatch.Dispatcher, _ io.Writer) (dispatch.Result, error) {
				return d.Fund(ctx, id, amount)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "submit without asking")
	return cmd
}

func withdrawCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "withdraw <campaign-id>",
		Short: "Withdraw the raised funds of a campaign you created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runAction(cmd, yes, func(ctx context.Context, d *dispatch.Dispatcher, out io.Writer) (dispatch.Result, error) {
				quote, err := d.WithdrawQuote(ctx, id)
				if err != nil {
					return dispatch.Result{}, err
				}
				fmt.Fprintf(
					out,
					"campaign %d raised %s ETH, withdrawal pays %s ETH\n",
					quote.CampaignID,
					ledger.FormatEther(quote.FundsRaised),
					ledger.FormatEther(quote.Amount),
				)
				return d.Withdraw(ctx, id)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "submit without asking")
	return cmd
}

// idCommand builds the commands that only take a campaign id
func idCommand(
	use string,
	short string,
	fn func(d *dispatch.Dispatcher) func(context.Context, uint64) (dispatch.Result, error),
) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   use + " <campaign-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runAction(cmd, yes, func(ctx context.Context, d *dispatch.Dispatcher, _ io.Writer) (dispatch.Result, error) {
				return fn(d)(ctx, id)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "submit without asking")
	return cmd
}

func stopCommand() *cobra.Command {
	return idCommand(
		"stop",
		"Stop a campaign so backers can take refunds",
		func(d *dispatch.Dispatcher) func(context.Context, uint64) (dispatch.Result, error) {
			return d.Stop
		},
	)
}

func refundCommand() *cobra.Command {
	return idCommand(
		"refund",
		"Take back your contribution to a stopped campaign",
		func(d *dispatch.Dispatcher) func(context.Context, uint64) (dispatch.Result, error) {
			return d.Refund
		},
	)
}

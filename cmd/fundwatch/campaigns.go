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
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/blinklabs-io/fundwatch"
	"github.com/blinklabs-io/fundwatch/internal/config"
	"github.com/blinklabs-io/fundwatch/internal/node"
	"github.com/blinklabs-io/fundwatch/ledger"
)

const loadTimeout = 2 * time.Minute

// withNode starts a node for the command and stops it afterwards
func withNode(
	cmd *cobra.Command,
	opts []fundwatch.ConfigOptionFunc,
	fn func(ctx context.Context, n *fundwatch.Node) error,
) error {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return errors.New("no config found in context")
	}
	logger := commonRun(cfg)
	ctx, cancel := context.WithTimeout(cmd.Context(), loadTimeout)
	defer cancel()
	n, stop, err := node.Start(ctx, cfg, logger, opts...)
	if err != nil {
		return err
	}
	err = fn(cmd.Context(), n)
	if stopErr := stop(); stopErr != nil {
		logger.Error("shutdown errors occurred", "error", stopErr)
	}
	return err
}

func parseID(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid campaign id %q", arg)
	}
	return id, nil
}

func campaignStatus(c ledger.Campaign) string {
	switch {
	case c.Stopped:
		return "stopped"
	case c.Closed:
		return "withdrawn"
	case c.GoalReached():
		return "funded"
	default:
		return "open"
	}
}

func campaignsCommand() *cobra.Command {
	var closed, titles bool
	cmd := &cobra.Command{
		Use:   "campaigns",
		Short: "List active or closed campaigns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withNode(cmd, nil, func(ctx context.Context, n *fundwatch.Node) error {
				campaigns := n.Store().Active()
				if closed {
					campaigns = n.Store().Closed()
				}
				return printCampaigns(ctx, cmd.OutOrStdout(), n, campaigns, titles)
			})
		},
	}
	cmd.Flags().BoolVar(&closed, "closed", false, "list closed campaigns")
	cmd.Flags().BoolVar(&titles, "titles", false, "fetch campaign titles")
	return cmd
}

func printCampaigns(
	ctx context.Context,
	out io.Writer,
	n *fundwatch.Node,
	campaigns []ledger.Campaign,
	titles bool,
) error {
	now := time.Now()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	header := "ID\tCREATOR\tGOAL (ETH)\tRAISED (ETH)\tFUNDED\tBACKERS\tREMAINING\tSTATUS"
	if titles {
		header += "\tTITLE"
	}
	fmt.Fprintln(w, header)
	for _, c := range campaigns {
		line := fmt.Sprintf(
			"%d\t%s\t%s\t%s\t%d%%\t%d\t%s\t%s",
			c.ID,
			c.Creator.Hex(),
			ledger.FormatEther(c.Goal),
			ledger.FormatEther(c.FundsRaised),
			c.PercentFunded(),
			c.ContributorCount,
			c.Remaining(now).Truncate(time.Second),
			campaignStatus(c),
		)
		if titles {
			line += "\t" + n.Metadata(ctx, c.MetadataRef).Title
		}
		fmt.Fprintln(w, line)
	}
	return w.Flush()
}

func historyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <campaign-id>",
		Short: "Show the funding history of a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withNode(cmd, nil, func(ctx context.Context, n *fundwatch.Node) error {
				history, err := n.FundingHistory(ctx, id)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tBACKER\tAMOUNT (ETH)\tBLOCK\tTX")
				for _, f := range history {
					fmt.Fprintf(
						w,
						"%s\t%s\t%s\t%d\t%s\n",
						f.Timestamp.UTC().Format(time.RFC3339),
						f.Backer.Hex(),
						ledger.FormatEther(f.Amount),
						f.BlockNumber,
						f.TxHash.Hex(),
					)
				}
				return w.Flush()
			})
		},
	}
}

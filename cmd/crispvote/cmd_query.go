package main

import (
	"math/big"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"crisp-voting-client/models"
	"crisp-voting-client/proposal"
	"crisp-voting-client/service"
)

var flagYAML bool

var roundCmd = &cobra.Command{
	Use:   "round <round>",
	Short: "show the state of a round",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roundID, err := parseRoundID(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		round, err := newAPIClient().GetRoundState(ctx, roundID)
		if err != nil {
			return err
		}

		out := struct {
			ID uint64 `json:"id"`
			*models.Round
			CommitteeReady bool                  `json:"committee_ready"`
			SnapshotBlock  string                `json:"snapshot_block"`
			Window         *service.VotingWindow `json:"window,omitempty"`
			Open           *bool                 `json:"open,omitempty"`
		}{
			ID:             roundID,
			Round:          round,
			CommitteeReady: round.CommitteeReady(),
			SnapshotBlock:  round.SnapshotBlock().String(),
		}

		if w, err := service.NewVotingWindow(round); err == nil {
			open := w.IsOpen(time.Now())
			out.Window = w
			out.Open = &open
		} else {
			log.Log().Debug().Err(err).Uint64("round", roundID).Msg("round has no voting window")
		}

		if flagYAML {
			return printYAML(cmd.OutOrStdout(), out)
		}

		return printJSON(cmd.OutOrStdout(), out)
	},
}

var proposalCmd = &cobra.Command{
	Use:   "proposal <id>",
	Short: "show a governance proposal and its status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, ok := new(big.Int).SetString(args[0], 0)
		if !ok || id.Sign() < 0 {
			return errors.Errorf("invalid proposal id, %q", args[0])
		}

		ctx, cancel := signalContext()
		defer cancel()

		reader, client, err := dialChain(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		loader := newLoader(reader)

		p, err := loader.Load(ctx, id)
		if err != nil {
			return err
		}

		status, err := loader.Status(ctx, p)
		if err != nil {
			return err
		}

		out := struct {
			*models.Proposal
			Status string `json:"status"`
			Passed bool   `json:"passed"`
		}{
			Proposal: p,
			Status:   status.String(),
			Passed:   status == proposal.StatusAccepted || status == proposal.StatusExecutable || status == proposal.StatusExecuted,
		}

		return printJSON(cmd.OutOrStdout(), out)
	},
}

var flagReceiptsRound uint64

var receiptsCmd = &cobra.Command{
	Use:   "receipts",
	Short: "list the receipts of submitted votes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := newReceiptStore()
		if err != nil {
			return err
		}

		var roundID *uint64
		if cmd.Flags().Changed("round") {
			roundID = &flagReceiptsRound
		}

		receipts := store.Receipts(roundID)
		if receipts == nil {
			receipts = []models.Receipt{}
		}

		return printJSON(cmd.OutOrStdout(), receipts)
	},
}

func init() {
	roundCmd.Flags().BoolVar(&flagYAML, "yaml", false, "print as yaml")
	receiptsCmd.Flags().Uint64Var(&flagReceiptsRound, "round", 0, "only receipts of this round")

	rootCmd.AddCommand(roundCmd)
	rootCmd.AddCommand(proposalCmd)
	rootCmd.AddCommand(receiptsCmd)
}

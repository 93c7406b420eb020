package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"crisp-voting-client/models"
	"crisp-voting-client/service"
)

var voteCmd = &cobra.Command{
	Use:   "vote <round> <option>",
	Short: "cast a vote for an option in a round",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		roundID, err := parseRoundID(args[0])
		if err != nil {
			return err
		}

		option, err := strconv.Atoi(args[1])
		if err != nil {
			return errors.Wrapf(err, "invalid option, %q", args[1])
		}

		return submit(cmd, roundID, models.VoteChoice{Option: option})
	},
}

var maskCmd = &cobra.Command{
	Use:   "mask <round>",
	Short: "submit a masking vote on behalf of a random eligible voter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roundID, err := parseRoundID(args[0])
		if err != nil {
			return err
		}

		return submit(cmd, roundID, models.MaskChoice{})
	},
}

func init() {
	rootCmd.AddCommand(voteCmd)
	rootCmd.AddCommand(maskCmd)
}

func submit(cmd *cobra.Command, roundID uint64, choice models.Choice) error {
	ctx, cancel := signalContext()
	defer cancel()

	workflow, closer, err := newWorkflow(ctx)
	if err != nil {
		return err
	}
	defer closer()

	events := make(chan service.StepEvent, 8)
	sub := workflow.Subscribe(events)

	done := make(chan struct{})
	go func() {
		defer close(done)

		for {
			select {
			case e := <-events:
				printStep(cmd.ErrOrStderr(), e)
			case <-sub.Err():
				for {
					select {
					case e := <-events:
						printStep(cmd.ErrOrStderr(), e)
					default:
						return
					}
				}
			}
		}
	}()

	receipt, err := workflow.Submit(ctx, roundID, choice)

	sub.Unsubscribe()
	<-done

	printIndicator(cmd.ErrOrStderr(), workflow.State())

	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), receipt)
}

func printStep(w io.Writer, e service.StepEvent) {
	msg := e.Message
	if msg == "" {
		msg = string(e.Step)
	}

	_, _ = fmt.Fprintf(w, "[%s] round %d: %s\n", e.At.Format("15:04:05"), e.RoundID, msg)
}

func printIndicator(w io.Writer, state service.State) {
	for _, entry := range service.StepIndicator(state) {
		_, _ = fmt.Fprintf(w, "  %-9s %s\n", entry.Label, entry.Status)
	}
}

func parseRoundID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid round id, %q", s)
	}

	return id, nil
}

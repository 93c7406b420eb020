package service

import (
	"github.com/pkg/errors"

	"crisp-voting-client/api"
	"crisp-voting-client/models"
)

var (
	ErrNoWallet          = errors.New("no wallet address")
	ErrSignatureRejected = errors.New("signature request rejected")
	ErrVotingPowerFetch  = errors.New("failed to fetch voting power")
	ErrProofGeneration   = errors.New("failed to generate vote proof")
	ErrNoEligibleVoters  = errors.New("no eligible voters to mask")
	ErrInvalidOption     = errors.New("invalid vote option")
	ErrAbandoned         = errors.New("submission abandoned")
	ErrRoundNotReady     = errors.New("round is not accepting votes")
	ErrNoCredits         = errors.New("constant credit round has no credits")

	ErrRoundFetch          = api.ErrRoundFetch
	ErrTokenHoldersFetch   = api.ErrTokenHoldersFetch
	ErrEligibleVotersFetch = api.ErrEligibleVotersFetch
	ErrBroadcast           = api.ErrBroadcast
)

// SubmitError is the terminal error of a submission. Step is the step that
// was active when it failed.
type SubmitError struct {
	Step models.VotingStep
	Kind error
	Err  error
}

func newSubmitError(step models.VotingStep, kind, err error) *SubmitError {
	return &SubmitError{Step: step, Kind: kind, Err: err}
}

func (e *SubmitError) Error() string {
	switch {
	case e.Err == nil:
		return e.Kind.Error()
	case errors.Is(e.Err, e.Kind):
		return e.Err.Error()
	default:
		return e.Kind.Error() + ": " + e.Err.Error()
	}
}

func (e *SubmitError) Is(target error) bool {
	return target == e.Kind
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

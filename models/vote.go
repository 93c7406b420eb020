package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// VotingStep is the progress of one vote submission.
type VotingStep string

const (
	StepIdle            VotingStep = "idle"
	StepSigning         VotingStep = "signing"
	StepEncrypting      VotingStep = "encrypting"
	StepGeneratingProof VotingStep = "generating_proof"
	StepBroadcasting    VotingStep = "broadcasting"
	StepConfirming      VotingStep = "confirming"
	StepComplete        VotingStep = "complete"
	StepError           VotingStep = "error"
)

func (s VotingStep) IsTerminal() bool {
	return s == StepComplete || s == StepError
}

// Choice is what the caller wants to submit: a VoteChoice or a MaskChoice.
type Choice interface {
	IsMask() bool
}

// VoteChoice casts the caller's voting power on one option.
type VoteChoice struct {
	Option int
}

func (VoteChoice) IsMask() bool { return false }

// MaskChoice casts a zero ballot on behalf of another eligible voter's slot.
type MaskChoice struct{}

func (MaskChoice) IsMask() bool { return true }

// Ballot is the plaintext vote vector handed to the prover.
type Ballot struct {
	Votes  []*big.Int
	Slot   common.Address
	Weight *big.Int
}

// NewOneHotBallot puts the whole weight on option and zero elsewhere.
func NewOneHotBallot(numOptions, option int, slot common.Address, weight *big.Int) *Ballot {
	b := NewZeroBallot(numOptions, slot, weight)
	b.Votes[option] = new(big.Int).Set(weight)
	return b
}

func NewZeroBallot(numOptions int, slot common.Address, weight *big.Int) *Ballot {
	votes := make([]*big.Int, numOptions)
	for i := range votes {
		votes[i] = new(big.Int)
	}

	return &Ballot{
		Votes:  votes,
		Slot:   slot,
		Weight: new(big.Int).Set(weight),
	}
}

// IsZero is true for masking ballots.
func (b *Ballot) IsZero() bool {
	for _, v := range b.Votes {
		if v.Sign() != 0 {
			return false
		}
	}
	return true
}

package proposal

import (
	"math/big"
)

// Status is the display status of a proposal.
type Status int

const (
	StatusPending Status = iota
	StatusActive
	StatusExecuted
	StatusFailed
	StatusExecutable
	StatusAccepted
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusExecuted:
		return "executed"
	case StatusFailed:
		return "failed"
	case StatusExecutable:
		return "executable"
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// StatusInput is everything the status depends on. MinVotingPowerFraction is
// a percentage of TotalVotingPower.
type StatusInput struct {
	Tally                  []*big.Int
	NumOptions             int
	MinVotingPowerFraction *big.Int
	TotalVotingPower       *big.Int
	Active                 bool
	Executed               bool
	IsTallied              bool
	HasActions             bool
}

// ResolveStatus maps in to a status. The checks are ordered and the first
// match wins.
func ResolveStatus(in StatusInput) Status {
	switch {
	case in.Active:
		return StatusActive
	case in.Executed:
		return StatusExecuted
	case !in.IsTallied:
		return StatusPending
	}

	numOptions := in.NumOptions
	if numOptions <= 0 {
		numOptions = len(in.Tally)
	}

	total := TotalVotes(in.Tally)
	if total.Sign() == 0 {
		return StatusFailed
	}

	if total.Cmp(MinVotingPower(in.TotalVotingPower, in.MinVotingPowerFraction)) < 0 {
		return StatusFailed
	}

	if HasPassed(in.Tally, numOptions) {
		if in.HasActions {
			return StatusExecutable
		}
		return StatusAccepted
	}

	if numOptions <= 3 && tallyAt(in.Tally, 1).Cmp(tallyAt(in.Tally, 0)) >= 0 {
		return StatusRejected
	}

	return StatusPending
}

// HasPassed follows the plugin's execution rule: with up to three options the
// first must beat the second, with four or more any non-empty tally passes.
// Quorum is checked separately.
func HasPassed(tally []*big.Int, numOptions int) bool {
	if TotalVotes(tally).Sign() == 0 {
		return false
	}

	if numOptions <= 3 {
		return tallyAt(tally, 0).Cmp(tallyAt(tally, 1)) > 0
	}
	return true
}

func TotalVotes(tally []*big.Int) *big.Int {
	sum := new(big.Int)
	for _, v := range tally {
		if v != nil {
			sum.Add(sum, v)
		}
	}
	return sum
}

// MinVotingPower is totalVotingPower * fraction / 100, rounded down.
func MinVotingPower(totalVotingPower, fraction *big.Int) *big.Int {
	if totalVotingPower == nil || fraction == nil {
		return new(big.Int)
	}

	power := new(big.Int).Mul(totalVotingPower, fraction)
	return power.Quo(power, big.NewInt(100))
}

func tallyAt(tally []*big.Int, i int) *big.Int {
	if i >= len(tally) || tally[i] == nil {
		return new(big.Int)
	}
	return tally[i]
}

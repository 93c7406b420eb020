package service

import (
	"crypto/rand"
	"io"
	"math/big"

	"github.com/pkg/errors"

	"crisp-voting-client/models"
)

// MaskSelector picks whose slot a masking vote is cast for.
type MaskSelector struct {
	rand io.Reader
}

func NewMaskSelector(r io.Reader) *MaskSelector {
	if r == nil {
		r = rand.Reader
	}
	return &MaskSelector{rand: r}
}

// Select draws a voter uniformly from voters. The caller's own address is a
// valid draw.
func (ms *MaskSelector) Select(voters []models.EligibleVoter) (models.EligibleVoter, error) {
	if len(voters) == 0 {
		return models.EligibleVoter{}, ErrNoEligibleVoters
	}
	if len(voters) == 1 {
		return voters[0], nil
	}

	i, err := rand.Int(ms.rand, big.NewInt(int64(len(voters))))
	if err != nil {
		return models.EligibleVoter{}, errors.Wrap(err, "failed to draw mask target")
	}

	return voters[i.Int64()], nil
}

// MaskWeight is the weight the target's slot carries: the round's constant
// credits, or the target's balance when the mode is custom or unset.
func MaskWeight(round *models.Round, target models.EligibleVoter) *big.Int {
	if round.CreditMode == models.CreditModeConstant {
		return round.Credits.BigInt()
	}
	return target.Balance.BigInt()
}

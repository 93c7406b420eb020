package models

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type RoundStatus string

const (
	RoundPending  RoundStatus = "Pending"
	RoundActive   RoundStatus = "Active"
	RoundFinished RoundStatus = "Finished"
)

func (s *RoundStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode round status: %w", err)
	}

	switch strings.ToLower(raw) {
	case "pending":
		*s = RoundPending
	case "active":
		*s = RoundActive
	case "finished":
		*s = RoundFinished
	default:
		*s = RoundStatus(raw)
	}

	return nil
}

// CreditMode is how ballots are weighted. The zero value means the server
// did not say; it is weighted by token balance like Custom.
type CreditMode int

const (
	CreditModeUnset CreditMode = iota
	CreditModeConstant
	CreditModeCustom
)

func (m CreditMode) String() string {
	switch m {
	case CreditModeUnset:
		return "Unset"
	case CreditModeConstant:
		return "Constant"
	case CreditModeCustom:
		return "Custom"
	default:
		return fmt.Sprintf("CreditMode(%d)", int(m))
	}
}

func (m CreditMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts the contract enum value (0 Constant, 1 Custom) or
// its name. null leaves the mode unset.
func (m *CreditMode) UnmarshalJSON(data []byte) error {
	s := strings.ToLower(strings.Trim(strings.TrimSpace(string(data)), `"`))

	switch s {
	case "", "null", "unset":
		*m = CreditModeUnset
		return nil
	case "constant", "0":
		*m = CreditModeConstant
		return nil
	case "custom", "1":
		*m = CreditModeCustom
		return nil
	}

	return fmt.Errorf("unknown credit mode: %s", string(data))
}

// Round is one E3 computation as reported by the tally server.
type Round struct {
	ID                 uint64      `json:"-"`
	ChainID            string      `json:"chain_id,omitempty"`
	EnclaveAddress     string      `json:"enclave_address,omitempty"`
	Status             RoundStatus `json:"status"`
	VoteCount          Count       `json:"vote_count,omitempty"`
	StartTime          string      `json:"start_time,omitempty"`
	Duration           string      `json:"duration,omitempty"`
	Expiration         string      `json:"expiration,omitempty"`
	StartBlock         Quantity    `json:"start_block"`
	CommitteePublicKey ByteArray   `json:"committee_public_key"`
	TokenAddress       string      `json:"token_address,omitempty"`
	BalanceThreshold   Quantity    `json:"balance_threshold"`
	NumOptions         Count       `json:"num_options"`
	CreditMode         CreditMode  `json:"credit_mode"`
	Credits            Quantity    `json:"credits"`
}

// CommitteeReady reports whether the ciphernode committee has published its
// public key.
func (r *Round) CommitteeReady() bool {
	return len(r.CommitteePublicKey) > 0
}

// SnapshotBlock is the block at which voting power is measured, the block
// before the round started.
func (r *Round) SnapshotBlock() *big.Int {
	b := r.StartBlock.BigInt()
	if b.Sign() > 0 {
		b.Sub(b, big.NewInt(1))
	}
	return b
}

type EligibleVoter struct {
	Address common.Address `json:"address"`
	Balance Quantity       `json:"balance"`
}

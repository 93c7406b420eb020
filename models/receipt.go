package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt records one ballot the tally server accepted.
type Receipt struct {
	ID          string         `json:"id"`
	AttemptID   string         `json:"attempt_id"`
	RoundID     uint64         `json:"round_id"`
	Voter       common.Address `json:"voter"`
	Mask        bool           `json:"mask"`
	Option      int            `json:"option"`
	Slot        common.Address `json:"slot"`
	ProofHash   common.Hash    `json:"proof_hash"`
	SubmittedAt time.Time      `json:"submitted_at"`
	// Elapsed is the time from signing to the accepted broadcast.
	Elapsed time.Duration `json:"elapsed"`
}

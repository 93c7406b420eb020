package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type ProposalParameters struct {
	StartDate      uint64   `json:"start_date"`
	EndDate        uint64   `json:"end_date"`
	SnapshotBlock  uint64   `json:"snapshot_block"`
	MinVotingPower *big.Int `json:"min_voting_power"`
}

type Action struct {
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value"`
	Data  []byte         `json:"data"`
}

type Resource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Proposal is the merged view of the plugin's proposal struct, its creation
// event and the off-chain metadata document.
type Proposal struct {
	ID              *big.Int           `json:"id"`
	Active          bool               `json:"active"`
	Executed        bool               `json:"executed"`
	Parameters      ProposalParameters `json:"parameters"`
	Tally           []*big.Int         `json:"tally"`
	IsTallied       bool               `json:"is_tallied"`
	Actions         []Action           `json:"actions"`
	AllowFailureMap *big.Int           `json:"allow_failure_map"`
	E3ID            *big.Int           `json:"e3_id"`
	Creator         string             `json:"creator"`
	Title           string             `json:"title"`
	Summary         string             `json:"summary"`
	Description     string             `json:"description"`
	Resources       []Resource         `json:"resources"`
	Options         []string           `json:"options"`
	NumOptions      int                `json:"num_options"`
}

// ProposalMetadata is the JSON document pinned off-chain at creation time.
type ProposalMetadata struct {
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	Description string     `json:"description"`
	Resources   []Resource `json:"resources"`
	Options     []string   `json:"options"`
}

// ProposalCreated carries the fields of the plugin's ProposalCreated event.
type ProposalCreated struct {
	ProposalID      *big.Int
	Creator         common.Address
	StartDate       uint64
	EndDate         uint64
	Metadata        []byte
	Actions         []Action
	AllowFailureMap *big.Int
}

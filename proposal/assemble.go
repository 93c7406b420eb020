package proposal

import (
	"fmt"
	"math/big"
	"strings"

	"crisp-voting-client/blockchain"
	"crisp-voting-client/models"
)

// TallyResult is the outcome of the plugin's getTally call.
type TallyResult struct {
	Values    []*big.Int
	IsTallied bool
}

// Assemble merges the on-chain struct with the creation event, the metadata
// document and the tally. It returns nil until the on-chain struct is known;
// every other source may be nil.
func Assemble(
	id *big.Int,
	onchain *blockchain.ProposalStruct,
	created *models.ProposalCreated,
	metadata *models.ProposalMetadata,
	tally *TallyResult,
) *models.Proposal {
	if onchain == nil {
		return nil
	}

	p := &models.Proposal{
		ID:              copyBig(id),
		Active:          onchain.Active,
		Executed:        onchain.Executed,
		Parameters:      onchain.Parameters,
		Actions:         onchain.Actions,
		AllowFailureMap: onchain.AllowFailureMap,
		E3ID:            onchain.E3ID,
		Resources:       []models.Resource{},
	}
	if p.Actions == nil {
		p.Actions = []models.Action{}
	}

	values := onchain.Tally
	if tally != nil {
		p.IsTallied = tally.IsTallied
		if len(tally.Values) > 0 {
			values = tally.Values
		}
	}
	p.Tally = normalizeTally(values)
	p.NumOptions = len(p.Tally)

	if created != nil {
		p.Creator = created.Creator.Hex()
	}

	var labels []string
	if metadata != nil {
		p.Title = metadata.Title
		p.Summary = metadata.Summary
		p.Description = metadata.Description
		if metadata.Resources != nil {
			p.Resources = metadata.Resources
		}
		labels = metadata.Options
	}

	if len(labels) == p.NumOptions {
		p.Options = labels
	} else {
		p.Options = DefaultOptions(p.NumOptions)
	}

	return p
}

// DefaultOptions are the labels used when the metadata carries none that fit
// the tally.
func DefaultOptions(n int) []string {
	switch n {
	case 2:
		return []string{"Yes", "No"}
	case 3:
		return []string{"Yes", "No", "Abstain"}
	}

	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("Option %d", i+1)
	}
	return labels
}

// MetadataURI decodes the creation event's metadata bytes into the pinned
// document's URI.
func MetadataURI(created *models.ProposalCreated) string {
	if created == nil {
		return ""
	}
	return strings.TrimSpace(strings.Trim(string(created.Metadata), "\x00"))
}

// Input builds the resolver input for p.
func Input(p *models.Proposal, totalVotingPower *big.Int) StatusInput {
	return StatusInput{
		Tally:                  p.Tally,
		NumOptions:             p.NumOptions,
		MinVotingPowerFraction: p.Parameters.MinVotingPower,
		TotalVotingPower:       totalVotingPower,
		Active:                 p.Active,
		Executed:               p.Executed,
		IsTallied:              p.IsTallied,
		HasActions:             len(p.Actions) > 0,
	}
}

func normalizeTally(values []*big.Int) []*big.Int {
	if len(values) == 0 {
		return []*big.Int{new(big.Int), new(big.Int)}
	}

	tally := make([]*big.Int, len(values))
	for i := range values {
		if values[i] == nil {
			tally[i] = new(big.Int)
		} else {
			tally[i] = new(big.Int).Set(values[i])
		}
	}
	return tally
}

func copyBig(i *big.Int) *big.Int {
	if i == nil {
		return nil
	}
	return new(big.Int).Set(i)
}

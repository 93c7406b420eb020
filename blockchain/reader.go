package blockchain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"crisp-voting-client/logging"
	"crisp-voting-client/models"
)

var (
	ErrNoCreationEvent = errors.New("no proposal creation event")

	parsedPluginABI = mustParseABI(pluginABI)
	parsedVotesABI  = mustParseABI(votesABI)
)

// Backend is the part of an Ethereum client the reader needs. *ethclient.Client
// satisfies it.
type Backend interface {
	ethereum.ContractCaller
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Reader performs the view calls against the voting plugin and its voting
// token.
type Reader struct {
	*logging.Logging
	backend Backend
	plugin  common.Address
	token   common.Address
}

func NewReader(backend Backend, plugin, token common.Address) *Reader {
	return &Reader{
		Logging: logging.Module("blockchain"),
		backend: backend,
		plugin:  plugin,
		token:   token,
	}
}

// Dial connects to rpcURL and returns a reader over it. The caller closes the
// returned client.
func Dial(ctx context.Context, rpcURL string, plugin, token common.Address) (*Reader, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to connect to %s", rpcURL)
	}

	return NewReader(client, plugin, token), client, nil
}

// ProposalStruct is the plugin's getProposal result.
type ProposalStruct struct {
	Active          bool
	Executed        bool
	Parameters      models.ProposalParameters
	Tally           []*big.Int
	Actions         []models.Action
	AllowFailureMap *big.Int
	E3ID            *big.Int
}

type proposalOutput struct {
	Active     bool
	Executed   bool
	Parameters struct {
		StartDate      uint64
		EndDate        uint64
		SnapshotBlock  uint64
		MinVotingPower *big.Int
	}
	Tally           []*big.Int
	Actions         []actionOutput
	AllowFailureMap *big.Int
	E3Id            *big.Int
}

type actionOutput struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

type tallyOutput struct {
	Tally     []*big.Int
	IsTallied bool
}

type proposalCreatedOutput struct {
	StartDate       uint64
	EndDate         uint64
	Metadata        []byte
	Actions         []actionOutput
	AllowFailureMap *big.Int
}

func (r *Reader) GetProposal(ctx context.Context, proposalID *big.Int) (*ProposalStruct, error) {
	var out proposalOutput
	if err := r.call(ctx, parsedPluginABI, r.plugin, &out, "getProposal", proposalID); err != nil {
		return nil, err
	}

	return &ProposalStruct{
		Active:   out.Active,
		Executed: out.Executed,
		Parameters: models.ProposalParameters{
			StartDate:      out.Parameters.StartDate,
			EndDate:        out.Parameters.EndDate,
			SnapshotBlock:  out.Parameters.SnapshotBlock,
			MinVotingPower: out.Parameters.MinVotingPower,
		},
		Tally:           out.Tally,
		Actions:         convertActions(out.Actions),
		AllowFailureMap: out.AllowFailureMap,
		E3ID:            out.E3Id,
	}, nil
}

// GetTally returns the per-option tally and whether the round has been
// decrypted and published.
func (r *Reader) GetTally(ctx context.Context, proposalID *big.Int) ([]*big.Int, bool, error) {
	var out tallyOutput
	if err := r.call(ctx, parsedPluginABI, r.plugin, &out, "getTally", proposalID); err != nil {
		return nil, false, err
	}
	return out.Tally, out.IsTallied, nil
}

func (r *Reader) CanExecute(ctx context.Context, proposalID *big.Int) (bool, error) {
	var ok bool
	if err := r.call(ctx, parsedPluginABI, r.plugin, &ok, "canExecute", proposalID); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *Reader) CanVote(ctx context.Context, proposalID *big.Int, voter common.Address, option uint8) (bool, error) {
	var ok bool
	if err := r.call(ctx, parsedPluginABI, r.plugin, &ok, "canVote", proposalID, voter, option); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *Reader) MinProposerVotingPower(ctx context.Context) (*big.Int, error) {
	out := new(big.Int)
	if err := r.call(ctx, parsedPluginABI, r.plugin, &out, "minProposerVotingPower"); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPastVotes is the account's voting power at block.
func (r *Reader) GetPastVotes(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	out := new(big.Int)
	if err := r.call(ctx, parsedVotesABI, r.token, &out, "getPastVotes", account, block); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPastTotalSupply is the total voting power at block.
func (r *Reader) GetPastTotalSupply(ctx context.Context, block *big.Int) (*big.Int, error) {
	out := new(big.Int)
	if err := r.call(ctx, parsedVotesABI, r.token, &out, "getPastTotalSupply", block); err != nil {
		return nil, err
	}
	return out, nil
}

// GetProposalCreated finds the creation event of proposalID between the
// snapshot block and toBlock.
func (r *Reader) GetProposalCreated(ctx context.Context, proposalID *big.Int, fromBlock, toBlock uint64) (*models.ProposalCreated, error) {
	event := parsedPluginABI.Events["ProposalCreated"]

	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{r.plugin},
		Topics: [][]common.Hash{
			{event.ID},
			{common.BigToHash(proposalID)},
		},
	}
	if toBlock > fromBlock {
		q.ToBlock = new(big.Int).SetUint64(toBlock)
	}

	logs, err := r.backend.FilterLogs(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "failed to filter creation logs")
	}
	if len(logs) == 0 {
		return nil, ErrNoCreationEvent
	}

	l := logs[0]

	var out proposalCreatedOutput
	if err := parsedPluginABI.UnpackIntoInterface(&out, "ProposalCreated", l.Data); err != nil {
		return nil, errors.Wrap(err, "failed to decode creation event")
	}

	created := &models.ProposalCreated{
		ProposalID:      proposalID,
		StartDate:       out.StartDate,
		EndDate:         out.EndDate,
		Metadata:        out.Metadata,
		Actions:         convertActions(out.Actions),
		AllowFailureMap: out.AllowFailureMap,
	}
	if len(l.Topics) > 2 {
		created.Creator = common.BytesToAddress(l.Topics[2].Bytes())
	}

	return created, nil
}

func (r *Reader) call(ctx context.Context, contract abi.ABI, to common.Address, dest interface{}, method string, args ...interface{}) error {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return errors.Wrapf(err, "failed to pack %s", method)
	}

	output, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to call %s", method)
	}

	if err := contract.UnpackIntoInterface(dest, method, output); err != nil {
		return errors.Wrapf(err, "failed to unpack %s", method)
	}

	r.Log().Trace().Str("method", method).Stringer("contract", to).Msg("contract read")

	return nil
}

func convertActions(in []actionOutput) []models.Action {
	actions := make([]models.Action, len(in))
	for i := range in {
		actions[i] = models.Action{
			To:    in[i].To,
			Value: in[i].Value,
			Data:  in[i].Data,
		}
	}
	return actions
}

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

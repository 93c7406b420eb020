package encryption

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"os/exec"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"crisp-voting-client/models"
)

// ProofRequest is everything the proving SDK needs to encrypt a ballot under
// the committee key and prove it valid and eligible.
type ProofRequest struct {
	Ballot       *models.Ballot
	Balance      *big.Int
	PublicKey    []byte
	Signature    []byte
	MessageHash  common.Hash
	MerkleLeaves []*big.Int
	// LeafIndex is the caller's position in MerkleLeaves when known, else -1.
	LeafIndex int
}

// Proof is the prover output. EncodedProof is what the tally server accepts;
// the remaining fields feed the legacy broadcast format.
type Proof struct {
	EncodedProof  string
	EncryptedVote []byte
	RawProof      []byte
	PublicInputs  []string
}

// Prover is the cryptographic SDK capability: ballot encryption plus
// Merkle-inclusion and ballot-validity proofs.
type Prover interface {
	GenerateVoteProof(ctx context.Context, req *ProofRequest) (*Proof, error)
	GenerateMaskVoteProof(ctx context.Context, req *ProofRequest) (*Proof, error)
}

// ExecProver runs the SDK as a subprocess. The request is written to stdin as
// JSON and the proof is read from stdout.
type ExecProver struct {
	Command string
	Args    []string
}

func NewExecProver(command string, args ...string) *ExecProver {
	return &ExecProver{Command: command, Args: args}
}

type execProofRequest struct {
	Kind         string           `json:"kind"`
	Vote         []string         `json:"vote"`
	SlotAddress  common.Address   `json:"slot_address"`
	Balance      string           `json:"balance"`
	PublicKey    models.ByteArray `json:"public_key"`
	Signature    hexutil.Bytes    `json:"signature"`
	MessageHash  common.Hash      `json:"message_hash"`
	MerkleLeaves []string         `json:"merkle_leaves"`
	LeafIndex    int              `json:"leaf_index"`
}

type execProofResponse struct {
	EncodedProof  string           `json:"encoded_proof"`
	EncryptedVote models.ByteArray `json:"enc_vote_bytes"`
	Proof         models.ByteArray `json:"proof"`
	PublicInputs  []string         `json:"public_inputs"`
	Error         string           `json:"error"`
}

func (p *ExecProver) GenerateVoteProof(ctx context.Context, req *ProofRequest) (*Proof, error) {
	return p.run(ctx, "vote", req)
}

func (p *ExecProver) GenerateMaskVoteProof(ctx context.Context, req *ProofRequest) (*Proof, error) {
	return p.run(ctx, "mask", req)
}

func (p *ExecProver) run(ctx context.Context, kind string, req *ProofRequest) (*Proof, error) {
	if p.Command == "" {
		return nil, errors.New("prover command not configured")
	}

	input, err := json.Marshal(newExecProofRequest(kind, req))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal proof request")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, errors.Wrapf(err, "prover failed: %s", msg)
		}
		return nil, errors.Wrap(err, "prover failed")
	}

	var res execProofResponse
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return nil, errors.Wrap(err, "failed to decode prover output")
	}

	if res.Error != "" {
		return nil, errors.Errorf("prover error: %s", res.Error)
	}
	if res.EncodedProof == "" && len(res.Proof) == 0 {
		return nil, errors.New("prover returned no proof")
	}

	return &Proof{
		EncodedProof:  res.EncodedProof,
		EncryptedVote: res.EncryptedVote,
		RawProof:      res.Proof,
		PublicInputs:  res.PublicInputs,
	}, nil
}

func newExecProofRequest(kind string, req *ProofRequest) execProofRequest {
	out := execProofRequest{
		Kind:        kind,
		PublicKey:   req.PublicKey,
		Signature:   req.Signature,
		MessageHash: req.MessageHash,
		LeafIndex:   req.LeafIndex,
	}

	if req.Balance != nil {
		out.Balance = req.Balance.String()
	}

	if req.Ballot != nil {
		out.SlotAddress = req.Ballot.Slot
		out.Vote = make([]string, len(req.Ballot.Votes))
		for i := range req.Ballot.Votes {
			out.Vote[i] = req.Ballot.Votes[i].String()
		}
	}

	out.MerkleLeaves = make([]string, len(req.MerkleLeaves))
	for i := range req.MerkleLeaves {
		out.MerkleLeaves[i] = hexutil.EncodeBig(req.MerkleLeaves[i])
	}

	return out
}

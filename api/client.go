// File: api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"crisp-voting-client/logging"
	"crisp-voting-client/models"
)

const (
	roundStatePath     = "/state/lite"
	tokenHoldersPath   = "/state/token-holders"
	eligibleVotersPath = "/state/eligible-addresses"
	broadcastPath      = "/voting/broadcast"

	DefaultTimeout = 60 * time.Second

	// maxErrorBody bounds how much of a failed response ends up in errors.
	maxErrorBody = 512
)

// Client reads round state from the CRISP tally server and broadcasts proofs
// to it. Every call is a POST, reads included, and nothing is cached.
type Client struct {
	*logging.Logging
	baseURL    string
	httpClient *http.Client
}

type roundRequest struct {
	RoundID uint64 `json:"round_id"`
}

// BroadcastRequest is the body of /voting/broadcast. The legacy fields are
// only sent when set.
type BroadcastRequest struct {
	RoundID      uint64           `json:"round_id"`
	EncodedProof string           `json:"encoded_proof,omitempty"`
	Address      common.Address   `json:"address"`
	EncVoteBytes models.ByteArray `json:"enc_vote_bytes,omitempty"`
	Proof        models.ByteArray `json:"proof,omitempty"`
	PublicInputs []string         `json:"public_inputs,omitempty"`
	ProofSem     models.ByteArray `json:"proof_sem,omitempty"`
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	return &Client{
		Logging:    logging.Module("api"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetRoundState fetches the round's status, committee key and voting
// parameters.
func (c *Client) GetRoundState(ctx context.Context, roundID uint64) (*models.Round, error) {
	var round models.Round
	if err := c.post(ctx, ErrRoundFetch, roundStatePath, roundRequest{RoundID: roundID}, &round); err != nil {
		return nil, err
	}
	round.ID = roundID

	c.Log().Debug().
		Uint64("round", roundID).
		Str("status", string(round.Status)).
		Int("num_options", int(round.NumOptions)).
		Stringer("credit_mode", round.CreditMode).
		Msg("round state fetched")

	return &round, nil
}

// GetTokenHolderHashes fetches the Merkle leaves of the eligible token
// holders.
func (c *Client) GetTokenHolderHashes(ctx context.Context, roundID uint64) ([]*big.Int, error) {
	var raw []string
	if err := c.post(ctx, ErrTokenHoldersFetch, tokenHoldersPath, roundRequest{RoundID: roundID}, &raw); err != nil {
		return nil, err
	}

	leaves := make([]*big.Int, len(raw))
	for i, s := range raw {
		leaf, err := parseHexLeaf(s)
		if err != nil {
			return nil, &RequestError{Kind: ErrTokenHoldersFetch, Endpoint: tokenHoldersPath, Err: err}
		}
		leaves[i] = leaf
	}

	c.Log().Debug().Uint64("round", roundID).Int("leaves", len(leaves)).Msg("token holders fetched")

	return leaves, nil
}

// GetEligibleVoters fetches the addresses that hold a slot in the round, the
// candidates for masking votes.
func (c *Client) GetEligibleVoters(ctx context.Context, roundID uint64) ([]models.EligibleVoter, error) {
	var voters []models.EligibleVoter
	if err := c.post(ctx, ErrEligibleVotersFetch, eligibleVotersPath, roundRequest{RoundID: roundID}, &voters); err != nil {
		return nil, err
	}

	c.Log().Debug().Uint64("round", roundID).Int("voters", len(voters)).Msg("eligible voters fetched")

	return voters, nil
}

// Broadcast hands a proven ballot to the tally server. Only 200 counts as
// accepted.
func (c *Client) Broadcast(ctx context.Context, req *BroadcastRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return &RequestError{Kind: ErrBroadcast, Endpoint: broadcastPath, Err: err}
	}

	resp, err := c.do(ctx, broadcastPath, body)
	if err != nil {
		return &RequestError{Kind: ErrBroadcast, Endpoint: broadcastPath, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &RequestError{
			Kind:       ErrBroadcast,
			Endpoint:   broadcastPath,
			StatusCode: resp.StatusCode,
			Body:       readErrorBody(resp.Body),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.Log().Info().
		Uint64("round", req.RoundID).
		Stringer("address", req.Address).
		Msg("vote broadcast accepted")

	return nil
}

func (c *Client) post(ctx context.Context, kind error, path string, payload, dest interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &RequestError{Kind: kind, Endpoint: path, Err: err}
	}

	resp, err := c.do(ctx, path, body)
	if err != nil {
		return &RequestError{Kind: kind, Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{
			Kind:       kind,
			Endpoint:   path,
			StatusCode: resp.StatusCode,
			Body:       readErrorBody(resp.Body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &RequestError{Kind: kind, Endpoint: path, Err: errors.Wrap(err, "invalid response body")}
	}

	return nil
}

func (c *Client) do(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "error creating http request")
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)

	c.Log().Trace().Func(func(e *zerolog.Event) {
		e.Str("path", path).Dur("elapsed", time.Since(started))
		if resp != nil {
			e.Int("status", resp.StatusCode)
		}
	}).Msg("tally server request")

	return resp, err
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}

func parseHexLeaf(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}

	leaf, ok := math.ParseBig256(s)
	if !ok {
		return nil, errors.Errorf("invalid leaf hash, %q", s)
	}
	return leaf, nil
}

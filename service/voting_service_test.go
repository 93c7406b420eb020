package service

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"

	"crisp-voting-client/api"
	"crisp-voting-client/encryption"
	"crisp-voting-client/models"
)

type fakeProver struct {
	mu       sync.Mutex
	requests []*encryption.ProofRequest
	masks    int
	proof    *encryption.Proof
	err      error
	block    chan struct{}
}

func (p *fakeProver) generate(ctx context.Context, req *encryption.ProofRequest, mask bool) (*encryption.Proof, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	if mask {
		p.masks++
	}
	block := p.block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return p.proof, p.err
}

func (p *fakeProver) GenerateVoteProof(ctx context.Context, req *encryption.ProofRequest) (*encryption.Proof, error) {
	return p.generate(ctx, req, false)
}

func (p *fakeProver) GenerateMaskVoteProof(ctx context.Context, req *encryption.ProofRequest) (*encryption.Proof, error) {
	return p.generate(ctx, req, true)
}

type fakePower struct {
	votes *big.Int
	err   error
	block *big.Int
}

func (p *fakePower) GetPastVotes(_ context.Context, _ common.Address, block *big.Int) (*big.Int, error) {
	p.block = block
	return p.votes, p.err
}

type rejectingWallet struct {
	address common.Address
}

func (w rejectingWallet) Address() (common.Address, bool) { return w.address, true }

func (rejectingWallet) SignMessage(context.Context, []byte) ([]byte, error) {
	return nil, errors.New("user rejected the request")
}

type memoryReceipts struct {
	receipts []models.Receipt
}

func (m *memoryReceipts) SaveReceipt(r models.Receipt) error {
	m.receipts = append(m.receipts, r)
	return nil
}

type testVoteWorkflow struct {
	suite.Suite
	mu        sync.Mutex
	calls     map[string]int
	bodies    map[string][]byte
	statuses  map[string]int
	round     string
	voters    string
	server    *httptest.Server
	client    *api.Client
	signer    *encryption.KeySigner
	address   common.Address
	prover    *fakeProver
	power     *fakePower
	receipts  *memoryReceipts
	workflow  *VoteWorkflow
	events    chan StepEvent
	unsubFunc func()
}

func (t *testVoteWorkflow) SetupTest() {
	t.calls = map[string]int{}
	t.bodies = map[string][]byte{}
	t.statuses = map[string]int{}
	t.round = `{
		"status": "Active",
		"committee_public_key": [1, 2, 3],
		"start_block": "101",
		"num_options": "2",
		"credit_mode": 1,
		"credits": "0"
	}`

	key, err := crypto.GenerateKey()
	t.Require().NoError(err)
	t.signer = encryption.NewKeySigner(key)
	t.address = crypto.PubkeyToAddress(key.PublicKey)

	t.voters = `[{"address": "` + t.address.Hex() + `", "balance": "9"}]`

	t.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		t.mu.Lock()
		t.calls[r.URL.Path]++
		t.bodies[r.URL.Path] = body
		status, found := t.statuses[r.URL.Path]
		t.mu.Unlock()

		if !found {
			status = http.StatusOK
		}
		w.WriteHeader(status)

		switch r.URL.Path {
		case "/state/lite":
			_, _ = io.WriteString(w, t.round)
		case "/state/token-holders":
			_, _ = io.WriteString(w, `["0x01", "0x02"]`)
		case "/state/eligible-addresses":
			_, _ = io.WriteString(w, t.voters)
		case "/voting/broadcast":
			_, _ = io.WriteString(w, `{}`)
		}
	}))

	t.client = api.NewClient(t.server.URL, t.server.Client())
	t.prover = &fakeProver{proof: &encryption.Proof{EncodedProof: "0xfeed"}}
	t.power = &fakePower{votes: big.NewInt(42)}
	t.receipts = &memoryReceipts{}

	t.workflow = NewVoteWorkflow(t.signer, t.client, t.power, t.prover, t.client).
		SetReceiptStore(t.receipts)

	t.events = make(chan StepEvent, 32)
	sub := t.workflow.Subscribe(t.events)
	t.unsubFunc = sub.Unsubscribe
}

func (t *testVoteWorkflow) TearDownTest() {
	t.unsubFunc()
	t.server.Close()
}

func (t *testVoteWorkflow) setStatus(path string, status int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.statuses[path] = status
}

func (t *testVoteWorkflow) sentBody(path string) map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	var body map[string]interface{}
	t.NoError(json.Unmarshal(t.bodies[path], &body))
	return body
}

func (t *testVoteWorkflow) callCount(path string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.calls[path]
}

func (t *testVoteWorkflow) steps() []models.VotingStep {
	var steps []models.VotingStep
	for {
		select {
		case ev := <-t.events:
			steps = append(steps, ev.Step)
		default:
			return steps
		}
	}
}

func (t *testVoteWorkflow) TestVote() {
	receipt, err := t.workflow.Submit(context.Background(), 7, models.VoteChoice{Option: 1})
	t.NoError(err)
	t.NotNil(receipt)

	state := t.workflow.State()
	t.Equal(models.StepComplete, state.Step)
	t.Equal(models.StepBroadcasting, state.LastActiveStep)
	t.False(state.Loading)
	t.NoError(state.Err)

	t.Equal([]models.VotingStep{
		models.StepSigning,
		models.StepGeneratingProof,
		models.StepBroadcasting,
		models.StepComplete,
	}, t.steps())

	t.Len(t.prover.requests, 1)
	req := t.prover.requests[0]
	t.Equal(int64(0), req.Ballot.Votes[0].Int64())
	t.Equal(int64(42), req.Ballot.Votes[1].Int64())
	t.Equal(t.address.Hex(), req.Ballot.Slot.Hex())
	t.Equal([]byte{1, 2, 3}, req.PublicKey)
	t.Len(req.MerkleLeaves, 2)
	t.Equal(-1, req.LeafIndex)
	t.Equal(int64(100), t.power.block.Int64())

	signer, err := encryption.RecoverSigner(SignatureMessage(7), req.Signature)
	t.NoError(err)
	t.Equal(t.address.Hex(), signer.Hex())

	body := t.sentBody("/voting/broadcast")
	t.Equal(float64(7), body["round_id"])
	t.Equal("0xfeed", body["encoded_proof"])
	t.Equal(strings.ToLower(t.address.Hex()), body["address"])

	t.Equal(1, t.callCount("/voting/broadcast"))
	t.Equal(0, t.callCount("/state/eligible-addresses"))

	t.Equal(uint64(7), receipt.RoundID)
	t.Equal(1, receipt.Option)
	t.False(receipt.Mask)
	t.Len(t.receipts.receipts, 1)
	t.Equal(receipt.ID, t.receipts.receipts[0].ID)

	timings := t.workflow.Timings()
	t.Len(timings, 3)
	t.Equal(models.StepSigning, timings[0].Step)
	for _, m := range timings {
		t.False(m.EndTime.IsZero())
	}
}

func (t *testVoteWorkflow) TestConstantCredits() {
	t.round = `{"status": "Active", "committee_public_key": [1], "start_block": "5",
		"num_options": "3", "credit_mode": "Constant", "credits": "10"}`

	_, err := t.workflow.Submit(context.Background(), 1, models.VoteChoice{Option: 2})
	t.NoError(err)

	req := t.prover.requests[0]
	t.Len(req.Ballot.Votes, 3)
	t.Equal(int64(10), req.Ballot.Votes[2].Int64())
	t.Nil(t.power.block)
}

func (t *testVoteWorkflow) TestMissingCreditMode() {
	t.round = `{"status": "Active", "committee_public_key": [1, 2, 3], "start_block": "101",
		"num_options": "2"}`

	_, err := t.workflow.Submit(context.Background(), 7, models.VoteChoice{Option: 0})
	t.NoError(err)

	t.NotNil(t.power.block)
	t.Equal(int64(100), t.power.block.Int64())

	req := t.prover.requests[0]
	t.Equal(int64(42), req.Ballot.Votes[0].Int64())
	t.Equal(int64(0), req.Ballot.Votes[1].Int64())
	t.Equal(int64(42), req.Ballot.Weight.Int64())
	t.Equal(int64(42), req.Balance.Int64())
}

func (t *testVoteWorkflow) TestConstantWithoutCredits() {
	t.round = `{"status": "Active", "committee_public_key": [1], "start_block": "5",
		"num_options": "2", "credit_mode": "Constant"}`

	for _, choice := range []models.Choice{models.VoteChoice{Option: 0}, models.MaskChoice{}} {
		_, err := t.workflow.Submit(context.Background(), 7, choice)
		t.True(errors.Is(err, ErrNoCredits))

		var serr *SubmitError
		t.True(errors.As(err, &serr))
		t.Equal(models.StepSigning, serr.Step)
		t.Equal(models.StepSigning, t.workflow.State().LastActiveStep)
	}

	t.Empty(t.prover.requests)
	t.Nil(t.power.block)
	t.Equal(0, t.callCount("/voting/broadcast"))
}

func (t *testVoteWorkflow) TestRoundNotReady() {
	rounds := []string{
		`{"status": "Pending", "committee_public_key": [1], "num_options": "2", "credit_mode": 1}`,
		`{"status": "Finished", "committee_public_key": [1], "num_options": "2", "credit_mode": 1}`,
		`{"status": "Active", "committee_public_key": [], "num_options": "2", "credit_mode": 1}`,
	}

	for _, round := range rounds {
		t.round = round

		_, err := t.workflow.Submit(context.Background(), 7, models.VoteChoice{Option: 0})
		t.True(errors.Is(err, ErrRoundNotReady), round)

		var serr *SubmitError
		t.True(errors.As(err, &serr))
		t.Equal(models.StepSigning, serr.Step)
	}

	t.Empty(t.prover.requests)
	t.Equal(0, t.callCount("/voting/broadcast"))
}

func (t *testVoteWorkflow) TestLeafIndexFound() {
	t.round = `{"status": "Active", "committee_public_key": [1], "start_block": "5",
		"num_options": "2", "credit_mode": 1}`

	leaf := encryption.HashLeaf(t.address, big.NewInt(42))

	workflow := NewVoteWorkflow(t.signer, &staticRounds{
		RoundSource: t.client,
		leaves:      []*big.Int{big.NewInt(1), leaf},
	}, t.power, t.prover, t.client)

	_, err := workflow.Submit(context.Background(), 1, models.VoteChoice{Option: 0})
	t.NoError(err)
	t.Equal(1, t.prover.requests[0].LeafIndex)
}

func (t *testVoteWorkflow) TestMask() {
	receipt, err := t.workflow.Submit(context.Background(), 3, models.MaskChoice{})
	t.NoError(err)
	t.True(receipt.Mask)
	t.Equal(-1, receipt.Option)

	t.Equal(1, t.prover.masks)
	req := t.prover.requests[0]
	t.True(req.Ballot.IsZero())
	t.Len(req.Ballot.Votes, 2)
	t.Equal(t.address.Hex(), req.Ballot.Slot.Hex())
	t.Equal(int64(9), req.Ballot.Weight.Int64())
	t.Equal(1, t.callCount("/state/eligible-addresses"))
	t.Nil(t.power.block)
}

func (t *testVoteWorkflow) TestMaskNoEligibleVoters() {
	t.voters = `[]`

	_, err := t.workflow.Submit(context.Background(), 3, models.MaskChoice{})
	t.True(errors.Is(err, ErrNoEligibleVoters))
	t.Equal(0, t.callCount("/voting/broadcast"))
	t.Equal(models.StepSigning, t.workflow.State().LastActiveStep)
}

func (t *testVoteWorkflow) TestMaskEligibleVotersFail() {
	t.setStatus("/state/eligible-addresses", http.StatusInternalServerError)

	_, err := t.workflow.Submit(context.Background(), 3, models.MaskChoice{})
	t.True(errors.Is(err, ErrEligibleVotersFetch))
}

func (t *testVoteWorkflow) TestRoundFetchFails() {
	t.setStatus("/state/lite", http.StatusInternalServerError)

	_, err := t.workflow.Submit(context.Background(), 7, models.VoteChoice{Option: 0})
	t.True(errors.Is(err, ErrRoundFetch))

	var serr *SubmitError
	t.True(errors.As(err, &serr))
	t.Equal(models.StepSigning, serr.Step)

	state := t.workflow.State()
	t.Equal(models.StepError, state.Step)
	t.Equal(models.StepSigning, state.LastActiveStep)
	t.False(state.Loading)
	t.Contains(state.Message, "status 500")
	t.True(errors.Is(state.Err, ErrRoundFetch))

	t.Equal(0, t.callCount("/voting/broadcast"))
	t.Empty(t.prover.requests)
	t.Empty(t.receipts.receipts)
}

func (t *testVoteWorkflow) TestTokenHoldersFail() {
	t.setStatus("/state/token-holders", http.StatusBadGateway)

	_, err := t.workflow.Submit(context.Background(), 7, models.VoteChoice{Option: 0})
	t.True(errors.Is(err, ErrTokenHoldersFetch))
	t.Equal(0, t.callCount("/voting/broadcast"))
}

func (t *testVoteWorkflow) TestBroadcastRejected() {
	t.setStatus("/voting/broadcast", http.StatusBadRequest)

	_, err := t.workflow.Submit(context.Background(), 7, models.VoteChoice{Option: 0})
	t.True(errors.Is(err, ErrBroadcast))

	t.Equal([]models.VotingStep{
		models.StepSigning,
		models.StepGeneratingProof,
		models.StepBroadcasting,
		models.StepError,
	}, t.steps())

	state := t.workflow.State()
	t.Equal(models.StepError, state.Step)
	t.Equal(models.StepBroadcasting, state.LastActiveStep)
	t.Len(t.prover.requests, 1)
	t.Empty(t.receipts.receipts)

	// a retry runs the whole flow again
	t.setStatus("/voting/broadcast", http.StatusOK)
	_, err = t.workflow.Submit(context.Background(), 7, models.VoteChoice{Option: 0})
	t.NoError(err)
	t.Len(t.prover.requests, 2)
	t.Equal(2, t.callCount("/voting/broadcast"))
}

func (t *testVoteWorkflow) TestLegacyBroadcast() {
	t.prover.proof = &encryption.Proof{
		EncryptedVote: []byte{5, 6},
		RawProof:      []byte{7},
		PublicInputs:  []string{"0x01"},
	}

	_, err := t.workflow.Submit(context.Background(), 7, models.VoteChoice{Option: 0})
	t.NoError(err)

	body := t.sentBody("/voting/broadcast")
	t.NotContains(body, "encoded_proof")
	t.Equal([]interface{}{float64(5), float64(6)}, body["enc_vote_bytes"])
}

func (t *testVoteWorkflow) TestNoWallet() {
	workflow := NewVoteWorkflow(nil, t.client, t.power, t.prover, t.client)

	_, err := workflow.Submit(context.Background(), 7, models.VoteChoice{Option: 0})
	t.True(errors.Is(err, ErrNoWallet))

	state := workflow.State()
	t.Equal(models.StepError, state.Step)
	t.Equal(models.StepIdle, state.LastActiveStep)
	t.Equal(0, t.callCount("/state/lite"))

	var nilSigner *encryption.KeySigner
	workflow = NewVoteWorkflow(nilSigner, t.client, t.power, t.prover, t.client)
	_, err = workflow.Submit(context.Background(), 7, models.VoteChoice{Option: 0})
	t.True(errors.Is(err, ErrNoWallet))
}

func (t *testVoteWorkflow) TestSignatureRejected() {
	workflow := NewVoteWorkflow(rejectingWallet{address: common.HexToAddress("0x01")}, t.client, t.power, t.prover, t.client)

	_, err := workflow.Submit(context.Background(), 7, models.VoteChoice{Option: 0})
	t.True(errors.Is(err, ErrSignatureRejected))
	t.Contains(err.Error(), "user rejected")

	state := workflow.State()
	t.Equal(models.StepError, state.Step)
	t.Equal(models.StepSigning, state.LastActiveStep)
	t.Equal(0, t.callCount("/state/lite"))
}

func (t *testVoteWorkflow) TestInvalidOption() {
	_, err := t.workflow.Submit(context.Background(), 7, models.VoteChoice{Option: 2})
	t.True(errors.Is(err, ErrInvalidOption))
	t.Empty(t.prover.requests)

	_, err = t.workflow.Submit(context.Background(), 7, models.VoteChoice{Option: -1})
	t.True(errors.Is(err, ErrInvalidOption))

	_, err = t.workflow.Submit(context.Background(), 7, nil)
	t.True(errors.Is(err, ErrInvalidOption))

	var vote *models.VoteChoice
	_, err = t.workflow.Submit(context.Background(), 7, vote)
	t.True(errors.Is(err, ErrInvalidOption))
	t.False(t.workflow.State().Loading)

	var mask *models.MaskChoice
	_, err = t.workflow.Submit(context.Background(), 7, mask)
	t.True(errors.Is(err, ErrInvalidOption))
	t.Equal(models.StepError, t.workflow.State().Step)

	_, err = t.workflow.Submit(context.Background(), 7, &models.VoteChoice{Option: 1})
	t.NoError(err)
}

func (t *testVoteWorkflow) TestVotingPowerFails() {
	t.power.err = errors.New("header not found")

	_, err := t.workflow.Submit(context.Background(), 7, models.VoteChoice{Option: 0})
	t.True(errors.Is(err, ErrVotingPowerFetch))
	t.Contains(err.Error(), "header not found")
}

func (t *testVoteWorkflow) TestProofFails() {
	t.prover.err = errors.New("circuit mismatch")

	_, err := t.workflow.Submit(context.Background(), 7, models.VoteChoice{Option: 0})
	t.True(errors.Is(err, ErrProofGeneration))
	t.Equal(models.StepGeneratingProof, t.workflow.State().LastActiveStep)
	t.Equal(0, t.callCount("/voting/broadcast"))
}

func (t *testVoteWorkflow) TestAcknowledge() {
	_, err := t.workflow.Submit(context.Background(), 7, models.VoteChoice{Option: 0})
	t.NoError(err)

	t.True(t.workflow.Acknowledge())

	state := t.workflow.State()
	t.Equal(models.StepIdle, state.Step)
	t.Equal(models.StepIdle, state.LastActiveStep)
	t.Equal("", state.Message)
}

func (t *testVoteWorkflow) TestAbandon() {
	t.prover.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := t.workflow.Submit(context.Background(), 7, models.VoteChoice{Option: 0})
		done <- err
	}()

	t.Eventually(func() bool {
		return t.workflow.State().Step == models.StepGeneratingProof
	}, time.Second*5, time.Millisecond*10)
	t.False(t.workflow.Acknowledge())

	t.workflow.Abandon()

	select {
	case err := <-done:
		t.Error(err)
	case <-time.After(time.Second * 5):
		t.Fail("submission did not stop")
	}

	state := t.workflow.State()
	t.Equal(models.StepIdle, state.Step)
	t.Equal("", state.AttemptID)
	t.Equal(0, t.callCount("/voting/broadcast"))
	t.Empty(t.receipts.receipts)
}

func (t *testVoteWorkflow) TestAcceptedThenAbandoned() {
	broadcaster := &abandoningBroadcaster{Broadcaster: t.client}
	workflow := NewVoteWorkflow(t.signer, t.client, t.power, t.prover, broadcaster).
		SetReceiptStore(t.receipts)
	broadcaster.workflow = workflow

	receipt, err := workflow.Submit(context.Background(), 7, models.VoteChoice{Option: 1})
	t.True(errors.Is(err, ErrAbandoned))
	t.Require().NotNil(receipt)
	t.Equal(uint64(7), receipt.RoundID)
	t.True(receipt.Elapsed > 0)

	t.Equal(1, t.callCount("/voting/broadcast"))
	t.Len(t.receipts.receipts, 1)
	t.Equal(receipt.ID, t.receipts.receipts[0].ID)

	state := workflow.State()
	t.Equal(models.StepIdle, state.Step)
	t.Equal("", state.AttemptID)
}

func (t *testVoteWorkflow) TestElapsedSurvivesReset() {
	ch := make(chan StepEvent)
	sub := t.workflow.Subscribe(ch)
	defer sub.Unsubscribe()

	reset := make(chan struct{})
	go func() {
		defer close(reset)

		for ev := range ch {
			if ev.Step.IsTerminal() {
				t.workflow.metrics.Reset()
				return
			}
		}
	}()

	receipt, err := t.workflow.Submit(context.Background(), 7, models.VoteChoice{Option: 0})
	t.NoError(err)
	<-reset

	t.True(receipt.Elapsed > 0)
	t.Equal(receipt.Elapsed, t.receipts.receipts[0].Elapsed)
}

func (t *testVoteWorkflow) TestCanceled() {
	t.prover.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(time.Millisecond * 50)
		cancel()
	}()

	_, err := t.workflow.Submit(ctx, 7, models.VoteChoice{Option: 0})
	t.True(errors.Is(err, context.Canceled))
	t.Equal(models.StepError, t.workflow.State().Step)
}

func TestVoteWorkflow(t *testing.T) {
	suite.Run(t, new(testVoteWorkflow))
}

type staticRounds struct {
	RoundSource
	leaves []*big.Int
}

func (s *staticRounds) GetTokenHolderHashes(context.Context, uint64) ([]*big.Int, error) {
	return s.leaves, nil
}

// abandoningBroadcaster lets the server accept the ballot, then abandons the
// attempt before the workflow records the outcome.
type abandoningBroadcaster struct {
	Broadcaster
	workflow *VoteWorkflow
}

func (b *abandoningBroadcaster) Broadcast(ctx context.Context, req *api.BroadcastRequest) error {
	if err := b.Broadcaster.Broadcast(ctx, req); err != nil {
		return err
	}

	b.workflow.Abandon()

	return nil
}

package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"crisp-voting-client/api"
	"crisp-voting-client/encryption"
	"crisp-voting-client/logging"
	"crisp-voting-client/models"
)

// Wallet signs on behalf of the voter. *encryption.KeySigner is one.
type Wallet interface {
	Address() (common.Address, bool)
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
}

// RoundSource reads round state from the tally server. *api.Client is one.
type RoundSource interface {
	GetRoundState(ctx context.Context, roundID uint64) (*models.Round, error)
	GetTokenHolderHashes(ctx context.Context, roundID uint64) ([]*big.Int, error)
	GetEligibleVoters(ctx context.Context, roundID uint64) ([]models.EligibleVoter, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, req *api.BroadcastRequest) error
}

// VotingPowerReader reads the voting token's checkpoints.
type VotingPowerReader interface {
	GetPastVotes(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error)
}

type ReceiptStore interface {
	SaveReceipt(models.Receipt) error
}

// State is what an observer of the workflow sees.
type State struct {
	AttemptID      string            `json:"attempt_id,omitempty"`
	RoundID        uint64            `json:"round_id"`
	Step           models.VotingStep `json:"step"`
	LastActiveStep models.VotingStep `json:"last_active_step"`
	Loading        bool              `json:"loading"`
	Message        string            `json:"message,omitempty"`
	Err            error             `json:"-"`
}

type StepEvent struct {
	AttemptID string
	RoundID   uint64
	Step      models.VotingStep
	Message   string
	At        time.Time
}

// SignatureMessage is the personal message a voter signs for roundID.
func SignatureMessage(roundID uint64) []byte {
	return []byte(fmt.Sprintf("Vote for round %d", roundID))
}

// VoteWorkflow drives one vote or mask submission at a time: sign, fetch the
// round, build the ballot, prove it and broadcast it. Progress is kept in
// State and published to subscribers.
type VoteWorkflow struct {
	*logging.Logging
	wallet      Wallet
	rounds      RoundSource
	power       VotingPowerReader
	prover      encryption.Prover
	broadcaster Broadcaster
	receipts    ReceiptStore
	selector    *MaskSelector
	metrics     *MetricsCollector
	feed        event.Feed

	mu     sync.RWMutex
	state  State
	cancel context.CancelFunc
}

func NewVoteWorkflow(
	wallet Wallet,
	rounds RoundSource,
	power VotingPowerReader,
	prover encryption.Prover,
	broadcaster Broadcaster,
) *VoteWorkflow {
	return &VoteWorkflow{
		Logging:     logging.Module("vote-workflow"),
		wallet:      wallet,
		rounds:      rounds,
		power:       power,
		prover:      prover,
		broadcaster: broadcaster,
		selector:    NewMaskSelector(nil),
		metrics:     NewMetricsCollector(),
		state:       State{Step: models.StepIdle, LastActiveStep: models.StepIdle},
	}
}

func (w *VoteWorkflow) SetReceiptStore(store ReceiptStore) *VoteWorkflow {
	w.receipts = store
	return w
}

func (w *VoteWorkflow) SetMaskSelector(selector *MaskSelector) *VoteWorkflow {
	w.selector = selector
	return w
}

func (w *VoteWorkflow) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.state
}

// Subscribe delivers every step change to ch. Sends block until ch accepts,
// so ch should be buffered or drained continuously.
func (w *VoteWorkflow) Subscribe(ch chan<- StepEvent) event.Subscription {
	return w.feed.Subscribe(ch)
}

// Timings returns the per-step durations of the latest attempt.
func (w *VoteWorkflow) Timings() []StepMetrics {
	return w.metrics.GetMetrics()
}

// Acknowledge resets a finished attempt to idle. It returns false while an
// attempt is still running.
func (w *VoteWorkflow) Acknowledge() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state.Loading {
		return false
	}

	w.state = State{Step: models.StepIdle, LastActiveStep: models.StepIdle}
	return true
}

// Abandon drops the running attempt. Its context is canceled and any update it
// still makes is ignored.
func (w *VoteWorkflow) Abandon() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.state = State{Step: models.StepIdle, LastActiveStep: models.StepIdle}
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Submit casts choice in roundID. Any failure ends the attempt in the error
// step; nothing is retried. When the ballot was accepted but the attempt was
// abandoned meanwhile, the receipt is still saved and returned along with
// ErrAbandoned.
func (w *VoteWorkflow) Submit(ctx context.Context, roundID uint64, choice models.Choice) (*models.Receipt, error) {
	started := time.Now()
	attempt, actx := w.begin(ctx, roundID)

	receipt, err := w.run(actx, attempt, roundID, choice)

	current, elapsed := w.finish(attempt, err)
	switch {
	case err != nil:
		return nil, err
	case !current:
		receipt.Elapsed = time.Since(started)
		w.saveReceipt(*receipt)

		return receipt, newSubmitError(models.StepBroadcasting, ErrAbandoned,
			errors.Errorf("ballot %s was accepted before the attempt was abandoned", receipt.ID))
	}

	receipt.Elapsed = elapsed
	w.saveReceipt(*receipt)

	return receipt, nil
}

func (w *VoteWorkflow) begin(ctx context.Context, roundID uint64) (string, context.Context) {
	actx, cancel := context.WithCancel(ctx)
	attempt := uuid.New().String()

	w.mu.Lock()
	previous := w.cancel
	w.cancel = cancel
	w.state = State{
		AttemptID:      attempt,
		RoundID:        roundID,
		Step:           models.StepIdle,
		LastActiveStep: models.StepIdle,
		Loading:        true,
	}
	w.metrics.Reset()
	w.mu.Unlock()

	if previous != nil {
		previous()
	}

	return attempt, actx
}

func (w *VoteWorkflow) transition(attempt string, step models.VotingStep) error {
	now := time.Now()

	w.mu.Lock()
	if w.state.AttemptID != attempt {
		w.mu.Unlock()
		return newSubmitError(step, ErrAbandoned, nil)
	}

	w.state.Step = step
	w.state.LastActiveStep = step
	w.state.Message = stepMessage(step)
	w.metrics.RecordStepStart(step, now)

	ev := StepEvent{AttemptID: attempt, RoundID: w.state.RoundID, Step: step, Message: w.state.Message, At: now}
	w.mu.Unlock()

	w.Log().Debug().Str("attempt", attempt).Str("step", string(step)).Msg("step")
	w.feed.Send(ev)

	return nil
}

// finish records the outcome and returns the attempt's elapsed time. It
// returns false when the attempt was abandoned or superseded.
func (w *VoteWorkflow) finish(attempt string, err error) (bool, time.Duration) {
	now := time.Now()

	w.mu.Lock()
	if w.state.AttemptID != attempt {
		w.mu.Unlock()
		return false, 0
	}

	w.metrics.RecordEnd(now)
	elapsed := w.metrics.Elapsed()
	w.state.Loading = false
	if err == nil {
		w.state.Step = models.StepComplete
		w.state.Message = stepMessage(models.StepComplete)
		w.state.Err = nil
	} else {
		w.state.Step = models.StepError
		w.state.Message = err.Error()
		w.state.Err = err
	}

	cancel := w.cancel
	w.cancel = nil
	state := w.state
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if err == nil {
		w.Log().Info().
			Uint64("round", state.RoundID).
			Str("attempt", attempt).
			Dur("elapsed", elapsed).
			Msg("vote submitted")
	} else {
		w.Log().Error().Err(err).
			Uint64("round", state.RoundID).
			Str("attempt", attempt).
			Str("last_active_step", string(state.LastActiveStep)).
			Msg("vote submission failed")
	}

	w.feed.Send(StepEvent{
		AttemptID: attempt,
		RoundID:   state.RoundID,
		Step:      state.Step,
		Message:   state.Message,
		At:        now,
	})

	return true, elapsed
}

func (w *VoteWorkflow) run(ctx context.Context, attempt string, roundID uint64, choice models.Choice) (*models.Receipt, error) {
	if choice == nil {
		return nil, newSubmitError(models.StepIdle, ErrInvalidOption, errors.New("no choice given"))
	}

	option := -1
	switch c := choice.(type) {
	case models.VoteChoice:
		option = c.Option
	case *models.VoteChoice:
		if c == nil {
			return nil, newSubmitError(models.StepIdle, ErrInvalidOption, errors.New("no choice given"))
		}
		option = c.Option
	case *models.MaskChoice:
		if c == nil {
			return nil, newSubmitError(models.StepIdle, ErrInvalidOption, errors.New("no choice given"))
		}
	}
	if !choice.IsMask() && option < 0 {
		return nil, newSubmitError(models.StepIdle, ErrInvalidOption, errors.Errorf("unsupported choice, %v", choice))
	}

	if w.wallet == nil {
		return nil, newSubmitError(models.StepIdle, ErrNoWallet, nil)
	}
	address, ok := w.wallet.Address()
	if !ok {
		return nil, newSubmitError(models.StepIdle, ErrNoWallet, nil)
	}

	if err := w.transition(attempt, models.StepSigning); err != nil {
		return nil, err
	}

	msg := SignatureMessage(roundID)
	sig, err := w.wallet.SignMessage(ctx, msg)
	if err != nil {
		return nil, newSubmitError(models.StepSigning, ErrSignatureRejected, err)
	}

	data, err := w.fetch(ctx, roundID, choice.IsMask())
	if err != nil {
		return nil, err
	}
	round := data.round

	if err := checkRound(round); err != nil {
		return nil, err
	}

	numOptions := int(round.NumOptions)
	if numOptions <= 0 {
		return nil, newSubmitError(models.StepSigning, ErrInvalidOption,
			errors.Errorf("round %d has no voting options", roundID))
	}

	var (
		ballot  *models.Ballot
		balance *big.Int
	)

	if choice.IsMask() {
		target, err := w.selector.Select(data.voters)
		if err != nil {
			return nil, newSubmitError(models.StepSigning, ErrNoEligibleVoters, err)
		}

		balance = target.Balance.BigInt()
		ballot = models.NewZeroBallot(numOptions, target.Address, MaskWeight(round, target))
	} else {
		if option >= numOptions {
			return nil, newSubmitError(models.StepSigning, ErrInvalidOption,
				errors.Errorf("option %d out of %d", option, numOptions))
		}

		weight, err := w.votingWeight(ctx, round, address)
		if err != nil {
			return nil, newSubmitError(models.StepSigning, ErrVotingPowerFetch, err)
		}

		balance = weight
		ballot = models.NewOneHotBallot(numOptions, option, address, weight)
	}

	if err := w.transition(attempt, models.StepGeneratingProof); err != nil {
		return nil, err
	}

	proof, err := w.prove(ctx, choice.IsMask(), &encryption.ProofRequest{
		Ballot:       ballot,
		Balance:      balance,
		PublicKey:    round.CommitteePublicKey,
		Signature:    sig,
		MessageHash:  common.BytesToHash(accounts.TextHash(msg)),
		MerkleLeaves: data.leaves,
		LeafIndex:    encryption.LeafIndex(data.leaves, encryption.HashLeaf(ballot.Slot, balance)),
	})
	if err != nil {
		return nil, newSubmitError(models.StepGeneratingProof, ErrProofGeneration, err)
	}

	if err := w.transition(attempt, models.StepBroadcasting); err != nil {
		return nil, err
	}

	if err := w.broadcast(ctx, roundID, address, proof); err != nil {
		return nil, newSubmitError(models.StepBroadcasting, ErrBroadcast, err)
	}

	proofBytes := []byte(proof.EncodedProof)
	if len(proofBytes) == 0 {
		proofBytes = proof.RawProof
	}

	return &models.Receipt{
		ID:          uuid.New().String(),
		AttemptID:   attempt,
		RoundID:     roundID,
		Voter:       address,
		Mask:        choice.IsMask(),
		Option:      option,
		Slot:        ballot.Slot,
		ProofHash:   common.BytesToHash(encryption.Keccak256(proofBytes)),
		SubmittedAt: time.Now().UTC(),
	}, nil
}

type roundData struct {
	round  *models.Round
	leaves []*big.Int
	voters []models.EligibleVoter
}

// fetch reads the round and its token-holder leaves, plus the eligible voters
// for masks, concurrently.
func (w *VoteWorkflow) fetch(ctx context.Context, roundID uint64, mask bool) (*roundData, error) {
	if w.rounds == nil {
		return nil, newSubmitError(models.StepSigning, ErrRoundFetch, errors.New("no round source configured"))
	}

	var data roundData

	eg, ectx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		round, err := w.rounds.GetRoundState(ectx, roundID)
		if err != nil {
			return newSubmitError(models.StepSigning, ErrRoundFetch, err)
		}
		data.round = round
		return nil
	})

	eg.Go(func() error {
		leaves, err := w.rounds.GetTokenHolderHashes(ectx, roundID)
		if err != nil {
			return newSubmitError(models.StepSigning, ErrTokenHoldersFetch, err)
		}
		data.leaves = leaves
		return nil
	})

	if mask {
		eg.Go(func() error {
			voters, err := w.rounds.GetEligibleVoters(ectx, roundID)
			if err != nil {
				return newSubmitError(models.StepSigning, ErrEligibleVotersFetch, err)
			}
			data.voters = voters
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if data.round == nil {
		return nil, newSubmitError(models.StepSigning, ErrRoundFetch, errors.Errorf("round %d not found", roundID))
	}

	return &data, nil
}

// checkRound rejects rounds a ballot cannot be proven for.
func checkRound(round *models.Round) error {
	if round.Status != models.RoundActive {
		return newSubmitError(models.StepSigning, ErrRoundNotReady,
			errors.Errorf("round %d is %q", round.ID, string(round.Status)))
	}
	if !round.CommitteeReady() {
		return newSubmitError(models.StepSigning, ErrRoundNotReady,
			errors.Errorf("round %d has no committee public key", round.ID))
	}
	if round.CreditMode == models.CreditModeConstant && round.Credits.BigInt().Sign() <= 0 {
		return newSubmitError(models.StepSigning, ErrNoCredits, errors.Errorf("round %d", round.ID))
	}

	return nil
}

// votingWeight is the round's constant credits, or the voter's token balance
// at the block before the round started.
func (w *VoteWorkflow) votingWeight(ctx context.Context, round *models.Round, voter common.Address) (*big.Int, error) {
	if round.CreditMode == models.CreditModeConstant {
		return round.Credits.BigInt(), nil
	}

	if w.power == nil {
		return nil, errors.New("no voting power reader configured")
	}

	weight, err := w.power.GetPastVotes(ctx, voter, round.SnapshotBlock())
	if err != nil {
		return nil, err
	}
	if weight == nil {
		return new(big.Int), nil
	}
	return weight, nil
}

type proveResult struct {
	proof *encryption.Proof
	err   error
}

// prove runs the prover on its own goroutine so the step change that
// precedes it is observable while it works.
func (w *VoteWorkflow) prove(ctx context.Context, mask bool, req *encryption.ProofRequest) (*encryption.Proof, error) {
	if w.prover == nil {
		return nil, errors.New("no prover configured")
	}

	done := make(chan proveResult, 1)

	go func() {
		var r proveResult
		if mask {
			r.proof, r.err = w.prover.GenerateMaskVoteProof(ctx, req)
		} else {
			r.proof, r.err = w.prover.GenerateVoteProof(ctx, req)
		}
		done <- r
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if r.proof == nil {
			return nil, errors.New("prover returned no proof")
		}
		return r.proof, nil
	}
}

func (w *VoteWorkflow) broadcast(ctx context.Context, roundID uint64, address common.Address, proof *encryption.Proof) error {
	if w.broadcaster == nil {
		return errors.New("no broadcaster configured")
	}

	req := &api.BroadcastRequest{
		RoundID:      roundID,
		EncodedProof: proof.EncodedProof,
		Address:      address,
	}
	if proof.EncodedProof == "" {
		req.EncVoteBytes = proof.EncryptedVote
		req.Proof = proof.RawProof
		req.PublicInputs = proof.PublicInputs
	}

	return w.broadcaster.Broadcast(ctx, req)
}

func (w *VoteWorkflow) saveReceipt(receipt models.Receipt) {
	if w.receipts == nil {
		return
	}

	if err := w.receipts.SaveReceipt(receipt); err != nil {
		w.Log().Warn().Err(err).Str("receipt", receipt.ID).Msg("failed to save receipt")
		return
	}

	w.Log().Debug().Func(func(e *zerolog.Event) {
		e.Str("receipt", receipt.ID).Uint64("round", receipt.RoundID).Bool("mask", receipt.Mask)
	}).Msg("receipt saved")
}

func stepMessage(step models.VotingStep) string {
	switch step {
	case models.StepSigning:
		return "Signing message"
	case models.StepEncrypting:
		return "Encrypting vote"
	case models.StepGeneratingProof:
		return "Generating proof"
	case models.StepBroadcasting:
		return "Broadcasting vote"
	case models.StepConfirming:
		return "Confirming vote"
	case models.StepComplete:
		return "Vote submitted"
	default:
		return ""
	}
}

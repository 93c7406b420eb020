package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"crisp-voting-client/api"
	"crisp-voting-client/blockchain"
	"crisp-voting-client/encryption"
	"crisp-voting-client/proposal"
	"crisp-voting-client/service"
	"crisp-voting-client/storage"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newAPIClient() *api.Client {
	client := api.NewClient(cfg.ServerURL, &http.Client{Timeout: cfg.HTTPTimeout})
	_ = client.SetLogger(logger)

	return client
}

// dialChain connects to the configured RPC endpoint. The returned client
// must be closed by the caller.
func dialChain(ctx context.Context) (*blockchain.Reader, *ethclient.Client, error) {
	if cfg.RPCURL == "" {
		return nil, nil, errors.New("rpc_url is not configured")
	}
	if cfg.VotingPluginAddress == "" {
		return nil, nil, errors.New("voting_plugin_address is not configured")
	}

	reader, client, err := blockchain.Dial(ctx, cfg.RPCURL, cfg.PluginAddress(), cfg.TokenAddress())
	if err != nil {
		return nil, nil, err
	}
	_ = reader.SetLogger(logger)

	return reader, client, nil
}

func newReceiptStore() (*storage.JSONStore, error) {
	return storage.NewJSONStore(cfg.ReceiptsPath)
}

func newLoader(reader *blockchain.Reader) *proposal.Loader {
	fetcher := proposal.NewGatewayFetcher(cfg.IPFSGateway, &http.Client{Timeout: cfg.HTTPTimeout})

	loader := proposal.NewLoader(reader, fetcher)
	_ = loader.SetLogger(logger)

	return loader
}

// newWorkflow wires the voter's key, the tally server, the prover and, when
// an RPC endpoint is configured, the token checkpoints.
func newWorkflow(ctx context.Context) (*service.VoteWorkflow, func(), error) {
	signer, err := encryption.LoadKeySigner(cfg.Wallet.PrivateKey, cfg.Wallet.PrivateKeyFile)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Prover.Command == "" {
		return nil, nil, errors.New("prover command is not configured")
	}
	prover := encryption.NewExecProver(cfg.Prover.Command, cfg.Prover.Args...)

	client := newAPIClient()
	closer := func() {}

	var power service.VotingPowerReader
	if cfg.RPCURL != "" && cfg.VotingTokenAddress != "" {
		reader, eth, err := dialChain(ctx)
		if err != nil {
			return nil, nil, err
		}
		power = reader
		closer = eth.Close
	}

	workflow := service.NewVoteWorkflow(signer, client, power, prover, client)
	_ = workflow.SetLogger(logger)

	store, err := newReceiptStore()
	if err != nil {
		log.Log().Warn().Err(err).Msg("receipts will not be saved")
	} else {
		workflow.SetReceiptStore(store)
	}

	return workflow, closer, nil
}

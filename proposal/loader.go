package proposal

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"crisp-voting-client/blockchain"
	"crisp-voting-client/logging"
	"crisp-voting-client/models"
)

const DefaultGateway = "https://ipfs.io"

var ErrProposalNotFound = errors.New("proposal not found")

type ChainReader interface {
	GetProposal(ctx context.Context, proposalID *big.Int) (*blockchain.ProposalStruct, error)
	GetTally(ctx context.Context, proposalID *big.Int) ([]*big.Int, bool, error)
	GetProposalCreated(ctx context.Context, proposalID *big.Int, fromBlock, toBlock uint64) (*models.ProposalCreated, error)
	GetPastTotalSupply(ctx context.Context, block *big.Int) (*big.Int, error)
}

type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, uri string) (*models.ProposalMetadata, error)
}

// Loader fetches the sources of a proposal view concurrently. Only the
// on-chain struct is mandatory.
type Loader struct {
	*logging.Logging
	chain    ChainReader
	metadata MetadataFetcher
}

func NewLoader(chain ChainReader, metadata MetadataFetcher) *Loader {
	return &Loader{
		Logging:  logging.Module("proposal-loader"),
		chain:    chain,
		metadata: metadata,
	}
}

func (l *Loader) Load(ctx context.Context, id *big.Int) (*models.Proposal, error) {
	onchain, err := l.chain.GetProposal(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read proposal %s", id)
	}
	if onchain == nil {
		return nil, ErrProposalNotFound
	}

	var (
		tally    *TallyResult
		created  *models.ProposalCreated
		metadata *models.ProposalMetadata
	)

	eg, ectx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		values, tallied, err := l.chain.GetTally(ectx, id)
		if err != nil {
			return l.optional(ectx, err, "tally")
		}
		tally = &TallyResult{Values: values, IsTallied: tallied}
		return nil
	})

	eg.Go(func() error {
		// startDate is a timestamp, not a block; search up to the head.
		c, err := l.chain.GetProposalCreated(ectx, id, onchain.Parameters.SnapshotBlock, 0)
		if err != nil {
			return l.optional(ectx, err, "creation event")
		}
		created = c

		uri := MetadataURI(c)
		if uri == "" || l.metadata == nil {
			return nil
		}

		m, err := l.metadata.FetchMetadata(ectx, uri)
		if err != nil {
			return l.optional(ectx, err, "metadata")
		}
		metadata = m
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return Assemble(id, onchain, created, metadata, tally), nil
}

// Status resolves p against the token supply at its snapshot block.
func (l *Loader) Status(ctx context.Context, p *models.Proposal) (Status, error) {
	supply, err := l.chain.GetPastTotalSupply(ctx, new(big.Int).SetUint64(p.Parameters.SnapshotBlock))
	if err != nil {
		return StatusPending, errors.Wrap(err, "failed to read total voting power")
	}

	return ResolveStatus(Input(p, supply)), nil
}

func (l *Loader) optional(ctx context.Context, err error, source string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	l.Log().Warn().Err(err).Str("source", source).Msg("proposal source unavailable")
	return nil
}

// GatewayFetcher reads metadata documents through an IPFS HTTP gateway.
type GatewayFetcher struct {
	gateway    string
	httpClient *http.Client
}

func NewGatewayFetcher(gateway string, httpClient *http.Client) *GatewayFetcher {
	if gateway == "" {
		gateway = DefaultGateway
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &GatewayFetcher{
		gateway:    strings.TrimRight(gateway, "/"),
		httpClient: httpClient,
	}
}

// URL maps ipfs://<cid> and bare CIDs onto the gateway; http(s) URIs are used
// as they are.
func (f *GatewayFetcher) URL(uri string) string {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return uri
	case strings.HasPrefix(uri, "ipfs://"):
		return f.gateway + "/ipfs/" + strings.TrimPrefix(strings.TrimPrefix(uri, "ipfs://"), "ipfs/")
	default:
		return f.gateway + "/ipfs/" + strings.TrimPrefix(uri, "/")
	}
}

func (f *GatewayFetcher) FetchMetadata(ctx context.Context, uri string) (*models.ProposalMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(uri), nil)
	if err != nil {
		return nil, errors.Wrap(err, "error creating metadata request")
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch metadata")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, errors.Errorf("metadata gateway returned status %d", resp.StatusCode)
	}

	var m models.ProposalMetadata
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, errors.Wrap(err, "invalid metadata document")
	}

	return &m, nil
}

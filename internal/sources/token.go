package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"token-analyst/internal/holders"
	"token-analyst/internal/retry"
	"token-analyst/internal/solana"
	"token-analyst/internal/upstream"
)

// ErrNotMint is returned when an address is not an SPL token mint.
var ErrNotMint = errors.New("address is not a token mint")

// TokenProfile is the identity of a mint: on-chain mint and Metaplex
// metadata plus the off-chain JSON the metadata points to.
type TokenProfile struct {
	Address         string  `json:"address"`
	Name            string  `json:"name"`
	Symbol          string  `json:"symbol"`
	Decimals        int     `json:"decimals"`
	Supply          float64 `json:"supply"`
	TokenProgram    string  `json:"tokenProgram"`
	UpdateAuthority string  `json:"updateAuthority,omitempty"`
	MetadataURI     string  `json:"metadataUri,omitempty"`
	Description     string  `json:"description,omitempty"`
	Image           string  `json:"image,omitempty"`
	Website         string  `json:"website,omitempty"`
	Twitter         string  `json:"twitter,omitempty"`
	Telegram        string  `json:"telegram,omitempty"`
	Discord         string  `json:"discord,omitempty"`
	HasMetadata     bool    `json:"hasMetadata"`
	HasOffChain     bool    `json:"hasOffChainMetadata"`
}

// Profiler builds TokenProfiles.
type Profiler struct {
	rpc      solana.RPCClient
	retrier  *retry.Retrier
	offchain *upstream.Client
	logger   zerolog.Logger
}

// NewProfiler creates a Profiler. offchain fetches metadata JSON by
// absolute URL and may be nil.
func NewProfiler(rpc solana.RPCClient, r *retry.Retrier, offchain *upstream.Client) *Profiler {
	return &Profiler{
		rpc:      rpc,
		retrier:  r,
		offchain: offchain,
		logger:   log.With().Str("component", "profiler").Logger(),
	}
}

// Profile reads the mint and its metadata. Only the mint read is
// mandatory.
func (p *Profiler) Profile(ctx context.Context, mint string) (*TokenProfile, error) {
	info, err := retry.Do(ctx, p.retrier, func(ctx context.Context) (*solana.AccountInfo, error) {
		return p.rpc.GetAccountInfo(ctx, mint)
	})
	if err != nil {
		return nil, fmt.Errorf("get mint account: %w", err)
	}
	if info == nil || !solana.IsTokenProgram(info.Owner) {
		return nil, ErrNotMint
	}
	raw, err := solana.DecodeData(info.Data)
	if err != nil {
		return nil, err
	}
	m, err := solana.ParseMint(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotMint, err)
	}

	prof := &TokenProfile{
		Address:      mint,
		Decimals:     m.Decimals,
		Supply:       m.UISupply(),
		TokenProgram: info.Owner,
	}

	meta, err := p.metadata(ctx, mint)
	if err != nil {
		p.logger.Debug().Err(err).Str("mint", mint).Msg("metadata unavailable")
		return prof, nil
	}
	prof.HasMetadata = true
	prof.Name = meta.Name
	prof.Symbol = meta.Symbol
	prof.UpdateAuthority = meta.UpdateAuthority
	prof.MetadataURI = meta.URI

	if p.offchain != nil && meta.URI != "" {
		if err := p.offChain(ctx, prof); err != nil {
			p.logger.Debug().Err(err).Str("uri", meta.URI).Msg("off-chain metadata unavailable")
		}
	}
	return prof, nil
}

func (p *Profiler) metadata(ctx context.Context, mint string) (*solana.Metadata, error) {
	pda, err := solana.MetadataPDA(mint)
	if err != nil {
		return nil, err
	}
	info, err := retry.Do(ctx, p.retrier, func(ctx context.Context) (*solana.AccountInfo, error) {
		return p.rpc.GetAccountInfo(ctx, pda)
	})
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, errors.New("metadata account not found")
	}
	raw, err := solana.DecodeData(info.Data)
	if err != nil {
		return nil, err
	}
	return solana.ParseMetadata(raw)
}

type offChainMetadata struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Image       string `json:"image"`
	ExternalURL string `json:"external_url"`
	Website     string `json:"website"`
	Twitter     string `json:"twitter"`
	Telegram    string `json:"telegram"`
	Extensions  struct {
		Website  string `json:"website"`
		Twitter  string `json:"twitter"`
		Telegram string `json:"telegram"`
		Discord  string `json:"discord"`
	} `json:"extensions"`
}

func (p *Profiler) offChain(ctx context.Context, prof *TokenProfile) error {
	uri := gatewayURL(prof.MetadataURI)
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		return fmt.Errorf("unsupported metadata uri %q", prof.MetadataURI)
	}
	var doc offChainMetadata
	if err := p.offchain.GetJSON(ctx, uri, nil, &doc); err != nil {
		return err
	}
	prof.HasOffChain = true
	prof.Description = doc.Description
	prof.Image = doc.Image
	prof.Website = firstNonEmpty(doc.Extensions.Website, doc.Website, doc.ExternalURL)
	prof.Twitter = firstNonEmpty(doc.Extensions.Twitter, doc.Twitter)
	prof.Telegram = firstNonEmpty(doc.Extensions.Telegram, doc.Telegram)
	prof.Discord = doc.Extensions.Discord
	if prof.Name == "" {
		prof.Name = doc.Name
	}
	if prof.Symbol == "" {
		prof.Symbol = doc.Symbol
	}
	return nil
}

// gatewayURL rewrites ipfs:// and ar:// URIs to public HTTP gateways.
func gatewayURL(uri string) string {
	switch {
	case strings.HasPrefix(uri, "ipfs://"):
		return "https://ipfs.io/ipfs/" + strings.TrimPrefix(uri, "ipfs://")
	case strings.HasPrefix(uri, "ar://"):
		return "https://arweave.net/" + strings.TrimPrefix(uri, "ar://")
	}
	return uri
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// PairIdentity is the DEX listing a token trades in.
type PairIdentity struct {
	Provider    string   `json:"provider"`
	DexID       string   `json:"dexId"`
	PairAddress string   `json:"pairAddress"`
	URL         string   `json:"url,omitempty"`
	TokenRole   string   `json:"tokenRole"`
	Counter     TokenRef `json:"counterToken"`
}

// TokenData is the token adapter payload.
type TokenData struct {
	Profile      *TokenProfile    `json:"profile"`
	Pair         *PairIdentity    `json:"pair,omitempty"`
	HolderSample []holders.Holder `json:"holderSample,omitempty"`
}

// TokenSource combines the mint profile, the DEX pair identity and a small
// holder sample. market and sampler may be nil.
type TokenSource struct {
	profiler *Profiler
	market   *MarketSource
	sampler  Adapter
}

// NewTokenSource creates a TokenSource. sampler is usually a basic mode
// HolderSource.
func NewTokenSource(p *Profiler, market *MarketSource, sampler Adapter) *TokenSource {
	return &TokenSource{profiler: p, market: market, sampler: sampler}
}

// Analyze implements Adapter. Without an on-chain profile the pair
// identity alone is returned as fallback data.
func (s *TokenSource) Analyze(ctx context.Context, q Query) Result {
	if q.Address == "" {
		return Fail("token", ErrNoAddress, nil)
	}

	var data TokenData
	prof, profErr := s.profiler.Profile(ctx, q.Address)
	data.Profile = prof

	if s.market != nil {
		if md, _, err := s.market.Lookup(ctx, q); err == nil {
			data.Pair = &PairIdentity{
				Provider:    md.Provider,
				DexID:       md.DexID,
				PairAddress: md.PairAddress,
				URL:         md.URL,
				TokenRole:   md.TokenRole,
				Counter:     md.Counter,
			}
			if data.Profile == nil {
				data.Profile = &TokenProfile{Address: q.Address, Name: md.Token.Name, Symbol: md.Token.Symbol}
			}
		}
	}

	if profErr == nil && s.sampler != nil {
		res := Safe(ctx, "holders", s.sampler, q)
		if h, ok := res.Data.(HolderData); ok && res.Success {
			data.HolderSample = h.Summary.Top10
		}
	}

	switch {
	case profErr == nil:
		return OK("token", DataSourceLive, data)
	case data.Pair != nil:
		return OK("token", DataSourceFallback, data)
	default:
		return Fail("token", profErr, nil)
	}
}

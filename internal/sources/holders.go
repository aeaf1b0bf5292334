package sources

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"token-analyst/internal/holders"
	"token-analyst/internal/retry"
	"token-analyst/internal/solana"
)

// Holder scan modes.
const (
	HolderModeFull  = "full"
	HolderModeBasic = "basic"
)

// DefaultBasicHolderLimit is the page size of a basic holder scan.
const DefaultBasicHolderLimit = 20

// HolderData is the holders adapter payload.
type HolderData struct {
	Mode         string            `json:"mode"`
	Summary      holders.Aggregate `json:"summary"`
	PagesFetched int               `json:"pagesFetched"`
	HasMorePages bool              `json:"hasMorePages"`
	Skipped      int               `json:"skipped"`
	// SupplyIsEstimate is true when percentages are relative to the sum of
	// observed balances rather than the mint supply.
	SupplyIsEstimate bool   `json:"supplyIsEstimate"`
	Method           string `json:"method"`
}

// HolderSourceConfig configures HolderSource.
type HolderSourceConfig struct {
	Mode       string
	BasicLimit int
	Collector  holders.Config
}

// HolderSource enumerates holders of a mint through the DAS
// getTokenAccounts method, falling back to a getProgramAccounts scan when
// the endpoint does not support DAS.
type HolderSource struct {
	rpc       solana.RPCClient
	retrier   *retry.Retrier
	collector *holders.Collector
	cfg       HolderSourceConfig
	logger    zerolog.Logger
}

// NewHolderSource creates a HolderSource.
func NewHolderSource(rpc solana.RPCClient, r *retry.Retrier, c *holders.Collector, cfg HolderSourceConfig) *HolderSource {
	if cfg.Mode == "" {
		cfg.Mode = HolderModeFull
	}
	if cfg.BasicLimit <= 0 {
		cfg.BasicLimit = DefaultBasicHolderLimit
	}
	if c == nil {
		c = holders.NewCollector(r)
	}
	return &HolderSource{
		rpc:       rpc,
		retrier:   r,
		collector: c,
		cfg:       cfg,
		logger:    log.With().Str("source", "holders").Logger(),
	}
}

// Analyze implements Adapter.
func (s *HolderSource) Analyze(ctx context.Context, q Query) Result {
	if q.Address == "" {
		return Fail("holders", ErrNoAddress, nil)
	}
	if s.cfg.Mode == HolderModeBasic {
		return s.basic(ctx, q.Address)
	}
	return s.full(ctx, q.Address)
}

func (s *HolderSource) full(ctx context.Context, mint string) Result {
	decimals := s.decimals(ctx, mint)

	cfg := s.cfg.Collector
	if cfg.Source == "" {
		cfg.Source = mint
	}
	col, err := s.collector.Collect(ctx, s.pageFunc(mint, decimals), cfg)
	if err != nil {
		if solana.IsMethodNotFound(err) && col.PagesFetched == 0 {
			s.logger.Info().Str("mint", mint).Msg("DAS unsupported, scanning program accounts")
			return s.programScan(ctx, mint, decimals)
		}
		if len(col.Records) > 0 {
			return Fail("holders", err, s.data(HolderModeFull, "getTokenAccounts", col))
		}
		return Fail("holders", err, nil)
	}
	return OK("holders", DataSourceLive, s.data(HolderModeFull, "getTokenAccounts", col))
}

// basic reads one small page; it answers "who are the largest visible
// holders" without a full scan.
func (s *HolderSource) basic(ctx context.Context, mint string) Result {
	decimals := s.decimals(ctx, mint)
	page, err := retry.Do(ctx, s.retrier, func(ctx context.Context) (holders.Page, error) {
		return s.pageFunc(mint, decimals)(ctx, 1, s.cfg.BasicLimit)
	})
	if err != nil {
		return Fail("holders", err, nil)
	}
	col := holders.NewCollection()
	col.Add(page.Items)
	col.PagesFetched = 1
	col.HasMorePages = len(page.Items) >= s.cfg.BasicLimit
	return OK("holders", DataSourceLive, s.data(HolderModeBasic, "getTokenAccounts", col))
}

func (s *HolderSource) pageFunc(mint string, decimals int) holders.PageFunc {
	return func(ctx context.Context, page, size int) (holders.Page, error) {
		res, err := s.rpc.GetTokenAccounts(ctx, mint, page, size)
		if err != nil {
			return holders.Page{}, err
		}
		out := holders.Page{Number: page, Size: size, Items: make([]holders.AccountRecord, 0, len(res.Accounts))}
		for _, a := range res.Accounts {
			out.Items = append(out.Items, holders.AccountRecord{
				Owner:     a.Owner,
				Account:   a.Address,
				RawAmount: a.Amount,
				Decimals:  decimals,
			})
		}
		return out, nil
	}
}

// programScan lists every token account of mint in one getProgramAccounts
// call.
func (s *HolderSource) programScan(ctx context.Context, mint string, decimals int) Result {
	filters := []solana.AccountFilter{
		{DataSize: solana.TokenAccountSize},
		{Memcmp: &solana.Memcmp{Offset: 0, Bytes: mint}},
	}
	accounts, err := retry.Do(ctx, s.retrier, func(ctx context.Context) ([]solana.KeyedAccount, error) {
		return s.rpc.GetProgramAccounts(ctx, solana.TokenProgramID, filters)
	})
	if err != nil {
		return Fail("holders", fmt.Errorf("program account scan: %w", err), nil)
	}

	col := holders.NewCollection()
	records := make([]holders.AccountRecord, 0, len(accounts))
	for _, ka := range accounts {
		raw, err := solana.DecodeData(ka.Account.Data)
		if err != nil {
			col.Skipped++
			continue
		}
		ta, err := solana.ParseTokenAccount(raw)
		if err != nil || ta.Mint != mint {
			col.Skipped++
			continue
		}
		if ta.Amount == 0 {
			continue
		}
		records = append(records, holders.AccountRecord{
			Owner:     ta.Owner,
			Account:   ka.Pubkey,
			RawAmount: ta.Amount,
			Decimals:  decimals,
		})
	}
	col.Add(records)
	col.PagesFetched = 1
	return OK("holders", DataSourceFallback, s.data(HolderModeFull, "getProgramAccounts", col))
}

// decimals reads the mint decimals. Percentages do not depend on it, so a
// failure only affects displayed balances.
func (s *HolderSource) decimals(ctx context.Context, mint string) int {
	info, err := retry.Do(ctx, s.retrier, func(ctx context.Context) (*solana.AccountInfo, error) {
		return s.rpc.GetAccountInfo(ctx, mint)
	})
	if err != nil || info == nil {
		s.logger.Debug().Err(err).Str("mint", mint).Msg("mint decimals unavailable")
		return 0
	}
	raw, err := solana.DecodeData(info.Data)
	if err != nil {
		return 0
	}
	m, err := solana.ParseMint(raw)
	if err != nil {
		return 0
	}
	return m.Decimals
}

func (s *HolderSource) data(mode, method string, col *holders.Collection) HolderData {
	return HolderData{
		Mode:             mode,
		Summary:          holders.Summarize(col),
		PagesFetched:     col.PagesFetched,
		HasMorePages:     col.HasMorePages,
		Skipped:          col.Skipped,
		SupplyIsEstimate: true,
		Method:           method,
	}
}

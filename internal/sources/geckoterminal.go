package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"token-analyst/internal/upstream"
)

// DefaultGeckoTerminalURL is the public GeckoTerminal API.
const DefaultGeckoTerminalURL = "https://api.geckoterminal.com/api/v2"

// GeckoTerminal reads pools from the GeckoTerminal API. It only supports
// address lookups.
type GeckoTerminal struct {
	client  *upstream.Client
	network string
}

// NewGeckoTerminal creates a provider for network (e.g. "solana").
func NewGeckoTerminal(client *upstream.Client, network string) *GeckoTerminal {
	return &GeckoTerminal{client: client, network: network}
}

// Name implements PairProvider.
func (g *GeckoTerminal) Name() string { return "geckoterminal" }

// Pairs implements PairProvider.
func (g *GeckoTerminal) Pairs(ctx context.Context, q Query) ([]Pair, error) {
	if q.Address == "" {
		return nil, ErrNoAddress
	}
	path := fmt.Sprintf("/networks/%s/tokens/%s/pools", url.PathEscape(g.network), url.PathEscape(q.Address))
	var resp geckoPoolsResponse
	if err := g.client.GetJSON(ctx, path, url.Values{"page": {"1"}}, &resp); err != nil {
		return nil, err
	}

	out := make([]Pair, 0, len(resp.Data))
	for _, p := range resp.Data {
		out = append(out, g.toPair(p))
	}
	return out, nil
}

type geckoRelation struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type geckoPool struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		Address                  string `json:"address"`
		Name                     string `json:"name"`
		BaseTokenPriceUSD        Number `json:"base_token_price_usd"`
		BaseTokenPriceQuoteToken Number `json:"base_token_price_quote_token"`
		ReserveInUSD             Number `json:"reserve_in_usd"`
		FDVUSD                   Number `json:"fdv_usd"`
		MarketCapUSD             Number `json:"market_cap_usd"`
		PoolCreatedAt            string `json:"pool_created_at"`
		PriceChangePercentage    struct {
			M5  Number `json:"m5"`
			H1  Number `json:"h1"`
			H6  Number `json:"h6"`
			H24 Number `json:"h24"`
		} `json:"price_change_percentage"`
		Transactions struct {
			H24 struct {
				Buys  int `json:"buys"`
				Sells int `json:"sells"`
			} `json:"h24"`
		} `json:"transactions"`
		VolumeUSD struct {
			H24 Number `json:"h24"`
		} `json:"volume_usd"`
	} `json:"attributes"`
	Relationships struct {
		BaseToken  geckoRelation `json:"base_token"`
		QuoteToken geckoRelation `json:"quote_token"`
		Dex        geckoRelation `json:"dex"`
	} `json:"relationships"`
}

type geckoPoolsResponse struct {
	Data []geckoPool `json:"data"`
}

// Validate rejects pools without identity or price.
func (r *geckoPoolsResponse) Validate() error {
	if r.Data == nil {
		return fmt.Errorf("missing data")
	}
	for i, p := range r.Data {
		switch {
		case p.Attributes.Address == "":
			return fmt.Errorf("data[%d]: missing attributes.address", i)
		case p.Relationships.BaseToken.Data.ID == "" || p.Relationships.QuoteToken.Data.ID == "":
			return fmt.Errorf("data[%d]: missing token relationship", i)
		case p.Attributes.BaseTokenPriceQuoteToken <= 0:
			return fmt.Errorf("data[%d]: missing base_token_price_quote_token", i)
		}
	}
	return nil
}

func (g *GeckoTerminal) toPair(p geckoPool) Pair {
	a := p.Attributes
	baseSym, quoteSym := splitPoolName(a.Name)
	return Pair{
		Provider:     "geckoterminal",
		ChainID:      g.network,
		DexID:        p.Relationships.Dex.Data.ID,
		PairAddress:  a.Address,
		URL:          fmt.Sprintf("https://www.geckoterminal.com/%s/pools/%s", g.network, a.Address),
		Base:         TokenRef{Address: g.tokenAddress(p.Relationships.BaseToken.Data.ID), Symbol: baseSym},
		Quote:        TokenRef{Address: g.tokenAddress(p.Relationships.QuoteToken.Data.ID), Symbol: quoteSym},
		PriceNative:  a.BaseTokenPriceQuoteToken.Float(),
		PriceUSD:     a.BaseTokenPriceUSD.Float(),
		LiquidityUSD: a.ReserveInUSD.Float(),
		Volume24h:    a.VolumeUSD.H24.Float(),
		FDV:          a.FDVUSD.Float(),
		MarketCap:    a.MarketCapUSD.Float(),
		PriceChange: PriceChange{
			M5:  a.PriceChangePercentage.M5.Float(),
			H1:  a.PriceChangePercentage.H1.Float(),
			H6:  a.PriceChangePercentage.H6.Float(),
			H24: a.PriceChangePercentage.H24.Float(),
		},
		Txns24h: Txns{Buys: a.Transactions.H24.Buys, Sells: a.Transactions.H24.Sells},
	}
}

// tokenAddress strips the "<network>_" prefix of a relationship id.
func (g *GeckoTerminal) tokenAddress(id string) string {
	return strings.TrimPrefix(id, g.network+"_")
}

// splitPoolName splits "BONK / SOL" into its symbols. Fee tiers such as
// "BONK / SOL 0.25%" are dropped.
func splitPoolName(name string) (string, string) {
	base, quote, ok := strings.Cut(name, " / ")
	if !ok {
		return "", ""
	}
	if fields := strings.Fields(quote); len(fields) > 0 {
		quote = fields[0]
	}
	return strings.TrimSpace(base), quote
}

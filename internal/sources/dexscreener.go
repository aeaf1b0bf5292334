package sources

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"token-analyst/internal/upstream"
)

// DefaultDexScreenerURL is the public DexScreener API.
const DefaultDexScreenerURL = "https://api.dexscreener.com"

// DexScreener reads pairs from the DexScreener API.
type DexScreener struct {
	client  *upstream.Client
	chainID string
}

// NewDexScreener creates a provider restricted to chainID ("" keeps every
// chain).
func NewDexScreener(client *upstream.Client, chainID string) *DexScreener {
	return &DexScreener{client: client, chainID: chainID}
}

// Name implements PairProvider.
func (d *DexScreener) Name() string { return "dexscreener" }

// Pairs implements PairProvider.
func (d *DexScreener) Pairs(ctx context.Context, q Query) ([]Pair, error) {
	if q.Address == "" {
		return d.Search(ctx, q.SearchTerm())
	}
	var resp dexPairsResponse
	if err := d.client.GetJSON(ctx, "/latest/dex/tokens/"+url.PathEscape(q.Address), nil, &resp); err != nil {
		return nil, err
	}
	return d.convert(resp.Pairs), nil
}

// Search implements Searcher.
func (d *DexScreener) Search(ctx context.Context, term string) ([]Pair, error) {
	if strings.TrimSpace(term) == "" {
		return nil, errors.New("empty search term")
	}
	var resp dexPairsResponse
	if err := d.client.GetJSON(ctx, "/latest/dex/search", url.Values{"q": {term}}, &resp); err != nil {
		return nil, err
	}
	return d.convert(resp.Pairs), nil
}

func (d *DexScreener) convert(in []dexPair) []Pair {
	out := make([]Pair, 0, len(in))
	for _, p := range in {
		if d.chainID != "" && !strings.EqualFold(p.ChainID, d.chainID) {
			continue
		}
		out = append(out, p.toPair())
	}
	return out
}

type dexPairsResponse struct {
	SchemaVersion string    `json:"schemaVersion"`
	Pairs         []dexPair `json:"pairs"`
}

// Validate rejects pairs without identity or price.
func (r *dexPairsResponse) Validate() error {
	for i, p := range r.Pairs {
		switch {
		case p.PairAddress == "":
			return fmt.Errorf("pairs[%d]: missing pairAddress", i)
		case p.BaseToken.Address == "" || p.QuoteToken.Address == "":
			return fmt.Errorf("pairs[%d]: missing token address", i)
		case p.PriceNative == "":
			return fmt.Errorf("pairs[%d]: missing priceNative", i)
		}
		if _, err := strconv.ParseFloat(p.PriceNative, 64); err != nil {
			return fmt.Errorf("pairs[%d]: priceNative %q: %v", i, p.PriceNative, err)
		}
	}
	return nil
}

type dexToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type dexTxnWindow struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

type dexPair struct {
	ChainID     string   `json:"chainId"`
	DexID       string   `json:"dexId"`
	URL         string   `json:"url"`
	PairAddress string   `json:"pairAddress"`
	BaseToken   dexToken `json:"baseToken"`
	QuoteToken  dexToken `json:"quoteToken"`
	PriceNative string   `json:"priceNative"`
	PriceUSD    Number   `json:"priceUsd"`
	Txns        struct {
		H24 dexTxnWindow `json:"h24"`
	} `json:"txns"`
	Volume struct {
		H24 Number `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		M5  Number `json:"m5"`
		H1  Number `json:"h1"`
		H6  Number `json:"h6"`
		H24 Number `json:"h24"`
	} `json:"priceChange"`
	Liquidity struct {
		USD Number `json:"usd"`
	} `json:"liquidity"`
	FDV           Number `json:"fdv"`
	MarketCap     Number `json:"marketCap"`
	PairCreatedAt int64  `json:"pairCreatedAt"`
	Info          *struct {
		Websites []struct {
			Label string `json:"label"`
			URL   string `json:"url"`
		} `json:"websites"`
		Socials []Social `json:"socials"`
	} `json:"info"`
}

func (p dexPair) toPair() Pair {
	native, _ := strconv.ParseFloat(p.PriceNative, 64)
	out := Pair{
		Provider:     "dexscreener",
		ChainID:      p.ChainID,
		DexID:        p.DexID,
		PairAddress:  p.PairAddress,
		URL:          p.URL,
		Base:         TokenRef(p.BaseToken),
		Quote:        TokenRef(p.QuoteToken),
		PriceNative:  native,
		PriceUSD:     p.PriceUSD.Float(),
		LiquidityUSD: p.Liquidity.USD.Float(),
		Volume24h:    p.Volume.H24.Float(),
		FDV:          p.FDV.Float(),
		MarketCap:    p.MarketCap.Float(),
		PriceChange: PriceChange{
			M5:  p.PriceChange.M5.Float(),
			H1:  p.PriceChange.H1.Float(),
			H6:  p.PriceChange.H6.Float(),
			H24: p.PriceChange.H24.Float(),
		},
		Txns24h:       Txns(p.Txns.H24),
		PairCreatedAt: p.PairCreatedAt,
	}
	if p.Info != nil {
		for _, w := range p.Info.Websites {
			out.Websites = append(out.Websites, w.URL)
		}
		out.Socials = p.Info.Socials
	}
	return out
}

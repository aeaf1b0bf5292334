package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Token roles within a pair.
const (
	RoleBase  = "base"
	RoleQuote = "quote"
)

// ErrNoPair is returned when no pair lists the requested token.
var ErrNoPair = errors.New("no trading pair lists the token")

// PriceChange holds percentage changes per window.
type PriceChange struct {
	M5  float64 `json:"m5"`
	H1  float64 `json:"h1"`
	H6  float64 `json:"h6"`
	H24 float64 `json:"h24"`
}

// Negate flips every window.
func (p PriceChange) Negate() PriceChange {
	return PriceChange{M5: -p.M5, H1: -p.H1, H6: -p.H6, H24: -p.H24}
}

// Txns counts 24h swaps.
type Txns struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

// Social is a project link published by a DEX listing.
type Social struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Pair is a provider neutral DEX pair. Prices are for the base token.
type Pair struct {
	Provider      string
	ChainID       string
	DexID         string
	PairAddress   string
	URL           string
	Base          TokenRef
	Quote         TokenRef
	PriceNative   float64 // base priced in quote units
	PriceUSD      float64 // base priced in USD
	LiquidityUSD  float64
	Volume24h     float64
	FDV           float64
	MarketCap     float64
	PriceChange   PriceChange
	Txns24h       Txns
	PairCreatedAt int64
	Websites      []string
	Socials       []Social
}

// MarketData is a pair oriented around the analysed token.
type MarketData struct {
	Provider      string      `json:"provider"`
	ChainID       string      `json:"chainId"`
	DexID         string      `json:"dexId"`
	PairAddress   string      `json:"pairAddress"`
	URL           string      `json:"url,omitempty"`
	TokenRole     string      `json:"tokenRole"`
	Token         TokenRef    `json:"token"`
	Counter       TokenRef    `json:"counterToken"`
	PriceNative   float64     `json:"priceNative"` // token priced in counter token units
	PriceUSD      float64     `json:"priceUsd"`
	LiquidityUSD  float64     `json:"liquidityUsd"`
	Volume24h     float64     `json:"volume24h"`
	FDV           float64     `json:"fdv,omitempty"`
	MarketCap     float64     `json:"marketCap,omitempty"`
	PriceChange   PriceChange `json:"priceChange"`
	Txns24h       Txns        `json:"txns24h"`
	PairCreatedAt int64       `json:"pairCreatedAt,omitempty"`
	PairCount     int         `json:"pairCount"`
	Websites      []string    `json:"websites,omitempty"`
	Socials       []Social    `json:"socials,omitempty"`
}

// Orient expresses p from the point of view of the token in role. When the
// token is the quote side, prices are inverted, percentage changes negated
// and buys and sells swapped.
func Orient(p Pair, role string) MarketData {
	md := MarketData{
		Provider:      p.Provider,
		ChainID:       p.ChainID,
		DexID:         p.DexID,
		PairAddress:   p.PairAddress,
		URL:           p.URL,
		TokenRole:     RoleBase,
		Token:         p.Base,
		Counter:       p.Quote,
		PriceNative:   p.PriceNative,
		PriceUSD:      p.PriceUSD,
		LiquidityUSD:  p.LiquidityUSD,
		Volume24h:     p.Volume24h,
		FDV:           p.FDV,
		MarketCap:     p.MarketCap,
		PriceChange:   p.PriceChange,
		Txns24h:       p.Txns24h,
		PairCreatedAt: p.PairCreatedAt,
		Websites:      p.Websites,
		Socials:       p.Socials,
	}
	if role != RoleQuote {
		return md
	}

	md.TokenRole = RoleQuote
	md.Token, md.Counter = p.Quote, p.Base
	md.PriceNative, md.PriceUSD = 0, 0
	if p.PriceNative > 0 {
		md.PriceNative = 1 / p.PriceNative
		md.PriceUSD = p.PriceUSD / p.PriceNative
	}
	md.PriceChange = p.PriceChange.Negate()
	md.Txns24h = Txns{Buys: p.Txns24h.Sells, Sells: p.Txns24h.Buys}
	// FDV and market cap describe the base token only.
	md.FDV, md.MarketCap = 0, 0
	return md
}

// PairProvider fetches pairs for a query.
type PairProvider interface {
	Name() string
	Pairs(ctx context.Context, q Query) ([]Pair, error)
}

// Searcher finds pairs by free text.
type Searcher interface {
	Search(ctx context.Context, term string) ([]Pair, error)
}

// MarketSource reads market data from an ordered list of providers. The
// first provider is live, the rest are fallbacks.
type MarketSource struct {
	providers []PairProvider
	logger    zerolog.Logger
}

// NewMarketSource creates a MarketSource.
func NewMarketSource(providers ...PairProvider) *MarketSource {
	return &MarketSource{
		providers: providers,
		logger:    log.With().Str("source", "market").Logger(),
	}
}

// Analyze implements Adapter.
func (s *MarketSource) Analyze(ctx context.Context, q Query) Result {
	md, ds, err := s.Lookup(ctx, q)
	if err != nil {
		return Fail("market", err, nil)
	}
	return OK("market", ds, md)
}

// Lookup returns the deepest pair listing the token, trying providers in
// order.
func (s *MarketSource) Lookup(ctx context.Context, q Query) (*MarketData, DataSource, error) {
	if len(s.providers) == 0 {
		return nil, DataSourceFailed, errors.New("no market providers configured")
	}

	var errs []error
	for i, p := range s.providers {
		pairs, err := p.Pairs(ctx, q)
		if err != nil {
			s.logger.Warn().Str("provider", p.Name()).Err(err).Msg("provider failed")
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		md, ok := SelectPair(pairs, q)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), ErrNoPair))
			continue
		}
		ds := DataSourceLive
		if i > 0 {
			ds = DataSourceFallback
		}
		return md, ds, nil
	}
	return nil, DataSourceFailed, errors.Join(errs...)
}

// Resolve maps a project name to the token of its deepest matching pair.
func (s *MarketSource) Resolve(ctx context.Context, term string) (TokenRef, error) {
	term = strings.TrimSpace(term)
	var errs []error
	for _, p := range s.providers {
		sr, ok := p.(Searcher)
		if !ok {
			continue
		}
		pairs, err := sr.Search(ctx, term)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if md, ok := SelectPair(pairs, Query{Input: term, Kind: KindProjectName}); ok {
			return md.Token, nil
		}
	}
	if len(errs) > 0 {
		return TokenRef{}, errors.Join(errs...)
	}
	return TokenRef{}, fmt.Errorf("resolve %q: %w", term, ErrNoPair)
}

// SelectPair picks the most liquid pair containing the queried token and
// orients it. Address queries match on address; name queries match the
// symbol or name case-insensitively.
func SelectPair(pairs []Pair, q Query) (*MarketData, bool) {
	best, bestRole := -1, ""
	count := 0
	for i, p := range pairs {
		role := roleOf(p, q)
		if role == "" {
			continue
		}
		count++
		if best < 0 || p.LiquidityUSD > pairs[best].LiquidityUSD {
			best, bestRole = i, role
		}
	}
	if best < 0 {
		return nil, false
	}
	md := Orient(pairs[best], bestRole)
	md.PairCount = count
	return &md, true
}

func roleOf(p Pair, q Query) string {
	if q.Address != "" {
		switch {
		case sameAddress(p.Base.Address, q.Address):
			return RoleBase
		case sameAddress(p.Quote.Address, q.Address):
			return RoleQuote
		}
		return ""
	}
	term := strings.TrimPrefix(strings.TrimSpace(q.SearchTerm()), "$")
	if term == "" {
		return ""
	}
	switch {
	case matchesToken(p.Base, term):
		return RoleBase
	case matchesToken(p.Quote, term):
		return RoleQuote
	}
	return ""
}

func matchesToken(t TokenRef, term string) bool {
	return strings.EqualFold(t.Symbol, term) || strings.EqualFold(t.Name, term)
}

// sameAddress compares base58 addresses exactly and 0x addresses
// case-insensitively.
func sameAddress(a, b string) bool {
	if a == b {
		return true
	}
	if strings.HasPrefix(a, "0x") && strings.HasPrefix(b, "0x") {
		return strings.EqualFold(a, b)
	}
	return false
}

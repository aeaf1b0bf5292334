package report

import (
	"fmt"
	"math"
	"strings"

	"token-analyst/internal/aggregator"
	"token-analyst/internal/sources"
)

// Heuristic thresholds.
const (
	thinLiquidityUSD     = 10_000
	modestLiquidityUSD   = 100_000
	deepLiquidityUSD     = 1_000_000
	concentratedPercent  = 80
	topHeavyPercent      = 50
	crashPercent24h      = -20
	momentumPercent24h   = 5
	bearishSentiment     = -0.3
	bullishSentiment     = 0.1
	activeRepoMaxIdleDay = 30
)

// facts is what the heuristic and the backfill read from a state.
type facts struct {
	token     TokenInfo
	metrics   Metrics
	hasMarket bool
	hasHolder bool
	hasSocial bool
	generated bool
	mintAuth  bool
	freeze    bool
	repo      *sources.RepositoryData
	activity  string
	succeeded int
}

func collect(st *aggregator.State) facts {
	f := facts{
		token: TokenInfo{
			Name:    st.Identity.Name,
			Symbol:  st.Identity.Symbol,
			Address: st.Identity.Address,
		},
		succeeded: st.Succeeded(),
	}
	if f.token.Address == "" {
		f.token.Address = st.Address
	}

	if td := st.TokenData(); td != nil && td.Profile != nil {
		f.token.Name = firstNonEmpty(f.token.Name, td.Profile.Name)
		f.token.Symbol = firstNonEmpty(f.token.Symbol, td.Profile.Symbol)
	}
	if ad := st.AccountData(); ad != nil {
		for _, flag := range ad.RiskFlags {
			switch flag {
			case sources.FlagMintAuthority:
				f.mintAuth = true
			case sources.FlagFreezeAuthority:
				f.freeze = true
			}
		}
		if ad.Metadata != nil {
			f.token.Name = firstNonEmpty(f.token.Name, ad.Metadata.Name)
			f.token.Symbol = firstNonEmpty(f.token.Symbol, ad.Metadata.Symbol)
		}
	}
	if md := st.MarketData(); md != nil && st.Market.Success {
		f.hasMarket = true
		f.metrics.PriceUSD = md.PriceUSD
		f.metrics.LiquidityUSD = md.LiquidityUSD
		f.metrics.Volume24h = md.Volume24h
		f.metrics.PriceChange24h = md.PriceChange.H24
		f.token.Name = firstNonEmpty(f.token.Name, md.Token.Name)
		f.token.Symbol = firstNonEmpty(f.token.Symbol, md.Token.Symbol)
		f.token.Address = firstNonEmpty(f.token.Address, md.Token.Address)
	}
	if oc := st.OnChainData(); oc != nil {
		f.hasHolder = oc.Holders.Success || oc.HolderCount > 0
		f.metrics.HolderCount = oc.HolderCount
		f.metrics.Top10Concentration = oc.Top10Concentration
		f.activity = oc.ActivityLevel
		if !f.hasMarket && oc.LiquidityUSD > 0 {
			f.metrics.LiquidityUSD = oc.LiquidityUSD
			f.metrics.Volume24h = oc.Volume24h
		}
	}
	if sd := st.SocialData(); sd != nil && st.Social.Success {
		f.hasSocial = true
		f.generated = sd.Generated
	}
	if st.Derived.SentimentScore != nil {
		f.metrics.SentimentScore = *st.Derived.SentimentScore
	}
	if st.Repository != nil && st.Repository.Success {
		f.repo = st.RepositoryData()
	}
	return f
}

// riskLevel scores liquidity, holder concentration and authorities.
func (f facts) riskLevel() RiskLevel {
	points := 0
	switch {
	case !f.hasMarket:
		points += 2
	case f.metrics.LiquidityUSD < thinLiquidityUSD:
		points += 2
	case f.metrics.LiquidityUSD < modestLiquidityUSD:
		points++
	}
	if f.hasHolder {
		switch {
		case f.metrics.Top10Concentration > concentratedPercent:
			points += 2
		case f.metrics.Top10Concentration > topHeavyPercent:
			points++
		}
	}
	if f.mintAuth {
		points += 2
	}
	if f.freeze {
		points++
	}
	switch {
	case points >= 4:
		return RiskHigh
	case points >= 2:
		return RiskMedium
	default:
		return RiskLow
	}
}

func (f facts) recommendation(risk RiskLevel) Recommendation {
	m := f.metrics
	switch {
	case risk == RiskHigh:
		return RecommendationAvoid
	case f.hasMarket && m.PriceChange24h <= crashPercent24h,
		f.hasSocial && !f.generated && m.SentimentScore <= bearishSentiment:
		return RecommendationSell
	case f.hasMarket && f.hasSocial && !f.generated &&
		m.PriceChange24h >= momentumPercent24h && m.SentimentScore >= bullishSentiment:
		return RecommendationBuy
	default:
		return RecommendationHold
	}
}

// confidence grows with the share of sources that answered. Heuristic
// reports never claim more than 0.8.
func (f facts) confidence() float64 {
	c := 0.2 + 0.6*float64(f.succeeded)/float64(len(aggregator.Keys))
	return math.Round(math.Min(c, 0.8)*100) / 100
}

func (f facts) strengths() []string {
	out := []string{}
	m := f.metrics
	if f.hasMarket && m.LiquidityUSD >= deepLiquidityUSD {
		out = append(out, fmt.Sprintf("Deep liquidity of $%s", compact(m.LiquidityUSD)))
	}
	if f.hasMarket && m.PriceChange24h >= momentumPercent24h {
		out = append(out, fmt.Sprintf("Positive 24h momentum (%+.1f%%)", m.PriceChange24h))
	}
	if f.hasHolder && m.HolderCount > 0 && m.Top10Concentration <= topHeavyPercent {
		out = append(out, fmt.Sprintf("Distributed holder base (top 10 hold %.1f%%)", m.Top10Concentration))
	}
	if f.hasSocial && !f.generated && m.SentimentScore >= bullishSentiment {
		out = append(out, fmt.Sprintf("Positive social sentiment (%.2f)", m.SentimentScore))
	}
	if f.repo != nil && !f.repo.Archived && f.repo.DaysSincePush <= activeRepoMaxIdleDay {
		out = append(out, fmt.Sprintf("Active GitHub repository %s (%d stars)", f.repo.FullName, f.repo.Stars))
	}
	return out
}

func (f facts) risks() []string {
	out := []string{}
	m := f.metrics
	switch {
	case !f.hasMarket:
		out = append(out, "No DEX market data found")
	case m.LiquidityUSD < thinLiquidityUSD:
		out = append(out, fmt.Sprintf("Thin liquidity of $%s", compact(m.LiquidityUSD)))
	}
	if f.hasMarket && m.PriceChange24h <= crashPercent24h {
		out = append(out, fmt.Sprintf("Sharp 24h decline (%+.1f%%)", m.PriceChange24h))
	}
	if f.hasHolder && m.Top10Concentration > topHeavyPercent {
		out = append(out, fmt.Sprintf("Top 10 holders control %.1f%% of supply", m.Top10Concentration))
	}
	if f.mintAuth {
		out = append(out, "Mint authority is still active")
	}
	if f.freeze {
		out = append(out, "Freeze authority is still active")
	}
	if f.generated {
		out = append(out, "Social metrics are estimated, not measured")
	}
	if f.repo != nil && f.repo.Archived {
		out = append(out, "GitHub repository is archived")
	}
	return out
}

func (f facts) summary(rec Recommendation, risk RiskLevel) string {
	name := firstNonEmpty(f.token.Symbol, f.token.Name, f.token.Address, "The token")
	var sb strings.Builder
	if f.hasMarket {
		fmt.Fprintf(&sb, "%s trades at $%s with $%s liquidity and a %+.1f%% 24h change.",
			name, price(f.metrics.PriceUSD), compact(f.metrics.LiquidityUSD), f.metrics.PriceChange24h)
	} else {
		fmt.Fprintf(&sb, "No market listing was found for %s.", name)
	}
	fmt.Fprintf(&sb, " Heuristic verdict %s at %s risk from %d of %d sources.",
		rec, risk, f.succeeded, len(aggregator.Keys))
	return sb.String()
}

// compact formats large USD amounts as 1.2K, 3.4M, 5.6B.
func compact(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}

// price keeps significant digits for sub-cent tokens.
func price(v float64) string {
	if v != 0 && math.Abs(v) < 0.01 {
		return fmt.Sprintf("%.4g", v)
	}
	return fmt.Sprintf("%.2f", v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

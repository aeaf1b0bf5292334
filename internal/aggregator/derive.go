package aggregator

import "math"

// Derived holds fields computed across adapters.
type Derived struct {
	SentimentScore *float64 `json:"sentimentScore"`
	Blended        bool     `json:"blended"`
}

// BlendSentiment nudges a social sentiment score by the 24h price change:
// clamp(base + clamp(pct/50, -0.5, 0.5), -1, 1).
func BlendSentiment(base, pct24h float64) float64 {
	return clamp(base+clamp(pct24h/50, -0.5, 0.5), -1, 1)
}

// Derive computes the derived block of st. The score is blended only when
// both a social score and a market price change exist. A generated social
// payload carries no real sentiment and yields no score.
func Derive(st *State) Derived {
	social := st.SocialData()
	if social == nil || !st.Social.Success || social.Generated {
		return Derived{}
	}
	score := social.SentimentScore
	md := st.MarketData()
	if md == nil || !st.Market.Success {
		return Derived{SentimentScore: &score}
	}
	blended := math.Round(BlendSentiment(score, md.PriceChange.H24)*1000) / 1000
	return Derived{SentimentScore: &blended, Blended: true}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Package report turns an aggregated state into an investment style report
// with the help of a language model.
package report

import "time"

// Recommendation is the report verdict.
type Recommendation string

const (
	RecommendationBuy   Recommendation = "BUY"
	RecommendationHold  Recommendation = "HOLD"
	RecommendationSell  Recommendation = "SELL"
	RecommendationAvoid Recommendation = "AVOID"
)

// Valid reports whether r is a known recommendation.
func (r Recommendation) Valid() bool {
	switch r {
	case RecommendationBuy, RecommendationHold, RecommendationSell, RecommendationAvoid:
		return true
	}
	return false
}

// RiskLevel grades the overall risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Valid reports whether l is a known risk level.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// TokenInfo identifies the analysed token.
type TokenInfo struct {
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
}

// Metrics are the headline numbers, always taken from the aggregated state.
type Metrics struct {
	PriceUSD           float64 `json:"priceUsd"`
	LiquidityUSD       float64 `json:"liquidityUsd"`
	Volume24h          float64 `json:"volume24h"`
	PriceChange24h     float64 `json:"priceChange24h"`
	HolderCount        int     `json:"holderCount"`
	Top10Concentration float64 `json:"top10Concentration"`
	SentimentScore     float64 `json:"sentimentScore"`
}

// Report is the synthesized analysis. Every field is always present.
type Report struct {
	Token          TokenInfo       `json:"token"`
	Recommendation Recommendation  `json:"recommendation"`
	Confidence     float64         `json:"confidence"`
	RiskLevel      RiskLevel       `json:"riskLevel"`
	Summary        string          `json:"summary"`
	Strengths      []string        `json:"strengths"`
	Risks          []string        `json:"risks"`
	Metrics        Metrics         `json:"metrics"`
	SourceStatus   map[string]bool `json:"sourceStatus"`
	Backfilled     bool            `json:"backfilled"`
	GeneratedAt    time.Time       `json:"generatedAt"`
}

// DisplayName is the symbol, name or address of the token, whichever is
// known first.
func (r *Report) DisplayName() string {
	switch {
	case r.Token.Symbol != "":
		return r.Token.Symbol
	case r.Token.Name != "":
		return r.Token.Name
	default:
		return r.Token.Address
	}
}

// Exchange is one follow-up question and its answer.
type Exchange struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"askedAt"`
}

package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-analyst/internal/aggregator"
	"token-analyst/internal/llm"
	"token-analyst/internal/sources"
)

func entry(tag string, data any) *aggregator.Entry {
	return &aggregator.Entry{Result: sources.OK(tag, sources.DataSourceLive, data)}
}

func ptr[T any](v T) *T { return &v }

func healthyState() *aggregator.State {
	return &aggregator.State{
		Input:     "bonk",
		InputType: sources.KindProjectName,
		Address:   "BonkMint",
		Identity:  sources.TokenRef{Address: "BonkMint", Name: "Bonk", Symbol: "BONK"},
		Market: entry(aggregator.KeyMarket, &sources.MarketData{
			Token:        sources.TokenRef{Address: "BonkMint", Symbol: "BONK"},
			PriceUSD:     0.00002,
			LiquidityUSD: 2_500_000,
			Volume24h:    900_000,
			PriceChange:  sources.PriceChange{H24: 12},
		}),
		OnChain: entry(aggregator.KeyOnChain, sources.OnChainData{
			Holders:            sources.OK("holders", sources.DataSourceLive, nil),
			HolderCount:        1500,
			Top10Concentration: 30,
		}),
		Social:  entry(aggregator.KeySocial, sources.SocialData{SentimentScore: 0.2}),
		Derived: aggregator.Derived{SentimentScore: ptr(0.44), Blended: true},
	}
}

func riskyState() *aggregator.State {
	return &aggregator.State{
		Input:     "Mint111",
		InputType: sources.KindContractAddress,
		Address:   "Mint111",
		Identity:  sources.TokenRef{Address: "Mint111"},
		Contract: entry(aggregator.KeyContract, &sources.AccountData{
			Kind:      sources.AccountMint,
			RiskFlags: []string{sources.FlagMintAuthority},
		}),
		Market: entry(aggregator.KeyMarket, &sources.MarketData{LiquidityUSD: 5_000, PriceUSD: 1}),
		Social: &aggregator.Entry{
			Result: sources.Fail(aggregator.KeySocial, errors.New("down"), nil),
			Detail: "down",
		},
	}
}

func fixedSynth(c llm.Completer) *Synthesizer {
	s := NewSynthesizer(c)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func reply(text string) llm.Completer {
	return llm.CompleterFunc(func(context.Context, string) (string, error) { return text, nil })
}

func TestSynthesize_UsesModelReply(t *testing.T) {
	var prompt string
	c := llm.CompleterFunc(func(_ context.Context, p string) (string, error) {
		prompt = p
		return "```json\n" + `{"recommendation":"hold","confidence":0.65,"riskLevel":"MEDIUM",
			"summary":"Liquid meme coin.","strengths":["liquid"],"risks":["meme"," "]}` + "\n```", nil
	})

	r := fixedSynth(c).Synthesize(context.Background(), healthyState())

	assert.Contains(t, prompt, `"resolvedAddress":"BonkMint"`)
	assert.Equal(t, RecommendationHold, r.Recommendation)
	assert.Equal(t, 0.65, r.Confidence)
	assert.Equal(t, RiskMedium, r.RiskLevel)
	assert.Equal(t, "Liquid meme coin.", r.Summary)
	assert.Equal(t, []string{"liquid"}, r.Strengths)
	assert.Equal(t, []string{"meme"}, r.Risks)
	assert.False(t, r.Backfilled)

	assert.Equal(t, TokenInfo{Name: "Bonk", Symbol: "BONK", Address: "BonkMint"}, r.Token)
	assert.Equal(t, 2_500_000.0, r.Metrics.LiquidityUSD)
	assert.Equal(t, 1500, r.Metrics.HolderCount)
	assert.Equal(t, 0.44, r.Metrics.SentimentScore)
	assert.True(t, r.SourceStatus[aggregator.KeyMarket])
	assert.False(t, r.SourceStatus[aggregator.KeyContract])
	assert.Len(t, r.SourceStatus, len(aggregator.Keys))
}

func TestSynthesize_BackfillsInvalidFields(t *testing.T) {
	r := fixedSynth(reply(`Sure: {"recommendation":"MOON","riskLevel":"LOW","summary":""}`)).
		Synthesize(context.Background(), healthyState())

	assert.True(t, r.Backfilled)
	assert.Equal(t, RecommendationBuy, r.Recommendation, "heuristic verdict replaces an unknown one")
	assert.Equal(t, RiskLow, r.RiskLevel, "valid model field kept")
	assert.NotEmpty(t, r.Summary)
	assert.InDelta(t, 0.5, r.Confidence, 1e-9)
	assert.NotNil(t, r.Strengths)
	assert.NotNil(t, r.Risks)
}

func TestSynthesize_NoJSONFallsBack(t *testing.T) {
	r := fixedSynth(reply("I cannot help with that.")).Synthesize(context.Background(), healthyState())

	assert.True(t, r.Backfilled)
	assert.Equal(t, RecommendationBuy, r.Recommendation)
}

func TestSynthesize_ModelErrorUsesHeuristic(t *testing.T) {
	r := fixedSynth(llm.Unavailable(errors.New("quota"))).Synthesize(context.Background(), riskyState())

	assert.True(t, r.Backfilled)
	assert.Equal(t, RecommendationAvoid, r.Recommendation)
	assert.Equal(t, RiskHigh, r.RiskLevel)
	assert.InDelta(t, 0.4, r.Confidence, 1e-9)
	assert.Contains(t, r.Risks, "Mint authority is still active")
	assert.Contains(t, r.Risks, "Thin liquidity of $5.0K")
	assert.Empty(t, r.Strengths)
	assert.NotNil(t, r.Strengths)
	assert.Equal(t, "Mint111", r.Token.Address)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), r.GeneratedAt)
}

func TestSynthesize_EmptyState(t *testing.T) {
	r := NewSynthesizer(nil).Synthesize(context.Background(), &aggregator.State{Input: "nothing"})

	assert.Equal(t, RecommendationHold, r.Recommendation)
	assert.Equal(t, RiskMedium, r.RiskLevel)
	assert.Contains(t, r.Risks, "No DEX market data found")
	assert.Contains(t, r.Summary, "No market listing")
}

func TestHeuristic_SellOnCrash(t *testing.T) {
	st := healthyState()
	st.Market.Data.(*sources.MarketData).PriceChange.H24 = -35
	f := collect(st)
	assert.Equal(t, RecommendationSell, f.recommendation(f.riskLevel()))
}

func TestHeuristic_GeneratedSocialDoesNotDriveVerdict(t *testing.T) {
	synth := fixedSynth(nil)
	for _, score := range []float64{-0.9, -0.2, 0, 0.14, 0.5, 0.9} {
		st := healthyState()
		st.Social = entry(aggregator.KeySocial, sources.SocialData{SentimentScore: score, Generated: true})
		st.Derived = aggregator.Derive(st)

		r := synth.Synthesize(context.Background(), st)
		require.NotNil(t, r)
		assert.Equal(t, RecommendationHold, r.Recommendation, "score %.2f", score)
		assert.Zero(t, r.Metrics.SentimentScore)
	}

	// A stale derived score next to a generated payload is ignored as well.
	st := healthyState()
	st.Social = entry(aggregator.KeySocial, sources.SocialData{SentimentScore: 0.4, Generated: true})
	f := collect(st)
	assert.Equal(t, RecommendationHold, f.recommendation(f.riskLevel()))
}

func TestAnswer(t *testing.T) {
	r := fixedSynth(nil).Synthesize(context.Background(), healthyState())

	var prompt string
	s := fixedSynth(llm.CompleterFunc(func(_ context.Context, p string) (string, error) {
		prompt = p
		return " Liquidity is deep. ", nil
	}))
	history := []Exchange{{Question: "Is it safe?", Answer: "Moderately."}}

	got := s.Answer(context.Background(), r, history, "How liquid is it?")

	assert.Equal(t, "Liquidity is deep.", got)
	assert.Contains(t, prompt, "Q: Is it safe?\nA: Moderately.")
	assert.True(t, strings.HasSuffix(prompt, "Q: How liquid is it?\nA:"))
}

func TestAnswer_Fallbacks(t *testing.T) {
	s := fixedSynth(llm.Unavailable(errors.New("down")))
	r := s.Synthesize(context.Background(), riskyState())

	got := s.Answer(context.Background(), r, nil, "why?")
	assert.Contains(t, got, "recommends AVOID")
	assert.Contains(t, got, "Mint authority is still active")

	assert.Contains(t, s.Answer(context.Background(), nil, nil, "why?"), "Analyze a token first")
}

func TestRenderMarkdown(t *testing.T) {
	r := fixedSynth(nil).Synthesize(context.Background(), healthyState())
	md := RenderMarkdown(r)

	assert.True(t, strings.HasPrefix(md, "# Token Report: BONK\n"))
	assert.Contains(t, md, "| **BUY** |")
	assert.Contains(t, md, "| Liquidity (USD) | 2.5M |")
	assert.Contains(t, md, "| Price (USD) | 2e-05 |")
	assert.Contains(t, md, "## Strengths\n\n- Deep liquidity of $2.5M\n")
	assert.Contains(t, md, "- market: OK\n")
	assert.Contains(t, md, "- contract: FAIL\n")
}

func TestCompact(t *testing.T) {
	assert.Equal(t, "950", compact(950))
	assert.Equal(t, "1.5K", compact(1500))
	assert.Equal(t, "2.5M", compact(2_500_000))
	assert.Equal(t, "3.0B", compact(3e9))
}

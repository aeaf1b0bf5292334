package sources

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// OnChainData combines the transaction, holder and liquidity views of a
// token and lifts their headline numbers.
type OnChainData struct {
	Transactions Result `json:"transactions"`
	Holders      Result `json:"holders"`
	Liquidity    Result `json:"liquidity"`

	TxCount24h         int     `json:"txCount24h"`
	ActivityLevel      string  `json:"activityLevel"`
	HolderCount        int     `json:"holderCount"`
	Top10Concentration float64 `json:"top10Concentration"`
	WhaleCount         int     `json:"whaleCount"`
	LiquidityUSD       float64 `json:"liquidityUsd"`
	Volume24h          float64 `json:"volume24h"`
}

// OnChainSource runs its three sub-analyses concurrently. It succeeds when
// at least one of them does.
type OnChainSource struct {
	transactions Adapter
	holders      Adapter
	liquidity    Adapter
}

// NewOnChainSource creates an OnChainSource. liquidity is expected to
// return *MarketData.
func NewOnChainSource(transactions, holders, liquidity Adapter) *OnChainSource {
	return &OnChainSource{transactions: transactions, holders: holders, liquidity: liquidity}
}

// Analyze implements Adapter.
func (s *OnChainSource) Analyze(ctx context.Context, q Query) Result {
	if q.Address == "" {
		return Fail("onchain", ErrNoAddress, nil)
	}

	var data OnChainData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data.Transactions = Safe(gctx, "transactions", s.transactions, q)
		return nil
	})
	g.Go(func() error {
		data.Holders = Safe(gctx, "holders", s.holders, q)
		return nil
	})
	g.Go(func() error {
		data.Liquidity = Safe(gctx, "liquidity", s.liquidity, q)
		return nil
	})
	_ = g.Wait()

	data.lift()

	if !data.Transactions.Success && !data.Holders.Success && !data.Liquidity.Success {
		return Fail("onchain", errors.New("all on-chain analyses failed"), data)
	}
	return OK("onchain", DataSourceLive, data)
}

// lift copies headline numbers out of the sub-results, including partial
// payloads of failed ones.
func (d *OnChainData) lift() {
	switch tx := d.Transactions.Data.(type) {
	case TransactionData:
		d.TxCount24h = tx.Count24h
		d.ActivityLevel = tx.ActivityLevel
	case *TransactionData:
		d.TxCount24h = tx.Count24h
		d.ActivityLevel = tx.ActivityLevel
	}
	if d.ActivityLevel == "" {
		d.ActivityLevel = ActivityInactive
	}

	switch h := d.Holders.Data.(type) {
	case HolderData:
		d.liftHolders(h)
	case *HolderData:
		d.liftHolders(*h)
	}

	if md, ok := d.Liquidity.Data.(*MarketData); ok && md != nil {
		d.LiquidityUSD = md.LiquidityUSD
		d.Volume24h = md.Volume24h
	}
}

func (d *OnChainData) liftHolders(h HolderData) {
	d.HolderCount = h.Summary.UniqueHolders
	d.Top10Concentration = round(h.Summary.ConcentrationPercent, 2)
	d.WhaleCount = h.Summary.WhaleCount
}

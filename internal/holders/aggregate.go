package holders

import "sort"

// TopN is the length of the top holder list.
const TopN = 10

// Holder is one owner with its summed balance.
type Holder struct {
	Owner   string  `json:"owner"`
	Balance float64 `json:"balance"`
	Percent float64 `json:"percent"` // of the supply estimate
}

// Bucket is one distribution bucket. Bounds are absolute balances,
// inclusive lower and exclusive upper; nil means unbounded.
type Bucket struct {
	Label      string   `json:"label"`
	LowerBound *float64 `json:"lowerBound,omitempty"`
	UpperBound *float64 `json:"upperBound,omitempty"`
	Count      int      `json:"count"`
}

func (b Bucket) contains(balance float64) bool {
	if b.LowerBound != nil && balance < *b.LowerBound {
		return false
	}
	if b.UpperBound != nil && balance >= *b.UpperBound {
		return false
	}
	return true
}

// Aggregate is the holder summary derived from a Collection.
type Aggregate struct {
	UniqueHolders        int                `json:"uniqueHolders"`
	Balances             map[string]float64 `json:"-"`
	Top10                []Holder           `json:"top10"`
	ConcentrationPercent float64            `json:"concentrationPercent"`
	Distribution         []Bucket           `json:"distribution"`
	TotalSupplyEstimate  float64            `json:"totalSupplyEstimate"`
	WhaleCount           int                `json:"whaleCount"` // owners in the >=1% bucket
}

// bucketPercents are the lower bounds, in percent of supply, of the first
// three buckets. The last bucket has no lower bound.
var bucketPercents = []struct {
	label string
	pct   float64
}{
	{">=1%", 1},
	{"0.1-1%", 0.1},
	{"0.01-0.1%", 0.01},
	{"<0.01%", 0},
}

// Summarize aggregates c. Owners with several accounts are summed; the top
// list is ordered by balance and, for equal balances, by first appearance.
func Summarize(c *Collection) Aggregate {
	agg := Aggregate{
		Balances:            make(map[string]float64),
		TotalSupplyEstimate: c.TotalSupplyEstimate,
	}

	var order []string
	for _, rec := range c.Records {
		if rec.Owner == "" {
			continue
		}
		if _, seen := agg.Balances[rec.Owner]; !seen {
			order = append(order, rec.Owner)
		}
		agg.Balances[rec.Owner] += rec.Amount()
	}
	agg.UniqueHolders = len(order)

	ranked := make([]Holder, len(order))
	for i, owner := range order {
		ranked[i] = Holder{
			Owner:   owner,
			Balance: agg.Balances[owner],
			Percent: percentOf(agg.Balances[owner], c.TotalSupplyEstimate),
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Balance > ranked[j].Balance
	})

	n := min(TopN, len(ranked))
	agg.Top10 = append([]Holder{}, ranked[:n]...)
	var topSum float64
	for _, h := range agg.Top10 {
		topSum += h.Balance
	}
	agg.ConcentrationPercent = percentOf(topSum, c.TotalSupplyEstimate)

	agg.Distribution = buckets(c.TotalSupplyEstimate)
	for _, owner := range order {
		balance := agg.Balances[owner]
		for i := range agg.Distribution {
			if agg.Distribution[i].contains(balance) {
				agg.Distribution[i].Count++
				break
			}
		}
	}
	agg.WhaleCount = agg.Distribution[0].Count

	return agg
}

// buckets builds the fixed distribution with bounds derived from supply.
// The last bucket is unbounded below so every owner lands somewhere.
func buckets(supply float64) []Bucket {
	out := make([]Bucket, len(bucketPercents))
	var upper *float64
	for i, bp := range bucketPercents {
		out[i] = Bucket{Label: bp.label, UpperBound: upper}
		if i < len(bucketPercents)-1 {
			lower := supply * bp.pct / 100
			out[i].LowerBound = &lower
			upper = &lower
		}
	}
	return out
}

func percentOf(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return part / total * 100
}

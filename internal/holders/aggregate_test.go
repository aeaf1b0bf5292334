package holders

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectionOf(records ...AccountRecord) *Collection {
	c := NewCollection()
	c.Add(records)
	return c
}

func rec(owner string, amount uint64) AccountRecord {
	return AccountRecord{Owner: owner, Account: "acc-" + owner, RawAmount: amount}
}

func TestSummarize_SumsPerOwner(t *testing.T) {
	agg := Summarize(collectionOf(
		rec("a", 10),
		rec("b", 5),
		rec("a", 15),
	))

	assert.Equal(t, 2, agg.UniqueHolders)
	assert.InDelta(t, 25.0, agg.Balances["a"], 1e-9)
	assert.InDelta(t, 5.0, agg.Balances["b"], 1e-9)
	require.Len(t, agg.Top10, 2)
	assert.Equal(t, "a", agg.Top10[0].Owner)
	assert.InDelta(t, 100.0, agg.ConcentrationPercent, 1e-9)
}

func TestSummarize_TopTenStableOnTies(t *testing.T) {
	var records []AccountRecord
	for i := 0; i < 15; i++ {
		records = append(records, rec(fmt.Sprintf("tie-%02d", i), 100))
	}
	records = append(records, rec("whale", 1000))

	agg := Summarize(collectionOf(records...))

	require.Len(t, agg.Top10, TopN)
	assert.Equal(t, "whale", agg.Top10[0].Owner)
	for i := 1; i < TopN; i++ {
		assert.Equal(t, fmt.Sprintf("tie-%02d", i-1), agg.Top10[i].Owner, "ties keep arrival order")
	}
}

func TestSummarize_TopLengthIsMinOfTenAndHolders(t *testing.T) {
	for _, n := range []int{0, 1, 9, 10, 11, 40} {
		var records []AccountRecord
		for i := 0; i < n; i++ {
			records = append(records, rec(fmt.Sprintf("o%d", i), uint64(i+1)))
		}
		agg := Summarize(collectionOf(records...))
		assert.Len(t, agg.Top10, min(10, n), "n=%d", n)
		assert.Equal(t, n, agg.UniqueHolders)
	}
}

func TestSummarize_BucketsCoverEveryOwnerOnce(t *testing.T) {
	// supply 10000: >=1% is >=100, 0.1-1% is [10,100), 0.01-0.1% is [1,10)
	agg := Summarize(collectionOf(
		rec("big", 9000),
		rec("edge1", 100),
		rec("mid", 50),
		rec("edge01", 10),
		rec("small", 5),
		rec("edge001", 1),
		rec("dust", 0),
		rec("rest", 834),
	))

	require.Len(t, agg.Distribution, 4)
	counts := map[string]int{}
	total := 0
	for _, b := range agg.Distribution {
		counts[b.Label] = b.Count
		total += b.Count
	}

	assert.Equal(t, agg.UniqueHolders, total)
	assert.Equal(t, 3, counts[">=1%"])     // big, edge1, rest
	assert.Equal(t, 2, counts["0.1-1%"])   // mid, edge01
	assert.Equal(t, 2, counts["0.01-0.1%"]) // small, edge001
	assert.Equal(t, 1, counts["<0.01%"])   // dust
	assert.Equal(t, 3, agg.WhaleCount)

	first := agg.Distribution[0]
	require.NotNil(t, first.LowerBound)
	assert.Nil(t, first.UpperBound)
	assert.InDelta(t, 100.0, *first.LowerBound, 1e-9)
	assert.Nil(t, agg.Distribution[3].LowerBound)
}

func TestSummarize_EmptyCollection(t *testing.T) {
	agg := Summarize(collectionOf())

	assert.Zero(t, agg.UniqueHolders)
	assert.Empty(t, agg.Top10)
	assert.Zero(t, agg.ConcentrationPercent)
	total := 0
	for _, b := range agg.Distribution {
		total += b.Count
	}
	assert.Zero(t, total)
}

func TestSummarize_DecimalsScaleBalances(t *testing.T) {
	agg := Summarize(collectionOf(
		AccountRecord{Owner: "a", RawAmount: 2_500_000, Decimals: 6},
	))

	assert.InDelta(t, 2.5, agg.Balances["a"], 1e-9)
	assert.InDelta(t, 2.5, agg.TotalSupplyEstimate, 1e-9)
}

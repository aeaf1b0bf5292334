package holders

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-analyst/internal/retry"
)

func noSleep(context.Context, time.Duration) error { return nil }

func testCollector(maxAttempts int) *Collector {
	r := retry.New("test", retry.Policy{
		MaxAttempts:   maxAttempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		MinDelay:      time.Millisecond,
		BackoffFactor: 2,
		JitterFactor:  0.1,
	}, retry.WithSleep(noSleep))
	return NewCollector(r, WithSleep(noSleep))
}

// pageSource serves fixed page sizes and records requested page numbers.
type pageSource struct {
	sizes     []int
	requested []int
	fail      map[int]error
}

func (s *pageSource) fetch(_ context.Context, page, size int) (Page, error) {
	s.requested = append(s.requested, page)
	if err, ok := s.fail[page]; ok {
		return Page{}, err
	}
	n := 0
	if page-1 < len(s.sizes) {
		n = s.sizes[page-1]
	}
	items := make([]AccountRecord, n)
	for i := range items {
		items[i] = AccountRecord{
			Owner:     fmt.Sprintf("owner-%d-%d", page, i),
			Account:   fmt.Sprintf("acct-%d-%d", page, i),
			RawAmount: 1_000_000,
			Decimals:  6,
		}
	}
	return Page{Number: page, Size: size, Items: items}, nil
}

func TestCollect_StopsAtShortPage(t *testing.T) {
	src := &pageSource{sizes: []int{5, 5, 3, 5, 5}}

	col, err := testCollector(1).Collect(context.Background(), src.fetch, Config{PageSize: 5})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, src.requested, "no page after the short page")
	assert.Len(t, col.Records, 13)
	assert.Equal(t, 13, col.UniqueKeyCount())
	assert.False(t, col.HasMorePages)
	assert.Equal(t, 3, col.PagesFetched)
}

func TestCollect_MaxPagesLimitsFetches(t *testing.T) {
	src := &pageSource{sizes: []int{4, 4, 4, 4, 4, 4, 4, 4, 4, 4}}

	col, err := testCollector(1).Collect(context.Background(), src.fetch, Config{PageSize: 4, MaxPages: 3})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, src.requested)
	assert.Len(t, col.Records, 12)
	assert.True(t, col.HasMorePages)
}

func TestCollect_FullPagesThenEmptyPage(t *testing.T) {
	src := &pageSource{sizes: []int{10, 10, 10, 0}}

	col, err := testCollector(1).Collect(context.Background(), src.fetch, Config{PageSize: 10})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4}, src.requested)
	assert.False(t, col.HasMorePages)
	assert.Len(t, col.Records, 30)
	assert.InDelta(t, 30.0, col.TotalSupplyEstimate, 1e-9)
}

func TestCollect_DelayOnlyBetweenPages(t *testing.T) {
	src := &pageSource{sizes: []int{2, 2, 1}}
	var sleeps []time.Duration

	c := NewCollector(retry.New("test", retry.Policy{}, retry.WithSleep(noSleep)),
		WithSleep(func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		}))

	_, err := c.Collect(context.Background(), src.fetch, Config{PageSize: 2, DelayBetweenPages: 300 * time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{300 * time.Millisecond, 300 * time.Millisecond}, sleeps)
}

func TestCollect_RetriesPageThenSucceeds(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context, page, size int) (Page, error) {
		calls++
		if calls == 1 {
			return Page{}, errors.New("connection reset")
		}
		return Page{Number: page, Items: []AccountRecord{{Owner: "a", RawAmount: 1}}}, nil
	}

	col, err := testCollector(2).Collect(context.Background(), fetch, Config{PageSize: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, col.Records, 1)
}

func TestCollect_PartialDataOnExhaustion(t *testing.T) {
	boom := errors.New("upstream down")
	src := &pageSource{sizes: []int{3, 3, 3, 3}, fail: map[int]error{3: boom}}

	col, err := testCollector(2).Collect(context.Background(), src.fetch, Config{PageSize: 3})

	var pe *PartialError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Page)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, col)
	assert.Len(t, col.Records, 6, "pages before the failure are preserved")
	assert.Equal(t, 2, col.PagesFetched)
	assert.Equal(t, []int{1, 2, 3, 3, 3}, src.requested)
}

func TestCollect_SkipsRecordsWithoutOwner(t *testing.T) {
	fetch := func(ctx context.Context, page, size int) (Page, error) {
		return Page{Items: []AccountRecord{
			{Owner: "a", RawAmount: 5},
			{Owner: "", RawAmount: 100},
			{Owner: "b", RawAmount: 7},
		}}, nil
	}

	col, err := testCollector(1).Collect(context.Background(), fetch, Config{PageSize: 10})
	require.NoError(t, err)

	assert.Equal(t, 1, col.Skipped)
	assert.Equal(t, 2, col.UniqueKeyCount())
	assert.InDelta(t, 12.0, col.TotalSupplyEstimate, 1e-9)
}

func TestCollect_WritesSnapshots(t *testing.T) {
	dir := t.TempDir()
	src := &pageSource{sizes: []int{2, 1}}

	_, err := testCollector(1).Collect(context.Background(), src.fetch, Config{
		Source:      "mintX",
		PageSize:    2,
		SnapshotDir: dir,
	})
	require.NoError(t, err)

	for _, name := range []string{"mintX-page-0001.json", "mintX-page-0002.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestCollect_ContextCanceledDuringPacing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &pageSource{sizes: []int{2, 2, 2}}

	c := NewCollector(retry.New("test", retry.Policy{}), WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	col, err := c.Collect(ctx, src.fetch, Config{PageSize: 2, DelayBetweenPages: time.Second})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, col.Records, 2)
}

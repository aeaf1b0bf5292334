// Package sessiontest holds the behaviour every session.Store backend must
// share.
package sessiontest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-analyst/internal/report"
	"token-analyst/internal/session"
)

// Run exercises store against the session.Store contract.
func Run(t *testing.T, store session.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("create then get", func(t *testing.T) {
		created, err := store.Create(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)

		got, err := store.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Empty(t, got.Trades)
		assert.Nil(t, got.LastReport)
	})

	t.Run("save round trip", func(t *testing.T) {
		sess, err := store.Create(ctx)
		require.NoError(t, err)

		at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		sess.LastQuery = "bonk"
		sess.LastReport = &report.Report{
			Token:          report.TokenInfo{Symbol: "BONK", Address: "BonkMint"},
			Recommendation: report.RecommendationHold,
			Confidence:     0.5,
			RiskLevel:      report.RiskMedium,
			Summary:        "ok",
			Strengths:      []string{"liquid"},
			Risks:          []string{},
			SourceStatus:   map[string]bool{"market": true, "social": false},
			GeneratedAt:    at,
		}
		sess.Trades = append(sess.Trades, session.Trade{ID: "t1", Token: "BONK", Side: session.SideBuy, PriceUSD: 0.00002, AmountUSD: 100, ExecutedAt: at, Simulated: true})
		sess.History = append(sess.History, report.Exchange{Question: "q", Answer: "a", AskedAt: at})
		sess.UpdatedAt = at
		require.NoError(t, store.Save(ctx, sess))

		got, err := store.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, "bonk", got.LastQuery)
		require.NotNil(t, got.LastReport)
		assert.Equal(t, report.RecommendationHold, got.LastReport.Recommendation)
		assert.Equal(t, map[string]bool{"market": true, "social": false}, got.LastReport.SourceStatus)
		assert.True(t, got.LastReport.GeneratedAt.Equal(at))
		require.Len(t, got.Trades, 1)
		assert.Equal(t, 0.00002, got.Trades[0].PriceUSD)
		require.Len(t, got.History, 1)
		assert.Equal(t, "a", got.History[0].Answer)
	})

	t.Run("returned sessions are copies", func(t *testing.T) {
		sess, err := store.Create(ctx)
		require.NoError(t, err)
		sess.LastQuery = "kept"
		require.NoError(t, store.Save(ctx, sess))

		got, err := store.Get(ctx, sess.ID)
		require.NoError(t, err)
		got.LastQuery = "mutated"
		got.Trades = append(got.Trades, session.Trade{ID: "x"})

		again, err := store.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, "kept", again.LastQuery)
		assert.Empty(t, again.Trades)
	})

	t.Run("delete", func(t *testing.T) {
		sess, err := store.Create(ctx)
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, sess.ID))
		_, err = store.Get(ctx, sess.ID)
		assert.ErrorIs(t, err, session.ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, sess.ID), session.ErrNotFound)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := store.Get(ctx, "does-not-exist")
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("get or create", func(t *testing.T) {
		fresh, err := session.GetOrCreate(ctx, store, "")
		require.NoError(t, err)

		same, err := session.GetOrCreate(ctx, store, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, fresh.ID, same.ID)

		other, err := session.GetOrCreate(ctx, store, "unknown")
		require.NoError(t, err)
		assert.NotEqual(t, "unknown", other.ID)
	})
}

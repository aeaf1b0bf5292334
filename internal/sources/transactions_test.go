package sources

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-analyst/internal/solana"
	"token-analyst/internal/solana/stub"
)

func ptr[T any](v T) *T { return &v }

func seedSignatures(rpc *stub.RPCClient, address string, now time.Time, n int, spacing time.Duration) {
	sigs := make([]solana.SignatureInfo, n)
	for i := range sigs {
		sigs[i] = solana.SignatureInfo{
			Signature: fmt.Sprintf("sig-%03d", i),
			Slot:      int64(1000 - i),
			BlockTime: ptr(now.Add(-time.Duration(i) * spacing).Unix()),
		}
	}
	rpc.AddSignatures(address, sigs)
}

func txSource(rpc solana.RPCClient, cfg TransactionSourceConfig, now time.Time) *TransactionSource {
	s := NewTransactionSource(rpc, fastRetrier(1), cfg)
	s.now = func() time.Time { return now }
	return s
}

func TestActivityLevel(t *testing.T) {
	assert.Equal(t, ActivityInactive, ActivityLevel(0))
	assert.Equal(t, ActivityLow, ActivityLevel(1))
	assert.Equal(t, ActivityMedium, ActivityLevel(50))
	assert.Equal(t, ActivityHigh, ActivityLevel(500))
}

func TestTransactionSource_PagesWithBeforeCursor(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rpc := stub.NewRPCClient()
	seedSignatures(rpc, "mint", now, 25, 10*time.Minute)

	res := txSource(rpc, TransactionSourceConfig{PageSize: 10, MaxPages: 5}, now).
		Analyze(context.Background(), Query{Address: "mint"})

	require.True(t, res.Success, res.Error)
	data := res.Data.(TransactionData)
	assert.Equal(t, 25, data.SignatureCount)
	assert.Equal(t, 3, rpc.Calls("getSignaturesForAddress"))
	assert.False(t, data.Truncated)
	assert.Equal(t, 7, data.Count1h) // 0..60 minutes inclusive
	assert.Equal(t, 25, data.Count24h)
	assert.Equal(t, ActivityLow, data.ActivityLevel)
	assert.InDelta(t, 600.0, data.AvgIntervalSecs, 1e-9)
	assert.Equal(t, now.Unix(), data.LastSeen)
}

func TestTransactionSource_TruncatesAtMaxPages(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rpc := stub.NewRPCClient()
	seedSignatures(rpc, "mint", now, 50, time.Minute)

	res := txSource(rpc, TransactionSourceConfig{PageSize: 10, MaxPages: 2}, now).
		Analyze(context.Background(), Query{Address: "mint"})

	require.True(t, res.Success)
	data := res.Data.(TransactionData)
	assert.Equal(t, 20, data.SignatureCount)
	assert.True(t, data.Truncated)
}

func TestTransactionSource_SamplesSuccessfulTransactions(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rpc := stub.NewRPCClient()
	rpc.AddSignatures("mint", []solana.SignatureInfo{
		{Signature: "a", BlockTime: ptr(now.Unix())},
		{Signature: "b", BlockTime: ptr(now.Unix()), Err: map[string]any{"InstructionError": 1}},
		{Signature: "c", BlockTime: ptr(now.Unix())},
	})
	rpc.AddTransaction(&solana.Transaction{Signature: "a", Meta: &solana.TransactionMeta{Fee: 5000}, Message: &solana.TransactionMessage{AccountKeys: []string{"payer1"}}})
	rpc.AddTransaction(&solana.Transaction{Signature: "c", Meta: &solana.TransactionMeta{Fee: 7000}, Message: &solana.TransactionMessage{AccountKeys: []string{"payer2"}}})

	res := txSource(rpc, TransactionSourceConfig{Sample: 5}, now).Analyze(context.Background(), Query{Address: "mint"})

	require.True(t, res.Success)
	data := res.Data.(TransactionData)
	assert.Equal(t, 1, data.FailedCount)
	assert.InDelta(t, 0.3333, data.FailureRate, 1e-9)
	assert.Equal(t, 2, data.Sampled)
	assert.Equal(t, 2, data.UniqueSigners)
	assert.InDelta(t, 6000.0, data.AvgFeeLamports, 1e-9)
	assert.Equal(t, 2, rpc.Calls("getTransaction"), "failed signatures are not sampled")
}

func TestTransactionSource_PartialOnLaterPageFailure(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rpc := stub.NewRPCClient()
	seedSignatures(rpc, "mint", now, 30, time.Minute)
	rpc.Err = func(method string, call int) error {
		if method == "getSignaturesForAddress" && call > 1 {
			return errors.New("node is behind")
		}
		return nil
	}

	res := txSource(rpc, TransactionSourceConfig{PageSize: 10, MaxPages: 3}, now).
		Analyze(context.Background(), Query{Address: "mint"})

	assert.False(t, res.Success)
	assert.Equal(t, DataSourcePartial, res.DataSource)
	data := res.Data.(TransactionData)
	assert.Equal(t, 10, data.SignatureCount)
	assert.True(t, data.Truncated)
}

func TestTransactionSource_FirstPageFailure(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.Err = func(string, int) error { return errors.New("down") }

	res := txSource(rpc, TransactionSourceConfig{}, time.Now()).Analyze(context.Background(), Query{Address: "mint"})

	assert.False(t, res.Success)
	assert.Equal(t, DataSourceFailed, res.DataSource)
	assert.Nil(t, res.Data)
}

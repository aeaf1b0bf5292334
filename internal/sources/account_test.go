package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-analyst/internal/retry"
	"token-analyst/internal/solana"
	"token-analyst/internal/solana/stub"
	"token-analyst/internal/upstream"
)

func TestAccountSource_MintWithAuthorities(t *testing.T) {
	mint := testKey(1)
	authority := testKey(7)
	rpc := stub.NewRPCClient()
	rpc.Accounts[mint] = mintAccount(5_000_000_000, 6, authority, "")
	rpc.Accounts[metadataPDA(mint)] = metadataAccount(mint, "Test Token", "TST", "https://example.org/tst.json")
	rpc.Supplies[mint] = &solana.TokenSupply{Amount: 6_000_000_000, Decimals: 6, UIAmount: 6000}

	res := NewAccountSource(rpc, fastRetrier(1)).Analyze(context.Background(), Query{Address: mint})

	require.True(t, res.Success, res.Error)
	data := res.Data.(*AccountData)
	assert.Equal(t, AccountMint, data.Kind)
	require.NotNil(t, data.Mint)
	assert.Equal(t, 6, data.Mint.Decimals)
	assert.Equal(t, 6000.0, data.Mint.Supply)
	assert.Equal(t, "getTokenSupply", data.Mint.SupplySource)
	assert.Equal(t, authority, data.Mint.MintAuthority)
	assert.False(t, data.Mint.MintRenounced)
	assert.True(t, data.Mint.FreezeRenounced)
	assert.Equal(t, []string{FlagMintAuthority}, data.RiskFlags)
	require.NotNil(t, data.Metadata)
	assert.Equal(t, "TST", data.Metadata.Symbol)
}

func TestAccountSource_SupplyFallsBackToAccount(t *testing.T) {
	mint := testKey(1)
	rpc := stub.NewRPCClient()
	rpc.Accounts[mint] = mintAccount(2_500, 2, "", testKey(8))

	res := NewAccountSource(rpc, fastRetrier(1)).Analyze(context.Background(), Query{Address: mint})

	require.True(t, res.Success)
	data := res.Data.(*AccountData)
	assert.Equal(t, 25.0, data.Mint.Supply)
	assert.Equal(t, "account", data.Mint.SupplySource)
	assert.Equal(t, []string{FlagFreezeAuthority}, data.RiskFlags)
	assert.Nil(t, data.Metadata)
}

func TestAccountSource_Kinds(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.Accounts["wallet"] = &solana.AccountInfo{Owner: solana.SystemProgramID, Lamports: 10}
	rpc.Accounts["program"] = &solana.AccountInfo{Owner: "BPFLoaderUpgradeab1e11111111111111111111111", Executable: true}
	rpc.Accounts["tokenacct"] = &solana.AccountInfo{Owner: solana.TokenProgramID, Data: tokenAccountData(testKey(1), testKey(2), 42)}
	rpc.Accounts["other"] = &solana.AccountInfo{Owner: testKey(3)}

	src := NewAccountSource(rpc, fastRetrier(1))
	for addr, want := range map[string]string{
		"wallet":    AccountWallet,
		"program":   AccountProgram,
		"tokenacct": AccountTokenAccount,
		"other":     AccountUnknown,
	} {
		data, err := src.Inspect(context.Background(), addr)
		require.NoError(t, err, addr)
		assert.Equal(t, want, data.Kind, addr)
	}

	data, _ := src.Inspect(context.Background(), "tokenacct")
	require.NotNil(t, data.TokenAccount)
	assert.Equal(t, uint64(42), data.TokenAccount.Amount)
}

func TestAccountSource_NotFound(t *testing.T) {
	res := NewAccountSource(stub.NewRPCClient(), fastRetrier(1)).Analyze(context.Background(), Query{Address: testKey(1)})

	assert.False(t, res.Success)
	assert.Equal(t, ErrAccountNotFound.Error(), res.Error)
}

func TestProfiler_OnAndOffChainMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"name":        "Test Token",
			"description": "a token for tests",
			"extensions":  map[string]any{"twitter": "https://x.com/testtoken", "website": "https://tst.example"},
		})
	}))
	defer srv.Close()

	mint := testKey(1)
	rpc := stub.NewRPCClient()
	rpc.Accounts[mint] = mintAccount(1_000_000, 3, "", "")
	rpc.Accounts[metadataPDA(mint)] = metadataAccount(mint, "Test Token", "TST", srv.URL+"/meta.json")

	p := NewProfiler(rpc, fastRetrier(1), testClient("metadata", ""))
	prof, err := p.Profile(context.Background(), mint)
	require.NoError(t, err)

	assert.Equal(t, "TST", prof.Symbol)
	assert.Equal(t, 1000.0, prof.Supply)
	assert.True(t, prof.HasMetadata)
	assert.True(t, prof.HasOffChain)
	assert.Equal(t, "https://x.com/testtoken", prof.Twitter)
	assert.Equal(t, "https://tst.example", prof.Website)

	h, err := ProfileHandleResolver(p).ResolveHandle(context.Background(), Query{Address: mint})
	require.NoError(t, err)
	assert.Equal(t, "testtoken", h)
}

func TestProfiler_NotMint(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.Accounts["wallet"] = &solana.AccountInfo{Owner: solana.SystemProgramID}

	_, err := NewProfiler(rpc, fastRetrier(1), nil).Profile(context.Background(), "wallet")
	assert.ErrorIs(t, err, ErrNotMint)
}

func TestTokenSource_CombinesProfilePairAndHolders(t *testing.T) {
	mint := testKey(1)
	rpc := stub.NewRPCClient()
	rpc.Accounts[mint] = mintAccount(1_000_000, 0, "", "")
	rpc.AddTokenAccounts(mint,
		solana.TokenAccount{Address: "a1", Owner: "o1", Amount: 700},
		solana.TokenAccount{Address: "a2", Owner: "o2", Amount: 300},
	)
	pair := Pair{
		Provider:    "dexscreener",
		PairAddress: "pool",
		Base:        TokenRef{Address: mint, Symbol: "TST"},
		Quote:       TokenRef{Address: sol, Symbol: "SOL"},
		PriceNative: 0.5,
	}
	market := NewMarketSource(&fakeProvider{name: "dex", pairs: []Pair{pair}})
	sampler := holderSource(rpc, HolderSourceConfig{Mode: HolderModeBasic})

	res := NewTokenSource(NewProfiler(rpc, fastRetrier(1), nil), market, sampler).
		Analyze(context.Background(), Query{Address: mint})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, DataSourceLive, res.DataSource)
	data := res.Data.(TokenData)
	require.NotNil(t, data.Pair)
	assert.Equal(t, "pool", data.Pair.PairAddress)
	assert.Equal(t, "SOL", data.Pair.Counter.Symbol)
	require.Len(t, data.HolderSample, 2)
	assert.Equal(t, "o1", data.HolderSample[0].Owner)
}

func TestTokenSource_PairOnlyIsFallback(t *testing.T) {
	mint := testKey(1)
	pair := Pair{PairAddress: "pool", Base: TokenRef{Address: mint, Symbol: "TST", Name: "Test"}, Quote: TokenRef{Address: sol}}
	market := NewMarketSource(&fakeProvider{name: "dex", pairs: []Pair{pair}})

	res := NewTokenSource(NewProfiler(stub.NewRPCClient(), fastRetrier(1), nil), market, nil).
		Analyze(context.Background(), Query{Address: mint})

	require.True(t, res.Success)
	assert.Equal(t, DataSourceFallback, res.DataSource)
	assert.Equal(t, "TST", res.Data.(TokenData).Profile.Symbol)
}

// The production wiring puts a single-attempt retrier inside the RPC client
// and the adapter's retrier around it. Non-transient failures must still be
// attempted exactly once.
func TestAccountSource_NestedRetriersStopOnFatalErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantHits int32
		check    func(t *testing.T, err error)
	}{
		{
			name:     "invalid params",
			body:     `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"Invalid params"}}`,
			wantHits: 1,
			check: func(t *testing.T, err error) {
				var rpcErr *solana.RPCError
				require.ErrorAs(t, err, &rpcErr)
				assert.Equal(t, -32602, rpcErr.Code)
			},
		},
		{
			name:     "malformed body",
			body:     `not json`,
			wantHits: 1,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, upstream.ErrStructural)
			},
		},
		{
			name:     "node unhealthy is retried",
			body:     `{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"Node is behind"}}`,
			wantHits: 4,
			check: func(t *testing.T, err error) {
				var rpcErr *solana.RPCError
				require.ErrorAs(t, err, &rpcErr)
				assert.Equal(t, -32005, rpcErr.Code)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			rpc := solana.NewHTTPClient(srv.URL, solana.WithRetrier(retry.Once("solana_rpc")))
			src := NewAccountSource(rpc, fastRetrier(3))

			_, err := src.Inspect(context.Background(), testKey(3))
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, tt.wantHits, hits.Load())

			res := src.Analyze(context.Background(), Query{Address: testKey(3)})
			assert.False(t, res.Success)
		})
	}
}

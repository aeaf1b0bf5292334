package sources

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"time"

	"github.com/mr-tron/base58"

	"token-analyst/internal/retry"
	"token-analyst/internal/solana"
	"token-analyst/internal/upstream"
)

func noSleep(context.Context, time.Duration) error { return nil }

func fastRetrier(n int) *retry.Retrier {
	return retry.New("test", retry.Policy{
		MaxAttempts:   n,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		MinDelay:      time.Millisecond,
		BackoffFactor: 2,
		JitterFactor:  0.1,
	}, retry.WithSleep(noSleep))
}

func testClient(name, baseURL string) *upstream.Client {
	return upstream.New(name, baseURL,
		upstream.WithRetrier(fastRetrier(1)),
		upstream.WithBreaker(0, 0),
	)
}

func testKey(b byte) string {
	return base58.Encode(bytes.Repeat([]byte{b}, 32))
}

func keyBytes(k string) []byte {
	b, err := base58.Decode(k)
	if err != nil {
		panic(err)
	}
	return b
}

func optionKey(k string) []byte {
	out := make([]byte, 36)
	if k == "" {
		return out
	}
	binary.LittleEndian.PutUint32(out, 1)
	copy(out[4:], keyBytes(k))
	return out
}

func mintAccount(supply uint64, decimals byte, mintAuth, freezeAuth string) *solana.AccountInfo {
	data := make([]byte, 0, solana.MintAccountSize)
	data = append(data, optionKey(mintAuth)...)
	data = binary.LittleEndian.AppendUint64(data, supply)
	data = append(data, decimals, 1)
	data = append(data, optionKey(freezeAuth)...)
	return &solana.AccountInfo{
		Owner:    solana.TokenProgramID,
		Lamports: 1_461_600,
		Data:     base64.StdEncoding.EncodeToString(data),
	}
}

func tokenAccountData(mint, owner string, amount uint64) string {
	data := make([]byte, solana.TokenAccountSize)
	copy(data[0:32], keyBytes(mint))
	copy(data[32:64], keyBytes(owner))
	binary.LittleEndian.PutUint64(data[64:72], amount)
	return base64.StdEncoding.EncodeToString(data)
}

func borsh(s string) []byte {
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(s)))
	return append(out, s...)
}

func metadataAccount(mint, name, symbol, uri string) *solana.AccountInfo {
	data := []byte{4}
	data = append(data, keyBytes(testKey(9))...)
	data = append(data, keyBytes(mint)...)
	data = append(data, borsh(name)...)
	data = append(data, borsh(symbol)...)
	data = append(data, borsh(uri)...)
	return &solana.AccountInfo{
		Owner: solana.MetaplexProgramID,
		Data:  base64.StdEncoding.EncodeToString(data),
	}
}

func metadataPDA(mint string) string {
	pda, err := solana.MetadataPDA(mint)
	if err != nil {
		panic(err)
	}
	return pda
}

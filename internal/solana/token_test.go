package solana

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/mr-tron/base58"
)

func pubkey(fill byte) []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = fill
	}
	return b
}

func mintData(authority []byte, supply uint64, decimals byte, freeze []byte) []byte {
	data := make([]byte, MintAccountSize)
	if authority != nil {
		binary.LittleEndian.PutUint32(data[0:4], 1)
		copy(data[4:36], authority)
	}
	binary.LittleEndian.PutUint64(data[36:44], supply)
	data[44] = decimals
	data[45] = 1
	if freeze != nil {
		binary.LittleEndian.PutUint32(data[46:50], 1)
		copy(data[50:82], freeze)
	}
	return data
}

func TestParseMint(t *testing.T) {
	auth := pubkey(7)
	data := mintData(auth, 1_000_000_000, 6, nil)

	mint, err := ParseMint(data)
	if err != nil {
		t.Fatalf("ParseMint: %v", err)
	}

	if mint.Supply != 1_000_000_000 {
		t.Errorf("expected supply 1e9, got %d", mint.Supply)
	}
	if mint.Decimals != 6 {
		t.Errorf("expected decimals 6, got %d", mint.Decimals)
	}
	if mint.UISupply() != 1000 {
		t.Errorf("expected ui supply 1000, got %f", mint.UISupply())
	}
	if mint.MintAuthority != base58.Encode(auth) {
		t.Errorf("unexpected mint authority %s", mint.MintAuthority)
	}
	if mint.FreezeAuthority != "" {
		t.Errorf("expected no freeze authority, got %s", mint.FreezeAuthority)
	}
	if !mint.IsInitialized {
		t.Error("expected initialized mint")
	}
}

func TestParseMint_TooShort(t *testing.T) {
	_, err := ParseMint(make([]byte, 40))
	if !errors.Is(err, ErrInvalidAccountData) {
		t.Fatalf("expected ErrInvalidAccountData, got %v", err)
	}
}

func TestParseTokenAccount(t *testing.T) {
	data := make([]byte, TokenAccountSize)
	copy(data[0:32], pubkey(1))
	copy(data[32:64], pubkey(2))
	binary.LittleEndian.PutUint64(data[64:72], 42)

	acc, err := ParseTokenAccount(data)
	if err != nil {
		t.Fatalf("ParseTokenAccount: %v", err)
	}
	if acc.Mint != base58.Encode(pubkey(1)) || acc.Owner != base58.Encode(pubkey(2)) || acc.Amount != 42 {
		t.Errorf("unexpected account: %+v", acc)
	}
}

func borsh(s string) []byte {
	b := make([]byte, 4+len(s))
	binary.LittleEndian.PutUint32(b, uint32(len(s)))
	copy(b[4:], s)
	return b
}

func TestParseMetadata(t *testing.T) {
	data := []byte{4}
	data = append(data, pubkey(3)...)
	data = append(data, pubkey(4)...)
	data = append(data, borsh("USD Coin\x00\x00\x00")...)
	data = append(data, borsh("USDC\x00\x00")...)
	data = append(data, borsh("https://example.com/usdc.json")...)

	meta, err := ParseMetadata(data)
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}

	if meta.Name != "USD Coin" {
		t.Errorf("expected name USD Coin, got %q", meta.Name)
	}
	if meta.Symbol != "USDC" {
		t.Errorf("expected symbol USDC, got %q", meta.Symbol)
	}
	if meta.URI != "https://example.com/usdc.json" {
		t.Errorf("unexpected uri %q", meta.URI)
	}
	if meta.Mint != base58.Encode(pubkey(4)) {
		t.Errorf("unexpected mint %s", meta.Mint)
	}
}

func TestParseMetadata_WrongKey(t *testing.T) {
	data := make([]byte, 120)
	data[0] = 1
	if _, err := ParseMetadata(data); !errors.Is(err, ErrInvalidAccountData) {
		t.Fatalf("expected ErrInvalidAccountData, got %v", err)
	}
}

func TestMetadataPDA(t *testing.T) {
	const usdc = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

	pda, err := MetadataPDA(usdc)
	if err != nil {
		t.Fatalf("MetadataPDA: %v", err)
	}

	again, _ := MetadataPDA(usdc)
	if pda != again {
		t.Errorf("derivation not deterministic: %s != %s", pda, again)
	}

	raw, err := base58.Decode(pda)
	if err != nil || len(raw) != 32 {
		t.Fatalf("PDA is not a 32-byte address: %s", pda)
	}
	if IsOnCurve(raw) {
		t.Error("PDA must be off curve")
	}

	if _, err := MetadataPDA("not-an-address"); err == nil {
		t.Error("expected error for invalid mint")
	}
}

func TestIsAddress(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", true},
		{SystemProgramID, true},
		{TokenProgramID, true},
		{"some random project", false},
		{"bonk", false},
		{"0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsAddress(tt.in); got != tt.want {
			t.Errorf("IsAddress(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

package solana

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known program IDs.
const (
	SystemProgramID    = "11111111111111111111111111111111"
	TokenProgramID     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	MetaplexProgramID  = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"
)

// Account sizes for SPL Token program accounts.
const (
	MintAccountSize  = 82
	TokenAccountSize = 165
)

// ErrInvalidAccountData is returned when account data does not match the
// expected layout.
var ErrInvalidAccountData = errors.New("invalid account data")

// IsAddress reports whether s is a base58 encoded 32-byte public key.
func IsAddress(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	b, err := base58.Decode(s)
	return err == nil && len(b) == 32
}

// IsTokenProgram reports whether owner is one of the SPL token programs.
func IsTokenProgram(owner string) bool {
	return owner == TokenProgramID || owner == Token2022ProgramID
}

// DecodeData decodes base64 account data.
func DecodeData(data string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrInvalidAccountData, err)
	}
	return decoded, nil
}

// UIAmount scales a raw token amount by decimals.
func UIAmount(raw uint64, decimals int) float64 {
	return float64(raw) / math.Pow(10, float64(decimals))
}

// Mint is a parsed SPL Token mint account.
type Mint struct {
	MintAuthority   string // empty when revoked
	Supply          uint64
	Decimals        int
	IsInitialized   bool
	FreezeAuthority string // empty when absent
}

// UISupply returns supply adjusted for decimals.
func (m *Mint) UISupply() float64 {
	return UIAmount(m.Supply, m.Decimals)
}

// ParseMint parses SPL Token Mint account data.
// SPL Token Mint layout (82 bytes):
// - mintAuthority: Option<Pubkey> (36 bytes: 4 + 32)
// - supply: u64 (8 bytes)
// - decimals: u8 (1 byte)
// - isInitialized: bool (1 byte)
// - freezeAuthority: Option<Pubkey> (36 bytes: 4 + 32)
func ParseMint(data []byte) (*Mint, error) {
	if len(data) < MintAccountSize {
		return nil, fmt.Errorf("%w: mint data too short: %d", ErrInvalidAccountData, len(data))
	}

	return &Mint{
		MintAuthority:   parseOptionPubkey(data[0:36]),
		Supply:          binary.LittleEndian.Uint64(data[36:44]),
		Decimals:        int(data[44]),
		IsInitialized:   data[45] == 1,
		FreezeAuthority: parseOptionPubkey(data[46:82]),
	}, nil
}

// parseOptionPubkey decodes a COption<Pubkey>: u32 tag + 32 bytes.
func parseOptionPubkey(b []byte) string {
	if binary.LittleEndian.Uint32(b[0:4]) == 0 {
		return ""
	}
	return base58.Encode(b[4:36])
}

// TokenAccountData is a parsed SPL Token account.
type TokenAccountData struct {
	Mint   string
	Owner  string
	Amount uint64
}

// ParseTokenAccount parses SPL Token account data.
// Layout: mint (32) | owner (32) | amount u64 (8) | ...
func ParseTokenAccount(data []byte) (*TokenAccountData, error) {
	if len(data) < 72 {
		return nil, fmt.Errorf("%w: token account data too short: %d", ErrInvalidAccountData, len(data))
	}
	return &TokenAccountData{
		Mint:   base58.Encode(data[0:32]),
		Owner:  base58.Encode(data[32:64]),
		Amount: binary.LittleEndian.Uint64(data[64:72]),
	}, nil
}

// Metadata is the name/symbol/uri part of a Metaplex metadata account.
type Metadata struct {
	UpdateAuthority string `json:"updateAuthority"`
	Mint            string `json:"mint"`
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	URI             string `json:"uri"`
}

// ParseMetadata parses Metaplex Token Metadata account data.
// Metaplex Metadata layout:
// - key: u8 (1 byte, should be 4 for MetadataV1)
// - updateAuthority: Pubkey (32 bytes)
// - mint: Pubkey (32 bytes)
// - name: String (4 + length bytes, max 32 chars)
// - symbol: String (4 + length bytes, max 10 chars)
// - uri: String (4 + length bytes, max 200 chars)
// ...and more fields
func ParseMetadata(data []byte) (*Metadata, error) {
	if len(data) < 69 {
		return nil, fmt.Errorf("%w: metadata too short: %d", ErrInvalidAccountData, len(data))
	}
	if data[0] != 4 { // MetadataV1 key
		return nil, fmt.Errorf("%w: unexpected metadata key %d", ErrInvalidAccountData, data[0])
	}

	meta := &Metadata{
		UpdateAuthority: base58.Encode(data[1:33]),
		Mint:            base58.Encode(data[33:65]),
	}

	offset := 65
	var err error
	if meta.Name, offset, err = readBorshString(data, offset, 100); err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	if meta.Symbol, offset, err = readBorshString(data, offset, 20); err != nil {
		return nil, fmt.Errorf("symbol: %w", err)
	}
	if meta.URI, _, err = readBorshString(data, offset, 400); err != nil {
		return nil, fmt.Errorf("uri: %w", err)
	}

	return meta, nil
}

// readBorshString reads a u32-length-prefixed string padded with NULs.
func readBorshString(data []byte, offset, maxLen int) (string, int, error) {
	if offset+4 > len(data) {
		return "", offset, fmt.Errorf("%w: truncated length at %d", ErrInvalidAccountData, offset)
	}
	n := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	if n > maxLen || offset+n > len(data) {
		return "", offset, fmt.Errorf("%w: string length %d out of range", ErrInvalidAccountData, n)
	}
	s := strings.TrimRight(string(data[offset:offset+n]), "\x00")
	return strings.TrimSpace(s), offset + n, nil
}

// MetadataPDA derives the Metaplex metadata PDA for a given mint.
// Seeds: ["metadata", metaplex_program_id, mint]
func MetadataPDA(mint string) (string, error) {
	mintBytes, err := base58.Decode(mint)
	if err != nil || len(mintBytes) != 32 {
		return "", fmt.Errorf("invalid mint address %q", mint)
	}
	programBytes, err := base58.Decode(MetaplexProgramID)
	if err != nil {
		return "", fmt.Errorf("decode metaplex program: %w", err)
	}

	addr, _, err := FindProgramAddress([][]byte{
		[]byte("metadata"),
		programBytes,
		mintBytes,
	}, programBytes)
	return addr, err
}

// FindProgramAddress derives a Program Derived Address: the first bump
// from 255 down whose sha256(seeds || bump || programID ||
// "ProgramDerivedAddress") is off the ed25519 curve.
func FindProgramAddress(seeds [][]byte, programID []byte) (string, uint8, error) {
	for bump := 255; bump > 0; bump-- {
		data := make([]byte, 0, 128)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, byte(bump))
		data = append(data, programID...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)
		if !IsOnCurve(hash[:]) {
			return base58.Encode(hash[:]), uint8(bump), nil
		}
	}
	return "", 0, errors.New("unable to find a viable program address bump seed")
}

// IsOnCurve reports whether point is a valid ed25519 point encoding.
func IsOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

package aggregator

import (
	"encoding/hex"
	"strings"

	"github.com/mr-tron/base58"

	"token-analyst/internal/sources"
)

// Classify decides whether identifier is a contract address. A base58
// string decoding to exactly 32 bytes, or 0x followed by 40 hex digits, is
// an address; everything else is a project name.
func Classify(identifier string) sources.Query {
	input := strings.TrimSpace(identifier)
	q := sources.Query{Input: input, Kind: sources.KindProjectName}
	if IsAddress(input) {
		q.Kind = sources.KindContractAddress
		q.Address = input
	}
	return q
}

// IsAddress reports whether s is a Solana or EVM style address.
func IsAddress(s string) bool {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if len(s) != 42 {
			return false
		}
		_, err := hex.DecodeString(s[2:])
		return err == nil
	}
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	b, err := base58.Decode(s)
	return err == nil && len(b) == 32
}

package solana

import "context"

// RPCClient defines the Solana JSON-RPC calls used by the source adapters.
type RPCClient interface {
	// GetAccountInfo retrieves account info by public key. Returns nil if not found.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetSignaturesForAddress retrieves signatures for an address with pagination.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetTransaction retrieves a transaction by signature. Returns nil if not found.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetTokenAccounts retrieves one page of token accounts for a mint (DAS API).
	GetTokenAccounts(ctx context.Context, mint string, page, limit int) (*TokenAccountsPage, error)

	// GetProgramAccounts retrieves all accounts owned by a program matching filters.
	GetProgramAccounts(ctx context.Context, programID string, filters []AccountFilter) ([]KeyedAccount, error)

	// GetTokenSupply retrieves the authoritative supply of a mint.
	GetTokenSupply(ctx context.Context, mint string) (*TokenSupply, error)

	// GetSlot returns the current slot.
	GetSlot(ctx context.Context) (int64, error)
}

package stub

import (
	"context"
	"errors"
	"sync"

	"token-analyst/internal/solana"
)

// ErrNotFound is returned when a transaction is not found.
var ErrNotFound = errors.New("not found")

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu sync.Mutex

	Accounts        map[string]*solana.AccountInfo
	Transactions    map[string]*solana.Transaction
	Signatures      map[string][]solana.SignatureInfo
	TokenAccounts   map[string][]solana.TokenAccount
	ProgramAccounts map[string][]solana.KeyedAccount
	Supplies        map[string]*solana.TokenSupply
	Slot            int64

	// Err, when set, is returned by every call for which it returns non-nil.
	Err func(method string, call int) error

	calls map[string]int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Accounts:        make(map[string]*solana.AccountInfo),
		Transactions:    make(map[string]*solana.Transaction),
		Signatures:      make(map[string][]solana.SignatureInfo),
		TokenAccounts:   make(map[string][]solana.TokenAccount),
		ProgramAccounts: make(map[string][]solana.KeyedAccount),
		Supplies:        make(map[string]*solana.TokenSupply),
		calls:           make(map[string]int),
	}
}

// Calls returns how many times method was invoked.
func (c *RPCClient) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *RPCClient) enter(method string) error {
	c.mu.Lock()
	c.calls[method]++
	n := c.calls[method]
	errFn := c.Err
	c.mu.Unlock()

	if errFn != nil {
		return errFn(method, n)
	}
	return nil
}

// GetAccountInfo returns the stored account or nil.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	if err := c.enter("getAccountInfo"); err != nil {
		return nil, err
	}
	info, ok := c.Accounts[pubkey]
	if !ok {
		return nil, nil
	}
	cp := *info
	return &cp, nil
}

// GetTransaction retrieves a transaction by signature from the stub store.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	if err := c.enter("getTransaction"); err != nil {
		return nil, err
	}
	tx, ok := c.Transactions[signature]
	if !ok {
		return nil, ErrNotFound
	}
	return tx, nil
}

// GetSignaturesForAddress retrieves signatures for an address from the stub
// store, honoring Before and Limit.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	if err := c.enter("getSignaturesForAddress"); err != nil {
		return nil, err
	}
	sigs := c.Signatures[address]

	if opts != nil && opts.Before != "" {
		for i, s := range sigs {
			if s.Signature == opts.Before {
				sigs = sigs[i+1:]
				break
			}
		}
	}

	// Apply limit if specified
	if opts != nil && opts.Limit > 0 && opts.Limit < len(sigs) {
		return sigs[:opts.Limit], nil
	}

	return sigs, nil
}

// GetTokenAccounts pages through the stored token accounts of mint.
func (c *RPCClient) GetTokenAccounts(_ context.Context, mint string, page, limit int) (*solana.TokenAccountsPage, error) {
	if err := c.enter("getTokenAccounts"); err != nil {
		return nil, err
	}
	all := c.TokenAccounts[mint]
	result := &solana.TokenAccountsPage{Total: len(all), Limit: limit, Page: page}

	start := (page - 1) * limit
	if start < 0 || start >= len(all) {
		return result, nil
	}
	end := min(start+limit, len(all))
	result.Accounts = append([]solana.TokenAccount(nil), all[start:end]...)
	return result, nil
}

// GetProgramAccounts returns the stored accounts for programID. Filters are
// ignored.
func (c *RPCClient) GetProgramAccounts(_ context.Context, programID string, _ []solana.AccountFilter) ([]solana.KeyedAccount, error) {
	if err := c.enter("getProgramAccounts"); err != nil {
		return nil, err
	}
	return c.ProgramAccounts[programID], nil
}

// GetTokenSupply returns the stored supply of mint.
func (c *RPCClient) GetTokenSupply(_ context.Context, mint string) (*solana.TokenSupply, error) {
	if err := c.enter("getTokenSupply"); err != nil {
		return nil, err
	}
	s, ok := c.Supplies[mint]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// GetSlot returns Slot.
func (c *RPCClient) GetSlot(_ context.Context) (int64, error) {
	if err := c.enter("getSlot"); err != nil {
		return 0, err
	}
	return c.Slot, nil
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.Transactions[tx.Signature] = tx
}

// AddSignatures adds signatures for an address to the stub store.
func (c *RPCClient) AddSignatures(address string, sigs []solana.SignatureInfo) {
	c.Signatures[address] = sigs
}

// AddTokenAccounts appends token accounts for a mint.
func (c *RPCClient) AddTokenAccounts(mint string, accounts ...solana.TokenAccount) {
	c.TokenAccounts[mint] = append(c.TokenAccounts[mint], accounts...)
}

var _ solana.RPCClient = (*RPCClient)(nil)

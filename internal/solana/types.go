package solana

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       interface{}
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // Start searching backwards from this signature
	Until  string // Search until this signature
	Limit  int    // Maximum number of signatures to return
}

// Transaction represents a Solana transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err         interface{}
	Fee         uint64
	LogMessages []string
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	AccountKeys []string
}

// FeePayer returns the first account key, or "" if unknown.
func (t *Transaction) FeePayer() string {
	if t == nil || t.Message == nil || len(t.Message.AccountKeys) == 0 {
		return ""
	}
	return t.Message.AccountKeys[0]
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       string `json:"data"` // base64 encoded
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}

// KeyedAccount is an account returned by getProgramAccounts.
type KeyedAccount struct {
	Pubkey  string
	Account AccountInfo
}

// AccountFilter is a getProgramAccounts filter. Exactly one of DataSize or
// Memcmp is set.
type AccountFilter struct {
	DataSize uint64
	Memcmp   *Memcmp
}

// Memcmp matches base58 Bytes at Offset.
type Memcmp struct {
	Offset uint64
	Bytes  string
}

// TokenAccount is one entry of a DAS getTokenAccounts page.
type TokenAccount struct {
	Address string `json:"address"`
	Mint    string `json:"mint"`
	Owner   string `json:"owner"`
	Amount  uint64 `json:"amount"`
	Frozen  bool   `json:"frozen"`
}

// TokenAccountsPage is one page of DAS getTokenAccounts.
type TokenAccountsPage struct {
	Total    int            `json:"total"`
	Limit    int            `json:"limit"`
	Page     int            `json:"page"`
	Accounts []TokenAccount `json:"token_accounts"`
}

// TokenSupply is the getTokenSupply value.
type TokenSupply struct {
	Amount   uint64
	Decimals int
	UIAmount float64
}

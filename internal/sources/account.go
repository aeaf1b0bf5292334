package sources

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"token-analyst/internal/retry"
	"token-analyst/internal/solana"
)

// Account kinds.
const (
	AccountProgram      = "program"
	AccountMint         = "mint"
	AccountTokenAccount = "token_account"
	AccountWallet       = "wallet"
	AccountUnknown      = "unknown"
)

// Risk flags raised by the account introspection.
const (
	FlagMintAuthority   = "mint_authority_active"
	FlagFreezeAuthority = "freeze_authority_active"
	FlagToken2022       = "token_2022"
)

// ErrAccountNotFound is returned for addresses with no on-chain account.
var ErrAccountNotFound = errors.New("account not found")

// MintInfo is the mint part of AccountData.
type MintInfo struct {
	Decimals        int     `json:"decimals"`
	Supply          float64 `json:"supply"`
	SupplySource    string  `json:"supplySource"` // "getTokenSupply" or "account"
	MintAuthority   string  `json:"mintAuthority,omitempty"`
	FreezeAuthority string  `json:"freezeAuthority,omitempty"`
	MintRenounced   bool    `json:"mintRenounced"`
	FreezeRenounced bool    `json:"freezeRenounced"`
}

// TokenAccountInfo is the token account part of AccountData.
type TokenAccountInfo struct {
	Mint   string `json:"mint"`
	Owner  string `json:"owner"`
	Amount uint64 `json:"amount"`
}

// AccountData describes what lives at an address.
type AccountData struct {
	Address      string            `json:"address"`
	Kind         string            `json:"kind"`
	Owner        string            `json:"owner"`
	Lamports     uint64            `json:"lamports"`
	Executable   bool              `json:"executable"`
	Mint         *MintInfo         `json:"mint,omitempty"`
	TokenAccount *TokenAccountInfo `json:"tokenAccount,omitempty"`
	Metadata     *solana.Metadata  `json:"metadata,omitempty"`
	RiskFlags    []string          `json:"riskFlags"`
}

// AccountSource classifies an address and inspects mint authorities.
type AccountSource struct {
	rpc     solana.RPCClient
	retrier *retry.Retrier
	logger  zerolog.Logger
}

// NewAccountSource creates an AccountSource.
func NewAccountSource(rpc solana.RPCClient, r *retry.Retrier) *AccountSource {
	return &AccountSource{
		rpc:     rpc,
		retrier: r,
		logger:  log.With().Str("source", "contract").Logger(),
	}
}

// Analyze implements Adapter.
func (s *AccountSource) Analyze(ctx context.Context, q Query) Result {
	if q.Address == "" {
		return Fail("contract", ErrNoAddress, nil)
	}
	data, err := s.Inspect(ctx, q.Address)
	if err != nil {
		return Fail("contract", err, nil)
	}
	return OK("contract", DataSourceLive, data)
}

// Inspect reads and classifies address.
func (s *AccountSource) Inspect(ctx context.Context, address string) (*AccountData, error) {
	info, err := retry.Do(ctx, s.retrier, func(ctx context.Context) (*solana.AccountInfo, error) {
		return s.rpc.GetAccountInfo(ctx, address)
	})
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, ErrAccountNotFound
	}

	data := &AccountData{
		Address:    address,
		Kind:       AccountUnknown,
		Owner:      info.Owner,
		Lamports:   info.Lamports,
		Executable: info.Executable,
		RiskFlags:  []string{},
	}

	switch {
	case info.Executable:
		data.Kind = AccountProgram
	case info.Owner == solana.SystemProgramID:
		data.Kind = AccountWallet
	case solana.IsTokenProgram(info.Owner):
		s.inspectToken(ctx, info, data)
	}
	return data, nil
}

func (s *AccountSource) inspectToken(ctx context.Context, info *solana.AccountInfo, data *AccountData) {
	raw, err := solana.DecodeData(info.Data)
	if err != nil {
		return
	}
	if info.Owner == solana.Token2022ProgramID {
		data.RiskFlags = append(data.RiskFlags, FlagToken2022)
	}

	// Token-2022 mints carry extensions after the base layout, so the
	// length check is a lower bound for mints and exact for accounts.
	if len(raw) >= solana.MintAccountSize && len(raw) != solana.TokenAccountSize {
		m, err := solana.ParseMint(raw)
		if err != nil || !m.IsInitialized {
			return
		}
		data.Kind = AccountMint
		data.Mint = &MintInfo{
			Decimals:        m.Decimals,
			Supply:          m.UISupply(),
			SupplySource:    "account",
			MintAuthority:   m.MintAuthority,
			FreezeAuthority: m.FreezeAuthority,
			MintRenounced:   m.MintAuthority == "",
			FreezeRenounced: m.FreezeAuthority == "",
		}
		if m.MintAuthority != "" {
			data.RiskFlags = append(data.RiskFlags, FlagMintAuthority)
		}
		if m.FreezeAuthority != "" {
			data.RiskFlags = append(data.RiskFlags, FlagFreezeAuthority)
		}
		s.supply(ctx, data)
		s.metadata(ctx, data)
		return
	}

	ta, err := solana.ParseTokenAccount(raw)
	if err != nil {
		return
	}
	data.Kind = AccountTokenAccount
	data.TokenAccount = &TokenAccountInfo{Mint: ta.Mint, Owner: ta.Owner, Amount: ta.Amount}
}

// supply prefers getTokenSupply over the account snapshot.
func (s *AccountSource) supply(ctx context.Context, data *AccountData) {
	sup, err := retry.Do(ctx, s.retrier, func(ctx context.Context) (*solana.TokenSupply, error) {
		return s.rpc.GetTokenSupply(ctx, data.Address)
	})
	if err != nil || sup == nil {
		s.logger.Debug().Err(err).Str("mint", data.Address).Msg("getTokenSupply unavailable")
		return
	}
	data.Mint.Supply = sup.UIAmount
	data.Mint.SupplySource = "getTokenSupply"
}

func (s *AccountSource) metadata(ctx context.Context, data *AccountData) {
	pda, err := solana.MetadataPDA(data.Address)
	if err != nil {
		return
	}
	info, err := retry.Do(ctx, s.retrier, func(ctx context.Context) (*solana.AccountInfo, error) {
		return s.rpc.GetAccountInfo(ctx, pda)
	})
	if err != nil || info == nil {
		return
	}
	raw, err := solana.DecodeData(info.Data)
	if err != nil {
		return
	}
	if meta, err := solana.ParseMetadata(raw); err == nil {
		data.Metadata = meta
	}
}

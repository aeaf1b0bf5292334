package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"token-analyst/internal/observability"
	"token-analyst/internal/retry"
	"token-analyst/internal/upstream"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

const upstreamName = "solana_rpc"

// HTTPClient implements RPCClient using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint  string
	client    *http.Client
	policy    retry.Policy
	retrier   *retry.Retrier
	limiter   *rate.Limiter
	requestID atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.policy.MaxAttempts = n
	}
}

// WithRetryDelay sets initial retry delay. It also lowers the sleep floor
// when d is below it.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.policy.InitialDelay = d
		if d < c.policy.MinDelay {
			c.policy.MinDelay = d
		}
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.policy.MaxDelay = d
	}
}

// WithRetryPolicy replaces the whole retry policy.
func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(c *HTTPClient) {
		c.policy = c.policy.Merge(p)
	}
}

// WithRetrier uses r instead of a retrier built from the policy.
func WithRetrier(r *retry.Retrier) ClientOption {
	return func(c *HTTPClient) {
		c.retrier = r
	}
}

// WithRateLimit paces calls to rps requests per second.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new Solana RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
		policy: retry.DefaultPolicy().Merge(retry.Policy{
			MaxAttempts:   DefaultMaxRetries,
			InitialDelay:  DefaultRetryDelay,
			MaxDelay:      DefaultMaxDelay,
			BackoffFactor: DefaultBackoffMult,
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retrier == nil {
		c.retrier = retry.New(upstreamName, c.policy)
	}
	return c
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPC error codes with special handling.
const (
	codeMethodNotFound  = -32601
	codeNodeUnhealthy   = -32005
	codeBlockNotAvail   = -32004
	codeRateLimited     = 429
	codeRateLimitedJSON = -32429
)

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// transient reports whether the node may answer differently on retry.
func (e *RPCError) transient() bool {
	switch e.Code {
	case codeNodeUnhealthy, codeBlockNotAvail, codeRateLimited, codeRateLimitedJSON:
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), "rate limit")
}

// Retryable implements retry.Retryabler.
func (e *RPCError) Retryable() bool { return e.transient() }

// StatusCode maps node-side throttling and health codes onto HTTP statuses
// for retry classification. Other codes return 0.
func (e *RPCError) StatusCode() int {
	switch e.Code {
	case codeRateLimited, codeRateLimitedJSON:
		return http.StatusTooManyRequests
	case codeNodeUnhealthy, codeBlockNotAvail:
		return http.StatusServiceUnavailable
	}
	return 0
}

// IsMethodNotFound reports whether err is a JSON-RPC "method not found"
// error, e.g. a DAS method on a plain validator RPC.
func IsMethodNotFound(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == codeMethodNotFound
}

// call performs a JSON-RPC call through the retrier.
func (c *HTTPClient) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	defer func() {
		observability.RecordRPCLatency(method, time.Since(start).Seconds())
	}()

	return c.retrier.Run(ctx, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
			}
		}
		return c.do(ctx, body, result)
	})
}

// do performs a single HTTP exchange.
func (c *HTTPClient) do(ctx context.Context, body []byte, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return upstream.NewHTTPError(upstreamName, resp, respBody)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return upstream.Structural(upstreamName, "unmarshal response: %v", err)
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return upstream.Structural(upstreamName, "unmarshal result: %v", err)
		}
	}

	return nil
}

// GetTransaction retrieves a transaction by signature.
func (c *HTTPClient) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "json",
			"maxSupportedTransactionVersion": 0,
		},
	}

	var result getTransactionResult
	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return nil, err
	}

	if result.Slot == 0 && result.BlockTime == nil {
		// Transaction not found
		return nil, nil
	}

	tx := &Transaction{
		Slot:      result.Slot,
		Signature: signature,
	}

	if result.BlockTime != nil {
		tx.BlockTime = *result.BlockTime
	}

	if result.Meta != nil {
		tx.Meta = &TransactionMeta{
			Err:         result.Meta.Err,
			Fee:         result.Meta.Fee,
			LogMessages: result.Meta.LogMessages,
		}
	}

	if result.Transaction != nil && result.Transaction.Message != nil {
		tx.Message = &TransactionMessage{
			AccountKeys: result.Transaction.Message.AccountKeys,
		}
	}

	return tx, nil
}

// getTransactionResult is the raw RPC response for getTransaction.
type getTransactionResult struct {
	Slot        int64               `json:"slot"`
	BlockTime   *int64              `json:"blockTime"`
	Meta        *getTransactionMeta `json:"meta"`
	Transaction *getTransactionTx   `json:"transaction"`
}

type getTransactionMeta struct {
	Err         interface{} `json:"err"`
	Fee         uint64      `json:"fee"`
	LogMessages []string    `json:"logMessages"`
}

type getTransactionTx struct {
	Message *getTransactionMessage `json:"message"`
}

type getTransactionMessage struct {
	AccountKeys []string `json:"accountKeys"`
}

// GetSignaturesForAddress retrieves signatures for an address with pagination.
func (c *HTTPClient) GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error) {
	config := make(map[string]interface{})
	if opts != nil {
		if opts.Before != "" {
			config["before"] = opts.Before
		}
		if opts.Until != "" {
			config["until"] = opts.Until
		}
		if opts.Limit > 0 {
			config["limit"] = opts.Limit
		}
	}

	params := []interface{}{address}
	if len(config) > 0 {
		params = append(params, config)
	}

	var result []getSignaturesResult
	if err := c.call(ctx, "getSignaturesForAddress", params, &result); err != nil {
		return nil, err
	}

	sigs := make([]SignatureInfo, len(result))
	for i, r := range result {
		sigs[i] = SignatureInfo{
			Signature: r.Signature,
			Slot:      r.Slot,
			BlockTime: r.BlockTime,
			Err:       r.Err,
		}
	}

	return sigs, nil
}

// getSignaturesResult is the raw RPC response item for getSignaturesForAddress.
type getSignaturesResult struct {
	Signature string      `json:"signature"`
	Slot      int64       `json:"slot"`
	BlockTime *int64      `json:"blockTime"`
	Err       interface{} `json:"err"`
}

// GetAccountInfo retrieves account info by public key.
// Returns nil if account not found.
func (c *HTTPClient) GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error) {
	params := []interface{}{
		pubkey,
		map[string]interface{}{
			"encoding": "base64",
		},
	}

	var result getAccountInfoResult
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}

	if result.Value == nil {
		return nil, nil
	}

	info := result.Value.toAccountInfo()
	return &info, nil
}

type getAccountInfoResult struct {
	Value *rawAccount `json:"value"`
}

type rawAccount struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Data       []string `json:"data"`
	Executable bool     `json:"executable"`
	RentEpoch  uint64   `json:"rentEpoch"`
}

func (a *rawAccount) toAccountInfo() AccountInfo {
	info := AccountInfo{
		Lamports:   a.Lamports,
		Owner:      a.Owner,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}
	if len(a.Data) >= 1 {
		info.Data = a.Data[0]
	}
	return info
}

// GetTokenAccounts retrieves one page of token accounts holding mint.
// Pages are 1-based.
func (c *HTTPClient) GetTokenAccounts(ctx context.Context, mint string, page, limit int) (*TokenAccountsPage, error) {
	params := map[string]interface{}{
		"mint":  mint,
		"page":  page,
		"limit": limit,
		"options": map[string]interface{}{
			"showZeroBalance": false,
		},
	}

	var result TokenAccountsPage
	if err := c.call(ctx, "getTokenAccounts", params, &result); err != nil {
		return nil, err
	}
	if result.Page == 0 {
		result.Page = page
	}
	return &result, nil
}

// GetProgramAccounts retrieves accounts owned by programID matching filters.
func (c *HTTPClient) GetProgramAccounts(ctx context.Context, programID string, filters []AccountFilter) ([]KeyedAccount, error) {
	rawFilters := make([]map[string]interface{}, 0, len(filters))
	for _, f := range filters {
		switch {
		case f.Memcmp != nil:
			rawFilters = append(rawFilters, map[string]interface{}{
				"memcmp": map[string]interface{}{
					"offset": f.Memcmp.Offset,
					"bytes":  f.Memcmp.Bytes,
				},
			})
		case f.DataSize > 0:
			rawFilters = append(rawFilters, map[string]interface{}{"dataSize": f.DataSize})
		}
	}

	params := []interface{}{
		programID,
		map[string]interface{}{
			"encoding": "base64",
			"filters":  rawFilters,
		},
	}

	var result []struct {
		Pubkey  string     `json:"pubkey"`
		Account rawAccount `json:"account"`
	}
	if err := c.call(ctx, "getProgramAccounts", params, &result); err != nil {
		return nil, err
	}

	accounts := make([]KeyedAccount, len(result))
	for i, r := range result {
		accounts[i] = KeyedAccount{Pubkey: r.Pubkey, Account: r.Account.toAccountInfo()}
	}
	return accounts, nil
}

// GetTokenSupply retrieves the total supply of mint.
func (c *HTTPClient) GetTokenSupply(ctx context.Context, mint string) (*TokenSupply, error) {
	var result struct {
		Value *struct {
			Amount   string   `json:"amount"`
			Decimals int      `json:"decimals"`
			UIAmount *float64 `json:"uiAmount"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getTokenSupply", []interface{}{mint}, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, upstream.Structural(upstreamName, "getTokenSupply: missing value")
	}

	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return nil, upstream.Structural(upstreamName, "getTokenSupply: amount %q: %v", result.Value.Amount, err)
	}

	supply := &TokenSupply{
		Amount:   amount,
		Decimals: result.Value.Decimals,
	}
	if result.Value.UIAmount != nil {
		supply.UIAmount = *result.Value.UIAmount
	} else {
		supply.UIAmount = UIAmount(amount, supply.Decimals)
	}
	return supply, nil
}

// GetSlot returns the current slot.
func (c *HTTPClient) GetSlot(ctx context.Context) (int64, error) {
	var slot int64
	if err := c.call(ctx, "getSlot", nil, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

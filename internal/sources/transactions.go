package sources

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"token-analyst/internal/retry"
	"token-analyst/internal/solana"
)

// Transaction scan defaults.
const (
	DefaultSignaturePageSize = 1000
	DefaultSignaturePages    = 3
	DefaultTransactionSample = 10
)

// Activity levels derived from 24h transaction counts.
const (
	ActivityHigh     = "high"
	ActivityMedium   = "medium"
	ActivityLow      = "low"
	ActivityInactive = "inactive"
)

// ActivityLevel buckets a 24h transaction count.
func ActivityLevel(count24h int) string {
	switch {
	case count24h >= 500:
		return ActivityHigh
	case count24h >= 50:
		return ActivityMedium
	case count24h > 0:
		return ActivityLow
	default:
		return ActivityInactive
	}
}

// TransactionData summarizes recent activity on an address.
type TransactionData struct {
	SignatureCount  int     `json:"signatureCount"`
	FailedCount     int     `json:"failedCount"`
	FailureRate     float64 `json:"failureRate"`
	Count1h         int     `json:"count1h"`
	Count24h        int     `json:"count24h"`
	FirstSeen       int64   `json:"firstSeen,omitempty"`
	LastSeen        int64   `json:"lastSeen,omitempty"`
	AvgIntervalSecs float64 `json:"avgIntervalSeconds"`
	ActivityLevel   string  `json:"activityLevel"`
	Truncated       bool    `json:"truncated"`
	Sampled         int     `json:"sampledTransactions"`
	UniqueSigners   int     `json:"uniqueSigners"`
	AvgFeeLamports  float64 `json:"avgFeeLamports"`
}

// TransactionSourceConfig configures TransactionSource.
type TransactionSourceConfig struct {
	PageSize int
	MaxPages int
	Sample   int // transactions fetched in full for signer and fee stats; < 0 disables
}

// TransactionSource pages getSignaturesForAddress backwards with the
// "before" cursor and samples the newest successful transactions.
type TransactionSource struct {
	rpc     solana.RPCClient
	retrier *retry.Retrier
	cfg     TransactionSourceConfig
	now     func() time.Time
	logger  zerolog.Logger
}

// NewTransactionSource creates a TransactionSource.
func NewTransactionSource(rpc solana.RPCClient, r *retry.Retrier, cfg TransactionSourceConfig) *TransactionSource {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultSignaturePageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultSignaturePages
	}
	switch {
	case cfg.Sample == 0:
		cfg.Sample = DefaultTransactionSample
	case cfg.Sample < 0:
		cfg.Sample = 0
	}
	return &TransactionSource{
		rpc:     rpc,
		retrier: r,
		cfg:     cfg,
		now:     time.Now,
		logger:  log.With().Str("source", "transactions").Logger(),
	}
}

// Analyze implements Adapter.
func (s *TransactionSource) Analyze(ctx context.Context, q Query) Result {
	if q.Address == "" {
		return Fail("transactions", ErrNoAddress, nil)
	}

	sigs, truncated, err := s.signatures(ctx, q.Address)
	if err != nil && len(sigs) == 0 {
		return Fail("transactions", err, nil)
	}
	data := s.summarize(sigs)
	data.Truncated = truncated
	s.sample(ctx, sigs, &data)

	if err != nil {
		return Fail("transactions", err, data)
	}
	return OK("transactions", DataSourceLive, data)
}

// signatures returns newest-first signatures. On a page failure the pages
// already read are returned with the error.
func (s *TransactionSource) signatures(ctx context.Context, address string) ([]solana.SignatureInfo, bool, error) {
	var all []solana.SignatureInfo
	before := ""
	for page := 0; page < s.cfg.MaxPages; page++ {
		opts := &solana.SignaturesOpts{Before: before, Limit: s.cfg.PageSize}
		batch, err := retry.Do(ctx, s.retrier, func(ctx context.Context) ([]solana.SignatureInfo, error) {
			return s.rpc.GetSignaturesForAddress(ctx, address, opts)
		})
		if err != nil {
			return all, true, err
		}
		all = append(all, batch...)
		if len(batch) < s.cfg.PageSize {
			return all, false, nil
		}
		before = batch[len(batch)-1].Signature
	}
	return all, true, nil
}

func (s *TransactionSource) summarize(sigs []solana.SignatureInfo) TransactionData {
	now := s.now().Unix()
	data := TransactionData{SignatureCount: len(sigs)}

	var times []int64
	for _, sig := range sigs {
		if sig.Err != nil {
			data.FailedCount++
		}
		if sig.BlockTime == nil {
			continue
		}
		bt := *sig.BlockTime
		times = append(times, bt)
		if now-bt <= int64(time.Hour/time.Second) {
			data.Count1h++
		}
		if now-bt <= int64(24*time.Hour/time.Second) {
			data.Count24h++
		}
	}
	if len(sigs) > 0 {
		data.FailureRate = round(float64(data.FailedCount)/float64(len(sigs)), 4)
	}
	if len(times) > 0 {
		// newest first
		data.LastSeen = times[0]
		data.FirstSeen = times[len(times)-1]
		if len(times) > 1 {
			data.AvgIntervalSecs = round(float64(data.LastSeen-data.FirstSeen)/float64(len(times)-1), 2)
		}
	}
	data.ActivityLevel = ActivityLevel(data.Count24h)
	return data
}

// sample fetches up to cfg.Sample successful transactions. Failures are
// logged and skipped.
func (s *TransactionSource) sample(ctx context.Context, sigs []solana.SignatureInfo, data *TransactionData) {
	if s.cfg.Sample == 0 {
		return
	}
	signers := make(map[string]struct{})
	var fees uint64
	for _, sig := range sigs {
		if data.Sampled >= s.cfg.Sample {
			break
		}
		if sig.Err != nil {
			continue
		}
		tx, err := retry.Do(ctx, s.retrier, func(ctx context.Context) (*solana.Transaction, error) {
			return s.rpc.GetTransaction(ctx, sig.Signature)
		})
		if err != nil || tx == nil {
			s.logger.Debug().Err(err).Str("signature", sig.Signature).Msg("sample transaction unavailable")
			continue
		}
		data.Sampled++
		if payer := tx.FeePayer(); payer != "" {
			signers[payer] = struct{}{}
		}
		if tx.Meta != nil {
			fees += tx.Meta.Fee
		}
	}
	data.UniqueSigners = len(signers)
	if data.Sampled > 0 {
		data.AvgFeeLamports = round(float64(fees)/float64(data.Sampled), 2)
	}
}

// Package holders enumerates token holders page by page and aggregates
// the collected accounts into holder statistics.
package holders

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"token-analyst/internal/observability"
	"token-analyst/internal/retry"
	"token-analyst/internal/solana"
)

// Default collector values.
const (
	DefaultPageSize          = 1000
	DefaultMaxPages          = 10
	DefaultDelayBetweenPages = 250 * time.Millisecond
)

// AccountRecord is one token account holding the mint.
type AccountRecord struct {
	Owner     string `json:"owner"`
	Account   string `json:"account"`
	RawAmount uint64 `json:"rawAmount"`
	Decimals  int    `json:"decimals"`
}

// Amount returns the balance scaled by decimals.
func (r AccountRecord) Amount() float64 {
	return solana.UIAmount(r.RawAmount, r.Decimals)
}

// Page is one page returned by a PageFunc.
type Page struct {
	Number int             `json:"page"`
	Size   int             `json:"size"`
	Items  []AccountRecord `json:"items"`
	IsLast bool            `json:"isLast"`
}

// PageFunc fetches one page. Pages are 1-based.
type PageFunc func(ctx context.Context, page, size int) (Page, error)

// Config controls one Collect call.
type Config struct {
	Source            string // label for logs, metrics and snapshots
	PageSize          int
	MaxPages          int // <= 0 means unbounded
	DelayBetweenPages time.Duration
	SnapshotDir       string // when set, every page is written as JSON
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Source == "" {
		c.Source = "holders"
	}
	return c
}

// Collection is the accumulated result of Collect. TotalSupplyEstimate is
// the sum of observed balances, not the mint supply; it undercounts
// whenever the scan stops early.
type Collection struct {
	Records             []AccountRecord     `json:"records"`
	Owners              map[string]struct{} `json:"-"`
	TotalSupplyEstimate float64             `json:"totalSupplyEstimate"`
	PagesFetched        int                 `json:"pagesFetched"`
	Skipped             int                 `json:"skipped"`
	HasMorePages        bool                `json:"hasMorePages"`
}

// UniqueKeyCount returns the number of distinct owners.
func (c *Collection) UniqueKeyCount() int {
	return len(c.Owners)
}

// NewCollection returns an empty Collection.
func NewCollection() *Collection {
	return &Collection{Owners: make(map[string]struct{})}
}

// Add appends items, skipping records without an owner.
func (c *Collection) Add(items []AccountRecord) {
	for _, rec := range items {
		if rec.Owner == "" {
			c.Skipped++
			continue
		}
		c.Owners[rec.Owner] = struct{}{}
		c.Records = append(c.Records, rec)
		c.TotalSupplyEstimate += rec.Amount()
	}
}

// PartialError reports a page that could not be fetched. The Collection
// returned alongside it holds every page before Page.
type PartialError struct {
	Page int
	Err  error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("collect page %d: %v", e.Page, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Collector drives a PageFunc until a terminal condition.
type Collector struct {
	retrier *retry.Retrier
	sleep   func(ctx context.Context, d time.Duration) error
	logger  zerolog.Logger
}

// Option configures Collector.
type Option func(*Collector)

// WithSleep replaces the pacing sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Collector) {
		c.sleep = sleep
	}
}

// WithLogger sets the collector logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Collector) {
		c.logger = l
	}
}

// NewCollector creates a Collector that wraps every page request in r.
func NewCollector(r *retry.Retrier, opts ...Option) *Collector {
	c := &Collector{
		retrier: r,
		sleep:   pause,
		logger:  log.With().Str("component", "collector").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect requests pages 1, 2, ... strictly in order and stops when the
// page limit is exceeded, a page is empty, or a page is short. On a page
// failure it returns what was collected so far with a *PartialError.
func (c *Collector) Collect(ctx context.Context, fetch PageFunc, cfg Config) (*Collection, error) {
	cfg = cfg.withDefaults()
	col := NewCollection()

	for page := 1; ; page++ {
		if cfg.MaxPages > 0 && page > cfg.MaxPages {
			col.HasMorePages = true
			break
		}

		if page > 1 && cfg.DelayBetweenPages > 0 {
			if err := c.sleep(ctx, cfg.DelayBetweenPages); err != nil {
				return col, &PartialError{Page: page, Err: err}
			}
		}

		res, err := retry.Do(ctx, c.retrier, func(ctx context.Context) (Page, error) {
			return fetch(ctx, page, cfg.PageSize)
		})
		if err != nil {
			c.logger.Warn().
				Str("source", cfg.Source).
				Int("page", page).
				Int("collected", len(col.Records)).
				Err(err).
				Msg("page fetch failed, keeping partial data")
			observability.RecordSkippedRecords(cfg.Source, col.Skipped)
			return col, &PartialError{Page: page, Err: err}
		}

		col.PagesFetched++
		observability.RecordPageFetched(cfg.Source)
		c.snapshot(cfg, page, res)

		if len(res.Items) == 0 {
			col.HasMorePages = false
			break
		}

		col.Add(res.Items)
		c.logger.Debug().
			Str("source", cfg.Source).
			Int("page", page).
			Int("items", len(res.Items)).
			Int("owners", col.UniqueKeyCount()).
			Msg("page collected")

		if len(res.Items) < cfg.PageSize || res.IsLast {
			col.HasMorePages = false
			break
		}
	}

	observability.RecordSkippedRecords(cfg.Source, col.Skipped)
	return col, nil
}

// snapshot writes page to SnapshotDir. Failures are logged only.
func (c *Collector) snapshot(cfg Config, n int, page Page) {
	if cfg.SnapshotDir == "" {
		return
	}
	if err := os.MkdirAll(cfg.SnapshotDir, 0o755); err != nil {
		c.logger.Warn().Err(err).Msg("create snapshot dir")
		return
	}
	data, err := json.MarshalIndent(page, "", "  ")
	if err != nil {
		c.logger.Warn().Err(err).Msg("marshal snapshot")
		return
	}
	name := filepath.Join(cfg.SnapshotDir, fmt.Sprintf("%s-page-%04d.json", cfg.Source, n))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		c.logger.Warn().Err(err).Str("file", name).Msg("write snapshot")
	}
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

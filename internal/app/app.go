// Package app wires configuration into a ready analyzer, reporter and
// session store.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"token-analyst/internal/aggregator"
	"token-analyst/internal/config"
	"token-analyst/internal/holders"
	"token-analyst/internal/llm"
	"token-analyst/internal/report"
	"token-analyst/internal/retry"
	"token-analyst/internal/session"
	"token-analyst/internal/session/memory"
	pgsession "token-analyst/internal/session/postgres"
	redisession "token-analyst/internal/session/redis"
	"token-analyst/internal/solana"
	"token-analyst/internal/sources"
	"token-analyst/internal/upstream"
)

// App holds the wired components.
type App struct {
	Aggregator  *aggregator.Aggregator
	Synthesizer *report.Synthesizer
}

// ConfigureLogging sets the global zerolog logger from the configured level
// and format.
func ConfigureLogging(level, format string, w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

func retrier(p config.Policies, name string) *retry.Retrier {
	return retry.FromPolicy(name, p.RetryPolicy(name))
}

func client(p config.Policies, name, baseURL string, opts ...upstream.Option) *upstream.Client {
	opts = append(opts, upstream.WithRetrier(retrier(p, name)))
	if rl, ok := p.RateLimit(name); ok {
		opts = append(opts, upstream.WithRateLimit(rl.RPS, rl.Burst))
	}
	return upstream.New(name, baseURL, opts...)
}

// New builds every source adapter, the aggregator and the synthesizer.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	p := cfg.Policies

	rpcOpts := []solana.ClientOption{solana.WithRetrier(retry.Once("solana_rpc"))}
	if rl, ok := p.RateLimit("rpc"); ok {
		rpcOpts = append(rpcOpts, solana.WithRateLimit(rl.RPS, rl.Burst))
	}
	rpc := solana.NewHTTPClient(cfg.SolanaRPCEndpoint, rpcOpts...)
	rpcRetrier := retrier(p, "rpc")

	market := sources.NewMarketSource(
		sources.NewDexScreener(client(p, "dexscreener", cfg.DexScreenerURL), cfg.ChainID),
		sources.NewGeckoTerminal(client(p, "geckoterminal", cfg.GeckoTerminalURL), cfg.GeckoNetwork),
	)

	collector := holders.NewCollector(rpcRetrier)
	holderCfg := holders.Config{
		Source:            "holders",
		PageSize:          p.Collector.PageSize,
		MaxPages:          p.Collector.MaxPages,
		DelayBetweenPages: p.Collector.DelayBetweenPages,
		SnapshotDir:       p.Collector.SnapshotDir,
	}
	holderSource := sources.NewHolderSource(rpc, rpcRetrier, collector, sources.HolderSourceConfig{
		Mode:       p.Collector.Mode,
		BasicLimit: p.Collector.BasicLimit,
		Collector:  holderCfg,
	})
	sampler := sources.NewHolderSource(rpc, rpcRetrier, collector, sources.HolderSourceConfig{
		Mode:       sources.HolderModeBasic,
		BasicLimit: p.Collector.BasicLimit,
		Collector:  holderCfg,
	})
	transactions := sources.NewTransactionSource(rpc, rpcRetrier, sources.TransactionSourceConfig{
		PageSize: p.Transactions.PageSize,
		MaxPages: p.Transactions.MaxPages,
		Sample:   p.Transactions.Sample,
	})

	// Metadata URIs are absolute, so the client has no base URL.
	profiler := sources.NewProfiler(rpc, rpcRetrier, client(p, "metadata", ""))

	xOpts := []upstream.Option{}
	if cfg.XBearerToken != "" {
		xOpts = append(xOpts, upstream.WithHeader("Authorization", "Bearer "+cfg.XBearerToken))
	}
	social := sources.NewSocialSource(
		client(p, "x", cfg.XAPIURL, xOpts...),
		cfg.XBearerToken != "",
		sources.ChainHandleResolvers(sources.PairHandleResolver(market), sources.ProfileHandleResolver(profiler)),
		sources.SocialSourceConfig{
			SoftCap:          p.Social.SoftCap,
			PerPage:          p.Social.PerPage,
			QueriesPerSecond: p.Social.QueriesPerSecond,
		},
	)

	ghOpts := []upstream.Option{upstream.WithHeader("Accept", "application/vnd.github+json")}
	if cfg.GitHubToken != "" {
		ghOpts = append(ghOpts, upstream.WithHeader("Authorization", "Bearer "+cfg.GitHubToken))
	}
	repository := sources.NewRepositorySource(client(p, "github", cfg.GitHubURL, ghOpts...), market)

	agg := aggregator.New(aggregator.Options{
		Contract:   sources.NewAccountSource(rpc, rpcRetrier),
		Token:      sources.NewTokenSource(profiler, market, sampler),
		OnChain:    sources.NewOnChainSource(transactions, holderSource, market),
		Social:     social,
		Market:     market,
		Repository: repository,
		Directory:  market,
		Timeout:    p.Aggregation.Timeout,
	})

	var completer llm.Completer
	if cfg.GeminiAPIKey != "" {
		g, err := llm.NewGemini(ctx, llm.GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			Timeout: 45 * time.Second,
		}, retrier(p, "llm"))
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		completer = g
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set, reports use heuristics only")
	}

	return &App{
		Aggregator:  agg,
		Synthesizer: report.NewSynthesizer(completer),
	}, nil
}

// OpenStore opens the configured session backend. The returned close
// function releases its connections.
func OpenStore(ctx context.Context, cfg config.Config) (session.Store, func(), error) {
	switch cfg.SessionBackend {
	case config.BackendRedis:
		rdb, err := redisession.Dial(ctx, cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			return nil, nil, err
		}
		return redisession.NewStore(rdb, cfg.SessionTTL), func() { _ = rdb.Close() }, nil

	case config.BackendPostgres:
		pool, err := pgsession.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := pgsession.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate sessions: %w", err)
		}
		store := pgsession.NewStore(pool)
		stop := make(chan struct{})
		go purgeLoop(store, cfg.SessionTTL, stop)
		return store, func() {
			close(stop)
			pool.Close()
		}, nil

	default:
		return memory.NewStore(), func() {}, nil
	}
}

// purgeLoop drops Postgres sessions idle for longer than ttl.
func purgeLoop(store *pgsession.Store, ttl time.Duration, stop <-chan struct{}) {
	if ttl <= 0 {
		return
	}
	interval := ttl / 4
	if interval > time.Hour {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := store.PurgeIdle(ctx, time.Now().Add(-ttl))
			cancel()
			if err != nil {
				log.Warn().Err(err).Msg("purge idle sessions failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("purged", n).Msg("purged idle sessions")
			}
		}
	}
}

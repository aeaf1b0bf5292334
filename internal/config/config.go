// Package config loads service configuration from the environment, an
// optional .env file, an optional YAML policy file and Infisical secrets.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	infisical "github.com/infisical/go-sdk"
	"github.com/rs/zerolog/log"
)

// Session backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the full service configuration.
type Config struct {
	Port           string
	FrontendOrigin string
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      string // "console" or "json"

	SolanaRPCEndpoint string
	ChainID           string
	GeckoNetwork      string
	DexScreenerURL    string
	GeckoTerminalURL  string

	XBearerToken string
	XAPIURL      string
	GitHubToken  string
	GitHubURL    string

	GeminiAPIKey string
	GeminiModel  string

	SessionBackend string
	SessionTTL     time.Duration
	RedisURL       string
	RedisPassword  string
	PostgresDSN    string

	TradeAmountUSD float64
	PolicyFile     string
	Policies       Policies
}

// Load reads .env (without overriding the environment), then the
// environment, then the policy file, then Infisical secrets for any API key
// still unset.
func Load() (Config, error) {
	LoadEnvFile(".env")

	cfg := Config{
		Port:           envOr("PORT", "8080"),
		FrontendOrigin: envOr("FRONTEND_ORIGIN", "*"),
		RequestTimeout: envDuration("REQUEST_TIMEOUT", 90*time.Second),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogFormat:      envOr("LOG_FORMAT", "json"),

		SolanaRPCEndpoint: envOr("SOLANA_RPC_ENDPOINT", "https://api.mainnet-beta.solana.com"),
		ChainID:           envOr("CHAIN_ID", "solana"),
		GeckoNetwork:      envOr("GECKO_NETWORK", "solana"),
		DexScreenerURL:    envOr("DEXSCREENER_URL", "https://api.dexscreener.com"),
		GeckoTerminalURL:  envOr("GECKOTERMINAL_URL", "https://api.geckoterminal.com/api/v2"),

		XBearerToken: os.Getenv("X_BEARER_TOKEN"),
		XAPIURL:      envOr("X_API_URL", "https://api.twitter.com/2"),
		GitHubToken:  os.Getenv("GITHUB_TOKEN"),
		GitHubURL:    envOr("GITHUB_API_URL", "https://api.github.com"),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  envOr("GEMINI_MODEL", "gemini-2.0-flash"),

		SessionBackend: envOr("SESSION_BACKEND", BackendMemory),
		SessionTTL:     envDuration("SESSION_TTL", 24*time.Hour),
		RedisURL:       envOr("REDIS_URL", "redis://localhost:6379/0"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		PostgresDSN:    os.Getenv("POSTGRES_DSN"),

		TradeAmountUSD: envFloat("TRADE_AMOUNT_USD", 100),
		PolicyFile:     os.Getenv("POLICY_FILE"),
	}

	policies, err := LoadPolicies(cfg.PolicyFile)
	if err != nil {
		return cfg, err
	}
	cfg.Policies = policies
	cfg.Policies.Collector.Mode = envOr("HOLDER_MODE", cfg.Policies.Collector.Mode)
	cfg.Policies.Aggregation.Timeout = envDuration("AGGREGATION_TIMEOUT", cfg.Policies.Aggregation.Timeout)

	// If Infisical credentials are available, fetch secrets from Infisical
	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		loadFromInfisical(&cfg, clientID, clientSecret)
	}

	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	switch c.SessionBackend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("SESSION_BACKEND=postgres requires POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}
	if c.SolanaRPCEndpoint == "" {
		return fmt.Errorf("SOLANA_RPC_ENDPOINT is required")
	}
	return c.Policies.Validate()
}

// Secrets lists which optional credentials are configured, for startup logs.
func (c Config) Secrets() map[string]bool {
	return map[string]bool{
		"x":      c.XBearerToken != "",
		"github": c.GitHubToken != "",
		"gemini": c.GeminiAPIKey != "",
	}
}

func loadFromInfisical(cfg *Config, clientID, clientSecret string) {
	siteURL := envOr("INFISICAL_SITE_URL", "https://app.infisical.com")
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	envSlug := envOr("INFISICAL_ENV", "prod")

	if projectID == "" {
		log.Warn().Msg("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	_, err := client.Auth().UniversalAuthLogin(clientID, clientSecret)
	if err != nil {
		log.Error().Err(err).Msg("infisical auth failed")
		return
	}

	for key, target := range secretTargets(cfg) {
		if *target != "" {
			continue // env var already set, skip
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: envSlug,
			ProjectID:   projectID,
			SecretPath:  "/",
		})
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to retrieve secret from infisical")
			continue
		}
		*target = secret.SecretValue
		log.Info().Str("key", key).Msg("loaded secret from infisical")
	}
}

// secretTargets maps secret names to the fields they fill.
func secretTargets(cfg *Config) map[string]*string {
	return map[string]*string{
		"X_BEARER_TOKEN": &cfg.XBearerToken,
		"GITHUB_TOKEN":   &cfg.GitHubToken,
		"GEMINI_API_KEY": &cfg.GeminiAPIKey,
		"REDIS_PASSWORD": &cfg.RedisPassword,
		"POSTGRES_DSN":   &cfg.PostgresDSN,
	}
}

// LoadEnvFile loads environment variables from path if it exists.
// Existing variables are never overridden.
func LoadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
		return fallback
	}
	return d
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid number, using default")
		return fallback
	}
	return f
}

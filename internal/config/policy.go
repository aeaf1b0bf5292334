package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"token-analyst/internal/retry"
)

// RateLimit paces requests to one upstream.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// CollectorPolicy bounds the holder scan.
type CollectorPolicy struct {
	Mode              string        `yaml:"mode"` // "full" or "basic"
	PageSize          int           `yaml:"page_size"`
	MaxPages          int           `yaml:"max_pages"`
	DelayBetweenPages time.Duration `yaml:"delay_between_pages"`
	BasicLimit        int           `yaml:"basic_limit"`
	SnapshotDir       string        `yaml:"snapshot_dir"`
}

// TransactionPolicy bounds the signature scan.
type TransactionPolicy struct {
	PageSize int `yaml:"page_size"`
	MaxPages int `yaml:"max_pages"`
	Sample   int `yaml:"sample"`
}

// SocialPolicy bounds the X search.
type SocialPolicy struct {
	SoftCap          int     `yaml:"soft_cap"`
	PerPage          int     `yaml:"per_page"`
	QueriesPerSecond float64 `yaml:"queries_per_second"`
}

// Policies are the tunables read from the YAML policy file. Retry entries
// are keyed by upstream name ("rpc", "dexscreener", "geckoterminal", "x",
// "github", "metadata", "llm") and overlay "default".
type Policies struct {
	Retry        map[string]retry.Override `yaml:"retry"`
	RateLimits   map[string]RateLimit      `yaml:"rate_limits"`
	Collector    CollectorPolicy           `yaml:"collector"`
	Transactions TransactionPolicy         `yaml:"transactions"`
	Social       SocialPolicy              `yaml:"social"`
	Aggregation  struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"aggregation"`
}

// DefaultPolicies returns the policies used without a policy file.
func DefaultPolicies() Policies {
	p := Policies{
		Retry: map[string]retry.Override{},
		RateLimits: map[string]RateLimit{
			"rpc":           {RPS: 8, Burst: 8},
			"dexscreener":   {RPS: 4, Burst: 4},
			"geckoterminal": {RPS: 0.5, Burst: 1},
			"x":             {RPS: 1, Burst: 1},
			"github":        {RPS: 1, Burst: 3},
		},
		Collector: CollectorPolicy{
			Mode:              "full",
			PageSize:          1000,
			MaxPages:          10,
			DelayBetweenPages: 100 * time.Millisecond,
			BasicLimit:        20,
		},
		Transactions: TransactionPolicy{PageSize: 1000, MaxPages: 3, Sample: 10},
		Social:       SocialPolicy{SoftCap: 50, PerPage: 25, QueriesPerSecond: 1},
	}
	p.Aggregation.Timeout = 60 * time.Second
	return p
}

// LoadPolicies reads path over DefaultPolicies. An empty path returns the
// defaults.
func LoadPolicies(path string) (Policies, error) {
	p := DefaultPolicies()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicies(data)
}

// ParsePolicies decodes YAML over DefaultPolicies.
func ParsePolicies(data []byte) (Policies, error) {
	p := DefaultPolicies()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse policy file: %w", err)
	}
	return p, p.Validate()
}

// RetryPolicy returns the effective retry policy for an upstream: defaults,
// then the "default" entry, then the named entry.
func (p Policies) RetryPolicy(name string) retry.Policy {
	out := retry.DefaultPolicy().Apply(p.Retry["default"])
	if name != "default" {
		out = out.Apply(p.Retry[name])
	}
	return out
}

// RateLimit returns the limit for name and whether one is configured.
func (p Policies) RateLimit(name string) (RateLimit, bool) {
	rl, ok := p.RateLimits[name]
	return rl, ok && rl.RPS > 0
}

// Validate checks every retry policy and the collector mode.
func (p Policies) Validate() error {
	for name := range p.Retry {
		if err := p.RetryPolicy(name).Validate(); err != nil {
			return fmt.Errorf("retry policy %q: %w", name, err)
		}
	}
	switch p.Collector.Mode {
	case "", "full", "basic":
	default:
		return fmt.Errorf("collector mode %q must be full or basic", p.Collector.Mode)
	}
	return nil
}

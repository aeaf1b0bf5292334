// Package aggregator fans a query out to every source adapter and merges the
// settled results into one State.
package aggregator

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"token-analyst/internal/observability"
	"token-analyst/internal/sources"
)

// Adapter keys in the aggregated state.
const (
	KeyContract   = "contract"
	KeyToken      = "token"
	KeyOnChain    = "onChain"
	KeySocial     = "social"
	KeyMarket     = "market"
	KeyRepository = "repository"
)

// Keys lists every adapter key in report order.
var Keys = []string{KeyContract, KeyToken, KeyOnChain, KeySocial, KeyMarket, KeyRepository}

// FailedMessage replaces the adapter error of a failed entry.
const FailedMessage = "Analysis failed"

// Directory resolves token identities from market listings.
type Directory interface {
	Resolve(ctx context.Context, term string) (sources.TokenRef, error)
	Lookup(ctx context.Context, q sources.Query) (*sources.MarketData, sources.DataSource, error)
}

// Options configures an Aggregator. Nil adapters are reported as null keys.
type Options struct {
	Contract   sources.Adapter
	Token      sources.Adapter
	OnChain    sources.Adapter
	Social     sources.Adapter
	Market     sources.Adapter
	Repository sources.Adapter

	// Directory resolves project names to addresses and addresses to
	// names before the fan-out. Optional.
	Directory Directory

	// Timeout bounds one aggregation. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// Aggregator runs the adapter fan-out.
type Aggregator struct {
	adapters  map[string]sources.Adapter
	directory Directory
	timeout   time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates an Aggregator.
func New(opts Options) *Aggregator {
	adapters := map[string]sources.Adapter{}
	for key, a := range map[string]sources.Adapter{
		KeyContract:   opts.Contract,
		KeyToken:      opts.Token,
		KeyOnChain:    opts.OnChain,
		KeySocial:     opts.Social,
		KeyMarket:     opts.Market,
		KeyRepository: opts.Repository,
	} {
		if a != nil {
			adapters[key] = a
		}
	}
	return &Aggregator{
		adapters:  adapters,
		directory: opts.Directory,
		timeout:   opts.Timeout,
		now:       time.Now,
		logger:    log.With().Str("component", "aggregator").Logger(),
	}
}

// Aggregate classifies identifier, resolves what it can and runs every
// applicable adapter concurrently. It always returns a State; adapter
// failures are recorded in their entries.
func (a *Aggregator) Aggregate(ctx context.Context, identifier string) *State {
	start := a.now()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	q := a.resolve(ctx, Classify(identifier))
	keys := applicableKeys(q)

	entries := make([]*Entry, len(keys))
	var g errgroup.Group
	for i, key := range keys {
		adapter, ok := a.adapters[key]
		if !ok {
			continue
		}
		g.Go(func() error {
			entries[i] = settle(sources.Safe(ctx, key, adapter, q))
			return nil
		})
	}
	_ = g.Wait()

	st := &State{
		Input:       q.Input,
		InputType:   q.Kind,
		Address:     q.Address,
		Identity:    sources.TokenRef{Address: q.Address, Name: q.Name, Symbol: q.Symbol},
		GeneratedAt: a.now().UTC(),
	}
	for i, key := range keys {
		st.set(key, entries[i])
	}
	st.Derived = Derive(st)

	elapsed := a.now().Sub(start)
	observability.RecordAggregation(elapsed.Seconds())
	a.logger.Info().
		Str("input", q.Input).
		Str("kind", string(q.Kind)).
		Str("address", q.Address).
		Strs("keys", keys).
		Int("succeeded", st.Succeeded()).
		Dur("elapsed", elapsed).
		Msg("aggregation finished")
	return st
}

// resolve fills the address of a project name, or the name and symbol of an
// address, from market listings. Failures leave q as is.
func (a *Aggregator) resolve(ctx context.Context, q sources.Query) sources.Query {
	if a.directory == nil {
		return q
	}
	switch q.Kind {
	case sources.KindProjectName:
		ref, err := a.directory.Resolve(ctx, q.Input)
		if err != nil {
			a.logger.Info().Err(err).Str("input", q.Input).Msg("project name not resolved")
			return q
		}
		q.Address, q.Name, q.Symbol = ref.Address, ref.Name, ref.Symbol
	case sources.KindContractAddress:
		md, _, err := a.directory.Lookup(ctx, q)
		if err != nil {
			a.logger.Debug().Err(err).Str("address", q.Address).Msg("no listing for address")
			return q
		}
		q.Name, q.Symbol = md.Token.Name, md.Token.Symbol
	}
	return q
}

// applicableKeys returns the adapters that can run for q. Unresolved
// project names only reach the name-searchable adapters.
func applicableKeys(q sources.Query) []string {
	if q.Address == "" {
		return []string{KeySocial, KeyMarket, KeyRepository}
	}
	return Keys
}

// settle converts an adapter Result into a state entry, masking the error
// of failed results.
func settle(res sources.Result) *Entry {
	e := &Entry{Result: res}
	if !res.Success {
		e.Detail = res.Error
		e.Error = FailedMessage
	}
	return e
}

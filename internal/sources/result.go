// Package sources wraps each upstream capability in an adapter returning a
// uniform Result. Adapters retry, paginate and fall back internally and
// never return an error or panic past their boundary.
package sources

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"token-analyst/internal/observability"
)

// DataSource labels where a Result's data came from.
type DataSource string

const (
	DataSourceLive      DataSource = "live"
	DataSourceFallback  DataSource = "fallback"
	DataSourceGenerated DataSource = "generated"
	DataSourcePartial   DataSource = "failed_with_partial_data"
	DataSourceFailed    DataSource = "failed"
)

// Result is the envelope every adapter returns.
type Result struct {
	Success    bool       `json:"success"`
	Data       any        `json:"data"`
	Error      string     `json:"error,omitempty"`
	SourceTag  string     `json:"sourceTag"`
	DataSource DataSource `json:"dataSource"`
}

// OK builds a successful Result.
func OK(tag string, ds DataSource, data any) Result {
	observability.RecordAdapterResult(tag, string(ds))
	return Result{Success: true, Data: data, SourceTag: tag, DataSource: ds}
}

// Fail builds a failed Result. A non-nil partial marks the result as
// failed_with_partial_data.
func Fail(tag string, err error, partial any) Result {
	ds := DataSourceFailed
	if partial != nil {
		ds = DataSourcePartial
	}
	observability.RecordAdapterResult(tag, string(ds))
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Result{Success: false, Data: partial, Error: msg, SourceTag: tag, DataSource: ds}
}

// ErrNoAddress is returned by adapters that need a resolved token address.
var ErrNoAddress = errors.New("no token address resolved")

// InputKind is the classification of a user query.
type InputKind string

const (
	KindContractAddress InputKind = "contract_address"
	KindProjectName     InputKind = "project_name"
)

// TokenRef identifies a token.
type TokenRef struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
}

// Query is the adapter input.
type Query struct {
	Input   string    `json:"input"`
	Kind    InputKind `json:"kind"`
	Address string    `json:"address,omitempty"`
	Name    string    `json:"name,omitempty"`
	Symbol  string    `json:"symbol,omitempty"`
}

// SearchTerm is the free-text term for name based lookups.
func (q Query) SearchTerm() string {
	switch {
	case q.Kind == KindProjectName && q.Input != "":
		return q.Input
	case q.Name != "":
		return q.Name
	case q.Symbol != "":
		return q.Symbol
	default:
		return q.Input
	}
}

// Adapter is one upstream capability.
type Adapter interface {
	Analyze(ctx context.Context, q Query) Result
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(ctx context.Context, q Query) Result

// Analyze calls f.
func (f AdapterFunc) Analyze(ctx context.Context, q Query) Result { return f(ctx, q) }

// Safe runs a.Analyze and converts a panic into a failed Result.
func Safe(ctx context.Context, tag string, a Adapter, q Query) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("source", tag).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("adapter panicked")
			res = Fail(tag, fmt.Errorf("panic: %v", r), nil)
		}
	}()
	return a.Analyze(ctx, q)
}

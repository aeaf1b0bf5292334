// Package trading records simulated yes/no trade decisions against the last
// report of a session. No orders ever leave the process.
package trading

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"token-analyst/internal/observability"
	"token-analyst/internal/session"
)

// DefaultAmountUSD is the notional size of a simulated buy.
const DefaultAmountUSD = 100.0

// ErrNoReport is returned when the session has nothing to trade on.
var ErrNoReport = errors.New("no analysis to trade on")

// Trade is a simulated trade decision.
type Trade = session.Trade

// Simulator executes simulated trades.
type Simulator struct {
	amountUSD float64
	now       func() time.Time
	newID     func() string
	logger    zerolog.Logger
}

// NewSimulator creates a Simulator. amountUSD <= 0 uses DefaultAmountUSD.
func NewSimulator(amountUSD float64) *Simulator {
	if amountUSD <= 0 {
		amountUSD = DefaultAmountUSD
	}
	return &Simulator{
		amountUSD: amountUSD,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    log.With().Str("component", "trading").Logger(),
	}
}

// Execute records a BUY when yes is true and a SKIP otherwise, appends the
// trade to sess and returns a confirmation message. Without a report it
// returns an explanatory message and a zero Trade.
func (s *Simulator) Execute(sess *session.Session, yes bool) (string, Trade) {
	if sess == nil || sess.LastReport == nil {
		return "There is no analysis to trade on yet. Analyze a token first.", Trade{}
	}
	r := sess.LastReport
	now := s.now().UTC()

	t := Trade{
		ID:         s.newID(),
		Token:      r.DisplayName(),
		Address:    r.Token.Address,
		Side:       session.SideSkip,
		PriceUSD:   r.Metrics.PriceUSD,
		ExecutedAt: now,
		Simulated:  true,
	}
	var msg string
	switch {
	case !yes:
		msg = fmt.Sprintf("Skipped %s. No simulated position was opened.", t.Token)
	case r.Metrics.PriceUSD <= 0:
		msg = fmt.Sprintf("Cannot simulate a buy of %s without a market price. Recorded as skipped.", t.Token)
	default:
		t.Side = session.SideBuy
		t.AmountUSD = s.amountUSD
		t.Quantity = s.amountUSD / r.Metrics.PriceUSD
		msg = fmt.Sprintf("Simulated BUY of $%.2f of %s at $%g (%g tokens). Report said %s.",
			t.AmountUSD, t.Token, t.PriceUSD, t.Quantity, r.Recommendation)
	}

	sess.Trades = append(sess.Trades, t)
	sess.UpdatedAt = now
	observability.RecordTrade(t.Side)
	s.logger.Info().
		Str("session", sess.ID).
		Str("token", t.Token).
		Str("side", t.Side).
		Float64("amount_usd", t.AmountUSD).
		Msg("simulated trade")
	return msg, t
}

// Package session keeps per-user conversation state between requests.
package session

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"token-analyst/internal/report"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSkip = "SKIP"
)

// Trade is a simulated trade decision.
type Trade struct {
	ID         string    `json:"id"`
	Token      string    `json:"token"`
	Address    string    `json:"address,omitempty"`
	Side       string    `json:"side"`
	PriceUSD   float64   `json:"priceUsd"`
	AmountUSD  float64   `json:"amountUsd"`
	Quantity   float64   `json:"quantity"`
	ExecutedAt time.Time `json:"executedAt"`
	Simulated  bool      `json:"simulated"`
}

// Session is one user's analysis context.
type Session struct {
	ID         string            `json:"id"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	LastQuery  string            `json:"lastQuery"`
	LastReport *report.Report    `json:"lastReport"`
	Trades     []Trade           `json:"trades"`
	History    []report.Exchange `json:"history"`
}

// New returns an empty session with a fresh ID.
func New(now time.Time) *Session {
	now = now.UTC()
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Trades:    []Trade{},
		History:   []report.Exchange{},
	}
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Trades = append([]Trade{}, s.Trades...)
	c.History = append([]report.Exchange{}, s.History...)
	if s.LastReport != nil {
		r := *s.LastReport
		r.Strengths = slices.Clone(r.Strengths)
		r.Risks = slices.Clone(r.Risks)
		r.SourceStatus = maps.Clone(r.SourceStatus)
		c.LastReport = &r
	}
	return &c
}

// Reset clears the analysis context but keeps the identity.
func (s *Session) Reset(now time.Time) {
	s.LastQuery = ""
	s.LastReport = nil
	s.Trades = []Trade{}
	s.History = []report.Exchange{}
	s.UpdatedAt = now.UTC()
}

// Store persists sessions.
type Store interface {
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)
	// Create stores and returns a new empty session.
	Create(ctx context.Context) (*Session, error)
	// Save replaces the stored session.
	Save(ctx context.Context, s *Session) error
	// Delete removes the session. Missing sessions return ErrNotFound.
	Delete(ctx context.Context, id string) error
}

// GetOrCreate returns the session id, or a new one when id is empty or
// unknown.
func GetOrCreate(ctx context.Context, store Store, id string) (*Session, error) {
	if id != "" {
		s, err := store.Get(ctx, id)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return store.Create(ctx)
}

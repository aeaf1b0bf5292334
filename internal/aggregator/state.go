package aggregator

import (
	"time"

	"token-analyst/internal/sources"
)

// Entry is one settled adapter result. Detail keeps the adapter's own error
// when the entry failed.
type Entry struct {
	sources.Result
	Detail string `json:"detail,omitempty"`
}

// State is the merged output of one aggregation. Keys that were not run
// are nil and serialize as null.
type State struct {
	Input       string            `json:"input"`
	InputType   sources.InputKind `json:"inputType"`
	Address     string            `json:"resolvedAddress,omitempty"`
	Identity    sources.TokenRef  `json:"identity"`
	GeneratedAt time.Time         `json:"generatedAt"`

	Contract   *Entry `json:"contract"`
	Token      *Entry `json:"token"`
	OnChain    *Entry `json:"onChain"`
	Social     *Entry `json:"social"`
	Market     *Entry `json:"market"`
	Repository *Entry `json:"repository"`

	Derived Derived `json:"derived"`
}

func (s *State) set(key string, e *Entry) {
	switch key {
	case KeyContract:
		s.Contract = e
	case KeyToken:
		s.Token = e
	case KeyOnChain:
		s.OnChain = e
	case KeySocial:
		s.Social = e
	case KeyMarket:
		s.Market = e
	case KeyRepository:
		s.Repository = e
	}
}

// Entry returns the entry stored under key, or nil.
func (s *State) Entry(key string) *Entry {
	switch key {
	case KeyContract:
		return s.Contract
	case KeyToken:
		return s.Token
	case KeyOnChain:
		return s.OnChain
	case KeySocial:
		return s.Social
	case KeyMarket:
		return s.Market
	case KeyRepository:
		return s.Repository
	}
	return nil
}

// Status maps every key to whether its adapter succeeded. Keys that were
// not run map to false.
func (s *State) Status() map[string]bool {
	out := make(map[string]bool, len(Keys))
	for _, k := range Keys {
		e := s.Entry(k)
		out[k] = e != nil && e.Success
	}
	return out
}

// Succeeded counts successful entries.
func (s *State) Succeeded() int {
	n := 0
	for _, ok := range s.Status() {
		if ok {
			n++
		}
	}
	return n
}

// MarketData returns the market payload if the market adapter produced one.
func (s *State) MarketData() *sources.MarketData {
	if s.Market == nil || s.Market.Data == nil {
		return nil
	}
	md, _ := s.Market.Data.(*sources.MarketData)
	return md
}

// SocialData returns the social payload if present.
func (s *State) SocialData() *sources.SocialData {
	if s.Social == nil || s.Social.Data == nil {
		return nil
	}
	switch v := s.Social.Data.(type) {
	case sources.SocialData:
		return &v
	case *sources.SocialData:
		return v
	}
	return nil
}

// OnChainData returns the on-chain payload, including partial data.
func (s *State) OnChainData() *sources.OnChainData {
	if s.OnChain == nil || s.OnChain.Data == nil {
		return nil
	}
	switch v := s.OnChain.Data.(type) {
	case sources.OnChainData:
		return &v
	case *sources.OnChainData:
		return v
	}
	return nil
}

// AccountData returns the contract payload if present.
func (s *State) AccountData() *sources.AccountData {
	if s.Contract == nil || s.Contract.Data == nil {
		return nil
	}
	ad, _ := s.Contract.Data.(*sources.AccountData)
	return ad
}

// RepositoryData returns the repository payload if present.
func (s *State) RepositoryData() *sources.RepositoryData {
	if s.Repository == nil || s.Repository.Data == nil {
		return nil
	}
	switch v := s.Repository.Data.(type) {
	case sources.RepositoryData:
		return &v
	case *sources.RepositoryData:
		return v
	}
	return nil
}

// TokenData returns the token profile payload if present.
func (s *State) TokenData() *sources.TokenData {
	if s.Token == nil || s.Token.Data == nil {
		return nil
	}
	switch v := s.Token.Data.(type) {
	case sources.TokenData:
		return &v
	case *sources.TokenData:
		return v
	}
	return nil
}

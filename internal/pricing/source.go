package pricing

import (
	"context"
	"math/big"
	"sync"
)

// Quote is a price observation: Price carries the USD price of one whole unit
// of the asset, expressed with Decimals decimal places.
type Quote struct {
	Price    *big.Int
	Decimals uint8
}

// Source supplies the latest quote for one asset.
type Source interface {
	LatestQuote(ctx context.Context) (Quote, error)
	Description() string
}

// StaticSource serves a fixed quote. It backs config-driven deployments and
// tests; the quote can be swapped at runtime.
type StaticSource struct {
	mu    sync.RWMutex
	desc  string
	quote Quote
}

func NewStaticSource(desc string, price *big.Int, decimals uint8) *StaticSource {
	return &StaticSource{
		desc:  desc,
		quote: Quote{Price: new(big.Int).Set(price), Decimals: decimals},
	}
}

func (s *StaticSource) LatestQuote(ctx context.Context) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Quote{Price: new(big.Int).Set(s.quote.Price), Decimals: s.quote.Decimals}, nil
}

func (s *StaticSource) Description() string { return s.desc }

// SetPrice replaces the served price, keeping the decimals.
func (s *StaticSource) SetPrice(price *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quote.Price = new(big.Int).Set(price)
}

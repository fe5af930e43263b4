// Package shared provides common utilities for venue adapter implementations.
package shared

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quantfold/venuelink/internal/schema"
)

// MarketMap holds one adapter's canonical<->native instrument mapping. It is
// replaced wholesale on each markets fetch and read-only between fetches.
type MarketMap struct {
	mu       sync.RWMutex
	bySymbol map[string]schema.Market
	byNative map[string]string
}

// NewMarketMap creates an empty mapping.
func NewMarketMap() *MarketMap {
	return &MarketMap{
		bySymbol: make(map[string]schema.Market),
		byNative: make(map[string]string),
	}
}

// Replace swaps in a freshly fetched market catalogue.
func (m *MarketMap) Replace(markets []schema.Market) {
	bySymbol := make(map[string]schema.Market, len(markets))
	byNative := make(map[string]string, len(markets))
	for _, market := range markets {
		bySymbol[market.Symbol] = market
		byNative[market.NativeID] = market.Symbol
	}
	m.mu.Lock()
	m.bySymbol = bySymbol
	m.byNative = byNative
	m.mu.Unlock()
}

// Get resolves a canonical symbol to its market entry.
func (m *MarketMap) Get(symbol string) (schema.Market, bool) {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	m.mu.RLock()
	defer m.mu.RUnlock()
	market, ok := m.bySymbol[key]
	return market, ok
}

// Canonical resolves a venue-native instrument id back to its canonical symbol.
func (m *MarketMap) Canonical(nativeID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	symbol, ok := m.byNative[strings.TrimSpace(nativeID)]
	return symbol, ok
}

// List returns a copy of every market entry.
func (m *MarketMap) List() []schema.Market {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]schema.Market, 0, len(m.bySymbol))
	for _, market := range m.bySymbol {
		out = append(out, market)
	}
	return out
}

// Len reports the number of populated markets.
func (m *MarketMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySymbol)
}

// ParseDecimal converts a venue decimal string, returning zero on malformed or
// empty input. Venues pad with blanks and emit empty strings for absent fields.
func ParseDecimal(value string) decimal.Decimal {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Zero
	}
	dec, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero
	}
	return dec
}

// ParseLevels converts venue [price, size] string pairs into book levels,
// skipping malformed entries.
func ParseLevels(raw [][]string) []schema.BookLevel {
	if len(raw) == 0 {
		return nil
	}
	out := make([]schema.BookLevel, 0, len(raw))
	for _, level := range raw {
		if len(level) < 2 {
			continue
		}
		price := ParseDecimal(level[0])
		amount := ParseDecimal(level[1])
		if price.IsZero() {
			continue
		}
		out = append(out, schema.BookLevel{Price: price, Amount: amount})
	}
	return out
}

// PrecisionFromStep derives decimal precision from a venue step size such as
// "0.0010".
func PrecisionFromStep(step string) int {
	trimmed := strings.TrimSpace(step)
	if trimmed == "" || !strings.Contains(trimmed, ".") {
		return 0
	}
	decimals := strings.TrimRight(strings.SplitN(trimmed, ".", 2)[1], "0")
	return len(decimals)
}

package shared

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quantfold/venuelink/internal/schema"
)

// BookAssembler folds snapshot and delta depth frames into a consistent book
// view. Venues that stream incremental updates key levels by price; a zero
// size deletes the level.
type BookAssembler struct {
	mu   sync.Mutex
	bids map[string]decimal.Decimal
	asks map[string]decimal.Decimal
}

// NewBookAssembler creates an empty assembler.
func NewBookAssembler() *BookAssembler {
	return &BookAssembler{
		bids: make(map[string]decimal.Decimal),
		asks: make(map[string]decimal.Decimal),
	}
}

// ApplySnapshot replaces both sides with the frame's levels.
func (b *BookAssembler) ApplySnapshot(bids, asks [][]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = make(map[string]decimal.Decimal, len(bids))
	b.asks = make(map[string]decimal.Decimal, len(asks))
	applyLevels(b.bids, bids)
	applyLevels(b.asks, asks)
}

// ApplyDelta merges changed levels into the current book.
func (b *BookAssembler) ApplyDelta(bids, asks [][]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	applyLevels(b.bids, bids)
	applyLevels(b.asks, asks)
}

func applyLevels(side map[string]decimal.Decimal, levels [][]string) {
	for _, level := range levels {
		if len(level) < 2 {
			continue
		}
		amount := ParseDecimal(level[1])
		if amount.IsZero() {
			delete(side, level[0])
			continue
		}
		side[level[0]] = amount
	}
}

// Snapshot renders the book with bids descending and asks ascending.
func (b *BookAssembler) Snapshot() (bids, asks []schema.BookLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bids = sortedLevels(b.bids, true)
	asks = sortedLevels(b.asks, false)
	return bids, asks
}

func sortedLevels(side map[string]decimal.Decimal, descending bool) []schema.BookLevel {
	out := make([]schema.BookLevel, 0, len(side))
	for price, amount := range side {
		out = append(out, schema.BookLevel{Price: ParseDecimal(price), Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}
